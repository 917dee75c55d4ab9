package httpserver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/skobkin/fecbench/internal/ledger"
	"github.com/skobkin/fecbench/internal/report"
	"github.com/skobkin/fecbench/internal/telemetry"
)

const rowQueueSize = 64

// FeedOptions configure a Feed.
type FeedOptions struct {
	// GPU and CPU are telemetry samples loaded once at startup. Either may be empty.
	GPU        []telemetry.GPUSample
	CPU        []telemetry.CPUSample
	Thresholds report.Thresholds
	Logger     *slog.Logger
}

// Feed keeps every ledger row seen so far and fans newly appended rows out
// to subscribers.
type Feed struct {
	follower   *ledger.Follower
	gpu        []telemetry.GPUSample
	cpu        []telemetry.CPUSample
	thresholds report.Thresholds
	logger     *slog.Logger

	mu          sync.RWMutex
	rows        []ledger.Row
	subscribers map[*subscriber]struct{}
	ready       atomic.Bool
	dropped     atomic.Uint64
}

// NewFeed wraps a follower. The feed holds no rows until Run starts.
func NewFeed(follower *ledger.Follower, opts FeedOptions) (*Feed, error) {
	if follower == nil {
		return nil, fmt.Errorf("follower must not be nil")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	thresholds := opts.Thresholds
	if thresholds == (report.Thresholds{}) {
		thresholds = report.DefaultThresholds
	}
	feed := &Feed{
		follower:    follower,
		gpu:         opts.GPU,
		cpu:         opts.CPU,
		thresholds:  thresholds,
		logger:      logger.With("component", "ledger_feed"),
		subscribers: make(map[*subscriber]struct{}),
	}
	follower.OnReset(feed.reset)
	return feed, nil
}

// Run loads the rows already in the ledger, marks the feed ready and then
// follows appends until ctx is done.
func (f *Feed) Run(ctx context.Context) error {
	rows, err := f.follower.Poll()
	if err != nil {
		f.logger.Warn("initial ledger read failed", "err", err)
	}
	for _, row := range rows {
		f.add(row)
	}
	f.ready.Store(true)
	f.logger.Info("ledger loaded", "rows", len(rows), "skipped", f.follower.Skipped())

	return f.follower.Run(ctx, f.add)
}

// Ready reports whether the initial ledger read has finished.
func (f *Feed) Ready() bool {
	return f.ready.Load()
}

// Rows returns a copy of the rows seen so far, in file order.
func (f *Feed) Rows() []ledger.Row {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]ledger.Row(nil), f.rows...)
}

// Latest returns the most recently appended row.
func (f *Feed) Latest() (ledger.Row, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.rows) == 0 {
		return ledger.Row{}, false
	}
	return f.rows[len(f.rows)-1], true
}

// Summary recomputes the headline statistics over the current rows.
func (f *Feed) Summary() report.Summary {
	return report.Summarize(f.Rows(), f.gpu, f.cpu, f.thresholds)
}

// Iterations returns the per-iteration aggregates over the current rows.
func (f *Feed) Iterations() []report.IterAggregate {
	return report.AggregateByIter(f.Rows())
}

// Skipped reports ledger rows that failed to decode.
func (f *Feed) Skipped() int {
	return f.follower.Skipped()
}

// Dropped reports rows discarded because a subscriber fell behind.
func (f *Feed) Dropped() uint64 {
	return f.dropped.Load()
}

// Subscribe registers a listener for appended rows.
func (f *Feed) Subscribe() (<-chan ledger.Row, func()) {
	sub := newSubscriber(rowQueueSize, &f.dropped)

	f.mu.Lock()
	f.subscribers[sub] = struct{}{}
	f.mu.Unlock()

	unsubscribe := func() {
		f.mu.Lock()
		delete(f.subscribers, sub)
		f.mu.Unlock()
		sub.close()
	}
	return sub.channel(), unsubscribe
}

func (f *Feed) add(row ledger.Row) {
	f.mu.Lock()
	f.rows = append(f.rows, row)
	targets := make([]*subscriber, 0, len(f.subscribers))
	for sub := range f.subscribers {
		targets = append(targets, sub)
	}
	f.mu.Unlock()

	for _, sub := range targets {
		sub.send(row)
	}
}

// reset drops the rows of a ledger that was rotated away; the follower
// re-emits the replacement file from its first row.
func (f *Feed) reset() {
	f.mu.Lock()
	dropped := len(f.rows)
	f.rows = nil
	f.mu.Unlock()
	f.logger.Info("ledger rotated, clearing rows", "dropped", dropped)
}

type subscriber struct {
	ch     chan ledger.Row
	drops  *atomic.Uint64
	mu     sync.Mutex
	closed bool
}

func newSubscriber(size int, drops *atomic.Uint64) *subscriber {
	return &subscriber{
		ch:    make(chan ledger.Row, size),
		drops: drops,
	}
}

func (s *subscriber) channel() <-chan ledger.Row {
	return s.ch
}

func (s *subscriber) send(row ledger.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- row:
		return
	default:
	}
	// Drop oldest to make room.
	select {
	case <-s.ch:
		s.drops.Add(1)
	default:
	}
	select {
	case s.ch <- row:
	default:
		s.drops.Add(1)
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	close(s.ch)
	s.closed = true
}
