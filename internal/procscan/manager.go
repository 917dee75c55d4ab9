package procscan

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/skobkin/fecbench/internal/telemetry"
)

// Options configure the process scanner.
type Options struct {
	ProcRoot string
	Marker   string
	Interval time.Duration
	MaxPIDs  int
	Logger   *slog.Logger
}

// Sink receives each completed interval.
type Sink interface {
	WriteSnapshot(Snapshot) error
}

// LogSink writes snapshots as pidstat-style lines.
type LogSink struct {
	w *telemetry.CPULogWriter
}

// NewLogSink wraps a CPU log writer.
func NewLogSink(w *telemetry.CPULogWriter) *LogSink {
	return &LogSink{w: w}
}

func (s *LogSink) WriteSnapshot(snap Snapshot) error {
	samples := make([]telemetry.CPUSample, 0, len(snap.Processes))
	processor := make(map[int]int, len(snap.Processes))
	for _, p := range snap.Processes {
		samples = append(samples, p.CPUSample(snap.Timestamp))
		processor[p.PID] = p.Processor
	}
	return s.w.WriteSamples(snap.Timestamp, samples, processor)
}

// Manager scans procfs every interval and turns utime/stime deltas into
// per-process CPU percentages.
type Manager struct {
	interval  time.Duration
	sink      Sink
	logger    *slog.Logger
	collector *collector

	mu       sync.RWMutex
	latest   Snapshot
	prev     map[procKey]rawProcess
	lastScan time.Time
}

// NewManager constructs a process scanner.
func NewManager(opts Options, sink Sink) (*Manager, error) {
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("scan interval must be > 0")
	}
	if sink == nil {
		return nil, fmt.Errorf("sink must not be nil")
	}
	procRoot := opts.ProcRoot
	if procRoot == "" {
		procRoot = "/proc"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	coll, err := newCollector(procRoot, opts.Marker, opts.MaxPIDs, logger.With("component", "procscan_collector"))
	if err != nil {
		return nil, fmt.Errorf("init collector: %w", err)
	}

	return &Manager{
		interval:  opts.Interval,
		sink:      sink,
		logger:    logger.With("component", "procscan_manager", "marker", opts.Marker),
		collector: coll,
		prev:      make(map[procKey]rawProcess),
	}, nil
}

// Run scans until the context is cancelled. The first scan only primes the
// counters, so output starts one interval later, as with pidstat.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("process scanner started", "interval", m.interval)
	if err := m.performScan(time.Now()); err != nil {
		return err
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("process scanner stopping", "reason", ctx.Err())
			return nil
		case now := <-ticker.C:
			if err := m.performScan(now); err != nil {
				return err
			}
		}
	}
}

// Latest returns the most recent completed interval.
func (m *Manager) Latest() (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest, !m.latest.Timestamp.IsZero()
}

// Ready reports whether at least one scan has been performed.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.lastScan.IsZero()
}

// performScan collects, diffs against the previous scan and hands the result
// to the sink. Scan failures are logged; sink failures are returned.
func (m *Manager) performScan(now time.Time) error {
	raws, err := m.collector.collect()
	if err != nil {
		m.logger.Warn("process scan failed", "err", err)
		return nil
	}

	m.mu.RLock()
	prevScan := m.lastScan
	prev := m.prev
	m.mu.RUnlock()

	next := make(map[procKey]rawProcess, len(raws))
	for _, raw := range raws {
		next[raw.key()] = raw
	}

	m.mu.Lock()
	m.prev = next
	m.lastScan = now
	m.mu.Unlock()

	if prevScan.IsZero() {
		return nil
	}
	elapsed := now.Sub(prevScan)
	if elapsed <= 0 {
		elapsed = m.interval
	}

	snap := Snapshot{
		Timestamp: now,
		Interval:  elapsed.Seconds(),
		Processes: diffProcesses(prev, raws, elapsed),
	}

	m.mu.Lock()
	m.latest = snap
	m.mu.Unlock()

	return m.sink.WriteSnapshot(snap)
}

// diffProcesses keeps only processes seen in both scans.
func diffProcesses(prev map[procKey]rawProcess, current []rawProcess, elapsed time.Duration) []Process {
	seconds := elapsed.Seconds()
	out := make([]Process, 0, len(current))
	for _, raw := range current {
		before, ok := prev[raw.key()]
		if !ok {
			continue
		}
		out = append(out, Process{
			PID:       raw.pid,
			UID:       raw.uid,
			User:      raw.user,
			Name:      raw.name,
			Command:   raw.command,
			UserPct:   tickPercent(before.utime, raw.utime, seconds),
			SystemPct: tickPercent(before.stime, raw.stime, seconds),
			Processor: raw.processor,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

func tickPercent(before, after uint64, seconds float64) float64 {
	if after < before || seconds <= 0 {
		return 0
	}
	return float64(after-before) * 100 / userHZ / seconds
}
