package sampler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/skobkin/fecbench/internal/telemetry"
)

// Sink receives every sample the manager collects.
type Sink interface {
	WriteSample(Sample) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Sample) error

func (f SinkFunc) WriteSample(s Sample) error { return f(s) }

// LogSink writes samples in the accelerator log format. Samples lacking
// utilization or power are counted and dropped.
type LogSink struct {
	w       *telemetry.GPULogWriter
	mu      sync.Mutex
	dropped int
}

// NewLogSink wraps an accelerator log writer.
func NewLogSink(w *telemetry.GPULogWriter) *LogSink {
	return &LogSink{w: w}
}

func (s *LogSink) WriteSample(sample Sample) error {
	record, ok := sample.GPUSample()
	if !ok {
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		return nil
	}
	return s.w.Write(record)
}

// Dropped returns how many samples could not be logged.
func (s *LogSink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Manager polls every reader on a shared ticker so one interval yields one
// row per card with the same timestamp base.
type Manager struct {
	interval time.Duration
	readers  []*Reader
	sink     Sink
	logger   *slog.Logger

	mu        sync.RWMutex
	latest    map[string]Sample
	closers   []io.Closer
	closeOnce sync.Once
	closeErr  error
}

// NewManager builds a Manager from pre-constructed readers.
func NewManager(interval time.Duration, readers []*Reader, sink Sink, logger *slog.Logger) (*Manager, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be > 0")
	}
	if sink == nil {
		return nil, fmt.Errorf("sink must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		interval: interval,
		readers:  readers,
		sink:     sink,
		logger:   logger.With("component", "sampler_manager"),
		latest:   make(map[string]Sample),
	}, nil
}

// CloseWith registers resources released by Close, such as the log file.
func (m *Manager) CloseWith(c io.Closer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closers = append(m.closers, c)
}

// Run samples until the context is canceled. Sink failures stop the loop.
func (m *Manager) Run(ctx context.Context) error {
	defer m.Close()

	if len(m.readers) == 0 {
		m.logger.Warn("no cards to sample")
		<-ctx.Done()
		return nil
	}

	m.logger.Info("sampler started", "cards", len(m.readers), "interval", m.interval)
	if err := m.tick(); err != nil {
		return err
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("sampler stopping", "reason", ctx.Err())
			return nil
		case <-ticker.C:
			if err := m.tick(); err != nil {
				return err
			}
		}
	}
}

func (m *Manager) tick() error {
	for _, reader := range m.readers {
		sample := reader.Sample()

		m.mu.Lock()
		m.latest[sample.CardID] = sample
		m.mu.Unlock()

		if err := m.sink.WriteSample(sample); err != nil {
			return fmt.Errorf("write sample for %s: %w", sample.CardID, err)
		}
	}
	return nil
}

// Latest returns the most recent sample for the given card.
func (m *Manager) Latest(cardID string) (Sample, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sample, ok := m.latest[cardID]
	return sample, ok
}

// Ready reports whether every card has produced at least one sample.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, reader := range m.readers {
		if _, ok := m.latest[reader.CardID()]; !ok {
			return false
		}
	}
	return true
}

// Close releases registered resources. Safe for repeated use.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.mu.RLock()
		closers := append([]io.Closer(nil), m.closers...)
		m.mu.RUnlock()

		var errs []error
		for _, c := range closers {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		m.closeErr = errors.Join(errs...)
	})
	return m.closeErr
}
