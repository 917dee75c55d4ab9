package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/skobkin/fecbench/internal/chain"
)

var errStreamClosed = errors.New("stream closed")

type launch struct {
	dec chain.Decoder
	llr chain.Soft
}

// Stream executes launches in submission order on a dedicated worker, the
// way an accelerator command queue does. Launch only enqueues; Wait drains
// the queue.
type Stream struct {
	name   string
	logger *slog.Logger

	queue chan launch

	mu      sync.Mutex
	pending int
	err     error
	idle    *sync.Cond

	closeMu   sync.RWMutex
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
}

// NewStream starts the stream worker. depth bounds the number of queued launches.
func NewStream(name string, depth int, logger *slog.Logger) *Stream {
	if depth <= 0 {
		depth = 1
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Stream{
		name:   name,
		logger: logger.With("component", "stream", "target", name),
		queue:  make(chan launch, depth),
		done:   make(chan struct{}),
	}
	s.idle = sync.NewCond(&s.mu)
	go s.loop()
	return s
}

func (s *Stream) Name() string { return s.name }

// Describe reports that the stream is emulated: decodes run on the host.
func (s *Stream) Describe() string {
	return s.name + " (emulated async stream, decodes on host CPU)"
}

func (s *Stream) loop() {
	defer close(s.done)
	for l := range s.queue {
		_, err := l.dec.Decode(l.llr)

		s.mu.Lock()
		if err != nil && s.err == nil {
			s.err = err
		}
		s.pending--
		if s.pending == 0 {
			s.idle.Broadcast()
		}
		s.mu.Unlock()
	}
}

func (s *Stream) Launch(ctx context.Context, dec chain.Decoder, llr chain.Soft) error {
	if dec == nil {
		return fmt.Errorf("decoder must not be nil")
	}

	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		return errStreamClosed
	}

	s.mu.Lock()
	s.pending++
	s.mu.Unlock()

	select {
	case s.queue <- launch{dec: dec, llr: llr}:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		s.pending--
		if s.pending == 0 {
			s.idle.Broadcast()
		}
		s.mu.Unlock()
		return ctx.Err()
	}
}

// Wait blocks until all launches have completed and returns the first decode
// error recorded since the previous Wait.
func (s *Stream) Wait(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		s.mu.Lock()
		for s.pending > 0 {
			s.idle.Wait()
		}
		s.mu.Unlock()
		close(finished)
	}()

	select {
	case <-finished:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	err := s.err
	s.err = nil
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%s stream: %w", s.name, err)
	}
	return nil
}

// Close stops accepting launches and waits for queued work to finish.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closeMu.Lock()
		s.closed = true
		close(s.queue)
		s.closeMu.Unlock()
		<-s.done
		s.logger.Debug("stream closed")
	})
	return nil
}
