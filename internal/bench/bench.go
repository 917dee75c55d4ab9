// Package bench times repeated decode launches on a compute target.
package bench

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/skobkin/fecbench/internal/chain"
	"github.com/skobkin/fecbench/internal/device"
)

// Trial describes one timed measurement.
type Trial struct {
	Repeat       int
	NumCodewords int
	K            int
}

// Validate rejects trials that cannot produce a meaningful timing.
func (t Trial) Validate() error {
	if t.Repeat < 1 {
		return fmt.Errorf("%w: repeat must be >= 1, got %d", chain.ErrInvalidConfig, t.Repeat)
	}
	if t.NumCodewords <= 0 {
		return fmt.Errorf("%w: num_codewords must be > 0, got %d", chain.ErrInvalidConfig, t.NumCodewords)
	}
	if t.K <= 0 {
		return fmt.Errorf("%w: k must be > 0, got %d", chain.ErrInvalidConfig, t.K)
	}
	return nil
}

// Timing is the outcome of one trial.
type Timing struct {
	Elapsed        time.Duration `json:"elapsed"`
	LatencyS       float64       `json:"latency_s"`
	ThroughputMbps float64       `json:"throughput_mbps"`
}

// ComputeTiming derives latency and throughput from the measured wall time.
// A non-positive elapsed time yields NaN for both.
func ComputeTiming(elapsed time.Duration, trial Trial) Timing {
	secs := elapsed.Seconds()
	if secs <= 0 {
		return Timing{Elapsed: elapsed, LatencyS: math.NaN(), ThroughputMbps: math.NaN()}
	}
	bits := float64(trial.NumCodewords) * float64(trial.K) * float64(trial.Repeat)
	return Timing{
		Elapsed:        elapsed,
		LatencyS:       secs / float64(trial.Repeat),
		ThroughputMbps: bits / secs / 1e6,
	}
}

// Clock abstracts wall time so tests can control elapsed durations.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Benchmarker runs warm-up plus timed trials.
type Benchmarker struct {
	clock  Clock
	logger *slog.Logger
}

// New returns a Benchmarker. A nil clock uses the system clock.
func New(clock Clock, logger *slog.Logger) *Benchmarker {
	if clock == nil {
		clock = systemClock{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Benchmarker{clock: clock, logger: logger.With("component", "benchmarker")}
}

// Run performs one untimed warm-up launch, then Repeat timed launches followed
// by a synchronization point when the target supports one.
func (b *Benchmarker) Run(ctx context.Context, target device.Target, dec chain.Decoder, llr chain.Soft, trial Trial) (Timing, error) {
	if err := trial.Validate(); err != nil {
		return Timing{}, err
	}
	if llr.Rows != trial.NumCodewords {
		return Timing{}, fmt.Errorf("batch has %d rows, trial expects %d", llr.Rows, trial.NumCodewords)
	}

	logger := b.logger.With("target", target.Name())
	_, async := target.(device.Synchronizer)
	logger.Debug("warm-up", "async", async)

	if err := target.Launch(ctx, dec, llr); err != nil {
		return Timing{}, fmt.Errorf("warm-up on %s: %w", target.Name(), err)
	}
	if err := device.Wait(ctx, target); err != nil {
		return Timing{}, fmt.Errorf("warm-up sync on %s: %w", target.Name(), err)
	}

	start := b.clock.Now()
	for i := 0; i < trial.Repeat; i++ {
		if err := target.Launch(ctx, dec, llr); err != nil {
			return Timing{}, fmt.Errorf("trial %d on %s: %w", i, target.Name(), err)
		}
	}
	if err := device.Wait(ctx, target); err != nil {
		return Timing{}, fmt.Errorf("sync on %s: %w", target.Name(), err)
	}
	elapsed := b.clock.Now().Sub(start)

	timing := ComputeTiming(elapsed, trial)
	logger.Info("trial complete",
		"repeat", trial.Repeat,
		"elapsed", elapsed,
		"latency_s", timing.LatencyS,
		"throughput_mbps", timing.ThroughputMbps,
	)
	return timing, nil
}
