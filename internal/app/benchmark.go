package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/skobkin/fecbench/internal/bench"
	"github.com/skobkin/fecbench/internal/chain"
	"github.com/skobkin/fecbench/internal/device"
	"github.com/skobkin/fecbench/internal/ledger"
	"github.com/skobkin/fecbench/internal/sweep"
)

// Options describe one benchmark invocation.
type Options struct {
	Config       chain.Config
	NumCodewords int
	EbNoDB       float64
	Repeat       int
	Seed         uint64
	NoGPU        bool
	Label        string
	Host         string

	// Registry provides the compute targets. Required.
	Registry *device.Registry
	// Sink records the ledger row. Nil skips recording.
	Sink ledger.Sink
	// Chain overrides the reference signal chain.
	Chain chain.Chain
	Clock bench.Clock
	Now   func() time.Time
}

// Result is the outcome of one benchmark invocation.
type Result struct {
	RunID        string
	Config       chain.Config
	NumCodewords int
	EbNoDB       float64
	Repeat       int
	CPU          bench.Timing
	// GPU is nil when the accelerator was skipped or unavailable.
	GPU        *bench.Timing
	GPUSkipped string
	// GPUTarget describes the backend that produced the GPU timings.
	GPUTarget string
	Row       ledger.Row
	Recorded  bool
}

// RunBenchmark validates the configuration, generates one dataset and times
// the decoder on "cpu" and, unless skipped or unavailable, on "gpu".
// Configuration errors wrap chain.ErrInvalidConfig and happen before any
// dataset is generated.
func RunBenchmark(ctx context.Context, logger *slog.Logger, opts Options) (Result, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Registry == nil {
		return Result{}, fmt.Errorf("device registry must not be nil")
	}

	runID := uuid.NewString()
	logger = logger.With("component", "benchmark", "run_id", runID)

	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	trial := bench.Trial{Repeat: opts.Repeat, NumCodewords: opts.NumCodewords, K: cfg.K}
	if err := trial.Validate(); err != nil {
		return Result{}, err
	}

	ch := opts.Chain
	if ch == nil {
		ref, err := chain.NewReference(cfg)
		if err != nil {
			return Result{}, err
		}
		ch = ref
	}
	logger.Info("chain ready", "config", cfg.String())

	gen, err := chain.NewGenerator(ch, opts.Seed, logger)
	if err != nil {
		return Result{}, err
	}
	ds, err := gen.Generate(opts.NumCodewords, opts.EbNoDB)
	if err != nil {
		return Result{}, fmt.Errorf("generate dataset: %w", err)
	}

	result := Result{
		RunID:        runID,
		Config:       cfg,
		NumCodewords: opts.NumCodewords,
		EbNoDB:       opts.EbNoDB,
		Repeat:       opts.Repeat,
	}

	b := bench.New(opts.Clock, logger)
	dec := ch.Decoder()

	cpu, _, err := runOn(ctx, b, opts.Registry, "cpu", dec, ds.LLR, trial)
	if err != nil {
		return Result{}, err
	}
	result.CPU = cpu

	switch {
	case opts.NoGPU:
		result.GPUSkipped = "disabled"
		logger.Info("gpu benchmark skipped", "reason", result.GPUSkipped)
	default:
		gpu, target, err := runOn(ctx, b, opts.Registry, "gpu", dec, ds.LLR, trial)
		switch {
		case errors.Is(err, device.ErrUnavailable):
			result.GPUSkipped = "unavailable"
			logger.Warn("gpu benchmark skipped", "reason", result.GPUSkipped, "err", err)
		case err != nil:
			return Result{}, err
		default:
			result.GPU = &gpu
			result.GPUTarget = target
		}
	}

	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	host := opts.Host
	if host == "" {
		host = hostname()
	}
	result.Row = ledger.NewRow(ledger.Meta{
		Timestamp:    now().Truncate(time.Second),
		Host:         host,
		Label:        opts.Label,
		Config:       cfg,
		NumCodewords: opts.NumCodewords,
		EbNoDB:       opts.EbNoDB,
		Repeat:       opts.Repeat,
	}, result.CPU, result.GPU)

	if opts.Sink != nil {
		if err := opts.Sink.Write(ctx, result.Row); err != nil {
			return result, fmt.Errorf("record result: %w", err)
		}
		result.Recorded = true
	}

	return result, nil
}

func runOn(ctx context.Context, b *bench.Benchmarker, reg *device.Registry, name string, dec chain.Decoder, llr chain.Soft, trial bench.Trial) (timing bench.Timing, desc string, err error) {
	target, closer, err := reg.Open(name)
	if err != nil {
		return bench.Timing{}, "", err
	}
	if closer != nil {
		defer func() {
			if cerr := closer.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("close %s: %w", name, cerr)
			}
		}()
	}
	desc = device.Describe(target)
	timing, err = b.Run(ctx, target, dec, llr, trial)
	return timing, desc, err
}

// WriteSummary prints the human-readable outcome.
func (r Result) WriteSummary(w io.Writer) error {
	p := &printer{w: w}
	p.printf("=== Summary ===\n")
	p.printf("Config: %s, num_codewords=%d, Eb/N0=%g dB, repeat=%d\n",
		r.Config.String(), r.NumCodewords, r.EbNoDB, r.Repeat)
	p.printf("CPU: latency/dec = %s s, throughput = %s Mbit/s\n",
		fixed(r.CPU.LatencyS, 6), fixed(r.CPU.ThroughputMbps, 2))
	if r.GPU == nil {
		p.printf("GPU results: N/A (%s)\n", r.GPUSkipped)
	} else {
		if r.GPUTarget != "" {
			p.printf("GPU target: %s\n", r.GPUTarget)
		}
		p.printf("GPU: latency/dec = %s s, throughput = %s Mbit/s\n",
			fixed(r.GPU.LatencyS, 6), fixed(r.GPU.ThroughputMbps, 2))
		p.printf("\nLatency speedup (CPU / GPU): %sx\n", fixed(r.Row.LatencySpeedup, 2))
		p.printf("Throughput speedup (GPU / CPU): %sx\n", fixed(r.Row.ThroughputSpeedup, 2))
	}
	if r.Row.Label != "" {
		p.printf("Label: %s\n", r.Row.Label)
	}
	return p.err
}

func fixed(v float64, prec int) string {
	if math.IsNaN(v) {
		return "nan"
	}
	return fmt.Sprintf("%.*f", prec, v)
}

// PointRunner benchmarks sweep points with a shared registry. It returns the
// row without recording it; the sweep driver owns the ledger.
type PointRunner struct {
	Registry *device.Registry
	EbNoDB   float64
	Repeat   int
	Seed     uint64
	NoGPU    bool
	Host     string
	Logger   *slog.Logger
}

var _ sweep.Runner = (*PointRunner)(nil)

// NewPointRunner derives the per-point settings from a plan.
func NewPointRunner(plan sweep.Plan, registry *device.Registry, logger *slog.Logger) *PointRunner {
	return &PointRunner{
		Registry: registry,
		EbNoDB:   plan.EbNoDB,
		Repeat:   plan.Repeat,
		Seed:     plan.Seed,
		NoGPU:    plan.NoGPU,
		Logger:   logger,
	}
}

func (p *PointRunner) RunPoint(ctx context.Context, pt sweep.Point) (ledger.Row, error) {
	result, err := RunBenchmark(ctx, p.Logger, Options{
		Config:       pt.Config,
		NumCodewords: pt.NumCodewords,
		EbNoDB:       p.EbNoDB,
		Repeat:       p.Repeat,
		Seed:         p.Seed,
		NoGPU:        p.NoGPU,
		Label:        pt.Label.String(),
		Host:         p.Host,
		Registry:     p.Registry,
	})
	if err != nil {
		return ledger.Row{}, err
	}
	return result.Row, nil
}
