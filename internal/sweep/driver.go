package sweep

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"github.com/skobkin/fecbench/internal/checkpoint"
	"github.com/skobkin/fecbench/internal/ledger"
)

// Runner benchmarks a single point and returns its ledger row.
type Runner interface {
	RunPoint(ctx context.Context, pt Point) (ledger.Row, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, pt Point) (ledger.Row, error)

func (f RunnerFunc) RunPoint(ctx context.Context, pt Point) (ledger.Row, error) {
	return f(ctx, pt)
}

// Report summarizes a driver run.
type Report struct {
	Total     int
	Skipped   int
	Completed int
	Resumed   bool
	From      checkpoint.State
}

// Driver runs the points of a plan in order, appending a ledger row and
// rewriting the checkpoint after each one.
type Driver struct {
	plan   Plan
	runner Runner
	sink   ledger.Sink
	logger *slog.Logger
}

// NewDriver builds a driver. A nil sink appends to the plan's ledger.
func NewDriver(plan Plan, runner Runner, sink ledger.Sink, logger *slog.Logger) (*Driver, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner must not be nil")
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = ledger.FileSink{Path: plan.Ledger}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Driver{
		plan:   plan,
		runner: runner,
		sink:   sink,
		logger: logger.With("component", "sweep_driver"),
	}, nil
}

// ResumeState finds where a previous run stopped: the checkpoint file when
// present, otherwise the ledger's last sweep label. ok is false for a fresh
// sweep.
func (d *Driver) ResumeState() (state checkpoint.State, ok bool, err error) {
	state, err = checkpoint.ReadFile(d.plan.Checkpoint)
	if err == nil {
		return state, true, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return checkpoint.State{}, false, fmt.Errorf("read checkpoint: %w", err)
	}

	state, err = checkpoint.ScanFile(d.plan.Ledger)
	switch {
	case err == nil:
		return state, true, nil
	case errors.Is(err, checkpoint.ErrLedgerNotFound), errors.Is(err, checkpoint.ErrNoResumableState):
		return checkpoint.State{}, false, nil
	default:
		return checkpoint.State{}, false, fmt.Errorf("scan ledger: %w", err)
	}
}

// Run executes the remaining points. With resume false every point runs.
// Cancellation is honoured between points; the point in flight completes.
func (d *Driver) Run(ctx context.Context, resume bool) (Report, error) {
	points := d.plan.Points()
	report := Report{Total: len(points)}

	todo := points
	if resume {
		state, ok, err := d.ResumeState()
		if err != nil {
			return report, err
		}
		if ok {
			rest, found := Remaining(points, state)
			if !found {
				d.logger.Warn("checkpoint not in plan, running all points", "label", state.Label().String())
			}
			todo = rest
			report.Resumed = found
			report.From = state
		}
	}
	report.Skipped = len(points) - len(todo)
	d.logger.Info("sweep starting", "total", report.Total, "skipped", report.Skipped)

	for _, pt := range todo {
		if err := ctx.Err(); err != nil {
			d.logger.Info("sweep interrupted", "completed", report.Completed)
			return report, err
		}

		label := pt.Label.String()
		d.logger.Info("sweep point", "label", label, "config", pt.Config.String(), "num_codewords", pt.NumCodewords)

		row, err := d.runner.RunPoint(ctx, pt)
		if err != nil {
			return report, fmt.Errorf("point %s: %w", label, err)
		}
		row.Label = label
		if err := d.sink.Write(ctx, row); err != nil {
			return report, fmt.Errorf("record point %s: %w", label, err)
		}
		state := checkpoint.State{LastRep: pt.Label.Rep, LastN: pt.Label.N, LastI: pt.Label.I}
		if err := state.WriteFile(d.plan.Checkpoint); err != nil {
			return report, fmt.Errorf("checkpoint %s: %w", label, err)
		}
		report.Completed++
	}

	d.logger.Info("sweep complete", "completed", report.Completed)
	return report, nil
}
