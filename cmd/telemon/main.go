// Command telemon records accelerator and per-process CPU telemetry in the
// log formats fecreport reads.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/skobkin/fecbench/internal/app"
	"github.com/skobkin/fecbench/internal/config"
	"github.com/skobkin/fecbench/internal/version"
)

var (
	buildVersion = "dev"
	buildCommit  = ""
	buildTime    = ""
)

func main() {
	version.Set(version.Info{
		Version:   buildVersion,
		Commit:    buildCommit,
		BuildTime: buildTime,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "telemon: %v\n", err)
		os.Exit(1)
	}
}

type monitorFlags struct {
	output   string
	interval time.Duration
	duration time.Duration
}

func (f *monitorFlags) register(cmd *cobra.Command, output string) {
	cmd.Flags().StringVarP(&f.output, "output", "o", output, `log file to append to ("-" for stdout)`)
	cmd.Flags().DurationVar(&f.interval, "interval", 0, "sampling interval (default APP_SAMPLE_INTERVAL)")
	cmd.Flags().DurationVar(&f.duration, "duration", 0, "stop after this long (0 runs until interrupted)")
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "telemon",
		Short:         "Record telemetry while a benchmark sweep runs",
		Version:       version.Current().String(),
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.AddCommand(newGPUCmd(), newCPUCmd())
	return cmd
}

func newGPUCmd() *cobra.Command {
	var f monitorFlags
	cmd := &cobra.Command{
		Use:   "gpu",
		Short: "Sample AMD GPU utilization and power from sysfs into the accelerator CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return monitor(cmd, f, func(ctx context.Context, logger *slog.Logger, cfg config.Config, out io.Writer, existing bool) error {
				return app.RunGPUMonitor(ctx, logger, cfg, out, existing)
			})
		},
	}
	f.register(cmd, "gpu_ldpc_sweep_stats.csv")
	return cmd
}

func newCPUCmd() *cobra.Command {
	var (
		f      monitorFlags
		marker string
	)
	cmd := &cobra.Command{
		Use:   "cpu",
		Short: "Sample CPU usage of matching processes into a pidstat-style log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return monitor(cmd, f, func(ctx context.Context, logger *slog.Logger, cfg config.Config, out io.Writer, _ bool) error {
				if cmd.Flags().Changed("marker") {
					cfg.Monitor.Marker = marker
				}
				return app.RunCPUMonitor(ctx, logger, cfg, out)
			})
		},
	}
	f.register(cmd, "pid_ldpc_sweep_stats.log")
	cmd.Flags().StringVar(&marker, "marker", "", "command substring selecting processes (default APP_MONITOR_MARKER)")
	return cmd
}

type runFunc func(ctx context.Context, logger *slog.Logger, cfg config.Config, out io.Writer, existing bool) error

func monitor(cmd *cobra.Command, f monitorFlags, run runFunc) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger := cfg.NewLogger()
	if f.interval > 0 {
		cfg.SampleInterval = f.interval
	}

	out, existing, err := app.OpenLog(f.output)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil {
			logger.Warn("failed to close log", "path", f.output, "err", cerr)
		}
	}()

	ctx := cmd.Context()
	if f.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.duration)
		defer cancel()
	}

	logger.Info("telemetry started", "command", cmd.Name(), "output", f.output, "interval", cfg.SampleInterval)
	return run(ctx, logger, cfg, out, existing)
}
