// Command fecreport correlates the results ledger with accelerator and CPU
// telemetry, renders the summary plots and serves the live dashboard.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/skobkin/fecbench/internal/config"
	"github.com/skobkin/fecbench/internal/ledger"
	"github.com/skobkin/fecbench/internal/report"
	"github.com/skobkin/fecbench/internal/version"
)

var (
	buildVersion = "dev"
	buildCommit  = ""
	buildTime    = ""
)

const (
	throughputPlot  = "fig_ldpc_throughput_vs_iter.png"
	utilizationPlot = "fig_ldpc_resource_utilization.png"
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
		fmt.Fprintf(os.Stderr, "fecreport: %v\n", err)
		os.Exit(1)
	}
}

type reportFlags struct {
	ledger    string
	outDir    string
	textfile  string
	hostCores int
	perRow    bool
	telemetry telemetryFlags
}

func newRootCmd() *cobra.Command {
	var f reportFlags

	cmd := &cobra.Command{
		Use:           "fecreport",
		Short:         "Summarize a benchmark sweep against its telemetry",
		Version:       version.Current().String(),
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("marker") {
				f.telemetry.marker = cfg.Monitor.Marker
			}
			return runReport(cmd.OutOrStdout(), logger, f)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.ledger, "ledger", "ldpc_sionna_spark.csv", "results ledger CSV")
	flags.StringVar(&f.outDir, "out-dir", ".", "directory for the PNG plots")
	flags.StringVar(&f.textfile, "textfile", "", "also write the summary as a node-exporter textfile")
	flags.IntVar(&f.hostCores, "host-cores", runtime.NumCPU(), "logical CPUs shown next to the mean core usage (0 hides it)")
	flags.BoolVar(&f.perRow, "per-row", false, "print telemetry attributed to each ledger row")
	f.telemetry.register(flags, "")

	cmd.AddCommand(newServeCmd())
	return cmd
}

func runReport(out io.Writer, logger *slog.Logger, f reportFlags) error {
	rows, stats, err := ledger.Read(f.ledger)
	if err != nil {
		return err
	}
	if stats.Skipped > 0 {
		logger.Warn("ledger rows skipped", "path", f.ledger, "count", stats.Skipped)
	}

	data, err := f.telemetry.load(logger)
	if err != nil {
		return err
	}

	th := report.DefaultThresholds
	summary := report.Summarize(rows, data.GPU, data.CPU, th)

	if err := os.MkdirAll(f.outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	throughputPath := filepath.Join(f.outDir, throughputPlot)
	if err := report.PlotThroughputVsIter(summary.Iterations, throughputPath); err != nil {
		return err
	}
	utilizationPath := filepath.Join(f.outDir, utilizationPlot)
	if err := report.PlotUtilization(data.GPU, data.CPU, th, utilizationPath); err != nil {
		return err
	}
	logger.Info("plots written", "throughput", throughputPath, "utilization", utilizationPath)

	if f.textfile != "" {
		if err := report.WriteTextfile(f.textfile, summary); err != nil {
			return err
		}
		logger.Info("textfile written", "path", f.textfile)
	}

	if err := report.WriteSummary(out, summary, f.hostCores); err != nil {
		return err
	}

	if f.perRow {
		fmt.Fprintln(out)
		for _, rt := range report.Attribute(rows, data.GPU, data.CPU) {
			fmt.Fprintf(out, "%-20s num_iter=%-4d gpu=%d util=%.1f%% power=%.2f W cpu=%d cores=%.2f\n",
				rt.Label, rt.NumIter, rt.GPUSamples, rt.MeanUtilization, rt.MeanPowerW, rt.CPUSamples, rt.MeanCores)
		}
	}
	return nil
}

func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, cfg.NewLogger(), nil
}
