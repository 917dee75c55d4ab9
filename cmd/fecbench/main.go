// Command fecbench times the decode stage on the CPU and the accelerator and
// appends the outcome to the results ledger.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/skobkin/fecbench/internal/app"
	"github.com/skobkin/fecbench/internal/chain"
	"github.com/skobkin/fecbench/internal/config"
	"github.com/skobkin/fecbench/internal/device"
	"github.com/skobkin/fecbench/internal/ledger"
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
		fmt.Fprintf(os.Stderr, "fecbench: %v\n", err)
		os.Exit(1)
	}
}

type benchFlags struct {
	k            int
	rate         float64
	m            int
	numCodewords int
	ebnoDB       float64
	numIter      int
	repeat       int
	cpuThreads   int
	noGPU        bool
	csvPath      string
	label        string
	seed         uint64
}

func newRootCmd() *cobra.Command {
	var f benchFlags

	cmd := &cobra.Command{
		Use:           "fecbench",
		Short:         "Benchmark FEC decoding on CPU and accelerator",
		Version:       version.Current().String(),
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBenchmark(cmd, f)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&f.k, "k", 512, "information bits per codeword")
	flags.Float64Var(&f.rate, "rate", 0.5, "code rate k/n")
	flags.IntVar(&f.m, "m", 4, "bits per modulation symbol")
	flags.IntVar(&f.numCodewords, "num-codewords", 4096, "codewords per decode batch")
	flags.Float64Var(&f.ebnoDB, "ebno-db", 4.0, "Eb/N0 in dB")
	flags.IntVar(&f.numIter, "num-iter", 10, "decoder iterations")
	flags.IntVar(&f.repeat, "repeat", 10, "timed trials per device")
	flags.IntVar(&f.cpuThreads, "cpu-threads", 0, "cap CPU decoder threads (0 uses APP_CPU_THREADS or all CPUs)")
	flags.BoolVar(&f.noGPU, "no-gpu", false, "skip the accelerator benchmark")
	flags.StringVar(&f.csvPath, "csv-path", "", "append the result to this ledger")
	flags.StringVar(&f.label, "label", "", "free-form run label, e.g. rep0_N4096_I10")
	flags.Uint64Var(&f.seed, "seed", 0, "dataset generator seed")

	cmd.AddCommand(newSweepCmd())
	return cmd
}

func runBenchmark(cmd *cobra.Command, f benchFlags) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("cpu-threads") {
		cfg.CPUThreads = f.cpuThreads
	}

	out := cmd.OutOrStdout()
	env := app.DetectEnvironment(cfg.SysfsRoot, logger)
	if err := env.Write(out); err != nil {
		return err
	}

	sink, closeSink, err := newSink(cfg, f.csvPath, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	result, err := app.RunBenchmark(cmd.Context(), logger, app.Options{
		Config:       chain.Config{K: f.k, Rate: f.rate, M: f.m, NumIter: f.numIter},
		NumCodewords: f.numCodewords,
		EbNoDB:       f.ebnoDB,
		Repeat:       f.repeat,
		Seed:         f.seed,
		NoGPU:        f.noGPU,
		Label:        f.label,
		Host:         env.Host,
		Registry:     newRegistry(cfg, logger),
		Sink:         sink,
	})
	if err != nil {
		return err
	}

	if err := result.WriteSummary(out); err != nil {
		return err
	}
	if result.Recorded && f.csvPath != "" {
		fmt.Fprintf(out, "\nAppended results to %s\n", f.csvPath)
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

func newRegistry(cfg config.Config, logger *slog.Logger) *device.Registry {
	return device.NewRegistry(device.Options{
		CPU:         device.CPUOptions{Threads: cfg.CPUThreads},
		Accelerator: cfg.Accelerator,
		SysfsRoot:   cfg.SysfsRoot,
		Logger:      logger,
	})
}

// newSink combines the ledger file and the optional InfluxDB mirror. It
// returns a nil sink when neither is configured.
func newSink(cfg config.Config, ledgerPath string, logger *slog.Logger) (ledger.Sink, func(), error) {
	var sinks ledger.MultiSink
	if ledgerPath != "" {
		sinks = append(sinks, ledger.FileSink{Path: ledgerPath})
	}

	closeFn := func() {}
	if cfg.Influx.Enabled() {
		mirror, err := ledger.NewInfluxMirror(ledger.InfluxOptions{
			URL:    cfg.Influx.URL,
			Token:  cfg.Influx.Token,
			Org:    cfg.Influx.Org,
			Bucket: cfg.Influx.Bucket,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init influx mirror: %w", err)
		}
		sinks = append(sinks, ledger.BestEffort(mirror, logger.With("component", "influx_mirror")))
		closeFn = func() { _ = mirror.Close() }
	}

	if len(sinks) == 0 {
		return nil, closeFn, nil
	}
	return sinks, closeFn, nil
}
