package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skobkin/fecbench/internal/app"
	"github.com/skobkin/fecbench/internal/ledger"
	"github.com/skobkin/fecbench/internal/sweep"
)

func newSweepCmd() *cobra.Command {
	var (
		planPath string
		noResume bool
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run every point of a sweep plan, resuming after the last recorded point",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			plan, err := sweep.LoadPlan(planPath)
			if err != nil {
				return err
			}
			if plan.CPUThreads > 0 {
				cfg.CPUThreads = plan.CPUThreads
			}

			out := cmd.OutOrStdout()
			env := app.DetectEnvironment(cfg.SysfsRoot, logger)
			if err := env.Write(out); err != nil {
				return err
			}

			sink, closeSink, err := newSink(cfg, plan.Ledger, logger)
			if err != nil {
				return err
			}
			defer closeSink()

			runner := app.NewPointRunner(plan, newRegistry(cfg, logger), logger)
			runner.Host = env.Host

			driver, err := sweep.NewDriver(plan, runner, sink, logger)
			if err != nil {
				return err
			}

			report, runErr := driver.Run(cmd.Context(), !noResume)
			if report.Resumed {
				fmt.Fprintf(out, "Resumed after %s\n", report.From.Label().String())
			}
			fmt.Fprintf(out, "Sweep: %d of %d points run, %d already recorded\n",
				report.Completed, report.Total, report.Skipped)
			if runErr != nil {
				return runErr
			}

			if rows, _, err := ledger.Read(plan.Ledger); err == nil {
				fmt.Fprintf(out, "Ledger %s holds %d rows\n", plan.Ledger, len(rows))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&planPath, "plan", "", "YAML sweep plan")
	cmd.Flags().BoolVar(&noResume, "no-resume", false, "run every point even if the ledger already has some")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}
