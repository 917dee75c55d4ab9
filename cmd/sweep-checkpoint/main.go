// Command sweep-checkpoint rebuilds the sweep checkpoint from the last
// labelled row of a results ledger.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/skobkin/fecbench/internal/checkpoint"
	"github.com/skobkin/fecbench/internal/sweep"
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

	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(stderr, "sweep-checkpoint: %s\n", diagnose(err))
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-checkpoint [ledger] [checkpoint]",
		Short: "Write LAST_REP, LAST_N and LAST_I for the last sweep point in a ledger",
		Long: "Scans the ledger in file order and records the last row whose label\n" +
			"matches rep<REP>_N<N>_I<I>. The checkpoint is only written on success.",
		Version:       version.Current().String(),
		Args:          cobra.MaximumNArgs(2),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ledgerPath, checkpointPath := sweep.DefaultLedger, sweep.DefaultCheckpoint
			if len(args) > 0 {
				ledgerPath = args[0]
			}
			if len(args) > 1 {
				checkpointPath = args[1]
			}

			state, err := checkpoint.ScanFile(ledgerPath)
			if err != nil {
				return err
			}
			if err := state.WriteFile(checkpointPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s from %s\n%s", checkpointPath, ledgerPath, state.Encode())
			return nil
		},
	}
}

func diagnose(err error) string {
	switch {
	case errors.Is(err, checkpoint.ErrLedgerNotFound):
		return fmt.Sprintf("%v; run a sweep first or pass the ledger path", err)
	case errors.Is(err, checkpoint.ErrMissingColumn):
		return fmt.Sprintf("%v; is this a results ledger?", err)
	case errors.Is(err, checkpoint.ErrNoResumableState):
		return fmt.Sprintf("%v; no label matches rep<REP>_N<N>_I<I>", err)
	default:
		return err.Error()
	}
}
