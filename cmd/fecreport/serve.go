package main

import (
	"github.com/spf13/cobra"

	"github.com/skobkin/fecbench/internal/app"
	"github.com/skobkin/fecbench/internal/report"
)

func newServeCmd() *cobra.Command {
	var (
		ledgerPath string
		listenAddr string
		tf         telemetryFlags
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the live results dashboard, JSON API and metrics",
		Long: "Follows the ledger as the sweep appends to it and streams new rows to\n" +
			"WebSocket clients. Telemetry logs are loaded once at startup.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("ledger") {
				cfg.LedgerPath = ledgerPath
			}
			if cmd.Flags().Changed("listen") {
				cfg.ListenAddr = listenAddr
			}
			if !cmd.Flags().Changed("marker") {
				tf.marker = cfg.Monitor.Marker
			}

			data, err := tf.load(logger)
			if err != nil {
				return err
			}

			return app.Serve(cmd.Context(), logger, cfg, app.ServeOptions{
				GPU:        data.GPU,
				CPU:        data.CPU,
				Thresholds: report.DefaultThresholds,
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&ledgerPath, "ledger", "", "results ledger CSV (default APP_LEDGER_PATH)")
	flags.StringVar(&listenAddr, "listen", "", "listen address (default APP_LISTEN_ADDR)")
	tf.register(flags, "")
	return cmd
}
