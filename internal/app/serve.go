// Package app wires up and runs the fecbench services.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/skobkin/fecbench/internal/config"
	"github.com/skobkin/fecbench/internal/gpu"
	"github.com/skobkin/fecbench/internal/httpserver"
	"github.com/skobkin/fecbench/internal/ledger"
	"github.com/skobkin/fecbench/internal/report"
	"github.com/skobkin/fecbench/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

// ServeOptions add optional telemetry to the dashboard summary.
type ServeOptions struct {
	GPU        []telemetry.GPUSample
	CPU        []telemetry.CPUSample
	Thresholds report.Thresholds
}

// Serve runs the results dashboard over cfg.LedgerPath until ctx is done.
func Serve(ctx context.Context, baseLogger *slog.Logger, cfg config.Config, opts ServeOptions) error {
	appLogger := baseLogger.With("component", "app")

	devices, err := gpu.Discover(cfg.SysfsRoot, baseLogger.With("component", "gpu_discovery"))
	if err != nil {
		appLogger.Warn("accelerator discovery failed", "err", err)
	}
	appLogger.Info("discovered accelerators", "count", len(devices))

	follower := ledger.NewFollower(cfg.LedgerPath, baseLogger)
	feed, err := httpserver.NewFeed(follower, httpserver.FeedOptions{
		GPU:        opts.GPU,
		CPU:        opts.CPU,
		Thresholds: opts.Thresholds,
		Logger:     baseLogger,
	})
	if err != nil {
		return fmt.Errorf("init ledger feed: %w", err)
	}

	feedCtx, feedCancel := context.WithCancel(ctx)
	defer feedCancel()

	feedErrCh := make(chan error, 1)
	go func() {
		feedErrCh <- feed.Run(feedCtx)
	}()

	srv := httpserver.New(cfg, baseLogger.With("component", "http"), feed, devices)

	appLogger.Info("starting HTTP server", "listen_addr", cfg.ListenAddr, "ledger", cfg.LedgerPath)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	for {
		select {
		case err := <-errCh:
			feedCancel()
			if err != nil {
				return err
			}
			if feedErrCh != nil {
				if feedErr := <-feedErrCh; feedErr != nil && !errors.Is(feedErr, context.Canceled) {
					return feedErr
				}
			}
			return nil
		case err := <-feedErrCh:
			feedErrCh = nil
			if err != nil && !errors.Is(err, context.Canceled) {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
				return fmt.Errorf("ledger feed: %w", err)
			}
		case <-ctx.Done():
			appLogger.Info("shutdown initiated", "reason", ctx.Err())

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("http shutdown: %w", err)
			}

			if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}

			feedCancel()
			if feedErrCh != nil {
				if feedErr := <-feedErrCh; feedErr != nil && !errors.Is(feedErr, context.Canceled) {
					return feedErr
				}
			}

			appLogger.Info("shutdown complete")
			return nil
		}
	}
}
