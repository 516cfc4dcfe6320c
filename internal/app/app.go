// Package app wires the hedging engine's full dependency graph and owns its
// top-level lifecycle: the chain-ingestion loop (C10), the background status
// poller, the operator HTTP surface, and the cold-storage archiver all start
// and stop together under one errgroup.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onchainhedge/hedgebridge/internal/config"
)

// App is the root application object. It owns the configuration, logger, and
// the fully-wired dependency graph, and tears it down on Close.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	cleanup func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires every dependency, starts the supervisor loop, chain-log
// subscriber, operator HTTP server, and cold-storage archiver, and blocks
// until ctx is cancelled or any of them returns a terminal error. The opened
// resources (DB pool, Redis client, S3 client) stay open until Close is called.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting hedging engine",
		slog.String("broker_kind", a.cfg.Broker.Kind),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.cleanup = cleanup

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Subscriber.Run(gctx)
	})

	g.Go(func() error {
		return deps.Supervisor.Run(gctx)
	})

	if a.cfg.Server.Enabled {
		g.Go(func() error {
			return deps.Server.Run()
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return deps.Server.Shutdown(shutdownCtx)
		})
	}

	if deps.ArchiveCron != "" {
		g.Go(func() error {
			return deps.Archiver.RunCron(gctx, deps.ArchiveCron)
		})
	}

	err = g.Wait()
	if err != nil && (err == context.Canceled || gctx.Err() == context.Canceled) {
		return context.Canceled
	}
	return err
}

// Close tears down every resource opened by Run's call to Wire. Safe to call
// multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	if a.cleanup == nil {
		return
	}
	a.logger.Info("shutting down application")
	a.cleanup()
	a.cleanup = nil
}
