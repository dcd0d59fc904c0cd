package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vyrodovalexey/dbpool/internal/admin"
	"github.com/vyrodovalexey/dbpool/internal/config"
	"github.com/vyrodovalexey/dbpool/internal/observability"
	"github.com/vyrodovalexey/dbpool/internal/pool"
)

// shutdownTimeout bounds the whole graceful shutdown.
const shutdownTimeout = 30 * time.Second

func newServeCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the pools with the admin server until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}
}

// runServe runs until ctx is done and then shuts everything down.
func runServe(ctx context.Context, opts *cliOptions) error {
	cfg, err := loadAndValidateConfig(opts.configPath)
	if err != nil {
		return err
	}

	logger, err := initLogger(cfg.Log, opts)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting dbpool",
		observability.String("version", version),
		observability.String("config", opts.configPath),
		observability.Int("pools", len(cfg.Pools)),
	)

	app, err := startApplication(ctx, cfg, opts.configPath, logger)
	if err != nil {
		logger.Error("failed to start", observability.Error(err))
		return err
	}

	<-ctx.Done()
	logger.Info("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	app.shutdown(shutdownCtx)
	return nil
}

// application holds all running components.
type application struct {
	registry *pool.Registry
	admin    *admin.Server
	watcher  *config.Watcher
	logger   observability.Logger
}

// startApplication creates the configured pools and starts the watcher and
// the admin server. Pools that fail to start are logged and retried on the
// next configuration reload.
func startApplication(
	ctx context.Context,
	cfg *config.Config,
	configPath string,
	logger observability.Logger,
) (*application, error) {
	app := &application{
		registry: pool.NewRegistry(pool.WithRegistryLogger(logger)),
		logger:   logger,
	}

	if err := app.registry.Sync(ctx, cfg.Pools); err != nil {
		logger.Error("some pools failed to start", observability.Error(err))
	}

	watcher, err := config.NewWatcher(configPath,
		func(newCfg *config.Config, changes config.PoolChanges) {
			app.applyReload(ctx, newCfg, changes)
		},
		config.WithLogger(logger),
		config.WithErrorCallback(func(watchErr error) {
			logger.Warn("configuration reload failed", observability.Error(watchErr))
		}),
	)
	if err != nil {
		app.registry.Shutdown(ctx)
		return nil, err
	}
	if err := watcher.Start(ctx); err != nil {
		_ = watcher.Stop()
		app.registry.Shutdown(ctx)
		return nil, err
	}
	app.watcher = watcher

	if cfg.Admin.Enabled {
		app.admin = admin.NewServer(cfg.Admin, app.registry, logger)
		go func() {
			if startErr := app.admin.Start(); startErr != nil {
				logger.Error("admin server failed", observability.Error(startErr))
			}
		}()
	}

	return app, nil
}

// applyReload shuts down pools dropped from the file and creates the ones
// that are missing, including pools that failed to start earlier. A pool
// keeps its settings until it is removed.
func (a *application) applyReload(ctx context.Context, cfg *config.Config, changes config.PoolChanges) {
	a.logger.Info("configuration reloaded", observability.Int("pools", len(cfg.Pools)))

	for _, e := range changes.Removed {
		if err := a.registry.RemovePool(ctx, e.URL); err != nil {
			a.logger.Error("failed to remove pool",
				observability.String("pool", e.Name),
				observability.Error(err),
			)
			continue
		}
		a.logger.Info("pool removed", observability.String("pool", e.Name))
	}
	for _, e := range changes.Changed {
		a.logger.Warn("pool settings changed; remove and re-add the pool to apply them",
			observability.String("pool", e.Name),
		)
	}

	if err := a.registry.Sync(ctx, cfg.Pools); err != nil {
		a.logger.Error("failed to sync pools after reload", observability.Error(err))
	}
}

// shutdown stops the watcher, then the admin server, then every pool.
func (a *application) shutdown(ctx context.Context) {
	if a.watcher != nil {
		if err := a.watcher.Stop(); err != nil {
			a.logger.Warn("failed to stop config watcher", observability.Error(err))
		}
	}

	if a.admin != nil {
		if err := a.admin.Stop(ctx); err != nil {
			a.logger.Error("failed to stop admin server gracefully", observability.Error(err))
		}
	}

	a.registry.Shutdown(ctx)
	a.logger.Info("dbpool stopped")
}
