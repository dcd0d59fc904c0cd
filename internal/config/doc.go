// Package config provides configuration types and loading for dbpool.
//
// This package defines the configuration model, YAML loading with
// environment variable substitution, validation, and file watching
// used to hot-add pools.
//
// # Features
//
//   - YAML configuration file loading
//   - Environment variable substitution with ${VAR:-default} syntax
//   - Per-pool settings layered over a shared defaults block
//   - Configuration validation with detailed error reporting
//   - File watching for configuration hot-reload
//
// # Configuration Loading
//
//	cfg, err := config.LoadConfig("dbpool.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := config.ValidateConfig(cfg); err != nil {
//	    log.Fatal(err)
//	}
//
// # File Watching
//
//	watcher, err := config.NewWatcher(path, func(cfg *config.Config, changes config.PoolChanges) {
//	    for _, e := range changes.Removed {
//	        registry.RemovePool(ctx, e.URL)
//	    }
//	    registry.Sync(ctx, cfg.Pools)
//	}, config.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	watcher.Start(ctx)
package config
