package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vyrodovalexey/dbpool/internal/config"
	"github.com/vyrodovalexey/dbpool/internal/observability"
)

// cliOptions holds the persistent flags.
type cliOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCommand() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:           "dbpool",
		Short:         "Connection pools for Redis, PostgreSQL, MySQL and MongoDB",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config",
		getEnvOrDefault("DBPOOL_CONFIG_PATH", "configs/dbpool.yaml"), "Path to configuration file")
	flags.StringVar(&opts.logLevel, "log-level",
		getEnvOrDefault("DBPOOL_LOG_LEVEL", ""), "Log level override (debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format",
		getEnvOrDefault("DBPOOL_LOG_FORMAT", ""), "Log format override (json, console)")

	root.AddCommand(
		newServeCommand(opts),
		newCheckCommand(opts),
		newVersionCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "dbpool version %s\n", version)
			fmt.Fprintf(out, "  Build time: %s\n", buildTime)
			fmt.Fprintf(out, "  Git commit: %s\n", gitCommit)
		},
	}
}

func newCheckCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration file and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadAndValidateConfig(opts.configPath)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "configuration OK: %d pool(s)\n", len(cfg.Pools))
			for _, p := range cfg.Pools {
				pc := p.Normalize()
				fmt.Fprintf(out, "  %s (max %d, min %d)\n", p.Name, pc.MaxConnections, pc.MinConnections)
			}
			return nil
		},
	}
}

// loadAndValidateConfig loads and validates the configuration.
func loadAndValidateConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// initLogger builds the process logger from the config, with flag
// overrides applied.
func initLogger(cfg config.LogConfig, opts *cliOptions) (observability.Logger, error) {
	logCfg := observability.LogConfig{
		Level:  cfg.Level,
		Format: cfg.Format,
		Output: cfg.Output,
	}
	if opts.logLevel != "" {
		logCfg.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		logCfg.Format = opts.logFormat
	}

	logger, err := observability.NewLogger(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return nil, err
	}

	observability.SetGlobalLogger(logger)
	return logger, nil
}
