package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/upb/medbot/app"
	"github.com/upb/medbot/config"
	"github.com/upb/medbot/internal/observability"
	"go.uber.org/zap"
)

var (
	// configFile is an optional TOML file layered under the environment
	configFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "medbot",
	Short: "Medical question answering over a prebuilt document index",
	Long: `MedBot answers health questions using a local language model grounded
in passages retrieved from a prebuilt medical document index.

Examples:
  # Serve the JSON API and the browser form
  medbot serve

  # Ask a single question from the terminal
  medbot ask "What is the adult dose of ibuprofen?"

  # Same, with a config file and JSON output
  medbot ask --config medbot.toml --json "What causes migraines?"`,
	Version:       app.Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a TOML config file (defaults to $MEDBOT_CONFIG)")
}

// loadRuntime resolves the configuration and builds the logger
func loadRuntime(ctx context.Context) (*config.Config, *zap.Logger, error) {
	cfg, err := config.New(ctx, configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	logger = logger.With(
		zap.String("service", cfg.Observability.ServiceName),
		zap.String("environment", cfg.Environment))
	return cfg, logger, nil
}
