// Command boardhealth serves the board diagnostics dashboard API and ingests
// CSV dumps from the test rig.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"boardhealth/internal/config"
	"boardhealth/internal/logging"
)

var (
	flagConfig   string
	flagLogLevel string

	cfg    config.Config
	logger *zap.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "boardhealth",
	Short: "Board diagnostics dashboard service",
	Long: `boardhealth classifies CSV dumps from the board test rig into status
labels and serves them to the dashboard.

Run without arguments to start the HTTP server.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: $CONFIG_PATH or config/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error (overrides LOG_LEVEL)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(channelCmd)
	rootCmd.AddCommand(versionCmd)
}

// setup loads configuration and builds the logger for every subcommand.
func setup(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "version" {
		return nil
	}
	if flagConfig != "" {
		if err := os.Setenv("CONFIG_PATH", flagConfig); err != nil {
			return err
		}
	}
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if strings.TrimSpace(flagLogLevel) != "" {
		cfg.LogLevel = flagLogLevel
	}
	logger, err = logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	for _, w := range cfg.Warnings {
		logger.Warn("config", zap.String("warning", w))
	}
	return nil
}
