// Package cmd defines and implements the CLI commands for the profile-feedback
// executable.
package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/profile-feedback/internal/config"
	"github.com/JakeFAU/profile-feedback/internal/logging"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile-feedback",
		Short: "Submits LinkedIn profile URLs for analysis and collects the feedback.",
		Long: `profile-feedback registers a profile URL with the feedback datastore,
triggers the external analysis pipeline and polls until the feedback is
complete enough to display. Run it as an HTTP service with "serve" or drive a
single URL from the terminal with "analyze".`,
		SilenceUsage: true,

		// .env values become environment variables before any config is read.
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadDotEnv()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newAnalyzeCmd())

	return cmd
}

func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// setup loads configuration and builds the process logger.
func setup(overrides map[string]any) (config.Config, *zap.Logger, error) {
	cfg, err := config.LoadWith(cfgFile, overrides)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return cfg, logger, nil
}

func syncLogger(logger *zap.Logger) {
	_ = logger.Sync() // best-effort flush
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
