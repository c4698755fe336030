package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"moodcam/internal/config"
	"moodcam/internal/logging"
)

// Version is the application version, set with -ldflags "-X main.Version=..."
var Version = "dev"

var (
	configPath string
	logLevel   string
	noColor    bool

	// cfg and logger are set up in PersistentPreRunE for every subcommand
	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:          "moodcam",
	Short:        "Real-time emotion annotation for live camera feeds",
	Version:      Version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			loaded.LogLevel = logLevel
		}

		level, err := logging.ParseLevel(loaded.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid --log-level: %w", err)
		}
		logger = logging.New(os.Stderr, level, noColor)
		slog.SetDefault(logger)

		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("MOODCAM_CONFIG"), "Path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides the config file)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored log output")

	rootCmd.AddCommand(serveCmd, detectCmd, versionCmd)
}
