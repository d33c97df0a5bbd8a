package main

import (
	"log/slog"
	"os"

	"github.com/flow23flow23/artistrm-360-sub002/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	verbose bool
	envFile string
)

var rootCmd = &cobra.Command{
	Use:           "zeusctl",
	Short:         "Zeus assistant operator CLI",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "environment file to load before reading configuration")
	rootCmd.AddCommand(chatCmd, transcriptCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// setup loads configuration and returns a text logger on stderr so it does
// not interleave with the conversation on stdout.
func setup() (*config.Config, *slog.Logger, error) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := godotenv.Load(envFile); err != nil {
		logger.Debug("No env file loaded", "path", envFile, "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
