package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"photopipe/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:          "photopipe",
	Short:        "Photo upload service and tagging worker",
	SilenceUsage: true,
}

func main() {
	slog.SetDefault(logging.CreateLogger(os.Stderr, logging.LevelFromEnv("info")))
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		slog.Error("failed to execute command", "error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to an optional YAML config file")
}
