// Package cmd implements the streamloaderctl demo CLI: a small harness
// that drives the fetch/audiofile core against a FakeSession backed by
// a local file standing in for the remote source, for manual testing
// and benchmarking outside of a real Session implementation.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/javi11/streamloader/internal/config"
)

var (
	configFile string
	logFile    string

	cfg *config.Config
	log *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "streamloaderctl",
	Short: "Drive the stream loader core against a simulated source file",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML tuning/cache override file (optional)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "path to a rotating log file (stderr if unset)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func setup() error {
	loaded, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("streamloaderctl: load config: %w", err)
	}
	cfg = loaded

	var handler slog.Handler
	if logFile != "" {
		writer := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    50,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		}
		handler = slog.NewJSONHandler(writer, nil)
	} else {
		handler = slog.NewTextHandler(os.Stderr, nil)
	}
	log = slog.New(handler).With("component", "streamloaderctl")

	return nil
}
