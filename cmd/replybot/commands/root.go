// Package commands implements the ReplyBot CLI commands using cobra.
package commands

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jholhewres/replybot/pkg/replybot/config"
)

// NewRootCmd creates the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "replybot",
		Short: "ReplyBot - learned auto-replies for WhatsApp",
		Long: `ReplyBot answers WhatsApp messages with replies taught by its admins.

Examples:
  replybot serve
  replybot console --as 972501234567
  replybot responses list
  replybot health --url http://localhost:10000`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newConsoleCmd(),
		newSetupCmd(),
		newResponsesCmd(),
		newHealthCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}

// loadConfig loads the --config file, or the first config file found in the
// standard locations, or the defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path == "" {
		path = config.FindConfigFile()
	}

	cfg, err := config.Load(path)
	if err != nil {
		if path != "" {
			return nil, fmt.Errorf("loading config from %s: %w", path, err)
		}
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if path == "" {
		slog.Debug("no config file found, using defaults")
	}
	return cfg, nil
}

// newLogger builds the process logger from the logging section and the
// --verbose flag, and installs it as the slog default.
func newLogger(cmd *cobra.Command, cfg *config.Config, w io.Writer) *slog.Logger {
	level, _ := config.ParseLevel(cfg.Logging.Level)
	if verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Logging.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
