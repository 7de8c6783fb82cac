package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jholhewres/replybot/pkg/replybot/bot"
	"github.com/jholhewres/replybot/pkg/replybot/channels"
	"github.com/jholhewres/replybot/pkg/replybot/channels/console"
	"github.com/jholhewres/replybot/pkg/replybot/responses"
)

// newConsoleCmd creates the `replybot console` command.
func newConsoleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Chat with the bot from the terminal",
		Long: `Run the full message pipeline on a local prompt. Every line typed is
handled as an inbound message from the --as sender; replies are printed.
Learned responses are read from and written to the configured file.

Examples:
  replybot console
  replybot console --as 972501234567`,
		RunE: runConsole,
	}
	cmd.Flags().String("as", "", "sender identifier (defaults to the first admin)")
	cmd.Flags().Bool("no-history", false, "do not persist input history")
	return cmd
}

func runConsole(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg, os.Stderr)

	sender, _ := cmd.Flags().GetString("as")
	if sender == "" && len(cfg.Access.Admins) > 0 {
		sender = cfg.Access.Admins[0]
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	consoleCfg := console.Config{
		Sender:  sender,
		OnClose: cancel,
	}
	if noHistory, _ := cmd.Flags().GetBool("no-history"); !noHistory {
		consoleCfg.HistoryFile = filepath.Join(filepath.Dir(cfg.Data.Path), ".replybot_history")
	}
	factory := console.NewFactory(consoleCfg, logger)

	store := responses.NewStore(cfg.Data.StoreConfig, logger)
	// No QR pairing on the console.
	b := bot.New(cfg, store, channels.Factory(factory.New), logger,
		bot.WithQRRenderer(func(string) {}),
	)

	fmt.Fprintf(os.Stderr, "%s console. Type a message, Ctrl-D to quit.\n", cfg.Name)
	return b.Run(ctx)
}
