package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jholhewres/replybot/pkg/replybot/bot"
	"github.com/jholhewres/replybot/pkg/replybot/channels/whatsapp"
	"github.com/jholhewres/replybot/pkg/replybot/healthz"
	"github.com/jholhewres/replybot/pkg/replybot/responses"
)

// newServeCmd creates the `replybot serve` command.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to WhatsApp and answer messages",
		Long: `Start ReplyBot against WhatsApp. On first run a QR code is printed;
scan it from WhatsApp > Linked devices. The health server runs alongside.

Examples:
  replybot serve
  replybot serve --config ./config.yaml
  PORT=8080 replybot serve`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	factory := whatsapp.NewFactory(cfg.WhatsApp, logger)
	defer func() {
		if err := factory.Close(); err != nil {
			logger.Warn("closing session store", "error", err)
		}
	}()

	store := responses.NewStore(cfg.Data.StoreConfig, logger)
	b := bot.New(cfg, store, factory.New, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.Run(gctx) })

	if cfg.HTTP.Enabled {
		srv := healthz.NewServer(cfg.HTTP.Address, healthz.NewHandler(cfg.Name, b.Ready), logger)
		g.Go(func() error { return srv.Run(gctx) })
	}

	logger.Info("ReplyBot running. Press Ctrl+C to stop.",
		"name", cfg.Name,
		"responses_file", store.Path(),
		"http", cfg.HTTP.Enabled,
	)

	if err := g.Wait(); err != nil {
		logger.Error("stopped with error", "error", err)
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
