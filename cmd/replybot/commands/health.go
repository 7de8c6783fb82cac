package commands

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/replybot/pkg/replybot/healthz"
)

// newHealthCmd creates the `replybot health` command. Used by container
// HEALTHCHECKs: it exits non-zero unless /healthz answers 200.
func newHealthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe the running bot's health endpoint",
		Args:  cobra.NoArgs,
		RunE:  runHealth,
	}
	cmd.Flags().String("url", "", "base URL of the bot (defaults to the configured http.address)")
	cmd.Flags().Duration("timeout", 5*time.Second, "probe timeout")
	return cmd
}

func runHealth(cmd *cobra.Command, _ []string) error {
	baseURL, _ := cmd.Flags().GetString("url")
	if baseURL == "" {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		baseURL = localURL(cfg.HTTP.Address)
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	if err := healthz.Probe(ctx, nil, strings.TrimSuffix(baseURL, "/")); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "OK")
	return nil
}

// localURL turns a listen address such as ":10000" into a URL on localhost.
func localURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}
