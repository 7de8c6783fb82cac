// Package whatsapp – health.go watches an established connection for
// silent disconnects that whatsmeow never reports.
package whatsapp

import (
	"context"
	"time"

	"github.com/jholhewres/replybot/pkg/replybot/channels"
)

// WatchdogConfig configures connection health checks.
type WatchdogConfig struct {
	// CheckInterval is how often the connection is checked. 0 disables it.
	CheckInterval time.Duration `yaml:"check_interval"`

	// MaxSilent is how long the client may go without any event before the
	// socket state is checked.
	MaxSilent time.Duration `yaml:"max_silent"`
}

// DefaultWatchdogConfig returns the default health check settings.
func DefaultWatchdogConfig() WatchdogConfig {
	return WatchdogConfig{
		CheckInterval: 30 * time.Second,
		MaxSilent:     5 * time.Minute,
	}
}

// watch runs health checks until ctx ends or a dead connection is reported.
func (w *WhatsApp) watch(ctx context.Context, cfg WatchdogConfig, isConnected func() bool) {
	if cfg.CheckInterval <= 0 {
		return
	}
	if cfg.MaxSilent <= 0 {
		cfg.MaxSilent = DefaultWatchdogConfig().MaxSilent
	}

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if w.checkHealth(now, cfg.MaxSilent, isConnected) {
				return
			}
		}
	}
}

// checkHealth reports a disconnect and returns true when the client has
// been silent longer than maxSilent and the socket is closed.
func (w *WhatsApp) checkHealth(now time.Time, maxSilent time.Duration, isConnected func() bool) bool {
	if !w.connected.Load() {
		return false
	}
	silent := now.Sub(w.lastActivity())
	if silent <= maxSilent {
		return false
	}
	if isConnected() {
		w.logger.Debug("connection silent, socket still open", "silent", silent)
		return false
	}

	w.logger.Error("socket closed without a disconnect event", "silent", silent)
	w.connected.Store(false)
	w.emit(channels.DisconnectedEvent{Reason: "watchdog: connection silently dropped"})
	return true
}

func (w *WhatsApp) touch() { w.lastEvent.Store(time.Now().UnixNano()) }

func (w *WhatsApp) lastActivity() time.Time { return time.Unix(0, w.lastEvent.Load()) }
