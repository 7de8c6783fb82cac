// Package whatsapp implements the ReplyBot messaging client on top of
// whatsmeow, a native Go WhatsApp Web library.
//
// One *WhatsApp is one connection attempt. The Factory keeps the SQLite
// session container open across attempts so a rebuilt client reuses the
// paired device. whatsmeow's own auto-reconnect is disabled: reconnection
// is driven by the session state machine.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jholhewres/replybot/pkg/replybot/channels"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for session store.
)

var errDestroyed = errors.New("whatsapp: client destroyed")

// Config holds WhatsApp channel configuration.
type Config struct {
	// SessionDB is the path to the SQLite session database.
	SessionDB string `yaml:"session_db"`

	// DeviceName is shown in the phone's linked devices list.
	DeviceName string `yaml:"device_name"`

	Watchdog WatchdogConfig `yaml:"watchdog"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SessionDB:  "./data/whatsapp.db",
		DeviceName: "ReplyBot",
		Watchdog:   DefaultWatchdogConfig(),
	}
}

// Factory opens the session store once and builds clients on demand.
type Factory struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	container *sqlstore.Container
}

// NewFactory creates a factory. The database is opened on first use.
func NewFactory(cfg Config, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.SessionDB == "" {
		cfg.SessionDB = def.SessionDB
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = def.DeviceName
	}
	return &Factory{cfg: cfg, logger: logger.With("component", "whatsapp")}
}

// New builds a client reporting to sink. It matches channels.Factory.
func (f *Factory) New(sink channels.Sink) (channels.Client, error) {
	if sink == nil {
		return nil, fmt.Errorf("whatsapp: nil sink")
	}
	return &WhatsApp{factory: f, sink: sink, logger: f.logger}, nil
}

// Close releases the session database.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.container == nil {
		return nil
	}
	err := f.container.Close()
	f.container = nil
	return err
}

func (f *Factory) openContainer(ctx context.Context) (*sqlstore.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.container != nil {
		return f.container, nil
	}

	f.logger.Info("opening session database", "path", f.cfg.SessionDB)
	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL", f.cfg.SessionDB),
		newWALogger(f.logger, "Database"))
	if err != nil {
		return nil, fmt.Errorf("creating session store: %w", err)
	}
	f.container = container
	return container, nil
}

// WhatsApp is one whatsmeow client instance.
type WhatsApp struct {
	factory *Factory
	sink    channels.Sink
	logger  *slog.Logger

	// mu guards the fields set by Initialize against a concurrent Destroy.
	mu     sync.Mutex
	client *whatsmeow.Client
	ctx    context.Context
	cancel context.CancelFunc

	connected atomic.Bool
	destroyed atomic.Bool
	lastEvent atomic.Int64 // unix nanos of the last whatsmeow event
}

// Name returns "whatsapp".
func (w *WhatsApp) Name() string { return "whatsapp" }

// Initialize opens (or reuses) the session store, builds the whatsmeow
// client and starts connecting. Without a paired device, QR codes are
// streamed to the sink until the phone scans one.
func (w *WhatsApp) Initialize(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	if w.destroyed.Load() {
		w.mu.Unlock()
		cancel()
		return errDestroyed
	}
	w.ctx, w.cancel = ctx, cancel
	w.mu.Unlock()

	container, err := w.factory.openContainer(ctx)
	if err != nil {
		return err
	}

	device, err := getDevice(ctx, container)
	if err != nil {
		return fmt.Errorf("getting device: %w", err)
	}

	store.SetOSInfo(w.factory.cfg.DeviceName, [3]uint32{1, 0, 0})

	client := whatsmeow.NewClient(device, newWALogger(w.logger, "Client"))
	client.EnableAutoReconnect = false
	client.AddEventHandler(w.handleEvent)

	w.mu.Lock()
	if w.destroyed.Load() {
		w.mu.Unlock()
		return errDestroyed
	}
	w.client = client
	w.mu.Unlock()

	var qrChan <-chan whatsmeow.QRChannelItem
	if client.Store.ID == nil {
		qrChan, err = client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("getting QR channel: %w", err)
		}
	}
	if err := client.Connect(); err != nil {
		return fmt.Errorf("connecting: %w", err)
	}

	// Destroy may have run while Connect was in flight and found nothing
	// to disconnect yet.
	if w.destroyed.Load() {
		client.RemoveEventHandlers()
		client.Disconnect()
		return errDestroyed
	}

	if qrChan != nil {
		w.logger.Info("no existing session, waiting for QR scan")
		go w.watchQR(ctx, qrChan)
	} else {
		w.logger.Info("connecting with existing session", "jid", client.Store.ID.String())
	}
	go w.watch(ctx, w.factory.cfg.Watchdog, client.IsConnected)
	return nil
}

// Destroy disconnects and silences the client.
func (w *WhatsApp) Destroy() error {
	w.mu.Lock()
	if !w.destroyed.CompareAndSwap(false, true) {
		w.mu.Unlock()
		return nil
	}
	cancel, client := w.cancel, w.client
	w.mu.Unlock()

	w.connected.Store(false)
	if cancel != nil {
		cancel()
	}
	if client != nil {
		client.RemoveEventHandlers()
		client.Disconnect()
	}
	w.logger.Debug("client destroyed")
	return nil
}

// current returns the whatsmeow client and its context, or nil before
// Initialize got that far.
func (w *WhatsApp) current() (*whatsmeow.Client, context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.client, w.ctx
}

// Reply answers msg in its chat, quoting the original.
func (w *WhatsApp) Reply(ctx context.Context, msg *channels.IncomingMessage, text string) error {
	if !w.connected.Load() {
		return channels.ErrChannelDisconnected
	}

	chat := msg.ChatID
	if raw, ok := msg.Metadata["chat_jid"].(string); ok && raw != "" {
		chat = raw
	}
	jid, err := parseJID(chat)
	if err != nil {
		return fmt.Errorf("invalid JID %q: %w", chat, err)
	}

	client, _ := w.current()
	if client == nil {
		return channels.ErrChannelDisconnected
	}
	sender, _ := msg.Metadata["sender_jid"].(string)
	if _, err := client.SendMessage(ctx, jid, buildReplyMessage(text, msg.ID, sender, msg.Content)); err != nil {
		return fmt.Errorf("%w: %w", channels.ErrSendFailed, err)
	}
	return nil
}

// SendMessage sends a plain text message.
func (w *WhatsApp) SendMessage(ctx context.Context, to, text string) error {
	if !w.connected.Load() {
		return channels.ErrChannelDisconnected
	}

	jid, err := parseJID(to)
	if err != nil {
		return fmt.Errorf("invalid JID %q: %w", to, err)
	}
	client, _ := w.current()
	if client == nil {
		return channels.ErrChannelDisconnected
	}
	if _, err := client.SendMessage(ctx, jid, buildTextMessage(text)); err != nil {
		return fmt.Errorf("%w: %w", channels.ErrSendFailed, err)
	}
	return nil
}

// emit forwards an event unless the client was destroyed.
func (w *WhatsApp) emit(evt channels.Event) {
	if w.destroyed.Load() {
		return
	}
	w.sink(evt)
}

// getDevice retrieves an existing device or creates a new one.
func getDevice(ctx context.Context, container *sqlstore.Container) (*store.Device, error) {
	devices, err := container.GetAllDevices(ctx)
	if err != nil {
		return nil, err
	}
	if len(devices) > 0 {
		return devices[0], nil
	}
	return container.NewDevice(), nil
}

// watchQR relays pairing codes until the QR flow ends.
func (w *WhatsApp) watchQR(ctx context.Context, qrChan <-chan whatsmeow.QRChannelItem) {
	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-qrChan:
			if !ok {
				return
			}
			switch evt.Event {
			case "code":
				attempts++
				w.logger.Info("QR code ready", "attempt", attempts)
				w.emit(channels.QREvent{Code: evt.Code})
			case "success":
				w.logger.Info("QR login successful")
				return
			case "timeout":
				w.logger.Warn("QR code expired")
				w.emit(channels.DisconnectedEvent{Reason: "qr timeout"})
				return
			default:
				if evt.Error != nil {
					w.logger.Error("QR login error", "error", evt.Error)
					w.emit(channels.AuthFailureEvent{Reason: evt.Error.Error()})
					return
				}
			}
		}
	}
}
