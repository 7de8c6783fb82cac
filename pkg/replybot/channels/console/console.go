// Package console implements a local messaging client on a readline
// prompt. Every line typed is delivered as an inbound message from a fixed
// sender; replies are printed back. It runs the same routing pipeline as the
// WhatsApp client without a phone.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/uuid"

	"github.com/jholhewres/replybot/pkg/replybot/channels"
)

// LineReader is the part of *readline.Instance the console uses.
type LineReader interface {
	Readline() (string, error)
	Close() error
}

// Config configures the console client.
type Config struct {
	// Sender is the identifier typed lines are attributed to.
	Sender string

	// Prompt is shown before each line.
	Prompt string

	// HistoryFile persists input history. Empty disables it.
	HistoryFile string

	// Out receives replies. Defaults to the readline instance, else stdout.
	Out io.Writer

	// Open creates the line reader. Defaults to readline.
	Open func(cfg Config) (LineReader, error)

	// OnClose is called once when input ends (EOF or Ctrl-C).
	OnClose func()
}

// Factory builds console clients.
type Factory struct {
	cfg    Config
	logger *slog.Logger
}

// NewFactory creates a console client factory.
func NewFactory(cfg Config, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Sender == "" {
		cfg.Sender = "console@local"
	}
	if cfg.Prompt == "" {
		cfg.Prompt = "you> "
	}
	if cfg.Open == nil {
		cfg.Open = openReadline
	}
	return &Factory{cfg: cfg, logger: logger.With("component", "console")}
}

// New builds a client reporting to sink. It matches channels.Factory.
func (f *Factory) New(sink channels.Sink) (channels.Client, error) {
	if sink == nil {
		return nil, fmt.Errorf("console: nil sink")
	}
	return &Console{cfg: f.cfg, sink: sink, logger: f.logger}, nil
}

func openReadline(cfg Config) (LineReader, error) {
	return readline.NewEx(&readline.Config{
		Prompt:          cfg.Prompt,
		HistoryFile:     cfg.HistoryFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
}

// Console is one console client.
type Console struct {
	cfg    Config
	sink   channels.Sink
	logger *slog.Logger

	mu        sync.Mutex
	reader    LineReader
	out       io.Writer
	destroyed atomic.Bool
	closeOnce sync.Once
}

// Name returns "console".
func (c *Console) Name() string { return "console" }

// Initialize opens the prompt, reports ready and starts reading lines.
func (c *Console) Initialize(ctx context.Context) error {
	reader, err := c.cfg.Open(c.cfg)
	if err != nil {
		return fmt.Errorf("opening console: %w", err)
	}

	out := c.cfg.Out
	if out == nil {
		if w, ok := reader.(io.Writer); ok {
			out = w
		} else {
			out = os.Stdout
		}
	}

	c.mu.Lock()
	c.reader = reader
	c.out = out
	c.mu.Unlock()

	c.emit(channels.ReadyEvent{})
	go c.readLoop(ctx, reader)
	return nil
}

func (c *Console) readLoop(ctx context.Context, reader LineReader) {
	for {
		line, err := reader.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				c.logger.Debug("console input closed")
			} else if !c.destroyed.Load() {
				c.logger.Warn("console read failed", "error", err)
			}
			c.finish()
			return
		}
		if ctx.Err() != nil {
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		c.emit(channels.MessageEvent{Message: &channels.IncomingMessage{
			ID:        uuid.NewString(),
			Channel:   "console",
			From:      c.cfg.Sender,
			ChatID:    c.cfg.Sender,
			Content:   line,
			Timestamp: time.Now(),
		}})
	}
}

// finish runs OnClose once, unless the client was destroyed on purpose.
func (c *Console) finish() {
	if c.destroyed.Load() {
		return
	}
	c.closeOnce.Do(func() {
		if c.cfg.OnClose != nil {
			c.cfg.OnClose()
		}
	})
}

// Destroy closes the prompt.
func (c *Console) Destroy() error {
	if !c.destroyed.CompareAndSwap(false, true) {
		return nil
	}
	c.mu.Lock()
	reader := c.reader
	c.mu.Unlock()
	if reader != nil {
		return reader.Close()
	}
	return nil
}

// Reply prints text as the bot's answer.
func (c *Console) Reply(_ context.Context, _ *channels.IncomingMessage, text string) error {
	return c.print("bot> " + text)
}

// SendMessage prints text addressed to a recipient.
func (c *Console) SendMessage(_ context.Context, to, text string) error {
	return c.print(fmt.Sprintf("bot -> %s> %s", to, text))
}

func (c *Console) print(text string) error {
	if c.destroyed.Load() {
		return channels.ErrChannelDisconnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.out == nil {
		return channels.ErrChannelDisconnected
	}
	_, err := fmt.Fprintln(c.out, text)
	return err
}

func (c *Console) emit(evt channels.Event) {
	if c.destroyed.Load() {
		return
	}
	c.sink(evt)
}
