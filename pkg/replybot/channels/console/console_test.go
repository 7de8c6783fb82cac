package console

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/jholhewres/replybot/pkg/replybot/channels"
)

// scriptReader returns the scripted lines, then io.EOF.
type scriptReader struct {
	mu     sync.Mutex
	lines  []string
	closed bool
}

func (r *scriptReader) Readline() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.lines) == 0 {
		return "", io.EOF
	}
	line := r.lines[0]
	r.lines = r.lines[1:]
	return line, nil
}

func (r *scriptReader) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

type recorder struct {
	mu     sync.Mutex
	events []channels.Event
}

func (r *recorder) sink(e channels.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []channels.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]channels.Event(nil), r.events...)
}

func TestConsoleDeliversLines(t *testing.T) {
	reader := &scriptReader{lines: []string{"help", "   ", "מה השעה"}}
	closed := make(chan struct{})
	var out bytes.Buffer

	f := NewFactory(Config{
		Sender:  "972501234567@s.whatsapp.net",
		Out:     &out,
		Open:    func(Config) (LineReader, error) { return reader, nil },
		OnClose: func() { close(closed) },
	}, nil)

	rec := &recorder{}
	c, err := f.New(rec.sink)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose was not called at EOF")
	}

	events := rec.snapshot()
	if len(events) != 3 {
		t.Fatalf("expected ready + 2 messages, got %d: %v", len(events), events)
	}
	if _, ok := events[0].(channels.ReadyEvent); !ok {
		t.Errorf("first event should be ready, got %T", events[0])
	}
	msg := events[2].(channels.MessageEvent).Message
	if msg.Content != "מה השעה" || msg.From != "972501234567@s.whatsapp.net" || msg.ID == "" {
		t.Errorf("unexpected message %+v", msg)
	}

	if err := c.Reply(context.Background(), msg, "אין לי שעון"); err != nil {
		t.Fatal(err)
	}
	if out.String() != "bot> אין לי שעון\n" {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestConsoleDestroy(t *testing.T) {
	reader := &scriptReader{}
	f := NewFactory(Config{
		Out:  io.Discard,
		Open: func(Config) (LineReader, error) { return reader, nil },
	}, nil)
	c, _ := f.New(func(channels.Event) {})
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.Destroy(); err != nil {
		t.Fatal(err)
	}
	reader.mu.Lock()
	closed := reader.closed
	reader.mu.Unlock()
	if !closed {
		t.Error("destroy should close the reader")
	}
	if err := c.SendMessage(context.Background(), "x", "y"); !errors.Is(err, channels.ErrChannelDisconnected) {
		t.Errorf("expected ErrChannelDisconnected after destroy, got %v", err)
	}
}

func TestConsoleOpenFailure(t *testing.T) {
	boom := errors.New("no tty")
	f := NewFactory(Config{Open: func(Config) (LineReader, error) { return nil, boom }}, nil)
	c, _ := f.New(func(channels.Event) {})
	if err := c.Initialize(context.Background()); !errors.Is(err, boom) {
		t.Errorf("expected open error, got %v", err)
	}
}
