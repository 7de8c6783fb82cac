// Package bot wires the response table, the command registry, the router and
// the connection lifecycle machine around one messaging client.
//
// All application state is owned by a single dispatcher goroutine (Run).
// Client callbacks, reconnect timers, cron ticks and initialization results
// are posted into one buffered queue and processed in order. Every client
// instance gets a generation number; events from a client that has been torn
// down are dropped.
package bot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mdp/qrterminal/v3"
	"golang.org/x/term"

	"github.com/jholhewres/replybot/pkg/replybot/channels"
	"github.com/jholhewres/replybot/pkg/replybot/commands"
	"github.com/jholhewres/replybot/pkg/replybot/config"
	"github.com/jholhewres/replybot/pkg/replybot/responses"
	"github.com/jholhewres/replybot/pkg/replybot/router"
	"github.com/jholhewres/replybot/pkg/replybot/scheduler"
	"github.com/jholhewres/replybot/pkg/replybot/session"
)

const (
	eventBuffer  = 256
	sendTimeout  = 30 * time.Second
	snapshotJob  = "responses-snapshot"
	drainTimeout = 10 * time.Second
)

// Option customizes a Bot.
type Option func(*Bot)

// WithQRRenderer replaces the terminal QR renderer.
func WithQRRenderer(fn func(code string)) Option {
	return func(b *Bot) { b.renderQR = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Bot) { b.now = now }
}

// WithRandom replaces the greeting picker.
func WithRandom(intN func(n int) int) Option {
	return func(b *Bot) { b.intN = intN }
}

// Bot is the application runtime.
type Bot struct {
	cfg     *config.Config
	store   *responses.Store
	factory channels.Factory
	logger  *slog.Logger

	renderQR func(code string)
	now      func() time.Time
	intN     func(n int) int

	events chan any
	done   chan struct{}
	ready  atomic.Bool
	sends  sync.WaitGroup

	// Owned by the dispatcher goroutine.
	machine   *session.Machine
	state     session.State
	table     *responses.Table
	router    *router.Router
	roster    *commands.Roster
	client    channels.Client
	gen       uint64
	timer     *time.Timer
	startedAt time.Time
	exitErr   error
}

// Internal queue items.
type (
	clientEvent struct {
		gen uint64
		ev  channels.Event
	}
	initResult struct {
		gen uint64
		err error
	}
	timerFired  struct{ attempt int }
	snapshotDue struct{}
)

// New creates a Bot. store holds the learned responses; factory builds a
// fresh messaging client for every connection attempt.
func New(cfg *config.Config, store *responses.Store, factory channels.Factory, logger *slog.Logger, opts ...Option) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bot{
		cfg:     cfg,
		store:   store,
		factory: factory,
		logger:  logger.With("component", "bot"),
		now:     time.Now,
		events:  make(chan any, eventBuffer),
		done:    make(chan struct{}),
		machine: session.NewMachine(cfg.SessionConfig()),
		roster:  commands.NewRoster(cfg.Access.Admins),
	}
	b.renderQR = b.terminalQR
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Ready reports whether the client is connected. Safe for concurrent use.
func (b *Bot) Ready() bool { return b.ready.Load() }

// Run loads the table, connects and processes events until ctx is done or
// the retry budget is exhausted. It returns an error wrapping
// session.ErrRetriesExhausted in the latter case.
func (b *Bot) Run(ctx context.Context) error {
	defer close(b.done)

	b.startedAt = b.now()
	b.table = b.store.Load()

	registry, err := b.buildRegistry()
	if err != nil {
		return err
	}
	b.router = router.New(b.cfg.RouterConfig(), b.table, registry, b.logger)

	sched := scheduler.New(b.logger)
	if expr := b.cfg.Data.SnapshotSchedule; expr != "" {
		if err := sched.Add(snapshotJob, expr, func() { b.post(snapshotDue{}) }); err != nil {
			return fmt.Errorf("scheduling snapshots: %w", err)
		}
	}
	sched.Start()
	defer sched.Stop()

	b.logger.Info("bot starting",
		"name", b.cfg.Name,
		"responses", b.table.Len(),
		"admins", b.roster.Len(),
	)

	b.step(ctx, session.Start{})

	for b.exitErr == nil {
		select {
		case <-ctx.Done():
			b.shutdown()
			return nil
		case item := <-b.events:
			b.handle(ctx, item)
		}
	}

	b.shutdown()
	return b.exitErr
}

// post enqueues an item for the dispatcher. It gives up once Run returned.
func (b *Bot) post(item any) {
	select {
	case b.events <- item:
	case <-b.done:
	}
}

func (b *Bot) sink(gen uint64) channels.Sink {
	return func(ev channels.Event) { b.post(clientEvent{gen: gen, ev: ev}) }
}

// handle processes one queue item. A panic becomes a Fault for the machine
// instead of killing the dispatcher.
func (b *Bot) handle(ctx context.Context, item any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("panic while handling event", "event", fmt.Sprintf("%T", item), "panic", r)
			b.step(ctx, session.Fault{Err: fmt.Errorf("dispatch panic: %v", r)})
		}
	}()

	switch it := item.(type) {
	case clientEvent:
		if it.gen != b.gen {
			b.logger.Debug("dropping event from stale client", "gen", it.gen, "current", b.gen)
			return
		}
		b.handleClientEvent(ctx, it.ev)

	case initResult:
		if it.gen != b.gen || it.err == nil {
			return
		}
		b.logger.Error("client initialization failed", "error", it.err)
		b.step(ctx, session.InitFailed{Err: it.err})

	case timerFired:
		b.step(ctx, session.TimerFired{Attempt: it.attempt})

	case snapshotDue:
		if path, err := b.store.Snapshot(b.table); err != nil {
			b.logger.Error("scheduled snapshot failed", "error", err)
		} else {
			b.logger.Info("scheduled snapshot written", "path", path, "responses", b.table.Len())
		}
	}
}

func (b *Bot) handleClientEvent(ctx context.Context, ev channels.Event) {
	switch e := ev.(type) {
	case channels.QREvent:
		b.step(ctx, session.QR{Code: e.Code, At: b.now()})
	case channels.ReadyEvent:
		b.logger.Info("client is ready")
		b.step(ctx, session.ReadyEvent{})
	case channels.AuthenticatedEvent:
		b.logger.Info("client authenticated", "id", e.ID)
		b.step(ctx, session.Authenticated{})
	case channels.DisconnectedEvent:
		b.logger.Warn("client disconnected", "reason", e.Reason)
		b.step(ctx, session.Disconnect{Reason: e.Reason})
	case channels.AuthFailureEvent:
		b.logger.Error("authentication failure", "reason", e.Reason)
		b.step(ctx, session.AuthFailure{Reason: e.Reason})
	case channels.FaultEvent:
		b.logger.Error("client fault", "error", e.Err)
		b.step(ctx, session.Fault{Err: e.Err})
	case channels.MessageEvent:
		b.handleMessage(ctx, e.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *channels.IncomingMessage) {
	if msg == nil {
		return
	}
	res := b.router.Route(ctx, msg)
	if len(res.Replies) == 0 {
		return
	}
	b.deliver(ctx, res.Trace, func(ctx context.Context, c channels.Client) error {
		for _, reply := range res.Replies {
			if err := c.Reply(ctx, msg, reply); err != nil {
				return err
			}
		}
		return nil
	})
}

// deliver runs send against the current client off the dispatcher
// goroutine. Replies of one message keep their order. A panic in the client
// is reported back to the dispatcher as a fault of that client.
func (b *Bot) deliver(ctx context.Context, trace string, send func(context.Context, channels.Client) error) {
	c, gen := b.client, b.gen
	if c == nil {
		b.logger.Warn("no client to deliver reply", "trace", trace)
		return
	}
	b.sends.Add(1)
	go func() {
		defer b.sends.Done()
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("panic while sending reply", "trace", trace, "panic", r)
				b.post(clientEvent{gen: gen, ev: channels.FaultEvent{Err: fmt.Errorf("send panic: %v", r)}})
			}
		}()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
		defer cancel()
		if err := send(sendCtx, c); err != nil {
			b.logger.Error("failed to send reply", "trace", trace, "error", err)
		}
	}()
}

// step feeds ev to the machine and executes the resulting effects.
func (b *Bot) step(ctx context.Context, ev session.Event) {
	next, effects := b.machine.Step(b.state, ev)
	if next.Phase != b.state.Phase {
		b.logger.Info("connection state changed", "from", b.state.Phase, "to", next.Phase, "retries", next.RetryCount)
	}
	b.state = next
	b.ready.Store(next.Phase == session.Ready)

	for _, eff := range effects {
		b.execute(ctx, eff)
	}
}

func (b *Bot) execute(ctx context.Context, eff session.Effect) {
	switch e := eff.(type) {
	case session.RenderQR:
		b.renderQR(e.Code)

	case session.ScheduleReconnect:
		b.stopTimer()
		attempt := e.Attempt
		b.logger.Info("reconnect scheduled", "attempt", attempt, "delay", e.Delay)
		b.timer = time.AfterFunc(e.Delay, func() { b.post(timerFired{attempt: attempt}) })

	case session.CancelReconnect:
		b.stopTimer()

	case session.Rebuild:
		b.rebuild(ctx, e.Attempt)

	case session.NotifyAdmins:
		b.notifyAdmins(ctx)

	case session.Exit:
		b.logger.Error("giving up on connection", "code", e.Code, "error", e.Err)
		b.exitErr = e.Err
	}
}

// rebuild destroys the current client and starts a fresh one.
func (b *Bot) rebuild(ctx context.Context, attempt int) {
	b.teardownClient()

	b.gen++
	gen := b.gen
	client, err := b.factory(b.sink(gen))
	if err != nil {
		b.logger.Error("failed to create client", "attempt", attempt, "error", err)
		b.step(ctx, session.InitFailed{Err: err})
		return
	}
	b.client = client
	b.logger.Info("initializing client", "channel", client.Name(), "attempt", attempt, "gen", gen)

	go func() {
		err := client.Initialize(ctx)
		b.post(initResult{gen: gen, err: err})
	}()
}

func (b *Bot) teardownClient() {
	if b.client == nil {
		return
	}
	// Bump the generation first so late events from the old client drop.
	b.gen++
	if err := b.client.Destroy(); err != nil {
		b.logger.Warn("error destroying client", "error", err)
	}
	b.client = nil
}

func (b *Bot) notifyAdmins(ctx context.Context) {
	admins := b.roster.List()
	if len(admins) == 0 {
		return
	}
	text := commands.MessagesFor(b.cfg.RouterConfig().Locale).Online
	b.deliver(ctx, "notify", func(ctx context.Context, c channels.Client) error {
		for _, admin := range admins {
			if err := c.SendMessage(ctx, admin, text); err != nil {
				b.logger.Warn("failed to notify admin", "admin", admin, "error", err)
			}
		}
		return nil
	})
}

func (b *Bot) stopTimer() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

func (b *Bot) shutdown() {
	b.stopTimer()
	b.teardownClient()
	b.ready.Store(false)

	waited := make(chan struct{})
	go func() {
		b.sends.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(drainTimeout):
		b.logger.Warn("timed out waiting for pending replies")
	}

	if err := b.store.Save(b.table); err != nil {
		b.logger.Error("failed to save responses on shutdown", "error", err)
	}
	b.logger.Info("bot stopped", "responses", b.table.Len())
}

// buildRegistry registers the built-in commands against the live table.
func (b *Bot) buildRegistry() (*commands.Registry, error) {
	learnAccess, err := commands.ParseAccessLevel(b.cfg.Access.LearnPolicy)
	if err != nil {
		return nil, err
	}
	registry := commands.NewRegistry(b.roster, commands.DenialPolicy(b.cfg.Access.DenialPolicy), b.logger)
	err = commands.RegisterBuiltins(registry, commands.Deps{
		Table:           b.table,
		Store:           b.store,
		Status:          b.status,
		LearnAccess:     learnAccess,
		SnapshotOnWrite: b.cfg.Data.SnapshotOnWrite,
		IntN:            b.intN,
		Now:             b.now,
		Logger:          b.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("registering commands: %w", err)
	}
	return registry, nil
}

// status runs on the dispatcher goroutine, inside command handlers.
func (b *Bot) status() commands.StatusInfo {
	return commands.StatusInfo{
		State:      b.state.Phase.String(),
		RetryCount: b.state.RetryCount,
		StartedAt:  b.startedAt,
	}
}

func (b *Bot) terminalQR(code string) {
	renderQR(os.Stdout, code, term.IsTerminal(int(os.Stdout.Fd())))
	b.logger.Info("scan the QR code with WhatsApp to link this device")
}

// renderQR draws code as half-block characters on terminals and prints the
// raw code otherwise, so it can be pasted into a generator.
func renderQR(w io.Writer, code string, tty bool) {
	if !tty {
		fmt.Fprintf(w, "QR code: %s\n", code)
		return
	}
	qrterminal.GenerateHalfBlock(code, qrterminal.L, w)
}
