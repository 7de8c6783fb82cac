package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime"
	"strings"
	"time"

	"github.com/jholhewres/replybot/pkg/replybot/responses"
)

// Persister is the subset of responses.Store the handlers use.
type Persister interface {
	Save(t *responses.Table) error
	Snapshot(t *responses.Table) (string, error)
}

// StatusInfo is the runtime state reported by the status command.
type StatusInfo struct {
	// State is "ready", "connecting" or "disconnected".
	State      string
	RetryCount int
	StartedAt  time.Time
}

// StatusFunc reports the current runtime state.
type StatusFunc func() StatusInfo

// Deps are the collaborators of the built-in commands.
type Deps struct {
	Table  *responses.Table
	Store  Persister
	Status StatusFunc

	// LearnAccess gates learn and list. Admin-only unless configured open.
	LearnAccess AccessLevel

	// SnapshotOnWrite snapshots the table after every mutation.
	SnapshotOnWrite bool

	// IntN returns a pseudo-random int in [0, n). Defaults to math/rand/v2.
	IntN func(n int) int

	// Now defaults to time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

type builtins struct {
	Deps
	logger *slog.Logger
}

// RegisterBuiltins registers learn, list, help, greet, status, clear and
// export in that order.
func RegisterBuiltins(r *Registry, deps Deps) error {
	if deps.Table == nil || deps.Store == nil {
		return errors.New("builtins need a table and a store")
	}
	if deps.IntN == nil {
		deps.IntN = rand.IntN
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Status == nil {
		started := deps.Now()
		deps.Status = func() StatusInfo { return StatusInfo{State: "disconnected", StartedAt: started} }
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	b := &builtins{Deps: deps, logger: logger.With("component", "commands")}

	cmds := []*Command{
		{
			Name:    "learn",
			Aliases: []Alias{{"למד", LocaleHebrew}, {"learn", LocaleEnglish}},
			Access:  deps.LearnAccess,
			Handler: b.learn,
		},
		{
			Name:    "list",
			Aliases: []Alias{{"רשימה", LocaleHebrew}, {"list", LocaleEnglish}},
			Access:  deps.LearnAccess,
			Handler: b.list,
		},
		{
			Name:    "help",
			Aliases: []Alias{{"עזרה", LocaleHebrew}, {"help", LocaleEnglish}},
			Access:  AccessOpen,
			Handler: b.help,
		},
		{
			Name:    "greet",
			Aliases: []Alias{{"ברכה", LocaleHebrew}, {"greet", LocaleEnglish}},
			Access:  AccessOpen,
			Handler: b.greet,
		},
		{
			Name:    "status",
			Aliases: []Alias{{"סטטוס", LocaleHebrew}, {"status", LocaleEnglish}},
			Access:  AccessAdmin,
			Handler: b.status,
		},
		{
			Name:    "clear",
			Aliases: []Alias{{"נקה", LocaleHebrew}, {"clear", LocaleEnglish}},
			Access:  AccessAdmin,
			Handler: b.clear,
		},
		{
			Name:    "export",
			Aliases: []Alias{{"יצא", LocaleHebrew}, {"export", LocaleEnglish}},
			Access:  AccessAdmin,
			Handler: b.export,
		},
	}
	for _, c := range cmds {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (b *builtins) learn(_ context.Context, inv *Invocation) (Result, error) {
	msgs := inv.Messages()

	trigger, reply, err := responses.ParseLearn(inv.Body)
	if err != nil {
		return Reply(msgs.LearnUsage), nil
	}
	if err := b.Table.Learn(trigger, reply); err != nil {
		return Reply(msgs.LearnUsage), nil
	}
	b.logger.Info("learned response", "trigger", trigger, "by", inv.Sender, "count", b.Table.Len())

	b.persist(b.Table)
	return Reply(fmt.Sprintf(msgs.LearnedFmt, responses.FormatPair(trigger, reply))), nil
}

func (b *builtins) list(_ context.Context, inv *Invocation) (Result, error) {
	if b.Table.Len() == 0 {
		return Reply(inv.Messages().ListEmpty), nil
	}
	return Reply(b.Table.Format()), nil
}

func (b *builtins) help(_ context.Context, inv *Invocation) (Result, error) {
	return Reply(inv.Messages().Help), nil
}

func (b *builtins) greet(_ context.Context, inv *Invocation) (Result, error) {
	greetings := inv.Messages().Greetings
	return Reply(greetings[b.IntN(len(greetings))]), nil
}

func (b *builtins) status(_ context.Context, inv *Invocation) (Result, error) {
	msgs := inv.Messages()
	labels := msgs.StatusLabels
	info := b.Status()

	state, ok := labels.States[info.State]
	if !ok {
		state = info.State
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	var sb strings.Builder
	sb.WriteString(msgs.StatusTitle + "\n")
	fmt.Fprintf(&sb, "%s: %s\n", labels.Connection, state)
	fmt.Fprintf(&sb, "%s: %s\n", labels.Uptime, formatUptime(b.Now().Sub(info.StartedAt)))
	fmt.Fprintf(&sb, "%s: %d\n", labels.Learned, b.Table.Len())
	fmt.Fprintf(&sb, "%s: %dMB\n", labels.Memory, mem.HeapAlloc/1024/1024)
	fmt.Fprintf(&sb, "%s: %d", labels.Retries, info.RetryCount)
	return Reply(sb.String()), nil
}

func (b *builtins) clear(_ context.Context, inv *Invocation) (Result, error) {
	// Snapshot what is about to be lost; a snapshot of the empty table
	// would not help anyone recover.
	if b.SnapshotOnWrite && b.Table.Len() > 0 {
		if _, err := b.Store.Snapshot(b.Table); err != nil {
			b.logger.Warn("no snapshot taken before clear", "error", err)
		}
	}
	removed := b.Table.Len()
	b.Table.Clear()
	b.logger.Warn("learned responses cleared", "by", inv.Sender, "removed", removed)

	if err := b.Store.Save(b.Table); err != nil {
		b.logger.Warn("cleared table kept in memory only", "error", err)
	}
	return Reply(inv.Messages().Cleared), nil
}

func (b *builtins) export(_ context.Context, inv *Invocation) (Result, error) {
	data, err := b.Table.MarshalIndented()
	if err != nil {
		return Result{}, err
	}
	return Result{Replies: []string{inv.Messages().Exporting, string(data)}}, nil
}

// persist saves and, if configured, snapshots the table. Failures are
// logged by the store; the in-memory table stays authoritative.
func (b *builtins) persist(t *responses.Table) {
	if err := b.Store.Save(t); err != nil {
		b.logger.Warn("learned response kept in memory only", "error", err)
	}
	if b.SnapshotOnWrite {
		if _, err := b.Store.Snapshot(t); err != nil {
			b.logger.Warn("snapshot after write failed", "error", err)
		}
	}
}

func formatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %02dm", h, m)
}
