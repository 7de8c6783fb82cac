package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jholhewres/replybot/pkg/replybot/responses"
)

const (
	adminJID = "972501234567@s.whatsapp.net"
	userJID  = "972549999999@s.whatsapp.net"
)

type fakeStore struct {
	saves     int
	snapshots []int // table sizes at snapshot time
	saveErr   error
	snapErr   error
}

func (f *fakeStore) Save(*responses.Table) error { f.saves++; return f.saveErr }

func (f *fakeStore) Snapshot(t *responses.Table) (string, error) {
	f.snapshots = append(f.snapshots, t.Len())
	if f.snapErr != nil {
		return "", f.snapErr
	}
	return "snap", nil
}

type fixture struct {
	reg   *Registry
	table *responses.Table
	store *fakeStore
}

func newFixture(t *testing.T, learn AccessLevel, denial DenialPolicy) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	f := &fixture{table: responses.NewTable(), store: &fakeStore{}}
	f.reg = NewRegistry(NewRoster([]string{"972501234567"}), denial, logger)
	started := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	err := RegisterBuiltins(f.reg, Deps{
		Table:           f.table,
		Store:           f.store,
		LearnAccess:     learn,
		SnapshotOnWrite: true,
		IntN:            func(int) int { return 1 },
		Now:             func() time.Time { return started.Add(3*time.Hour + 7*time.Minute) },
		Status: func() StatusInfo {
			return StatusInfo{State: "ready", RetryCount: 2, StartedAt: started}
		},
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	return f
}

func (f *fixture) dispatch(t *testing.T, sender, body string) Outcome {
	t.Helper()
	out, err := f.reg.Dispatch(context.Background(), sender, body)
	if err != nil {
		t.Fatalf("Dispatch(%q): %v", body, err)
	}
	return out
}

func onlyReply(t *testing.T, out Outcome) string {
	t.Helper()
	if len(out.Result.Replies) != 1 {
		t.Fatalf("expected one reply, got %v", out.Result.Replies)
	}
	return out.Result.Replies[0]
}

func TestNormalizeID(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{"972501234567", "972501234567@s.whatsapp.net"},
		{"+972 50-123-4567", "972501234567@s.whatsapp.net"},
		{"972501234567@c.us", "972501234567@s.whatsapp.net"},
		{"972501234567:12@s.whatsapp.net", "972501234567@s.whatsapp.net"},
		{"123456789@lid", "123456789@lid"},
		{"120363000000000000@g.us", "120363000000000000@g.us"},
		{"   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := NormalizeID(tt.in); got != tt.want {
				t.Errorf("NormalizeID(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRegistryRegister(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(NewRoster(nil), DenyReply, nil)
	noop := func(context.Context, *Invocation) (Result, error) { return Result{}, nil }

	if err := reg.Register(&Command{Name: "a", Aliases: []Alias{{"x", LocaleEnglish}}, Handler: noop}); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(&Command{Name: "b", Aliases: []Alias{{"x", LocaleHebrew}}, Handler: noop}); err == nil {
		t.Error("expected duplicate keyword to fail")
	}
	if err := reg.Register(&Command{Name: "c", Aliases: []Alias{{"two words", LocaleEnglish}}, Handler: noop}); err == nil {
		t.Error("expected keyword with whitespace to fail")
	}
	if len(reg.Commands()) != 1 {
		t.Errorf("expected 1 command, got %d", len(reg.Commands()))
	}
}

func TestDispatchMatching(t *testing.T) {
	t.Parallel()
	f := newFixture(t, AccessAdmin, DenyReply)

	t.Run("unknown first token is not matched", func(t *testing.T) {
		if out := f.dispatch(t, adminJID, "hello world"); out.Matched {
			t.Errorf("expected no match, got %+v", out)
		}
	})

	t.Run("match is case-sensitive", func(t *testing.T) {
		if out := f.dispatch(t, adminJID, "HELP"); out.Matched {
			t.Error("HELP must not match help")
		}
	})

	t.Run("aliases share handler and pick locale", func(t *testing.T) {
		en := f.dispatch(t, userJID, "help")
		he := f.dispatch(t, userJID, "עזרה")
		if en.Command != "help" || he.Command != "help" {
			t.Fatalf("unexpected commands %q / %q", en.Command, he.Command)
		}
		if onlyReply(t, en) != MessagesFor(LocaleEnglish).Help || onlyReply(t, he) != MessagesFor(LocaleHebrew).Help {
			t.Error("help replies do not follow alias locale")
		}
	})
}

func TestLearnAndList(t *testing.T) {
	t.Parallel()

	t.Run("hebrew learn stores pair", func(t *testing.T) {
		f := newFixture(t, AccessAdmin, DenyReply)
		out := f.dispatch(t, adminJID, `למד "מה השעה" תגיב "אין לי שעון"`)
		if got := onlyReply(t, out); got != `למדתי: "מה השעה" -> "אין לי שעון"` {
			t.Errorf("unexpected confirmation %q", got)
		}
		if reply, ok := f.table.Lookup("מה השעה"); !ok || reply != "אין לי שעון" {
			t.Errorf("table lookup = %q, %v", reply, ok)
		}
		if f.store.saves != 1 || len(f.store.snapshots) != 1 {
			t.Errorf("expected 1 save and 1 snapshot, got %d / %d", f.store.saves, len(f.store.snapshots))
		}
	})

	t.Run("second learn overwrites", func(t *testing.T) {
		f := newFixture(t, AccessAdmin, DenyReply)
		f.dispatch(t, adminJID, `learn "hi" reply "one"`)
		f.dispatch(t, adminJID, `learn "hi" reply "two"`)
		if f.table.Len() != 1 {
			t.Errorf("expected 1 entry, got %d", f.table.Len())
		}
		if reply, _ := f.table.Lookup("hi"); reply != "two" {
			t.Errorf("expected latest reply, got %q", reply)
		}
	})

	t.Run("malformed learn replies usage and mutates nothing", func(t *testing.T) {
		f := newFixture(t, AccessAdmin, DenyReply)
		out := f.dispatch(t, adminJID, `learn "only one"`)
		if got := onlyReply(t, out); got != MessagesFor(LocaleEnglish).LearnUsage {
			t.Errorf("expected usage hint, got %q", got)
		}
		if f.table.Len() != 0 || f.store.saves != 0 {
			t.Error("malformed input must not touch the table")
		}
	})

	t.Run("list shows pairs in order", func(t *testing.T) {
		f := newFixture(t, AccessAdmin, DenyReply)
		f.dispatch(t, adminJID, `learn "שלום" reply "הי!"`)
		out := f.dispatch(t, adminJID, "רשימה")
		if got := onlyReply(t, out); got != `"שלום" -> "הי!"` {
			t.Errorf("unexpected list %q", got)
		}
	})

	t.Run("empty list uses placeholder", func(t *testing.T) {
		f := newFixture(t, AccessAdmin, DenyReply)
		if got := onlyReply(t, f.dispatch(t, adminJID, "list")); got != "No saved responses" {
			t.Errorf("unexpected empty list %q", got)
		}
		if got := onlyReply(t, f.dispatch(t, adminJID, "רשימה")); got != "אין תגובות שמורות" {
			t.Errorf("unexpected empty list %q", got)
		}
	})

	t.Run("open learn policy lets anyone teach", func(t *testing.T) {
		f := newFixture(t, AccessOpen, DenyReply)
		out := f.dispatch(t, userJID, `learn "a" reply "b"`)
		if out.Denied || f.table.Len() != 1 {
			t.Errorf("expected learn to succeed for non-admin, got %+v", out)
		}
	})

	t.Run("admin learn policy denies others", func(t *testing.T) {
		f := newFixture(t, AccessAdmin, DenyReply)
		out := f.dispatch(t, userJID, `learn "a" reply "b"`)
		if !out.Denied || f.table.Len() != 0 {
			t.Errorf("expected denial, got %+v", out)
		}
		if got := onlyReply(t, out); got != "Only admin can teach the bot" {
			t.Errorf("unexpected learn denial %q", got)
		}
	})

	t.Run("gated learn and list have their own denial texts", func(t *testing.T) {
		f := newFixture(t, AccessAdmin, DenyReply)
		if got := onlyReply(t, f.dispatch(t, userJID, `למד "a" תגיב "b"`)); got != "רק אדמין יכול ללמד את הבוט" {
			t.Errorf("unexpected hebrew learn denial %q", got)
		}
		if got := onlyReply(t, f.dispatch(t, userJID, "רשימה")); got != "רק אדמין יכול לראות את רשימת התגובות" {
			t.Errorf("unexpected hebrew list denial %q", got)
		}
		if got := onlyReply(t, f.dispatch(t, userJID, "list")); got != MessagesFor(LocaleEnglish).CommandDenied["list"] {
			t.Errorf("unexpected list denial %q", got)
		}
	})
}

func TestAdminCommands(t *testing.T) {
	t.Parallel()

	t.Run("non-admin status gets denial text", func(t *testing.T) {
		f := newFixture(t, AccessAdmin, DenyReply)
		f.table.Learn("a", "b")
		out := f.dispatch(t, userJID, "status")
		if got := onlyReply(t, out); got != "You do not have permission for this command" {
			t.Errorf("unexpected denial %q", got)
		}
		if !out.Denied || f.table.Len() != 1 {
			t.Error("denied command must not change state")
		}
	})

	t.Run("silent policy drops denial", func(t *testing.T) {
		f := newFixture(t, AccessAdmin, DenySilent)
		out := f.dispatch(t, userJID, "נקה")
		if !out.Denied || len(out.Result.Replies) != 0 {
			t.Errorf("expected silent denial, got %+v", out)
		}
	})

	t.Run("status reports state", func(t *testing.T) {
		f := newFixture(t, AccessAdmin, DenyReply)
		f.table.Learn("a", "b")
		got := onlyReply(t, f.dispatch(t, adminJID, "status"))
		for _, want := range []string{"Connection Status: Connected", "Uptime: 3h 07m", "Learned Responses: 1", "Memory Usage:", "Reconnect Attempts: 2"} {
			if !strings.Contains(got, want) {
				t.Errorf("status missing %q:\n%s", want, got)
			}
		}
	})

	t.Run("clear then list is empty", func(t *testing.T) {
		f := newFixture(t, AccessAdmin, DenyReply)
		f.dispatch(t, adminJID, `learn "a" reply "b"`)
		f.dispatch(t, adminJID, "clear")
		if got := onlyReply(t, f.dispatch(t, adminJID, "list")); got != "No saved responses" {
			t.Errorf("expected empty placeholder, got %q", got)
		}
		// Second snapshot is the pre-clear table with one entry.
		if len(f.store.snapshots) != 2 || f.store.snapshots[1] != 1 {
			t.Errorf("expected pre-clear snapshot, got %v", f.store.snapshots)
		}
	})

	t.Run("export sends notice then json", func(t *testing.T) {
		f := newFixture(t, AccessAdmin, DenyReply)
		f.table.Learn("b", "2")
		f.table.Learn("a", "1")
		out := f.dispatch(t, adminJID, "export")
		if len(out.Result.Replies) != 2 {
			t.Fatalf("expected 2 replies, got %v", out.Result.Replies)
		}
		var decoded map[string]string
		if err := json.Unmarshal([]byte(out.Result.Replies[1]), &decoded); err != nil {
			t.Fatalf("export is not JSON: %v", err)
		}
		if decoded["a"] != "1" || decoded["b"] != "2" {
			t.Errorf("unexpected export %v", decoded)
		}
		if strings.Index(out.Result.Replies[1], `"b"`) > strings.Index(out.Result.Replies[1], `"a"`) {
			t.Error("export must keep insertion order")
		}
	})
}

func TestGreet(t *testing.T) {
	t.Parallel()
	f := newFixture(t, AccessAdmin, DenyReply)
	got := onlyReply(t, f.dispatch(t, userJID, "greet"))
	if got != MessagesFor(LocaleEnglish).Greetings[1] {
		t.Errorf("expected greeting at index 1, got %q", got)
	}
}

func TestDispatchHandlerError(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(NewRoster(nil), DenyReply, nil)
	boom := errors.New("boom")
	reg.Register(&Command{
		Name:    "fail",
		Aliases: []Alias{{"fail", LocaleHebrew}},
		Handler: func(context.Context, *Invocation) (Result, error) { return Result{}, boom },
	})

	out, err := reg.Dispatch(context.Background(), userJID, "fail now")
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped handler error, got %v", err)
	}
	if !out.Matched || out.Locale != LocaleHebrew {
		t.Errorf("outcome should still describe the command, got %+v", out)
	}
}

func TestClearLogsPersistenceFailures(t *testing.T) {
	t.Parallel()
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn}))
	table := responses.TableFromPairs(responses.Pair{Trigger: "a", Reply: "b"})
	store := &fakeStore{saveErr: errors.New("disk full"), snapErr: errors.New("no space")}
	reg := NewRegistry(NewRoster([]string{"972501234567"}), DenyReply, logger)
	if err := RegisterBuiltins(reg, Deps{
		Table:           table,
		Store:           store,
		LearnAccess:     AccessAdmin,
		SnapshotOnWrite: true,
		Logger:          logger,
	}); err != nil {
		t.Fatal(err)
	}

	out, err := reg.Dispatch(context.Background(), adminJID, "clear")
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Result.Replies) != 1 || out.Result.Replies[0] != MessagesFor(LocaleEnglish).Cleared {
		t.Errorf("clear should still confirm, got %v", out.Result.Replies)
	}
	if table.Len() != 0 {
		t.Error("table not cleared in memory")
	}
	for _, want := range []string{"no snapshot taken before clear", "no space", "cleared table kept in memory only", "disk full"} {
		if !strings.Contains(logs.String(), want) {
			t.Errorf("log missing %q:\n%s", want, logs.String())
		}
	}
}
