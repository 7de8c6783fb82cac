package scheduler

import (
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"@hourly", "@hourly", false},
		{"@every 30m", "@every 30m", false},
		{"0 * * * *", "0 * * * *", false},
		{"hourly", "@hourly", false},
		{"Daily", "@daily", false},
		{"every 15 minutes", "@every 15m", false},
		{"every 2 days", "@every 48h", false},
		{"every hour", "@every 1h", false},
		{"every day", "@every 24h", false},
		{"daily at 03:30", "30 3 * * *", false},
		{"daily at 3pm", "0 15 * * *", false},
		{"daily at 12am", "0 0 * * *", false},

		{"", "", true},
		{"every 0 minutes", "", true},
		{"daily at 25:00", "", true},
		{"whenever", "", true},
		{"* * *", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSchedule(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseSchedule(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestAddRemove(t *testing.T) {
	t.Parallel()
	s := New(testLogger())

	if err := s.Add("snapshot", "@hourly", func() {}); err != nil {
		t.Fatal(err)
	}
	if err := s.Add("snapshot", "@daily", func() {}); err == nil {
		t.Error("expected duplicate name to fail")
	}
	if err := s.Add("bad", "not a schedule", func() {}); err == nil {
		t.Error("expected invalid schedule to fail")
	}
	if got := s.Jobs(); len(got) != 1 || got[0] != "snapshot" {
		t.Errorf("unexpected jobs %v", got)
	}

	if err := s.Remove("snapshot"); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove("snapshot"); err == nil {
		t.Error("expected removing a missing job to fail")
	}
	if _, ok := s.Next("snapshot"); ok {
		t.Error("removed job should have no next run")
	}
}

func TestNextAfterStart(t *testing.T) {
	t.Parallel()
	s := New(testLogger())
	if err := s.Add("snapshot", "@hourly", func() {}); err != nil {
		t.Fatal(err)
	}
	s.Start()
	defer s.Stop()

	next, ok := s.Next("snapshot")
	if !ok || next.IsZero() {
		t.Fatalf("expected a next run time, got %v %v", next, ok)
	}
	if next.Minute() != 0 || next.Sub(time.Now()) > time.Hour {
		t.Errorf("hourly job scheduled at %v", next)
	}
}

func TestExecuteSkipsOverlapAndRecovers(t *testing.T) {
	t.Parallel()
	s := New(testLogger())

	var calls atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{})
	go s.execute("slow", func() {
		calls.Add(1)
		close(started)
		<-release
	})
	<-started

	// Overlapping tick is skipped.
	s.execute("slow", func() { calls.Add(1) })
	close(release)

	// Wait for the first run to clear its running flag.
	deadline := time.Now().Add(2 * time.Second)
	for {
		s.mu.Lock()
		busy := s.running["slow"]
		s.mu.Unlock()
		if !busy {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("running flag was not cleared")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}

	// A panicking job does not escape execute.
	s.execute("boom", func() { panic("bad job") })
	s.execute("boom", func() { calls.Add(1) })
	if calls.Load() != 2 {
		t.Errorf("job should run again after a panic, got %d calls", calls.Load())
	}
}
