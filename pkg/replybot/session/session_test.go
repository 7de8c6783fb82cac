package session

import (
	"errors"
	"testing"
	"time"
)

func run(m *Machine, s State, events ...Event) (State, []Effect) {
	var all []Effect
	for _, ev := range events {
		var effects []Effect
		s, effects = m.Step(s, ev)
		all = append(all, effects...)
	}
	return s, all
}

func TestStartRebuilds(t *testing.T) {
	t.Parallel()
	m := NewMachine(Config{})
	s, effects := m.Step(State{}, Start{})
	if s.Phase != Connecting {
		t.Errorf("expected connecting, got %s", s.Phase)
	}
	if len(effects) != 1 || effects[0] != (Rebuild{Attempt: 0}) {
		t.Errorf("unexpected effects %v", effects)
	}

	// A second Start while connecting does nothing.
	if _, effects := m.Step(s, Start{}); len(effects) != 0 {
		t.Errorf("duplicate start produced %v", effects)
	}
}

func TestQRCooldown(t *testing.T) {
	t.Parallel()
	m := NewMachine(Config{QRCooldown: time.Minute})
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	s, effects := m.Step(State{}, QR{Code: "a", At: t0})
	if len(effects) != 1 || effects[0] != (RenderQR{Code: "a"}) {
		t.Fatalf("first QR must render, got %v", effects)
	}
	s, effects = m.Step(s, QR{Code: "b", At: t0.Add(20 * time.Second)})
	if len(effects) != 0 {
		t.Errorf("QR inside cooldown must be suppressed, got %v", effects)
	}
	if !s.LastQRAt.Equal(t0) {
		t.Error("suppressed QR must not move the cooldown window")
	}
	_, effects = m.Step(s, QR{Code: "c", At: t0.Add(61 * time.Second)})
	if len(effects) != 1 {
		t.Errorf("QR after cooldown must render, got %v", effects)
	}
}

func TestLinearBackoff(t *testing.T) {
	t.Parallel()
	m := NewMachine(Config{MaxRetries: 5, BaseDelay: 5 * time.Second})
	s := State{Phase: Ready}

	for attempt := 1; attempt <= 5; attempt++ {
		var effects []Effect
		s, effects = m.Step(s, Disconnect{Reason: "stream closed"})
		want := ScheduleReconnect{Attempt: attempt, Delay: time.Duration(attempt) * 5 * time.Second}
		if len(effects) != 1 || effects[0] != want {
			t.Fatalf("attempt %d: want %v, got %v", attempt, want, effects)
		}
		if s.Phase != Disconnected || s.RetryCount != attempt {
			t.Fatalf("attempt %d: unexpected state %+v", attempt, s)
		}
		s, effects = m.Step(s, TimerFired{Attempt: attempt})
		if len(effects) != 1 || effects[0] != (Rebuild{Attempt: attempt}) {
			t.Fatalf("attempt %d: timer should rebuild, got %v", attempt, effects)
		}
		if s.Phase != Connecting {
			t.Fatalf("attempt %d: expected connecting, got %s", attempt, s.Phase)
		}
	}
}

func TestExhaustionExitsExactlyOnce(t *testing.T) {
	t.Parallel()
	m := NewMachine(Config{MaxRetries: 5, BaseDelay: time.Second})

	var s State
	var exits int
	var exitErr error
	for i := 0; i < 12; i++ {
		var effects []Effect
		s, effects = m.Step(s, Disconnect{})
		for _, eff := range effects {
			switch e := eff.(type) {
			case Exit:
				exits++
				exitErr = e.Err
				if e.Code != 1 {
					t.Errorf("exit code = %d, want 1", e.Code)
				}
			case ScheduleReconnect:
				s, _ = m.Step(s, TimerFired{Attempt: e.Attempt})
			}
		}
		if s.RetryCount > 5 {
			t.Fatalf("retry count exceeded budget: %d", s.RetryCount)
		}
	}
	if exits != 1 {
		t.Fatalf("expected exactly one exit, got %d", exits)
	}
	if !errors.Is(exitErr, ErrRetriesExhausted) {
		t.Errorf("exit error = %v", exitErr)
	}
	if !s.Terminal {
		t.Error("machine must be terminal")
	}

	// Terminal absorbs everything.
	for _, ev := range []Event{ReadyEvent{}, Start{}, TimerFired{Attempt: 5}, QR{Code: "x", At: time.Now()}} {
		if next, effects := m.Step(s, ev); len(effects) != 0 || next != s {
			t.Errorf("terminal state reacted to %T: %v", ev, effects)
		}
	}
}

func TestReadyResetsAndInvalidatesTimer(t *testing.T) {
	t.Parallel()
	m := NewMachine(Config{NotifyOnReady: true})

	s, _ := run(m, State{}, Start{}, Disconnect{}, TimerFired{Attempt: 1}, Disconnect{})
	if s.RetryCount != 2 || s.PendingAttempt != 2 {
		t.Fatalf("unexpected state %+v", s)
	}

	s, effects := m.Step(s, ReadyEvent{})
	if s.Phase != Ready || s.RetryCount != 0 || s.PendingAttempt != 0 {
		t.Errorf("ready did not reset: %+v", s)
	}
	if len(effects) != 2 || effects[0] != (CancelReconnect{}) || effects[1] != (NotifyAdmins{}) {
		t.Errorf("unexpected effects %v", effects)
	}

	// The superseded timer fires late and must be a no-op.
	if next, effects := m.Step(s, TimerFired{Attempt: 2}); len(effects) != 0 || next.Phase != Ready {
		t.Errorf("stale timer acted: %v %+v", effects, next)
	}
}

func TestDuplicateFailuresAreAbsorbed(t *testing.T) {
	t.Parallel()
	m := NewMachine(Config{})

	s, effects := run(m, State{Phase: Ready}, Disconnect{}, AuthFailure{Reason: "logged out"}, Fault{Err: errors.New("x")})
	if len(effects) != 1 {
		t.Fatalf("expected one scheduled reconnect, got %v", effects)
	}
	if s.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", s.RetryCount)
	}
}

func TestStaleTimerAttempt(t *testing.T) {
	t.Parallel()
	m := NewMachine(Config{})
	s, _ := run(m, State{}, Disconnect{})
	if _, effects := m.Step(s, TimerFired{Attempt: 7}); len(effects) != 0 {
		t.Errorf("timer with wrong attempt acted: %v", effects)
	}
}

func TestInitFailureReentersReconnect(t *testing.T) {
	t.Parallel()
	m := NewMachine(Config{BaseDelay: 5 * time.Second})

	s, _ := run(m, State{}, Start{})
	s, effects := m.Step(s, InitFailed{Err: errors.New("dial failed")})
	want := ScheduleReconnect{Attempt: 1, Delay: 5 * time.Second}
	if len(effects) != 1 || effects[0] != want {
		t.Errorf("want %v, got %v", want, effects)
	}
	if s.Phase != Disconnected {
		t.Errorf("expected disconnected, got %s", s.Phase)
	}
}

func TestFaultPolicy(t *testing.T) {
	t.Parallel()
	fault := Fault{Err: errors.New("panic in handler")}

	t.Run("when_not_ready ignores fault while ready", func(t *testing.T) {
		m := NewMachine(Config{FaultPolicy: FaultWhenNotReady})
		s, effects := m.Step(State{Phase: Ready}, fault)
		if len(effects) != 0 || s.Phase != Ready {
			t.Errorf("fault while ready should be logged only, got %v", effects)
		}
	})

	t.Run("when_not_ready reconnects while connecting", func(t *testing.T) {
		m := NewMachine(Config{FaultPolicy: FaultWhenNotReady})
		if _, effects := m.Step(State{Phase: Connecting}, fault); len(effects) != 1 {
			t.Errorf("expected reconnect, got %v", effects)
		}
	})

	t.Run("always reconnects", func(t *testing.T) {
		m := NewMachine(Config{FaultPolicy: FaultAlways})
		s, effects := m.Step(State{Phase: Ready}, fault)
		if len(effects) != 1 || s.Phase != Disconnected {
			t.Errorf("expected reconnect, got %v", effects)
		}
	})
}

func TestAuthenticatedIsInformational(t *testing.T) {
	t.Parallel()
	m := NewMachine(Config{})
	in := State{Phase: Connecting, RetryCount: 2}
	if out, effects := m.Step(in, Authenticated{}); out != in || len(effects) != 0 {
		t.Errorf("authenticated changed state: %+v %v", out, effects)
	}
}
