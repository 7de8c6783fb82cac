// Package session implements the connection lifecycle as a pure state
// machine. Step never performs I/O: it returns the next state and the
// effects the caller must execute (render a QR code, arm a reconnect timer,
// rebuild the client, exit).
//
// Phases move Disconnected -> Connecting -> Ready. Any disconnect, auth
// failure, init failure or fault drops back to Disconnected and runs the
// reconnect procedure, which backs off linearly and gives up after
// MaxRetries attempts.
package session

import (
	"errors"
	"fmt"
	"time"
)

// ErrRetriesExhausted is reported when the reconnect budget is spent.
var ErrRetriesExhausted = errors.New("reconnect attempts exhausted")

// Phase is the connection phase.
type Phase int

const (
	Disconnected Phase = iota
	Connecting
	Ready
)

// String returns "disconnected", "connecting" or "ready".
func (p Phase) String() string {
	switch p {
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	default:
		return "disconnected"
	}
}

// FaultPolicy decides whether a fault while Ready triggers a reconnect.
type FaultPolicy string

const (
	// FaultAlways reconnects on every fault.
	FaultAlways FaultPolicy = "always"
	// FaultWhenNotReady logs faults while Ready and reconnects otherwise.
	FaultWhenNotReady FaultPolicy = "when_not_ready"
)

// Config holds the tunables of the machine.
type Config struct {
	MaxRetries    int
	BaseDelay     time.Duration
	QRCooldown    time.Duration
	FaultPolicy   FaultPolicy
	NotifyOnReady bool
}

// DefaultConfig returns 5 retries, 5s linear backoff and a 60s QR cooldown.
func DefaultConfig() Config {
	return Config{
		MaxRetries:  5,
		BaseDelay:   5 * time.Second,
		QRCooldown:  60 * time.Second,
		FaultPolicy: FaultWhenNotReady,
	}
}

// State is the full machine state. The zero value is a fresh Disconnected
// machine.
type State struct {
	Phase      Phase
	RetryCount int
	// LastQRAt is when a QR code was last rendered.
	LastQRAt time.Time
	// PendingAttempt is the attempt number of the armed backoff timer, 0 if
	// none is armed.
	PendingAttempt int
	// Terminal is set once the retry budget is spent. It absorbs every
	// later event.
	Terminal bool
}

// ── Events ──

// Event is an input to Step.
type Event interface{ event() }

// Start requests the first connection.
type Start struct{}

// QR carries a pairing code issued by the client.
type QR struct {
	Code string
	At   time.Time
}

// ReadyEvent reports that the session can send and receive.
type ReadyEvent struct{}

// Authenticated reports a successful login. Informational.
type Authenticated struct{}

// Disconnect reports that the transport dropped.
type Disconnect struct{ Reason string }

// AuthFailure reports that the session was rejected or logged out.
type AuthFailure struct{ Reason string }

// InitFailed reports that building or initializing a client failed.
type InitFailed struct{ Err error }

// Fault reports an unexpected error at the process boundary.
type Fault struct{ Err error }

// TimerFired reports that the backoff timer of Attempt elapsed.
type TimerFired struct{ Attempt int }

func (Start) event()         {}
func (QR) event()            {}
func (ReadyEvent) event()    {}
func (Authenticated) event() {}
func (Disconnect) event()    {}
func (AuthFailure) event()   {}
func (InitFailed) event()    {}
func (Fault) event()         {}
func (TimerFired) event()    {}

// ── Effects ──

// Effect is an action the caller must execute.
type Effect interface{ effect() }

// RenderQR displays a pairing code.
type RenderQR struct{ Code string }

// ScheduleReconnect arms a timer that feeds TimerFired{Attempt} after Delay.
type ScheduleReconnect struct {
	Attempt int
	Delay   time.Duration
}

// CancelReconnect stops the armed backoff timer, if any.
type CancelReconnect struct{}

// Rebuild tears down the current client, builds a fresh one and
// initializes it. Attempt is 0 for the initial connection.
type Rebuild struct{ Attempt int }

// NotifyAdmins tells the admin roster the bot is online.
type NotifyAdmins struct{}

// Exit terminates the process.
type Exit struct {
	Code int
	Err  error
}

func (RenderQR) effect()          {}
func (ScheduleReconnect) effect() {}
func (CancelReconnect) effect()   {}
func (Rebuild) effect()           {}
func (NotifyAdmins) effect()      {}
func (Exit) effect()              {}

// Machine is the transition function bound to a Config.
type Machine struct {
	cfg Config
}

// NewMachine creates a machine. Zero fields of cfg take DefaultConfig values.
func NewMachine(cfg Config) *Machine {
	def := DefaultConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.QRCooldown <= 0 {
		cfg.QRCooldown = def.QRCooldown
	}
	if cfg.FaultPolicy == "" {
		cfg.FaultPolicy = def.FaultPolicy
	}
	return &Machine{cfg: cfg}
}

// Config returns the effective configuration.
func (m *Machine) Config() Config { return m.cfg }

// Step applies one event.
func (m *Machine) Step(s State, ev Event) (State, []Effect) {
	if s.Terminal {
		return s, nil
	}

	switch e := ev.(type) {
	case Start:
		if s.Phase != Disconnected || s.PendingAttempt != 0 {
			return s, nil
		}
		s.Phase = Connecting
		return s, []Effect{Rebuild{Attempt: 0}}

	case QR:
		if !s.LastQRAt.IsZero() && e.At.Sub(s.LastQRAt) <= m.cfg.QRCooldown {
			return s, nil
		}
		s.LastQRAt = e.At
		return s, []Effect{RenderQR{Code: e.Code}}

	case ReadyEvent:
		var effects []Effect
		if s.PendingAttempt != 0 {
			effects = append(effects, CancelReconnect{})
		}
		s.Phase = Ready
		s.RetryCount = 0
		s.PendingAttempt = 0
		if m.cfg.NotifyOnReady {
			effects = append(effects, NotifyAdmins{})
		}
		return s, effects

	case Authenticated:
		return s, nil

	case Disconnect, AuthFailure, InitFailed:
		return m.reconnect(s)

	case Fault:
		if s.Phase == Ready && m.cfg.FaultPolicy == FaultWhenNotReady {
			return s, nil
		}
		return m.reconnect(s)

	case TimerFired:
		if e.Attempt == 0 || e.Attempt != s.PendingAttempt || s.Phase == Ready {
			return s, nil
		}
		s.PendingAttempt = 0
		s.Phase = Connecting
		return s, []Effect{Rebuild{Attempt: e.Attempt}}
	}
	return s, nil
}

// reconnect drops to Disconnected and arms the next backoff timer, or goes
// terminal when the budget is spent.
func (m *Machine) reconnect(s State) (State, []Effect) {
	s.Phase = Disconnected
	if s.PendingAttempt != 0 {
		return s, nil
	}
	if s.RetryCount >= m.cfg.MaxRetries {
		s.Terminal = true
		return s, []Effect{Exit{
			Code: 1,
			Err:  fmt.Errorf("%w after %d attempts", ErrRetriesExhausted, s.RetryCount),
		}}
	}
	s.RetryCount++
	s.PendingAttempt = s.RetryCount
	return s, []Effect{ScheduleReconnect{
		Attempt: s.RetryCount,
		Delay:   time.Duration(s.RetryCount) * m.cfg.BaseDelay,
	}}
}
