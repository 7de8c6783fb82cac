// Package channels defines the messaging-client abstraction ReplyBot talks
// to. A Client is one connection attempt: the bot builds a fresh Client for
// every (re)connect, initializes it, and destroys it on teardown. Clients
// report what happens to them by calling the Sink they were built with.
package channels

import (
	"context"
	"errors"
	"time"
)

// Client is a single messaging-client instance.
type Client interface {
	// Name returns the channel identifier (e.g. "whatsapp", "console").
	Name() string

	// Initialize starts the connection. It returns once the attempt is
	// under way; readiness is reported later through the Sink.
	Initialize(ctx context.Context) error

	// Destroy tears the client down. No events are emitted afterwards.
	Destroy() error

	// Reply answers msg in its chat, quoting it where the platform can.
	Reply(ctx context.Context, msg *IncomingMessage, text string) error

	// SendMessage sends text to a recipient identifier.
	SendMessage(ctx context.Context, to, text string) error
}

// Sink receives client events. It must not block.
type Sink func(Event)

// Factory builds a new Client that reports to sink.
type Factory func(sink Sink) (Client, error)

// Event is something a client reports.
type Event interface{ clientEvent() }

// QREvent carries a pairing code to display.
type QREvent struct{ Code string }

// ReadyEvent reports that the session can send and receive.
type ReadyEvent struct{}

// AuthenticatedEvent reports a successful pairing or login.
type AuthenticatedEvent struct{ ID string }

// DisconnectedEvent reports that the connection dropped.
type DisconnectedEvent struct{ Reason string }

// AuthFailureEvent reports that the session was rejected.
type AuthFailureEvent struct{ Reason string }

// MessageEvent carries an inbound message.
type MessageEvent struct{ Message *IncomingMessage }

// FaultEvent reports an unexpected failure inside the client, such as a
// recovered panic in a callback.
type FaultEvent struct{ Err error }

func (QREvent) clientEvent()            {}
func (ReadyEvent) clientEvent()         {}
func (AuthenticatedEvent) clientEvent() {}
func (DisconnectedEvent) clientEvent()  {}
func (AuthFailureEvent) clientEvent()   {}
func (MessageEvent) clientEvent()       {}
func (FaultEvent) clientEvent()         {}

// IncomingMessage represents a text message received from any channel.
type IncomingMessage struct {
	// ID is the unique message identifier in the source channel.
	ID string

	// Channel identifies the source channel (e.g. "whatsapp").
	Channel string

	// From is the sender identifier, resolved to a phone JID when possible.
	From string

	// FromName is the sender display name (if available).
	FromName string

	// ChatID is the conversation identifier.
	ChatID string

	// IsGroup is true for group chats.
	IsGroup bool

	// IsBroadcast is true for broadcast lists and channels.
	IsBroadcast bool

	// IsStatus is true for status updates.
	IsStatus bool

	// FromMe is true when the bot's own account sent the message.
	FromMe bool

	// SelfChat is true when the chat is the account's own conversation
	// ("message yourself"). Own messages elsewhere never reach the bot.
	SelfChat bool

	// Content is the text of the message.
	Content string

	// Timestamp is when the message was sent.
	Timestamp time.Time

	// Metadata holds channel-specific data the channel needs to reply.
	Metadata map[string]any
}

// Errors.
var (
	ErrChannelDisconnected = errors.New("channel is not connected")
	ErrSendFailed          = errors.New("failed to send message")
)
