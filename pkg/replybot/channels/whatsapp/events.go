// Package whatsapp – events.go converts whatsmeow events into channel
// events and builds outgoing messages.
package whatsapp

import (
	"fmt"
	"strings"

	"github.com/jholhewres/replybot/pkg/replybot/channels"

	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

// handleEvent is the whatsmeow event dispatcher.
func (w *WhatsApp) handleEvent(rawEvt interface{}) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic in event handler", "error", r)
			w.emit(channels.FaultEvent{Err: fmt.Errorf("event handler panic: %v", r)})
		}
	}()

	w.touch()

	switch evt := rawEvt.(type) {
	case *events.Message:
		w.handleMessageEvt(evt)

	case *events.Connected:
		w.connected.Store(true)
		w.logger.Info("connected", "jid", w.clientJID())
		w.emit(channels.ReadyEvent{})

	case *events.PairSuccess:
		w.logger.Info("device paired", "jid", evt.ID, "platform", evt.Platform)
		w.emit(channels.AuthenticatedEvent{ID: evt.ID.String()})

	case *events.Disconnected:
		w.connected.Store(false)
		w.logger.Warn("disconnected")
		w.emit(channels.DisconnectedEvent{Reason: "connection lost"})

	case *events.StreamReplaced:
		w.connected.Store(false)
		w.logger.Error("stream replaced - another client connected")
		w.emit(channels.DisconnectedEvent{Reason: "stream replaced"})

	case *events.LoggedOut:
		w.connected.Store(false)
		reason := evt.Reason.String()
		w.logger.Error("logged out", "reason", reason, "on_connect", evt.OnConnect)
		w.emit(channels.AuthFailureEvent{Reason: "logged out: " + reason})

	case *events.TemporaryBan:
		w.connected.Store(false)
		w.logger.Error("temporary ban", "code", evt.Code, "expire", evt.Expire)
		w.emit(channels.AuthFailureEvent{Reason: "temporary ban: " + evt.Code.String()})

	case *events.ConnectFailure:
		w.connected.Store(false)
		permanent := evt.PermanentDisconnectDescription()
		w.logger.Error("connect failure",
			"reason", evt.Reason.String(),
			"message", evt.Message,
			"permanent", permanent)
		if permanent != "" {
			w.emit(channels.AuthFailureEvent{Reason: permanent})
		} else {
			w.emit(channels.DisconnectedEvent{Reason: "connect failure: " + evt.Reason.String()})
		}

	case *events.KeepAliveTimeout:
		w.logger.Warn("keep-alive timeout", "error_count", evt.ErrorCount)

	case *events.KeepAliveRestored:
		w.logger.Info("keep-alive restored")
	}
}

// handleMessageEvt converts a text message. Non-text content is ignored.
func (w *WhatsApp) handleMessageEvt(evt *events.Message) {
	// The account owner's messages only count in the self-chat; anything
	// typed on the phone to other people is not addressed to the bot.
	selfChat := w.isSelfChat(evt.Info.Chat)
	if evt.Info.IsFromMe && !selfChat {
		return
	}

	text := extractText(evt.Message)
	if text == "" {
		return
	}

	// WhatsApp may address senders by LID instead of phone number. Resolve
	// to the phone JID so the admin roster matches.
	senderJID := evt.Info.Sender
	resolvedSender := senderJID.ToNonAD().String()
	if client, ctx := w.current(); senderJID.Server == types.HiddenUserServer && client != nil && client.Store != nil {
		if alt, err := client.Store.GetAltJID(ctx, senderJID); err == nil && !alt.IsEmpty() {
			resolvedSender = alt.ToNonAD().String()
			w.logger.Debug("resolved LID to phone", "lid", senderJID.String(), "phone", resolvedSender)
		}
	}

	chatJID := evt.Info.Chat
	msg := &channels.IncomingMessage{
		ID:          string(evt.Info.ID),
		Channel:     "whatsapp",
		From:        resolvedSender,
		FromName:    evt.Info.PushName,
		ChatID:      chatJID.String(),
		IsGroup:     evt.Info.IsGroup,
		IsBroadcast: chatJID.Server == types.BroadcastServer,
		IsStatus:    chatJID == types.StatusBroadcastJID,
		FromMe:      evt.Info.IsFromMe,
		SelfChat:    selfChat,
		Content:     text,
		Timestamp:   evt.Info.Timestamp,
		Metadata: map[string]any{
			"sender_jid": senderJID.String(),
			"chat_jid":   chatJID.String(),
		},
	}
	w.emit(channels.MessageEvent{Message: msg})
}

// isSelfChat reports whether chat is the account's own conversation, under
// either its phone JID or its LID.
func (w *WhatsApp) isSelfChat(chat types.JID) bool {
	client, _ := w.current()
	if client == nil || client.Store == nil {
		return false
	}
	return sameUser(chat, client.Store.ID, client.Store.LID)
}

// sameUser reports whether chat is a one-to-one chat with own, given as a
// phone JID (may be nil) or a LID.
func sameUser(chat types.JID, phone *types.JID, lid types.JID) bool {
	switch chat.Server {
	case types.DefaultUserServer:
		return phone != nil && chat.User == phone.User
	case types.HiddenUserServer:
		return !lid.IsEmpty() && chat.User == lid.User
	}
	return false
}

func (w *WhatsApp) clientJID() string {
	if client, _ := w.current(); client != nil && client.Store.ID != nil {
		return client.Store.ID.String()
	}
	return ""
}

// extractText returns the text body of plain and extended text messages.
func extractText(waMsg *waE2E.Message) string {
	if waMsg == nil {
		return ""
	}
	if waMsg.Conversation != nil {
		return waMsg.GetConversation()
	}
	if ext := waMsg.ExtendedTextMessage; ext != nil {
		return ext.GetText()
	}
	return ""
}

// buildTextMessage builds a plain conversation message.
func buildTextMessage(text string) *waE2E.Message {
	return &waE2E.Message{Conversation: proto.String(text)}
}

// buildReplyMessage builds a text message quoting the message it answers.
func buildReplyMessage(text, quotedID, quotedSender, quotedText string) *waE2E.Message {
	if quotedID == "" {
		return buildTextMessage(text)
	}
	ctxInfo := &waE2E.ContextInfo{
		StanzaID:      proto.String(quotedID),
		QuotedMessage: buildTextMessage(quotedText),
	}
	if quotedSender != "" {
		ctxInfo.Participant = proto.String(quotedSender)
	}
	return &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text:        proto.String(text),
			ContextInfo: ctxInfo,
		},
	}
}

// parseJID converts a string JID to types.JID.
// Accepts formats: "972501234567", "972501234567@s.whatsapp.net",
// "972501234567@c.us" or group IDs like "120363000000000000@g.us".
func parseJID(s string) (types.JID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.JID{}, fmt.Errorf("empty JID")
	}

	if user, server, ok := strings.Cut(s, "@"); ok {
		if server == "c.us" {
			return types.NewJID(user, types.DefaultUserServer), nil
		}
		return types.ParseJID(s)
	}

	// Bare phone number.
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)

	if len(digits) < 10 {
		return types.JID{}, fmt.Errorf("phone number too short: %s", s)
	}

	return types.NewJID(digits, types.DefaultUserServer), nil
}
