// Package router decides what, if anything, to answer to one inbound
// message. It is stateless across messages: each call classifies the
// message, then tries the command registry and the learned-response table
// in the configured order.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/jholhewres/replybot/pkg/replybot/channels"
	"github.com/jholhewres/replybot/pkg/replybot/commands"
	"github.com/jholhewres/replybot/pkg/replybot/responses"
)

// Precedence orders command dispatch against the learned lookup.
type Precedence string

const (
	// PrecedenceCommands tries commands before learned responses.
	PrecedenceCommands Precedence = "commands"
	// PrecedenceResponses tries learned responses before commands.
	PrecedenceResponses Precedence = "responses"
)

// ParsePrecedence validates a config value. Empty means commands.
func ParsePrecedence(s string) (Precedence, error) {
	switch Precedence(s) {
	case "", PrecedenceCommands:
		return PrecedenceCommands, nil
	case PrecedenceResponses:
		return PrecedenceResponses, nil
	default:
		return "", fmt.Errorf("unknown precedence %q (want commands or responses)", s)
	}
}

// Config controls routing.
type Config struct {
	Precedence   Precedence
	IgnoreGroups bool
	EchoSelf     bool
	EchoPrefix   string
	// Locale is used for failure replies when the command locale is unknown.
	Locale commands.Locale
}

// Route is how a message was handled.
type Route string

const (
	RouteDropped  Route = "dropped"
	RouteResponse Route = "response"
	RouteCommand  Route = "command"
	RouteEcho     Route = "echo"
	RouteNone     Route = "none"
	RouteFailure  Route = "failure"
)

// Result is the routing decision for one message.
type Result struct {
	Route   Route
	Replies []string
	// Command is the canonical name of the matched command, if any.
	Command string
	Denied  bool
	// Trace identifies the message in logs.
	Trace string
	Err   error
}

// Router routes inbound messages.
type Router struct {
	cfg      Config
	table    *responses.Table
	registry *commands.Registry
	logger   *slog.Logger
}

// New creates a router.
func New(cfg Config, table *responses.Table, registry *commands.Registry, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Precedence == "" {
		cfg.Precedence = PrecedenceCommands
	}
	if cfg.Locale == "" {
		cfg.Locale = commands.LocaleHebrew
	}
	return &Router{
		cfg:      cfg,
		table:    table,
		registry: registry,
		logger:   logger.With("component", "router"),
	}
}

// Route handles one message. It never panics and never returns an error:
// failures are reported in Result.Err with a failure reply for admins.
func (r *Router) Route(ctx context.Context, msg *channels.IncomingMessage) (res Result) {
	res.Trace = uuid.NewString()[:8]
	logger := r.logger.With("trace", res.Trace, "from", msg.From)

	if reason := r.filter(msg); reason != "" {
		logger.Debug("message dropped", "reason", reason)
		res.Route = RouteDropped
		return res
	}

	defer func() {
		if p := recover(); p != nil {
			res = r.failure(msg, res.Trace, fmt.Errorf("panic: %v", p))
			logger.Error("message handler panicked", "error", p)
		}
	}()

	body := msg.Content
	if r.cfg.Precedence == PrecedenceResponses {
		if reply, ok := r.table.Lookup(body); ok {
			return r.respond(logger, res, reply)
		}
	}

	out, err := r.registry.Dispatch(ctx, msg.From, body)
	if err != nil {
		logger.Error("command failed", "command", out.Command, "error", err)
		failed := r.failure(msg, res.Trace, err)
		if out.Locale != "" && len(failed.Replies) > 0 {
			failed.Replies = []string{commands.MessagesFor(out.Locale).Failure}
		}
		failed.Command = out.Command
		return failed
	}
	if out.Matched {
		logger.Info("command handled", "command", out.Command, "denied", out.Denied, "replies", len(out.Result.Replies))
		res.Route = RouteCommand
		res.Command = out.Command
		res.Denied = out.Denied
		res.Replies = out.Result.Replies
		return res
	}

	if r.cfg.Precedence == PrecedenceCommands {
		if reply, ok := r.table.Lookup(body); ok {
			return r.respond(logger, res, reply)
		}
	}

	if msg.FromMe && msg.SelfChat && r.cfg.EchoSelf && (r.cfg.EchoPrefix == "" || !strings.HasPrefix(body, r.cfg.EchoPrefix)) {
		logger.Debug("echoing own message")
		res.Route = RouteEcho
		res.Replies = []string{r.cfg.EchoPrefix + body}
		return res
	}

	logger.Debug("no route for message")
	res.Route = RouteNone
	return res
}

func (r *Router) respond(logger *slog.Logger, res Result, reply string) Result {
	logger.Info("learned response matched")
	res.Route = RouteResponse
	res.Replies = []string{reply}
	return res
}

// filter returns a non-empty reason when the message must be ignored.
func (r *Router) filter(msg *channels.IncomingMessage) string {
	switch {
	case msg.IsStatus:
		return "status update"
	case msg.IsBroadcast:
		return "broadcast"
	case msg.IsGroup && r.cfg.IgnoreGroups:
		return "group chat"
	case msg.FromMe && !msg.SelfChat:
		return "own message outside self-chat"
	case strings.TrimSpace(msg.Content) == "":
		return "empty body"
	}
	return ""
}

// failure builds the failure result: a generic reply for admins, silence
// for everyone else.
func (r *Router) failure(msg *channels.IncomingMessage, trace string, err error) Result {
	res := Result{Route: RouteFailure, Trace: trace, Err: err}
	if r.registry.IsAdmin(msg.From) {
		res.Replies = []string{commands.MessagesFor(r.cfg.Locale).Failure}
	}
	return res
}
