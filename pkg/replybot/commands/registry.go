// Package commands implements the chat command registry.
//
// Commands are plain words (no "/" prefix) matched against the first token
// of a message. Each command has bilingual aliases that map to the same
// handler; the alias used decides the reply language.
//
//	learn "<trigger>" reply "<reply>"   / למד "<trigger>" תגיב "<reply>"
//	list                                / רשימה
//	help                                / עזרה
//	greet                               / ברכה
//	status   (admin)                    / סטטוס
//	clear    (admin)                    / נקה
//	export   (admin)                    / יצא
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Alias is one keyword that triggers a command, with its reply locale.
type Alias struct {
	Keyword string
	Locale  Locale
}

// Invocation carries everything a handler needs about one command call.
type Invocation struct {
	// Sender is the identifier of the message author.
	Sender string
	// IsAdmin is true when Sender is on the roster.
	IsAdmin bool
	// Keyword is the alias that matched.
	Keyword string
	// Locale is the reply language bound to Keyword.
	Locale Locale
	// Args is the text after the keyword, trimmed.
	Args string
	// Body is the full message text.
	Body string
}

// Messages returns the texts in the invocation's locale.
func (inv *Invocation) Messages() *Messages {
	return MessagesFor(inv.Locale)
}

// Result is what a handler wants sent back, in order.
type Result struct {
	Replies []string
}

// Reply is a convenience for a single-message Result.
func Reply(text string) Result {
	return Result{Replies: []string{text}}
}

// HandlerFunc executes a command.
type HandlerFunc func(ctx context.Context, inv *Invocation) (Result, error)

// Command is a named operation.
type Command struct {
	Name    string
	Aliases []Alias
	Access  AccessLevel
	Handler HandlerFunc
}

// Outcome describes how Dispatch treated a message.
type Outcome struct {
	// Matched is true when the first token named a registered command.
	Matched bool
	// Command is the canonical command name (when Matched).
	Command string
	// Locale of the matched alias.
	Locale Locale
	// Denied is true when an admin-only command was refused.
	Denied bool
	// Result holds the replies to send (possibly none).
	Result Result
}

type aliasRef struct {
	cmd    *Command
	locale Locale
}

// Registry holds the ordered command list and its alias index.
type Registry struct {
	commands []*Command
	aliases  map[string]aliasRef
	roster   *Roster
	denial   DenialPolicy
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(roster *Roster, denial DenialPolicy, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if denial == "" {
		denial = DenyReply
	}
	return &Registry{
		aliases: make(map[string]aliasRef),
		roster:  roster,
		denial:  denial,
		logger:  logger.With("component", "commands"),
	}
}

// Register adds a command. Alias keywords must be unique across the registry.
func (r *Registry) Register(cmd *Command) error {
	if cmd.Name == "" || cmd.Handler == nil {
		return fmt.Errorf("command needs a name and a handler")
	}
	if len(cmd.Aliases) == 0 {
		return fmt.Errorf("command %q has no aliases", cmd.Name)
	}
	for _, a := range cmd.Aliases {
		if strings.ContainsAny(a.Keyword, " \t\n") || a.Keyword == "" {
			return fmt.Errorf("command %q: invalid keyword %q", cmd.Name, a.Keyword)
		}
		if prev, exists := r.aliases[a.Keyword]; exists {
			return fmt.Errorf("keyword %q already registered by %q", a.Keyword, prev.cmd.Name)
		}
	}
	for _, a := range cmd.Aliases {
		r.aliases[a.Keyword] = aliasRef{cmd: cmd, locale: a.Locale}
	}
	r.commands = append(r.commands, cmd)
	return nil
}

// Commands returns the registered commands in registration order.
func (r *Registry) Commands() []*Command {
	out := make([]*Command, len(r.commands))
	copy(out, r.commands)
	return out
}

// Lookup resolves a keyword (exact, case-sensitive).
func (r *Registry) Lookup(keyword string) (*Command, Locale, bool) {
	ref, ok := r.aliases[keyword]
	if !ok {
		return nil, "", false
	}
	return ref.cmd, ref.locale, true
}

// IsAdmin reports whether sender is on the roster.
func (r *Registry) IsAdmin(sender string) bool {
	return r.roster.IsAdmin(sender)
}

// Dispatch matches the first token of body against the registry, checks
// authorization and runs the handler. Handler errors are returned with the
// Outcome filled in so the caller can still pick a reply locale.
func (r *Registry) Dispatch(ctx context.Context, sender, body string) (Outcome, error) {
	keyword, args := splitFirstToken(body)
	cmd, locale, ok := r.Lookup(keyword)
	if !ok {
		return Outcome{}, nil
	}

	out := Outcome{Matched: true, Command: cmd.Name, Locale: locale}
	inv := &Invocation{
		Sender:  sender,
		IsAdmin: r.roster.IsAdmin(sender),
		Keyword: keyword,
		Locale:  locale,
		Args:    args,
		Body:    body,
	}

	if cmd.Access == AccessAdmin && !inv.IsAdmin {
		out.Denied = true
		r.logger.Info("command denied", "command", cmd.Name, "sender", sender, "policy", string(r.denial))
		if r.denial == DenyReply {
			out.Result = Reply(inv.Messages().DeniedFor(cmd.Name))
		}
		return out, nil
	}

	res, err := cmd.Handler(ctx, inv)
	if err != nil {
		return out, fmt.Errorf("command %s: %w", cmd.Name, err)
	}
	out.Result = res
	return out, nil
}

// splitFirstToken returns the first whitespace-delimited token and the
// trimmed remainder.
func splitFirstToken(body string) (string, string) {
	body = strings.TrimSpace(body)
	i := strings.IndexAny(body, " \t\r\n")
	if i < 0 {
		return body, ""
	}
	return body[:i], strings.TrimSpace(body[i:])
}
