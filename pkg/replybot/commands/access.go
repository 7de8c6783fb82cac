// Package commands – access.go implements the admin roster.
//
// The roster is a fixed set of sender identifiers loaded from config at
// startup. It never changes at runtime: granting admin rights means editing
// the config and restarting.
package commands

import (
	"fmt"
	"sort"
	"strings"
)

// phoneServers are the JID servers that address a phone number. Identifiers
// on any of them (or with no server at all) compare equal by number.
var phoneServers = map[string]bool{
	"":               true,
	"c.us":           true,
	"s.whatsapp.net": true,
}

// AccessLevel is the authorization requirement of a command.
type AccessLevel int

const (
	// AccessOpen commands run for any sender.
	AccessOpen AccessLevel = iota
	// AccessAdmin commands run only for senders on the roster.
	AccessAdmin
)

// String implements fmt.Stringer.
func (a AccessLevel) String() string {
	if a == AccessAdmin {
		return "admin"
	}
	return "open"
}

// ParseAccessLevel maps the config values "admin" and "open".
func ParseAccessLevel(s string) (AccessLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "admin", "":
		return AccessAdmin, nil
	case "open":
		return AccessOpen, nil
	default:
		return AccessOpen, fmt.Errorf("unknown access level %q (want admin or open)", s)
	}
}

// DenialPolicy controls what a non-admin sees when invoking an admin command.
type DenialPolicy string

const (
	// DenyReply answers with the fixed denial text.
	DenyReply DenialPolicy = "reply"
	// DenySilent drops the command without replying.
	DenySilent DenialPolicy = "silent"
)

// Roster is the immutable set of admin identifiers.
type Roster struct {
	admins map[string]struct{}
}

// NewRoster builds a roster from raw identifiers (phone numbers or JIDs).
// Blank entries are ignored.
func NewRoster(ids []string) *Roster {
	r := &Roster{admins: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		if n := NormalizeID(id); n != "" {
			r.admins[n] = struct{}{}
		}
	}
	return r
}

// IsAdmin reports whether sender is on the roster.
func (r *Roster) IsAdmin(sender string) bool {
	if r == nil {
		return false
	}
	_, ok := r.admins[NormalizeID(sender)]
	return ok
}

// Len returns the number of admins.
func (r *Roster) Len() int {
	if r == nil {
		return 0
	}
	return len(r.admins)
}

// List returns the normalized admin identifiers, sorted.
func (r *Roster) List() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.admins))
	for id := range r.admins {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// NormalizeID canonicalizes a sender identifier. Phone-number identifiers
// ("972501234567", "+972 50-123-4567", "972501234567@c.us",
// "972501234567:12@s.whatsapp.net") all become "972501234567@s.whatsapp.net".
// Other servers keep their server and lose only the device suffix.
func NormalizeID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}

	user, server, _ := strings.Cut(id, "@")
	if i := strings.IndexByte(user, ':'); i >= 0 {
		user = user[:i]
	}

	if !phoneServers[server] {
		return user + "@" + server
	}

	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, user)
	if digits == "" {
		return ""
	}
	return digits + "@s.whatsapp.net"
}
