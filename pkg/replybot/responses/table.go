// Package responses implements the learned-response table: an ordered
// trigger → reply mapping, the parser for "learn" command text, and the
// Store that persists the table as a single JSON record plus snapshots.
package responses

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Errors.
var (
	// ErrMalformedInput is returned when user-supplied command text cannot
	// be turned into a trigger/reply pair.
	ErrMalformedInput = errors.New("malformed input")

	// ErrPersistence wraps load/save/snapshot I/O failures.
	ErrPersistence = errors.New("persistence failure")
)

// Pair is a single trigger → reply entry.
type Pair struct {
	Trigger string
	Reply   string
}

// Table maps trigger text to reply text. Lookups are exact and
// case-sensitive. Iteration follows insertion order; overwriting an existing
// trigger keeps its original position.
//
// A Table is not safe for concurrent use. The bot owns it from a single
// dispatch goroutine.
type Table struct {
	m *orderedmap.OrderedMap[string, string]
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{m: orderedmap.New[string, string]()}
}

// TableFromPairs builds a table from pairs in order. Later duplicates win.
func TableFromPairs(pairs ...Pair) *Table {
	t := NewTable()
	for _, p := range pairs {
		t.m.Set(p.Trigger, p.Reply)
	}
	return t
}

// Lookup returns the reply learned for the exact trigger text.
func (t *Table) Lookup(trigger string) (string, bool) {
	return t.m.Get(trigger)
}

// Learn sets trigger → reply after trimming both. Either side empty after
// trimming is ErrMalformedInput and leaves the table untouched.
func (t *Table) Learn(trigger, reply string) error {
	trigger = strings.TrimSpace(trigger)
	reply = strings.TrimSpace(reply)
	if trigger == "" || reply == "" {
		return fmt.Errorf("%w: trigger and reply must both be non-empty", ErrMalformedInput)
	}
	t.m.Set(trigger, reply)
	return nil
}

// Clear removes every entry.
func (t *Table) Clear() {
	t.m = orderedmap.New[string, string]()
}

// Len returns the number of learned triggers.
func (t *Table) Len() int {
	return t.m.Len()
}

// Pairs returns all entries in insertion order.
func (t *Table) Pairs() []Pair {
	out := make([]Pair, 0, t.m.Len())
	for p := t.m.Oldest(); p != nil; p = p.Next() {
		out = append(out, Pair{Trigger: p.Key, Reply: p.Value})
	}
	return out
}

// MarshalIndented renders the table the way it is stored on disk:
// a 2-space-indented JSON object in insertion order.
func (t *Table) MarshalIndented() ([]byte, error) {
	data, err := json.MarshalIndent(t.m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling responses: %w", err)
	}
	return data, nil
}

// MarshalJSON implements json.Marshaler.
func (t *Table) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.m)
}

// UnmarshalJSON implements json.Unmarshaler. The object's key order becomes
// the table's insertion order.
func (t *Table) UnmarshalJSON(data []byte) error {
	m := orderedmap.New[string, string]()
	if err := json.Unmarshal(data, m); err != nil {
		return err
	}
	t.m = m
	return nil
}

// Format renders one `"trigger" -> "reply"` line per entry. An empty table
// renders as the empty string; callers substitute their own placeholder.
func (t *Table) Format() string {
	var b strings.Builder
	for i, p := range t.Pairs() {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(FormatPair(p.Trigger, p.Reply))
	}
	return b.String()
}

// FormatPair renders a single entry as `"trigger" -> "reply"`.
func FormatPair(trigger, reply string) string {
	return `"` + trigger + `" -> "` + reply + `"`
}
