// Package replica mirrors the server's textile on the client side by applying
// snapshot and delta messages in delivery order.
package replica

import (
	"errors"
	"fmt"
	"sync"

	"collabknit/internal/codec"
	"collabknit/internal/palette"
	"collabknit/internal/protocol"
	"collabknit/internal/textile"
)

// ErrGap means a delta did not start where the mirror ends. The mirror is left
// as it was; the caller should reconnect to get a fresh snapshot.
var ErrGap = errors.New("delta does not continue the mirror")

// Update describes one mutation. Reset means the mirror was replaced by a
// snapshot and Entries is the whole mirror; otherwise Entries were appended
// starting at From.
type Update struct {
	Reset   bool
	From    int
	Entries []textile.Entry
}

// Observer is told about every mutation, in order, after it happened.
type Observer interface {
	Observe(Update)
}

type ObserverFunc func(Update)

func (f ObserverFunc) Observe(u Update) { f(u) }

type Replica struct {
	mu       sync.RWMutex
	color    palette.RGB
	hasColor bool
	entries  []textile.Entry
	observer Observer
}

func New(o Observer) *Replica {
	return &Replica{observer: o}
}

// Apply folds one server message into the mirror.
func (r *Replica) Apply(m protocol.Message) error {
	switch m.Type {
	case protocol.TypeAssignColor:
		if m.Color == nil {
			return fmt.Errorf("%s: missing color", m.Type)
		}
		r.mu.Lock()
		r.color, r.hasColor = *m.Color, true
		r.mu.Unlock()
		return nil
	case protocol.TypeSnapshot:
		return r.reset(m)
	case protocol.TypeDelta:
		return r.extend(m)
	default:
		return fmt.Errorf("unexpected message type %q", m.Type)
	}
}

func (r *Replica) reset(m protocol.Message) error {
	bits, err := codec.ParseBits(m.Bits)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	if len(bits) != len(m.Colors) {
		return fmt.Errorf("snapshot: %d bits but %d colors", len(bits), len(m.Colors))
	}
	entries := make([]textile.Entry, len(bits))
	for i, b := range bits {
		entries[i] = textile.Entry{Bit: b, Color: m.Colors[i]}
	}

	r.mu.Lock()
	r.entries = entries
	r.mu.Unlock()

	r.notify(Update{Reset: true, Entries: copyEntries(entries)})
	return nil
}

func (r *Replica) extend(m protocol.Message) error {
	if m.Color == nil {
		return errors.New("delta: missing color")
	}
	bits, err := codec.ParseBits(m.Bits)
	if err != nil {
		return fmt.Errorf("delta: %w", err)
	}
	added := make([]textile.Entry, len(bits))
	for i, b := range bits {
		added[i] = textile.Entry{Bit: b, Color: *m.Color}
	}

	r.mu.Lock()
	from := len(r.entries)
	if m.Offset != nil && *m.Offset != from {
		r.mu.Unlock()
		return fmt.Errorf("%w: delta at %d, mirror has %d", ErrGap, *m.Offset, from)
	}
	r.entries = append(r.entries, added...)
	r.mu.Unlock()

	r.notify(Update{From: from, Entries: added})
	return nil
}

func (r *Replica) notify(u Update) {
	if r.observer != nil {
		r.observer.Observe(u)
	}
}

// Color is the color the server assigned to this client, if any yet.
func (r *Replica) Color() (palette.RGB, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.color, r.hasColor
}

// Entries returns a copy of the mirror.
func (r *Replica) Entries() []textile.Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyEntries(r.entries)
}

func (r *Replica) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func copyEntries(in []textile.Entry) []textile.Entry {
	out := make([]textile.Entry, len(in))
	copy(out, in)
	return out
}
