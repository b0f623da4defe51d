// Package textile holds the authoritative, append-only sequence of stitches
// every replica converges on.
package textile

import (
	"errors"
	"fmt"
	"sync"

	"collabknit/internal/codec"
	"collabknit/internal/palette"
)

var ErrCapacity = errors.New("textile is at capacity")

// Entry is one stitch. Entries are never changed once appended.
type Entry struct {
	Bit   codec.Bit
	Color palette.RGB
}

type Option func(*Log)

// WithCapacity caps the number of entries. Zero means unbounded.
func WithCapacity(max int) Option {
	return func(l *Log) {
		l.capacity = max
	}
}

// Log is the single ordered sequence of entries. Index order is the global
// order all replicas agree on; length only grows.
type Log struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
}

func New(opts ...Option) *Log {
	l := &Log{}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append adds one entry per bit, in order, all with color. It returns the
// index of the first appended entry. Either all bits are appended or none.
func (l *Log) Append(bits codec.Bits, color palette.RGB) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	offset := len(l.entries)
	if l.capacity > 0 && offset+len(bits) > l.capacity {
		return offset, fmt.Errorf("%w: %d + %d exceeds %d", ErrCapacity, offset, len(bits), l.capacity)
	}
	for _, b := range bits {
		l.entries = append(l.entries, Entry{Bit: b, Color: color})
	}
	return offset, nil
}

// Snapshot returns the full log as two parallel sequences of equal length.
func (l *Log) Snapshot() (codec.Bits, []palette.RGB) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	bits := make(codec.Bits, len(l.entries))
	colors := make([]palette.RGB, len(l.entries))
	for i, e := range l.entries {
		bits[i] = e.Bit
		colors[i] = e.Color
	}
	return bits, colors
}

// Entries copies the entries from index from to the end.
func (l *Log) Entries(from int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if from < 0 {
		from = 0
	}
	if from >= len(l.entries) {
		return nil
	}
	out := make([]Entry, len(l.entries)-from)
	copy(out, l.entries[from:])
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func (l *Log) Capacity() int {
	return l.capacity
}
