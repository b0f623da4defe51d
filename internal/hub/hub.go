// Package hub is the session broker: it owns the textile and the color
// rotation, admits sessions, applies append requests and fans deltas out to
// every connected session.
package hub

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"collabknit/internal/codec"
	"collabknit/internal/palette"
	"collabknit/internal/protocol"
	"collabknit/internal/textile"
)

const DefaultQueueSize = 256

var ErrStopped = errors.New("hub stopped")

// Contribution describes one applied append, handed to sinks after broadcast.
type Contribution struct {
	SessionID uuid.UUID
	Offset    int
	Bits      codec.Bits
	Color     palette.RGB
	At        time.Time
}

// Sink receives contributions outside the hub loop.
type Sink interface {
	Record(ctx context.Context, c Contribution) error
}

type Option func(*Hub)

func WithLogger(l *log.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// WithQueueSize bounds each session's outbound queue. A session whose queue is
// full when a delta is broadcast is disconnected. The queue must hold at least
// the assign-color notice and the snapshot.
func WithQueueSize(n int) Option {
	return func(h *Hub) {
		if n >= 2 {
			h.queueSize = n
		}
	}
}

func WithSink(s Sink) Option {
	return func(h *Hub) { h.sinks = append(h.sinks, s) }
}

type appendRequest struct {
	session *Session
	bits    codec.Bits
	done    chan error
}

// Stats is a point-in-time view of the hub for health checks.
type Stats struct {
	Sessions     int    `json:"sessions"`
	Stitches     int    `json:"stitches"`
	ColorsIssued uint64 `json:"colors_issued"`
	// Capacity is the stitch limit, 0 when unbounded.
	Capacity int `json:"capacity"`
}

// Hub maintains the set of active sessions. Every mutation of the textile,
// the color rotation and the registry happens on the goroutine running Run,
// one event at a time.
type Hub struct {
	textile *textile.Log
	colors  *palette.Allocator
	logger  *log.Logger

	sessions map[uuid.UUID]*Session
	order    []uuid.UUID

	register   chan *Session
	unregister chan *Session
	appends    chan appendRequest
	stats      chan chan Stats
	done       chan struct{}

	queueSize     int
	sinks         []Sink
	contributions chan Contribution
}

func New(t *textile.Log, colors *palette.Allocator, opts ...Option) *Hub {
	h := &Hub{
		textile:    t,
		colors:     colors,
		logger:     log.Default(),
		sessions:   make(map[uuid.UUID]*Session),
		register:   make(chan *Session),
		unregister: make(chan *Session),
		appends:    make(chan appendRequest),
		stats:      make(chan chan Stats),
		done:       make(chan struct{}),
		queueSize:  DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.contributions = make(chan Contribution, h.queueSize)
	return h
}

// Textile exposes the log for read-only views.
func (h *Hub) Textile() *textile.Log { return h.textile }

// Run processes events until ctx is cancelled. Sessions still registered when
// it returns have their queues closed.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	sinkCtx, cancelSinks := context.WithCancel(context.Background())
	sinksDone := make(chan struct{})
	go func() {
		defer close(sinksDone)
		h.dispatch(sinkCtx)
	}()
	defer func() {
		close(h.contributions)
		<-sinksDone
		cancelSinks()
	}()

	for {
		select {
		case s := <-h.register:
			h.admit(s)
		case s := <-h.unregister:
			h.remove(s, "client disconnected")
		case req := <-h.appends:
			req.done <- h.apply(req.session, req.bits)
		case reply := <-h.stats:
			reply <- Stats{
				Sessions:     len(h.sessions),
				Stitches:     h.textile.Len(),
				ColorsIssued: h.colors.Issued(),
				Capacity:     h.textile.Capacity(),
			}
		case <-ctx.Done():
			for _, id := range h.order {
				close(h.sessions[id].send)
			}
			h.sessions = map[uuid.UUID]*Session{}
			h.order = nil
			return
		}
	}
}

// Join admits a new session. When it returns, the session's color is set and
// its queue already holds the assign-color notice followed by the snapshot.
func (h *Hub) Join(ctx context.Context) (*Session, error) {
	s := newSession(h.queueSize)
	select {
	case h.register <- s:
	case <-h.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	<-s.ready
	return s, nil
}

// Leave removes a session. It is safe to call more than once and after the
// hub has dropped the session itself.
func (h *Hub) Leave(s *Session) {
	select {
	case h.unregister <- s:
	case <-h.done:
	}
}

// Submit validates bits and, if well formed, appends them with the session's
// color and broadcasts the delta. A malformed or empty payload is reported
// to the caller and changes nothing.
func (h *Hub) Submit(ctx context.Context, s *Session, bits string) error {
	parsed, err := codec.ParseBits(bits)
	if err != nil {
		return err
	}
	if len(parsed) == 0 {
		return codec.ErrEmptyPayload
	}
	req := appendRequest{session: s, bits: parsed, done: make(chan error, 1)}
	select {
	case h.appends <- req:
	case <-h.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-req.done
}

func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	select {
	case h.stats <- reply:
	case <-h.done:
		return Stats{}, ErrStopped
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
	return <-reply, nil
}

func (h *Hub) admit(s *Session) {
	s.color = h.colors.Next()
	s.state.Store(int32(Active))
	// The queue is empty and at least two deep, so neither send blocks.
	s.send <- protocol.AssignColor(s.color)
	s.send <- protocol.SnapshotOf(h.textile)
	h.sessions[s.ID] = s
	h.order = append(h.order, s.ID)
	close(s.ready)
	h.logger.Info("client registered", "session", s.ID, "color", s.color.Hex(), "clients", len(h.sessions))
}

func (h *Hub) remove(s *Session, reason string) {
	if _, ok := h.sessions[s.ID]; !ok {
		return
	}
	delete(h.sessions, s.ID)
	for i, id := range h.order {
		if id == s.ID {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	s.state.Store(int32(Closed))
	close(s.send)
	h.logger.Info(reason, "session", s.ID, "clients", len(h.sessions))
}

func (h *Hub) apply(s *Session, bits codec.Bits) error {
	if _, ok := h.sessions[s.ID]; !ok {
		return ErrNotActive
	}
	offset, err := h.textile.Append(bits, s.color)
	if err != nil {
		h.logger.Warn("append rejected", "session", s.ID, "bits", len(bits), "err", err)
		return err
	}
	h.broadcast(protocol.Delta(bits, s.color, offset))

	c := Contribution{SessionID: s.ID, Offset: offset, Bits: bits, Color: s.color, At: time.Now()}
	if len(h.sinks) > 0 {
		select {
		case h.contributions <- c:
		default:
			h.logger.Warn("sink queue full, dropping contribution", "session", s.ID, "offset", offset)
		}
	}
	h.logger.Debug("appended", "session", s.ID, "offset", offset, "bits", len(bits))
	return nil
}

// broadcast queues m for every active session, sender included, in
// registration order. Sessions that cannot keep up are dropped.
func (h *Hub) broadcast(m protocol.Message) {
	var slow []*Session
	for _, id := range h.order {
		s := h.sessions[id]
		select {
		case s.send <- m:
		default:
			slow = append(slow, s)
		}
	}
	for _, s := range slow {
		h.remove(s, "client too slow, disconnected")
	}
}

func (h *Hub) dispatch(ctx context.Context) {
	for c := range h.contributions {
		for _, sink := range h.sinks {
			if err := sink.Record(ctx, c); err != nil {
				h.logger.Error("sink failed", "session", c.SessionID, "offset", c.Offset, "err", err)
			}
		}
	}
}
