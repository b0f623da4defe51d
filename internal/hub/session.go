package hub

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"collabknit/internal/codec"
	"collabknit/internal/palette"
	"collabknit/internal/protocol"
)

var ErrNotActive = errors.New("session is not active")

type State int

const (
	Connecting State = iota
	Active
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Active:
		return "active"
	default:
		return "closed"
	}
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Session is one live connection. It holds a color and an outbound queue and
// nothing else; the stitches it contributed belong to the textile.
type Session struct {
	ID uuid.UUID

	color palette.RGB
	state atomic.Int32
	send  chan protocol.Message
	ready chan struct{}
}

func newSession(queueSize int) *Session {
	return &Session{
		ID:    uuid.New(),
		send:  make(chan protocol.Message, queueSize),
		ready: make(chan struct{}),
	}
}

// Color is the color assigned on admission. It never changes.
func (s *Session) Color() palette.RGB { return s.color }

// State reports where the session is in its lifecycle: Connecting until the
// hub admits it, Active while registered, Closed once dropped.
func (s *Session) State() State { return State(s.state.Load()) }

// Outbound is the session's queue of messages to deliver. It is closed when
// the hub drops the session.
func (s *Session) Outbound() <-chan protocol.Message { return s.send }

// ServeConn runs a session over a websocket until either side goes away.
// Frames are decoded with c; malformed append requests are logged and
// dropped without closing the connection.
func (h *Hub) ServeConn(ctx context.Context, conn *websocket.Conn, c protocol.Codec) error {
	s, err := h.Join(ctx)
	if err != nil {
		conn.Close()
		return err
	}
	logger := h.logger.With("session", s.ID, "remote", conn.RemoteAddr().String())

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		h.writePump(s, conn, c)
	}()

	h.readPump(ctx, s, conn, c)
	h.Leave(s)
	<-writeDone
	logger.Debug("connection closed")
	return nil
}

func (h *Hub) readPump(ctx context.Context, s *Session, conn *websocket.Conn, c protocol.Codec) {
	defer conn.Close()
	logger := h.logger.With("session", s.ID)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("read failed", "err", err)
			}
			return
		}
		msg, err := protocol.Decode(c, raw)
		if err != nil {
			logger.Warn("dropping malformed frame", "err", err)
			continue
		}
		if msg.Type != protocol.TypeAppend {
			logger.Warn("dropping unexpected message", "type", msg.Type)
			continue
		}
		switch err := h.Submit(ctx, s, msg.Bits); {
		case err == nil:
		case errors.Is(err, codec.ErrMalformedPayload):
			logger.Warn("dropping malformed append", "err", err)
		case errors.Is(err, ErrStopped), errors.Is(err, ErrNotActive), errors.Is(err, context.Canceled):
			return
		default:
			logger.Warn("append failed", "err", err)
		}
	}
}

func (h *Hub) writePump(s *Session, conn *websocket.Conn, c protocol.Codec) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	logger := h.logger.With("session", s.ID)

	for {
		select {
		case msg, ok := <-s.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			raw, err := c.Marshal(msg)
			if err != nil {
				logger.Error("encode failed", "type", msg.Type, "err", err)
				continue
			}
			if err := conn.WriteMessage(c.FrameType(), raw); err != nil {
				logger.Warn("write failed", "err", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
