// Package client connects to a knit server, keeps a replica current and sends
// locally typed messages as append requests.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"collabknit/internal/codec"
	"collabknit/internal/protocol"
	"collabknit/internal/replica"
)

var ErrNotConnected = errors.New("not connected")

type Option func(*Client)

func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithCodec selects the framing requested from the server. JSON by default.
func WithCodec(pc protocol.Codec) Option {
	return func(c *Client) { c.codec = pc }
}

// WithMaxInterval caps the wait between reconnect attempts.
func WithMaxInterval(d time.Duration) Option {
	return func(c *Client) { c.maxInterval = d }
}

type Client struct {
	url         string
	codec       protocol.Codec
	replica     *replica.Replica
	logger      *log.Logger
	maxInterval time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
	wire protocol.Codec // negotiated on conn

	ready     chan struct{} // closed once the first snapshot is applied
	readyOnce sync.Once

	echoMu  sync.Mutex
	pending []string      // bits sent and not yet echoed, in send order
	echoed  chan struct{} // closed and replaced whenever pending shrinks
}

// New creates a client for the server at addr (host:port). Messages from the
// server are applied to r.
func New(addr string, r *replica.Replica, opts ...Option) *Client {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}
	c := &Client{
		url:         u.String(),
		codec:       protocol.JSON,
		replica:     r,
		logger:      log.Default(),
		maxInterval: 30 * time.Second,
		ready:       make(chan struct{}),
		echoed:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run keeps a connection open until ctx is cancelled, reconnecting with
// exponential backoff. Every connection starts from a fresh snapshot.
func (c *Client) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = c.maxInterval
	b.MaxElapsedTime = 0

	op := func() error {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		b.Reset()
		err = c.readLoop(conn)
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("connection lost, retrying", "err", err, "in", wait)
	}

	stop := context.AfterFunc(ctx, c.closeConn)
	defer stop()

	err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		Subprotocols:     []string{c.codec.Name()},
	}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}
	wire := protocol.ForSubprotocol(conn.Subprotocol())
	c.mu.Lock()
	c.conn, c.wire = conn, wire
	c.mu.Unlock()
	c.logger.Info("connected", "url", c.url, "codec", wire.Name())
	if ctx.Err() != nil {
		c.closeConn()
	}
	return conn, nil
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close()
		// nothing sent on this connection will be echoed any more
		c.dropPending()
	}()

	pc := protocol.ForSubprotocol(conn.Subprotocol())
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		msg, err := protocol.Decode(pc, raw)
		if err != nil {
			c.logger.Warn("dropping malformed frame", "err", err)
			continue
		}
		if err := c.replica.Apply(msg); err != nil {
			if errors.Is(err, replica.ErrGap) {
				return err
			}
			c.logger.Warn("could not apply message", "type", msg.Type, "err", err)
			continue
		}
		switch msg.Type {
		case protocol.TypeSnapshot:
			c.dropPending()
			c.readyOnce.Do(func() { close(c.ready) })
		case protocol.TypeDelta:
			c.matchEcho(msg)
		}
	}
}

// matchEcho retires the oldest pending append if msg is its echo. The server
// echoes a connection's appends in the order they were sent.
func (c *Client) matchEcho(msg protocol.Message) {
	own, ok := c.replica.Color()
	if !ok || msg.Color == nil || *msg.Color != own {
		return
	}
	c.echoMu.Lock()
	defer c.echoMu.Unlock()
	if len(c.pending) == 0 || c.pending[0] != msg.Bits {
		return
	}
	c.pending = c.pending[1:]
	close(c.echoed)
	c.echoed = make(chan struct{})
}

func (c *Client) dropPending() {
	c.echoMu.Lock()
	defer c.echoMu.Unlock()
	if len(c.pending) == 0 {
		return
	}
	c.pending = nil
	close(c.echoed)
	c.echoed = make(chan struct{})
}

// WaitReady blocks until the first snapshot has been applied to the replica,
// which is when Send can first succeed.
func (c *Client) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush blocks until every append sent so far has come back as a delta and
// been applied to the replica. Appends lost to a dropped connection count as
// settled.
func (c *Client) Flush(ctx context.Context) error {
	for {
		c.echoMu.Lock()
		n, echoed := len(c.pending), c.echoed
		c.echoMu.Unlock()
		if n == 0 {
			return nil
		}
		select {
		case <-echoed:
		case <-ctx.Done():
			return fmt.Errorf("%d appends not echoed: %w", n, ctx.Err())
		}
	}
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.conn.Close()
	}
}

// Send encodes text and submits it. Text that cannot be encoded is rejected
// here with a *codec.EncodingError and nothing is sent.
func (c *Client) Send(text string) error {
	bits, err := codec.Encode(text)
	if err != nil {
		return err
	}
	return c.SendBits(bits)
}

// SendBits submits bits as one append. Empty input is rejected with
// codec.ErrEmptyPayload.
func (c *Client) SendBits(bits codec.Bits) error {
	if len(bits) == 0 {
		return codec.ErrEmptyPayload
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	msg := protocol.Append(bits)
	raw, err := c.wire.Marshal(msg)
	if err != nil {
		return err
	}

	// queued before the write so the echo cannot arrive first
	c.echoMu.Lock()
	c.pending = append(c.pending, msg.Bits)
	c.echoMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.conn.WriteMessage(c.wire.FrameType(), raw); err != nil {
		c.echoMu.Lock()
		if n := len(c.pending); n > 0 && c.pending[n-1] == msg.Bits {
			c.pending = c.pending[:n-1]
		}
		c.echoMu.Unlock()
		return err
	}
	return nil
}
