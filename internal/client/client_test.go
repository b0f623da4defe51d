package client

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabknit/internal/codec"
	"collabknit/internal/hub"
	"collabknit/internal/palette"
	"collabknit/internal/protocol"
	"collabknit/internal/replica"
	"collabknit/internal/server"
	"collabknit/internal/textile"
)

type testServer struct {
	*httptest.Server
	hub *hub.Hub
}

func (s *testServer) addr() string {
	return strings.TrimPrefix(s.URL, "http://")
}

func startServer(t *testing.T) *testServer {
	t.Helper()
	logger := log.New(io.Discard)
	colors, err := palette.NewAllocator(palette.Default)
	require.NoError(t, err)
	h := hub.New(textile.New(), colors, hub.WithLogger(logger))
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	ts := httptest.NewServer(server.New(ctx, h, nil, logger).Handler())
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})
	return &testServer{Server: ts, hub: h}
}

func startClient(t *testing.T, addr string, opts ...Option) (*Client, *replica.Replica, context.CancelFunc) {
	t.Helper()
	r := replica.New(nil)
	opts = append([]Option{WithLogger(log.New(io.Discard)), WithMaxInterval(50 * time.Millisecond)}, opts...)
	c := New(addr, r, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, c.Run(ctx))
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	require.Eventually(t, func() bool {
		_, ok := r.Color()
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	return c, r, cancel
}

func sendEventually(t *testing.T, c *Client, text string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return !errors.Is(c.Send(text), ErrNotConnected)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClientsConverge(t *testing.T) {
	ts := startServer(t)
	a, ra, _ := startClient(t, ts.addr())
	b, rb, _ := startClient(t, ts.addr(), WithCodec(protocol.Msgpack))

	sendEventually(t, a, "knit")
	require.Eventually(t, func() bool { return rb.Len() == 32 }, 2*time.Second, 10*time.Millisecond)
	sendEventually(t, b, "purl")

	want := 64
	for _, r := range []*replica.Replica{ra, rb} {
		require.Eventually(t, func() bool { return r.Len() == want }, 2*time.Second, 10*time.Millisecond)
	}
	serverEntries := ts.hub.Textile().Entries(0)
	assert.Equal(t, serverEntries, ra.Entries())
	assert.Equal(t, serverEntries, rb.Entries())

	colorA, _ := ra.Color()
	colorB, _ := rb.Color()
	assert.Equal(t, colorA, ra.Entries()[0].Color)
	assert.Equal(t, colorB, ra.Entries()[63].Color)
}

func TestSendRejectsUnencodable(t *testing.T) {
	ts := startServer(t)
	c, r, _ := startClient(t, ts.addr())

	err := c.Send("snow ☃")
	var encErr *codec.EncodingError
	require.ErrorAs(t, err, &encErr)
	assert.Equal(t, '☃', encErr.Char)

	sendEventually(t, c, "ok")
	require.Eventually(t, func() bool { return r.Len() == 16 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 16, ts.hub.Textile().Len())
}

func TestSendWithoutConnection(t *testing.T) {
	c := New("127.0.0.1:1", replica.New(nil), WithLogger(log.New(io.Discard)))
	assert.ErrorIs(t, c.Send("A"), ErrNotConnected)
}

func TestReconnectReceivesFreshSnapshot(t *testing.T) {
	ts := startServer(t)
	first, _, stopFirst := startClient(t, ts.addr())
	sendEventually(t, first, "A")
	require.Eventually(t, func() bool { return ts.hub.Textile().Len() == 8 }, 2*time.Second, 10*time.Millisecond)
	stopFirst()

	second, _, _ := startClient(t, ts.addr())
	sendEventually(t, second, "B")
	require.Eventually(t, func() bool { return ts.hub.Textile().Len() == 16 }, 2*time.Second, 10*time.Millisecond)

	_, again, _ := startClient(t, ts.addr())
	require.Eventually(t, func() bool { return again.Len() == 16 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, ts.hub.Textile().Entries(0), again.Entries())
	color, _ := again.Color()
	assert.Equal(t, palette.Default[2], color)
}

func TestRunStopsOnCancel(t *testing.T) {
	c := New("127.0.0.1:1", replica.New(nil), WithLogger(log.New(io.Discard)), WithMaxInterval(10*time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWaitReadyThenFlush(t *testing.T) {
	ts := startServer(t)
	r := replica.New(nil)
	c := New(ts.addr(), r, WithLogger(log.New(io.Discard)), WithMaxInterval(50*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- c.Run(ctx) }()

	waitCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	require.NoError(t, c.WaitReady(waitCtx))

	// no retry needed once ready
	require.NoError(t, c.Send("hello"))
	require.NoError(t, c.Send("!"))
	require.NoError(t, c.Flush(waitCtx))

	// the echoes are applied by the time Flush returns
	assert.Equal(t, 48, r.Len())
	assert.Equal(t, ts.hub.Textile().Entries(0), r.Entries())
	text, err := codec.Decode(bitsOf(r.Entries()))
	require.NoError(t, err)
	assert.Equal(t, "hello!", text)

	cancel()
	assert.NoError(t, <-runDone)
}

func TestFlushIgnoresOtherSessions(t *testing.T) {
	ts := startServer(t)
	a, _, _ := startClient(t, ts.addr())
	b, rb, _ := startClient(t, ts.addr())

	sendEventually(t, a, "a")
	require.Eventually(t, func() bool { return rb.Len() == 8 }, 2*time.Second, 10*time.Millisecond)
	ctx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	// a's delta is not b's echo, so nothing is pending for b
	require.NoError(t, b.Flush(ctx))

	sendEventually(t, b, "b")
	require.NoError(t, b.Flush(ctx))
	entries := rb.Entries()
	require.Len(t, entries, 16)
	colorB, _ := rb.Color()
	assert.Equal(t, colorB, entries[15].Color)
}

func TestWaitReadyTimesOut(t *testing.T) {
	c := New("127.0.0.1:1", replica.New(nil), WithLogger(log.New(io.Discard)))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.WaitReady(ctx), context.DeadlineExceeded)
}

func TestSendRejectsEmpty(t *testing.T) {
	ts := startServer(t)
	c, r, _ := startClient(t, ts.addr())

	assert.ErrorIs(t, c.Send(""), codec.ErrEmptyPayload)
	assert.ErrorIs(t, c.SendBits(nil), codec.ErrEmptyPayload)

	ctx, stop := context.WithTimeout(context.Background(), time.Second)
	defer stop()
	require.NoError(t, c.Flush(ctx))
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 0, ts.hub.Textile().Len())
}

func bitsOf(entries []textile.Entry) codec.Bits {
	out := make(codec.Bits, len(entries))
	for i, e := range entries {
		out[i] = e.Bit
	}
	return out
}
