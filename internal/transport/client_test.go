package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn delivers queued frames until closed or dropped.
type fakeConn struct {
	in      chan []byte
	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	written [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), done: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.done:
		return nil, errors.New("closed")
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.done:
		return errors.New("closed")
	default:
	}
	c.mu.Lock()
	c.written = append(c.written, data)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// scriptedDialer succeeds on the dials listed in ok (1-based), fails otherwise.
// Connections from dials listed in drop close right after opening.
type scriptedDialer struct {
	ok    map[int]bool
	drop  map[int]bool
	dials atomic.Int32

	mu    sync.Mutex
	conns []*fakeConn
}

func (d *scriptedDialer) Dial(context.Context, string) (Conn, error) {
	n := int(d.dials.Add(1))
	if !d.ok[n] {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	if d.drop[n] {
		c.Close()
	}
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *scriptedDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *scriptedDialer) count() int { return int(d.dials.Load()) }

func waitStatus(t *testing.T, c *Client, want Status) {
	t.Helper()
	require.Eventually(t, func() bool { return c.Status() == want }, 2*time.Second, time.Millisecond,
		"status stayed %s, want %s", c.Status(), want)
}

func TestClient_ReconnectCap(t *testing.T) {
	tests := []struct {
		name     string
		attempts int
	}{
		{name: "no retries", attempts: 0},
		{name: "three retries", attempts: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &scriptedDialer{}
			c := Dial(Options{URL: "ws://relay", ReconnectInterval: 2 * time.Millisecond, ReconnectAttempts: tt.attempts, Dialer: d})
			defer c.Close()

			require.Eventually(t, func() bool { return d.count() == tt.attempts+1 }, 2*time.Second, time.Millisecond)
			waitStatus(t, c, StatusClosed)

			time.Sleep(30 * time.Millisecond)
			assert.Equal(t, tt.attempts+1, d.count())
			assert.Equal(t, StatusClosed, c.Status())
		})
	}
}

func TestClient_ReconnectCounterResetsOnOpen(t *testing.T) {
	// Dial 1 opens and drops, dials 2 fails, dial 3 opens and drops, then
	// dials 4 and 5 fail and the budget of two is spent.
	d := &scriptedDialer{
		ok:   map[int]bool{1: true, 3: true},
		drop: map[int]bool{1: true, 3: true},
	}
	c := Dial(Options{URL: "ws://relay", ReconnectInterval: 2 * time.Millisecond, ReconnectAttempts: 2, Dialer: d})
	defer c.Close()

	require.Eventually(t, func() bool { return d.count() == 5 }, 2*time.Second, time.Millisecond)
	waitStatus(t, c, StatusClosed)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 5, d.count())
}

func TestClient_CloseCancelsPendingReconnect(t *testing.T) {
	d := &scriptedDialer{}
	c := Dial(Options{URL: "ws://relay", ReconnectInterval: 40 * time.Millisecond, ReconnectAttempts: Unlimited, Dialer: d})

	require.Eventually(t, func() bool { return d.count() == 1 && c.Status() == StatusClosed }, time.Second, time.Millisecond)
	c.Close()
	c.Close()

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, 1, d.count())
	assert.Equal(t, StatusClosed, c.Status())
}

func TestClient_CloseOpenConnection(t *testing.T) {
	d := &scriptedDialer{ok: map[int]bool{1: true}}
	c := Dial(Options{URL: "ws://relay", ReconnectInterval: time.Millisecond, ReconnectAttempts: Unlimited, Dialer: d})
	waitStatus(t, c, StatusOpen)

	conn := d.last()
	c.Close()

	assert.True(t, conn.isClosed())
	assert.Equal(t, StatusClosed, c.Status())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, d.count(), "closing must not trigger a reconnect")
	assert.False(t, c.Send([]byte("x")))
}

func TestClient_SendAndReceive(t *testing.T) {
	d := &scriptedDialer{ok: map[int]bool{1: true}}
	c := Dial(Options{URL: "ws://relay", Dialer: d, NoReconnect: true})
	defer c.Close()

	waitStatus(t, c, StatusOpen)
	conn := d.last()

	assert.True(t, c.Send([]byte(`{"type":"auth"}`)))
	conn.mu.Lock()
	assert.Equal(t, [][]byte{[]byte(`{"type":"auth"}`)}, conn.written)
	conn.mu.Unlock()

	conn.in <- []byte(`{"type":"connected"}`)
	conn.in <- []byte(`not even json`)
	require.Eventually(t, func() bool { return c.Inbox().Len() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []byte(`{"type":"connected"}`), c.Inbox().Since(0)[0])
	assert.Equal(t, []byte(`not even json`), c.Inbox().Since(1)[0], "unparseable frames are kept")
}

func TestClient_SendWhileNotOpen(t *testing.T) {
	d := &scriptedDialer{}
	c := Dial(Options{URL: "ws://relay", Dialer: d, NoReconnect: true})
	defer c.Close()

	waitStatus(t, c, StatusClosed)
	assert.False(t, c.Send([]byte("hello")))
	assert.Equal(t, 1, d.count(), "reconnection disabled")
}

func TestClient_ForcedReconnect(t *testing.T) {
	d := &scriptedDialer{ok: map[int]bool{1: true, 2: true}}
	c := Dial(Options{URL: "ws://relay", ReconnectInterval: time.Hour, ReconnectAttempts: 1, Dialer: d})
	defer c.Close()

	waitStatus(t, c, StatusOpen)
	first := d.last()

	c.Reconnect()
	require.Eventually(t, func() bool { return d.count() == 2 && c.Status() == StatusOpen }, time.Second, time.Millisecond)
	assert.True(t, first.isClosed())
	assert.NotSame(t, first, d.last())
	assert.Equal(t, 0, c.Attempts())
}

func TestClient_ReconnectAfterClose(t *testing.T) {
	d := &scriptedDialer{ok: map[int]bool{2: true}}
	c := Dial(Options{URL: "ws://relay", ReconnectInterval: time.Hour, ReconnectAttempts: 0, Dialer: d})
	defer c.Close()

	waitStatus(t, c, StatusClosed)
	c.Close()
	c.Reconnect()
	waitStatus(t, c, StatusOpen)
	assert.Equal(t, 2, d.count())
}

func TestWebsocketDialer(t *testing.T) {
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"connected"}`))
		_, msg, err := conn.ReadMessage()
		if err == nil {
			conn.WriteMessage(websocket.TextMessage, msg)
		}
	}))
	defer srv.Close()

	c := Dial(Options{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), NoReconnect: true})
	defer c.Close()

	waitStatus(t, c, StatusOpen)
	require.True(t, c.Send([]byte("echo")))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for c.Inbox().Len() < 2 {
		_, err := c.Inbox().Wait(ctx, c.Inbox().Len())
		require.NoError(t, err)
	}
	assert.Equal(t, []byte("echo"), c.Inbox().Since(1)[0])
}
