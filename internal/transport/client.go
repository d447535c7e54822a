// Package transport keeps one websocket connection to the chat relay alive,
// reconnecting on a fixed interval up to a configurable number of attempts.
package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Status int

const (
	StatusConnecting Status = iota
	StatusOpen
	StatusClosing
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusClosing:
		return "closing"
	case StatusClosed:
		return "closed"
	}
	return "unknown"
}

// Unlimited as ReconnectAttempts retries forever.
const Unlimited = -1

// Conn is one physical connection.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

type Options struct {
	URL string
	// ReconnectInterval is the fixed delay before each retry.
	ReconnectInterval time.Duration
	// ReconnectAttempts caps retries after a close. Zero means never retry.
	ReconnectAttempts int
	// NoReconnect starts the client with reconnection disabled.
	NoReconnect bool

	Dialer      Dialer
	DialTimeout time.Duration
	Logger      *zap.Logger
}

type Client struct {
	opts  Options
	log   *zap.Logger
	inbox *Inbox

	mu              sync.Mutex
	status          Status
	conn            Conn
	gen             uint64 // bumped whenever the current connection is superseded
	attempts        int
	shouldReconnect bool
	timer           *time.Timer
}

// Dial creates a client and starts connecting in the background.
func Dial(opts Options) *Client {
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = 3 * time.Second
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{Dialer: websocket.DefaultDialer}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	c := &Client{
		opts:            opts,
		log:             opts.Logger.With(zap.String("url", opts.URL)),
		inbox:           NewInbox(),
		shouldReconnect: !opts.NoReconnect,
	}

	c.mu.Lock()
	gen := c.beginLocked()
	c.mu.Unlock()
	go c.connect(gen)
	return c
}

func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Attempts is the number of retries since the connection was last open.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func (c *Client) Inbox() *Inbox {
	return c.inbox
}

// Send writes a frame if the connection is open. It never blocks on a
// missing connection and reports whether the frame was written.
func (c *Client) Send(data []byte) bool {
	c.mu.Lock()
	conn := c.conn
	open := c.status == StatusOpen
	c.mu.Unlock()

	if !open || conn == nil {
		return false
	}
	if err := conn.WriteMessage(data); err != nil {
		c.log.Debug("send failed", zap.Error(err))
		return false
	}
	return true
}

// Close disables reconnection, cancels any pending retry and closes the
// live connection. Safe to call repeatedly.
func (c *Client) Close() {
	c.mu.Lock()
	c.shouldReconnect = false
	c.stopTimerLocked()
	c.gen++
	conn := c.conn
	c.conn = nil
	if conn != nil {
		c.setStatusLocked(StatusClosing)
	}
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	c.mu.Lock()
	c.setStatusLocked(StatusClosed)
	c.mu.Unlock()
}

// Reconnect re-enables reconnection, resets the retry budget and replaces
// the current connection with a fresh one.
func (c *Client) Reconnect() {
	c.mu.Lock()
	c.shouldReconnect = true
	c.attempts = 0
	c.stopTimerLocked()
	old := c.conn
	c.conn = nil
	gen := c.beginLocked()
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}
	go c.connect(gen)
}

func (c *Client) beginLocked() uint64 {
	c.gen++
	c.setStatusLocked(StatusConnecting)
	return c.gen
}

func (c *Client) connect(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.DialTimeout)
	conn, err := c.opts.Dialer.Dial(ctx, c.opts.URL)
	cancel()

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		c.log.Info("dial failed", zap.Error(err))
		c.closedLocked()
		c.mu.Unlock()
		return
	}
	c.conn = conn
	c.attempts = 0
	c.setStatusLocked(StatusOpen)
	c.mu.Unlock()

	c.readLoop(gen, conn)
}

func (c *Client) readLoop(gen uint64, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.log.Debug("connection lost", zap.Error(err))
			break
		}
		c.inbox.Append(data)
	}
	conn.Close()

	c.mu.Lock()
	if gen == c.gen {
		c.conn = nil
		c.closedLocked()
	}
	c.mu.Unlock()
}

// closedLocked records a close and schedules a retry if the budget allows.
func (c *Client) closedLocked() {
	c.setStatusLocked(StatusClosed)
	if !c.shouldReconnect {
		return
	}
	if c.opts.ReconnectAttempts >= 0 && c.attempts >= c.opts.ReconnectAttempts {
		c.log.Warn("giving up reconnecting", zap.Int("attempts", c.attempts))
		return
	}

	c.attempts++
	gen := c.gen
	c.log.Debug("reconnect scheduled",
		zap.Int("attempt", c.attempts), zap.Duration("in", c.opts.ReconnectInterval))
	c.timer = time.AfterFunc(c.opts.ReconnectInterval, func() { c.retry(gen) })
}

func (c *Client) retry(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || !c.shouldReconnect {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	next := c.beginLocked()
	c.mu.Unlock()

	c.connect(next)
}

func (c *Client) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Client) setStatusLocked(s Status) {
	if c.status == s {
		return
	}
	c.log.Debug("status", zap.Stringer("from", c.status), zap.Stringer("to", s))
	c.status = s
}

// WebsocketDialer dials the relay with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := d.Dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
	wmu  sync.Mutex // gorilla allows one concurrent writer
}

func (w *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := w.conn.ReadMessage()
	return data, err
}

func (w *wsConn) WriteMessage(data []byte) error {
	w.wmu.Lock()
	defer w.wmu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) Close() error {
	return w.conn.Close()
}
