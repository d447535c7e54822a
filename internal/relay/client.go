package relay

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a frame to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Must be less than pongWait.
	maxMessageSize = 64 << 10            // Larger frames fail the read and close the connection.
	sendBuffer     = 256
)

// Client is a middleman between one websocket connection and the relay.
type Client struct {
	id    string
	conn  *websocket.Conn
	relay *Relay
	log   *zap.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(id string, conn *websocket.Conn, r *Relay, log *zap.Logger) *Client {
	return &Client{
		id:    id,
		conn:  conn,
		relay: r,
		log:   log,
		send:  make(chan []byte, sendBuffer),
		done:  make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.id }

// Send queues a frame for the write pump. A client whose buffer is full is
// too slow to keep up and gets disconnected.
func (c *Client) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return false
	default:
		c.log.Warn("send buffer full, disconnecting", zap.String("conn", c.id))
		c.Close()
		return false
	}
}

// Close stops the pumps. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// readPump feeds inbound frames to the relay, one at a time, until the
// connection fails.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.relay.Disconnect(c)
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Info("read failed", zap.String("conn", c.id), zap.Error(err))
			}
			return
		}
		c.relay.HandleFrame(ctx, c, message)
	}
}

// writePump writes queued frames, one websocket message per frame, and
// keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
