package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const sendBufferSize = 256

// Client is one websocket session. The hub only ever enqueues onto send;
// WritePump owns the connection's write side.
type Client struct {
	UserID uuid.UUID

	conn *websocket.Conn
	log  *zap.Logger
	send chan []byte

	done     chan struct{}
	doneOnce sync.Once
}

func NewClient(conn *websocket.Conn, userID uuid.UUID, log *zap.Logger) *Client {
	return &Client{
		UserID: userID,
		conn:   conn,
		log:    log,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
	}
}

// enqueue never blocks. A full buffer means the peer is not keeping up, so the
// client is shut down instead of stalling the broadcaster.
func (c *Client) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		c.log.Warn("client send buffer full, closing", zap.String("user_id", c.UserID.String()))
		c.Shutdown()
		return false
	}
}

// Shutdown stops WritePump; it is safe to call more than once.
func (c *Client) Shutdown() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *Client) Done() <-chan struct{} {
	return c.done
}

// WritePump drains send to the socket and pings the peer every pingPeriod.
func (c *Client) WritePump(writeWait, pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.Shutdown()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.Shutdown()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

// ReadPump blocks until the peer goes away or the client is shut down,
// handing every text frame to onFrame.
func (c *Client) ReadPump(maxBytes int64, pongWait time.Duration, onPong func(), onFrame func([]byte)) {
	c.conn.SetReadLimit(maxBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		if onPong != nil {
			onPong()
		}
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("websocket read ended", zap.String("user_id", c.UserID.String()), zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		onFrame(payload)
	}
}
