package broadcast

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingInterval  = 30 * time.Second
	sendQueueSize = 256
)

// ErrSendQueueFull is returned when a client is too slow to drain its
// queue; the broadcaster treats it as a dead channel.
var ErrSendQueueFull = errors.New("send queue full")

var errChannelClosed = errors.New("channel closed")

// WSChannel adapts one websocket connection to the Channel interface.
// Sends are queued and written by a single pump goroutine with ping/pong
// keepalive, so Broadcast never blocks on a slow peer.
type WSChannel struct {
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

// NewWSChannel wraps conn and starts its pumps. onClose runs once when
// the connection ends, from either side.
func NewWSChannel(conn *websocket.Conn, onClose func()) *WSChannel {
	c := &WSChannel{
		conn:   conn,
		send:   make(chan []byte, sendQueueSize),
		closed: make(chan struct{}),
	}
	go c.writePump()
	go c.readPump(onClose)
	return c
}

// Send enqueues data without blocking. A full queue fails the send rather
// than stalling the broadcast.
func (c *WSChannel) Send(data []byte) error {
	select {
	case <-c.closed:
		return errChannelClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close shuts the connection down. Idempotent.
func (c *WSChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		err = c.conn.Close()
	})
	return err
}

func (c *WSChannel) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}

// readPump drains (and discards) client frames to process control
// messages; the push channel is receive-only from the browser side.
func (c *WSChannel) readPump(onClose func()) {
	defer func() {
		_ = c.Close()
		if onClose != nil {
			onClose()
		}
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
