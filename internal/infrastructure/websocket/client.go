package websocket

import (
	"sync"

	"github.com/gorilla/websocket"

	"lokapasar/pkg/logger"
)

// Client represents one live websocket connection. A user may hold several
// clients at once (multiple tabs or devices).
type Client struct {
	ConnectionID string
	UserID       string
	Conn         *websocket.Conn
	Send         chan []byte

	mu     sync.Mutex
	closed bool
}

type sendResult int

const (
	sendQueued sendResult = iota
	sendBufferFull
	sendClosed
)

// enqueue places a payload on the send buffer without blocking. The mutex
// serializes enqueues against closeSend, so a broadcast racing a disconnect
// can never write to a closed channel.
func (c *Client) enqueue(payload []byte) sendResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return sendClosed
	}
	select {
	case c.Send <- payload:
		return sendQueued
	default:
		return sendBufferFull
	}
}

// closeSend closes the send channel exactly once. After it returns, enqueue
// rejects all further payloads.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// ReadPump reads events from the connection and hands them to the manager.
// It is the only goroutine reading from the connection, so events from one
// client are always handled in arrival order.
func (c *Client) ReadPump(m *Manager) {
	defer func() {
		m.Unregister(c)
		c.Conn.Close()
	}()

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read error for user %s: %v", c.UserID, err)
			}
			break
		}

		m.HandleClientMessage(c, message)
	}
}

// WritePump drains the send channel onto the connection.
func (c *Client) WritePump() {
	defer c.Conn.Close()

	for {
		message, ok := <-c.Send
		if !ok {
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}

		if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
			logger.Warn("websocket write error for user %s: %v", c.UserID, err)
			return
		}
	}
}
