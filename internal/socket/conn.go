// ABOUTME: WebSocket connection wrapper with a single-writer outbound queue
// ABOUTME: Implements presence.Conn; events are JSON envelopes {event, data}

package socket

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// sendQueueSize is the outbound buffer per connection. A client that
	// cannot drain this many events loses the overflow.
	sendQueueSize = 64

	writeTimeout = 10 * time.Second
)

// ErrConnClosed is returned from Send after the connection has closed.
var ErrConnClosed = errors.New("connection closed")

// ErrSendQueueFull is returned when the outbound queue is full; the event is
// dropped for this connection.
var ErrSendQueueFull = errors.New("send queue full")

// Envelope is the wire frame for every event in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Conn is one live WebSocket session. All writes go through a single writer
// goroutine draining the send queue, so Send is safe from any goroutine.
type Conn struct {
	id     string
	ws     *websocket.Conn
	send   chan []byte
	mu     sync.RWMutex
	closed bool
	logger *slog.Logger
}

// NewConn wraps an upgraded WebSocket connection. The caller must run
// WritePump exactly once.
func NewConn(id string, ws *websocket.Conn, logger *slog.Logger) *Conn {
	return &Conn{
		id:     id,
		ws:     ws,
		send:   make(chan []byte, sendQueueSize),
		logger: logger.With("conn_id", id),
	}
}

// ID returns the opaque connection handle.
func (c *Conn) ID() string {
	return c.id
}

// Send marshals an event envelope and enqueues it for the writer goroutine.
// Non-blocking: returns ErrSendQueueFull instead of stalling the caller.
func (c *Conn) Send(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", event, err)
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("encoding %s envelope: %w", event, err)
	}

	// Hold the read lock while enqueueing so Close cannot close the
	// channel mid-send.
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close shuts down the outbound queue and the underlying socket. Safe to call
// more than once.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
}

// WritePump drains the send queue onto the socket until Close. It owns all
// writes to the underlying connection.
func (c *Conn) WritePump() {
	defer c.ws.Close()

	for frame := range c.send {
		c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
			c.logger.Debug("write failed", "error", err)
			return
		}
	}

	// Queue closed cleanly: tell the peer before tearing down.
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	c.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
