package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/feedbridge/feedbridge/internal/protocol"
)

const (
	// sendQueueSize bounds outbound envelopes awaiting the write pump.
	sendQueueSize = 64

	writeTimeout = 10 * time.Second
)

// ErrSendQueueFull is returned when a client stops draining its socket.
var ErrSendQueueFull = errors.New("connection send queue full")

// ErrConnClosed is returned by Send after the connection closed.
var ErrConnClosed = errors.New("connection closed")

// wsConn wraps a single WebSocket connection. Writes go through a buffered
// queue drained by writePump, so Send never blocks the coordinator.
type wsConn struct {
	id     string
	ws     *websocket.Conn
	logger *slog.Logger

	sendCh chan protocol.Envelope
	done   chan struct{}

	mu     sync.Mutex
	closed bool
	err    error
}

func newConn(ws *websocket.Conn, logger *slog.Logger) *wsConn {
	return &wsConn{
		id:     uuid.New().String(),
		ws:     ws,
		logger: logger,
		sendCh: make(chan protocol.Envelope, sendQueueSize),
		done:   make(chan struct{}),
	}
}

// ID returns the connection's unique identifier.
func (c *wsConn) ID() string { return c.id }

// Send queues an envelope for delivery.
func (c *wsConn) Send(env protocol.Envelope) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.sendCh <- env:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return fmt.Errorf("%w: dropping %s", ErrSendQueueFull, env.Type)
	}
}

// Close tears down the socket. Safe to call more than once.
func (c *wsConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	return c.ws.Close()
}

func (c *wsConn) setCloseErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *wsConn) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// writePump serializes all socket writes for this connection.
func (c *wsConn) writePump() {
	for {
		select {
		case env := <-c.sendCh:
			raw, err := json.Marshal(env)
			if err != nil {
				c.logger.Error("Failed to marshal envelope", "conn_id", c.id, "type", env.Type, "error", err)
				continue
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
				c.logger.Warn("Write failed, closing connection", "conn_id", c.id, "error", err)
				c.setCloseErr(err)
				_ = c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}
