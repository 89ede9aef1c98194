// Package transport defines the framing boundary between the coordinator and
// the duplex connections carrying JSON envelopes. Implementations hold no
// business logic; they deliver frames and connection lifecycle events to a
// Handler supplied by the surrounding application.
package transport

import (
	"context"

	"github.com/feedbridge/feedbridge/internal/protocol"
)

// Conn is a single live duplex connection to a UI client.
type Conn interface {
	// ID returns the connection's unique identifier.
	ID() string

	// Send queues an envelope for delivery. It must not block the caller
	// for unbounded time; implementations buffer writes and report a full
	// buffer or closed connection as an error.
	Send(env protocol.Envelope) error

	// Close tears down the connection. Safe to call more than once.
	Close() error
}

// Handler receives connection events. All methods are invoked from transport
// goroutines; the handler is responsible for its own serialization.
type Handler interface {
	HandleConnect(conn Conn)
	HandleDisconnect(conn Conn, err error)
	HandleMessage(conn Conn, raw []byte)
}

// Listener accepts connections and feeds them to a Handler.
type Listener interface {
	// Start binds the listener and begins accepting connections.
	Start(ctx context.Context) error

	// Stop closes all connections and releases the listener.
	Stop(ctx context.Context) error

	// Addr returns the bound address, or "" before Start.
	Addr() string
}
