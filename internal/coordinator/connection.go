package coordinator

import (
	"log/slog"
	"time"

	"github.com/feedbridge/feedbridge/internal/transport"
)

// TrackedConn is a live connection with its activity timestamps.
type TrackedConn struct {
	Conn           transport.Conn
	ConnectedAt    time.Time
	LastActivityAt time.Time
}

// ConnRegistry tracks live connections in arrival order so that
// PickAvailable is a deterministic linear scan. Synchronization is the
// coordinator's responsibility.
type ConnRegistry struct {
	conns  map[string]*TrackedConn
	order  []string
	logger *slog.Logger
}

// NewConnRegistry creates an empty registry.
func NewConnRegistry(logger *slog.Logger) *ConnRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnRegistry{
		conns:  make(map[string]*TrackedConn),
		logger: logger,
	}
}

// Add starts tracking a connection.
func (cr *ConnRegistry) Add(conn transport.Conn) {
	now := time.Now()
	cr.conns[conn.ID()] = &TrackedConn{
		Conn:           conn,
		ConnectedAt:    now,
		LastActivityAt: now,
	}
	cr.order = append(cr.order, conn.ID())
	cr.logger.Info("Connection registered",
		"conn_id", conn.ID(),
		"total_connections", len(cr.conns),
	)
}

// Remove stops tracking a connection. Returns the tracked record, or nil if
// the connection was unknown.
func (cr *ConnRegistry) Remove(connID string) *TrackedConn {
	tracked, ok := cr.conns[connID]
	if !ok {
		return nil
	}
	delete(cr.conns, connID)
	for i, id := range cr.order {
		if id == connID {
			cr.order = append(cr.order[:i], cr.order[i+1:]...)
			break
		}
	}
	cr.logger.Info("Connection removed",
		"conn_id", connID,
		"total_connections", len(cr.conns),
	)
	return tracked
}

// Get returns the tracked record for a connection id, or nil.
func (cr *ConnRegistry) Get(connID string) *TrackedConn {
	return cr.conns[connID]
}

// Touch refreshes a connection's activity timestamp.
func (cr *ConnRegistry) Touch(connID string) {
	if tracked, ok := cr.conns[connID]; ok {
		tracked.LastActivityAt = time.Now()
	}
}

// PickAvailable returns the first connection, in arrival order, for which
// isBound reports false. Each connection represents one UI surface, so no
// load balancing is needed beyond this scan.
func (cr *ConnRegistry) PickAvailable(isBound func(connID string) bool) transport.Conn {
	for _, id := range cr.order {
		if !isBound(id) {
			return cr.conns[id].Conn
		}
	}
	return nil
}

// Count returns the number of tracked connections.
func (cr *ConnRegistry) Count() int { return len(cr.conns) }

// All returns a snapshot of the tracked connections in arrival order.
func (cr *ConnRegistry) All() []*TrackedConn {
	out := make([]*TrackedConn, 0, len(cr.order))
	for _, id := range cr.order {
		out = append(out, cr.conns[id])
	}
	return out
}
