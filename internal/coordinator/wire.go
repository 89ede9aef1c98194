package coordinator

import (
	"log/slog"

	"github.com/feedbridge/feedbridge/internal/coordinator/config"
	"github.com/feedbridge/feedbridge/internal/transport"
	"github.com/feedbridge/feedbridge/internal/transport/ws"
)

// deferredHandler breaks the construction cycle between the WebSocket
// listener (which needs a handler) and the coordinator (which needs a
// listener). The listener only starts through the coordinator, so the
// delegate is always set before any event fires.
type deferredHandler struct {
	delegate transport.Handler
}

func (d *deferredHandler) HandleConnect(conn transport.Conn) {
	d.delegate.HandleConnect(conn)
}

func (d *deferredHandler) HandleDisconnect(conn transport.Conn, err error) {
	d.delegate.HandleDisconnect(conn, err)
}

func (d *deferredHandler) HandleMessage(conn transport.Conn, raw []byte) {
	d.delegate.HandleMessage(conn, raw)
}

// NewWithWebSocket wires a coordinator to a WebSocket listener on the
// configured address.
func NewWithWebSocket(cfg config.Config, logger *slog.Logger) *Coordinator {
	ref := &deferredHandler{}
	listener := ws.NewServer(cfg.ListenAddr, ref, logger)
	c := New(cfg, listener, logger)
	ref.delegate = c
	return c
}
