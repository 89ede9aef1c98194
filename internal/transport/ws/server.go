// Package ws implements the transport.Listener over WebSocket connections.
package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/feedbridge/feedbridge/internal/transport"
)

const (
	// maxMessageBytes bounds a single inbound frame. Feedback may carry
	// base64 image data, so this is generous.
	maxMessageBytes = 4 << 20

	readBufferSize  = 4096
	writeBufferSize = 4096
)

// Server accepts WebSocket connections on an HTTP endpoint and feeds frames
// to a transport.Handler.
type Server struct {
	addr     string
	handler  transport.Handler
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	started  bool
	listener net.Listener
	httpSrv  *http.Server
	conns    map[string]*wsConn
}

// NewServer creates a WebSocket listener bound to addr when started.
func NewServer(addr string, handler transport.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:    addr,
		handler: handler,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBufferSize,
			WriteBufferSize: writeBufferSize,
			// The server binds to loopback and serves a single trusted
			// local operator; browser origin checks add nothing here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[string]*wsConn),
	}
}

// Start binds the listener and begins serving the /ws endpoint.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	lc := net.ListenConfig{}
	lis, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)

	s.listener = lis
	s.httpSrv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.started = true

	go func() {
		if err := s.httpSrv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("WebSocket server error", "error", err)
		}
	}()

	s.logger.Info("WebSocket listener started", "addr", lis.Addr().String())
	return nil
}

// Stop closes all live connections and releases the listener.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	httpSrv := s.httpSrv
	conns := make([]*wsConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.conns = make(map[string]*wsConn)
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}

	if err := httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown websocket server: %w", err)
	}
	s.logger.Info("WebSocket listener stopped")
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	conn := newConn(ws, s.logger)

	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conns[conn.ID()] = conn
	s.mu.Unlock()

	s.logger.Info("Client connected", "conn_id", conn.ID(), "remote", r.RemoteAddr)
	s.handler.HandleConnect(conn)

	go conn.writePump()
	go s.readPump(conn)
}

// readPump reads frames until the connection fails or closes, then reports
// the disconnect exactly once.
func (s *Server) readPump(conn *wsConn) {
	defer func() {
		_ = conn.Close()
		s.mu.Lock()
		_, tracked := s.conns[conn.ID()]
		delete(s.conns, conn.ID())
		s.mu.Unlock()
		if tracked {
			s.handler.HandleDisconnect(conn, conn.closeErr())
		}
	}()

	conn.ws.SetReadLimit(maxMessageBytes)

	for {
		msgType, raw, err := conn.ws.ReadMessage()
		if err != nil {
			conn.setCloseErr(err)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		s.handler.HandleMessage(conn, raw)
	}
}
