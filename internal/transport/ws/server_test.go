package ws

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedbridge/feedbridge/internal/protocol"
	"github.com/feedbridge/feedbridge/internal/transport"
)

// captureHandler funnels transport callbacks into channels for assertions.
type captureHandler struct {
	connects    chan transport.Conn
	disconnects chan transport.Conn
	messages    chan []byte
}

func newCaptureHandler() *captureHandler {
	return &captureHandler{
		connects:    make(chan transport.Conn, 4),
		disconnects: make(chan transport.Conn, 4),
		messages:    make(chan []byte, 16),
	}
}

func (h *captureHandler) HandleConnect(conn transport.Conn) { h.connects <- conn }

func (h *captureHandler) HandleDisconnect(conn transport.Conn, _ error) { h.disconnects <- conn }

func (h *captureHandler) HandleMessage(_ transport.Conn, raw []byte) {
	cp := make([]byte, len(raw))
	copy(cp, raw)
	h.messages <- cp
}

func startTestServer(t *testing.T) (*Server, *captureHandler) {
	t.Helper()
	handler := newCaptureHandler()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer("127.0.0.1:0", handler, logger)

	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})
	return srv, handler
}

func dial(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	client, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/ws", nil)
	require.NoError(t, err)
	return client
}

func TestServerRoundTrip(t *testing.T) {
	srv, handler := startTestServer(t)
	client := dial(t, srv)
	defer client.Close()

	var serverConn transport.Conn
	select {
	case serverConn = <-handler.connects:
	case <-time.After(2 * time.Second):
		t.Fatal("no connect callback")
	}
	require.NotEmpty(t, serverConn.ID())

	// Server to client.
	require.NoError(t, serverConn.Send(protocol.MustEnvelope(protocol.TypePong, protocol.PongData{
		Timestamp: 123,
	})))
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := client.ReadMessage()
	require.NoError(t, err)
	env, err := protocol.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, protocol.TypePong, env.Type)

	// Client to server.
	require.NoError(t, client.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"ping"}`)))
	select {
	case got := <-handler.messages:
		inbound, err := protocol.Decode(got)
		require.NoError(t, err)
		assert.Equal(t, protocol.TypePing, inbound.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no message callback")
	}
}

func TestServerReportsDisconnectOnce(t *testing.T) {
	srv, handler := startTestServer(t)
	client := dial(t, srv)

	var serverConn transport.Conn
	select {
	case serverConn = <-handler.connects:
	case <-time.After(2 * time.Second):
		t.Fatal("no connect callback")
	}

	require.NoError(t, client.Close())

	select {
	case gone := <-handler.disconnects:
		assert.Equal(t, serverConn.ID(), gone.ID())
	case <-time.After(2 * time.Second):
		t.Fatal("no disconnect callback")
	}

	select {
	case <-handler.disconnects:
		t.Fatal("disconnect reported twice")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestServerStopClosesClients(t *testing.T) {
	srv, handler := startTestServer(t)
	client := dial(t, srv)
	defer client.Close()
	<-handler.connects

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := client.ReadMessage()
	assert.Error(t, err, "client read should fail once the server is stopped")
}

func TestServerStartIsIdempotent(t *testing.T) {
	srv, _ := startTestServer(t)

	addr := srv.Addr()
	require.NotEmpty(t, addr)

	require.NoError(t, srv.Start(context.Background()))
	assert.Equal(t, addr, srv.Addr())
}

func TestServerAddrEmptyBeforeStart(t *testing.T) {
	handler := newCaptureHandler()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer("127.0.0.1:0", handler, logger)

	assert.Empty(t, srv.Addr())
	require.NoError(t, srv.Stop(context.Background()))
}

func TestConnSendAfterCloseFails(t *testing.T) {
	srv, handler := startTestServer(t)
	client := dial(t, srv)
	defer client.Close()

	serverConn := <-handler.connects
	require.NoError(t, serverConn.Close())

	err := serverConn.Send(protocol.MustEnvelope(protocol.TypePong, nil))
	require.ErrorIs(t, err, ErrConnClosed)
}
