package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/feedbridge/feedbridge/internal/coordinator/config"
	"github.com/feedbridge/feedbridge/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConn records sent envelopes for assertions.
type fakeConn struct {
	id string

	mu       sync.Mutex
	sent     []protocol.Envelope
	closed   bool
	failSend bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(env protocol.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSend {
		return errors.New("send failed")
	}
	c.sent = append(c.sent, env)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) countType(msgType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, env := range c.sent {
		if env.Type == msgType {
			n++
		}
	}
	return n
}

func (c *fakeConn) lastOfType(msgType string) (protocol.Envelope, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.sent) - 1; i >= 0; i-- {
		if c.sent[i].Type == msgType {
			return c.sent[i], true
		}
	}
	return protocol.Envelope{}, false
}

// fakeListener tracks start/stop calls without binding anything.
type fakeListener struct {
	mu         sync.Mutex
	running    bool
	startCount int
	stopCount  int
	failStart  error
}

func (l *fakeListener) Start(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failStart != nil {
		return l.failStart
	}
	l.running = true
	l.startCount++
	return nil
}

func (l *fakeListener) Stop(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.running = false
	l.stopCount++
	return nil
}

func (l *fakeListener) Addr() string { return "127.0.0.1:0" }

func (l *fakeListener) starts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.startCount
}

func (l *fakeListener) stops() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopCount
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.SessionTimeout = 2 * time.Second
	cfg.ShutdownGrace = 50 * time.Millisecond
	return cfg
}

func newTestCoordinator(t *testing.T, cfg config.Config) (*Coordinator, *fakeListener) {
	t.Helper()
	listener := &fakeListener{}
	c := New(cfg, listener, testLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = c.Shutdown(ctx)
	})
	return c, listener
}

// frame builds a raw inbound frame for HandleMessage.
func frame(t *testing.T, msgType string, data any) []byte {
	t.Helper()
	env, err := protocol.NewEnvelope(msgType, data)
	if err != nil {
		t.Fatalf("build %s frame: %v", msgType, err)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal %s frame: %v", msgType, err)
	}
	return raw
}

// waitOutcome blocks on a request's outcome with a test deadline.
func waitOutcome(t *testing.T, req *PendingRequest, within time.Duration) Outcome {
	t.Helper()
	select {
	case o := <-req.Wait():
		return o
	case <-time.After(within):
		t.Fatalf("request %s not settled within %v", req.ID, within)
		return Outcome{}
	}
}
