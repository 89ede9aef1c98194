// Package coordinator implements the session queue and delivery core: a
// FIFO of pending feedback requests, at-most-one-active-lease matching of
// requests to UI connections, per-session deadlines, disconnect recovery,
// and a lifecycle controller that starts and stops the transport listener
// around activity level.
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/feedbridge/feedbridge/internal/coordinator/config"
	"github.com/feedbridge/feedbridge/internal/protocol"
	"github.com/feedbridge/feedbridge/internal/transport"
)

// shutdownTimeout bounds how long a shutdown waits on the transport.
const shutdownTimeout = 5 * time.Second

// Coordinator owns the queue, session registry, connection registry,
// notification store, router, and lifecycle controller, and serializes every
// state mutation under one mutex. Components are injected and hold no global
// state, so tests instantiate isolated coordinators freely.
//
// Timer callbacks and transport callbacks re-enter through Coordinator
// methods, which take the lock and re-check that their target record still
// exists; whichever event observes a record first wins, the other is a no-op.
type Coordinator struct {
	mu  sync.Mutex
	cfg config.Config

	queue         *RequestQueue
	sessions      *SessionRegistry
	conns         *ConnRegistry
	notifications *NotificationStore
	router        *MessageRouter
	lifecycle     *LifecycleController

	logger *slog.Logger
}

// New wires a coordinator around the given transport listener.
func New(cfg config.Config, listener transport.Listener, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Coordinator{
		cfg:    cfg,
		logger: logger,
	}

	c.queue = NewRequestQueue(cfg.SessionTimeout, cfg.RetryCap, logger)
	c.queue.SetExpiredFunc(c.handleRequestExpired)

	c.sessions = NewSessionRegistry(cfg.SessionTimeout, logger)
	c.sessions.SetDeadlineFunc(c.handleSessionDeadline)

	c.conns = NewConnRegistry(logger)
	c.notifications = NewNotificationStore(cfg.NotificationCapacity, cfg.NotificationMaxAge, logger)

	c.router = NewMessageRouter(c.sessions.ByConn, logger)
	c.registerBuiltins()

	c.lifecycle = NewLifecycleController(listener, cfg.ShutdownGrace, logger)
	c.lifecycle.SetHooks(c.busyLocked, c.shutdownLocked, c.handleGraceElapsed)

	return c
}

// SubmitInteractive enqueues a feedback request and blocks until a human
// replies, the session times out (sentinel outcome, nil error), the retry cap
// is exceeded, or the server shuts down.
func (c *Coordinator) SubmitInteractive(ctx context.Context, summary, projectDir string) (Outcome, error) {
	req, err := c.submit(ctx, summary, projectDir, ModeInteractive)
	if err != nil {
		return Outcome{}, err
	}

	select {
	case outcome := <-req.Wait():
		if outcome.Err != nil {
			return Outcome{}, outcome.Err
		}
		return outcome, nil
	case <-ctx.Done():
		c.abandon(req.ID)
		return Outcome{}, ctx.Err()
	}
}

// SubmitNotification records a fire-and-forget notice. The outcome resolves
// as soon as the notice is accepted into the store; delivery to a UI is a
// best-effort announcement handled by the same queue pairing.
func (c *Coordinator) SubmitNotification(ctx context.Context, summary, projectDir string) (Outcome, error) {
	req, err := c.submit(ctx, summary, projectDir, ModeNotification)
	if err != nil {
		return Outcome{}, err
	}

	select {
	case outcome := <-req.Wait():
		return outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// submit validates, enqueues, brings the transport up, and attempts a match.
func (c *Coordinator) submit(ctx context.Context, summary, projectDir string, mode RequestMode) (*PendingRequest, error) {
	if summary == "" {
		return nil, &protocol.ValidationError{
			Code:    protocol.CodeInvalidMessageFormat,
			Message: "summary must not be empty",
		}
	}
	if projectDir == "" {
		projectDir = "."
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	req := newPendingRequest(summary, projectDir, mode)
	c.queue.Enqueue(req)

	if mode == ModeNotification {
		c.notifications.Add(&Notification{
			ID:               req.ID,
			Summary:          summary,
			ProjectDirectory: projectDir,
			CreatedAt:        req.CreatedAt,
		})
		req.settle(Outcome{})
	}

	if err := c.lifecycle.Start(ctx); err != nil {
		c.queue.TakeWaiting(req.ID)
		if mode == ModeNotification {
			return req, nil // already resolved; announce is lost, delivery is best-effort
		}
		return nil, &protocol.SessionError{
			Code:    protocol.CodeServerStopping,
			Message: err.Error(),
		}
	}

	c.tryMatchLocked()
	return req, nil
}

// abandon cleans up after a submitter stopped waiting. Nothing is settled;
// the caller is gone.
func (c *Coordinator) abandon(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if req := c.queue.TakeWaiting(requestID); req != nil {
		c.maybeStopLocked()
		return
	}
	if c.queue.Acknowledge(requestID) {
		if sess := c.sessions.End(requestID, EndAck); sess != nil {
			c.sendStopTimer(sess)
		}
		c.tryMatchLocked()
		c.maybeStopLocked()
	}
}

// Lifecycle returns the current lifecycle state.
func (c *Coordinator) Lifecycle() ServerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lifecycle.State()
}

// Shutdown stops the server immediately, rejecting all outstanding requests.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lifecycle.Stop(ctx, true)
}

// SweepNotifications evicts aged notifications; main runs this periodically.
func (c *Coordinator) SweepNotifications() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notifications.Sweep(time.Now())
}

// HandleConnect implements transport.Handler.
func (c *Coordinator) HandleConnect(conn transport.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conns.Add(conn)
	c.lifecycle.NotifyActivity()
	c.tryMatchLocked()
}

// HandleDisconnect implements transport.Handler. A session bound to the lost
// connection is force-ended and its request requeued, never acknowledged:
// disconnect means "try again", unlike expiry's "give up gracefully".
func (c *Coordinator) HandleDisconnect(conn transport.Conn, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tracked := c.conns.Remove(conn.ID())
	if tracked == nil {
		return // already removed by shutdown
	}
	if err != nil {
		c.logger.Debug("Connection lost", "conn_id", conn.ID(), "error", err)
	}

	if sess := c.sessions.ByConn(conn.ID()); sess != nil {
		c.sessions.End(sess.ID, EndDisconnect)
		c.queue.Requeue(sess.ID, "connection lost")
	}

	c.tryMatchLocked()
	c.maybeStopLocked()
}

// HandleMessage implements transport.Handler.
func (c *Coordinator) HandleMessage(conn transport.Conn, raw []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conns.Touch(conn.ID())
	c.router.Route(conn, raw)
}

// tryMatchLocked is the sole matching trigger: pair the oldest waiting
// request with the first unbound connection, repeating until one side runs
// out. Notification requests are announced and acknowledged without binding,
// so one connection can drain several in a row.
func (c *Coordinator) tryMatchLocked() {
	for {
		conn := c.conns.PickAvailable(func(connID string) bool {
			return c.sessions.ByConn(connID) != nil
		})
		if conn == nil {
			return
		}

		req := c.queue.LeaseNext()
		if req == nil {
			return
		}

		if req.Mode == ModeNotification {
			c.announceLocked(conn, req)
			continue
		}

		if _, err := c.sessions.Create(conn, req); err != nil {
			// Cannot happen for a connection PickAvailable returned;
			// treat as transient and give the request another chance.
			c.logger.Error("Failed to create session", "request_id", req.ID, "error", err)
			c.queue.Requeue(req.ID, err.Error())
			return
		}
	}
}

// announceLocked delivers a notification envelope and acknowledges the
// request. A failed send requeues so another connection can announce.
func (c *Coordinator) announceLocked(conn transport.Conn, req *PendingRequest) {
	env := protocol.MustEnvelope(protocol.TypeNotification, protocol.NotificationData{
		NotificationID:   req.ID,
		Summary:          req.Summary,
		ProjectDirectory: req.ProjectDirectory,
		CreatedAt:        req.CreatedAt.UnixMilli(),
	})
	if err := conn.Send(env); err != nil {
		c.logger.Warn("Notification announce failed",
			"notification_id", req.ID,
			"conn_id", conn.ID(),
			"error", err,
		)
		c.queue.Requeue(req.ID, "announce failed")
		return
	}
	c.queue.Acknowledge(req.ID)
}

// completeFeedbackLocked finishes a session whose client submitted feedback.
func (c *Coordinator) completeFeedbackLocked(sess *Session, fb *protocol.FeedbackData) {
	status := protocol.MustEnvelope(protocol.TypeFeedbackStatus, protocol.FeedbackStatusData{
		SessionID: sess.ID,
		Status:    "received",
	})
	status.SessionID = sess.ID
	if err := sess.Conn.Send(status); err != nil {
		c.logger.Warn("Failed to send feedback status", "session_id", sess.ID, "error", err)
	}
	c.sendStopTimer(sess)

	c.queue.Acknowledge(sess.ID)
	sess.Request.settle(Outcome{Feedback: fb})
	c.sessions.End(sess.ID, EndAck)

	c.tryMatchLocked()
	c.maybeStopLocked()
}

// expireLocked finishes a session whose deadline passed: the client gets a
// timeout notice, the submitter gets the sentinel "no feedback, proceed"
// outcome, and the request is acknowledged, not retried.
func (c *Coordinator) expireLocked(sess *Session) {
	env := protocol.MustEnvelope(protocol.TypeTimeout, nil)
	env.SessionID = sess.ID
	if err := sess.Conn.Send(env); err != nil {
		c.logger.Warn("Failed to send timeout notice", "session_id", sess.ID, "error", err)
	}

	c.queue.Acknowledge(sess.ID)
	sess.Request.settle(Outcome{TimedOut: true})
	c.sessions.End(sess.ID, EndExpire)

	c.tryMatchLocked()
	c.maybeStopLocked()
}

func (c *Coordinator) sendStopTimer(sess *Session) {
	env := protocol.MustEnvelope(protocol.TypeStopTimer, nil)
	env.SessionID = sess.ID
	if err := sess.Conn.Send(env); err != nil {
		c.logger.Warn("Failed to send stop_timer", "session_id", sess.ID, "error", err)
	}
}

// handleSessionDeadline runs when a session's deadline timer fires.
func (c *Coordinator) handleSessionDeadline(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess := c.sessions.Get(sessionID)
	if sess == nil {
		return // acknowledged or ended first
	}
	c.expireLocked(sess)
}

// handleRequestExpired runs when a request's patience timer fires. Where the
// request currently sits decides the consequence: a bound session expires, a
// leased request without a session is requeued, a waiting request resolves
// the sentinel directly.
func (c *Coordinator) handleRequestExpired(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sess := c.sessions.Get(requestID); sess != nil {
		c.expireLocked(sess)
		return
	}

	if c.queue.Get(requestID) != nil {
		c.queue.Requeue(requestID, "lease expired")
		c.tryMatchLocked()
		c.maybeStopLocked()
		return
	}

	if req := c.queue.TakeWaiting(requestID); req != nil {
		c.logger.Info("Request timed out before any client attached", "request_id", requestID)
		req.settle(Outcome{TimedOut: true})
		c.maybeStopLocked()
	}
}

// handleGraceElapsed runs when the deferred-stop grace timer fires.
func (c *Coordinator) handleGraceElapsed() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lifecycle.GraceElapsed(ctx)
}

// busyLocked reports whether any work or connection is outstanding.
func (c *Coordinator) busyLocked() bool {
	return c.conns.Count() > 0 ||
		c.sessions.Count() > 0 ||
		c.queue.WaitingLen() > 0 ||
		c.queue.InFlightLen() > 0
}

// maybeStopLocked schedules a deferred stop once everything is idle.
func (c *Coordinator) maybeStopLocked() {
	if c.busyLocked() {
		return
	}
	if c.lifecycle.State() != StateRunning {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := c.lifecycle.Stop(ctx, false); err != nil {
		c.logger.Error("Failed to schedule stop", "error", err)
	}
}

// shutdownLocked rejects all outstanding work and closes connections. Runs
// as the lifecycle controller's shutdown hook.
func (c *Coordinator) shutdownLocked() {
	for _, sess := range c.sessions.All() {
		c.sessions.End(sess.ID, EndShutdown)
	}

	for _, req := range c.queue.Drain() {
		req.settle(Outcome{Err: &protocol.SessionError{
			Code:    protocol.CodeServerStopping,
			Message: "server stopping",
		}})
	}

	for _, tracked := range c.conns.All() {
		_ = tracked.Conn.Close()
		c.conns.Remove(tracked.Conn.ID())
	}
}
