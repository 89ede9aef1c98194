package coordinator

import (
	"errors"
	"log/slog"
	"time"

	"github.com/feedbridge/feedbridge/internal/protocol"
	"github.com/feedbridge/feedbridge/internal/transport"
)

// ErrDuplicateSession indicates the connection already owns a session.
var ErrDuplicateSession = errors.New("connection already owns a session")

// EndReason names why a session terminated. Each reason maps to exactly one
// consequence for the underlying request, decided by the coordinator:
// acknowledge (ack, expire), requeue (disconnect), or reject (shutdown).
type EndReason string

const (
	// EndAck: the client submitted feedback; the request is done
	EndAck EndReason = "ack"
	// EndExpire: the deadline passed; resolve the sentinel and give up gracefully
	EndExpire EndReason = "expire"
	// EndDisconnect: the connection vanished; the request gets another chance
	EndDisconnect EndReason = "disconnect"
	// EndShutdown: the server is stopping; the request is rejected
	EndShutdown EndReason = "shutdown"
)

// Session pairs a leased interactive request with a connection for the
// duration of one feedback exchange.
type Session struct {
	ID             string // equal to the request id
	Conn           transport.Conn
	Request        *PendingRequest
	StartTime      time.Time
	TimeoutSeconds int

	deadline *time.Timer
}

// SessionRegistry owns the live sessions and their deadline timers. Like the
// queue, it relies on the coordinator's lock for synchronization.
type SessionRegistry struct {
	sessions map[string]*Session // session id -> session
	byConn   map[string]*Session // connection id -> session

	timeout time.Duration
	logger  *slog.Logger

	// onDeadline fires from the timer goroutine when a session deadline
	// passes; the coordinator serializes it and re-checks existence.
	onDeadline func(sessionID string)
}

// NewSessionRegistry creates an empty registry with the given deadline.
func NewSessionRegistry(timeout time.Duration, logger *slog.Logger) *SessionRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionRegistry{
		sessions: make(map[string]*Session),
		byConn:   make(map[string]*Session),
		timeout:  timeout,
		logger:   logger,
	}
}

// SetDeadlineFunc installs the deadline callback. Must be set before the
// first Create.
func (sr *SessionRegistry) SetDeadlineFunc(fn func(sessionID string)) {
	sr.onDeadline = fn
}

// Create binds a leased request to a connection, starts the deadline timer,
// and immediately sends the request and system info to the client. Fails with
// ErrDuplicateSession if the connection already owns a session.
func (sr *SessionRegistry) Create(conn transport.Conn, req *PendingRequest) (*Session, error) {
	if _, exists := sr.byConn[conn.ID()]; exists {
		return nil, ErrDuplicateSession
	}

	sess := &Session{
		ID:             req.ID,
		Conn:           conn,
		Request:        req,
		StartTime:      time.Now(),
		TimeoutSeconds: int(sr.timeout / time.Second),
	}

	id := sess.ID
	sess.deadline = time.AfterFunc(sr.timeout, func() {
		if sr.onDeadline != nil {
			sr.onDeadline(id)
		}
	})

	sr.sessions[sess.ID] = sess
	sr.byConn[conn.ID()] = sess

	sr.logger.Info("Session created",
		"session_id", sess.ID,
		"conn_id", conn.ID(),
		"timeout_seconds", sess.TimeoutSeconds,
	)

	sr.deliverRequest(sess)
	return sess, nil
}

// deliverRequest sends the session_request and system_info envelopes to the
// client. Send failures are logged, not fatal: a dead connection surfaces
// shortly as a disconnect and the request is requeued there.
func (sr *SessionRegistry) deliverRequest(sess *Session) {
	reqEnv := protocol.MustEnvelope(protocol.TypeSessionRequest, protocol.SessionRequestData{
		SessionID:        sess.ID,
		Summary:          sess.Request.Summary,
		ProjectDirectory: sess.Request.ProjectDirectory,
		StartTime:        sess.StartTime.UnixMilli(),
		TimeoutSeconds:   sess.TimeoutSeconds,
	})
	reqEnv.SessionID = sess.ID
	if err := sess.Conn.Send(reqEnv); err != nil {
		sr.logger.Warn("Failed to deliver session request",
			"session_id", sess.ID, "error", err)
	}

	if err := sess.Conn.Send(sr.systemInfo(sess)); err != nil {
		sr.logger.Warn("Failed to deliver system info",
			"session_id", sess.ID, "error", err)
	}
}

func (sr *SessionRegistry) systemInfo(sess *Session) protocol.Envelope {
	env := protocol.MustEnvelope(protocol.TypeSystemInfo, protocol.SystemInfoData{
		SessionID:           sess.ID,
		WorkspaceDirectory:  sess.Request.ProjectDirectory,
		SessionStartTime:    sess.StartTime.UnixMilli(),
		LeaseTimeoutSeconds: sess.TimeoutSeconds,
	})
	env.SessionID = sess.ID
	return env
}

// Get returns the session by id, or nil.
func (sr *SessionRegistry) Get(sessionID string) *Session {
	return sr.sessions[sessionID]
}

// ByConn returns the session bound to a connection, or nil.
func (sr *SessionRegistry) ByConn(connID string) *Session {
	return sr.byConn[connID]
}

// End cancels the deadline timer and removes the session. It deliberately
// does not decide acknowledge versus requeue; the coordinator chooses based
// on the reason. Returns nil if the session is already gone.
func (sr *SessionRegistry) End(sessionID string, reason EndReason) *Session {
	sess, ok := sr.sessions[sessionID]
	if !ok {
		return nil
	}

	sess.deadline.Stop()
	delete(sr.sessions, sessionID)
	delete(sr.byConn, sess.Conn.ID())

	sr.logger.Info("Session ended",
		"session_id", sessionID,
		"conn_id", sess.Conn.ID(),
		"reason", reason,
	)
	return sess
}

// Count returns the number of live sessions.
func (sr *SessionRegistry) Count() int { return len(sr.sessions) }

// All returns a snapshot of the live sessions.
func (sr *SessionRegistry) All() []*Session {
	out := make([]*Session, 0, len(sr.sessions))
	for _, sess := range sr.sessions {
		out = append(out, sess)
	}
	return out
}
