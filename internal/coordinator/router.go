package coordinator

import (
	"errors"
	"log/slog"

	"github.com/feedbridge/feedbridge/internal/protocol"
	"github.com/feedbridge/feedbridge/internal/transport"
)

// HandlerFunc processes one inbound envelope. sess is nil only for message
// types registered as session-less.
type HandlerFunc func(conn transport.Conn, sess *Session, env protocol.Envelope) error

// MessageRouter dispatches inbound frames by message type under the
// caller's session binding. Handler failures are converted to wire error
// envelopes and never crash the coordinator.
type MessageRouter struct {
	handlers    map[string]HandlerFunc
	sessionless map[string]bool

	// resolve maps a connection id to its bound session, or nil.
	resolve func(connID string) *Session
	logger  *slog.Logger
}

// NewMessageRouter creates a router resolving sessions through resolve.
func NewMessageRouter(resolve func(connID string) *Session, logger *slog.Logger) *MessageRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageRouter{
		handlers:    make(map[string]HandlerFunc),
		sessionless: make(map[string]bool),
		resolve:     resolve,
		logger:      logger,
	}
}

// Register installs the handler for a message type. Session-less types accept
// callers with no bound session. Re-registration replaces with a warning.
func (mr *MessageRouter) Register(msgType string, sessionless bool, h HandlerFunc) {
	if _, exists := mr.handlers[msgType]; exists {
		mr.logger.Warn("Replacing handler", "type", msgType)
	}
	mr.handlers[msgType] = h
	mr.sessionless[msgType] = sessionless
}

// Route validates and dispatches one inbound frame.
func (mr *MessageRouter) Route(conn transport.Conn, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			mr.logger.Error("Handler panic",
				"conn_id", conn.ID(),
				"panic", r,
			)
			mr.sendError(conn, protocol.CodeInternalError, "internal error", "")
		}
	}()

	env, err := protocol.Decode(raw)
	if err != nil {
		var verr *protocol.ValidationError
		if errors.As(err, &verr) {
			mr.sendError(conn, verr.Code, verr.Message, "")
		} else {
			mr.sendError(conn, protocol.CodeInvalidMessageFormat, err.Error(), "")
		}
		return
	}

	handler, ok := mr.handlers[env.Type]
	if !ok {
		mr.logger.Warn("Unhandled message type", "type", env.Type, "conn_id", conn.ID())
		mr.sendError(conn, protocol.CodeUnhandledMessageType, "no handler for type "+env.Type, env.SessionID)
		return
	}

	sess := mr.resolve(conn.ID())
	if sess == nil && !mr.sessionless[env.Type] {
		mr.sendError(conn, protocol.CodeSessionNotFound, "no session bound to this connection", env.SessionID)
		return
	}

	if err := handler(conn, sess, env); err != nil {
		mr.logger.Error("Handler failed",
			"type", env.Type,
			"conn_id", conn.ID(),
			"error", err,
		)
		code := protocol.CodeInternalError
		msg := "internal error"
		var verr *protocol.ValidationError
		if errors.As(err, &verr) {
			code, msg = verr.Code, verr.Message
		}
		mr.sendError(conn, code, msg, env.SessionID)
	}
}

func (mr *MessageRouter) sendError(conn transport.Conn, code, message, sessionID string) {
	env := protocol.MustEnvelope(protocol.TypeError, protocol.ErrorData{
		Message:   message,
		Code:      code,
		SessionID: sessionID,
	})
	if err := conn.Send(env); err != nil {
		mr.logger.Warn("Failed to send error envelope", "conn_id", conn.ID(), "error", err)
	}
}
