package coordinator

import (
	"time"

	"github.com/feedbridge/feedbridge/internal/protocol"
	"github.com/feedbridge/feedbridge/internal/transport"
)

// registerBuiltins installs the built-in message handlers. Handlers run with
// the coordinator's lock held (the router is invoked from HandleMessage), so
// they call the *Locked helpers directly.
func (c *Coordinator) registerBuiltins() {
	c.router.Register(protocol.TypeSubmitFeedback, false, c.handleSubmitFeedback)
	c.router.Register(protocol.TypeUserFeedback, false, c.handleSubmitFeedback)
	c.router.Register(protocol.TypeSystemInfo, false, c.handleSystemInfoRequest)
	c.router.Register(protocol.TypePing, true, c.handlePing)
	c.router.Register(protocol.TypeClientReady, true, c.handleClientReady)
	c.router.Register(protocol.TypeSessionAcknowledge, true, c.handleSessionAcknowledge)
}

// handleSubmitFeedback resolves the bound session's request with the user's
// feedback and ends the session.
func (c *Coordinator) handleSubmitFeedback(_ transport.Conn, sess *Session, env protocol.Envelope) error {
	var fb protocol.FeedbackData
	if err := env.DecodeData(&fb); err != nil {
		return err
	}

	c.logger.Info("Feedback received",
		"session_id", sess.ID,
		"has_text", fb.Text != "",
		"has_image", fb.ImageData != "",
	)
	c.completeFeedbackLocked(sess, &fb)
	return nil
}

// handleSystemInfoRequest re-sends the session's system info on demand.
func (c *Coordinator) handleSystemInfoRequest(conn transport.Conn, sess *Session, _ protocol.Envelope) error {
	return conn.Send(c.sessions.systemInfo(sess))
}

// handlePing answers the connectivity heartbeat.
func (c *Coordinator) handlePing(conn transport.Conn, _ *Session, _ protocol.Envelope) error {
	return conn.Send(protocol.MustEnvelope(protocol.TypePong, protocol.PongData{
		Timestamp: time.Now().UnixMilli(),
	}))
}

// handleClientReady triggers an immediate match attempt so a client that
// announces readiness gets the oldest waiting request right away.
func (c *Coordinator) handleClientReady(conn transport.Conn, _ *Session, _ protocol.Envelope) error {
	c.logger.Debug("Client ready", "conn_id", conn.ID())
	c.tryMatchLocked()
	return nil
}

// handleSessionAcknowledge marks a notification as seen. Advisory only: it
// never affects delivery state. A sessionId ack is accepted as a no-op.
func (c *Coordinator) handleSessionAcknowledge(_ transport.Conn, _ *Session, env protocol.Envelope) error {
	var ack protocol.AcknowledgeData
	if err := env.DecodeData(&ack); err != nil {
		return err
	}

	if ack.NotificationID != "" {
		if !c.notifications.Acknowledge(ack.NotificationID) {
			c.logger.Debug("Acknowledge for unknown notification",
				"notification_id", ack.NotificationID)
		}
	}
	return nil
}
