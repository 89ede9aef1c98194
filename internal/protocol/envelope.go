// Package protocol defines the JSON wire envelope exchanged with UI clients
// and the typed errors surfaced to submitters.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Server-to-client message types
const (
	// TypeSessionRequest delivers a pending feedback request to a client
	TypeSessionRequest = "session_request"
	// TypeNotification announces a fire-and-forget notice to a client
	TypeNotification = "notification"
	// TypeSystemInfo carries session and workspace metadata
	TypeSystemInfo = "system_info"
	// TypeError reports a structured error to the client
	TypeError = "error"
	// TypePong answers a client ping
	TypePong = "pong"
	// TypeTimeout informs the client its session deadline was reached
	TypeTimeout = "timeout"
	// TypeStopTimer tells the client to stop its countdown display
	TypeStopTimer = "stop_timer"
	// TypeFeedbackStatus confirms a feedback submission was accepted
	TypeFeedbackStatus = "feedback_status"
)

// Client-to-server message types
const (
	// TypeClientReady announces a client is ready to receive a request
	TypeClientReady = "client_ready"
	// TypeSubmitFeedback carries the user's feedback for the bound session
	TypeSubmitFeedback = "submit_feedback"
	// TypeUserFeedback is accepted as an alias of TypeSubmitFeedback
	TypeUserFeedback = "user_feedback"
	// TypeSessionAcknowledge is an advisory acknowledgement of a session or notification
	TypeSessionAcknowledge = "session_acknowledge"
	// TypePing is a connectivity heartbeat
	TypePing = "ping"
)

// Envelope is the JSON frame carried over the duplex connection.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// NewEnvelope builds an envelope of the given type, marshaling data as the
// payload. A nil data produces an envelope with no payload.
func NewEnvelope(msgType string, data any) (Envelope, error) {
	env := Envelope{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
		}
		env.Data = raw
	}
	return env, nil
}

// MustEnvelope is NewEnvelope for payload types known to marshal cleanly.
func MustEnvelope(msgType string, data any) Envelope {
	env, err := NewEnvelope(msgType, data)
	if err != nil {
		panic(err)
	}
	return env
}

// Decode parses an inbound frame. It returns a ValidationError with code
// CodeInvalidMessageFormat when the frame is not valid JSON or the type
// field is empty.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, &ValidationError{
			Code:    CodeInvalidMessageFormat,
			Message: fmt.Sprintf("invalid message frame: %v", err),
		}
	}
	if env.Type == "" {
		return Envelope{}, &ValidationError{
			Code:    CodeInvalidMessageFormat,
			Message: "message type is required",
		}
	}
	return env, nil
}

// DecodeData unmarshals the envelope payload into dst.
func (e Envelope) DecodeData(dst any) error {
	if len(e.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Data, dst); err != nil {
		return &ValidationError{
			Code:    CodeInvalidMessageFormat,
			Message: fmt.Sprintf("invalid %s payload: %v", e.Type, err),
		}
	}
	return nil
}

// SessionRequestData is the payload of a session_request envelope.
type SessionRequestData struct {
	SessionID        string `json:"sessionId"`
	Summary          string `json:"summary"`
	ProjectDirectory string `json:"projectDirectory"`
	StartTime        int64  `json:"startTime"`
	TimeoutSeconds   int    `json:"timeoutSeconds"`
}

// NotificationData is the payload of a notification envelope.
type NotificationData struct {
	NotificationID   string `json:"notificationId"`
	Summary          string `json:"summary"`
	ProjectDirectory string `json:"projectDirectory"`
	CreatedAt        int64  `json:"createdAt"`
}

// SystemInfoData is the payload of a system_info envelope.
type SystemInfoData struct {
	SessionID           string `json:"sessionId"`
	WorkspaceDirectory  string `json:"workspaceDirectory"`
	SessionStartTime    int64  `json:"sessionStartTime"`
	LeaseTimeoutSeconds int    `json:"leaseTimeoutSeconds"`
}

// ErrorData is the payload of an error envelope.
type ErrorData struct {
	Message   string `json:"message"`
	Code      string `json:"code"`
	SessionID string `json:"sessionId,omitempty"`
}

// FeedbackData is the payload of submit_feedback / user_feedback envelopes.
type FeedbackData struct {
	Text      string `json:"text,omitempty"`
	ImageData string `json:"imageData,omitempty"`
}

// AcknowledgeData is the payload of a session_acknowledge envelope. Exactly
// one of SessionID or NotificationID is expected.
type AcknowledgeData struct {
	SessionID      string `json:"sessionId,omitempty"`
	NotificationID string `json:"notificationId,omitempty"`
}

// FeedbackStatusData is the payload of a feedback_status envelope.
type FeedbackStatusData struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
}

// PongData is the payload of a pong envelope.
type PongData struct {
	Timestamp int64 `json:"timestamp"`
}
