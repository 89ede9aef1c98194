package protocol

// Stable error codes carried in error envelopes and typed errors.
const (
	// CodeInvalidMessageFormat indicates a malformed inbound frame
	CodeInvalidMessageFormat = "INVALID_MESSAGE_FORMAT"
	// CodeSessionNotFound indicates the sender has no bound session
	CodeSessionNotFound = "SESSION_NOT_FOUND"
	// CodeUnhandledMessageType indicates no handler is registered for the type
	CodeUnhandledMessageType = "UNHANDLED_MESSAGE_TYPE"
	// CodeInternalError indicates a handler failure; details stay server-side
	CodeInternalError = "INTERNAL_ERROR"
	// CodeRetryCapExceeded indicates a request failed its final retry
	CodeRetryCapExceeded = "RETRY_CAP_EXCEEDED"
	// CodeServerStopping indicates the request was rejected by shutdown
	CodeServerStopping = "SERVER_STOPPING"
)

// SessionError is a terminal failure of a feedback request, rejected to the
// original submitter with a stable code.
type SessionError struct {
	Code    string
	Message string
}

func (e *SessionError) Error() string {
	return e.Code + ": " + e.Message
}

// ValidationError reports a malformed request or wire frame.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Code + ": " + e.Message
}
