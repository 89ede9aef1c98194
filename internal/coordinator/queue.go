package coordinator

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/feedbridge/feedbridge/internal/protocol"
)

// RequestMode selects the delivery semantics of a pending request.
type RequestMode string

const (
	// ModeInteractive requires a human reply before the request resolves
	ModeInteractive RequestMode = "interactive"
	// ModeNotification resolves immediately; delivery is best-effort announce
	ModeNotification RequestMode = "notification"
)

// Outcome is the settled result of a submitted request. Exactly one of the
// fields is meaningful: Feedback for a human reply, TimedOut for the
// "no feedback, proceed" sentinel, Err for a terminal failure.
type Outcome struct {
	Feedback *protocol.FeedbackData
	TimedOut bool
	Err      error
}

// PendingRequest is the unit of work flowing through the queue.
type PendingRequest struct {
	ID               string
	Summary          string
	ProjectDirectory string
	Mode             RequestMode
	CreatedAt        time.Time
	RetryCount       int
	LeasedAt         time.Time

	// expiry covers the request's whole patience window, from enqueue
	// through any number of leases. Interactive mode only.
	expiry *time.Timer

	outcome chan Outcome
	settled bool
}

func newPendingRequest(summary, projectDir string, mode RequestMode) *PendingRequest {
	return &PendingRequest{
		ID:               uuid.New().String(),
		Summary:          summary,
		ProjectDirectory: projectDir,
		Mode:             mode,
		CreatedAt:        time.Now(),
		outcome:          make(chan Outcome, 1),
	}
}

// settle delivers the outcome to the submitter. The first settlement wins;
// later calls are no-ops, which keeps the acknowledge, expiry, requeue-cap
// and shutdown paths mutually exclusive without extra bookkeeping.
func (r *PendingRequest) settle(o Outcome) bool {
	if r.settled {
		return false
	}
	r.settled = true
	r.outcome <- o
	return true
}

// Wait returns the channel the submitter blocks on.
func (r *PendingRequest) Wait() <-chan Outcome {
	return r.outcome
}

func (r *PendingRequest) stopExpiry() {
	if r.expiry != nil {
		r.expiry.Stop()
	}
}

// RequestQueue holds not-yet-leased requests in FIFO order and tracks leased
// requests. It is not self-synchronizing: all methods must be called with the
// coordinator's lock held (timer callbacks re-enter through the coordinator,
// which restores that invariant).
type RequestQueue struct {
	waiting  []*PendingRequest
	inflight map[string]*PendingRequest

	requestTimeout time.Duration
	retryCap       int
	logger         *slog.Logger

	// onExpired is invoked from the timer goroutine when an interactive
	// request's patience window closes; the coordinator serializes it and
	// re-checks where the request currently is.
	onExpired func(requestID string)
}

// NewRequestQueue creates an empty queue.
func NewRequestQueue(requestTimeout time.Duration, retryCap int, logger *slog.Logger) *RequestQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &RequestQueue{
		inflight:       make(map[string]*PendingRequest),
		requestTimeout: requestTimeout,
		retryCap:       retryCap,
		logger:         logger,
	}
}

// SetExpiredFunc installs the expiry callback. Must be set before the first
// Enqueue.
func (q *RequestQueue) SetExpiredFunc(fn func(requestID string)) {
	q.onExpired = fn
}

// Enqueue appends a request to the tail of the waiting FIFO. Interactive
// requests start their patience timer here so that a request no client ever
// picks up still resolves its timeout sentinel.
func (q *RequestQueue) Enqueue(req *PendingRequest) {
	if req.Mode == ModeInteractive && q.onExpired != nil {
		id := req.ID
		req.expiry = time.AfterFunc(q.requestTimeout, func() {
			q.onExpired(id)
		})
	}
	q.waiting = append(q.waiting, req)
	q.logger.Info("Request enqueued",
		"request_id", req.ID,
		"mode", req.Mode,
		"queue_depth", len(q.waiting),
	)
}

// LeaseNext pops the oldest waiting request and marks it leased, recording
// the lease timestamp. Strictly FIFO by enqueue order, never by mode.
// Returns nil when the queue is empty.
func (q *RequestQueue) LeaseNext() *PendingRequest {
	if len(q.waiting) == 0 {
		return nil
	}

	req := q.waiting[0]
	q.waiting = q.waiting[1:]
	req.LeasedAt = time.Now()
	q.inflight[req.ID] = req

	q.logger.Debug("Request leased",
		"request_id", req.ID,
		"mode", req.Mode,
		"retry_count", req.RetryCount,
	)
	return req
}

// Acknowledge removes a leased request and cancels its timer. Returns false
// when the id is not in flight (already acknowledged, expired, or unknown);
// callers treat that as a no-op, not an error.
func (q *RequestQueue) Acknowledge(requestID string) bool {
	req, ok := q.inflight[requestID]
	if !ok {
		return false
	}
	req.stopExpiry()
	delete(q.inflight, requestID)
	return true
}

// Requeue returns a leased request to the front of the waiting FIFO, keeping
// its priority over newer work. When the retry cap is exceeded the request is
// rejected with reason and dropped permanently. Returns true when the request
// went terminal.
func (q *RequestQueue) Requeue(requestID, reason string) bool {
	req, ok := q.inflight[requestID]
	if !ok {
		return false
	}
	delete(q.inflight, requestID)
	req.RetryCount++

	if req.RetryCount > q.retryCap {
		q.logger.Warn("Retry cap exceeded, rejecting request",
			"request_id", req.ID,
			"retry_count", req.RetryCount,
			"retry_cap", q.retryCap,
			"reason", reason,
		)
		req.stopExpiry()
		req.settle(Outcome{Err: &protocol.SessionError{
			Code:    protocol.CodeRetryCapExceeded,
			Message: fmt.Sprintf("request failed after %d retries: %s", q.retryCap, reason),
		}})
		return true
	}

	q.waiting = append([]*PendingRequest{req}, q.waiting...)
	q.logger.Info("Request requeued",
		"request_id", req.ID,
		"retry_count", req.RetryCount,
		"reason", reason,
	)
	return false
}

// Get returns the in-flight request for id, or nil.
func (q *RequestQueue) Get(requestID string) *PendingRequest {
	return q.inflight[requestID]
}

// TakeWaiting removes and returns a waiting request by id, cancelling its
// timer. Returns nil if the request is not waiting.
func (q *RequestQueue) TakeWaiting(requestID string) *PendingRequest {
	for i, req := range q.waiting {
		if req.ID == requestID {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			req.stopExpiry()
			return req
		}
	}
	return nil
}

// WaitingLen returns the number of not-yet-leased requests.
func (q *RequestQueue) WaitingLen() int { return len(q.waiting) }

// InFlightLen returns the number of leased requests.
func (q *RequestQueue) InFlightLen() int { return len(q.inflight) }

// Drain removes every request, waiting and in flight, cancelling timers.
// The caller settles the returned requests.
func (q *RequestQueue) Drain() []*PendingRequest {
	drained := make([]*PendingRequest, 0, len(q.waiting)+len(q.inflight))
	for _, req := range q.waiting {
		req.stopExpiry()
		drained = append(drained, req)
	}
	q.waiting = nil

	for id, req := range q.inflight {
		req.stopExpiry()
		delete(q.inflight, id)
		drained = append(drained, req)
	}
	return drained
}
