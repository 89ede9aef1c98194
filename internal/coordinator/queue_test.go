package coordinator

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedbridge/feedbridge/internal/protocol"
)

func TestQueueLeaseOrderIsFIFO(t *testing.T) {
	q := NewRequestQueue(time.Minute, 3, testLogger())

	first := newPendingRequest("first", "/tmp", ModeInteractive)
	second := newPendingRequest("second", "/tmp", ModeNotification)
	third := newPendingRequest("third", "/tmp", ModeInteractive)
	q.Enqueue(first)
	q.Enqueue(second)
	q.Enqueue(third)

	// Strict enqueue order, never by mode.
	require.Equal(t, first.ID, q.LeaseNext().ID)
	require.Equal(t, second.ID, q.LeaseNext().ID)
	require.Equal(t, third.ID, q.LeaseNext().ID)
	require.Nil(t, q.LeaseNext())
}

func TestQueueAcknowledgeUnknownIsNoOp(t *testing.T) {
	q := NewRequestQueue(time.Minute, 3, testLogger())

	assert.False(t, q.Acknowledge("missing"))

	req := newPendingRequest("s", "/tmp", ModeInteractive)
	q.Enqueue(req)
	q.LeaseNext()

	assert.True(t, q.Acknowledge(req.ID))
	assert.False(t, q.Acknowledge(req.ID), "second acknowledge must be a no-op")
}

func TestQueueRequeuePutsRequestAtFront(t *testing.T) {
	q := NewRequestQueue(time.Minute, 3, testLogger())

	older := newPendingRequest("older", "/tmp", ModeInteractive)
	newer := newPendingRequest("newer", "/tmp", ModeInteractive)
	q.Enqueue(older)
	q.Enqueue(newer)

	leased := q.LeaseNext()
	require.Equal(t, older.ID, leased.ID)

	terminal := q.Requeue(older.ID, "connection lost")
	require.False(t, terminal)
	assert.Equal(t, 1, older.RetryCount)

	// The retried request keeps priority over newer work.
	require.Equal(t, older.ID, q.LeaseNext().ID)
	require.Equal(t, newer.ID, q.LeaseNext().ID)
}

func TestQueueRetryCapRejectsRequest(t *testing.T) {
	q := NewRequestQueue(time.Minute, 3, testLogger())

	req := newPendingRequest("s", "/tmp", ModeInteractive)
	q.Enqueue(req)

	// Three failures requeue; the fourth goes terminal.
	for i := 1; i <= 3; i++ {
		q.LeaseNext()
		require.False(t, q.Requeue(req.ID, "connection lost"), "failure %d should requeue", i)
		assert.Equal(t, i, req.RetryCount)
	}
	q.LeaseNext()
	require.True(t, q.Requeue(req.ID, "connection lost"))

	outcome := waitOutcome(t, req, time.Second)
	require.Error(t, outcome.Err)
	var sessErr *protocol.SessionError
	require.True(t, errors.As(outcome.Err, &sessErr))
	assert.Equal(t, protocol.CodeRetryCapExceeded, sessErr.Code)

	// Never leased again.
	assert.Equal(t, 0, q.WaitingLen())
	assert.Equal(t, 0, q.InFlightLen())
}

func TestQueueExpiryFiresForWaitingRequest(t *testing.T) {
	var mu sync.Mutex
	var expired []string

	q := NewRequestQueue(30*time.Millisecond, 3, testLogger())
	q.SetExpiredFunc(func(id string) {
		mu.Lock()
		defer mu.Unlock()
		expired = append(expired, id)
	})

	req := newPendingRequest("s", "/tmp", ModeInteractive)
	q.Enqueue(req)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(expired) == 1 && expired[0] == req.ID
	}, time.Second, 5*time.Millisecond)
}

func TestQueueNotificationGetsNoExpiryTimer(t *testing.T) {
	fired := make(chan string, 1)

	q := NewRequestQueue(10*time.Millisecond, 3, testLogger())
	q.SetExpiredFunc(func(id string) { fired <- id })

	q.Enqueue(newPendingRequest("notice", "/tmp", ModeNotification))

	select {
	case id := <-fired:
		t.Fatalf("notification request %s should not expire", id)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestQueueAcknowledgeCancelsExpiry(t *testing.T) {
	fired := make(chan string, 1)

	q := NewRequestQueue(30*time.Millisecond, 3, testLogger())
	q.SetExpiredFunc(func(id string) { fired <- id })

	req := newPendingRequest("s", "/tmp", ModeInteractive)
	q.Enqueue(req)
	q.LeaseNext()
	require.True(t, q.Acknowledge(req.ID))

	select {
	case <-fired:
		t.Fatal("expiry fired after acknowledge")
	case <-time.After(80 * time.Millisecond):
	}
}

func TestQueueDrainSettlesNothing(t *testing.T) {
	q := NewRequestQueue(time.Minute, 3, testLogger())

	waiting := newPendingRequest("waiting", "/tmp", ModeInteractive)
	leased := newPendingRequest("leased", "/tmp", ModeInteractive)
	q.Enqueue(leased)
	q.Enqueue(waiting)
	q.LeaseNext()

	drained := q.Drain()
	require.Len(t, drained, 2)
	assert.Equal(t, 0, q.WaitingLen())
	assert.Equal(t, 0, q.InFlightLen())

	for _, req := range drained {
		select {
		case <-req.Wait():
			t.Fatalf("drain must leave settlement to the caller (request %s)", req.ID)
		default:
		}
	}
}

func TestRequestSettleIsExactlyOnce(t *testing.T) {
	req := newPendingRequest("s", "/tmp", ModeInteractive)

	require.True(t, req.settle(Outcome{TimedOut: true}))
	require.False(t, req.settle(Outcome{Feedback: &protocol.FeedbackData{Text: "late"}}))

	outcome := waitOutcome(t, req, time.Second)
	assert.True(t, outcome.TimedOut)
	assert.Nil(t, outcome.Feedback)

	select {
	case <-req.Wait():
		t.Fatal("outcome channel delivered twice")
	default:
	}
}
