package coordinator

import (
	"log/slog"
	"time"
)

// Notification is a fire-and-forget record. Resolution happened at enqueue
// time; the acknowledged flag is advisory only.
type Notification struct {
	ID               string
	Summary          string
	ProjectDirectory string
	CreatedAt        time.Time
	Acknowledged     bool
}

// NotificationStore keeps recent notifications in a bounded ring: past
// capacity the oldest entry is evicted, and a periodic sweep drops entries
// past the maximum age. Eviction never touches already-resolved futures.
type NotificationStore struct {
	byID     map[string]*Notification
	order    []string // oldest first
	capacity int
	maxAge   time.Duration
	logger   *slog.Logger
}

// NewNotificationStore creates a store holding at most capacity entries for
// at most maxAge each.
func NewNotificationStore(capacity int, maxAge time.Duration, logger *slog.Logger) *NotificationStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationStore{
		byID:     make(map[string]*Notification),
		capacity: capacity,
		maxAge:   maxAge,
		logger:   logger,
	}
}

// Add records a notification unconditionally, evicting the oldest entry when
// the ring is full.
func (ns *NotificationStore) Add(n *Notification) {
	if len(ns.order) >= ns.capacity {
		oldest := ns.order[0]
		ns.order = ns.order[1:]
		delete(ns.byID, oldest)
		ns.logger.Debug("Evicted oldest notification", "notification_id", oldest)
	}
	ns.byID[n.ID] = n
	ns.order = append(ns.order, n.ID)
}

// Acknowledge marks a notification as seen. Advisory only; returns false for
// unknown ids.
func (ns *NotificationStore) Acknowledge(id string) bool {
	n, ok := ns.byID[id]
	if !ok {
		return false
	}
	n.Acknowledged = true
	return true
}

// Get returns a notification by id, or nil.
func (ns *NotificationStore) Get(id string) *Notification {
	return ns.byID[id]
}

// Sweep evicts notifications older than the maximum age, returning the
// number removed.
func (ns *NotificationStore) Sweep(now time.Time) int {
	removed := 0
	kept := ns.order[:0]
	for _, id := range ns.order {
		n := ns.byID[id]
		if now.Sub(n.CreatedAt) > ns.maxAge {
			delete(ns.byID, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	ns.order = kept
	if removed > 0 {
		ns.logger.Info("Swept aged notifications", "count", removed)
	}
	return removed
}

// Count returns the number of stored notifications.
func (ns *NotificationStore) Count() int { return len(ns.order) }
