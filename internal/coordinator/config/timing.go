package config

import "time"

// Default timing and sizing values used throughout the coordinator.
const (
	// DefaultSessionTimeout bounds how long a leased interactive request
	// waits for human feedback before resolving the timeout sentinel
	DefaultSessionTimeout = 600 * time.Second

	// DefaultShutdownGrace is how long the server idles before the
	// transport listener is released
	DefaultShutdownGrace = 10 * time.Second

	// DefaultRetryCap is the number of requeues a request survives before
	// it is terminally rejected
	DefaultRetryCap = 3

	// DefaultListenAddr is where the WebSocket listener binds
	DefaultListenAddr = "127.0.0.1:8765"

	// DefaultNotificationCapacity bounds the notification ring
	DefaultNotificationCapacity = 100

	// DefaultNotificationMaxAge is the retention window for notifications
	DefaultNotificationMaxAge = time.Hour

	// DefaultNotificationSweepInterval is how often aged notifications
	// are evicted
	DefaultNotificationSweepInterval = 5 * time.Minute
)
