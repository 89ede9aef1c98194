package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/feedbridge/feedbridge/internal/transport"
)

// ServerState is the lifecycle state of the transport listener.
type ServerState string

const (
	// StateStopped: no listener bound, no work outstanding
	StateStopped ServerState = "stopped"
	// StateStarting: listener is binding
	StateStarting ServerState = "starting"
	// StateRunning: listener is accepting connections
	StateRunning ServerState = "running"
	// StateStopping: shutdown scheduled or in progress
	StateStopping ServerState = "stopping"
)

// LifecycleController drives the transport listener around activity level:
// started on the first submitted request, stopped after a grace delay once
// the queue, sessions, and connections are all empty. Transitions follow
// stopped -> starting -> running -> stopping -> stopped, with the single
// allowed shortcut of cancelling a scheduled stop back to running.
//
// All methods must be called with the coordinator's lock held; the grace
// timer re-enters through the coordinator.
type LifecycleController struct {
	state    ServerState
	listener transport.Listener
	grace    time.Duration
	logger   *slog.Logger

	stopTimer *time.Timer

	// busy reports whether any connection, session, or queued request exists.
	busy func() bool
	// shutdown rejects outstanding work and closes connections.
	shutdown func()
	// onGraceElapsed re-enters the coordinator when the grace timer fires.
	onGraceElapsed func()
}

// NewLifecycleController creates a controller in the stopped state.
func NewLifecycleController(listener transport.Listener, grace time.Duration, logger *slog.Logger) *LifecycleController {
	if logger == nil {
		logger = slog.Default()
	}
	return &LifecycleController{
		state:    StateStopped,
		listener: listener,
		grace:    grace,
		logger:   logger,
	}
}

// SetHooks installs the idleness probe, the shutdown action, and the grace
// timer re-entry point. Must be called before the first Start.
func (lc *LifecycleController) SetHooks(busy func() bool, shutdown func(), onGraceElapsed func()) {
	lc.busy = busy
	lc.shutdown = shutdown
	lc.onGraceElapsed = onGraceElapsed
}

// State returns the current lifecycle state.
func (lc *LifecycleController) State() ServerState { return lc.state }

// Start brings the listener up. Idempotent: a no-op when already starting or
// running. A scheduled stop is cancelled and the state returns to running.
func (lc *LifecycleController) Start(ctx context.Context) error {
	switch lc.state {
	case StateStarting, StateRunning:
		return nil

	case StateStopping:
		if lc.stopTimer != nil {
			lc.cancelScheduledStop()
			return nil
		}
		return fmt.Errorf("server is shutting down")

	default: // StateStopped
		lc.state = StateStarting
		if err := lc.listener.Start(ctx); err != nil {
			lc.state = StateStopped
			return fmt.Errorf("start transport listener: %w", err)
		}
		lc.state = StateRunning
		lc.logger.Info("Server running", "addr", lc.listener.Addr())
		return nil
	}
}

// Stop brings the listener down. With immediate false it is a logged no-op
// while work is outstanding, and otherwise defers the actual shutdown by the
// grace delay so that new work can cancel it.
func (lc *LifecycleController) Stop(ctx context.Context, immediate bool) error {
	switch lc.state {
	case StateStopped:
		return nil

	case StateStopping:
		if immediate && lc.stopTimer != nil {
			lc.stopTimer.Stop()
			lc.stopTimer = nil
			lc.finalize(ctx)
		}
		return nil

	default: // StateStarting, StateRunning
		if !immediate && lc.busy() {
			lc.logger.Info("Stop requested while busy, ignoring")
			return nil
		}

		lc.state = StateStopping
		if !immediate && lc.grace > 0 {
			lc.logger.Info("Scheduling deferred stop", "grace", lc.grace)
			lc.stopTimer = time.AfterFunc(lc.grace, lc.onGraceElapsed)
			return nil
		}

		lc.finalize(ctx)
		return nil
	}
}

// GraceElapsed completes a deferred stop once the grace timer has fired. The
// idleness re-check wins races against work that arrived while the timer
// goroutine was waiting on the coordinator's lock.
func (lc *LifecycleController) GraceElapsed(ctx context.Context) {
	if lc.state != StateStopping || lc.stopTimer == nil {
		return // stop was cancelled first
	}
	lc.stopTimer = nil

	if lc.busy() {
		lc.state = StateRunning
		lc.logger.Info("Deferred stop aborted, work arrived during grace period")
		return
	}

	lc.finalize(ctx)
}

// NotifyActivity cancels a scheduled stop when new work arrives.
func (lc *LifecycleController) NotifyActivity() {
	if lc.state == StateStopping && lc.stopTimer != nil {
		lc.cancelScheduledStop()
	}
}

func (lc *LifecycleController) cancelScheduledStop() {
	lc.stopTimer.Stop()
	lc.stopTimer = nil
	lc.state = StateRunning
	lc.logger.Info("Cancelled scheduled stop")
}

// finalize performs the actual shutdown: reject outstanding work, close
// connections, release the listener.
func (lc *LifecycleController) finalize(ctx context.Context) {
	lc.state = StateStopping
	lc.shutdown()
	if err := lc.listener.Stop(ctx); err != nil {
		lc.logger.Error("Failed to stop transport listener", "error", err)
	}
	lc.state = StateStopped
	lc.logger.Info("Server stopped")
}
