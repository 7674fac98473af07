package device

import (
	"context"
	"sync/atomic"
	"time"
)

// State is a connection lifecycle state.
type State int32

// Lifecycle states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Lifecycle is the connection state machine shared by all adapters.
//
// Transitions:
//
//	Disconnected → Connecting → Connected → Disconnected → ...
//
// Report(true) from any non-connected state fires EventConnected exactly
// once; Report(false) from Connected fires EventDisconnected exactly once.
// EventConnection fires on every Report regardless of edges.
//
// Retries never give up and never grow: a permanently offline device
// retries at its fixed interval for the life of the process.
type Lifecycle struct {
	base   *Base
	state  atomic.Int32
	retry  time.Duration
	logger Logger
}

func newLifecycle(base *Base, retry time.Duration, logger Logger) *Lifecycle {
	return &Lifecycle{
		base:   base,
		retry:  retry,
		logger: logger,
	}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	return State(l.state.Load())
}

// Connected reports whether the state is Connected.
func (l *Lifecycle) Connected() bool {
	return l.State() == StateConnected
}

// RetryInterval returns the fixed delay between connection attempts.
func (l *Lifecycle) RetryInterval() time.Duration {
	return l.retry
}

// Connecting marks an attempt in progress. It never fires events.
func (l *Lifecycle) Connecting() {
	l.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting))
}

// Report records the outcome of a connection check.
func (l *Lifecycle) Report(ok bool) {
	next := StateDisconnected
	if ok {
		next = StateConnected
	}
	prev := State(l.state.Swap(int32(next)))

	l.base.emit(Event{Kind: EventConnection, Connected: ok})

	switch {
	case ok && prev != StateConnected:
		l.logger.Info("device connected", "device", l.base.name, "type", string(l.base.typ))
		l.base.emit(Event{Kind: EventConnected, Connected: true})
	case !ok && prev == StateConnected:
		l.logger.Warn("device disconnected", "device", l.base.name, "type", string(l.base.typ))
		l.base.emit(Event{Kind: EventDisconnected, Connected: false})
	}
}

// Run drives a session-oriented adapter until ctx is cancelled.
//
// The first attempt starts immediately. session should block for as long
// as the connection is healthy, calling Report(true) itself once the
// protocol confirms the link, and return when the link ends. After every
// return the lifecycle reports disconnected and waits the retry interval
// before the next attempt. A single timer is reused so flapping never
// leaks timers.
func (l *Lifecycle) Run(ctx context.Context, session func(ctx context.Context) error) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		l.Connecting()
		err := session(ctx)
		l.Report(false)

		if ctx.Err() != nil {
			return
		}
		if err != nil {
			l.logger.Debug("device session ended",
				"device", l.base.name,
				"error", err,
				"retry_in", l.retry.String(),
			)
		}
		timer.Reset(l.retry)
	}
}
