// Package lifecycle provides service lifecycle management for the riy
// gateway: state machine transitions, startup/shutdown hooks, health
// reporting, and graceful shutdown.
//
// # Service Lifecycle
//
// The gateway process follows a defined lifecycle managed by a finite
// state machine. The [State] type represents the service's current
// position in this lifecycle, and all transitions are validated against
// the [validTransitions] matrix to prevent illegal state changes.
//
// The lifecycle flow for a healthy service is:
//
//	Unknown → Starting → Running → Stopping → Stopped
//
// Any non-terminal state may transition to Failed on error, and both
// terminal states (Stopped, Failed) may transition back to Starting for
// restart.
//
// # Thread Safety
//
// State management in [Service] is protected by a [sync.RWMutex]. All
// state reads and writes are safe for concurrent use.
package lifecycle

// State represents the lifecycle state of the gateway service. States
// form a finite state machine with validated transitions defined by
// [ValidTransition].
//
// The zero value ("") is not a valid state; services are initialized
// with [StateUnknown] at construction time.
type State string

const (
	// StateUnknown is the initial state of a newly constructed service
	// before any lifecycle method has been called.
	StateUnknown State = "unknown"

	// StateStarting indicates the service is starting. This is a
	// transient state set at the beginning of [Service.Start] before the
	// OnStart hook executes.
	StateStarting State = "starting"

	// StateRunning indicates the service started successfully and is
	// serving requests. This is the only state in which
	// [Service.Health] reports healthy.
	StateRunning State = "running"

	// StateStopping indicates the service is shutting down. This is a
	// transient state set at the beginning of [Service.Stop] before the
	// OnStop hook executes, giving in-flight requests time to drain.
	StateStopping State = "stopping"

	// StateStopped indicates the service completed a clean shutdown.
	// This is a terminal state; [Service.Start] restarts from it.
	StateStopped State = "stopped"

	// StateFailed indicates the service encountered an unrecoverable
	// error. This is a terminal state; [Service.Start] restarts from it.
	StateFailed State = "failed"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// Valid reports whether the state is one of the recognized lifecycle
// states. The zero value ("") is not valid.
func (s State) Valid() bool {
	switch s {
	case StateUnknown, StateStarting, StateRunning,
		StateStopping, StateStopped, StateFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the state is a terminal lifecycle state.
// Terminal states are [StateStopped] and [StateFailed]; a service in a
// terminal state is not serving and must be restarted.
func (s State) IsTerminal() bool {
	switch s {
	case StateStopped, StateFailed:
		return true
	default:
		return false
	}
}

// validTransitions defines the allowed state transitions for the service
// lifecycle state machine. Each key is a source state, and the value is
// the set of states it may transition to.
//
// Transition matrix:
//
//	Unknown  → Starting, Failed
//	Starting → Running, Failed, Stopping
//	Running  → Stopping, Failed
//	Stopping → Stopped, Failed
//	Stopped  → Starting              (restart)
//	Failed   → Starting              (recovery restart)
var validTransitions = map[State][]State{
	StateUnknown:  {StateStarting, StateFailed},
	StateStarting: {StateRunning, StateFailed, StateStopping},
	StateRunning:  {StateStopping, StateFailed},
	StateStopping: {StateStopped, StateFailed},
	StateStopped:  {StateStarting},
	StateFailed:   {StateStarting},
}

// ValidTransition reports whether transitioning from state from to state
// to is allowed by the lifecycle state machine. Same-state transitions
// (from == to) are always rejected.
func ValidTransition(from, to State) bool {
	if from == to {
		return false
	}
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, t := range targets {
		if t == to {
			return true
		}
	}
	return false
}
