package worker

import (
	"errors"
	"sync"
)

// ErrAlreadyRunning is returned by Run while a previous Run is active.
var ErrAlreadyRunning = errors.New("worker: already running")

// State is the lifecycle state of a Worker.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateCrashed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateCrashed:
		return "Crashed"
	default:
		return "Unknown"
	}
}

// StateFunc is called after every state change.
type StateFunc func(previous, current State)

// lifecycle is the worker's state machine:
//
//	Stopped/Crashed -> Starting -> Running -> Stopping -> Stopped
//
// with Crashed reachable from Starting, Running and Stopping.
type lifecycle struct {
	mu       sync.Mutex
	state    State
	onChange StateFunc
}

func (l *lifecycle) current() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// transition moves to next and reports whether the move was allowed.
func (l *lifecycle) transition(next State) bool {
	l.mu.Lock()
	prev := l.state
	if !allowed(prev, next) {
		l.mu.Unlock()
		return false
	}
	l.state = next
	onChange := l.onChange
	l.mu.Unlock()

	if onChange != nil {
		onChange(prev, next)
	}
	return true
}

func allowed(from, to State) bool {
	switch from {
	case StateStopped, StateCrashed:
		return to == StateStarting
	case StateStarting:
		return to == StateRunning || to == StateCrashed
	case StateRunning:
		return to == StateStopping || to == StateCrashed
	case StateStopping:
		return to == StateStopped || to == StateCrashed
	}
	return false
}
