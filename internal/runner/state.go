package runner

import "sync/atomic"

type State int

const (
	// StateUnknown is the zero value for functions returning a (possibly
	// absent) State.
	StateUnknown State = iota

	// StateCreated indicates the Handle is configured and can be started.
	StateCreated

	// StateStarting indicates Start was called but the process has not yet
	// launched.
	StateStarting

	// StateStarted indicates the process is running. It can be aborted.
	StateStarted

	// StateStopping indicates termination was requested but the process
	// has not yet exited.
	StateStopping

	// StateStopped indicates the process has exited and its output has
	// been delivered.
	StateStopped

	// StateFailed indicates the process could not be launched.
	StateFailed
)

// NOTE: This slice needs to be kept in sync with any changes to the State
// values.
var stateNames = []string{
	"Unknown",
	"Created",
	"Starting",
	"Started",
	"Stopping",
	"Stopped",
	"Failed",
}

func (s State) String() string {
	if int(s) < 0 || int(s) >= len(stateNames) {
		return stateNames[0]
	}

	return stateNames[s]
}

// AtomicState wraps an atomic.Int32 to provide atomic operations on a State.
// CompareAndSwap keeps transition validation lock-free.
type AtomicState struct {
	v atomic.Int32
}

func (a *AtomicState) Load() State {
	return State(a.v.Load())
}

func (a *AtomicState) Store(s State) {
	a.v.Store(int32(s))
}

func (a *AtomicState) CompareAndSwap(o, n State) bool {
	return a.v.CompareAndSwap(int32(o), int32(n))
}
