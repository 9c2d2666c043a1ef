package runner

import (
	"errors"
	"fmt"
)

// ErrAborted indicates the process was terminated via Abort. It is not a
// failure of the external tool itself.
var ErrAborted = errors.New("process aborted by request")

// SpawnError indicates the executable could not be launched at all, e.g.
// not found or permission denied. No child process existed.
type SpawnError struct {
	Err error
}

func (e SpawnError) Error() string {
	return fmt.Sprintf("failed to start process: %v", e.Err)
}

func (e SpawnError) Unwrap() error {
	return e.Err
}

// ProcessExitError indicates the external tool ran and exited nonzero.
type ProcessExitError struct {
	Code int
}

func (e ProcessExitError) Error() string {
	return fmt.Sprintf("process exited with code %d", e.Code)
}

// InvalidStateError is returned when attempting an invalid Handle state
// transition.
type InvalidStateError struct {
	from State
	to   State
}

func (e InvalidStateError) Error() string {
	return fmt.Sprintf("cannot go from %s to %s", e.from, e.to)
}

func NewInvalidStateError(from, to State) InvalidStateError {
	return InvalidStateError{from, to}
}
