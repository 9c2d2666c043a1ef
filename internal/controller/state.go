package controller

// State is the Job Controller's position in its lifecycle. Idle and the
// terminal states accept a new submission; Building and Running reject one.
type State int

const (
	// StateIdle indicates no job has been submitted yet.
	StateIdle State = iota

	// StateBuilding indicates metadata assignment, artifact writes, and
	// argv assembly are in progress. No process has been spawned yet.
	StateBuilding

	// StateRunning indicates the external tool is executing.
	StateRunning

	// StateCompleted indicates the job finished with every invocation
	// exiting zero.
	StateCompleted

	// StateFailed indicates validation, build, spawn, or the tool itself
	// failed. Partial artifacts may exist and are preserved.
	StateFailed

	// StateAborted indicates the job was terminated by the user. Not
	// treated as a failure.
	StateAborted
)

var stateNames = []string{
	"Idle",
	"Building",
	"Running",
	"Completed",
	"Failed",
	"Aborted",
}

func (s State) String() string {
	if int(s) < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}

	return stateNames[s]
}

// Terminal reports whether the state is stable until the next submission.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateAborted
}

// active reports whether a submission must be rejected in this state.
func (s State) active() bool {
	return s == StateBuilding || s == StateRunning
}
