package build

import (
	"errors"
	"fmt"
)

var ErrNoInputFiles = errors.New("no input files in batch")

// MissingParameterError is returned when a parameter required by the chosen
// workflow is absent.
type MissingParameterError struct {
	Field string
}

func (e MissingParameterError) Error() string {
	return fmt.Sprintf("missing required parameter %q", e.Field)
}

// UnsupportedWorkflowError is returned for workflows that are declared but
// not implemented.
type UnsupportedWorkflowError struct {
	Workflow Workflow
}

func (e UnsupportedWorkflowError) Error() string {
	return fmt.Sprintf("workflow %q is not supported", e.Workflow)
}

// StagingError is an IO failure while preparing a specific input file.
type StagingError struct {
	Path string
	Err  error
}

func (e StagingError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Path, e.Err)
}

func (e StagingError) Unwrap() error {
	return e.Err
}
