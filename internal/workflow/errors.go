package workflow

import (
	"errors"
	"fmt"
)

// SchemaError reports a structural violation in a workflow document. The
// whole document is rejected; no partial definition is ever returned.
type SchemaError struct {
	// Path names the offending field, e.g. "workflow.jobs.build.runs_on".
	Path   string
	Detail string
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error at %s: %s", e.Path, e.Detail)
}

// CyclicDependencyError reports a cycle in the needs relation, detected
// at parse time.
type CyclicDependencyError struct {
	// JobID is a job involved in the detected cycle.
	JobID string
}

// Error implements the error interface.
func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency involving job %q", e.JobID)
}

// MissingInputError reports a required manual-trigger input that was
// absent and has no default. It is fatal at trigger-match time for that
// workflow only.
type MissingInputError struct {
	Workflow string
	Input    string
}

// Error implements the error interface.
func (e *MissingInputError) Error() string {
	return fmt.Sprintf("workflow %q: required input %q is missing", e.Workflow, e.Input)
}

// ErrSchedulingDeadlock is an internal consistency fault: the job graph is
// non-empty and non-terminal yet no job can ever become eligible. Given
// acyclicity is validated at parse time this should be unreachable.
var ErrSchedulingDeadlock = errors.New("scheduling deadlock: no job is eligible in a non-terminal graph")

// ErrRunNotFound is returned by stores and coordinators for unknown run IDs.
var ErrRunNotFound = errors.New("run not found")
