package workflow

import "fmt"

// RunStatus is the overall state of one workflow run.
type RunStatus int

const (
	RunPending RunStatus = iota
	RunRunning
	RunSuccess
	RunFailure
	RunCancelled
)

// String implements fmt.Stringer.
func (s RunStatus) String() string {
	switch s {
	case RunPending:
		return "pending"
	case RunRunning:
		return "running"
	case RunSuccess:
		return "success"
	case RunFailure:
		return "failure"
	case RunCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("RunStatus(%d)", int(s))
}

// Terminal reports whether the run can no longer change state.
func (s RunStatus) Terminal() bool {
	return s == RunSuccess || s == RunFailure || s == RunCancelled
}

// MarshalJSON renders the status as its string form.
func (s RunStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// JobStatus is the state of one JobRun.
type JobStatus int

const (
	JobQueued JobStatus = iota
	JobRunning
	JobSuccess
	JobFailure
	JobSkipped
	JobCancelled
)

// String implements fmt.Stringer.
func (s JobStatus) String() string {
	switch s {
	case JobQueued:
		return "queued"
	case JobRunning:
		return "running"
	case JobSuccess:
		return "success"
	case JobFailure:
		return "failure"
	case JobSkipped:
		return "skipped"
	case JobCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("JobStatus(%d)", int(s))
}

// Terminal reports whether the job can no longer change state.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobSuccess, JobFailure, JobSkipped, JobCancelled:
		return true
	}
	return false
}

// MarshalJSON renders the status as its string form.
func (s JobStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// SkipReason records why a job was skipped. A condition skip satisfies
// downstream prerequisites; an upstream-failure skip cascades.
type SkipReason string

const (
	SkipNone            SkipReason = ""
	SkipCondition       SkipReason = "condition"
	SkipUpstreamFailure SkipReason = "upstream-failure"
)

// StepStatus is the state of one StepRun. TimedOut is deliberately
// distinct from Failure so callers can tell an executor-reported failure
// from an enforced deadline.
type StepStatus int

const (
	StepPending StepStatus = iota
	StepRunning
	StepSuccess
	StepFailure
	StepTimedOut
	StepCancelled
	StepSkipped
)

// String implements fmt.Stringer.
func (s StepStatus) String() string {
	switch s {
	case StepPending:
		return "pending"
	case StepRunning:
		return "running"
	case StepSuccess:
		return "success"
	case StepFailure:
		return "failure"
	case StepTimedOut:
		return "timed-out"
	case StepCancelled:
		return "cancelled"
	case StepSkipped:
		return "skipped"
	}
	return fmt.Sprintf("StepStatus(%d)", int(s))
}

// Terminal reports whether the step can no longer change state.
func (s StepStatus) Terminal() bool {
	switch s {
	case StepSuccess, StepFailure, StepTimedOut, StepCancelled, StepSkipped:
		return true
	}
	return false
}

// Failed reports whether the status counts as a failure for job
// progression. Skips and cancellations are not failures.
func (s StepStatus) Failed() bool {
	return s == StepFailure || s == StepTimedOut
}

// MarshalJSON renders the status as its string form.
func (s StepStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}
