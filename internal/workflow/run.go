package workflow

import (
	"sort"
	"strings"
	"time"
)

// Run is one instantiation of a Definition against an Event. A Run
// exclusively owns its JobRuns and StepRuns; only the coordinator driving
// it mutates them.
type Run struct {
	ID       string    `json:"id"`
	Workflow string    `json:"workflow"`
	Status   RunStatus `json:"status"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`

	// Jobs is keyed by JobRun ID (matrix instances get expanded IDs);
	// JobOrder preserves a deterministic listing order.
	Jobs     map[string]*JobRun `json:"jobs"`
	JobOrder []string           `json:"job_order"`

	// Cause names the first failing step or job when the run fails.
	Cause string `json:"cause,omitempty"`
}

// Snapshot returns a deep copy safe to hand to readers while the
// coordinator keeps mutating the original.
func (r *Run) Snapshot() *Run {
	out := *r
	out.Jobs = make(map[string]*JobRun, len(r.Jobs))
	out.JobOrder = append([]string(nil), r.JobOrder...)
	for id, jr := range r.Jobs {
		out.Jobs[id] = jr.snapshot()
	}
	return &out
}

// JobRun is one scheduled instance of a job, possibly one cell of an
// expanded matrix.
type JobRun struct {
	// ID is the job ID, suffixed with the matrix instance values when the
	// job declares a matrix, e.g. "test[go=1.22]".
	ID     string `json:"id"`
	JobID  string `json:"job_id"`
	RunID  string `json:"-"`
	RunsOn string `json:"runs_on,omitempty"`

	Status     JobStatus  `json:"status"`
	SkipReason SkipReason `json:"skip_reason,omitempty"`

	// Matrix holds this instance's axis values, nil for plain jobs.
	Matrix map[string]string `json:"matrix,omitempty"`

	Steps []*StepRun `json:"steps"`

	// Err records the failure detail, as text for serialization.
	Err string `json:"error,omitempty"`
}

func (j *JobRun) snapshot() *JobRun {
	out := *j
	out.Matrix = copyStringMap(j.Matrix)
	out.Steps = make([]*StepRun, len(j.Steps))
	for i, sr := range j.Steps {
		cp := *sr
		out.Steps[i] = &cp
	}
	return &out
}

// StepRun records one step invocation.
type StepRun struct {
	Name string `json:"name"`

	// Status is the logical result used for job progression; Outcome is
	// the executor-reported result. They differ only when the step sets
	// continue_on_error and fails.
	Status  StepStatus `json:"status"`
	Outcome StepStatus `json:"outcome"`

	Output   string        `json:"output,omitempty"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// InstanceID builds the JobRun ID for a matrix instance. Axis names are
// sorted so the ID is stable regardless of map iteration order.
func InstanceID(jobID string, values map[string]string) string {
	if len(values) == 0 {
		return jobID
	}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + "=" + values[name]
	}
	return jobID + "[" + strings.Join(parts, ",") + "]"
}
