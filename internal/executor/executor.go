// Package executor defines the step executor boundary: the contract for
// running one step of a job inside an isolated environment. Concrete
// transports (process spawn, container invocation, remote call) live
// behind the StepExecutor interface and are swappable; the engine only
// requires a bounded-time response, a classified exit status, and the
// captured output.
package executor

import (
	"context"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/flowline/internal/workflow"
)

// Env supplies a step's fully resolved environment: the command or action
// inputs after expression evaluation, plus the variables the isolated
// environment should expose. Secret values are only ever carried here,
// for the lifetime of a single invocation.
type Env struct {
	// Command is the resolved shell command for run steps.
	Command string

	// Action and With carry the reference and evaluated inputs of a uses
	// step.
	Action string
	With   map[string]cty.Value

	// Vars are environment variables for the step, secrets included.
	Vars map[string]string

	// RunsOn is the runner label of the owning job.
	RunsOn string
}

// Result is the executor's classified report for one step invocation.
type Result struct {
	// Status is one of StepSuccess, StepFailure, StepTimedOut,
	// StepCancelled.
	Status workflow.StepStatus

	// Output is the captured output, made available to later steps of the
	// same job.
	Output string

	ExitCode int
}

// StepExecutor runs a single step. Implementations are responsible for
// isolation and resource cleanup, must honor ctx cancellation and
// deadlines, and must classify the outcome rather than fail the process.
// The returned error is reserved for invocation faults (the step could
// not be attempted at all); step failures are reported via Result.
type StepExecutor interface {
	Execute(ctx context.Context, step *workflow.Step, env *Env) (*Result, error)
}
