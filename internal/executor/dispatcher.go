package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/vk/flowline/internal/registry"
	"github.com/vk/flowline/internal/workflow"
)

// Dispatcher is the default StepExecutor: run steps go to the shell
// transport, uses steps are resolved through the action registry.
type Dispatcher struct {
	shell   StepExecutor
	actions *registry.Registry
}

// NewDispatcher creates a Dispatcher over the given shell transport and
// action registry.
func NewDispatcher(shell StepExecutor, actions *registry.Registry) *Dispatcher {
	return &Dispatcher{shell: shell, actions: actions}
}

// Execute implements StepExecutor.
func (d *Dispatcher) Execute(ctx context.Context, step *workflow.Step, env *Env) (*Result, error) {
	switch step.Kind {
	case workflow.StepRunKind:
		return d.shell.Execute(ctx, step, env)
	case workflow.StepUsesKind:
		return d.executeAction(ctx, step, env)
	}
	return nil, fmt.Errorf("step %s: unknown step kind", step.Name)
}

func (d *Dispatcher) executeAction(ctx context.Context, step *workflow.Step, env *Env) (*Result, error) {
	fn, err := d.actions.Lookup(env.Action)
	if err != nil {
		return nil, err
	}

	out, err := fn(ctx, env.With)
	switch {
	case err == nil:
		return &Result{Status: workflow.StepSuccess, Output: stringify(out)}, nil
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &Result{Status: workflow.StepTimedOut, Output: err.Error(), ExitCode: -1}, nil
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return &Result{Status: workflow.StepCancelled, Output: err.Error(), ExitCode: -1}, nil
	default:
		return &Result{Status: workflow.StepFailure, Output: err.Error(), ExitCode: 1}, nil
	}
}

// stringify renders an action's output value for capture. Non-string
// values fall back to their cty syntax.
func stringify(v cty.Value) string {
	if v == cty.NilVal || v.IsNull() {
		return ""
	}
	if converted, err := convert.Convert(v, cty.String); err == nil {
		return converted.AsString()
	}
	return v.GoString()
}
