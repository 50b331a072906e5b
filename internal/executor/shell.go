package executor

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"

	"github.com/vk/flowline/internal/ctxlog"
	"github.com/vk/flowline/internal/workflow"
)

// ShellExecutor runs command steps by spawning a local shell. It is the
// in-process reference transport; real deployments substitute an isolated
// one behind the same interface.
type ShellExecutor struct {
	// Shell is the interpreter invoked with -c. Defaults to /bin/sh.
	Shell string
}

// NewShellExecutor creates a ShellExecutor using /bin/sh.
func NewShellExecutor() *ShellExecutor {
	return &ShellExecutor{Shell: "/bin/sh"}
}

// Execute runs the step's command and classifies the outcome.
func (e *ShellExecutor) Execute(ctx context.Context, step *workflow.Step, env *Env) (*Result, error) {
	if step.Kind != workflow.StepRunKind {
		return nil, errors.New("shell executor only handles run steps")
	}
	logger := ctxlog.FromContext(ctx).With("step", step.Name)

	cmd := exec.CommandContext(ctx, e.Shell, "-c", env.Command)
	if len(env.Vars) > 0 {
		cmd.Env = os.Environ()
		for k, v := range env.Vars {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	result := &Result{Output: out.String()}

	switch {
	case err == nil:
		result.Status = workflow.StepSuccess
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		result.Status = workflow.StepTimedOut
		result.ExitCode = -1
	case errors.Is(ctx.Err(), context.Canceled):
		result.Status = workflow.StepCancelled
		result.ExitCode = -1
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.Status = workflow.StepFailure
			result.ExitCode = exitErr.ExitCode()
		} else {
			// The command could not be started at all.
			return nil, err
		}
	}

	logger.Debug("Shell step finished.", "status", result.Status, "exit_code", result.ExitCode)
	return result, nil
}
