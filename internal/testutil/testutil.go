// Package testutil carries shared helpers for the engine's test suites: a
// thread-safe log buffer, an in-memory step executor with scripted
// outcomes, and workflow parsing shortcuts.
package testutil

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vk/flowline/internal/executor"
	"github.com/vk/flowline/internal/hcl"
	"github.com/vk/flowline/internal/workflow"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

// Write implements the io.Writer interface for SafeBuffer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String implements the fmt.Stringer interface for SafeBuffer.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// ParseWorkflow parses a single workflow document from a string.
func ParseWorkflow(t *testing.T, src string) *workflow.Definition {
	t.Helper()
	def, err := hcl.NewLoader().Parse("test.hcl", []byte(src))
	require.NoError(t, err)
	return def
}

// WriteWorkflowDir writes the given files into a temporary directory and
// returns its path.
func WriteWorkflowDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

// Invocation records one executor call.
type Invocation struct {
	Step    string
	Command string
	Action  string
	At      time.Time
}

// StepScript overrides the fake executor's behavior for one step name.
type StepScript struct {
	Result *executor.Result
	Err    error

	// Block delays completion until the step's context is cancelled, then
	// reports the cancellation. Used for preemption and timeout tests.
	Block bool

	// Delay sleeps before reporting, honoring the context.
	Delay time.Duration
}

// FakeExecutor is a scripted StepExecutor recording invocation order.
// Steps without a script succeed with empty output.
type FakeExecutor struct {
	mu          sync.Mutex
	invocations []Invocation
	scripts     map[string]StepScript

	// Started is closed-once-per-step signalling; optional.
	started       map[string]chan struct{}
	startedClosed map[string]bool
}

// NewFakeExecutor creates a FakeExecutor.
func NewFakeExecutor() *FakeExecutor {
	return &FakeExecutor{
		scripts:       make(map[string]StepScript),
		started:       make(map[string]chan struct{}),
		startedClosed: make(map[string]bool),
	}
}

// Script sets the behavior for a step name.
func (f *FakeExecutor) Script(step string, s StepScript) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[step] = s
}

// Started returns a channel closed when the named step begins executing.
func (f *FakeExecutor) Started(step string) <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.started[step]
	if !ok {
		ch = make(chan struct{})
		f.started[step] = ch
	}
	return ch
}

// Invocations returns the recorded calls in order.
func (f *FakeExecutor) Invocations() []Invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Invocation, len(f.invocations))
	copy(out, f.invocations)
	return out
}

// StepNames returns just the step names of the recorded calls, in order.
func (f *FakeExecutor) StepNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.invocations))
	for i, inv := range f.invocations {
		names[i] = inv.Step
	}
	return names
}

// Execute implements executor.StepExecutor.
func (f *FakeExecutor) Execute(ctx context.Context, step *workflow.Step, env *executor.Env) (*executor.Result, error) {
	f.mu.Lock()
	f.invocations = append(f.invocations, Invocation{
		Step:    step.Name,
		Command: env.Command,
		Action:  env.Action,
		At:      time.Now(),
	})
	script := f.scripts[step.Name]
	if ch, ok := f.started[step.Name]; ok && !f.startedClosed[step.Name] {
		close(ch)
		f.startedClosed[step.Name] = true
	}
	f.mu.Unlock()

	if script.Delay > 0 {
		timer := time.NewTimer(script.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return classify(ctx), nil
		}
	}
	if script.Block {
		<-ctx.Done()
		return classify(ctx), nil
	}
	if script.Err != nil {
		return nil, script.Err
	}
	if script.Result != nil {
		return script.Result, nil
	}
	return &executor.Result{Status: workflow.StepSuccess}, nil
}

func classify(ctx context.Context) *executor.Result {
	if context.Cause(ctx) == context.DeadlineExceeded {
		return &executor.Result{Status: workflow.StepTimedOut, ExitCode: -1}
	}
	return &executor.Result{Status: workflow.StepCancelled, ExitCode: -1}
}
