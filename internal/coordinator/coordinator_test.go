package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/flowline/internal/executor"
	"github.com/vk/flowline/internal/runstore"
	"github.com/vk/flowline/internal/secrets"
	"github.com/vk/flowline/internal/testutil"
	"github.com/vk/flowline/internal/workflow"
)

func pushContext() *workflow.ResolvedContext {
	return &workflow.ResolvedContext{
		Event: &workflow.Event{
			Kind:    workflow.EventPush,
			Ref:     "main",
			Payload: map[string]string{"sha": "abc123"},
			Time:    time.Now(),
		},
	}
}

func newTestCoordinator(fake *testutil.FakeExecutor, opts ...Option) (*Coordinator, *runstore.Memory) {
	store := runstore.NewMemory()
	all := append([]Option{WithStore(store), WithExecutor(fake)}, opts...)
	return New(all...), store
}

func success(output string) testutil.StepScript {
	return testutil.StepScript{Result: &executor.Result{Status: workflow.StepSuccess, Output: output}}
}

func failure(exitCode int) testutil.StepScript {
	return testutil.StepScript{Result: &executor.Result{Status: workflow.StepFailure, ExitCode: exitCode}}
}

func TestRunExecutesStepsSequentiallyWithOutputs(t *testing.T) {
	def := testutil.ParseWorkflow(t, `
workflow "seq" {
  on "push" {}
  job "build" {
    runs_on = "linux"
    step "first" {
      run = "make generate"
    }
    step "second" {
      run = "make build ARTIFACT=${steps.first.output} REF=${event.ref}"
    }
  }
}`)

	fake := testutil.NewFakeExecutor()
	fake.Script("first", success("gen-42"))

	c, _ := newTestCoordinator(fake)
	run, err := c.Run(context.Background(), def, pushContext())
	require.NoError(t, err)

	assert.Equal(t, workflow.RunSuccess, run.Status)
	require.Equal(t, []string{"first", "second"}, fake.StepNames())
	assert.Equal(t, "make build ARTIFACT=gen-42 REF=main", fake.Invocations()[1].Command)

	jr := run.Jobs["build"]
	require.NotNil(t, jr)
	assert.Equal(t, workflow.JobSuccess, jr.Status)
	require.Len(t, jr.Steps, 2)
	assert.Equal(t, workflow.StepSuccess, jr.Steps[0].Status)
	assert.Equal(t, "gen-42", jr.Steps[0].Output)
}

func TestStepFailureHaltsJobAndSkipsDependents(t *testing.T) {
	def := testutil.ParseWorkflow(t, `
workflow "ff" {
  on "push" {}
  job "a" {
    runs_on = "linux"
    step "boom" {
      run = "exit 1"
    }
    step "after" {
      run = "never"
    }
  }
  job "b" {
    runs_on = "linux"
    needs   = ["a"]
    step "downstream" {
      run = "never"
    }
  }
}`)

	fake := testutil.NewFakeExecutor()
	fake.Script("boom", failure(1))

	c, _ := newTestCoordinator(fake)
	run, err := c.Run(context.Background(), def, pushContext())
	require.NoError(t, err)

	assert.Equal(t, workflow.RunFailure, run.Status)
	assert.Contains(t, run.Cause, "boom")
	assert.Equal(t, []string{"boom"}, fake.StepNames(), "nothing after the failure executes")

	a := run.Jobs["a"]
	assert.Equal(t, workflow.JobFailure, a.Status)
	assert.Equal(t, workflow.StepFailure, a.Steps[0].Status)
	assert.Equal(t, workflow.StepSkipped, a.Steps[1].Status)

	b := run.Jobs["b"]
	assert.Equal(t, workflow.JobSkipped, b.Status)
	assert.Equal(t, workflow.SkipUpstreamFailure, b.SkipReason)
}

func TestContinueOnErrorMasksFailure(t *testing.T) {
	def := testutil.ParseWorkflow(t, `
workflow "tolerant" {
  on "push" {}
  job "a" {
    runs_on = "linux"
    step "flaky" {
      run               = "exit 1"
      continue_on_error = true
    }
    step "check" {
      run = "verify ${steps.flaky.outcome}"
    }
  }
}`)

	fake := testutil.NewFakeExecutor()
	fake.Script("flaky", failure(1))

	c, _ := newTestCoordinator(fake)
	run, err := c.Run(context.Background(), def, pushContext())
	require.NoError(t, err)

	assert.Equal(t, workflow.RunSuccess, run.Status)
	require.Equal(t, []string{"flaky", "check"}, fake.StepNames())
	assert.Equal(t, "verify failure", fake.Invocations()[1].Command, "the real outcome stays visible")

	sr := run.Jobs["a"].Steps[0]
	assert.Equal(t, workflow.StepSuccess, sr.Status, "logical status is success")
	assert.Equal(t, workflow.StepFailure, sr.Outcome, "outcome records what happened")
	assert.Equal(t, 1, sr.ExitCode)
}

func TestJobConditionSkipSatisfiesDependents(t *testing.T) {
	def := testutil.ParseWorkflow(t, `
workflow "gated" {
  on "push" {}
  job "gate" {
    runs_on = "linux"
    if      = event.ref == "release"
    step "guard" {
      run = "true"
    }
  }
  job "after" {
    runs_on = "linux"
    needs   = ["gate"]
    step "go" {
      run = "true"
    }
  }
}`)

	fake := testutil.NewFakeExecutor()
	c, _ := newTestCoordinator(fake)
	run, err := c.Run(context.Background(), def, pushContext()) // ref is "main"
	require.NoError(t, err)

	assert.Equal(t, workflow.RunSuccess, run.Status)
	assert.Equal(t, []string{"go"}, fake.StepNames(), "only the dependent executes")

	gate := run.Jobs["gate"]
	assert.Equal(t, workflow.JobSkipped, gate.Status)
	assert.Equal(t, workflow.SkipCondition, gate.SkipReason)
	assert.Equal(t, workflow.JobSuccess, run.Jobs["after"].Status)
}

func TestStepConditionSkip(t *testing.T) {
	def := testutil.ParseWorkflow(t, `
workflow "stepgate" {
  on "push" {}
  job "a" {
    runs_on = "linux"
    step "maybe" {
      run = "true"
      if  = event.ref == "release"
    }
    step "always" {
      run = "true"
    }
  }
}`)

	fake := testutil.NewFakeExecutor()
	c, _ := newTestCoordinator(fake)
	run, err := c.Run(context.Background(), def, pushContext())
	require.NoError(t, err)

	assert.Equal(t, workflow.RunSuccess, run.Status)
	assert.Equal(t, []string{"always"}, fake.StepNames())

	steps := run.Jobs["a"].Steps
	assert.Equal(t, workflow.StepSkipped, steps[0].Status)
	assert.Equal(t, workflow.StepSuccess, steps[1].Status)
}

func TestAlwaysRunJobExecutesAfterUpstreamFailure(t *testing.T) {
	def := testutil.ParseWorkflow(t, `
workflow "cleanup" {
  on "push" {}
  job "work" {
    runs_on = "linux"
    step "boom" {
      run = "exit 1"
    }
  }
  job "teardown" {
    runs_on    = "linux"
    needs      = ["work"]
    always_run = true
    step "sweep" {
      run = "true"
    }
  }
}`)

	fake := testutil.NewFakeExecutor()
	fake.Script("boom", failure(1))

	c, _ := newTestCoordinator(fake)
	run, err := c.Run(context.Background(), def, pushContext())
	require.NoError(t, err)

	assert.Equal(t, workflow.RunFailure, run.Status)
	assert.Equal(t, []string{"boom", "sweep"}, fake.StepNames())
	assert.Equal(t, workflow.JobSuccess, run.Jobs["teardown"].Status)
}

func TestMatrixInstancesSeeTheirValues(t *testing.T) {
	def := testutil.ParseWorkflow(t, `
workflow "mx" {
  on "push" {}
  job "test" {
    runs_on = "linux"
    matrix {
      axis "go" {
        values = ["1.23", "1.24"]
      }
    }
    step "unit" {
      run = "make test GO=${matrix.go}"
    }
  }
}`)

	fake := testutil.NewFakeExecutor()
	c, _ := newTestCoordinator(fake)
	run, err := c.Run(context.Background(), def, pushContext())
	require.NoError(t, err)

	assert.Equal(t, workflow.RunSuccess, run.Status)
	require.Len(t, run.Jobs, 2)
	assert.Equal(t, workflow.JobSuccess, run.Jobs["test[go=1.23]"].Status)
	assert.Equal(t, workflow.JobSuccess, run.Jobs["test[go=1.24]"].Status)

	commands := make([]string, 0, 2)
	for _, inv := range fake.Invocations() {
		commands = append(commands, inv.Command)
	}
	assert.ElementsMatch(t, []string{"make test GO=1.23", "make test GO=1.24"}, commands)
}

func TestSecretsAndInputsInScope(t *testing.T) {
	def := testutil.ParseWorkflow(t, `
workflow "deploy" {
  on "manual" {
    input "env" {
      required = true
    }
  }
  job "ship" {
    runs_on = "linux"
    step "push" {
      run = "deploy --env ${inputs.env} --token ${secrets.token}"
    }
  }
}`)

	fake := testutil.NewFakeExecutor()
	c, _ := newTestCoordinator(fake, WithSecrets(secrets.Static{"token": "s3cret"}))

	rctx := &workflow.ResolvedContext{
		Event:  &workflow.Event{Kind: workflow.EventManual, Time: time.Now()},
		Inputs: map[string]string{"env": "staging"},
	}
	run, err := c.Run(context.Background(), def, rctx)
	require.NoError(t, err)

	assert.Equal(t, workflow.RunSuccess, run.Status)
	require.Len(t, fake.Invocations(), 1)
	assert.Equal(t, "deploy --env staging --token s3cret", fake.Invocations()[0].Command)
}

func TestCancelRun(t *testing.T) {
	def := testutil.ParseWorkflow(t, `
workflow "long" {
  on "push" {}
  job "a" {
    runs_on = "linux"
    step "quick" {
      run = "true"
    }
  }
  job "b" {
    runs_on = "linux"
    needs   = ["a"]
    step "forever" {
      run = "sleep 1000"
    }
  }
  job "c" {
    runs_on = "linux"
    needs   = ["b"]
    step "never" {
      run = "true"
    }
  }
}`)

	fake := testutil.NewFakeExecutor()
	fake.Script("forever", testutil.StepScript{Block: true})
	blocked := fake.Started("forever")

	c, _ := newTestCoordinator(fake)
	started, err := c.Start(context.Background(), def, pushContext())
	require.NoError(t, err)

	select {
	case <-blocked:
	case <-time.After(2 * time.Second):
		t.Fatal("the blocking step never started")
	}

	require.NoError(t, c.Cancel(started.ID))

	run, err := c.Wait(context.Background(), started.ID)
	require.NoError(t, err)

	assert.Equal(t, workflow.RunCancelled, run.Status)
	assert.Equal(t, workflow.JobSuccess, run.Jobs["a"].Status, "finished jobs keep their status")
	assert.Equal(t, workflow.JobCancelled, run.Jobs["b"].Status, "running jobs are cancelled")
	assert.Equal(t, workflow.JobCancelled, run.Jobs["c"].Status, "queued jobs never run")
	assert.NotContains(t, fake.StepNames(), "never")
}

func TestCancelUnknownRun(t *testing.T) {
	c, _ := newTestCoordinator(testutil.NewFakeExecutor())
	assert.ErrorIs(t, c.Cancel("ghost"), workflow.ErrRunNotFound)
}

func TestCancelTerminalRunIsNoOp(t *testing.T) {
	def := testutil.ParseWorkflow(t, `
workflow "done" {
  on "push" {}
  job "a" {
    runs_on = "linux"
    step "s" {
      run = "true"
    }
  }
}`)

	c, _ := newTestCoordinator(testutil.NewFakeExecutor())
	run, err := c.Run(context.Background(), def, pushContext())
	require.NoError(t, err)
	require.Equal(t, workflow.RunSuccess, run.Status)

	assert.NoError(t, c.Cancel(run.ID))

	got, err := c.Wait(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.RunSuccess, got.Status, "a terminal run is unaffected")
}

func TestJobTimeout(t *testing.T) {
	def := testutil.ParseWorkflow(t, `
workflow "slow" {
  on "push" {}
  job "a" {
    runs_on = "linux"
    timeout = "100ms"
    step "hang" {
      run = "sleep 1000"
    }
  }
}`)

	fake := testutil.NewFakeExecutor()
	fake.Script("hang", testutil.StepScript{Block: true})

	c, _ := newTestCoordinator(fake)
	run, err := c.Run(context.Background(), def, pushContext())
	require.NoError(t, err)

	assert.Equal(t, workflow.RunFailure, run.Status)
	jr := run.Jobs["a"]
	assert.Equal(t, workflow.JobFailure, jr.Status)
	assert.Equal(t, workflow.StepTimedOut, jr.Steps[0].Outcome)
}

func TestStepTimeoutHaltsRemainingSteps(t *testing.T) {
	def := testutil.ParseWorkflow(t, `
workflow "slowstep" {
  on "push" {}
  job "a" {
    runs_on = "linux"
    step "hang" {
      run     = "sleep 1000"
      timeout = "100ms"
    }
    step "after" {
      run = "true"
    }
  }
}`)

	fake := testutil.NewFakeExecutor()
	fake.Script("hang", testutil.StepScript{Block: true})

	c, _ := newTestCoordinator(fake)
	run, err := c.Run(context.Background(), def, pushContext())
	require.NoError(t, err)

	assert.Equal(t, workflow.RunFailure, run.Status)
	jr := run.Jobs["a"]
	assert.Equal(t, workflow.StepTimedOut, jr.Steps[0].Status)
	assert.Equal(t, workflow.StepSkipped, jr.Steps[1].Status, "a step timeout halts the job")
}

func TestConcurrencyGroupPreemption(t *testing.T) {
	src := `
workflow "deploy" {
  on "push" {}
  concurrency {
    group              = "prod"
    cancel_in_progress = true
  }
  job "ship" {
    runs_on = "linux"
    step "push" {
      run = "deploy"
    }
  }
}`
	def := testutil.ParseWorkflow(t, src)

	fake := testutil.NewFakeExecutor()
	fake.Script("push", testutil.StepScript{Block: true})
	blocked := fake.Started("push")

	c, _ := newTestCoordinator(fake)

	first, err := c.Start(context.Background(), def, pushContext())
	require.NoError(t, err)
	select {
	case <-blocked:
	case <-time.After(2 * time.Second):
		t.Fatal("first deploy never started")
	}

	// The newer run preempts the in-flight holder and then proceeds.
	fake.Script("push", success(""))
	second, err := c.Start(context.Background(), def, pushContext())
	require.NoError(t, err)

	secondRun, err := c.Wait(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.RunSuccess, secondRun.Status)

	firstRun, err := c.Wait(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.RunCancelled, firstRun.Status)
}

func TestNotifierReceivesTerminalSnapshot(t *testing.T) {
	def := testutil.ParseWorkflow(t, `
workflow "notify" {
  on "push" {}
  job "a" {
    runs_on = "linux"
    step "s" {
      run = "true"
    }
  }
}`)

	var mu sync.Mutex
	var notified []*workflow.Run
	n := notifierFunc(func(_ context.Context, run *workflow.Run) error {
		mu.Lock()
		notified = append(notified, run)
		mu.Unlock()
		return nil
	})

	c, _ := newTestCoordinator(testutil.NewFakeExecutor(), WithNotifier(n))
	run, err := c.Run(context.Background(), def, pushContext())
	require.NoError(t, err)
	require.Equal(t, workflow.RunSuccess, run.Status)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, notified, 1)
	assert.Equal(t, run.ID, notified[0].ID)
	assert.True(t, notified[0].Status.Terminal())
}

// notifierFunc adapts a function to the Notifier interface.
type notifierFunc func(ctx context.Context, run *workflow.Run) error

func (f notifierFunc) RunCompleted(ctx context.Context, run *workflow.Run) error {
	return f(ctx, run)
}

func TestWaitReturnsStoredSnapshotForFinishedRun(t *testing.T) {
	def := testutil.ParseWorkflow(t, `
workflow "w" {
  on "push" {}
  job "a" {
    runs_on = "linux"
    step "s" {
      run = "true"
    }
  }
}`)

	c, store := newTestCoordinator(testutil.NewFakeExecutor())
	run, err := c.Run(context.Background(), def, pushContext())
	require.NoError(t, err)

	// The snapshot in the store matches what Run returned.
	stored, err := store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.Status, stored.Status)
	assert.False(t, stored.FinishedAt.IsZero())
}
