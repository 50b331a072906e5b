// Package coordinator orchestrates end-to-end workflow runs: it
// instantiates the run, drives the job graph through the scheduler with a
// pool of workers, invokes the step executor, applies cancellation and
// concurrency-group rules, and persists run state after every transition.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vk/flowline/internal/ctxlog"
	"github.com/vk/flowline/internal/executor"
	"github.com/vk/flowline/internal/rungroup"
	"github.com/vk/flowline/internal/runstore"
	"github.com/vk/flowline/internal/scheduler"
	"github.com/vk/flowline/internal/secrets"
	"github.com/vk/flowline/internal/workflow"
)

// Notifier is told about completed runs. Delivery failures are logged,
// never fatal.
type Notifier interface {
	RunCompleted(ctx context.Context, run *workflow.Run) error
}

// Coordinator starts, cancels, and tracks workflow runs. It is safe for
// concurrent use.
type Coordinator struct {
	store    runstore.Store
	exec     executor.StepExecutor
	secrets  secrets.Provider
	groups   *rungroup.Registry
	notifier Notifier
	maxJobs  int

	mu     sync.Mutex
	active map[string]*activeRun
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithStore sets the run store. Defaults to an in-memory store.
func WithStore(s runstore.Store) Option { return func(c *Coordinator) { c.store = s } }

// WithExecutor sets the step executor.
func WithExecutor(e executor.StepExecutor) Option { return func(c *Coordinator) { c.exec = e } }

// WithSecrets sets the secrets provider. Defaults to no secrets.
func WithSecrets(p secrets.Provider) Option { return func(c *Coordinator) { c.secrets = p } }

// WithNotifier sets the completion notifier.
func WithNotifier(n Notifier) Option { return func(c *Coordinator) { c.notifier = n } }

// WithMaxConcurrentJobs bounds how many jobs of one run execute in
// parallel. Zero means unbounded.
func WithMaxConcurrentJobs(n int) Option { return func(c *Coordinator) { c.maxJobs = n } }

// New creates a Coordinator. An executor must be provided via WithExecutor.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		store:   runstore.NewMemory(),
		secrets: secrets.Static{},
		groups:  rungroup.NewRegistry(),
		active:  make(map[string]*activeRun),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.exec == nil {
		panic("coordinator: no step executor configured")
	}
	return c
}

// activeRun is the coordinator-private state of one in-flight run. The
// run record is mutated only under mu; everything readers see comes from
// persisted snapshots.
type activeRun struct {
	mu   sync.Mutex
	run  *workflow.Run
	def  *workflow.Definition
	rctx *workflow.ResolvedContext

	sched      *scheduler.Scheduler
	cancelRun  context.CancelFunc
	jobCancels sync.Map // jobRunID -> context.CancelFunc
	done       chan struct{}
}

// update applies a record mutation and persists a fresh snapshot.
func (ar *activeRun) update(ctx context.Context, store runstore.Store, fn func()) {
	ar.mu.Lock()
	fn()
	snap := ar.run.Snapshot()
	ar.mu.Unlock()
	if err := store.PutRun(ctx, snap); err != nil {
		ctxlog.FromContext(ctx).Error("Failed to persist run snapshot.", "runID", snap.ID, "error", err)
	}
}

func (ar *activeRun) cancelJob(jobRunID string) {
	if cancel, ok := ar.jobCancels.Load(jobRunID); ok {
		cancel.(context.CancelFunc)()
	}
}

// Start instantiates a run for the definition and context and begins
// driving it in the background. The returned record is a snapshot; poll
// the store or Wait for progress.
func (c *Coordinator) Start(ctx context.Context, def *workflow.Definition, rctx *workflow.ResolvedContext) (*workflow.Run, error) {
	sched, err := scheduler.New(def, c.maxJobs)
	if err != nil {
		return nil, err
	}

	run := &workflow.Run{
		ID:        uuid.NewString(),
		Workflow:  def.Name,
		Status:    workflow.RunPending,
		StartedAt: time.Now(),
		Jobs:      make(map[string]*workflow.JobRun),
	}
	for _, jr := range sched.JobRuns() {
		jr.RunID = run.ID
		run.Jobs[jr.ID] = jr
		run.JobOrder = append(run.JobOrder, jr.ID)
	}

	// The run outlives the caller's request context; only explicit
	// cancellation stops it. Context values (the logger) are kept.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	ar := &activeRun{
		run:       run,
		def:       def,
		rctx:      rctx.Clone(),
		sched:     sched,
		cancelRun: cancel,
		done:      make(chan struct{}),
	}
	sched.SetPreempt(ar.cancelJob)
	sched.SetOnTransition(func(t scheduler.Transition) {
		ar.update(runCtx, c.store, func() {
			jr := ar.run.Jobs[t.JobRunID]
			jr.Status = t.Status
			jr.SkipReason = t.Reason
		})
	})

	c.mu.Lock()
	c.active[run.ID] = ar
	c.mu.Unlock()

	ar.update(runCtx, c.store, func() {})
	go c.drive(runCtx, ar)

	return run.Snapshot(), nil
}

// Run starts a run and blocks until it reaches a terminal status.
func (c *Coordinator) Run(ctx context.Context, def *workflow.Definition, rctx *workflow.ResolvedContext) (*workflow.Run, error) {
	run, err := c.Start(ctx, def, rctx)
	if err != nil {
		return nil, err
	}
	return c.Wait(ctx, run.ID)
}

// Wait blocks until the run is terminal and returns its final snapshot.
func (c *Coordinator) Wait(ctx context.Context, runID string) (*workflow.Run, error) {
	c.mu.Lock()
	ar, ok := c.active[runID]
	c.mu.Unlock()
	if ok {
		select {
		case <-ar.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return c.store.GetRun(ctx, runID)
}

// Cancel transitions a run toward cancelled: queued jobs are cancelled
// without ever running, running jobs receive a cancellation signal, and
// already-terminal jobs are unaffected. Cancelling a terminal run is a
// no-op.
func (c *Coordinator) Cancel(runID string) error {
	c.mu.Lock()
	ar, ok := c.active[runID]
	c.mu.Unlock()
	if !ok {
		if _, err := c.store.GetRun(context.Background(), runID); err != nil {
			return err
		}
		return nil
	}

	ar.sched.CancelPending()
	ar.jobCancels.Range(func(_, cancel any) bool {
		cancel.(context.CancelFunc)()
		return true
	})
	ar.cancelRun()
	return nil
}

// drive executes one run to completion.
func (c *Coordinator) drive(ctx context.Context, ar *activeRun) {
	logger := ctxlog.FromContext(ctx).With("runID", ar.run.ID, "workflow", ar.def.Name)
	ctx = ctxlog.WithLogger(ctx, logger)

	defer func() {
		c.mu.Lock()
		delete(c.active, ar.run.ID)
		c.mu.Unlock()
		close(ar.done)
	}()

	if conc := ar.def.Concurrency; conc != nil {
		logger.Debug("Acquiring concurrency group.", "group", conc.Group)
		err := c.groups.Acquire(ctx, conc.Group, ar.run.ID, conc.CancelInProgress, func(activeID string) {
			logger.Info("Preempting in-flight run in concurrency group.", "group", conc.Group, "preempted", activeID)
			if cancelErr := c.Cancel(activeID); cancelErr != nil {
				logger.Warn("Failed to preempt run.", "runID", activeID, "error", cancelErr)
			}
		})
		if err != nil {
			// Cancelled while queued behind the group: nothing ever ran.
			ar.sched.CancelPending()
			c.finish(ctx, ar)
			return
		}
		defer c.groups.Release(conc.Group, ar.run.ID)
	}

	ar.update(ctx, c.store, func() { ar.run.Status = workflow.RunRunning })
	logger.Info("Run started.", "jobs", len(ar.run.JobOrder))

	ar.sched.Start()

	var wg sync.WaitGroup
	for jr := range ar.sched.Ready() {
		wg.Add(1)
		go func(jr *workflow.JobRun) {
			defer wg.Done()
			c.runJob(ctx, ar, jr)
		}(jr)
	}
	wg.Wait()

	c.finish(ctx, ar)
}

// finish aggregates terminal job statuses into the run status and
// notifies listeners.
func (c *Coordinator) finish(ctx context.Context, ar *activeRun) {
	logger := ctxlog.FromContext(ctx)

	status, firstFail := ar.sched.Outcome()
	cause := ""
	if schedErr := ar.sched.Err(); schedErr != nil {
		logger.Error("Internal scheduling fault.", "error", schedErr)
		cause = schedErr.Error()
	} else if firstFail != "" {
		cause = primaryCause(ar.run.Jobs[firstFail])
	}

	ar.update(ctx, c.store, func() {
		ar.run.Status = status
		ar.run.FinishedAt = time.Now()
		ar.run.Cause = cause
	})
	logger.Info("Run finished.", "status", status, "cause", cause)

	if c.notifier != nil {
		ar.mu.Lock()
		snap := ar.run.Snapshot()
		ar.mu.Unlock()
		if err := c.notifier.RunCompleted(ctx, snap); err != nil {
			logger.Warn("Completion notification failed.", "error", err)
		}
	}
}

// primaryCause names the first failing step of a failed job run.
func primaryCause(jr *workflow.JobRun) string {
	if jr == nil {
		return ""
	}
	for _, sr := range jr.Steps {
		if sr.Outcome.Failed() {
			return fmt.Sprintf("job %s: step %s %s", jr.ID, sr.Name, sr.Outcome)
		}
	}
	return fmt.Sprintf("job %s failed", jr.ID)
}
