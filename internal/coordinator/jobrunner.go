package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/flowline/internal/ctxlog"
	"github.com/vk/flowline/internal/executor"
	"github.com/vk/flowline/internal/workflow"
)

// runJob executes one dispatched JobRun: it evaluates the job condition,
// then runs the steps sequentially, halting at the first non-tolerated
// failure. The terminal outcome is reported back to the scheduler.
func (c *Coordinator) runJob(ctx context.Context, ar *activeRun, jr *workflow.JobRun) {
	logger := ctxlog.FromContext(ctx).With("jobRun", jr.ID)
	job := ar.def.Job(jr.JobID)

	// Persistence must survive run cancellation; terminal states are
	// written on the way out.
	pctx := ctxlog.WithLogger(context.WithoutCancel(ctx), logger)

	advance := func(outcome workflow.JobStatus) {
		if err := ar.sched.Advance(jr.ID, outcome); err != nil {
			logger.Error("Scheduler rejected job outcome.", "error", err)
		}
	}

	if ctx.Err() != nil {
		ar.update(pctx, c.store, func() { jr.Status = workflow.JobCancelled })
		advance(workflow.JobCancelled)
		return
	}

	scope := &evalScope{
		rctx:   ar.rctx,
		matrix: jr.Matrix,
		steps:  make(map[string]cty.Value),
	}

	pass, err := evalPredicate(job.If, scope)
	if err != nil {
		logger.Warn("Job condition failed to evaluate.", "error", err)
		ar.update(pctx, c.store, func() {
			jr.Status = workflow.JobFailure
			jr.Err = err.Error()
		})
		advance(workflow.JobFailure)
		return
	}
	if !pass {
		logger.Debug("Job skipped by condition.")
		ar.update(pctx, c.store, func() {
			jr.Status = workflow.JobSkipped
			jr.SkipReason = workflow.SkipCondition
		})
		advance(workflow.JobSkipped)
		return
	}

	secretVals, err := c.secrets.Secrets(ctx, ar.def.Name)
	if err != nil {
		logger.Error("Failed to resolve secrets.", "error", err)
		ar.update(pctx, c.store, func() {
			jr.Status = workflow.JobFailure
			jr.Err = "resolving secrets: " + err.Error()
		})
		advance(workflow.JobFailure)
		return
	}
	scope.secrets = secretVals

	jobCtx, cancel := context.WithCancel(ctx)
	if job.Timeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, job.Timeout)
	}
	ar.jobCancels.Store(jr.ID, cancel)
	defer func() {
		ar.jobCancels.Delete(jr.ID)
		cancel()
	}()

	ar.update(pctx, c.store, func() {
		jr.Status = workflow.JobRunning
		jr.Steps = make([]*workflow.StepRun, len(job.Steps))
		for i, st := range job.Steps {
			jr.Steps[i] = &workflow.StepRun{
				Name:    st.Name,
				Status:  workflow.StepPending,
				Outcome: workflow.StepPending,
			}
		}
	})
	logger.Info("Job started.", "steps", len(job.Steps), "runsOn", jr.RunsOn)

	var failed, cancelledJob bool

	for i, st := range job.Steps {
		sr := jr.Steps[i]

		if failed || cancelledJob {
			ar.update(pctx, c.store, func() {
				sr.Status = workflow.StepSkipped
				sr.Outcome = workflow.StepSkipped
			})
			continue
		}

		if jobCtx.Err() != nil {
			if errors.Is(context.Cause(jobCtx), context.DeadlineExceeded) {
				failed = true
				ar.update(pctx, c.store, func() {
					sr.Status = workflow.StepTimedOut
					sr.Outcome = workflow.StepTimedOut
					jr.Err = "job timed out"
				})
			} else {
				cancelledJob = true
				ar.update(pctx, c.store, func() {
					sr.Status = workflow.StepCancelled
					sr.Outcome = workflow.StepCancelled
				})
			}
			continue
		}

		pass, err := evalPredicate(st.If, scope)
		if err != nil {
			failed = true
			logger.Warn("Step condition failed to evaluate.", "step", st.Name, "error", err)
			ar.update(pctx, c.store, func() {
				sr.Status = workflow.StepFailure
				sr.Outcome = workflow.StepFailure
				jr.Err = "step " + st.Name + ": " + err.Error()
			})
			scope.steps[st.Name] = stepResultValue(sr)
			continue
		}
		if !pass {
			ar.update(pctx, c.store, func() {
				sr.Status = workflow.StepSkipped
				sr.Outcome = workflow.StepSkipped
			})
			scope.steps[st.Name] = stepResultValue(sr)
			continue
		}

		env := &executor.Env{
			Vars:   secretVals,
			RunsOn: jr.RunsOn,
		}
		switch st.Kind {
		case workflow.StepUsesKind:
			with, err := evalWith(st.With, scope)
			if err != nil {
				failed = true
				ar.update(pctx, c.store, func() {
					sr.Status = workflow.StepFailure
					sr.Outcome = workflow.StepFailure
					jr.Err = "step " + st.Name + ": " + err.Error()
				})
				scope.steps[st.Name] = stepResultValue(sr)
				continue
			}
			env.Action = st.Uses
			env.With = with
		default:
			cmd, err := evalString(st.Run, scope)
			if err != nil {
				failed = true
				ar.update(pctx, c.store, func() {
					sr.Status = workflow.StepFailure
					sr.Outcome = workflow.StepFailure
					jr.Err = "step " + st.Name + ": " + err.Error()
				})
				scope.steps[st.Name] = stepResultValue(sr)
				continue
			}
			env.Command = cmd
		}

		ar.update(pctx, c.store, func() {
			sr.Status = workflow.StepRunning
			sr.Outcome = workflow.StepRunning
		})

		stepCtx := jobCtx
		stepCancel := context.CancelFunc(func() {})
		if st.Timeout > 0 {
			stepCtx, stepCancel = context.WithTimeout(jobCtx, st.Timeout)
		}
		start := time.Now()
		res, execErr := c.exec.Execute(stepCtx, st, env)
		stepCancel()
		elapsed := time.Since(start)

		if execErr != nil {
			failed = true
			logger.Error("Step could not be invoked.", "step", st.Name, "error", execErr)
			ar.update(pctx, c.store, func() {
				sr.Status = workflow.StepFailure
				sr.Outcome = workflow.StepFailure
				sr.Duration = elapsed
				jr.Err = "step " + st.Name + ": " + execErr.Error()
			})
			scope.steps[st.Name] = stepResultValue(sr)
			continue
		}

		ar.update(pctx, c.store, func() {
			sr.Outcome = res.Status
			sr.Output = res.Output
			sr.ExitCode = res.ExitCode
			sr.Duration = elapsed

			switch {
			case res.Status == workflow.StepSuccess:
				sr.Status = workflow.StepSuccess
			case res.Status == workflow.StepCancelled:
				sr.Status = workflow.StepCancelled
				cancelledJob = true
			case st.ContinueOnError:
				// The real outcome stays visible; the job carries on.
				sr.Status = workflow.StepSuccess
			default:
				sr.Status = res.Status
				failed = true
				jr.Err = "step " + st.Name + " " + res.Status.String()
			}
		})
		scope.steps[st.Name] = stepResultValue(sr)

		logger.Debug("Step finished.", "step", st.Name, "outcome", res.Status, "duration", elapsed)
	}

	final := workflow.JobSuccess
	switch {
	case cancelledJob:
		// A cancellation triggered by the job's own deadline is a failure,
		// not a cancel; the executor reports it as timed out already, but
		// a run-level cancel can race the deadline.
		if errors.Is(context.Cause(jobCtx), context.DeadlineExceeded) {
			final = workflow.JobFailure
			ar.update(pctx, c.store, func() {
				if jr.Err == "" {
					jr.Err = "job timed out"
				}
			})
		} else {
			final = workflow.JobCancelled
		}
	case failed:
		final = workflow.JobFailure
	}

	ar.update(pctx, c.store, func() { jr.Status = final })
	advance(final)
	logger.Info("Job finished.", "status", final)
}
