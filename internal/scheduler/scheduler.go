// Package scheduler resolves a workflow's job graph into an execution
// plan and tracks it at runtime. It decides which JobRuns are eligible,
// enforces the concurrency ceiling with a FIFO queue, expands matrix jobs
// into independent instances, and propagates fail-fast skips to
// transitive dependents.
//
// The scheduler owns eligibility and terminal-state bookkeeping only; it
// never invokes executors and never mutates run records. The coordinator
// consumes Ready(), runs each JobRun, reports outcomes through Advance,
// and applies the transitions the scheduler decides on its own (skips,
// cancellations) via the OnTransition callback. Eligibility for a job is
// only ever computed once all of its prerequisites are simultaneously
// terminal, so there is no partial or racing evaluation.
package scheduler

import (
	"fmt"
	"sync"

	"github.com/vk/flowline/internal/dag"
	"github.com/vk/flowline/internal/workflow"
)

// Transition is a status decision the scheduler made for a JobRun that
// never reached a worker: a fail-fast skip or a cancellation.
type Transition struct {
	JobRunID string
	Status   workflow.JobStatus
	Reason   workflow.SkipReason
}

// node tracks one JobRun's scheduling state. status/reason shadow the run
// record; the coordinator owns the record itself.
type node struct {
	run *workflow.JobRun
	job *workflow.Job

	status workflow.JobStatus
	reason workflow.SkipReason

	// enqueued is set once the node has entered the FIFO queue or been
	// dispatched; dispatched is set once it has been emitted on Ready().
	enqueued   bool
	dispatched bool
}

func (n *node) terminal() bool {
	return n.status.Terminal()
}

// satisfying reports whether this terminal node lets dependents run: a
// success, or a skip caused by a false condition. Failures, cancellations
// and upstream-failure skips do not satisfy dependents.
func (n *node) satisfying() bool {
	if n.status == workflow.JobSuccess {
		return true
	}
	return n.status == workflow.JobSkipped && n.reason == workflow.SkipCondition
}

// Scheduler drives one run's job graph. All methods are safe for
// concurrent use by the coordinator's workers.
type Scheduler struct {
	mu    sync.Mutex
	graph *dag.Graph
	nodes map[string]*node

	// order preserves deterministic JobRun ordering: definition order,
	// matrix instances in axis-value declaration order.
	order []string

	// instances maps a matrix job ID to its expanded JobRun IDs.
	instances map[string][]string

	limit     int
	inflight  int
	fifo      []string
	remaining int

	ready    chan *workflow.JobRun
	finished bool

	cancelled  bool
	deadlocked bool
	firstFail  string

	// transitions collected under the lock, delivered outside it.
	pending []Transition

	// onTransition receives scheduler-decided skips and cancellations.
	onTransition func(Transition)

	// onPreempt is invoked for running matrix siblings that must be
	// cancelled under fail-fast.
	onPreempt func(jobRunID string)
}

// New expands the definition into JobRuns and builds the execution plan.
// limit bounds concurrently running jobs; zero or negative means no bound.
func New(def *workflow.Definition, limit int) (*Scheduler, error) {
	if limit <= 0 {
		limit = len(def.JobOrder) * 64
	}
	s := &Scheduler{
		graph:     dag.New(),
		nodes:     make(map[string]*node),
		instances: make(map[string][]string),
		limit:     limit,
	}

	for _, jobID := range def.JobOrder {
		job := def.Jobs[jobID]
		for _, values := range expandMatrix(job.Matrix) {
			id := workflow.InstanceID(jobID, values)
			run := &workflow.JobRun{
				ID:     id,
				JobID:  jobID,
				RunsOn: job.RunsOn,
				Status: workflow.JobQueued,
				Matrix: values,
			}
			s.nodes[id] = &node{run: run, job: job, status: workflow.JobQueued}
			s.order = append(s.order, id)
			s.instances[jobID] = append(s.instances[jobID], id)
			s.graph.AddNode(id)
		}
	}

	// A job's instance depends on every instance of every prerequisite
	// job, so dependents only become eligible once a whole matrix is done.
	for _, jobID := range def.JobOrder {
		job := def.Jobs[jobID]
		for _, need := range job.Needs {
			for _, from := range s.instances[need] {
				for _, to := range s.instances[jobID] {
					if err := s.graph.AddEdge(from, to); err != nil {
						return nil, fmt.Errorf("building job graph: %w", err)
					}
				}
			}
		}
	}

	s.remaining = len(s.order)
	s.ready = make(chan *workflow.JobRun, len(s.order))
	return s, nil
}

// SetOnTransition installs the callback receiving scheduler-decided
// transitions. Must be called before Start.
func (s *Scheduler) SetOnTransition(fn func(Transition)) {
	s.onTransition = fn
}

// SetPreempt installs the callback used to cancel running matrix siblings
// under fail-fast. Must be called before Start.
func (s *Scheduler) SetPreempt(fn func(jobRunID string)) {
	s.onPreempt = fn
}

// JobRuns returns every expanded JobRun in deterministic order. The
// records are handed to the coordinator, which owns them from then on.
func (s *Scheduler) JobRuns() []*workflow.JobRun {
	runs := make([]*workflow.JobRun, len(s.order))
	for i, id := range s.order {
		runs[i] = s.nodes[id].run
	}
	return runs
}

// Ready streams eligible JobRuns. The channel is closed once the whole
// graph is terminal.
func (s *Scheduler) Ready() <-chan *workflow.JobRun {
	return s.ready
}

// Start seeds the queue with all root jobs.
func (s *Scheduler) Start() {
	s.mu.Lock()
	for _, id := range s.order {
		deps, _ := s.graph.Dependencies(id)
		if len(deps) == 0 {
			s.enqueueLocked(s.nodes[id])
		}
	}
	s.checkTerminalLocked()
	trans := s.drainLocked()
	s.mu.Unlock()
	s.deliver(trans, nil)
}

// Advance reports the terminal outcome of a dispatched JobRun and
// unlocks, skips, or cancels downstream work accordingly. A JobSkipped
// outcome means the coordinator found the job's condition false, which
// still satisfies dependents.
func (s *Scheduler) Advance(jobRunID string, outcome workflow.JobStatus) error {
	if !outcome.Terminal() {
		return fmt.Errorf("advance %s: %s is not a terminal status", jobRunID, outcome)
	}

	s.mu.Lock()
	n, ok := s.nodes[jobRunID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("advance: unknown job run %s", jobRunID)
	}
	if n.terminal() {
		s.mu.Unlock()
		return fmt.Errorf("advance %s: already terminal (%s)", jobRunID, n.status)
	}
	if !n.dispatched {
		s.mu.Unlock()
		return fmt.Errorf("advance %s: job run was never dispatched", jobRunID)
	}

	n.status = outcome
	if outcome == workflow.JobSkipped {
		n.reason = workflow.SkipCondition
	}
	s.inflight--
	s.remaining--
	if outcome == workflow.JobFailure && s.firstFail == "" {
		s.firstFail = jobRunID
	}

	var preempt []string
	if outcome == workflow.JobFailure && n.job.Matrix != nil && n.job.Matrix.FailFast {
		preempt = s.failFastSiblingsLocked(n)
	}

	s.evaluateDependentsLocked(jobRunID)
	s.dispatchLocked()
	s.checkTerminalLocked()
	trans := s.drainLocked()
	s.mu.Unlock()

	s.deliver(trans, preempt)
	return nil
}

// CancelPending marks every not-yet-dispatched JobRun cancelled, without
// it ever running. Running jobs are the coordinator's to cancel; their
// outcomes still arrive through Advance.
func (s *Scheduler) CancelPending() {
	s.mu.Lock()
	s.cancelled = true
	s.fifo = nil
	for _, id := range s.order {
		n := s.nodes[id]
		if n.terminal() || n.dispatched {
			continue
		}
		s.markLocked(n, workflow.JobCancelled, workflow.SkipNone)
	}
	s.checkTerminalLocked()
	trans := s.drainLocked()
	s.mu.Unlock()
	s.deliver(trans, nil)
}

// Outcome returns the aggregated run status and the ID of the primary
// failing JobRun, if any. Valid once Ready() has been closed.
func (s *Scheduler) Outcome() (workflow.RunStatus, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelled {
		return workflow.RunCancelled, s.firstFail
	}
	status := workflow.RunSuccess
	for _, id := range s.order {
		n := s.nodes[id]
		switch n.status {
		case workflow.JobFailure, workflow.JobCancelled:
			return workflow.RunFailure, s.firstFail
		case workflow.JobSkipped:
			if n.reason == workflow.SkipUpstreamFailure {
				status = workflow.RunFailure
			}
		}
	}
	if s.deadlocked {
		return workflow.RunFailure, s.firstFail
	}
	return status, s.firstFail
}

// Err reports the internal consistency fault, if the scheduler hit one.
func (s *Scheduler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deadlocked {
		return workflow.ErrSchedulingDeadlock
	}
	return nil
}

// markLocked records a scheduler-decided terminal transition for delivery
// to the coordinator.
func (s *Scheduler) markLocked(n *node, status workflow.JobStatus, reason workflow.SkipReason) {
	n.status = status
	n.reason = reason
	s.remaining--
	s.pending = append(s.pending, Transition{JobRunID: n.run.ID, Status: status, Reason: reason})
}

func (s *Scheduler) drainLocked() []Transition {
	trans := s.pending
	s.pending = nil
	return trans
}

// deliver invokes callbacks outside the lock.
func (s *Scheduler) deliver(trans []Transition, preempt []string) {
	if s.onTransition != nil {
		for _, t := range trans {
			s.onTransition(t)
		}
	}
	if s.onPreempt != nil {
		for _, id := range preempt {
			s.onPreempt(id)
		}
	}
}

// enqueueLocked places an eligible node into the FIFO queue and dispatches
// as far as the concurrency ceiling allows.
func (s *Scheduler) enqueueLocked(n *node) {
	if n.enqueued || n.terminal() {
		return
	}
	n.enqueued = true
	s.fifo = append(s.fifo, n.run.ID)
	s.dispatchLocked()
}

func (s *Scheduler) dispatchLocked() {
	for s.inflight < s.limit && len(s.fifo) > 0 {
		id := s.fifo[0]
		s.fifo = s.fifo[1:]
		n := s.nodes[id]
		if n.terminal() {
			continue
		}
		n.dispatched = true
		s.inflight++
		s.ready <- n.run
	}
}

// evaluateDependentsLocked re-examines every dependent of a newly terminal
// node: eligible ones are enqueued, doomed ones are skipped transitively.
func (s *Scheduler) evaluateDependentsLocked(id string) {
	dependents, err := s.graph.Dependents(id)
	if err != nil {
		return
	}
	for _, depID := range dependents {
		d := s.nodes[depID]
		if d.terminal() || d.enqueued {
			continue
		}

		deps, _ := s.graph.Dependencies(depID)
		allTerminal := true
		allSatisfying := true
		for _, prereqID := range deps {
			p := s.nodes[prereqID]
			if !p.terminal() {
				allTerminal = false
				break
			}
			if !p.satisfying() {
				allSatisfying = false
			}
		}
		if !allTerminal {
			continue
		}

		if allSatisfying || d.job.AlwaysRun {
			s.enqueueLocked(d)
			continue
		}

		// Fail-fast: an unsatisfied prerequisite dooms the dependent and,
		// transitively, everything behind it. It is skipped, never run.
		s.markLocked(d, workflow.JobSkipped, workflow.SkipUpstreamFailure)
		s.evaluateDependentsLocked(depID)
	}
}

// failFastSiblingsLocked cancels queued sibling instances of a failed
// matrix cell and returns the running ones for the coordinator to preempt.
func (s *Scheduler) failFastSiblingsLocked(failed *node) []string {
	var running []string
	for _, id := range s.instances[failed.run.JobID] {
		if id == failed.run.ID {
			continue
		}
		sib := s.nodes[id]
		if sib.terminal() {
			continue
		}
		if sib.dispatched {
			running = append(running, id)
			continue
		}
		if sib.enqueued {
			s.removeFromFifoLocked(id)
		}
		s.markLocked(sib, workflow.JobCancelled, workflow.SkipNone)
		s.evaluateDependentsLocked(id)
	}
	return running
}

func (s *Scheduler) removeFromFifoLocked(id string) {
	for i, queued := range s.fifo {
		if queued == id {
			s.fifo = append(s.fifo[:i], s.fifo[i+1:]...)
			return
		}
	}
}

// checkTerminalLocked closes the ready channel once nothing remains, and
// flags the defensive deadlock fault if progress has stalled with work
// still pending. Deadlock should be unreachable: acyclicity is validated
// at parse time.
func (s *Scheduler) checkTerminalLocked() {
	if s.finished {
		return
	}
	if s.remaining == 0 {
		s.finished = true
		close(s.ready)
		return
	}
	if s.inflight == 0 && len(s.fifo) == 0 {
		s.deadlocked = true
		s.finished = true
		close(s.ready)
	}
}
