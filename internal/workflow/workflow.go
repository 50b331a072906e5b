// Package workflow defines the typed, format-agnostic model for workflow
// definitions, trigger events, and run records. Definitions are produced
// once by the document loader and shared read-only across all runs
// instantiated from them; all mutable execution state lives on the Run
// records owned by a single coordinator.
package workflow

import (
	"time"

	"github.com/hashicorp/hcl/v2"
)

// Definition is an immutable, validated workflow. It is safe to share
// across concurrently executing runs.
type Definition struct {
	Name        string
	Triggers    []*Trigger
	Concurrency *Concurrency

	// Jobs is keyed by job ID; JobOrder preserves declaration order for
	// deterministic serialization and scheduling.
	Jobs     map[string]*Job
	JobOrder []string
}

// Job returns the job with the given ID, or nil.
func (d *Definition) Job(id string) *Job {
	return d.Jobs[id]
}

// Concurrency declares the run-level concurrency group for a workflow.
// Runs sharing a group key are serialized; CancelInProgress lets a newer
// run preempt an in-flight older one.
type Concurrency struct {
	Group            string
	CancelInProgress bool
}

// Trigger is one declared condition under which a workflow becomes
// eligible to run.
type Trigger struct {
	Kind EventKind

	// Branches and Paths are glob filters applied to push and pull_request
	// events. An empty filter matches everything.
	Branches []string
	Paths    []string

	// Cron holds the schedule expression for schedule triggers.
	Cron string

	// Inputs declares the accepted inputs of a manual trigger, keyed by
	// name. InputOrder preserves declaration order.
	Inputs     map[string]*InputSpec
	InputOrder []string
}

// InputSpec declares a single manual-trigger input.
type InputSpec struct {
	Name     string
	Required bool
	Default  *string
}

// Job is an independently schedulable unit of work.
type Job struct {
	ID     string
	RunsOn string
	Needs  []string

	// If is an optional conditional predicate, evaluated against the run's
	// context immediately before the job would become eligible. A nil
	// expression always passes. IfSrc preserves the expression source for
	// serialization.
	If    hcl.Expression
	IfSrc string

	// AlwaysRun makes the job eligible once all prerequisites are terminal,
	// regardless of their outcome.
	AlwaysRun bool

	Timeout time.Duration
	Matrix  *Matrix
	Steps   []*Step
}

// Matrix declares a set of variable axes causing a job to expand into one
// JobRun per cross-product of axis values.
type Matrix struct {
	// FailFast cancels remaining instances once one fails. Defaults to true.
	FailFast bool
	Axes     []*Axis
}

// Axis is a single matrix variable with its ordered values.
type Axis struct {
	Name   string
	Values []string
}

// StepKind discriminates between command steps and action steps.
type StepKind int

const (
	// StepRunKind runs a shell command.
	StepRunKind StepKind = iota
	// StepUsesKind invokes a named reusable action.
	StepUsesKind
)

// Step is the smallest unit of executable work within a job. Exactly one
// of Run/Uses is set, matching Kind.
type Step struct {
	Name string
	Kind StepKind

	// Run holds the command template for run steps. It is evaluated lazily
	// against the run's context so matrix values, prior step outputs and
	// secrets can be interpolated. RunSrc preserves the source text.
	Run    hcl.Expression
	RunSrc string

	// Uses names the action for uses steps; With carries its input
	// expressions, also evaluated lazily. WithSrc preserves source text
	// per input for serialization.
	Uses    string
	With    map[string]hcl.Expression
	WithSrc map[string]string

	If    hcl.Expression
	IfSrc string

	ContinueOnError bool
	Timeout         time.Duration
}
