// Package schema defines the HCL block structures for workflow documents.
// These structs mirror the document layout exactly; the loader translates
// them into the validated model in the workflow package.
package schema

import (
	"github.com/hashicorp/hcl/v2"
)

// Document represents the top-level structure of a workflow file. A file
// holds exactly one workflow block.
type Document struct {
	Workflows []*Workflow `hcl:"workflow,block"`
	Body      hcl.Body    `hcl:",remain"`
}

// Workflow represents a `workflow` block.
type Workflow struct {
	Name        string       `hcl:"name,label"`
	Triggers    []*Trigger   `hcl:"on,block"`
	Concurrency *Concurrency `hcl:"concurrency,block"`
	Jobs        []*Job       `hcl:"job,block"`
}

// Trigger represents an `on` block. Its label is the event kind.
type Trigger struct {
	Kind     string   `hcl:"kind,label"`
	Branches []string `hcl:"branches,optional"`
	Paths    []string `hcl:"paths,optional"`
	Cron     string   `hcl:"cron,optional"`
	Inputs   []*Input `hcl:"input,block"`
}

// Input represents an `input` block of a manual trigger.
type Input struct {
	Name     string  `hcl:"name,label"`
	Required bool    `hcl:"required,optional"`
	Default  *string `hcl:"default,optional"`
}

// Concurrency represents a `concurrency` block.
type Concurrency struct {
	Group            string `hcl:"group"`
	CancelInProgress bool   `hcl:"cancel_in_progress,optional"`
}

// Job represents a `job` block. runs_on is structurally optional here so
// the loader can report its absence with a precise field path.
type Job struct {
	ID        string         `hcl:"id,label"`
	RunsOn    string         `hcl:"runs_on,optional"`
	Needs     []string       `hcl:"needs,optional"`
	If        hcl.Expression `hcl:"if,optional"`
	AlwaysRun bool           `hcl:"always_run,optional"`
	Timeout   string         `hcl:"timeout,optional"`
	Matrix    *Matrix        `hcl:"matrix,block"`
	Steps     []*Step        `hcl:"step,block"`
}

// Matrix represents a `matrix` block. FailFast is a pointer so the loader
// can distinguish an explicit false from an omitted attribute.
type Matrix struct {
	FailFast *bool   `hcl:"fail_fast,optional"`
	Axes     []*Axis `hcl:"axis,block"`
}

// Axis represents an `axis` block inside a matrix.
type Axis struct {
	Name   string   `hcl:"name,label"`
	Values []string `hcl:"values"`
}

// WithBlock represents the content of the 'with' block within a step. Its
// attributes are kept as raw expressions for lazy evaluation.
type WithBlock struct {
	Body hcl.Body `hcl:",remain"`
}

// Step represents a `step` block. Exactly one of run/uses must be set;
// the loader enforces this.
type Step struct {
	Name            string         `hcl:"name,label"`
	Run             hcl.Expression `hcl:"run,optional"`
	Uses            string         `hcl:"uses,optional"`
	With            *WithBlock     `hcl:"with,block"`
	If              hcl.Expression `hcl:"if,optional"`
	ContinueOnError bool           `hcl:"continue_on_error,optional"`
	Timeout         string         `hcl:"timeout,optional"`
}
