// This file translates decoded schema structs into the validated workflow
// model. All structural rules live here so that a definition handed to the
// rest of the engine is guaranteed well-formed.

package hcl

import (
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/robfig/cron/v3"

	"github.com/vk/flowline/internal/dag"
	"github.com/vk/flowline/internal/schema"
	"github.com/vk/flowline/internal/workflow"
)

func translate(w *schema.Workflow, src []byte) (*workflow.Definition, error) {
	def := &workflow.Definition{
		Name: w.Name,
		Jobs: make(map[string]*workflow.Job),
	}

	if len(w.Triggers) == 0 {
		return nil, &workflow.SchemaError{Path: "workflow.on", Detail: "at least one trigger is required"}
	}
	for _, t := range w.Triggers {
		trigger, err := translateTrigger(t)
		if err != nil {
			return nil, err
		}
		def.Triggers = append(def.Triggers, trigger)
	}

	if w.Concurrency != nil {
		if w.Concurrency.Group == "" {
			return nil, &workflow.SchemaError{Path: "workflow.concurrency.group", Detail: "group key must not be empty"}
		}
		def.Concurrency = &workflow.Concurrency{
			Group:            w.Concurrency.Group,
			CancelInProgress: w.Concurrency.CancelInProgress,
		}
	}

	if len(w.Jobs) == 0 {
		return nil, &workflow.SchemaError{Path: "workflow.jobs", Detail: "at least one job is required"}
	}
	for _, j := range w.Jobs {
		job, err := translateJob(j, src)
		if err != nil {
			return nil, err
		}
		if _, dup := def.Jobs[job.ID]; dup {
			return nil, &workflow.SchemaError{
				Path:   "workflow.jobs." + job.ID,
				Detail: "duplicate job id",
			}
		}
		def.Jobs[job.ID] = job
		def.JobOrder = append(def.JobOrder, job.ID)
	}

	if err := validateNeeds(def); err != nil {
		return nil, err
	}
	return def, nil
}

func translateTrigger(t *schema.Trigger) (*workflow.Trigger, error) {
	kind := workflow.EventKind(t.Kind)
	path := "workflow.on." + t.Kind
	if !workflow.KnownEventKind(kind) {
		return nil, &workflow.SchemaError{Path: path, Detail: "unknown trigger kind"}
	}

	trigger := &workflow.Trigger{
		Kind:     kind,
		Branches: t.Branches,
		Paths:    t.Paths,
		Cron:     t.Cron,
		Inputs:   make(map[string]*workflow.InputSpec),
	}

	switch kind {
	case workflow.EventSchedule:
		if t.Cron == "" {
			return nil, &workflow.SchemaError{Path: path + ".cron", Detail: "schedule triggers require a cron expression"}
		}
		if _, err := cron.ParseStandard(t.Cron); err != nil {
			return nil, &workflow.SchemaError{Path: path + ".cron", Detail: fmt.Sprintf("invalid cron expression: %v", err)}
		}
		if len(t.Branches) > 0 || len(t.Paths) > 0 {
			return nil, &workflow.SchemaError{Path: path, Detail: "schedule triggers do not accept branch or path filters"}
		}
	case workflow.EventManual:
		if t.Cron != "" || len(t.Branches) > 0 || len(t.Paths) > 0 {
			return nil, &workflow.SchemaError{Path: path, Detail: "manual triggers accept only input blocks"}
		}
	default:
		if t.Cron != "" {
			return nil, &workflow.SchemaError{Path: path + ".cron", Detail: "cron is only valid on schedule triggers"}
		}
	}

	if kind != workflow.EventManual && len(t.Inputs) > 0 {
		return nil, &workflow.SchemaError{Path: path, Detail: "input blocks are only valid on manual triggers"}
	}
	for _, in := range t.Inputs {
		if _, dup := trigger.Inputs[in.Name]; dup {
			return nil, &workflow.SchemaError{Path: path + ".input." + in.Name, Detail: "duplicate input name"}
		}
		trigger.Inputs[in.Name] = &workflow.InputSpec{
			Name:     in.Name,
			Required: in.Required,
			Default:  in.Default,
		}
		trigger.InputOrder = append(trigger.InputOrder, in.Name)
	}
	return trigger, nil
}

func translateJob(j *schema.Job, src []byte) (*workflow.Job, error) {
	path := "workflow.jobs." + j.ID

	if j.RunsOn == "" {
		return nil, &workflow.SchemaError{Path: path + ".runs_on", Detail: "runs_on is required"}
	}
	if len(j.Steps) == 0 {
		return nil, &workflow.SchemaError{Path: path + ".steps", Detail: "a job requires at least one step"}
	}

	cond := presentExpr(j.If)
	job := &workflow.Job{
		ID:        j.ID,
		RunsOn:    j.RunsOn,
		Needs:     j.Needs,
		If:        cond,
		IfSrc:     exprSource(src, cond),
		AlwaysRun: j.AlwaysRun,
	}

	if j.Timeout != "" {
		d, err := time.ParseDuration(j.Timeout)
		if err != nil || d <= 0 {
			return nil, &workflow.SchemaError{Path: path + ".timeout", Detail: "timeout must be a positive duration"}
		}
		job.Timeout = d
	}

	if j.Matrix != nil {
		matrix, err := translateMatrix(j.Matrix, path)
		if err != nil {
			return nil, err
		}
		job.Matrix = matrix
	}

	seen := make(map[string]bool)
	for _, s := range j.Steps {
		step, err := translateStep(s, path, src)
		if err != nil {
			return nil, err
		}
		if seen[step.Name] {
			return nil, &workflow.SchemaError{Path: path + ".steps." + step.Name, Detail: "duplicate step name"}
		}
		seen[step.Name] = true
		job.Steps = append(job.Steps, step)
	}
	return job, nil
}

func translateMatrix(m *schema.Matrix, jobPath string) (*workflow.Matrix, error) {
	matrix := &workflow.Matrix{FailFast: true}
	if m.FailFast != nil {
		matrix.FailFast = *m.FailFast
	}
	if len(m.Axes) == 0 {
		return nil, &workflow.SchemaError{Path: jobPath + ".matrix", Detail: "a matrix requires at least one axis"}
	}
	seen := make(map[string]bool)
	for _, a := range m.Axes {
		if seen[a.Name] {
			return nil, &workflow.SchemaError{Path: jobPath + ".matrix.axis." + a.Name, Detail: "duplicate axis name"}
		}
		seen[a.Name] = true
		if len(a.Values) == 0 {
			return nil, &workflow.SchemaError{Path: jobPath + ".matrix.axis." + a.Name, Detail: "an axis requires at least one value"}
		}
		matrix.Axes = append(matrix.Axes, &workflow.Axis{Name: a.Name, Values: a.Values})
	}
	return matrix, nil
}

func translateStep(s *schema.Step, jobPath string, src []byte) (*workflow.Step, error) {
	path := jobPath + ".steps." + s.Name

	run := presentExpr(s.Run)
	cond := presentExpr(s.If)

	hasRun := run != nil
	hasUses := s.Uses != ""
	if hasRun == hasUses {
		return nil, &workflow.SchemaError{Path: path, Detail: "a step requires exactly one of run or uses"}
	}

	step := &workflow.Step{
		Name:            s.Name,
		If:              cond,
		IfSrc:           exprSource(src, cond),
		ContinueOnError: s.ContinueOnError,
	}

	if hasRun {
		step.Kind = workflow.StepRunKind
		step.Run = run
		step.RunSrc = exprSource(src, run)
		if s.With != nil {
			return nil, &workflow.SchemaError{Path: path + ".with", Detail: "with blocks are only valid on uses steps"}
		}
	} else {
		step.Kind = workflow.StepUsesKind
		step.Uses = s.Uses
		if s.With != nil {
			attrs, diags := s.With.Body.JustAttributes()
			if diags.HasErrors() {
				return nil, &workflow.SchemaError{Path: path + ".with", Detail: diags.Error()}
			}
			step.With = make(map[string]hcl.Expression, len(attrs))
			step.WithSrc = make(map[string]string, len(attrs))
			for name, attr := range attrs {
				step.With[name] = attr.Expr
				step.WithSrc[name] = exprSource(src, attr.Expr)
			}
		}
	}

	if s.Timeout != "" {
		d, err := time.ParseDuration(s.Timeout)
		if err != nil || d <= 0 {
			return nil, &workflow.SchemaError{Path: path + ".timeout", Detail: "timeout must be a positive duration"}
		}
		step.Timeout = d
	}
	return step, nil
}

// validateNeeds checks that every needs reference resolves and that the
// dependency relation is acyclic.
func validateNeeds(def *workflow.Definition) error {
	graph := dag.New()
	for _, id := range def.JobOrder {
		graph.AddNode(id)
	}
	for _, id := range def.JobOrder {
		job := def.Jobs[id]
		seen := make(map[string]bool)
		for _, need := range job.Needs {
			if _, ok := def.Jobs[need]; !ok {
				return &workflow.SchemaError{
					Path:   "workflow.jobs." + id + ".needs",
					Detail: fmt.Sprintf("unknown job %q", need),
				}
			}
			if seen[need] {
				return &workflow.SchemaError{
					Path:   "workflow.jobs." + id + ".needs",
					Detail: fmt.Sprintf("duplicate reference to job %q", need),
				}
			}
			seen[need] = true
			if need == id {
				// A self-loop is the smallest needs cycle.
				return &workflow.CyclicDependencyError{JobID: id}
			}
			if err := graph.AddEdge(need, id); err != nil {
				return &workflow.SchemaError{
					Path:   "workflow.jobs." + id + ".needs",
					Detail: err.Error(),
				}
			}
		}
	}

	if err := graph.DetectCycles(); err != nil {
		var cycleErr *dag.CycleError
		if errors.As(err, &cycleErr) {
			return &workflow.CyclicDependencyError{JobID: cycleErr.NodeID}
		}
		return err
	}
	return nil
}

// presentExpr maps an absent optional expression attribute to nil. gohcl
// decodes a missing hcl.Expression field as a synthetic static null, not
// as a nil interface, so presence cannot be tested with != nil directly.
func presentExpr(expr hcl.Expression) hcl.Expression {
	if expr == nil {
		return nil
	}
	if len(expr.Variables()) > 0 {
		return expr
	}
	if v, diags := expr.Value(nil); !diags.HasErrors() && v.IsNull() {
		return nil
	}
	return expr
}

// exprSource returns the raw source text of an expression, for lossless
// re-serialization.
func exprSource(src []byte, expr hcl.Expression) string {
	if expr == nil {
		return ""
	}
	rng := expr.Range()
	if rng.Start.Byte < 0 || rng.End.Byte > len(src) || rng.Start.Byte >= rng.End.Byte {
		return ""
	}
	return string(src[rng.Start.Byte:rng.End.Byte])
}
