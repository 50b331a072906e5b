// This file serializes a workflow definition back into HCL source.
// Expression attributes are emitted from their preserved source text, so a
// parse/write/parse round trip yields an equivalent definition.

package hcl

import (
	"sort"

	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/flowline/internal/workflow"
)

// Write renders the definition as an HCL document.
func Write(def *workflow.Definition) []byte {
	f := hclwrite.NewEmptyFile()
	wb := f.Body().AppendNewBlock("workflow", []string{def.Name}).Body()

	for _, t := range def.Triggers {
		tb := wb.AppendNewBlock("on", []string{string(t.Kind)}).Body()
		if len(t.Branches) > 0 {
			tb.SetAttributeValue("branches", stringList(t.Branches))
		}
		if len(t.Paths) > 0 {
			tb.SetAttributeValue("paths", stringList(t.Paths))
		}
		if t.Cron != "" {
			tb.SetAttributeValue("cron", cty.StringVal(t.Cron))
		}
		for _, name := range t.InputOrder {
			in := t.Inputs[name]
			ib := tb.AppendNewBlock("input", []string{in.Name}).Body()
			if in.Required {
				ib.SetAttributeValue("required", cty.True)
			}
			if in.Default != nil {
				ib.SetAttributeValue("default", cty.StringVal(*in.Default))
			}
		}
	}

	if c := def.Concurrency; c != nil {
		cb := wb.AppendNewBlock("concurrency", nil).Body()
		cb.SetAttributeValue("group", cty.StringVal(c.Group))
		if c.CancelInProgress {
			cb.SetAttributeValue("cancel_in_progress", cty.True)
		}
	}

	for _, id := range def.JobOrder {
		writeJob(wb, def.Jobs[id])
	}

	return f.Bytes()
}

func writeJob(wb *hclwrite.Body, job *workflow.Job) {
	jb := wb.AppendNewBlock("job", []string{job.ID}).Body()
	jb.SetAttributeValue("runs_on", cty.StringVal(job.RunsOn))
	if len(job.Needs) > 0 {
		jb.SetAttributeValue("needs", stringList(job.Needs))
	}
	if job.IfSrc != "" {
		jb.SetAttributeRaw("if", rawTokens(job.IfSrc))
	}
	if job.AlwaysRun {
		jb.SetAttributeValue("always_run", cty.True)
	}
	if job.Timeout > 0 {
		jb.SetAttributeValue("timeout", cty.StringVal(job.Timeout.String()))
	}

	if m := job.Matrix; m != nil {
		mb := jb.AppendNewBlock("matrix", nil).Body()
		if !m.FailFast {
			mb.SetAttributeValue("fail_fast", cty.False)
		}
		for _, axis := range m.Axes {
			ab := mb.AppendNewBlock("axis", []string{axis.Name}).Body()
			ab.SetAttributeValue("values", stringList(axis.Values))
		}
	}

	for _, step := range job.Steps {
		writeStep(jb, step)
	}
}

func writeStep(jb *hclwrite.Body, step *workflow.Step) {
	sb := jb.AppendNewBlock("step", []string{step.Name}).Body()
	switch step.Kind {
	case workflow.StepRunKind:
		sb.SetAttributeRaw("run", rawTokens(step.RunSrc))
	case workflow.StepUsesKind:
		sb.SetAttributeValue("uses", cty.StringVal(step.Uses))
		if len(step.WithSrc) > 0 {
			with := sb.AppendNewBlock("with", nil).Body()
			names := make([]string, 0, len(step.WithSrc))
			for name := range step.WithSrc {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				with.SetAttributeRaw(name, rawTokens(step.WithSrc[name]))
			}
		}
	}
	if step.IfSrc != "" {
		sb.SetAttributeRaw("if", rawTokens(step.IfSrc))
	}
	if step.ContinueOnError {
		sb.SetAttributeValue("continue_on_error", cty.True)
	}
	if step.Timeout > 0 {
		sb.SetAttributeValue("timeout", cty.StringVal(step.Timeout.String()))
	}
}

// rawTokens wraps preserved expression source so hclwrite emits it verbatim.
func rawTokens(src string) hclwrite.Tokens {
	return hclwrite.Tokens{
		{Type: hclsyntax.TokenIdent, Bytes: []byte(src)},
	}
}

func stringList(values []string) cty.Value {
	vals := make([]cty.Value, len(values))
	for i, v := range values {
		vals[i] = cty.StringVal(v)
	}
	return cty.ListVal(vals)
}
