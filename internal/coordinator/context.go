// This file builds the HCL evaluation context a run threads through
// predicate and template evaluation: event fields, manual inputs, matrix
// values, prior step results, and secrets, all as cty values. The context
// is explicit state handed to each evaluation, never a global.

package coordinator

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/vk/flowline/internal/workflow"
)

// evalScope collects everything visible to one evaluation site.
type evalScope struct {
	rctx    *workflow.ResolvedContext
	matrix  map[string]string
	steps   map[string]cty.Value
	secrets map[string]string
}

func (s *evalScope) hclContext() *hcl.EvalContext {
	vars := map[string]cty.Value{
		"event":   eventValue(s.rctx),
		"inputs":  stringMapValue(inputsOf(s.rctx)),
		"matrix":  stringMapValue(s.matrix),
		"steps":   objectValue(s.steps),
		"secrets": stringMapValue(s.secrets),
	}
	return &hcl.EvalContext{Variables: vars}
}

func inputsOf(rctx *workflow.ResolvedContext) map[string]string {
	if rctx == nil {
		return nil
	}
	return rctx.Inputs
}

func eventValue(rctx *workflow.ResolvedContext) cty.Value {
	if rctx == nil || rctx.Event == nil {
		return cty.ObjectVal(map[string]cty.Value{
			"kind": cty.StringVal(""),
			"ref":  cty.StringVal(""),
		})
	}
	ev := rctx.Event
	paths := cty.ListValEmpty(cty.String)
	if len(ev.Paths) > 0 {
		vals := make([]cty.Value, len(ev.Paths))
		for i, p := range ev.Paths {
			vals[i] = cty.StringVal(p)
		}
		paths = cty.ListVal(vals)
	}
	return cty.ObjectVal(map[string]cty.Value{
		"kind":    cty.StringVal(string(ev.Kind)),
		"ref":     cty.StringVal(ev.Ref),
		"paths":   paths,
		"payload": stringMapValue(ev.Payload),
	})
}

func stringMapValue(m map[string]string) cty.Value {
	if len(m) == 0 {
		return cty.EmptyObjectVal
	}
	vals := make(map[string]cty.Value, len(m))
	for k, v := range m {
		vals[k] = cty.StringVal(v)
	}
	return cty.ObjectVal(vals)
}

func objectValue(m map[string]cty.Value) cty.Value {
	if len(m) == 0 {
		return cty.EmptyObjectVal
	}
	return cty.ObjectVal(m)
}

// stepResultValue exposes a finished step to later steps of the same job.
func stepResultValue(sr *workflow.StepRun) cty.Value {
	return cty.ObjectVal(map[string]cty.Value{
		"output":  cty.StringVal(sr.Output),
		"outcome": cty.StringVal(sr.Outcome.String()),
	})
}

// evalPredicate evaluates an optional conditional expression. A nil
// expression passes; a null result counts as false.
func evalPredicate(expr hcl.Expression, scope *evalScope) (bool, error) {
	if expr == nil {
		return true, nil
	}
	val, diags := expr.Value(scope.hclContext())
	if diags.HasErrors() {
		return false, fmt.Errorf("evaluating condition: %s", diags.Error())
	}
	if val.IsNull() {
		return false, nil
	}
	b, err := convert.Convert(val, cty.Bool)
	if err != nil {
		return false, fmt.Errorf("condition is not a boolean: %w", err)
	}
	return b.True(), nil
}

// evalString evaluates an expression expected to yield a string, such as
// a run command template.
func evalString(expr hcl.Expression, scope *evalScope) (string, error) {
	val, diags := expr.Value(scope.hclContext())
	if diags.HasErrors() {
		return "", fmt.Errorf("evaluating expression: %s", diags.Error())
	}
	s, err := convert.Convert(val, cty.String)
	if err != nil {
		return "", fmt.Errorf("expression is not a string: %w", err)
	}
	if s.IsNull() {
		return "", fmt.Errorf("expression evaluated to null")
	}
	return s.AsString(), nil
}

// evalWith evaluates a uses step's input expressions.
func evalWith(with map[string]hcl.Expression, scope *evalScope) (map[string]cty.Value, error) {
	if len(with) == 0 {
		return nil, nil
	}
	hctx := scope.hclContext()
	out := make(map[string]cty.Value, len(with))
	for name, expr := range with {
		val, diags := expr.Value(hctx)
		if diags.HasErrors() {
			return nil, fmt.Errorf("evaluating input %q: %s", name, diags.Error())
		}
		out[name] = val
	}
	return out, nil
}
