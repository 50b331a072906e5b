// Package trigger decides which workflows react to an incoming event. The
// matcher is pure and stateless; scheduled triggers are fired by the cron
// Service in this package, which emits synthetic events at cron-computed
// instants so the matcher itself never consults the clock.
package trigger

import (
	"context"

	"github.com/vk/flowline/internal/ctxlog"
	"github.com/vk/flowline/internal/workflow"
)

// Match pairs an eligible workflow with the context its run should own.
type Match struct {
	Definition *workflow.Definition
	Context    *workflow.ResolvedContext
}

// Matcher evaluates events against workflow trigger declarations.
type Matcher struct{}

// NewMatcher creates a Matcher.
func NewMatcher() *Matcher {
	return &Matcher{}
}

// Match returns every workflow eligible to run for the event, in
// definition order. Workflows whose manual trigger is missing a required
// input are reported in errs and excluded; other workflows are unaffected.
// Matches are independent and safe to process concurrently.
func (m *Matcher) Match(ctx context.Context, event *workflow.Event, defs []*workflow.Definition) (matches []Match, errs []error) {
	logger := ctxlog.FromContext(ctx)
	for _, def := range defs {
		match, err := m.matchOne(event, def)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if match != nil {
			matches = append(matches, *match)
		}
	}
	logger.Debug("Trigger matching complete.", "event", event.Kind, "matches", len(matches), "errors", len(errs))
	return matches, errs
}

func (m *Matcher) matchOne(event *workflow.Event, def *workflow.Definition) (*Match, error) {
	for _, t := range def.Triggers {
		if t.Kind != event.Kind {
			continue
		}
		switch t.Kind {
		case workflow.EventPush, workflow.EventPullRequest:
			if !matchAnyGlob(t.Branches, event.Ref) {
				continue
			}
			if !matchAnyPath(t.Paths, event.Paths) {
				continue
			}
		case workflow.EventSchedule:
			// Synthetic schedule events carry the target workflow name so
			// one firing never fans out to unrelated schedules.
			if target, ok := event.Payload["workflow"]; ok && target != def.Name {
				continue
			}
		case workflow.EventManual:
			inputs, err := resolveInputs(def.Name, t, event.Inputs)
			if err != nil {
				return nil, err
			}
			rctx := &workflow.ResolvedContext{Event: event, Inputs: inputs}
			return &Match{Definition: def, Context: rctx.Clone()}, nil
		}
		rctx := &workflow.ResolvedContext{Event: event}
		return &Match{Definition: def, Context: rctx.Clone()}, nil
	}
	return nil, nil
}

// resolveInputs applies declared defaults and enforces required inputs.
func resolveInputs(workflowName string, t *workflow.Trigger, provided map[string]string) (map[string]string, error) {
	resolved := make(map[string]string, len(t.Inputs))
	for _, name := range t.InputOrder {
		spec := t.Inputs[name]
		if v, ok := provided[name]; ok {
			resolved[name] = v
			continue
		}
		if spec.Default != nil {
			resolved[name] = *spec.Default
			continue
		}
		if spec.Required {
			return nil, &workflow.MissingInputError{Workflow: workflowName, Input: name}
		}
	}
	return resolved, nil
}
