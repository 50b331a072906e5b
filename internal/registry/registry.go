// Package registry holds the reusable actions available to `uses` steps.
// An action is an opaque, executor-invocable unit: a named Go function
// taking the step's resolved inputs and returning an output value. The
// plugin-loading mechanism behind action references is external; the
// engine only needs the name-to-handler mapping.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/zclconf/go-cty/cty"
)

// ActionFunc is the handler signature for a reusable action. Inputs carry
// the evaluated `with` attributes of the invoking step.
type ActionFunc func(ctx context.Context, inputs map[string]cty.Value) (cty.Value, error)

// Module is the interface a bundle of actions implements to be registered.
type Module interface {
	Register(r *Registry)
}

// Registry maps action references to their handlers for a single
// application instance.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]ActionFunc
}

// New creates and initializes a new Registry instance.
func New() *Registry {
	return &Registry{
		actions: make(map[string]ActionFunc),
	}
}

// Register adds an action handler under the given reference. Registering
// the same reference twice is a programmer error.
func (r *Registry) Register(ref string, fn ActionFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.actions[ref]; dup {
		return fmt.Errorf("action %q already registered", ref)
	}
	r.actions[ref] = fn
	return nil
}

// Lookup resolves an action reference.
func (r *Registry) Lookup(ref string) (ActionFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.actions[ref]
	if !ok {
		return nil, fmt.Errorf("unknown action %q", ref)
	}
	return fn, nil
}

// Refs returns all registered references, sorted.
func (r *Registry) Refs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	refs := make([]string, 0, len(r.actions))
	for ref := range r.actions {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}
