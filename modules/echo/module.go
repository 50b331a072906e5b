// Package echo provides the built-in `echo` action: it logs its inputs
// and returns the message, mostly useful for wiring checks and examples.
package echo

import (
	"context"
	"sort"
	"strings"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/flowline/internal/ctxlog"
	"github.com/vk/flowline/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the action with the engine.
func (m *Module) Register(r *registry.Registry) {
	_ = r.Register("echo", run)
}

func run(ctx context.Context, inputs map[string]cty.Value) (cty.Value, error) {
	if msg, ok := inputs["message"]; ok && msg.Type() == cty.String && !msg.IsNull() {
		ctxlog.FromContext(ctx).Info("echo", "message", msg.AsString())
		return msg, nil
	}

	keys := make([]string, 0, len(inputs))
	for k := range inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ctxlog.FromContext(ctx).Info("echo", "inputs", strings.Join(keys, ","))
	return cty.StringVal(""), nil
}
