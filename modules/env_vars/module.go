// Package env_vars provides the built-in `env_vars` action: it reads a
// named environment variable into the step output.
package env_vars

import (
	"context"
	"fmt"
	"os"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/flowline/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the action with the engine.
func (m *Module) Register(r *registry.Registry) {
	_ = r.Register("env_vars", run)
}

func run(ctx context.Context, inputs map[string]cty.Value) (cty.Value, error) {
	name, ok := inputs["name"]
	if !ok || name.IsNull() || name.Type() != cty.String {
		return cty.NilVal, fmt.Errorf("env_vars: string input %q is required", "name")
	}
	val, found := os.LookupEnv(name.AsString())
	if !found {
		if def, ok := inputs["default"]; ok && !def.IsNull() && def.Type() == cty.String {
			return def, nil
		}
		return cty.NilVal, fmt.Errorf("env_vars: %s is not set", name.AsString())
	}
	return cty.StringVal(val), nil
}
