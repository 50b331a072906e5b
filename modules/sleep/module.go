// Package sleep provides the built-in `sleep` action. It honors step and
// job deadlines, which makes it the canonical timeout test subject.
package sleep

import (
	"context"
	"fmt"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/flowline/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the action with the engine.
func (m *Module) Register(r *registry.Registry) {
	_ = r.Register("sleep", run)
}

func run(ctx context.Context, inputs map[string]cty.Value) (cty.Value, error) {
	v, ok := inputs["duration"]
	if !ok || v.IsNull() || v.Type() != cty.String {
		return cty.NilVal, fmt.Errorf("sleep: string input %q is required", "duration")
	}
	d, err := time.ParseDuration(v.AsString())
	if err != nil {
		return cty.NilVal, fmt.Errorf("sleep: invalid duration %q: %w", v.AsString(), err)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return cty.StringVal(d.String()), nil
	case <-ctx.Done():
		return cty.NilVal, ctx.Err()
	}
}
