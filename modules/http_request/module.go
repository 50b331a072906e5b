// Package http_request provides the built-in `http_request` action: a
// single HTTP call whose body becomes the step output.
package http_request

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zclconf/go-cty/cty"
	"resty.dev/v3"

	"github.com/vk/flowline/internal/ctxlog"
	"github.com/vk/flowline/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the action with the engine.
func (m *Module) Register(r *registry.Registry) {
	_ = r.Register("http_request", run)
}

func stringInput(inputs map[string]cty.Value, name string) (string, bool) {
	v, ok := inputs[name]
	if !ok || v.IsNull() || v.Type() != cty.String {
		return "", false
	}
	return v.AsString(), true
}

func run(ctx context.Context, inputs map[string]cty.Value) (cty.Value, error) {
	url, ok := stringInput(inputs, "url")
	if !ok {
		return cty.NilVal, fmt.Errorf("http_request: string input %q is required", "url")
	}
	method := "GET"
	if m, ok := stringInput(inputs, "method"); ok {
		method = strings.ToUpper(m)
	}

	timeout := 30 * time.Second
	if t, ok := stringInput(inputs, "timeout"); ok {
		d, err := time.ParseDuration(t)
		if err != nil {
			return cty.NilVal, fmt.Errorf("http_request: invalid timeout %q: %w", t, err)
		}
		timeout = d
	}

	client := resty.New().SetTimeout(timeout)
	defer client.Close()

	req := client.R().SetContext(ctx)
	if body, ok := stringInput(inputs, "body"); ok {
		req.SetBody(body)
	}

	res, err := req.Execute(method, url)
	if err != nil {
		return cty.NilVal, fmt.Errorf("http_request: %w", err)
	}
	ctxlog.FromContext(ctx).Debug("HTTP request finished.", "method", method, "url", url, "status", res.StatusCode())
	if res.IsError() {
		return cty.NilVal, fmt.Errorf("http_request: %s %s returned %s", method, url, res.Status())
	}
	return cty.StringVal(res.String()), nil
}
