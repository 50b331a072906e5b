// Package secrets defines the secrets provider boundary. The engine
// never stores raw secret values; it fetches them immediately before a
// step invocation and threads them into that step's environment only.
package secrets

import (
	"context"
	"os"
	"strings"
)

// Provider supplies the resolved secret mapping referenced by workflow
// expressions as secrets.<name>.
type Provider interface {
	Secrets(ctx context.Context, workflowName string) (map[string]string, error)
}

// Static is a fixed in-memory provider, mainly for tests and local runs.
type Static map[string]string

// Secrets implements Provider.
func (s Static) Secrets(ctx context.Context, workflowName string) (map[string]string, error) {
	out := make(map[string]string, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out, nil
}

// Env reads secrets from process environment variables sharing a prefix:
// with prefix "FLOWLINE_SECRET_", FLOWLINE_SECRET_TOKEN becomes "token".
type Env struct {
	Prefix string
}

// Secrets implements Provider.
func (e *Env) Secrets(ctx context.Context, workflowName string) (map[string]string, error) {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, e.Prefix) {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(name, e.Prefix))
		if key != "" {
			out[key] = value
		}
	}
	return out, nil
}
