// Package app assembles the engine: it loads workflow definitions,
// registers built-in actions, and wires the coordinator, secrets,
// notification, and trigger layers together for one process.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/vk/flowline/internal/coordinator"
	"github.com/vk/flowline/internal/ctxlog"
	"github.com/vk/flowline/internal/executor"
	"github.com/vk/flowline/internal/hcl"
	"github.com/vk/flowline/internal/notify"
	"github.com/vk/flowline/internal/registry"
	"github.com/vk/flowline/internal/runstore"
	"github.com/vk/flowline/internal/secrets"
	"github.com/vk/flowline/internal/workflow"
)

// App encapsulates the application's dependencies, configuration, and
// lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	cfg    *Config

	defs     []*workflow.Definition
	registry *registry.Registry
	store    runstore.Store
	coord    *coordinator.Coordinator
	webhook  *notify.Webhook
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance, including its own isolated logger and
// registry.
func NewApp(outW io.Writer, cfg *Config, modules ...registry.Module) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	defs, err := loadDefinitions(ctx, cfg.WorkflowPath)
	if err != nil {
		// A failure to load workflows is a fatal startup error.
		panic(fmt.Errorf("failed to load workflows: %w", err))
	}
	logger.Debug("Workflow definitions loaded.", "count", len(defs))

	reg := registry.New()
	if len(modules) == 0 {
		modules = coreModules
	}
	for _, mod := range modules {
		mod.Register(reg)
	}
	logger.Debug("All action modules registered.", "actions", reg.Refs())

	var provider secrets.Provider = secrets.Static{}
	if cfg.SecretPrefix != "" {
		provider = &secrets.Env{Prefix: cfg.SecretPrefix}
	}

	store := runstore.NewMemory()
	opts := []coordinator.Option{
		coordinator.WithStore(store),
		coordinator.WithExecutor(executor.NewDispatcher(executor.NewShellExecutor(), reg)),
		coordinator.WithSecrets(provider),
		coordinator.WithMaxConcurrentJobs(cfg.MaxConcurrentJobs),
	}

	var webhook *notify.Webhook
	if cfg.WebhookURL != "" {
		webhook = notify.NewWebhook(cfg.WebhookURL)
		opts = append(opts, coordinator.WithNotifier(webhook))
	}

	return &App{
		outW:     outW,
		logger:   logger,
		cfg:      cfg,
		defs:     defs,
		registry: reg,
		store:    store,
		coord:    coordinator.New(opts...),
		webhook:  webhook,
	}
}

// Definitions returns the loaded workflows. This is primarily for testing.
func (a *App) Definitions() []*workflow.Definition {
	return a.defs
}

func loadDefinitions(ctx context.Context, path string) ([]*workflow.Definition, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	loader := hcl.NewLoader()
	if info.IsDir() {
		return loader.LoadDir(ctx, path)
	}
	def, err := loader.LoadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return []*workflow.Definition{def}, nil
}
