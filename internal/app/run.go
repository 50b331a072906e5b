package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/vk/flowline/internal/api"
	"github.com/vk/flowline/internal/ctxlog"
	"github.com/vk/flowline/internal/trigger"
	"github.com/vk/flowline/internal/workflow"
)

// Run executes the main application logic based on the provided
// configuration.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	if a.webhook != nil {
		defer a.webhook.Close()
	}

	if a.cfg.Serve {
		return a.serve(ctx)
	}
	return a.dispatchOnce(ctx)
}

// dispatchOnce ingests a single synthetic event, waits for every started
// run, and reports the aggregate result.
func (a *App) dispatchOnce(ctx context.Context) error {
	kind := workflow.EventKind(a.cfg.EventKind)
	if !workflow.KnownEventKind(kind) {
		return fmt.Errorf("unknown event kind %q", a.cfg.EventKind)
	}
	event := &workflow.Event{
		Kind:   kind,
		Ref:    a.cfg.EventRef,
		Inputs: a.cfg.Inputs,
		Time:   time.Now(),
	}

	matcher := trigger.NewMatcher()
	matches, matchErrs := matcher.Match(ctx, event, a.defs)
	for _, err := range matchErrs {
		a.logger.Error("Workflow not runnable for event.", "error", err)
	}
	if len(matches) == 0 {
		if len(matchErrs) > 0 {
			return errors.Join(matchErrs...)
		}
		a.logger.Warn("No workflow matched the event, nothing to do.", "kind", kind)
		return nil
	}

	a.logger.Info("🚀 Starting matched workflows.", "count", len(matches))
	failed := false
	for _, m := range matches {
		run, err := a.coord.Run(ctx, m.Definition, m.Context)
		if err != nil {
			return fmt.Errorf("running workflow %s: %w", m.Definition.Name, err)
		}
		a.logger.Info("🏁 Run finished.", "workflow", run.Workflow, "runID", run.ID, "status", run.Status, "cause", run.Cause)
		if run.Status != workflow.RunSuccess {
			failed = true
		}
	}
	if failed {
		return errors.New("one or more runs did not succeed")
	}
	return nil
}

// serve runs the HTTP API and the schedule service until the context is
// cancelled or a termination signal arrives.
func (a *App) serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	matcher := trigger.NewMatcher()
	sched := trigger.NewService(func(event workflow.Event) {
		matches, matchErrs := matcher.Match(ctx, &event, a.defs)
		for _, err := range matchErrs {
			a.logger.Error("Scheduled workflow not runnable.", "error", err)
		}
		for _, m := range matches {
			if _, err := a.coord.Start(ctx, m.Definition, m.Context); err != nil {
				a.logger.Error("Failed to start scheduled run.", "workflow", m.Definition.Name, "error", err)
			}
		}
	})
	for _, def := range a.defs {
		if err := sched.Register(ctx, def); err != nil {
			return fmt.Errorf("registering schedules for %s: %w", def.Name, err)
		}
	}
	sched.Start()
	defer sched.Stop()

	server := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           api.NewServer(a.coord, a.store, a.defs).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP API listening.", "addr", a.cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down.")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
