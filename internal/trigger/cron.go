package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vk/flowline/internal/ctxlog"
	"github.com/vk/flowline/internal/workflow"
)

// Service is the time-keeping collaborator for schedule triggers. It
// computes cron instants and emits synthetic schedule events to a sink;
// downstream matching works exactly as for externally ingested events.
type Service struct {
	cron *cron.Cron
	sink func(workflow.Event)
}

// NewService creates a schedule service delivering events to sink. The
// sink is called from the cron goroutine and must not block for long.
func NewService(sink func(workflow.Event)) *Service {
	return &Service{
		cron: cron.New(),
		sink: sink,
	}
}

// Register adds a cron entry for every schedule trigger of the workflow.
func (s *Service) Register(ctx context.Context, def *workflow.Definition) error {
	logger := ctxlog.FromContext(ctx)
	for _, t := range def.Triggers {
		if t.Kind != workflow.EventSchedule {
			continue
		}
		name, spec := def.Name, t.Cron
		_, err := s.cron.AddFunc(spec, func() {
			s.sink(workflow.Event{
				Kind: workflow.EventSchedule,
				Time: time.Now(),
				Payload: map[string]string{
					"workflow": name,
					"cron":     spec,
				},
			})
		})
		if err != nil {
			return fmt.Errorf("registering schedule %q for workflow %q: %w", spec, name, err)
		}
		logger.Debug("Registered schedule trigger.", "workflow", name, "cron", spec)
	}
	return nil
}

// Start begins firing schedules in a background goroutine.
func (s *Service) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for any in-flight emission to finish.
func (s *Service) Stop() {
	<-s.cron.Stop().Done()
}

// NextFire returns the first instant strictly after the given time at
// which the cron expression fires.
func NextFire(spec string, after time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return sched.Next(after), nil
}
