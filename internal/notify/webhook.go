// Package notify delivers run completion notifications to external
// systems.
package notify

import (
	"context"
	"fmt"
	"time"

	"resty.dev/v3"

	"github.com/vk/flowline/internal/ctxlog"
	"github.com/vk/flowline/internal/workflow"
)

// payload is the JSON body posted for a completed run. Job detail is
// summarized; consumers wanting the full record query the runs API.
type payload struct {
	RunID      string    `json:"run_id"`
	Workflow   string    `json:"workflow"`
	Status     string    `json:"status"`
	Cause      string    `json:"cause,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Jobs       int       `json:"jobs"`
}

// Webhook posts run completions to a single HTTP endpoint.
type Webhook struct {
	url    string
	client *resty.Client
}

// NewWebhook creates a notifier for the given endpoint URL.
func NewWebhook(url string) *Webhook {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)
	return &Webhook{url: url, client: client}
}

// Close releases the underlying HTTP client.
func (w *Webhook) Close() error {
	return w.client.Close()
}

// RunCompleted posts the run summary. A non-2xx response is an error; the
// caller decides whether that is fatal.
func (w *Webhook) RunCompleted(ctx context.Context, run *workflow.Run) error {
	body := payload{
		RunID:      run.ID,
		Workflow:   run.Workflow,
		Status:     run.Status.String(),
		Cause:      run.Cause,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Jobs:       len(run.Jobs),
	}

	res, err := w.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	if res.IsError() {
		return fmt.Errorf("webhook endpoint returned %s", res.Status())
	}

	ctxlog.FromContext(ctx).Debug("Webhook delivered.", "url", w.url, "runID", run.ID)
	return nil
}
