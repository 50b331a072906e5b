// Package runstore persists run records for later inspection. The
// coordinator writes immutable snapshots on every state transition, so
// readers never observe a record mid-mutation. Retention is the caller's
// concern.
package runstore

import (
	"context"

	"github.com/vk/flowline/internal/workflow"
)

// Store is the persistence boundary for Run/JobRun/StepRun records.
type Store interface {
	// PutRun stores a snapshot, replacing any previous record for the ID.
	PutRun(ctx context.Context, run *workflow.Run) error

	// GetRun returns the latest snapshot, or workflow.ErrRunNotFound.
	GetRun(ctx context.Context, id string) (*workflow.Run, error)

	// ListRuns returns the latest snapshot of every known run, ordered by
	// start time.
	ListRuns(ctx context.Context) ([]*workflow.Run, error)
}
