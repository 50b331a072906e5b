package runstore

import (
	"context"
	"sort"
	"sync"

	"github.com/vk/flowline/internal/workflow"
)

// Memory is an ephemeral, thread-safe Store backed by sync.Map. Snapshots
// are written frequently as runs progress while readers poll, which is
// exactly the write-heavy, independent-key pattern sync.Map favors.
type Memory struct {
	runs sync.Map // run ID -> *workflow.Run
}

// NewMemory creates a new, empty in-memory run store.
func NewMemory() *Memory {
	return &Memory{}
}

// PutRun implements Store.
func (m *Memory) PutRun(ctx context.Context, run *workflow.Run) error {
	m.runs.Store(run.ID, run)
	return nil
}

// GetRun implements Store.
func (m *Memory) GetRun(ctx context.Context, id string) (*workflow.Run, error) {
	v, ok := m.runs.Load(id)
	if !ok {
		return nil, workflow.ErrRunNotFound
	}
	return v.(*workflow.Run), nil
}

// ListRuns implements Store.
func (m *Memory) ListRuns(ctx context.Context) ([]*workflow.Run, error) {
	var runs []*workflow.Run
	m.runs.Range(func(_, v any) bool {
		runs = append(runs, v.(*workflow.Run))
		return true
	})
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].StartedAt.Before(runs[j].StartedAt)
	})
	return runs, nil
}
