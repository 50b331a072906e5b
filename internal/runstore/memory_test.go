package runstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/flowline/internal/workflow"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	t.Run("missing run", func(t *testing.T) {
		_, err := store.GetRun(ctx, "nope")
		assert.ErrorIs(t, err, workflow.ErrRunNotFound)
	})

	t.Run("put and get", func(t *testing.T) {
		run := &workflow.Run{ID: "r1", Workflow: "w", Status: workflow.RunRunning}
		require.NoError(t, store.PutRun(ctx, run))

		got, err := store.GetRun(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, run, got)
	})

	t.Run("put replaces prior snapshot", func(t *testing.T) {
		require.NoError(t, store.PutRun(ctx, &workflow.Run{ID: "r1", Status: workflow.RunSuccess}))
		got, err := store.GetRun(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, workflow.RunSuccess, got.Status)
	})

	t.Run("list sorted by start time", func(t *testing.T) {
		base := time.Now()
		store := NewMemory()
		require.NoError(t, store.PutRun(ctx, &workflow.Run{ID: "later", StartedAt: base.Add(time.Minute)}))
		require.NoError(t, store.PutRun(ctx, &workflow.Run{ID: "earlier", StartedAt: base}))
		require.NoError(t, store.PutRun(ctx, &workflow.Run{ID: "tie-b", StartedAt: base.Add(time.Hour)}))
		require.NoError(t, store.PutRun(ctx, &workflow.Run{ID: "tie-a", StartedAt: base.Add(time.Hour)}))

		runs, err := store.ListRuns(ctx)
		require.NoError(t, err)
		ids := make([]string, len(runs))
		for i, r := range runs {
			ids[i] = r.ID
		}
		assert.Equal(t, []string{"earlier", "later", "tie-a", "tie-b"}, ids)
	})
}
