// Package storetest contains a reusable conformance suite for StepStore
// implementations.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sluicelabs/sluice/pkg/domain"
	"github.com/sluicelabs/sluice/pkg/ports"
)

// Run verifies that a StepStore implementation honors the contract:
// append-only ordered records, checkpoint folding, status round-trips,
// not-found sentinels, and serialized concurrent writes.
func Run(t *testing.T, newStore func(t *testing.T) ports.StepStore) {
	t.Helper()
	ctx := context.Background()

	rec := func(wf string, superstep, idx int, node string, outputs map[string]any) *domain.StepRecord {
		return &domain.StepRecord{
			WorkflowID: wf,
			Superstep:  superstep,
			StepIndex:  idx,
			Node:       node,
			Status:     domain.StepCompleted,
			Outputs:    outputs,
			At:         time.Now().UTC(),
		}
	}

	t.Run("UnknownWorkflow", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Steps(ctx, "nope")
		assert.ErrorIs(t, err, domain.ErrWorkflowNotFound)
		_, err = store.Status(ctx, "nope")
		assert.ErrorIs(t, err, domain.ErrWorkflowNotFound)
	})

	t.Run("OrderedSteps", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.SaveStep(ctx, rec("wf", 0, 1, "b", map[string]any{"beta": 1})))
		require.NoError(t, store.SaveStep(ctx, rec("wf", 0, 0, "a", map[string]any{"alpha": "x"})))
		require.NoError(t, store.SaveStep(ctx, rec("wf", 1, 0, "a", map[string]any{"alpha": "y"})))

		steps, err := store.Steps(ctx, "wf")
		require.NoError(t, err)
		require.Len(t, steps, 3)
		assert.Equal(t, "a", steps[0].Node)
		assert.Equal(t, 0, steps[0].Superstep)
		assert.Equal(t, "b", steps[1].Node)
		assert.Equal(t, 1, steps[2].Superstep)
	})

	t.Run("StateFold", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.SaveStep(ctx, rec("wf", 0, 0, "a", map[string]any{"alpha": "v1"})))
		require.NoError(t, store.SaveStep(ctx, rec("wf", 1, 0, "a", map[string]any{"alpha": "v2"})))

		at0, err := store.State(ctx, "wf", 0)
		require.NoError(t, err)
		assert.Equal(t, domain.VersionedValue{Value: "v1", Version: 1}, at0["alpha"])

		latest, err := store.State(ctx, "wf", ports.AllSupersteps)
		require.NoError(t, err)
		assert.Equal(t, 2, latest["alpha"].Version)
		assert.Equal(t, "v2", latest["alpha"].Value)
	})

	t.Run("FailedStepContributesNothing", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.SaveStep(ctx, rec("wf", 0, 0, "a", map[string]any{"alpha": "v1"})))
		failed := rec("wf", 1, 0, "a", map[string]any{"alpha": "broken"})
		failed.Status = domain.StepFailed
		failed.Err = "boom"
		require.NoError(t, store.SaveStep(ctx, failed))

		latest, err := store.State(ctx, "wf", ports.AllSupersteps)
		require.NoError(t, err)
		assert.Equal(t, 1, latest["alpha"].Version)
	})

	t.Run("StatusRoundTrip", func(t *testing.T) {
		store := newStore(t)
		status := &domain.WorkflowStatus{
			State: domain.RunPaused,
			Interrupt: &domain.InterruptInfo{
				Node:          "confirm",
				Prompt:        "proceed?",
				ResponseParam: "approval",
			},
			UpdatedAt: time.Now().UTC(),
		}
		require.NoError(t, store.SetStatus(ctx, "wf", status))

		got, err := store.Status(ctx, "wf")
		require.NoError(t, err)
		assert.Equal(t, domain.RunPaused, got.State)
		require.NotNil(t, got.Interrupt)
		assert.Equal(t, "approval", got.Interrupt.ResponseParam)
	})

	t.Run("ConcurrentBatchWrites", func(t *testing.T) {
		store := newStore(t)
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				node := fmt.Sprintf("n%d", i)
				_ = store.SaveStep(ctx, rec("wf", 0, i, node, map[string]any{node: i}))
			}(i)
		}
		wg.Wait()

		steps, err := store.Steps(ctx, "wf")
		require.NoError(t, err)
		assert.Len(t, steps, 8)
		for i, s := range steps {
			assert.Equal(t, i, s.StepIndex)
		}
	})

	t.Run("IndependentWorkflows", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.SaveStep(ctx, rec("one", 0, 0, "a", map[string]any{"x": 1})))
		require.NoError(t, store.SaveStep(ctx, rec("two", 0, 0, "a", map[string]any{"x": 2})))

		one, err := store.State(ctx, "one", ports.AllSupersteps)
		require.NoError(t, err)
		two, err := store.State(ctx, "two", ports.AllSupersteps)
		require.NoError(t, err)
		assert.NotEqual(t, one["x"].Value, two["x"].Value)
	})
}
