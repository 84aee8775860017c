package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sluicelabs/sluice/pkg/adapters/memory"
	"github.com/sluicelabs/sluice/pkg/domain"
	"github.com/sluicelabs/sluice/pkg/ports"
	"github.com/sluicelabs/sluice/pkg/ports/storetest"
)

func TestStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ports.StepStore {
		return memory.NewStore()
	})
}

func TestStore_IsolatesStoredRecords(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	rec := &domain.StepRecord{
		WorkflowID: "wf",
		Node:       "a",
		Status:     domain.StepCompleted,
		Outputs:    map[string]any{"x": "original"},
	}
	require.NoError(t, store.SaveStep(ctx, rec))

	// Mutating the caller's record must not leak into the store.
	rec.Outputs["x"] = "mutated"

	steps, err := store.Steps(ctx, "wf")
	require.NoError(t, err)
	assert.Equal(t, "original", steps[0].Outputs["x"])
}

func TestStore_Workflows(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	require.NoError(t, store.SaveStep(ctx, &domain.StepRecord{WorkflowID: "b", Node: "n"}))
	require.NoError(t, store.SetStatus(ctx, "a", &domain.WorkflowStatus{State: domain.RunRunning}))

	ids, err := store.Workflows(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}
