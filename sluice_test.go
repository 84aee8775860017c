package sluice_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sluicelabs/sluice"
	"github.com/sluicelabs/sluice/pkg/adapters/memory"
	"github.com/sluicelabs/sluice/pkg/domain"
	"github.com/sluicelabs/sluice/pkg/graph"
)

func greeter(t *testing.T) *sluice.Graph {
	t.Helper()
	g, err := graph.New(
		graph.Task("greet", []string{"name"}, []string{"greeting"},
			func(ctx context.Context, in domain.Inputs) (any, error) {
				return "hello " + in.String("name"), nil
			}),
	)
	require.NoError(t, err)
	return g
}

func TestEngine_RunMintsWorkflowID(t *testing.T) {
	eng := sluice.New()

	res, err := eng.Run(context.Background(), greeter(t), "", map[string]any{"name": "ada"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.WorkflowID)
	assert.Equal(t, "hello ada", res.Outputs["greeting"])
}

func TestEngine_RunHonorsExplicitWorkflowID(t *testing.T) {
	ctx := context.Background()
	eng := sluice.New(sluice.WithIDGenerator(func() string { return "unused" }))

	res, err := eng.Run(ctx, greeter(t), "wf-explicit", map[string]any{"name": "ada"})
	require.NoError(t, err)
	assert.Equal(t, "wf-explicit", res.WorkflowID)

	status, err := eng.Status(ctx, "wf-explicit")
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, status.State)

	steps, err := eng.Steps(ctx, "wf-explicit")
	require.NoError(t, err)
	assert.NotEmpty(t, steps)

	state, err := eng.State(ctx, "wf-explicit")
	require.NoError(t, err)
	v, ok := state.Get("greeting")
	require.True(t, ok)
	assert.Equal(t, "hello ada", v)
}

func TestEngine_PauseAndResumeThroughFacade(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	eng := sluice.New(sluice.WithStore(store))

	g, err := graph.New(
		graph.Interrupt("confirm", "question", "answer"),
		graph.Task("act", []string{"answer"}, []string{"done"},
			func(ctx context.Context, in domain.Inputs) (any, error) {
				return in.String("answer") + "!", nil
			}),
	)
	require.NoError(t, err)

	res, err := eng.Run(ctx, g, "wf-facade", map[string]any{"question": "proceed?"})
	require.NoError(t, err)
	require.Equal(t, domain.RunPaused, res.Status)
	assert.Equal(t, "proceed?", res.Interrupt.Prompt)

	status, err := eng.Status(ctx, "wf-facade")
	require.NoError(t, err)
	assert.Equal(t, domain.RunPaused, status.State)

	res, err = eng.Resume(ctx, g, "wf-facade", map[string]any{"answer": "yes"})
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, res.Status)
	assert.Equal(t, "yes!", res.Outputs["done"])
}

func TestEngine_UnknownWorkflow(t *testing.T) {
	eng := sluice.New()
	_, err := eng.Status(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrWorkflowNotFound)
}
