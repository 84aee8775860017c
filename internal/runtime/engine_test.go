package runtime_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sluicelabs/sluice/internal/runtime"
	"github.com/sluicelabs/sluice/pkg/adapters/memory"
	"github.com/sluicelabs/sluice/pkg/domain"
	"github.com/sluicelabs/sluice/pkg/graph"
)

func mustGraph(t *testing.T, nodes ...graph.Node) *graph.Graph {
	t.Helper()
	g, err := graph.New(nodes...)
	require.NoError(t, err)
	return g
}

func pipeline(t *testing.T) *graph.Graph {
	return mustGraph(t,
		graph.Task("double", []string{"x"}, []string{"y"}, func(ctx context.Context, in domain.Inputs) (any, error) {
			return in.Int("x") * 2, nil
		}),
		graph.Task("inc", []string{"y"}, []string{"z"}, func(ctx context.Context, in domain.Inputs) (any, error) {
			return in.Int("y") + 1, nil
		}),
	)
}

func TestEngine_LinearPipeline(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	eng := runtime.NewEngine(runtime.WithStore(store))

	res, err := eng.Execute(ctx, pipeline(t), "wf-linear", map[string]any{"x": 3})
	require.NoError(t, err)

	assert.Equal(t, domain.RunCompleted, res.Status)
	assert.Equal(t, 6, res.Outputs["y"])
	assert.Equal(t, 7, res.Outputs["z"])
	assert.Equal(t, 1, res.Values["z"].Version)

	steps, err := store.Steps(ctx, "wf-linear")
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, "__input__", steps[0].Node)
	assert.Equal(t, -1, steps[0].StepIndex)
	assert.Equal(t, "double", steps[1].Node)
	assert.Equal(t, 0, steps[1].Superstep)
	assert.Equal(t, "inc", steps[2].Node)
	assert.Equal(t, 1, steps[2].Superstep)
	assert.Equal(t, map[string]int{"y": 1}, steps[2].InputVersions)

	status, err := store.Status(ctx, "wf-linear")
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, status.State)
}

func TestEngine_BranchRunsOnlyTakenTarget(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	eng := runtime.NewEngine(runtime.WithStore(store))

	sign := func(s string) graph.Func {
		return func(ctx context.Context, in domain.Inputs) (any, error) { return s, nil }
	}
	g := mustGraph(t,
		graph.Branch("check", []string{"n"}, func(ctx context.Context, in domain.Inputs) (bool, error) {
			return in.Int("n") > 0, nil
		}, "pos", "neg"),
		graph.Task("pos", []string{"n"}, []string{"sign"}, sign("positive")),
		graph.Task("neg", []string{"n"}, []string{"sign"}, sign("negative")),
	)

	res, err := eng.Execute(ctx, g, "wf-branch", map[string]any{"n": 5})
	require.NoError(t, err)
	assert.Equal(t, "positive", res.Outputs["sign"])

	steps, err := store.Steps(ctx, "wf-branch")
	require.NoError(t, err)
	executed := make(map[string]bool)
	for _, rec := range steps {
		executed[rec.Node] = true
	}
	assert.True(t, executed["pos"])
	assert.False(t, executed["neg"], "untaken branch must not run")

	for _, rec := range steps {
		if rec.Node == "check" {
			assert.Equal(t, []string{"pos"}, rec.Decision)
		}
	}
}

func TestEngine_AccumulatorLoop(t *testing.T) {
	ctx := context.Background()
	eng := runtime.NewEngine(runtime.WithStore(memory.NewStore()))

	g := mustGraph(t,
		graph.Task("step", []string{"counter"}, []string{"counter"}, func(ctx context.Context, in domain.Inputs) (any, error) {
			return in.Int("counter") + 1, nil
		}),
		graph.Route("decide", []string{"counter"}, func(ctx context.Context, in domain.Inputs) ([]string, error) {
			if in.Int("counter") < 5 {
				return []string{"step"}, nil
			}
			return []string{graph.End}, nil
		}, graph.Target{Name: "step"}),
	)

	res, err := eng.Execute(ctx, g, "wf-acc", map[string]any{"counter": 0})
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, res.Status)
	assert.Equal(t, 5, res.Outputs["counter"])
	// One caller seed plus five increments.
	assert.Equal(t, 6, res.Values["counter"].Version)
}

func TestEngine_EndSentinelStopsScheduling(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	ran := make(map[string]bool)

	g := mustGraph(t,
		graph.Task("fetch", []string{"x"}, []string{"doc"}, func(ctx context.Context, in domain.Inputs) (any, error) {
			return in.Int("x") + 1, nil
		}),
		graph.Route("halt", []string{"doc"}, func(ctx context.Context, in domain.Inputs) ([]string, error) {
			return []string{graph.End}, nil
		}, graph.Target{Name: "retry"}),
		graph.Task("retry", []string{"doc"}, []string{"doc2"}, func(ctx context.Context, in domain.Inputs) (any, error) {
			ran["retry"] = true
			return in.Int("doc"), nil
		}),
		graph.Task("summarize", []string{"doc"}, []string{"summary"}, func(ctx context.Context, in domain.Inputs) (any, error) {
			ran["summarize"] = true
			return in.Int("doc") * 10, nil
		}),
		graph.Task("publish", []string{"summary"}, []string{"published"}, func(ctx context.Context, in domain.Inputs) (any, error) {
			ran["publish"] = true
			return true, nil
		}),
	)

	eng := runtime.NewEngine(runtime.WithStore(store))
	res, err := eng.Execute(ctx, g, "wf-end", map[string]any{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, res.Status)

	// summarize shares halt's superstep and its record persists, but the
	// end sentinel stops the loop before publish ever becomes ready.
	assert.True(t, ran["summarize"])
	assert.False(t, ran["publish"], "work downstream of the end sentinel must not run")
	assert.False(t, ran["retry"])
	assert.NotContains(t, res.Outputs, "published")

	steps, err := store.Steps(ctx, "wf-end")
	require.NoError(t, err)
	assert.Nil(t, findStep(steps, "publish"))
	assert.NotNil(t, findStep(steps, "summarize"))
}

func TestEngine_MissingExternalInput(t *testing.T) {
	eng := runtime.NewEngine()
	res, err := eng.Execute(context.Background(), pipeline(t), "wf-missing", nil)

	var missing *domain.MissingInputError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"x"}, missing.Params)
	assert.Equal(t, domain.RunFailed, res.Status)
}

func TestEngine_MissingCycleSeed(t *testing.T) {
	g := mustGraph(t,
		graph.Task("step", []string{"counter"}, []string{"counter"}, func(ctx context.Context, in domain.Inputs) (any, error) {
			return in.Int("counter") + 1, nil
		}),
		graph.Route("decide", []string{"counter"}, func(ctx context.Context, in domain.Inputs) ([]string, error) {
			return []string{graph.End}, nil
		}, graph.Target{Name: "step"}),
	)

	eng := runtime.NewEngine()
	_, err := eng.Execute(context.Background(), g, "wf-seedless", nil)

	var missing *domain.MissingInputError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"counter"}, missing.Params)
}

func TestEngine_OpenedTargetMissingInputFails(t *testing.T) {
	g := mustGraph(t,
		graph.Task("seed", []string{"n"}, []string{"m"}, func(ctx context.Context, in domain.Inputs) (any, error) {
			return in.Int("n") + 1, nil
		}),
		graph.Branch("gate", []string{"m"}, func(ctx context.Context, in domain.Inputs) (bool, error) {
			return true, nil
		}, "enrich", "skip"),
		graph.Task("enrich", []string{"m", "context"}, []string{"out"}, func(ctx context.Context, in domain.Inputs) (any, error) {
			return in.String("context"), nil
		}),
		graph.Task("skip", []string{"m"}, []string{"out"}, func(ctx context.Context, in domain.Inputs) (any, error) {
			return "skipped", nil
		}),
	)

	// The gate opens enrich, whose "context" parameter never arrives. The
	// run must fail rather than silently complete with the decision unmet.
	eng := runtime.NewEngine(runtime.WithStore(memory.NewStore()))
	res, err := eng.Execute(context.Background(), g, "wf-blocked", map[string]any{"n": 1})

	var missing *domain.MissingInputError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"context"}, missing.Params)
	assert.Equal(t, domain.RunFailed, res.Status)
}

func TestEngine_RouteFanOutConflict(t *testing.T) {
	write := func(s string) graph.Func {
		return func(ctx context.Context, in domain.Inputs) (any, error) { return s, nil }
	}
	g := mustGraph(t,
		graph.Route("split", []string{"q"}, func(ctx context.Context, in domain.Inputs) ([]string, error) {
			return []string{"a", "b"}, nil
		}, graph.Target{Name: "a"}, graph.Target{Name: "b"}),
		graph.Task("a", []string{"q"}, []string{"r"}, write("from a")),
		graph.Task("b", []string{"q"}, []string{"r"}, write("from b")),
	)

	eng := runtime.NewEngine(runtime.WithStore(memory.NewStore()))
	res, err := eng.Execute(context.Background(), g, "wf-conflict", map[string]any{"q": "hi"})

	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "r", conflict.Name)
	assert.Equal(t, []string{"a", "b"}, conflict.Nodes)
	assert.Equal(t, []string{"q"}, conflict.ReadyInputs["a"])
	assert.Equal(t, domain.RunFailed, res.Status)
}

func TestEngine_InvalidRouteTarget(t *testing.T) {
	g := mustGraph(t,
		graph.Route("pick", []string{"q"}, func(ctx context.Context, in domain.Inputs) ([]string, error) {
			return []string{"nope"}, nil
		}, graph.Target{Name: "a"}),
		graph.Task("a", []string{"q"}, []string{"r"}, func(ctx context.Context, in domain.Inputs) (any, error) {
			return "ok", nil
		}),
	)

	store := memory.NewStore()
	eng := runtime.NewEngine(runtime.WithStore(store))
	_, err := eng.Execute(context.Background(), g, "wf-route", map[string]any{"q": "hi"})

	var invalid *domain.InvalidRouteError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "pick", invalid.Node)
	assert.Equal(t, "nope", invalid.Target)

	steps, err := store.Steps(context.Background(), "wf-route")
	require.NoError(t, err)
	var failed *domain.StepRecord
	for _, rec := range steps {
		if rec.Node == "pick" {
			failed = rec
		}
	}
	require.NotNil(t, failed)
	assert.Equal(t, domain.StepFailed, failed.Status)
}

func TestEngine_InfiniteLoopCap(t *testing.T) {
	g := mustGraph(t,
		graph.Task("ping", []string{"a"}, []string{"b"}, func(ctx context.Context, in domain.Inputs) (any, error) {
			return in.Int("a") + 1, nil
		}),
		graph.Task("pong", []string{"b"}, []string{"a"}, func(ctx context.Context, in domain.Inputs) (any, error) {
			return in.Int("b") + 1, nil
		}),
		graph.Task("tap", []string{"b"}, []string{"seen"}, func(ctx context.Context, in domain.Inputs) (any, error) {
			return in.Int("b"), nil
		}),
	)

	eng := runtime.NewEngine(runtime.WithMaxSupersteps(10))
	res, err := eng.Execute(context.Background(), g, "wf-loop", map[string]any{"a": 0})

	var loopErr *domain.InfiniteLoopError
	require.ErrorAs(t, err, &loopErr)
	assert.Equal(t, 10, loopErr.Supersteps)
	assert.Equal(t, domain.RunFailed, res.Status)
}

func TestEngine_StreamFoldsAndEmitsChunks(t *testing.T) {
	var mu sync.Mutex
	var chunks []any
	hooks := domain.Hooks{
		OnChunk: func(ctx context.Context, ev *domain.ChunkEvent) {
			mu.Lock()
			chunks = append(chunks, ev.Chunk)
			mu.Unlock()
		},
	}

	g := mustGraph(t,
		graph.Task("speak", []string{"topic"}, []string{"text"}, func(ctx context.Context, in domain.Inputs) (any, error) {
			ch := make(chan any, 3)
			ch <- "hel"
			ch <- "lo "
			ch <- in.String("topic")
			close(ch)
			return domain.Stream(ch), nil
		}),
	)

	eng := runtime.NewEngine(runtime.WithHooks(hooks))
	res, err := eng.Execute(context.Background(), g, "wf-stream", map[string]any{"topic": "world"})
	require.NoError(t, err)

	assert.Equal(t, "hello world", res.Outputs["text"])
	assert.Equal(t, []any{"hel", "lo ", "world"}, chunks)
}

func TestEngine_CacheMemoizesTaskResults(t *testing.T) {
	ctx := context.Background()
	calls := 0
	g := mustGraph(t,
		graph.Task("expensive", []string{"x"}, []string{"y"}, func(ctx context.Context, in domain.Inputs) (any, error) {
			calls++
			return in.Int("x") * 10, nil
		}),
	)

	eng := runtime.NewEngine(runtime.WithCache(memory.NewCache()))

	first, err := eng.Execute(ctx, g, "wf-cache-1", map[string]any{"x": 4})
	require.NoError(t, err)
	second, err := eng.Execute(ctx, g, "wf-cache-2", map[string]any{"x": 4})
	require.NoError(t, err)

	assert.Equal(t, 1, calls, "identical inputs must hit the cache")
	assert.Equal(t, first.Outputs["y"], second.Outputs["y"])

	_, err = eng.Execute(ctx, g, "wf-cache-3", map[string]any{"x": 5})
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "different inputs must miss")
}

func TestEngine_HooksObserveRunLifecycle(t *testing.T) {
	var mu sync.Mutex
	var types []domain.EventType
	record := func(typ domain.EventType) {
		mu.Lock()
		types = append(types, typ)
		mu.Unlock()
	}
	hooks := domain.Hooks{
		OnRunStart:  func(ctx context.Context, ev *domain.RunEvent) { record(ev.Type) },
		OnRunEnd:    func(ctx context.Context, ev *domain.RunEvent) { record(ev.Type) },
		OnNodeStart: func(ctx context.Context, ev *domain.NodeEvent) { record(ev.Type) },
		OnNodeEnd:   func(ctx context.Context, ev *domain.NodeEvent) { record(ev.Type) },
	}

	eng := runtime.NewEngine(runtime.WithHooks(hooks))
	_, err := eng.Execute(context.Background(), pipeline(t), "wf-hooks", map[string]any{"x": 1})
	require.NoError(t, err)

	assert.Equal(t, domain.EventRunStart, types[0])
	assert.Equal(t, domain.EventRunEnd, types[len(types)-1])

	counts := make(map[domain.EventType]int)
	for _, typ := range types {
		counts[typ]++
	}
	assert.Equal(t, 2, counts[domain.EventNodeStart])
	assert.Equal(t, 2, counts[domain.EventNodeEnd])
}

func TestEngine_NodeErrorWrapsCause(t *testing.T) {
	boom := errors.New("model unavailable")
	g := mustGraph(t,
		graph.Task("call", []string{"x"}, []string{"y"}, func(ctx context.Context, in domain.Inputs) (any, error) {
			return nil, boom
		}),
	)

	eng := runtime.NewEngine()
	_, err := eng.Execute(context.Background(), g, "wf-err", map[string]any{"x": 1})

	var nodeErr *domain.NodeExecutionError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "call", nodeErr.Node)
	assert.ErrorIs(t, err, boom)
}
