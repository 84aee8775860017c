package sluice

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/sluicelabs/sluice/internal/logging"
	"github.com/sluicelabs/sluice/internal/runtime"
	"github.com/sluicelabs/sluice/pkg/adapters/memory"
	"github.com/sluicelabs/sluice/pkg/domain"
	"github.com/sluicelabs/sluice/pkg/graph"
	"github.com/sluicelabs/sluice/pkg/ports"
)

// Graph is re-exported so simple consumers need only this package plus
// pkg/graph's declaration helpers.
type Graph = graph.Graph

// Result is the outcome of one run or resumption.
type Result = runtime.Result

// Engine is the high-level entry point for the Sluice library. It wraps the
// internal runtime and binds it to a persistence backend, a logger, and
// observability hooks.
type Engine struct {
	runtime *runtime.Engine
	store   ports.StepStore
	logger  *slog.Logger
	opts    []runtime.Option
	newID   func() string
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithStore injects a persistence backend. The default is an in-memory
// store, which supports pause and resume within the process only.
func WithStore(store ports.StepStore) Option {
	return func(e *Engine) {
		e.store = store
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithHooks registers observability hooks.
func WithHooks(hooks domain.Hooks) Option {
	return func(e *Engine) {
		e.opts = append(e.opts, runtime.WithHooks(hooks))
	}
}

// WithCache enables node result memoization.
func WithCache(cache ports.Cache) Option {
	return func(e *Engine) {
		e.opts = append(e.opts, runtime.WithCache(cache))
	}
}

// WithMaxSupersteps overrides the scheduler's loop cap.
func WithMaxSupersteps(n int) Option {
	return func(e *Engine) {
		e.opts = append(e.opts, runtime.WithMaxSupersteps(n))
	}
}

// WithCompleteOnStop switches cancellation handling from "discard the
// in-flight superstep" to "let it finish, persist it, and allow one more
// accumulation superstep". Every nested graph run by the engine must opt in
// too; Run and Resume reject graphs that do not.
func WithCompleteOnStop() Option {
	return func(e *Engine) {
		e.opts = append(e.opts, runtime.WithCompleteOnStop())
	}
}

// WithIDGenerator overrides how Run mints workflow ids.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) {
		e.newID = newID
	}
}

// New initializes a Sluice Engine.
func New(opts ...Option) *Engine {
	eng := &Engine{
		logger: logging.New(slog.LevelInfo),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(eng)
	}
	if eng.store == nil {
		eng.store = memory.NewStore()
	}

	ropts := append([]runtime.Option{
		runtime.WithStore(eng.store),
		runtime.WithLogger(eng.logger),
	}, eng.opts...)
	eng.runtime = runtime.NewEngine(ropts...)
	return eng
}

// Run executes the graph from scratch. An empty workflowID mints a fresh id;
// the id under which the run persisted is on the Result, and is what Resume,
// Status and Steps address.
func (e *Engine) Run(ctx context.Context, g *Graph, workflowID string, inputs map[string]any) (*Result, error) {
	if workflowID == "" {
		workflowID = e.newID()
	}
	return e.runtime.Execute(ctx, g, workflowID, inputs)
}

// Resume continues a paused, failed, or stopped workflow, or drives a
// completed one with fresh inputs. For a run paused at an interrupt node,
// inputs must contain the pending response parameter; any further entries
// merge into state as fresh caller inputs.
func (e *Engine) Resume(ctx context.Context, g *Graph, workflowID string, inputs map[string]any) (*Result, error) {
	return e.runtime.Resume(ctx, g, workflowID, inputs)
}

// Status reports the workflow's persisted state, including a pending
// interrupt if the run is paused.
func (e *Engine) Status(ctx context.Context, workflowID string) (*domain.WorkflowStatus, error) {
	return e.store.Status(ctx, workflowID)
}

// Steps returns the workflow's full step log in execution order.
func (e *Engine) Steps(ctx context.Context, workflowID string) ([]*domain.StepRecord, error) {
	return e.store.Steps(ctx, workflowID)
}

// State folds the workflow's step log into its current value/version map.
func (e *Engine) State(ctx context.Context, workflowID string) (domain.Values, error) {
	return e.store.State(ctx, workflowID, ports.AllSupersteps)
}
