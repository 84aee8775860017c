package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sluicelabs/sluice/internal/logging"
	"github.com/sluicelabs/sluice/pkg/domain"
	"github.com/sluicelabs/sluice/pkg/graph"
	"github.com/sluicelabs/sluice/pkg/ports"
)

// DefaultMaxSupersteps caps the scheduler loop. Exceeding it is reported as
// an InfiniteLoopError, explicitly distinct from "legitimately slow".
const DefaultMaxSupersteps = 1000

// inputNode is the reserved pseudo-node under which caller-supplied inputs
// are persisted, so a resumed run reconstructs them like any other write.
const inputNode = "__input__"

// Engine drives graph execution: one unified superstep loop for strict
// pipelines, branching pipelines and cyclic state machines.
type Engine struct {
	store          ports.StepStore
	logger         *slog.Logger
	hooks          domain.Hooks
	maxSupersteps  int
	cache          ports.Cache
	completeOnStop bool
	now            func() time.Time
}

// Option configures the engine.
type Option func(*Engine)

// WithStore attaches a persistence backend. Without one the run is purely
// in-memory and cannot be resumed across engine invocations.
func WithStore(store ports.StepStore) Option {
	return func(e *Engine) { e.store = store }
}

// WithLogger sets a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithHooks registers observability callbacks.
func WithHooks(hooks domain.Hooks) Option {
	return func(e *Engine) { e.hooks = e.hooks.Merge(hooks) }
}

// WithMaxSupersteps overrides the loop cap.
func WithMaxSupersteps(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxSupersteps = n
		}
	}
}

// WithCache enables node-level result caching.
func WithCache(cache ports.Cache) Option {
	return func(e *Engine) { e.cache = cache }
}

// WithCompleteOnStop opts into the cancellation policy that lets the
// in-flight superstep finish and persist, and permits one further
// accumulation superstep, before the run reports STOPPED.
func WithCompleteOnStop() Option {
	return func(e *Engine) { e.completeOnStop = true }
}

// WithClock overrides the timestamp source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine with the given options.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		logger:        logging.NewNop(),
		maxSupersteps: DefaultMaxSupersteps,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is the outcome of one engine invocation.
type Result struct {
	WorkflowID string
	Status     domain.RunState
	// Values is the final value/version map of the run.
	Values domain.Values
	// Outputs is Values flattened to plain values.
	Outputs map[string]any
	// Interrupt describes the pending pause point when Status is paused.
	Interrupt *domain.InterruptInfo
}

// Execute runs the graph from scratch under workflowID with the given
// initial inputs. The returned Result carries the run status even when an
// error is returned; the workflow id doubles as the resumable checkpoint
// reference.
func (e *Engine) Execute(ctx context.Context, g *graph.Graph, workflowID string, inputs map[string]any) (*Result, error) {
	if e.completeOnStop {
		if err := g.RequireCompleteOnStop(); err != nil {
			return nil, err
		}
	}
	if err := checkRequiredInputs(g, inputs); err != nil {
		return &Result{WorkflowID: workflowID, Status: domain.RunFailed}, err
	}

	r := &run{e: e, g: g, wfID: workflowID, st: newGraphState()}
	if err := e.setStatus(ctx, workflowID, domain.RunRunning, nil); err != nil {
		return nil, err
	}
	e.emitRun(ctx, domain.EventRunStart, workflowID, domain.RunRunning, nil)

	if len(inputs) > 0 {
		if err := r.mergeInputs(ctx, 0, inputs); err != nil {
			return nil, err
		}
	}
	return r.loop(ctx, 0)
}

// Resume reconstructs the workflow's state from its persisted records,
// merges newInputs (new values win over checkpointed ones), and re-enters
// the same loop. It is not a distinct execution path: a previously-paused
// node becomes ready under ordinary staleness rules once its response
// parameter is present. A completed workflow may be resumed with fresh
// inputs to drive further executions; resuming one without any new input
// returns ErrNotPaused.
func (e *Engine) Resume(ctx context.Context, g *graph.Graph, workflowID string, newInputs map[string]any) (*Result, error) {
	if e.store == nil {
		return nil, fmt.Errorf("cannot resume without a persistence backend")
	}
	if e.completeOnStop {
		if err := g.RequireCompleteOnStop(); err != nil {
			return nil, err
		}
	}

	status, err := e.store.Status(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if status.State == domain.RunCompleted && len(newInputs) == 0 {
		// A completed run accepts further inputs; staleness decides which
		// nodes re-run. Without any, there is nothing to do.
		return nil, fmt.Errorf("workflow %q: %w", workflowID, domain.ErrNotPaused)
	}

	records, err := e.store.Steps(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	r := &run{e: e, g: g, wfID: workflowID, st: newGraphState(), resumeInputs: newInputs}
	next := r.reconstruct(records)

	rest := newInputs
	if status.Interrupt != nil {
		var completed bool
		rest, completed, err = r.completeInterrupt(ctx, next, status.Interrupt, newInputs)
		if err != nil {
			return nil, err
		}
		if completed {
			e.emitInterrupt(ctx, domain.EventResume, workflowID, status.Interrupt)
		}
	}
	if len(rest) > 0 {
		if err := r.mergeInputs(ctx, next, rest); err != nil {
			return nil, err
		}
	}

	if err := e.setStatus(ctx, workflowID, domain.RunRunning, nil); err != nil {
		return nil, err
	}
	e.emitRun(ctx, domain.EventRunStart, workflowID, domain.RunRunning, nil)
	return r.loop(ctx, next+1)
}

// childEngine derives the engine used for a nested graph node.
func (e *Engine) childEngine(n *graph.Node) *Engine {
	child := *e
	child.completeOnStop = n.ChildCompleteOnStop
	return &child
}

// checkRequiredInputs verifies that every externally-supplied parameter of a
// currently-startable (ungated) node is present. Parameters of gated nodes
// are exempt: a run may legitimately satisfy only one branch.
func checkRequiredInputs(g *graph.Graph, inputs map[string]any) error {
	var missing []string
	seen := make(map[string]bool)
	for _, name := range g.Nodes() {
		if len(g.Controls(name)) > 0 {
			continue
		}
		n := g.Node(name)
		for _, p := range n.Params {
			if len(g.Producers(p)) > 0 || seen[p] {
				continue
			}
			if _, ok := inputs[p]; !ok {
				seen[p] = true
				missing = append(missing, p)
			}
		}
	}
	if len(missing) > 0 {
		return &domain.MissingInputError{Params: missing}
	}
	return nil
}

func (e *Engine) saveStep(ctx context.Context, rec *domain.StepRecord) error {
	if e.store == nil {
		return nil
	}
	if err := e.store.SaveStep(ctx, rec); err != nil {
		return fmt.Errorf("failed to persist step for node %q: %w", rec.Node, err)
	}
	return nil
}

func (e *Engine) setStatus(ctx context.Context, workflowID string, state domain.RunState, interrupt *domain.InterruptInfo) error {
	if e.store == nil {
		return nil
	}
	status := &domain.WorkflowStatus{State: state, Interrupt: interrupt, UpdatedAt: e.now().UTC()}
	if err := e.store.SetStatus(ctx, workflowID, status); err != nil {
		return fmt.Errorf("failed to persist workflow status: %w", err)
	}
	return nil
}

func (e *Engine) emitRun(ctx context.Context, typ domain.EventType, workflowID string, status domain.RunState, runErr error) {
	fn := e.hooks.OnRunStart
	if typ == domain.EventRunEnd {
		fn = e.hooks.OnRunEnd
	}
	if fn == nil {
		return
	}
	ev := &domain.RunEvent{
		EventBase: domain.EventBase{Timestamp: e.now().UTC(), Type: typ, WorkflowID: workflowID},
		Status:    status,
	}
	if runErr != nil {
		ev.Err = runErr.Error()
	}
	fn(ctx, ev)
}

func (e *Engine) emitNode(ctx context.Context, typ domain.EventType, workflowID, node string, superstep int, status domain.StepStatus) {
	fn := e.hooks.OnNodeStart
	if typ == domain.EventNodeEnd {
		fn = e.hooks.OnNodeEnd
	}
	if fn == nil {
		return
	}
	fn(ctx, &domain.NodeEvent{
		EventBase: domain.EventBase{Timestamp: e.now().UTC(), Type: typ, WorkflowID: workflowID},
		Node:      node,
		Superstep: superstep,
		Status:    status,
	})
}

func (e *Engine) emitGate(ctx context.Context, workflowID, node string, targets []string) {
	if e.hooks.OnGateDecision == nil {
		return
	}
	e.hooks.OnGateDecision(ctx, &domain.GateEvent{
		EventBase: domain.EventBase{Timestamp: e.now().UTC(), Type: domain.EventGateDecision, WorkflowID: workflowID},
		Node:      node,
		Targets:   targets,
	})
}

func (e *Engine) emitInterrupt(ctx context.Context, typ domain.EventType, workflowID string, info *domain.InterruptInfo) {
	fn := e.hooks.OnInterrupt
	if typ == domain.EventResume {
		fn = e.hooks.OnResume
	}
	if fn == nil {
		return
	}
	fn(ctx, &domain.InterruptEvent{
		EventBase:     domain.EventBase{Timestamp: e.now().UTC(), Type: typ, WorkflowID: workflowID},
		Node:          info.Node,
		ResponseParam: info.ResponseParam,
	})
}

func (e *Engine) emitChunk(ctx context.Context, workflowID, node string, index int, chunk any) {
	if e.hooks.OnChunk == nil {
		return
	}
	e.hooks.OnChunk(ctx, &domain.ChunkEvent{
		EventBase: domain.EventBase{Timestamp: e.now().UTC(), Type: domain.EventChunk, WorkflowID: workflowID},
		Node:      node,
		Index:     index,
		Chunk:     chunk,
	})
}
