package runtime

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/sluicelabs/sluice/pkg/domain"
	"github.com/sluicelabs/sluice/pkg/graph"
	"github.com/sluicelabs/sluice/pkg/ports"
)

// stepResult is the in-memory outcome of one node invocation, before it is
// persisted and folded into state.
type stepResult struct {
	node          *graph.Node
	inputVersions map[string]int
	outputs       map[string]any
	decision      []string
	// childWorkflowID links a completed nested run's records.
	childWorkflowID string
	// childResult propagates a nested run that paused or was stopped.
	childResult *Result
	err         error
}

// executeBatch runs every node of the superstep concurrently and waits for
// all of them. Inputs were snapshotted against pre-superstep state, so batch
// members cannot observe each other's writes. A failing node does not cancel
// its siblings: completed siblings persist, preserving at-least-once
// semantics for the batch.
func (r *run) executeBatch(ctx context.Context, step int, batch []string) []*stepResult {
	execCtx := ctx
	if r.e.completeOnStop {
		execCtx = context.WithoutCancel(ctx)
	}

	results := make([]*stepResult, len(batch))
	var g errgroup.Group
	for i, name := range batch {
		i, name := i, name
		n := r.g.Node(name)
		g.Go(func() error {
			r.e.emitNode(execCtx, domain.EventNodeStart, r.wfID, name, step, "")
			res := r.invoke(execCtx, n)
			status := domain.StepCompleted
			if res.err != nil {
				status = domain.StepFailed
			}
			r.e.emitNode(execCtx, domain.EventNodeEnd, r.wfID, name, step, status)
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// invoke runs one node against the current state snapshot.
func (r *run) invoke(ctx context.Context, n *graph.Node) *stepResult {
	res := &stepResult{node: n, inputVersions: r.st.snapshot(n.Params)}
	in := r.st.inputsFor(n)

	switch n.Kind {
	case graph.KindTask:
		res.outputs, res.err = r.runTask(ctx, n, in)
	case graph.KindBranch:
		ok, err := n.Branch(ctx, in)
		if err != nil {
			res.err = err
			break
		}
		target := n.IfFalse
		if ok {
			target = n.IfTrue
		}
		res.decision = []string{target}
		r.e.emitGate(ctx, r.wfID, n.Name, res.decision)
	case graph.KindRoute:
		res.decision, res.err = r.runRoute(ctx, n, in)
	case graph.KindSubgraph:
		r.runSubgraph(ctx, n, in, res)
	default:
		res.err = fmt.Errorf("node kind %q is not executable", n.Kind)
	}
	return res
}

// runTask executes a computation node, consulting the cache when configured
// and folding its result into named outputs.
func (r *run) runTask(ctx context.Context, n *graph.Node, in domain.Inputs) (map[string]any, error) {
	var key string
	if r.e.cache != nil {
		key = cacheKey(n.Name, in)
		outputs, ok, err := r.e.cache.Get(ctx, key)
		if err != nil {
			r.e.logger.Warn("cache read failed", "node", n.Name, "error", err)
		} else if ok {
			r.e.logger.Debug("cache hit", "node", n.Name)
			return outputs, nil
		}
	}

	v, err := n.Run(ctx, in)
	if err != nil {
		return nil, err
	}
	outputs, err := r.foldValue(ctx, n, v)
	if err != nil {
		return nil, err
	}

	if r.e.cache != nil {
		if err := r.e.cache.Set(ctx, key, outputs); err != nil {
			r.e.logger.Warn("cache write failed", "node", n.Name, "error", err)
		}
	}
	return outputs, nil
}

// foldValue maps a node's raw result onto its declared outputs. A stream is
// drained first; its chunks are surfaced as events and folded into a single
// value. A single-output node's result is that output; a multi-output node
// must return a map covering every declared name.
func (r *run) foldValue(ctx context.Context, n *graph.Node, v any) (map[string]any, error) {
	if stream, ok := v.(domain.Stream); ok {
		if len(n.Outputs) != 1 {
			return nil, fmt.Errorf("node %q: streaming requires exactly one output", n.Name)
		}
		v = r.drain(ctx, n.Name, stream)
	}

	if len(n.Outputs) == 1 {
		return map[string]any{n.Outputs[0]: v}, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("node %q: result must be a map naming its %d outputs", n.Name, len(n.Outputs))
	}
	outputs := make(map[string]any, len(n.Outputs))
	for _, name := range n.Outputs {
		val, ok := m[name]
		if !ok {
			return nil, fmt.Errorf("node %q: result is missing output %q", n.Name, name)
		}
		outputs[name] = val
	}
	return outputs, nil
}

// drain consumes a stream to completion. Chunk emission is observability,
// not suspension: the fold of all chunks is what lands in state. All-string
// chunks concatenate; anything else folds to a slice.
func (r *run) drain(ctx context.Context, node string, stream domain.Stream) any {
	var chunks []any
	allStrings := true
	i := 0
	for chunk := range stream {
		r.e.emitChunk(ctx, r.wfID, node, i, chunk)
		if _, ok := chunk.(string); !ok {
			allStrings = false
		}
		chunks = append(chunks, chunk)
		i++
	}
	if allStrings {
		var b strings.Builder
		for _, c := range chunks {
			b.WriteString(c.(string))
		}
		return b.String()
	}
	return chunks
}

// runRoute evaluates a route gate and validates its result against the
// declared target set.
func (r *run) runRoute(ctx context.Context, n *graph.Node, in domain.Inputs) ([]string, error) {
	targets, err := n.Route(ctx, in)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, &domain.InvalidRouteError{Node: n.Name, Target: ""}
	}
	declared := make(map[string]bool, len(n.Targets))
	for _, t := range n.Targets {
		declared[t.Name] = true
	}
	for _, target := range targets {
		if target != graph.End && !declared[target] {
			return nil, &domain.InvalidRouteError{Node: n.Name, Target: target}
		}
	}
	r.e.emitGate(ctx, r.wfID, n.Name, targets)
	return targets, nil
}

// runSubgraph executes a nested graph as a single node. The child persists
// under its own derived workflow id; a paused child pauses the parent, and
// parent resumption re-enters this node and resumes the child.
func (r *run) runSubgraph(ctx context.Context, n *graph.Node, in domain.Inputs, res *stepResult) {
	childID := domain.ChildWorkflowID(r.wfID, n.Name)
	ce := r.e.childEngine(n)
	res.childWorkflowID = childID

	var status *domain.WorkflowStatus
	if ce.store != nil {
		if s, err := ce.store.Status(ctx, childID); err == nil {
			status = s
		}
	}
	if status != nil && status.State == domain.RunPaused && status.Interrupt != nil {
		if _, ok := r.resumeInputs[status.Interrupt.ResponseParam]; !ok {
			// No response arrived for the nested pause point; the parent
			// pauses again instead of failing.
			info := *status.Interrupt
			info.Node = n.Name + "/" + info.Node
			res.childResult = &Result{WorkflowID: childID, Status: domain.RunPaused, Interrupt: &info}
			return
		}
	}

	var child *Result
	var err error
	switch {
	case status == nil:
		inputs := make(map[string]any, len(in))
		for k, v := range in {
			inputs[k] = v
		}
		child, err = ce.Execute(ctx, n.Child, childID, inputs)
	case status.State == domain.RunCompleted:
		// The child finished in an earlier attempt; its persisted log is
		// the result. Re-executing would duplicate records.
		values, serr := ce.store.State(ctx, childID, ports.AllSupersteps)
		if serr != nil {
			res.err = fmt.Errorf("nested workflow %q: %w", childID, serr)
			return
		}
		child = &Result{WorkflowID: childID, Status: domain.RunCompleted, Values: values}
	default:
		// Paused, failed, stopped, or interrupted mid-run: pick the child
		// up from its log. The child already holds its inputs; re-seeding
		// them would bump versions and re-trigger settled child nodes, so
		// only the resume payload flows down.
		child, err = ce.Resume(ctx, n.Child, childID, r.resumeInputs)
	}
	if err != nil {
		res.err = fmt.Errorf("nested workflow %q: %w", childID, err)
		return
	}

	switch child.Status {
	case domain.RunCompleted:
		outputs := make(map[string]any, len(n.Outputs))
		for _, name := range n.Outputs {
			v, ok := child.Values.Get(name)
			if !ok {
				res.err = fmt.Errorf("nested workflow %q did not produce output %q", childID, name)
				return
			}
			outputs[name] = v
		}
		res.outputs = outputs
	case domain.RunPaused:
		info := *child.Interrupt
		info.Node = n.Name + "/" + info.Node
		res.childResult = &Result{WorkflowID: childID, Status: domain.RunPaused, Interrupt: &info}
	default:
		res.childResult = child
	}
}

// cacheKey hashes the node name and its input values into a stable key.
// JSON marshaling sorts map keys, so equal inputs hash equally.
func cacheKey(node string, in domain.Inputs) string {
	h := sha256.New()
	h.Write([]byte(node))
	h.Write([]byte{0})
	if raw, err := json.Marshal(in); err == nil {
		h.Write(raw)
	} else {
		h.Write([]byte(fmt.Sprintf("%v", in)))
	}
	return hex.EncodeToString(h.Sum(nil))
}
