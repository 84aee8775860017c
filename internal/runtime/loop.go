package runtime

import (
	"context"
	"sort"

	"github.com/sluicelabs/sluice/pkg/domain"
	"github.com/sluicelabs/sluice/pkg/graph"
)

// run is the state of one engine invocation. Execute and Resume both funnel
// into the same loop; resumption differs only in how the initial state was
// obtained.
type run struct {
	e    *Engine
	g    *graph.Graph
	wfID string
	st   *graphState

	// resumeInputs are forwarded to paused nested runs so a response
	// addressed to a deeply-nested interrupt reaches it.
	resumeInputs map[string]any

	// graceUsed marks that the single post-cancellation superstep permitted
	// by the complete-on-stop policy has already run.
	graceUsed bool

	// terminal marks that a gate produced the end sentinel. The run
	// completes once the current superstep's records are persisted, even if
	// later supersteps still have stale work.
	terminal bool
}

// loop drives supersteps until the end sentinel is produced, no node is
// ready, a pause point is reached, or the run fails or is stopped.
func (r *run) loop(ctx context.Context, start int) (*Result, error) {
	e := r.e
	for step, iter := start, 0; ; step, iter = step+1, iter+1 {
		if iter >= e.maxSupersteps {
			err := &domain.InfiniteLoopError{Supersteps: e.maxSupersteps}
			return r.finish(ctx, domain.RunFailed, err)
		}
		if ctx.Err() != nil {
			if !e.completeOnStop || r.graceUsed {
				return r.finish(ctx, domain.RunStopped, nil)
			}
			r.graceUsed = true
		}

		batch, interrupts := r.readySet()
		if len(batch) == 0 {
			if len(interrupts) > 0 {
				return r.pause(ctx, interrupts[0])
			}
			if blocked := r.blockedOpenings(); len(blocked) > 0 {
				// A gate opened a target whose inputs never arrived. Silent
				// completion would swallow the decision, so the run fails.
				err := &domain.MissingInputError{Params: blocked}
				return r.finish(ctx, domain.RunFailed, err)
			}
			if start == 0 && len(r.st.executed) == 0 && len(r.g.Nodes()) > 0 {
				// Nothing ever became startable: a cycle seed or some other
				// required value is absent.
				err := &domain.MissingInputError{Params: r.blockedParams()}
				return r.finish(ctx, domain.RunFailed, err)
			}
			return r.finish(ctx, domain.RunCompleted, nil)
		}

		if err := r.checkConflicts(batch); err != nil {
			return r.finish(ctx, domain.RunFailed, err)
		}

		e.logger.Debug("superstep",
			"workflow_id", r.wfID, "superstep", step, "nodes", batch)

		results := r.executeBatch(ctx, step, batch)
		done, err := r.applyResults(ctx, step, results)
		if err != nil {
			return r.finish(ctx, domain.RunFailed, err)
		}
		if done != nil {
			return done, nil
		}
		if r.terminal {
			return r.finish(ctx, domain.RunCompleted, nil)
		}
	}
}

// readySet computes the nodes eligible for the next superstep, split into
// the executable batch and any ready interrupt nodes. An ungated node is
// ready when all its parameters are present and it is stale. A gated node
// runs on gate openings instead: each one-shot opening triggers exactly one
// execution, which is what re-triggers an accumulator that staleness alone
// would consider settled. Interrupt nodes never join the batch: the run
// pauses for the alphabetically first one only once no other work remains,
// so parallel branches drain before the caller is consulted.
func (r *run) readySet() (batch, interrupts []string) {
	for _, name := range r.g.Nodes() {
		n := r.g.Node(name)
		if !r.inputsPresent(n) {
			continue
		}
		if len(r.g.Controls(name)) > 0 {
			if !r.st.open[name] {
				continue
			}
		} else if !r.st.stale(r.g, name, n) {
			continue
		}
		if n.Kind == graph.KindInterrupt {
			interrupts = append(interrupts, name)
			continue
		}
		batch = append(batch, name)
	}
	return batch, interrupts
}

func (r *run) inputsPresent(n *graph.Node) bool {
	for _, p := range n.Params {
		if _, ok := r.st.values.Get(p); !ok {
			return false
		}
	}
	return true
}

// blockedParams lists the absent parameters of the never-executed nodes that
// are not gate-held, for the missing-input diagnostic.
func (r *run) blockedParams() []string {
	seen := make(map[string]bool)
	var params []string
	for _, name := range r.g.Nodes() {
		if len(r.g.Controls(name)) > 0 && !r.st.open[name] {
			continue
		}
		for _, p := range r.g.Node(name).Params {
			if _, ok := r.st.values.Get(p); ok || seen[p] {
				continue
			}
			seen[p] = true
			params = append(params, p)
		}
	}
	sort.Strings(params)
	return params
}

// blockedOpenings lists the absent parameters of gate-opened targets that
// never got to run. A non-empty result means a decision was made that the
// run cannot honor.
func (r *run) blockedOpenings() []string {
	seen := make(map[string]bool)
	var params []string
	for name := range r.st.open {
		n := r.g.Node(name)
		if n == nil {
			continue
		}
		for _, p := range n.Params {
			if _, ok := r.st.values.Get(p); ok || seen[p] {
				continue
			}
			seen[p] = true
			params = append(params, p)
		}
	}
	sort.Strings(params)
	return params
}

// checkConflicts rejects a batch in which two nodes would write the same
// value name. The build-time exclusivity proof covers gate structure;
// caller-supplied inputs can still make statically-exclusive branches
// simultaneously ready, so the run-time check stays.
func (r *run) checkConflicts(batch []string) error {
	writers := make(map[string][]string)
	for _, name := range batch {
		for _, out := range r.g.Node(name).Outputs {
			writers[out] = append(writers[out], name)
		}
	}
	var names []string
	for out, nodes := range writers {
		if len(nodes) > 1 {
			names = append(names, out)
		}
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)
	out := names[0]
	nodes := writers[out]
	sort.Strings(nodes)

	ready := make(map[string][]string, len(nodes))
	for _, name := range nodes {
		ready[name] = r.triggeringInputs(name)
	}
	return &domain.ConflictError{Name: out, Nodes: nodes, ReadyInputs: ready}
}

// triggeringInputs names the parameters whose versions made the node stale.
func (r *run) triggeringInputs(name string) []string {
	n := r.g.Node(name)
	last, executed := r.st.executed[name]
	var params []string
	for _, p := range n.Params {
		if !executed || r.st.values.Version(p) > last[p] {
			params = append(params, p)
		}
	}
	sort.Strings(params)
	return params
}

// applyResults persists the superstep's records in deterministic name order
// and folds outputs, gate decisions and execution snapshots into state. It
// returns a non-nil Result when the run must end here (a nested pause or a
// stop), and an error when a node failed or a route misbehaved.
func (r *run) applyResults(ctx context.Context, step int, results []*stepResult) (*Result, error) {
	e := r.e

	if ctx.Err() != nil && !e.completeOnStop {
		// Default cancellation policy: the aborted superstep's completed
		// outputs persist as stopped records, without execution snapshots,
		// so every node of this superstep re-runs on resume.
		saveCtx := context.WithoutCancel(ctx)
		sort.Slice(results, func(i, j int) bool { return results[i].node.Name < results[j].node.Name })
		idx := 0
		for _, res := range results {
			if res.err != nil || res.childResult != nil || len(res.outputs) == 0 {
				continue
			}
			rec := &domain.StepRecord{
				WorkflowID:    r.wfID,
				Superstep:     step,
				StepIndex:     idx,
				Node:          res.node.Name,
				Status:        domain.StepStopped,
				InputVersions: res.inputVersions,
				Outputs:       res.outputs,
				At:            e.now().UTC(),
			}
			if err := e.saveStep(saveCtx, rec); err != nil {
				return nil, err
			}
			idx++
		}
		return r.finish(saveCtx, domain.RunStopped, nil)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].node.Name < results[j].node.Name })

	var failed *stepResult
	var ended *Result
	for i, res := range results {
		name := res.node.Name
		rec := &domain.StepRecord{
			WorkflowID:      r.wfID,
			Superstep:       step,
			StepIndex:       i,
			Node:            name,
			Status:          domain.StepCompleted,
			InputVersions:   res.inputVersions,
			Outputs:         res.outputs,
			Decision:        res.decision,
			ChildWorkflowID: res.childWorkflowID,
			At:              e.now().UTC(),
		}

		switch {
		case res.err != nil:
			rec.Status = domain.StepFailed
			rec.Outputs = nil
			rec.Decision = nil
			rec.Err = res.err.Error()
			if err := e.saveStep(ctx, rec); err != nil {
				return nil, err
			}
			if failed == nil {
				failed = res
			}
			continue
		case res.childResult != nil:
			// A nested run paused or was stopped. No record: the node did
			// not complete and will be re-entered on resumption.
			if ended == nil {
				ended = res.childResult
			}
			continue
		}

		if err := e.saveStep(ctx, rec); err != nil {
			return nil, err
		}
		r.fold(res)
	}

	if failed != nil {
		return nil, &domain.NodeExecutionError{Node: failed.node.Name, Err: failed.err}
	}
	if ended != nil {
		switch ended.Status {
		case domain.RunPaused:
			return r.pauseFor(ctx, ended.Interrupt)
		default:
			return r.finish(ctx, domain.RunStopped, nil)
		}
	}
	return nil, nil
}

// fold applies one completed result to state: one-shot gate consumption,
// output writes in sorted name order, the execution snapshot, and newly
// opened targets.
func (r *run) fold(res *stepResult) {
	name := res.node.Name
	delete(r.st.open, name)
	for _, out := range sortedKeys(res.outputs) {
		r.st.write(out, res.outputs[out])
	}
	r.st.recordExecution(name, res.inputVersions)
	for _, target := range res.decision {
		if target == graph.End {
			r.terminal = true
			continue
		}
		r.st.open[target] = true
	}
}

// pause suspends the run in front of the named interrupt node.
func (r *run) pause(ctx context.Context, name string) (*Result, error) {
	n := r.g.Node(name)
	prompt, _ := r.st.values.Get(n.Prompt)
	info := &domain.InterruptInfo{Node: name, Prompt: prompt, ResponseParam: n.ResponseParam}
	return r.pauseFor(ctx, info)
}

// pauseFor records the paused status, including one propagated from a nested
// run.
func (r *run) pauseFor(ctx context.Context, info *domain.InterruptInfo) (*Result, error) {
	if err := r.e.setStatus(ctx, r.wfID, domain.RunPaused, info); err != nil {
		return nil, err
	}
	r.e.emitInterrupt(ctx, domain.EventInterrupt, r.wfID, info)
	r.e.emitRun(ctx, domain.EventRunEnd, r.wfID, domain.RunPaused, nil)
	r.e.logger.Info("run paused",
		"workflow_id", r.wfID, "node", info.Node, "response_param", info.ResponseParam)
	res := r.result(domain.RunPaused)
	res.Interrupt = info
	return res, nil
}

// finish records the terminal status and returns the run's result alongside
// the causing error, if any.
func (r *run) finish(ctx context.Context, state domain.RunState, cause error) (*Result, error) {
	if err := r.e.setStatus(ctx, r.wfID, state, nil); err != nil {
		return nil, err
	}
	r.e.emitRun(ctx, domain.EventRunEnd, r.wfID, state, cause)
	if cause != nil {
		r.e.logger.Error("run ended", "workflow_id", r.wfID, "state", state, "error", cause)
	} else {
		r.e.logger.Info("run ended", "workflow_id", r.wfID, "state", state)
	}
	return r.result(state), cause
}

func (r *run) result(state domain.RunState) *Result {
	values := r.st.values.Clone()
	outputs := make(map[string]any, len(values))
	for name, v := range values {
		outputs[name] = v.Value
	}
	return &Result{WorkflowID: r.wfID, Status: state, Values: values, Outputs: outputs}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
