package runtime

import (
	"context"
	"sort"

	"github.com/sluicelabs/sluice/pkg/domain"
	"github.com/sluicelabs/sluice/pkg/graph"
)

// reconstruct folds the persisted step log back into run state and returns
// the next free superstep index. State is never persisted as a blob; the log
// is the only source of truth, so recovery is "record present = done,
// absent = redo". Failed records contribute nothing, which is exactly what
// makes a failed node re-execute. Stopped records contribute their partial
// outputs but no execution snapshot, so the node also re-executes.
func (r *run) reconstruct(records []*domain.StepRecord) int {
	ordered := make([]*domain.StepRecord, len(records))
	copy(ordered, records)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Superstep != ordered[j].Superstep {
			return ordered[i].Superstep < ordered[j].Superstep
		}
		return ordered[i].StepIndex < ordered[j].StepIndex
	})

	next := 0
	for _, rec := range ordered {
		if rec.Superstep >= next {
			next = rec.Superstep + 1
		}
		if rec.Status == domain.StepFailed {
			continue
		}

		delete(r.st.open, rec.Node)
		for _, out := range sortedKeys(rec.Outputs) {
			r.st.write(out, rec.Outputs[out])
		}

		if rec.Status != domain.StepCompleted {
			continue
		}
		if n := r.g.Node(rec.Node); n != nil {
			snap := rec.InputVersions
			if snap == nil {
				snap = map[string]int{}
			}
			r.st.recordExecution(rec.Node, snap)
			for _, target := range rec.Decision {
				if target != graph.End {
					r.st.open[target] = true
				}
			}
		}
	}
	return next
}

// mergeInputs persists caller-supplied values under the reserved input
// pseudo-node and writes them into state. Persisting them keeps the log a
// complete account of the run: reconstruction needs no side channel.
func (r *run) mergeInputs(ctx context.Context, step int, inputs map[string]any) error {
	rec := &domain.StepRecord{
		WorkflowID: r.wfID,
		Superstep:  step,
		StepIndex:  -1,
		Node:       inputNode,
		Status:     domain.StepCompleted,
		Outputs:    inputs,
		At:         r.e.now().UTC(),
	}
	if err := r.e.saveStep(ctx, rec); err != nil {
		return err
	}
	for _, name := range sortedKeys(inputs) {
		r.st.write(name, inputs[name])
	}
	return nil
}

// completeInterrupt persists the caller's response as the pending interrupt
// node's own completed record, making the pause indistinguishable, after the
// fact, from an ordinary node execution. It returns the remaining inputs
// not consumed by the response. An interrupt pending inside a nested run is
// left alone; the response reaches it when the nested node re-executes.
func (r *run) completeInterrupt(ctx context.Context, step int, info *domain.InterruptInfo, inputs map[string]any) (map[string]any, bool, error) {
	n := r.g.Node(info.Node)
	if n == nil || n.Kind != graph.KindInterrupt {
		return inputs, false, nil
	}
	resp, ok := inputs[info.ResponseParam]
	if !ok {
		return nil, false, &domain.MissingInputError{Params: []string{info.ResponseParam}}
	}

	snap := r.st.snapshot(n.Params)
	rec := &domain.StepRecord{
		WorkflowID:    r.wfID,
		Superstep:     step,
		StepIndex:     0,
		Node:          info.Node,
		Status:        domain.StepCompleted,
		InputVersions: snap,
		Outputs:       map[string]any{info.ResponseParam: resp},
		At:            r.e.now().UTC(),
	}
	if err := r.e.saveStep(ctx, rec); err != nil {
		return nil, false, err
	}

	delete(r.st.open, info.Node)
	r.st.write(info.ResponseParam, resp)
	r.st.recordExecution(info.Node, snap)

	rest := make(map[string]any, len(inputs)-1)
	for k, v := range inputs {
		if k != info.ResponseParam {
			rest[k] = v
		}
	}
	return rest, true, nil
}
