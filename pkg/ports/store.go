package ports

import (
	"context"
	"sort"

	"github.com/sluicelabs/sluice/pkg/domain"
)

// AllSupersteps selects every persisted record when folding state.
const AllSupersteps = -1

// StepStore is the persistence backend contract. The StepRecord shape is the
// interoperability contract; the storage technology is the adapter's choice.
//
// Implementations must make SaveStep atomic and must serialize writes within
// one (workflow id, superstep) so that concurrently completing batch members
// cannot interleave corruptly. Distinct workflow ids are fully independent.
type StepStore interface {
	// SaveStep appends one record. Records are append-only: a record, once
	// written, is never mutated.
	SaveStep(ctx context.Context, rec *domain.StepRecord) error

	// Steps returns the workflow's records ordered by (superstep, step index).
	// It returns domain.ErrWorkflowNotFound for an unknown workflow.
	Steps(ctx context.Context, workflowID string) ([]*domain.StepRecord, error)

	// State folds all records up to and including atSuperstep into a
	// value/version map. The fold is the checkpoint: no separate state blob
	// exists. Pass AllSupersteps for the latest state.
	State(ctx context.Context, workflowID string, atSuperstep int) (domain.Values, error)

	// Status reads the persisted workflow status.
	Status(ctx context.Context, workflowID string) (*domain.WorkflowStatus, error)

	// SetStatus updates the persisted workflow status.
	SetStatus(ctx context.Context, workflowID string, status *domain.WorkflowStatus) error
}

// FoldState replays records up to atSuperstep into a value/version map.
// Completed records apply their outputs in order; stopped records apply the
// partial output they carry; failed records contribute nothing (their node
// re-executes on resume). Adapters implement StepStore.State with this so
// every backend folds identically.
func FoldState(records []*domain.StepRecord, atSuperstep int) domain.Values {
	ordered := append([]*domain.StepRecord(nil), records...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Superstep != ordered[j].Superstep {
			return ordered[i].Superstep < ordered[j].Superstep
		}
		return ordered[i].StepIndex < ordered[j].StepIndex
	})

	values := make(domain.Values)
	for _, rec := range ordered {
		if atSuperstep != AllSupersteps && rec.Superstep > atSuperstep {
			break
		}
		if rec.Status == domain.StepFailed {
			continue
		}
		for _, name := range sortedKeys(rec.Outputs) {
			values.Write(name, rec.Outputs[name])
		}
	}
	return values
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
