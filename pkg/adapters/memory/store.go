// Package memory provides an in-memory StepStore, suitable for tests and
// single-process runs without durability requirements.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/sluicelabs/sluice/pkg/domain"
	"github.com/sluicelabs/sluice/pkg/ports"
)

// Store implements ports.StepStore in memory. Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	steps    map[string][]*domain.StepRecord
	statuses map[string]*domain.WorkflowStatus
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		steps:    make(map[string][]*domain.StepRecord),
		statuses: make(map[string]*domain.WorkflowStatus),
	}
}

// SaveStep appends a copy of the record, keeping stored state isolated from
// caller mutation.
func (s *Store) SaveStep(ctx context.Context, rec *domain.StepRecord) error {
	cp := cloneRecord(rec)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps[rec.WorkflowID] = append(s.steps[rec.WorkflowID], cp)
	sortRecords(s.steps[rec.WorkflowID])
	return nil
}

// Steps returns the workflow's records ordered by (superstep, step index).
func (s *Store) Steps(ctx context.Context, workflowID string) ([]*domain.StepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, ok := s.steps[workflowID]
	if !ok {
		if _, hasStatus := s.statuses[workflowID]; !hasStatus {
			return nil, domain.ErrWorkflowNotFound
		}
	}

	out := make([]*domain.StepRecord, len(records))
	for i, r := range records {
		out[i] = cloneRecord(r)
	}
	return out, nil
}

// State folds records up to atSuperstep into a value/version map.
func (s *Store) State(ctx context.Context, workflowID string, atSuperstep int) (domain.Values, error) {
	records, err := s.Steps(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return ports.FoldState(records, atSuperstep), nil
}

// Status reads the workflow status.
func (s *Store) Status(ctx context.Context, workflowID string) (*domain.WorkflowStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status, ok := s.statuses[workflowID]
	if !ok {
		return nil, domain.ErrWorkflowNotFound
	}
	cp := *status
	if status.Interrupt != nil {
		i := *status.Interrupt
		cp.Interrupt = &i
	}
	return &cp, nil
}

// SetStatus updates the workflow status.
func (s *Store) SetStatus(ctx context.Context, workflowID string, status *domain.WorkflowStatus) error {
	cp := *status
	if status.Interrupt != nil {
		i := *status.Interrupt
		cp.Interrupt = &i
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[workflowID] = &cp
	return nil
}

// Workflows returns the known workflow ids, sorted.
func (s *Store) Workflows(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	for id := range s.steps {
		seen[id] = true
	}
	for id := range s.statuses {
		seen[id] = true
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func cloneRecord(rec *domain.StepRecord) *domain.StepRecord {
	cp := *rec
	if rec.InputVersions != nil {
		cp.InputVersions = make(map[string]int, len(rec.InputVersions))
		for k, v := range rec.InputVersions {
			cp.InputVersions[k] = v
		}
	}
	if rec.Outputs != nil {
		cp.Outputs = make(map[string]any, len(rec.Outputs))
		for k, v := range rec.Outputs {
			cp.Outputs[k] = v
		}
	}
	cp.Decision = append([]string(nil), rec.Decision...)
	return &cp
}

func sortRecords(records []*domain.StepRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Superstep != records[j].Superstep {
			return records[i].Superstep < records[j].Superstep
		}
		return records[i].StepIndex < records[j].StepIndex
	})
}
