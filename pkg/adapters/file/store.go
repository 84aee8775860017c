// Package file provides a filesystem StepStore. Records are an append-only
// JSONL log per workflow; status is a JSON file replaced atomically via
// temp-file, fsync and rename.
package file

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sluicelabs/sluice/pkg/domain"
	"github.com/sluicelabs/sluice/pkg/ports"
)

// Store implements ports.StepStore on the local filesystem.
type Store struct {
	BasePath string

	mu sync.Mutex
}

// New creates a Store rooted at basePath. If basePath is empty it defaults
// to ".sluice/workflows".
func New(basePath string) *Store {
	if basePath == "" {
		basePath = filepath.Join(".sluice", "workflows")
	}
	return &Store{BasePath: basePath}
}

// dir maps a workflow id to its directory. Nested workflow ids contain "/"
// separators and land in nested directories, which keeps the flat string
// addressing scheme browsable on disk.
func (s *Store) dir(workflowID string) string {
	return filepath.Join(s.BasePath, filepath.FromSlash(workflowID))
}

func (s *Store) stepsPath(workflowID string) string {
	return filepath.Join(s.dir(workflowID), "steps.jsonl")
}

func (s *Store) statusPath(workflowID string) string {
	return filepath.Join(s.dir(workflowID), "status.json")
}

// SaveStep appends one record to the workflow's log. The write is a single
// O_APPEND write followed by fsync, so a crash can truncate at most the
// final line; Steps tolerates and discards a torn tail.
func (s *Store) SaveStep(ctx context.Context, rec *domain.StepRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal step record: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir(rec.WorkflowID), 0o755); err != nil {
		return fmt.Errorf("failed to ensure workflow directory: %w", err)
	}

	f, err := os.OpenFile(s.stepsPath(rec.WorkflowID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open step log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to append step record: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to fsync step log: %w", err)
	}
	return nil
}

// Steps returns the workflow's records ordered by (superstep, step index).
func (s *Store) Steps(ctx context.Context, workflowID string) ([]*domain.StepRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.stepsPath(workflowID))
	if err != nil {
		if os.IsNotExist(err) {
			if _, statErr := os.Stat(s.statusPath(workflowID)); statErr == nil {
				return nil, nil
			}
			return nil, domain.ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("failed to open step log: %w", err)
	}
	defer f.Close()

	var records []*domain.StepRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec domain.StepRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			// Torn tail from a crash mid-append. Everything before it is intact.
			break
		}
		records = append(records, &rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read step log: %w", err)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Superstep != records[j].Superstep {
			return records[i].Superstep < records[j].Superstep
		}
		return records[i].StepIndex < records[j].StepIndex
	})
	return records, nil
}

// State folds records up to atSuperstep into a value/version map.
func (s *Store) State(ctx context.Context, workflowID string, atSuperstep int) (domain.Values, error) {
	records, err := s.Steps(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return ports.FoldState(records, atSuperstep), nil
}

// Status reads the persisted workflow status.
func (s *Store) Status(ctx context.Context, workflowID string) (*domain.WorkflowStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.statusPath(workflowID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("failed to read status: %w", err)
	}

	var status domain.WorkflowStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status: %w", err)
	}
	return &status, nil
}

// SetStatus writes the workflow status atomically: temp file in the same
// directory, fsync, then rename.
func (s *Store) SetStatus(ctx context.Context, workflowID string, status *domain.WorkflowStatus) error {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.dir(workflowID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to ensure workflow directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "tmp-status-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.statusPath(workflowID)); err != nil {
		return fmt.Errorf("failed to replace status file: %w", err)
	}
	return nil
}
