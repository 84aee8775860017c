// Package redis provides a Redis-backed StepStore. Each workflow's records
// live in a list appended with RPUSH, which makes SaveStep atomic and
// serializes concurrent batch writes server-side.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/sluicelabs/sluice/pkg/domain"
	"github.com/sluicelabs/sluice/pkg/ports"
)

// Store implements ports.StepStore using Redis.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type Option func(*Store)

// WithTTL sets the expiration for workflow keys. Zero means no expiration.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for workflow data.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: "sluice:wf:",
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *Store) stepsKey(workflowID string) string {
	return s.prefix + workflowID + ":steps"
}

func (s *Store) statusKey(workflowID string) string {
	return s.prefix + workflowID + ":status"
}

// SaveStep appends the record to the workflow's step list.
func (s *Store) SaveStep(ctx context.Context, rec *domain.StepRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal step record: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.RPush(ctx, s.stepsKey(rec.WorkflowID), data)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.stepsKey(rec.WorkflowID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save step to redis: %w", err)
	}
	return nil
}

// Steps returns the workflow's records ordered by (superstep, step index).
func (s *Store) Steps(ctx context.Context, workflowID string) ([]*domain.StepRecord, error) {
	raw, err := s.client.LRange(ctx, s.stepsKey(workflowID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read steps from redis: %w", err)
	}
	if len(raw) == 0 {
		exists, err := s.client.Exists(ctx, s.statusKey(workflowID)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to check workflow existence: %w", err)
		}
		if exists == 0 {
			return nil, domain.ErrWorkflowNotFound
		}
		return nil, nil
	}

	records := make([]*domain.StepRecord, 0, len(raw))
	for _, item := range raw {
		var rec domain.StepRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step record: %w", err)
		}
		records = append(records, &rec)
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
	val, err := s.client.Get(ctx, s.statusKey(workflowID)).Result()
	if err != nil {
		if err == backend.Nil {
			return nil, domain.ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("failed to read status from redis: %w", err)
	}

	var status domain.WorkflowStatus
	if err := json.Unmarshal([]byte(val), &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status: %w", err)
	}
	return &status, nil
}

// SetStatus updates the persisted workflow status.
func (s *Store) SetStatus(ctx context.Context, workflowID string, status *domain.WorkflowStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	if err := s.client.Set(ctx, s.statusKey(workflowID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save status to redis: %w", err)
	}
	return nil
}

// Close closes the underlying redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
