package process

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and local runs. It enforces the
// same transition legality and additive-counter semantics as DynamoStore.
type MemoryStore struct {
	mu        sync.Mutex
	processes map[string]*Process
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{processes: make(map[string]*Process)}
}

func (s *MemoryStore) Create(_ context.Context, p *Process) (*Process, error) {
	if p == nil {
		return nil, errors.New("process: process cannot be nil")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Type == "" {
		p.Type = ProcessTypeCRMSync
	}
	if p.State == "" {
		p.State = StateInitializing
	}
	if p.Context.StartTime == "" {
		p.Context.StartTime = now
	}
	if p.Metadata == nil {
		p.Metadata = map[string]any{}
	}
	p.CreatedAt = now
	p.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.processes[p.ID]; exists {
		return nil, fmt.Errorf("process: %s already exists", p.ID)
	}
	stored := clone(p)
	s.processes[p.ID] = stored
	return clone(stored), nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (*Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.processes[id]
	if !ok {
		return nil, ErrProcessNotFound
	}
	return clone(p), nil
}

func (s *MemoryStore) UpdateState(_ context.Context, id string, newState State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.processes[id]
	if !ok {
		return ErrProcessNotFound
	}
	if p.State == newState {
		return nil
	}
	if !CanTransition(p.State, newState) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, p.State, newState)
	}
	p.State = newState
	p.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	return nil
}

func (s *MemoryStore) UpdateTotal(_ context.Context, id string, total, totalPages int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.processes[id]
	if !ok {
		return ErrProcessNotFound
	}
	p.Context.TotalRecords = total
	p.Context.TotalPages = totalPages
	p.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	return nil
}

func (s *MemoryStore) UpdateMetrics(_ context.Context, id string, delta MetricsDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.processes[id]
	if !ok {
		return ErrProcessNotFound
	}
	p.Context.ProcessedRecords += delta.Processed
	p.Results.AggregateData.TotalSynced += delta.Success
	p.Results.AggregateData.TotalFailed += delta.Errors
	if len(delta.ErrorDetails) > 0 {
		merged := append(p.Results.AggregateData.Errors, delta.ErrorDetails...)
		p.Results.AggregateData.Errors = trimErrors(merged, MaxErrorDetails)
	}
	p.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	return nil
}

func (s *MemoryStore) UpdateMetadata(_ context.Context, id string, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.processes[id]
	if !ok {
		return ErrProcessNotFound
	}
	if p.Metadata == nil {
		p.Metadata = map[string]any{}
	}
	for k, v := range patch {
		p.Metadata[k] = v
	}
	p.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	return nil
}

func (s *MemoryStore) GetMetadata(_ context.Context, id string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.processes[id]
	if !ok {
		return nil, ErrProcessNotFound
	}
	out := make(map[string]any, len(p.Metadata))
	for k, v := range p.Metadata {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) LatestCompleted(_ context.Context, integrationID, personObjectType string) (*Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *Process
	for _, p := range s.processes {
		if p.IntegrationID != integrationID || p.State != StateCompleted {
			continue
		}
		if p.Context.PersonObjectType != personObjectType {
			continue
		}
		if latest == nil || p.UpdatedAt > latest.UpdatedAt {
			latest = p
		}
	}
	if latest == nil {
		return nil, ErrProcessNotFound
	}
	return clone(latest), nil
}

func (s *MemoryStore) CompleteProcess(_ context.Context, id string) (*Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.processes[id]
	if !ok {
		return nil, ErrProcessNotFound
	}
	if p.State == StateCompleted {
		return clone(p), nil
	}
	if p.State == StateFailed {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, StateFailed, StateCompleted)
	}

	duration := time.Since(p.StartedAt()).Seconds()
	if duration <= 0 {
		duration = 0.001
	}
	p.State = StateCompleted
	p.Results.AggregateData.DurationSeconds = duration
	p.Results.AggregateData.RecordsPerSecond = float64(p.Results.AggregateData.TotalSynced) / duration
	p.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	return clone(p), nil
}

func (s *MemoryStore) HandleError(ctx context.Context, id string, cause error, fatal bool) error {
	if cause == nil {
		return nil
	}
	detail := ErrorDetail{
		Error:     cause.Error(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := s.UpdateMetrics(ctx, id, MetricsDelta{Errors: 1, ErrorDetails: []ErrorDetail{detail}}); err != nil {
		return err
	}
	if !fatal {
		return nil
	}
	if err := s.UpdateState(ctx, id, StateFailed); err != nil && !errors.Is(err, ErrIllegalTransition) {
		return err
	}
	return nil
}

func clone(p *Process) *Process {
	cp := *p
	cp.Results.AggregateData.Errors = append([]ErrorDetail(nil), p.Results.AggregateData.Errors...)
	cp.Metadata = make(map[string]any, len(p.Metadata))
	for k, v := range p.Metadata {
		cp.Metadata[k] = v
	}
	return &cp
}
