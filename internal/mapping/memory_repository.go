package mapping

import (
	"context"
	"sync"
	"time"
)

// MemoryRepository is an in-memory Repository for tests and local runs.
type MemoryRepository struct {
	mu       sync.RWMutex
	mappings map[string]Mapping
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{mappings: make(map[string]Mapping)}
}

func (r *MemoryRepository) Upsert(_ context.Context, m Mapping) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if m.LastSyncedAt.IsZero() {
		m.LastSyncedAt = time.Now().UTC()
	}
	r.mu.Lock()
	r.mappings[m.PhoneNumber] = m
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) GetByPhone(_ context.Context, phoneNumber string) (*Mapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.mappings[phoneNumber]
	if !ok {
		return nil, ErrMappingNotFound
	}
	return &m, nil
}

// Len reports how many mappings exist (test helper).
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.mappings)
}
