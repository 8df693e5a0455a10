package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Store persists integration configs.
type Store interface {
	Get(ctx context.Context, integrationID string) (*Config, error)
	Save(ctx context.Context, cfg *Config) error
}

type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps each config as one JSONB document so deep-merged
// operator fields survive round trips.
type PostgresStore struct {
	db db
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore initializes a store backed by pgxpool (or a mock).
func NewPostgresStore(db db) *PostgresStore {
	if db == nil {
		panic("integration: db required")
	}
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, integrationID string) (*Config, error) {
	query := `SELECT document FROM integration_configs WHERE integration_id = $1`
	var raw []byte
	if err := s.db.QueryRow(ctx, query, integrationID).Scan(&raw); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrIntegrationNotFound
		}
		return nil, fmt.Errorf("integration: select failed: %w", err)
	}

	doc := map[string]any{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("integration: corrupt document for %s: %w", integrationID, err)
	}
	return FromDocument(doc)
}

func (s *PostgresStore) Save(ctx context.Context, cfg *Config) error {
	if cfg == nil || cfg.IntegrationID == "" {
		return fmt.Errorf("integration: config with integration id required")
	}
	cfg.UpdatedAt = time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = cfg.UpdatedAt
	}

	doc, err := cfg.Document()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("integration: marshal document: %w", err)
	}

	query := `
		INSERT INTO integration_configs (integration_id, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (integration_id) DO UPDATE SET
			document = EXCLUDED.document,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := s.db.Exec(ctx, query, cfg.IntegrationID, raw, cfg.CreatedAt, cfg.UpdatedAt); err != nil {
		return fmt.Errorf("integration: save failed: %w", err)
	}
	return nil
}

// MemoryStore is an in-memory Store for tests and local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	configs map[string]map[string]any
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{configs: make(map[string]map[string]any)}
}

func (s *MemoryStore) Get(_ context.Context, integrationID string) (*Config, error) {
	s.mu.RLock()
	doc, ok := s.configs[integrationID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrIntegrationNotFound
	}
	return FromDocument(doc)
}

func (s *MemoryStore) Save(_ context.Context, cfg *Config) error {
	if cfg == nil || cfg.IntegrationID == "" {
		return fmt.Errorf("integration: config with integration id required")
	}
	cfg.UpdatedAt = time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = cfg.UpdatedAt
	}
	doc, err := cfg.Document()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.configs[cfg.IntegrationID] = doc
	s.mu.Unlock()
	return nil
}
