package mapping

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores mappings in the relational database.
type PostgresRepository struct {
	db db
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository initializes a repo backed by pgxpool (or a mock).
func NewPostgresRepository(db db) *PostgresRepository {
	if db == nil {
		panic("mapping: db required")
	}
	return &PostgresRepository{db: db}
}

// Upsert inserts or replaces the mapping for the phone number. Last writer
// wins on last_synced_at, which keeps replayed batches idempotent.
func (r *PostgresRepository) Upsert(ctx context.Context, m Mapping) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if m.LastSyncedAt.IsZero() {
		m.LastSyncedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO contact_mappings
			(phone_number, external_id, quo_contact_id, integration_id, entity_type, sync_method, action, last_synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (phone_number) DO UPDATE SET
			external_id = EXCLUDED.external_id,
			quo_contact_id = EXCLUDED.quo_contact_id,
			integration_id = EXCLUDED.integration_id,
			entity_type = EXCLUDED.entity_type,
			sync_method = EXCLUDED.sync_method,
			action = EXCLUDED.action,
			last_synced_at = EXCLUDED.last_synced_at
	`
	if _, err := r.db.Exec(ctx, query,
		m.PhoneNumber,
		m.ExternalID,
		m.QuoContactID,
		m.IntegrationID,
		m.EntityType,
		string(m.SyncMethod),
		string(m.Action),
		m.LastSyncedAt,
	); err != nil {
		return fmt.Errorf("mapping: upsert failed: %w", err)
	}
	return nil
}

// GetByPhone fetches the mapping for a phone number.
func (r *PostgresRepository) GetByPhone(ctx context.Context, phoneNumber string) (*Mapping, error) {
	query := `
		SELECT phone_number, external_id, quo_contact_id, integration_id, entity_type, sync_method, action, last_synced_at
		FROM contact_mappings
		WHERE phone_number = $1
	`
	row := r.db.QueryRow(ctx, query, phoneNumber)

	var m Mapping
	var method, action string
	if err := row.Scan(
		&m.PhoneNumber,
		&m.ExternalID,
		&m.QuoContactID,
		&m.IntegrationID,
		&m.EntityType,
		&method,
		&action,
		&m.LastSyncedAt,
	); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrMappingNotFound
		}
		return nil, fmt.Errorf("mapping: select failed: %w", err)
	}
	m.SyncMethod = SyncMethod(method)
	m.Action = Action(action)
	return &m, nil
}
