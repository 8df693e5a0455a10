package mapping

import (
	"context"
	"errors"
	"strings"
	"time"
)

// SyncMethod records which path produced a mapping.
type SyncMethod string

const (
	SyncMethodBulk   SyncMethod = "bulk"
	SyncMethodUpsert SyncMethod = "upsert"
)

// Action records whether the upsert created or updated the Quo contact.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
)

// ErrMappingNotFound indicates no mapping exists for the phone number.
var ErrMappingNotFound = errors.New("mapping: not found")

// Mapping links one phone number to a CRM contact and its Quo twin. Exactly
// one mapping exists per phone number; the most recent sync wins.
type Mapping struct {
	PhoneNumber   string     `json:"phoneNumber"`
	ExternalID    string     `json:"externalId"`
	QuoContactID  string     `json:"quoContactId"`
	IntegrationID string     `json:"integrationId"`
	EntityType    string     `json:"entityType,omitempty"`
	SyncMethod    SyncMethod `json:"syncMethod"`
	Action        Action     `json:"action"`
	LastSyncedAt  time.Time  `json:"lastSyncedAt"`
}

// Validate checks required fields.
func (m *Mapping) Validate() error {
	if strings.TrimSpace(m.PhoneNumber) == "" {
		return errors.New("mapping: phone number required")
	}
	if strings.TrimSpace(m.ExternalID) == "" {
		return errors.New("mapping: external id required")
	}
	if strings.TrimSpace(m.QuoContactID) == "" {
		return errors.New("mapping: quo contact id required")
	}
	return nil
}

// Repository stores contact mappings keyed by phone number.
type Repository interface {
	// Upsert writes the mapping; on key conflict the newer write wins.
	Upsert(ctx context.Context, m Mapping) error
	GetByPhone(ctx context.Context, phoneNumber string) (*Mapping, error)
}
