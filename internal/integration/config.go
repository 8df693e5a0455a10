package integration

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/callvault/quosync/internal/quo"
)

// Status is the operator-visible integration state.
type Status string

const (
	StatusNeedsConfig Status = "NEEDS_CONFIG"
	StatusEnabled     Status = "ENABLED"
	StatusDisabled    Status = "DISABLED"
)

// ErrIntegrationNotFound indicates no config exists for the integration.
var ErrIntegrationNotFound = errors.New("integration: not found")

// WebhookRecord is one Quo subscription bound to a batch of phone resources.
// ResourceIDs never exceeds the downstream cap of 10.
type WebhookRecord struct {
	ID          string   `json:"id"`
	Key         string   `json:"key,omitempty"`
	ResourceIDs []string `json:"resourceIds"`
}

// Config is the persisted per-integration configuration. It round-trips
// through a free-form JSON document so PATCH updates can deep-merge unknown
// operator fields without loss.
type Config struct {
	IntegrationID string `json:"integrationId"`
	Provider      string `json:"provider"`
	UserID        string `json:"userId,omitempty"`
	Status        Status `json:"status,omitempty"`

	EnabledPhoneIDs       []string          `json:"enabledPhoneIds,omitempty"`
	PhoneNumbersMetadata  []quo.PhoneNumber `json:"phoneNumbersMetadata,omitempty"`
	PhoneNumbersFetchedAt *time.Time        `json:"phoneNumbersFetchedAt,omitempty"`

	QuoMessageWebhooks     []WebhookRecord `json:"quoMessageWebhooks,omitempty"`
	QuoCallWebhooks        []WebhookRecord `json:"quoCallWebhooks,omitempty"`
	QuoCallSummaryWebhooks []WebhookRecord `json:"quoCallSummaryWebhooks,omitempty"`
	QuoWebhooksCreatedAt   *time.Time      `json:"quoWebhooksCreatedAt,omitempty"`

	// Legacy single-subscription shape. Tolerated on read, stripped on the
	// first config write after the lists above are populated.
	QuoMessageWebhookID      string `json:"quoMessageWebhookId,omitempty"`
	QuoMessageWebhookKey     string `json:"quoMessageWebhookKey,omitempty"`
	QuoCallWebhookID         string `json:"quoCallWebhookId,omitempty"`
	QuoCallWebhookKey        string `json:"quoCallWebhookKey,omitempty"`
	QuoCallSummaryWebhookID  string `json:"quoCallSummaryWebhookId,omitempty"`
	QuoCallSummaryWebhookKey string `json:"quoCallSummaryWebhookKey,omitempty"`

	Settings map[string]any `json:"settings,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`

	// extra preserves document fields this struct does not model.
	extra map[string]any
}

// Document renders the config as a JSON document, folding back preserved
// unknown fields.
func (c *Config) Document() (map[string]any, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("integration: marshal config: %w", err)
	}
	doc := map[string]any{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("integration: rebuild document: %w", err)
	}
	for key, val := range c.extra {
		if _, known := doc[key]; !known {
			doc[key] = val
		}
	}
	return doc, nil
}

// FromDocument parses a JSON document into a Config, keeping unknown fields.
func FromDocument(doc map[string]any) (*Config, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("integration: marshal document: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("integration: parse document: %w", err)
	}

	known := map[string]struct{}{}
	probe := map[string]json.RawMessage{}
	if knownRaw, err := json.Marshal(&cfg); err == nil {
		if err := json.Unmarshal(knownRaw, &probe); err == nil {
			for key := range probe {
				known[key] = struct{}{}
			}
		}
	}
	cfg.extra = map[string]any{}
	for key, val := range doc {
		if _, ok := known[key]; !ok {
			cfg.extra[key] = val
		}
	}
	return &cfg, nil
}

// LegacyWebhookIDs returns the single-value webhook IDs from the pre-batch
// shape, for deletion during reconfiguration.
func (c *Config) LegacyWebhookIDs() []string {
	var ids []string
	for _, id := range []string{c.QuoMessageWebhookID, c.QuoCallWebhookID, c.QuoCallSummaryWebhookID} {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// StripLegacyWebhooks clears the pre-batch fields. Migration-only path.
func (c *Config) StripLegacyWebhooks() {
	c.QuoMessageWebhookID = ""
	c.QuoMessageWebhookKey = ""
	c.QuoCallWebhookID = ""
	c.QuoCallWebhookKey = ""
	c.QuoCallSummaryWebhookID = ""
	c.QuoCallSummaryWebhookKey = ""
}

// AllWebhookIDs returns every known subscription ID, new shape and legacy.
func (c *Config) AllWebhookIDs() []string {
	var ids []string
	for _, list := range [][]WebhookRecord{c.QuoMessageWebhooks, c.QuoCallWebhooks, c.QuoCallSummaryWebhooks} {
		for _, record := range list {
			if record.ID != "" {
				ids = append(ids, record.ID)
			}
		}
	}
	return append(ids, c.LegacyWebhookIDs()...)
}
