package activity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/callvault/quosync/internal/crm"
	"github.com/callvault/quosync/internal/integration"
	"github.com/callvault/quosync/internal/mapping"
	"github.com/callvault/quosync/internal/queue"
	"github.com/callvault/quosync/pkg/logging"
)

// Projector turns telephony events into CRM activity entries. The phone
// number on the event resolves to a CRM person through the mapping table;
// events for unmapped numbers are dropped, not retried, because no later
// delivery can succeed until a sync creates the mapping.
type Projector struct {
	mappings     mapping.Repository
	registry     *crm.Registry
	integrations integration.Store
	logger       *logging.Logger
}

// NewProjector builds a Projector.
func NewProjector(mappings mapping.Repository, registry *crm.Registry, integrations integration.Store, logger *logging.Logger) *Projector {
	if mappings == nil {
		panic("activity: mapping repository required")
	}
	if registry == nil {
		panic("activity: adapter registry required")
	}
	if integrations == nil {
		panic("activity: integration store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Projector{
		mappings:     mappings,
		registry:     registry,
		integrations: integrations,
		logger:       logger,
	}
}

// HandleSMS logs a message event against the mapped CRM person.
func (p *Projector) HandleSMS(ctx context.Context, integrationID string, sms queue.SMSActivity) error {
	adapter, personID, err := p.resolve(ctx, integrationID, sms.PhoneNumber)
	if err != nil {
		return err
	}
	if personID == "" {
		return nil
	}
	occurredAt := sms.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	return adapter.LogSMSToActivity(ctx, integrationID, personID, crm.SMSLog{
		Direction:  sms.Direction,
		Body:       sms.Body,
		OccurredAt: occurredAt,
	})
}

// HandleCall logs a call event against the mapped CRM person.
func (p *Projector) HandleCall(ctx context.Context, integrationID string, call queue.CallActivity) error {
	adapter, personID, err := p.resolve(ctx, integrationID, call.PhoneNumber)
	if err != nil {
		return err
	}
	if personID == "" {
		return nil
	}
	occurredAt := call.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	return adapter.LogCallToActivity(ctx, integrationID, personID, crm.CallLog{
		Direction:  call.Direction,
		Duration:   time.Duration(call.DurationSec) * time.Second,
		Summary:    call.Summary,
		OccurredAt: occurredAt,
	})
}

// resolve returns the adapter and the mapped CRM person ID, or an empty ID
// when the phone number has no mapping.
func (p *Projector) resolve(ctx context.Context, integrationID, phoneNumber string) (crm.Adapter, string, error) {
	if phoneNumber == "" {
		return nil, "", fmt.Errorf("activity: phone number required")
	}
	cfg, err := p.integrations.Get(ctx, integrationID)
	if err != nil {
		return nil, "", err
	}
	adapter, err := p.registry.Get(cfg.Provider)
	if err != nil {
		return nil, "", err
	}

	m, err := p.mappings.GetByPhone(ctx, phoneNumber)
	if err != nil {
		if errors.Is(err, mapping.ErrMappingNotFound) {
			p.logger.Info("no mapping for phone number, dropping activity",
				"integration_id", integrationID,
				"phone_number", phoneNumber)
			return adapter, "", nil
		}
		return nil, "", err
	}
	return adapter, m.ExternalID, nil
}
