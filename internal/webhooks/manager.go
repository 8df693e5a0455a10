package webhooks

import (
	"context"
	"fmt"

	"github.com/callvault/quosync/internal/integration"
	"github.com/callvault/quosync/internal/quo"
	"github.com/callvault/quosync/pkg/logging"
)

// quoAPI is the slice of the Quo client the manager needs.
type quoAPI interface {
	CreateMessageWebhook(ctx context.Context, req quo.WebhookRequest) (*quo.Webhook, error)
	CreateCallWebhook(ctx context.Context, req quo.WebhookRequest) (*quo.Webhook, error)
	CreateCallSummaryWebhook(ctx context.Context, req quo.WebhookRequest) (*quo.Webhook, error)
	DeleteWebhook(ctx context.Context, id string) error
	ListPhoneNumbers(ctx context.Context, maxResults int) ([]quo.PhoneNumber, error)
}

// PhoneLister supplies workspace phone metadata for an integration. The
// phonecache package provides a Redis-backed implementation; the default
// lists straight off the Quo client.
type PhoneLister interface {
	List(ctx context.Context, integrationID string) ([]quo.PhoneNumber, error)
}

type apiPhoneLister struct {
	api quoAPI
}

func (l apiPhoneLister) List(ctx context.Context, _ string) ([]quo.PhoneNumber, error) {
	return l.api.ListPhoneNumbers(ctx, quo.MaxListPhoneNumbers)
}

// SubscriptionConfig carries the event lists and labels for the three
// subscription types. Adapters supply their own; Defaults covers the
// common case.
type SubscriptionConfig struct {
	MessageEvents     []string
	MessageLabel      string
	CallEvents        []string
	CallLabel         string
	CallSummaryEvents []string
	CallSummaryLabel  string
}

// DefaultSubscriptionConfig is the stock event/label set.
func DefaultSubscriptionConfig() SubscriptionConfig {
	return SubscriptionConfig{
		MessageEvents:     []string{"message.received", "message.delivered"},
		MessageLabel:      "CRM Sync - Messages",
		CallEvents:        []string{"call.completed"},
		CallLabel:         "CRM Sync - Calls",
		CallSummaryEvents: []string{"call.summary.completed"},
		CallSummaryLabel:  "CRM Sync - Call Summaries",
	}
}

// SubscriptionSet is the outcome of a create pass: one ordered record list
// per subscription type. The disjoint union of each list's resource IDs is
// the phone-ID input.
type SubscriptionSet struct {
	Messages      []integration.WebhookRecord
	Calls         []integration.WebhookRecord
	CallSummaries []integration.WebhookRecord
}

// Empty reports whether no subscriptions exist in the set.
func (s *SubscriptionSet) Empty() bool {
	return len(s.Messages) == 0 && len(s.Calls) == 0 && len(s.CallSummaries) == 0
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithSubscriptionConfig overrides the event lists and labels.
func WithSubscriptionConfig(cfg SubscriptionConfig) ManagerOption {
	return func(m *Manager) {
		m.subs = cfg
	}
}

// WithManagerLogger sets the logger.
func WithManagerLogger(logger *logging.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithPhoneLister routes phone-metadata lookups through a cache.
func WithPhoneLister(lister PhoneLister) ManagerOption {
	return func(m *Manager) {
		if lister != nil {
			m.phones = lister
		}
	}
}

// Manager creates and tears down Quo webhook subscriptions. The downstream
// caps resourceIds at 10 per subscription, so N phone IDs become
// ceil(N/10) subscriptions per type.
type Manager struct {
	api    quoAPI
	phones PhoneLister
	subs   SubscriptionConfig
	logger *logging.Logger
}

// NewManager builds a Manager around a Quo client.
func NewManager(api quoAPI, opts ...ManagerOption) *Manager {
	if api == nil {
		panic("webhooks: quo client required")
	}
	m := &Manager{
		api:    api,
		phones: apiPhoneLister{api: api},
		subs:   DefaultSubscriptionConfig(),
		logger: logging.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type subscriptionType struct {
	events []string
	label  string
	create func(ctx context.Context, req quo.WebhookRequest) (*quo.Webhook, error)
	out    *[]integration.WebhookRecord
}

// CreateAll subscribes every type for the given phone IDs. All-or-nothing:
// a failure after partial success deletes everything created in this call
// (best effort) and returns the original error. An empty phone list is a
// no-op returning an empty set.
func (m *Manager) CreateAll(ctx context.Context, webhookURL string, phoneIDs []string) (*SubscriptionSet, error) {
	set := &SubscriptionSet{}
	if len(phoneIDs) == 0 {
		return set, nil
	}
	if webhookURL == "" {
		return nil, fmt.Errorf("webhooks: webhook url required")
	}

	chunks := chunkStrings(phoneIDs, quo.MaxWebhookResources)
	types := []subscriptionType{
		{m.subs.MessageEvents, m.subs.MessageLabel, m.api.CreateMessageWebhook, &set.Messages},
		{m.subs.CallEvents, m.subs.CallLabel, m.api.CreateCallWebhook, &set.Calls},
		{m.subs.CallSummaryEvents, m.subs.CallSummaryLabel, m.api.CreateCallSummaryWebhook, &set.CallSummaries},
	}

	var createdIDs []string
	for _, st := range types {
		for i, chunk := range chunks {
			label := st.label
			if len(chunks) > 1 {
				label = fmt.Sprintf("%s (batch %d)", st.label, i+1)
			}
			hook, err := st.create(ctx, quo.WebhookRequest{
				URL:         webhookURL,
				Events:      st.events,
				Label:       label,
				ResourceIDs: chunk,
			})
			if err != nil {
				m.rollback(ctx, createdIDs)
				return nil, fmt.Errorf("webhooks: create %q failed: %w", label, err)
			}
			createdIDs = append(createdIDs, hook.ID)
			*st.out = append(*st.out, integration.WebhookRecord{
				ID:          hook.ID,
				Key:         hook.Key,
				ResourceIDs: chunk,
			})
		}
	}
	return set, nil
}

// RecreateAll replaces an integration's subscriptions: new ones are created
// first to minimize the event gap, then every pre-existing subscription
// (new shape and legacy) is deleted. Deletion failures are logged, not
// fatal. An empty phone list deletes the old subscriptions and returns an
// empty set.
func (m *Manager) RecreateAll(ctx context.Context, webhookURL string, cfg *integration.Config, newPhoneIDs []string) (*SubscriptionSet, error) {
	oldIDs := cfg.AllWebhookIDs()

	set, err := m.CreateAll(ctx, webhookURL, newPhoneIDs)
	if err != nil {
		return nil, err
	}

	for _, id := range oldIDs {
		if err := m.api.DeleteWebhook(ctx, id); err != nil {
			m.logger.Warn("stale webhook delete failed",
				"integration_id", cfg.IntegrationID,
				"webhook_id", id,
				"error", err)
		}
	}
	return set, nil
}

// FetchPhoneMetadataForIDs lists the workspace phone numbers once and
// filters to the requested IDs. IDs absent downstream are logged.
func (m *Manager) FetchPhoneMetadataForIDs(ctx context.Context, integrationID string, ids []string) ([]quo.PhoneNumber, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	all, err := m.phones.List(ctx, integrationID)
	if err != nil {
		return nil, fmt.Errorf("webhooks: list phone numbers: %w", err)
	}

	byID := make(map[string]quo.PhoneNumber, len(all))
	for _, pn := range all {
		byID[pn.ID] = pn
	}
	matched := make([]quo.PhoneNumber, 0, len(ids))
	for _, id := range ids {
		pn, ok := byID[id]
		if !ok {
			m.logger.Warn("phone number not found downstream", "phone_id", id)
			continue
		}
		matched = append(matched, pn)
	}
	return matched, nil
}

func (m *Manager) rollback(ctx context.Context, ids []string) {
	for _, id := range ids {
		if err := m.api.DeleteWebhook(ctx, id); err != nil {
			m.logger.Warn("rollback delete failed", "webhook_id", id, "error", err)
		}
	}
}

func chunkStrings(items []string, size int) [][]string {
	var chunks [][]string
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
