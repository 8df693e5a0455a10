package integration

import (
	"context"
	"fmt"
	"time"

	"github.com/callvault/quosync/internal/queue"
	"github.com/callvault/quosync/pkg/logging"
)

// WebhookInstaller sets up telephony webhook subscriptions for an
// integration. Implemented by the webhooks manager.
type WebhookInstaller interface {
	InstallAll(ctx context.Context, integrationID string) error
}

// SyncStarter kicks off the first full sync. Implemented by the sync
// orchestrator; returns one process ID per person object type.
type SyncStarter interface {
	StartInitialSync(ctx context.Context, integrationID string) ([]string, error)
}

// StepResult reports one post-create sub-operation.
type StepResult struct {
	Status     string   `json:"status"`
	ProcessIDs []string `json:"processIds,omitempty"`
	Error      string   `json:"error,omitempty"`
}

const (
	StepStatusOK     = "ok"
	StepStatusFailed = "failed"
)

// SetupResult is the structured outcome of the deferred setup handler.
type SetupResult struct {
	Webhooks    *StepResult `json:"webhooks"`
	InitialSync *StepResult `json:"initialSync"`
}

// LifecycleOption configures a Lifecycle.
type LifecycleOption func(*Lifecycle)

// WithSetupDelay overrides how long deferred setup waits after creation.
// The delay papers over credential propagation latency downstream.
func WithSetupDelay(d time.Duration) LifecycleOption {
	return func(l *Lifecycle) {
		l.setupDelay = d
	}
}

// WithLifecycleLogger sets the logger.
func WithLifecycleLogger(logger *logging.Logger) LifecycleOption {
	return func(l *Lifecycle) {
		l.logger = logger
	}
}

// Lifecycle handles integration creation and the deferred setup that
// follows it.
type Lifecycle struct {
	store      Store
	publisher  queue.Publisher
	webhooks   WebhookInstaller
	syncs      SyncStarter
	setupDelay time.Duration
	logger     *logging.Logger
}

// NewLifecycle builds a Lifecycle. Store and publisher are required at
// creation time; the webhook installer and sync starter are wired later to
// break the construction cycle with packages that depend on this one.
func NewLifecycle(store Store, publisher queue.Publisher, opts ...LifecycleOption) *Lifecycle {
	if store == nil {
		panic("integration: store required")
	}
	if publisher == nil {
		panic("integration: publisher required")
	}
	l := &Lifecycle{
		store:      store,
		publisher:  publisher,
		setupDelay: 35 * time.Second,
		logger:     logging.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// BindSetupHandlers attaches the sub-operations used by deferred setup.
func (l *Lifecycle) BindSetupHandlers(webhooks WebhookInstaller, syncs SyncStarter) {
	l.webhooks = webhooks
	l.syncs = syncs
}

// OnCreate persists a freshly created integration. Integrations with no
// enabled phone numbers park in NEEDS_CONFIG until an operator configures
// them; otherwise the integration is enabled and deferred setup is enqueued
// with the configured delay.
func (l *Lifecycle) OnCreate(ctx context.Context, cfg *Config) error {
	if cfg == nil || cfg.IntegrationID == "" {
		return fmt.Errorf("integration: config with integration id required")
	}

	if len(cfg.EnabledPhoneIDs) == 0 {
		cfg.Status = StatusNeedsConfig
		if err := l.store.Save(ctx, cfg); err != nil {
			return err
		}
		l.logger.Info("integration created, awaiting configuration",
			"integration_id", cfg.IntegrationID,
			"provider", cfg.Provider)
		return nil
	}

	cfg.Status = StatusEnabled
	if err := l.store.Save(ctx, cfg); err != nil {
		return err
	}

	msg := queue.Message{
		Event:           queue.EventPostCreateSetup,
		IntegrationID:   cfg.IntegrationID,
		PostCreateSetup: &queue.PostCreateSetup{IntegrationID: cfg.IntegrationID},
		DelaySeconds:    int32(l.setupDelay / time.Second),
	}
	if err := l.publisher.Send(ctx, msg); err != nil {
		return fmt.Errorf("integration: enqueue deferred setup: %w", err)
	}

	l.logger.Info("integration enabled, deferred setup enqueued",
		"integration_id", cfg.IntegrationID,
		"delay_seconds", int(l.setupDelay/time.Second))
	return nil
}

// HandlePostCreateSetup runs the deferred setup for an integration: webhook
// installation first (failure recorded, not fatal), then the initial sync.
// It works from the integration ID alone; the sub-operations rehydrate
// whatever state they need. The returned error, when non-nil, is the
// initial-sync failure so the message redelivers and retries the sync.
func (l *Lifecycle) HandlePostCreateSetup(ctx context.Context, integrationID string) (*SetupResult, error) {
	if integrationID == "" {
		return nil, fmt.Errorf("integration: integration id required")
	}
	result := &SetupResult{}
	log := l.logger.With("integration_id", integrationID)

	if l.webhooks != nil {
		if err := l.webhooks.InstallAll(ctx, integrationID); err != nil {
			log.Warn("webhook setup failed, continuing to initial sync", "error", err)
			result.Webhooks = &StepResult{Status: StepStatusFailed, Error: err.Error()}
		} else {
			result.Webhooks = &StepResult{Status: StepStatusOK}
		}
	}

	if l.syncs != nil {
		processIDs, err := l.syncs.StartInitialSync(ctx, integrationID)
		if err != nil {
			result.InitialSync = &StepResult{Status: StepStatusFailed, Error: err.Error()}
			return result, fmt.Errorf("integration: start initial sync: %w", err)
		}
		result.InitialSync = &StepResult{Status: StepStatusOK, ProcessIDs: processIDs}
		log.Info("deferred setup complete", "process_ids", processIDs)
	}

	return result, nil
}
