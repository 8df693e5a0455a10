package webhooks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/callvault/quosync/internal/integration"
	"github.com/callvault/quosync/pkg/logging"
)

// CacheInvalidator drops a cached phone listing. Implemented by the
// phonecache package.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, integrationID string) error
}

// UpdaterOption configures an Updater.
type UpdaterOption func(*Updater)

// WithUpdaterLogger sets the logger.
func WithUpdaterLogger(logger *logging.Logger) UpdaterOption {
	return func(u *Updater) {
		u.logger = logger
	}
}

// WithCacheInvalidator drops cached phone listings before a reconciliation
// so the stamped metadata reflects the live workspace.
func WithCacheInvalidator(inv CacheInvalidator) UpdaterOption {
	return func(u *Updater) {
		u.invalidator = inv
	}
}

// Updater applies configuration patches to an integration and reconciles
// webhook subscriptions when the enabled phone set changes. Updates for the
// same integration serialize on a per-integration lock; different
// integrations proceed concurrently.
type Updater struct {
	store       integration.Store
	manager     *Manager
	webhookURL  string
	invalidator CacheInvalidator
	logger      *logging.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewUpdater builds an Updater.
func NewUpdater(store integration.Store, manager *Manager, webhookURL string, opts ...UpdaterOption) *Updater {
	if store == nil {
		panic("webhooks: integration store required")
	}
	if manager == nil {
		panic("webhooks: manager required")
	}
	u := &Updater{
		store:      store,
		manager:    manager,
		webhookURL: webhookURL,
		logger:     logging.Default(),
		locks:      make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

var _ integration.WebhookInstaller = (*Updater)(nil)

// OnUpdate deep-merges a configuration patch into the stored config. When
// the enabled phone set changes it refreshes phone metadata, recreates all
// subscriptions, and migrates any legacy single-value webhook fields; a
// reconciliation failure aborts the update and leaves the stored config
// untouched. The external patch key `resourceIds` is accepted as an alias
// for `enabledPhoneIds`.
func (u *Updater) OnUpdate(ctx context.Context, integrationID string, patch map[string]any) (*integration.Config, error) {
	if integrationID == "" {
		return nil, fmt.Errorf("webhooks: integration id required")
	}
	lock := u.lockFor(integrationID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := u.store.Get(ctx, integrationID)
	if err != nil {
		return nil, err
	}

	patch = translatePatch(patch)
	existingDoc, err := existing.Document()
	if err != nil {
		return nil, err
	}
	merged, err := integration.FromDocument(integration.DeepMerge(existingDoc, patch))
	if err != nil {
		return nil, err
	}

	if !phoneSetChanged(existing.EnabledPhoneIDs, merged.EnabledPhoneIDs) {
		if err := u.store.Save(ctx, merged); err != nil {
			return nil, err
		}
		return merged, nil
	}

	log := u.logger.With("integration_id", integrationID)
	log.Info("enabled phone set changed, reconciling webhooks",
		"old_count", len(existing.EnabledPhoneIDs),
		"new_count", len(merged.EnabledPhoneIDs))

	if u.invalidator != nil {
		if err := u.invalidator.Invalidate(ctx, integrationID); err != nil {
			log.Warn("phone cache invalidation failed", "error", err)
		}
	}

	metadata, err := u.manager.FetchPhoneMetadataForIDs(ctx, integrationID, merged.EnabledPhoneIDs)
	if err != nil {
		return nil, err
	}

	set, err := u.manager.RecreateAll(ctx, u.webhookURL, existing, merged.EnabledPhoneIDs)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	merged.PhoneNumbersMetadata = metadata
	merged.PhoneNumbersFetchedAt = &now
	merged.QuoMessageWebhooks = set.Messages
	merged.QuoCallWebhooks = set.Calls
	merged.QuoCallSummaryWebhooks = set.CallSummaries
	merged.QuoWebhooksCreatedAt = &now
	merged.StripLegacyWebhooks()

	if err := u.store.Save(ctx, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// InstallAll creates subscriptions for an integration's current enabled
// phone set and persists the result. Used by deferred post-create setup.
func (u *Updater) InstallAll(ctx context.Context, integrationID string) error {
	lock := u.lockFor(integrationID)
	lock.Lock()
	defer lock.Unlock()

	cfg, err := u.store.Get(ctx, integrationID)
	if err != nil {
		return err
	}
	if len(cfg.EnabledPhoneIDs) == 0 {
		return nil
	}

	metadata, err := u.manager.FetchPhoneMetadataForIDs(ctx, integrationID, cfg.EnabledPhoneIDs)
	if err != nil {
		return err
	}
	set, err := u.manager.RecreateAll(ctx, u.webhookURL, cfg, cfg.EnabledPhoneIDs)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	cfg.PhoneNumbersMetadata = metadata
	cfg.PhoneNumbersFetchedAt = &now
	cfg.QuoMessageWebhooks = set.Messages
	cfg.QuoCallWebhooks = set.Calls
	cfg.QuoCallSummaryWebhooks = set.CallSummaries
	cfg.QuoWebhooksCreatedAt = &now
	cfg.StripLegacyWebhooks()
	return u.store.Save(ctx, cfg)
}

func (u *Updater) lockFor(integrationID string) *sync.Mutex {
	u.mu.Lock()
	defer u.mu.Unlock()
	lock, ok := u.locks[integrationID]
	if !ok {
		lock = &sync.Mutex{}
		u.locks[integrationID] = lock
	}
	return lock
}

// translatePatch maps the external `resourceIds` key onto the internal
// `enabledPhoneIds` without mutating the caller's map.
func translatePatch(patch map[string]any) map[string]any {
	ids, ok := patch["resourceIds"]
	if !ok {
		return patch
	}
	out := make(map[string]any, len(patch))
	for key, val := range patch {
		if key == "resourceIds" {
			continue
		}
		out[key] = val
	}
	out["enabledPhoneIds"] = ids
	return out
}

// phoneSetChanged compares the two ID sets order-insensitively.
func phoneSetChanged(oldIDs, newIDs []string) bool {
	if len(oldIDs) != len(newIDs) {
		return true
	}
	a := append([]string(nil), oldIDs...)
	b := append([]string(nil), newIDs...)
	sort.Strings(a)
	sort.Strings(b)
	for i := range a {
		if a[i] != b[i] {
			return true
		}
	}
	return false
}
