package webhooks

import (
	"context"
	"testing"

	"github.com/callvault/quosync/internal/integration"
	"github.com/callvault/quosync/internal/quo"
)

func seedConfig(t *testing.T, store integration.Store, cfg *integration.Config) {
	t.Helper()
	if err := store.Save(context.Background(), cfg); err != nil {
		t.Fatalf("seed config: %v", err)
	}
}

func TestOnUpdateUnchangedPhonesSkipsReconfiguration(t *testing.T) {
	ctx := context.Background()
	store := integration.NewMemoryStore()
	api := &stubQuo{}
	updater := NewUpdater(store, NewManager(api), "https://hooks.example/quo")

	seedConfig(t, store, &integration.Config{
		IntegrationID:   "int-1",
		Provider:        "highlevel",
		Status:          integration.StatusEnabled,
		EnabledPhoneIDs: []string{"pn_2", "pn_1"},
	})

	// Same set, different order, plus an unrelated settings patch.
	got, err := updater.OnUpdate(ctx, "int-1", map[string]any{
		"resourceIds": []any{"pn_1", "pn_2"},
		"settings":    map[string]any{"syncDirection": "both"},
	})
	if err != nil {
		t.Fatalf("OnUpdate returned error: %v", err)
	}
	if api.calls != 0 || len(api.deleted) != 0 {
		t.Fatal("order-insensitive compare must not trigger reconciliation")
	}
	if got.Settings["syncDirection"] != "both" {
		t.Fatalf("patch not merged: %#v", got.Settings)
	}

	stored, err := store.Get(ctx, "int-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if stored.Settings["syncDirection"] != "both" {
		t.Fatal("merged config not persisted")
	}
}

func TestOnUpdateChangedPhonesRecreatesAndMigrates(t *testing.T) {
	ctx := context.Background()
	store := integration.NewMemoryStore()
	api := &stubQuo{phones: []quo.PhoneNumber{
		{ID: "pn_1", Number: "+15551110001"},
		{ID: "pn_9", Number: "+15551110009"},
	}}
	updater := NewUpdater(store, NewManager(api), "https://hooks.example/quo")

	seedConfig(t, store, &integration.Config{
		IntegrationID:        "int-1",
		Provider:             "highlevel",
		Status:               integration.StatusEnabled,
		EnabledPhoneIDs:      []string{"pn_1"},
		QuoMessageWebhookID:  "legacy-msg",
		QuoMessageWebhookKey: "legacy-key",
	})

	got, err := updater.OnUpdate(ctx, "int-1", map[string]any{
		"resourceIds": []any{"pn_1", "pn_9"},
	})
	if err != nil {
		t.Fatalf("OnUpdate returned error: %v", err)
	}

	if len(got.QuoMessageWebhooks) != 1 || len(got.QuoCallWebhooks) != 1 || len(got.QuoCallSummaryWebhooks) != 1 {
		t.Fatalf("expected one subscription per type, got %#v", got)
	}
	if got.QuoWebhooksCreatedAt == nil || got.PhoneNumbersFetchedAt == nil {
		t.Fatal("timestamps not stamped")
	}
	if len(got.PhoneNumbersMetadata) != 2 {
		t.Fatalf("expected fresh phone metadata, got %#v", got.PhoneNumbersMetadata)
	}
	if got.QuoMessageWebhookID != "" || got.QuoMessageWebhookKey != "" {
		t.Fatal("legacy fields must be stripped after migration")
	}

	// Legacy subscription deleted after the new ones were created.
	found := false
	for _, id := range api.deleted {
		if id == "legacy-msg" {
			found = true
		}
	}
	if !found {
		t.Fatalf("legacy webhook not deleted: %v", api.deleted)
	}
}

func TestOnUpdateRecreateFailureLeavesConfigUntouched(t *testing.T) {
	ctx := context.Background()
	store := integration.NewMemoryStore()
	api := &stubQuo{failAfter: 2, phones: []quo.PhoneNumber{{ID: "pn_9"}}}
	updater := NewUpdater(store, NewManager(api), "https://hooks.example/quo")

	seedConfig(t, store, &integration.Config{
		IntegrationID:   "int-1",
		Provider:        "highlevel",
		EnabledPhoneIDs: []string{"pn_1"},
	})

	_, err := updater.OnUpdate(ctx, "int-1", map[string]any{
		"resourceIds": []any{"pn_9"},
	})
	if err == nil {
		t.Fatal("expected error from failed recreate")
	}

	stored, getErr := store.Get(ctx, "int-1")
	if getErr != nil {
		t.Fatalf("Get returned error: %v", getErr)
	}
	if len(stored.EnabledPhoneIDs) != 1 || stored.EnabledPhoneIDs[0] != "pn_1" {
		t.Fatalf("stored config must be unchanged after abort, got %#v", stored.EnabledPhoneIDs)
	}
	if len(stored.QuoMessageWebhooks) != 0 {
		t.Fatal("no subscriptions may be recorded after abort")
	}
}

func TestOnUpdateMissingIntegration(t *testing.T) {
	updater := NewUpdater(integration.NewMemoryStore(), NewManager(&stubQuo{}), "https://hooks.example/quo")
	_, err := updater.OnUpdate(context.Background(), "missing", map[string]any{})
	if err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestInstallAllPersistsSubscriptions(t *testing.T) {
	ctx := context.Background()
	store := integration.NewMemoryStore()
	api := &stubQuo{phones: []quo.PhoneNumber{{ID: "pn_1", Number: "+15551110001"}}}
	updater := NewUpdater(store, NewManager(api), "https://hooks.example/quo")

	seedConfig(t, store, &integration.Config{
		IntegrationID:   "int-1",
		Provider:        "highlevel",
		Status:          integration.StatusEnabled,
		EnabledPhoneIDs: []string{"pn_1"},
	})

	if err := updater.InstallAll(ctx, "int-1"); err != nil {
		t.Fatalf("InstallAll returned error: %v", err)
	}

	stored, err := store.Get(ctx, "int-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if len(stored.QuoMessageWebhooks) != 1 || stored.QuoWebhooksCreatedAt == nil {
		t.Fatalf("subscriptions not persisted: %#v", stored)
	}
}
