package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/callvault/quosync/internal/integration"
	"github.com/callvault/quosync/internal/process"
)

type stubProcessReader struct {
	process *process.Process
	err     error
}

func (s *stubProcessReader) GetByID(context.Context, string) (*process.Process, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.process, nil
}

type stubUpdater struct {
	cfg       *integration.Config
	err       error
	lastPatch map[string]any
}

func (s *stubUpdater) OnUpdate(_ context.Context, _ string, patch map[string]any) (*integration.Config, error) {
	s.lastPatch = patch
	if s.err != nil {
		return nil, s.err
	}
	return s.cfg, nil
}

type stubStarter struct {
	initialCalls int
	deltaCalls   int
	processIDs   []string
	err          error
}

func (s *stubStarter) StartInitialSync(context.Context, string) ([]string, error) {
	s.initialCalls++
	return s.processIDs, s.err
}

func (s *stubStarter) StartOngoingSync(context.Context, string) ([]string, error) {
	s.deltaCalls++
	return s.processIDs, s.err
}

type stubObserver struct {
	statuses []string
}

func (s *stubObserver) ObserveWebhookReconfiguration(status string) {
	s.statuses = append(s.statuses, status)
}

func adminRouter(h *AdminSyncHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/admin/processes/{processID}", h.GetProcess)
	r.Post("/admin/integrations/{integrationID}/config", h.UpdateIntegrationConfig)
	r.Post("/admin/integrations/{integrationID}/sync", h.TriggerSync)
	return r
}

func TestGetProcessReturnsRecord(t *testing.T) {
	reader := &stubProcessReader{process: &process.Process{ID: "proc-1", State: process.StateCompleted}}
	h := NewAdminSyncHandler(AdminSyncConfig{Processes: reader})

	rec := httptest.NewRecorder()
	adminRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/processes/proc-1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got process.Process
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != "proc-1" || got.State != process.StateCompleted {
		t.Fatalf("unexpected process: %#v", got)
	}
}

func TestGetProcessNotFound(t *testing.T) {
	reader := &stubProcessReader{err: process.ErrProcessNotFound}
	h := NewAdminSyncHandler(AdminSyncConfig{Processes: reader})

	rec := httptest.NewRecorder()
	adminRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/processes/nope", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestUpdateIntegrationConfig(t *testing.T) {
	updater := &stubUpdater{cfg: &integration.Config{
		IntegrationID:   "int-1",
		Provider:        "highlevel",
		EnabledPhoneIDs: []string{"pn_1"},
	}}
	observer := &stubObserver{}
	h := NewAdminSyncHandler(AdminSyncConfig{Updater: updater, Metrics: observer})

	body := strings.NewReader(`{"resourceIds":["pn_1"]}`)
	req := httptest.NewRequest(http.MethodPost, "/admin/integrations/int-1/config", body)
	rec := httptest.NewRecorder()
	adminRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if updater.lastPatch["resourceIds"] == nil {
		t.Fatalf("patch not forwarded: %#v", updater.lastPatch)
	}
	var doc map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if doc["integrationId"] != "int-1" {
		t.Fatalf("unexpected document: %#v", doc)
	}
	if len(observer.statuses) != 1 || observer.statuses[0] != "ok" {
		t.Fatalf("unexpected observations: %v", observer.statuses)
	}
}

func TestUpdateIntegrationConfigFailureCountsError(t *testing.T) {
	updater := &stubUpdater{err: errors.New("downstream refused")}
	observer := &stubObserver{}
	h := NewAdminSyncHandler(AdminSyncConfig{Updater: updater, Metrics: observer})

	req := httptest.NewRequest(http.MethodPost, "/admin/integrations/int-1/config", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	adminRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	if len(observer.statuses) != 1 || observer.statuses[0] != "error" {
		t.Fatalf("unexpected observations: %v", observer.statuses)
	}
}

func TestTriggerSyncDefaultsToInitial(t *testing.T) {
	starter := &stubStarter{processIDs: []string{"proc-1", "proc-2"}}
	h := NewAdminSyncHandler(AdminSyncConfig{Syncs: starter})

	req := httptest.NewRequest(http.MethodPost, "/admin/integrations/int-1/sync", nil)
	rec := httptest.NewRecorder()
	adminRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if starter.initialCalls != 1 || starter.deltaCalls != 0 {
		t.Fatalf("expected one initial sync, got initial=%d delta=%d", starter.initialCalls, starter.deltaCalls)
	}
	var resp TriggerSyncResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.ProcessIDs) != 2 {
		t.Fatalf("unexpected process IDs: %v", resp.ProcessIDs)
	}
}

func TestTriggerSyncDelta(t *testing.T) {
	starter := &stubStarter{processIDs: []string{"proc-1"}}
	h := NewAdminSyncHandler(AdminSyncConfig{Syncs: starter})

	body := strings.NewReader(`{"syncType":"DELTA"}`)
	req := httptest.NewRequest(http.MethodPost, "/admin/integrations/int-1/sync", body)
	rec := httptest.NewRecorder()
	adminRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if starter.deltaCalls != 1 {
		t.Fatalf("expected a delta sync, got %d", starter.deltaCalls)
	}
}

func TestTriggerSyncRejectsUnknownType(t *testing.T) {
	h := NewAdminSyncHandler(AdminSyncConfig{Syncs: &stubStarter{}})

	body := strings.NewReader(`{"syncType":"FULL"}`)
	req := httptest.NewRequest(http.MethodPost, "/admin/integrations/int-1/sync", body)
	rec := httptest.NewRecorder()
	adminRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestTriggerSyncUnknownIntegration(t *testing.T) {
	starter := &stubStarter{err: integration.ErrIntegrationNotFound}
	h := NewAdminSyncHandler(AdminSyncConfig{Syncs: starter})

	req := httptest.NewRequest(http.MethodPost, "/admin/integrations/nope/sync", nil)
	rec := httptest.NewRecorder()
	adminRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
