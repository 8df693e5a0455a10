// Package handlers holds the admin HTTP endpoints for operating the sync
// engine: inspecting processes, patching integration config, and triggering
// manual sync runs.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/callvault/quosync/internal/integration"
	"github.com/callvault/quosync/internal/process"
	"github.com/callvault/quosync/pkg/logging"
)

// ConfigUpdater applies a configuration patch and reconciles webhooks.
// Implemented by webhooks.Updater.
type ConfigUpdater interface {
	OnUpdate(ctx context.Context, integrationID string, patch map[string]any) (*integration.Config, error)
}

// SyncStarter launches sync runs. Implemented by sync.Orchestrator.
type SyncStarter interface {
	StartInitialSync(ctx context.Context, integrationID string) ([]string, error)
	StartOngoingSync(ctx context.Context, integrationID string) ([]string, error)
}

// ProcessReader reads process records.
type ProcessReader interface {
	GetByID(ctx context.Context, id string) (*process.Process, error)
}

// ReconfigObserver counts webhook reconciliation outcomes.
type ReconfigObserver interface {
	ObserveWebhookReconfiguration(status string)
}

// AdminSyncConfig holds the handler dependencies.
type AdminSyncConfig struct {
	Processes ProcessReader
	Updater   ConfigUpdater
	Syncs     SyncStarter
	Metrics   ReconfigObserver
	Logger    *logging.Logger
}

// AdminSyncHandler serves the admin sync endpoints.
type AdminSyncHandler struct {
	processes ProcessReader
	updater   ConfigUpdater
	syncs     SyncStarter
	metrics   ReconfigObserver
	logger    *logging.Logger
}

func NewAdminSyncHandler(cfg AdminSyncConfig) *AdminSyncHandler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &AdminSyncHandler{
		processes: cfg.Processes,
		updater:   cfg.Updater,
		syncs:     cfg.Syncs,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}
}

// GetProcess returns one process record.
// Route: GET /admin/processes/{processID}
func (h *AdminSyncHandler) GetProcess(w http.ResponseWriter, r *http.Request) {
	if h.processes == nil {
		http.Error(w, "process store not configured", http.StatusServiceUnavailable)
		return
	}
	processID := strings.TrimSpace(chi.URLParam(r, "processID"))
	if processID == "" {
		http.Error(w, "missing processID", http.StatusBadRequest)
		return
	}

	p, err := h.processes.GetByID(r.Context(), processID)
	if err != nil {
		if errors.Is(err, process.ErrProcessNotFound) {
			http.Error(w, "process not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to read process", "error", err, "process_id", processID)
		http.Error(w, "failed to read process", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// UpdateIntegrationConfig deep-merges a JSON patch into the integration
// config, reconciling webhook subscriptions when the enabled phone set
// changes.
// Route: POST /admin/integrations/{integrationID}/config
func (h *AdminSyncHandler) UpdateIntegrationConfig(w http.ResponseWriter, r *http.Request) {
	if h.updater == nil {
		http.Error(w, "config updater not configured", http.StatusServiceUnavailable)
		return
	}
	integrationID := strings.TrimSpace(chi.URLParam(r, "integrationID"))
	if integrationID == "" {
		http.Error(w, "missing integrationID", http.StatusBadRequest)
		return
	}

	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	cfg, err := h.updater.OnUpdate(r.Context(), integrationID, patch)
	if err != nil {
		h.observeReconfig("error")
		if errors.Is(err, integration.ErrIntegrationNotFound) {
			http.Error(w, "integration not found", http.StatusNotFound)
			return
		}
		h.logger.Error("config update failed", "error", err, "integration_id", integrationID)
		http.Error(w, "config update failed", http.StatusBadGateway)
		return
	}
	h.observeReconfig("ok")

	doc, err := cfg.Document()
	if err != nil {
		h.logger.Error("failed to render config", "error", err, "integration_id", integrationID)
		http.Error(w, "failed to render config", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// TriggerSyncRequest selects the sync type for a manual run.
type TriggerSyncRequest struct {
	SyncType string `json:"syncType"`
}

// TriggerSyncResponse lists the processes the run created.
type TriggerSyncResponse struct {
	ProcessIDs []string `json:"processIds"`
}

// TriggerSync starts a sync run for an integration. The body selects INITIAL
// (default) or DELTA.
// Route: POST /admin/integrations/{integrationID}/sync
func (h *AdminSyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if h.syncs == nil {
		http.Error(w, "sync orchestrator not configured", http.StatusServiceUnavailable)
		return
	}
	integrationID := strings.TrimSpace(chi.URLParam(r, "integrationID"))
	if integrationID == "" {
		http.Error(w, "missing integrationID", http.StatusBadRequest)
		return
	}

	var req TriggerSyncRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
	}

	var (
		processIDs []string
		err        error
	)
	switch strings.ToUpper(strings.TrimSpace(req.SyncType)) {
	case "", "INITIAL":
		processIDs, err = h.syncs.StartInitialSync(r.Context(), integrationID)
	case "DELTA":
		processIDs, err = h.syncs.StartOngoingSync(r.Context(), integrationID)
	default:
		http.Error(w, "syncType must be INITIAL or DELTA", http.StatusBadRequest)
		return
	}
	if err != nil {
		if errors.Is(err, integration.ErrIntegrationNotFound) {
			http.Error(w, "integration not found", http.StatusNotFound)
			return
		}
		h.logger.Error("sync start failed", "error", err, "integration_id", integrationID)
		http.Error(w, "sync start failed", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusAccepted, TriggerSyncResponse{ProcessIDs: processIDs})
}

func (h *AdminSyncHandler) observeReconfig(status string) {
	if h.metrics != nil {
		h.metrics.ObserveWebhookReconfiguration(status)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
