// Package router assembles the chi router for the ops API.
package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/callvault/quosync/internal/http/handlers"
	httpmiddleware "github.com/callvault/quosync/internal/http/middleware"
	"github.com/callvault/quosync/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger          *logging.Logger
	AdminSync       *handlers.AdminSyncHandler
	AdminAuthSecret string
	MetricsHandler  http.Handler
}

// New creates a chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Group(func(public chi.Router) {
		public.Get("/healthz", healthCheck)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	if cfg.AdminSync != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Get("/processes/{processID}", cfg.AdminSync.GetProcess)
			admin.Post("/integrations/{integrationID}/config", cfg.AdminSync.UpdateIntegrationConfig)
			admin.Post("/integrations/{integrationID}/sync", cfg.AdminSync.TriggerSync)
		})
	}

	return r
}

func healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
