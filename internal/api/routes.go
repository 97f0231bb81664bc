package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	// Public routes (no auth required)
	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		if h.apiKey != "" {
			r.Use(AuthMiddleware(h.apiKey))
		}

		r.Route("/nodes", func(r chi.Router) {
			r.Get("/", h.ListNodes)
			r.Get("/{nodeID}", h.GetNode)
			r.Get("/{nodeID}/assignments/{assignmentID}/effective-config", h.EffectiveConfig)
		})

		r.Post("/readings", h.IngestReadings)

		r.Route("/sync", func(r chi.Router) {
			r.Post("/nodes/{nodeID}", h.StartSync)
			r.Post("/nodes/{nodeID}/cancel", h.CancelSync)
			r.Get("/nodes/{nodeID}/status", h.SyncStatus)
			r.Get("/nodes/{nodeID}/history", h.SyncHistory)
			r.Get("/nodes/{nodeID}/unsynced-count", h.UnsyncedCount)
			r.Get("/status", h.AllSyncStatus)
			r.Get("/summary", h.SyncSummary)
			r.Get("/cloud-health", h.CloudHealth)
			r.Get("/events", h.SyncEvents)
		})
	})

	return r
}
