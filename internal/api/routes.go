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
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	// The listener binds to loopback only; no auth layer on top.
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/status", h.Status)

		r.Route("/queue", func(r chi.Router) {
			r.Post("/", h.EnqueueMatch)
			r.Get("/", h.ListQueue)
			r.Get("/count", h.QueueCount)
			r.Post("/sync", h.SyncQueue)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetQueued)
				r.Put("/", h.RequeueMatch)
				r.Delete("/", h.DeleteQueued)
				r.Post("/sync", h.SyncQueued)
			})
		})

		r.Get("/update/readiness", h.UpdateReadiness)
	})

	return r
}
