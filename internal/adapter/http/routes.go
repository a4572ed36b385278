package http

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.Health)

	r.Route("/api/v1/mpp", func(r chi.Router) {
		r.Post("/dispatch", h.Dispatch)
		r.Post("/queries/{startTs}/cancel", h.CancelQuery)
		r.Get("/tasks", h.ListTasks)
	})
}
