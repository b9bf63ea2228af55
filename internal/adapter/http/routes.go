package http

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes attaches the API endpoints to the router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", h.ServiceStatus)

		r.Route("/disasters", func(r chi.Router) {
			r.Get("/", h.Active)
			r.Post("/events", h.ProcessEvent)
			r.Post("/batch", h.ProcessBatch)

			r.Route("/{id}", func(r chi.Router) {
				r.Post("/trigger", h.Trigger)
				r.Get("/status", h.Status)
				r.Post("/cancel", h.Cancel)
			})
		})

		r.Route("/monitoring", func(r chi.Router) {
			r.Get("/", h.Monitoring)
			r.Get("/{id}/history", h.History)
		})

		r.Get("/records", h.Records)
	})
}
