package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/api", func(r chi.Router) {
		r.Post("/emails", h.DispatchEmail)
		r.Post("/emails/bulk", h.BulkEnqueue)

		r.Route("/queue", func(r chi.Router) {
			r.Get("/stats", h.QueueStats)
			r.Get("/jobs", h.RecentJobs)
			r.Post("/process", h.ProcessQueue)
		})
	})

	r.Get("/healthz", h.Health)

	return r
}
