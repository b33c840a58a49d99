package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/papervault/paperfetch/internal/api"
)

// NewRouter mounts the job endpoints, health probe, and metrics.
func NewRouter(h *api.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(api.RequestLogger)
	r.Use(api.LimitBody)

	r.Get("/healthz", h.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1/jobs", func(r chi.Router) {
		r.Post("/", h.CreateJob)
		r.Get("/{jobID}", h.GetJob)
		r.Get("/{jobID}/archive", h.GetArchive)
		r.Delete("/{jobID}", h.CancelJob)
	})
	return r
}
