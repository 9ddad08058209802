package httpapi

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"forge/internal/http/handlers"
	"forge/internal/middleware"
)

func NewRouter(app *handlers.App) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, chimw.RealIP, chimw.Recoverer)
	r.Use(middleware.Logger(app.Logger))
	r.Use(middleware.Metrics())

	r.Get("/healthz", app.Health)
	r.Method(stdhttp.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Identity)

		r.Route("/artifacts", func(r chi.Router) {
			r.Post("/", app.ArtifactAnnounce)
			r.Post("/{artifact_id}/confirm", app.ArtifactConfirm)
			r.Get("/{artifact_id}", app.ArtifactGet)
			r.Get("/{artifact_id}/download", app.ArtifactDownload)
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", app.JobSubmit)
			r.Get("/{job_id}", app.JobGet)
			r.Post("/{job_id}/cancel", app.JobCancel)
			r.Get("/{job_id}/stream", app.JobStream)
		})
	})

	return r
}
