package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func SetupRoutes(h *Handler, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.L()
	}
	r := chi.NewRouter()
	r.Use(LoggingMiddleware(log))

	r.Route("/api", func(r chi.Router) {
		r.Get("/streams", h.handleStreams)
		r.Route("/ds/{uid}", func(r chi.Router) {
			r.Post("/query", h.handleQuery)
			r.Get("/relations", h.handleRelations)
			r.Get("/health", h.handleHealth)
			r.Get("/live", h.handleLive)
		})
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}
