package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	apimw "github.com/phrazzld/chatrelay/internal/api/middleware"
	"github.com/phrazzld/chatrelay/internal/api/shared"
)

// RouterDeps are the collaborators NewRouter wires into handlers.
type RouterDeps struct {
	Pipeline Generator
	Logger   *slog.Logger

	// Metrics, when set, records every request and serves GET /metrics.
	Metrics interface {
		apimw.HTTPRecorder
		Handler() http.Handler
	}

	// Ready reports whether the service can take traffic. Nil means always.
	Ready func() error
}

// NewRouter creates and configures the HTTP router with all routes and
// middleware.
func NewRouter(deps RouterDeps) http.Handler {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(apimw.NewTraceMiddleware(log))
	if deps.Metrics != nil {
		r.Use(apimw.NewMetricsMiddleware(deps.Metrics))
	}

	generateHandler := NewGenerateHandler(deps.Pipeline, log)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/generate", generateHandler.Generate)
		r.Get("/stats", generateHandler.GetStats)
		r.Delete("/cache", generateHandler.ClearCache)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if deps.Ready != nil {
			if err := deps.Ready(); err != nil {
				shared.RespondWithErrorAndLog(w, r, http.StatusServiceUnavailable, "Service unavailable", err)
				return
			}
		}
		shared.RespondWithJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	return r
}
