package httpapi

import (
	"net/http"
	"time"

	"github.com/cybergis/compute-supervisor/internal/credential"
	"github.com/cybergis/compute-supervisor/internal/log"
	"github.com/cybergis/compute-supervisor/internal/metrics"
	"github.com/cybergis/compute-supervisor/internal/scheduler"
	"github.com/cybergis/compute-supervisor/internal/store"
	"github.com/cybergis/compute-supervisor/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouterConfig holds the dependencies the router's handlers need,
// populated once after the supervisor's components are wired together.
type RouterConfig struct {
	Store     store.Store
	Scheduler *scheduler.Scheduler
	Guard     *credential.Guard
	HPCs      map[string]types.HPCConfig
}

// NewRouter builds the supervisor's HTTP router. All resource routes
// live under /api/v1; /metrics, /healthz and /readyz are unversioned
// operational endpoints.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	jobHandler := NewJobHandler(cfg.Store, cfg.Scheduler, cfg.HPCs)
	credHandler := NewCredentialHandler(cfg.Guard, cfg.HPCs)

	r.Get("/healthz", healthz)
	r.Get("/readyz", healthz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", jobHandler.Submit)
			r.Get("/{id}", jobHandler.Get)
			r.Post("/{id}/cancel", jobHandler.Cancel)
			r.Get("/{id}/events", jobHandler.Events)
			r.Get("/{id}/logs", jobHandler.Logs)
		})
		r.Post("/credentials", credHandler.Register)
	})

	return r
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// requestLogger logs every request's method, path, status and latency
// through the supervisor's zerolog logger, mirroring the chi example's
// per-request logging middleware wired ahead of Recoverer.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.WithComponent("httpapi").Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	})
}
