package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/repochat/internal/middleware"
	"github.com/capitalize-ai/repochat/pkg/logger"
)

// RouterConfig wires handlers into the backend router.
type RouterConfig struct {
	Logger            *logger.Logger
	JWTSecret         string
	RateLimitRequests int
	RateLimitWindow   time.Duration

	Health       *HealthHandler
	Queries      *QueryHandler
	History      *HistoryHandler
	Repositories *RepositoryHandler
}

// NewRouter builds the backend routes.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	// Health endpoints (no auth required)
	r.Get("/health", cfg.Health.Health)
	r.Get("/ready", cfg.Health.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/chat", func(r chi.Router) {
			r.Post("/query", cfg.Queries.Query)
			r.Get("/history", cfg.History.Summaries)
			r.Get("/{id}/history", cfg.History.History)
		})

		r.Route("/api/processed-repos", func(r chi.Router) {
			r.Get("/", cfg.Repositories.List)
			r.Get("/{id}", cfg.Repositories.Get)
		})
	})

	return r
}
