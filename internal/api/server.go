package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/fraudlens/internal/domain"
	"github.com/opensource-finance/fraudlens/internal/metrics"
	"github.com/opensource-finance/fraudlens/internal/pipeline"
	"github.com/opensource-finance/fraudlens/internal/rules"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// Deps are the components the API serves.
// Repo, Cache and Bus may be nil; the affected endpoints then report 503.
type Deps struct {
	Repo     domain.Repository
	Cache    domain.Cache
	Bus      domain.EventBus
	Pipeline *pipeline.Pipeline
	Engine   *rules.Engine
}

// NewServer creates a new API server.
func NewServer(cfg *domain.Config, deps Deps, version string) *Server {
	handler := NewHandler(deps, cfg.Limits, cfg.Cache.SummaryTTL, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging + metrics
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Handle("/metrics", metrics.Handler())

	// API routes (tenant required)
	router.Route("/", func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Dataset analysis
		r.With(RateLimitMiddleware(cfg.Limits.RequestsPerSecond, cfg.Limits.Burst)).
			Post("/analyze", handler.Analyze)
		r.Post("/simulate", handler.Simulate)

		// Run retrieval
		r.Get("/runs", handler.ListRuns)
		r.Route("/runs/{id}", func(r chi.Router) {
			r.Get("/", handler.GetRun)
			r.Delete("/", handler.DeleteRun)
			r.Get("/transactions", handler.ListTransactions)
			r.Get("/transactions/{txId}", handler.GetTransaction)
			r.Get("/trends", handler.GetTrends)
			r.Get("/report", handler.GetReport)
			r.Get("/export", handler.Export)
		})

		// Severity classifiers
		r.Get("/classifiers", handler.ListClassifiers)
		r.Put("/classifiers/{feature}", handler.UpdateClassifier)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg.Server,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
