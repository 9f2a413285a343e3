// Package http exposes persisted optimization runs over a read-only REST API
// with a server-sent event stream for runs in progress.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/longregen/promptopt/internal/adapters/http/handlers"
	"github.com/longregen/promptopt/internal/adapters/http/middleware"
	"github.com/longregen/promptopt/internal/config"
	"github.com/longregen/promptopt/internal/logger"
	"github.com/longregen/promptopt/internal/ports"
)

type Server struct {
	config     config.ServerConfig
	version    string
	storeName  string
	router     *chi.Mux
	httpServer *http.Server
	query      ports.OptimizationQueryService
	publisher  ports.OptimizationProgressPublisher
	checks     map[string]handlers.Check
	log        *logger.Logger
}

// NewServer wires the routes. storeName only labels the startup log line;
// checks feed /health/detailed.
func NewServer(
	cfg config.ServerConfig,
	version string,
	storeName string,
	query ports.OptimizationQueryService,
	publisher ports.OptimizationProgressPublisher,
	checks map[string]handlers.Check,
	log *logger.Logger,
) *Server {
	if log == nil {
		log = logger.Nop()
	}
	s := &Server{
		config:    cfg,
		version:   version,
		storeName: storeName,
		query:     query,
		publisher: publisher,
		checks:    checks,
		log:       log,
	}

	s.setupRouter()
	s.httpServer = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // No write timeout for SSE streaming
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.Logger(s.log))
	r.Use(middleware.Recovery(s.log))
	r.Use(middleware.CORS(s.config.CORSOrigins))
	r.Use(middleware.Metrics)

	healthHandler := handlers.NewHealthHandler(s.version, s.checks)
	r.Get("/health", healthHandler.Handle)
	r.Get("/health/detailed", healthHandler.HandleDetailed)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		runsHandler := handlers.NewRunsHandler(s.query)
		r.Get("/runs", runsHandler.List)
		r.Get("/runs/{id}", runsHandler.Get)
		r.Get("/runs/{id}/candidates", runsHandler.Candidates)
		r.Get("/runs/{id}/tracks/{track}", runsHandler.Track)
		r.Get("/runs/{id}/result", runsHandler.Result)
		r.Get("/prompts/{id}/evaluations", runsHandler.Evaluations)

		eventsHandler := handlers.NewEventsHandler(s.query, s.publisher, s.log)
		r.Get("/runs/{id}/events", eventsHandler.Stream)
	})

	s.router = r
}

func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// Start blocks until the server stops. It returns nil after Stop, including
// a Stop that raced ahead of Start.
func (s *Server) Start() error {
	s.log.LogServerStart(s.httpServer.Addr, s.storeName)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.log.LogServerShutdown()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Router() *chi.Mux {
	return s.router
}
