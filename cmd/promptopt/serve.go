package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/longregen/promptopt/internal/adapters/http"
	"github.com/longregen/promptopt/internal/adapters/http/handlers"
	"github.com/longregen/promptopt/internal/application/services"
	"github.com/longregen/promptopt/internal/ports"
)

const shutdownTimeout = 10 * time.Second

// serveCmd starts the HTTP read API
func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Start the read-only HTTP API over the configured store.

Endpoints:
  GET /health, /health/detailed, /metrics
  GET /api/v1/runs, /api/v1/runs/{id}, /api/v1/runs/{id}/candidates
  GET /api/v1/runs/{id}/tracks/{track}, /api/v1/runs/{id}/result
  GET /api/v1/prompts/{id}/evaluations, /api/v1/runs/{id}/events

Live progress events are only available for runs executed by this process;
use "optimize run --serve" to watch a run as it happens.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdownTracing := initTracing()
			defer shutdownTracing(context.Background())

			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.close()

			srv := newServer(st, newQueryService(st), services.NewOptimizationProgressPublisher(log), healthChecks(st))
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Stop(shutdownCtx)
		},
	}
}

func newServer(st *store, query ports.OptimizationQueryService, publisher ports.OptimizationProgressPublisher, checks map[string]handlers.Check) *http.Server {
	return http.NewServer(cfg.Server, version, st.name, query, publisher, checks, log)
}

// serveInBackground runs the API next to an optimization. The returned
// function shuts it down.
func serveInBackground(st *store, p *pipeline) func() {
	srv := newServer(st, p.query, p.publisher, p.checks)
	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("API server stopped")
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Stop(ctx); err != nil {
			log.Warn().Err(err).Msg("API server shutdown")
		}
	}
}
