package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/longregen/promptopt/internal/adapters/http/handlers"
	"github.com/longregen/promptopt/internal/adapters/id"
	"github.com/longregen/promptopt/internal/adapters/postgres"
	"github.com/longregen/promptopt/internal/adapters/sqlite"
	"github.com/longregen/promptopt/internal/adapters/tracing"
	"github.com/longregen/promptopt/internal/application/services"
	"github.com/longregen/promptopt/internal/application/usecases"
	"github.com/longregen/promptopt/internal/config"
	"github.com/longregen/promptopt/internal/llm"
	"github.com/longregen/promptopt/internal/logger"
	"github.com/longregen/promptopt/internal/ports"
)

// Version information (set via ldflags)
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// Shared global variables
var (
	cfg *config.Config
	log *logger.Logger
)

// store bundles the repository chosen by configuration with its
// transaction manager.
type store struct {
	name  string
	repo  ports.OptimizationRepository
	tx    ports.TransactionManager
	ping  func(ctx context.Context) error
	close func()
}

func (s *store) Ping(ctx context.Context) error {
	return s.ping(ctx)
}

func storeName() string {
	if cfg.IsPostgresConfigured() {
		return "postgres"
	}
	return "sqlite"
}

// openStore connects to PostgreSQL when a URL is configured and otherwise
// opens the SQLite file.
func openStore(ctx context.Context) (*store, error) {
	if cfg.IsPostgresConfigured() {
		start := time.Now()
		pool, err := postgres.Connect(ctx, cfg.Database.PostgresURL)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		log.LogDbOperation("connect", time.Since(start), 0, nil)
		return &store{
			name:  "postgres",
			repo:  postgres.NewOptimizationRepository(pool),
			tx:    postgres.NewTransactionManager(pool),
			ping:  pool.Ping,
			close: pool.Close,
		}, nil
	}

	s, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	return &store{
		name:  "sqlite",
		repo:  s,
		tx:    sqlite.NewTransactionManager(s),
		ping:  s.Ping,
		close: func() { s.Close() },
	}, nil
}

// pipeline is everything optimize run needs, wired against one store.
type pipeline struct {
	useCase   *usecases.RunOptimization
	query     *services.OptimizationQueryService
	publisher *services.OptimizationProgressPublisher
	checks    map[string]handlers.Check
}

// buildPipeline wires the oracle roles, target, engine and refinement runner
// for the given optimizer settings.
func buildPipeline(st *store, opt config.OptimizerConfig) *pipeline {
	timeout := time.Duration(cfg.LLM.TimeoutSeconds) * time.Second

	oracleClient := llm.NewClient(cfg.LLM.URL, cfg.LLM.APIKey, llm.WithTimeout(timeout))
	oracleGuard := llm.NewResilience(cfg.LLM.URL, cfg.Resilience, log)
	oracle := llm.NewStructuredOracle(oracleClient, oracleGuard, cfg.Agents)

	// The target gets its own breaker so a failing assistant endpoint does
	// not trip the oracle roles, unless both share a URL.
	targetGuard := oracleGuard
	if cfg.TargetURL() != cfg.LLM.URL {
		targetGuard = llm.NewResilience(cfg.TargetURL(), cfg.Resilience, log)
	}
	targetClient := llm.NewClient(
		cfg.TargetURL(),
		cfg.TargetAPIKey(),
		llm.WithModel(cfg.Target.Model),
		llm.WithMaxTokens(cfg.Target.MaxTokens),
		llm.WithTimeout(timeout),
	)
	target := llm.NewTargetConnector(targetClient, targetGuard, cfg.Target.Temperature, cfg.Target.MaxTokens)

	ids := id.New()
	refCfg := services.RefinementConfigFrom(opt)
	limiter := services.NewLimiter(opt.MaxConcurrentEvaluations, opt.ParallelExecution)
	engine := services.NewEvaluationEngine(st.repo, target, oracle, ids, opt.ScoringWeights, limiter, log)
	publisher := services.NewOptimizationProgressPublisher(log)
	refiner := services.NewRefinementRunner(st.repo, oracle, engine, ids, publisher, refCfg, log)
	query := services.NewOptimizationQueryService(st.repo, refCfg)

	checks := healthChecks(st)
	checks["oracle"] = oracleGuard.Check
	checks["target"] = targetGuard.Check

	return &pipeline{
		useCase:   usecases.NewRunOptimization(st.repo, st.tx, oracle, engine, refiner, query, publisher, ids, opt, log),
		query:     query,
		publisher: publisher,
		checks:    checks,
	}
}

// healthChecks are the probes served on /health/detailed for a store.
func healthChecks(st *store) map[string]handlers.Check {
	return map[string]handlers.Check{"database": st.Ping}
}

// newQueryService is the read side used by the runs commands and the server.
func newQueryService(st *store) *services.OptimizationQueryService {
	return services.NewOptimizationQueryService(st.repo, services.RefinementConfigFrom(cfg.Optimizer))
}

// initTracing installs the stdout span exporter when tracing is enabled.
// The returned function is always safe to call.
func initTracing() func(context.Context) {
	if !cfg.Tracing.Enabled {
		return func(context.Context) {}
	}
	shutdown, err := tracing.InitTracer(os.Stderr)
	if err != nil {
		log.Warn().Err(err).Msg("failed to initialize tracing")
		return func(context.Context) {}
	}
	return func(ctx context.Context) {
		if err := shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("error shutting down tracer")
		}
	}
}

// maskSecret masks a secret string for display
func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return "(set)"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// boolStatus returns a status string for a boolean
func boolStatus(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

func executionMode(parallel bool) string {
	if parallel {
		return "parallel"
	}
	return "sequential"
}

func formatScore(s *float64) string {
	if s == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *s)
}
