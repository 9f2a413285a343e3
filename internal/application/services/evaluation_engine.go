package services

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/longregen/promptopt/internal/adapters/metrics"
	"github.com/longregen/promptopt/internal/adapters/tracing"
	"github.com/longregen/promptopt/internal/domain/models"
	"github.com/longregen/promptopt/internal/logger"
	"github.com/longregen/promptopt/internal/ports"
	"github.com/longregen/promptopt/internal/prompt"
)

var tracer = tracing.Tracer("promptopt/services")

// EvaluationEngine scores prompts against a test suite. Each test case costs
// one target response and one judge verdict, and produces one persisted
// TestResult.
//
// With a limiter the engine runs test cases concurrently, holding one permit
// per test case. The same limiter is meant to be shared by every stage and
// every refinement track of the process. Without a limiter it runs strictly
// sequentially. Both modes aggregate in test order and return identical scores
// for identical oracle responses.
type EvaluationEngine struct {
	repo    ports.OptimizationRepository
	target  ports.TargetModel
	oracle  ports.Oracle
	ids     ports.IDGenerator
	weights models.ScoringWeights
	limiter *semaphore.Weighted
	log     *logger.Logger
}

// NewEvaluationEngine creates an engine. A nil limiter selects sequential mode.
func NewEvaluationEngine(
	repo ports.OptimizationRepository,
	target ports.TargetModel,
	oracle ports.Oracle,
	ids ports.IDGenerator,
	weights models.ScoringWeights,
	limiter *semaphore.Weighted,
	log *logger.Logger,
) *EvaluationEngine {
	if log == nil {
		log = logger.Nop()
	}
	return &EvaluationEngine{
		repo:    repo,
		target:  target,
		oracle:  oracle,
		ids:     ids,
		weights: weights,
		limiter: limiter,
		log:     log.Component("engine"),
	}
}

// NewLimiter returns the process-wide evaluation limiter, or nil when
// parallel execution is disabled.
func NewLimiter(maxConcurrent int, parallel bool) *semaphore.Weighted {
	if !parallel || maxConcurrent < 1 {
		return nil
	}
	return semaphore.NewWeighted(int64(maxConcurrent))
}

func (e *EvaluationEngine) Sequential() bool {
	return e.limiter == nil
}

// Evaluate runs every test case against p and returns the mean overall score.
// An empty suite scores 0. Any failure aborts the evaluation; no partial
// aggregate is returned.
func (e *EvaluationEngine) Evaluate(ctx context.Context, runID string, p *models.PromptCandidate, tests []*models.TestCase, task *models.TaskSpec) (float64, error) {
	ctx, span := tracer.Start(ctx, "engine.evaluate")
	defer span.End()
	span.SetAttributes(
		attribute.String("prompt.id", p.ID),
		attribute.Int("tests", len(tests)),
		attribute.Bool("sequential", e.Sequential()),
	)

	if len(tests) == 0 {
		return 0, nil
	}

	scores := make([]float64, len(tests))
	var err error
	if e.Sequential() {
		err = e.evaluateSequential(ctx, runID, p, tests, task, scores)
	} else {
		err = e.evaluateConcurrent(ctx, runID, p, tests, task, scores)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	avg := prompt.Aggregate(scores)
	span.SetAttributes(attribute.Float64("score", avg))
	e.log.Debug().
		Str("run_id", runID).
		Str("prompt_id", p.ID).
		Int("tests", len(tests)).
		Float64("score", avg).
		Msg("prompt evaluated")
	return avg, nil
}

func (e *EvaluationEngine) evaluateSequential(ctx context.Context, runID string, p *models.PromptCandidate, tests []*models.TestCase, task *models.TaskSpec, scores []float64) error {
	for i, tc := range tests {
		if err := ctx.Err(); err != nil {
			return err
		}
		s, err := e.evaluateOne(ctx, runID, p, tc, task)
		if err != nil {
			return err
		}
		scores[i] = s
	}
	return nil
}

func (e *EvaluationEngine) evaluateConcurrent(ctx context.Context, runID string, p *models.PromptCandidate, tests []*models.TestCase, task *models.TaskSpec, scores []float64) error {
	g, gctx := errgroup.WithContext(ctx)
	for i, tc := range tests {
		g.Go(func() error {
			if err := e.limiter.Acquire(gctx, 1); err != nil {
				return err
			}
			metrics.EvaluationSlotsInUse.Inc()
			defer func() {
				metrics.EvaluationSlotsInUse.Dec()
				e.limiter.Release(1)
			}()

			s, err := e.evaluateOne(gctx, runID, p, tc, task)
			if err != nil {
				return err
			}
			scores[i] = s
			return nil
		})
	}
	return g.Wait()
}

func (e *EvaluationEngine) evaluateOne(ctx context.Context, runID string, p *models.PromptCandidate, tc *models.TestCase, task *models.TaskSpec) (float64, error) {
	start := time.Now()

	response, err := e.target.TestPrompt(ctx, p.PromptText, tc.InputMessage)
	if err != nil {
		return 0, fmt.Errorf("target response for prompt %s, test %s: %w", p.ID, tc.DisplayID(), err)
	}

	score, err := e.oracle.ScoreResponse(ctx, ports.ScoreRequest{
		Task:          task,
		TestCase:      tc,
		ModelResponse: response,
	})
	if err != nil {
		return 0, fmt.Errorf("score prompt %s, test %s: %w", p.ID, tc.DisplayID(), err)
	}
	score.Overall = prompt.Overall(*score, e.weights)

	result := &models.TestResult{
		ID:            e.ids.GenerateEvaluationID(),
		RunID:         runID,
		PromptID:      p.ID,
		TestCaseID:    tc.ID,
		TestLabel:     tc.Label,
		ModelResponse: response,
		Score:         *score,
		CreatedAt:     time.Now().UTC(),
	}
	if err := e.repo.SaveEvaluation(ctx, result); err != nil {
		return 0, fmt.Errorf("save evaluation: %w", err)
	}

	metrics.EvaluationsTotal.WithLabelValues(string(tc.Stage)).Inc()
	metrics.EvaluationDuration.WithLabelValues(string(tc.Stage)).Observe(time.Since(start).Seconds())
	return score.Overall, nil
}

// EvaluateAll scores each prompt on tests. The returned slice is aligned with
// prompts. In concurrent mode prompts are evaluated side by side and the
// shared limiter still bounds the total number of in-flight test cases.
func (e *EvaluationEngine) EvaluateAll(ctx context.Context, runID string, prompts []*models.PromptCandidate, tests []*models.TestCase, task *models.TaskSpec) ([]float64, error) {
	scores := make([]float64, len(prompts))

	if e.Sequential() {
		for i, p := range prompts {
			s, err := e.Evaluate(ctx, runID, p, tests, task)
			if err != nil {
				return nil, err
			}
			scores[i] = s
		}
		return scores, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range prompts {
		g.Go(func() error {
			s, err := e.Evaluate(gctx, runID, p, tests, task)
			if err != nil {
				return err
			}
			scores[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scores, nil
}
