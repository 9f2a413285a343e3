package services

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/longregen/promptopt/internal/adapters/metrics"
	"github.com/longregen/promptopt/internal/config"
	"github.com/longregen/promptopt/internal/domain"
	"github.com/longregen/promptopt/internal/domain/models"
	"github.com/longregen/promptopt/internal/logger"
	"github.com/longregen/promptopt/internal/ports"
	"github.com/longregen/promptopt/internal/prompt"
)

// RefinementConfig bounds one refinement track.
type RefinementConfig struct {
	MaxIterations        int
	ConvergenceThreshold float64
	Patience             int
	WeaknessThreshold    float64
	MaxWeaknessSamples   int
}

// RefinementConfigFrom extracts the track settings from the optimizer config.
func RefinementConfigFrom(o config.OptimizerConfig) RefinementConfig {
	return RefinementConfig{
		MaxIterations:        o.MaxIterationsPerTrack,
		ConvergenceThreshold: o.ConvergenceThreshold,
		Patience:             o.EarlyStoppingPatience,
		WeaknessThreshold:    o.WeaknessThreshold,
		MaxWeaknessSamples:   o.MaxWeaknessSamples,
	}
}

// RefinementRunner drives refinement tracks: analyze weaknesses of the
// track's best prompt, ask the oracle for an improved version, persist it,
// evaluate it on the rigorous suite, then accept or reject it.
type RefinementRunner struct {
	repo      ports.OptimizationRepository
	oracle    ports.Oracle
	engine    *EvaluationEngine
	ids       ports.IDGenerator
	publisher ports.OptimizationProgressPublisher
	cfg       RefinementConfig
	log       *logger.Logger
}

func NewRefinementRunner(
	repo ports.OptimizationRepository,
	oracle ports.Oracle,
	engine *EvaluationEngine,
	ids ports.IDGenerator,
	publisher ports.OptimizationProgressPublisher,
	cfg RefinementConfig,
	log *logger.Logger,
) *RefinementRunner {
	if log == nil {
		log = logger.Nop()
	}
	return &RefinementRunner{
		repo:      repo,
		oracle:    oracle,
		engine:    engine,
		ids:       ids,
		publisher: publisher,
		cfg:       cfg,
		log:       log.Component("refinement"),
	}
}

// RunTracks launches one track per seed with track ids 0..len(seeds)-1.
// Tracks share only the engine's limiter and the repository. The first
// failing track cancels the others.
func (r *RefinementRunner) RunTracks(ctx context.Context, runID string, seeds []*models.PromptCandidate, tests []*models.TestCase, task *models.TaskSpec) ([]*models.RefinementTrackResult, error) {
	results := make([]*models.RefinementTrackResult, len(seeds))

	if r.engine.Sequential() {
		for i, seed := range seeds {
			res, err := r.RunTrack(ctx, runID, i, seed, tests, task)
			if err != nil {
				return nil, fmt.Errorf("track %d: %w", i, err)
			}
			results[i] = res
		}
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, seed := range seeds {
		g.Go(func() error {
			res, err := r.RunTrack(gctx, runID, i, seed, tests, task)
			if err != nil {
				return fmt.Errorf("track %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// RunTrack refines seed until patience runs out or the iteration cap is hit.
// Every refined candidate is saved before it is evaluated so an interrupted
// run keeps its lineage.
func (r *RefinementRunner) RunTrack(ctx context.Context, runID string, trackID int, seed *models.PromptCandidate, tests []*models.TestCase, task *models.TaskSpec) (*models.RefinementTrackResult, error) {
	ctx, span := tracer.Start(ctx, "refinement.track")
	defer span.End()
	span.SetAttributes(attribute.Int("track.id", trackID), attribute.String("seed.id", seed.ID))

	log := r.log.RunLogger(runID).TrackLogger(trackID)

	if seed.RigorousScore == nil {
		return nil, fmt.Errorf("%w: seed %s has no rigorous score", domain.ErrInvariantViolation, seed.ID)
	}
	seed.SetTrack(trackID)
	if err := r.repo.SavePrompt(ctx, seed); err != nil {
		return nil, fmt.Errorf("save seed: %w", err)
	}

	suite := suiteOf(tests)

	conv := prompt.NewConvergence(*seed.RigorousScore)
	current := seed
	prompts := []*models.PromptCandidate{seed}

	for iteration := 1; iteration <= r.cfg.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		candidate, score, err := r.iterate(ctx, runID, trackID, iteration, current, suite, tests, task)
		if err != nil {
			return nil, err
		}
		prompts = append(prompts, candidate)

		decision := conv.Decide(score, r.cfg.ConvergenceThreshold)
		outcome := "rejected"
		if decision.Accepted {
			current = candidate
			outcome = "accepted"
		}
		metrics.RefinementIterationsTotal.WithLabelValues(outcome).Inc()

		log.Info().
			Int("iteration", iteration).
			Str("prompt_id", candidate.ID).
			Float64("score", score).
			Float64("best", conv.BestScore).
			Float64("improvement", decision.Improvement).
			Int("no_improvement", conv.NoImprovementCount).
			Str("outcome", outcome).
			Msg("refinement iteration")

		r.publishIteration(runID, trackID, iteration, score, conv.BestScore, decision.Accepted)

		if conv.ShouldStop(r.cfg.MaxIterations, r.cfg.Patience) {
			break
		}
	}

	result := models.NewRefinementTrackResult(trackID, prompts)
	result.StopReason = models.StopMaxIterations
	if conv.Converged(r.cfg.Patience) {
		result.StopReason = models.StopConverged
	}
	span.SetAttributes(attribute.String("stop_reason", result.StopReason), attribute.Int("iterations", conv.Iteration))
	return result, nil
}

func (r *RefinementRunner) iterate(
	ctx context.Context,
	runID string,
	trackID, iteration int,
	current *models.PromptCandidate,
	suite map[string]struct{},
	tests []*models.TestCase,
	task *models.TaskSpec,
) (*models.PromptCandidate, float64, error) {
	evals, err := r.repo.GetEvaluationsByPrompt(ctx, current.ID)
	if err != nil {
		return nil, 0, fmt.Errorf("load evaluations of %s: %w", current.ID, err)
	}
	evals = filterSuite(evals, suite)

	weakness := prompt.AnalyzeWeakness(evals, r.cfg.WeaknessThreshold, r.cfg.MaxWeaknessSamples)
	if err := r.repo.SaveWeaknessAnalysis(ctx, &models.WeaknessAnalysis{
		ID:                     r.ids.GenerateWeaknessID(),
		RunID:                  runID,
		PromptID:               current.ID,
		TrackID:                trackID,
		Iteration:              iteration,
		Description:            weakness.Description,
		FailedTestIDs:          weakness.FailedTestIDs,
		FailedTestDescriptions: weakness.FailedTestDescriptions,
		CreatedAt:              time.Now().UTC(),
	}); err != nil {
		return nil, 0, fmt.Errorf("save weakness analysis: %w", err)
	}

	refined, err := r.oracle.RefinePrompt(ctx, ports.RefineRequest{
		Task:                task,
		CurrentPrompt:       current.PromptText,
		WeaknessDescription: weakness.Description,
		FailedTests:         weakness.FailedTestDescriptions,
		Iteration:           iteration,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("refine %s: %w", current.ID, err)
	}

	candidate := models.NewRefinedCandidate(r.ids.GeneratePromptID(), current, refined.ImprovedPrompt, iteration)
	if err := candidate.ValidateLineage(current); err != nil {
		return nil, 0, err
	}
	if err := r.repo.SavePrompt(ctx, candidate); err != nil {
		return nil, 0, fmt.Errorf("save refined prompt: %w", err)
	}

	score, err := r.engine.Evaluate(ctx, runID, candidate, tests, task)
	if err != nil {
		return nil, 0, err
	}
	candidate.SetScore(models.ScoreRigorous, score)
	if err := r.repo.SavePrompt(ctx, candidate); err != nil {
		return nil, 0, fmt.Errorf("save refined score: %w", err)
	}
	return candidate, score, nil
}

func (r *RefinementRunner) publishIteration(runID string, trackID, iteration int, score, best float64, accepted bool) {
	if r.publisher == nil {
		return
	}
	track := trackID
	r.publisher.PublishProgress(ports.OptimizationProgressEvent{
		Type:          ports.EventIteration,
		RunID:         runID,
		Stage:         "refine",
		TrackID:       &track,
		Iteration:     iteration,
		MaxIterations: r.cfg.MaxIterations,
		CurrentScore:  score,
		BestScore:     best,
		Accepted:      accepted,
		Status:        models.OptimizationStatusRunning,
		Message:       fmt.Sprintf("track %d iteration %d scored %.3f", trackID, iteration, score),
	})
}

func suiteOf(tests []*models.TestCase) map[string]struct{} {
	suite := make(map[string]struct{}, len(tests))
	for _, tc := range tests {
		suite[tc.ID] = struct{}{}
	}
	return suite
}

// filterSuite keeps results whose test case belongs to suite, so weakness
// analysis of a seed ignores its quick-suite results.
func filterSuite(results []*models.TestResult, suite map[string]struct{}) []*models.TestResult {
	out := make([]*models.TestResult, 0, len(results))
	for _, r := range results {
		if _, ok := suite[r.TestCaseID]; ok {
			out = append(out, r)
		}
	}
	return out
}
