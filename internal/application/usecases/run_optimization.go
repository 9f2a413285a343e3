package usecases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/longregen/promptopt/internal/adapters/metrics"
	"github.com/longregen/promptopt/internal/application/services"
	"github.com/longregen/promptopt/internal/config"
	"github.com/longregen/promptopt/internal/domain"
	"github.com/longregen/promptopt/internal/domain/models"
	"github.com/longregen/promptopt/internal/logger"
	"github.com/longregen/promptopt/internal/ports"
)

// Pipeline stage names, in execution order.
const (
	StageGeneratePrompts       = "generate_prompts"
	StageGenerateQuickTests    = "generate_quick_tests"
	StageEvaluateQuick         = "evaluate_quick"
	StageSelectTopK            = "select_top_k"
	StageGenerateRigorousTests = "generate_rigorous_tests"
	StageEvaluateRigorous      = "evaluate_rigorous"
	StageSelectTopM            = "select_top_m"
	StageRefine                = "refine"
	StageReport                = "report"
)

const failRunTimeout = 10 * time.Second

// RunOptimization executes the staged search: generate candidates, filter on
// a quick suite, re-score finalists on a rigorous suite, then refine the best
// of them on parallel tracks and pick a champion.
type RunOptimization struct {
	repo      ports.OptimizationRepository
	txManager ports.TransactionManager
	oracle    ports.Oracle
	engine    *services.EvaluationEngine
	refiner   *services.RefinementRunner
	query     ports.OptimizationQueryService
	publisher ports.OptimizationProgressPublisher
	ids       ports.IDGenerator
	cfg       config.OptimizerConfig
	log       *logger.Logger
}

// NewRunOptimization wires the pipeline. txManager may be nil, in which case
// stage writes are not grouped.
func NewRunOptimization(
	repo ports.OptimizationRepository,
	txManager ports.TransactionManager,
	oracle ports.Oracle,
	engine *services.EvaluationEngine,
	refiner *services.RefinementRunner,
	query ports.OptimizationQueryService,
	publisher ports.OptimizationProgressPublisher,
	ids ports.IDGenerator,
	cfg config.OptimizerConfig,
	log *logger.Logger,
) *RunOptimization {
	if log == nil {
		log = logger.Nop()
	}
	return &RunOptimization{
		repo:      repo,
		txManager: txManager,
		oracle:    oracle,
		engine:    engine,
		refiner:   refiner,
		query:     query,
		publisher: publisher,
		ids:       ids,
		cfg:       cfg,
		log:       log.Component("pipeline"),
	}
}

// pipelineRun carries the in-memory state handed from one stage to the next.
type pipelineRun struct {
	id        string
	task      *models.TaskSpec
	started   time.Time
	log       *logger.Logger
	original  *models.PromptCandidate
	quick     []*models.TestCase
	rigorous  []*models.TestCase
	finalists []*models.PromptCandidate
	seeds     []*models.PromptCandidate
	tracks    []*models.RefinementTrackResult
	result    *models.OptimizationResult
}

type stage struct {
	name string
	run  func(ctx context.Context, p *pipelineRun) error
}

// Execute runs every stage to completion and returns the report data. Any
// stage failure marks the run failed and aborts; nothing after it runs.
func (uc *RunOptimization) Execute(ctx context.Context, input *ports.RunOptimizationInput) (*models.OptimizationResult, error) {
	if input == nil || input.Task == nil {
		return nil, domain.NewDomainError(domain.ErrInvalidConfig, "task is required")
	}
	if err := input.Task.Validate(); err != nil {
		return nil, err
	}
	if err := uc.cfg.Validate(); err != nil {
		return nil, err
	}

	runID := input.RunID
	if runID == "" {
		runID = uc.ids.GenerateRunID()
	}
	run := models.NewOptimizationRun(runID, input.Task.TaskDescription)
	run.ConvergenceThreshold = uc.cfg.ConvergenceThreshold
	run.Patience = uc.cfg.EarlyStoppingPatience
	run.MaxIterations = uc.cfg.MaxIterationsPerTrack
	if err := uc.repo.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	p := &pipelineRun{
		id:      runID,
		task:    input.Task,
		started: time.Now(),
		log:     uc.log.RunLogger(runID),
	}

	metrics.RunsActive.Inc()
	defer metrics.RunsActive.Dec()
	if uc.publisher != nil {
		defer uc.publisher.Close(runID)
	}

	p.log.Info().
		Int("initial_prompts", uc.cfg.NumInitialPrompts).
		Int("top_k", uc.cfg.TopKAdvance).
		Int("top_m", uc.cfg.TopMRefine).
		Bool("parallel", !uc.engine.Sequential()).
		Msg("optimization started")
	uc.publish(ports.OptimizationProgressEvent{
		Type:    ports.EventStarted,
		RunID:   runID,
		Status:  models.OptimizationStatusRunning,
		Message: input.Task.TaskDescription,
	})

	for _, s := range uc.stages() {
		if err := uc.runStage(ctx, p, s); err != nil {
			return nil, uc.fail(ctx, p, s.name, err)
		}
	}

	metrics.RunsTotal.WithLabelValues(models.OptimizationStatusCompleted).Inc()
	best, _ := p.result.BestPrompt.Score()
	p.log.Info().
		Str("champion_id", p.result.BestPrompt.ID).
		Float64("champion_score", best).
		Int("total_tests_run", p.result.TotalTestsRun).
		Float64("elapsed_seconds", p.result.ElapsedSeconds).
		Msg("optimization completed")
	uc.publish(ports.OptimizationProgressEvent{
		Type:      ports.EventCompleted,
		RunID:     runID,
		Stage:     StageReport,
		BestScore: best,
		Status:    models.OptimizationStatusCompleted,
		Message:   fmt.Sprintf("champion %s scored %.3f", p.result.BestPrompt.ID, best),
	})
	return p.result, nil
}

func (uc *RunOptimization) stages() []stage {
	return []stage{
		{StageGeneratePrompts, uc.generatePrompts},
		{StageGenerateQuickTests, uc.generateQuickTests},
		{StageEvaluateQuick, uc.evaluateQuick},
		{StageSelectTopK, uc.selectTopK},
		{StageGenerateRigorousTests, uc.generateRigorousTests},
		{StageEvaluateRigorous, uc.evaluateRigorous},
		{StageSelectTopM, uc.selectTopM},
		{StageRefine, uc.refine},
		{StageReport, uc.report},
	}
}

func (uc *RunOptimization) runStage(ctx context.Context, p *pipelineRun, s stage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := uc.repo.UpdateRunStage(ctx, p.id, s.name); err != nil {
		return fmt.Errorf("record stage: %w", err)
	}
	uc.publish(ports.OptimizationProgressEvent{
		Type:   ports.EventStage,
		RunID:  p.id,
		Stage:  s.name,
		Status: models.OptimizationStatusRunning,
	})

	start := time.Now()
	err := s.run(ctx, p)
	duration := time.Since(start)
	metrics.StageDuration.WithLabelValues(s.name).Observe(duration.Seconds())
	p.log.LogStage(s.name, duration, err)
	return err
}

// fail persists the failure even when ctx is already cancelled.
func (uc *RunOptimization) fail(ctx context.Context, p *pipelineRun, stageName string, cause error) error {
	message := fmt.Sprintf("stage %s: %v", stageName, cause)

	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failRunTimeout)
	defer cancel()
	if err := uc.repo.FailRun(failCtx, p.id, message); err != nil {
		p.log.Error().Err(err).Msg("failed to mark run failed")
	}

	metrics.RunsTotal.WithLabelValues(models.OptimizationStatusFailed).Inc()
	uc.publish(ports.OptimizationProgressEvent{
		Type:    ports.EventFailed,
		RunID:   p.id,
		Stage:   stageName,
		Status:  models.OptimizationStatusFailed,
		Message: message,
	})
	return domain.NewDomainError(cause, fmt.Sprintf("run %s failed at stage %s", p.id, stageName))
}

func (uc *RunOptimization) generatePrompts(ctx context.Context, p *pipelineRun) error {
	generated, err := uc.oracle.GeneratePrompts(ctx, p.task, uc.cfg.NumInitialPrompts)
	if err != nil {
		return err
	}

	candidates := make([]*models.PromptCandidate, 0, len(generated)+1)
	for _, g := range generated {
		candidates = append(candidates, models.NewPromptCandidate(uc.ids.GeneratePromptID(), p.id, g.PromptText, g.Strategy))
	}
	if uc.cfg.IncludeOriginalPrompt && p.task.HasOriginalPrompt() {
		p.original = uc.newOriginal(p)
		candidates = append(candidates, p.original)
	}

	return uc.withTx(ctx, func(ctx context.Context) error {
		for _, c := range candidates {
			if err := uc.repo.SavePrompt(ctx, c); err != nil {
				return fmt.Errorf("save prompt: %w", err)
			}
		}
		p.log.Info().Int("count", len(candidates)).Bool("original", p.original != nil).Msg("candidates generated")
		return nil
	})
}

func (uc *RunOptimization) newOriginal(p *pipelineRun) *models.PromptCandidate {
	c := models.NewPromptCandidate(uc.ids.GeneratePromptID(), p.id, p.task.OriginalPrompt, models.StrategyOriginal)
	c.IsOriginalSystemPrompt = true
	return c
}

func (uc *RunOptimization) generateQuickTests(ctx context.Context, p *pipelineRun) error {
	tests, err := uc.designTests(ctx, p, models.TestStageQuick, uc.cfg.QuickTestDistribution)
	p.quick = tests
	return err
}

func (uc *RunOptimization) generateRigorousTests(ctx context.Context, p *pipelineRun) error {
	tests, err := uc.designTests(ctx, p, models.TestStageRigorous, uc.cfg.RigorousTestDistribution)
	p.rigorous = tests
	return err
}

func (uc *RunOptimization) designTests(ctx context.Context, p *pipelineRun, stage models.TestStage, dist models.TestDistribution) ([]*models.TestCase, error) {
	designed, err := uc.oracle.DesignTests(ctx, p.task, stage, dist)
	if err != nil {
		return nil, err
	}
	if len(designed) == 0 {
		return nil, fmt.Errorf("%w: no %s tests designed", domain.ErrEmptyStage, stage)
	}

	now := time.Now().UTC()
	tests := make([]*models.TestCase, 0, len(designed))
	for _, d := range designed {
		tests = append(tests, &models.TestCase{
			ID:               uc.ids.GenerateTestCaseID(),
			Label:            d.ID,
			RunID:            p.id,
			InputMessage:     d.InputMessage,
			ExpectedBehavior: d.ExpectedBehavior,
			Category:         d.Category,
			Stage:            stage,
			CreatedAt:        now,
		})
	}

	err = uc.withTx(ctx, func(ctx context.Context) error {
		for _, tc := range tests {
			if err := uc.repo.SaveTestCase(ctx, tc); err != nil {
				return fmt.Errorf("save test case: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.log.Info().Str("suite", string(stage)).Int("count", len(tests)).Msg("test suite designed")
	return tests, nil
}

func (uc *RunOptimization) evaluateQuick(ctx context.Context, p *pipelineRun) error {
	candidates, err := uc.repo.GetByStage(ctx, p.id, models.StageInitial)
	if err != nil {
		return fmt.Errorf("load initial candidates: %w", err)
	}
	scores, err := uc.engine.EvaluateAll(ctx, p.id, candidates, p.quick, p.task)
	if err != nil {
		return err
	}
	return uc.withTx(ctx, func(ctx context.Context) error {
		for i, c := range candidates {
			c.SetScore(models.ScoreQuick, scores[i])
			if err := uc.repo.SavePrompt(ctx, c); err != nil {
				return fmt.Errorf("save quick score: %w", err)
			}
		}
		return nil
	})
}

func (uc *RunOptimization) selectTopK(ctx context.Context, p *pipelineRun) error {
	top, err := uc.repo.GetTopK(ctx, p.id, models.StageInitial, uc.cfg.TopKAdvance)
	if err != nil {
		return fmt.Errorf("select top-k: %w", err)
	}
	if len(top) == 0 {
		return fmt.Errorf("%w: %s", domain.ErrEmptyStage, models.StageInitial)
	}
	err = uc.withTx(ctx, func(ctx context.Context) error {
		for _, c := range top {
			if err := c.Advance(models.StageQuickFilter); err != nil {
				return err
			}
			if err := uc.repo.SavePrompt(ctx, c); err != nil {
				return fmt.Errorf("advance %s: %w", c.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.finalists = top
	p.log.Info().Int("advanced", len(top)).Msg("quick filter applied")
	return nil
}

// comparisonOriginal returns the original prompt when it should be scored on
// the rigorous suite without competing: it is not already a finalist and
// comparison scoring is enabled. An original that was left out of the
// initial pool is created here.
func (uc *RunOptimization) comparisonOriginal(ctx context.Context, p *pipelineRun) (*models.PromptCandidate, error) {
	if !uc.cfg.EvaluateOriginalForComparison || !p.task.HasOriginalPrompt() {
		return nil, nil
	}
	for _, f := range p.finalists {
		if f.IsOriginalSystemPrompt {
			return nil, nil
		}
	}
	if p.original == nil {
		p.original = uc.newOriginal(p)
		if err := uc.repo.SavePrompt(ctx, p.original); err != nil {
			return nil, fmt.Errorf("save original prompt: %w", err)
		}
	}
	return p.original, nil
}

func (uc *RunOptimization) evaluateRigorous(ctx context.Context, p *pipelineRun) error {
	original, err := uc.comparisonOriginal(ctx, p)
	if err != nil {
		return err
	}

	batch := append([]*models.PromptCandidate(nil), p.finalists...)
	if original != nil {
		batch = append(batch, original)
	}
	scores, err := uc.engine.EvaluateAll(ctx, p.id, batch, p.rigorous, p.task)
	if err != nil {
		return err
	}

	return uc.withTx(ctx, func(ctx context.Context) error {
		for i, c := range batch {
			c.SetScore(models.ScoreRigorous, scores[i])
			if c != original {
				if err := c.Advance(models.StageRigorous); err != nil {
					return err
				}
			}
			if err := uc.repo.SavePrompt(ctx, c); err != nil {
				return fmt.Errorf("save rigorous score: %w", err)
			}
		}
		if original != nil {
			p.log.Info().Float64("score", *original.RigorousScore).Msg("original prompt scored for comparison")
		}
		return nil
	})
}

func (uc *RunOptimization) selectTopM(ctx context.Context, p *pipelineRun) error {
	seeds, err := uc.repo.GetTopK(ctx, p.id, models.StageRigorous, uc.cfg.TopMRefine)
	if err != nil {
		return fmt.Errorf("select top-m: %w", err)
	}
	if len(seeds) == 0 {
		return fmt.Errorf("%w: %s", domain.ErrEmptyStage, models.StageRigorous)
	}
	p.seeds = seeds
	return nil
}

func (uc *RunOptimization) refine(ctx context.Context, p *pipelineRun) error {
	tracks, err := uc.refiner.RunTracks(ctx, p.id, p.seeds, p.rigorous, p.task)
	if err != nil {
		return err
	}
	p.tracks = tracks
	return nil
}

// report assembles the result before recording completion, so a run is only
// ever marked completed once its report data is in hand.
func (uc *RunOptimization) report(ctx context.Context, p *pipelineRun) error {
	champion := models.SelectChampion(p.tracks)
	if champion == nil {
		return fmt.Errorf("%w: no scored prompt on any track", domain.ErrEmptyStage)
	}

	total, err := uc.repo.CountEvaluations(ctx, p.id)
	if err != nil {
		return fmt.Errorf("count evaluations: %w", err)
	}

	result, err := uc.query.BuildResult(ctx, p.id)
	if err != nil {
		return fmt.Errorf("build result: %w", err)
	}
	// Stop reasons observed live are authoritative over replayed ones.
	for _, t := range result.Tracks {
		if t.TrackID < len(p.tracks) {
			t.StopReason = p.tracks[t.TrackID].StopReason
		}
	}
	elapsed := time.Since(p.started).Seconds()
	result.BestPrompt = champion
	result.TotalTestsRun = total
	result.ElapsedSeconds = elapsed

	if err := uc.repo.CompleteRun(ctx, p.id, champion.ID, total, elapsed); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	p.result = result
	return nil
}

func (uc *RunOptimization) withTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if uc.txManager == nil {
		return fn(ctx)
	}
	return uc.txManager.WithTransaction(ctx, fn)
}

func (uc *RunOptimization) publish(evt ports.OptimizationProgressEvent) {
	if uc.publisher != nil {
		uc.publisher.PublishProgress(evt)
	}
}

// IsCancelled reports whether err stems from the caller giving up on the run.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
