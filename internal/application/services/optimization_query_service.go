package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/longregen/promptopt/internal/domain"
	"github.com/longregen/promptopt/internal/domain/models"
	"github.com/longregen/promptopt/internal/ports"
	"github.com/longregen/promptopt/internal/prompt"
)

// maxTrackID bounds track lookups; runs never refine more candidates than this.
const maxTrackID = 1024

var allStages = []models.PromptStage{
	models.StageInitial,
	models.StageQuickFilter,
	models.StageRigorous,
	models.StageRefined,
}

// OptimizationQueryService rebuilds run views from the repository alone, so
// it serves finished, failed and in-flight runs alike.
type OptimizationQueryService struct {
	repo ports.OptimizationRepository
	cfg  RefinementConfig
}

var _ ports.OptimizationQueryService = (*OptimizationQueryService)(nil)

func NewOptimizationQueryService(repo ports.OptimizationRepository, cfg RefinementConfig) *OptimizationQueryService {
	return &OptimizationQueryService{repo: repo, cfg: cfg}
}

func (s *OptimizationQueryService) ListRuns(ctx context.Context, opts ports.ListRunsOptions) ([]*models.OptimizationRun, error) {
	return s.repo.ListRuns(ctx, opts)
}

func (s *OptimizationQueryService) GetRun(ctx context.Context, runID string) (*models.OptimizationRun, error) {
	if err := validateRunID(runID); err != nil {
		return nil, err
	}
	return s.repo.GetRun(ctx, runID)
}

func (s *OptimizationQueryService) GetCandidates(ctx context.Context, runID string, stage models.PromptStage) ([]*models.PromptCandidate, error) {
	if !stage.IsValid() {
		return nil, domain.NewDomainError(domain.ErrInvalidInput, fmt.Sprintf("unknown stage %q", stage))
	}
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return s.repo.GetByStage(ctx, runID, stage)
}

// GetAllCandidates returns every candidate of the run grouped by stage.
func (s *OptimizationQueryService) GetAllCandidates(ctx context.Context, runID string) ([]*models.PromptCandidate, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return s.candidates(ctx, runID)
}

func (s *OptimizationQueryService) candidates(ctx context.Context, runID string) ([]*models.PromptCandidate, error) {
	var all []*models.PromptCandidate
	for _, stage := range allStages {
		cs, err := s.repo.GetByStage(ctx, runID, stage)
		if err != nil {
			return nil, err
		}
		all = append(all, cs...)
	}
	return all, nil
}

// GetTrack returns the derived view of one track, or ErrPromptNotFound when
// the track has no prompts.
func (s *OptimizationQueryService) GetTrack(ctx context.Context, runID string, trackID int) (*models.RefinementTrackResult, error) {
	if err := ValidateRange(trackID, "track", 0, maxTrackID); err != nil {
		return nil, err
	}
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	prompts, err := s.repo.GetByTrack(ctx, runID, trackID)
	if err != nil {
		return nil, err
	}
	if len(prompts) == 0 {
		return nil, domain.NewDomainError(domain.ErrPromptNotFound, fmt.Sprintf("run %s has no track %d", runID, trackID))
	}
	res := models.NewRefinementTrackResult(trackID, prompts)
	res.StopReason = s.replayStopReason(res.Scores, run)
	return res, nil
}

func (s *OptimizationQueryService) GetEvaluations(ctx context.Context, promptID string) ([]*models.TestResult, error) {
	if err := validatePromptID(promptID); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetPrompt(ctx, promptID); err != nil {
		return nil, err
	}
	return s.repo.GetEvaluationsByPrompt(ctx, promptID)
}

// BuildResult assembles the report view of a run. The champion is the
// recorded one when the run completed, otherwise the best track prompt so far.
func (s *OptimizationQueryService) BuildResult(ctx context.Context, runID string) (*models.OptimizationResult, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	trackIDs, err := s.trackIDs(ctx, runID)
	if err != nil {
		return nil, err
	}
	tracks := make([]*models.RefinementTrackResult, 0, len(trackIDs))
	for _, id := range trackIDs {
		prompts, err := s.repo.GetByTrack(ctx, runID, id)
		if err != nil {
			return nil, err
		}
		t := models.NewRefinementTrackResult(id, prompts)
		t.StopReason = s.replayStopReason(t.Scores, run)
		if t.Weaknesses, err = s.repo.GetWeaknessAnalyses(ctx, runID, id); err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}

	champion := models.SelectChampion(tracks)
	if run.ChampionPromptID != "" {
		if champion, err = s.repo.GetPrompt(ctx, run.ChampionPromptID); err != nil {
			return nil, err
		}
	}

	total, err := s.repo.CountEvaluations(ctx, runID)
	if err != nil {
		return nil, err
	}

	result := &models.OptimizationResult{
		RunID:          runID,
		BestPrompt:     champion,
		Tracks:         tracks,
		TotalTestsRun:  total,
		ElapsedSeconds: run.ElapsedSeconds,
	}

	rigorous, err := s.repo.GetTestCasesByStage(ctx, runID, models.TestStageRigorous)
	if err != nil {
		return nil, err
	}
	result.RigorousTests = rigorous
	suite := suiteOf(rigorous)

	quick, err := s.repo.GetTestCasesByStage(ctx, runID, models.TestStageQuick)
	if err != nil {
		return nil, err
	}
	result.QuickTests = quick

	if result.Candidates, err = s.candidates(ctx, runID); err != nil {
		return nil, err
	}

	if champion != nil {
		evals, err := s.repo.GetEvaluationsByPrompt(ctx, champion.ID)
		if err != nil {
			return nil, err
		}
		result.ChampionResults = filterSuite(evals, suite)
	}

	original, err := s.repo.GetOriginalPrompt(ctx, runID)
	if err != nil {
		return nil, err
	}
	if original != nil {
		result.OriginalPrompt = original
		result.OriginalRigorousScore = original.RigorousScore
		evals, err := s.repo.GetEvaluationsByPrompt(ctx, original.ID)
		if err != nil {
			return nil, err
		}
		result.OriginalResults = filterSuite(evals, suite)
		result.OriginalQuickResults = filterSuite(evals, suiteOf(quick))
	}

	return result, nil
}

// trackIDs lists the tracks of a run. Every track seed sits in the rigorous stage.
func (s *OptimizationQueryService) trackIDs(ctx context.Context, runID string) ([]int, error) {
	seeds, err := s.repo.GetByStage(ctx, runID, models.StageRigorous)
	if err != nil {
		return nil, err
	}
	seen := make(map[int]bool)
	var ids []int
	for _, c := range seeds {
		if c.HasTrack() && !seen[*c.TrackID] {
			seen[*c.TrackID] = true
			ids = append(ids, *c.TrackID)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

// trackSettings returns the settings the run's tracks ran under. Runs that
// predate recorded settings fall back to the service configuration.
func (s *OptimizationQueryService) trackSettings(run *models.OptimizationRun) RefinementConfig {
	cfg := s.cfg
	if run.HasRefinementSettings() {
		cfg.ConvergenceThreshold = run.ConvergenceThreshold
		cfg.Patience = run.Patience
		cfg.MaxIterations = run.MaxIterations
	}
	return cfg
}

// replayStopReason re-runs the acceptance rule over persisted scores. A track
// that stopped early without exhausting patience was cut short.
func (s *OptimizationQueryService) replayStopReason(scores []float64, run *models.OptimizationRun) string {
	if len(scores) == 0 {
		return ""
	}
	cfg := s.trackSettings(run)
	conv := prompt.NewConvergence(scores[0])
	for _, sc := range scores[1:] {
		conv.Decide(sc, cfg.ConvergenceThreshold)
	}
	switch {
	case conv.Converged(cfg.Patience):
		return models.StopConverged
	case conv.Iteration >= cfg.MaxIterations:
		return models.StopMaxIterations
	case run.IsRunning():
		return ""
	default:
		return models.StopCancelled
	}
}
