package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longregen/promptopt/internal/domain"
	"github.com/longregen/promptopt/internal/domain/models"
)

// seedFinishedRun stores a run with one original prompt, two tracks and
// evaluations on both suites.
func seedFinishedRun(t *testing.T, repo *mockOptimizationRepo) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.CreateRun(ctx, models.NewOptimizationRun("aor_1", "task")))

	for _, tc := range append(makeTests("aor_1", models.TestStageQuick, "q"), makeTests("aor_1", models.TestStageRigorous, "r")...) {
		require.NoError(t, repo.SaveTestCase(ctx, tc))
	}

	original := models.NewPromptCandidate("apc_orig", "aor_1", "orig", models.StrategyOriginal)
	original.IsOriginalSystemPrompt = true
	original.SetScore(models.ScoreQuick, 5)
	original.SetScore(models.ScoreRigorous, 6.5)
	require.NoError(t, repo.SavePrompt(ctx, original))

	for track, seedScore := range []float64{8.1, 7.0} {
		seed := models.NewPromptCandidate([]string{"apc_s0", "apc_s1"}[track], "aor_1", "seed", "s")
		seed.Stage = models.StageRigorous
		seed.SetTrack(track)
		seed.SetScore(models.ScoreRigorous, seedScore)
		require.NoError(t, repo.SavePrompt(ctx, seed))

		refined := models.NewRefinedCandidate([]string{"apc_r0", "apc_r1"}[track], seed, "refined", 1)
		refined.SetScore(models.ScoreRigorous, []float64{8.0, 7.5}[track])
		require.NoError(t, repo.SavePrompt(ctx, refined))
	}

	for _, r := range []*models.TestResult{
		{ID: "ape_1", RunID: "aor_1", PromptID: "apc_orig", TestCaseID: "atc_quick_0", Score: models.EvaluationScore{Overall: 5}},
		{ID: "ape_2", RunID: "aor_1", PromptID: "apc_orig", TestCaseID: "atc_rigorous_0", Score: models.EvaluationScore{Overall: 6.5}},
		{ID: "ape_3", RunID: "aor_1", PromptID: "apc_s0", TestCaseID: "atc_quick_0", Score: models.EvaluationScore{Overall: 9}},
		{ID: "ape_4", RunID: "aor_1", PromptID: "apc_s0", TestCaseID: "atc_rigorous_0", Score: models.EvaluationScore{Overall: 8.1}},
	} {
		require.NoError(t, repo.SaveEvaluation(ctx, r))
	}
}

func TestQueryService_BuildResult(t *testing.T) {
	repo := newMockOptimizationRepo()
	seedFinishedRun(t, repo)
	require.NoError(t, repo.CompleteRun(context.Background(), "aor_1", "apc_s0", 4, 12.5))

	svc := NewOptimizationQueryService(repo, refinementConfig(1, 1))
	res, err := svc.BuildResult(context.Background(), "aor_1")
	require.NoError(t, err)

	require.NotNil(t, res.BestPrompt)
	assert.Equal(t, "apc_s0", res.BestPrompt.ID)
	assert.Equal(t, 4, res.TotalTestsRun)
	assert.InDelta(t, 12.5, res.ElapsedSeconds, 1e-9)

	require.Len(t, res.Tracks, 2)
	assert.Equal(t, 0, res.Tracks[0].TrackID)
	assert.Equal(t, "apc_s0", res.Tracks[0].FinalPrompt.ID)
	assert.Equal(t, models.StopConverged, res.Tracks[0].StopReason)
	assert.Equal(t, "apc_r1", res.Tracks[1].FinalPrompt.ID)
	assert.Equal(t, models.StopMaxIterations, res.Tracks[1].StopReason)

	require.NotNil(t, res.OriginalPrompt)
	require.NotNil(t, res.OriginalRigorousScore)
	assert.InDelta(t, 6.5, *res.OriginalRigorousScore, 1e-9)
	require.Len(t, res.OriginalResults, 1, "only rigorous results are reported")
	assert.Equal(t, "ape_2", res.OriginalResults[0].ID)
	require.Len(t, res.ChampionResults, 1)
	assert.Equal(t, "ape_4", res.ChampionResults[0].ID)
}

func TestQueryService_BuildResult_RunningRunPicksBestSoFar(t *testing.T) {
	repo := newMockOptimizationRepo()
	seedFinishedRun(t, repo)

	res, err := NewOptimizationQueryService(repo, refinementConfig(5, 3)).BuildResult(context.Background(), "aor_1")
	require.NoError(t, err)
	assert.Equal(t, "apc_s0", res.BestPrompt.ID)
	assert.Empty(t, res.Tracks[0].StopReason, "track still in progress")
}

func TestQueryService_StopReasonOfFailedRun(t *testing.T) {
	repo := newMockOptimizationRepo()
	seedFinishedRun(t, repo)
	require.NoError(t, repo.FailRun(context.Background(), "aor_1", "oracle down"))

	track, err := NewOptimizationQueryService(repo, refinementConfig(5, 3)).GetTrack(context.Background(), "aor_1", 1)
	require.NoError(t, err)
	assert.Equal(t, models.StopCancelled, track.StopReason)
	assert.Len(t, track.Iterations, 2)
}

func TestQueryService_StopReasonUsesRecordedSettings(t *testing.T) {
	repo := newMockOptimizationRepo()
	seedFinishedRun(t, repo)
	require.NoError(t, repo.updateRun("aor_1", func(r *models.OptimizationRun) {
		r.ConvergenceThreshold, r.Patience, r.MaxIterations = 0.02, 1, 1
	}))

	// The service's own settings would leave track 1 in progress.
	track, err := NewOptimizationQueryService(repo, refinementConfig(5, 3)).GetTrack(context.Background(), "aor_1", 1)
	require.NoError(t, err)
	assert.Equal(t, models.StopMaxIterations, track.StopReason)
}

func TestQueryService_Lookups(t *testing.T) {
	repo := newMockOptimizationRepo()
	seedFinishedRun(t, repo)
	svc := NewOptimizationQueryService(repo, refinementConfig(1, 1))
	ctx := context.Background()

	all, err := svc.GetAllCandidates(ctx, "aor_1")
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "apc_orig", all[0].ID, "initial stage first")
	assert.Equal(t, models.StageRefined, all[4].Stage)

	rigorous, err := svc.GetCandidates(ctx, "aor_1", models.StageRigorous)
	require.NoError(t, err)
	assert.Len(t, rigorous, 2)

	_, err = svc.GetCandidates(ctx, "aor_1", models.PromptStage("bogus"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.GetCandidates(ctx, "aor_missing", models.StageInitial)
	assert.ErrorIs(t, err, domain.ErrRunNotFound)

	_, err = svc.GetTrack(ctx, "aor_1", 9)
	assert.ErrorIs(t, err, domain.ErrPromptNotFound)

	evals, err := svc.GetEvaluations(ctx, "apc_orig")
	require.NoError(t, err)
	assert.Len(t, evals, 2)

	_, err = svc.GetEvaluations(ctx, "apc_missing")
	assert.ErrorIs(t, err, domain.ErrPromptNotFound)
}

func TestQueryService_RejectsMalformedIDs(t *testing.T) {
	repo := newMockOptimizationRepo()
	seedFinishedRun(t, repo)
	svc := NewOptimizationQueryService(repo, refinementConfig(1, 1))
	ctx := context.Background()

	_, err := svc.GetRun(ctx, "apc_orig")
	assert.ErrorIs(t, err, domain.ErrInvalidID)

	_, err = svc.BuildResult(ctx, "")
	assert.ErrorIs(t, err, domain.ErrInvalidID)

	_, err = svc.GetEvaluations(ctx, "aor_1")
	assert.ErrorIs(t, err, domain.ErrInvalidID)

	_, err = svc.GetTrack(ctx, "aor_1", -1)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
