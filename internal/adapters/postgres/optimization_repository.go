package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/longregen/promptopt/internal/domain"
	"github.com/longregen/promptopt/internal/domain/models"
	"github.com/longregen/promptopt/internal/ports"
)

// OptimizationRepository implements ports.OptimizationRepository
type OptimizationRepository struct {
	BaseRepository
}

// NewOptimizationRepository creates a new optimization repository
func NewOptimizationRepository(pool *pgxpool.Pool) *OptimizationRepository {
	return &OptimizationRepository{
		BaseRepository: NewBaseRepository(pool),
	}
}

const runColumns = `id, task_description, status, current_stage, champion_prompt_id,
	total_tests_run, elapsed_seconds, error_message, started_at, completed_at, updated_at,
	convergence_threshold, early_stopping_patience, max_iterations_per_track`

const candidateColumns = `id, run_id, prompt_text, stage, strategy, quick_score, rigorous_score,
	average_score, iteration, track_id, parent_prompt_id, is_original_system_prompt, created_at`

const testCaseColumns = `id, label, run_id, input_message, expected_behavior, category, stage, created_at`

const evaluationColumns = `id, run_id, prompt_id, test_case_id, test_label, model_response,
	functionality, safety, consistency, edge_case_handling, reasoning, overall, created_at`

const weaknessColumns = `id, run_id, prompt_id, track_id, iteration, description,
	failed_test_ids, failed_test_descriptions, created_at`

// scoreColumns whitelists the columns GetTopK may order by.
var scoreColumns = map[models.ScoreField]string{
	models.ScoreQuick:    "quick_score",
	models.ScoreRigorous: "rigorous_score",
	models.ScoreAverage:  "average_score",
}

// CreateRun creates a new optimization run
func (r *OptimizationRepository) CreateRun(ctx context.Context, run *models.OptimizationRun) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO optimization_runs (` + runColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.conn(ctx).Exec(ctx, query,
		run.ID,
		run.TaskDescription,
		run.Status,
		nullString(run.CurrentStage),
		nullString(run.ChampionPromptID),
		run.TotalTestsRun,
		run.ElapsedSeconds,
		nullString(run.ErrorMessage),
		run.StartedAt,
		nullTime(run.CompletedAt),
		run.UpdatedAt,
		run.ConvergenceThreshold,
		run.Patience,
		run.MaxIterations,
	)
	return err
}

// GetRun retrieves an optimization run by ID
func (r *OptimizationRepository) GetRun(ctx context.Context, id string) (*models.OptimizationRun, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + runColumns + ` FROM optimization_runs WHERE id = $1`

	run, err := scanRun(r.conn(ctx).QueryRow(ctx, query, id))
	if err != nil {
		if checkNoRows(err) {
			return nil, domain.ErrRunNotFound
		}
		return nil, err
	}
	return run, nil
}

// ListRuns retrieves optimization runs newest first with optional status filtering
func (r *OptimizationRepository) ListRuns(ctx context.Context, opts ports.ListRunsOptions) ([]*models.OptimizationRun, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + runColumns + ` FROM optimization_runs WHERE 1=1`

	args := []interface{}{}
	argPos := 1

	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, opts.Status)
		argPos++
	}

	query += " ORDER BY started_at DESC, id"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]*models.OptimizationRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// UpdateRunStage records the pipeline stage a running run has reached
func (r *OptimizationRepository) UpdateRunStage(ctx context.Context, id, stage string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE optimization_runs
		SET current_stage = $1, updated_at = $2
		WHERE id = $3`

	result, err := r.conn(ctx).Exec(ctx, query, stage, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrRunNotFound
	}
	return nil
}

// CompleteRun marks a run completed with its champion
func (r *OptimizationRepository) CompleteRun(ctx context.Context, id, championID string, totalTests int, elapsedSeconds float64) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	query := `
		UPDATE optimization_runs
		SET status = $1, champion_prompt_id = $2, total_tests_run = $3,
			elapsed_seconds = $4, completed_at = $5, updated_at = $5
		WHERE id = $6`

	result, err := r.conn(ctx).Exec(ctx, query,
		models.OptimizationStatusCompleted, championID, totalTests, elapsedSeconds, now, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrRunNotFound
	}
	return nil
}

// FailRun marks a run failed with the given message. Any champion recorded
// earlier is cleared; a failed run never has one.
func (r *OptimizationRepository) FailRun(ctx context.Context, id, message string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE optimization_runs
		SET status = $1, error_message = $2, champion_prompt_id = NULL,
			completed_at = NULL, updated_at = $3
		WHERE id = $4`

	result, err := r.conn(ctx).Exec(ctx, query,
		models.OptimizationStatusFailed, message, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrRunNotFound
	}
	return nil
}

// SavePrompt upserts a candidate. The WHERE on the conflict branch refuses a
// stage regression, which surfaces as zero affected rows.
func (r *OptimizationRepository) SavePrompt(ctx context.Context, c *models.PromptCandidate) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if !c.Stage.IsValid() {
		return fmt.Errorf("%w: unknown stage %q", domain.ErrInvariantViolation, c.Stage)
	}

	query := `
		INSERT INTO prompt_candidates (` + candidateColumns + `, stage_rank)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			prompt_text = EXCLUDED.prompt_text,
			stage = EXCLUDED.stage,
			stage_rank = EXCLUDED.stage_rank,
			strategy = EXCLUDED.strategy,
			quick_score = EXCLUDED.quick_score,
			rigorous_score = EXCLUDED.rigorous_score,
			average_score = EXCLUDED.average_score,
			iteration = EXCLUDED.iteration,
			track_id = EXCLUDED.track_id,
			parent_prompt_id = EXCLUDED.parent_prompt_id,
			is_original_system_prompt = EXCLUDED.is_original_system_prompt
		WHERE prompt_candidates.stage_rank <= EXCLUDED.stage_rank`

	result, err := r.conn(ctx).Exec(ctx, query,
		c.ID,
		c.RunID,
		c.PromptText,
		string(c.Stage),
		nullString(c.Strategy),
		nullFloatPtr(c.QuickScore),
		nullFloatPtr(c.RigorousScore),
		nullFloatPtr(c.AverageScore),
		c.Iteration,
		nullIntPtr(c.TrackID),
		nullString(c.ParentPromptID),
		c.IsOriginalSystemPrompt,
		c.CreatedAt,
		c.Stage.Rank(),
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: candidate %s cannot regress to stage %s",
			domain.ErrInvariantViolation, c.ID, c.Stage)
	}
	return nil
}

// GetPrompt retrieves a candidate by ID
func (r *OptimizationRepository) GetPrompt(ctx context.Context, id string) (*models.PromptCandidate, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + candidateColumns + ` FROM prompt_candidates WHERE id = $1`

	c, err := scanCandidate(r.conn(ctx).QueryRow(ctx, query, id))
	if err != nil {
		if checkNoRows(err) {
			return nil, domain.ErrPromptNotFound
		}
		return nil, err
	}
	return c, nil
}

// GetByStage returns a run's candidates at the given stage in creation order
func (r *OptimizationRepository) GetByStage(ctx context.Context, runID string, stage models.PromptStage) ([]*models.PromptCandidate, error) {
	query := `
		SELECT ` + candidateColumns + `
		FROM prompt_candidates
		WHERE run_id = $1 AND stage = $2
		ORDER BY created_at, seq`

	return r.queryCandidates(ctx, query, runID, string(stage))
}

// GetTopK returns the k best candidates at a stage, ranked by that stage's score
func (r *OptimizationRepository) GetTopK(ctx context.Context, runID string, stage models.PromptStage, k int) ([]*models.PromptCandidate, error) {
	if k <= 0 {
		return []*models.PromptCandidate{}, nil
	}

	column, ok := scoreColumns[models.StageScoreField(stage)]
	if !ok {
		return nil, fmt.Errorf("%w: no score column for stage %q", domain.ErrInvalidInput, stage)
	}

	query := `
		SELECT ` + candidateColumns + `
		FROM prompt_candidates
		WHERE run_id = $1 AND stage = $2
		ORDER BY ` + column + ` DESC NULLS LAST, created_at, seq
		LIMIT $3`

	return r.queryCandidates(ctx, query, runID, string(stage), k)
}

// GetByTrack returns a refinement track's prompts in iteration order
func (r *OptimizationRepository) GetByTrack(ctx context.Context, runID string, trackID int) ([]*models.PromptCandidate, error) {
	query := `
		SELECT ` + candidateColumns + `
		FROM prompt_candidates
		WHERE run_id = $1 AND track_id = $2
		ORDER BY iteration, created_at, seq`

	return r.queryCandidates(ctx, query, runID, trackID)
}

// GetOriginalPrompt returns the run's original system prompt, or nil when there is none
func (r *OptimizationRepository) GetOriginalPrompt(ctx context.Context, runID string) (*models.PromptCandidate, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + candidateColumns + `
		FROM prompt_candidates
		WHERE run_id = $1 AND is_original_system_prompt
		ORDER BY seq
		LIMIT 1`

	c, err := scanCandidate(r.conn(ctx).QueryRow(ctx, query, runID))
	if err != nil {
		if checkNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

func (r *OptimizationRepository) queryCandidates(ctx context.Context, query string, args ...any) ([]*models.PromptCandidate, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	candidates := make([]*models.PromptCandidate, 0)
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// SaveTestCase stores a test case. Re-saving an existing ID is a no-op.
func (r *OptimizationRepository) SaveTestCase(ctx context.Context, tc *models.TestCase) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO test_cases (` + testCaseColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`

	_, err := r.conn(ctx).Exec(ctx, query,
		tc.ID,
		nullString(tc.Label),
		tc.RunID,
		tc.InputMessage,
		tc.ExpectedBehavior,
		string(tc.Category),
		string(tc.Stage),
		tc.CreatedAt,
	)
	return err
}

// GetTestCasesByStage returns a run's suite for one stage in creation order
func (r *OptimizationRepository) GetTestCasesByStage(ctx context.Context, runID string, stage models.TestStage) ([]*models.TestCase, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + testCaseColumns + `
		FROM test_cases
		WHERE run_id = $1 AND stage = $2
		ORDER BY created_at, seq`

	rows, err := r.conn(ctx).Query(ctx, query, runID, string(stage))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tests := make([]*models.TestCase, 0)
	for rows.Next() {
		var tc models.TestCase
		var label sql.NullString
		var category, testStage string

		if err := rows.Scan(
			&tc.ID,
			&label,
			&tc.RunID,
			&tc.InputMessage,
			&tc.ExpectedBehavior,
			&category,
			&testStage,
			&tc.CreatedAt,
		); err != nil {
			return nil, err
		}

		tc.Label = getString(label)
		tc.Category = models.TestCategory(category)
		tc.Stage = models.TestStage(testStage)
		tests = append(tests, &tc)
	}
	return tests, rows.Err()
}

// SaveEvaluation appends one evaluation row
func (r *OptimizationRepository) SaveEvaluation(ctx context.Context, result *models.TestResult) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO evaluations (` + evaluationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.conn(ctx).Exec(ctx, query,
		result.ID,
		result.RunID,
		result.PromptID,
		result.TestCaseID,
		nullString(result.TestLabel),
		result.ModelResponse,
		result.Score.Functionality,
		result.Score.Safety,
		result.Score.Consistency,
		result.Score.EdgeCaseHandling,
		result.Score.Reasoning,
		result.Score.Overall,
		result.CreatedAt,
	)
	return err
}

// GetEvaluationsByPrompt returns every evaluation of one prompt in creation order
func (r *OptimizationRepository) GetEvaluationsByPrompt(ctx context.Context, promptID string) ([]*models.TestResult, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + evaluationColumns + `
		FROM evaluations
		WHERE prompt_id = $1
		ORDER BY created_at, seq`

	rows, err := r.conn(ctx).Query(ctx, query, promptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]*models.TestResult, 0)
	for rows.Next() {
		var res models.TestResult
		var label sql.NullString

		if err := rows.Scan(
			&res.ID,
			&res.RunID,
			&res.PromptID,
			&res.TestCaseID,
			&label,
			&res.ModelResponse,
			&res.Score.Functionality,
			&res.Score.Safety,
			&res.Score.Consistency,
			&res.Score.EdgeCaseHandling,
			&res.Score.Reasoning,
			&res.Score.Overall,
			&res.CreatedAt,
		); err != nil {
			return nil, err
		}

		res.TestLabel = getString(label)
		results = append(results, &res)
	}
	return results, rows.Err()
}

// CountEvaluations returns the number of evaluations recorded for a run
func (r *OptimizationRepository) CountEvaluations(ctx context.Context, runID string) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var count int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM evaluations WHERE run_id = $1`, runID).Scan(&count)
	return count, err
}

// SaveWeaknessAnalysis stores the weakness summary that fed one refinement iteration
func (r *OptimizationRepository) SaveWeaknessAnalysis(ctx context.Context, w *models.WeaknessAnalysis) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	ids, err := marshalStrings(w.FailedTestIDs)
	if err != nil {
		return err
	}
	descriptions, err := marshalStrings(w.FailedTestDescriptions)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO weakness_analyses (` + weaknessColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = r.conn(ctx).Exec(ctx, query,
		w.ID,
		w.RunID,
		w.PromptID,
		w.TrackID,
		w.Iteration,
		w.Description,
		ids,
		descriptions,
		w.CreatedAt,
	)
	return err
}

// GetWeaknessAnalyses returns a track's weakness records in iteration order
func (r *OptimizationRepository) GetWeaknessAnalyses(ctx context.Context, runID string, trackID int) ([]*models.WeaknessAnalysis, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + weaknessColumns + `
		FROM weakness_analyses
		WHERE run_id = $1 AND track_id = $2
		ORDER BY iteration, seq`

	rows, err := r.conn(ctx).Query(ctx, query, runID, trackID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	analyses := make([]*models.WeaknessAnalysis, 0)
	for rows.Next() {
		var w models.WeaknessAnalysis
		var ids, descriptions []byte

		if err := rows.Scan(
			&w.ID,
			&w.RunID,
			&w.PromptID,
			&w.TrackID,
			&w.Iteration,
			&w.Description,
			&ids,
			&descriptions,
			&w.CreatedAt,
		); err != nil {
			return nil, err
		}

		if w.FailedTestIDs, err = unmarshalJSONSlice[string](ids); err != nil {
			return nil, fmt.Errorf("decode failed_test_ids: %w", err)
		}
		if w.FailedTestDescriptions, err = unmarshalJSONSlice[string](descriptions); err != nil {
			return nil, fmt.Errorf("decode failed_test_descriptions: %w", err)
		}
		analyses = append(analyses, &w)
	}
	return analyses, rows.Err()
}

func scanRun(row pgx.Row) (*models.OptimizationRun, error) {
	var run models.OptimizationRun
	var currentStage, championID, errorMessage sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&run.ID,
		&run.TaskDescription,
		&run.Status,
		&currentStage,
		&championID,
		&run.TotalTestsRun,
		&run.ElapsedSeconds,
		&errorMessage,
		&run.StartedAt,
		&completedAt,
		&run.UpdatedAt,
		&run.ConvergenceThreshold,
		&run.Patience,
		&run.MaxIterations,
	)
	if err != nil {
		return nil, err
	}

	run.CurrentStage = getString(currentStage)
	run.ChampionPromptID = getString(championID)
	run.ErrorMessage = getString(errorMessage)
	run.CompletedAt = getTimePtr(completedAt)
	return &run, nil
}

func scanCandidate(row pgx.Row) (*models.PromptCandidate, error) {
	var c models.PromptCandidate
	var stage string
	var strategy, parentID sql.NullString
	var quick, rigorous, average sql.NullFloat64
	var trackID sql.NullInt32

	err := row.Scan(
		&c.ID,
		&c.RunID,
		&c.PromptText,
		&stage,
		&strategy,
		&quick,
		&rigorous,
		&average,
		&c.Iteration,
		&trackID,
		&parentID,
		&c.IsOriginalSystemPrompt,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Stage = models.PromptStage(stage)
	c.Strategy = getString(strategy)
	c.QuickScore = getFloatPtr(quick)
	c.RigorousScore = getFloatPtr(rigorous)
	c.AverageScore = getFloatPtr(average)
	c.TrackID = getIntPtr(trackID)
	c.ParentPromptID = getString(parentID)
	return &c, nil
}
