package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/longregen/promptopt/internal/domain"
	"github.com/longregen/promptopt/internal/domain/models"
	"github.com/longregen/promptopt/internal/ports"
)

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

var scoreColumns = map[models.ScoreField]string{
	models.ScoreQuick:    "quick_score",
	models.ScoreRigorous: "rigorous_score",
	models.ScoreAverage:  "average_score",
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) CreateRun(ctx context.Context, run *models.OptimizationRun) error {
	var completedAt sql.NullString
	if run.CompletedAt != nil {
		completedAt = sql.NullString{String: formatTime(*run.CompletedAt), Valid: true}
	}

	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO optimization_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.TaskDescription,
		run.Status,
		nullString(run.CurrentStage),
		nullString(run.ChampionPromptID),
		run.TotalTestsRun,
		run.ElapsedSeconds,
		nullString(run.ErrorMessage),
		formatTime(run.StartedAt),
		completedAt,
		formatTime(run.UpdatedAt),
		run.ConvergenceThreshold,
		run.Patience,
		run.MaxIterations,
	)
	if err != nil {
		return fmt.Errorf("sqlite: create run: %w", err)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*models.OptimizationRun, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+runColumns+` FROM optimization_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get run: %w", err)
	}
	return run, nil
}

func (s *Store) ListRuns(ctx context.Context, opts ports.ListRunsOptions) ([]*models.OptimizationRun, error) {
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
	args := []any{}
	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, opts.Status)
	}
	query += " ORDER BY started_at DESC, id LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*models.OptimizationRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *Store) UpdateRunStage(ctx context.Context, id, stage string) error {
	return s.updateRun(ctx, `UPDATE optimization_runs SET current_stage = ?, updated_at = ? WHERE id = ?`,
		stage, formatTime(time.Now()), id)
}

func (s *Store) CompleteRun(ctx context.Context, id, championID string, totalTests int, elapsedSeconds float64) error {
	now := formatTime(time.Now())
	return s.updateRun(ctx, `
		UPDATE optimization_runs
		SET status = ?, champion_prompt_id = ?, total_tests_run = ?, elapsed_seconds = ?,
			completed_at = ?, updated_at = ?
		WHERE id = ?`,
		models.OptimizationStatusCompleted, championID, totalTests, elapsedSeconds, now, now, id)
}

// FailRun marks the run failed and drops any champion recorded before the failure.
func (s *Store) FailRun(ctx context.Context, id, message string) error {
	return s.updateRun(ctx, `
		UPDATE optimization_runs
		SET status = ?, error_message = ?, champion_prompt_id = NULL, completed_at = NULL, updated_at = ?
		WHERE id = ?`,
		models.OptimizationStatusFailed, message, formatTime(time.Now()), id)
}

func (s *Store) updateRun(ctx context.Context, query string, args ...any) error {
	res, err := s.conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlite: update run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: update run: %w", err)
	}
	if n == 0 {
		return domain.ErrRunNotFound
	}
	return nil
}

// SavePrompt upserts a candidate. A stored row at a later stage is left
// untouched and the call fails with ErrInvariantViolation.
func (s *Store) SavePrompt(ctx context.Context, c *models.PromptCandidate) error {
	if !c.Stage.IsValid() {
		return fmt.Errorf("%w: unknown stage %q", domain.ErrInvariantViolation, c.Stage)
	}

	res, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO prompt_candidates (`+candidateColumns+`, stage_rank)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			prompt_text = excluded.prompt_text,
			stage = excluded.stage,
			stage_rank = excluded.stage_rank,
			strategy = excluded.strategy,
			quick_score = excluded.quick_score,
			rigorous_score = excluded.rigorous_score,
			average_score = excluded.average_score,
			iteration = excluded.iteration,
			track_id = excluded.track_id,
			parent_prompt_id = excluded.parent_prompt_id,
			is_original_system_prompt = excluded.is_original_system_prompt
		WHERE prompt_candidates.stage_rank <= excluded.stage_rank`,
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
		formatTime(c.CreatedAt),
		c.Stage.Rank(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save prompt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: save prompt: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: candidate %s cannot regress to stage %s",
			domain.ErrInvariantViolation, c.ID, c.Stage)
	}
	return nil
}

func (s *Store) GetPrompt(ctx context.Context, id string) (*models.PromptCandidate, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+candidateColumns+` FROM prompt_candidates WHERE id = ?`, id)
	c, err := scanCandidate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPromptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get prompt: %w", err)
	}
	return c, nil
}

func (s *Store) GetByStage(ctx context.Context, runID string, stage models.PromptStage) ([]*models.PromptCandidate, error) {
	return s.queryCandidates(ctx, `
		SELECT `+candidateColumns+`
		FROM prompt_candidates
		WHERE run_id = ? AND stage = ?
		ORDER BY created_at, seq`, runID, string(stage))
}

func (s *Store) GetTopK(ctx context.Context, runID string, stage models.PromptStage, k int) ([]*models.PromptCandidate, error) {
	if k <= 0 {
		return []*models.PromptCandidate{}, nil
	}
	column, ok := scoreColumns[models.StageScoreField(stage)]
	if !ok {
		return nil, fmt.Errorf("%w: no score column for stage %q", domain.ErrInvalidInput, stage)
	}

	return s.queryCandidates(ctx, `
		SELECT `+candidateColumns+`
		FROM prompt_candidates
		WHERE run_id = ? AND stage = ?
		ORDER BY `+column+` IS NULL, `+column+` DESC, created_at, seq
		LIMIT ?`, runID, string(stage), k)
}

func (s *Store) GetByTrack(ctx context.Context, runID string, trackID int) ([]*models.PromptCandidate, error) {
	return s.queryCandidates(ctx, `
		SELECT `+candidateColumns+`
		FROM prompt_candidates
		WHERE run_id = ? AND track_id = ?
		ORDER BY iteration, created_at, seq`, runID, trackID)
}

func (s *Store) GetOriginalPrompt(ctx context.Context, runID string) (*models.PromptCandidate, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `
		SELECT `+candidateColumns+`
		FROM prompt_candidates
		WHERE run_id = ? AND is_original_system_prompt = 1
		ORDER BY seq
		LIMIT 1`, runID)
	c, err := scanCandidate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get original prompt: %w", err)
	}
	return c, nil
}

// queryCandidates drains the cursor before returning; with a single
// connection an open cursor would block the next statement.
func (s *Store) queryCandidates(ctx context.Context, query string, args ...any) ([]*models.PromptCandidate, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query prompts: %w", err)
	}
	defer rows.Close()

	candidates := make([]*models.PromptCandidate, 0)
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan prompt: %w", err)
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

func (s *Store) SaveTestCase(ctx context.Context, tc *models.TestCase) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO test_cases (`+testCaseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		tc.ID,
		nullString(tc.Label),
		tc.RunID,
		tc.InputMessage,
		tc.ExpectedBehavior,
		string(tc.Category),
		string(tc.Stage),
		formatTime(tc.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save test case: %w", err)
	}
	return nil
}

func (s *Store) GetTestCasesByStage(ctx context.Context, runID string, stage models.TestStage) ([]*models.TestCase, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+testCaseColumns+`
		FROM test_cases
		WHERE run_id = ? AND stage = ?
		ORDER BY created_at, seq`, runID, string(stage))
	if err != nil {
		return nil, fmt.Errorf("sqlite: query test cases: %w", err)
	}
	defer rows.Close()

	tests := make([]*models.TestCase, 0)
	for rows.Next() {
		var tc models.TestCase
		var label sql.NullString
		var category, testStage, createdAt string

		if err := rows.Scan(&tc.ID, &label, &tc.RunID, &tc.InputMessage, &tc.ExpectedBehavior,
			&category, &testStage, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan test case: %w", err)
		}
		if tc.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		tc.Label = label.String
		tc.Category = models.TestCategory(category)
		tc.Stage = models.TestStage(testStage)
		tests = append(tests, &tc)
	}
	return tests, rows.Err()
}

func (s *Store) SaveEvaluation(ctx context.Context, result *models.TestResult) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO evaluations (`+evaluationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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
		formatTime(result.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save evaluation: %w", err)
	}
	return nil
}

func (s *Store) GetEvaluationsByPrompt(ctx context.Context, promptID string) ([]*models.TestResult, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+evaluationColumns+`
		FROM evaluations
		WHERE prompt_id = ?
		ORDER BY created_at, seq`, promptID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query evaluations: %w", err)
	}
	defer rows.Close()

	results := make([]*models.TestResult, 0)
	for rows.Next() {
		var r models.TestResult
		var label sql.NullString
		var createdAt string

		if err := rows.Scan(&r.ID, &r.RunID, &r.PromptID, &r.TestCaseID, &label, &r.ModelResponse,
			&r.Score.Functionality, &r.Score.Safety, &r.Score.Consistency, &r.Score.EdgeCaseHandling,
			&r.Score.Reasoning, &r.Score.Overall, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan evaluation: %w", err)
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		r.TestLabel = label.String
		results = append(results, &r)
	}
	return results, rows.Err()
}

func (s *Store) CountEvaluations(ctx context.Context, runID string) (int, error) {
	var count int
	err := s.conn(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM evaluations WHERE run_id = ?`, runID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count evaluations: %w", err)
	}
	return count, nil
}

func (s *Store) SaveWeaknessAnalysis(ctx context.Context, w *models.WeaknessAnalysis) error {
	ids, err := marshalStrings(w.FailedTestIDs)
	if err != nil {
		return err
	}
	descriptions, err := marshalStrings(w.FailedTestDescriptions)
	if err != nil {
		return err
	}

	_, err = s.conn(ctx).ExecContext(ctx, `
		INSERT INTO weakness_analyses (`+weaknessColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.RunID, w.PromptID, w.TrackID, w.Iteration, w.Description,
		ids, descriptions, formatTime(w.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save weakness analysis: %w", err)
	}
	return nil
}

func (s *Store) GetWeaknessAnalyses(ctx context.Context, runID string, trackID int) ([]*models.WeaknessAnalysis, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+weaknessColumns+`
		FROM weakness_analyses
		WHERE run_id = ? AND track_id = ?
		ORDER BY iteration, seq`, runID, trackID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query weakness analyses: %w", err)
	}
	defer rows.Close()

	analyses := make([]*models.WeaknessAnalysis, 0)
	for rows.Next() {
		var w models.WeaknessAnalysis
		var ids, descriptions, createdAt string

		if err := rows.Scan(&w.ID, &w.RunID, &w.PromptID, &w.TrackID, &w.Iteration, &w.Description,
			&ids, &descriptions, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan weakness analysis: %w", err)
		}
		if err := json.Unmarshal([]byte(ids), &w.FailedTestIDs); err != nil {
			return nil, fmt.Errorf("sqlite: decode failed_test_ids: %w", err)
		}
		if err := json.Unmarshal([]byte(descriptions), &w.FailedTestDescriptions); err != nil {
			return nil, fmt.Errorf("sqlite: decode failed_test_descriptions: %w", err)
		}
		if w.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		analyses = append(analyses, &w)
	}
	return analyses, rows.Err()
}

func marshalStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func scanRun(row rowScanner) (*models.OptimizationRun, error) {
	var run models.OptimizationRun
	var currentStage, championID, errorMessage, completedAt sql.NullString
	var startedAt, updatedAt string

	if err := row.Scan(&run.ID, &run.TaskDescription, &run.Status, &currentStage, &championID,
		&run.TotalTestsRun, &run.ElapsedSeconds, &errorMessage, &startedAt, &completedAt, &updatedAt,
		&run.ConvergenceThreshold, &run.Patience, &run.MaxIterations); err != nil {
		return nil, err
	}

	var err error
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if run.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t, err := parseTime(completedAt.String)
		if err != nil {
			return nil, err
		}
		run.CompletedAt = &t
	}
	run.CurrentStage = currentStage.String
	run.ChampionPromptID = championID.String
	run.ErrorMessage = errorMessage.String
	return &run, nil
}

func scanCandidate(row rowScanner) (*models.PromptCandidate, error) {
	var c models.PromptCandidate
	var stage, createdAt string
	var strategy, parentID sql.NullString
	var quick, rigorous, average sql.NullFloat64
	var trackID sql.NullInt64

	if err := row.Scan(&c.ID, &c.RunID, &c.PromptText, &stage, &strategy, &quick, &rigorous,
		&average, &c.Iteration, &trackID, &parentID, &c.IsOriginalSystemPrompt, &createdAt); err != nil {
		return nil, err
	}

	created, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	c.CreatedAt = created
	c.Stage = models.PromptStage(stage)
	c.Strategy = strategy.String
	c.ParentPromptID = parentID.String
	if quick.Valid {
		v := quick.Float64
		c.QuickScore = &v
	}
	if rigorous.Valid {
		v := rigorous.Float64
		c.RigorousScore = &v
	}
	if average.Valid {
		v := average.Float64
		c.AverageScore = &v
	}
	if trackID.Valid {
		t := int(trackID.Int64)
		c.TrackID = &t
	}
	return &c, nil
}
