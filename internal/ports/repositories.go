package ports

import (
	"context"

	"github.com/longregen/promptopt/internal/domain/models"
)

// IDGenerator defines the interface for generating unique IDs
type IDGenerator interface {
	GenerateRunID() string
	GeneratePromptID() string
	GenerateTestCaseID() string
	GenerateEvaluationID() string
	GenerateWeaknessID() string
}

// TransactionManager runs fn with a transaction carried in its context.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// ListRunsOptions filters ListRuns.
type ListRunsOptions struct {
	Status string
	Limit  int
	Offset int
}

// OptimizationRepository is the run-scoped store of prompts, test cases,
// evaluations and weakness records. Every write is visible to subsequent
// reads of the same run. Evaluation rows are append-only.
type OptimizationRepository interface {
	// Runs
	CreateRun(ctx context.Context, run *models.OptimizationRun) error
	GetRun(ctx context.Context, id string) (*models.OptimizationRun, error)
	ListRuns(ctx context.Context, opts ListRunsOptions) ([]*models.OptimizationRun, error)
	UpdateRunStage(ctx context.Context, id, stage string) error
	CompleteRun(ctx context.Context, id, championID string, totalTests int, elapsedSeconds float64) error
	FailRun(ctx context.Context, id, message string) error

	// Prompts
	SavePrompt(ctx context.Context, candidate *models.PromptCandidate) error
	GetPrompt(ctx context.Context, id string) (*models.PromptCandidate, error)
	GetByStage(ctx context.Context, runID string, stage models.PromptStage) ([]*models.PromptCandidate, error)
	GetTopK(ctx context.Context, runID string, stage models.PromptStage, k int) ([]*models.PromptCandidate, error)
	GetByTrack(ctx context.Context, runID string, trackID int) ([]*models.PromptCandidate, error)
	GetOriginalPrompt(ctx context.Context, runID string) (*models.PromptCandidate, error)

	// Test cases
	SaveTestCase(ctx context.Context, tc *models.TestCase) error
	GetTestCasesByStage(ctx context.Context, runID string, stage models.TestStage) ([]*models.TestCase, error)

	// Evaluations
	SaveEvaluation(ctx context.Context, result *models.TestResult) error
	GetEvaluationsByPrompt(ctx context.Context, promptID string) ([]*models.TestResult, error)
	CountEvaluations(ctx context.Context, runID string) (int, error)

	// Weakness analyses
	SaveWeaknessAnalysis(ctx context.Context, w *models.WeaknessAnalysis) error
	GetWeaknessAnalyses(ctx context.Context, runID string, trackID int) ([]*models.WeaknessAnalysis, error)
}
