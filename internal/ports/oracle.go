package ports

import (
	"context"

	"github.com/longregen/promptopt/internal/domain/models"
)

// TargetModel renders a response from the assistant under test.
type TargetModel interface {
	TestPrompt(ctx context.Context, systemPrompt, message string) (string, error)
}

// TargetFunc adapts an in-process function to TargetModel.
type TargetFunc func(ctx context.Context, systemPrompt, message string) (string, error)

func (f TargetFunc) TestPrompt(ctx context.Context, systemPrompt, message string) (string, error) {
	return f(ctx, systemPrompt, message)
}

// GeneratedPrompt is one candidate proposed by the generator role.
type GeneratedPrompt struct {
	ID         string `json:"id"`
	Strategy   string `json:"strategy"`
	PromptText string `json:"prompt_text"`
}

// DesignedTest is one test case proposed by the test designer role.
type DesignedTest struct {
	ID               string              `json:"id"`
	InputMessage     string              `json:"input_message"`
	ExpectedBehavior string              `json:"expected_behavior"`
	Category         models.TestCategory `json:"category"`
}

// ScoreRequest carries everything the judge needs for one verdict.
type ScoreRequest struct {
	Task          *models.TaskSpec
	TestCase      *models.TestCase
	ModelResponse string
}

// RefineRequest carries the current prompt and its diagnosed weaknesses.
type RefineRequest struct {
	Task                *models.TaskSpec
	CurrentPrompt       string
	WeaknessDescription string
	FailedTests         []string
	Iteration           int
}

// RefinedPrompt is the refiner's proposal.
type RefinedPrompt struct {
	ImprovedPrompt string   `json:"improved_prompt"`
	ChangesMade    []string `json:"changes_made"`
}

// Oracle is the structured-output language model behind every generative step.
// Implementations must validate payloads and fail with domain.ErrSchemaMismatch
// rather than return malformed data.
type Oracle interface {
	GeneratePrompts(ctx context.Context, task *models.TaskSpec, n int) ([]GeneratedPrompt, error)
	DesignTests(ctx context.Context, task *models.TaskSpec, stage models.TestStage, dist models.TestDistribution) ([]DesignedTest, error)
	ScoreResponse(ctx context.Context, req ScoreRequest) (*models.EvaluationScore, error)
	RefinePrompt(ctx context.Context, req RefineRequest) (*RefinedPrompt, error)
}
