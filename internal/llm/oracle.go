package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/longregen/promptopt/internal/config"
	"github.com/longregen/promptopt/internal/domain"
	"github.com/longregen/promptopt/internal/domain/models"
	"github.com/longregen/promptopt/internal/ports"
)

var _ ports.Oracle = (*StructuredOracle)(nil)

var generatedPromptsFormat = &openai.ChatCompletionResponseFormat{
	Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
	JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
		Name:   "generated_prompts",
		Strict: true,
		Schema: json.RawMessage(`{"type":"object","properties":{"prompts":{"type":"array","items":{"type":"object","properties":{"id":{"type":"string"},"strategy":{"type":"string"},"prompt_text":{"type":"string"}},"required":["id","strategy","prompt_text"],"additionalProperties":false}}},"required":["prompts"],"additionalProperties":false}`),
	},
}

var designedTestsFormat = &openai.ChatCompletionResponseFormat{
	Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
	JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
		Name:   "test_cases",
		Strict: true,
		Schema: json.RawMessage(`{"type":"object","properties":{"test_cases":{"type":"array","items":{"type":"object","properties":{"id":{"type":"string"},"input_message":{"type":"string"},"expected_behavior":{"type":"string"},"category":{"type":"string","enum":["core","edge","boundary","adversarial","consistency","format"]}},"required":["id","input_message","expected_behavior","category"],"additionalProperties":false}}},"required":["test_cases"],"additionalProperties":false}`),
	},
}

var scoreFormat = &openai.ChatCompletionResponseFormat{
	Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
	JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
		Name:   "evaluation_score",
		Strict: true,
		Schema: json.RawMessage(`{"type":"object","properties":{"functionality":{"type":"integer"},"safety":{"type":"integer"},"consistency":{"type":"integer"},"edge_case_handling":{"type":"integer"},"reasoning":{"type":"string"}},"required":["functionality","safety","consistency","edge_case_handling","reasoning"],"additionalProperties":false}`),
	},
}

var refinedPromptFormat = &openai.ChatCompletionResponseFormat{
	Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
	JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
		Name:   "refined_prompt",
		Strict: true,
		Schema: json.RawMessage(`{"type":"object","properties":{"improved_prompt":{"type":"string"},"changes_made":{"type":"array","items":{"type":"string"}}},"required":["improved_prompt","changes_made"],"additionalProperties":false}`),
	},
}

type generatedPromptsPayload struct {
	Prompts []ports.GeneratedPrompt `json:"prompts"`
}

func (p *generatedPromptsPayload) validate(n int) error {
	if len(p.Prompts) != n {
		return fmt.Errorf("%w: requested %d prompts, got %d", domain.ErrSchemaMismatch, n, len(p.Prompts))
	}
	for i, gp := range p.Prompts {
		if strings.TrimSpace(gp.PromptText) == "" {
			return fmt.Errorf("%w: prompt %d has empty prompt_text", domain.ErrSchemaMismatch, i)
		}
	}
	return nil
}

type designedTestsPayload struct {
	TestCases []ports.DesignedTest `json:"test_cases"`
}

func (p *designedTestsPayload) validate(dist models.TestDistribution) error {
	got := make(map[models.TestCategory]int)
	for i, tc := range p.TestCases {
		if !tc.Category.IsValid() {
			return fmt.Errorf("%w: test %d has unknown category %q", domain.ErrSchemaMismatch, i, tc.Category)
		}
		if strings.TrimSpace(tc.InputMessage) == "" || strings.TrimSpace(tc.ExpectedBehavior) == "" {
			return fmt.Errorf("%w: test %d is missing input_message or expected_behavior", domain.ErrSchemaMismatch, i)
		}
		got[tc.Category]++
	}
	for _, c := range models.AllTestCategories {
		if got[c] != dist.Count(c) {
			return fmt.Errorf("%w: requested %d %s tests, got %d", domain.ErrSchemaMismatch, dist.Count(c), c, got[c])
		}
	}
	return nil
}

type scorePayload struct {
	Functionality    int    `json:"functionality"`
	Safety           int    `json:"safety"`
	Consistency      int    `json:"consistency"`
	EdgeCaseHandling int    `json:"edge_case_handling"`
	Reasoning        string `json:"reasoning"`
}

func (p *scorePayload) score() *models.EvaluationScore {
	return &models.EvaluationScore{
		Functionality:    p.Functionality,
		Safety:           p.Safety,
		Consistency:      p.Consistency,
		EdgeCaseHandling: p.EdgeCaseHandling,
		Reasoning:        p.Reasoning,
	}
}

func (p *scorePayload) validate() error {
	return p.score().Validate()
}

func validateRefined(p *ports.RefinedPrompt) error {
	if strings.TrimSpace(p.ImprovedPrompt) == "" {
		return fmt.Errorf("%w: empty improved_prompt", domain.ErrSchemaMismatch)
	}
	if p.ChangesMade == nil {
		p.ChangesMade = []string{}
	}
	return nil
}

// StructuredOracle implements ports.Oracle over an OpenAI-compatible endpoint
// using strict json_schema response formats. Every payload is validated and a
// mismatch fails immediately with domain.ErrSchemaMismatch.
type StructuredOracle struct {
	client *Client
	guard  *Resilience
	agents config.AgentsConfig
}

func NewStructuredOracle(client *Client, guard *Resilience, agents config.AgentsConfig) *StructuredOracle {
	return &StructuredOracle{client: client, guard: guard, agents: agents}
}

func (o *StructuredOracle) GeneratePrompts(ctx context.Context, task *models.TaskSpec, n int) ([]ports.GeneratedPrompt, error) {
	if n <= 0 {
		return []ports.GeneratedPrompt{}, nil
	}
	out, err := structuredCall(ctx, o, "generate_prompts", o.agents.Generator, generatedPromptsFormat,
		generatorSystemPrompt(), generatorUserPrompt(task, n),
		func(p *generatedPromptsPayload) error { return p.validate(n) })
	if err != nil {
		return nil, err
	}
	return out.Prompts, nil
}

func (o *StructuredOracle) DesignTests(ctx context.Context, task *models.TaskSpec, stage models.TestStage, dist models.TestDistribution) ([]ports.DesignedTest, error) {
	if dist.Total() == 0 {
		return []ports.DesignedTest{}, nil
	}
	out, err := structuredCall(ctx, o, "design_"+string(stage)+"_tests", o.agents.TestDesigner, designedTestsFormat,
		testDesignerSystemPrompt(stage), testDesignerUserPrompt(task, stage, dist),
		func(p *designedTestsPayload) error { return p.validate(dist) })
	if err != nil {
		return nil, err
	}
	return out.TestCases, nil
}

func (o *StructuredOracle) ScoreResponse(ctx context.Context, req ports.ScoreRequest) (*models.EvaluationScore, error) {
	out, err := structuredCall(ctx, o, "score_response", o.agents.Evaluator, scoreFormat,
		evaluatorInstructions, evaluatorUserPrompt(req),
		func(p *scorePayload) error { return p.validate() })
	if err != nil {
		return nil, err
	}
	return out.score(), nil
}

func (o *StructuredOracle) RefinePrompt(ctx context.Context, req ports.RefineRequest) (*ports.RefinedPrompt, error) {
	return structuredCall(ctx, o, "refine_prompt", o.agents.Refiner, refinedPromptFormat,
		refinerInstructions, refinerUserPrompt(req), validateRefined)
}

func structuredCall[T any](
	ctx context.Context,
	o *StructuredOracle,
	operation string,
	agent config.AgentConfig,
	format *openai.ChatCompletionResponseFormat,
	system, user string,
	validate func(*T) error,
) (*T, error) {
	model := agent.Model
	if model == "" {
		model = o.client.Model()
	}

	var out *T
	err := o.guard.Do(ctx, operation, model, func(ctx context.Context) error {
		content, err := o.client.Complete(ctx, system, user, ChatOptions{
			Model:          model,
			Temperature:    float32Ptr(float32(agent.Temperature)),
			MaxTokens:      agent.MaxTokens,
			ResponseFormat: format,
		})
		if err != nil {
			return err
		}

		payload := new(T)
		if err := json.Unmarshal([]byte(stripCodeFence(content)), payload); err != nil {
			return fmt.Errorf("%w: %s: %v", domain.ErrSchemaMismatch, format.JSONSchema.Name, err)
		}
		if err := validate(payload); err != nil {
			return err
		}
		out = payload
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Some OpenAI-compatible servers wrap structured output in a markdown fence.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
