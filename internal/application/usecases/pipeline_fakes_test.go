package usecases

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/longregen/promptopt/internal/adapters/id"
	"github.com/longregen/promptopt/internal/adapters/sqlite"
	"github.com/longregen/promptopt/internal/application/services"
	"github.com/longregen/promptopt/internal/config"
	"github.com/longregen/promptopt/internal/domain/models"
	"github.com/longregen/promptopt/internal/ports"
)

// scriptedOracle answers from fixed tables. Scores are keyed by
// "<prompt text>|<suite>" so each candidate can score differently per suite.
type scriptedOracle struct {
	mu sync.Mutex

	prompts      []ports.GeneratedPrompt
	scores       map[string]models.EvaluationScore
	refinements  map[string]string
	designErr    map[models.TestStage]error
	refineCalls  []ports.RefineRequest
	designCalls  []models.TestStage
	defaultScore models.EvaluationScore
	onDesign     func(stage models.TestStage)
}

func newScriptedOracle(texts ...string) *scriptedOracle {
	o := &scriptedOracle{
		scores:       make(map[string]models.EvaluationScore),
		refinements:  make(map[string]string),
		designErr:    make(map[models.TestStage]error),
		defaultScore: uniform(5),
	}
	for i, text := range texts {
		o.prompts = append(o.prompts, ports.GeneratedPrompt{
			ID:         string(rune('a' + i)),
			Strategy:   "strategy-" + text,
			PromptText: text,
		})
	}
	return o
}

func (o *scriptedOracle) GeneratePrompts(_ context.Context, _ *models.TaskSpec, n int) ([]ports.GeneratedPrompt, error) {
	if n < len(o.prompts) {
		return o.prompts[:n], nil
	}
	return o.prompts, nil
}

func (o *scriptedOracle) DesignTests(ctx context.Context, _ *models.TaskSpec, stage models.TestStage, dist models.TestDistribution) ([]ports.DesignedTest, error) {
	o.mu.Lock()
	o.designCalls = append(o.designCalls, stage)
	o.mu.Unlock()
	if o.onDesign != nil {
		o.onDesign(stage)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := o.designErr[stage]; err != nil {
		return nil, err
	}
	prefix := "Q"
	if stage == models.TestStageRigorous {
		prefix = "R"
	}
	var out []ports.DesignedTest
	for i := 0; i < dist.Total(); i++ {
		out = append(out, ports.DesignedTest{
			ID:               prefix + string(rune('1'+i)),
			InputMessage:     string(stage) + " question " + string(rune('1'+i)),
			ExpectedBehavior: "answers within policy",
			Category:         models.CategoryCore,
		})
	}
	return out, nil
}

func (o *scriptedOracle) ScoreResponse(_ context.Context, req ports.ScoreRequest) (*models.EvaluationScore, error) {
	// The echo target answers "<prompt>|<message>"
	text, _, _ := strings.Cut(req.ModelResponse, "|")
	s, ok := o.scores[text+"|"+string(req.TestCase.Stage)]
	if !ok {
		s = o.defaultScore
	}
	s.Reasoning = "scripted"
	return &s, nil
}

func (o *scriptedOracle) RefinePrompt(_ context.Context, req ports.RefineRequest) (*ports.RefinedPrompt, error) {
	o.mu.Lock()
	o.refineCalls = append(o.refineCalls, req)
	o.mu.Unlock()
	improved, ok := o.refinements[req.CurrentPrompt]
	if !ok {
		improved = req.CurrentPrompt + " v2"
	}
	return &ports.RefinedPrompt{ImprovedPrompt: improved, ChangesMade: []string{"tightened wording"}}, nil
}

func uniform(n int) models.EvaluationScore {
	return models.EvaluationScore{Functionality: n, Safety: n, Consistency: n, EdgeCaseHandling: n}
}

func echoTarget() ports.TargetFunc {
	return func(_ context.Context, systemPrompt, message string) (string, error) {
		return systemPrompt + "|" + message, nil
	}
}

var billingTask = &models.TaskSpec{
	TaskDescription: "Answer customer billing questions",
	BehavioralSpec:  "Be concise and never promise refunds.",
	ValidationRules: []string{"No refund promises"},
	OriginalPrompt:  "original",
}

func scenarioConfig(parallel bool) config.OptimizerConfig {
	cfg := config.DefaultOptimizerConfig()
	cfg.NumInitialPrompts = 3
	cfg.QuickTestDistribution = models.TestDistribution{Core: 1}
	cfg.RigorousTestDistribution = models.TestDistribution{Core: 1}
	cfg.TopKAdvance = 2
	cfg.TopMRefine = 1
	cfg.MaxIterationsPerTrack = 3
	cfg.EarlyStoppingPatience = 1
	cfg.ParallelExecution = parallel
	cfg.MaxConcurrentEvaluations = 4
	return cfg
}

type pipelineHarness struct {
	uc        *RunOptimization
	store     *sqlite.Store
	publisher *services.OptimizationProgressPublisher
}

func newPipelineHarness(t *testing.T, oracle ports.Oracle, cfg config.OptimizerConfig) *pipelineHarness {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "promptopt.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ids := id.New()
	refCfg := services.RefinementConfigFrom(cfg)
	limiter := services.NewLimiter(cfg.MaxConcurrentEvaluations, cfg.ParallelExecution)
	engine := services.NewEvaluationEngine(store, echoTarget(), oracle, ids, cfg.ScoringWeights, limiter, nil)
	publisher := services.NewOptimizationProgressPublisher(nil)
	refiner := services.NewRefinementRunner(store, oracle, engine, ids, publisher, refCfg, nil)
	query := services.NewOptimizationQueryService(store, refCfg)

	return &pipelineHarness{
		uc:        NewRunOptimization(store, sqlite.NewTransactionManager(store), oracle, engine, refiner, query, publisher, ids, cfg, nil),
		store:     store,
		publisher: publisher,
	}
}

// drain collects events until the publisher closes the channel.
func drain(ch <-chan ports.OptimizationProgressEvent) []ports.OptimizationProgressEvent {
	var out []ports.OptimizationProgressEvent
	for evt := range ch {
		out = append(out, evt)
	}
	return out
}
