package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/longregen/promptopt/internal/domain"
	"github.com/longregen/promptopt/internal/domain/models"
	"github.com/longregen/promptopt/internal/ports"
	"github.com/longregen/promptopt/internal/prompt"
)

// Shared mock implementations for testing

type mockIDGenerator struct {
	mu      sync.Mutex
	counter int
}

func (m *mockIDGenerator) next(prefix string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter++
	return fmt.Sprintf("%s_test%d", prefix, m.counter)
}

func (m *mockIDGenerator) GenerateRunID() string        { return m.next("aor") }
func (m *mockIDGenerator) GeneratePromptID() string     { return m.next("apc") }
func (m *mockIDGenerator) GenerateTestCaseID() string   { return m.next("atc") }
func (m *mockIDGenerator) GenerateEvaluationID() string { return m.next("ape") }
func (m *mockIDGenerator) GenerateWeaknessID() string   { return m.next("awa") }

// mockOptimizationRepo keeps copies of everything it is given, so callers
// mutating their structs afterwards do not change stored state.
type mockOptimizationRepo struct {
	mu          sync.Mutex
	runs        map[string]models.OptimizationRun
	prompts     map[string]models.PromptCandidate
	promptOrder []string
	tests       []models.TestCase
	evals       []models.TestResult
	weakness    []models.WeaknessAnalysis

	saveEvalErr error
}

var _ ports.OptimizationRepository = (*mockOptimizationRepo)(nil)

func newMockOptimizationRepo() *mockOptimizationRepo {
	return &mockOptimizationRepo{
		runs:    make(map[string]models.OptimizationRun),
		prompts: make(map[string]models.PromptCandidate),
	}
}

func (m *mockOptimizationRepo) CreateRun(_ context.Context, run *models.OptimizationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = *run
	return nil
}

func (m *mockOptimizationRepo) GetRun(_ context.Context, id string) (*models.OptimizationRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	return &run, nil
}

func (m *mockOptimizationRepo) ListRuns(_ context.Context, opts ports.ListRunsOptions) ([]*models.OptimizationRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.OptimizationRun
	for _, r := range m.runs {
		if opts.Status != "" && r.Status != opts.Status {
			continue
		}
		run := r
		out = append(out, &run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (m *mockOptimizationRepo) updateRun(id string, fn func(*models.OptimizationRun)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return domain.ErrRunNotFound
	}
	fn(&run)
	m.runs[id] = run
	return nil
}

func (m *mockOptimizationRepo) UpdateRunStage(_ context.Context, id, stage string) error {
	return m.updateRun(id, func(r *models.OptimizationRun) { r.CurrentStage = stage })
}

func (m *mockOptimizationRepo) CompleteRun(_ context.Context, id, championID string, totalTests int, elapsed float64) error {
	return m.updateRun(id, func(r *models.OptimizationRun) { r.MarkCompleted(championID, totalTests, elapsed) })
}

func (m *mockOptimizationRepo) FailRun(_ context.Context, id, message string) error {
	return m.updateRun(id, func(r *models.OptimizationRun) { r.MarkFailed(message) })
}

func (m *mockOptimizationRepo) SavePrompt(_ context.Context, c *models.PromptCandidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.prompts[c.ID]; ok {
		if c.Stage.Rank() < existing.Stage.Rank() {
			return domain.ErrInvariantViolation
		}
	} else {
		m.promptOrder = append(m.promptOrder, c.ID)
	}
	m.prompts[c.ID] = *c
	return nil
}

func (m *mockOptimizationRepo) GetPrompt(_ context.Context, id string) (*models.PromptCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.prompts[id]
	if !ok {
		return nil, domain.ErrPromptNotFound
	}
	return &c, nil
}

func (m *mockOptimizationRepo) filterPrompts(keep func(models.PromptCandidate) bool) []*models.PromptCandidate {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.PromptCandidate{}
	for _, id := range m.promptOrder {
		c := m.prompts[id]
		if keep(c) {
			out = append(out, &c)
		}
	}
	return out
}

func (m *mockOptimizationRepo) GetByStage(_ context.Context, runID string, stage models.PromptStage) ([]*models.PromptCandidate, error) {
	return m.filterPrompts(func(c models.PromptCandidate) bool { return c.RunID == runID && c.Stage == stage }), nil
}

func (m *mockOptimizationRepo) GetTopK(ctx context.Context, runID string, stage models.PromptStage, k int) ([]*models.PromptCandidate, error) {
	all, _ := m.GetByStage(ctx, runID, stage)
	return prompt.SelectTop(all, models.StageScoreField(stage), k), nil
}

func (m *mockOptimizationRepo) GetByTrack(_ context.Context, runID string, trackID int) ([]*models.PromptCandidate, error) {
	out := m.filterPrompts(func(c models.PromptCandidate) bool {
		return c.RunID == runID && c.TrackID != nil && *c.TrackID == trackID
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Iteration < out[j].Iteration })
	return out, nil
}

func (m *mockOptimizationRepo) GetOriginalPrompt(_ context.Context, runID string) (*models.PromptCandidate, error) {
	out := m.filterPrompts(func(c models.PromptCandidate) bool { return c.RunID == runID && c.IsOriginalSystemPrompt })
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (m *mockOptimizationRepo) SaveTestCase(_ context.Context, tc *models.TestCase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tests = append(m.tests, *tc)
	return nil
}

func (m *mockOptimizationRepo) GetTestCasesByStage(_ context.Context, runID string, stage models.TestStage) ([]*models.TestCase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.TestCase{}
	for _, tc := range m.tests {
		if tc.RunID == runID && tc.Stage == stage {
			t := tc
			out = append(out, &t)
		}
	}
	return out, nil
}

func (m *mockOptimizationRepo) SaveEvaluation(_ context.Context, r *models.TestResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveEvalErr != nil {
		return m.saveEvalErr
	}
	m.evals = append(m.evals, *r)
	return nil
}

func (m *mockOptimizationRepo) GetEvaluationsByPrompt(_ context.Context, promptID string) ([]*models.TestResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.TestResult{}
	for _, r := range m.evals {
		if r.PromptID == promptID {
			res := r
			out = append(out, &res)
		}
	}
	return out, nil
}

func (m *mockOptimizationRepo) CountEvaluations(_ context.Context, runID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.evals {
		if r.RunID == runID {
			n++
		}
	}
	return n, nil
}

func (m *mockOptimizationRepo) SaveWeaknessAnalysis(_ context.Context, w *models.WeaknessAnalysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.weakness = append(m.weakness, *w)
	return nil
}

func (m *mockOptimizationRepo) GetWeaknessAnalyses(_ context.Context, runID string, trackID int) ([]*models.WeaknessAnalysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.WeaknessAnalysis{}
	for _, w := range m.weakness {
		if w.RunID == runID && w.TrackID == trackID {
			wa := w
			out = append(out, &wa)
		}
	}
	return out, nil
}

func (m *mockOptimizationRepo) hasPromptText(text string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.prompts {
		if c.PromptText == text {
			return true
		}
	}
	return false
}

// echoTarget answers with "<system prompt>|<message>" so the judge can tell
// which prompt produced a response.
func echoTarget() ports.TargetFunc {
	return func(_ context.Context, systemPrompt, message string) (string, error) {
		return systemPrompt + "|" + message, nil
	}
}

func promptOf(response string) string {
	p, _, _ := strings.Cut(response, "|")
	return p
}

func uniform(n int) models.EvaluationScore {
	return models.EvaluationScore{Functionality: n, Safety: n, Consistency: n, EdgeCaseHandling: n, Reasoning: fmt.Sprintf("scored %d", n)}
}

// fakeOracle scores by the prompt that produced a response and refines by
// handing out texts from refinements in order.
type fakeOracle struct {
	mu sync.Mutex

	scores       map[string]models.EvaluationScore // keyed by prompt text
	scoreByTest  map[string]models.EvaluationScore // keyed by prompt text + "|" + input
	defaultScore models.EvaluationScore
	scoreErr     error

	refinements []string
	refineErr   map[string]error // keyed by current prompt text
	refineCalls []ports.RefineRequest

	generated []ports.GeneratedPrompt
	designed  map[models.TestStage][]ports.DesignedTest
}

var _ ports.Oracle = (*fakeOracle)(nil)

func newFakeOracle() *fakeOracle {
	return &fakeOracle{
		scores:       make(map[string]models.EvaluationScore),
		scoreByTest:  make(map[string]models.EvaluationScore),
		defaultScore: uniform(5),
		refineErr:    make(map[string]error),
		designed:     make(map[models.TestStage][]ports.DesignedTest),
	}
}

func (f *fakeOracle) GeneratePrompts(_ context.Context, _ *models.TaskSpec, n int) ([]ports.GeneratedPrompt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.generated) < n {
		return f.generated, nil
	}
	return f.generated[:n], nil
}

func (f *fakeOracle) DesignTests(_ context.Context, _ *models.TaskSpec, stage models.TestStage, _ models.TestDistribution) ([]ports.DesignedTest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.designed[stage], nil
}

func (f *fakeOracle) ScoreResponse(_ context.Context, req ports.ScoreRequest) (*models.EvaluationScore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scoreErr != nil {
		return nil, f.scoreErr
	}
	if s, ok := f.scoreByTest[req.ModelResponse]; ok {
		return &s, nil
	}
	if s, ok := f.scores[promptOf(req.ModelResponse)]; ok {
		return &s, nil
	}
	s := f.defaultScore
	return &s, nil
}

func (f *fakeOracle) RefinePrompt(_ context.Context, req ports.RefineRequest) (*ports.RefinedPrompt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refineCalls = append(f.refineCalls, req)
	if err, ok := f.refineErr[req.CurrentPrompt]; ok {
		return nil, err
	}
	if len(f.refinements) == 0 {
		return &ports.RefinedPrompt{ImprovedPrompt: req.CurrentPrompt + " (refined)", ChangesMade: []string{}}, nil
	}
	next := f.refinements[0]
	f.refinements = f.refinements[1:]
	return &ports.RefinedPrompt{ImprovedPrompt: next, ChangesMade: []string{"tightened rules"}}, nil
}

func makeTests(runID string, stage models.TestStage, inputs ...string) []*models.TestCase {
	out := make([]*models.TestCase, len(inputs))
	for i, in := range inputs {
		out[i] = &models.TestCase{
			ID:               fmt.Sprintf("atc_%s_%d", stage, i),
			Label:            fmt.Sprintf("T%d", i+1),
			RunID:            runID,
			InputMessage:     in,
			ExpectedBehavior: "behave",
			Category:         models.CategoryCore,
			Stage:            stage,
			CreatedAt:        time.Now().UTC(),
		}
	}
	return out
}

var testTask = &models.TaskSpec{TaskDescription: "Answer billing questions"}
