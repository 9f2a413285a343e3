package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longregen/promptopt/internal/domain/models"
)

func sampleResult() *models.OptimizationResult {
	seed := models.NewPromptCandidate("apc_seed", "aor_1", "Be precise.", "structured")
	seed.Stage = models.StageRigorous
	seed.SetTrack(0)
	seed.SetScore(models.ScoreQuick, 8)
	seed.SetScore(models.ScoreRigorous, 8.1)

	generated := models.NewPromptCandidate("apc_gen", "aor_1", "Answer anything.", "permissive")
	generated.SetScore(models.ScoreQuick, 4)

	refined := models.NewRefinedCandidate("apc_ref", seed, "Be precise and brief.", 1)
	refined.SetScore(models.ScoreRigorous, 8.0)

	original := models.NewPromptCandidate("apc_orig", "aor_1", "You help with billing.", models.StrategyOriginal)
	original.IsOriginalSystemPrompt = true
	original.SetScore(models.ScoreQuick, 5)
	original.SetScore(models.ScoreRigorous, 6)
	score := 6.0

	track := models.NewRefinementTrackResult(0, []*models.PromptCandidate{seed, refined})
	track.StopReason = models.StopConverged
	track.Weaknesses = []*models.WeaknessAnalysis{{
		Iteration:              1,
		Description:            "Found 1 weak test cases. Common issues: Test R2: promised a refund",
		FailedTestDescriptions: []string{"a", "b", "c", "d"},
	}}

	tests := []*models.TestCase{
		{ID: "atc_1", Label: "R1", InputMessage: "Why was I charged twice?", ExpectedBehavior: "Explain duplicate holds", Category: models.CategoryEdge},
		{ID: "atc_2", Label: "R2", InputMessage: "Refund me now", ExpectedBehavior: "Decline politely", Category: models.CategoryCore},
	}
	quickTests := []*models.TestCase{
		{ID: "atc_q", Label: "Q1", InputMessage: "What is my balance?", ExpectedBehavior: "Point to the dashboard", Category: models.CategoryCore},
	}

	return &models.OptimizationResult{
		RunID:                 "aor_1",
		BestPrompt:            seed,
		Tracks:                []*models.RefinementTrackResult{track},
		TotalTestsRun:         12,
		ElapsedSeconds:        42.5,
		OriginalPrompt:        original,
		OriginalRigorousScore: &score,
		RigorousTests:         tests,
		QuickTests:            quickTests,
		Candidates:            []*models.PromptCandidate{original, generated, seed, refined},
		OriginalQuickResults: []*models.TestResult{
			{ID: "ape_4", PromptID: "apc_orig", TestCaseID: "atc_q", TestLabel: "Q1", ModelResponse: "Check the dashboard.", Score: models.EvaluationScore{Functionality: 5, Overall: 5}},
		},
		ChampionResults: []*models.TestResult{
			{ID: "ape_1", PromptID: "apc_seed", TestCaseID: "atc_1", TestLabel: "R1", ModelResponse: "It is a pending hold.", Score: models.EvaluationScore{Functionality: 8, Overall: 8.2}},
			{ID: "ape_2", PromptID: "apc_seed", TestCaseID: "atc_2", TestLabel: "R2", ModelResponse: "I can't promise that.", Score: models.EvaluationScore{Functionality: 8, Overall: 8.0}},
		},
		OriginalResults: []*models.TestResult{
			{ID: "ape_3", PromptID: "apc_orig", TestCaseID: "atc_2", TestLabel: "R2", ModelResponse: "Sure, refunded!", Score: models.EvaluationScore{Overall: 6}},
		},
	}
}

func newTestWriter() *Writer {
	w := NewWriter(nil)
	w.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return w
}

func TestWriter_WritesAllArtifacts(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "results")
	task := &models.TaskSpec{TaskDescription: "Answer billing questions"}

	paths, err := newTestWriter().Write(sampleResult(), task, dir)
	require.NoError(t, err)

	var names []string
	for _, p := range paths {
		names = append(names, filepath.Base(p))
	}
	assert.Equal(t, []string{
		ChampionPromptFile, ReportJSONFile, ChampionQAFile, ChampionQuestionsFile,
		OriginalResultsFile, OriginalQuickReportFile,
		PromptsJSONFile, TestCasesJSONFile, PipelineReportFile, ReportMarkdownFile,
	}, names)

	prompt, err := os.ReadFile(filepath.Join(dir, ChampionPromptFile))
	require.NoError(t, err)
	assert.Equal(t, "Be precise.", string(prompt))
}

func TestWriter_ReportDocument(t *testing.T) {
	dir := t.TempDir()
	_, err := newTestWriter().Write(sampleResult(), &models.TaskSpec{TaskDescription: "Answer billing questions"}, dir)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, ReportJSONFile))
	require.NoError(t, err)
	var doc Document
	require.NoError(t, json.Unmarshal(data, &doc))

	assert.Equal(t, "apc_seed", doc.Champion.PromptID)
	assert.InDelta(t, 8.1, doc.Champion.Score, 1e-9)
	assert.Equal(t, 12, doc.TotalTestsRun)
	assert.Equal(t, 2, doc.RigorousTests)

	require.NotNil(t, doc.Original)
	assert.Equal(t, OriginalFiltered, doc.Original.Status)
	assert.InDelta(t, 2.1, doc.Original.Improvement, 1e-9)
	require.NotNil(t, doc.Original.ImprovementPct)
	assert.InDelta(t, 35.0, *doc.Original.ImprovementPct, 1e-9)

	require.Len(t, doc.Tracks, 1)
	track := doc.Tracks[0]
	assert.Equal(t, []float64{8.1, 8.0}, track.Progression)
	assert.InDelta(t, 8.1, track.BestScore, 1e-9)
	assert.Equal(t, models.StopConverged, track.StopReason)
	require.Len(t, track.Weaknesses, 1)
	assert.Len(t, track.Weaknesses[0].FailedTests, maxWeaknessTestLines)
}

func TestWriter_QAGroupedByCategory(t *testing.T) {
	dir := t.TempDir()
	_, err := newTestWriter().Write(sampleResult(), nil, dir)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, ChampionQAFile))
	require.NoError(t, err)
	var qa qaDocument
	require.NoError(t, json.Unmarshal(data, &qa))

	require.Len(t, qa.Results, 2)
	// core sorts before edge regardless of result order
	assert.Equal(t, "R2", qa.Results[0].TestID)
	assert.Equal(t, models.CategoryCore, qa.Results[0].Category)
	assert.Equal(t, "Refund me now", qa.Results[0].Question)
	assert.Equal(t, "R1", qa.Results[1].TestID)
}

func TestWriter_SkipsOriginalWhenNotEvaluated(t *testing.T) {
	result := sampleResult()
	result.OriginalPrompt = nil
	result.OriginalRigorousScore = nil
	result.OriginalResults = nil
	result.OriginalQuickResults = nil
	dir := t.TempDir()

	paths, err := newTestWriter().Write(result, nil, dir)
	require.NoError(t, err)
	assert.Len(t, paths, 8)
	for _, name := range []string{OriginalResultsFile, OriginalQuickReportFile} {
		_, err = os.Stat(filepath.Join(dir, name))
		assert.True(t, os.IsNotExist(err), name)
	}

	md, err := os.ReadFile(filepath.Join(dir, ReportMarkdownFile))
	require.NoError(t, err)
	assert.NotContains(t, string(md), "Original prompt")
}

func TestWriter_Markdown(t *testing.T) {
	dir := t.TempDir()
	_, err := newTestWriter().Write(sampleResult(), &models.TaskSpec{TaskDescription: "Answer billing questions"}, dir)
	require.NoError(t, err)

	md, err := os.ReadFile(filepath.Join(dir, ReportMarkdownFile))
	require.NoError(t, err)
	text := string(md)
	for _, want := range []string{
		"**Task:** Answer billing questions",
		"- Champion score: 8.10",
		"- Improvement over original: +2.10 (+35.0%)",
		"| 0 | 8.10 | 8.10 | +0.00 | 2 | converged |",
		"- Iteration 1: Found 1 weak test cases.",
		"Be precise.",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("markdown missing %q\n%s", want, text)
		}
	}
}

func TestWriter_RequiresChampion(t *testing.T) {
	_, err := newTestWriter().Write(&models.OptimizationResult{}, nil, t.TempDir())
	assert.Error(t, err)
}

func readArtifact(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	return string(data)
}

func TestWriter_PromptsAndTestCases(t *testing.T) {
	dir := t.TempDir()
	_, err := newTestWriter().Write(sampleResult(), nil, dir)
	require.NoError(t, err)

	var prompts promptsDocument
	require.NoError(t, json.Unmarshal([]byte(readArtifact(t, dir, PromptsJSONFile)), &prompts))
	require.Len(t, prompts.Prompts, 4)
	assert.Equal(t, "apc_seed", prompts.Champion.ID)
	assert.Equal(t, 3, prompts.Summary.Generated)
	assert.Equal(t, 1, prompts.Summary.QuickFilter)
	assert.Equal(t, 1, prompts.Summary.Refined)
	assert.Equal(t, 1, prompts.Summary.Tracks)
	require.NotNil(t, prompts.Original)
	assert.True(t, prompts.Original.IsOriginalSystemPrompt)

	var cases testCasesDocument
	require.NoError(t, json.Unmarshal([]byte(readArtifact(t, dir, TestCasesJSONFile)), &cases))
	assert.Equal(t, 1, cases.Summary.Quick)
	assert.Equal(t, 2, cases.Summary.Rigorous)
	assert.Equal(t, 3, cases.Summary.Total)
	assert.Equal(t, "Q1", cases.QuickTests[0].ID)
}

func TestWriter_TextReports(t *testing.T) {
	dir := t.TempDir()
	_, err := newTestWriter().Write(sampleResult(), nil, dir)
	require.NoError(t, err)

	checks := map[string][]string{
		ChampionQuestionsFile: {
			"Champion Prompt ID: apc_seed",
			"CORE QUESTIONS (1 tests)",
			"1. Test ID: R2",
			"   Question: Why was I charged twice?",
		},
		OriginalQuickReportFile: {
			"Score: 5.00/10",
			"Rank: 2/3 among initial prompts",
			"Status: " + OriginalFiltered,
			"CORE            5.00/10 (1 tests)",
			"Answer:\nCheck the dashboard.",
			"You help with billing.",
		},
		PipelineReportFile: {
			"| apc_seed | structured | 8.00 | promoted to rigorous |",
			"| apc_gen | permissive | 4.00 | filtered out |",
			"| apc_orig (original) | 6.00 | comparison only |",
			"- Iteration 0: apc_seed (8.10) [rigorous] **best**",
			"- Iteration 1: apc_ref (8.00) [refined]\n",
			"- Stopped: converged",
		},
	}
	for name, wants := range checks {
		text := readArtifact(t, dir, name)
		for _, want := range wants {
			if !strings.Contains(text, want) {
				t.Errorf("%s missing %q\n%s", name, want, text)
			}
		}
	}
}
