// Package report writes the artifacts of a finished optimization run to disk.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/longregen/promptopt/internal/domain/models"
	"github.com/longregen/promptopt/internal/logger"
)

// Output file names
const (
	ChampionPromptFile      = "champion_prompt.txt"
	ReportJSONFile          = "optimization_report.json"
	ChampionQAFile          = "champion_qa_results.json"
	ChampionQuestionsFile   = "champion_test_questions.txt"
	OriginalResultsFile     = "original_prompt_rigorous_results.json"
	OriginalQuickReportFile = "original_prompt_quick_report.txt"
	PromptsJSONFile         = "prompts_with_scores.json"
	TestCasesJSONFile       = "testcases.json"
	PipelineReportFile      = "pipeline_report.md"
	ReportMarkdownFile      = "optimization_report.md"
	maxWeaknessTestLines    = 3
)

type artifact struct {
	name string
	data func() ([]byte, error)
}

// Writer renders an OptimizationResult into an output directory.
type Writer struct {
	log *logger.Logger
	now func() time.Time
}

func NewWriter(log *logger.Logger) *Writer {
	if log == nil {
		log = logger.Nop()
	}
	return &Writer{log: log.Component("report"), now: time.Now}
}

// Write creates dir if needed and returns the paths written, in order.
func (w *Writer) Write(result *models.OptimizationResult, task *models.TaskSpec, dir string) ([]string, error) {
	if result == nil || result.BestPrompt == nil {
		return nil, fmt.Errorf("report: result has no champion")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory %s: %w", dir, err)
	}

	doc := buildDocument(result, task, w.now().UTC())
	qa := qaEntries(result.ChampionResults, result.RigorousTests)

	files := []artifact{
		{ChampionPromptFile, func() ([]byte, error) { return []byte(result.BestPrompt.PromptText), nil }},
		{ReportJSONFile, func() ([]byte, error) { return marshal(doc) }},
		{ChampionQAFile, func() ([]byte, error) {
			return marshal(qaDocument{PromptID: result.BestPrompt.ID, Score: doc.Champion.Score, Results: qa})
		}},
	}
	files = append(files, artifact{ChampionQuestionsFile, func() ([]byte, error) {
		return []byte(renderChampionQuestions(result)), nil
	}})
	if doc.Original != nil && len(result.OriginalResults) > 0 {
		files = append(files, artifact{OriginalResultsFile, func() ([]byte, error) {
			return marshal(qaDocument{
				PromptID: doc.Original.PromptID,
				Score:    doc.Original.RigorousScore,
				Results:  qaEntries(result.OriginalResults, result.RigorousTests),
			})
		}})
	}
	if o := result.OriginalPrompt; o != nil && o.QuickScore != nil {
		files = append(files, artifact{OriginalQuickReportFile, func() ([]byte, error) {
			return []byte(renderOriginalQuickReport(result)), nil
		}})
	}
	files = append(files,
		artifact{PromptsJSONFile, func() ([]byte, error) { return marshal(buildPromptsDocument(result)) }},
		artifact{TestCasesJSONFile, func() ([]byte, error) { return marshal(buildTestCasesDocument(result)) }},
		artifact{PipelineReportFile, func() ([]byte, error) { return []byte(renderPipelineReport(result)), nil }},
		artifact{ReportMarkdownFile, func() ([]byte, error) { return []byte(renderMarkdown(doc)), nil }},
	)

	paths := make([]string, 0, len(files))
	for _, f := range files {
		data, err := f.data()
		if err != nil {
			return paths, fmt.Errorf("rendering %s: %w", f.name, err)
		}
		path := filepath.Join(dir, f.name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return paths, fmt.Errorf("writing %s: %w", path, err)
		}
		paths = append(paths, path)
	}

	w.log.Info().Str("run_id", result.RunID).Str("dir", dir).Int("files", len(paths)).Msg("reports written")
	return paths, nil
}

func marshal(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Document is the optimization_report.json payload.
type Document struct {
	RunID          string           `json:"run_id"`
	GeneratedAt    time.Time        `json:"generated_at"`
	Task           *models.TaskSpec `json:"task,omitempty"`
	Champion       championSummary  `json:"champion"`
	Original       *originalSummary `json:"original,omitempty"`
	Tracks         []trackSummary   `json:"tracks"`
	TotalTestsRun  int              `json:"total_tests_run"`
	RigorousTests  int              `json:"rigorous_tests"`
	ElapsedSeconds float64          `json:"elapsed_seconds"`
}

type championSummary struct {
	PromptID   string  `json:"prompt_id"`
	Score      float64 `json:"score"`
	TrackID    *int    `json:"track_id,omitempty"`
	Iteration  int     `json:"iteration"`
	Strategy   string  `json:"strategy,omitempty"`
	PromptText string  `json:"prompt_text"`
}

type originalSummary struct {
	PromptID      string  `json:"prompt_id"`
	RigorousScore float64 `json:"rigorous_score"`
	Status        string  `json:"status"`
	Improvement   float64 `json:"improvement"`
	// ImprovementPct is omitted when the original scored zero
	ImprovementPct *float64 `json:"improvement_pct,omitempty"`
}

type trackSummary struct {
	TrackID      int               `json:"track_id"`
	InitialScore float64           `json:"initial_score"`
	BestScore    float64           `json:"best_score"`
	Improvement  float64           `json:"improvement"`
	Iterations   int               `json:"iterations"`
	Progression  []float64         `json:"score_progression"`
	StopReason   string            `json:"stop_reason,omitempty"`
	Weaknesses   []weaknessSummary `json:"weaknesses,omitempty"`
}

type weaknessSummary struct {
	Iteration   int      `json:"iteration"`
	Description string   `json:"description"`
	FailedTests []string `json:"failed_tests,omitempty"`
}

type qaDocument struct {
	PromptID string    `json:"prompt_id"`
	Score    float64   `json:"score"`
	Results  []qaEntry `json:"results"`
}

type qaEntry struct {
	TestID           string                 `json:"test_id"`
	Category         models.TestCategory    `json:"category,omitempty"`
	Question         string                 `json:"question"`
	ExpectedBehavior string                 `json:"expected_behavior,omitempty"`
	Answer           string                 `json:"answer"`
	Evaluation       models.EvaluationScore `json:"evaluation"`
}

// Original prompt dispositions
const (
	OriginalAdvanced     = "advanced_to_refinement"
	OriginalFiltered     = "filtered_after_quick_tests"
	OriginalNotCompeting = "comparison_only"
)

func buildDocument(result *models.OptimizationResult, task *models.TaskSpec, now time.Time) Document {
	best, _ := result.BestPrompt.Score()
	doc := Document{
		RunID:       result.RunID,
		GeneratedAt: now,
		Task:        task,
		Champion: championSummary{
			PromptID:   result.BestPrompt.ID,
			Score:      best,
			TrackID:    result.BestPrompt.TrackID,
			Iteration:  result.BestPrompt.Iteration,
			Strategy:   result.BestPrompt.Strategy,
			PromptText: result.BestPrompt.PromptText,
		},
		TotalTestsRun:  result.TotalTestsRun,
		RigorousTests:  len(result.RigorousTests),
		ElapsedSeconds: result.ElapsedSeconds,
	}

	if o := result.OriginalPrompt; o != nil && result.OriginalRigorousScore != nil {
		score := *result.OriginalRigorousScore
		summary := &originalSummary{
			PromptID:      o.ID,
			RigorousScore: score,
			Status:        originalStatus(o),
			Improvement:   best - score,
		}
		if score != 0 {
			pct := (best - score) / score * 100
			summary.ImprovementPct = &pct
		}
		doc.Original = summary
	}

	for _, t := range result.Tracks {
		ts := trackSummary{
			TrackID:     t.TrackID,
			Iterations:  len(t.Iterations),
			Progression: t.Scores,
			StopReason:  t.StopReason,
			Improvement: t.Improvement,
		}
		if len(t.Scores) > 0 {
			ts.InitialScore = t.Scores[0]
			ts.BestScore = ts.InitialScore + t.Improvement
		}
		for _, wk := range t.Weaknesses {
			failed := wk.FailedTestDescriptions
			if len(failed) > maxWeaknessTestLines {
				failed = failed[:maxWeaknessTestLines]
			}
			ts.Weaknesses = append(ts.Weaknesses, weaknessSummary{
				Iteration:   wk.Iteration,
				Description: wk.Description,
				FailedTests: failed,
			})
		}
		doc.Tracks = append(doc.Tracks, ts)
	}
	return doc
}

func originalStatus(o *models.PromptCandidate) string {
	switch {
	case o.Stage.Rank() >= models.StageRigorous.Rank():
		return OriginalAdvanced
	case o.QuickScore != nil:
		return OriginalFiltered
	default:
		return OriginalNotCompeting
	}
}

// qaEntries joins results with their test cases, grouped by category in
// canonical order. Results whose test case is unknown go last.
func qaEntries(results []*models.TestResult, tests []*models.TestCase) []qaEntry {
	byID := make(map[string]*models.TestCase, len(tests))
	for _, tc := range tests {
		byID[tc.ID] = tc
	}

	grouped := make(map[models.TestCategory][]qaEntry)
	var unknown []qaEntry
	for _, r := range results {
		e := qaEntry{
			TestID:     r.TestLabel,
			Answer:     r.ModelResponse,
			Evaluation: r.Score,
		}
		if e.TestID == "" {
			e.TestID = r.TestCaseID
		}
		tc, ok := byID[r.TestCaseID]
		if !ok {
			unknown = append(unknown, e)
			continue
		}
		e.TestID = tc.DisplayID()
		e.Category = tc.Category
		e.Question = tc.InputMessage
		e.ExpectedBehavior = tc.ExpectedBehavior
		grouped[tc.Category] = append(grouped[tc.Category], e)
	}

	out := make([]qaEntry, 0, len(results))
	for _, c := range models.AllTestCategories {
		out = append(out, grouped[c]...)
	}
	return append(out, unknown...)
}

func renderMarkdown(doc Document) string {
	var sb strings.Builder

	sb.WriteString("# Prompt optimization report\n\n")
	if doc.Task != nil {
		fmt.Fprintf(&sb, "**Task:** %s\n\n", doc.Task.TaskDescription)
	}
	fmt.Fprintf(&sb, "- Run: `%s`\n", doc.RunID)
	fmt.Fprintf(&sb, "- Champion score: %.2f\n", doc.Champion.Score)
	fmt.Fprintf(&sb, "- Total tests run: %d\n", doc.TotalTestsRun)
	fmt.Fprintf(&sb, "- Total time: %.1fs\n", doc.ElapsedSeconds)

	if o := doc.Original; o != nil {
		sb.WriteString("\n## Original prompt (rigorous suite)\n\n")
		fmt.Fprintf(&sb, "- Score: %.2f/10\n", o.RigorousScore)
		fmt.Fprintf(&sb, "- Status: %s\n", o.Status)
		if o.ImprovementPct != nil {
			fmt.Fprintf(&sb, "- Improvement over original: %+.2f (%+.1f%%)\n", o.Improvement, *o.ImprovementPct)
		} else {
			fmt.Fprintf(&sb, "- Improvement over original: %+.2f\n", o.Improvement)
		}
		fmt.Fprintf(&sb, "\nBoth scores are based on the same %d rigorous tests.\n", doc.RigorousTests)
	}

	if len(doc.Tracks) > 0 {
		sb.WriteString("\n## Tracks\n\n")
		sb.WriteString("| Track | Initial | Best | Improvement | Iterations | Stop reason |\n")
		sb.WriteString("|---|---|---|---|---|---|\n")
		for _, t := range doc.Tracks {
			fmt.Fprintf(&sb, "| %d | %.2f | %.2f | %+.2f | %d | %s |\n",
				t.TrackID, t.InitialScore, t.BestScore, t.Improvement, t.Iterations, t.StopReason)
		}
		for _, t := range doc.Tracks {
			if len(t.Weaknesses) == 0 {
				continue
			}
			fmt.Fprintf(&sb, "\n### Track %d weaknesses\n\n", t.TrackID)
			for _, wk := range t.Weaknesses {
				fmt.Fprintf(&sb, "- Iteration %d: %s\n", wk.Iteration, wk.Description)
				for _, ft := range wk.FailedTests {
					fmt.Fprintf(&sb, "  - %s\n", ft)
				}
			}
		}
	}

	sb.WriteString("\n## Champion prompt\n\n```\n")
	sb.WriteString(doc.Champion.PromptText)
	sb.WriteString("\n```\n")
	return sb.String()
}
