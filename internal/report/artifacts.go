package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/longregen/promptopt/internal/domain/models"
)

const rule = "======================================================================\n"

type promptEntry struct {
	ID                     string   `json:"id"`
	Stage                  string   `json:"stage"`
	Strategy               string   `json:"strategy,omitempty"`
	TrackID                *int     `json:"track_id,omitempty"`
	Iteration              int      `json:"iteration"`
	ParentPromptID         string   `json:"parent_prompt_id,omitempty"`
	QuickScore             *float64 `json:"quick_score,omitempty"`
	RigorousScore          *float64 `json:"rigorous_score,omitempty"`
	IsOriginalSystemPrompt bool     `json:"is_original_system_prompt"`
	PromptText             string   `json:"prompt_text"`
}

type promptsSummary struct {
	Generated     int     `json:"generated"`
	QuickFilter   int     `json:"quick_filter_top_count"`
	Tracks        int     `json:"refinement_tracks"`
	Refined       int     `json:"refined"`
	ChampionScore float64 `json:"champion_score"`
}

type promptsDocument struct {
	Prompts  []promptEntry  `json:"prompts"`
	Champion promptEntry    `json:"champion"`
	Original *promptEntry   `json:"original_system_prompt,omitempty"`
	Summary  promptsSummary `json:"summary"`
}

func newPromptEntry(c *models.PromptCandidate) promptEntry {
	return promptEntry{
		ID:                     c.ID,
		Stage:                  string(c.Stage),
		Strategy:               c.Strategy,
		TrackID:                c.TrackID,
		Iteration:              c.Iteration,
		ParentPromptID:         c.ParentPromptID,
		QuickScore:             c.QuickScore,
		RigorousScore:          c.RigorousScore,
		IsOriginalSystemPrompt: c.IsOriginalSystemPrompt,
		PromptText:             c.PromptText,
	}
}

func buildPromptsDocument(result *models.OptimizationResult) promptsDocument {
	best, _ := result.BestPrompt.Score()
	doc := promptsDocument{
		Prompts:  make([]promptEntry, 0, len(result.Candidates)),
		Champion: newPromptEntry(result.BestPrompt),
		Summary:  promptsSummary{ChampionScore: best, Tracks: len(result.Tracks)},
	}
	for _, c := range result.Candidates {
		doc.Prompts = append(doc.Prompts, newPromptEntry(c))
		switch {
		case c.Stage == models.StageRefined:
			doc.Summary.Refined++
		case c.Stage.Rank() >= models.StageQuickFilter.Rank():
			doc.Summary.Generated++
			doc.Summary.QuickFilter++
		default:
			doc.Summary.Generated++
		}
	}
	if result.OriginalPrompt != nil {
		o := newPromptEntry(result.OriginalPrompt)
		doc.Original = &o
	}
	return doc
}

type testCaseEntry struct {
	ID               string              `json:"id"`
	InputMessage     string              `json:"input_message"`
	ExpectedBehavior string              `json:"expected_behavior"`
	Category         models.TestCategory `json:"category"`
}

type testCasesDocument struct {
	QuickTests    []testCaseEntry `json:"quick_tests"`
	RigorousTests []testCaseEntry `json:"rigorous_tests"`
	Summary       struct {
		Quick    int `json:"total_quick_tests"`
		Rigorous int `json:"total_rigorous_tests"`
		Total    int `json:"total_tests"`
	} `json:"summary"`
}

func testCaseEntries(tests []*models.TestCase) []testCaseEntry {
	out := make([]testCaseEntry, 0, len(tests))
	for _, tc := range tests {
		out = append(out, testCaseEntry{
			ID:               tc.DisplayID(),
			InputMessage:     tc.InputMessage,
			ExpectedBehavior: tc.ExpectedBehavior,
			Category:         tc.Category,
		})
	}
	return out
}

func buildTestCasesDocument(result *models.OptimizationResult) testCasesDocument {
	var doc testCasesDocument
	doc.QuickTests = testCaseEntries(result.QuickTests)
	doc.RigorousTests = testCaseEntries(result.RigorousTests)
	doc.Summary.Quick = len(doc.QuickTests)
	doc.Summary.Rigorous = len(doc.RigorousTests)
	doc.Summary.Total = doc.Summary.Quick + doc.Summary.Rigorous
	return doc
}

func byCategory(tests []*models.TestCase) map[models.TestCategory][]*models.TestCase {
	grouped := make(map[models.TestCategory][]*models.TestCase)
	for _, tc := range tests {
		grouped[tc.Category] = append(grouped[tc.Category], tc)
	}
	return grouped
}

// renderChampionQuestions lists the rigorous suite the champion was judged on.
func renderChampionQuestions(result *models.OptimizationResult) string {
	var sb strings.Builder
	sb.WriteString("CHAMPION PROMPT TEST QUESTIONS\n")
	sb.WriteString(rule)
	fmt.Fprintf(&sb, "Champion Prompt ID: %s\n", result.BestPrompt.ID)
	fmt.Fprintf(&sb, "Total Test Questions: %d\n", len(result.RigorousTests))
	sb.WriteString(rule)

	grouped := byCategory(result.RigorousTests)
	for _, c := range models.AllTestCategories {
		tests := grouped[c]
		if len(tests) == 0 {
			continue
		}
		sb.WriteString("\n" + rule)
		fmt.Fprintf(&sb, "%s QUESTIONS (%d tests)\n", strings.ToUpper(string(c)), len(tests))
		sb.WriteString(rule + "\n")
		for i, tc := range tests {
			fmt.Fprintf(&sb, "%d. Test ID: %s\n", i+1, tc.DisplayID())
			fmt.Fprintf(&sb, "   Question: %s\n", tc.InputMessage)
			fmt.Fprintf(&sb, "   Expected: %s\n\n", tc.ExpectedBehavior)
		}
	}
	return sb.String()
}

// quickRank is the 1-based position of id among quick-scored, unrefined
// candidates, highest score first. Zero when id was never quick-scored.
func quickRank(candidates []*models.PromptCandidate, id string) (rank, total int) {
	var scored []*models.PromptCandidate
	for _, c := range candidates {
		if c.Stage != models.StageRefined && c.QuickScore != nil {
			scored = append(scored, c)
		}
	}
	sort.SliceStable(scored, func(i, j int) bool { return *scored[i].QuickScore > *scored[j].QuickScore })
	for i, c := range scored {
		if c.ID == id {
			return i + 1, len(scored)
		}
	}
	return 0, len(scored)
}

// renderOriginalQuickReport describes how the original prompt fared on the
// quick suite.
func renderOriginalQuickReport(result *models.OptimizationResult) string {
	o := result.OriginalPrompt
	var sb strings.Builder
	sb.WriteString("ORIGINAL SYSTEM PROMPT - QUICK TEST REPORT\n")
	sb.WriteString(rule + "\n")

	rank, total := quickRank(result.Candidates, o.ID)
	fmt.Fprintf(&sb, "Score: %.2f/10\n", *o.QuickScore)
	if rank > 0 {
		fmt.Fprintf(&sb, "Rank: %d/%d among initial prompts\n", rank, total)
	}
	fmt.Fprintf(&sb, "Status: %s\n", originalStatus(o))
	fmt.Fprintf(&sb, "Total Quick Tests: %d\n", len(result.OriginalQuickResults))

	entries := qaEntries(result.OriginalQuickResults, result.QuickTests)
	sums := make(map[models.TestCategory][]float64)
	for _, e := range entries {
		if e.Category != "" {
			sums[e.Category] = append(sums[e.Category], e.Evaluation.Overall)
		}
	}
	if len(sums) > 0 {
		sb.WriteString("\nPERFORMANCE BY CATEGORY\n")
		for _, c := range models.AllTestCategories {
			scores := sums[c]
			if len(scores) == 0 {
				continue
			}
			var sum float64
			for _, s := range scores {
				sum += s
			}
			fmt.Fprintf(&sb, "%-15s %.2f/10 (%d tests)\n", strings.ToUpper(string(c)), sum/float64(len(scores)), len(scores))
		}
	}

	sb.WriteString("\n" + rule + "DETAILED TEST RESULTS\n" + rule)
	for _, e := range entries {
		fmt.Fprintf(&sb, "\nTest ID: %s\n", e.TestID)
		fmt.Fprintf(&sb, "Question: %s\n", e.Question)
		fmt.Fprintf(&sb, "Expected: %s\n\n", e.ExpectedBehavior)
		fmt.Fprintf(&sb, "Answer:\n%s\n\n", e.Answer)
		fmt.Fprintf(&sb, "Overall: %.2f/10 (functionality %d, safety %d, consistency %d, edge cases %d)\n",
			e.Evaluation.Overall, e.Evaluation.Functionality, e.Evaluation.Safety,
			e.Evaluation.Consistency, e.Evaluation.EdgeCaseHandling)
		fmt.Fprintf(&sb, "Reasoning: %s\n", e.Evaluation.Reasoning)
	}

	sb.WriteString("\n" + rule + "ORIGINAL PROMPT TEXT\n" + rule)
	sb.WriteString(o.PromptText)
	sb.WriteString("\n")
	return sb.String()
}

// renderPipelineReport traces every prompt through the stages it reached.
func renderPipelineReport(result *models.OptimizationResult) string {
	var unrefined []*models.PromptCandidate
	for _, c := range result.Candidates {
		if c.Stage != models.StageRefined {
			unrefined = append(unrefined, c)
		}
	}

	var sb strings.Builder
	sb.WriteString("# Pipeline report\n\n")

	sb.WriteString("## Quick filter\n\n")
	sb.WriteString("| Prompt | Strategy | Quick score | Outcome |\n|---|---|---|---|\n")
	quick := scoredBy(unrefined, func(c *models.PromptCandidate) *float64 { return c.QuickScore })
	for _, c := range quick {
		outcome := "filtered out"
		if c.Stage.Rank() >= models.StageQuickFilter.Rank() {
			outcome = "promoted to rigorous"
		}
		fmt.Fprintf(&sb, "| %s%s | %s | %.2f | %s |\n", c.ID, originalMarker(c), c.Strategy, *c.QuickScore, outcome)
	}

	sb.WriteString("\n## Rigorous evaluation\n\n")
	sb.WriteString("| Prompt | Rigorous score | Outcome |\n|---|---|---|\n")
	rigorous := scoredBy(unrefined, func(c *models.PromptCandidate) *float64 { return c.RigorousScore })
	for _, c := range rigorous {
		outcome := "filtered out"
		switch {
		case c.HasTrack():
			outcome = fmt.Sprintf("track %d", *c.TrackID)
		case c.IsOriginalSystemPrompt:
			outcome = "comparison only"
		}
		fmt.Fprintf(&sb, "| %s%s | %.2f | %s |\n", c.ID, originalMarker(c), *c.RigorousScore, outcome)
	}

	for _, t := range result.Tracks {
		if t.InitialPrompt == nil {
			continue
		}
		fmt.Fprintf(&sb, "\n## Track %d (from %s)\n\n", t.TrackID, t.InitialPrompt.ID)
		for i, p := range t.Iterations {
			best := ""
			if t.FinalPrompt != nil && p.ID == t.FinalPrompt.ID {
				best = " **best**"
			}
			fmt.Fprintf(&sb, "- Iteration %d: %s (%.2f) [%s]%s\n", p.Iteration, p.ID, t.Scores[i], p.Stage, best)
		}
		if t.StopReason != "" {
			fmt.Fprintf(&sb, "- Stopped: %s\n", t.StopReason)
		}
	}

	best, _ := result.BestPrompt.Score()
	sb.WriteString("\n## Champion\n\n")
	fmt.Fprintf(&sb, "- Prompt: %s\n", result.BestPrompt.ID)
	fmt.Fprintf(&sb, "- Score: %.2f/10\n", best)
	if result.BestPrompt.TrackID != nil {
		fmt.Fprintf(&sb, "- Track: %d\n", *result.BestPrompt.TrackID)
	}
	fmt.Fprintf(&sb, "- Iteration: %d\n", result.BestPrompt.Iteration)
	return sb.String()
}

// scoredBy returns the candidates that carry the score, highest first.
func scoredBy(candidates []*models.PromptCandidate, score func(*models.PromptCandidate) *float64) []*models.PromptCandidate {
	var out []*models.PromptCandidate
	for _, c := range candidates {
		if score(c) != nil {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return *score(out[i]) > *score(out[j]) })
	return out
}

func originalMarker(c *models.PromptCandidate) string {
	if c.IsOriginalSystemPrompt {
		return " (original)"
	}
	return ""
}
