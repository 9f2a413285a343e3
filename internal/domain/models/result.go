package models

// Track stop reasons
const (
	StopConverged     = "converged"
	StopMaxIterations = "max_iterations"
	StopCancelled     = "cancelled"
)

// RefinementTrackResult is a derived view over the prompts of one track.
type RefinementTrackResult struct {
	TrackID       int                 `json:"track_id" msgpack:"track_id"`
	InitialPrompt *PromptCandidate    `json:"initial_prompt" msgpack:"initial_prompt"`
	FinalPrompt   *PromptCandidate    `json:"final_prompt" msgpack:"final_prompt"`
	Iterations    []*PromptCandidate  `json:"iterations" msgpack:"iterations"`
	Scores        []float64           `json:"scores" msgpack:"scores"`
	Improvement   float64             `json:"improvement" msgpack:"improvement"`
	StopReason    string              `json:"stop_reason,omitempty" msgpack:"stop_reason,omitempty"`
	Weaknesses    []*WeaknessAnalysis `json:"weaknesses,omitempty" msgpack:"weaknesses,omitempty"`
}

// NewRefinementTrackResult builds the view from a track's prompts in iteration
// order. The final prompt is the best-scoring one; ties keep the earlier iteration.
func NewRefinementTrackResult(trackID int, prompts []*PromptCandidate) *RefinementTrackResult {
	res := &RefinementTrackResult{
		TrackID:    trackID,
		Iterations: prompts,
		Scores:     make([]float64, 0, len(prompts)),
	}
	if len(prompts) == 0 {
		return res
	}
	res.InitialPrompt = prompts[0]

	bestIdx := -1
	var best float64
	for i, p := range prompts {
		s, ok := p.Score()
		if !ok {
			s = 0
		}
		res.Scores = append(res.Scores, s)
		if ok && (bestIdx < 0 || s > best) {
			bestIdx, best = i, s
		}
	}
	if bestIdx < 0 {
		bestIdx = 0
	}
	res.FinalPrompt = prompts[bestIdx]
	res.Improvement = res.Scores[bestIdx] - res.Scores[0]
	return res
}

// OptimizationResult is everything a report writer needs about a finished run.
type OptimizationResult struct {
	RunID                 string                   `json:"run_id" msgpack:"run_id"`
	BestPrompt            *PromptCandidate         `json:"best_prompt" msgpack:"best_prompt"`
	Tracks                []*RefinementTrackResult `json:"tracks" msgpack:"tracks"`
	TotalTestsRun         int                      `json:"total_tests_run" msgpack:"total_tests_run"`
	ElapsedSeconds        float64                  `json:"elapsed_seconds" msgpack:"elapsed_seconds"`
	OriginalPrompt        *PromptCandidate         `json:"original_prompt,omitempty" msgpack:"original_prompt,omitempty"`
	OriginalRigorousScore *float64                 `json:"original_rigorous_score,omitempty" msgpack:"original_rigorous_score,omitempty"`
	OriginalResults       []*TestResult            `json:"original_results,omitempty" msgpack:"original_results,omitempty"`
	ChampionResults       []*TestResult            `json:"champion_results,omitempty" msgpack:"champion_results,omitempty"`
	RigorousTests         []*TestCase              `json:"rigorous_tests,omitempty" msgpack:"rigorous_tests,omitempty"`
	QuickTests            []*TestCase              `json:"quick_tests,omitempty" msgpack:"quick_tests,omitempty"`
	OriginalQuickResults  []*TestResult            `json:"original_quick_results,omitempty" msgpack:"original_quick_results,omitempty"`
	Candidates            []*PromptCandidate       `json:"candidates,omitempty" msgpack:"candidates,omitempty"`
}

// SelectChampion returns the highest-scoring prompt across tracks. Ties keep
// the first encountered in track then iteration order.
func SelectChampion(tracks []*RefinementTrackResult) *PromptCandidate {
	var champion *PromptCandidate
	var best float64
	for _, t := range tracks {
		for _, p := range t.Iterations {
			s, ok := p.Score()
			if !ok {
				continue
			}
			if champion == nil || s > best {
				champion, best = p, s
			}
		}
	}
	return champion
}
