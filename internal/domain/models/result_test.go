package models

import (
	"errors"
	"testing"

	"github.com/longregen/promptopt/internal/domain"
)

func scored(id string, iteration int, score float64) *PromptCandidate {
	c := NewPromptCandidate(id, "aor_1", id, "")
	c.Iteration = iteration
	c.SetTrack(0)
	c.SetScore(ScoreRigorous, score)
	return c
}

func TestNewRefinementTrackResult_FinalIsBestScoring(t *testing.T) {
	prompts := []*PromptCandidate{
		scored("p0", 0, 8.1),
		scored("p1", 1, 8.6),
		scored("p2", 2, 8.3),
	}

	res := NewRefinementTrackResult(0, prompts)

	if res.InitialPrompt.ID != "p0" {
		t.Errorf("expected initial p0, got %s", res.InitialPrompt.ID)
	}
	if res.FinalPrompt.ID != "p1" {
		t.Errorf("expected best-scoring final p1, got %s", res.FinalPrompt.ID)
	}
	if len(res.Scores) != 3 || res.Scores[2] != 8.3 {
		t.Errorf("unexpected scores %v", res.Scores)
	}
	if diff := res.Improvement - 0.5; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected improvement 0.5, got %v", res.Improvement)
	}
}

func TestNewRefinementTrackResult_TieKeepsEarlier(t *testing.T) {
	res := NewRefinementTrackResult(0, []*PromptCandidate{
		scored("p0", 0, 8.0),
		scored("p1", 1, 8.0),
	})
	if res.FinalPrompt.ID != "p0" {
		t.Errorf("expected tie to keep p0, got %s", res.FinalPrompt.ID)
	}
}

func TestNewRefinementTrackResult_Empty(t *testing.T) {
	res := NewRefinementTrackResult(2, nil)
	if res.FinalPrompt != nil || res.InitialPrompt != nil {
		t.Error("expected nil prompts for empty track")
	}
}

func TestSelectChampion(t *testing.T) {
	tracks := []*RefinementTrackResult{
		NewRefinementTrackResult(0, []*PromptCandidate{scored("a0", 0, 7.9), scored("a1", 1, 8.4)}),
		NewRefinementTrackResult(1, []*PromptCandidate{scored("b0", 0, 8.4), scored("b1", 1, 8.2)}),
	}

	champion := SelectChampion(tracks)
	if champion == nil || champion.ID != "a1" {
		t.Fatalf("expected a1 as champion (first of tied best), got %v", champion)
	}

	if SelectChampion(nil) != nil {
		t.Error("expected nil champion with no tracks")
	}
}

func TestScoringWeights_Validate(t *testing.T) {
	if err := DefaultScoringWeights().Validate(); err != nil {
		t.Errorf("default weights should be valid: %v", err)
	}

	bad := ScoringWeights{Functionality: 0.5, Safety: 0.5, Consistency: 0.5}
	if err := bad.Validate(); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("expected invalid config, got %v", err)
	}

	negative := ScoringWeights{Functionality: 1.2, Safety: -0.2}
	if err := negative.Validate(); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("expected invalid config for negative weight, got %v", err)
	}
}

func TestTestDistribution(t *testing.T) {
	d := TestDistribution{Core: 2, Edge: 2, Boundary: 1, Adversarial: 1, Consistency: 1}
	if d.Total() != 7 {
		t.Errorf("expected total 7, got %d", d.Total())
	}
	if err := d.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := (TestDistribution{}).Validate(); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("expected invalid config for empty distribution, got %v", err)
	}
}

func TestTaskSpec_Validate(t *testing.T) {
	if err := (&TaskSpec{}).Validate(); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("expected invalid config, got %v", err)
	}
	spec := &TaskSpec{TaskDescription: "answer questions about docs"}
	if err := spec.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if spec.HasOriginalPrompt() {
		t.Error("expected no original prompt")
	}
}

func TestEvaluationScore_Validate(t *testing.T) {
	ok := EvaluationScore{Functionality: 10, Safety: 0, Consistency: 5, EdgeCaseHandling: 7}
	if err := ok.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	bad := EvaluationScore{Functionality: 11}
	if err := bad.Validate(); !errors.Is(err, domain.ErrSchemaMismatch) {
		t.Errorf("expected schema mismatch, got %v", err)
	}
}
