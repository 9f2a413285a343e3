package models

import (
	"fmt"
	"time"

	"github.com/longregen/promptopt/internal/domain"
)

// StrategyOriginal tags the verbatim prompt supplied with the task.
const StrategyOriginal = "original"

// PromptCandidate is a single system-prompt variant tracked through the pipeline.
type PromptCandidate struct {
	ID                     string      `json:"id" msgpack:"id"`
	RunID                  string      `json:"run_id" msgpack:"run_id"`
	PromptText             string      `json:"prompt_text" msgpack:"prompt_text"`
	Stage                  PromptStage `json:"stage" msgpack:"stage"`
	Strategy               string      `json:"strategy,omitempty" msgpack:"strategy,omitempty"`
	QuickScore             *float64    `json:"quick_score,omitempty" msgpack:"quick_score,omitempty"`
	RigorousScore          *float64    `json:"rigorous_score,omitempty" msgpack:"rigorous_score,omitempty"`
	AverageScore           *float64    `json:"average_score,omitempty" msgpack:"average_score,omitempty"`
	Iteration              int         `json:"iteration" msgpack:"iteration"`
	TrackID                *int        `json:"track_id,omitempty" msgpack:"track_id,omitempty"`
	ParentPromptID         string      `json:"parent_prompt_id,omitempty" msgpack:"parent_prompt_id,omitempty"`
	IsOriginalSystemPrompt bool        `json:"is_original_system_prompt" msgpack:"is_original_system_prompt"`
	CreatedAt              time.Time   `json:"created_at" msgpack:"created_at"`
}

func NewPromptCandidate(id, runID, promptText, strategy string) *PromptCandidate {
	return &PromptCandidate{
		ID:         id,
		RunID:      runID,
		PromptText: promptText,
		Stage:      StageInitial,
		Strategy:   strategy,
		CreatedAt:  time.Now().UTC(),
	}
}

// NewRefinedCandidate derives the next iteration of a track from its current prompt.
func NewRefinedCandidate(id string, parent *PromptCandidate, promptText string, iteration int) *PromptCandidate {
	c := &PromptCandidate{
		ID:             id,
		RunID:          parent.RunID,
		PromptText:     promptText,
		Stage:          StageRefined,
		Strategy:       parent.Strategy,
		Iteration:      iteration,
		ParentPromptID: parent.ID,
		CreatedAt:      time.Now().UTC(),
	}
	if parent.TrackID != nil {
		track := *parent.TrackID
		c.TrackID = &track
	}
	return c
}

// Advance moves the candidate to next. Regressions are rejected; staying put is allowed.
func (c *PromptCandidate) Advance(next PromptStage) error {
	if !next.IsValid() {
		return fmt.Errorf("%w: unknown stage %q", domain.ErrInvariantViolation, next)
	}
	if next.Rank() < c.Stage.Rank() {
		return fmt.Errorf("%w: candidate %s cannot move from %s back to %s",
			domain.ErrInvariantViolation, c.ID, c.Stage, next)
	}
	c.Stage = next
	return nil
}

// ScoreFor returns the score stored under field.
func (c *PromptCandidate) ScoreFor(field ScoreField) *float64 {
	switch field {
	case ScoreQuick:
		return c.QuickScore
	case ScoreRigorous:
		return c.RigorousScore
	case ScoreAverage:
		return c.AverageScore
	}
	return nil
}

// SetScore writes field and mirrors the value into AverageScore, which always
// holds the latest aggregate.
func (c *PromptCandidate) SetScore(field ScoreField, score float64) {
	v := score
	switch field {
	case ScoreQuick:
		c.QuickScore = &v
	case ScoreRigorous:
		c.RigorousScore = &v
	}
	avg := score
	c.AverageScore = &avg
}

// Score returns the most authoritative score available.
func (c *PromptCandidate) Score() (float64, bool) {
	for _, s := range []*float64{c.RigorousScore, c.AverageScore, c.QuickScore} {
		if s != nil {
			return *s, true
		}
	}
	return 0, false
}

func (c *PromptCandidate) HasTrack() bool {
	return c.TrackID != nil
}

func (c *PromptCandidate) SetTrack(trackID int) {
	t := trackID
	c.TrackID = &t
}

// ValidateLineage checks the refinement chain invariant against the resolved parent.
func (c *PromptCandidate) ValidateLineage(parent *PromptCandidate) error {
	if c.Iteration == 0 && c.ParentPromptID == "" {
		return nil
	}
	if c.ParentPromptID == "" {
		return fmt.Errorf("%w: candidate %s at iteration %d has no parent",
			domain.ErrInvariantViolation, c.ID, c.Iteration)
	}
	if parent == nil || parent.ID != c.ParentPromptID {
		return fmt.Errorf("%w: parent %s of candidate %s not found",
			domain.ErrInvariantViolation, c.ParentPromptID, c.ID)
	}
	if parent.RunID != c.RunID {
		return fmt.Errorf("%w: parent %s belongs to run %s, not %s",
			domain.ErrInvariantViolation, parent.ID, parent.RunID, c.RunID)
	}
	if !sameTrack(parent.TrackID, c.TrackID) {
		return fmt.Errorf("%w: parent %s is on a different track than %s",
			domain.ErrInvariantViolation, parent.ID, c.ID)
	}
	if parent.Iteration >= c.Iteration {
		return fmt.Errorf("%w: parent %s iteration %d is not below %d",
			domain.ErrInvariantViolation, parent.ID, parent.Iteration, c.Iteration)
	}
	return nil
}

func sameTrack(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
