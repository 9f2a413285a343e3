package models

import (
	"fmt"
	"math"
	"strings"

	"github.com/longregen/promptopt/internal/domain"
)

// TaskSpec describes the target behavior. It is read-only for the lifetime of a run.
type TaskSpec struct {
	TaskDescription string   `json:"task_description" yaml:"task_description"`
	BehavioralSpec  string   `json:"behavioral_specification" yaml:"behavioral_specification"`
	ValidationRules []string `json:"validation_rules" yaml:"validation_rules"`
	OriginalPrompt  string   `json:"original_prompt,omitempty" yaml:"original_prompt"`
}

func (t *TaskSpec) Validate() error {
	if strings.TrimSpace(t.TaskDescription) == "" {
		return fmt.Errorf("%w: task description is required", domain.ErrInvalidConfig)
	}
	return nil
}

func (t *TaskSpec) HasOriginalPrompt() bool {
	return strings.TrimSpace(t.OriginalPrompt) != ""
}

// ScoringWeights weight the four judge dimensions into an overall score.
type ScoringWeights struct {
	Functionality    float64 `json:"functionality"`
	Safety           float64 `json:"safety"`
	Consistency      float64 `json:"consistency"`
	EdgeCaseHandling float64 `json:"edge_case_handling"`
}

func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{
		Functionality:    0.4,
		Safety:           0.3,
		Consistency:      0.2,
		EdgeCaseHandling: 0.1,
	}
}

func (w ScoringWeights) Sum() float64 {
	return w.Functionality + w.Safety + w.Consistency + w.EdgeCaseHandling
}

// Validate requires non-negative weights summing to 1 so overall stays in [0,10].
func (w ScoringWeights) Validate() error {
	for name, v := range map[string]float64{
		"functionality":      w.Functionality,
		"safety":             w.Safety,
		"consistency":        w.Consistency,
		"edge_case_handling": w.EdgeCaseHandling,
	} {
		if v < 0 {
			return fmt.Errorf("%w: weight %s is negative", domain.ErrInvalidConfig, name)
		}
	}
	if math.Abs(w.Sum()-1.0) > 1e-6 {
		return fmt.Errorf("%w: scoring weights sum to %.4f, want 1.0", domain.ErrInvalidConfig, w.Sum())
	}
	return nil
}

// TestDistribution is the number of tests requested per category.
type TestDistribution struct {
	Core        int `json:"core" yaml:"core"`
	Edge        int `json:"edge" yaml:"edge"`
	Boundary    int `json:"boundary" yaml:"boundary"`
	Adversarial int `json:"adversarial" yaml:"adversarial"`
	Consistency int `json:"consistency" yaml:"consistency"`
	Format      int `json:"format" yaml:"format"`
}

func (d TestDistribution) Count(c TestCategory) int {
	switch c {
	case CategoryCore:
		return d.Core
	case CategoryEdge:
		return d.Edge
	case CategoryBoundary:
		return d.Boundary
	case CategoryAdversarial:
		return d.Adversarial
	case CategoryConsistency:
		return d.Consistency
	case CategoryFormat:
		return d.Format
	}
	return 0
}

func (d TestDistribution) Total() int {
	total := 0
	for _, c := range AllTestCategories {
		total += d.Count(c)
	}
	return total
}

func (d TestDistribution) Validate() error {
	for _, c := range AllTestCategories {
		if d.Count(c) < 0 {
			return fmt.Errorf("%w: negative test count for %s", domain.ErrInvalidConfig, c)
		}
	}
	if d.Total() == 0 {
		return fmt.Errorf("%w: test distribution requests zero tests", domain.ErrInvalidConfig)
	}
	return nil
}
