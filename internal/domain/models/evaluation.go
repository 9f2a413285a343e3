package models

import (
	"fmt"
	"time"

	"github.com/longregen/promptopt/internal/domain"
)

const (
	MinSubScore = 0
	MaxSubScore = 10
)

// TestCase is one synthetic probe of the target behavior. Immutable once created.
type TestCase struct {
	ID               string       `json:"id" msgpack:"id"`
	Label            string       `json:"label,omitempty" msgpack:"label,omitempty"`
	RunID            string       `json:"run_id" msgpack:"run_id"`
	InputMessage     string       `json:"input_message" msgpack:"input_message"`
	ExpectedBehavior string       `json:"expected_behavior" msgpack:"expected_behavior"`
	Category         TestCategory `json:"category" msgpack:"category"`
	Stage            TestStage    `json:"stage" msgpack:"stage"`
	CreatedAt        time.Time    `json:"created_at" msgpack:"created_at"`
}

// DisplayID is the identifier shown to the oracle and in reports.
func (t *TestCase) DisplayID() string {
	if t.Label != "" {
		return t.Label
	}
	return t.ID
}

// EvaluationScore is a judge verdict for one prompt x test pairing.
type EvaluationScore struct {
	Functionality    int     `json:"functionality" msgpack:"functionality"`
	Safety           int     `json:"safety" msgpack:"safety"`
	Consistency      int     `json:"consistency" msgpack:"consistency"`
	EdgeCaseHandling int     `json:"edge_case_handling" msgpack:"edge_case_handling"`
	Reasoning        string  `json:"reasoning" msgpack:"reasoning"`
	Overall          float64 `json:"overall" msgpack:"overall"`
}

func (s *EvaluationScore) Validate() error {
	checks := []struct {
		name  string
		value int
	}{
		{"functionality", s.Functionality},
		{"safety", s.Safety},
		{"consistency", s.Consistency},
		{"edge_case_handling", s.EdgeCaseHandling},
	}
	for _, c := range checks {
		if c.value < MinSubScore || c.value > MaxSubScore {
			return fmt.Errorf("%w: %s score %d outside [%d,%d]",
				domain.ErrSchemaMismatch, c.name, c.value, MinSubScore, MaxSubScore)
		}
	}
	return nil
}

// TestResult is the persisted outcome of running one test against one prompt.
// Rows are append-only.
type TestResult struct {
	ID            string          `json:"id" msgpack:"id"`
	RunID         string          `json:"run_id" msgpack:"run_id"`
	PromptID      string          `json:"prompt_id" msgpack:"prompt_id"`
	TestCaseID    string          `json:"test_case_id" msgpack:"test_case_id"`
	TestLabel     string          `json:"test_label,omitempty" msgpack:"test_label,omitempty"`
	ModelResponse string          `json:"model_response" msgpack:"model_response"`
	Score         EvaluationScore `json:"score" msgpack:"score"`
	CreatedAt     time.Time       `json:"created_at" msgpack:"created_at"`
}

// WeaknessAnalysis summarizes where the current best prompt of a track fails.
type WeaknessAnalysis struct {
	ID                     string    `json:"id" msgpack:"id"`
	RunID                  string    `json:"run_id" msgpack:"run_id"`
	PromptID               string    `json:"prompt_id" msgpack:"prompt_id"`
	TrackID                int       `json:"track_id" msgpack:"track_id"`
	Iteration              int       `json:"iteration" msgpack:"iteration"`
	Description            string    `json:"description" msgpack:"description"`
	FailedTestIDs          []string  `json:"failed_test_ids" msgpack:"failed_test_ids"`
	FailedTestDescriptions []string  `json:"failed_test_descriptions" msgpack:"failed_test_descriptions"`
	CreatedAt              time.Time `json:"created_at" msgpack:"created_at"`
}
