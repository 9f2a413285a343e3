package prompt

import (
	"fmt"
	"strings"

	"github.com/longregen/promptopt/internal/domain/models"
)

const (
	DefaultWeaknessThreshold  = 7.0
	DefaultMaxWeaknessSamples = 5

	NoWeaknessDescription = "No significant weaknesses found"
)

// WeaknessSummary is the analysis of one prompt's evaluations.
type WeaknessSummary struct {
	Description string
	// FailedTestIDs lists every failing test case.
	FailedTestIDs []string
	// FailedTestDescriptions is capped at maxSamples to keep the refinement request small.
	FailedTestDescriptions []string
}

func (w WeaknessSummary) HasFailures() bool {
	return len(w.FailedTestIDs) > 0
}

// AnalyzeWeakness selects results whose overall score is below threshold.
// An empty failure set yields a neutral description; refinement still proceeds.
func AnalyzeWeakness(results []*models.TestResult, threshold float64, maxSamples int) WeaknessSummary {
	if maxSamples < 0 {
		maxSamples = 0
	}

	summary := WeaknessSummary{
		FailedTestIDs:          []string{},
		FailedTestDescriptions: []string{},
	}
	for _, r := range results {
		if r.Score.Overall >= threshold {
			continue
		}
		summary.FailedTestIDs = append(summary.FailedTestIDs, r.TestCaseID)
		if len(summary.FailedTestDescriptions) < maxSamples {
			label := r.TestLabel
			if label == "" {
				label = r.TestCaseID
			}
			summary.FailedTestDescriptions = append(summary.FailedTestDescriptions,
				fmt.Sprintf("Test %s: %s", label, r.Score.Reasoning))
		}
	}

	if !summary.HasFailures() {
		summary.Description = NoWeaknessDescription
		return summary
	}
	summary.Description = fmt.Sprintf("Found %d weak test cases. Common issues: %s",
		len(summary.FailedTestIDs), strings.Join(summary.FailedTestDescriptions, "; "))
	return summary
}
