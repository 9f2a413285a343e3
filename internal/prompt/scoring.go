package prompt

import (
	"math"

	"github.com/longregen/promptopt/internal/domain/models"
)

// scorePrecision is the resolution scores are rounded to. Weighted sums and
// means are compared for equality, so float noise must not survive them.
const scorePrecision = 1e9

// Epsilon is the tolerance for threshold comparisons on derived ratios.
const Epsilon = 1e-9

// RoundScore rounds v to scorePrecision.
func RoundScore(v float64) float64 {
	return math.Round(v*scorePrecision) / scorePrecision
}

// Overall computes the weighted sum of the four judge dimensions.
func Overall(s models.EvaluationScore, w models.ScoringWeights) float64 {
	return RoundScore(float64(s.Functionality)*w.Functionality +
		float64(s.Safety)*w.Safety +
		float64(s.Consistency)*w.Consistency +
		float64(s.EdgeCaseHandling)*w.EdgeCaseHandling)
}

// Aggregate returns the arithmetic mean of scores, or 0 for an empty list.
// Summation runs in slice order so callers that index results by test
// position get bit-identical output regardless of completion order.
func Aggregate(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return RoundScore(sum / float64(len(scores)))
}

// AggregateResults averages the overall score of persisted results.
func AggregateResults(results []*models.TestResult) float64 {
	scores := make([]float64, len(results))
	for i, r := range results {
		scores[i] = r.Score.Overall
	}
	return Aggregate(scores)
}
