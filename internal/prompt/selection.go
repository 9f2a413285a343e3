package prompt

import (
	"sort"

	"github.com/longregen/promptopt/internal/domain/models"
)

// SelectTop returns up to n candidates with a non-nil score in field, sorted
// by that score descending. Ties keep their input order. Unscored candidates
// are dropped rather than padded. The input slice is not modified.
func SelectTop(candidates []*models.PromptCandidate, field models.ScoreField, n int) []*models.PromptCandidate {
	if n <= 0 {
		return []*models.PromptCandidate{}
	}

	scored := make([]*models.PromptCandidate, 0, len(candidates))
	for _, c := range candidates {
		if c != nil && c.ScoreFor(field) != nil {
			scored = append(scored, c)
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return *scored[i].ScoreFor(field) > *scored[j].ScoreFor(field)
	})

	if len(scored) > n {
		scored = scored[:n]
	}
	return scored
}
