package prompt

import (
	"sort"
	"testing"

	"github.com/longregen/promptopt/internal/domain/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candidateWith(id string, field models.ScoreField, score *float64) *models.PromptCandidate {
	c := models.NewPromptCandidate(id, "aor_test", "prompt "+id, "")
	if score != nil {
		c.SetScore(field, *score)
	}
	return c
}

func f(v float64) *float64 { return &v }

func ids(cs []*models.PromptCandidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}

func TestSelectTop(t *testing.T) {
	t.Run("quick scores scenario", func(t *testing.T) {
		cands := []*models.PromptCandidate{
			candidateWith("a", models.ScoreQuick, f(8.5)),
			candidateWith("b", models.ScoreQuick, f(6.0)),
			candidateWith("c", models.ScoreQuick, f(7.2)),
		}
		top := SelectTop(cands, models.ScoreQuick, 2)
		assert.Equal(t, []string{"a", "c"}, ids(top))
	})

	t.Run("ties keep input order", func(t *testing.T) {
		cands := []*models.PromptCandidate{
			candidateWith("a", models.ScoreQuick, f(7)),
			candidateWith("b", models.ScoreQuick, f(8)),
			candidateWith("c", models.ScoreQuick, f(7)),
			candidateWith("d", models.ScoreQuick, f(7)),
		}
		top := SelectTop(cands, models.ScoreQuick, 3)
		assert.Equal(t, []string{"b", "a", "c"}, ids(top))
	})

	t.Run("fewer scored than n", func(t *testing.T) {
		cands := []*models.PromptCandidate{
			candidateWith("a", models.ScoreQuick, f(5)),
			candidateWith("b", models.ScoreQuick, nil),
		}
		top := SelectTop(cands, models.ScoreQuick, 5)
		assert.Equal(t, []string{"a"}, ids(top))
	})

	t.Run("other field ignored", func(t *testing.T) {
		cands := []*models.PromptCandidate{
			candidateWith("a", models.ScoreQuick, f(9)),
			candidateWith("b", models.ScoreRigorous, f(8.1)),
		}
		top := SelectTop(cands, models.ScoreRigorous, 2)
		assert.Equal(t, []string{"b"}, ids(top))
	})

	t.Run("non-positive n", func(t *testing.T) {
		cands := []*models.PromptCandidate{candidateWith("a", models.ScoreQuick, f(9))}
		assert.Empty(t, SelectTop(cands, models.ScoreQuick, 0))
		assert.Empty(t, SelectTop(cands, models.ScoreQuick, -1))
	})

	t.Run("input not mutated", func(t *testing.T) {
		cands := []*models.PromptCandidate{
			candidateWith("a", models.ScoreQuick, f(1)),
			candidateWith("b", models.ScoreQuick, f(2)),
		}
		SelectTop(cands, models.ScoreQuick, 2)
		assert.Equal(t, []string{"a", "b"}, ids(cands))
	})
}

func TestSelectTop_ReturnsTopKMultiset(t *testing.T) {
	scores := []float64{3.1, 9.4, 7.7, 7.7, 5.0, 8.8, 1.2, 6.6}
	cands := make([]*models.PromptCandidate, len(scores))
	for i, s := range scores {
		cands[i] = candidateWith(string(rune('a'+i)), models.ScoreQuick, f(s))
	}

	for k := 0; k <= len(scores)+2; k++ {
		top := SelectTop(cands, models.ScoreQuick, k)

		wantLen := k
		if wantLen > len(scores) {
			wantLen = len(scores)
		}
		require.Len(t, top, wantLen)

		sorted := append([]float64(nil), scores...)
		sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))

		got := make([]float64, len(top))
		for i, c := range top {
			got[i] = *c.QuickScore
		}
		assert.Equal(t, sorted[:wantLen], got)
	}
}
