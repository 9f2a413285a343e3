package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestImprovement(t *testing.T) {
	assert.InDelta(t, -0.012345679, Improvement(8.0, 8.1), 1e-6)
	assert.InDelta(t, 0.05, Improvement(8.4, 8.0), 1e-9)
	assert.Equal(t, 0.0, Improvement(5.0, 0))
}

func TestMeetsThreshold(t *testing.T) {
	tests := []struct {
		name     string
		newScore float64
		best     float64
		want     bool
	}{
		{"exact two percent", 5.1, 5.0, true},
		{"exact two percent of 8", 8.16, 8.0, true},
		{"just below", 5.099, 5.0, false},
		{"regression", 7.9, 8.0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MeetsThreshold(Improvement(tt.newScore, tt.best), 0.02); got != tt.want {
				t.Errorf("MeetsThreshold(Improvement(%v, %v)) = %v, want %v", tt.newScore, tt.best, got, tt.want)
			}
		})
	}
}

func TestConvergence_Decide(t *testing.T) {
	t.Run("rejects small regression", func(t *testing.T) {
		c := NewConvergence(8.1)
		d := c.Decide(8.0, 0.02)

		assert.False(t, d.Accepted)
		assert.Less(t, d.Improvement, 0.02)
		assert.Equal(t, 1, c.NoImprovementCount)
		assert.Equal(t, 8.1, c.BestScore)
	})

	t.Run("accepts at threshold", func(t *testing.T) {
		c := NewConvergence(5.0)
		c.NoImprovementCount = 1
		d := c.Decide(5.1, 0.02)

		assert.True(t, d.Accepted)
		assert.Equal(t, 0, c.NoImprovementCount)
		assert.Equal(t, 5.1, c.BestScore)
	})

	t.Run("zero best accepts any positive score", func(t *testing.T) {
		c := NewConvergence(0)
		d := c.Decide(0.5, 0.02)
		assert.True(t, d.Accepted)
		assert.Equal(t, 0.0, d.Improvement)

		z := NewConvergence(0)
		assert.False(t, z.Decide(0, 0.02).Accepted)
	})
}

func TestConvergence_Termination(t *testing.T) {
	cases := []struct {
		name      string
		scores    []float64
		maxIter   int
		patience  int
		wantIters int
	}{
		{"patience exhausted", []float64{5.0, 5.0, 5.0, 5.0}, 10, 2, 2},
		{"iteration cap", []float64{6, 7, 8, 9, 10}, 3, 2, 3},
		{"reset by acceptance", []float64{5.0, 6.0, 6.0, 6.0}, 10, 2, 4},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewConvergence(5.0)
			iters := 0
			for _, s := range tc.scores {
				c.Decide(s, 0.02)
				iters++
				if c.ShouldStop(tc.maxIter, tc.patience) {
					break
				}
			}
			assert.Equal(t, tc.wantIters, iters)
			assert.LessOrEqual(t, iters, tc.maxIter)
		})
	}
}
