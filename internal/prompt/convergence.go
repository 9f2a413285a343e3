package prompt

// Improvement is the relative gain of newScore over best. A zero best has no
// meaningful denominator and yields 0.
func Improvement(newScore, best float64) float64 {
	if best == 0 {
		return 0
	}
	return (newScore - best) / best
}

// MeetsThreshold reports whether improvement reaches threshold, allowing for
// the rounding error of the ratio itself.
func MeetsThreshold(improvement, threshold float64) bool {
	return improvement >= threshold-Epsilon
}

// Decision is the outcome of one Decide step.
type Decision struct {
	Accepted    bool
	Improvement float64
}

// Convergence tracks the accept/reject state of one refinement track.
type Convergence struct {
	BestScore          float64
	NoImprovementCount int
	Iteration          int
}

func NewConvergence(seedScore float64) *Convergence {
	return &Convergence{BestScore: seedScore}
}

// Decide records one iteration. The candidate is accepted when its relative
// improvement reaches threshold, or when best is 0 and the new score is positive.
func (c *Convergence) Decide(newScore, threshold float64) Decision {
	c.Iteration++

	imp := Improvement(newScore, c.BestScore)
	accepted := MeetsThreshold(imp, threshold)
	if c.BestScore == 0 {
		accepted = newScore > 0
	}

	if accepted {
		c.BestScore = newScore
		c.NoImprovementCount = 0
	} else {
		c.NoImprovementCount++
	}
	return Decision{Accepted: accepted, Improvement: imp}
}

// ShouldStop reports whether patience is exhausted or the iteration cap is reached.
func (c *Convergence) ShouldStop(maxIterations, patience int) bool {
	return c.NoImprovementCount >= patience || c.Iteration >= maxIterations
}

// Converged reports whether the stop was caused by patience rather than the cap.
func (c *Convergence) Converged(patience int) bool {
	return c.NoImprovementCount >= patience
}
