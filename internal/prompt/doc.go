// Package prompt holds the pure decision logic of the optimizer: weighted
// scoring, score aggregation, top-N selection, weakness analysis and the
// convergence rule that stops a refinement track.
//
// Nothing in this package performs I/O. The application services feed it
// persisted candidates and evaluations and act on its answers.
//
// # Scoring
//
//	overall := prompt.Overall(score, weights)
//	mean := prompt.Aggregate([]float64{8, 6, 7})
//
// # Selection
//
//	top := prompt.SelectTop(candidates, models.ScoreQuick, 5)
//
// # Convergence
//
//	conv := prompt.NewConvergence(seedScore)
//	d := conv.Decide(newScore, 0.02)
//	if conv.ShouldStop(maxIterations, patience) { ... }
package prompt
