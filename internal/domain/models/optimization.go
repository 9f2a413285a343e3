package models

import (
	"time"
)

// OptimizationRun is the aggregate root of one pipeline execution.
type OptimizationRun struct {
	ID               string     `json:"id" msgpack:"id"`
	TaskDescription  string     `json:"task_description" msgpack:"task_description"`
	Status           string     `json:"status" msgpack:"status"` // "running", "completed", "failed"
	CurrentStage     string     `json:"current_stage,omitempty" msgpack:"current_stage,omitempty"`
	ChampionPromptID string     `json:"champion_prompt_id,omitempty" msgpack:"champion_prompt_id,omitempty"`
	TotalTestsRun    int        `json:"total_tests_run" msgpack:"total_tests_run"`
	ElapsedSeconds   float64    `json:"elapsed_seconds" msgpack:"elapsed_seconds"`
	ErrorMessage     string     `json:"error_message,omitempty" msgpack:"error_message,omitempty"`
	StartedAt        time.Time  `json:"started_at" msgpack:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty" msgpack:"completed_at,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at" msgpack:"updated_at"`

	// Refinement settings the run started with. Zero when not recorded.
	ConvergenceThreshold float64 `json:"convergence_threshold" msgpack:"convergence_threshold"`
	Patience             int     `json:"early_stopping_patience" msgpack:"early_stopping_patience"`
	MaxIterations        int     `json:"max_iterations_per_track" msgpack:"max_iterations_per_track"`
}

// OptimizationRun status values
const (
	OptimizationStatusRunning   = "running"
	OptimizationStatusCompleted = "completed"
	OptimizationStatusFailed    = "failed"
)

func NewOptimizationRun(id, taskDescription string) *OptimizationRun {
	now := time.Now().UTC()
	return &OptimizationRun{
		ID:              id,
		TaskDescription: taskDescription,
		Status:          OptimizationStatusRunning,
		StartedAt:       now,
		UpdatedAt:       now,
	}
}

// MarkCompleted records the champion and final counters.
func (r *OptimizationRun) MarkCompleted(championID string, totalTests int, elapsedSeconds float64) {
	now := time.Now().UTC()
	r.Status = OptimizationStatusCompleted
	r.ChampionPromptID = championID
	r.TotalTestsRun = totalTests
	r.ElapsedSeconds = elapsedSeconds
	r.CompletedAt = &now
	r.UpdatedAt = now
}

// MarkFailed records the failure. A failed run has no champion.
func (r *OptimizationRun) MarkFailed(message string) {
	now := time.Now().UTC()
	r.Status = OptimizationStatusFailed
	r.ErrorMessage = message
	r.ChampionPromptID = ""
	r.CompletedAt = nil
	r.UpdatedAt = now
}

// HasRefinementSettings reports whether the run recorded its track settings.
func (r *OptimizationRun) HasRefinementSettings() bool {
	return r.Patience > 0 && r.MaxIterations > 0
}

func (r *OptimizationRun) IsRunning() bool {
	return r.Status == OptimizationStatusRunning
}
