package ports

import (
	"context"

	"github.com/longregen/promptopt/internal/domain/models"
)

// Progress event types
const (
	EventStarted   = "started"
	EventStage     = "stage"
	EventIteration = "iteration"
	EventCompleted = "completed"
	EventFailed    = "failed"
)

// OptimizationProgressEvent represents a progress update during optimization.
// This is the canonical event type for pub/sub progress notifications.
type OptimizationProgressEvent struct {
	Type          string  `json:"type" msgpack:"type"`
	RunID         string  `json:"run_id" msgpack:"run_id"`
	Stage         string  `json:"stage,omitempty" msgpack:"stage,omitempty"`
	TrackID       *int    `json:"track_id,omitempty" msgpack:"track_id,omitempty"`
	Iteration     int     `json:"iteration,omitempty" msgpack:"iteration,omitempty"`
	MaxIterations int     `json:"max_iterations,omitempty" msgpack:"max_iterations,omitempty"`
	CurrentScore  float64 `json:"current_score,omitempty" msgpack:"current_score,omitempty"`
	BestScore     float64 `json:"best_score,omitempty" msgpack:"best_score,omitempty"`
	Accepted      bool    `json:"accepted,omitempty" msgpack:"accepted,omitempty"`
	Status        string  `json:"status" msgpack:"status"`
	Message       string  `json:"message,omitempty" msgpack:"message,omitempty"`
	Timestamp     string  `json:"timestamp" msgpack:"timestamp"`
}

// OptimizationProgressPublisher defines the interface for pub/sub progress notifications.
// Implementations can use SSE, stdout, or other transport mechanisms.
type OptimizationProgressPublisher interface {
	// Subscribe creates a subscription for progress events for a specific run
	Subscribe(runID string) <-chan OptimizationProgressEvent

	// Unsubscribe removes a subscription for a specific run
	Unsubscribe(runID string, ch <-chan OptimizationProgressEvent)

	// PublishProgress broadcasts a progress event to all subscribers of the run
	PublishProgress(event OptimizationProgressEvent)

	// Close closes all channels for a run (called when optimization completes)
	Close(runID string)
}

// RunOptimizationInput contains the parameters for an optimization run
type RunOptimizationInput struct {
	Task *models.TaskSpec `json:"task"`

	// RunID lets callers subscribe to progress before the run starts. Generated when empty.
	RunID string `json:"run_id,omitempty"`
}

// RunOptimizationUseCase executes the full stage pipeline.
type RunOptimizationUseCase interface {
	Execute(ctx context.Context, input *RunOptimizationInput) (*models.OptimizationResult, error)
}

// OptimizationQueryService is the read side over persisted runs.
type OptimizationQueryService interface {
	ListRuns(ctx context.Context, opts ListRunsOptions) ([]*models.OptimizationRun, error)
	GetRun(ctx context.Context, runID string) (*models.OptimizationRun, error)
	GetCandidates(ctx context.Context, runID string, stage models.PromptStage) ([]*models.PromptCandidate, error)
	GetAllCandidates(ctx context.Context, runID string) ([]*models.PromptCandidate, error)
	GetTrack(ctx context.Context, runID string, trackID int) (*models.RefinementTrackResult, error)
	GetEvaluations(ctx context.Context, promptID string) ([]*models.TestResult, error)
	BuildResult(ctx context.Context, runID string) (*models.OptimizationResult, error)
}
