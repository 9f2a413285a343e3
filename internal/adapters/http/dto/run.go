package dto

import "github.com/longregen/promptopt/internal/domain/models"

type RunListResponse struct {
	Runs  []*models.OptimizationRun `json:"runs" msgpack:"runs"`
	Total int                       `json:"total" msgpack:"total"`
}

type CandidateListResponse struct {
	RunID      string                    `json:"run_id" msgpack:"run_id"`
	Stage      string                    `json:"stage,omitempty" msgpack:"stage,omitempty"`
	Candidates []*models.PromptCandidate `json:"candidates" msgpack:"candidates"`
	Total      int                       `json:"total" msgpack:"total"`
}

type EvaluationListResponse struct {
	PromptID    string               `json:"prompt_id" msgpack:"prompt_id"`
	Evaluations []*models.TestResult `json:"evaluations" msgpack:"evaluations"`
	Total       int                  `json:"total" msgpack:"total"`
}
