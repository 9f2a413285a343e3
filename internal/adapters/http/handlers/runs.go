package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/longregen/promptopt/internal/adapters/http/dto"
	"github.com/longregen/promptopt/internal/domain/models"
	"github.com/longregen/promptopt/internal/ports"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 200
)

// RunsHandler serves the read side of persisted optimization runs.
type RunsHandler struct {
	query ports.OptimizationQueryService
}

func NewRunsHandler(query ports.OptimizationQueryService) *RunsHandler {
	return &RunsHandler{query: query}
}

// List handles GET /api/v1/runs?status=&limit=&offset=
func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	switch status {
	case "", models.OptimizationStatusRunning, models.OptimizationStatusCompleted, models.OptimizationStatusFailed:
	default:
		respondError(w, "invalid_request", "status must be running, completed or failed", http.StatusBadRequest)
		return
	}

	limit := parseIntQuery(r, "limit", defaultRunLimit)
	if limit <= 0 || limit > maxRunLimit {
		limit = defaultRunLimit
	}
	offset := parseIntQuery(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	runs, err := h.query.ListRuns(r.Context(), ports.ListRunsOptions{Status: status, Limit: limit, Offset: offset})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if runs == nil {
		runs = []*models.OptimizationRun{}
	}

	respond(w, r, &dto.RunListResponse{Runs: runs, Total: len(runs)}, http.StatusOK)
}

// Get handles GET /api/v1/runs/{id}
func (h *RunsHandler) Get(w http.ResponseWriter, r *http.Request) {
	runID, ok := validateURLParam(r, w, "id", "Run ID")
	if !ok {
		return
	}

	run, err := h.query.GetRun(r.Context(), runID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respond(w, r, run, http.StatusOK)
}

// Candidates handles GET /api/v1/runs/{id}/candidates?stage=
// Without a stage every candidate of the run is returned.
func (h *RunsHandler) Candidates(w http.ResponseWriter, r *http.Request) {
	runID, ok := validateURLParam(r, w, "id", "Run ID")
	if !ok {
		return
	}

	stage := r.URL.Query().Get("stage")
	var (
		candidates []*models.PromptCandidate
		err        error
	)
	if stage == "" {
		candidates, err = h.query.GetAllCandidates(r.Context(), runID)
	} else {
		parsed, valid := models.ParsePromptStage(stage)
		if !valid {
			respondError(w, "invalid_request", "unknown stage "+strconv.Quote(stage), http.StatusBadRequest)
			return
		}
		candidates, err = h.query.GetCandidates(r.Context(), runID, parsed)
	}
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if candidates == nil {
		candidates = []*models.PromptCandidate{}
	}

	respond(w, r, &dto.CandidateListResponse{
		RunID:      runID,
		Stage:      stage,
		Candidates: candidates,
		Total:      len(candidates),
	}, http.StatusOK)
}

// Track handles GET /api/v1/runs/{id}/tracks/{track}
func (h *RunsHandler) Track(w http.ResponseWriter, r *http.Request) {
	runID, ok := validateURLParam(r, w, "id", "Run ID")
	if !ok {
		return
	}
	trackID, err := strconv.Atoi(chi.URLParam(r, "track"))
	if err != nil || trackID < 0 {
		respondError(w, "invalid_request", "track must be a non-negative integer", http.StatusBadRequest)
		return
	}

	track, err := h.query.GetTrack(r.Context(), runID, trackID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respond(w, r, track, http.StatusOK)
}

// Result handles GET /api/v1/runs/{id}/result
func (h *RunsHandler) Result(w http.ResponseWriter, r *http.Request) {
	runID, ok := validateURLParam(r, w, "id", "Run ID")
	if !ok {
		return
	}

	run, err := h.query.GetRun(r.Context(), runID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if run.Status != models.OptimizationStatusCompleted {
		respondError(w, "run_not_completed", "run "+runID+" is "+run.Status, http.StatusConflict)
		return
	}

	result, err := h.query.BuildResult(r.Context(), runID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respond(w, r, result, http.StatusOK)
}

// Evaluations handles GET /api/v1/prompts/{id}/evaluations
func (h *RunsHandler) Evaluations(w http.ResponseWriter, r *http.Request) {
	promptID, ok := validateURLParam(r, w, "id", "Prompt ID")
	if !ok {
		return
	}

	evals, err := h.query.GetEvaluations(r.Context(), promptID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if evals == nil {
		evals = []*models.TestResult{}
	}

	respond(w, r, &dto.EvaluationListResponse{PromptID: promptID, Evaluations: evals, Total: len(evals)}, http.StatusOK)
}
