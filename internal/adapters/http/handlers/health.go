package handlers

import (
	"context"
	"net/http"
	"time"
)

// Check probes one dependency. A nil error means healthy.
type Check func(ctx context.Context) error

const defaultCheckTimeout = 5 * time.Second

type HealthHandler struct {
	version string
	checks  map[string]Check
	timeout time.Duration
}

// NewHealthHandler reports version and, on the detailed endpoint, the result
// of every named check.
func NewHealthHandler(version string, checks map[string]Check) *HealthHandler {
	return &HealthHandler{
		version: version,
		checks:  checks,
		timeout: defaultCheckTimeout,
	}
}

type HealthResponse struct {
	Status  string `json:"status" msgpack:"status"`
	Version string `json:"version,omitempty" msgpack:"version,omitempty"`
}

type DetailedHealthResponse struct {
	Status   string                   `json:"status" msgpack:"status"`
	Version  string                   `json:"version" msgpack:"version"`
	Services map[string]ServiceHealth `json:"services" msgpack:"services"`
}

type ServiceHealth struct {
	Status    string `json:"status" msgpack:"status"`
	LatencyMs int64  `json:"latency_ms" msgpack:"latency_ms"`
	Error     string `json:"error,omitempty" msgpack:"error,omitempty"`
}

func (h *HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	respond(w, r, HealthResponse{Status: "ok", Version: h.version}, http.StatusOK)
}

// HandleDetailed answers 503 when any check fails.
func (h *HealthHandler) HandleDetailed(w http.ResponseWriter, r *http.Request) {
	response := DetailedHealthResponse{
		Status:   "healthy",
		Version:  h.version,
		Services: make(map[string]ServiceHealth, len(h.checks)),
	}

	status := http.StatusOK
	for name, check := range h.checks {
		result := h.run(r.Context(), check)
		response.Services[name] = result
		if result.Status != "healthy" {
			response.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}

	respond(w, r, response, status)
}

func (h *HealthHandler) run(ctx context.Context, check Check) ServiceHealth {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	err := check(ctx)
	result := ServiceHealth{Status: "healthy", LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		result.Status = "unhealthy"
		result.Error = err.Error()
	}
	return result
}
