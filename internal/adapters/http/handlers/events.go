package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/longregen/promptopt/internal/domain/models"
	"github.com/longregen/promptopt/internal/logger"
	"github.com/longregen/promptopt/internal/ports"
)

const eventTypeConnected = "connected"

// EventsHandler streams run progress over server-sent events.
type EventsHandler struct {
	query     ports.OptimizationQueryService
	publisher ports.OptimizationProgressPublisher
	keepalive time.Duration
	log       *logger.Logger
}

func NewEventsHandler(query ports.OptimizationQueryService, publisher ports.OptimizationProgressPublisher, log *logger.Logger) *EventsHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &EventsHandler{
		query:     query,
		publisher: publisher,
		keepalive: 30 * time.Second,
		log:       log.Component("sse"),
	}
}

// Stream handles GET /api/v1/runs/{id}/events
// The stream ends after a terminal event, when the publisher closes the run,
// or immediately when the run has already finished.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	runID, ok := validateURLParam(r, w, "id", "Run ID")
	if !ok {
		return
	}

	run, err := h.query.GetRun(r.Context(), runID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, "internal_error", "Streaming not supported", http.StatusInternalServerError)
		return
	}

	// Subscribe before the first write so no event slips between the two.
	var progress <-chan ports.OptimizationProgressEvent
	if run.Status == models.OptimizationStatusRunning {
		progress = h.publisher.Subscribe(runID)
		defer h.publisher.Unsubscribe(runID, progress)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	h.sendEvent(w, flusher, ports.OptimizationProgressEvent{
		Type:      eventTypeConnected,
		RunID:     runID,
		Stage:     run.CurrentStage,
		Status:    run.Status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if progress == nil {
		return
	}

	log := h.log.RunLogger(runID)
	log.Debug().Msg("progress stream established")

	keepaliveTicker := time.NewTicker(h.keepalive)
	defer keepaliveTicker.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Debug().Msg("client disconnected")
			return

		case event, ok := <-progress:
			if !ok {
				return
			}
			h.sendEvent(w, flusher, event)
			if event.Type == ports.EventCompleted || event.Type == ports.EventFailed {
				return
			}

		case <-keepaliveTicker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, event ports.OptimizationProgressEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error().Err(err).Str("run_id", event.RunID).Msg("marshal progress event")
		return
	}

	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
	flusher.Flush()
}
