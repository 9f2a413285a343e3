package services

import (
	"sync"
	"time"

	"github.com/longregen/promptopt/internal/logger"
	"github.com/longregen/promptopt/internal/ports"
)

const subscriberBuffer = 256

// OptimizationProgressPublisher fans progress events out to per-run subscribers.
type OptimizationProgressPublisher struct {
	channels map[string][]chan ports.OptimizationProgressEvent
	mu       sync.RWMutex

	log *logger.Logger
}

var _ ports.OptimizationProgressPublisher = (*OptimizationProgressPublisher)(nil)

// NewOptimizationProgressPublisher creates a publisher. When log is non-nil
// every event is also written as a debug entry.
func NewOptimizationProgressPublisher(log *logger.Logger) *OptimizationProgressPublisher {
	if log == nil {
		log = logger.Nop()
	}
	return &OptimizationProgressPublisher{
		channels: make(map[string][]chan ports.OptimizationProgressEvent),
		log:      log.Component("progress"),
	}
}

// Subscribe returns a buffered channel receiving events for runID.
func (p *OptimizationProgressPublisher) Subscribe(runID string) <-chan ports.OptimizationProgressEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := make(chan ports.OptimizationProgressEvent, subscriberBuffer)
	p.channels[runID] = append(p.channels[runID], ch)
	return ch
}

// Unsubscribe removes and closes ch.
func (p *OptimizationProgressPublisher) Unsubscribe(runID string, ch <-chan ports.OptimizationProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	channels := p.channels[runID]
	for i, subscriberCh := range channels {
		if subscriberCh == ch {
			p.channels[runID] = append(channels[:i], channels[i+1:]...)
			close(subscriberCh)
			break
		}
	}

	if len(p.channels[runID]) == 0 {
		delete(p.channels, runID)
	}
}

// PublishProgress never blocks: a subscriber with a full buffer misses the event.
func (p *OptimizationProgressPublisher) PublishProgress(event ports.OptimizationProgressEvent) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}

	evt := p.log.Debug().
		Str("run_id", event.RunID).
		Str("type", event.Type).
		Str("stage", event.Stage).
		Str("status", event.Status)
	if event.TrackID != nil {
		evt = evt.Int("track_id", *event.TrackID).Int("iteration", event.Iteration)
	}
	evt.Msg(event.Message)

	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, ch := range p.channels[event.RunID] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close closes all channels for a run. Subscribers see the close as end of stream.
func (p *OptimizationProgressPublisher) Close(runID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, ch := range p.channels[runID] {
		close(ch)
	}
	delete(p.channels, runID)
}

func (p *OptimizationProgressPublisher) SubscriberCount(runID string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.channels[runID])
}

// ActiveRuns returns the run IDs that currently have subscribers.
func (p *OptimizationProgressPublisher) ActiveRuns() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	runs := make([]string, 0, len(p.channels))
	for runID := range p.channels {
		runs = append(runs, runID)
	}
	return runs
}
