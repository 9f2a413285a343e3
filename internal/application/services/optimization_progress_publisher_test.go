package services

import (
	"testing"

	"github.com/longregen/promptopt/internal/ports"
)

func TestProgressPublisher_DeliversToRunSubscribers(t *testing.T) {
	p := NewOptimizationProgressPublisher(nil)
	mine := p.Subscribe("aor_1")
	other := p.Subscribe("aor_2")

	p.PublishProgress(ports.OptimizationProgressEvent{Type: ports.EventStage, RunID: "aor_1", Stage: "evaluate_quick"})

	select {
	case evt := <-mine:
		if evt.Stage != "evaluate_quick" {
			t.Errorf("unexpected stage %q", evt.Stage)
		}
		if evt.Timestamp == "" {
			t.Error("expected timestamp to be filled in")
		}
	default:
		t.Fatal("expected an event for aor_1")
	}

	select {
	case evt := <-other:
		t.Fatalf("aor_2 subscriber received %+v", evt)
	default:
	}
}

func TestProgressPublisher_SlowSubscriberDoesNotBlock(t *testing.T) {
	p := NewOptimizationProgressPublisher(nil)
	ch := p.Subscribe("aor_1")

	for i := 0; i < subscriberBuffer+10; i++ {
		p.PublishProgress(ports.OptimizationProgressEvent{Type: ports.EventIteration, RunID: "aor_1", Iteration: i})
	}

	if got := len(ch); got != subscriberBuffer {
		t.Errorf("expected full buffer of %d, got %d", subscriberBuffer, got)
	}
}

func TestProgressPublisher_UnsubscribeAndClose(t *testing.T) {
	p := NewOptimizationProgressPublisher(nil)
	a := p.Subscribe("aor_1")
	b := p.Subscribe("aor_1")

	if p.SubscriberCount("aor_1") != 2 {
		t.Fatalf("expected 2 subscribers")
	}

	p.Unsubscribe("aor_1", a)
	if _, ok := <-a; ok {
		t.Error("unsubscribed channel should be closed")
	}
	if p.SubscriberCount("aor_1") != 1 {
		t.Errorf("expected 1 subscriber after unsubscribe")
	}

	p.Close("aor_1")
	if _, ok := <-b; ok {
		t.Error("channel should be closed after Close")
	}
	if len(p.ActiveRuns()) != 0 {
		t.Errorf("expected no active runs, got %v", p.ActiveRuns())
	}
}
