package llm

import (
	"context"

	"github.com/longregen/promptopt/internal/ports"
)

var _ ports.TargetModel = (*TargetConnector)(nil)

// TargetConnector renders the assistant under test: the candidate prompt is
// the system message and the test input is the user message.
type TargetConnector struct {
	client      *Client
	guard       *Resilience
	temperature float32
	maxTokens   int
}

func NewTargetConnector(client *Client, guard *Resilience, temperature float64, maxTokens int) *TargetConnector {
	return &TargetConnector{
		client:      client,
		guard:       guard,
		temperature: float32(temperature),
		maxTokens:   maxTokens,
	}
}

func (t *TargetConnector) TestPrompt(ctx context.Context, systemPrompt, message string) (string, error) {
	var out string
	err := t.guard.Do(ctx, "target_response", t.client.Model(), func(ctx context.Context) error {
		content, err := t.client.Complete(ctx, systemPrompt, message, ChatOptions{
			Temperature: float32Ptr(t.temperature),
			MaxTokens:   t.maxTokens,
		})
		if err != nil {
			return err
		}
		out = content
		return nil
	})
	return out, err
}
