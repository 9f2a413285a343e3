// Package llm talks to OpenAI-compatible endpoints for both the assistant
// under test and the structured oracle roles.
package llm

import (
	"context"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.GetTracerProvider().Tracer("promptopt/llm")

const (
	defaultModel     = "gpt-4o-mini"
	defaultMaxTokens = 4096
	defaultTimeout   = 120 * time.Second
)

// Client sends chat completions to one endpoint. Every request is traced.
type Client struct {
	api       *openai.Client
	baseURL   string
	model     string
	maxTokens int
	timeout   time.Duration
}

// Option overrides a client default. Zero values leave the default in place.
type Option func(*Client)

func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

func WithMaxTokens(maxTokens int) Option {
	return func(c *Client) {
		if maxTokens > 0 {
			c.maxTokens = maxTokens
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient creates a client for baseURL, e.g. "https://api.openai.com/v1".
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		model:     defaultModel,
		maxTokens: defaultMaxTokens,
		timeout:   defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	apiCfg := openai.DefaultConfig(apiKey)
	apiCfg.BaseURL = c.baseURL
	apiCfg.HTTPClient = &http.Client{Timeout: c.timeout}
	c.api = openai.NewClientWithConfig(apiCfg)
	return c
}

// Model is the model used when a request names none.
func (c *Client) Model() string {
	return c.model
}

// ChatOptions override client defaults for one completion.
type ChatOptions struct {
	Model          string
	Temperature    *float32
	MaxTokens      int
	ResponseFormat *openai.ChatCompletionResponseFormat
}

func float32Ptr(f float32) *float32 { return &f }

// Complete sends a system and user message and returns the first choice's content.
func (c *Client) Complete(ctx context.Context, system, user string, opts ChatOptions) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:          c.model,
		MaxTokens:      c.maxTokens,
		ResponseFormat: opts.ResponseFormat,
	}
	if opts.Model != "" {
		req.Model = opts.Model
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}
	if system != "" {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: user})

	resp, err := c.chat(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errNoChoices
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) chat(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	ctx, span := tracer.Start(ctx, "llm.chat", trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.endpoint", c.baseURL),
			attribute.String("llm.model", req.Model),
			attribute.Int("llm.request.max_tokens", req.MaxTokens),
			attribute.Float64("llm.request.temperature", float64(req.Temperature)),
		))
	defer span.End()

	if req.ResponseFormat != nil && req.ResponseFormat.JSONSchema != nil {
		span.SetAttributes(attribute.String("llm.request.schema", req.ResponseFormat.JSONSchema.Name))
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return resp, err
	}

	span.SetAttributes(
		attribute.Int("llm.usage.input_tokens", resp.Usage.PromptTokens),
		attribute.Int("llm.usage.output_tokens", resp.Usage.CompletionTokens),
		attribute.Int("llm.response.choices", len(resp.Choices)),
	)
	if len(resp.Choices) > 0 {
		span.SetAttributes(attribute.String("llm.response.finish_reason", string(resp.Choices[0].FinishReason)))
	}
	return resp, nil
}
