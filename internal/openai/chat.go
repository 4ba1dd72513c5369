package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

// ErrNoChoices is returned when a completion response carries no choices.
var ErrNoChoices = errors.New("openai: no choices in response")

const (
	defaultChatModel   = "gpt-4o-mini"
	defaultTemperature = 0.1
	defaultMaxTokens   = 500
)

// ChatClient returns single-turn chat completions.
type ChatClient struct {
	sdk         openaisdk.Client
	model       string
	temperature float64
	maxTokens   int64
	requestOps  []option.RequestOption
}

// ChatOption configures the ChatClient.
type ChatOption func(*ChatClient)

// WithChatModel sets the model. Empty keeps gpt-4o-mini.
func WithChatModel(model string) ChatOption {
	return func(c *ChatClient) {
		if model != "" {
			c.model = model
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) ChatOption {
	return func(c *ChatClient) {
		c.temperature = t
	}
}

// WithMaxTokens caps completion tokens.
func WithMaxTokens(n int) ChatOption {
	return func(c *ChatClient) {
		if n > 0 {
			c.maxTokens = int64(n)
		}
	}
}

// WithChatBaseURL points the client at a compatible endpoint.
func WithChatBaseURL(url string) ChatOption {
	return func(c *ChatClient) {
		c.requestOps = append(c.requestOps, option.WithBaseURL(url))
	}
}

// NewChatClient creates a chat completion client.
func NewChatClient(apiKey string, opts ...ChatOption) *ChatClient {
	c := &ChatClient{
		model:       defaultChatModel,
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.sdk = openaisdk.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, c.requestOps...)...)

	return c
}

// Complete sends a system instruction and a user prompt and returns the first choice's content.
func (c *ChatClient) Complete(ctx context.Context, system, prompt string) (string, error) {
	params := openaisdk.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage(system),
			openaisdk.UserMessage(prompt),
		},
		Temperature:         openaisdk.Float(c.temperature),
		MaxCompletionTokens: openaisdk.Int(c.maxTokens),
	}

	start := time.Now()

	resp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}

	slog.DebugContext(ctx, "chat completion finished",
		"model", c.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"finish_reason", resp.Choices[0].FinishReason,
	)

	return resp.Choices[0].Message.Content, nil
}
