// Package llm wraps the chat-completion endpoint behind a small JSON-typed
// interface. Every caller treats the model as advisory: a failed or
// malformed completion degrades to a deterministic fallback, never an error
// surfaced to the webhook.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/arganhr/mailroom/internal/config"
)

// ErrDisabled is returned when no completion backend is configured.
var ErrDisabled = errors.New("llm: disabled")

// Completer produces a JSON completion decoded into out.
type Completer interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string, out any) error
}

// Client calls the chat-completion endpoint in JSON mode, behind a circuit
// breaker so a flapping endpoint fails fast instead of eating the whole
// request deadline on every webhook.
type Client struct {
	client   *openai.Client
	model    string
	deadline time.Duration
	cb       *gobreaker.CircuitBreaker
	logger   *zap.Logger
}

// NewClient builds a client from configuration. Returns nil when the
// endpoint is disabled or no API key is set; callers must treat a nil
// Completer as permanently unavailable.
func NewClient(cfg config.LLMConfig, logger *zap.Logger) *Client {
	if !cfg.Enabled || cfg.APIKey == "" {
		return nil
	}

	cbSettings := gobreaker.Settings{
		Name:     "llm",
		Interval: 60 * time.Second,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &Client{
		client:   openai.NewClient(cfg.APIKey),
		model:    cfg.Model,
		deadline: cfg.Deadline(),
		cb:       gobreaker.NewCircuitBreaker(cbSettings),
		logger:   logger,
	}
}

// CompleteJSON runs one chat completion in JSON mode and decodes the result
// into out. Unknown fields in the completion are rejected.
func (c *Client) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string, out any) error {
	if c == nil {
		return ErrDisabled
	}

	ctx, cancel := context.WithTimeout(ctx, c.deadline)
	defer cancel()

	raw, err := c.cb.Execute(func() (any, error) {
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: userPrompt},
			},
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, errors.New("llm: empty completion")
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		return err
	}

	content := stripFences(raw.(string))
	dec := json.NewDecoder(strings.NewReader(content))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

// stripFences removes a markdown code fence wrapper, which some models emit
// even in JSON mode.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
