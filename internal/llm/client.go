package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/evan-ryan-york/umg/internal/config"
	umgerrors "github.com/evan-ryan-york/umg/internal/errors"
)

// Completer is the chat-completion capability consumed by the extractor,
// the semantic relationship strategy, and the mentor.
type Completer interface {
	// Complete sends a prompt pair and returns the raw text response.
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	// CompleteJSON is Complete with JSON-mode output enforced.
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	IsEnabled() bool
}

// Client wraps the OpenAI chat API with rate limiting, per-call timeouts,
// and bounded retry on transient failures. Temperature is pinned to 0 so
// identical input yields structurally identical output on replay.
type Client struct {
	api        *openai.Client
	model      string
	timeout    time.Duration
	maxRetries int
	limiter    *rate.Limiter
	logger     *slog.Logger
	enabled    bool
}

var _ Completer = (*Client)(nil)

// NewClient creates an LLM client from config. A missing API key yields a
// disabled client; callers degrade rather than fail at construction.
func NewClient(cfg config.LLMConfig) *Client {
	logger := slog.Default().With("component", "llm")
	if cfg.APIKey == "" {
		logger.Warn("no LLM API key configured, client disabled")
		return &Client{logger: logger}
	}
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		api:        openai.NewClient(cfg.APIKey),
		model:      cfg.Model,
		timeout:    cfg.RequestTimeout,
		maxRetries: cfg.MaxRetries,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		logger:     logger,
		enabled:    true,
	}
}

// IsEnabled reports whether the client holds a usable API key.
func (c *Client) IsEnabled() bool { return c.enabled }

func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.complete(ctx, systemPrompt, userPrompt, nil)
}

func (c *Client) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.complete(ctx, systemPrompt, userPrompt,
		&openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject})
}

func (c *Client) complete(ctx context.Context, systemPrompt, userPrompt string, format *openai.ChatCompletionResponseFormat) (string, error) {
	if !c.enabled {
		return "", umgerrors.New(umgerrors.KindTransient, "llm client not enabled")
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 500 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		resp, err := c.api.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: userPrompt},
			},
			Temperature:    0.0,
			ResponseFormat: format,
		})
		cancel()

		if err != nil {
			lastErr = err
			if !isRetryable(err) {
				break
			}
			c.logger.Warn("llm call failed, retrying", "attempt", attempt, "error", err)
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("llm returned no choices")
			continue
		}

		content := resp.Choices[0].Message.Content
		c.logger.Debug("llm completion",
			"prompt_length", len(userPrompt),
			"response_length", len(content),
			"tokens_used", resp.Usage.TotalTokens,
		)
		return content, nil
	}

	return "", umgerrors.Transient(lastErr, "llm completion failed")
}

// isRetryable treats timeouts and 5xx/429 responses as transient.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	msg := err.Error()
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "connection refused")
}
