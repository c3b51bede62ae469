// Package llm provides the HTTP client for the upstream chat
// completion API and the resilient invoker that wraps it with
// classification, retries, and metrics.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Options configures the completion client.
type Options struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	TopP        float64
	Timeout     time.Duration
}

// DefaultOptions returns the sampling and transport defaults.
func DefaultOptions() Options {
	return Options{
		BaseURL:     "https://openrouter.ai/api/v1",
		Model:       "qwen/qwen3-coder",
		MaxTokens:   4000,
		Temperature: 0.7,
		TopP:        0.9,
		Timeout:     60 * time.Second,
	}
}

// Message is a single chat message sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage reports token consumption for a completed call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the successful result of a chat completion call.
type Completion struct {
	Content string
	Model   string
	Usage   Usage
}

// Completer is the transport abstraction the invoker retries over.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (*Completion, error)
	Model() string
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	TopP        float64   `json:"top_p"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// Client talks to an OpenAI-compatible chat completion endpoint.
type Client struct {
	opts   Options
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a completion client. Zero option fields fall back
// to DefaultOptions.
func NewClient(opts Options, logger *zap.Logger) *Client {
	d := DefaultOptions()
	if opts.BaseURL == "" {
		opts.BaseURL = d.BaseURL
	}
	if opts.Model == "" {
		opts.Model = d.Model
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = d.MaxTokens
	}
	if opts.Temperature <= 0 {
		opts.Temperature = d.Temperature
	}
	if opts.TopP <= 0 {
		opts.TopP = d.TopP
	}
	if opts.Timeout <= 0 {
		opts.Timeout = d.Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		opts:   opts,
		http:   &http.Client{Timeout: opts.Timeout},
		logger: logger.With(zap.String("component", "llm_client")),
	}
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.opts.Model
}

// Complete performs one chat completion round-trip. All failures are
// returned as *APIError.
func (c *Client) Complete(ctx context.Context, messages []Message) (*Completion, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       c.opts.Model,
		Messages:    messages,
		MaxTokens:   c.opts.MaxTokens,
		Temperature: c.opts.Temperature,
		TopP:        c.opts.TopP,
	})
	if err != nil {
		return nil, NewAPIError(ErrInvalidInput, "encode request").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.opts.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, NewAPIError(ErrInvalidInput, "build request").WithCause(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, Classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := classifyStatus(resp.StatusCode, resp.Header.Get("Retry-After"), string(body))
		c.logger.Warn("completion request failed",
			zap.Int("status", resp.StatusCode),
			zap.String("type", string(apiErr.Type)),
		)
		return nil, apiErr
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, NewAPIError(ErrValidation, "malformed response body").
			WithRetryAfter(2 * time.Second).WithCause(err)
	}
	if len(parsed.Choices) == 0 {
		return nil, NewAPIError(ErrValidation, "response contains no choices").
			WithRetryAfter(2 * time.Second).
			WithCause(fmt.Errorf("empty choices for model %s", c.opts.Model))
	}

	model := parsed.Model
	if model == "" {
		model = c.opts.Model
	}
	return &Completion{
		Content: parsed.Choices[0].Message.Content,
		Model:   model,
		Usage:   parsed.Usage,
	}, nil
}
