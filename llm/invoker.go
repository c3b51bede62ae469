package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/tcmflow/internal/metrics"
	"github.com/BaSui01/tcmflow/llm/retry"
	"github.com/BaSui01/tcmflow/llm/tokenizer"
)

// Invoker wraps a Completer with retries, rate limiting, and call
// metrics. Non-retryable failures and exhausted retries surface as a
// single *APIError.
type Invoker struct {
	client   Completer
	policy   retry.Policy
	limiter  *rate.Limiter
	registry *metrics.Registry
	counter  tokenizer.Tokenizer
	logger   *zap.Logger
}

// NewInvoker creates an invoker around the given transport.
func NewInvoker(client Completer, policy retry.Policy, registry *metrics.Registry, logger *zap.Logger) *Invoker {
	if registry == nil {
		registry = metrics.NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Invoker{
		client:   client,
		policy:   policy,
		registry: registry,
		counter:  tokenizer.ForModel(client.Model()),
		logger:   logger.With(zap.String("component", "llm_invoker")),
	}
}

// WithLimiter sets an outbound rate limiter shared across agents.
func (inv *Invoker) WithLimiter(l *rate.Limiter) *Invoker {
	inv.limiter = l
	return inv
}

// Invoke performs a chat completion on behalf of the named agent,
// retrying transient failures per the backoff policy. The returned
// error is always a *APIError.
func (inv *Invoker) Invoke(ctx context.Context, agent string, messages []Message) (*Completion, error) {
	model := inv.client.Model()
	labels := metrics.Labels{"agent": agent, "model": model}

	inv.registry.Counter("llm_api_calls_total",
		"Number of model API invocations", labels).Inc(1)

	tokMsgs := make([]tokenizer.Message, len(messages))
	for i, m := range messages {
		tokMsgs[i] = tokenizer.Message{Role: m.Role, Content: m.Content}
	}
	if n, err := inv.counter.CountMessages(tokMsgs); err == nil {
		inv.registry.Histogram("llm_prompt_tokens",
			"Estimated prompt size in tokens", labels).Observe(float64(n))
	}

	maxAttempts := inv.policy.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = retry.DefaultPolicy().MaxRetries
	}

	var lastErr *APIError
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if inv.limiter != nil {
			if err := inv.limiter.Wait(ctx); err != nil {
				return nil, NewAPIError(ErrUnknown, "rate limiter wait cancelled").WithCause(err)
			}
		}

		start := time.Now()
		completion, err := inv.client.Complete(ctx, messages)
		inv.registry.Histogram("llm_api_response_seconds",
			"Model API response time in seconds", labels).Observe(time.Since(start).Seconds())

		if err == nil {
			inv.recordUsage(labels, completion.Usage)
			if attempt > 1 {
				inv.logger.Info("call succeeded after retry",
					zap.String("agent", agent),
					zap.Int("attempt", attempt),
				)
			}
			return completion, nil
		}

		lastErr = Classify(err)
		inv.registry.Counter("llm_api_errors_total",
			"Number of failed model API attempts",
			metrics.Labels{"agent": agent, "model": model, "type": string(lastErr.Type)}).Inc(1)

		if !lastErr.Retryable {
			inv.logger.Error("call failed with non-retryable error",
				zap.String("agent", agent),
				zap.String("type", string(lastErr.Type)),
				zap.Error(lastErr),
			)
			return nil, lastErr
		}
		if attempt == maxAttempts {
			break
		}

		delay := inv.policy.Delay(attempt, lastErr.RetryAfter)
		inv.logger.Warn("call failed, retrying",
			zap.String("agent", agent),
			zap.String("type", string(lastErr.Type)),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Duration("delay", delay),
		)
		if err := retry.Wait(ctx, delay); err != nil {
			return nil, NewAPIError(ErrUnknown, "retry cancelled").WithCause(err)
		}
	}

	inv.logger.Error("call failed, retries exhausted",
		zap.String("agent", agent),
		zap.Int("attempts", maxAttempts),
		zap.Error(lastErr),
	)
	lastErr.Message = fmt.Sprintf("%s (after %d attempts)", lastErr.Message, maxAttempts)
	return nil, lastErr
}

func (inv *Invoker) recordUsage(labels metrics.Labels, usage Usage) {
	if usage.TotalTokens == 0 {
		return
	}
	inv.registry.Histogram("llm_usage_prompt_tokens",
		"Prompt tokens billed per call", labels).Observe(float64(usage.PromptTokens))
	inv.registry.Histogram("llm_usage_completion_tokens",
		"Completion tokens billed per call", labels).Observe(float64(usage.CompletionTokens))
	inv.registry.Histogram("llm_usage_total_tokens",
		"Total tokens billed per call", labels).Observe(float64(usage.TotalTokens))
}
