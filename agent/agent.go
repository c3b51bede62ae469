// Package agent implements the content agents and the shared
// processing contract they run on: cache lookup, prompt build, model
// invocation, response parsing, and cache write-back.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/tcmflow/internal/cache"
	"github.com/BaSui01/tcmflow/internal/metrics"
	"github.com/BaSui01/tcmflow/llm"
)

// Status tags a processing result.
type Status string

const (
	// StatusOK means the model response parsed cleanly.
	StatusOK Status = "ok"
	// StatusDegraded means the agent fell back to a partial or
	// rule-derived result (e.g. unparseable model output).
	StatusDegraded Status = "degraded"
)

// Result is the structured outcome of one agent invocation.
type Result struct {
	Status Status         `json:"status"`
	Data   map[string]any `json:"data"`
	Raw    string         `json:"raw,omitempty"`
	Reason string         `json:"reason,omitempty"`
}

// PromptBuilder renders an agent-specific prompt from input data.
// An empty prompt aborts processing with an INVALID_INPUT error.
type PromptBuilder func(input map[string]any) (string, error)

// ResponseParser turns raw model output into a Result. Parsers should
// degrade rather than fail: return StatusDegraded with whatever could
// be salvaged. A nil parser wraps the raw text as {"response": text}.
type ResponseParser func(raw string) (*Result, error)

// Invoker abstracts the resilient model caller.
type Invoker interface {
	Invoke(ctx context.Context, agent string, messages []llm.Message) (*llm.Completion, error)
}

// Config holds the per-agent knobs.
type Config struct {
	Name     string
	Model    string
	UseCache bool
	CacheTTL time.Duration
}

// Base is the shared agent implementation. Concrete agents embed it
// and supply their PromptBuilder and ResponseParser.
type Base struct {
	name     string
	model    string
	useCache bool
	cacheTTL time.Duration

	invoker  Invoker
	store    *cache.Store
	registry *metrics.Registry
	logger   *zap.Logger

	buildPrompt PromptBuilder
	parse       ResponseParser
}

// New creates an agent base. store may be nil to disable caching;
// registry and logger fall back to fresh/noop instances.
func New(cfg Config, invoker Invoker, store *cache.Store, registry *metrics.Registry, logger *zap.Logger, build PromptBuilder, parse ResponseParser) *Base {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	if registry == nil {
		registry = metrics.NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Base{
		name:        cfg.Name,
		model:       cfg.Model,
		useCache:    cfg.UseCache && store != nil,
		cacheTTL:    cfg.CacheTTL,
		invoker:     invoker,
		store:       store,
		registry:    registry,
		logger:      logger.With(zap.String("agent", cfg.Name)),
		buildPrompt: build,
		parse:       parse,
	}
}

// Name returns the agent's name.
func (b *Base) Name() string { return b.name }

// Process runs one agent invocation end to end. The returned error is
// always a *llm.APIError.
func (b *Base) Process(ctx context.Context, input map[string]any) (result *Result, err error) {
	start := time.Now()
	labels := metrics.Labels{"agent": b.name, "model": b.model}

	b.registry.Counter("agent_calls_total",
		"Number of agent invocations", labels).Inc(1)

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("processing panicked", zap.Any("panic", r))
			b.observeProcessing(start, "error")
			result = nil
			err = llm.NewAPIError(llm.ErrUnknown,
				fmt.Sprintf("unexpected failure in %s", b.name)).
				WithCause(fmt.Errorf("panic: %v", r))
		}
	}()

	var key string
	if b.useCache {
		key = cache.NewKey(b.name, b.model, input).Hash()
		if cached, ok := b.store.Get(key); ok {
			if res, ok := decodeCached(cached); ok {
				b.registry.Counter("agent_cache_total",
					"Agent cache lookups", withLabel(labels, "type", "hit")).Inc(1)
				b.observeProcessing(start, "hit")
				b.logger.Debug("served from cache")
				return res, nil
			}
		}
		b.registry.Counter("agent_cache_total",
			"Agent cache lookups", withLabel(labels, "type", "miss")).Inc(1)
	}

	prompt, perr := b.buildPrompt(input)
	if perr != nil || prompt == "" {
		if perr == nil {
			perr = fmt.Errorf("empty prompt")
		}
		b.countError("INVALID_INPUT", labels)
		b.observeProcessing(start, "error")
		return nil, llm.NewAPIError(llm.ErrInvalidInput,
			fmt.Sprintf("prompt generation failed for %s", b.name)).WithCause(perr)
	}

	completion, ierr := b.invoker.Invoke(ctx, b.name, []llm.Message{{Role: "user", Content: prompt}})
	if ierr != nil {
		apiErr := llm.Classify(ierr)
		b.countError(string(apiErr.Type), labels)
		b.observeProcessing(start, "error")
		return nil, apiErr
	}

	result, perr = b.parseResponse(completion.Content)
	if perr != nil {
		b.countError("PARSE", labels)
		b.observeProcessing(start, "error")
		return nil, llm.NewAPIError(llm.ErrUnknown,
			fmt.Sprintf("response parsing failed for %s", b.name)).WithCause(perr)
	}

	if b.useCache && key != "" {
		b.store.Set(key, result, b.cacheTTL)
	}

	b.observeProcessing(start, "miss")
	return result, nil
}

func (b *Base) parseResponse(raw string) (*Result, error) {
	if b.parse == nil {
		return &Result{
			Status: StatusOK,
			Data:   map[string]any{"response": raw},
			Raw:    raw,
		}, nil
	}
	return b.parse(raw)
}

func (b *Base) observeProcessing(start time.Time, cacheState string) {
	b.registry.Histogram("agent_processing_seconds",
		"Agent processing time in seconds",
		metrics.Labels{"agent": b.name, "cache": cacheState}).
		Observe(time.Since(start).Seconds())
}

func (b *Base) countError(errType string, labels metrics.Labels) {
	b.registry.Counter("agent_errors_total",
		"Number of agent processing errors",
		withLabel(labels, "type", errType)).Inc(1)
}

func withLabel(labels metrics.Labels, k, v string) metrics.Labels {
	out := make(metrics.Labels, len(labels)+1)
	for lk, lv := range labels {
		out[lk] = lv
	}
	out[k] = v
	return out
}

// decodeCached converts a cached value back to a Result. Values read
// from the memory tier are *Result; values promoted from disk arrive
// as generic JSON maps.
func decodeCached(v any) (*Result, bool) {
	switch cached := v.(type) {
	case *Result:
		return cached, true
	case map[string]any:
		raw, err := json.Marshal(cached)
		if err != nil {
			return nil, false
		}
		var res Result
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, false
		}
		if res.Status == "" {
			return nil, false
		}
		return &res, true
	default:
		return nil, false
	}
}
