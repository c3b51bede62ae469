package config

import "time"

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LLM:      DefaultLLMConfig(),
		Cache:    DefaultCacheConfig(),
		Metrics:  DefaultMetricsConfig(),
		Workflow: DefaultWorkflowConfig(),
		Log:      DefaultLogConfig(),
	}
}

// DefaultLLMConfig returns the default completion client settings.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		BaseURL:        "https://openrouter.ai/api/v1",
		Model:          "qwen/qwen3-coder",
		MaxTokens:      4000,
		Temperature:    0.7,
		TopP:           0.9,
		Timeout:        60 * time.Second,
		MaxRetries:     3,
		RetryBaseDelay: time.Second,
		RetryMaxDelay:  60 * time.Second,
		RateLimitRPS:   2,
		RateLimitBurst: 4,
	}
}

// DefaultCacheConfig returns the default cache settings.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled: true,
		Dir:     "cache",
		TTL:     24 * time.Hour,
		MaxSize: 1000,
	}
}

// DefaultMetricsConfig returns the default exporter settings.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:  true,
		Dir:      "metrics",
		Interval: 60 * time.Second,
	}
}

// DefaultWorkflowConfig returns the default daily run settings.
func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		InputDir:      "input",
		OutputDir:     "output",
		Concurrency:   3,
		Audience:      "general public",
		Tone:          "professional",
		KnowledgeBase: "output/knowledge_base.json",
	}
}

// DefaultLogConfig returns the default logging settings.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "console",
		OutputPaths: []string{"stderr"},
	}
}
