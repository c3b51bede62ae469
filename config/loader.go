// Package config loads the pipeline configuration.
//
// Precedence: built-in defaults, then the YAML file, then TCMFLOW_*
// environment variables.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full pipeline configuration.
type Config struct {
	// LLM configures the upstream completion API.
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Cache configures the two-tier result cache.
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Metrics configures the metrics registry exporter.
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// Workflow configures the daily content run.
	Workflow WorkflowConfig `yaml:"workflow" env:"WORKFLOW"`

	// Log configures logging output.
	Log LogConfig `yaml:"log" env:"LOG"`
}

// LLMConfig configures the completion client and its retry policy.
type LLMConfig struct {
	// Base URL of the chat completion API.
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// API key. Usually supplied via TCMFLOW_LLM_API_KEY.
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// Model identifier sent with every request.
	Model string `yaml:"model" env:"MODEL"`
	// Completion token ceiling.
	MaxTokens int `yaml:"max_tokens" env:"MAX_TOKENS"`
	// Sampling temperature.
	Temperature float64 `yaml:"temperature" env:"TEMPERATURE"`
	// Nucleus sampling parameter.
	TopP float64 `yaml:"top_p" env:"TOP_P"`
	// Per-request timeout.
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// Total attempts per call, including the first.
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// First backoff delay.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" env:"RETRY_BASE_DELAY"`
	// Backoff ceiling.
	RetryMaxDelay time.Duration `yaml:"retry_max_delay" env:"RETRY_MAX_DELAY"`
	// Outbound requests per second. Zero disables rate limiting.
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// Rate limiter burst size.
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// CacheConfig configures the result cache.
type CacheConfig struct {
	// Enabled toggles caching for all agents.
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Directory for the file tier.
	Dir string `yaml:"dir" env:"DIR"`
	// Entry lifetime.
	TTL time.Duration `yaml:"ttl" env:"TTL"`
	// Memory tier entry limit.
	MaxSize int `yaml:"max_size" env:"MAX_SIZE"`
}

// MetricsConfig configures periodic metric snapshots.
type MetricsConfig struct {
	// Enabled toggles the background exporter.
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Directory snapshots are written to.
	Dir string `yaml:"dir" env:"DIR"`
	// Snapshot interval.
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
}

// WorkflowConfig configures the daily run.
type WorkflowConfig struct {
	// Source document directory.
	InputDir string `yaml:"input_dir" env:"INPUT_DIR"`
	// Generated content directory.
	OutputDir string `yaml:"output_dir" env:"OUTPUT_DIR"`
	// Concurrent file limit.
	Concurrency int64 `yaml:"concurrency" env:"CONCURRENCY"`
	// Target audience passed to the writer.
	Audience string `yaml:"audience" env:"AUDIENCE"`
	// Writing tone passed to the writer.
	Tone string `yaml:"tone" env:"TONE"`
	// Knowledge base JSON path for the theme manager.
	KnowledgeBase string `yaml:"knowledge_base" env:"KNOWLEDGE_BASE"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json or console.
	Format string `yaml:"format" env:"FORMAT"`
	// Output paths, stderr by default.
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// Loader loads configuration with builder-style options.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the TCMFLOW env prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "TCMFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator appends a validation hook run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration. A missing YAML file is not an
// error; the defaults and environment still apply.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", l.configPath, err)
	}
	return nil
}

func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads the configuration or panics.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("load config: %v", err))
	}
	return cfg
}

// Validate checks value ranges. The API key is checked separately at
// startup so that offline commands still work.
func (c *Config) Validate() error {
	var errs []string

	if c.LLM.Model == "" {
		errs = append(errs, "llm model must not be empty")
	}
	if c.LLM.MaxTokens <= 0 {
		errs = append(errs, "max_tokens must be positive")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, "temperature must be between 0 and 2")
	}
	if c.LLM.MaxRetries < 1 {
		errs = append(errs, "max_retries must be at least 1")
	}
	if c.Workflow.Concurrency <= 0 {
		errs = append(errs, "concurrency must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
