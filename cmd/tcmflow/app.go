package main

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/BaSui01/tcmflow/agent"
	"github.com/BaSui01/tcmflow/config"
	"github.com/BaSui01/tcmflow/internal/cache"
	"github.com/BaSui01/tcmflow/internal/metrics"
	"github.com/BaSui01/tcmflow/llm"
	"github.com/BaSui01/tcmflow/llm/retry"
	"github.com/BaSui01/tcmflow/llm/tokenizer"
	"github.com/BaSui01/tcmflow/workflow"
)

// rootFlags holds the global CLI flags shared by every command.
type rootFlags struct {
	configPath string
	inputDir   string
	outputDir  string
}

// app wires configuration into the full agent pipeline.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *metrics.Registry
	store    *cache.Store
	runner   *workflow.Runner
	exporter *metrics.Exporter
}

// newApp loads configuration and builds the pipeline. needsAPIKey is
// false for offline commands like cache maintenance.
func newApp(flags *rootFlags, needsAPIKey bool) (*app, error) {
	cfg, err := config.NewLoader().
		WithConfigPath(flags.configPath).
		WithValidator(func(c *config.Config) error { return c.Validate() }).
		Load()
	if err != nil {
		return nil, err
	}
	if flags.inputDir != "" {
		cfg.Workflow.InputDir = flags.inputDir
	}
	if flags.outputDir != "" {
		cfg.Workflow.OutputDir = flags.outputDir
	}

	logger, err := initLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	if needsAPIKey && cfg.LLM.APIKey == "" {
		return nil, fmt.Errorf("no API key configured: set TCMFLOW_LLM_API_KEY or llm.api_key")
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: metrics.NewRegistry(),
	}

	if cfg.Cache.Enabled {
		a.store = cache.NewStore(cache.Config{
			Dir:        cfg.Cache.Dir,
			DefaultTTL: cfg.Cache.TTL,
			MaxSize:    cfg.Cache.MaxSize,
		}, logger)
	}

	if cfg.Metrics.Enabled {
		a.exporter = metrics.NewExporter(a.registry, cfg.Metrics.Dir, cfg.Metrics.Interval, logger)
	}

	tokenizer.RegisterKnownModels()

	client := llm.NewClient(llm.Options{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		TopP:        cfg.LLM.TopP,
		Timeout:     cfg.LLM.Timeout,
	}, logger)

	invoker := llm.NewInvoker(client, retry.Policy{
		MaxRetries: cfg.LLM.MaxRetries,
		BaseDelay:  cfg.LLM.RetryBaseDelay,
		MaxDelay:   cfg.LLM.RetryMaxDelay,
	}, a.registry, logger)
	if cfg.LLM.RateLimitRPS > 0 {
		burst := cfg.LLM.RateLimitBurst
		if burst < 1 {
			burst = 1
		}
		invoker = invoker.WithLimiter(rate.NewLimiter(rate.Limit(cfg.LLM.RateLimitRPS), burst))
	}

	a.runner = workflow.NewRunner(workflow.Config{
		InputDir:    cfg.Workflow.InputDir,
		OutputDir:   cfg.Workflow.OutputDir,
		Concurrency: cfg.Workflow.Concurrency,
		Audience:    cfg.Workflow.Audience,
		Tone:        cfg.Workflow.Tone,
	}, a.buildPipeline(invoker), a.registry, logger)

	return a, nil
}

func (a *app) buildPipeline(invoker agent.Invoker) workflow.Pipeline {
	agentConfig := func(name string) agent.Config {
		return agent.Config{
			Name:     name,
			Model:    a.cfg.LLM.Model,
			UseCache: a.cfg.Cache.Enabled,
			CacheTTL: a.cfg.Cache.TTL,
		}
	}

	return workflow.Pipeline{
		Analyzer:   agent.NewAnalyzer(agentConfig("analyzer"), invoker, a.store, a.registry, a.logger),
		Themes:     agent.NewThemeManager(agentConfig("theme_manager"), invoker, a.store, a.registry, a.logger, a.cfg.Workflow.KnowledgeBase),
		Strategist: agent.NewStrategist(agentConfig("strategist"), invoker, a.store, a.registry, a.logger),
		Writer:     agent.NewBlogWriter(agentConfig("blog_writer"), invoker, a.store, a.registry, a.logger),
		Social:     agent.NewSocialCreator(agentConfig("social_creator"), invoker, a.store, a.registry, a.logger),
		Visual:     agent.NewVisualCreator(agentConfig("visual_creator"), invoker, a.store, a.registry, a.logger),
		Validator:  agent.NewValidator(agentConfig("validator"), invoker, a.store, a.registry, a.logger),
	}
}

func (a *app) close() {
	_ = a.logger.Sync()
}

func initLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := cfg.Format
	if encoding != "json" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      encoding == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}
	return zapConfig.Build()
}
