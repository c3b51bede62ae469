// Package workflow runs the daily content pipeline: scan the input
// directory, push every source document through the agent chain with
// bounded parallelism, and write per-file results plus a daily
// report.
package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/BaSui01/tcmflow/agent"
	"github.com/BaSui01/tcmflow/internal/metrics"
)

// sourceExtensions are the file types picked up by the input scan.
var sourceExtensions = map[string]bool{".txt": true, ".md": true, ".pdf": true}

// Pipeline bundles the agents the workflow drives.
type Pipeline struct {
	Analyzer   *agent.Analyzer
	Themes     *agent.ThemeManager
	Strategist *agent.Strategist
	Writer     *agent.BlogWriter
	Social     *agent.SocialCreator
	Visual     *agent.VisualCreator
	Validator  *agent.Validator
}

// Config holds the workflow knobs.
type Config struct {
	InputDir    string
	OutputDir   string
	Concurrency int64  // concurrent files, default 3
	Audience    string // article audience, default "general public"
	Tone        string // article tone, default "professional"
}

// FileResult is everything produced for one source file.
type FileResult struct {
	File       string                  `json:"file"`
	Analysis   *agent.Analysis         `json:"analysis"`
	Themes     *agent.ThemeAnalysis    `json:"themes"`
	Strategy   *agent.Strategy         `json:"strategy"`
	Article    *agent.Article          `json:"article"`
	Validation *agent.ValidationResult `json:"validation"`
	Posts      []agent.Post            `json:"posts"`
	Visuals    []*agent.VisualBrief    `json:"visuals"`
	FinishedAt time.Time               `json:"finished_at"`
}

// RunError records one file's failure without aborting the run.
type RunError struct {
	File    string `json:"file"`
	Message string `json:"message"`
}

// Stats summarizes a run.
type Stats struct {
	FilesProcessed int `json:"files_processed"`
	Articles       int `json:"articles"`
	Posts          int `json:"posts"`
	Visuals        int `json:"visuals"`
	Failures       int `json:"failures"`
}

// Report is the daily run summary.
type Report struct {
	RunID      string     `json:"run_id"`
	Date       string     `json:"date"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	Stats      Stats      `json:"stats"`
	Files      []string   `json:"files"`
	Errors     []RunError `json:"errors"`
}

// Runner executes the daily workflow.
type Runner struct {
	cfg      Config
	pipeline Pipeline
	registry *metrics.Registry
	logger   *zap.Logger
}

// NewRunner creates a workflow runner.
func NewRunner(cfg Config, pipeline Pipeline, registry *metrics.Registry, logger *zap.Logger) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	if cfg.Audience == "" {
		cfg.Audience = "general public"
	}
	if cfg.Tone == "" {
		cfg.Tone = "professional"
	}
	if registry == nil {
		registry = metrics.NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:      cfg,
		pipeline: pipeline,
		registry: registry,
		logger:   logger.With(zap.String("component", "workflow")),
	}
}

// ScanInput lists the source documents in the input directory,
// sorted by name. A missing directory is an empty scan, not an error.
func (r *Runner) ScanInput() ([]string, error) {
	entries, err := os.ReadDir(r.cfg.InputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan input dir: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if sourceExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			files = append(files, filepath.Join(r.cfg.InputDir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// Run executes the full daily workflow. One file's failure is
// recorded and does not abort the run; Run only errors when the run
// could not start at all.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	started := time.Now()
	report := &Report{
		RunID:     uuid.NewString(),
		Date:      started.Format("2006-01-02"),
		StartedAt: started,
	}

	files, err := r.ScanInput()
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		r.logger.Info("no source files found", zap.String("dir", r.cfg.InputDir))
		report.FinishedAt = time.Now()
		return report, r.writeReport(report)
	}

	r.logger.Info("starting daily run",
		zap.String("run_id", report.RunID),
		zap.Int("files", len(files)),
		zap.Int64("concurrency", r.cfg.Concurrency),
	)

	sem := semaphore.NewWeighted(r.cfg.Concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, file := range files {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			report.Errors = append(report.Errors, RunError{
				File:    filepath.Base(file),
				Message: err.Error(),
			})
			mu.Unlock()
			break
		}
		wg.Add(1)
		go func(file string) {
			defer wg.Done()
			defer sem.Release(1)

			result, err := r.ProcessFile(ctx, file)

			mu.Lock()
			defer mu.Unlock()
			report.Files = append(report.Files, filepath.Base(file))
			if err != nil {
				r.logger.Error("file failed", zap.String("file", file), zap.Error(err))
				report.Errors = append(report.Errors, RunError{
					File:    filepath.Base(file),
					Message: err.Error(),
				})
				report.Stats.Failures++
				r.registry.Counter("workflow_files_total",
					"Files handled by the daily workflow",
					metrics.Labels{"status": "error"}).Inc(1)
				return
			}

			report.Stats.FilesProcessed++
			if result.Article != nil {
				report.Stats.Articles++
			}
			report.Stats.Posts += len(result.Posts)
			report.Stats.Visuals += len(result.Visuals)
			r.registry.Counter("workflow_files_total",
				"Files handled by the daily workflow",
				metrics.Labels{"status": "ok"}).Inc(1)

			if err := r.saveFileResult(file, result); err != nil {
				r.logger.Warn("save results", zap.String("file", file), zap.Error(err))
			}
		}(file)
	}
	wg.Wait()

	sort.Strings(report.Files)
	report.FinishedAt = time.Now()
	r.registry.Histogram("workflow_run_seconds",
		"Daily workflow run duration", nil).
		Observe(report.FinishedAt.Sub(started).Seconds())

	if err := r.writeReport(report); err != nil {
		r.logger.Warn("write daily report", zap.Error(err))
	}

	r.logger.Info("daily run finished",
		zap.String("run_id", report.RunID),
		zap.Int("processed", report.Stats.FilesProcessed),
		zap.Int("failures", report.Stats.Failures),
	)
	return report, nil
}

// ProcessFile pushes one source document through the whole agent
// chain.
func (r *Runner) ProcessFile(ctx context.Context, path string) (*FileResult, error) {
	name := filepath.Base(path)
	r.logger.Info("processing file", zap.String("file", name))

	analysis, err := r.pipeline.Analyzer.AnalyzeFile(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", name, err)
	}

	themes, err := r.pipeline.Themes.AnalyzeContent(ctx, analysis.Summary)
	if err != nil {
		return nil, fmt.Errorf("theme analysis for %s: %w", name, err)
	}

	strategy, err := r.pipeline.Strategist.BuildStrategy(ctx, analysis, themes)
	if err != nil {
		return nil, fmt.Errorf("strategy for %s: %w", name, err)
	}

	topic := "Traditional Chinese Medicine"
	if len(strategy.Topics) > 0 {
		topic = strategy.Topics[0]
	}

	article, err := r.pipeline.Writer.WriteArticle(ctx, topic, r.cfg.Audience, r.cfg.Tone)
	if err != nil {
		return nil, fmt.Errorf("write article for %s: %w", name, err)
	}

	validation, err := r.pipeline.Validator.ValidateContent(ctx, article.Content, "article")
	if err != nil {
		return nil, fmt.Errorf("validate article for %s: %w", name, err)
	}

	posts, err := r.pipeline.Social.CreatePosts(ctx, article)
	if err != nil {
		r.logger.Warn("social posts failed, continuing without",
			zap.String("file", name), zap.Error(err))
		posts = nil
	}

	visuals := r.createVisuals(ctx, article, posts)

	return &FileResult{
		File:       name,
		Analysis:   analysis,
		Themes:     themes,
		Strategy:   strategy,
		Article:    article,
		Validation: validation,
		Posts:      posts,
		Visuals:    visuals,
		FinishedAt: time.Now(),
	}, nil
}

// createVisuals builds one infographic brief for the article plus an
// illustration per post. Visual failures are logged, never fatal.
func (r *Runner) createVisuals(ctx context.Context, article *agent.Article, posts []agent.Post) []*agent.VisualBrief {
	var visuals []*agent.VisualBrief

	brief, err := r.pipeline.Visual.CreateBrief(ctx, "infographic", article.Title, "modern", article.Tags)
	if err != nil {
		r.logger.Warn("article visual failed", zap.Error(err))
	} else {
		visuals = append(visuals, brief)
	}

	for _, post := range posts {
		brief, err := r.pipeline.Visual.CreateBrief(ctx, "illustration", article.Title,
			"traditional_chinese", post.VisualIdeas)
		if err != nil {
			r.logger.Warn("post visual failed", zap.Error(err))
			continue
		}
		visuals = append(visuals, brief)
	}
	return visuals
}
