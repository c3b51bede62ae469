package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/tcmflow/internal/cache"
	"github.com/BaSui01/tcmflow/internal/metrics"
)

// wordsPerMinute is the reading speed used for reading-time
// estimates.
const wordsPerMinute = 200

// Article is a generated blog article with its metadata.
type Article struct {
	Title       string   `json:"title"`
	Content     string   `json:"content"`
	WordCount   int      `json:"word_count"`
	ReadingTime int      `json:"reading_time_minutes"`
	Tags        []string `json:"tags"`
	MetaTitle   string   `json:"meta_title"`
	MetaDesc    string   `json:"meta_description"`
	WrittenAt   string   `json:"written_at"`
	Degraded    bool     `json:"degraded,omitempty"`
}

// BlogWriter writes SEO-oriented markdown articles about TCM topics.
type BlogWriter struct {
	*Base
	targetWords int
}

// NewBlogWriter creates the article writing agent.
func NewBlogWriter(cfg Config, invoker Invoker, store *cache.Store, registry *metrics.Registry, logger *zap.Logger) *BlogWriter {
	if cfg.Name == "" {
		cfg.Name = "blog_writer"
	}
	w := &BlogWriter{targetWords: 1750}
	w.Base = New(cfg, invoker, store, registry, logger, w.prompt, w.parseArticle)
	return w
}

// WriteArticle generates a complete article for the topic.
func (w *BlogWriter) WriteArticle(ctx context.Context, topic, audience, tone string) (*Article, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, fmt.Errorf("topic is empty")
	}
	if audience == "" {
		audience = "beginner"
	}
	if tone == "" {
		tone = "informative"
	}

	result, err := w.Process(ctx, map[string]any{
		"topic":    topic,
		"audience": audience,
		"tone":     tone,
	})
	if err != nil {
		return nil, err
	}

	content := stringValue(result.Data, "content", result.Raw)
	wordCount := len(strings.Fields(content))

	article := &Article{
		Title:       stringValue(result.Data, "title", extractTitle(content, topic)),
		Content:     content,
		WordCount:   wordCount,
		ReadingTime: readingTime(wordCount),
		Tags:        stringSlice(result.Data["tags"]),
		MetaTitle:   stringValue(result.Data, "meta_title", ""),
		MetaDesc:    stringValue(result.Data, "meta_description", ""),
		WrittenAt:   time.Now().Format("2006-01-02"),
		Degraded:    result.Status == StatusDegraded,
	}
	if len(article.Tags) == 0 {
		article.Tags = []string{topic, "TCM", "natural health"}
	}
	if article.MetaTitle == "" {
		article.MetaTitle = article.Title
	}
	return article, nil
}

func (w *BlogWriter) prompt(input map[string]any) (string, error) {
	topic, _ := input["topic"].(string)
	if strings.TrimSpace(topic) == "" {
		return "", fmt.Errorf("missing topic")
	}
	audience, _ := input["audience"].(string)
	tone, _ := input["tone"].(string)

	var b strings.Builder
	b.WriteString("# TCM Blog Article\n\n")
	b.WriteString("You are an expert in Traditional Chinese Medicine and SEO web writing.\n\n")
	fmt.Fprintf(&b, "Write a complete blog article on: %q\n\n", topic)
	fmt.Fprintf(&b, "- Length: 1500-2000 words (target %d)\n", w.targetWords)
	fmt.Fprintf(&b, "- Tone: %s\n", tone)
	fmt.Fprintf(&b, "- Audience level: %s\n", audience)
	b.WriteString("- Format: pure markdown, H1 title, intro, three H2 sections with H3\n")
	b.WriteString("  subsections, conclusion with a call to action\n")
	b.WriteString("- Explain technical TCM terms; short paragraphs; bold key concepts\n")
	b.WriteString("- Do not make medical claims; recommend consulting a practitioner\n\n")
	b.WriteString("Start directly with the markdown, no extra commentary.\n")
	return b.String(), nil
}

// parseArticle accepts either a JSON payload or raw markdown.
func (w *BlogWriter) parseArticle(raw string) (*Result, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		if data, err := extractJSON(trimmed); err == nil {
			return &Result{Status: StatusOK, Data: data, Raw: raw}, nil
		}
	}

	// Markdown is the expected shape, not a degradation.
	return &Result{
		Status: StatusOK,
		Data:   map[string]any{"content": raw},
		Raw:    raw,
	}, nil
}

// extractTitle pulls the H1 from markdown, falling back to a
// topic-derived title.
func extractTitle(content, topic string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	return fmt.Sprintf("%s in Traditional Chinese Medicine", topic)
}

func readingTime(wordCount int) int {
	minutes := (wordCount + wordsPerMinute - 1) / wordsPerMinute
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}
