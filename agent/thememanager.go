package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/tcmflow/internal/cache"
	"github.com/BaSui01/tcmflow/internal/metrics"
)

// tcmGlossary is the builtin set of TCM terms used by the keyword
// fallback analysis.
var tcmGlossary = []string{
	// fundamental theories
	"yin", "yang", "qi", "jing", "shen", "xue", "five elements",
	// diagnostics
	"pulse", "tongue", "observation", "palpation",
	// treatment techniques
	"acupuncture", "moxibustion", "tui na", "qi gong", "dietetics",
	"herbal", "pharmacopoeia",
	// key concepts
	"meridian", "acupoint", "zang fu", "syndrome", "prevention", "balance",
}

// ThemeAnalysis describes the thematic structure of a piece of content.
type ThemeAnalysis struct {
	MainTheme       string         `json:"main_theme"`
	SubThemes       []string       `json:"sub_themes"`
	TermCounts      map[string]int `json:"term_counts"`
	Repetitions     map[string]int `json:"repetitions"`
	Recommendations []string       `json:"recommendations"`
	Degraded        bool           `json:"degraded,omitempty"`
}

type ContentRecord struct {
	ID         string    `json:"id"`
	MainTheme  string    `json:"main_theme"`
	SubThemes  []string  `json:"sub_themes"`
	Excerpt    string    `json:"excerpt"`
	AnalyzedAt time.Time `json:"analyzed_at"`
}

type knowledgeBase struct {
	Contents    []ContentRecord `json:"contents"`
	ThemeCounts map[string]int  `json:"theme_counts"`
}

// ThemeManager analyzes content themes and coherence, and maintains a
// small on-disk knowledge base of everything it has seen so repeated
// runs can detect overused themes.
type ThemeManager struct {
	*Base

	kbPath string
	mu     sync.Mutex
	kb     knowledgeBase
}

// NewThemeManager creates the theme analysis agent. kbPath locates
// the JSON knowledge base; it is created on first update.
func NewThemeManager(cfg Config, invoker Invoker, store *cache.Store, registry *metrics.Registry, logger *zap.Logger, kbPath string) *ThemeManager {
	if cfg.Name == "" {
		cfg.Name = "theme_manager"
	}
	tm := &ThemeManager{kbPath: kbPath}
	tm.Base = New(cfg, invoker, store, registry, logger, tm.prompt, tm.parseThemes)
	tm.loadKnowledgeBase()
	return tm
}

// AnalyzeContent runs the theme analysis. When the model call fails
// or its response is unusable, a rule-based keyword analysis is
// returned instead so the pipeline can continue.
func (tm *ThemeManager) AnalyzeContent(ctx context.Context, content string) (*ThemeAnalysis, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("content is empty")
	}

	var analysis *ThemeAnalysis
	result, err := tm.Process(ctx, map[string]any{"content": truncate(content, 8000)})
	if err != nil {
		tm.logger.Warn("model analysis failed, using keyword fallback", zap.Error(err))
		analysis = tm.basicAnalysis(content)
	} else {
		analysis = &ThemeAnalysis{
			MainTheme:       stringValue(result.Data, "main_theme", "unknown"),
			SubThemes:       stringSlice(result.Data["sub_themes"]),
			Recommendations: stringSlice(result.Data["recommendations"]),
			TermCounts:      countGlossaryTerms(content),
			Repetitions:     findRepetitions(content),
			Degraded:        result.Status == StatusDegraded,
		}
		if result.Status == StatusDegraded {
			fallback := tm.basicAnalysis(content)
			analysis.MainTheme = fallback.MainTheme
			analysis.SubThemes = fallback.SubThemes
			analysis.Recommendations = fallback.Recommendations
		}
	}

	tm.updateKnowledgeBase(analysis, content)
	return analysis, nil
}

// Suggestions returns themes from the knowledge base that differ from
// the current one, least-used first, so the calendar can rotate
// topics.
func (tm *ThemeManager) Suggestions(currentTheme string) []string {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	type themeCount struct {
		theme string
		count int
	}
	var seen []themeCount
	for theme, count := range tm.kb.ThemeCounts {
		if !strings.EqualFold(theme, currentTheme) {
			seen = append(seen, themeCount{theme, count})
		}
	}
	sort.Slice(seen, func(i, j int) bool {
		if seen[i].count != seen[j].count {
			return seen[i].count < seen[j].count
		}
		return seen[i].theme < seen[j].theme
	})

	out := make([]string, 0, len(seen))
	for _, tc := range seen {
		out = append(out, tc.theme)
	}
	return out
}

// Registry returns a copy of the recorded content entries.
func (tm *ThemeManager) Registry() []ContentRecord {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return append([]ContentRecord(nil), tm.kb.Contents...)
}

func (tm *ThemeManager) prompt(input map[string]any) (string, error) {
	content, _ := input["content"].(string)
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("missing content")
	}

	var b strings.Builder
	b.WriteString("# TCM Content Theme Analysis\n\n")
	b.WriteString("Identify the main theme and sub-themes of the following TCM content,\n")
	b.WriteString("judge its thematic coherence, and recommend how to vary future content\n")
	b.WriteString("so themes are not repeated too often.\n\n")
	b.WriteString("## Content\n\n")
	b.WriteString(content)
	b.WriteString("\n\n## Response format (JSON only)\n\n")
	b.WriteString(`{"main_theme": "...", "sub_themes": ["..."], "recommendations": ["..."]}`)
	b.WriteString("\n")
	return b.String(), nil
}

func (tm *ThemeManager) parseThemes(raw string) (*Result, error) {
	data, err := extractJSON(raw)
	if err != nil {
		return &Result{
			Status: StatusDegraded,
			Data:   map[string]any{},
			Raw:    raw,
			Reason: "response was not valid JSON",
		}, nil
	}
	return &Result{Status: StatusOK, Data: data, Raw: raw}, nil
}

// basicAnalysis is the rule-only fallback: glossary term frequency
// stands in for the model's judgement.
func (tm *ThemeManager) basicAnalysis(content string) *ThemeAnalysis {
	counts := countGlossaryTerms(content)

	type termCount struct {
		term  string
		count int
	}
	ranked := make([]termCount, 0, len(counts))
	for term, count := range counts {
		ranked = append(ranked, termCount{term, count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].term < ranked[j].term
	})

	mainTheme := "unknown"
	var subThemes []string
	if len(ranked) > 0 {
		mainTheme = ranked[0].term
		for _, tc := range ranked[1:] {
			if len(subThemes) == 3 {
				break
			}
			subThemes = append(subThemes, tc.term)
		}
	}

	return &ThemeAnalysis{
		MainTheme:   mainTheme,
		SubThemes:   subThemes,
		TermCounts:  counts,
		Repetitions: findRepetitions(content),
		Recommendations: []string{
			"automatic analysis was unavailable; manual review recommended",
		},
		Degraded: true,
	}
}

func (tm *ThemeManager) updateKnowledgeBase(analysis *ThemeAnalysis, content string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.kb.ThemeCounts == nil {
		tm.kb.ThemeCounts = make(map[string]int)
	}
	tm.kb.ThemeCounts[analysis.MainTheme]++
	tm.kb.Contents = append(tm.kb.Contents, ContentRecord{
		ID:         uuid.NewString(),
		MainTheme:  analysis.MainTheme,
		SubThemes:  analysis.SubThemes,
		Excerpt:    truncate(content, 200),
		AnalyzedAt: time.Now(),
	})

	if tm.kbPath == "" {
		return
	}
	data, err := json.MarshalIndent(tm.kb, "", "  ")
	if err != nil {
		tm.logger.Warn("encode knowledge base", zap.Error(err))
		return
	}
	if err := os.MkdirAll(filepath.Dir(tm.kbPath), 0o755); err != nil {
		tm.logger.Warn("create knowledge base dir", zap.Error(err))
		return
	}
	if err := os.WriteFile(tm.kbPath, data, 0o644); err != nil {
		tm.logger.Warn("write knowledge base", zap.Error(err))
	}
}

func (tm *ThemeManager) loadKnowledgeBase() {
	if tm.kbPath == "" {
		return
	}
	data, err := os.ReadFile(tm.kbPath)
	if err != nil {
		return
	}
	if err := json.Unmarshal(data, &tm.kb); err != nil {
		tm.logger.Warn("knowledge base unreadable, starting fresh", zap.Error(err))
		tm.kb = knowledgeBase{}
	}
}

// countGlossaryTerms counts occurrences of builtin TCM glossary terms.
func countGlossaryTerms(content string) map[string]int {
	lower := strings.ToLower(content)
	counts := make(map[string]int)
	for _, term := range tcmGlossary {
		if n := strings.Count(lower, term); n > 0 {
			counts[term] = n
		}
	}
	return counts
}

// findRepetitions flags words longer than four characters that appear
// more than five times.
func findRepetitions(content string) map[string]int {
	counts := make(map[string]int)
	for _, word := range strings.Fields(strings.ToLower(content)) {
		word = strings.Trim(word, ".,;:!?\"'()[]")
		if len(word) > 4 {
			counts[word]++
		}
	}
	out := make(map[string]int)
	for word, count := range counts {
		if count > 5 {
			out[word] = count
		}
	}
	return out
}
