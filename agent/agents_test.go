package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/tcmflow/internal/metrics"
	"github.com/BaSui01/tcmflow/llm"
)

func TestAnalyzerParsesStructuredResponse(t *testing.T) {
	inv := &fakeInvoker{response: `{"summary": "An overview of Qi.", "key_concepts": ["qi", "meridians"], "themes": ["energy"]}`}
	a := NewAnalyzer(testConfig("analyzer"), inv, nil, metrics.NewRegistry(), zaptest.NewLogger(t))

	analysis, err := a.Analyze(context.Background(), "Qi flows through the meridians.", "qi.md")
	require.NoError(t, err)

	assert.Equal(t, "An overview of Qi.", analysis.Summary)
	assert.Equal(t, []string{"qi", "meridians"}, analysis.KeyConcepts)
	assert.False(t, analysis.Degraded)
	assert.Equal(t, "qi.md", analysis.Metadata["filename"])
}

func TestAnalyzerDegradesOnProseResponse(t *testing.T) {
	inv := &fakeInvoker{response: "This document discusses Qi and meridians at length."}
	a := NewAnalyzer(testConfig("analyzer"), inv, nil, metrics.NewRegistry(), zaptest.NewLogger(t))

	analysis, err := a.Analyze(context.Background(), "Qi flows.", "qi.md")
	require.NoError(t, err)

	assert.True(t, analysis.Degraded)
	assert.Contains(t, analysis.Summary, "discusses Qi")
}

func TestAnalyzerRejectsEmptyDocument(t *testing.T) {
	a := NewAnalyzer(testConfig("analyzer"), &fakeInvoker{}, nil, metrics.NewRegistry(), zaptest.NewLogger(t))

	_, err := a.Analyze(context.Background(), "   \n", "empty.txt")
	require.Error(t, err)
	assert.Equal(t, llm.ErrInvalidInput, llm.TypeOf(err))
}

func TestReadSource(t *testing.T) {
	dir := t.TempDir()
	txt := filepath.Join(dir, "doc.txt")
	require.NoError(t, os.WriteFile(txt, []byte("hello"), 0o644))

	got, err := ReadSource(txt)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	// A .pdf path resolves to its pre-extracted sibling.
	got, err = ReadSource(filepath.Join(dir, "doc.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	// Without a sibling the PDF is rejected.
	_, err = ReadSource(filepath.Join(dir, "other.pdf"))
	require.Error(t, err)

	_, err = ReadSource(filepath.Join(dir, "doc.docx"))
	require.Error(t, err)
}

func TestThemeManagerFallsBackToKeywordAnalysis(t *testing.T) {
	inv := &fakeInvoker{err: llm.NewAPIError(llm.ErrModelError, "down").WithRetryAfter(1)}
	tm := NewThemeManager(testConfig("themes"), inv, nil, metrics.NewRegistry(),
		zaptest.NewLogger(t), filepath.Join(t.TempDir(), "kb.json"))

	content := "Acupuncture works on the meridian network. Acupuncture restores balance. " +
		"The meridian map guides every acupuncture session."
	analysis, err := tm.AnalyzeContent(context.Background(), content)
	require.NoError(t, err)

	assert.True(t, analysis.Degraded)
	assert.Equal(t, "acupuncture", analysis.MainTheme)
	assert.Greater(t, analysis.TermCounts["meridian"], 0)
}

func TestThemeManagerKnowledgeBasePersists(t *testing.T) {
	kbPath := filepath.Join(t.TempDir(), "kb.json")
	inv := &fakeInvoker{response: `{"main_theme": "qi gong", "sub_themes": ["breathing"], "recommendations": []}`}

	tm := NewThemeManager(testConfig("themes"), inv, nil, metrics.NewRegistry(), zaptest.NewLogger(t), kbPath)
	_, err := tm.AnalyzeContent(context.Background(), "Qi gong breathing practice.")
	require.NoError(t, err)

	reloaded := NewThemeManager(testConfig("themes"), inv, nil, metrics.NewRegistry(), zaptest.NewLogger(t), kbPath)
	records := reloaded.Registry()
	require.Len(t, records, 1)
	assert.Equal(t, "qi gong", records[0].MainTheme)
	assert.NotEmpty(t, records[0].ID)
}

func TestThemeManagerSuggestionsPreferUnderusedThemes(t *testing.T) {
	tm := NewThemeManager(testConfig("themes"), &fakeInvoker{}, nil, metrics.NewRegistry(), zaptest.NewLogger(t), "")
	tm.kb.ThemeCounts = map[string]int{"qi": 5, "dietetics": 1, "acupuncture": 3}

	got := tm.Suggestions("qi")
	assert.Equal(t, []string{"dietetics", "acupuncture"}, got)
}

func TestStrategistDefaultCalendarCoversSevenDays(t *testing.T) {
	inv := &fakeInvoker{response: "not json at all"}
	s := NewStrategist(testConfig("strategy"), inv, nil, metrics.NewRegistry(), zaptest.NewLogger(t))

	strategy, err := s.BuildStrategy(context.Background(),
		&Analysis{Summary: "doc about qi", Themes: []string{"qi", "meridians"}}, nil)
	require.NoError(t, err)

	assert.True(t, strategy.Degraded)
	require.Len(t, strategy.Calendar, 7)
	assert.Equal(t, 1, strategy.Calendar[0].Day)
	assert.Equal(t, "qi", strategy.Calendar[0].Theme)
	assert.Equal(t, "meridians", strategy.Calendar[1].Theme)
}

func TestStrategistParsesModelCalendar(t *testing.T) {
	inv := &fakeInvoker{response: `{"topics": ["qi basics"], "angle": "practical", ` +
		`"channel_plan": {"blog": "weekly"}, ` +
		`"calendar": [{"day": 1, "theme": "qi", "format": "article", "channel": "blog"}]}`}
	s := NewStrategist(testConfig("strategy"), inv, nil, metrics.NewRegistry(), zaptest.NewLogger(t))

	strategy, err := s.BuildStrategy(context.Background(), &Analysis{Summary: "doc"}, nil)
	require.NoError(t, err)

	assert.False(t, strategy.Degraded)
	assert.Equal(t, []string{"qi basics"}, strategy.Topics)
	assert.Equal(t, "practical", strategy.Angle)
	require.Len(t, strategy.Calendar, 1)
	assert.Equal(t, "qi", strategy.Calendar[0].Theme)
}

func TestBlogWriterBuildsArticleFromMarkdown(t *testing.T) {
	inv := &fakeInvoker{response: "# Understanding Qi\n\nQi is the vital energy of the body.\n"}
	w := NewBlogWriter(testConfig("writer"), inv, nil, metrics.NewRegistry(), zaptest.NewLogger(t))

	article, err := w.WriteArticle(context.Background(), "qi", "beginner", "informative")
	require.NoError(t, err)

	assert.Equal(t, "Understanding Qi", article.Title)
	assert.Equal(t, 1, article.ReadingTime)
	assert.Greater(t, article.WordCount, 0)
	assert.NotEmpty(t, article.Tags)
	assert.False(t, article.Degraded)
}

func TestReadingTimeRoundsUp(t *testing.T) {
	assert.Equal(t, 1, readingTime(10))
	assert.Equal(t, 1, readingTime(200))
	assert.Equal(t, 2, readingTime(201))
	assert.Equal(t, 9, readingTime(1750))
}

func TestSocialCreatorParsesPosts(t *testing.T) {
	inv := &fakeInvoker{response: `{"posts": [{"type": "concept", "schedule": "09:00", ` +
		`"text": "Qi is vital energy.", "hashtags": ["#TCM"], "call_to_action": "Comment!", ` +
		`"visual_ideas": ["meridian chart"], "goal": "educate"}]}`}
	sc := NewSocialCreator(testConfig("social"), inv, nil, metrics.NewRegistry(), zaptest.NewLogger(t))

	posts, err := sc.CreatePosts(context.Background(), &Article{Title: "Qi", Content: "Qi article body"})
	require.NoError(t, err)

	require.Len(t, posts, 1)
	assert.Equal(t, "concept", posts[0].Type)
	assert.Equal(t, []string{"#TCM"}, posts[0].Hashtags)
}

func TestSocialCreatorFallsBackToDefaults(t *testing.T) {
	inv := &fakeInvoker{response: "sorry, no JSON today"}
	sc := NewSocialCreator(testConfig("social"), inv, nil, metrics.NewRegistry(), zaptest.NewLogger(t))

	posts, err := sc.CreatePosts(context.Background(), &Article{Title: "Qi", Content: "body"})
	require.NoError(t, err)

	require.Len(t, posts, 2)
	assert.Equal(t, "concept", posts[0].Type)
	assert.Equal(t, "interaction", posts[1].Type)
}

func TestVisualCreatorNormalizesTypeAndStyle(t *testing.T) {
	inv := &fakeInvoker{response: `{"prompt": "a serene meridian chart", "alt_text": "meridian chart", "caption": "The meridians"}`}
	vc := NewVisualCreator(testConfig("visual"), inv, nil, metrics.NewRegistry(), zaptest.NewLogger(t))

	brief, err := vc.CreateBrief(context.Background(), "hologram", "meridians", "vaporwave", nil)
	require.NoError(t, err)

	assert.Equal(t, "infographic", brief.Type)
	assert.Equal(t, "modern", brief.Style)
	assert.Equal(t, "a serene meridian chart", brief.Prompt)
	assert.False(t, brief.Degraded)
}

func TestVisualCreatorTemplateFallback(t *testing.T) {
	inv := &fakeInvoker{response: "no json"}
	vc := NewVisualCreator(testConfig("visual"), inv, nil, metrics.NewRegistry(), zaptest.NewLogger(t))

	brief, err := vc.CreateBrief(context.Background(), "diagram", "five elements", "watercolor", []string{"wood", "fire"})
	require.NoError(t, err)

	assert.True(t, brief.Degraded)
	assert.Contains(t, brief.Prompt, "five elements")
	assert.Contains(t, brief.Prompt, "wood, fire")
}

func TestValidatorScoresAndVerdicts(t *testing.T) {
	inv := &fakeInvoker{response: `{"scores": {"tcm_accuracy": 4.5, "editorial_quality": 4.0, ` +
		`"tone": 4.5, "compliance": 5.0}, "global_score": 4.5, "issues": [], ` +
		`"warnings": [], "suggestions": ["add references"]}`}
	v := NewValidator(testConfig("validator"), inv, nil, metrics.NewRegistry(), zaptest.NewLogger(t))

	result, err := v.ValidateContent(context.Background(), "A careful article about qi gong practice.", "article")
	require.NoError(t, err)

	assert.Equal(t, ValidationApproved, result.Status)
	assert.InDelta(t, 4.5, result.GlobalScore, 0.001)
	assert.Equal(t, []string{"add references"}, result.Suggestions)
}

func TestValidatorFlagsSensitiveTerms(t *testing.T) {
	inv := &fakeInvoker{response: `{"scores": {"compliance": 4.5}, "global_score": 4.5, "issues": []}`}
	v := NewValidator(testConfig("validator"), inv, nil, metrics.NewRegistry(), zaptest.NewLogger(t))

	result, err := v.ValidateContent(context.Background(), "Acupuncture cures chronic pain.", "article")
	require.NoError(t, err)

	require.Len(t, result.Issues, 1)
	assert.Equal(t, "sensitive_term", result.Issues[0].Type)
	assert.Equal(t, "cures", result.Issues[0].Term)
}

func TestSensitiveTermsMatchWholeWordsOnly(t *testing.T) {
	v := NewValidator(testConfig("validator"), &fakeInvoker{}, nil, metrics.NewRegistry(), zaptest.NewLogger(t))

	tests := []struct {
		name    string
		content string
		terms   []string
	}{
		{"plural form only", "Acupuncture cures chronic pain.", []string{"cures"}},
		{"singular form only", "There is no miracle cure here.", []string{"cure"}},
		{"no match inside larger word", "How to procure quality herbs.", nil},
		{"multi-word term", "Moxibustion as a treatment for fatigue.", []string{"treatment for"}},
		{"both forms present", "One cure among many cures.", []string{"cure", "cures"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues := v.checkSensitiveTerms(tt.content)
			var terms []string
			for _, issue := range issues {
				terms = append(terms, issue.Term)
			}
			assert.Equal(t, tt.terms, terms)
		})
	}
}

func TestValidatorFallbackOnModelFailure(t *testing.T) {
	inv := &fakeInvoker{err: llm.NewAPIError(llm.ErrTimeout, "slow").WithRetryAfter(1)}
	v := NewValidator(testConfig("validator"), inv, nil, metrics.NewRegistry(), zaptest.NewLogger(t))

	result, err := v.ValidateContent(context.Background(), "Short note on dietetics.", "article")
	require.NoError(t, err)

	assert.True(t, result.Fallback)
	assert.Equal(t, ValidationNeedsReview, result.Status)
	assert.Contains(t, result.Warnings[0], "rule-only")
}

func TestVerdictThresholds(t *testing.T) {
	assert.Equal(t, ValidationApproved, verdict(4.0, nil))
	assert.Equal(t, ValidationNeedsReview, verdict(3.0, nil))
	assert.Equal(t, ValidationRejected, verdict(1.0, nil))
	assert.Equal(t, ValidationRejected,
		verdict(5.0, []Issue{{Severity: "critical", Message: "dangerous claim"}}))
}

func TestValidationReportRendersSections(t *testing.T) {
	v := NewValidator(testConfig("validator"), &fakeInvoker{}, nil, metrics.NewRegistry(), zaptest.NewLogger(t))
	report := v.Report(&ValidationResult{
		Status:      ValidationNeedsReview,
		GlobalScore: 3.2,
		Scores:      map[string]float64{"tone": 3.5},
		Issues:      []Issue{{Severity: "major", Message: "unsupported claim"}},
		Warnings:    []string{"no references detected"},
		WordCount:   420,
	})

	assert.Contains(t, report, "needs_review")
	assert.Contains(t, report, "3.2 / 5")
	assert.Contains(t, report, "unsupported claim")
	assert.Contains(t, report, "no references detected")
}
