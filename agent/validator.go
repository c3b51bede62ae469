package agent

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/tcmflow/internal/cache"
	"github.com/BaSui01/tcmflow/internal/metrics"
)

// ValidationStatus is the final verdict on a piece of content.
type ValidationStatus string

const (
	ValidationApproved    ValidationStatus = "approved"
	ValidationNeedsReview ValidationStatus = "needs_review"
	ValidationRejected    ValidationStatus = "rejected"
)

// Score thresholds on the 0-5 scale.
const (
	approveThreshold = 4.0
	reviewThreshold  = 2.5
)

// sensitiveTerms are phrasings that read as medical claims. Any
// occurrence is flagged for editorial review.
var sensitiveTerms = map[string][]string{
	"treatment_claim":  {"cure", "cures", "heals", "treatment for"},
	"diagnostic_claim": {"diagnose", "diagnosis", "disease", "pathology"},
	"therapeutic":      {"therapy", "remedy", "medication", "prescribe"},
}

var referencePattern = regexp.MustCompile(`\[\d+\]|\([A-Za-z]+,? \d{4}\)`)

// sensitiveTermPatterns matches each term as whole words only, so
// "cure" does not also fire on "cures" or "procure".
var sensitiveTermPatterns = func() map[string][]*regexp.Regexp {
	patterns := make(map[string][]*regexp.Regexp, len(sensitiveTerms))
	for category, terms := range sensitiveTerms {
		for _, term := range terms {
			patterns[category] = append(patterns[category],
				regexp.MustCompile(`\b`+regexp.QuoteMeta(term)+`\b`))
		}
	}
	return patterns
}()

// Issue is one problem found during validation.
type Issue struct {
	Type     string `json:"type"`
	Severity string `json:"severity"` // minor, major, critical
	Category string `json:"category,omitempty"`
	Term     string `json:"term,omitempty"`
	Message  string `json:"message"`
}

// ValidationResult is the full outcome of a content validation.
type ValidationResult struct {
	Status      ValidationStatus   `json:"status"`
	GlobalScore float64            `json:"global_score"` // 0-5
	Scores      map[string]float64 `json:"scores"`
	Issues      []Issue            `json:"issues"`
	Warnings    []string           `json:"warnings"`
	Suggestions []string           `json:"suggestions"`
	Fallback    bool               `json:"fallback,omitempty"`
	WordCount   int                `json:"word_count"`
}

// Validator scores content for TCM accuracy, tone, and compliance
// with medical-adjacent caution rules. When the model call fails it
// degrades to a rule-only validation so the pipeline still gets a
// verdict.
type Validator struct {
	*Base
}

// NewValidator creates the content validation agent.
func NewValidator(cfg Config, invoker Invoker, store *cache.Store, registry *metrics.Registry, logger *zap.Logger) *Validator {
	if cfg.Name == "" {
		cfg.Name = "validator"
	}
	v := &Validator{}
	v.Base = New(cfg, invoker, store, registry, logger, v.prompt, v.parseValidation)
	return v
}

// ValidateContent runs the full validation over the content.
func (v *Validator) ValidateContent(ctx context.Context, content, contentType string) (*ValidationResult, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("content is empty")
	}
	if contentType == "" {
		contentType = "article"
	}

	result, err := v.Process(ctx, map[string]any{
		"content":      truncate(content, 8000),
		"content_type": contentType,
	})
	if err != nil {
		v.logger.Warn("model validation failed, using rule-only fallback", zap.Error(err))
		return v.fallbackValidation(content), nil
	}
	if result.Status == StatusDegraded {
		return v.fallbackValidation(content), nil
	}

	scores := scoreMap(result.Data["scores"])
	globalScore := globalScore(result.Data, scores)

	issues := v.checkSensitiveTerms(content)
	issues = append(issues, modelIssues(result.Data["issues"])...)

	return &ValidationResult{
		Status:      verdict(globalScore, issues),
		GlobalScore: globalScore,
		Scores:      scores,
		Issues:      issues,
		Warnings:    stringSlice(result.Data["warnings"]),
		Suggestions: stringSlice(result.Data["suggestions"]),
		WordCount:   len(strings.Fields(content)),
	}, nil
}

func (v *Validator) prompt(input map[string]any) (string, error) {
	content, _ := input["content"].(string)
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("missing content")
	}
	contentType, _ := input["content_type"].(string)

	var b strings.Builder
	b.WriteString("# TCM Content Validation\n\n")
	fmt.Fprintf(&b, "Review the following %s for publication. Score each criterion from 0\n", contentType)
	b.WriteString("to 5: tcm_accuracy (faithful to TCM theory), editorial_quality,\n")
	b.WriteString("tone (accessible, not alarmist), and compliance (no medical claims,\n")
	b.WriteString("no diagnosis, recommends consulting a practitioner). List concrete\n")
	b.WriteString("issues with a severity of minor, major, or critical.\n\n")
	b.WriteString("## Content\n\n")
	b.WriteString(content)
	b.WriteString("\n\n## Response format (JSON only)\n\n")
	b.WriteString(`{"scores": {"tcm_accuracy": 0, "editorial_quality": 0, "tone": 0, "compliance": 0}, ` +
		`"global_score": 0, "issues": [{"severity": "major", "message": "..."}], ` +
		`"warnings": ["..."], "suggestions": ["..."]}`)
	b.WriteString("\n")
	return b.String(), nil
}

func (v *Validator) parseValidation(raw string) (*Result, error) {
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

// fallbackValidation is the rule-only path: sensitive-term scan plus
// basic shape checks, always verdicting needs_review.
func (v *Validator) fallbackValidation(content string) *ValidationResult {
	issues := v.checkSensitiveTerms(content)
	wordCount := len(strings.Fields(content))

	warnings := []string{"rule-only validation used because the model was unavailable"}
	if wordCount < 100 {
		warnings = append(warnings, "content seems too short for a reliable validation")
	}
	if !referencePattern.MatchString(content) {
		warnings = append(warnings, "no references detected in the content")
	}

	return &ValidationResult{
		Status:      ValidationNeedsReview,
		GlobalScore: 2.0,
		Issues:      issues,
		Warnings:    warnings,
		Fallback:    true,
		WordCount:   wordCount,
	}
}

func (v *Validator) checkSensitiveTerms(content string) []Issue {
	lower := strings.ToLower(content)

	categories := make([]string, 0, len(sensitiveTerms))
	for category := range sensitiveTerms {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	var issues []Issue
	for _, category := range categories {
		for i, term := range sensitiveTerms[category] {
			if sensitiveTermPatterns[category][i].MatchString(lower) {
				issues = append(issues, Issue{
					Type:     "sensitive_term",
					Severity: "major",
					Category: category,
					Term:     term,
					Message:  fmt.Sprintf("sensitive term detected: %q", term),
				})
			}
		}
	}
	return issues
}

// Report renders a human-readable markdown validation report.
func (v *Validator) Report(result *ValidationResult) string {
	var b strings.Builder
	b.WriteString("# Content Validation Report\n\n")
	fmt.Fprintf(&b, "- Status: **%s**\n", result.Status)
	fmt.Fprintf(&b, "- Global score: %.1f / 5\n", result.GlobalScore)
	fmt.Fprintf(&b, "- Word count: %d\n", result.WordCount)
	if result.Fallback {
		b.WriteString("- Rule-only validation (model unavailable)\n")
	}

	if len(result.Scores) > 0 {
		b.WriteString("\n## Scores\n\n")
		criteria := make([]string, 0, len(result.Scores))
		for c := range result.Scores {
			criteria = append(criteria, c)
		}
		sort.Strings(criteria)
		for _, c := range criteria {
			fmt.Fprintf(&b, "- %s: %.1f\n", c, result.Scores[c])
		}
	}

	if len(result.Issues) > 0 {
		b.WriteString("\n## Issues\n\n")
		for _, issue := range result.Issues {
			fmt.Fprintf(&b, "- [%s] %s\n", issue.Severity, issue.Message)
		}
	}
	if len(result.Warnings) > 0 {
		b.WriteString("\n## Warnings\n\n")
		for _, w := range result.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
	}
	if len(result.Suggestions) > 0 {
		b.WriteString("\n## Suggestions\n\n")
		for _, s := range result.Suggestions {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	return b.String()
}

func scoreMap(v any) map[string]float64 {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, raw := range m {
		if f, ok := raw.(float64); ok {
			out[k] = f
		}
	}
	return out
}

// globalScore takes the model's global score when present, otherwise
// averages the per-criterion scores.
func globalScore(data map[string]any, scores map[string]float64) float64 {
	if f, ok := data["global_score"].(float64); ok && f > 0 {
		return f
	}
	if len(scores) == 0 {
		return 0
	}
	var total float64
	for _, s := range scores {
		total += s
	}
	return total / float64(len(scores))
}

func modelIssues(v any) []Issue {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var issues []Issue
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		msg := stringValue(m, "message", "")
		if msg == "" {
			continue
		}
		issues = append(issues, Issue{
			Type:     "model_finding",
			Severity: stringValue(m, "severity", "minor"),
			Message:  msg,
		})
	}
	return issues
}

// verdict maps score and issues to a status: any critical issue
// rejects outright, then score thresholds decide.
func verdict(score float64, issues []Issue) ValidationStatus {
	for _, issue := range issues {
		if issue.Severity == "critical" {
			return ValidationRejected
		}
	}
	switch {
	case score >= approveThreshold:
		return ValidationApproved
	case score >= reviewThreshold:
		return ValidationNeedsReview
	default:
		return ValidationRejected
	}
}
