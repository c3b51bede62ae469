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

// CalendarSlot is one planned day of the content calendar.
type CalendarSlot struct {
	Day     int    `json:"day"`
	Date    string `json:"date"`
	Theme   string `json:"theme"`
	Format  string `json:"format"`
	Channel string `json:"channel"`
}

// Strategy is the content plan derived from a document analysis.
type Strategy struct {
	Topics      []string       `json:"topics"`
	ChannelPlan map[string]any `json:"channel_plan"`
	Calendar    []CalendarSlot `json:"calendar"`
	Angle       string         `json:"angle"`
	Degraded    bool           `json:"degraded,omitempty"`
}

// Strategist turns an analysis and theme report into suggested
// topics, a channel plan, and a 7-day calendar.
type Strategist struct {
	*Base
	now func() time.Time
}

// NewStrategist creates the content strategy agent.
func NewStrategist(cfg Config, invoker Invoker, store *cache.Store, registry *metrics.Registry, logger *zap.Logger) *Strategist {
	if cfg.Name == "" {
		cfg.Name = "strategist"
	}
	s := &Strategist{now: time.Now}
	s.Base = New(cfg, invoker, store, registry, logger, s.prompt, s.parseStrategy)
	return s
}

// BuildStrategy produces a content strategy from the analysis and
// theme report. Unusable model output degrades to a default 7-day
// calendar over the known themes.
func (s *Strategist) BuildStrategy(ctx context.Context, analysis *Analysis, themes *ThemeAnalysis) (*Strategy, error) {
	input := map[string]any{
		"summary": analysis.Summary,
		"themes":  analysis.Themes,
	}
	if themes != nil {
		input["main_theme"] = themes.MainTheme
		input["sub_themes"] = themes.SubThemes
	}

	result, err := s.Process(ctx, input)
	if err != nil {
		return nil, err
	}

	knownThemes := analysis.Themes
	if themes != nil && themes.MainTheme != "" {
		knownThemes = append([]string{themes.MainTheme}, knownThemes...)
	}

	if result.Status == StatusDegraded {
		return &Strategy{
			Topics:   knownThemes,
			Calendar: s.defaultCalendar(knownThemes),
			Degraded: true,
		}, nil
	}

	strategy := &Strategy{
		Topics: stringSlice(result.Data["topics"]),
		Angle:  stringValue(result.Data, "angle", ""),
	}
	if plan, ok := result.Data["channel_plan"].(map[string]any); ok {
		strategy.ChannelPlan = plan
	}
	strategy.Calendar = parseCalendar(result.Data["calendar"])
	if len(strategy.Calendar) == 0 {
		strategy.Calendar = s.defaultCalendar(knownThemes)
	}
	if len(strategy.Topics) == 0 {
		strategy.Topics = knownThemes
	}
	return strategy, nil
}

func (s *Strategist) prompt(input map[string]any) (string, error) {
	summary, _ := input["summary"].(string)
	if strings.TrimSpace(summary) == "" {
		return "", fmt.Errorf("missing analysis summary")
	}

	var b strings.Builder
	b.WriteString("# TCM Content Strategy\n\n")
	b.WriteString("Based on the analysis below, propose a content strategy: suggested\n")
	b.WriteString("topics, a per-channel plan (blog, facebook, instagram), an editorial\n")
	b.WriteString("angle, and a 7-day publishing calendar.\n\n")
	fmt.Fprintf(&b, "## Analysis summary\n\n%s\n\n", summary)
	if mainTheme, ok := input["main_theme"].(string); ok && mainTheme != "" {
		fmt.Fprintf(&b, "Main theme: %s\n", mainTheme)
	}
	if themes, ok := input["themes"].([]string); ok && len(themes) > 0 {
		fmt.Fprintf(&b, "Themes: %s\n", strings.Join(themes, ", "))
	}
	b.WriteString("\n## Response format (JSON only)\n\n")
	b.WriteString(`{"topics": ["..."], "angle": "...", "channel_plan": {"blog": "...", "facebook": "..."}, ` +
		`"calendar": [{"day": 1, "theme": "...", "format": "article", "channel": "blog"}]}`)
	b.WriteString("\n")
	return b.String(), nil
}

func (s *Strategist) parseStrategy(raw string) (*Result, error) {
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

// defaultCalendar builds a simple 7-day rotation over the known
// themes, alternating article and social formats.
func (s *Strategist) defaultCalendar(themes []string) []CalendarSlot {
	if len(themes) == 0 {
		themes = []string{"Traditional Chinese Medicine"}
	}
	formats := []struct {
		format  string
		channel string
	}{
		{"article", "blog"},
		{"social_post", "facebook"},
	}

	slots := make([]CalendarSlot, 0, 7)
	start := s.now()
	for day := 0; day < 7; day++ {
		f := formats[day%len(formats)]
		slots = append(slots, CalendarSlot{
			Day:     day + 1,
			Date:    start.AddDate(0, 0, day).Format("2006-01-02"),
			Theme:   themes[day%len(themes)],
			Format:  f.format,
			Channel: f.channel,
		})
	}
	return slots
}

func parseCalendar(v any) []CalendarSlot {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	slots := make([]CalendarSlot, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		slot := CalendarSlot{
			Day:     i + 1,
			Date:    stringValue(m, "date", ""),
			Theme:   stringValue(m, "theme", ""),
			Format:  stringValue(m, "format", "article"),
			Channel: stringValue(m, "channel", "blog"),
		}
		if day, ok := m["day"].(float64); ok {
			slot.Day = int(day)
		}
		slots = append(slots, slot)
	}
	return slots
}
