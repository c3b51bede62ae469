package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/tcmflow/internal/cache"
	"github.com/BaSui01/tcmflow/internal/metrics"
)

var (
	visualTypes = map[string]bool{
		"infographic": true, "diagram": true, "illustration": true,
		"chart": true, "quote_card": true, "carousel": true, "photo": true,
	}
	visualStyles = map[string]bool{
		"minimalist": true, "traditional_chinese": true, "modern": true,
		"watercolor": true, "line_art": true, "realistic": true, "flat_design": true,
	}
)

// VisualBrief is a ready-to-use image generation prompt with its
// publication metadata.
type VisualBrief struct {
	Type     string   `json:"type"`
	Style    string   `json:"style"`
	Theme    string   `json:"theme"`
	Prompt   string   `json:"prompt"`
	AltText  string   `json:"alt_text"`
	Caption  string   `json:"caption"`
	Elements []string `json:"elements,omitempty"`
	Degraded bool     `json:"degraded,omitempty"`
}

// VisualCreator builds image-generation prompts for TCM visuals. The
// base prompt is template-driven; the model call refines it and adds
// alt text and a caption.
type VisualCreator struct {
	*Base
}

// NewVisualCreator creates the visual prompt agent.
func NewVisualCreator(cfg Config, invoker Invoker, store *cache.Store, registry *metrics.Registry, logger *zap.Logger) *VisualCreator {
	if cfg.Name == "" {
		cfg.Name = "visual_creator"
	}
	vc := &VisualCreator{}
	vc.Base = New(cfg, invoker, store, registry, logger, vc.prompt, vc.parseBrief)
	return vc
}

// CreateBrief produces a refined image prompt for the theme. Unknown
// types and styles fall back to infographic/modern rather than
// failing.
func (vc *VisualCreator) CreateBrief(ctx context.Context, visualType, theme, style string, elements []string) (*VisualBrief, error) {
	if strings.TrimSpace(theme) == "" {
		return nil, fmt.Errorf("theme is empty")
	}
	if !visualTypes[visualType] {
		vc.logger.Debug("unknown visual type, using infographic", zap.String("type", visualType))
		visualType = "infographic"
	}
	if !visualStyles[style] {
		style = "modern"
	}

	result, err := vc.Process(ctx, map[string]any{
		"visual_type": visualType,
		"theme":       theme,
		"style":       style,
		"elements":    elements,
	})
	if err != nil {
		return nil, err
	}

	brief := &VisualBrief{
		Type:     visualType,
		Style:    style,
		Theme:    theme,
		Elements: elements,
		Prompt:   stringValue(result.Data, "prompt", ""),
		AltText:  stringValue(result.Data, "alt_text", fmt.Sprintf("%s about %s", visualType, theme)),
		Caption:  stringValue(result.Data, "caption", theme),
		Degraded: result.Status == StatusDegraded,
	}
	if brief.Prompt == "" {
		brief.Prompt = vc.templatePrompt(visualType, theme, style, elements)
		brief.Degraded = true
	}
	return brief, nil
}

func (vc *VisualCreator) prompt(input map[string]any) (string, error) {
	theme, _ := input["theme"].(string)
	if strings.TrimSpace(theme) == "" {
		return "", fmt.Errorf("missing theme")
	}
	visualType, _ := input["visual_type"].(string)
	style, _ := input["style"].(string)
	elements, _ := input["elements"].([]string)

	var b strings.Builder
	b.WriteString("# TCM Visual Prompt\n\n")
	b.WriteString("Refine the draft below into a precise image-generation prompt, and\n")
	b.WriteString("write an accessibility alt text plus a short publication caption.\n\n")
	b.WriteString("## Draft\n\n")
	b.WriteString(vc.templatePrompt(visualType, theme, style, elements))
	b.WriteString("\n\n## Response format (JSON only)\n\n")
	b.WriteString(`{"prompt": "...", "alt_text": "...", "caption": "..."}`)
	b.WriteString("\n")
	return b.String(), nil
}

func (vc *VisualCreator) parseBrief(raw string) (*Result, error) {
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

func (vc *VisualCreator) templatePrompt(visualType, theme, style string, elements []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A %s about %q in a %s style, suitable for a health and wellness\n",
		visualType, theme, strings.ReplaceAll(style, "_", " "))
	b.WriteString("publication about Traditional Chinese Medicine.")
	if len(elements) > 0 {
		fmt.Fprintf(&b, " Include: %s.", strings.Join(elements, ", "))
	}
	b.WriteString(" No text overlays, no medical imagery that implies treatment claims.")
	return b.String()
}
