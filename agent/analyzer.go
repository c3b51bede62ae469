package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/tcmflow/internal/cache"
	"github.com/BaSui01/tcmflow/internal/metrics"
	"github.com/BaSui01/tcmflow/llm"
)

// maxAnalyzerInput bounds the document excerpt sent to the model so a
// large source cannot blow the context window.
const maxAnalyzerInput = 10000

// Analysis is the structured outcome of a document analysis.
type Analysis struct {
	Summary     string         `json:"summary"`
	KeyConcepts []string       `json:"key_concepts"`
	Themes      []string       `json:"themes"`
	Metadata    map[string]any `json:"metadata"`
	Degraded    bool           `json:"degraded,omitempty"`
}

// Analyzer digests source documents about TCM topics into a summary,
// key concepts, and themes.
type Analyzer struct {
	*Base
}

// NewAnalyzer creates the document analyzer agent.
func NewAnalyzer(cfg Config, invoker Invoker, store *cache.Store, registry *metrics.Registry, logger *zap.Logger) *Analyzer {
	if cfg.Name == "" {
		cfg.Name = "analyzer"
	}
	a := &Analyzer{}
	a.Base = New(cfg, invoker, store, registry, logger, a.prompt, a.parseAnalysis)
	return a
}

// AnalyzeFile reads a source document and runs the analysis over it.
// PDFs must have a pre-extracted .txt or .md sibling with the same
// stem; there is no PDF text extraction here.
func (a *Analyzer) AnalyzeFile(ctx context.Context, path string) (*Analysis, error) {
	content, err := ReadSource(path)
	if err != nil {
		return nil, llm.NewAPIError(llm.ErrInvalidInput,
			fmt.Sprintf("read source %s", filepath.Base(path))).WithCause(err)
	}
	return a.Analyze(ctx, content, filepath.Base(path))
}

// Analyze runs the analysis over already-loaded document text.
func (a *Analyzer) Analyze(ctx context.Context, content, filename string) (*Analysis, error) {
	if strings.TrimSpace(content) == "" {
		return nil, llm.NewAPIError(llm.ErrInvalidInput, "source document is empty")
	}

	result, err := a.Process(ctx, map[string]any{
		"content":  truncate(content, maxAnalyzerInput),
		"filename": filename,
	})
	if err != nil {
		return nil, err
	}

	analysis := &Analysis{
		Summary:     stringValue(result.Data, "summary", ""),
		KeyConcepts: stringSlice(result.Data["key_concepts"]),
		Themes:      stringSlice(result.Data["themes"]),
		Degraded:    result.Status == StatusDegraded,
		Metadata: map[string]any{
			"filename":       filename,
			"chars_analyzed": len(content),
		},
	}
	if analysis.Summary == "" {
		analysis.Summary = truncate(result.Raw, 1000)
	}
	return analysis, nil
}

func (a *Analyzer) prompt(input map[string]any) (string, error) {
	content, _ := input["content"].(string)
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("missing document content")
	}
	filename, _ := input["filename"].(string)

	var b strings.Builder
	b.WriteString("# TCM Document Analysis\n\n")
	fmt.Fprintf(&b, "Source file: %s\n\n", filename)
	b.WriteString("Analyze the following excerpt from a Traditional Chinese Medicine document.\n")
	b.WriteString("Identify the fundamental theories (Qi, Yin/Yang, Five Elements), meridians\n")
	b.WriteString("and acupuncture points, diagnostic methods, herbal formulas, and dietary or\n")
	b.WriteString("preventive principles it covers. Do not invent information; if the excerpt\n")
	b.WriteString("is incomplete, say so in the summary.\n\n")
	b.WriteString("## Source text\n\n")
	b.WriteString(content)
	b.WriteString("\n\n## Response format (JSON only)\n\n")
	b.WriteString(`{"summary": "3-5 sentence summary", "key_concepts": ["..."], "themes": ["..."]}`)
	b.WriteString("\n")
	return b.String(), nil
}

func (a *Analyzer) parseAnalysis(raw string) (*Result, error) {
	data, err := extractJSON(raw)
	if err != nil {
		// Unstructured output still carries useful text; keep it as
		// the summary and flag the result.
		return &Result{
			Status: StatusDegraded,
			Data:   map[string]any{"summary": truncate(raw, 1000)},
			Raw:    raw,
			Reason: "response was not valid JSON",
		}, nil
	}
	return &Result{Status: StatusOK, Data: data, Raw: raw}, nil
}

// ReadSource loads document text from a .txt or .md file. For a .pdf
// path it looks for a pre-extracted sibling with the same stem.
func ReadSource(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".txt", ".md":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(data), nil
	case ".pdf":
		stem := strings.TrimSuffix(path, filepath.Ext(path))
		for _, sibling := range []string{stem + ".txt", stem + ".md"} {
			if data, err := os.ReadFile(sibling); err == nil {
				return string(data), nil
			}
		}
		return "", fmt.Errorf("%s: PDF sources need a pre-extracted .txt or .md sibling", path)
	default:
		return "", fmt.Errorf("%s: unsupported source type %q", path, ext)
	}
}
