package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// saveFileResult writes one file's pipeline output under
// output/content/<stem>/: the full result as JSON plus the article as
// standalone markdown.
func (r *Runner) saveFileResult(sourcePath string, result *FileResult) error {
	stem := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))
	dir := filepath.Join(r.cfg.OutputDir, "content", stem)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create content dir: %w", err)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "result.json"), data, 0o644); err != nil {
		return fmt.Errorf("write result.json: %w", err)
	}

	if result.Article != nil && result.Article.Content != "" {
		if err := os.WriteFile(filepath.Join(dir, "article.md"),
			[]byte(result.Article.Content), 0o644); err != nil {
			return fmt.Errorf("write article.md: %w", err)
		}
	}
	return nil
}

// writeReport writes the daily report as JSON plus a human-readable
// markdown rendering under output/reports/.
func (r *Runner) writeReport(report *Report) error {
	dir := filepath.Join(r.cfg.OutputDir, "reports")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create reports dir: %w", err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	jsonPath := filepath.Join(dir, fmt.Sprintf("report_%s.json", report.Date))
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return fmt.Errorf("write report json: %w", err)
	}

	mdPath := filepath.Join(dir, fmt.Sprintf("report_%s.md", report.Date))
	if err := os.WriteFile(mdPath, []byte(renderReport(report)), 0o644); err != nil {
		return fmt.Errorf("write report markdown: %w", err)
	}
	return nil
}

// renderReport produces the markdown version of a daily report.
func renderReport(report *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Daily Report - %s\n\n", report.Date)
	fmt.Fprintf(&b, "Run: `%s`\n\n", report.RunID)

	b.WriteString("## Statistics\n\n")
	fmt.Fprintf(&b, "- Files processed: %d\n", report.Stats.FilesProcessed)
	fmt.Fprintf(&b, "- Articles generated: %d\n", report.Stats.Articles)
	fmt.Fprintf(&b, "- Social posts: %d\n", report.Stats.Posts)
	fmt.Fprintf(&b, "- Visual briefs: %d\n", report.Stats.Visuals)
	fmt.Fprintf(&b, "- Failures: %d\n", report.Stats.Failures)

	if len(report.Files) > 0 {
		b.WriteString("\n## Files\n\n")
		for _, file := range report.Files {
			fmt.Fprintf(&b, "- %s\n", file)
		}
	}

	if len(report.Errors) > 0 {
		b.WriteString("\n## Errors\n\n")
		for _, runErr := range report.Errors {
			fmt.Fprintf(&b, "- **%s**: %s\n", runErr.File, runErr.Message)
		}
	}

	if report.Stats.FilesProcessed == 0 && report.Stats.Failures == 0 {
		b.WriteString("\nNo source files were found for this run.\n")
	}
	return b.String()
}
