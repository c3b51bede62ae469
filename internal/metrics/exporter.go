package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Exporter periodically dumps the full registry to timestamped JSON files.
type Exporter struct {
	registry *Registry
	dir      string
	interval time.Duration
	logger   *zap.Logger
}

// NewExporter creates an exporter writing to dir every interval. A zero
// interval falls back to 60s.
func NewExporter(registry *Registry, dir string, interval time.Duration, logger *zap.Logger) *Exporter {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Exporter{
		registry: registry,
		dir:      dir,
		interval: interval,
		logger:   logger.With(zap.String("component", "metrics_exporter")),
	}
}

// Run exports on every tick until ctx is cancelled. A final export is
// attempted on shutdown so short runs still leave a dump behind.
func (e *Exporter) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := e.Export(); err != nil {
				e.logger.Warn("final metrics export failed", zap.Error(err))
			}
			return
		case <-ticker.C:
			if err := e.Export(); err != nil {
				e.logger.Warn("metrics export failed", zap.Error(err))
			}
		}
	}
}

type exportPayload struct {
	Timestamp time.Time                 `json:"timestamp"`
	Metrics   map[string]MetricSnapshot `json:"metrics"`
}

// Export writes one snapshot file metrics_YYYYMMDD_HHMMSS.json.
func (e *Exporter) Export() error {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}

	now := time.Now()
	payload := exportPayload{
		Timestamp: now,
		Metrics:   e.registry.Snapshot(),
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}

	path := filepath.Join(e.dir, fmt.Sprintf("metrics_%s.json", now.Format("20060102_150405")))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write metrics file: %w", err)
	}

	e.logger.Debug("metrics exported", zap.String("path", path), zap.Int("metrics", len(payload.Metrics)))
	return nil
}
