// File: internal/engine/report.go

package engine

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/krellwave/pageproof/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RunReport is the machine-readable summary written alongside artifacts.
type RunReport struct {
	GeneratedAt time.Time         `json:"generatedAt"`
	Results     []*Result         `json:"results"`
	Failed      map[string]string `json:"failed,omitempty"`
}

// ReportWriter persists artifacts and the run report under the output
// directory, one subdirectory per captured page.
type ReportWriter struct {
	cfg    config.OutputConfig
	logger *zap.Logger
}

func NewReportWriter(cfg config.OutputConfig, logger *zap.Logger) *ReportWriter {
	return &ReportWriter{cfg: cfg, logger: logger.Named("report")}
}

// WriteResult writes every artifact of one result to disk and returns
// the page's directory.
func (w *ReportWriter) WriteResult(result *Result) (string, error) {
	dir := filepath.Join(w.cfg.Dir, pageDirName(result))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}

	for _, artifact := range result.Artifacts {
		if len(artifact.Data) == 0 {
			continue
		}
		path := filepath.Join(dir, sanitizeName(artifact.Name)+".png")
		if err := os.WriteFile(path, artifact.Data, 0o644); err != nil {
			return dir, fmt.Errorf("failed to write artifact %s: %w", artifact.Name, err)
		}
	}

	w.logger.Info("Artifacts written.",
		zap.String("dir", dir), zap.Int("count", len(result.Artifacts)))
	return dir, nil
}

// WriteReport writes the aggregated run report as JSON and returns its
// path. Honors the write_report toggle.
func (w *ReportWriter) WriteReport(results []*Result, failed map[string]string) (string, error) {
	if !w.cfg.WriteReport {
		return "", nil
	}
	if err := os.MkdirAll(w.cfg.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	report := RunReport{
		GeneratedAt: time.Now(),
		Results:     results,
		Failed:      failed,
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal run report: %w", err)
	}

	path := filepath.Join(w.cfg.Dir, "report.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write run report: %w", err)
	}
	return path, nil
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// pageDirName derives a filesystem-safe directory name from the page's
// final URL, falling back to the requested URL.
func pageDirName(result *Result) string {
	raw := result.FinalURL
	if raw == "" {
		raw = result.RequestedURL
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return sanitizeName(raw)
	}
	name := u.Hostname()
	if p := strings.Trim(u.Path, "/"); p != "" {
		name += "_" + p
	}
	return sanitizeName(name)
}

func sanitizeName(s string) string {
	s = unsafeNameChars.ReplaceAllString(s, "_")
	if len(s) > 120 {
		s = s[:120]
	}
	if s == "" {
		s = "page"
	}
	return s
}
