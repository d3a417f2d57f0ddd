// File: internal/engine/report_test.go
package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/krellwave/pageproof/internal/config"
)

func TestWriteResultPersistsArtifacts(t *testing.T) {
	outDir := t.TempDir()
	writer := NewReportWriter(config.OutputConfig{Dir: outDir}, zap.NewNop())

	result := &Result{
		RequestedURL: "https://example.test/reports",
		FinalURL:     "https://example.test/reports/q3",
		Artifacts: []Artifact{
			{Name: "top", Kind: KindTop, Data: []byte("png-top")},
			{Name: "scroll_1", Kind: KindScroll, Data: []byte("png-scroll")},
			{Name: "error_navigation", Kind: KindError},
		},
	}

	dir, err := writer.WriteResult(result)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outDir, "example.test_reports_q3"), dir)

	data, err := os.ReadFile(filepath.Join(dir, "top.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("png-top"), data)

	_, err = os.Stat(filepath.Join(dir, "scroll_1.png"))
	require.NoError(t, err)

	// Dataless artifacts produce no file.
	_, err = os.Stat(filepath.Join(dir, "error_navigation.png"))
	assert.True(t, os.IsNotExist(err))
}

func TestWriteResultFallsBackToRequestedURL(t *testing.T) {
	writer := NewReportWriter(config.OutputConfig{Dir: t.TempDir()}, zap.NewNop())

	dir, err := writer.WriteResult(&Result{RequestedURL: "https://example.test/"})
	require.NoError(t, err)
	assert.Equal(t, "example.test", filepath.Base(dir))
}

func TestWriteReport(t *testing.T) {
	outDir := t.TempDir()
	writer := NewReportWriter(config.OutputConfig{Dir: outDir, WriteReport: true}, zap.NewNop())

	results := []*Result{{
		RequestedURL: "https://example.test/",
		FinalURL:     "https://example.test/",
		AuthStatus:   "authenticated",
		StartedAt:    time.Now(),
		FinishedAt:   time.Now(),
	}}
	failed := map[string]string{"https://example.test/broken": "navigation failed"}

	path, err := writer.WriteReport(results, failed)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outDir, "report.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var report RunReport
	require.NoError(t, json.Unmarshal(data, &report))
	require.Len(t, report.Results, 1)
	assert.Equal(t, "https://example.test/", report.Results[0].RequestedURL)
	assert.Equal(t, "navigation failed", report.Failed["https://example.test/broken"])
}

func TestWriteReportDisabled(t *testing.T) {
	outDir := t.TempDir()
	writer := NewReportWriter(config.OutputConfig{Dir: outDir, WriteReport: false}, zap.NewNop())

	path, err := writer.WriteReport(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, path)

	_, err = os.Stat(filepath.Join(outDir, "report.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestPageDirName(t *testing.T) {
	cases := []struct {
		name   string
		result *Result
		want   string
	}{
		{"host only", &Result{FinalURL: "https://example.test/"}, "example.test"},
		{"host and path", &Result{FinalURL: "https://example.test/a/b"}, "example.test_a_b"},
		{"query ignored", &Result{FinalURL: "https://example.test/a?x=1"}, "example.test_a"},
		{"unparseable", &Result{FinalURL: "not a url"}, "not_a_url"},
		{"empty", &Result{}, "page"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, pageDirName(tc.result))
		})
	}
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "tab_1_Q3_Report", sanitizeName("tab_1 Q3/Report"))
	assert.Equal(t, "page", sanitizeName(""))

	long := sanitizeName(string(make([]byte, 200)))
	assert.Len(t, long, 120)
}
