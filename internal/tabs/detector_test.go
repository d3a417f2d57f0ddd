// File: internal/tabs/detector_test.go
package tabs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/krellwave/pageproof/internal/analysis"
	"github.com/krellwave/pageproof/internal/config"
	"github.com/krellwave/pageproof/internal/driver/drivertest"
)

func testTabsConfig() config.TabsConfig {
	return config.TabsConfig{
		SelectorPatterns: []string{"[role='tab']", ".nav-tabs a"},
		NoiseWords:       []string{"home", "logout"},
		MaxRegions:       5,
	}
}

func newHeuristicDetector() *Detector {
	return NewDetector(zap.NewNop(), testTabsConfig(), nil, 100)
}

func candidateHandler(patternHits, clusterHits []candidate) func(js string, out any) error {
	return func(js string, out any) error {
		if strings.Contains(js, "limitY") {
			return drivertest.SetResult(out, clusterHits)
		}
		if strings.Contains(js, "patterns") {
			return drivertest.SetResult(out, patternHits)
		}
		return nil
	}
}

func TestDetectHeuristicDedupes(t *testing.T) {
	page := drivertest.NewFakePage()
	page.EvalFunc = candidateHandler([]candidate{
		{Text: "Overview", Path: "div.tabs > button:nth-of-type(1)", X: 10, Y: 100, Width: 80, Height: 30},
		// Same control matched through a second pattern, 1px off.
		{Text: "Overview", Path: "button.tab-overview", X: 11, Y: 100, Width: 80, Height: 30},
		{Text: "Billing", Path: "div.tabs > button:nth-of-type(2)", X: 100, Y: 100, Width: 80, Height: 30},
		// Noise word, dropped.
		{Text: "Logout", Path: "a.logout", X: 500, Y: 10, Width: 60, Height: 20},
		// Zero-size, dropped.
		{Text: "Hidden", Path: "button.hidden", X: 0, Y: 0, Width: 0, Height: 0},
	}, nil)

	regions, err := newHeuristicDetector().Detect(context.Background(), page, nil)
	require.NoError(t, err)

	require.Len(t, regions, 2)
	assert.Equal(t, "Overview", regions[0].Label)
	assert.Equal(t, "Billing", regions[1].Label)
	assert.Equal(t, sourceHeuristic, regions[0].Source)
	assert.Equal(t, float64(50), regions[0].CenterX)
	assert.Equal(t, float64(115), regions[0].CenterY)
}

func TestDetectHeuristicCapsRegions(t *testing.T) {
	hits := make([]candidate, 0, 10)
	for i := 0; i < 10; i++ {
		hits = append(hits, candidate{
			Text: "Tab " + string(rune('A'+i)),
			X:    float64(i * 100), Y: 100, Width: 80, Height: 30,
		})
	}
	page := drivertest.NewFakePage()
	page.EvalFunc = candidateHandler(hits, nil)

	regions, err := newHeuristicDetector().Detect(context.Background(), page, nil)
	require.NoError(t, err)
	assert.Len(t, regions, 5)
}

func TestDetectClusterFallback(t *testing.T) {
	// No pattern matches; the clickable-row fallback finds a tab strip
	// plus one lone link that must be rejected.
	page := drivertest.NewFakePage()
	page.EvalFunc = candidateHandler(nil, []candidate{
		{Text: "Reports", Path: "a.r", X: 10, Y: 80, Width: 70, Height: 24},
		{Text: "Settings", Path: "a.s", X: 90, Y: 80, Width: 70, Height: 24},
		{Text: "Help", Path: "a.h", X: 800, Y: 200, Width: 40, Height: 24},
	})

	regions, err := newHeuristicDetector().Detect(context.Background(), page, nil)
	require.NoError(t, err)

	require.Len(t, regions, 2)
	assert.Equal(t, "Reports", regions[0].Label)
	assert.Equal(t, "Settings", regions[1].Label)
}

func TestDetectUsesAnalysisWhenAvailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"analysis": analysis.PageAnalysis{
				Regions: []analysis.Region{
					{Label: "Usage", Selector: "#tab-usage", X: 10, Y: 90, Width: 100, Height: 30},
				},
			},
		})
	}))
	defer server.Close()

	analyzer, err := analysis.NewClient(config.AnalysisConfig{
		Enabled: true, Endpoint: server.URL, APIKey: "k",
		Timeout: 2 * time.Second, RateBurst: 1,
	}, zap.NewNop())
	require.NoError(t, err)

	page := drivertest.NewFakePage()
	page.HTMLData = "<html><body><main><button role='tab'>Usage</button></main></body></html>"

	detector := NewDetector(zap.NewNop(), testTabsConfig(), analyzer, 100)
	regions, err := detector.Detect(context.Background(), page, []byte("png"))
	require.NoError(t, err)

	require.Len(t, regions, 1)
	assert.Equal(t, "Usage", regions[0].Label)
	assert.Equal(t, "#tab-usage", regions[0].Selector)
	assert.Equal(t, sourceAnalysis, regions[0].Source)
	assert.Equal(t, float64(60), regions[0].CenterX)
}

func TestDetectFallsBackWhenAnalysisUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	analyzer, err := analysis.NewClient(config.AnalysisConfig{
		Enabled: true, Endpoint: server.URL, APIKey: "k",
		Timeout: 2 * time.Second, RateBurst: 1,
	}, zap.NewNop())
	require.NoError(t, err)

	page := drivertest.NewFakePage()
	page.HTMLData = "<html><body></body></html>"
	page.EvalFunc = candidateHandler([]candidate{
		{Text: "Overview", Path: "button.t", X: 10, Y: 100, Width: 80, Height: 30},
	}, nil)

	detector := NewDetector(zap.NewNop(), testTabsConfig(), analyzer, 100)
	regions, err := detector.Detect(context.Background(), page, []byte("png"))
	require.NoError(t, err)

	require.Len(t, regions, 1)
	assert.Equal(t, sourceHeuristic, regions[0].Source)
}
