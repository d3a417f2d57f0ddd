// File: internal/tabs/detector.go

// Package tabs finds tab-like navigation regions on a page so the
// orchestrator can capture each pane. Detection is best effort and
// layered: the external analysis service when available, the selector
// pattern heuristic otherwise.
package tabs

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/krellwave/pageproof/internal/analysis"
	"github.com/krellwave/pageproof/internal/config"
	"github.com/krellwave/pageproof/internal/driver"
)

// Region is one activatable tab. Selector is preferred for activation;
// when it is empty or stale the center coordinates are the fallback.
type Region struct {
	Label    string
	Selector string
	CenterX  float64
	CenterY  float64
	Source   string
}

const (
	sourceHeuristic = "heuristic"
	sourceAnalysis  = "analysis"
)

// Detector locates tab regions on a rendered page.
type Detector struct {
	logger   *zap.Logger
	cfg      config.TabsConfig
	analyzer *analysis.Client
	maxElems int
}

// NewDetector builds a detector. analyzer may be nil; detection then
// runs purely on the heuristic.
func NewDetector(logger *zap.Logger, cfg config.TabsConfig, analyzer *analysis.Client, analysisMaxElements int) *Detector {
	return &Detector{
		logger:   logger.Named("tabs"),
		cfg:      cfg,
		analyzer: analyzer,
		maxElems: analysisMaxElements,
	}
}

// Detect returns the tab regions on the current page, capped at the
// configured maximum. The screenshot is only used when the analysis
// service is in play.
func (d *Detector) Detect(ctx context.Context, page driver.Page, screenshot []byte) ([]Region, error) {
	if d.analyzer != nil && len(screenshot) > 0 {
		regions, err := d.detectViaAnalysis(ctx, page, screenshot)
		if err == nil && len(regions) > 0 {
			return d.cap(regions), nil
		}
		if err != nil && !errors.Is(err, analysis.ErrUnavailable) {
			return nil, err
		}
		d.logger.Debug("Analysis-based tab detection unavailable; falling back to heuristic.",
			zap.Error(err))
	}
	regions, err := d.detectHeuristic(ctx, page)
	if err != nil {
		return nil, err
	}
	return d.cap(regions), nil
}

func (d *Detector) detectViaAnalysis(ctx context.Context, page driver.Page, screenshot []byte) ([]Region, error) {
	html, err := page.HTML(ctx)
	if err != nil {
		return nil, err
	}
	summary, err := analysis.Summarize(html, d.maxElems)
	if err != nil {
		return nil, err
	}
	currentURL, _ := page.CurrentURL(ctx)

	verdict, err := d.analyzer.Analyze(ctx, currentURL, screenshot, summary)
	if err != nil {
		return nil, err
	}

	regions := make([]Region, 0, len(verdict.Regions))
	for _, r := range verdict.Regions {
		regions = append(regions, Region{
			Label:    r.Label,
			Selector: r.Selector,
			CenterX:  float64(r.X) + float64(r.Width)/2,
			CenterY:  float64(r.Y) + float64(r.Height)/2,
			Source:   sourceAnalysis,
		})
	}
	return regions, nil
}

// candidate mirrors the JSON shape the detection script returns.
type candidate struct {
	Text   string  `json:"text"`
	Path   string  `json:"path"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"w"`
	Height float64 `json:"h"`
}

func (d *Detector) detectHeuristic(ctx context.Context, page driver.Page) ([]Region, error) {
	var found []candidate
	if err := page.Evaluate(ctx, candidateScript(d.cfg.SelectorPatterns), &found); err != nil {
		return nil, err
	}

	if len(found) == 0 {
		// Last resort: clusters of small clickables near the top of the
		// viewport that look like a tab strip.
		if err := page.Evaluate(ctx, clickableClusterScript(), &found); err != nil {
			return nil, err
		}
		found = filterClusters(found)
	}

	regions := d.dedupe(found)
	d.logger.Debug("Heuristic tab detection complete.",
		zap.Int("candidates", len(found)), zap.Int("regions", len(regions)))
	return regions, nil
}

// dedupe drops noise-word candidates and collapses candidates that are
// the same control observed through overlapping patterns: identical
// normalized text, or rects within a few pixels of each other.
func (d *Detector) dedupe(found []candidate) []Region {
	regions := make([]Region, 0, len(found))
	for _, c := range found {
		label := strings.Join(strings.Fields(c.Text), " ")
		if label == "" || d.isNoise(label) {
			continue
		}
		if c.Width <= 0 || c.Height <= 0 {
			continue
		}
		cx := c.X + c.Width/2
		cy := c.Y + c.Height/2

		dup := false
		for _, r := range regions {
			if strings.EqualFold(r.Label, label) {
				dup = true
				break
			}
			if math.Abs(r.CenterX-cx) < 4 && math.Abs(r.CenterY-cy) < 4 {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		regions = append(regions, Region{
			Label:    label,
			Selector: c.Path,
			CenterX:  cx,
			CenterY:  cy,
			Source:   sourceHeuristic,
		})
	}
	return regions
}

func (d *Detector) isNoise(label string) bool {
	lowered := strings.ToLower(label)
	for _, word := range d.cfg.NoiseWords {
		if lowered == strings.ToLower(word) {
			return true
		}
	}
	return false
}

func (d *Detector) cap(regions []Region) []Region {
	if d.cfg.MaxRegions > 0 && len(regions) > d.cfg.MaxRegions {
		return regions[:d.cfg.MaxRegions]
	}
	return regions
}

// filterClusters keeps only candidates that sit in a horizontal row with
// at least one sibling: tab strips are rows, lone links are not tabs.
func filterClusters(found []candidate) []candidate {
	if len(found) < 2 {
		return nil
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].Y != found[j].Y {
			return found[i].Y < found[j].Y
		}
		return found[i].X < found[j].X
	})

	kept := make([]candidate, 0, len(found))
	for i, c := range found {
		inRow := false
		for j, other := range found {
			if i == j {
				continue
			}
			if math.Abs(c.Y-other.Y) < 8 {
				inRow = true
				break
			}
		}
		if inRow {
			kept = append(kept, c)
		}
	}
	return kept
}
