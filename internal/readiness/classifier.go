// File: internal/readiness/classifier.go

// Package readiness decides when a page's content can be trusted for
// capture. Classification looks only at structural signals — network-idle
// heuristics are useless on pages that poll or stream — and the resulting
// wait plan is strictly best-effort: every check races a hard ceiling and
// an unsatisfiable check is treated as satisfied rather than failing the
// capture.
package readiness

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/krellwave/pageproof/internal/driver"
)

// Profile classifies a page's content-loading complexity.
type Profile struct {
	DataHeavy   bool `json:"dataHeavy"`
	Interactive bool `json:"interactive"`
	Long        bool `json:"long"`
}

// Thresholds for deriving a profile from raw structural metrics.
const (
	interactiveControlThreshold = 8
	longPageFactor              = 2
)

// Config bounds the wait plan.
type Config struct {
	Ceiling      time.Duration // overall deadline, normal pages
	CeilingHeavy time.Duration // overall deadline, data-heavy pages
	CeilingFast  time.Duration // overall deadline in fast mode
	Settle       time.Duration // fixed post-wait settle delay
	SettleFast   time.Duration
}

// Classifier inspects pages and executes wait plans.
type Classifier struct {
	logger *zap.Logger
	cfg    Config

	pollInterval time.Duration
}

// NewClassifier creates a classifier with the given bounds.
func NewClassifier(logger *zap.Logger, cfg Config) *Classifier {
	return &Classifier{
		logger:       logger.Named("readiness"),
		cfg:          cfg,
		pollInterval: 200 * time.Millisecond,
	}
}

// pageMetrics is what the classification script reports back.
type pageMetrics struct {
	ChartCount     int `json:"chartCount"`
	TableCount     int `json:"tableCount"`
	ControlCount   int `json:"controlCount"`
	DocumentHeight int `json:"documentHeight"`
	ViewportHeight int `json:"viewportHeight"`
}

// Classify derives a readiness profile from the page's structure. It is a
// pure function of the DOM: two calls against an unchanged page yield the
// same profile. Measurement failure yields the zero profile, which maps to
// the minimal wait plan.
func (c *Classifier) Classify(ctx context.Context, page driver.Page) Profile {
	var m pageMetrics
	if err := page.Evaluate(ctx, metricsScript, &m); err != nil {
		c.logger.Debug("Page metrics evaluation failed; assuming simple page.", zap.Error(err))
		return Profile{}
	}

	profile := Profile{
		DataHeavy:   m.ChartCount > 0 || m.TableCount > 0,
		Interactive: m.ControlCount >= interactiveControlThreshold,
		Long:        m.ViewportHeight > 0 && m.DocumentHeight > longPageFactor*m.ViewportHeight,
	}
	c.logger.Debug("Classified page.",
		zap.Bool("data_heavy", profile.DataHeavy),
		zap.Bool("interactive", profile.Interactive),
		zap.Bool("long", profile.Long),
		zap.Int("charts", m.ChartCount),
		zap.Int("tables", m.TableCount),
		zap.Int("controls", m.ControlCount))
	return profile
}

// AwaitReady executes the wait plan for a profile. It never returns an
// error: the ceiling always wins, and whatever readiness was achieved by
// then is what the capture gets.
func (c *Classifier) AwaitReady(ctx context.Context, page driver.Page, profile Profile, fast bool) {
	ceiling := c.cfg.Ceiling
	settle := c.cfg.Settle
	switch {
	case fast:
		ceiling = c.cfg.CeilingFast
		settle = c.cfg.SettleFast
	case profile.DataHeavy:
		ceiling = c.cfg.CeilingHeavy
	}

	waitCtx, cancel := context.WithTimeout(ctx, ceiling)
	defer cancel()

	// The minimal subset always runs: some content exists and nothing says
	// "loading" anymore.
	c.waitFor(waitCtx, page, "basic-content", basicContentScript)
	c.waitFor(waitCtx, page, "no-loading-indicators", noLoadingScript)

	if !fast {
		if profile.DataHeavy {
			c.waitFor(waitCtx, page, "charts-rendered", chartsRenderedScript)
			c.waitFor(waitCtx, page, "tables-populated", tablesPopulatedScript)
		} else if profile.Interactive {
			c.waitFor(waitCtx, page, "controls-ready", controlsReadyScript)
		}
	}

	// A short fixed settle absorbs trailing CSS transitions.
	select {
	case <-ctx.Done():
	case <-time.After(settle):
	}
}

// waitFor polls a boolean predicate until it holds or the shared deadline
// expires. Timing out counts as satisfied.
func (c *Classifier) waitFor(ctx context.Context, page driver.Page, name, js string) {
	for {
		var ok bool
		if err := page.Evaluate(ctx, js, &ok); err == nil && ok {
			return
		}
		select {
		case <-ctx.Done():
			c.logger.Debug("Readiness check timed out; proceeding best-effort.", zap.String("check", name))
			return
		case <-time.After(c.pollInterval):
		}
	}
}
