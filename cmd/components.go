// File: cmd/components.go
package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/krellwave/pageproof/internal/analysis"
	"github.com/krellwave/pageproof/internal/auth"
	"github.com/krellwave/pageproof/internal/config"
	"github.com/krellwave/pageproof/internal/driver/cdp"
	"github.com/krellwave/pageproof/internal/engine"
	"github.com/krellwave/pageproof/internal/pool"
	"github.com/krellwave/pageproof/internal/readiness"
	"github.com/krellwave/pageproof/internal/resolve"
	"github.com/krellwave/pageproof/internal/scroll"
	"github.com/krellwave/pageproof/internal/tabs"
)

// captureComponents holds everything a capture run needs, built once per
// invocation and torn down together.
type captureComponents struct {
	Pool         *pool.Manager
	Orchestrator *engine.Orchestrator
	Writer       *engine.ReportWriter
	logger       *zap.Logger
	sweepCancel  context.CancelFunc
}

func initializeCaptureComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*captureComponents, error) {
	launcher := cdp.NewLauncher(cfg.Browser, logger)
	poolMgr := pool.NewManager(cfg.Pool, launcher, logger)

	sweepCtx, sweepCancel := context.WithCancel(ctx)
	poolMgr.StartSweeper(sweepCtx)

	resolver := resolve.NewResolver(logger, cfg.Capture.ResolveWait, cfg.Capture.FallbackWait)
	classifier := readiness.NewClassifier(logger, readiness.Config{
		Ceiling:      cfg.Capture.ReadyCeiling,
		CeilingHeavy: cfg.Capture.ReadyCeilingHeavy,
		CeilingFast:  cfg.Capture.ReadyCeilingFast,
		Settle:       cfg.Capture.SettleDelay,
		SettleFast:   cfg.Capture.SettleDelayFast,
	})
	authController := auth.NewController(logger, cfg.Auth, resolver, classifier, poolMgr)

	analyzer, err := analysis.NewClient(cfg.Analysis, logger)
	if err != nil {
		sweepCancel()
		return nil, fmt.Errorf("failed to initialize analysis client: %w", err)
	}
	tabDetector := tabs.NewDetector(logger, cfg.Tabs, analyzer, cfg.Analysis.MaxElements)
	planner := scroll.NewPlanner(logger, cfg.Capture.ScrollStep, cfg.Capture.MaxFrames, cfg.Capture.ContainerMinHeight)

	orchestrator := engine.NewOrchestrator(
		cfg.Capture, logger, poolMgr, resolver, classifier, authController, tabDetector, planner)
	writer := engine.NewReportWriter(cfg.Output, logger)

	return &captureComponents{
		Pool:         poolMgr,
		Orchestrator: orchestrator,
		Writer:       writer,
		logger:       logger,
		sweepCancel:  sweepCancel,
	}, nil
}

func (c *captureComponents) Shutdown(ctx context.Context) {
	c.sweepCancel()
	if err := c.Pool.Close(ctx); err != nil {
		c.logger.Warn("Pool shutdown reported errors.", zap.Error(err))
	}
}
