// File: internal/driver/cdp/browser.go

// Package cdp implements the driver interfaces on top of chromedp. One
// Browser wraps one Chrome process; isolated browsing contexts are created
// through the Target domain so that concurrent capture requests never share
// a cookie jar unless they ask to.
package cdp

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/krellwave/pageproof/internal/config"
	"github.com/krellwave/pageproof/internal/driver"
)

const probeTimeout = 5 * time.Second

// Launcher implements driver.Factory by starting Chrome processes with the
// configured allocator options.
type Launcher struct {
	cfg    config.BrowserConfig
	logger *zap.Logger
}

// NewLauncher returns a factory for CDP-backed browsers.
func NewLauncher(cfg config.BrowserConfig, logger *zap.Logger) *Launcher {
	return &Launcher{cfg: cfg, logger: logger.Named("cdp")}
}

// NewBrowser launches a browser process and verifies it is responsive.
func (l *Launcher) NewBrowser(ctx context.Context) (driver.Browser, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, l.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Run a trivial task to confirm the process started and responds.
	startCtx, cancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer cancel()
	if err := chromedp.Run(startCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("browser failed to start or respond: %w", err)
	}

	l.logger.Info("Browser launched and responsive.")
	return &Browser{
		logger:        l.logger,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

// allocatorOptions assembles the flags for a headless, automation-quiet
// browser process, layering configured args on top of the defaults.
func (l *Launcher) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	// Flags are keyed by name, so a later false overrides the default and
	// suppresses the automation banner.
	opts = append(opts,
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("headless", l.cfg.Headless),
		chromedp.Flag("ignore-certificate-errors", l.cfg.IgnoreTLSErrors),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", l.cfg.Headless),
		chromedp.Flag("hide-scrollbars", true),
	)
	if l.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(l.cfg.UserAgent))
	}

	for _, arg := range l.cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		flagName := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(flagName, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(flagName, true))
		}
	}

	// Flags required for running inside containers.
	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}
	return opts
}

// Browser wraps one Chrome process and the chromedp context used to issue
// browser-level (as opposed to tab-level) commands.
type Browser struct {
	logger        *zap.Logger
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewContext creates an isolated browsing context with its own cookie and
// storage jar.
func (b *Browser) NewContext(ctx context.Context, vp driver.Viewport) (driver.BrowsingContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled before creating browsing context: %w", err)
	}

	var contextID browserContextID
	err := chromedp.Run(b.browserCtx, chromedp.ActionFunc(func(c context.Context) error {
		id, err := target.CreateBrowserContext().Do(c)
		contextID = browserContextID(id)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	return &browsingContext{browser: b, id: contextID, viewport: vp}, nil
}

// Probe verifies the browser process still answers protocol commands.
func (b *Browser) Probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(b.browserCtx, probeTimeout)
	defer cancel()

	err := chromedp.Run(probeCtx, chromedp.ActionFunc(func(c context.Context) error {
		_, err := target.GetTargets().Do(c)
		return err
	}))
	if err != nil {
		return fmt.Errorf("browser probe failed: %w", err)
	}
	return nil
}

// Close terminates the browser process.
func (b *Browser) Close(ctx context.Context) error {
	b.browserCancel()
	b.allocCancel()

	select {
	case <-b.browserCtx.Done():
	case <-ctx.Done():
		b.logger.Warn("Timed out waiting for browser process to terminate.", zap.Error(ctx.Err()))
		return ctx.Err()
	}
	return nil
}
