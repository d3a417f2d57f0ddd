// File: internal/driver/cdp/context.go
package cdp

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/krellwave/pageproof/internal/driver"
)

// browserContextID aliases the protocol type so browser.go can avoid
// importing cdproto/cdp directly.
type browserContextID = cdp.BrowserContextID

// browsingContext is an isolated cookie/storage jar created through the
// Target domain. Pages opened inside it share session state.
type browsingContext struct {
	browser  *Browser
	id       browserContextID
	viewport driver.Viewport
}

// NewPage opens a tab inside this browsing context and applies the
// context's viewport.
func (bc *browsingContext) NewPage(ctx context.Context) (driver.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled before creating page: %w", err)
	}

	var targetID target.ID
	err := chromedp.Run(bc.browser.browserCtx, chromedp.ActionFunc(func(c context.Context) error {
		id, err := target.CreateTarget("about:blank").
			WithBrowserContextID(bc.id).
			Do(c)
		targetID = id
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create target: %w", err)
	}

	pageCtx, pageCancel := chromedp.NewContext(bc.browser.browserCtx, chromedp.WithTargetID(targetID))

	if err := chromedp.Run(pageCtx, chromedp.EmulateViewport(int64(bc.viewport.Width), int64(bc.viewport.Height))); err != nil {
		pageCancel()
		return nil, fmt.Errorf("failed to apply viewport: %w", err)
	}

	return &page{
		logger:     bc.browser.logger.With(zap.String("target_id", string(targetID))),
		pageCtx:    pageCtx,
		pageCancel: pageCancel,
	}, nil
}

// Close disposes of the browsing context and every target inside it.
func (bc *browsingContext) Close(ctx context.Context) error {
	err := chromedp.Run(bc.browser.browserCtx, chromedp.ActionFunc(func(c context.Context) error {
		return target.DisposeBrowserContext(bc.id).Do(c)
	}))
	if err != nil {
		return fmt.Errorf("failed to dispose browser context: %w", err)
	}
	return nil
}
