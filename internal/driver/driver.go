// File: internal/driver/driver.go

// Package driver defines the narrow browser capability set the capture
// engine depends on. The concrete implementation lives in driver/cdp; every
// core component is written against these interfaces so it can be exercised
// with scripted fakes in tests.
package driver

import (
	"context"
	"fmt"
	"time"
)

// Viewport is the pixel dimensions of a browsing context.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Key returns the canonical "WxH" form used for pool keying.
func (v Viewport) Key() string {
	return fmt.Sprintf("%dx%d", v.Width, v.Height)
}

// Cookie mirrors the subset of browser cookie attributes the session cache
// needs to round-trip an authenticated session.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
}

// Rect is an element's position and size in CSS pixels, viewport-relative.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Factory launches browser processes. The pool owns the returned Browsers.
type Factory interface {
	NewBrowser(ctx context.Context) (Browser, error)
}

// Browser is one running browser process.
type Browser interface {
	// NewContext creates an isolated browsing context (its own cookie and
	// storage jar) with the given viewport.
	NewContext(ctx context.Context, vp Viewport) (BrowsingContext, error)
	// Probe verifies the process is still alive and responsive.
	Probe(ctx context.Context) error
	Close(ctx context.Context) error
}

// BrowsingContext is an isolated cookie/storage jar plus a fixed viewport.
// Pages created inside it share session state with each other but with
// nothing outside it.
type BrowsingContext interface {
	NewPage(ctx context.Context) (Page, error)
	Close(ctx context.Context) error
}

// Page is one browser tab. All blocking operations honor ctx cancellation.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	CurrentURL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)

	// Evaluate runs a JavaScript expression and unmarshals the result into
	// out. A nil out discards the result.
	Evaluate(ctx context.Context, js string, out any) error

	// WaitVisible blocks until the selector matches a visible element or the
	// timeout elapses.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error

	Click(ctx context.Context, selector string) error
	ClickAt(ctx context.Context, x, y float64) error
	Hover(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	SelectOption(ctx context.Context, selector, value string) error

	// Screenshot captures the current viewport; FullScreenshot composites
	// the entire document from the top.
	Screenshot(ctx context.Context) ([]byte, error)
	FullScreenshot(ctx context.Context) ([]byte, error)

	HTML(ctx context.Context) (string, error)

	Cookies(ctx context.Context) ([]Cookie, error)
	SetCookies(ctx context.Context, cookies []Cookie) error
	LocalStorage(ctx context.Context) (map[string]string, error)
	SetLocalStorage(ctx context.Context, items map[string]string) error

	Close(ctx context.Context) error
}
