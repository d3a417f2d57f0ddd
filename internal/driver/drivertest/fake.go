// File: internal/driver/drivertest/fake.go

// Package drivertest provides in-memory driver implementations for unit
// tests. The fake page routes every Evaluate call through a single
// script handler so tests can stage DOM behavior without a browser.
package drivertest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/krellwave/pageproof/internal/driver"
)

// FakePage implements driver.Page in memory.
type FakePage struct {
	mu sync.Mutex

	URL       string
	PageTitle string
	HTMLData  string

	// EvalFunc handles every Evaluate call. A nil EvalFunc leaves out
	// untouched (a *driver.Rect stays nil, booleans stay false).
	EvalFunc func(js string, out any) error

	NavigateErr   error
	ScreenshotErr error
	ClickErr      error

	ScreenshotData []byte
	FullPageData   []byte

	CookieJar []driver.Cookie
	Storage   map[string]string

	Navigations []string
	Reloads     int
	Evaluated   []string
	Clicks      []string
	ClickAts    [][2]float64
	Hovers      []string
	Fills       map[string]string
	Selections  map[string]string
	Closed      bool
}

var _ driver.Page = (*FakePage)(nil)

func NewFakePage() *FakePage {
	return &FakePage{
		URL:            "https://example.test/",
		ScreenshotData: []byte("png"),
		FullPageData:   []byte("png-full"),
		Storage:        make(map[string]string),
		Fills:          make(map[string]string),
		Selections:     make(map[string]string),
	}
}

func (p *FakePage) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Navigations = append(p.Navigations, url)
	if p.NavigateErr != nil {
		return p.NavigateErr
	}
	p.URL = url
	return nil
}

func (p *FakePage) Reload(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Reloads++
	return nil
}

func (p *FakePage) CurrentURL(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.URL, nil
}

func (p *FakePage) Title(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.PageTitle, nil
}

func (p *FakePage) Evaluate(_ context.Context, js string, out any) error {
	p.mu.Lock()
	p.Evaluated = append(p.Evaluated, js)
	fn := p.EvalFunc
	p.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(js, out)
}

func (p *FakePage) WaitVisible(_ context.Context, _ string, _ time.Duration) error {
	return nil
}

func (p *FakePage) Click(_ context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Clicks = append(p.Clicks, selector)
	return p.ClickErr
}

func (p *FakePage) ClickAt(_ context.Context, x, y float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ClickAts = append(p.ClickAts, [2]float64{x, y})
	return nil
}

func (p *FakePage) Hover(_ context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Hovers = append(p.Hovers, selector)
	return nil
}

func (p *FakePage) Fill(_ context.Context, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Fills[selector] = value
	return nil
}

func (p *FakePage) SelectOption(_ context.Context, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Selections[selector] = value
	return nil
}

func (p *FakePage) Screenshot(_ context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ScreenshotErr != nil {
		return nil, p.ScreenshotErr
	}
	return p.ScreenshotData, nil
}

func (p *FakePage) FullScreenshot(_ context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.FullPageData, nil
}

func (p *FakePage) HTML(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.HTMLData, nil
}

func (p *FakePage) Cookies(_ context.Context) ([]driver.Cookie, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]driver.Cookie(nil), p.CookieJar...), nil
}

func (p *FakePage) SetCookies(_ context.Context, cookies []driver.Cookie) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CookieJar = append(p.CookieJar, cookies...)
	return nil
}

func (p *FakePage) LocalStorage(_ context.Context) (map[string]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string, len(p.Storage))
	for k, v := range p.Storage {
		out[k] = v
	}
	return out, nil
}

func (p *FakePage) SetLocalStorage(_ context.Context, items map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, v := range items {
		p.Storage[k] = v
	}
	return nil
}

func (p *FakePage) Close(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return nil
}

// SetResult marshals v into an Evaluate out parameter the way the real
// driver does, via JSON.
func SetResult(out, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// FakeBrowser implements driver.Browser.
type FakeBrowser struct {
	mu       sync.Mutex
	ID       int
	ProbeErr error
	Closed   bool
	Contexts []*FakeContext

	// NewPageFunc, when set, supplies pages for contexts created by this
	// browser. Defaults to NewFakePage.
	NewPageFunc func() *FakePage
}

var _ driver.Browser = (*FakeBrowser)(nil)

func (b *FakeBrowser) NewContext(_ context.Context, vp driver.Viewport) (driver.BrowsingContext, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Closed {
		return nil, fmt.Errorf("browser %d is closed", b.ID)
	}
	bc := &FakeContext{Viewport: vp, newPage: b.NewPageFunc}
	b.Contexts = append(b.Contexts, bc)
	return bc, nil
}

func (b *FakeBrowser) Probe(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Closed {
		return fmt.Errorf("browser %d is closed", b.ID)
	}
	return b.ProbeErr
}

func (b *FakeBrowser) Close(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Closed = true
	return nil
}

// FakeContext implements driver.BrowsingContext.
type FakeContext struct {
	mu       sync.Mutex
	Viewport driver.Viewport
	Closed   bool
	Pages    []*FakePage
	newPage  func() *FakePage
}

var _ driver.BrowsingContext = (*FakeContext)(nil)

func (c *FakeContext) NewPage(_ context.Context) (driver.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Closed {
		return nil, fmt.Errorf("context is closed")
	}
	page := NewFakePage()
	if c.newPage != nil {
		page = c.newPage()
	}
	c.Pages = append(c.Pages, page)
	return page, nil
}

func (c *FakeContext) Close(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Closed = true
	return nil
}

// FakeFactory implements driver.Factory, numbering the browsers it
// creates.
type FakeFactory struct {
	mu            sync.Mutex
	Browsers      []*FakeBrowser
	NewBrowserErr error
	NewPageFunc   func() *FakePage
}

var _ driver.Factory = (*FakeFactory)(nil)

func (f *FakeFactory) NewBrowser(_ context.Context) (driver.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NewBrowserErr != nil {
		return nil, f.NewBrowserErr
	}
	b := &FakeBrowser{ID: len(f.Browsers), NewPageFunc: f.NewPageFunc}
	f.Browsers = append(f.Browsers, b)
	return b, nil
}

// Created returns how many browsers the factory has made.
func (f *FakeFactory) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Browsers)
}
