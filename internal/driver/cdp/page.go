// File: internal/driver/cdp/page.go
package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	cdpproto "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/krellwave/pageproof/internal/driver"
)

// page implements driver.Page for one tab.
type page struct {
	logger     *zap.Logger
	pageCtx    context.Context
	pageCancel context.CancelFunc
}

// run executes chromedp actions against this tab, honoring cancellation of
// both the tab's master context and the caller's operational context.
func (p *page) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := combineContext(p.pageCtx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// combineContext derives a context from primary (which carries the chromedp
// target values) that is also cancelled when secondary ends.
func combineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(primary)
	if secondary == nil {
		return ctx, cancel
	}
	stop := context.AfterFunc(secondary, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (p *page) Navigate(ctx context.Context, url string) error {
	if err := p.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

func (p *page) Reload(ctx context.Context) error {
	return p.run(ctx, chromedp.Reload())
}

func (p *page) CurrentURL(ctx context.Context) (string, error) {
	var loc string
	if err := p.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

func (p *page) Title(ctx context.Context) (string, error) {
	var title string
	if err := p.run(ctx, chromedp.Title(&title)); err != nil {
		return "", err
	}
	return title, nil
}

// Evaluate runs a JavaScript expression, awaiting promises and returning
// the value by copy. A nil out discards the result.
func (p *page) Evaluate(ctx context.Context, js string, out any) error {
	opts := func(ep *runtime.EvaluateParams) *runtime.EvaluateParams {
		return ep.WithReturnByValue(true).WithAwaitPromise(true).WithSilent(true)
	}
	if out == nil {
		var discard json.RawMessage
		return p.run(ctx, chromedp.Evaluate(js, &discard, opts))
	}
	return p.run(ctx, chromedp.Evaluate(js, out, opts))
}

// WaitVisible blocks until the selector matches a visible element or the
// bound elapses. The bound is the whole contract; a timeout is returned as
// an error for the caller to interpret.
func (p *page) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := p.run(waitCtx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait for %q: %w", selector, err)
	}
	return nil
}

func (p *page) Click(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.Click(selector, chromedp.ByQuery))
}

// ClickAt dispatches a raw mouse click at viewport coordinates. Used as the
// positional fallback when selector resolution fails for a detected region.
func (p *page) ClickAt(ctx context.Context, x, y float64) error {
	return p.run(ctx, chromedp.MouseClickXY(x, y))
}

func (p *page) Hover(ctx context.Context, selector string) error {
	// Move the real pointer over the element's center so CSS :hover and JS
	// mouseover handlers both fire.
	var rect driver.Rect
	js := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return null;
		const r = el.getBoundingClientRect();
		return {x: r.x, y: r.y, width: r.width, height: r.height};
	})()`, jsonEncode(selector))
	if err := p.Evaluate(ctx, js, &rect); err != nil {
		return fmt.Errorf("hover target %q not found: %w", selector, err)
	}
	return p.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		return input.DispatchMouseEvent(input.MouseMoved, rect.X+rect.Width/2, rect.Y+rect.Height/2).Do(c)
	}))
}

func (p *page) Fill(ctx context.Context, selector, value string) error {
	return p.run(ctx,
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

func (p *page) SelectOption(ctx context.Context, selector, value string) error {
	return p.run(ctx, chromedp.SetValue(selector, value, chromedp.ByQuery))
}

func (p *page) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("viewport screenshot failed: %w", err)
	}
	return buf, nil
}

func (p *page) FullScreenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return nil, fmt.Errorf("full-page screenshot failed: %w", err)
	}
	return buf, nil
}

func (p *page) HTML(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

func (p *page) Cookies(ctx context.Context) ([]driver.Cookie, error) {
	var out []driver.Cookie
	err := p.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		cookies, err := storage.GetCookies().Do(c)
		if err != nil {
			return err
		}
		out = make([]driver.Cookie, 0, len(cookies))
		for _, ck := range cookies {
			out = append(out, driver.Cookie{
				Name:     ck.Name,
				Value:    ck.Value,
				Domain:   ck.Domain,
				Path:     ck.Path,
				Expires:  ck.Expires,
				Secure:   ck.Secure,
				HTTPOnly: ck.HTTPOnly,
			})
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	return out, nil
}

func (p *page) SetCookies(ctx context.Context, cookies []driver.Cookie) error {
	return p.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		for _, ck := range cookies {
			param := network.SetCookie(ck.Name, ck.Value).
				WithDomain(ck.Domain).
				WithPath(ck.Path).
				WithSecure(ck.Secure).
				WithHTTPOnly(ck.HTTPOnly)
			if ck.Expires > 0 {
				expires := cdpproto.TimeSinceEpoch(time.Unix(int64(ck.Expires), 0))
				param = param.WithExpires(&expires)
			}
			if err := param.Do(c); err != nil {
				return fmt.Errorf("failed to set cookie %q: %w", ck.Name, err)
			}
		}
		return nil
	}))
}

func (p *page) LocalStorage(ctx context.Context) (map[string]string, error) {
	items := map[string]string{}
	js := `(() => {
		const out = {};
		for (let i = 0; i < localStorage.length; i++) {
			const k = localStorage.key(i);
			out[k] = localStorage.getItem(k);
		}
		return out;
	})()`
	if err := p.Evaluate(ctx, js, &items); err != nil {
		return nil, fmt.Errorf("failed to read localStorage: %w", err)
	}
	return items, nil
}

func (p *page) SetLocalStorage(ctx context.Context, items map[string]string) error {
	if len(items) == 0 {
		return nil
	}
	js := fmt.Sprintf(`(() => {
		const items = %s;
		for (const [k, v] of Object.entries(items)) {
			localStorage.setItem(k, v);
		}
		return true;
	})()`, jsonEncode(items))
	if err := p.Evaluate(ctx, js, nil); err != nil {
		return fmt.Errorf("failed to write localStorage: %w", err)
	}
	return nil
}

// Close tears the tab down. The browsing context that owns the tab's
// session state is closed separately by the pool.
func (p *page) Close(ctx context.Context) error {
	p.pageCancel()
	return nil
}

// jsonEncode safely embeds a Go value into generated JavaScript.
func jsonEncode(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `""`
	}
	return string(b)
}
