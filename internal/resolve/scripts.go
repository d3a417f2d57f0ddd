// File: internal/resolve/scripts.go
package resolve

import (
	"encoding/json"
	"fmt"
)

// finderScript wraps a strategy body in the shared prelude. The body must
// leave its result in `el`; the wrapper tags the element with the cascade's
// token and returns its geometry, or null when nothing matched.
func finderScript(body, token string) string {
	return fmt.Sprintf(`(() => {
	const __q = (sel) => { try { return Array.from(document.querySelectorAll(sel)); } catch (e) { return []; } };
	const __vis = (el) => {
		if (!el) return false;
		const r = el.getBoundingClientRect();
		const s = window.getComputedStyle(el);
		return r.width > 0 && r.height > 0 && s.display !== 'none' && s.visibility !== 'hidden' && s.opacity !== '0';
	};
	const __enabled = (el) => !el.disabled && el.getAttribute('aria-disabled') !== 'true';
	const __pick = (els) => { for (const el of els) { if (__vis(el) && __enabled(el)) return el; } return null; };
	let el = null;
	%s
	if (!el || !__vis(el)) return null;
	el.setAttribute('data-ppq', %s);
	const r = el.getBoundingClientRect();
	return {x: r.x, y: r.y, width: r.width, height: r.height};
})()`, body, jsStr(token))
}

func jsStr(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}

func directBody(selector string) string {
	return fmt.Sprintf(`el = __pick(__q(%s));`, jsStr(selector))
}

// roleNameBody matches clickable elements by accessible name.
func roleNameBody(hint string) string {
	return fmt.Sprintf(`{
	const h = %s.trim().toLowerCase();
	const name = (c) => ((c.getAttribute('aria-label') || c.textContent || '').trim().toLowerCase());
	const cands = __q("button, a, [role='button'], [role='tab'], [role='link'], [role='menuitem'], input[type='submit'], input[type='button']");
	el = __pick(cands.filter((c) => name(c) === h)) || __pick(cands.filter((c) => name(c).includes(h)));
}`, jsStr(hint))
}

// textBody matches any visible element containing the hint text, preferring
// the smallest (most specific) match.
func textBody(hint string) string {
	return fmt.Sprintf(`{
	const h = %s.trim().toLowerCase();
	let best = null, bestArea = Infinity;
	for (const c of document.querySelectorAll('body *')) {
		const t = (c.textContent || '').trim().toLowerCase();
		if (!t || !t.includes(h)) continue;
		if (!__vis(c) || !__enabled(c)) continue;
		const r = c.getBoundingClientRect();
		const area = r.width * r.height;
		if (area < bestArea) { best = c; bestArea = area; }
	}
	el = best;
}`, jsStr(hint))
}

// labelBody resolves form controls through their <label>.
func labelBody(hint string) string {
	return fmt.Sprintf(`{
	const h = %s.trim().toLowerCase();
	for (const lab of document.querySelectorAll('label')) {
		const t = (lab.textContent || '').trim().toLowerCase();
		if (!t.includes(h)) continue;
		let ctl = null;
		const forID = lab.getAttribute('for');
		if (forID) ctl = document.getElementById(forID);
		if (!ctl) ctl = lab.querySelector('input, textarea, select');
		if (ctl && __vis(ctl) && __enabled(ctl)) { el = ctl; break; }
	}
}`, jsStr(hint))
}

func placeholderBody(hint string) string {
	return fmt.Sprintf(`{
	const h = %s.trim().toLowerCase();
	el = __pick(__q('input[placeholder], textarea[placeholder]').filter(
		(c) => (c.getAttribute('placeholder') || '').toLowerCase().includes(h)));
}`, jsStr(hint))
}

// shapeBody is the last-resort semantic fallback: the first visible element
// of the shape the action needs.
func shapeBody(action Action) string {
	var sel string
	switch action {
	case ActionClick:
		sel = "button, input[type='submit'], input[type='button'], [role='button']"
	case ActionFill:
		sel = "input:not([type]), input[type='text'], input[type='email'], input[type='password'], input[type='search'], textarea"
	case ActionSelect:
		sel = "select"
	case ActionHover:
		sel = "a[href]"
	default:
		return ""
	}
	return fmt.Sprintf(`el = __pick(__q(%s));`, jsStr(sel))
}

// testIDBody does a substring match against common automation-id attribute
// families.
func testIDBody(needle string) string {
	return fmt.Sprintf(`{
	const n = %s.trim().toLowerCase();
	const attrs = ['data-testid', 'data-test', 'data-test-id', 'data-cy', 'data-qa', 'data-automation-id'];
	outer:
	for (const a of attrs) {
		for (const c of __q('[' + a + ']')) {
			if ((c.getAttribute(a) || '').toLowerCase().includes(n) && __vis(c) && __enabled(c)) { el = c; break outer; }
		}
	}
}`, jsStr(needle))
}

func ariaBody(needle string) string {
	return fmt.Sprintf(`{
	const n = %s.trim().toLowerCase();
	const cands = __q('[aria-label], [title]');
	el = __pick(cands.filter((c) =>
		(c.getAttribute('aria-label') || '').toLowerCase().includes(n) ||
		(c.getAttribute('title') || '').toLowerCase().includes(n)));
}`, jsStr(needle))
}
