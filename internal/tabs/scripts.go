// File: internal/tabs/scripts.go

package tabs

import (
	"encoding/json"
	"fmt"
)

// candidateScript collects every visible element matched by the
// configured tab selector patterns, with its text, geometry, and a
// stable-enough CSS path for later activation.
func candidateScript(patterns []string) string {
	return fmt.Sprintf(`
(() => {
  const patterns = %s;
  const seen = new Set();
  const out = [];

  const cssPath = (el) => {
    const parts = [];
    let node = el;
    for (let depth = 0; node && node.nodeType === 1 && depth < 5; depth++) {
      if (node.id) {
        parts.unshift('#' + CSS.escape(node.id));
        break;
      }
      let part = node.tagName.toLowerCase();
      const cls = Array.from(node.classList).find(c => c.length > 0);
      if (cls) {
        part += '.' + CSS.escape(cls);
      } else {
        let idx = 1, sib = node;
        while ((sib = sib.previousElementSibling)) {
          if (sib.tagName === node.tagName) idx++;
        }
        part += ':nth-of-type(' + idx + ')';
      }
      parts.unshift(part);
      node = node.parentElement;
    }
    return parts.join(' > ');
  };

  for (const pattern of patterns) {
    let matches;
    try { matches = document.querySelectorAll(pattern); } catch (e) { continue; }
    for (const el of matches) {
      if (seen.has(el)) continue;
      seen.add(el);
      const r = el.getBoundingClientRect();
      const s = window.getComputedStyle(el);
      if (r.width <= 0 || r.height <= 0) continue;
      if (s.visibility === 'hidden' || s.display === 'none') continue;
      out.push({
        text: (el.textContent || el.getAttribute('aria-label') || '').trim(),
        path: cssPath(el),
        x: r.x, y: r.y, w: r.width, h: r.height,
      });
    }
  }
  return out;
})()`, jsArray(patterns))
}

// clickableClusterScript gathers small clickable elements in the upper
// portion of the viewport. The Go side decides which of them form a row.
func clickableClusterScript() string {
	return `
(() => {
  const out = [];
  const limitY = window.innerHeight * 0.35;
  const cssPath = (el) => {
    const parts = [];
    let node = el;
    for (let depth = 0; node && node.nodeType === 1 && depth < 5; depth++) {
      if (node.id) {
        parts.unshift('#' + CSS.escape(node.id));
        break;
      }
      let part = node.tagName.toLowerCase();
      const cls = Array.from(node.classList).find(c => c.length > 0);
      if (cls) {
        part += '.' + CSS.escape(cls);
      } else {
        let idx = 1, sib = node;
        while ((sib = sib.previousElementSibling)) {
          if (sib.tagName === node.tagName) idx++;
        }
        part += ':nth-of-type(' + idx + ')';
      }
      parts.unshift(part);
      node = node.parentElement;
    }
    return parts.join(' > ');
  };

  for (const el of document.querySelectorAll('a, button, [role="button"]')) {
    const r = el.getBoundingClientRect();
    const s = window.getComputedStyle(el);
    if (r.width <= 0 || r.height <= 0 || r.height > 60) continue;
    if (r.y < 0 || r.y > limitY) continue;
    if (s.visibility === 'hidden' || s.display === 'none') continue;
    const text = (el.textContent || '').trim();
    if (!text || text.length > 40) continue;
    out.push({ text, path: cssPath(el), x: r.x, y: r.y, w: r.width, h: r.height });
  }
  return out;
})()`
}

func jsArray(items []string) string {
	if items == nil {
		items = []string{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(b)
}
