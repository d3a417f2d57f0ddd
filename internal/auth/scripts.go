// File: internal/auth/scripts.go

package auth

import (
	"encoding/json"
	"fmt"
)

// indicatorScript probes the page for login and session indicators in a
// single round trip: a visible password input marks a login surface, a
// matching session cue (sign-out links, account menus and the like)
// marks an established session.
func indicatorScript(sessionCues []string) string {
	return fmt.Sprintf(`
(() => {
  const cues = %s.map(c => c.toLowerCase());
  const vis = (el) => {
    const r = el.getBoundingClientRect();
    const s = window.getComputedStyle(el);
    return r.width > 0 && r.height > 0 && s.visibility !== 'hidden' && s.display !== 'none';
  };

  let hasPasswordInput = false;
  for (const el of document.querySelectorAll('input[type="password"]')) {
    if (vis(el)) { hasPasswordInput = true; break; }
  }

  let sessionCue = '';
  const candidates = document.querySelectorAll('a, button, [role="button"], [role="menuitem"], nav *');
  outer:
  for (const el of candidates) {
    if (!vis(el)) continue;
    const text = ((el.textContent || '') + ' ' + (el.getAttribute('aria-label') || '') +
      ' ' + (el.getAttribute('href') || '')).toLowerCase();
    for (const cue of cues) {
      if (text.includes(cue)) { sessionCue = cue; break outer; }
    }
  }

  return { hasPasswordInput, sessionCue, title: document.title || '' };
})()`, jsArray(sessionCues))
}

// errorCueScript reports whether a visible element carries login error
// text or an error-styled class.
func errorCueScript(errorCues []string) string {
	return fmt.Sprintf(`
(() => {
  const cues = %s.map(c => c.toLowerCase());
  const vis = (el) => {
    const r = el.getBoundingClientRect();
    const s = window.getComputedStyle(el);
    return r.width > 0 && r.height > 0 && s.visibility !== 'hidden' && s.display !== 'none';
  };
  const styled = document.querySelectorAll(
    '[class*="error"], [class*="invalid"], [class*="alert"], [role="alert"]');
  for (const el of styled) {
    if (vis(el) && (el.textContent || '').trim().length > 0) return true;
  }
  const body = (document.body ? document.body.innerText : '').toLowerCase();
  for (const cue of cues) {
    if (body.includes(cue)) return true;
  }
  return false;
})()`, jsArray(errorCues))
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
