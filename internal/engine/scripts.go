// File: internal/engine/scripts.go

package engine

import (
	"context"
	"strings"

	"github.com/krellwave/pageproof/internal/driver"
)

// errorPageScript classifies common server error surfaces from the
// rendered document. Returns a short kind string or "".
const errorPageScript = `
(() => {
  const title = (document.title || '').toLowerCase();
  const body = (document.body ? document.body.innerText : '').toLowerCase();
  const short = body.length < 1500;

  const checks = [
    { kind: 'not_found', cues: ['404', 'page not found', 'not found'] },
    { kind: 'forbidden', cues: ['403', 'access denied', 'forbidden'] },
    { kind: 'server_error', cues: ['500', 'internal server error', 'service unavailable', 'bad gateway'] },
  ];
  for (const check of checks) {
    for (const cue of check.cues) {
      if (title.includes(cue)) return check.kind;
      if (short && body.includes(cue)) return check.kind;
    }
  }
  if (body.trim().length === 0 && document.images.length === 0) return 'empty';
  return '';
})()`

// detectErrorPage is best effort: a probe failure means "not an error
// page" rather than aborting the run.
func (o *Orchestrator) detectErrorPage(ctx context.Context, page driver.Page) string {
	var kind string
	if err := page.Evaluate(ctx, errorPageScript, &kind); err != nil {
		return ""
	}
	return strings.TrimSpace(kind)
}
