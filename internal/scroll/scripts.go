// File: internal/scroll/scripts.go
package scroll

import (
	"encoding/json"
	"fmt"
)

// measureScript reports the window extent and every candidate scrollable
// container: overflow auto/scroll, content taller than its box, and a box
// tall enough to rule out dropdown/menu scrollers.
func measureScript(containerMinHeight int) string {
	return fmt.Sprintf(`(() => {
	const containers = [];
	const cssPath = (el) => {
		if (el.id) return '#' + CSS.escape(el.id);
		const parts = [];
		while (el && el.nodeType === Node.ELEMENT_NODE && parts.length < 5) {
			let part = el.tagName.toLowerCase();
			if (el.className && typeof el.className === 'string') {
				const cls = el.className.trim().split(/\s+/)[0];
				if (cls) part += '.' + CSS.escape(cls);
			}
			const parent = el.parentElement;
			if (parent) {
				const siblings = Array.from(parent.children).filter((s) => s.tagName === el.tagName);
				if (siblings.length > 1) part += ':nth-of-type(' + (siblings.indexOf(el) + 1) + ')';
			}
			parts.unshift(part);
			el = parent;
		}
		return parts.join(' > ');
	};
	for (const el of document.querySelectorAll('*')) {
		const s = window.getComputedStyle(el);
		if (s.overflowY !== 'auto' && s.overflowY !== 'scroll') continue;
		if (el.scrollHeight <= el.clientHeight) continue;
		if (el.clientHeight < %d) continue;
		containers.push({
			selector: cssPath(el),
			scrollHeight: el.scrollHeight,
			clientHeight: el.clientHeight
		});
	}
	return {
		documentHeight: document.documentElement.scrollHeight,
		viewportHeight: window.innerHeight,
		containers: containers
	};
})()`, containerMinHeight)
}

// containerScrollScript sets scrollTop on the plan's container.
func containerScrollScript(selector string, offset int) string {
	sel, _ := json.Marshal(selector)
	return fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	if (el) el.scrollTop = %d;
	return true;
})()`, sel, offset)
}
