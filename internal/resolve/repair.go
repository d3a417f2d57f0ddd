// File: internal/resolve/repair.go
package resolve

import (
	"regexp"
	"strings"
)

// repairedSelector is one candidate fix for a malformed or stale selector.
type repairedSelector struct {
	name     string
	selector string
}

var (
	tagIDPattern  = regexp.MustCompile(`^([a-zA-Z][a-zA-Z0-9]*)#([a-zA-Z][\w-]*)$`)
	idPattern     = regexp.MustCompile(`#([a-zA-Z][\w-]*)`)
	tagPattern    = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9]*`)
	classPattern  = regexp.MustCompile(`\.([a-zA-Z][\w-]*)`)
	trailingDigit = regexp.MustCompile(`[-_]?\d+$`)
)

// classSynonyms maps common class-name families to selectors that tend to
// address the same widget on other frameworks.
var classSynonyms = map[string]string{
	"btn":      "button, .button",
	"button":   ".btn, button",
	"submit":   "button[type='submit'], input[type='submit']",
	"login":    ".signin, .sign-in, #login, button[type='submit']",
	"signin":   ".login, #login, button[type='submit']",
	"search":   "input[type='search'], .search-input, #search",
	"nav":      ".navbar, .navigation, nav",
	"header":   "header, .page-header, .site-header",
	"dropdown": ".select, select, .menu",
}

// repairSelectors derives an ordered list of candidate fixes from the
// original selector. Earlier entries stay closer to the caller's intent.
func repairSelectors(selector string) []repairedSelector {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return nil
	}

	var out []repairedSelector
	seen := map[string]bool{selector: true}
	add := func(name, sel string) {
		sel = strings.TrimSpace(sel)
		if sel == "" || seen[sel] {
			return
		}
		seen[sel] = true
		out = append(out, repairedSelector{name: name, selector: sel})
	}

	// Last path segment only: "div.card > .list li.item" -> "li.item".
	if seg := lastSegment(selector); seg != selector {
		add("last-segment", seg)
	}

	// tag#id -> tag[id^='prefix'], with generated-looking suffixes stripped.
	if m := tagIDPattern.FindStringSubmatch(selector); m != nil {
		prefix := trailingDigit.ReplaceAllString(m[2], "")
		if prefix != "" {
			add("tag-id-prefix", m[1]+"[id^='"+prefix+"']")
		}
	}

	// Bare id anywhere in the selector.
	if m := idPattern.FindStringSubmatch(selector); m != nil {
		add("bare-id", "#"+m[1])
	}

	// Bare leading tag.
	if m := tagPattern.FindString(lastSegment(selector)); m != "" {
		add("bare-tag", m)
	}

	// Known class synonyms for the first class token.
	if m := classPattern.FindStringSubmatch(selector); m != nil {
		if syn, ok := classSynonyms[strings.ToLower(m[1])]; ok {
			add("class-synonym", syn)
		}
	}

	return out
}

// lastSegment returns the final combinator-separated piece of a selector.
func lastSegment(selector string) string {
	fields := strings.FieldsFunc(selector, func(r rune) bool {
		return r == ' ' || r == '>' || r == '+' || r == '~'
	})
	if len(fields) == 0 {
		return selector
	}
	return strings.TrimSpace(fields[len(fields)-1])
}

// selectorNeedle extracts a text token from a selector for attribute
// substring matching when the caller supplied no hint.
func selectorNeedle(selector string) string {
	if m := idPattern.FindStringSubmatch(selector); m != nil {
		return trailingDigit.ReplaceAllString(m[1], "")
	}
	if m := classPattern.FindStringSubmatch(selector); m != nil {
		return m[1]
	}
	return ""
}
