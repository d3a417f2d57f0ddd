// File: internal/analysis/summary.go

package analysis

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Summarize reduces a page's HTML to a compact structural outline the
// analysis service can reason over: landmarks, headings, and the
// interactive elements that matter for region detection. maxElements
// bounds the outline so huge pages do not blow up request size.
func Summarize(html string, maxElements int) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}
	if maxElements <= 0 {
		maxElements = 200
	}

	var sb strings.Builder
	count := 0

	describe := func(kind string, sel *goquery.Selection) {
		if count >= maxElements {
			return
		}
		text := normalizeText(sel.Text())
		if len(text) > 80 {
			text = text[:80]
		}
		line := kind
		if id, ok := sel.Attr("id"); ok && id != "" {
			line += "#" + id
		}
		if role, ok := sel.Attr("role"); ok && role != "" {
			line += " role=" + role
		}
		if label, ok := sel.Attr("aria-label"); ok && label != "" {
			line += " label=" + strconv.Quote(label)
		}
		if text != "" {
			line += " " + strconv.Quote(text)
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
		count++
	}

	doc.Find("header, nav, main, aside, footer, [role=navigation], [role=main], [role=banner]").Each(func(_ int, s *goquery.Selection) {
		describe("landmark:"+goquery.NodeName(s), s)
	})
	doc.Find("h1, h2, h3").Each(func(_ int, s *goquery.Selection) {
		describe("heading:"+goquery.NodeName(s), s)
	})
	doc.Find("[role=tablist] [role=tab], .nav-tabs a, .tabs a, ul.tab-list li").Each(func(_ int, s *goquery.Selection) {
		describe("tab", s)
	})
	doc.Find("table, [role=grid], canvas, svg.chart, [class*=chart]").Each(func(_ int, s *goquery.Selection) {
		describe("data:"+goquery.NodeName(s), s)
	})
	doc.Find("form").Each(func(_ int, s *goquery.Selection) {
		describe("form", s)
	})
	doc.Find("button, [role=button], input[type=submit]").Each(func(_ int, s *goquery.Selection) {
		describe("button", s)
	})

	return sb.String(), nil
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
