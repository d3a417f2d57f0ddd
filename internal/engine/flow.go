// File: internal/engine/flow.go

package engine

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// FlowRequest describes a navigation flow crawl: capture the start page,
// follow same-host links breadth first, and capture each discovered page
// with the same settings.
type FlowRequest struct {
	Start           CaptureRequest
	MaxDepth        int
	MaxPages        int
	Concurrency     int
	ExcludePatterns []string
}

// FlowResult aggregates the per-page outcomes of a crawl. Failed maps a
// URL to the error that stopped its capture; pages that produced partial
// artifacts before failing still appear in Pages.
type FlowResult struct {
	Pages  []*Result
	Failed map[string]string
}

// Crawl runs a breadth-first capture over the navigation flow rooted at
// the start URL. Depth levels run sequentially; pages within a level run
// concurrently up to the configured limit. A failing page never aborts
// the crawl, only its own subtree.
func (o *Orchestrator) Crawl(ctx context.Context, req FlowRequest) (*FlowResult, error) {
	startURL, err := url.Parse(req.Start.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid start URL: %w", err)
	}

	excludes := make([]*regexp.Regexp, 0, len(req.ExcludePatterns))
	for _, pattern := range req.ExcludePatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", pattern, err)
		}
		excludes = append(excludes, re)
	}

	concurrency := req.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	maxPages := req.MaxPages
	if maxPages < 1 {
		maxPages = 50
	}

	result := &FlowResult{Failed: make(map[string]string)}
	visited := map[string]bool{canonicalURL(req.Start.URL): true}
	frontier := []string{req.Start.URL}
	var mu sync.Mutex

	for depth := 0; depth <= req.MaxDepth && len(frontier) > 0; depth++ {
		g, groupCtx := errgroup.WithContext(ctx)
		g.SetLimit(concurrency)

		next := make(map[string]bool)
		for _, pageURL := range frontier {
			pageURL := pageURL
			g.Go(func() error {
				pageReq := req.Start
				pageReq.URL = pageURL

				pageResult, err := o.Run(groupCtx, pageReq)

				mu.Lock()
				defer mu.Unlock()
				if pageResult != nil && (err == nil || len(pageResult.Artifacts) > 0) {
					result.Pages = append(result.Pages, pageResult)
				}
				if err != nil {
					o.logger.Warn("Flow page capture failed.",
						zap.String("url", pageURL), zap.Int("depth", depth), zap.Error(err))
					result.Failed[pageURL] = err.Error()
					return nil
				}
				for _, link := range extractLinks(startURL, pageResult.HTML, excludes) {
					if !visited[link] {
						visited[link] = true
						next[link] = true
					}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return result, err
		}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		frontier = frontier[:0]
		for link := range next {
			if len(result.Pages)+len(frontier) >= maxPages {
				break
			}
			frontier = append(frontier, link)
		}
	}

	o.logger.Info("Flow crawl complete.",
		zap.Int("pages", len(result.Pages)), zap.Int("failed", len(result.Failed)))
	return result, nil
}

// extractLinks pulls same-host anchor targets out of a captured page.
func extractLinks(base *url.URL, html string, excludes []*regexp.Regexp) []string {
	if html == "" {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
			return
		}
		target, err := base.Parse(href)
		if err != nil {
			return
		}
		if target.Hostname() != base.Hostname() {
			return
		}
		if target.Scheme != "http" && target.Scheme != "https" {
			return
		}
		target.Fragment = ""
		link := target.String()
		for _, re := range excludes {
			if re.MatchString(link) {
				return
			}
		}
		canon := canonicalURL(link)
		if !seen[canon] {
			seen[canon] = true
			links = append(links, link)
		}
	})
	return links
}

func canonicalURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String()
}
