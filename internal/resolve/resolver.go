// File: internal/resolve/resolver.go

// Package resolve turns a caller-supplied selector plus an optional text
// hint into a live, uniquely addressable element. Resolution is an ordered
// cascade of strategies evaluated left to right, short-circuiting on the
// first visible and enabled match. The same cascade serves both interaction
// execution and tab detection.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/krellwave/pageproof/internal/driver"
)

// ErrElementNotFound is returned when every strategy is exhausted.
var ErrElementNotFound = errors.New("element not found")

// Action describes what the caller intends to do with the element, which
// steers the semantic fallbacks.
type Action string

const (
	ActionClick  Action = "click"
	ActionHover  Action = "hover"
	ActionFill   Action = "fill"
	ActionSelect Action = "select"
)

// Query is one request to resolve a DOM target.
type Query struct {
	Selector string
	Hint     string
	Action   Action
}

// Resolution is a successful outcome: a selector guaranteed to address
// exactly the element the winning strategy found, plus diagnostics.
type Resolution struct {
	Selector string      // unique tagged selector, usable with any Page call
	Strategy string      // name of the strategy that won
	Attempts []string    // every strategy tried, in order, winner last
	Rect     driver.Rect // element geometry at resolution time
}

// Resolver evaluates the cascade against a page.
type Resolver struct {
	logger       *zap.Logger
	directWait   time.Duration
	fallbackWait time.Duration
	pollInterval time.Duration
}

// NewResolver creates a resolver. directWait bounds the first (caller
// selector) strategy; fallbackWait bounds each subsequent one.
func NewResolver(logger *zap.Logger, directWait, fallbackWait time.Duration) *Resolver {
	return &Resolver{
		logger:       logger.Named("resolve"),
		directWait:   directWait,
		fallbackWait: fallbackWait,
		pollInterval: 150 * time.Millisecond,
	}
}

// strategy is one rung of the cascade: a name and a finder script factory.
type strategy struct {
	name string
	js   string
	wait time.Duration
}

// Resolve runs the cascade. Failure of one strategy never aborts the
// cascade; only exhausting all of them does.
func (r *Resolver) Resolve(ctx context.Context, page driver.Page, query Query) (*Resolution, error) {
	token := uuid.New().String()
	strategies := r.buildCascade(query, token)

	attempts := make([]string, 0, len(strategies))
	for _, st := range strategies {
		attempts = append(attempts, st.name)

		rect, found, err := r.poll(ctx, page, st)
		if err != nil {
			// Context death is the only error that stops the cascade early.
			if ctx.Err() != nil {
				return nil, fmt.Errorf("resolution aborted: %w", ctx.Err())
			}
			r.logger.Debug("Resolution strategy errored; continuing cascade.",
				zap.String("strategy", st.name), zap.Error(err))
			continue
		}
		if !found {
			continue
		}

		r.logger.Debug("Element resolved.",
			zap.String("strategy", st.name),
			zap.String("selector", query.Selector),
			zap.Int("attempts", len(attempts)))
		return &Resolution{
			Selector: fmt.Sprintf("[data-ppq=%q]", token),
			Strategy: st.name,
			Attempts: attempts,
			Rect:     rect,
		}, nil
	}

	return nil, fmt.Errorf("%w: selector %q, hint %q, %d strategies exhausted",
		ErrElementNotFound, query.Selector, query.Hint, len(attempts))
}

// poll evaluates a finder script repeatedly within the strategy's bound.
func (r *Resolver) poll(ctx context.Context, page driver.Page, st strategy) (driver.Rect, bool, error) {
	deadline := time.Now().Add(st.wait)
	for {
		var rect *driver.Rect
		if err := page.Evaluate(ctx, st.js, &rect); err != nil {
			return driver.Rect{}, false, err
		}
		if rect != nil {
			return *rect, true, nil
		}
		if time.Now().After(deadline) {
			return driver.Rect{}, false, nil
		}
		select {
		case <-ctx.Done():
			return driver.Rect{}, false, ctx.Err()
		case <-time.After(r.pollInterval):
		}
	}
}

// buildCascade assembles the ordered strategy list for a query.
func (r *Resolver) buildCascade(query Query, token string) []strategy {
	var out []strategy
	add := func(name, body string, wait time.Duration) {
		if body == "" {
			return
		}
		out = append(out, strategy{name: name, js: finderScript(body, token), wait: wait})
	}

	// 1. The caller's selector, taken at face value.
	if query.Selector != "" {
		add("direct", directBody(query.Selector), r.directWait)
	}

	// 2. Semantic fallbacks keyed to the intended action.
	if query.Hint != "" {
		switch query.Action {
		case ActionClick, ActionHover:
			add("role-name", roleNameBody(query.Hint), r.fallbackWait)
			add("text", textBody(query.Hint), r.fallbackWait)
		case ActionFill:
			add("label", labelBody(query.Hint), r.fallbackWait)
			add("placeholder", placeholderBody(query.Hint), r.fallbackWait)
			add("text", textBody(query.Hint), r.fallbackWait)
		case ActionSelect:
			add("label", labelBody(query.Hint), r.fallbackWait)
			add("text", textBody(query.Hint), r.fallbackWait)
		}
	}

	// 3. Generic shape fallback for the action kind.
	add("shape", shapeBody(query.Action), r.fallbackWait)

	// 4. Attribute-pattern fallbacks.
	needle := query.Hint
	if needle == "" {
		needle = selectorNeedle(query.Selector)
	}
	if needle != "" {
		add("testid", testIDBody(needle), r.fallbackWait)
		add("aria", ariaBody(needle), r.fallbackWait)
	}

	// 5. Repairs of the original, possibly malformed selector.
	for _, rep := range repairSelectors(query.Selector) {
		add("repair:"+rep.name, directBody(rep.selector), r.fallbackWait)
	}

	return out
}
