// File: internal/scroll/planner.go

// Package scroll decides how to walk a page vertically before capture.
// Pages do not always scroll at the window: dashboards often pin the body
// and scroll an inner container instead, so the planner measures both and
// picks the root that actually moves.
package scroll

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/krellwave/pageproof/internal/driver"
)

// Root identifies what the plan scrolls.
type Root int

const (
	// RootNone means the page fits in the viewport; top-only capture.
	RootNone Root = iota
	// RootWindow scrolls the window itself.
	RootWindow
	// RootContainer scrolls a specific in-page element.
	RootContainer
)

func (r Root) String() string {
	switch r {
	case RootWindow:
		return "window"
	case RootContainer:
		return "container"
	default:
		return "none"
	}
}

// windowExtentThreshold is the minimum window scrollable extent, in pixels,
// that is worth a scroll sequence at all.
const windowExtentThreshold = 100

// Plan is an ordered list of scroll offsets for one page. Offsets are
// strictly increasing and never exceed the true maximum extent.
type Plan struct {
	Root      Root
	Container string // selector, set when Root == RootContainer
	Offsets   []int
	Step      int
}

// Empty reports whether the plan calls for any scrolling.
func (p *Plan) Empty() bool { return p == nil || len(p.Offsets) == 0 }

// ContainerMetrics describes one candidate scrollable element.
type ContainerMetrics struct {
	Selector     string `json:"selector"`
	ScrollHeight int    `json:"scrollHeight"`
	ClientHeight int    `json:"clientHeight"`
}

// Metrics is the raw measurement the plan derives from.
type Metrics struct {
	DocumentHeight int                `json:"documentHeight"`
	ViewportHeight int                `json:"viewportHeight"`
	Containers     []ContainerMetrics `json:"containers"`
}

// Planner measures pages and computes scroll plans.
type Planner struct {
	logger             *zap.Logger
	step               int
	maxFrames          int // total per-page frame budget, including the top frame
	containerMinHeight int
}

// NewPlanner creates a planner. maxFrames includes the already-captured top
// frame, so a plan yields at most maxFrames-1 offsets.
func NewPlanner(logger *zap.Logger, step, maxFrames, containerMinHeight int) *Planner {
	return &Planner{
		logger:             logger.Named("scroll"),
		step:               step,
		maxFrames:          maxFrames,
		containerMinHeight: containerMinHeight,
	}
}

// Plan resets the page to the origin, measures it, and computes the scroll
// plan. Measurement happens after the reset because scroll position skews
// container metrics.
func (p *Planner) Plan(ctx context.Context, page driver.Page) (*Plan, error) {
	if err := p.ResetTop(ctx, page, nil); err != nil {
		return nil, fmt.Errorf("failed to reset scroll position: %w", err)
	}

	var m Metrics
	if err := page.Evaluate(ctx, measureScript(p.containerMinHeight), &m); err != nil {
		return nil, fmt.Errorf("failed to measure scroll extent: %w", err)
	}

	plan := p.FromMetrics(m)
	p.logger.Debug("Computed scroll plan.",
		zap.String("root", plan.Root.String()),
		zap.String("container", plan.Container),
		zap.Int("steps", len(plan.Offsets)))
	return plan, nil
}

// FromMetrics derives a plan from raw measurements. Pure; exercised
// directly by tests.
func (p *Planner) FromMetrics(m Metrics) *Plan {
	windowExtent := m.DocumentHeight - m.ViewportHeight

	if windowExtent > windowExtentThreshold {
		return &Plan{
			Root:    RootWindow,
			Offsets: p.offsets(windowExtent),
			Step:    p.step,
		}
	}

	// The window doesn't scroll; the first qualifying container wins. The
	// measurement script already filtered out small dropdown scrollers.
	for _, c := range m.Containers {
		extent := c.ScrollHeight - c.ClientHeight
		if extent > 0 {
			return &Plan{
				Root:      RootContainer,
				Container: c.Selector,
				Offsets:   p.offsets(extent),
				Step:      p.step,
			}
		}
	}

	return &Plan{Root: RootNone, Step: p.step}
}

// offsets produces strictly increasing scroll targets, each clamped to the
// true maximum extent, capped at maxFrames-1 to reserve the top frame.
func (p *Planner) offsets(extent int) []int {
	if extent <= 0 {
		return nil
	}
	steps := (extent + p.step - 1) / p.step
	if cap := p.maxFrames - 1; steps > cap {
		steps = cap
	}

	out := make([]int, 0, steps)
	for i := 1; i <= steps; i++ {
		offset := i * p.step
		if offset > extent {
			offset = extent
		}
		// Clamping can collapse the final step onto the previous one; keep
		// offsets strictly increasing.
		if len(out) > 0 && offset <= out[len(out)-1] {
			break
		}
		out = append(out, offset)
	}
	return out
}

// ScrollTo moves the plan's root to the given offset.
func (p *Planner) ScrollTo(ctx context.Context, page driver.Page, plan *Plan, offset int) error {
	switch plan.Root {
	case RootContainer:
		return page.Evaluate(ctx, containerScrollScript(plan.Container, offset), nil)
	case RootWindow:
		return page.Evaluate(ctx, fmt.Sprintf(`window.scrollTo(0, %d)`, offset), nil)
	default:
		return nil
	}
}

// ResetTop returns the page to the origin. Full-page capture composites
// from the top, so this must run after any scroll sequence. A nil plan
// resets the window only.
func (p *Planner) ResetTop(ctx context.Context, page driver.Page, plan *Plan) error {
	if plan != nil && plan.Root == RootContainer {
		if err := page.Evaluate(ctx, containerScrollScript(plan.Container, 0), nil); err != nil {
			return err
		}
	}
	return page.Evaluate(ctx, `window.scrollTo(0, 0)`, nil)
}
