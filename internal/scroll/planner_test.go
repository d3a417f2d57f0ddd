// File: internal/scroll/planner_test.go
package scroll

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/krellwave/pageproof/internal/driver/drivertest"
)

func newTestPlanner() *Planner {
	return NewPlanner(zap.NewNop(), 800, 10, 200)
}

func TestFromMetricsWindowScroll(t *testing.T) {
	// documentHeight 4000, viewport 1000: extent 3000. The last natural
	// step (3200) clamps to the extent.
	plan := newTestPlanner().FromMetrics(Metrics{
		DocumentHeight: 4000,
		ViewportHeight: 1000,
	})

	assert.Equal(t, RootWindow, plan.Root)
	if diff := cmp.Diff([]int{800, 1600, 2400, 3000}, plan.Offsets); diff != "" {
		t.Errorf("offsets mismatch (-want +got):\n%s", diff)
	}
}

func TestFromMetricsOffsetsStrictlyIncreasingAndClamped(t *testing.T) {
	tests := []struct {
		name     string
		document int
		viewport int
		want     []int
	}{
		{name: "exact multiple", document: 2600, viewport: 1000, want: []int{800, 1600}},
		{name: "short tail", document: 1900, viewport: 1000, want: []int{800, 900}},
		{name: "just over threshold", document: 1101, viewport: 1000, want: []int{101}},
		{name: "frame budget cap", document: 20000, viewport: 1000, want: []int{800, 1600, 2400, 3200, 4000, 4800, 5600, 6400, 7200}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := newTestPlanner().FromMetrics(Metrics{
				DocumentHeight: tt.document,
				ViewportHeight: tt.viewport,
			})
			require.Equal(t, RootWindow, plan.Root)
			assert.Equal(t, tt.want, plan.Offsets)

			extent := tt.document - tt.viewport
			for i, off := range plan.Offsets {
				assert.LessOrEqual(t, off, extent)
				if i > 0 {
					assert.Greater(t, off, plan.Offsets[i-1])
				}
			}
		})
	}
}

func TestFromMetricsPrefersWindowOverContainers(t *testing.T) {
	plan := newTestPlanner().FromMetrics(Metrics{
		DocumentHeight: 3000,
		ViewportHeight: 1000,
		Containers: []ContainerMetrics{
			{Selector: "div.feed", ScrollHeight: 5000, ClientHeight: 600},
		},
	})
	assert.Equal(t, RootWindow, plan.Root)
	assert.Empty(t, plan.Container)
}

func TestFromMetricsContainerFallback(t *testing.T) {
	// Fixed-chrome layout: the window barely scrolls, the feed does.
	plan := newTestPlanner().FromMetrics(Metrics{
		DocumentHeight: 1050,
		ViewportHeight: 1000,
		Containers: []ContainerMetrics{
			{Selector: "div.sidebar", ScrollHeight: 500, ClientHeight: 500},
			{Selector: "div.feed", ScrollHeight: 2400, ClientHeight: 600},
		},
	})

	assert.Equal(t, RootContainer, plan.Root)
	assert.Equal(t, "div.feed", plan.Container)
	assert.Equal(t, []int{800, 1600, 1800}, plan.Offsets)
}

func TestFromMetricsNoScrollableRoot(t *testing.T) {
	plan := newTestPlanner().FromMetrics(Metrics{
		DocumentHeight: 1000,
		ViewportHeight: 1000,
	})

	assert.Equal(t, RootNone, plan.Root)
	assert.True(t, plan.Empty())
}

func TestPlanMeasuresAfterReset(t *testing.T) {
	page := drivertest.NewFakePage()
	page.EvalFunc = func(js string, out any) error {
		if strings.Contains(js, "documentHeight") {
			return drivertest.SetResult(out, Metrics{DocumentHeight: 2000, ViewportHeight: 1000})
		}
		return nil
	}

	plan, err := newTestPlanner().Plan(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, RootWindow, plan.Root)
	assert.Equal(t, []int{800, 1000}, plan.Offsets)

	// The reset scroll must have run before the measurement script.
	require.NotEmpty(t, page.Evaluated)
	assert.Contains(t, page.Evaluated[0], "scrollTo")
}

func TestScrollToUsesPlanRoot(t *testing.T) {
	page := drivertest.NewFakePage()
	planner := newTestPlanner()

	windowPlan := &Plan{Root: RootWindow, Offsets: []int{800}, Step: 800}
	require.NoError(t, planner.ScrollTo(context.Background(), page, windowPlan, 800))

	containerPlan := &Plan{Root: RootContainer, Container: "div.feed", Offsets: []int{800}, Step: 800}
	require.NoError(t, planner.ScrollTo(context.Background(), page, containerPlan, 800))

	require.Len(t, page.Evaluated, 2)
	assert.Contains(t, page.Evaluated[0], "window.scrollTo")
	assert.Contains(t, page.Evaluated[1], "div.feed")
}
