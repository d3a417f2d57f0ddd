// File: internal/engine/orchestrator_test.go
package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/krellwave/pageproof/internal/auth"
	"github.com/krellwave/pageproof/internal/config"
	"github.com/krellwave/pageproof/internal/driver"
	"github.com/krellwave/pageproof/internal/driver/drivertest"
	"github.com/krellwave/pageproof/internal/pool"
	"github.com/krellwave/pageproof/internal/readiness"
	"github.com/krellwave/pageproof/internal/resolve"
	"github.com/krellwave/pageproof/internal/scroll"
	"github.com/krellwave/pageproof/internal/tabs"
)

// pageScenario is the mutable DOM state the fake page reports. The
// dispatcher below routes each evaluated script to the right answer by
// its distinctive content.
type pageScenario struct {
	errorPageKind string
	hasPassword   bool
	sessionCue    string
	metrics       readiness.Profile
	docHeight     int
	viewHeight    int
	tabCandidates []map[string]any
	resolveMarker string // scripts containing this resolve to an element

	// onLoginSubmit, when set, runs after the login form is clicked.
	onLoginSubmit func()
}

func scenarioEval(page *drivertest.FakePage, s *pageScenario) func(js string, out any) error {
	return func(js string, out any) error {
		if out == nil {
			return nil
		}
		switch {
		case strings.Contains(js, "not_found"):
			return drivertest.SetResult(out, s.errorPageKind)
		case strings.Contains(js, "hasPasswordInput"):
			return drivertest.SetResult(out, map[string]any{
				"hasPasswordInput": s.hasPassword,
				"sessionCue":       s.sessionCue,
				"title":            "",
			})
		case strings.Contains(js, "chartCount"):
			charts := 0
			if s.metrics.DataHeavy {
				charts = 2
			}
			return drivertest.SetResult(out, map[string]any{
				"chartCount":     charts,
				"tableCount":     0,
				"controlCount":   0,
				"documentHeight": s.docHeight,
				"viewportHeight": s.viewHeight,
			})
		case strings.Contains(js, "containers:"):
			return drivertest.SetResult(out, map[string]any{
				"documentHeight": s.docHeight,
				"viewportHeight": s.viewHeight,
				"containers":     []any{},
			})
		case strings.Contains(js, "data-ppq"):
			if s.resolveMarker != "" && strings.Contains(js, s.resolveMarker) {
				return drivertest.SetResult(out, driver.Rect{X: 5, Y: 5, Width: 60, Height: 20})
			}
			return nil
		case strings.Contains(js, "const patterns"):
			return drivertest.SetResult(out, s.tabCandidates)
		case strings.Contains(js, "limitY"):
			return drivertest.SetResult(out, []any{})
		case strings.Contains(js, `[class*="error"]`):
			if s.onLoginSubmit != nil && len(page.Clicks) > 0 {
				s.onLoginSubmit()
			}
			return drivertest.SetResult(out, false)
		default:
			return drivertest.SetResult(out, true)
		}
	}
}

func testCaptureConfig() config.CaptureConfig {
	return config.CaptureConfig{
		ViewportWidth:     1280,
		ViewportHeight:    1000,
		NavigationTimeout: 2 * time.Second,
		PageDeadline:      10 * time.Second,
		ScrollStep:        800,
		MaxFrames:         10,
		ReadyCeiling:      30 * time.Millisecond,
		ReadyCeilingHeavy: 30 * time.Millisecond,
		ReadyCeilingFast:  20 * time.Millisecond,
		ResolveWait:       5 * time.Millisecond,
		FallbackWait:      5 * time.Millisecond,
	}
}

type harness struct {
	orchestrator *Orchestrator
	pool         *pool.Manager
	page         *drivertest.FakePage
	scenario     *pageScenario
}

func newHarness(t *testing.T, s *pageScenario) *harness {
	page := drivertest.NewFakePage()
	page.EvalFunc = scenarioEval(page, s)
	if s.docHeight == 0 {
		s.docHeight = 1000
	}
	if s.viewHeight == 0 {
		s.viewHeight = 1000
	}

	factory := &drivertest.FakeFactory{NewPageFunc: func() *drivertest.FakePage { return page }}
	orchestrator, poolMgr := newTestOrchestrator(t, factory)
	return &harness{
		orchestrator: orchestrator,
		pool:         poolMgr,
		page:         page,
		scenario:     s,
	}
}

// newTestOrchestrator wires an orchestrator over a fake factory with
// short deadlines.
func newTestOrchestrator(t *testing.T, factory *drivertest.FakeFactory) (*Orchestrator, *pool.Manager) {
	poolCfg := config.PoolConfig{
		MaxBrowsers:        2,
		BrowserIdleTimeout: time.Hour,
		ContextIdleTimeout: time.Hour,
		SessionTTL:         time.Hour,
		SessionDir:         t.TempDir(),
	}
	poolMgr := pool.NewManager(poolCfg, factory, zap.NewNop())
	t.Cleanup(func() { poolMgr.Close(context.Background()) })

	cfg := testCaptureConfig()
	resolver := resolve.NewResolver(zap.NewNop(), cfg.ResolveWait, cfg.FallbackWait)
	classifier := readiness.NewClassifier(zap.NewNop(), readiness.Config{
		Ceiling:      cfg.ReadyCeiling,
		CeilingHeavy: cfg.ReadyCeilingHeavy,
		CeilingFast:  cfg.ReadyCeilingFast,
	})
	authController := auth.NewController(zap.NewNop(), config.AuthConfig{
		LoginPathHints:    []string{"/login"},
		SessionCues:       []string{"sign out"},
		ErrorCues:         []string{"invalid credentials"},
		UsernameSelectors: []string{"input[type='email']"},
		PasswordSelectors: []string{"input[type='password']"},
		SubmitSelectors:   []string{"button[type='submit']"},
	}, resolver, classifier, poolMgr)
	detector := tabs.NewDetector(zap.NewNop(), config.TabsConfig{
		SelectorPatterns: []string{"[role='tab']"},
		MaxRegions:       5,
	}, nil, 100)
	planner := scroll.NewPlanner(zap.NewNop(), cfg.ScrollStep, cfg.MaxFrames, 200)

	return NewOrchestrator(cfg, zap.NewNop(), poolMgr, resolver, classifier, authController, detector, planner), poolMgr
}

func artifactNames(result *Result) []string {
	names := make([]string, 0, len(result.Artifacts))
	for _, a := range result.Artifacts {
		names = append(names, a.Name)
	}
	return names
}

func TestRunCapturesInOrder(t *testing.T) {
	h := newHarness(t, &pageScenario{
		sessionCue: "sign out",
		docHeight:  2000,
		viewHeight: 1000,
	})

	result, err := h.orchestrator.Run(context.Background(), CaptureRequest{
		URL:          "https://example.test/dashboard",
		ScrollFrames: true,
		FullPage:     true,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"top", "scroll_1", "scroll_2", "full_page"}, artifactNames(result))
	assert.Empty(t, result.StepErrors)
	assert.Equal(t, "https://example.test/dashboard", result.FinalURL)
	assert.Equal(t, "authenticated", result.AuthStatus)
	assert.True(t, h.page.Closed, "page must be closed after the run")
}

func TestRunAnonymousPublicPageCaptures(t *testing.T) {
	// A public page with no session cue and no login indicators must
	// capture normally, not abort as login-required.
	h := newHarness(t, &pageScenario{})

	result, err := h.orchestrator.Run(context.Background(), CaptureRequest{
		URL:      "https://example.test/",
		FullPage: true,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"top", "full_page"}, artifactNames(result))
	assert.Equal(t, "anonymous", result.AuthStatus)
	assert.Empty(t, result.StepErrors)
}

func TestRunNavigationFailure(t *testing.T) {
	h := newHarness(t, &pageScenario{sessionCue: "sign out"})
	h.page.NavigateErr = assert.AnError

	result, err := h.orchestrator.Run(context.Background(), CaptureRequest{
		URL: "https://down.test/",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNavigationError)

	require.Len(t, result.Artifacts, 1)
	assert.Equal(t, KindError, result.Artifacts[0].Kind)
	assert.Equal(t, "error_navigation", result.Artifacts[0].Name)
	assert.True(t, h.page.Closed, "page must be closed on the error path too")
}

func TestRunDetectsErrorPage(t *testing.T) {
	h := newHarness(t, &pageScenario{errorPageKind: "not_found"})

	result, err := h.orchestrator.Run(context.Background(), CaptureRequest{
		URL: "https://example.test/missing",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNavigationError)
	assert.Equal(t, []string{"error_not_found"}, artifactNames(result))
}

func TestRunLoginRequiredWithoutCredentials(t *testing.T) {
	h := newHarness(t, &pageScenario{hasPassword: true})

	result, err := h.orchestrator.Run(context.Background(), CaptureRequest{
		URL: "https://example.test/reports",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLoginRequired)
	assert.Equal(t, []string{"error_login_required"}, artifactNames(result))
	assert.Equal(t, "needs_login", result.AuthStatus)
}

func TestRunPerformsLoginThenCaptures(t *testing.T) {
	s := &pageScenario{hasPassword: true, resolveMarker: "data-ppq"}
	h := newHarness(t, s)
	s.onLoginSubmit = func() {
		s.hasPassword = false
		s.sessionCue = "sign out"
		h.page.URL = "https://example.test/home"
	}

	result, err := h.orchestrator.Run(context.Background(), CaptureRequest{
		URL: "https://example.test/reports",
		Credentials: &auth.Credentials{
			Username: "alice",
			Password: "pw",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "authenticated", result.AuthStatus)
	assert.Len(t, h.page.Fills, 2, "login form must be filled")
	assert.Contains(t, artifactNames(result), "top")
	// Post-login the orchestrator must return to the requested page.
	assert.Equal(t, "https://example.test/reports", h.page.Navigations[len(h.page.Navigations)-1])
}

func TestRunRestoredSessionReturnsToRequestedPage(t *testing.T) {
	s := &pageScenario{hasPassword: true}
	h := newHarness(t, s)
	h.pool.CacheSession(&pool.CachedSession{
		Domain:     "example.test",
		Principal:  "alice",
		Cookies:    []driver.Cookie{{Name: "sid", Value: "abc"}},
		CapturedAt: time.Now(),
	})

	restored := false
	orig := h.page.EvalFunc
	h.page.EvalFunc = func(js string, out any) error {
		// The reload after the cookie replay lands on the site's default
		// post-login page, not the requested one.
		if h.page.Reloads > 0 && !restored {
			restored = true
			s.hasPassword = false
			s.sessionCue = "sign out"
			h.page.URL = "https://example.test/home"
		}
		return orig(js, out)
	}

	result, err := h.orchestrator.Run(context.Background(), CaptureRequest{
		URL:         "https://example.test/reports",
		Credentials: &auth.Credentials{Username: "alice", Password: "pw"},
	})
	require.NoError(t, err)

	assert.Equal(t, "authenticated", result.AuthStatus)
	assert.Empty(t, h.page.Fills, "a restored session must not fill the login form")
	assert.Equal(t, "https://example.test/reports", h.page.Navigations[len(h.page.Navigations)-1])
	assert.Equal(t, "https://example.test/reports", result.FinalURL)
}

func TestRunInteractionFailureDoesNotAbort(t *testing.T) {
	h := newHarness(t, &pageScenario{
		sessionCue:    "sign out",
		resolveMarker: `"#step2"`,
	})

	result, err := h.orchestrator.Run(context.Background(), CaptureRequest{
		URL: "https://example.test/form",
		Interactions: []Interaction{
			{Action: resolve.ActionClick, Selector: "#step1"},
			{Action: resolve.ActionClick, Selector: "#step2"},
		},
	})
	require.NoError(t, err)

	require.Len(t, result.StepErrors, 1)
	assert.Contains(t, result.StepErrors[0], "interaction 1")

	names := artifactNames(result)
	assert.Contains(t, names, "interaction_1_error")
	assert.Contains(t, names, "interaction_2")
	assert.Len(t, h.page.Clicks, 1, "only the resolved step may click")
}

func TestRunScrollAndWaitInteractions(t *testing.T) {
	h := newHarness(t, &pageScenario{sessionCue: "sign out"})

	noShot := false
	result, err := h.orchestrator.Run(context.Background(), CaptureRequest{
		URL: "https://example.test/feed",
		Interactions: []Interaction{
			{Action: ActionScroll, Value: "600"},
			{Action: ActionWait, Value: "10", Screenshot: &noShot},
			{Action: ActionWait, Selector: "#widget", WaitFor: "#widget .loaded"},
		},
	})
	require.NoError(t, err)
	assert.Empty(t, result.StepErrors)

	names := artifactNames(result)
	assert.Contains(t, names, "interaction_1")
	assert.NotContains(t, names, "interaction_2", "screenshot opt-out must skip the capture")
	assert.Contains(t, names, "interaction_3")
	assert.Contains(t, strings.Join(h.page.Evaluated, "\n"), "window.scrollBy(0, 600)")
}

func TestRunRejectsMalformedStepValue(t *testing.T) {
	h := newHarness(t, &pageScenario{sessionCue: "sign out"})

	result, err := h.orchestrator.Run(context.Background(), CaptureRequest{
		URL: "https://example.test/feed",
		Interactions: []Interaction{
			{Action: ActionScroll, Value: "a lot"},
		},
	})
	require.NoError(t, err)
	require.Len(t, result.StepErrors, 1)
	assert.Contains(t, result.StepErrors[0], "invalid scroll amount")
}

func TestRunCapturesDetectedTabs(t *testing.T) {
	h := newHarness(t, &pageScenario{
		sessionCue: "sign out",
		tabCandidates: []map[string]any{
			{"text": "Overview", "path": "button.t1", "x": 10, "y": 90, "w": 80, "h": 30},
			{"text": "Billing", "path": "button.t2", "x": 100, "y": 90, "w": 80, "h": 30},
		},
	})

	result, err := h.orchestrator.Run(context.Background(), CaptureRequest{
		URL:        "https://example.test/account",
		DetectTabs: true,
	})
	require.NoError(t, err)

	names := artifactNames(result)
	assert.Contains(t, names, "tab_1")
	assert.Contains(t, names, "tab_2")
	assert.Equal(t, []string{"button.t1", "button.t2"}, h.page.Clicks)

	labels := []string{}
	for _, a := range result.Artifacts {
		if a.Kind == KindTab {
			labels = append(labels, a.Label)
		}
	}
	assert.Equal(t, []string{"Overview", "Billing"}, labels)
}

func TestRunTabActivationFallsBackToPosition(t *testing.T) {
	h := newHarness(t, &pageScenario{
		sessionCue: "sign out",
		tabCandidates: []map[string]any{
			{"text": "Overview", "path": "button.gone", "x": 10, "y": 90, "w": 80, "h": 30},
		},
	})
	h.page.ClickErr = assert.AnError

	result, err := h.orchestrator.Run(context.Background(), CaptureRequest{
		URL:        "https://example.test/account",
		DetectTabs: true,
	})
	require.NoError(t, err)

	assert.Contains(t, artifactNames(result), "tab_1")
	require.Len(t, h.page.ClickAts, 1, "selector click failure must fall back to coordinates")
	assert.Equal(t, [2]float64{50, 105}, h.page.ClickAts[0])
}
