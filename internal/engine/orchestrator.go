// File: internal/engine/orchestrator.go

package engine

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/krellwave/pageproof/internal/auth"
	"github.com/krellwave/pageproof/internal/config"
	"github.com/krellwave/pageproof/internal/driver"
	"github.com/krellwave/pageproof/internal/pool"
	"github.com/krellwave/pageproof/internal/readiness"
	"github.com/krellwave/pageproof/internal/resolve"
	"github.com/krellwave/pageproof/internal/scroll"
	"github.com/krellwave/pageproof/internal/tabs"
)

// Orchestrator executes capture requests against pooled browsers.
type Orchestrator struct {
	cfg        config.CaptureConfig
	logger     *zap.Logger
	pool       *pool.Manager
	resolver   *resolve.Resolver
	classifier *readiness.Classifier
	auth       *auth.Controller
	tabs       *tabs.Detector
	planner    *scroll.Planner
}

// NewOrchestrator wires the orchestrator to its collaborators.
func NewOrchestrator(
	cfg config.CaptureConfig,
	logger *zap.Logger,
	poolMgr *pool.Manager,
	resolver *resolve.Resolver,
	classifier *readiness.Classifier,
	authController *auth.Controller,
	tabDetector *tabs.Detector,
	planner *scroll.Planner,
) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		logger:     logger.Named("engine"),
		pool:       poolMgr,
		resolver:   resolver,
		classifier: classifier,
		auth:       authController,
		tabs:       tabDetector,
		planner:    planner,
	}
}

// Run captures one page end to end. The page, its browsing context, and
// the browser are pool-managed; the page itself is always closed before
// Run returns, on success and on every error path. A non-nil Result is
// returned even on failure so callers can persist whatever artifacts
// (usually error screenshots) were produced before the run died.
func (o *Orchestrator) Run(ctx context.Context, req CaptureRequest) (*Result, error) {
	result := &Result{
		RequestedURL: req.URL,
		StartedAt:    time.Now(),
	}
	defer func() {
		result.FinishedAt = time.Now()
		result.AuthStatus = result.AuthState.String()
	}()

	if o.cfg.PageDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.PageDeadline)
		defer cancel()
	}

	sessionKey, poolKey := o.keys(req)

	browser, err := o.pool.AcquireBrowser(ctx, poolKey)
	if err != nil {
		return result, fmt.Errorf("failed to acquire browser: %w", err)
	}
	vp := driver.Viewport{Width: o.viewportWidth(req), Height: o.viewportHeight(req)}
	bctx, err := o.pool.AcquireContext(ctx, browser, vp, sessionKey)
	if err != nil {
		return result, fmt.Errorf("failed to acquire browsing context: %w", err)
	}
	page, err := bctx.NewPage(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to open page: %w", err)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		if err := page.Close(closeCtx); err != nil {
			o.logger.Warn("Failed to close page.", zap.Error(err))
		}
	}()

	o.logger.Info("Starting capture.",
		zap.String("url", req.URL),
		zap.String("viewport", vp.Key()),
		zap.String("pool_key", poolKey))

	if err := o.navigate(ctx, page, req, result); err != nil {
		return result, err
	}
	if err := o.authenticate(ctx, page, req, result); err != nil {
		return result, err
	}

	result.Profile = o.classifier.Classify(ctx, page)
	o.classifier.AwaitReady(ctx, page, result.Profile, false)

	result.FinalURL, _ = page.CurrentURL(ctx)
	result.Title, _ = page.Title(ctx)

	topShot := o.capture(ctx, page, result, KindTop, KindTop, "")

	o.runInteractions(ctx, page, req, result)

	if req.DetectTabs {
		o.captureTabs(ctx, page, result, topShot)
	}
	if req.ScrollFrames {
		o.captureScrollFrames(ctx, page, result)
	}
	if req.FullPage {
		o.captureFullPage(ctx, page, result)
	}

	result.HTML, _ = page.HTML(ctx)

	o.logger.Info("Capture complete.",
		zap.String("url", req.URL),
		zap.Int("artifacts", len(result.Artifacts)),
		zap.Int("step_errors", len(result.StepErrors)))
	return result, nil
}

// keys derives the session cache key and the pool identity key. Requests
// sharing credentials against the same host share a browser and a
// browsing context; everything else is isolated.
func (o *Orchestrator) keys(req CaptureRequest) (sessionKey, poolKey string) {
	host := ""
	if u, err := url.Parse(req.URL); err == nil {
		host = u.Hostname()
	}
	principal := "anonymous"
	if req.Credentials != nil && req.Credentials.Username != "" {
		principal = req.Credentials.Username
	}
	sessionKey = host + "|" + principal
	return sessionKey, sessionKey
}

func (o *Orchestrator) navigate(ctx context.Context, page driver.Page, req CaptureRequest, result *Result) error {
	navCtx := ctx
	if o.cfg.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, o.cfg.NavigationTimeout)
		defer cancel()
	}
	if err := page.Navigate(navCtx, req.URL); err != nil {
		o.capture(ctx, page, result, KindError, "error_navigation", err.Error())
		return fmt.Errorf("%w: %v", ErrNavigationError, err)
	}
	o.classifier.AwaitReady(ctx, page, readiness.Profile{}, true)

	if kind := o.detectErrorPage(ctx, page); kind != "" {
		o.capture(ctx, page, result, KindError, "error_"+kind, "rendered an error page: "+kind)
		return fmt.Errorf("%w: target rendered %s page", ErrNavigationError, kind)
	}
	return nil
}

// authenticate runs the login state machine when the landing page
// demands it. Missing credentials and rejected logins are hard failures;
// the error screenshot stays in the result either way.
func (o *Orchestrator) authenticate(ctx context.Context, page driver.Page, req CaptureRequest, result *Result) error {
	before, _ := page.CurrentURL(ctx)
	state, err := o.auth.Ensure(ctx, page, req.Credentials)
	result.AuthState = state
	if err != nil {
		o.logger.Warn("Authentication check errored; treating page as-is.", zap.Error(err))
		return nil
	}
	switch state {
	case auth.StateNeedsLogin:
		o.capture(ctx, page, result, KindError, "error_login_required", "page requires login")
		return ErrLoginRequired
	case auth.StateLoginFailed:
		o.capture(ctx, page, result, KindError, "error_login_failed", "login attempt rejected")
		return ErrLoginFailed
	case auth.StateLoginSucceeded:
		// Landed somewhere post-login; return to the requested page.
		if err := o.returnToTarget(ctx, page, req, result); err != nil {
			return err
		}
		result.AuthState = auth.StateAuthenticated
	case auth.StateAuthenticated:
		// A cached-session restore reloads the page and may land on the
		// login page's redirect target. Only undo moves made during
		// Ensure; a site redirect from the original navigation stands.
		if current, _ := page.CurrentURL(ctx); current != before {
			if err := o.returnToTarget(ctx, page, req, result); err != nil {
				return err
			}
		}
	}
	return nil
}

func (o *Orchestrator) returnToTarget(ctx context.Context, page driver.Page, req CaptureRequest, result *Result) error {
	current, _ := page.CurrentURL(ctx)
	if current == req.URL {
		return nil
	}
	if err := page.Navigate(ctx, req.URL); err != nil {
		o.capture(ctx, page, result, KindError, "error_navigation", err.Error())
		return fmt.Errorf("%w: %v", ErrNavigationError, err)
	}
	o.classifier.AwaitReady(ctx, page, readiness.Profile{}, true)
	return nil
}

// runInteractions performs the scripted steps. A failed step is recorded
// with an error screenshot and the run continues with the next step.
func (o *Orchestrator) runInteractions(ctx context.Context, page driver.Page, req CaptureRequest, result *Result) {
	for i, step := range req.Interactions {
		name := fmt.Sprintf("%s_%d", KindInteraction, i+1)
		if err := o.performStep(ctx, page, step); err != nil {
			o.logger.Warn("Interaction step failed; continuing.",
				zap.Int("step", i+1), zap.Error(err))
			result.StepErrors = append(result.StepErrors,
				fmt.Sprintf("interaction %d (%s): %v", i+1, step.Action, err))
			o.capture(ctx, page, result, KindError, name+"_error", err.Error())
			continue
		}
		if step.WaitFor != "" {
			if err := page.WaitVisible(ctx, step.WaitFor, o.cfg.ResolveWait); err != nil {
				result.StepErrors = append(result.StepErrors,
					fmt.Sprintf("interaction %d waitFor %q: %v", i+1, step.WaitFor, err))
			}
		}
		o.classifier.AwaitReady(ctx, page, result.Profile, true)
		if step.Screenshot == nil || *step.Screenshot {
			o.capture(ctx, page, result, KindInteraction, name, "")
		}
	}
}

func (o *Orchestrator) performStep(ctx context.Context, page driver.Page, step Interaction) error {
	switch step.Action {
	case ActionScroll:
		amount := o.cfg.ScrollStep
		if step.Value != "" {
			n, err := strconv.Atoi(step.Value)
			if err != nil {
				return fmt.Errorf("invalid scroll amount %q: %w", step.Value, err)
			}
			amount = n
		}
		return page.Evaluate(ctx, fmt.Sprintf("window.scrollBy(0, %d)", amount), nil)
	case ActionWait:
		if step.Selector != "" {
			return page.WaitVisible(ctx, step.Selector, o.cfg.ResolveWait)
		}
		ms := 500
		if step.Value != "" {
			n, err := strconv.Atoi(step.Value)
			if err != nil {
				return fmt.Errorf("invalid wait duration %q: %w", step.Value, err)
			}
			ms = n
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(ms) * time.Millisecond):
			return nil
		}
	}

	res, err := o.resolver.Resolve(ctx, page, resolve.Query{
		Selector: step.Selector,
		Hint:     step.Hint,
		Action:   step.Action,
	})
	if err != nil {
		return err
	}
	switch step.Action {
	case resolve.ActionClick:
		return page.Click(ctx, res.Selector)
	case resolve.ActionHover:
		return page.Hover(ctx, res.Selector)
	case resolve.ActionFill:
		return page.Fill(ctx, res.Selector, step.Value)
	case resolve.ActionSelect:
		return page.SelectOption(ctx, res.Selector, step.Value)
	default:
		return fmt.Errorf("unsupported interaction action %q", step.Action)
	}
}

// captureTabs activates each detected tab region and captures its pane.
// Activation failures are step errors, not run failures.
func (o *Orchestrator) captureTabs(ctx context.Context, page driver.Page, result *Result, topShot []byte) {
	regions, err := o.tabs.Detect(ctx, page, topShot)
	if err != nil {
		result.StepErrors = append(result.StepErrors, fmt.Sprintf("tab detection: %v", err))
		return
	}
	for i, region := range regions {
		name := fmt.Sprintf("%s_%d", KindTab, i+1)
		if err := o.activateTab(ctx, page, region); err != nil {
			o.logger.Warn("Tab activation failed; continuing.",
				zap.String("label", region.Label), zap.Error(err))
			result.StepErrors = append(result.StepErrors,
				fmt.Sprintf("tab %q: %v", region.Label, err))
			continue
		}
		o.classifier.AwaitReady(ctx, page, result.Profile, true)
		o.captureLabeled(ctx, page, result, KindTab, name, region.Label)
	}
}

func (o *Orchestrator) activateTab(ctx context.Context, page driver.Page, region tabs.Region) error {
	if region.Selector != "" {
		if err := page.Click(ctx, region.Selector); err == nil {
			return nil
		}
	}
	if region.CenterX > 0 || region.CenterY > 0 {
		return page.ClickAt(ctx, region.CenterX, region.CenterY)
	}
	return fmt.Errorf("region %q has no selector and no position", region.Label)
}

func (o *Orchestrator) captureScrollFrames(ctx context.Context, page driver.Page, result *Result) {
	plan, err := o.planner.Plan(ctx, page)
	if err != nil {
		result.StepErrors = append(result.StepErrors, fmt.Sprintf("scroll planning: %v", err))
		return
	}
	if plan.Empty() {
		return
	}
	for i, offset := range plan.Offsets {
		if err := o.planner.ScrollTo(ctx, page, plan, offset); err != nil {
			result.StepErrors = append(result.StepErrors,
				fmt.Sprintf("scroll to %d: %v", offset, err))
			break
		}
		o.classifier.AwaitReady(ctx, page, readiness.Profile{}, true)
		o.capture(ctx, page, result, KindScroll, fmt.Sprintf("%s_%d", KindScroll, i+1), "")
	}
	if err := o.planner.ResetTop(ctx, page, plan); err != nil {
		o.logger.Debug("Failed to reset scroll position.", zap.Error(err))
	}
}

func (o *Orchestrator) captureFullPage(ctx context.Context, page driver.Page, result *Result) {
	data, err := page.FullScreenshot(ctx)
	if err != nil {
		result.StepErrors = append(result.StepErrors, fmt.Sprintf("full page capture: %v", err))
		return
	}
	o.appendArtifact(ctx, page, result, Artifact{
		Name: KindFullPage,
		Kind: KindFullPage,
		Data: data,
	})
}

// capture takes a viewport screenshot and appends it. Screenshot
// failures on error-kind captures are swallowed: the error artifact is
// best effort diagnostics.
func (o *Orchestrator) capture(ctx context.Context, page driver.Page, result *Result, kind, name, errText string) []byte {
	data, err := page.Screenshot(ctx)
	if err != nil {
		if kind != KindError {
			result.StepErrors = append(result.StepErrors,
				fmt.Sprintf("screenshot %s: %v", name, err))
		}
		return nil
	}
	o.appendArtifact(ctx, page, result, Artifact{
		Name:  name,
		Kind:  kind,
		Error: errText,
		Data:  data,
	})
	return data
}

func (o *Orchestrator) captureLabeled(ctx context.Context, page driver.Page, result *Result, kind, name, label string) {
	data, err := page.Screenshot(ctx)
	if err != nil {
		result.StepErrors = append(result.StepErrors,
			fmt.Sprintf("screenshot %s: %v", name, err))
		return
	}
	o.appendArtifact(ctx, page, result, Artifact{
		Name:  name,
		Kind:  kind,
		Label: label,
		Data:  data,
	})
}

func (o *Orchestrator) appendArtifact(ctx context.Context, page driver.Page, result *Result, a Artifact) {
	a.TakenAt = time.Now()
	a.URL, _ = page.CurrentURL(ctx)
	result.Artifacts = append(result.Artifacts, a)
}

func (o *Orchestrator) viewportWidth(req CaptureRequest) int {
	if req.Width > 0 {
		return req.Width
	}
	return o.cfg.ViewportWidth
}

func (o *Orchestrator) viewportHeight(req CaptureRequest) int {
	if req.Height > 0 {
		return req.Height
	}
	return o.cfg.ViewportHeight
}
