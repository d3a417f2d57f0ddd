// File: internal/auth/controller.go

// Package auth detects, performs, and verifies login. The status checks
// that were scattered booleans in lesser tools are an explicit state
// machine here: Unknown -> Checking -> {Authenticated, Anonymous,
// NeedsLogin} -> LoggingIn -> {LoginSucceeded, LoginFailed}.
package auth

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/krellwave/pageproof/internal/config"
	"github.com/krellwave/pageproof/internal/driver"
	"github.com/krellwave/pageproof/internal/pool"
	"github.com/krellwave/pageproof/internal/readiness"
	"github.com/krellwave/pageproof/internal/resolve"
)

// State is the authentication controller's position in its machine.
type State int

const (
	StateUnknown State = iota
	StateChecking
	StateAuthenticated
	// StateAnonymous: a page with neither session indicators nor login
	// indicators. Public pages capture in this state.
	StateAnonymous
	StateNeedsLogin
	StateLoggingIn
	StateLoginSucceeded
	StateLoginFailed
)

func (s State) String() string {
	switch s {
	case StateChecking:
		return "checking"
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	case StateNeedsLogin:
		return "needs_login"
	case StateLoggingIn:
		return "logging_in"
	case StateLoginSucceeded:
		return "login_succeeded"
	case StateLoginFailed:
		return "login_failed"
	default:
		return "unknown"
	}
}

// Credentials is the caller-supplied login material. Selector fields are
// optional; the configured defaults cover the common form shapes.
type Credentials struct {
	Username         string
	Password         string
	LoginURL         string
	UsernameSelector string
	PasswordSelector string
	SubmitSelector   string
}

// SessionCache is the slice of the pool manager the controller needs.
type SessionCache interface {
	GetCachedSession(domain, principal string) *pool.CachedSession
	CacheSession(session *pool.CachedSession)
	InvalidateSession(domain, principal string)
}

// Controller drives the authentication state machine for one page.
type Controller struct {
	logger     *zap.Logger
	cfg        config.AuthConfig
	resolver   *resolve.Resolver
	classifier *readiness.Classifier
	cache      SessionCache
	verifyWait time.Duration
}

// NewController wires the controller to its collaborators.
func NewController(logger *zap.Logger, cfg config.AuthConfig, resolver *resolve.Resolver, classifier *readiness.Classifier, cache SessionCache) *Controller {
	return &Controller{
		logger:     logger.Named("auth"),
		cfg:        cfg,
		resolver:   resolver,
		classifier: classifier,
		cache:      cache,
		verifyWait: 15 * time.Second,
	}
}

// pageIndicators is what the probe script reports.
type pageIndicators struct {
	HasPasswordInput bool   `json:"hasPasswordInput"`
	SessionCue       string `json:"sessionCue"`
	Title            string `json:"title"`
}

// Check classifies the current page. Authenticated requires session
// indicators present AND login indicators absent — some authenticated
// pages still render password inputs, so both conditions must hold.
// NeedsLogin requires actual login indicators; a page showing neither
// kind of signal is an ordinary public page, not a login surface.
func (c *Controller) Check(ctx context.Context, page driver.Page) (State, error) {
	currentURL, err := page.CurrentURL(ctx)
	if err != nil {
		return StateUnknown, fmt.Errorf("failed to read current URL: %w", err)
	}

	var ind pageIndicators
	if err := page.Evaluate(ctx, indicatorScript(c.cfg.SessionCues), &ind); err != nil {
		return StateUnknown, fmt.Errorf("failed to probe page indicators: %w", err)
	}

	loginLike := c.looksLikeLoginPage(currentURL, ind)
	sessionPresent := ind.SessionCue != ""

	c.logger.Debug("Authentication check.",
		zap.String("url", currentURL),
		zap.Bool("session_indicators", sessionPresent),
		zap.Bool("login_indicators", loginLike),
		zap.String("matched_cue", ind.SessionCue))

	if sessionPresent && !loginLike {
		return StateAuthenticated, nil
	}
	if loginLike {
		return StateNeedsLogin, nil
	}
	return StateAnonymous, nil
}

// Ensure takes the page to an authenticated state if it can: cached
// session restore first, then at most one login attempt. The returned
// state is terminal for this request; the controller never retries.
func (c *Controller) Ensure(ctx context.Context, page driver.Page, creds *Credentials) (State, error) {
	state, err := c.Check(ctx, page)
	if err != nil {
		return state, err
	}
	if state == StateAuthenticated {
		return StateAuthenticated, nil
	}
	if state == StateAnonymous {
		// Not a login surface. An explicit login URL is the only way to
		// authenticate from here; otherwise the page captures as-is.
		if creds != nil && creds.Username != "" && creds.LoginURL != "" {
			return c.login(ctx, page, c.currentDomain(ctx, page), creds)
		}
		return StateAnonymous, nil
	}

	domain := c.currentDomain(ctx, page)
	principal := ""
	if creds != nil {
		principal = creds.Username
	}

	if restored, err := c.tryRestore(ctx, page, domain, principal); err == nil && restored {
		return StateAuthenticated, nil
	}

	if creds == nil || creds.Username == "" {
		return StateNeedsLogin, nil
	}
	return c.login(ctx, page, domain, creds)
}

// tryRestore replays cached cookies and storage, reloads, and re-checks.
// A restore that does not land authenticated invalidates the cache entry.
func (c *Controller) tryRestore(ctx context.Context, page driver.Page, domain, principal string) (bool, error) {
	session := c.cache.GetCachedSession(domain, principal)
	if session == nil {
		return false, nil
	}

	c.logger.Info("Restoring cached session.",
		zap.String("domain", domain), zap.String("principal", principal))

	if err := page.SetCookies(ctx, session.Cookies); err != nil {
		c.cache.InvalidateSession(domain, principal)
		return false, fmt.Errorf("cookie restore failed: %w", err)
	}
	if err := page.SetLocalStorage(ctx, session.Storage); err != nil {
		c.logger.Debug("Storage restore failed; continuing with cookies only.", zap.Error(err))
	}
	if err := page.Reload(ctx); err != nil {
		c.cache.InvalidateSession(domain, principal)
		return false, fmt.Errorf("reload after restore failed: %w", err)
	}
	c.classifier.AwaitReady(ctx, page, readiness.Profile{}, true)

	state, err := c.Check(ctx, page)
	if err != nil || state != StateAuthenticated {
		c.logger.Warn("Cached session restore did not authenticate; invalidating.",
			zap.String("domain", domain))
		c.cache.InvalidateSession(domain, principal)
		return false, err
	}
	return true, nil
}

// login performs the single permitted login attempt.
func (c *Controller) login(ctx context.Context, page driver.Page, domain string, creds *Credentials) (State, error) {
	c.logger.Info("Attempting login.", zap.String("domain", domain))

	currentURL, _ := page.CurrentURL(ctx)
	if creds.LoginURL != "" && !sameResource(currentURL, creds.LoginURL) {
		if err := page.Navigate(ctx, creds.LoginURL); err != nil {
			return StateLoginFailed, fmt.Errorf("failed to reach login page: %w", err)
		}
		c.classifier.AwaitReady(ctx, page, readiness.Profile{}, true)
	}

	userSel, err := c.resolveField(ctx, page, creds.UsernameSelector, c.cfg.UsernameSelectors, "username", resolve.ActionFill)
	if err != nil {
		return StateLoginFailed, fmt.Errorf("username field: %w", err)
	}
	passSel, err := c.resolveField(ctx, page, creds.PasswordSelector, c.cfg.PasswordSelectors, "password", resolve.ActionFill)
	if err != nil {
		return StateLoginFailed, fmt.Errorf("password field: %w", err)
	}

	if err := page.Fill(ctx, userSel, creds.Username); err != nil {
		return StateLoginFailed, fmt.Errorf("failed to fill username: %w", err)
	}
	if err := page.Fill(ctx, passSel, creds.Password); err != nil {
		return StateLoginFailed, fmt.Errorf("failed to fill password: %w", err)
	}

	submitSel, err := c.resolveField(ctx, page, creds.SubmitSelector, c.cfg.SubmitSelectors, "sign in", resolve.ActionClick)
	if err != nil {
		return StateLoginFailed, fmt.Errorf("submit control: %w", err)
	}
	submittedFrom, _ := page.CurrentURL(ctx)
	if err := page.Click(ctx, submitSel); err != nil {
		return StateLoginFailed, fmt.Errorf("failed to submit login form: %w", err)
	}

	outcome := c.awaitLoginOutcome(ctx, page, submittedFrom)
	if outcome != StateLoginSucceeded {
		c.logger.Warn("Login attempt failed.", zap.String("domain", domain))
		return StateLoginFailed, nil
	}

	c.harvestSession(ctx, page, domain, creds.Username)
	return StateLoginSucceeded, nil
}

// awaitLoginOutcome races a navigation away from the login surface against
// the appearance of an error element.
func (c *Controller) awaitLoginOutcome(ctx context.Context, page driver.Page, submittedFrom string) State {
	deadline := time.Now().Add(c.verifyWait)
	for {
		var errText bool
		if err := page.Evaluate(ctx, errorCueScript(c.cfg.ErrorCues), &errText); err == nil && errText {
			return StateLoginFailed
		}

		currentURL, err := page.CurrentURL(ctx)
		if err == nil && currentURL != submittedFrom && !c.urlLooksLikeLogin(currentURL) {
			c.classifier.AwaitReady(ctx, page, readiness.Profile{}, true)
			return StateLoginSucceeded
		}

		if time.Now().After(deadline) || ctx.Err() != nil {
			// Still parked on a login-like URL with no explicit error: the
			// submission did not take.
			return StateLoginFailed
		}
		select {
		case <-ctx.Done():
			return StateLoginFailed
		case <-time.After(300 * time.Millisecond):
		}
	}
}

// harvestSession captures cookies and storage into the session cache.
func (c *Controller) harvestSession(ctx context.Context, page driver.Page, domain, principal string) {
	cookies, err := page.Cookies(ctx)
	if err != nil {
		c.logger.Warn("Failed to harvest cookies after login; session not cached.", zap.Error(err))
		return
	}
	storage, err := page.LocalStorage(ctx)
	if err != nil {
		c.logger.Debug("Failed to harvest localStorage.", zap.Error(err))
		storage = nil
	}
	c.cache.CacheSession(&pool.CachedSession{
		Domain:     domain,
		Principal:  principal,
		Cookies:    cookies,
		Storage:    storage,
		CapturedAt: time.Now(),
	})
}

// resolveField resolves a form field, falling back to the configured
// default selectors (joined as one CSS alternation) when the caller
// supplied none.
func (c *Controller) resolveField(ctx context.Context, page driver.Page, explicit string, defaults []string, hint string, action resolve.Action) (string, error) {
	selector := explicit
	if selector == "" {
		selector = strings.Join(defaults, ", ")
	}
	res, err := c.resolver.Resolve(ctx, page, resolve.Query{
		Selector: selector,
		Hint:     hint,
		Action:   action,
	})
	if err != nil {
		return "", err
	}
	return res.Selector, nil
}

// looksLikeLoginPage combines URL hints, a rendered password input, and
// title cues.
func (c *Controller) looksLikeLoginPage(currentURL string, ind pageIndicators) bool {
	if c.urlLooksLikeLogin(currentURL) {
		return true
	}
	if ind.HasPasswordInput {
		return true
	}
	title := strings.ToLower(ind.Title)
	for _, hint := range []string{"log in", "login", "sign in"} {
		if strings.Contains(title, hint) {
			return true
		}
	}
	return false
}

// urlLooksLikeLogin applies the configured path hints. This is the
// known-imprecise prefix heuristic: query-string changes and single-page
// apps that never touch the URL will slip past it.
func (c *Controller) urlLooksLikeLogin(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	for _, hint := range c.cfg.LoginPathHints {
		if strings.Contains(path, strings.ToLower(hint)) {
			return true
		}
	}
	return false
}

func (c *Controller) currentDomain(ctx context.Context, page driver.Page) string {
	currentURL, err := page.CurrentURL(ctx)
	if err != nil {
		return ""
	}
	u, err := url.Parse(currentURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// sameResource compares two URLs ignoring scheme and trailing slashes.
func sameResource(a, b string) bool {
	norm := func(s string) string {
		u, err := url.Parse(s)
		if err != nil {
			return s
		}
		return u.Hostname() + strings.TrimRight(u.Path, "/")
	}
	return norm(a) == norm(b)
}
