// File: internal/engine/types.go

// Package engine is the capture orchestrator: it ties the browser pool,
// selector resolution, readiness, authentication, tab detection, and
// scroll planning into one Run call per target URL.
package engine

import (
	"errors"
	"time"

	"github.com/krellwave/pageproof/internal/auth"
	"github.com/krellwave/pageproof/internal/readiness"
	"github.com/krellwave/pageproof/internal/resolve"
)

// Failures the caller is expected to branch on.
var (
	// ErrLoginRequired: the page demands authentication and no usable
	// credentials or cached session were available.
	ErrLoginRequired = errors.New("login required")
	// ErrLoginFailed: a login attempt was made and rejected.
	ErrLoginFailed = errors.New("login failed")
	// ErrNavigationError: the target could not be reached or rendered an
	// error page.
	ErrNavigationError = errors.New("navigation error")
)

// Actions handled by the orchestrator itself, without element
// resolution. Everything else routes through the resolver cascade.
const (
	ActionScroll resolve.Action = "scroll"
	ActionWait   resolve.Action = "wait"
)

// Interaction is one scripted step to perform before capturing.
type Interaction struct {
	Action   resolve.Action `json:"action"`
	Selector string         `json:"selector,omitempty"`
	Hint     string         `json:"hint,omitempty"`
	Value    string         `json:"value,omitempty"`
	// WaitFor, when set, is a selector that must become visible after the
	// step before the run proceeds.
	WaitFor string `json:"waitFor,omitempty"`
	// Screenshot controls the per-step capture; nil means capture.
	Screenshot *bool `json:"screenshot,omitempty"`
}

// CaptureRequest describes one page to capture.
type CaptureRequest struct {
	URL          string
	Width        int
	Height       int
	Credentials  *auth.Credentials
	Interactions []Interaction
	DetectTabs   bool
	ScrollFrames bool
	FullPage     bool
}

// Artifact kinds, in the order they are usually produced.
const (
	KindTop         = "top"
	KindInteraction = "interaction"
	KindTab         = "tab"
	KindScroll      = "scroll"
	KindFullPage    = "full_page"
	KindError       = "error"
)

// Artifact is one captured image plus the context it was taken in.
type Artifact struct {
	Name    string    `json:"name"`
	Kind    string    `json:"kind"`
	Label   string    `json:"label,omitempty"`
	URL     string    `json:"url,omitempty"`
	Error   string    `json:"error,omitempty"`
	TakenAt time.Time `json:"takenAt"`
	Data    []byte    `json:"-"`
}

// Result is the full outcome of one capture run. Artifacts appear in
// capture order. StepErrors records non-fatal failures (a missed
// interaction target, a tab that would not activate) that did not stop
// the run.
type Result struct {
	RequestedURL string            `json:"requestedUrl"`
	FinalURL     string            `json:"finalUrl"`
	Title        string            `json:"title"`
	AuthState    auth.State        `json:"-"`
	AuthStatus   string            `json:"authStatus"`
	Profile      readiness.Profile `json:"profile"`
	Artifacts    []Artifact        `json:"artifacts"`
	StepErrors   []string          `json:"stepErrors,omitempty"`
	StartedAt    time.Time         `json:"startedAt"`
	FinishedAt   time.Time         `json:"finishedAt"`

	// HTML is the final document, kept for link extraction during flow
	// crawls. It never lands in the run report.
	HTML string `json:"-"`
}
