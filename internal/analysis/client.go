// File: internal/analysis/client.go

// Package analysis talks to the optional external page analysis service.
// The service takes a screenshot plus a structural summary of the DOM and
// returns region hints and navigation diagnostics. Everything here is
// advisory: callers must degrade to their heuristics when the service is
// disabled or unreachable.
package analysis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/krellwave/pageproof/internal/config"
)

// ErrUnavailable marks any failure to obtain an analysis: disabled
// service, exhausted retries, or an unusable response. Callers switch to
// heuristic behavior on it.
var ErrUnavailable = errors.New("analysis service unavailable")

// Region is one content region the service identified on the page.
type Region struct {
	Label    string `json:"label"`
	Selector string `json:"selector,omitempty"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// PageAnalysis is the service's verdict on a captured page.
type PageAnalysis struct {
	NavigationIssue string   `json:"navigationIssue,omitempty"`
	Regions         []Region `json:"regions"`
	StrategyNotes   string   `json:"strategyNotes,omitempty"`
}

// Request is what we send: the requested URL for context, a PNG
// screenshot, and a compact structural summary of the DOM.
type Request struct {
	URL               string `json:"url"`
	Screenshot        string `json:"screenshot"`
	StructuralSummary string `json:"structuralSummary"`
}

type responsePayload struct {
	Analysis PageAnalysis `json:"analysis"`
	Error    string       `json:"error,omitempty"`
}

// Client is the HTTP client for the analysis endpoint.
type Client struct {
	cfg        config.AnalysisConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewClient validates the configuration and builds a client. A nil
// client is returned (without error) when the service is disabled.
func NewClient(cfg config.AnalysisConfig, logger *zap.Logger) (*Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("analysis is enabled but no endpoint is configured")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("analysis is enabled but no API key is configured")
	}

	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.RateBurst
	if burst < 1 {
		burst = 1
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.Named("analysis"),
	}, nil
}

// Analyze submits one page for analysis with retries. Transient HTTP
// failures are retried with exponential backoff; anything that exhausts
// the budget comes back wrapped in ErrUnavailable.
func (c *Client) Analyze(ctx context.Context, pageURL string, screenshot []byte, structuralSummary string) (*PageAnalysis, error) {
	if c == nil {
		return nil, ErrUnavailable
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	body, err := json.Marshal(Request{
		URL:               pageURL,
		Screenshot:        base64.StdEncoding.EncodeToString(screenshot),
		StructuralSummary: structuralSummary,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal analysis request: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.cfg.Timeout * time.Duration(c.cfg.MaxRetries+1)
	b.MaxInterval = 10 * time.Second

	var result *PageAnalysis

	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewBuffer(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

		startTime := time.Now()
		resp, err := c.httpClient.Do(httpReq)
		duration := time.Since(startTime)

		if err != nil {
			c.logger.Warn("Network error during analysis request, retrying...", zap.Error(err))
			return fmt.Errorf("failed to execute HTTP request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			return c.handleAPIError(resp.StatusCode, respBody)
		}

		var payload responsePayload
		if err := json.Unmarshal(respBody, &payload); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response payload: %w", err))
		}
		if payload.Error != "" {
			return backoff.Permanent(fmt.Errorf("analysis service rejected request: %s", payload.Error))
		}

		c.logger.Info("Page analysis complete.",
			zap.Duration("duration", duration),
			zap.Int("regions", len(payload.Analysis.Regions)),
			zap.String("url", pageURL))

		result = &payload.Analysis
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return result, nil
}

func (c *Client) handleAPIError(statusCode int, body []byte) error {
	c.logger.Error("Analysis service returned error status",
		zap.Int("status", statusCode), zap.String("response", string(body)))
	err := fmt.Errorf("analysis service error: status %d, body: %s", statusCode, string(body))

	switch statusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusInternalServerError:
		return err // Transient, retry.
	default:
		return backoff.Permanent(err)
	}
}
