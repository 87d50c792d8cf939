// Package openrouter provides the upstream OpenRouter API client with
// response caching and typed error classification.
package openrouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/j-veylop/openrouter-monitor/internal/models"
)

const (
	// DefaultBaseURL is the production OpenRouter API endpoint.
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	// requestTimeout bounds each upstream HTTP call.
	requestTimeout = 10 * time.Second

	// cacheTTL bounds how often the same key can hit upstream.
	cacheTTL = 30 * time.Second
)

// Client calls the OpenRouter API. A short-lived per-key cache bounds the
// upstream call rate; ForceRefresh bypasses it.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      *ttlCache
}

// NewClient creates a client for the given base URL. An empty baseURL
// selects the production endpoint.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
		cache:      newTTLCache(cacheTTL),
	}
}

// FetchStatus retrieves key metadata and credit balance for apiKey,
// issuing both upstream requests concurrently. Both must succeed; a
// partial result is never returned. On failure any still-valid cache
// entry is preserved for future calls, but the error is returned to the
// current caller.
func (c *Client) FetchStatus(ctx context.Context, apiKey string, forceRefresh bool) (*models.UpstreamStatus, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is empty")
	}

	if !forceRefresh {
		if cached, ok := c.cache.get(apiKey); ok {
			return cached, nil
		}
	}

	var (
		keyInfo     models.KeyInfo
		credits     models.Credits
		keyHeaders  http.Header
		credHeaders http.Header
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h, err := c.getJSON(gctx, "/auth/key", apiKey, &keyInfo)
		keyHeaders = h
		return err
	})
	g.Go(func() error {
		h, err := c.getJSON(gctx, "/credits", apiKey, &credits)
		credHeaders = h
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	status := &models.UpstreamStatus{
		Key:       keyInfo,
		Credits:   credits,
		FetchedAt: time.Now(),
	}
	if rh := parseRateHeaders(keyHeaders); rh != nil {
		status.RateHeaders = rh
	} else {
		status.RateHeaders = parseRateHeaders(credHeaders)
	}

	c.cache.set(apiKey, status)
	return status, nil
}

// envelope is the standard OpenRouter response wrapper.
type envelope struct {
	Data json.RawMessage `json:"data"`
}

// errorBody matches the error shapes OpenRouter returns.
type errorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// getJSON performs an authenticated GET and decodes the data envelope into
// out. It returns the response headers so callers can inspect rate-limit
// metadata.
func (c *Client) getJSON(ctx context.Context, path, apiKey string, out any) (http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(resp, body)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to parse %s response: %w", path, err)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return nil, fmt.Errorf("failed to parse %s data: %w", path, err)
	}

	return resp.Header, nil
}

// classifyHTTPError maps a non-200 response onto the error taxonomy.
func classifyHTTPError(resp *http.Response, body []byte) error {
	msg := extractErrorMessage(body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return &StatusError{Kind: KindUnauthorized, StatusCode: resp.StatusCode, Message: msg}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &StatusError{
			Kind:       KindRateLimited,
			StatusCode: resp.StatusCode,
			Message:    msg,
			RetryAfter: parseRetryAfter(resp.Header.Get("retry-after")),
		}
	case resp.StatusCode >= 500:
		return &StatusError{Kind: KindServerError, StatusCode: resp.StatusCode, Message: msg}
	default:
		return &StatusError{Kind: KindNetwork, StatusCode: resp.StatusCode, Message: msg}
	}
}

// classifyTransportError maps transport failures onto the error taxonomy.
func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &StatusError{Kind: KindTimeout, Message: err.Error()}
	}
	return &StatusError{Kind: KindNetwork, Message: err.Error()}
}

// extractErrorMessage pulls a human-readable message out of an error body.
func extractErrorMessage(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Error.Message != "" {
		return eb.Error.Message
	}

	// Some endpoints return {"error": "..."} directly.
	var flat struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &flat); err == nil && flat.Error != "" {
		return flat.Error
	}

	if len(body) > 0 {
		const maxLen = 200
		s := string(body)
		if len(s) > maxLen {
			s = s[:maxLen]
		}
		return s
	}
	return "no error details"
}

// parseRetryAfter parses a retry-after header given in seconds.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	secs, err := strconv.Atoi(value)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// parseRateHeaders extracts real-time rate-limit counters from response
// headers. Both limit and remaining must be present for the data to count
// as real-time; reset is optional.
func parseRateHeaders(h http.Header) *models.RateHeaders {
	if h == nil {
		return nil
	}

	limit, err := strconv.Atoi(h.Get("x-ratelimit-limit"))
	if err != nil || limit <= 0 {
		return nil
	}
	remaining, err := strconv.Atoi(h.Get("x-ratelimit-remaining"))
	if err != nil || remaining < 0 {
		return nil
	}

	rh := &models.RateHeaders{Limit: limit, Remaining: remaining}

	if reset := h.Get("x-ratelimit-reset"); reset != "" {
		if epoch, err := strconv.ParseInt(reset, 10, 64); err == nil && epoch > 0 {
			// Upstream reports milliseconds; tolerate seconds too.
			if epoch > 1e12 {
				rh.ResetAt = time.UnixMilli(epoch)
			} else {
				rh.ResetAt = time.Unix(epoch, 0)
			}
		}
	}

	return rh
}
