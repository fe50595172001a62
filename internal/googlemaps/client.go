// Package googlemaps talks to the Google Maps web services: directions,
// geocoding, Street View metadata and tiles, and elevation.
package googlemaps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"hyperlapse-desktop/internal/cache"
	"hyperlapse-desktop/internal/common"
	"hyperlapse-desktop/internal/ratelimit"
)

const (
	DefaultBaseURL = "https://maps.googleapis.com/maps/api"
	DefaultTileURL = "https://maps.google.com/cbk"

	UserAgent = "HyperlapseDesktop/1.0"
)

// Web service status values shared by every JSON endpoint.
const (
	statusOK             = "OK"
	statusZeroResults    = "ZERO_RESULTS"
	statusNotFound       = "NOT_FOUND"
	statusOverQueryLimit = "OVER_QUERY_LIMIT"
	statusRequestDenied  = "REQUEST_DENIED"
)

// Config holds configuration for the Client
type Config struct {
	APIKey     string
	BaseURL    string
	TileURL    string
	HTTPClient *http.Client

	RateLimit *ratelimit.Handler         // optional
	TileCache *cache.PersistentTileCache // optional
}

// Client implements the route, metadata, tile and elevation providers.
type Client struct {
	apiKey     string
	baseURL    string
	tileURL    string
	httpClient *http.Client
	rateLimit  *ratelimit.Handler
	tileCache  *cache.PersistentTileCache
}

// NewClient creates a client with system proxy support
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
			},
		}
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	tileURL := cfg.TileURL
	if tileURL == "" {
		tileURL = DefaultTileURL
	}

	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		tileURL:    tileURL,
		httpClient: httpClient,
		rateLimit:  cfg.RateLimit,
		tileCache:  cfg.TileCache,
	}
}

type httpStatusError struct {
	Code int
	Body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Body)
}

// apiStatusError is a non-OK status in a JSON response body.
type apiStatusError struct {
	Status  string
	Message string
}

func (e *apiStatusError) Error() string {
	if e.Message == "" {
		return e.Status
	}
	return fmt.Sprintf("%s: %s", e.Status, e.Message)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "*/*")
}

func (c *Client) endpoint(path string, params url.Values) string {
	if c.apiKey != "" {
		params.Set("key", c.apiKey)
	}
	return fmt.Sprintf("%s/%s/json?%s", c.baseURL, path, params.Encode())
}

func (c *Client) newRequest(ctx context.Context, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	return req, nil
}

func (c *Client) do(provider string, req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if c.rateLimit != nil {
		c.rateLimit.CheckResponse(provider, resp)
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &httpStatusError{
			Code: resp.StatusCode,
			Body: strings.TrimSpace(string(b)),
		}
	}
	return resp, nil
}

// doWithRetry retries network errors and 5xx responses with exponential
// backoff while respecting context cancellation. 429 is left to the rate
// limit handler.
func (c *Client) doWithRetry(ctx context.Context, provider string, rawURL string) (*http.Response, error) {
	const maxAttempts = 4
	backoff := 200 * time.Millisecond

	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if c.rateLimit != nil && c.rateLimit.IsRateLimited(provider) {
			return nil, fmt.Errorf("%w: %s", common.ErrRateLimited, common.DisplayName(provider))
		}

		req, err := c.newRequest(ctx, rawURL)
		if err != nil {
			return nil, err
		}

		resp, err := c.do(provider, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		retry := false
		var he *httpStatusError
		if errors.As(err, &he) {
			switch he.Code {
			case 500, 502, 503, 504:
				retry = true
			}
		}

		var netErr net.Error
		if !retry && errors.As(err, &netErr) && ctx.Err() == nil {
			retry = true
		}

		if !retry || attempt == maxAttempts {
			return nil, lastErr
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		backoff *= 2
	}

	return nil, lastErr
}

// getJSON fetches a web service endpoint and decodes it into out. A body
// status of OVER_QUERY_LIMIT is recorded with the rate limit handler.
func (c *Client) getJSON(ctx context.Context, provider, rawURL string, out interface{ status() (string, string) }) error {
	resp, err := c.doWithRetry(ctx, provider, rawURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", provider, err)
	}

	status, msg := out.status()
	switch status {
	case statusOK:
		return nil
	case statusOverQueryLimit:
		if c.rateLimit != nil {
			c.rateLimit.RecordQuota(provider)
		}
		return fmt.Errorf("%w: %s", common.ErrQuotaExceeded, (&apiStatusError{status, msg}).Error())
	default:
		return &apiStatusError{Status: status, Message: msg}
	}
}

// isNoResults reports whether err is a ZERO_RESULTS or NOT_FOUND status.
func isNoResults(err error) bool {
	var ae *apiStatusError
	return errors.As(err, &ae) && (ae.Status == statusZeroResults || ae.Status == statusNotFound)
}

type latLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type statusBody struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
}

func (s *statusBody) status() (string, string) { return s.Status, s.ErrorMessage }
