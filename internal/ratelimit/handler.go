package ratelimit

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"hyperlapse-desktop/internal/common"
)

// RetryStrategy defines the backoff intervals for rate limit retries
type RetryStrategy struct {
	Intervals  []time.Duration
	MaxRetries int
}

// DefaultRetryStrategy backs off from 30 seconds to 10 minutes.
func DefaultRetryStrategy() *RetryStrategy {
	return &RetryStrategy{
		Intervals: []time.Duration{
			30 * time.Second,
			1 * time.Minute,
			2 * time.Minute,
			5 * time.Minute,
			10 * time.Minute,
		},
		MaxRetries: 10,
	}
}

// RateLimitEvent represents a rate limit occurrence
type RateLimitEvent struct {
	Timestamp    time.Time `json:"timestamp" ts_type:"string"`
	Provider     string    `json:"provider"`
	StatusCode   int       `json:"statusCode"` // 0 when signalled in the response body
	RetryAttempt int       `json:"retryAttempt"`
	NextRetryAt  time.Time `json:"nextRetryAt" ts_type:"string"`
	Message      string    `json:"message"`
}

// Handler tracks which providers are backing off.
type Handler struct {
	mu               sync.RWMutex
	rateLimited      map[string]*RateLimitEvent
	strategy         *RetryStrategy
	onRateLimit      func(event RateLimitEvent)
	onRetry          func(event RateLimitEvent)
	onRecovered      func(provider string)
	autoRetryEnabled bool
	now              func() time.Time
	ctx              context.Context
	cancel           context.CancelFunc
}

// NewHandler creates a new rate limit handler
func NewHandler(strategy *RetryStrategy) *Handler {
	if strategy == nil || len(strategy.Intervals) == 0 {
		strategy = DefaultRetryStrategy()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Handler{
		rateLimited:      make(map[string]*RateLimitEvent),
		strategy:         strategy,
		autoRetryEnabled: true,
		now:              time.Now,
		ctx:              ctx,
		cancel:           cancel,
	}
}

// SetOnRateLimit sets the callback for rate limit events
func (h *Handler) SetOnRateLimit(callback func(event RateLimitEvent)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRateLimit = callback
}

// SetOnRetry sets the callback for retry attempts
func (h *Handler) SetOnRetry(callback func(event RateLimitEvent)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRetry = callback
}

// SetOnRecovered sets the callback for recovery from rate limit
func (h *Handler) SetOnRecovered(callback func(provider string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRecovered = callback
}

// IsRateLimited reports whether requests to provider should be held back.
// Once the retry time has passed the next request is let through; a
// successful response then clears the state.
func (h *Handler) IsRateLimited(provider string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	event, limited := h.rateLimited[provider]
	return limited && h.now().Before(event.NextRetryAt)
}

// CheckResponse records a rate limit for 429 and 509 responses and clears a
// previous one on any other status. A Retry-After header longer than the
// strategy's interval extends the backoff.
func (h *Handler) CheckResponse(provider string, resp *http.Response) bool {
	isRateLimited := resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode == 509 // Bandwidth Limit Exceeded

	if !isRateLimited {
		h.checkRecovery(provider)
		return false
	}

	h.recordRateLimit(provider, resp.StatusCode, h.retryAfter(resp))
	return true
}

// RecordQuota records a rate limit signalled in a response body, such as a
// web service returning OVER_QUERY_LIMIT with HTTP 200.
func (h *Handler) RecordQuota(provider string) {
	h.recordRateLimit(provider, 0, 0)
}

// retryAfter reads a Retry-After header given in seconds or as an HTTP date.
func (h *Handler) retryAfter(resp *http.Response) time.Duration {
	v := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(h.now()); d > 0 {
			return d
		}
	}
	return 0
}

// MarkSuccess clears a previous rate limit for provider.
func (h *Handler) MarkSuccess(provider string) {
	h.checkRecovery(provider)
}

func (h *Handler) recordRateLimit(provider string, statusCode int, minWait time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	existing, exists := h.rateLimited[provider]

	retryAttempt := 0
	if exists {
		retryAttempt = existing.RetryAttempt + 1
	}

	interval := h.strategy.Intervals[len(h.strategy.Intervals)-1]
	if retryAttempt < len(h.strategy.Intervals) {
		interval = h.strategy.Intervals[retryAttempt]
	}
	if minWait > interval {
		interval = minWait
	}

	now := h.now()
	nextRetryAt := now.Add(interval)

	event := RateLimitEvent{
		Timestamp:    now,
		Provider:     provider,
		StatusCode:   statusCode,
		RetryAttempt: retryAttempt,
		NextRetryAt:  nextRetryAt,
		Message:      buildMessage(provider, statusCode, retryAttempt, interval),
	}

	h.rateLimited[provider] = &event

	log.Printf("[RateLimit] %s rate limited (attempt %d). Next retry at %s",
		provider, retryAttempt, nextRetryAt.Format(time.RFC3339))

	if h.onRateLimit != nil {
		go h.onRateLimit(event)
	}

	if h.autoRetryEnabled && retryAttempt < h.strategy.MaxRetries {
		go h.scheduleRetry(provider, event, interval)
	}
}

// scheduleRetry notifies the UI once the backoff has elapsed. The request
// itself is retried by the next caller that finds IsRateLimited false.
func (h *Handler) scheduleRetry(provider string, event RateLimitEvent, wait time.Duration) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
		h.mu.RLock()
		current, exists := h.rateLimited[provider]
		stale := !exists || !current.Timestamp.Equal(event.Timestamp)
		onRetry := h.onRetry
		h.mu.RUnlock()
		if stale {
			return
		}

		log.Printf("[RateLimit] Backoff for %s elapsed after %s", provider, wait)
		if onRetry != nil {
			onRetry(event)
		}

	case <-h.ctx.Done():
		return
	}
}

func (h *Handler) checkRecovery(provider string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.rateLimited[provider]; exists {
		delete(h.rateLimited, provider)
		log.Printf("[RateLimit] %s rate limit cleared", provider)

		if h.onRecovered != nil {
			go h.onRecovered(provider)
		}
	}
}

// ManualRetry clears the backoff so the next request goes out immediately.
func (h *Handler) ManualRetry(provider string) {
	h.mu.Lock()
	event, exists := h.rateLimited[provider]
	if !exists {
		h.mu.Unlock()
		return
	}

	log.Printf("[RateLimit] Manual retry requested for %s", provider)

	delete(h.rateLimited, provider)
	onRetry := h.onRetry
	h.mu.Unlock()

	if onRetry != nil {
		go onRetry(*event)
	}
}

// SetAutoRetry enables or disables automatic retries
func (h *Handler) SetAutoRetry(enabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.autoRetryEnabled = enabled
}

// GetCurrentState returns a copy of the rate limit state for a provider
func (h *Handler) GetCurrentState(provider string) *RateLimitEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if event, exists := h.rateLimited[provider]; exists {
		eventCopy := *event
		return &eventCopy
	}
	return nil
}

func buildMessage(provider string, statusCode int, retryAttempt int, wait time.Duration) string {
	name := common.DisplayName(provider)
	cause := "quota exceeded"
	if statusCode != 0 {
		cause = fmt.Sprintf("HTTP %d", statusCode)
	}

	if retryAttempt == 0 {
		return fmt.Sprintf(
			"%s rate limit detected (%s). Requests paused for %s.\n\n"+
				"Long routes with small spacing issue many lookups. "+
				"Increase the spacing or wait before retrying.",
			name, cause, wait.Round(time.Second))
	}
	return fmt.Sprintf(
		"%s still rate limited (retry attempt %d).\n\nNext retry in %s.",
		name, retryAttempt+1, wait.Round(time.Second))
}

// Close shuts down the rate limit handler
func (h *Handler) Close() {
	h.cancel()
}
