package main

import (
	"hyperlapse-desktop/internal/common"
	"hyperlapse-desktop/internal/ratelimit"
)

// sessionProviders are the Google services a hyperlapse run depends on, in
// the order the pipeline first calls them.
var sessionProviders = []string{
	common.ProviderDirections,
	common.ProviderStreetViewMetadata,
	common.ProviderStreetViewTiles,
	common.ProviderElevation,
	common.ProviderGeocoding,
}

// ProviderStatus is one row of the quota panel.
type ProviderStatus struct {
	Provider    string                    `json:"provider"`
	DisplayName string                    `json:"displayName"`
	Limited     bool                      `json:"limited"`
	Event       *ratelimit.RateLimitEvent `json:"event,omitempty"`
}

// GetProviderStatus lists the back-off state of every provider a session uses.
func (a *App) GetProviderStatus() []ProviderStatus {
	out := make([]ProviderStatus, 0, len(sessionProviders))
	for _, p := range sessionProviders {
		st := ProviderStatus{Provider: p, DisplayName: common.DisplayName(p)}
		if a.rateLimitHandler != nil {
			st.Limited = a.rateLimitHandler.IsRateLimited(p)
			st.Event = a.rateLimitHandler.GetCurrentState(p)
		}
		out = append(out, st)
	}
	return out
}

// RetryProvider lets the next request to a backed-off provider through now.
func (a *App) RetryProvider(provider string) {
	if a.rateLimitHandler == nil {
		return
	}
	a.rateLimitHandler.ManualRetry(provider)
}

// SetAutoRetryRateLimit toggles scheduled retries; the setting is saved on shutdown.
func (a *App) SetAutoRetryRateLimit(enabled bool) {
	if a.rateLimitHandler != nil {
		a.rateLimitHandler.SetAutoRetry(enabled)
	}
	a.mu.Lock()
	if a.settings != nil {
		a.settings.AutoRetryOnRateLimit = enabled
	}
	a.mu.Unlock()
}

// CacheStats describes both cache layers: encoded tiles on disk and composed
// panoramas in memory.
type CacheStats struct {
	Tiles       int     `json:"tiles"`
	TileMB      float64 `json:"tileMB"`
	TileLimitMB float64 `json:"tileLimitMB"`
	Panoramas   int     `json:"panoramas"`
	CachePath   string  `json:"cachePath"`
}

func (a *App) GetCacheStats() CacheStats {
	var st CacheStats
	if a.rasters != nil {
		st.Panoramas = a.rasters.Len()
	}
	if a.tileCache != nil {
		entries, size, limit := a.tileCache.Stats()
		st.Tiles = entries
		st.TileMB = float64(size) / (1 << 20)
		st.TileLimitMB = float64(limit) / (1 << 20)
		st.CachePath = a.tileCache.GetCachePath()
	}
	return st
}

// ClearCache drops composed panoramas and deletes cached tiles.
func (a *App) ClearCache() error {
	if a.rasters != nil {
		a.rasters.Purge()
	}
	if a.tileCache == nil {
		return nil
	}
	return a.tileCache.Clear()
}
