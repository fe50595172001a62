package common

import "errors"

// Pipeline error taxonomy. Per-point and per-tile failures are wrapped with
// these sentinels and reported, only route-level failures reach the caller.
var (
	// ErrNoCoverage means the provider has no panorama near a sample point.
	ErrNoCoverage = errors.New("no panorama coverage")

	// ErrDegradedMetadata means the time history was empty or malformed and
	// the provider's default panorama was used instead.
	ErrDegradedMetadata = errors.New("degraded panorama metadata")

	// ErrFetch marks a tile that could not be fetched or decoded.
	ErrFetch = errors.New("tile fetch failed")

	// ErrQuotaExceeded is returned by the elevation provider when the quota is spent.
	ErrQuotaExceeded = errors.New("provider quota exceeded")

	// ErrGenerationInProgress rejects a second generate while one is active.
	ErrGenerationInProgress = errors.New("generation already in progress")

	// ErrRouteFailed means the provider could not route between the endpoints.
	ErrRouteFailed = errors.New("route resolution failed")

	// ErrInsufficientCoverage means too few distinct panoramas were found along the route.
	ErrInsufficientCoverage = errors.New("not enough distinct panoramas along route")

	// ErrRateLimited is returned without a request while a provider is backing off.
	ErrRateLimited = errors.New("provider is rate limited")
)
