package common

// Provider name constants used for cache keys and rate limit tracking
const (
	// ProviderStreetViewTiles serves panorama tile images
	ProviderStreetViewTiles = "streetview_tiles"

	// ProviderStreetViewMetadata answers nearest-panorama lookups
	ProviderStreetViewMetadata = "streetview_metadata"

	// ProviderDirections resolves driving routes and snaps points to roads
	ProviderDirections = "directions"

	// ProviderGeocoding resolves addresses
	ProviderGeocoding = "geocoding"

	// ProviderElevation answers batched elevation queries
	ProviderElevation = "elevation"

	// DisplayNameStreetView is the human-readable name shown in the UI
	DisplayNameStreetView = "Google Street View"
)

// DisplayName returns the UI label for a provider identifier
func DisplayName(provider string) string {
	switch provider {
	case ProviderStreetViewTiles, ProviderStreetViewMetadata:
		return DisplayNameStreetView
	case ProviderDirections:
		return "Google Directions"
	case ProviderGeocoding:
		return "Google Geocoding"
	case ProviderElevation:
		return "Google Elevation"
	default:
		return provider
	}
}
