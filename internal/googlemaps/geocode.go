package googlemaps

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"hyperlapse-desktop/internal/common"
	"hyperlapse-desktop/internal/geo"
)

type geocodeResponse struct {
	statusBody
	Results []struct {
		FormattedAddress string `json:"formatted_address"`
		Geometry         struct {
			Location latLng `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// Place is a geocoding match.
type Place struct {
	Address  string    `json:"address"`
	Location geo.Point `json:"location"`
}

// Geocode resolves an address to its best match.
func (c *Client) Geocode(ctx context.Context, address string) (*Place, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, fmt.Errorf("address is required")
	}

	params := url.Values{}
	params.Set("address", address)

	var resp geocodeResponse
	if err := c.getJSON(ctx, common.ProviderGeocoding, c.endpoint("geocode", params), &resp); err != nil {
		if isNoResults(err) {
			return nil, fmt.Errorf("no match for %q", address)
		}
		return nil, fmt.Errorf("failed to geocode %q: %w", address, err)
	}
	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("no match for %q", address)
	}

	best := resp.Results[0]
	return &Place{
		Address:  best.FormattedAddress,
		Location: geo.NewPoint(best.Geometry.Location.Lat, best.Geometry.Location.Lng),
	}, nil
}
