package googlemaps

import (
	"context"
	"fmt"
	"net/url"

	polyline "github.com/twpayne/go-polyline"

	"hyperlapse-desktop/internal/common"
	"hyperlapse-desktop/internal/geo"
	"hyperlapse-desktop/internal/obs"
	"hyperlapse-desktop/internal/route"
)

type directionsResponse struct {
	statusBody
	Routes []struct {
		OverviewPolyline struct {
			Points string `json:"points"`
		} `json:"overview_polyline"`
		Legs []struct {
			Distance struct {
				Value float64 `json:"value"`
			} `json:"distance"`
			StartAddress string `json:"start_address"`
			EndAddress   string `json:"end_address"`
		} `json:"legs"`
	} `json:"routes"`
}

// RouteBetween asks for a driving route and returns its overview path.
// Any failure is reported as common.ErrRouteFailed.
func (c *Client) RouteBetween(ctx context.Context, origin, destination geo.Point) (r *route.Route, err error) {
	defer obs.Time(ctx, "directions")(&err)

	r, err = c.directions(ctx, origin, destination)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrRouteFailed, err)
	}
	return r, nil
}

func (c *Client) directions(ctx context.Context, origin, destination geo.Point) (*route.Route, error) {
	params := url.Values{}
	params.Set("origin", origin.String())
	params.Set("destination", destination.String())
	params.Set("mode", "driving")

	var resp directionsResponse
	if err := c.getJSON(ctx, common.ProviderDirections, c.endpoint("directions", params), &resp); err != nil {
		return nil, err
	}
	if len(resp.Routes) == 0 {
		return nil, fmt.Errorf("no routes returned")
	}

	best := resp.Routes[0]
	coords, _, err := polyline.DecodeCoords([]byte(best.OverviewPolyline.Points))
	if err != nil {
		return nil, fmt.Errorf("failed to decode overview polyline: %w", err)
	}

	r := &route.Route{Path: make([]geo.Point, 0, len(coords))}
	for _, ll := range coords {
		r.Path = append(r.Path, geo.NewPoint(ll[0], ll[1]))
	}
	for _, leg := range best.Legs {
		r.Legs = append(r.Legs, route.Leg{
			DistanceMeters: leg.Distance.Value,
			StartAddress:   leg.StartAddress,
			EndAddress:     leg.EndAddress,
		})
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// SnapToRoad moves point onto the nearest drivable road by routing it to
// itself and taking the first vertex of the result.
func (c *Client) SnapToRoad(ctx context.Context, point geo.Point) (geo.Point, error) {
	params := url.Values{}
	params.Set("origin", point.String())
	params.Set("destination", point.String())
	params.Set("mode", "driving")

	var resp directionsResponse
	if err := c.getJSON(ctx, common.ProviderDirections, c.endpoint("directions", params), &resp); err != nil {
		return point, fmt.Errorf("failed to snap %s to road: %w", point, err)
	}
	if len(resp.Routes) == 0 {
		return point, fmt.Errorf("failed to snap %s to road: no routes", point)
	}
	coords, _, err := polyline.DecodeCoords([]byte(resp.Routes[0].OverviewPolyline.Points))
	if err != nil || len(coords) == 0 {
		return point, fmt.Errorf("failed to snap %s to road: empty path", point)
	}
	return geo.NewPoint(coords[0][0], coords[0][1]), nil
}
