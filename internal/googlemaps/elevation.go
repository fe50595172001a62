package googlemaps

import (
	"context"
	"fmt"
	"net/url"

	"github.com/samber/lo"
	polyline "github.com/twpayne/go-polyline"
	"golang.org/x/sync/errgroup"

	"hyperlapse-desktop/internal/common"
	"hyperlapse-desktop/internal/geo"
	"hyperlapse-desktop/internal/obs"
)

// ElevationBatch is the most locations one elevation request may carry.
const ElevationBatch = 512

const elevationParallelism = 4

type elevationResult struct {
	Elevation  float64 `json:"elevation"`
	Location   latLng  `json:"location"`
	Resolution float64 `json:"resolution"`
}

type elevationResponse struct {
	statusBody
	Results []elevationResult `json:"results"`
}

// ElevationsFor returns the elevation in metres of every location, in order.
// Locations are sent as encoded polylines in batches of ElevationBatch.
func (c *Client) ElevationsFor(ctx context.Context, locations []geo.Point) (out []float64, err error) {
	defer obs.Time(ctx, "elevation")(&err)

	if len(locations) == 0 {
		return nil, nil
	}

	chunks := lo.Chunk(locations, ElevationBatch)
	results := make([][]float64, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(elevationParallelism)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			elevations, err := c.elevationChunk(gctx, chunk)
			if err != nil {
				return err
			}
			results[i] = elevations
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return lo.Flatten(results), nil
}

func (c *Client) elevationChunk(ctx context.Context, locations []geo.Point) ([]float64, error) {
	coords := lo.Map(locations, func(p geo.Point, _ int) []float64 {
		return []float64{p.Lat, p.Lng}
	})

	params := url.Values{}
	params.Set("locations", "enc:"+string(polyline.EncodeCoords(coords)))

	var resp elevationResponse
	if err := c.getJSON(ctx, common.ProviderElevation, c.endpoint("elevation", params), &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch elevations: %w", err)
	}
	if len(resp.Results) != len(locations) {
		return nil, fmt.Errorf("elevation returned %d results for %d locations", len(resp.Results), len(locations))
	}

	return lo.Map(resp.Results, func(r elevationResult, _ int) float64 {
		return r.Elevation
	}), nil
}
