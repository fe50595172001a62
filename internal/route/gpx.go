package route

import (
	"fmt"

	"github.com/tkrajina/gpxgo/gpx"

	"hyperlapse-desktop/internal/geo"
)

// LoadGPX reads a GPX file and converts it to a route.
func LoadGPX(path string) (*Route, error) {
	g, err := gpx.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse GPX file: %w", err)
	}
	return fromGPX(g)
}

// ParseGPX converts GPX document bytes to a route.
func ParseGPX(data []byte) (*Route, error) {
	g, err := gpx.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse GPX data: %w", err)
	}
	return fromGPX(g)
}

// fromGPX prefers track points, then route points, then waypoints.
func fromGPX(g *gpx.GPX) (*Route, error) {
	var path []geo.Point

	for _, track := range g.Tracks {
		for _, segment := range track.Segments {
			for _, p := range segment.Points {
				path = append(path, geo.NewPoint(p.Latitude, p.Longitude))
			}
		}
	}

	if len(path) == 0 {
		for _, rte := range g.Routes {
			for _, p := range rte.Points {
				path = append(path, geo.NewPoint(p.Latitude, p.Longitude))
			}
		}
	}

	if len(path) == 0 {
		for _, p := range g.Waypoints {
			path = append(path, geo.NewPoint(p.Latitude, p.Longitude))
		}
	}

	if len(path) < 2 {
		return nil, fmt.Errorf("GPX document needs at least 2 points, found %d", len(path))
	}

	r := FromPath(path)
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}
