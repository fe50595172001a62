// Package route describes a driving route as consumed by the frame sequencer.
package route

import (
	"fmt"

	"hyperlapse-desktop/internal/geo"
)

// Leg is one leg of a route between two waypoints.
type Leg struct {
	DistanceMeters float64 `json:"distanceMeters"`
	StartAddress   string  `json:"startAddress,omitempty"`
	EndAddress     string  `json:"endAddress,omitempty"`
}

// Route is an ordered overview path plus its leg distances.
type Route struct {
	Path []geo.Point `json:"path"`
	Legs []Leg       `json:"legs"`
}

// FromPath builds a single-leg route whose distance is the great-circle length
// of the path.
func FromPath(path []geo.Point) *Route {
	return &Route{
		Path: path,
		Legs: []Leg{{DistanceMeters: geo.PathLength(path)}},
	}
}

// TotalDistance sums the leg distances. Routes without legs fall back to the
// path length.
func (r *Route) TotalDistance() float64 {
	if len(r.Legs) == 0 {
		return geo.PathLength(r.Path)
	}
	total := 0.0
	for _, leg := range r.Legs {
		total += leg.DistanceMeters
	}
	return total
}

// Start returns the first path point.
func (r *Route) Start() geo.Point {
	return r.Path[0]
}

// End returns the last path point.
func (r *Route) End() geo.Point {
	return r.Path[len(r.Path)-1]
}

// Validate checks that the route can be sampled.
func (r *Route) Validate() error {
	if r == nil {
		return fmt.Errorf("route is nil")
	}
	if len(r.Path) == 0 {
		return fmt.Errorf("route has an empty path")
	}
	for i, p := range r.Path {
		if !p.Valid() {
			return fmt.Errorf("route point %d (%s) is out of range", i, p)
		}
	}
	return nil
}
