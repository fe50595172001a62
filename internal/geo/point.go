// Package geo holds the geographic value types shared by the pipeline and the
// spherical helpers built on orb.
package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// Point is a latitude/longitude pair in degrees.
type Point struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// NewPoint returns a Point for lat/lng in degrees.
func NewPoint(lat, lng float64) Point {
	return Point{Lat: lat, Lng: lng}
}

// FromOrb converts an orb point ([lon, lat]) to a Point.
func FromOrb(p orb.Point) Point {
	return Point{Lat: p.Lat(), Lng: p.Lon()}
}

// Orb returns the orb representation ([lon, lat]).
func (p Point) Orb() orb.Point {
	return orb.Point{p.Lng, p.Lat}
}

// Valid reports whether the point lies within the WGS84 coordinate range.
func (p Point) Valid() bool {
	return !math.IsNaN(p.Lat) && !math.IsNaN(p.Lng) &&
		p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// String formats the point the way provider query strings expect ("lat,lng").
func (p Point) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
}

// Distance returns the great-circle distance between a and b in metres.
func Distance(a, b Point) float64 {
	return geo.DistanceHaversine(a.Orb(), b.Orb())
}

// Heading returns the initial bearing from a to b in degrees, in [-180, 180].
func Heading(a, b Point) float64 {
	return geo.Bearing(a.Orb(), b.Orb())
}

// PathLength returns the great-circle length of an ordered path in metres.
func PathLength(path []Point) float64 {
	if len(path) < 2 {
		return 0
	}
	ls := make(orb.LineString, len(path))
	for i, p := range path {
		ls[i] = p.Orb()
	}
	return geo.LengthHaversine(ls)
}

// Interpolate returns the point at fraction t along a→b, interpolating
// latitude and longitude linearly in radians.
func Interpolate(t float64, a, b Point) Point {
	lat1, lng1 := ToRad(a.Lat), ToRad(a.Lng)
	lat2, lng2 := ToRad(b.Lat), ToRad(b.Lng)
	return Point{
		Lat: ToDeg(lat1 + t*(lat2-lat1)),
		Lng: ToDeg(lng1 + t*(lng2-lng1)),
	}
}

// ToRad converts degrees to radians.
func ToRad(deg float64) float64 { return deg * math.Pi / 180 }

// ToDeg converts radians to degrees.
func ToDeg(rad float64) float64 { return rad * 180 / math.Pi }
