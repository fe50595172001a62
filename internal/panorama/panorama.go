// Package panorama resolves Street View panoramas near a location and composes
// their tiles into a single equirectangular raster.
package panorama

import (
	"context"
	"image"
	"sync"
	"time"

	"hyperlapse-desktop/internal/geo"
)

// SearchRadius is the radius in metres used for nearest-panorama lookups.
const SearchRadius = 50.0

// TileSize is the edge length of one provider tile in pixels.
const TileSize = 512

// TimeEntry is one alternate capture of the same location.
type TimeEntry struct {
	PanoID string    `json:"pano"`
	Date   time.Time `json:"date"`
}

// Metadata is the provider's answer to a nearest-panorama lookup.
type Metadata struct {
	PanoID        string      `json:"panoId"`
	Location      geo.Point   `json:"location"`
	CenterHeading float64     `json:"centerHeading"` // degrees
	OriginPitch   float64     `json:"originPitch"`   // degrees
	ImageDate     string      `json:"imageDate"`
	Copyright     string      `json:"copyright"`
	Time          []TimeEntry `json:"time,omitempty"`
}

// MetadataProvider looks up the nearest panorama to a location.
// Implementations return an error wrapping common.ErrNoCoverage when nothing
// lies within the radius.
type MetadataProvider interface {
	NearestPanorama(ctx context.Context, location geo.Point, radiusMeters float64) (*Metadata, error)
}

// TileFetcher returns the encoded image for one panorama tile.
type TileFetcher interface {
	FetchTile(ctx context.Context, panoID string, zoom, x, y int) ([]byte, error)
}

// Record is a resolved panorama. The raster is composed lazily.
type Record struct {
	PanoID       string      `json:"panoId"`
	Location     geo.Point   `json:"location"`     // requested sample point
	PanoLocation geo.Point   `json:"panoLocation"` // where the provider placed the panorama
	Heading      float64     `json:"heading"`      // radians
	Pitch        float64     `json:"pitch"`        // degrees
	ImageDate    string      `json:"imageDate"`
	Copyright    string      `json:"copyright"`
	Time         []TimeEntry `json:"time,omitempty"`
	Degraded     bool        `json:"degraded"`

	mu     sync.RWMutex
	raster *image.RGBA
}

// Raster returns the composed image, or nil if not yet composed.
func (r *Record) Raster() *image.RGBA {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.raster
}

// SetRaster attaches a composed image to the record.
func (r *Record) SetRaster(img *image.RGBA) {
	r.mu.Lock()
	r.raster = img
	r.mu.Unlock()
}

// TileProgress reports composition progress after every settled tile.
type TileProgress struct {
	PanoID  string `json:"panoId"`
	Settled int    `json:"settled"`
	Total   int    `json:"total"`
	Percent int    `json:"percent"`
}

// Composition summarises one ComposeTexture call.
type Composition struct {
	PanoID   string      `json:"panoId"`
	Zoom     int         `json:"zoom"`
	Total    int         `json:"total"`
	Settled  int         `json:"settled"`
	Failed   int         `json:"failed"`
	LastTile image.Point `json:"lastTile"`
}
