package googlemaps

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"strconv"

	"hyperlapse-desktop/internal/cache"
	"hyperlapse-desktop/internal/common"
	"hyperlapse-desktop/internal/geo"
	"hyperlapse-desktop/internal/panorama"
)

// metadataResponse is the Street View metadata answer. The tiles and time
// blocks are only present on extended metadata endpoints; without them the
// panorama is treated as north-facing with no history.
type metadataResponse struct {
	statusBody
	PanoID    string `json:"pano_id"`
	Date      string `json:"date"`
	Copyright string `json:"copyright"`
	Location  latLng `json:"location"`
	Tiles     *struct {
		CenterHeading float64 `json:"centerHeading"`
		OriginPitch   float64 `json:"originPitch"`
	} `json:"tiles,omitempty"`
	Time []struct {
		Pano string `json:"pano"`
		Date string `json:"date"`
	} `json:"time,omitempty"`
}

// NearestPanorama returns the outdoor panorama closest to location within
// radiusMeters.
func (c *Client) NearestPanorama(ctx context.Context, location geo.Point, radiusMeters float64) (*panorama.Metadata, error) {
	params := url.Values{}
	params.Set("location", location.String())
	params.Set("radius", strconv.FormatFloat(radiusMeters, 'f', -1, 64))
	params.Set("source", "outdoor")

	var resp metadataResponse
	if err := c.getJSON(ctx, common.ProviderStreetViewMetadata, c.endpoint("streetview/metadata", params), &resp); err != nil {
		if isNoResults(err) {
			return nil, fmt.Errorf("%w at %s", common.ErrNoCoverage, location)
		}
		return nil, fmt.Errorf("failed to fetch panorama metadata: %w", err)
	}
	if resp.PanoID == "" {
		return nil, fmt.Errorf("%w at %s", common.ErrNoCoverage, location)
	}

	meta := &panorama.Metadata{
		PanoID:    resp.PanoID,
		Location:  geo.NewPoint(resp.Location.Lat, resp.Location.Lng),
		ImageDate: resp.Date,
		Copyright: resp.Copyright,
	}
	if resp.Tiles != nil {
		meta.CenterHeading = resp.Tiles.CenterHeading
		meta.OriginPitch = resp.Tiles.OriginPitch
	}
	for _, entry := range resp.Time {
		// unparseable dates stay zero and are dropped by the loader
		date, _ := common.ParsePanoramaDate(entry.Date)
		meta.Time = append(meta.Time, panorama.TimeEntry{PanoID: entry.Pano, Date: date})
	}
	return meta, nil
}

// TileURL returns the address of one panorama tile.
func (c *Client) TileURL(panoID string, zoom, x, y int) string {
	params := url.Values{}
	params.Set("output", "tile")
	params.Set("panoid", panoID)
	params.Set("zoom", strconv.Itoa(zoom))
	params.Set("x", strconv.Itoa(x))
	params.Set("y", strconv.Itoa(y))
	return c.tileURL + "?" + params.Encode()
}

// FetchTile returns the JPEG bytes of a panorama tile, served from the
// persistent cache when present.
func (c *Client) FetchTile(ctx context.Context, panoID string, zoom, x, y int) ([]byte, error) {
	if c.tileCache != nil {
		if data, ok := c.tileCache.Get(panoID, zoom, x, y); ok {
			return data, nil
		}
	}

	resp, err := c.doWithRetry(ctx, common.ProviderStreetViewTiles, c.TileURL(panoID, zoom, x, y))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read tile: %w", err)
	}

	if c.tileCache != nil && len(data) > 0 {
		if err := c.tileCache.Set(panoID, zoom, x, y, data); err != nil {
			log.Printf("[Cache] Failed to store tile %s: %v", cache.TileKey(panoID, zoom, x, y), err)
		}
	}
	return data, nil
}
