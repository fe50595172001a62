package panorama

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"time"

	"golang.org/x/sync/semaphore"

	"hyperlapse-desktop/internal/common"
	"hyperlapse-desktop/internal/geo"
)

// DefaultWorkers bounds concurrent tile fetches for one composition.
const DefaultWorkers = 8

// Loader resolves panoramas and composes their textures.
type Loader struct {
	metadata MetadataProvider
	tiles    TileFetcher

	progressCallback func(TileProgress)
	errorCallback    func(error)

	// Concurrency control
	semaphore  *semaphore.Weighted
	maxWorkers int64
}

// Config holds configuration for the Loader
type Config struct {
	Metadata         MetadataProvider
	Tiles            TileFetcher
	MaxWorkers       int
	ProgressCallback func(TileProgress)
	ErrorCallback    func(error) // degraded metadata and tile failures
}

// NewLoader creates a panorama loader with its providers injected
func NewLoader(cfg Config) (*Loader, error) {
	if cfg.Metadata == nil {
		return nil, fmt.Errorf("metadata provider is required")
	}
	if cfg.Tiles == nil {
		return nil, fmt.Errorf("tile fetcher is required")
	}

	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = DefaultWorkers
	}

	return &Loader{
		metadata:         cfg.Metadata,
		tiles:            cfg.Tiles,
		progressCallback: cfg.ProgressCallback,
		errorCallback:    cfg.ErrorCallback,
		semaphore:        semaphore.NewWeighted(int64(maxWorkers)),
		maxWorkers:       int64(maxWorkers),
	}, nil
}

func (l *Loader) emitProgress(p TileProgress) {
	if l.progressCallback != nil {
		l.progressCallback(p)
	}
}

func (l *Loader) emitError(err error) {
	log.Printf("[Panorama] %v", err)
	if l.errorCallback != nil {
		l.errorCallback(err)
	}
}

// Resolve finds the panorama nearest to location. With a target date the
// capture closest to it is chosen from the location's time history; an empty
// or malformed history falls back to the provider's default panorama.
func (l *Loader) Resolve(ctx context.Context, location geo.Point, target *time.Time) (*Record, error) {
	meta, err := l.metadata.NearestPanorama(ctx, location, SearchRadius)
	if err != nil {
		return nil, err
	}
	if meta == nil || meta.PanoID == "" {
		return nil, fmt.Errorf("%w at %s", common.ErrNoCoverage, location)
	}

	rec := &Record{
		PanoID:       meta.PanoID,
		Location:     location,
		PanoLocation: meta.Location,
		Heading:      geo.ToRad(meta.CenterHeading),
		Pitch:        meta.OriginPitch,
		ImageDate:    meta.ImageDate,
		Copyright:    meta.Copyright,
		Time:         meta.Time,
	}

	if target == nil {
		return rec, nil
	}

	history := validHistory(meta.Time)
	if len(history) == 0 {
		rec.Degraded = true
		l.emitError(fmt.Errorf("%w: pano %s has no usable time history, using default", common.ErrDegradedMetadata, meta.PanoID))
		return rec, nil
	}
	if len(history) != len(meta.Time) {
		log.Printf("[Panorama] Dropped %d malformed history entries for %s", len(meta.Time)-len(history), meta.PanoID)
	}

	nearest := history[NearestIndex(*target, history)]
	rec.PanoID = nearest.PanoID
	rec.ImageDate = common.FormatPanoramaDate(nearest.Date)
	return rec, nil
}

type tileResult struct {
	x, y int
	img  image.Image
	err  error
}

// ComposeTexture fetches every tile of a panorama and places it on a mirrored
// equirectangular canvas. Failed tiles stay blank. The call returns once every
// tile has settled; ctx cancellation turns outstanding tiles into failures and
// is reported as the returned error.
func (l *Loader) ComposeTexture(ctx context.Context, panoID string, zoom int) (*image.RGBA, Composition, error) {
	comp := Composition{PanoID: panoID, Zoom: zoom}
	if err := validateZoom(zoom); err != nil {
		return nil, comp, err
	}
	if panoID == "" {
		return nil, comp, fmt.Errorf("pano id is required")
	}

	cols, rows := GridSize(zoom)
	comp.Total = cols * rows
	canvas := newCanvas(zoom)

	results := make(chan tileResult, comp.Total)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			if err := l.semaphore.Acquire(ctx, 1); err != nil {
				results <- tileResult{x: x, y: y, err: err}
				continue
			}
			go func(x, y int) {
				defer l.semaphore.Release(1)
				results <- l.fetchTile(ctx, panoID, zoom, x, y)
			}(x, y)
		}
	}

	l.emitProgress(TileProgress{PanoID: panoID, Total: comp.Total})

	for comp.Settled < comp.Total {
		res := <-results
		if res.err != nil {
			comp.Failed++
			l.emitError(fmt.Errorf("%w: pano %s tile %d,%d: %v", common.ErrFetch, panoID, res.x, res.y, res.err))
		} else {
			drawMirrored(canvas, res.img, res.x*TileSize, res.y*TileSize)
		}
		comp.Settled++
		comp.LastTile = image.Pt(res.x, res.y)
		l.emitProgress(TileProgress{
			PanoID:  panoID,
			Settled: comp.Settled,
			Total:   comp.Total,
			Percent: comp.Settled * 100 / comp.Total,
		})
	}

	if err := ctx.Err(); err != nil {
		return canvas, comp, err
	}
	return canvas, comp, nil
}

func (l *Loader) fetchTile(ctx context.Context, panoID string, zoom, x, y int) tileResult {
	data, err := l.tiles.FetchTile(ctx, panoID, zoom, x, y)
	if err != nil {
		return tileResult{x: x, y: y, err: err}
	}
	if len(data) == 0 {
		return tileResult{x: x, y: y, err: errors.New("empty tile")}
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return tileResult{x: x, y: y, err: fmt.Errorf("failed to decode tile: %w", err)}
	}
	return tileResult{x: x, y: y, img: img}
}
