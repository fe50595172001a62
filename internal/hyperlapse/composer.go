package hyperlapse

import (
	"context"
	"image"
	"log"

	"hyperlapse-desktop/internal/cache"
	"hyperlapse-desktop/internal/panorama"
	"hyperlapse-desktop/internal/playback"
	"hyperlapse-desktop/internal/render"
)

// cachingComposer serves compositions from the raster cache when it can.
// Only compositions with every tile in place are cached.
type cachingComposer struct {
	loader  *panorama.Loader
	rasters *cache.RasterCache
}

func (c *cachingComposer) ComposeTexture(ctx context.Context, panoID string, zoom int) (*image.RGBA, panorama.Composition, error) {
	if c.rasters != nil {
		if img, ok := c.rasters.Get(panoID, zoom); ok {
			cols, rows := panorama.GridSize(zoom)
			n := cols * rows
			return img, panorama.Composition{PanoID: panoID, Zoom: zoom, Total: n, Settled: n}, nil
		}
	}

	img, comp, err := c.loader.ComposeTexture(ctx, panoID, zoom)
	if err != nil {
		return img, comp, err
	}
	if c.rasters != nil {
		if comp.Failed == 0 {
			c.rasters.Add(panoID, zoom, img)
		} else {
			log.Printf("[Session] Not caching %s: %d blank tiles", panoID, comp.Failed)
		}
	}
	return img, comp, nil
}

func projectorFor(p playback.Params) render.Projector {
	return render.Projector{Width: p.Width, Height: p.Height}
}
