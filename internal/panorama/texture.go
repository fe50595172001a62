package panorama

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
)

// MaxZoom is the highest tile tier requested from the provider.
const MaxZoom = 5

// GridSize returns the tile grid for a zoom level. Zoom 3 panoramas are
// 7 tiles wide, every other level is 2^zoom.
func GridSize(zoom int) (cols, rows int) {
	cols = 1 << zoom
	if zoom == 3 {
		cols = 7
	}
	rows = 1 << (zoom - 1)
	return cols, rows
}

// CanvasSize returns the equirectangular raster size for a zoom level.
func CanvasSize(zoom int) (width, height int) {
	return 416 << zoom, 416 << (zoom - 1)
}

func validateZoom(zoom int) error {
	if zoom < 1 || zoom > MaxZoom {
		return fmt.Errorf("zoom %d out of range [1, %d]", zoom, MaxZoom)
	}
	return nil
}

// newCanvas returns an opaque black canvas. Tiles that fail to load leave
// this background in place.
func newCanvas(zoom int) *image.RGBA {
	w, h := CanvasSize(zoom)
	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: color.Black}, image.Point{}, draw.Src)
	return canvas
}

// drawMirrored places tile at logical (ox, oy) on a horizontally mirrored
// canvas: logical column c lands on physical column width-1-c. Pixels beyond
// the canvas are clipped.
func drawMirrored(canvas *image.RGBA, tile image.Image, ox, oy int) {
	tb := tile.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, tb.Dx(), tb.Dy()))
	draw.Draw(rgba, rgba.Bounds(), tile, tb.Min, draw.Src)

	cw := canvas.Bounds().Dx()
	ch := canvas.Bounds().Dy()

	for v := 0; v < rgba.Rect.Dy(); v++ {
		dy := oy + v
		if dy >= ch {
			break
		}
		srcRow := rgba.Pix[v*rgba.Stride : v*rgba.Stride+rgba.Rect.Dx()*4]
		dstRow := canvas.Pix[dy*canvas.Stride : dy*canvas.Stride+cw*4]
		for u := 0; u < rgba.Rect.Dx(); u++ {
			lx := ox + u
			if lx >= cw {
				break
			}
			px := cw - 1 - lx
			copy(dstRow[px*4:px*4+4], srcRow[u*4:u*4+4])
		}
	}
}
