// Package export composes every frame of a sequence and hands the encoded
// images to a sink.
package export

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log"
	"sync"
	"sync/atomic"

	"hyperlapse-desktop/internal/common"
	"hyperlapse-desktop/internal/panorama"
	"hyperlapse-desktop/internal/sequence"
)

// DefaultQuality is the JPEG quality of exported frames.
const DefaultQuality = 80

// Composer builds the texture of one panorama.
type Composer interface {
	ComposeTexture(ctx context.Context, panoID string, zoom int) (*image.RGBA, panorama.Composition, error)
}

// LookAtRenderer renders the look-at perspective of a composed frame.
// ok is false when look-at output is not wanted for this frame.
type LookAtRenderer interface {
	RenderLookAt(index int, texture *image.RGBA) (img *image.RGBA, ok bool)
}

// Status is the outcome of an export run.
type Status string

const (
	StatusComplete Status = "complete"
	StatusCanceled Status = "canceled"
)

// FrameEvent is emitted after each frame is composed and handed to the sink.
type FrameEvent struct {
	Label string `json:"label"`
	Index int    `json:"index"`
	Total int    `json:"total"`
	TileX int    `json:"x"`
	TileY int    `json:"y"`
	Saved bool   `json:"saved"`
}

// Result summarises an export run.
type Result struct {
	Status       Status `json:"status"`
	Label        string `json:"label"`
	Frames       int    `json:"frames"`
	Saved        int    `json:"saved"`
	Failed       int    `json:"failed"`
	LookAtSaved  int    `json:"lookAtSaved"`
	FailedTiles  int    `json:"failedTiles"`
	TrackWritten bool   `json:"trackWritten"`
}

// Config holds the controller's collaborators.
type Config struct {
	Composer Composer
	Sink     Sink
	Zoom     int
	Quality  int
	Overlay  *Overlay       // optional
	LookAt   LookAtRenderer // optional

	// Canceled is an optional cancel signal owned by the caller. Unlike
	// Cancel it is not cleared when a run starts.
	Canceled func() bool

	OnFrameSaved  func(FrameEvent)
	ErrorCallback func(error)
}

// Controller runs exports one frame at a time.
type Controller struct {
	composer Composer
	sink     Sink
	overlay  *Overlay
	lookAt   LookAtRenderer
	zoom     int
	quality  int
	external func() bool

	onFrameSaved  func(FrameEvent)
	errorCallback func(error)

	mu       sync.Mutex
	running  bool
	canceled atomic.Bool
}

// NewController creates an export controller.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Composer == nil {
		return nil, fmt.Errorf("composer is required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	quality := cfg.Quality
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	zoom := cfg.Zoom
	if zoom == 0 {
		zoom = 3
	}
	return &Controller{
		composer:      cfg.Composer,
		sink:          cfg.Sink,
		overlay:       cfg.Overlay,
		lookAt:        cfg.LookAt,
		zoom:          zoom,
		quality:       quality,
		external:      cfg.Canceled,
		onFrameSaved:  cfg.OnFrameSaved,
		errorCallback: cfg.ErrorCallback,
	}, nil
}

// SetZoom changes the composition zoom for subsequent runs.
func (c *Controller) SetZoom(zoom int) {
	c.mu.Lock()
	c.zoom = zoom
	c.mu.Unlock()
}

// Running reports whether an export is in progress.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Cancel stops the running export once the in-flight frame is saved. It is a
// no-op when nothing is running.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		c.canceled.Store(true)
	}
}

func (c *Controller) emitError(err error) {
	log.Printf("[Export] %v", err)
	if c.errorCallback != nil {
		c.errorCallback(err)
	}
}

// Run composes and saves every frame of seq in order under label. Sink
// failures are counted and reported but never stop the run. A ctx error
// aborts the run and is returned with the partial result.
func (c *Controller) Run(ctx context.Context, seq *sequence.Sequence, label string) (*Result, error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil, common.ErrGenerationInProgress
	}
	c.running = true
	zoom := c.zoom
	c.canceled.Store(false)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	frames := seq.Frames()
	res := &Result{Status: StatusComplete, Label: label, Frames: len(frames)}
	log.Printf("[Export] Exporting %d frames as %s (zoom %d)", len(frames), label, zoom)

	for i, frame := range frames {
		if c.canceled.Load() || (c.external != nil && c.external()) {
			res.Status = StatusCanceled
			log.Printf("[Export] Canceled after %d of %d frames", i, len(frames))
			return res, nil
		}

		texture, comp, err := c.composer.ComposeTexture(ctx, frame.PanoID, zoom)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			return res, fmt.Errorf("failed to compose frame %d: %w", i, err)
		}
		res.FailedTiles += comp.Failed
		frame.SetImage(texture)

		saved := c.saveFrame(ctx, frame, texture, label, i, res)
		if c.onFrameSaved != nil {
			c.onFrameSaved(FrameEvent{
				Label: label,
				Index: i,
				Total: len(frames),
				TileX: comp.LastTile.X,
				TileY: comp.LastTile.Y,
				Saved: saved,
			})
		}
	}

	if ts, ok := c.sink.(TrackSink); ok {
		data, err := TrackJSON(seq, label)
		if err == nil {
			err = ts.SaveTrack(ctx, data, label)
		}
		if err != nil {
			c.emitError(fmt.Errorf("failed to save track: %w", err))
		} else {
			res.TrackWritten = true
		}
	}

	log.Printf("[Export] Complete: %d saved, %d failed, %d blank tiles", res.Saved, res.Failed, res.FailedTiles)
	return res, nil
}

func (c *Controller) saveFrame(ctx context.Context, frame *sequence.Frame, texture *image.RGBA, label string, index int, res *Result) bool {
	out := texture
	if c.overlay != nil {
		out = c.overlay.Apply(texture, common.FormatOverlay(frame.ImageDate), frame.Copyright)
	}

	data, err := c.encode(out)
	if err == nil {
		err = c.sink.Save(ctx, data, label, index)
	}
	if err != nil {
		res.Failed++
		c.emitError(fmt.Errorf("failed to save frame %d: %w", index, err))
		return false
	}
	res.Saved++

	if c.lookAt == nil {
		return true
	}
	las, ok := c.sink.(LookAtSink)
	if !ok {
		return true
	}
	view, ok := c.lookAt.RenderLookAt(index, texture)
	if !ok {
		return true
	}
	data, err = c.encode(view)
	if err == nil {
		err = las.SaveLookAt(ctx, data, label, index)
	}
	if err != nil {
		c.emitError(fmt.Errorf("failed to save look-at frame %d: %w", index, err))
		return true
	}
	res.LookAtSaved++
	return true
}

func (c *Controller) encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.quality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
