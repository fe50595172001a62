package sequence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"hyperlapse-desktop/internal/common"
	"hyperlapse-desktop/internal/geo"
	"hyperlapse-desktop/internal/panorama"
	"hyperlapse-desktop/internal/route"
)

// MinFrames is the smallest sequence a completed generation may produce.
const MinFrames = 2

// Defaults for generation options.
const (
	DefaultSpacing   = 5.0
	DefaultMaxPoints = 100
)

// Resolver resolves a sample point to a panorama.
type Resolver interface {
	Resolve(ctx context.Context, location geo.Point, target *time.Time) (*panorama.Record, error)
}

// ElevationProvider returns elevations in metres for a batch of points.
type ElevationProvider interface {
	ElevationsFor(ctx context.Context, locations []geo.Point) ([]float64, error)
}

// Status is the outcome of a generation run.
type Status string

const (
	StatusComplete Status = "complete"
	StatusCanceled Status = "canceled"
)

// Options controls a generation run.
type Options struct {
	Spacing      float64
	MaxPoints    int
	TargetDate   *time.Time
	UseElevation bool

	// Canceled, when set, is consulted at every step boundary alongside
	// Cancel. It lets a caller carry a cancel that arrived before the run.
	Canceled func() bool
}

// Progress is reported after each accepted frame.
type Progress struct {
	Frame   FrameInfo `json:"frame"`
	Sample  int       `json:"sample"`
	Samples int       `json:"samples"`
}

// Result summarises a generation run.
type Result struct {
	Status            Status    `json:"status"`
	Sequence          *Sequence `json:"-"`
	Samples           int       `json:"samples"`
	Duplicates        int       `json:"duplicates"`
	Unresolved        int       `json:"unresolved"`
	ElevationDisabled bool      `json:"elevationDisabled"`
}

// Generator builds frame sequences. One Generator runs one generation at a
// time; Cancel stops it at the next step boundary.
type Generator struct {
	resolver   Resolver
	elevations ElevationProvider

	progressCallback func(Progress)
	errorCallback    func(error)

	canceled atomic.Bool
}

// GeneratorConfig holds the generator's collaborators.
type GeneratorConfig struct {
	Resolver         Resolver
	Elevations       ElevationProvider // optional
	ProgressCallback func(Progress)
	ErrorCallback    func(error)
}

// NewGenerator creates a Generator.
func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	return &Generator{
		resolver:         cfg.Resolver,
		elevations:       cfg.Elevations,
		progressCallback: cfg.ProgressCallback,
		errorCallback:    cfg.ErrorCallback,
	}, nil
}

// Cancel asks the running generation to stop after its in-flight resolution.
func (g *Generator) Cancel() {
	g.canceled.Store(true)
}

func (g *Generator) emitError(err error) {
	log.Printf("[Sequence] %v", err)
	if g.errorCallback != nil {
		g.errorCallback(err)
	}
}

// Generate samples the route and resolves every sample point in order.
// Points whose panorama repeats the previous frame, or that have no coverage,
// are dropped. ctx bounds the provider calls; Cancel ends the run at a step
// boundary and yields StatusCanceled with the frames accepted so far.
func (g *Generator) Generate(ctx context.Context, r *route.Route, opts Options) (*Result, error) {
	g.canceled.Store(false)

	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrRouteFailed, err)
	}
	if opts.Spacing <= 0 {
		opts.Spacing = DefaultSpacing
	}
	if opts.MaxPoints <= 0 {
		opts.MaxPoints = DefaultMaxPoints
	}

	samples := Sample(r, opts.Spacing, opts.MaxPoints)
	log.Printf("[Sequence] Sampled %d points over %.0f m (spacing %.1f m)",
		len(samples), r.TotalDistance(), EffectiveSpacing(r.TotalDistance(), opts.Spacing, opts.MaxPoints))

	seq := NewSequence()
	res := &Result{Status: StatusComplete, Sequence: seq, Samples: len(samples)}

	for i, point := range samples {
		if g.canceled.Load() || (opts.Canceled != nil && opts.Canceled()) {
			res.Status = StatusCanceled
			log.Printf("[Sequence] Canceled after %d of %d samples", i, len(samples))
			return res, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec, err := g.resolver.Resolve(ctx, point, opts.TargetDate)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			res.Unresolved++
			g.emitError(fmt.Errorf("sample %d at %s skipped: %w", i, point, err))
			continue
		}

		if rec.PanoID == seq.LastPanoID() {
			res.Duplicates++
			continue
		}

		frame := NewFrame(rec)
		if err := seq.Append(frame); err != nil {
			return nil, err
		}
		if g.progressCallback != nil {
			g.progressCallback(Progress{Frame: frame.Info(), Sample: i, Samples: len(samples)})
		}
	}

	if seq.Len() < MinFrames {
		return nil, fmt.Errorf("%w: %d frame(s) from %d samples", common.ErrInsufficientCoverage, seq.Len(), len(samples))
	}

	if opts.UseElevation && g.elevations != nil {
		if err := g.enrichElevation(ctx, seq); err != nil {
			res.ElevationDisabled = true
			g.emitError(fmt.Errorf("elevation disabled for this session: %w", err))
		}
	}

	log.Printf("[Sequence] Generated %d frames (%d duplicates, %d unresolved)",
		seq.Len(), res.Duplicates, res.Unresolved)
	return res, nil
}

// enrichElevation issues one batched query for every frame. On failure every
// frame keeps NoElevation.
func (g *Generator) enrichElevation(ctx context.Context, seq *Sequence) error {
	frames := seq.Frames()
	elevations, err := g.elevations.ElevationsFor(ctx, seq.Locations())
	if err == nil && len(elevations) != len(frames) {
		err = fmt.Errorf("elevation provider returned %d results for %d locations", len(elevations), len(frames))
	}
	if err != nil {
		if errors.Is(err, common.ErrQuotaExceeded) {
			log.Printf("[Sequence] Over elevation query limit")
		}
		for _, f := range frames {
			f.Elevation = NoElevation
		}
		return err
	}

	for i, f := range frames {
		f.Elevation = elevations[i]
	}
	return nil
}
