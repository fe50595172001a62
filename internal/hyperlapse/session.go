// Package hyperlapse wires the panorama loader, frame sequencer, playback
// engine and export controller into one session object.
package hyperlapse

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"hyperlapse-desktop/internal/cache"
	"hyperlapse-desktop/internal/common"
	"hyperlapse-desktop/internal/config"
	"hyperlapse-desktop/internal/export"
	"hyperlapse-desktop/internal/geo"
	"hyperlapse-desktop/internal/obs"
	"hyperlapse-desktop/internal/panorama"
	"hyperlapse-desktop/internal/playback"
	"hyperlapse-desktop/internal/route"
	"hyperlapse-desktop/internal/sequence"
)

// RouteProvider computes a driving route between two points.
type RouteProvider interface {
	RouteBetween(ctx context.Context, origin, destination geo.Point) (*route.Route, error)
}

// RoadSnapper moves a point onto the nearest drivable road.
type RoadSnapper interface {
	SnapToRoad(ctx context.Context, point geo.Point) (geo.Point, error)
}

// LoadProgress is reported after every exported frame.
type LoadProgress struct {
	Label    string `json:"label"`
	Position int    `json:"position"`
	Length   int    `json:"length"`
	Saved    bool   `json:"saved"`
}

// Events receive session notifications. Any of them may be nil.
type Events struct {
	OnRouteProgress func(sequence.Progress)
	OnRouteComplete func(*sequence.Result)
	OnTileProgress  func(panorama.TileProgress)
	OnLoadProgress  func(LoadProgress)
	OnLoadComplete  func(*export.Result)
	OnLoadCanceled  func(*export.Result)
	OnFrame         func(playback.FrameEvent)
	OnPlay          func()
	OnPause         func()
	OnStateChange   func(playback.State)
	OnError         func(error)
}

// Config holds the session's collaborators and startup settings.
type Config struct {
	Routes     RouteProvider
	Snapper    RoadSnapper // optional
	Metadata   panorama.MetadataProvider
	Tiles      panorama.TileFetcher
	Elevations sequence.ElevationProvider // optional
	Surface    playback.Surface
	Sink       export.Sink
	Rasters    *cache.RasterCache // optional
	Settings   config.SessionSettings
	Events     Events
	Now        func() time.Time
}

// GenerateRequest names the route to generate. Route wins over the endpoints
// when both are set. Camera, when set, is applied once the engine has been
// reset for the new run.
type GenerateRequest struct {
	Origin      geo.Point          `json:"origin"`
	Destination geo.Point          `json:"destination"`
	Route       *route.Route       `json:"-"`
	TargetDate  *time.Time         `json:"targetDate,omitempty"`
	Camera      *config.CameraPlan `json:"-"`
}

// Session owns one instance of every pipeline component and all mutable
// pipeline state.
type Session struct {
	id string

	routes     RouteProvider
	snapper    RoadSnapper
	elevations sequence.ElevationProvider
	rasters    *cache.RasterCache
	now        func() time.Time
	events     Events

	loader    *panorama.Loader
	generator *sequence.Generator
	engine    *playback.Engine
	exporter  *export.Controller

	mu           sync.Mutex
	settings     config.SessionSettings
	seq          *sequence.Sequence
	label        string
	useElevation bool

	// canceled spans a whole run; components clear their own flags when
	// they start but never this one.
	canceled atomic.Bool
}

// New creates a session.
func New(cfg Config) (*Session, error) {
	if cfg.Routes == nil {
		return nil, fmt.Errorf("route provider is required")
	}
	settings := cfg.Settings
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session settings: %w", err)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	s := &Session{
		id:           uuid.NewString(),
		routes:       cfg.Routes,
		snapper:      cfg.Snapper,
		elevations:   cfg.Elevations,
		rasters:      cfg.Rasters,
		now:          now,
		events:       cfg.Events,
		settings:     settings,
		useElevation: settings.UseElevation,
	}

	loader, err := panorama.NewLoader(panorama.Config{
		Metadata:         cfg.Metadata,
		Tiles:            cfg.Tiles,
		MaxWorkers:       settings.TileWorkers,
		ProgressCallback: cfg.Events.OnTileProgress,
		ErrorCallback:    s.emitError,
	})
	if err != nil {
		return nil, err
	}
	s.loader = loader

	s.generator, err = sequence.NewGenerator(sequence.GeneratorConfig{
		Resolver:         loader,
		Elevations:       cfg.Elevations,
		ProgressCallback: cfg.Events.OnRouteProgress,
		ErrorCallback:    s.emitError,
	})
	if err != nil {
		return nil, err
	}

	params := playback.DefaultParams()
	params.Millis = settings.Millis
	params.FOV = settings.FOV
	params.Width = settings.Width
	params.Height = settings.Height
	params.UseLookAt = settings.UseLookAt
	params.ElevationOffset = settings.ElevationOffset
	s.engine = playback.NewEngine(cfg.Surface, params, playback.Callbacks{
		OnFrame:       cfg.Events.OnFrame,
		OnPlay:        cfg.Events.OnPlay,
		OnPause:       cfg.Events.OnPause,
		OnStateChange: cfg.Events.OnStateChange,
	})

	var overlay *export.Overlay
	if settings.Overlay {
		overlay, err = export.NewOverlay(settings.OverlayFontSize)
		if err != nil {
			return nil, err
		}
	}

	s.exporter, err = export.NewController(export.Config{
		Composer:      &cachingComposer{loader: loader, rasters: cfg.Rasters},
		Sink:          cfg.Sink,
		Zoom:          settings.Zoom,
		Quality:       settings.JPEGQuality,
		Overlay:       overlay,
		LookAt:        s,
		Canceled:      s.canceled.Load,
		OnFrameSaved:  s.onFrameSaved,
		ErrorCallback: s.emitError,
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Session] Created session %s", s.id)
	return s, nil
}

// ID returns the session id used to correlate logs.
func (s *Session) ID() string { return s.id }

// Engine exposes the playback engine so the shell can drive its render loop.
func (s *Session) Engine() *playback.Engine { return s.engine }

// Settings returns the current session settings.
func (s *Session) Settings() config.SessionSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// Sequence returns the last generated sequence, nil before the first
// generation.
func (s *Session) Sequence() *sequence.Sequence {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Label returns the label of the last export.
func (s *Session) Label() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.label
}

// Frames returns a snapshot of the current frames.
func (s *Session) Frames() []sequence.FrameInfo {
	seq := s.Sequence()
	if seq == nil {
		return nil
	}
	return seq.Infos()
}

func (s *Session) ctx(ctx context.Context) context.Context {
	return obs.WithSessionID(ctx, s.id)
}

func (s *Session) emitError(err error) {
	if s.events.OnError != nil {
		s.events.OnError(err)
	}
}

// Reset reinitialises the pipeline state owned by the session. It does not
// touch the engine, which resets itself when a new generation begins.
func (s *Session) Reset() {
	s.mu.Lock()
	if s.seq != nil {
		s.seq.Reset()
	}
	s.seq = nil
	s.label = ""
	s.useElevation = s.settings.UseElevation
	s.mu.Unlock()
}

// Generate computes the route when needed, samples it and resolves every
// sample point. On success the engine is left in the generating state and
// Load makes the frames playable.
func (s *Session) Generate(ctx context.Context, req GenerateRequest) (res *sequence.Result, err error) {
	ctx = s.ctx(ctx)
	defer obs.Time(ctx, "session.generate")(&err)

	if err := s.engine.BeginGenerate(); err != nil {
		return nil, err
	}
	s.Reset()
	s.canceled.Store(false)
	if req.Camera != nil {
		s.applyCamera(*req.Camera)
	}

	r := req.Route
	if r == nil {
		log.Printf("[Session] Routing %s -> %s", req.Origin, req.Destination)
		r, err = s.routes.RouteBetween(ctx, req.Origin, req.Destination)
		if err != nil {
			s.engine.Abort()
			if !errors.Is(err, common.ErrRouteFailed) {
				err = fmt.Errorf("%w: %v", common.ErrRouteFailed, err)
			}
			s.emitError(err)
			return nil, err
		}
	}
	if s.canceled.Load() {
		log.Printf("[Session] Generation canceled before sampling")
		s.engine.Abort()
		return &sequence.Result{Status: sequence.StatusCanceled, Sequence: sequence.NewSequence()}, nil
	}

	s.mu.Lock()
	opts := sequence.Options{
		Spacing:      s.settings.Spacing,
		MaxPoints:    s.settings.MaxPoints,
		TargetDate:   req.TargetDate,
		UseElevation: s.useElevation && s.elevations != nil,
		Canceled:     s.canceled.Load,
	}
	s.mu.Unlock()

	res, err = s.generator.Generate(ctx, r, opts)
	if err != nil {
		s.engine.Abort()
		s.emitError(err)
		return nil, err
	}
	if res.Status == sequence.StatusCanceled {
		log.Printf("[Session] Generation canceled with %d frames", res.Sequence.Len())
		s.engine.Abort()
		return res, nil
	}

	s.mu.Lock()
	s.seq = res.Sequence
	if res.ElevationDisabled {
		s.useElevation = false
	}
	s.mu.Unlock()

	if s.events.OnRouteComplete != nil {
		s.events.OnRouteComplete(res)
	}
	return res, nil
}

// Load composes and exports every frame of the generated sequence, then
// pauses the engine on frame 0. A canceled load keeps the leading frames
// that were composed playable.
func (s *Session) Load(ctx context.Context) (*export.Result, error) {
	s.canceled.Store(false)
	return s.load(ctx)
}

func (s *Session) load(ctx context.Context) (res *export.Result, err error) {
	ctx = s.ctx(ctx)
	defer obs.Time(ctx, "session.load")(&err)

	seq := s.Sequence()
	if seq == nil || seq.Len() == 0 {
		return nil, fmt.Errorf("no sequence to load")
	}
	if s.engine.State() == playback.StateLoading || s.exporter.Running() {
		return nil, common.ErrGenerationInProgress
	}

	label := export.NewLabel(s.now())
	s.mu.Lock()
	s.label = label
	s.mu.Unlock()

	s.engine.BeginLoading(seq)
	res, err = s.exporter.Run(ctx, seq, label)
	s.engine.FinishLoading(playableFrames(seq))
	if err != nil {
		s.emitError(err)
		return res, err
	}

	if res.Status == export.StatusCanceled {
		if s.events.OnLoadCanceled != nil {
			s.events.OnLoadCanceled(res)
		}
		return res, nil
	}
	if s.events.OnLoadComplete != nil {
		s.events.OnLoadComplete(res)
	}
	return res, nil
}

// Run generates and loads in one call. A Cancel at any point of the run,
// including routing and the gap between the two phases, ends it with
// StatusCanceled.
func (s *Session) Run(ctx context.Context, req GenerateRequest) (*export.Result, error) {
	gen, err := s.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if gen.Status == sequence.StatusCanceled {
		return &export.Result{Status: export.StatusCanceled}, nil
	}
	if s.canceled.Load() {
		log.Printf("[Session] Canceled before export")
		s.engine.Abort()
		return &export.Result{Status: export.StatusCanceled, Frames: gen.Sequence.Len()}, nil
	}
	return s.load(ctx)
}

// playableFrames counts the leading frames that have imagery.
func playableFrames(seq *sequence.Sequence) int {
	n := 0
	for _, f := range seq.Frames() {
		if f.Image() == nil {
			break
		}
		n++
	}
	return n
}

func (s *Session) onFrameSaved(ev export.FrameEvent) {
	if s.events.OnLoadProgress != nil {
		s.events.OnLoadProgress(LoadProgress{
			Label:    ev.Label,
			Position: ev.Index,
			Length:   ev.Total,
			Saved:    ev.Saved,
		})
	}
}

// Cancel stops a running generation or export at its next step boundary.
// It holds until the next Generate or Load begins.
func (s *Session) Cancel() {
	log.Printf("[Session] Cancel requested")
	s.canceled.Store(true)
	s.generator.Cancel()
	s.exporter.Cancel()
}

func (s *Session) Play()  { s.engine.Play() }
func (s *Session) Pause() { s.engine.Pause() }
func (s *Session) Next()  { s.engine.Next() }
func (s *Session) Prev()  { s.engine.Prev() }

// RenderLookAt projects a composed frame through the camera playback would
// use for it. Nothing is rendered while look-at is off.
func (s *Session) RenderLookAt(index int, texture *image.RGBA) (*image.RGBA, bool) {
	params := s.engine.Params()
	if !params.UseLookAt {
		return nil, false
	}
	cam, ok := s.engine.CameraFor(index)
	if !ok {
		return nil, false
	}
	return projectorFor(params).Project(texture, cam), true
}

// SetLookAt moves the look-at target. With elevation enabled the target's
// elevation is fetched once; a failed lookup leaves it at 0.
func (s *Session) SetLookAt(ctx context.Context, point geo.Point) error {
	if !point.Valid() {
		return fmt.Errorf("invalid look-at point %s", point)
	}
	s.mu.Lock()
	useElevation := s.useElevation
	s.mu.Unlock()

	elevation := 0.0
	if useElevation && s.elevations != nil {
		values, err := s.elevations.ElevationsFor(s.ctx(ctx), []geo.Point{point})
		switch {
		case err != nil:
			s.emitError(fmt.Errorf("look-at elevation unavailable: %w", err))
		case len(values) == 1:
			elevation = values[0]
		}
	}
	s.engine.SetLookAt(point, elevation)
	log.Printf("[Session] Look-at %s (elevation %.1f m)", point, elevation)
	return nil
}

// DropPins places a start and end pin a quarter of spanLng either side of
// center, each snapped to the nearest road.
func (s *Session) DropPins(ctx context.Context, center geo.Point, spanLng float64) (start, end geo.Point, err error) {
	if s.snapper == nil {
		return geo.Point{}, geo.Point{}, fmt.Errorf("road snapping is not configured")
	}
	ctx = s.ctx(ctx)
	offset := spanLng / 4

	start, err = s.snapper.SnapToRoad(ctx, geo.NewPoint(center.Lat, center.Lng-offset))
	if err != nil {
		return geo.Point{}, geo.Point{}, fmt.Errorf("failed to snap start pin: %w", err)
	}
	end, err = s.snapper.SnapToRoad(ctx, geo.NewPoint(center.Lat, center.Lng+offset))
	if err != nil {
		return geo.Point{}, geo.Point{}, fmt.Errorf("failed to snap end pin: %w", err)
	}
	return start, end, nil
}

// FrameImage returns the composed raster of frame index.
func (s *Session) FrameImage(index int) (*image.RGBA, bool) {
	seq := s.Sequence()
	if seq == nil {
		return nil, false
	}
	f := seq.At(index)
	if f == nil {
		return nil, false
	}
	img := f.Image()
	return img, img != nil
}
