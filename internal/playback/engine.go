// Package playback drives the hyperlapse render loop: a playhead that
// bounces through the frame sequence at a fixed cadence and a camera derived
// from frame metadata, operator offsets and an optional look-at target.
package playback

import (
	"image"
	"log"
	"math"
	"sync"
	"time"

	"hyperlapse-desktop/internal/common"
	"hyperlapse-desktop/internal/geo"
	"hyperlapse-desktop/internal/sequence"
)

// Defaults for playback parameters.
const (
	DefaultMillis = 50
	DefaultFOV    = 80.0
	DefaultWidth  = 1280
	DefaultHeight = 720
)

// Surface is the 3D render target.
type Surface interface {
	SetEquirectangularTexture(index int, img image.Image)
	SetCameraOrientation(heading, pitch, roll float64)
	Render() error
}

// Viewport is implemented by surfaces that track projection changes.
type Viewport interface {
	SetViewport(fov float64, width, height int)
}

// CameraSurface is implemented by surfaces that want the full camera,
// including the panorama tilt, instead of bare angles.
type CameraSurface interface {
	SetCamera(cam Camera)
}

// Params are the operator-controlled playback parameters.
type Params struct {
	Position        Vec2      `json:"position"`
	Offset          Vec3      `json:"offset"`
	Tilt            float64   `json:"tilt"` // radians
	UseLookAt       bool      `json:"useLookAt"`
	LookAt          geo.Point `json:"lookAt"`
	LookAtElevation float64   `json:"lookAtElevation"`
	ElevationOffset float64   `json:"elevationOffset"`
	UseRotationComp bool      `json:"useRotationComp"`
	RotationComp    float64   `json:"rotationComp"` // degrees
	Millis          int       `json:"millis"`
	FOV             float64   `json:"fov"`
	Width           int       `json:"width"`
	Height          int       `json:"height"`
}

// DefaultParams returns the startup parameters.
func DefaultParams() Params {
	return Params{
		Millis: DefaultMillis,
		FOV:    DefaultFOV,
		Width:  DefaultWidth,
		Height: DefaultHeight,
	}
}

// FrameEvent is emitted whenever a frame is drawn.
type FrameEvent struct {
	Position int                `json:"position"`
	Length   int                `json:"length"`
	Frame    sequence.FrameInfo `json:"frame"`
}

// Callbacks receive engine notifications. They run outside the engine lock.
type Callbacks struct {
	OnFrame       func(FrameEvent)
	OnPlay        func()
	OnPause       func()
	OnStateChange func(State)
}

// Engine owns the playhead and camera state.
type Engine struct {
	mu sync.Mutex

	state   State
	seq     *sequence.Sequence
	length  int // playable frames
	index   int
	forward bool

	params Params

	lat, lon      float64
	originHeading float64
	originPitch   float64
	lookAtHeading float64
	basePitch     float64

	elapsed time.Duration
	surface Surface
	cb      Callbacks
}

// NewEngine creates an idle engine rendering to surface.
func NewEngine(surface Surface, params Params, cb Callbacks) *Engine {
	if params.Millis <= 0 {
		params.Millis = DefaultMillis
	}
	if params.FOV <= 0 {
		params.FOV = DefaultFOV
	}
	return &Engine{
		state:   StateIdle,
		forward: true,
		params:  params,
		surface: surface,
		cb:      cb,
	}
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Index returns the playhead position.
func (e *Engine) Index() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index
}

// Length returns the number of playable frames.
func (e *Engine) Length() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.length
}

// Forward reports the auto-play direction.
func (e *Engine) Forward() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.forward
}

// Params returns a copy of the current parameters.
func (e *Engine) Params() Params {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params
}

// CameraPosition returns the accumulated camera latitude/longitude.
func (e *Engine) CameraPosition() geo.Point {
	e.mu.Lock()
	defer e.mu.Unlock()
	return geo.NewPoint(e.lat, e.lon)
}

func (e *Engine) setState(s State) func() {
	if e.state == s {
		return nil
	}
	e.state = s
	log.Printf("[Playback] State -> %s", s)
	if e.cb.OnStateChange == nil {
		return nil
	}
	cb := e.cb.OnStateChange
	return func() { cb(s) }
}

func run(fns ...func()) {
	for _, fn := range fns {
		if fn != nil {
			fn()
		}
	}
}

// reset reinitialises per-run state. Position.Y and cadence survive a reset.
func (e *Engine) reset() {
	e.seq = nil
	e.length = 0
	e.index = 0
	e.forward = true
	e.lat, e.lon = 0, 0
	e.originHeading, e.originPitch = 0, 0
	e.lookAtHeading = 0
	e.basePitch = 0
	e.elapsed = 0
	e.params.Tilt = 0
	e.params.Position.X = 0
	e.params.Offset = Vec3{}
}

// BeginGenerate moves to generating. A second call while a generation or load
// is running is rejected.
func (e *Engine) BeginGenerate() error {
	e.mu.Lock()
	if e.state.Busy() {
		e.mu.Unlock()
		return common.ErrGenerationInProgress
	}
	wasPlaying := e.state == StatePlaying
	e.reset()
	notify := e.setState(StateGenerating)
	e.mu.Unlock()

	if wasPlaying && e.cb.OnPause != nil {
		e.cb.OnPause()
	}
	run(notify)
	return nil
}

// BeginLoading attaches the generated sequence and moves to loading.
func (e *Engine) BeginLoading(seq *sequence.Sequence) {
	e.mu.Lock()
	e.seq = seq
	e.length = 0
	e.index = 0
	notify := e.setState(StateLoading)
	e.mu.Unlock()
	run(notify)
}

// FinishLoading makes the first playable frames available and pauses on
// frame 0. playable is the number of leading frames with imagery; zero
// returns the engine to idle.
func (e *Engine) FinishLoading(playable int) {
	e.mu.Lock()
	if e.seq != nil && playable > e.seq.Len() {
		playable = e.seq.Len()
	}
	e.length = playable
	e.index = 0
	e.forward = true
	e.elapsed = 0
	if playable <= 0 {
		notify := e.setState(StateIdle)
		e.mu.Unlock()
		run(notify)
		return
	}
	notify := e.setState(StatePaused)
	frameNotify := e.drawFrame()
	e.renderLocked()
	e.mu.Unlock()
	run(notify, frameNotify)
}

// Abort returns a generating or loading engine to idle.
func (e *Engine) Abort() {
	e.mu.Lock()
	if !e.state.Busy() {
		e.mu.Unlock()
		return
	}
	e.reset()
	notify := e.setState(StateIdle)
	e.mu.Unlock()
	run(notify)
}

// Play starts auto-play. It is a no-op unless the engine is paused.
func (e *Engine) Play() {
	e.mu.Lock()
	if e.state != StatePaused {
		e.mu.Unlock()
		return
	}
	notify := e.setState(StatePlaying)
	e.mu.Unlock()

	run(notify)
	if e.cb.OnPlay != nil {
		e.cb.OnPlay()
	}
}

// Pause stops auto-play.
func (e *Engine) Pause() {
	e.mu.Lock()
	notify := e.pauseLocked()
	e.mu.Unlock()
	run(notify...)
}

func (e *Engine) pauseLocked() []func() {
	if e.state != StatePlaying {
		return nil
	}
	notify := e.setState(StatePaused)
	return []func(){notify, e.cb.OnPause}
}

// Next pauses and steps one frame forward, stopping at the last frame.
func (e *Engine) Next() {
	e.step(1)
}

// Prev pauses and steps one frame back, stopping at frame 0.
func (e *Engine) Prev() {
	e.step(-1)
}

func (e *Engine) step(delta int) {
	e.mu.Lock()
	if !e.state.CanRender() {
		e.mu.Unlock()
		return
	}
	notify := e.pauseLocked()
	target := e.index + delta
	if target >= 0 && target < e.length {
		e.index = target
		notify = append(notify, e.drawFrame())
		e.renderLocked()
	}
	e.mu.Unlock()
	run(notify...)
}

// Tick advances the cadence clock by elapsed and renders. While playing the
// playhead moves once the accumulated time reaches the configured millis.
func (e *Engine) Tick(elapsed time.Duration) {
	e.mu.Lock()
	var notify func()
	e.elapsed += elapsed
	if e.elapsed >= time.Duration(e.params.Millis)*time.Millisecond {
		if e.state == StatePlaying {
			notify = e.loop()
		}
		e.elapsed = 0
	}
	e.renderLocked()
	e.mu.Unlock()
	run(notify)
}

// loop draws the current frame and moves the playhead, bouncing at both ends.
func (e *Engine) loop() func() {
	notify := e.drawFrame()
	if e.forward {
		e.index++
		if e.index == e.length {
			e.index = e.length - 1
			e.forward = false
		}
	} else {
		e.index--
		if e.index == -1 {
			e.index = 0
			e.forward = true
		}
	}
	return notify
}

// drawFrame binds the current frame's texture and orientation.
func (e *Engine) drawFrame() func() {
	if e.seq == nil || e.length == 0 {
		return nil
	}
	frame := e.seq.At(e.index)
	if frame == nil {
		return nil
	}

	if img := frame.Image(); img != nil && e.surface != nil {
		e.surface.SetEquirectangularTexture(e.index, img)
	}
	e.originHeading = frame.Heading
	e.originPitch = frame.Pitch

	if e.params.UseLookAt {
		e.lookAtHeading = geo.Heading(frame.Location, e.params.LookAt)
	}
	if frame.Elevation != sequence.NoElevation {
		if d := geo.Distance(frame.Location, e.params.LookAt); d > 0 {
			e.basePitch = lookAtPitch(frame.Elevation, e.params.ElevationOffset, e.params.LookAtElevation, d)
		}
	}

	if e.cb.OnFrame == nil {
		return nil
	}
	ev := FrameEvent{Position: e.index, Length: e.length, Frame: frame.Info()}
	cb := e.cb.OnFrame
	return func() { cb(ev) }
}

// Render computes the camera for the current frame and renders it.
func (e *Engine) Render() Camera {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.renderLocked()
}

func (e *Engine) renderLocked() Camera {
	if !e.state.CanRender() || e.length == 0 {
		return Camera{FOV: e.params.FOV}
	}
	cam, lat, lon := computeCamera(e.params, view{
		index:         e.index,
		length:        e.length,
		originHeading: e.originHeading,
		originPitch:   e.originPitch,
		lookAtHeading: e.lookAtHeading,
		basePitch:     e.basePitch,
	}, e.lat, e.lon)
	e.lat, e.lon = lat, lon

	if e.surface != nil {
		if cs, ok := e.surface.(CameraSurface); ok {
			cs.SetCamera(cam)
		} else {
			e.surface.SetCameraOrientation(cam.Heading, cam.Pitch, cam.Roll)
		}
		if err := e.surface.Render(); err != nil {
			log.Printf("[Playback] Render failed: %v", err)
		}
	}
	return cam
}

// CameraFor computes the camera a frame would be rendered with, without moving
// the playhead or touching the surface. Used for off-screen look-at exports.
func (e *Engine) CameraFor(index int) (Camera, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.seq == nil {
		return Camera{}, false
	}
	frame := e.seq.At(index)
	if frame == nil {
		return Camera{}, false
	}

	v := view{
		index:         index,
		length:        e.seq.Len(),
		originHeading: frame.Heading,
		originPitch:   frame.Pitch,
		basePitch:     e.basePitch,
	}
	if e.params.UseLookAt {
		v.lookAtHeading = geo.Heading(frame.Location, e.params.LookAt)
	}
	if frame.Elevation != sequence.NoElevation {
		if d := geo.Distance(frame.Location, e.params.LookAt); d > 0 {
			v.basePitch = lookAtPitch(frame.Elevation, e.params.ElevationOffset, e.params.LookAtElevation, d)
		}
	}
	cam, _, _ := computeCamera(e.params, v, 0, 0)
	return cam, true
}

// Update applies fn to the parameters under the engine lock.
func (e *Engine) Update(fn func(*Params)) {
	e.mu.Lock()
	fn(&e.params)
	if e.params.Millis <= 0 {
		e.params.Millis = DefaultMillis
	}
	e.mu.Unlock()
}

// SetPitch sets the base vertical camera position in degrees.
func (e *Engine) SetPitch(deg float64) {
	e.mu.Lock()
	e.basePitch = deg
	e.mu.Unlock()
}

// SetLookAt sets the look-at target and its elevation.
func (e *Engine) SetLookAt(point geo.Point, elevation float64) {
	e.Update(func(p *Params) {
		p.LookAt = point
		p.LookAtElevation = elevation
	})
}

// SetFOV sets the field of view, truncated to whole degrees.
func (e *Engine) SetFOV(fov float64) {
	e.mu.Lock()
	e.params.FOV = math.Floor(fov)
	e.applyViewportLocked()
	e.mu.Unlock()
}

// SetSize sets the viewport size.
func (e *Engine) SetSize(width, height int) {
	e.mu.Lock()
	e.params.Width = width
	e.params.Height = height
	e.applyViewportLocked()
	e.mu.Unlock()
}

func (e *Engine) applyViewportLocked() {
	if vp, ok := e.surface.(Viewport); ok {
		vp.SetViewport(e.params.FOV, e.params.Width, e.params.Height)
	}
}
