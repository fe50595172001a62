package playback

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sync"
	"testing"
	"time"

	"hyperlapse-desktop/internal/common"
	"hyperlapse-desktop/internal/geo"
	"hyperlapse-desktop/internal/sequence"
)

type recordingSurface struct {
	mu        sync.Mutex
	textures  []int
	orients   [][3]float64
	renders   int
	viewports int
}

func (s *recordingSurface) SetEquirectangularTexture(index int, img image.Image) {
	s.mu.Lock()
	s.textures = append(s.textures, index)
	s.mu.Unlock()
}

func (s *recordingSurface) SetCameraOrientation(heading, pitch, roll float64) {
	s.mu.Lock()
	s.orients = append(s.orients, [3]float64{heading, pitch, roll})
	s.mu.Unlock()
}

func (s *recordingSurface) Render() error {
	s.mu.Lock()
	s.renders++
	s.mu.Unlock()
	return nil
}

func (s *recordingSurface) SetViewport(fov float64, width, height int) {
	s.mu.Lock()
	s.viewports++
	s.mu.Unlock()
}

func buildSequence(t *testing.T, n int) *sequence.Sequence {
	t.Helper()
	seq := sequence.NewSequence()
	for i := 0; i < n; i++ {
		f := &sequence.Frame{
			PanoID:    fmt.Sprintf("p%d", i),
			Location:  geo.NewPoint(48+float64(i)*0.0001, 11),
			Elevation: sequence.NoElevation,
		}
		f.SetImage(image.NewRGBA(image.Rect(0, 0, 4, 2)))
		if err := seq.Append(f); err != nil {
			t.Fatal(err)
		}
	}
	return seq
}

func loadedEngine(t *testing.T, n int, cb Callbacks) (*Engine, *recordingSurface) {
	t.Helper()
	surface := &recordingSurface{}
	e := NewEngine(surface, DefaultParams(), cb)
	if err := e.BeginGenerate(); err != nil {
		t.Fatal(err)
	}
	seq := buildSequence(t, n)
	e.BeginLoading(seq)
	e.FinishLoading(seq.Len())
	return e, surface
}

func TestStateMachineTransitions(t *testing.T) {
	var states []State
	e := NewEngine(nil, DefaultParams(), Callbacks{OnStateChange: func(s State) { states = append(states, s) }})

	if e.State() != StateIdle {
		t.Fatalf("initial state = %s", e.State())
	}
	if err := e.BeginGenerate(); err != nil {
		t.Fatal(err)
	}
	if err := e.BeginGenerate(); !errors.Is(err, common.ErrGenerationInProgress) {
		t.Fatalf("second BeginGenerate err = %v, want ErrGenerationInProgress", err)
	}

	seq := buildSequence(t, 3)
	e.BeginLoading(seq)
	e.Play()
	if e.State() != StateLoading {
		t.Fatalf("Play while loading changed state to %s", e.State())
	}
	if err := e.BeginGenerate(); !errors.Is(err, common.ErrGenerationInProgress) {
		t.Fatalf("BeginGenerate while loading err = %v", err)
	}

	e.FinishLoading(3)
	if e.State() != StatePaused {
		t.Fatalf("after load state = %s, want paused", e.State())
	}
	e.Play()
	if e.State() != StatePlaying {
		t.Fatalf("after Play state = %s, want playing", e.State())
	}
	e.Pause()
	if e.State() != StatePaused {
		t.Fatalf("after Pause state = %s, want paused", e.State())
	}

	want := []State{StateGenerating, StateLoading, StatePaused, StatePlaying, StatePaused}
	if fmt.Sprint(states) != fmt.Sprint(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
}

func TestAbortReturnsToIdle(t *testing.T) {
	e := NewEngine(nil, DefaultParams(), Callbacks{})
	_ = e.BeginGenerate()
	e.Abort()
	if e.State() != StateIdle {
		t.Fatalf("state = %s, want idle", e.State())
	}
	if err := e.BeginGenerate(); err != nil {
		t.Fatalf("BeginGenerate after abort: %v", err)
	}
}

func TestFinishLoadingWithNothingPlayable(t *testing.T) {
	e := NewEngine(nil, DefaultParams(), Callbacks{})
	_ = e.BeginGenerate()
	e.BeginLoading(buildSequence(t, 3))
	e.FinishLoading(0)
	if e.State() != StateIdle {
		t.Fatalf("state = %s, want idle", e.State())
	}
}

func TestNextPrevClampAtBounds(t *testing.T) {
	e, _ := loadedEngine(t, 3, Callbacks{})

	e.Prev()
	if e.Index() != 0 {
		t.Fatalf("Prev at 0 moved to %d", e.Index())
	}
	e.Next()
	e.Next()
	if e.Index() != 2 {
		t.Fatalf("index = %d, want 2", e.Index())
	}
	e.Next()
	if e.Index() != 2 {
		t.Fatalf("Next at end moved to %d", e.Index())
	}
	e.Prev()
	if e.Index() != 1 {
		t.Fatalf("Prev index = %d, want 1", e.Index())
	}
}

func TestNextPausesAndRendersImmediately(t *testing.T) {
	var pauses int
	var frames []int
	e, surface := loadedEngine(t, 3, Callbacks{
		OnPause: func() { pauses++ },
		OnFrame: func(ev FrameEvent) { frames = append(frames, ev.Position) },
	})
	e.Play()
	before := surface.renders

	e.Next()
	if e.State() != StatePaused {
		t.Fatalf("state after Next = %s, want paused", e.State())
	}
	if pauses != 1 {
		t.Fatalf("pauses = %d, want 1", pauses)
	}
	if surface.renders != before+1 {
		t.Fatalf("renders = %d, want %d", surface.renders, before+1)
	}
	if fmt.Sprint(frames) != "[0 1]" {
		t.Fatalf("frame events = %v, want [0 1]", frames)
	}
}

func TestTickCadenceAndPingPong(t *testing.T) {
	e, _ := loadedEngine(t, 3, Callbacks{})
	e.Play()

	// Below the 50 ms threshold nothing moves.
	e.Tick(20 * time.Millisecond)
	e.Tick(20 * time.Millisecond)
	if e.Index() != 0 {
		t.Fatalf("index moved early to %d", e.Index())
	}

	var got []int
	for i := 0; i < 8; i++ {
		e.Tick(50 * time.Millisecond)
		got = append(got, e.Index())
	}
	// 0 -> 1 -> 2 -> (end, stay at 2, flip) -> 1 -> 0 -> (start, stay at 0, flip) -> 1 -> 2
	want := []int{1, 2, 2, 1, 0, 0, 1, 2}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("indices = %v, want %v", got, want)
	}
}

func TestTickDoesNotAdvanceWhilePaused(t *testing.T) {
	e, surface := loadedEngine(t, 3, Callbacks{})
	before := surface.renders
	e.Tick(time.Second)
	if e.Index() != 0 {
		t.Fatalf("paused engine advanced to %d", e.Index())
	}
	if surface.renders != before+1 {
		t.Fatalf("paused tick should still render")
	}
}

func TestComputeCameraRampsOffsets(t *testing.T) {
	p := DefaultParams()
	p.Position = Vec2{X: 10, Y: 5}
	p.Offset = Vec3{X: 40, Y: 20, Z: 90}
	p.Tilt = 0.1

	cam, lat, lon := computeCamera(p, view{index: 2, length: 4}, 0, 0)
	// t = 0.5
	if lon != 30 || cam.Heading != 30 {
		t.Errorf("heading = %v, want 30", cam.Heading)
	}
	if lat != 15 || cam.Pitch != 15 {
		t.Errorf("pitch = %v, want 15", cam.Pitch)
	}
	wantRoll := -geo.ToDeg(0.1 + geo.ToRad(90)*0.5)
	if math.Abs(cam.Roll-wantRoll) > 1e-9 {
		t.Errorf("roll = %v, want %v", cam.Roll, wantRoll)
	}
}

func TestComputeCameraLookAtAndClamp(t *testing.T) {
	p := DefaultParams()
	p.UseLookAt = true
	p.Position = Vec2{X: 5, Y: 200}

	cam, _, _ := computeCamera(p, view{
		index:         0,
		length:        10,
		originHeading: geo.ToRad(30),
		lookAtHeading: 90,
	}, 0, 0)
	if math.Abs(cam.Heading-65) > 1e-9 {
		t.Errorf("look-at heading = %v, want 65", cam.Heading)
	}
	if cam.Pitch != MaxLatitude {
		t.Errorf("pitch = %v, want clamp at %v", cam.Pitch, MaxLatitude)
	}
	// phi = 5 degrees from the pole
	if math.Abs(cam.Target[1]-SphereRadius*math.Cos(geo.ToRad(5))) > 1e-9 {
		t.Errorf("target y = %v", cam.Target[1])
	}
}

func TestLookAtPitch(t *testing.T) {
	// target 100 m above the frame at 100 m distance -> 45 degrees up
	if got := lookAtPitch(10, 0, 110, 100); math.Abs(got-45) > 1e-9 {
		t.Errorf("pitch = %v, want 45", got)
	}
	// elevation offset raises the frame above the target
	if got := lookAtPitch(10, -200, 110, 100); math.Abs(got+45) > 1e-9 {
		t.Errorf("pitch = %v, want -45", got)
	}
}

func TestDrawFrameUsesElevationForPitch(t *testing.T) {
	surface := &recordingSurface{}
	params := DefaultParams()
	e := NewEngine(surface, params, Callbacks{})
	_ = e.BeginGenerate()

	seq := sequence.NewSequence()
	frameLoc := geo.NewPoint(48, 11)
	target := geo.NewPoint(48.001, 11)
	f := &sequence.Frame{PanoID: "a", Location: frameLoc, Elevation: 100}
	f.SetImage(image.NewRGBA(image.Rect(0, 0, 2, 1)))
	_ = seq.Append(f)
	_ = seq.Append(&sequence.Frame{PanoID: "b", Location: target, Elevation: 100})

	e.SetLookAt(target, 100+geo.Distance(frameLoc, target))
	e.BeginLoading(seq)
	e.FinishLoading(2)

	cam := e.Render()
	if math.Abs(cam.Pitch-45) > 1e-6 {
		t.Fatalf("pitch = %v, want 45", cam.Pitch)
	}
	if got := e.CameraPosition(); math.Abs(got.Lat-45) > 1e-6 {
		t.Fatalf("camera position lat = %v, want 45", got.Lat)
	}
}

func TestSetFOVTruncatesAndNotifiesViewport(t *testing.T) {
	surface := &recordingSurface{}
	e := NewEngine(surface, DefaultParams(), Callbacks{})
	e.SetFOV(72.9)
	e.SetSize(800, 600)
	p := e.Params()
	if p.FOV != 72 || p.Width != 800 || p.Height != 600 {
		t.Fatalf("params = %+v", p)
	}
	if surface.viewports != 2 {
		t.Fatalf("viewport updates = %d, want 2", surface.viewports)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	e, surface := loadedEngine(t, 2, Callbacks{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		e.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancel")
	}
	surface.mu.Lock()
	defer surface.mu.Unlock()
	if surface.renders < 2 {
		t.Fatalf("renders = %d, want the loop to have rendered", surface.renders)
	}
}
