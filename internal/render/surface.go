package render

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	"golang.org/x/image/draw"

	"hyperlapse-desktop/internal/playback"
)

// OffscreenSurface implements playback.Surface by projecting into memory.
// Headless sessions use it to keep the view the engine pauses on after a
// load, which is saved as the export's preview.
type OffscreenSurface struct {
	mu        sync.Mutex
	projector Projector
	fov       float64
	texture   *image.RGBA
	index     int
	camera    playback.Camera
	frame     *image.RGBA
	renders   int
}

// NewOffscreenSurface returns a surface rendering width x height views.
func NewOffscreenSurface(width, height int, fov float64) *OffscreenSurface {
	return &OffscreenSurface{
		projector: Projector{Width: width, Height: height},
		fov:       fov,
		index:     -1,
	}
}

// SetEquirectangularTexture binds the panorama to draw.
func (s *OffscreenSurface) SetEquirectangularTexture(index int, img image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index = index
	if rgba, ok := img.(*image.RGBA); ok {
		s.texture = rgba
		return
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	s.texture = rgba
}

// SetCameraOrientation stores the camera angles in degrees.
func (s *OffscreenSurface) SetCameraOrientation(heading, pitch, roll float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.camera = CameraFromAngles(heading, pitch, roll, s.fov)
}

// SetCamera stores the full camera including the panorama tilt.
func (s *OffscreenSurface) SetCamera(cam playback.Camera) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cam.FOV <= 0 {
		cam.FOV = s.fov
	}
	s.camera = cam
}

// SetViewport resizes the output and updates the field of view.
func (s *OffscreenSurface) SetViewport(fov float64, width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fov = fov
	s.camera.FOV = fov
	s.projector = Projector{Width: width, Height: height}
}

// Render projects the bound texture.
func (s *OffscreenSurface) Render() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.texture == nil {
		return fmt.Errorf("no texture bound")
	}
	s.frame = s.projector.Project(s.texture, s.camera)
	s.renders++
	return nil
}

// Snapshot returns the last rendered view and the frame index it shows.
func (s *OffscreenSurface) Snapshot() (*image.RGBA, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame, s.index
}

// EncodeJPEG encodes the last rendered view.
func (s *OffscreenSurface) EncodeJPEG(quality int) ([]byte, error) {
	frame, _ := s.Snapshot()
	if frame == nil {
		return nil, fmt.Errorf("nothing rendered yet")
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode preview: %w", err)
	}
	return buf.Bytes(), nil
}

// CameraFromAngles rebuilds a camera from surface angles.
func CameraFromAngles(heading, pitch, roll, fov float64) playback.Camera {
	cam := playback.Camera{Heading: heading, Pitch: pitch, Roll: roll, FOV: fov}
	cam.Target = playback.TargetFor(pitch, heading)
	return cam
}
