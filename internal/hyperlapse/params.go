package hyperlapse

import (
	"fmt"
	"log"

	"hyperlapse-desktop/internal/playback"
)

// The setters below mirror the operator controls. Playback parameters take
// effect on the next rendered frame; sampling and composition parameters on
// the next Generate or Load.

func (s *Session) SetSpacing(metres float64) error {
	if metres <= 0 {
		return fmt.Errorf("spacing must be positive, got %g", metres)
	}
	s.mu.Lock()
	s.settings.Spacing = metres
	s.mu.Unlock()
	return nil
}

func (s *Session) SetMaxPoints(n int) error {
	if n < 2 {
		return fmt.Errorf("max points must be at least 2, got %d", n)
	}
	s.mu.Lock()
	s.settings.MaxPoints = n
	s.mu.Unlock()
	return nil
}

func (s *Session) SetZoom(zoom int) error {
	if zoom < 1 || zoom > 5 {
		return fmt.Errorf("zoom must be between 1 and 5, got %d", zoom)
	}
	s.mu.Lock()
	s.settings.Zoom = zoom
	s.mu.Unlock()
	s.exporter.SetZoom(zoom)
	return nil
}

// SetUseElevation toggles elevation lookups. It is re-enabled for the next
// generation even if the provider failed during this one.
func (s *Session) SetUseElevation(on bool) {
	s.mu.Lock()
	s.settings.UseElevation = on
	s.useElevation = on
	s.mu.Unlock()
}

func (s *Session) SetUseLookAt(on bool) {
	s.mu.Lock()
	s.settings.UseLookAt = on
	s.mu.Unlock()
	s.engine.Update(func(p *playback.Params) { p.UseLookAt = on })
}

func (s *Session) SetElevationOffset(metres float64) {
	s.mu.Lock()
	s.settings.ElevationOffset = metres
	s.mu.Unlock()
	s.engine.Update(func(p *playback.Params) { p.ElevationOffset = metres })
}

func (s *Session) SetMillis(ms int) {
	s.mu.Lock()
	s.settings.Millis = ms
	s.mu.Unlock()
	s.engine.Update(func(p *playback.Params) { p.Millis = ms })
}

func (s *Session) SetFOV(fov float64) {
	s.mu.Lock()
	s.settings.FOV = fov
	s.mu.Unlock()
	s.engine.SetFOV(fov)
}

func (s *Session) SetSize(width, height int) {
	if width <= 0 || height <= 0 {
		log.Printf("[Session] Ignoring viewport size %dx%d", width, height)
		return
	}
	s.mu.Lock()
	s.settings.Width, s.settings.Height = width, height
	s.mu.Unlock()
	s.engine.SetSize(width, height)
}

// SetPitch sets the base vertical camera position in degrees.
func (s *Session) SetPitch(deg float64) { s.engine.SetPitch(deg) }

func (s *Session) SetPosition(v playback.Vec2) {
	s.engine.Update(func(p *playback.Params) { p.Position = v })
}

func (s *Session) SetOffset(v playback.Vec3) {
	s.engine.Update(func(p *playback.Params) { p.Offset = v })
}

// SetTilt sets the panorama tilt in radians.
func (s *Session) SetTilt(rad float64) {
	s.engine.Update(func(p *playback.Params) { p.Tilt = rad })
}

// SetRotationComp enables or disables roll compensation in degrees.
func (s *Session) SetRotationComp(enabled bool, deg float64) {
	s.engine.Update(func(p *playback.Params) {
		p.UseRotationComp = enabled
		p.RotationComp = deg
	})
}
