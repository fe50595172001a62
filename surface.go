package main

import (
	"context"
	"image"
	"log"
	"sync"

	wailsRuntime "github.com/wailsapp/wails/v2/pkg/runtime"

	"hyperlapse-desktop/internal/playback"
)

// eventSurface drives the WebView panorama viewer. Textures are referenced by
// frame server URL and the camera is pushed on every change.
type eventSurface struct {
	ctx context.Context

	mu       sync.Mutex
	frameURL func(int) string
	camera   playback.Camera
	sent     playback.Camera
}

func newEventSurface(ctx context.Context) *eventSurface {
	return &eventSurface{ctx: ctx}
}

func (s *eventSurface) setFrameURL(fn func(int) string) {
	s.mu.Lock()
	s.frameURL = fn
	s.mu.Unlock()
}

func (s *eventSurface) SetEquirectangularTexture(index int, img image.Image) {
	s.mu.Lock()
	fn := s.frameURL
	s.mu.Unlock()
	if fn == nil {
		log.Printf("[Playback] No frame server, texture %d not sent", index)
		return
	}
	b := img.Bounds()
	wailsRuntime.EventsEmit(s.ctx, "hyperlapse:texture", map[string]interface{}{
		"index":  index,
		"url":    fn(index),
		"width":  b.Dx(),
		"height": b.Dy(),
	})
}

func (s *eventSurface) SetCameraOrientation(heading, pitch, roll float64) {
	s.mu.Lock()
	s.camera.Heading, s.camera.Pitch, s.camera.Roll = heading, pitch, roll
	s.mu.Unlock()
}

func (s *eventSurface) SetCamera(cam playback.Camera) {
	s.mu.Lock()
	s.camera = cam
	s.mu.Unlock()
}

func (s *eventSurface) SetViewport(fov float64, width, height int) {
	wailsRuntime.EventsEmit(s.ctx, "hyperlapse:viewport", map[string]interface{}{
		"fov":    fov,
		"width":  width,
		"height": height,
	})
}

// Render pushes the camera when it changed since the last render.
func (s *eventSurface) Render() error {
	s.mu.Lock()
	cam := s.camera
	changed := cam != s.sent
	s.sent = cam
	s.mu.Unlock()

	if changed {
		wailsRuntime.EventsEmit(s.ctx, "hyperlapse:camera", cam)
	}
	return nil
}
