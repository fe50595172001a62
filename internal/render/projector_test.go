package render

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"hyperlapse-desktop/internal/playback"
)

// quadrants paints each quarter of the panorama's longitude a distinct colour.
func quadrants(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	palette := []color.RGBA{
		{255, 0, 0, 255},
		{0, 255, 0, 255},
		{0, 0, 255, 255},
		{255, 255, 0, 255},
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, palette[x*4/w])
		}
	}
	return img
}

func TestProjectCentreFollowsHeading(t *testing.T) {
	src := quadrants(400, 200)
	p := Projector{Width: 32, Height: 18}

	tests := []struct {
		heading float64
		want    color.RGBA
	}{
		// phi = atan2(z, -x); heading 180 looks down -x where phi = 0
		{heading: 135, want: color.RGBA{255, 0, 0, 255}},
		{heading: 45, want: color.RGBA{0, 255, 0, 255}},
		{heading: -45, want: color.RGBA{0, 0, 255, 255}},
		{heading: -135, want: color.RGBA{255, 255, 0, 255}},
	}
	for _, tt := range tests {
		cam := CameraFromAngles(tt.heading, 0, 0, 60)
		out := p.Project(src, cam)
		if got := out.RGBAAt(16, 9); got != tt.want {
			t.Errorf("heading %.0f: centre = %v, want %v", tt.heading, got, tt.want)
		}
	}
}

func TestProjectOutputSize(t *testing.T) {
	out := Projector{}.Project(quadrants(40, 20), CameraFromAngles(0, 0, 0, 80))
	if b := out.Bounds(); b.Dx() != playback.DefaultWidth || b.Dy() != playback.DefaultHeight {
		t.Fatalf("size = %v, want default %dx%d", b, playback.DefaultWidth, playback.DefaultHeight)
	}
}

func TestProjectNilSource(t *testing.T) {
	out := Projector{Width: 4, Height: 4}.Project(nil, playback.Camera{})
	if out.RGBAAt(1, 1).A != 0 {
		t.Fatal("expected empty output for nil source")
	}
}

func TestOffscreenSurfaceRender(t *testing.T) {
	s := NewOffscreenSurface(16, 9, 60)
	if err := s.Render(); err == nil {
		t.Fatal("expected error without texture")
	}

	s.SetEquirectangularTexture(3, quadrants(400, 200))
	s.SetCamera(playback.Camera{Target: playback.TargetFor(0, 45)})
	if err := s.Render(); err != nil {
		t.Fatalf("Render: %v", err)
	}
	frame, idx := s.Snapshot()
	if idx != 3 {
		t.Errorf("index = %d, want 3", idx)
	}
	if got := frame.RGBAAt(8, 4); got != (color.RGBA{0, 255, 0, 255}) {
		t.Errorf("centre = %v, want green", got)
	}

	s.SetViewport(70, 8, 8)
	if err := s.Render(); err != nil {
		t.Fatalf("Render: %v", err)
	}
	frame, _ = s.Snapshot()
	if frame.Bounds().Dx() != 8 {
		t.Errorf("width = %d, want 8", frame.Bounds().Dx())
	}
}

func TestOffscreenSurfaceConvertsNonRGBATexture(t *testing.T) {
	src := quadrants(400, 200)
	// NRGBA with a non-zero origin exercises the bounds offset
	nrgba := image.NewNRGBA(image.Rect(10, 5, 410, 205))
	for y := 0; y < 200; y++ {
		for x := 0; x < 400; x++ {
			nrgba.Set(x+10, y+5, src.RGBAAt(x, y))
		}
	}

	s := NewOffscreenSurface(16, 9, 60)
	s.SetEquirectangularTexture(0, nrgba)
	s.SetCamera(playback.Camera{Target: playback.TargetFor(0, -45)})
	if err := s.Render(); err != nil {
		t.Fatalf("Render: %v", err)
	}
	frame, _ := s.Snapshot()
	if got := frame.RGBAAt(8, 4); got != (color.RGBA{0, 0, 255, 255}) {
		t.Errorf("centre = %v, want blue", got)
	}
}

func TestOffscreenSurfaceEncodeJPEG(t *testing.T) {
	s := NewOffscreenSurface(16, 9, 60)
	if _, err := s.EncodeJPEG(80); err == nil {
		t.Fatal("expected error before the first render")
	}
	s.SetEquirectangularTexture(0, quadrants(400, 200))
	if err := s.Render(); err != nil {
		t.Fatal(err)
	}
	data, err := s.EncodeJPEG(80)
	if err != nil {
		t.Fatalf("EncodeJPEG: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 16 || b.Dy() != 9 {
		t.Errorf("preview size = %v, want 16x9", b)
	}
}
