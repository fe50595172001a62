// Package sequence turns a route into the ordered, deduplicated list of
// panorama viewpoints shared by export and playback.
package sequence

import (
	"fmt"
	"image"
	"sync"

	"github.com/samber/lo"

	"hyperlapse-desktop/internal/geo"
	"hyperlapse-desktop/internal/panorama"
)

// NoElevation marks a frame without elevation data.
const NoElevation = -1.0

// Frame is one playback unit.
type Frame struct {
	Index     int
	Location  geo.Point
	PanoID    string
	Heading   float64 // radians
	Pitch     float64 // degrees
	Elevation float64 // metres, NoElevation when unknown
	Copyright string
	ImageDate string

	mu    sync.RWMutex
	image *image.RGBA
}

// FrameInfo is the serialisable view of a frame sent to the UI.
type FrameInfo struct {
	Index     int       `json:"index"`
	Location  geo.Point `json:"location"`
	PanoID    string    `json:"panoId"`
	Heading   float64   `json:"heading"`
	Pitch     float64   `json:"pitch"`
	Elevation float64   `json:"elevation"`
	Copyright string    `json:"copyright"`
	ImageDate string    `json:"imageDate"`
	Loaded    bool      `json:"loaded"`
}

// NewFrame builds a frame from a resolved panorama.
func NewFrame(rec *panorama.Record) *Frame {
	return &Frame{
		Location:  rec.Location,
		PanoID:    rec.PanoID,
		Heading:   rec.Heading,
		Pitch:     rec.Pitch,
		Elevation: NoElevation,
		Copyright: rec.Copyright,
		ImageDate: rec.ImageDate,
		image:     rec.Raster(),
	}
}

// Image returns the frame raster, nil until loaded.
func (f *Frame) Image() *image.RGBA {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.image
}

// SetImage attaches the composed raster.
func (f *Frame) SetImage(img *image.RGBA) {
	f.mu.Lock()
	f.image = img
	f.mu.Unlock()
}

// Info returns a snapshot of the frame metadata.
func (f *Frame) Info() FrameInfo {
	return FrameInfo{
		Index:     f.Index,
		Location:  f.Location,
		PanoID:    f.PanoID,
		Heading:   f.Heading,
		Pitch:     f.Pitch,
		Elevation: f.Elevation,
		Copyright: f.Copyright,
		ImageDate: f.ImageDate,
		Loaded:    f.Image() != nil,
	}
}

// Sequence is the ordered list of frames. It has a single writer while it is
// generated and is read-only afterwards until Reset.
type Sequence struct {
	mu     sync.RWMutex
	frames []*Frame
}

// NewSequence returns an empty sequence.
func NewSequence() *Sequence {
	return &Sequence{}
}

// Len returns the number of frames.
func (s *Sequence) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.frames)
}

// At returns the frame at index i, or nil when out of range.
func (s *Sequence) At(i int) *Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.frames) {
		return nil
	}
	return s.frames[i]
}

// Frames returns a copy of the frame list.
func (s *Sequence) Frames() []*Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

// Append adds a frame to the end of the sequence. A frame sharing the pano id
// of the current last frame is rejected.
func (s *Sequence) Append(f *Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.frames); n > 0 && s.frames[n-1].PanoID == f.PanoID {
		return fmt.Errorf("frame %d repeats pano %s", n, f.PanoID)
	}
	f.Index = len(s.frames)
	s.frames = append(s.frames, f)
	return nil
}

// LastPanoID returns the pano id of the last frame, or "".
func (s *Sequence) LastPanoID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.frames) == 0 {
		return ""
	}
	return s.frames[len(s.frames)-1].PanoID
}

// Locations returns every frame location in order.
func (s *Sequence) Locations() []geo.Point {
	return lo.Map(s.Frames(), func(f *Frame, _ int) geo.Point { return f.Location })
}

// PanoIDs returns every frame pano id in order.
func (s *Sequence) PanoIDs() []string {
	return lo.Map(s.Frames(), func(f *Frame, _ int) string { return f.PanoID })
}

// Infos returns metadata snapshots of every frame.
func (s *Sequence) Infos() []FrameInfo {
	return lo.Map(s.Frames(), func(f *Frame, _ int) FrameInfo { return f.Info() })
}

// Loaded reports how many frames have a raster attached.
func (s *Sequence) Loaded() int {
	return lo.CountBy(s.Frames(), func(f *Frame) bool { return f.Image() != nil })
}

// Reset drops every frame.
func (s *Sequence) Reset() {
	s.mu.Lock()
	s.frames = nil
	s.mu.Unlock()
}
