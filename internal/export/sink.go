package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Sink receives encoded frames.
type Sink interface {
	Save(ctx context.Context, data []byte, label string, index int) error
}

// LookAtSink receives the perspective look-at rendition of a frame.
type LookAtSink interface {
	SaveLookAt(ctx context.Context, data []byte, label string, index int) error
}

// TrackSink receives the GeoJSON track of an export.
type TrackSink interface {
	SaveTrack(ctx context.Context, data []byte, label string) error
}

// FileSink writes frames under Root/<label>/.
type FileSink struct {
	Root string
}

// FramePath returns the path of an exported frame.
func (s FileSink) FramePath(label string, index int) string {
	return filepath.Join(s.Root, label, fmt.Sprintf("%s_%05d.jpg", label, index))
}

// LookAtPath returns the path of a look-at rendition.
func (s FileSink) LookAtPath(label string, index int) string {
	return filepath.Join(s.Root, label, fmt.Sprintf("lookAt_%s_%05d.jpg", label, index))
}

// TrackPath returns the path of the export's track.
func (s FileSink) TrackPath(label string) string {
	return filepath.Join(s.Root, label, "track.geojson")
}

// PreviewPath returns the path of the export's preview image.
func (s FileSink) PreviewPath(label string) string {
	return filepath.Join(s.Root, label, "preview.jpg")
}

// SavePreview stores the rendered view of the first frame.
func (s FileSink) SavePreview(ctx context.Context, data []byte, label string) error {
	return writeFile(ctx, s.PreviewPath(label), data)
}

func (s FileSink) Save(ctx context.Context, data []byte, label string, index int) error {
	return writeFile(ctx, s.FramePath(label, index), data)
}

func (s FileSink) SaveLookAt(ctx context.Context, data []byte, label string, index int) error {
	return writeFile(ctx, s.LookAtPath(label, index), data)
}

func (s FileSink) SaveTrack(ctx context.Context, data []byte, label string) error {
	return writeFile(ctx, s.TrackPath(label), data)
}

// writeFile writes through a temp file so readers never see a partial frame.
func writeFile(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
