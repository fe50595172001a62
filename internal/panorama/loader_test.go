package panorama

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"hyperlapse-desktop/internal/common"
	"hyperlapse-desktop/internal/geo"
)

type fakeMetadata struct {
	meta *Metadata
	err  error
}

func (f *fakeMetadata) NearestPanorama(ctx context.Context, location geo.Point, radius float64) (*Metadata, error) {
	if radius != SearchRadius {
		return nil, fmt.Errorf("unexpected radius %v", radius)
	}
	return f.meta, f.err
}

type fakeTiles struct {
	data  []byte
	fail  map[image.Point]bool
	calls int64

	mu   sync.Mutex
	seen map[image.Point]int
}

func (f *fakeTiles) FetchTile(ctx context.Context, panoID string, zoom, x, y int) ([]byte, error) {
	atomic.AddInt64(&f.calls, 1)
	f.mu.Lock()
	if f.seen == nil {
		f.seen = make(map[image.Point]int)
	}
	f.seen[image.Pt(x, y)]++
	f.mu.Unlock()

	if f.fail[image.Pt(x, y)] {
		return nil, errors.New("boom")
	}
	return f.data, nil
}

func solidPNG(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, TileSize, TileSize))
	for y := 0; y < TileSize; y++ {
		for x := 0; x < TileSize; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestGridAndCanvasSize(t *testing.T) {
	tests := []struct {
		zoom             int
		cols, rows, w, h int
	}{
		{1, 2, 1, 832, 416},
		{2, 4, 2, 1664, 832},
		{3, 7, 4, 3328, 1664},
		{4, 16, 8, 6656, 3328},
	}
	for _, tt := range tests {
		cols, rows := GridSize(tt.zoom)
		w, h := CanvasSize(tt.zoom)
		if cols != tt.cols || rows != tt.rows || w != tt.w || h != tt.h {
			t.Errorf("zoom %d: grid %dx%d canvas %dx%d, want %dx%d / %dx%d",
				tt.zoom, cols, rows, w, h, tt.cols, tt.rows, tt.w, tt.h)
		}
	}
}

func TestComposeTextureBlankTileOnFailure(t *testing.T) {
	red := color.RGBA{R: 255, A: 255}
	tiles := &fakeTiles{
		data: solidPNG(t, red),
		fail: map[image.Point]bool{{X: 0, Y: 0}: true},
	}

	var progressMu sync.Mutex
	var last TileProgress
	var updates int
	loader, err := NewLoader(Config{
		Metadata:   &fakeMetadata{},
		Tiles:      tiles,
		MaxWorkers: 2,
		ProgressCallback: func(p TileProgress) {
			progressMu.Lock()
			last = p
			updates++
			progressMu.Unlock()
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	canvas, comp, err := loader.ComposeTexture(context.Background(), "pano", 1)
	if err != nil {
		t.Fatalf("ComposeTexture: %v", err)
	}

	if comp.Total != 2 || comp.Settled != 2 || comp.Failed != 1 {
		t.Fatalf("composition = %+v, want total 2 settled 2 failed 1", comp)
	}
	if got := atomic.LoadInt64(&tiles.calls); got != 2 {
		t.Fatalf("tile fetches = %d, want 2", got)
	}
	for pt, n := range tiles.seen {
		if n != 1 {
			t.Errorf("tile %v fetched %d times", pt, n)
		}
	}

	w, h := CanvasSize(1)
	if canvas.Bounds().Dx() != w || canvas.Bounds().Dy() != h {
		t.Fatalf("canvas = %v, want %dx%d", canvas.Bounds(), w, h)
	}

	// Tile (0,0) covers logical columns 0..511, which mirror onto the right edge.
	if got := canvas.RGBAAt(w-1, 0); got != (color.RGBA{A: 255}) {
		t.Errorf("failed tile pixel = %v, want opaque black", got)
	}
	// Tile (1,0) starts at logical 512 and mirrors onto the left edge.
	if got := canvas.RGBAAt(0, 0); got != red {
		t.Errorf("loaded tile pixel = %v, want red", got)
	}

	progressMu.Lock()
	defer progressMu.Unlock()
	if last.Settled != 2 || last.Percent != 100 {
		t.Errorf("last progress = %+v, want settled 2 at 100%%", last)
	}
	if updates != 3 {
		t.Errorf("progress updates = %d, want 3", updates)
	}
}

func TestComposeTextureAllTilesFailStillCompletes(t *testing.T) {
	fail := map[image.Point]bool{}
	cols, rows := GridSize(3)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			fail[image.Pt(x, y)] = true
		}
	}
	var errs int64
	loader, _ := NewLoader(Config{
		Metadata:      &fakeMetadata{},
		Tiles:         &fakeTiles{fail: fail},
		ErrorCallback: func(err error) { atomic.AddInt64(&errs, 1) },
	})

	_, comp, err := loader.ComposeTexture(context.Background(), "pano", 3)
	if err != nil {
		t.Fatalf("ComposeTexture: %v", err)
	}
	if comp.Settled != 28 || comp.Failed != 28 {
		t.Fatalf("composition = %+v, want 28 settled and failed", comp)
	}
	if got := atomic.LoadInt64(&errs); got != 28 {
		t.Fatalf("error callbacks = %d, want 28", got)
	}
}

func TestComposeTextureRejectsBadZoom(t *testing.T) {
	loader, _ := NewLoader(Config{Metadata: &fakeMetadata{}, Tiles: &fakeTiles{}})
	if _, _, err := loader.ComposeTexture(context.Background(), "pano", 0); err == nil {
		t.Fatal("expected error for zoom 0")
	}
}

func TestResolveNoCoverage(t *testing.T) {
	loader, _ := NewLoader(Config{
		Metadata: &fakeMetadata{err: fmt.Errorf("lookup: %w", common.ErrNoCoverage)},
		Tiles:    &fakeTiles{},
	})
	_, err := loader.Resolve(context.Background(), geo.NewPoint(1, 2), nil)
	if !errors.Is(err, common.ErrNoCoverage) {
		t.Fatalf("err = %v, want ErrNoCoverage", err)
	}

	loader, _ = NewLoader(Config{Metadata: &fakeMetadata{meta: &Metadata{}}, Tiles: &fakeTiles{}})
	_, err = loader.Resolve(context.Background(), geo.NewPoint(1, 2), nil)
	if !errors.Is(err, common.ErrNoCoverage) {
		t.Fatalf("empty metadata err = %v, want ErrNoCoverage", err)
	}
}

func TestResolvePicksHistoricalPanorama(t *testing.T) {
	meta := &Metadata{
		PanoID:        "default",
		Location:      geo.NewPoint(1, 2),
		CenterHeading: 90,
		OriginPitch:   1.5,
		ImageDate:     "2020-05",
		Copyright:     "© Google",
		Time: []TimeEntry{
			{PanoID: "jan", Date: month(2014, time.January)},
			{PanoID: "jun", Date: month(2014, time.June)},
		},
	}
	loader, _ := NewLoader(Config{Metadata: &fakeMetadata{meta: meta}, Tiles: &fakeTiles{}})

	target := month(2014, time.April)
	rec, err := loader.Resolve(context.Background(), geo.NewPoint(1.0001, 2), &target)
	if err != nil {
		t.Fatal(err)
	}
	if rec.PanoID != "jun" || rec.ImageDate != "2014-06" {
		t.Errorf("record = %s %s, want jun 2014-06", rec.PanoID, rec.ImageDate)
	}
	if rec.Location != geo.NewPoint(1.0001, 2) {
		t.Errorf("record location = %v, want requested point", rec.Location)
	}
	if rec.Heading < 1.5707 || rec.Heading > 1.5709 {
		t.Errorf("heading = %v, want pi/2", rec.Heading)
	}

	rec, err = loader.Resolve(context.Background(), geo.NewPoint(1, 2), nil)
	if err != nil {
		t.Fatal(err)
	}
	if rec.PanoID != "default" {
		t.Errorf("without target date pano = %s, want default", rec.PanoID)
	}
}

func TestResolveDegradedHistoryFallsBack(t *testing.T) {
	meta := &Metadata{PanoID: "default", Time: []TimeEntry{{PanoID: ""}}}
	var reported error
	loader, _ := NewLoader(Config{
		Metadata:      &fakeMetadata{meta: meta},
		Tiles:         &fakeTiles{},
		ErrorCallback: func(err error) { reported = err },
	})

	target := month(2014, time.April)
	rec, err := loader.Resolve(context.Background(), geo.NewPoint(1, 2), &target)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rec.PanoID != "default" || !rec.Degraded {
		t.Errorf("record = %s degraded=%v, want default degraded", rec.PanoID, rec.Degraded)
	}
	if !errors.Is(reported, common.ErrDegradedMetadata) {
		t.Errorf("reported = %v, want ErrDegradedMetadata", reported)
	}
}
