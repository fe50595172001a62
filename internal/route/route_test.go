package route

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"hyperlapse-desktop/internal/geo"
)

func TestTotalDistanceSumsLegs(t *testing.T) {
	r := &Route{
		Path: []geo.Point{geo.NewPoint(0, 0), geo.NewPoint(0, 1)},
		Legs: []Leg{{DistanceMeters: 1200}, {DistanceMeters: 800.5}},
	}
	if got := r.TotalDistance(); got != 2000.5 {
		t.Fatalf("TotalDistance = %v, want 2000.5", got)
	}
}

func TestTotalDistanceWithoutLegsUsesPath(t *testing.T) {
	path := []geo.Point{geo.NewPoint(0, 0), geo.NewPoint(0, 0.01)}
	r := &Route{Path: path}
	want := geo.Distance(path[0], path[1])
	if got := r.TotalDistance(); math.Abs(got-want) > 1e-6 {
		t.Fatalf("TotalDistance = %v, want %v", got, want)
	}
}

func TestValidate(t *testing.T) {
	var nilRoute *Route
	if err := nilRoute.Validate(); err == nil {
		t.Error("expected error for nil route")
	}
	if err := (&Route{}).Validate(); err == nil {
		t.Error("expected error for empty path")
	}
	bad := &Route{Path: []geo.Point{geo.NewPoint(120, 0)}}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for out-of-range point")
	}
	good := FromPath([]geo.Point{geo.NewPoint(1, 1), geo.NewPoint(1.001, 1)})
	if err := good.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

const sampleGPX = `<?xml version="1.0" encoding="UTF-8"?>
<gpx version="1.1" creator="test" xmlns="http://www.topografix.com/GPX/1/1">
  <trk>
    <name>drive</name>
    <trkseg>
      <trkpt lat="37.7749" lon="-122.4194"></trkpt>
      <trkpt lat="37.7759" lon="-122.4184"></trkpt>
      <trkpt lat="37.7769" lon="-122.4174"></trkpt>
    </trkseg>
  </trk>
</gpx>`

func TestParseGPXTrack(t *testing.T) {
	r, err := ParseGPX([]byte(sampleGPX))
	if err != nil {
		t.Fatalf("ParseGPX: %v", err)
	}
	if len(r.Path) != 3 {
		t.Fatalf("len(Path) = %d, want 3", len(r.Path))
	}
	if r.Start().Lat != 37.7749 || r.End().Lng != -122.4174 {
		t.Errorf("unexpected endpoints %v .. %v", r.Start(), r.End())
	}
	if len(r.Legs) != 1 || r.Legs[0].DistanceMeters <= 0 {
		t.Errorf("expected one positive leg, got %+v", r.Legs)
	}
}

func TestLoadGPXRejectsSinglePoint(t *testing.T) {
	doc := `<?xml version="1.0"?>
<gpx version="1.1" creator="test" xmlns="http://www.topografix.com/GPX/1/1">
  <wpt lat="1" lon="2"></wpt>
</gpx>`
	path := filepath.Join(t.TempDir(), "one.gpx")
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadGPX(path); err == nil {
		t.Fatal("expected error for single-point GPX")
	}
}
