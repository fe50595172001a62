package googlemaps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	polyline "github.com/twpayne/go-polyline"

	"hyperlapse-desktop/internal/cache"
	"hyperlapse-desktop/internal/common"
	"hyperlapse-desktop/internal/geo"
	"hyperlapse-desktop/internal/ratelimit"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...func(*Config)) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := Config{APIKey: "test-key", BaseURL: srv.URL, TileURL: srv.URL + "/cbk"}
	for _, o := range opts {
		o(&cfg)
	}
	return NewClient(cfg)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestRouteBetween(t *testing.T) {
	path := [][]float64{{40.0, -74.0}, {40.001, -74.002}, {40.003, -74.004}}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/directions/json" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" || r.URL.Query().Get("origin") != "40.000000,-74.000000" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		writeJSON(w, map[string]any{
			"status": "OK",
			"routes": []any{map[string]any{
				"overview_polyline": map[string]any{"points": string(polyline.EncodeCoords(path))},
				"legs": []any{map[string]any{
					"distance":      map[string]any{"value": 420},
					"start_address": "A",
					"end_address":   "B",
				}},
			}},
		})
	})

	r, err := c.RouteBetween(context.Background(), geo.NewPoint(40, -74), geo.NewPoint(40.003, -74.004))
	if err != nil {
		t.Fatalf("RouteBetween: %v", err)
	}
	if len(r.Path) != 3 {
		t.Fatalf("path len = %d, want 3", len(r.Path))
	}
	if math.Abs(r.Path[1].Lat-40.001) > 1e-6 || math.Abs(r.Path[1].Lng+74.002) > 1e-6 {
		t.Errorf("path[1] = %v", r.Path[1])
	}
	if r.TotalDistance() != 420 || r.Legs[0].EndAddress != "B" {
		t.Errorf("legs = %+v", r.Legs)
	}
}

func TestRouteBetweenFailureIsRouteFailed(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"status": "ZERO_RESULTS"})
	})
	_, err := c.RouteBetween(context.Background(), geo.NewPoint(0, 0), geo.NewPoint(1, 1))
	if !errors.Is(err, common.ErrRouteFailed) {
		t.Fatalf("err = %v, want ErrRouteFailed", err)
	}
}

func TestSnapToRoad(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"status": "OK",
			"routes": []any{map[string]any{
				"overview_polyline": map[string]any{"points": string(polyline.EncodeCoords([][]float64{{51.5, -0.12}}))},
			}},
		})
	})
	p, err := c.SnapToRoad(context.Background(), geo.NewPoint(51.49, -0.11))
	if err != nil {
		t.Fatalf("SnapToRoad: %v", err)
	}
	if math.Abs(p.Lat-51.5) > 1e-6 || math.Abs(p.Lng+0.12) > 1e-6 {
		t.Errorf("snapped = %v, want 51.5,-0.12", p)
	}
}

func TestGeocode(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("address") != "Times Square" {
			t.Errorf("address = %q", r.URL.Query().Get("address"))
		}
		writeJSON(w, map[string]any{
			"status": "OK",
			"results": []any{map[string]any{
				"formatted_address": "Times Sq, New York",
				"geometry":          map[string]any{"location": map[string]any{"lat": 40.758, "lng": -73.9855}},
			}},
		})
	})
	place, err := c.Geocode(context.Background(), " Times Square ")
	if err != nil {
		t.Fatalf("Geocode: %v", err)
	}
	if place.Location.Lat != 40.758 || place.Address != "Times Sq, New York" {
		t.Errorf("place = %+v", place)
	}
}

func TestNearestPanorama(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("radius") != "50" || q.Get("source") != "outdoor" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		if q.Get("location") == "0.000000,0.000000" {
			writeJSON(w, map[string]any{"status": "ZERO_RESULTS"})
			return
		}
		writeJSON(w, map[string]any{
			"status":    "OK",
			"pano_id":   "pano-1",
			"date":      "2019-06",
			"copyright": "© Google",
			"location":  map[string]any{"lat": 48.85, "lng": 2.35},
			"tiles":     map[string]any{"centerHeading": 90, "originPitch": 1.5},
			"time": []any{
				map[string]any{"pano": "old", "date": "2014-04"},
				map[string]any{"pano": "bad", "date": "soon"},
			},
		})
	})

	meta, err := c.NearestPanorama(context.Background(), geo.NewPoint(48.85, 2.35), 50)
	if err != nil {
		t.Fatalf("NearestPanorama: %v", err)
	}
	if meta.PanoID != "pano-1" || meta.CenterHeading != 90 || meta.OriginPitch != 1.5 {
		t.Errorf("meta = %+v", meta)
	}
	if len(meta.Time) != 2 || meta.Time[0].Date.Year() != 2014 || !meta.Time[1].Date.IsZero() {
		t.Errorf("time = %+v", meta.Time)
	}

	_, err = c.NearestPanorama(context.Background(), geo.NewPoint(0, 0), 50)
	if !errors.Is(err, common.ErrNoCoverage) {
		t.Fatalf("err = %v, want ErrNoCoverage", err)
	}
}

func TestFetchTileUsesCache(t *testing.T) {
	tiles, err := cache.NewPersistentTileCache(t.TempDir(), 10, 1)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	defer tiles.Close()

	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		q := r.URL.Query()
		if r.URL.Path != "/cbk" || q.Get("output") != "tile" || q.Get("panoid") != "p1" || q.Get("x") != "3" {
			t.Errorf("tile request = %s", r.URL)
		}
		w.Write([]byte("jpegdata"))
	}, func(cfg *Config) { cfg.TileCache = tiles })

	for i := 0; i < 2; i++ {
		data, err := c.FetchTile(context.Background(), "p1", 2, 3, 1)
		if err != nil || string(data) != "jpegdata" {
			t.Fatalf("FetchTile = %q, %v", data, err)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("server hits = %d, want 1", hits.Load())
	}
}

func TestRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	})
	data, err := c.FetchTile(context.Background(), "p", 1, 0, 0)
	if err != nil || string(data) != "ok" {
		t.Fatalf("FetchTile = %q, %v", data, err)
	}
	if hits.Load() != 2 {
		t.Errorf("hits = %d, want 2", hits.Load())
	}
}

func TestNotFoundIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	})
	_, err := c.FetchTile(context.Background(), "p", 1, 0, 0)
	var he *httpStatusError
	if !errors.As(err, &he) || he.Code != http.StatusNotFound {
		t.Fatalf("err = %v, want 404 status error", err)
	}
	if hits.Load() != 1 {
		t.Errorf("hits = %d, want 1", hits.Load())
	}
}

func TestElevationsForBatchesInOrder(t *testing.T) {
	var requests atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		enc := strings.TrimPrefix(r.URL.Query().Get("locations"), "enc:")
		coords, _, err := polyline.DecodeCoords([]byte(enc))
		if err != nil {
			t.Errorf("decode: %v", err)
		}
		results := make([]map[string]any, len(coords))
		for i, ll := range coords {
			results[i] = map[string]any{"elevation": ll[0], "location": map[string]any{"lat": ll[0], "lng": ll[1]}}
		}
		writeJSON(w, map[string]any{"status": "OK", "results": results})
	})

	locations := make([]geo.Point, 600)
	for i := range locations {
		locations[i] = geo.NewPoint(10+float64(i)*0.001, 20)
	}
	got, err := c.ElevationsFor(context.Background(), locations)
	if err != nil {
		t.Fatalf("ElevationsFor: %v", err)
	}
	if len(got) != 600 {
		t.Fatalf("len = %d, want 600", len(got))
	}
	for i, e := range got {
		if math.Abs(e-locations[i].Lat) > 1e-5 {
			t.Fatalf("elevation[%d] = %f, want %f", i, e, locations[i].Lat)
		}
	}
	if requests.Load() != 2 {
		t.Errorf("requests = %d, want 2", requests.Load())
	}
}

func TestElevationQuotaBacksOff(t *testing.T) {
	limiter := ratelimit.NewHandler(nil)
	defer limiter.Close()

	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(w, map[string]any{"status": "OVER_QUERY_LIMIT", "error_message": "quota"})
	}, func(cfg *Config) { cfg.RateLimit = limiter })

	_, err := c.ElevationsFor(context.Background(), []geo.Point{geo.NewPoint(1, 1)})
	if !errors.Is(err, common.ErrQuotaExceeded) {
		t.Fatalf("err = %v, want ErrQuotaExceeded", err)
	}
	_, err = c.ElevationsFor(context.Background(), []geo.Point{geo.NewPoint(1, 1)})
	if !errors.Is(err, common.ErrRateLimited) {
		t.Fatalf("second err = %v, want ErrRateLimited", err)
	}
	if hits.Load() != 1 {
		t.Errorf("hits = %d, want 1", hits.Load())
	}
}

func TestTileURL(t *testing.T) {
	c := NewClient(Config{})
	want := fmt.Sprintf("%s?output=tile&panoid=abc&x=1&y=2&zoom=3", DefaultTileURL)
	if got := c.TileURL("abc", 3, 1, 2); got != want {
		t.Errorf("TileURL = %s, want %s", got, want)
	}
}
