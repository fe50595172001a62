package frameserver

import (
	"context"
	"errors"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"hyperlapse-desktop/internal/panorama"
)

type frames map[int]*image.RGBA

func (f frames) FrameImage(index int) (*image.RGBA, bool) {
	img, ok := f[index]
	return img, ok
}

type tiles struct {
	got []any
	err error
}

func (t *tiles) FetchTile(ctx context.Context, panoID string, zoom, x, y int) ([]byte, error) {
	t.got = []any{panoID, zoom, x, y}
	if t.err != nil {
		return nil, t.err
	}
	return []byte("tile"), nil
}

func newTestServer(t *testing.T, tf *tiles) *httptest.Server {
	t.Helper()
	src := frames{0: image.NewRGBA(image.Rect(0, 0, 400, 200))}
	var fetcher panorama.TileFetcher
	if tf != nil {
		fetcher = tf
	}
	srv := httptest.NewServer(NewServer(src, fetcher, 0).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestServeFrame(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/frames/0.jpg?w=100")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
	cfg, err := jpeg.DecodeConfig(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != 100 || cfg.Height != 50 {
		t.Errorf("scaled to %dx%d, want 100x50", cfg.Width, cfg.Height)
	}
}

func TestServeFrameErrors(t *testing.T) {
	srv := newTestServer(t, nil)
	tests := []struct {
		path string
		want int
	}{
		{"/frames/7.jpg", http.StatusNotFound},
		{"/frames/abc.jpg", http.StatusBadRequest},
		{"/frames/0.png", http.StatusBadRequest},
		{"/frames/0.jpg?w=-1", http.StatusBadRequest},
		{"/tiles/pano/1/0/0.jpg", http.StatusNotFound},
	}
	for _, tt := range tests {
		resp, err := http.Get(srv.URL + tt.path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.path, resp.StatusCode, tt.want)
		}
	}
}

func TestServeTile(t *testing.T) {
	tf := &tiles{}
	srv := newTestServer(t, tf)

	resp, err := http.Get(srv.URL + "/tiles/abc123/3/6/2.jpg")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "tile" {
		t.Fatalf("status %d body %q", resp.StatusCode, body)
	}
	if tf.got[0] != "abc123" || tf.got[1] != 3 || tf.got[2] != 6 || tf.got[3] != 2 {
		t.Errorf("fetched %v", tf.got)
	}

	tf.err = errors.New("upstream down")
	resp, err = http.Get(srv.URL + "/tiles/abc123/3/6/2.jpg")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/tiles/abc123/x/6/2.jpg")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStartAndShutdown(t *testing.T) {
	s := NewServer(frames{}, nil, 90)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if s.URL() == "" || s.FrameURL(3) != s.URL()+"/frames/3.jpg" {
		t.Errorf("url %q frame url %q", s.URL(), s.FrameURL(3))
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}
