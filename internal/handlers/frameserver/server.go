// Package frameserver serves composed frames and raw panorama tiles over a
// local HTTP server so the WebView surface can load textures by URL.
package frameserver

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/image/draw"

	"hyperlapse-desktop/internal/panorama"
)

// FrameSource returns the composed raster of a frame.
type FrameSource interface {
	FrameImage(index int) (*image.RGBA, bool)
}

// Server manages the frame server HTTP server
type Server struct {
	frames  FrameSource
	tiles   panorama.TileFetcher
	quality int

	mu      sync.Mutex
	server  *http.Server
	baseURL string
}

// NewServer creates a new frame server instance. tiles may be nil, in which
// case /tiles/ answers 404.
func NewServer(frames FrameSource, tiles panorama.TileFetcher, quality int) *Server {
	if quality <= 0 || quality > 100 {
		quality = 80
	}
	return &Server{
		frames:  frames,
		tiles:   tiles,
		quality: quality,
	}
}

// URL returns the server base URL, empty until Start.
func (s *Server) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseURL
}

// FrameURL returns the URL of one frame.
func (s *Server) FrameURL(index int) string {
	return fmt.Sprintf("%s/frames/%d.jpg", s.URL(), index)
}

// corsMiddleware adds CORS headers to allow requests from Wails frontend
// On macOS/Linux, Wails uses wails://wails origin which requires CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Handler returns the routed handler wrapped with CORS.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/frames/", s.handleFrame)
	mux.HandleFunc("/tiles/", s.handleTile)
	return corsMiddleware(mux)
}

// Start listens on a random loopback port and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("failed to start frame server: %w", err)
	}

	port := listener.Addr().(*net.TCPAddr).Port
	server := &http.Server{Handler: s.Handler()}

	s.mu.Lock()
	s.server = server
	s.baseURL = fmt.Sprintf("http://127.0.0.1:%d", port)
	s.mu.Unlock()
	log.Printf("[FrameServer] Started on %s", s.URL())

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("[FrameServer] Stopped: %v", err)
		}
	}()
	return nil
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.mu.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

// handleFrame serves /frames/{index}.jpg, optionally scaled to ?w= pixels wide.
func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/frames/")
	index, err := strconv.Atoi(strings.TrimSuffix(name, ".jpg"))
	if err != nil || !strings.HasSuffix(name, ".jpg") {
		http.Error(w, "Invalid URL format. Expected: /frames/{index}.jpg", http.StatusBadRequest)
		return
	}

	img, ok := s.frames.FrameImage(index)
	if !ok || img == nil {
		http.Error(w, fmt.Sprintf("Frame %d not loaded", index), http.StatusNotFound)
		return
	}

	var out image.Image = img
	if ws := r.URL.Query().Get("w"); ws != "" {
		width, err := strconv.Atoi(ws)
		if err != nil || width <= 0 {
			http.Error(w, "Invalid width", http.StatusBadRequest)
			return
		}
		out = scaleToWidth(img, width)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: s.quality}); err != nil {
		log.Printf("[FrameServer] Failed to encode frame %d: %v", index, err)
		http.Error(w, "Failed to encode frame", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(buf.Bytes())
}

// scaleToWidth shrinks img to width pixels keeping its aspect ratio. Images
// already narrower are returned as is.
func scaleToWidth(img *image.RGBA, width int) image.Image {
	b := img.Bounds()
	if width >= b.Dx() {
		return img
	}
	height := b.Dy() * width / b.Dx()
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// handleTile serves /tiles/{pano}/{zoom}/{x}/{y}.jpg through the tile fetcher,
// which consults the persistent cache first.
func (s *Server) handleTile(w http.ResponseWriter, r *http.Request) {
	if s.tiles == nil {
		http.NotFound(w, r)
		return
	}

	path := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/tiles/"), ".jpg")
	parts := strings.Split(path, "/")
	if len(parts) != 4 || parts[0] == "" {
		http.Error(w, "Invalid URL format. Expected: /tiles/{pano}/{zoom}/{x}/{y}.jpg", http.StatusBadRequest)
		return
	}

	var coords [3]int
	for i, p := range parts[1:] {
		v, err := strconv.Atoi(p)
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid tile coordinate %q", p), http.StatusBadRequest)
			return
		}
		coords[i] = v
	}

	data, err := s.tiles.FetchTile(r.Context(), parts[0], coords[0], coords[1], coords[2])
	if err != nil {
		log.Printf("[FrameServer] Failed to fetch tile %s: %v", path, err)
		http.Error(w, "Failed to fetch tile", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Write(data)
}
