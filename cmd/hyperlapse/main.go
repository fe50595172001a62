// Command hyperlapse renders a Street View hyperlapse without the desktop UI.
//
//	hyperlapse -from 37.7983,-122.3778 -to 37.8164,-122.3540 -out ./frames
//	hyperlapse -plan bay-bridge.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"

	"hyperlapse-desktop/internal/cache"
	"hyperlapse-desktop/internal/config"
	"hyperlapse-desktop/internal/export"
	"hyperlapse-desktop/internal/geo"
	"hyperlapse-desktop/internal/googlemaps"
	"hyperlapse-desktop/internal/hyperlapse"
	"hyperlapse-desktop/internal/panorama"
	"hyperlapse-desktop/internal/ratelimit"
	"hyperlapse-desktop/internal/render"
	"hyperlapse-desktop/internal/sequence"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found (using environment variables)")
	}

	planPtr := flag.String("plan", "", "YAML plan file (overrides the route flags)")
	fromPtr := flag.String("from", "", "Origin as lat,lng")
	toPtr := flag.String("to", "", "Destination as lat,lng")
	gpxPtr := flag.String("gpx", "", "GPX track to follow instead of a directions route")
	lookAtPtr := flag.String("lookat", "", "Point to keep the camera aimed at, as lat,lng")
	datePtr := flag.String("date", "", "Preferred capture date (YYYY-MM or YYYY-MM-DD)")
	outPtr := flag.String("out", "", "Output folder (default: settings output path)")
	spacingPtr := flag.Float64("spacing", 0, "Meters between frames (0 keeps the saved setting)")
	zoomPtr := flag.Int("zoom", 0, "Panorama zoom 1-5 (0 keeps the saved setting)")
	flag.Parse()

	settings, err := config.LoadSettings()
	if err != nil {
		log.Printf("Failed to load settings, using defaults: %v", err)
		settings = config.DefaultSettings()
		settings.ApplyEnv()
	}
	if strings.TrimSpace(settings.APIKey) == "" {
		log.Fatal("GOOGLE_MAPS_API_KEY is required")
	}

	var plan *config.Plan
	if *planPtr != "" {
		plan, err = config.LoadPlan(*planPtr)
	} else {
		plan, err = planFromFlags(settings.Session, *fromPtr, *toPtr, *gpxPtr, *lookAtPtr, *datePtr)
	}
	if err != nil {
		log.Fatal(err)
	}
	if *spacingPtr > 0 {
		plan.Session.Spacing = *spacingPtr
	}
	if *zoomPtr > 0 {
		plan.Session.Zoom = *zoomPtr
	}
	if err := plan.Validate(); err != nil {
		log.Fatal(err)
	}

	outputPath := settings.OutputPath
	switch {
	case *outPtr != "":
		outputPath = *outPtr
	case plan.Output != "":
		outputPath = plan.Output
	}
	if err := os.MkdirAll(outputPath, 0755); err != nil {
		log.Fatalf("failed to create output directory: %v", err)
	}

	w, h := panorama.CanvasSize(plan.Session.Zoom)
	tileCache, rasters, err := cache.Open(cache.GetCacheDir(), settings.CacheConfig(), int64(w*h*4))
	if err != nil {
		log.Printf("Failed to initialize tile cache: %v", err)
		rasters, _ = cache.NewRasterCache(cache.MinRasterSlots)
	} else {
		defer tileCache.Close()
	}

	limiter := ratelimit.NewHandler(nil)
	defer limiter.Close()
	limiter.SetAutoRetry(settings.AutoRetryOnRateLimit)
	limiter.SetOnRateLimit(func(ev ratelimit.RateLimitEvent) {
		log.Printf("[RateLimit] %s", ev.Message)
	})

	client := googlemaps.NewClient(googlemaps.Config{
		APIKey:    settings.APIKey,
		RateLimit: limiter,
		TileCache: tileCache,
	})

	bars := &phaseBars{}
	surface := render.NewOffscreenSurface(plan.Session.Width, plan.Session.Height, plan.Session.FOV)
	sink := export.FileSink{Root: outputPath}
	session, err := hyperlapse.New(hyperlapse.Config{
		Routes:     client,
		Snapper:    client,
		Metadata:   client,
		Tiles:      client,
		Elevations: client,
		Surface:    surface,
		Sink:       sink,
		Rasters:    rasters,
		Settings:   plan.Session,
		Events: hyperlapse.Events{
			OnRouteProgress: func(p sequence.Progress) {
				bars.set("Finding panoramas", p.Samples, p.Sample+1)
			},
			OnLoadProgress: func(p hyperlapse.LoadProgress) {
				bars.set("Loading frames", p.Length, p.Position+1)
			},
			OnError: func(err error) {
				log.Printf("[Hyperlapse] %v", err)
			},
		},
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx, abort := context.WithCancel(context.Background())
	defer abort()
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go watchSignals(ctx, sigs, session.Cancel, abort)

	req, err := session.ApplyPlan(ctx, plan)
	if err != nil {
		log.Fatal(err)
	}

	res, err := session.Run(ctx, req)
	bars.finish()
	if err != nil {
		log.Fatal(err)
	}

	if res.Label != "" {
		if data, err := surface.EncodeJPEG(plan.Session.JPEGQuality); err == nil {
			if err := sink.SavePreview(ctx, data, res.Label); err != nil {
				log.Printf("Failed to save preview: %v", err)
			}
		}
	}
	fmt.Println(summary(res, outputPath))
	if res.Failed > 0 || res.FailedTiles > 0 {
		fmt.Printf("%d frames failed, %d tiles missing\n", res.Failed, res.FailedTiles)
	}
}

// watchSignals calls cancel on the first signal, which stops the run at the
// next frame and keeps what was saved. A second signal calls abort.
func watchSignals(ctx context.Context, sigs <-chan os.Signal, cancel, abort func()) {
	select {
	case <-sigs:
	case <-ctx.Done():
		return
	}
	log.Printf("Stopping after the current frame (interrupt again to abort)")
	cancel()
	select {
	case <-sigs:
		abort()
	case <-ctx.Done():
	}
}

// summary describes a finished run in one line.
func summary(res *export.Result, outputPath string) string {
	if res.Label == "" {
		return "Canceled before any frames were exported"
	}
	dir := filepath.Join(outputPath, res.Label)
	if res.Status == export.StatusCanceled {
		return fmt.Sprintf("%s: canceled, %d/%d frames saved to %s", res.Label, res.Saved, res.Frames, dir)
	}
	return fmt.Sprintf("%s: %d/%d frames saved to %s", res.Label, res.Saved, res.Frames, dir)
}

// planFromFlags builds a plan from the route flags.
func planFromFlags(session config.SessionSettings, from, to, gpx, lookAt, date string) (*config.Plan, error) {
	plan := &config.Plan{
		Name:       "cli",
		GPX:        gpx,
		TargetDate: date,
		Session:    session,
	}
	if gpx == "" {
		if from == "" || to == "" {
			return nil, fmt.Errorf("either -plan, -gpx, or both -from and -to are required")
		}
		origin, err := parsePoint(from)
		if err != nil {
			return nil, fmt.Errorf("invalid -from: %w", err)
		}
		dest, err := parsePoint(to)
		if err != nil {
			return nil, fmt.Errorf("invalid -to: %w", err)
		}
		plan.Origin, plan.Destination = &origin, &dest
	}
	if lookAt != "" {
		p, err := parsePoint(lookAt)
		if err != nil {
			return nil, fmt.Errorf("invalid -lookat: %w", err)
		}
		plan.LookAt = &p
		plan.Session.UseLookAt = true
	}
	return plan, nil
}

// parsePoint reads "lat,lng".
func parsePoint(s string) (geo.Point, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return geo.Point{}, fmt.Errorf("expected lat,lng, got %q", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("bad latitude: %w", err)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("bad longitude: %w", err)
	}
	p := geo.NewPoint(lat, lng)
	if !p.Valid() {
		return geo.Point{}, fmt.Errorf("point %s out of range", p)
	}
	return p, nil
}

// phaseBars shows one progress bar per pipeline phase.
type phaseBars struct {
	label string
	bar   *progressbar.ProgressBar
}

func (b *phaseBars) set(label string, total, current int) {
	if total <= 0 {
		return
	}
	if b.bar == nil || b.label != label {
		b.finish()
		b.label = label
		b.bar = progressbar.Default(int64(total), label)
	}
	b.bar.Set(current)
}

func (b *phaseBars) finish() {
	if b.bar != nil {
		b.bar.Finish()
		fmt.Println()
		b.bar = nil
	}
}
