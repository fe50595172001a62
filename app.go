package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"sync"
	"time"

	"github.com/posthog/posthog-go"
	wailsRuntime "github.com/wailsapp/wails/v2/pkg/runtime"

	"hyperlapse-desktop/internal/cache"
	"hyperlapse-desktop/internal/common"
	"hyperlapse-desktop/internal/config"
	"hyperlapse-desktop/internal/export"
	"hyperlapse-desktop/internal/geo"
	"hyperlapse-desktop/internal/googlemaps"
	"hyperlapse-desktop/internal/handlers/frameserver"
	"hyperlapse-desktop/internal/hyperlapse"
	"hyperlapse-desktop/internal/panorama"
	"hyperlapse-desktop/internal/playback"
	"hyperlapse-desktop/internal/ratelimit"
	"hyperlapse-desktop/internal/sequence"
	"hyperlapse-desktop/internal/taskqueue"
)

// Linker flags
var (
	PostHogKey  string
	PostHogHost string
	AppVersion  string = "0.0.0-dev"
)

// App struct
type App struct {
	ctx              context.Context
	client           *googlemaps.Client
	tileCache        *cache.PersistentTileCache
	rasters          *cache.RasterCache
	rateLimitHandler *ratelimit.Handler
	session          *hyperlapse.Session
	surface          *eventSurface
	frameServer      *frameserver.Server
	outputRoot       string // sink root of the live session
	settings         *config.UserSettings
	mu               sync.Mutex
	devMode          bool // Enable verbose logging in dev mode only
	phClient         posthog.Client
	taskQueue        *taskqueue.QueueManager // Task queue for background renders
	stopLoop         context.CancelFunc
}

// NewApp creates a new App application struct
func NewApp() *App {
	settings, err := config.LoadSettings()
	if err != nil {
		log.Printf("Failed to load settings, using defaults: %v", err)
		settings = config.DefaultSettings()
		settings.ApplyEnv()
	}
	log.Printf("Settings loaded from: %s", config.GetSettingsPath())

	w, h := panorama.CanvasSize(settings.Session.Zoom)
	tileCache, rasters, err := cache.Open(cache.GetCacheDir(), settings.CacheConfig(), int64(w*h*4))
	if err != nil {
		log.Printf("Failed to initialize tile cache: %v", err)
		tileCache = nil // Continue without cache
		rasters, _ = cache.NewRasterCache(cache.MinRasterSlots)
	}

	rateLimitHandler := ratelimit.NewHandler(nil)
	rateLimitHandler.SetAutoRetry(settings.AutoRetryOnRateLimit)

	client := googlemaps.NewClient(googlemaps.Config{
		APIKey:    settings.APIKey,
		RateLimit: rateLimitHandler,
		TileCache: tileCache,
	})

	var phClient posthog.Client
	if PostHogKey != "" {
		phConfig := posthog.Config{
			Endpoint: PostHogHost,
		}
		ph, err := posthog.NewWithConfig(PostHogKey, phConfig)
		if err != nil {
			log.Printf("Failed to initialize PostHog: %v", err)
		} else {
			phClient = ph
		}
	}

	homeDir, _ := os.UserHomeDir()
	queuePath := filepath.Join(homeDir, ".hyperlapse-desktop", "queue")
	taskQueue := taskqueue.NewQueueManager(queuePath)
	log.Printf("Task queue initialized at %s", queuePath)

	return &App{
		client:           client,
		tileCache:        tileCache,
		rasters:          rasters,
		rateLimitHandler: rateLimitHandler,
		settings:         settings,
		phClient:         phClient,
		taskQueue:        taskQueue,
	}
}

// startup is called when the app starts
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	os.MkdirAll(a.settings.OutputPath, 0755)

	if a.settings.APIKey == "" {
		wailsRuntime.LogWarning(ctx, "No Google Maps API key configured; set one in settings or HYPERLAPSE_API_KEY")
	}

	a.rateLimitHandler.SetOnRateLimit(func(event ratelimit.RateLimitEvent) {
		wailsRuntime.EventsEmit(ctx, "rate-limit", event)
	})
	a.rateLimitHandler.SetOnRetry(func(event ratelimit.RateLimitEvent) {
		wailsRuntime.EventsEmit(ctx, "rate-limit-retry", event)
	})
	a.rateLimitHandler.SetOnRecovered(func(provider string) {
		wailsRuntime.EventsEmit(ctx, "rate-limit-recovered", provider)
	})

	a.surface = newEventSurface(ctx)
	a.outputRoot = a.settings.OutputPath
	session, err := a.newSession(a.settings.Session, a.surface, export.FileSink{Root: a.outputRoot}, a.sessionEvents())
	if err != nil {
		wailsRuntime.LogError(ctx, fmt.Sprintf("Failed to create session: %v", err))
		return
	}
	a.session = session

	a.frameServer = frameserver.NewServer(session, a.client, a.settings.Session.JPEGQuality)
	if err := a.frameServer.Start(); err != nil {
		wailsRuntime.LogError(ctx, err.Error())
	} else {
		a.surface.setFrameURL(a.frameServer.FrameURL)
		wailsRuntime.LogInfo(ctx, fmt.Sprintf("Frame server started on %s", a.frameServer.URL()))
	}

	loopCtx, stop := context.WithCancel(ctx)
	a.stopLoop = stop
	go session.Engine().Run(loopCtx, playback.DefaultRefresh)

	a.taskQueue.SetExecutor(a)
	a.taskQueue.SetCallbacks(taskqueue.Callbacks{
		OnQueueUpdate: func(status taskqueue.QueueStatus) {
			wailsRuntime.EventsEmit(ctx, "task-queue-update", status)
		},
		OnTaskProgress: func(taskID string, progress taskqueue.TaskProgress) {
			wailsRuntime.EventsEmit(ctx, "task-progress", map[string]interface{}{
				"taskId":   taskID,
				"progress": progress,
			})
		},
		OnTaskComplete: func(taskID string, success bool, err error) {
			errStr := ""
			if err != nil {
				errStr = err.Error()
			}
			wailsRuntime.EventsEmit(ctx, "task-complete", map[string]interface{}{
				"taskId":  taskID,
				"success": success,
				"error":   errStr,
			})
		},
		OnNotification: func(title, message, notifType string) {
			wailsRuntime.EventsEmit(ctx, "system-notification", map[string]interface{}{
				"title":   title,
				"message": message,
				"type":    notifType,
			})
		},
	})

	a.TrackEvent("app_started", map[string]interface{}{
		"version": a.GetAppVersion(),
		"os":      goruntime.GOOS,
		"arch":    goruntime.GOARCH,
	})
}

// newSession builds a session on the shared Google Maps client and caches.
func (a *App) newSession(settings config.SessionSettings, surface playback.Surface, sink export.Sink, events hyperlapse.Events) (*hyperlapse.Session, error) {
	return hyperlapse.New(hyperlapse.Config{
		Routes:     a.client,
		Snapper:    a.client,
		Metadata:   a.client,
		Tiles:      a.client,
		Elevations: a.client,
		Surface:    surface,
		Sink:       sink,
		Rasters:    a.rasters,
		Settings:   settings,
		Events:     events,
	})
}

// sessionEvents forwards session notifications to the frontend as
// hyperlapse:* events.
func (a *App) sessionEvents() hyperlapse.Events {
	emit := func(name string) func(any) {
		return func(data any) { wailsRuntime.EventsEmit(a.ctx, "hyperlapse:"+name, data) }
	}
	return hyperlapse.Events{
		OnRouteProgress: func(p sequence.Progress) { emit("route-progress")(p) },
		OnRouteComplete: func(r *sequence.Result) {
			emit("route-complete")(map[string]interface{}{
				"result": r,
				"frames": r.Sequence.Infos(),
			})
		},
		OnTileProgress: func(p panorama.TileProgress) { emit("tile-progress")(p) },
		OnLoadProgress: func(p hyperlapse.LoadProgress) { emit("load-progress")(p) },
		OnLoadComplete: func(r *export.Result) { emit("load-complete")(r) },
		OnLoadCanceled: func(r *export.Result) { emit("load-canceled")(r) },
		OnFrame:        func(ev playback.FrameEvent) { emit("frame")(ev) },
		OnPlay:         func() { emit("play")(nil) },
		OnPause:        func() { emit("pause")(nil) },
		OnStateChange:  func(s playback.State) { emit("state")(s) },
		OnError: func(err error) {
			a.emitLog(err.Error())
			emit("error")(err.Error())
		},
	}
}

// TrackEvent sends an event to PostHog
func (a *App) TrackEvent(event string, props map[string]interface{}) {
	if a.phClient != nil {
		a.phClient.Enqueue(posthog.Capture{
			DistinctId: "backend_user",
			Event:      event,
			Properties: props,
		})
	}
}

// Shutdown cleans up resources
func (a *App) Shutdown(ctx context.Context) {
	if a.stopLoop != nil {
		a.stopLoop()
	}
	if a.session != nil {
		a.session.Cancel()
	}
	if a.frameServer != nil {
		a.frameServer.Shutdown(ctx)
	}
	if a.taskQueue != nil {
		a.taskQueue.Close()
	}
	if a.tileCache != nil {
		a.tileCache.Close()
	}
	if a.rateLimitHandler != nil {
		a.rateLimitHandler.Close()
	}
	a.mu.Lock()
	if err := config.SaveSettings(a.settings); err != nil {
		log.Printf("Failed to save settings on shutdown: %v", err)
	}
	a.mu.Unlock()
	if a.phClient != nil {
		a.phClient.Close()
	}
}

// GetAppVersion returns the current application version
func (a *App) GetAppVersion() string {
	return AppVersion
}

// emitLog sends a log message to the frontend (only in dev mode)
func (a *App) emitLog(message string) {
	if a.devMode {
		wailsRuntime.EventsEmit(a.ctx, "log", message)
	}
}

func (a *App) requireSession() (*hyperlapse.Session, error) {
	if a.session == nil {
		return nil, fmt.Errorf("session not initialized")
	}
	return a.session, nil
}

// ===================
// Hyperlapse
// ===================

// GenerateRequest is the frontend-facing generate request.
type GenerateRequest struct {
	Origin      geo.Point `json:"origin"`
	Destination geo.Point `json:"destination"`
	TargetDate  string    `json:"targetDate"` // YYYY-MM, optional
}

// Generate routes between the two pins, resolves the frames and exports them
// to the output folder. It returns once the export finishes or is canceled.
func (a *App) Generate(req GenerateRequest) (*export.Result, error) {
	s, err := a.requireSession()
	if err != nil {
		return nil, err
	}

	var target *time.Time
	if req.TargetDate != "" {
		t, err := common.ParsePanoramaDate(req.TargetDate)
		if err != nil {
			return nil, fmt.Errorf("invalid target date: %w", err)
		}
		target = &t
	}

	a.TrackEvent("hyperlapse_generate", map[string]interface{}{
		"has_target_date": target != nil,
	})

	res, err := s.Run(a.ctx, hyperlapse.GenerateRequest{
		Origin:      req.Origin,
		Destination: req.Destination,
		TargetDate:  target,
	})
	if err != nil {
		wailsRuntime.LogError(a.ctx, fmt.Sprintf("Hyperlapse failed: %v", err))
		return nil, err
	}

	a.TrackEvent("hyperlapse_exported", map[string]interface{}{
		"frames": res.Frames,
		"saved":  res.Saved,
		"status": string(res.Status),
	})
	if res.Label == "" {
		wailsRuntime.LogInfo(a.ctx, "Hyperlapse canceled before export")
	} else {
		wailsRuntime.LogInfo(a.ctx, fmt.Sprintf("Exported %d frames as %s (%s)", res.Saved, res.Label, res.Status))
	}

	a.mu.Lock()
	autoOpen := a.settings.AutoOpenOutput
	a.mu.Unlock()
	if res.Status == export.StatusComplete && autoOpen && res.Saved > 0 {
		a.OpenFolder(filepath.Join(a.outputRoot, res.Label))
	}
	return res, nil
}

// CancelGeneration stops the running generation or export.
func (a *App) CancelGeneration() {
	if a.session != nil {
		a.session.Cancel()
		a.TrackEvent("hyperlapse_canceled", nil)
	}
}

func (a *App) Play() {
	if a.session != nil {
		a.session.Play()
	}
}

func (a *App) Pause() {
	if a.session != nil {
		a.session.Pause()
	}
}

func (a *App) NextFrame() {
	if a.session != nil {
		a.session.Next()
	}
}

func (a *App) PrevFrame() {
	if a.session != nil {
		a.session.Prev()
	}
}

// GetFrames returns the current frame list.
func (a *App) GetFrames() []sequence.FrameInfo {
	if a.session == nil {
		return nil
	}
	return a.session.Frames()
}

// GetPlaybackState returns the engine state and playhead.
func (a *App) GetPlaybackState() map[string]interface{} {
	if a.session == nil {
		return nil
	}
	eng := a.session.Engine()
	return map[string]interface{}{
		"state":  eng.State(),
		"index":  eng.Index(),
		"length": eng.Length(),
		"camera": eng.CameraPosition(),
		"params": eng.Params(),
	}
}

// GetFrameServerURL returns the base URL frames are served from.
func (a *App) GetFrameServerURL() string {
	if a.frameServer == nil {
		return ""
	}
	return a.frameServer.URL()
}

// SetLookAt moves the look-at target.
func (a *App) SetLookAt(point geo.Point) error {
	s, err := a.requireSession()
	if err != nil {
		return err
	}
	return s.SetLookAt(a.ctx, point)
}

// DropPins places start and end pins on roads either side of the map centre.
func (a *App) DropPins(center geo.Point, spanLng float64) ([]geo.Point, error) {
	s, err := a.requireSession()
	if err != nil {
		return nil, err
	}
	start, end, err := s.DropPins(a.ctx, center, spanLng)
	if err != nil {
		return nil, err
	}
	return []geo.Point{start, end}, nil
}

// SnapToRoad moves a dragged pin onto the nearest road.
func (a *App) SnapToRoad(point geo.Point) (geo.Point, error) {
	return a.client.SnapToRoad(a.ctx, point)
}

// SearchAddress geocodes an address for the map search box.
func (a *App) SearchAddress(address string) (*googlemaps.Place, error) {
	return a.client.Geocode(a.ctx, address)
}

// CameraParams is the full set of operator camera controls.
type CameraParams struct {
	Position        playback.Vec2 `json:"position"`
	Offset          playback.Vec3 `json:"offset"`
	Tilt            float64       `json:"tilt"`
	Pitch           float64       `json:"pitch"`
	UseRotationComp bool          `json:"useRotationComp"`
	RotationComp    float64       `json:"rotationComp"`
}

// SetCameraParams applies the camera controls.
func (a *App) SetCameraParams(p CameraParams) error {
	s, err := a.requireSession()
	if err != nil {
		return err
	}
	s.SetPosition(p.Position)
	s.SetOffset(p.Offset)
	s.SetTilt(p.Tilt)
	s.SetPitch(p.Pitch)
	s.SetRotationComp(p.UseRotationComp, p.RotationComp)
	return nil
}

// SetSessionSettings applies sampling, composition and playback settings to
// the live session and stores them as the defaults for the next start.
func (a *App) SetSessionSettings(ss config.SessionSettings) error {
	if err := ss.Validate(); err != nil {
		return err
	}
	s, err := a.requireSession()
	if err != nil {
		return err
	}
	if err := s.SetSpacing(ss.Spacing); err != nil {
		return err
	}
	if err := s.SetMaxPoints(ss.MaxPoints); err != nil {
		return err
	}
	if err := s.SetZoom(ss.Zoom); err != nil {
		return err
	}
	s.SetFOV(ss.FOV)
	s.SetMillis(ss.Millis)
	s.SetUseElevation(ss.UseElevation)
	s.SetUseLookAt(ss.UseLookAt)
	s.SetElevationOffset(ss.ElevationOffset)

	a.mu.Lock()
	a.settings.Session = ss
	a.mu.Unlock()
	return nil
}

// SetViewportSize tracks the WebView surface size.
func (a *App) SetViewportSize(width, height int) {
	if a.session != nil {
		a.session.SetSize(width, height)
	}
}

// ===================
// Output folder
// ===================

// GetOutputPath returns the current export directory
func (a *App) GetOutputPath() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settings.OutputPath
}

// SelectOutputFolder opens a folder picker dialog. The new folder is used from
// the next application start.
func (a *App) SelectOutputFolder() (string, error) {
	path, err := wailsRuntime.OpenDirectoryDialog(a.ctx, wailsRuntime.OpenDialogOptions{
		Title:            "Select Output Folder",
		DefaultDirectory: a.GetOutputPath(),
	})
	if err != nil {
		return "", err
	}

	if path != "" {
		if err := os.MkdirAll(path, 0755); err != nil {
			return "", err
		}
		a.mu.Lock()
		a.settings.OutputPath = path
		a.mu.Unlock()
	}

	return path, nil
}

// OpenOutputFolder opens the output folder in the system file manager
func (a *App) OpenOutputFolder() error {
	return a.OpenFolder(a.GetOutputPath())
}

// OpenFolder opens a specific folder in the OS file explorer
func (a *App) OpenFolder(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("folder does not exist: %s", path)
	}

	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", path)
	default: // Linux and others
		cmd = exec.Command("xdg-open", path)
	}
	return cmd.Start()
}
