package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"hyperlapse-desktop/internal/cache"
)

// Environment variables that override the stored API key, in priority order.
var apiKeyEnv = []string{"HYPERLAPSE_API_KEY", "GOOGLE_MAPS_API_KEY"}

// SessionSettings are the pipeline parameters a session starts with.
type SessionSettings struct {
	Spacing         float64 `json:"spacing" yaml:"spacing"`     // metres between samples
	MaxPoints       int     `json:"maxPoints" yaml:"maxPoints"` // sample cap
	Zoom            int     `json:"zoom" yaml:"zoom"`
	FOV             float64 `json:"fov" yaml:"fov"`
	Millis          int     `json:"millis" yaml:"millis"`
	Width           int     `json:"width" yaml:"width"`
	Height          int     `json:"height" yaml:"height"`
	JPEGQuality     int     `json:"jpegQuality" yaml:"jpegQuality"`
	TileWorkers     int     `json:"tileWorkers" yaml:"tileWorkers"`
	UseElevation    bool    `json:"useElevation" yaml:"useElevation"`
	UseLookAt       bool    `json:"useLookAt" yaml:"useLookAt"`
	ElevationOffset float64 `json:"elevationOffset" yaml:"elevationOffset"`
	Overlay         bool    `json:"overlay" yaml:"overlay"`
	OverlayFontSize float64 `json:"overlayFontSize" yaml:"overlayFontSize"`
}

// DefaultSessionSettings returns the stock pipeline parameters.
func DefaultSessionSettings() SessionSettings {
	return SessionSettings{
		Spacing:         5,
		MaxPoints:       100,
		Zoom:            3,
		FOV:             80,
		Millis:          50,
		Width:           1280,
		Height:          720,
		JPEGQuality:     80,
		TileWorkers:     8,
		OverlayFontSize: 20,
	}
}

// mergeDefaults fills zero values from d.
func (s *SessionSettings) mergeDefaults(d SessionSettings) {
	if s.Spacing == 0 {
		s.Spacing = d.Spacing
	}
	if s.MaxPoints == 0 {
		s.MaxPoints = d.MaxPoints
	}
	if s.Zoom == 0 {
		s.Zoom = d.Zoom
	}
	if s.FOV == 0 {
		s.FOV = d.FOV
	}
	if s.Millis == 0 {
		s.Millis = d.Millis
	}
	if s.Width == 0 {
		s.Width = d.Width
	}
	if s.Height == 0 {
		s.Height = d.Height
	}
	if s.JPEGQuality == 0 {
		s.JPEGQuality = d.JPEGQuality
	}
	if s.TileWorkers == 0 {
		s.TileWorkers = d.TileWorkers
	}
	if s.OverlayFontSize == 0 {
		s.OverlayFontSize = d.OverlayFontSize
	}
}

// Validate checks the parameters are usable.
func (s SessionSettings) Validate() error {
	switch {
	case s.Spacing <= 0:
		return fmt.Errorf("spacing must be positive, got %g", s.Spacing)
	case s.MaxPoints < 2:
		return fmt.Errorf("max points must be at least 2, got %d", s.MaxPoints)
	case s.Zoom < 1 || s.Zoom > 5:
		return fmt.Errorf("zoom must be between 1 and 5, got %d", s.Zoom)
	case s.FOV <= 0 || s.FOV >= 180:
		return fmt.Errorf("fov must be between 0 and 180, got %g", s.FOV)
	case s.Millis <= 0:
		return fmt.Errorf("millis must be positive, got %d", s.Millis)
	case s.Width <= 0 || s.Height <= 0:
		return fmt.Errorf("invalid size %dx%d", s.Width, s.Height)
	case s.JPEGQuality < 1 || s.JPEGQuality > 100:
		return fmt.Errorf("jpeg quality must be between 1 and 100, got %d", s.JPEGQuality)
	}
	return nil
}

// UserSettings represents persistent user preferences
type UserSettings struct {
	APIKey string `json:"apiKey"`

	// Export settings
	OutputPath string `json:"outputPath"`

	// Cache settings
	CacheMaxSizeMB   int `json:"cacheMaxSizeMB"`
	CacheTTLDays     int `json:"cacheTTLDays"`
	CacheRasterSlots int `json:"cacheRasterSlots"` // 0 sizes from free memory

	// Map start view
	DefaultCenterLat float64 `json:"defaultCenterLat"`
	DefaultCenterLon float64 `json:"defaultCenterLon"`
	DefaultMapZoom   int     `json:"defaultMapZoom"`

	Session SessionSettings `json:"session"`

	AutoRetryOnRateLimit bool `json:"autoRetryOnRateLimit"`

	// UI preferences
	Theme            string `json:"theme"` // "light", "dark", "system"
	AutoOpenOutput   bool   `json:"autoOpenOutput"`
	ShowCameraMarker bool   `json:"showCameraMarker"`
}

// DefaultSettings returns default user settings
func DefaultSettings() *UserSettings {
	homeDir, _ := os.UserHomeDir()

	return &UserSettings{
		OutputPath:           filepath.Join(homeDir, "Movies", "hyperlapse"),
		CacheMaxSizeMB:       500,
		CacheTTLDays:         14,
		DefaultCenterLat:     40.7580, // Times Square
		DefaultCenterLon:     -73.9855,
		DefaultMapZoom:       15,
		Session:              DefaultSessionSettings(),
		AutoRetryOnRateLimit: true,
		Theme:                "system",
		AutoOpenOutput:       true,
		ShowCameraMarker:     true,
	}
}

// GetSettingsPath returns the settings file path, creating its directory.
func GetSettingsPath() string {
	homeDir, _ := os.UserHomeDir()
	baseDir := filepath.Join(homeDir, ".hyperlapse-desktop", "settings")
	os.MkdirAll(baseDir, 0755)
	return filepath.Join(baseDir, "settings.json")
}

// LoadSettings loads user settings from the default path
func LoadSettings() (*UserSettings, error) {
	return LoadSettingsFrom(GetSettingsPath())
}

// LoadSettingsFrom loads settings from path, merging defaults into missing
// fields and applying environment overrides. A missing file yields defaults.
func LoadSettingsFrom(settingsPath string) (*UserSettings, error) {
	defaults := DefaultSettings()

	data, err := os.ReadFile(settingsPath)
	if os.IsNotExist(err) {
		defaults.ApplyEnv()
		return defaults, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	var settings UserSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}

	if settings.OutputPath == "" {
		settings.OutputPath = defaults.OutputPath
	}
	if settings.CacheMaxSizeMB == 0 {
		settings.CacheMaxSizeMB = defaults.CacheMaxSizeMB
	}
	if settings.CacheTTLDays == 0 {
		settings.CacheTTLDays = defaults.CacheTTLDays
	}
	if settings.DefaultMapZoom == 0 {
		settings.DefaultMapZoom = defaults.DefaultMapZoom
	}
	if settings.DefaultCenterLat == 0 && settings.DefaultCenterLon == 0 {
		settings.DefaultCenterLat = defaults.DefaultCenterLat
		settings.DefaultCenterLon = defaults.DefaultCenterLon
	}
	if settings.Theme == "" {
		settings.Theme = defaults.Theme
	}
	settings.Session.mergeDefaults(defaults.Session)
	settings.ApplyEnv()

	return &settings, nil
}

// ApplyEnv overrides the API key from the environment when set.
func (s *UserSettings) ApplyEnv() {
	for _, name := range apiKeyEnv {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			s.APIKey = v
			return
		}
	}
}

// Validate checks the settings before a session uses them.
func (s *UserSettings) Validate() error {
	if s.OutputPath == "" {
		return fmt.Errorf("output path is required")
	}
	if s.CacheMaxSizeMB < 0 || s.CacheTTLDays < 0 {
		return fmt.Errorf("cache limits must not be negative")
	}
	switch s.Theme {
	case "light", "dark", "system":
	default:
		return fmt.Errorf("invalid theme: %s (must be light, dark, or system)", s.Theme)
	}
	if err := s.Session.Validate(); err != nil {
		return fmt.Errorf("invalid session settings: %w", err)
	}
	return nil
}

// CacheConfig returns the cache limits.
func (s *UserSettings) CacheConfig() *cache.Config {
	return &cache.Config{
		MaxSizeMB:   s.CacheMaxSizeMB,
		TTLDays:     s.CacheTTLDays,
		RasterSlots: s.CacheRasterSlots,
	}
}

// SaveSettings saves user settings to the default path
func SaveSettings(settings *UserSettings) error {
	return SaveSettingsTo(GetSettingsPath(), settings)
}

// SaveSettingsTo writes settings to path through a temp file.
func SaveSettingsTo(settingsPath string, settings *UserSettings) error {
	if err := os.MkdirAll(filepath.Dir(settingsPath), 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	tmp := settingsPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	if err := os.Rename(tmp, settingsPath); err != nil {
		return fmt.Errorf("failed to rename settings file: %w", err)
	}

	return nil
}
