package main

import (
	"log"

	"hyperlapse-desktop/internal/config"
)

// ===================
// Settings Management
// ===================

// GetSettings returns current user settings
func (a *App) GetSettings() (*config.UserSettings, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Return a copy to prevent external modifications
	settingsCopy := *a.settings
	return &settingsCopy, nil
}

// SaveSettings saves user settings to disk and updates app state
func (a *App) SaveSettings(settings *config.UserSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	a.mu.Lock()
	if err := config.SaveSettings(settings); err != nil {
		a.mu.Unlock()
		return err
	}
	prevKey := a.settings.APIKey
	a.settings = settings
	a.mu.Unlock()

	if a.rateLimitHandler != nil {
		a.rateLimitHandler.SetAutoRetry(settings.AutoRetryOnRateLimit)
	}
	if a.session != nil {
		if err := a.SetSessionSettings(settings.Session); err != nil {
			return err
		}
	}

	// Note: API key, output folder and cache settings require app restart to take effect
	if settings.APIKey != prevKey {
		log.Printf("Settings saved. The new API key will apply on next restart.")
	} else {
		log.Printf("Settings saved. Cache settings will apply on next restart.")
	}

	return nil
}

// GetSettingsPath returns the OS-specific settings file path
func (a *App) GetSettingsPath() string {
	return config.GetSettingsPath()
}

// SaveMapPosition remembers the last viewed map location as the start view.
func (a *App) SaveMapPosition(lat, lon float64, zoom int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.settings.DefaultCenterLat = lat
	a.settings.DefaultCenterLon = lon
	a.settings.DefaultMapZoom = zoom

	if err := config.SaveSettings(a.settings); err != nil {
		return err
	}

	log.Printf("Saved map position: lat=%.6f, lon=%.6f, zoom=%d", lat, lon, zoom)
	return nil
}
