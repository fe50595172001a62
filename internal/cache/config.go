package cache

import (
	"log"
	"os"
	"path/filepath"
	goruntime "runtime"
)

// Config represents cache configuration
type Config struct {
	MaxSizeMB int `json:"maxSizeMB"`
	TTLDays   int `json:"ttlDays"`
	// RasterSlots caps in-memory composed panoramas; 0 sizes from free memory.
	RasterSlots int `json:"rasterSlots"`
}

// DefaultConfig returns default cache configuration
func DefaultConfig() *Config {
	return &Config{
		MaxSizeMB: 500,
		TTLDays:   14,
	}
}

// Open creates the persistent tile cache under baseDir and an in-memory
// raster cache sized for rasters of rasterBytes each.
func Open(baseDir string, cfg *Config, rasterBytes int64) (*PersistentTileCache, *RasterCache, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	tiles, err := NewPersistentTileCache(baseDir, cfg.MaxSizeMB, cfg.TTLDays)
	if err != nil {
		return nil, nil, err
	}

	slots := cfg.RasterSlots
	if slots <= 0 {
		slots = RasterCapacity(rasterBytes)
	}
	rasters, err := NewRasterCache(slots)
	if err != nil {
		tiles.Close()
		return nil, nil, err
	}
	log.Printf("[Cache] Tiles at %s (max %d MB, %d days), %d raster slots", baseDir, cfg.MaxSizeMB, cfg.TTLDays, slots)
	return tiles, rasters, nil
}

// GetCacheDir returns the OS-specific panorama tile cache directory
func GetCacheDir() string {
	homeDir, _ := os.UserHomeDir()

	switch goruntime.GOOS {
	case "darwin":
		return filepath.Join(homeDir, "Library", "Caches", "hyperlapse-desktop", "panoramas")
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = filepath.Join(homeDir, "AppData", "Local")
		}
		return filepath.Join(appData, "hyperlapse-desktop", "cache", "panoramas")
	default:
		cacheHome := os.Getenv("XDG_CACHE_HOME")
		if cacheHome == "" {
			cacheHome = filepath.Join(homeDir, ".cache")
		}
		return filepath.Join(cacheHome, "hyperlapse-desktop", "panoramas")
	}
}
