package cache

import (
	"fmt"
	"image"
	"log"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shirou/gopsutil/v3/mem"
)

// Bounds for RasterCapacity.
const (
	MinRasterSlots = 4
	MaxRasterSlots = 256
)

// RasterCache keeps recently composed panoramas in memory so replays and
// re-exports skip tile downloads.
type RasterCache struct {
	lru *lru.Cache[string, *image.RGBA]
}

// NewRasterCache creates a cache holding up to slots rasters.
func NewRasterCache(slots int) (*RasterCache, error) {
	if slots <= 0 {
		slots = MinRasterSlots
	}
	l, err := lru.New[string, *image.RGBA](slots)
	if err != nil {
		return nil, fmt.Errorf("failed to create raster cache: %w", err)
	}
	return &RasterCache{lru: l}, nil
}

// RasterKey identifies a composed panorama.
func RasterKey(panoID string, zoom int) string {
	return fmt.Sprintf("%s@%d", panoID, zoom)
}

func (c *RasterCache) Get(panoID string, zoom int) (*image.RGBA, bool) {
	return c.lru.Get(RasterKey(panoID, zoom))
}

func (c *RasterCache) Add(panoID string, zoom int, img *image.RGBA) {
	c.lru.Add(RasterKey(panoID, zoom), img)
}

func (c *RasterCache) Len() int { return c.lru.Len() }

func (c *RasterCache) Purge() { c.lru.Purge() }

// RasterCapacity returns how many rasters of rasterBytes each fit in a
// quarter of the currently available memory, clamped to
// [MinRasterSlots, MaxRasterSlots].
func RasterCapacity(rasterBytes int64) int {
	vm, err := mem.VirtualMemory()
	if err != nil {
		log.Printf("[Cache] Cannot read memory stats, using %d raster slots: %v", MinRasterSlots, err)
		return MinRasterSlots
	}
	return slotsFor(vm.Available, rasterBytes)
}

func slotsFor(available uint64, rasterBytes int64) int {
	if rasterBytes <= 0 {
		return MinRasterSlots
	}
	slots := int(available / 4 / uint64(rasterBytes))
	if slots < MinRasterSlots {
		return MinRasterSlots
	}
	if slots > MaxRasterSlots {
		return MaxRasterSlots
	}
	return slots
}
