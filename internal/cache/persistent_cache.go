package cache

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const indexFile = "cache_index.json"

// PersistentTileCache stores panorama tiles on disk across app restarts.
// Layout: baseDir/{pano}/{zoom}/{x}/{y}.jpg with a JSON index at
// baseDir/cache_index.json.
type PersistentTileCache struct {
	baseDir   string
	maxSize   int64 // bytes
	currSize  int64 // atomic
	ttl       time.Duration
	mu        sync.RWMutex
	entries   map[string]*TileEntry
	dirty     atomic.Bool
	evictChan chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// TileEntry stores information about a cached tile
type TileEntry struct {
	Key        string    `json:"key"`
	PanoID     string    `json:"pano"`
	Zoom       int       `json:"zoom"`
	X          int       `json:"x"`
	Y          int       `json:"y"`
	Size       int64     `json:"size"`
	AccessTime time.Time `json:"accessTime"`
	CreateTime time.Time `json:"createTime"`
}

// NewPersistentTileCache opens or creates a tile cache under baseDir.
func NewPersistentTileCache(baseDir string, maxSizeMB int, ttlDays int) (*PersistentTileCache, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	cache := &PersistentTileCache{
		baseDir:   baseDir,
		maxSize:   int64(maxSizeMB) * 1024 * 1024,
		ttl:       time.Duration(ttlDays) * 24 * time.Hour,
		entries:   make(map[string]*TileEntry),
		evictChan: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}

	if err := cache.loadIndex(); err != nil {
		log.Printf("[Cache] Rebuilding index: %v", err)
		if err := cache.rebuildIndex(); err != nil {
			return nil, fmt.Errorf("failed to initialize cache: %w", err)
		}
	}

	go cache.maintenanceWorker()

	return cache, nil
}

// TileKey returns the cache key of a panorama tile.
func TileKey(panoID string, zoom, x, y int) string {
	return fmt.Sprintf("%s:%d:%d:%d", panoID, zoom, x, y)
}

// Get retrieves a tile from cache
func (c *PersistentTileCache) Get(panoID string, zoom, x, y int) ([]byte, bool) {
	key := TileKey(panoID, zoom, x, y)

	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		return nil, false
	}

	if c.ttl > 0 && time.Since(entry.CreateTime) > c.ttl {
		c.evict(key)
		return nil, false
	}

	data, err := os.ReadFile(c.tilePath(entry))
	if err != nil {
		c.evict(key)
		return nil, false
	}

	c.mu.Lock()
	entry.AccessTime = time.Now()
	c.mu.Unlock()
	c.dirty.Store(true)

	return data, true
}

// Set stores a tile
func (c *PersistentTileCache) Set(panoID string, zoom, x, y int, data []byte) error {
	if panoID == "" {
		return fmt.Errorf("pano id is required")
	}
	now := time.Now()
	entry := &TileEntry{
		Key:        TileKey(panoID, zoom, x, y),
		PanoID:     panoID,
		Zoom:       zoom,
		X:          x,
		Y:          y,
		Size:       int64(len(data)),
		AccessTime: now,
		CreateTime: now,
	}

	path := c.tilePath(entry)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	c.mu.Lock()
	if old, ok := c.entries[entry.Key]; ok {
		atomic.AddInt64(&c.currSize, -old.Size)
	}
	c.entries[entry.Key] = entry
	c.mu.Unlock()

	if atomic.AddInt64(&c.currSize, entry.Size) > c.maxSize {
		select {
		case c.evictChan <- struct{}{}:
		default:
		}
	}
	c.dirty.Store(true)

	return nil
}

// tilePath builds {baseDir}/{pano}/{zoom}/{x}/{y}.jpg
func (c *PersistentTileCache) tilePath(e *TileEntry) string {
	return filepath.Join(c.baseDir, sanitize(e.PanoID), fmt.Sprintf("%d", e.Zoom),
		fmt.Sprintf("%d", e.X), fmt.Sprintf("%d.jpg", e.Y))
}

func sanitize(id string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "_")
	return r.Replace(id)
}

func (c *PersistentTileCache) evict(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(key)
	c.dirty.Store(true)
}

func (c *PersistentTileCache) removeLocked(key string) {
	entry, ok := c.entries[key]
	if !ok {
		return
	}
	os.Remove(c.tilePath(entry))
	delete(c.entries, key)
	atomic.AddInt64(&c.currSize, -entry.Size)
}

// maintenanceWorker evicts on demand, expires on a timer and flushes the
// index when it changed.
func (c *PersistentTileCache) maintenanceWorker() {
	expire := time.NewTicker(5 * time.Minute)
	flush := time.NewTicker(30 * time.Second)
	defer expire.Stop()
	defer flush.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-c.evictChan:
			c.evictLRU()
		case <-expire.C:
			c.evictExpired()
		case <-flush.C:
			c.flush()
		}
	}
}

// evictLRU removes least recently used tiles until the cache is at 80% of
// its limit.
func (c *PersistentTileCache) evictLRU() {
	c.mu.Lock()
	defer c.mu.Unlock()

	currSize := atomic.LoadInt64(&c.currSize)
	if currSize <= c.maxSize {
		return
	}
	targetSize := c.maxSize * 8 / 10

	entries := make([]*TileEntry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].AccessTime.Before(entries[j].AccessTime)
	})

	evicted := 0
	for _, e := range entries {
		if currSize <= targetSize {
			break
		}
		c.removeLocked(e.Key)
		currSize -= e.Size
		evicted++
	}
	log.Printf("[Cache] Evicted %d tiles, %d bytes remain", evicted, currSize)

	if err := c.saveIndexLocked(); err != nil {
		log.Printf("[Cache] %v", err)
	}
}

func (c *PersistentTileCache) evictExpired() {
	if c.ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var expired []string
	for key, e := range c.entries {
		if now.Sub(e.CreateTime) > c.ttl {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		c.removeLocked(key)
	}
	if len(expired) > 0 {
		if err := c.saveIndexLocked(); err != nil {
			log.Printf("[Cache] %v", err)
		}
	}
}

func (c *PersistentTileCache) flush() {
	if !c.dirty.Load() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.saveIndexLocked(); err != nil {
		log.Printf("[Cache] %v", err)
	}
}

func (c *PersistentTileCache) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(c.baseDir, indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("index file not found")
		}
		return fmt.Errorf("failed to read index: %w", err)
	}

	var entries map[string]*TileEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to parse index: %w", err)
	}
	if entries == nil {
		entries = make(map[string]*TileEntry)
	}

	var total int64
	for _, e := range entries {
		total += e.Size
	}
	c.entries = entries
	atomic.StoreInt64(&c.currSize, total)
	return nil
}

// saveIndexLocked writes the index. The caller holds c.mu.
func (c *PersistentTileCache) saveIndexLocked() error {
	path := filepath.Join(c.baseDir, indexFile)

	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename index file: %w", err)
	}
	c.dirty.Store(false)
	return nil
}

// rebuildIndex scans the cache directory for tiles.
func (c *PersistentTileCache) rebuildIndex() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*TileEntry)
	var total int64

	err := filepath.Walk(c.baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || filepath.Ext(path) != ".jpg" {
			return nil
		}

		rel, _ := filepath.Rel(c.baseDir, path)
		parts := strings.Split(rel, string(os.PathSeparator))
		if len(parts) != 4 {
			return nil
		}

		zoom, err1 := parseIntSafe(parts[1])
		x, err2 := parseIntSafe(parts[2])
		y, err3 := parseIntSafe(strings.TrimSuffix(parts[3], ".jpg"))
		if err1 != nil || err2 != nil || err3 != nil {
			return nil
		}

		e := &TileEntry{
			Key:        TileKey(parts[0], zoom, x, y),
			PanoID:     parts[0],
			Zoom:       zoom,
			X:          x,
			Y:          y,
			Size:       info.Size(),
			AccessTime: info.ModTime(),
			CreateTime: info.ModTime(),
		}
		c.entries[e.Key] = e
		total += info.Size()
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan cache directory: %w", err)
	}

	atomic.StoreInt64(&c.currSize, total)
	return c.saveIndexLocked()
}

func parseIntSafe(s string) (int, error) {
	var i int
	_, err := fmt.Sscanf(s, "%d", &i)
	return i, err
}

// Stats returns cache statistics
func (c *PersistentTileCache) Stats() (entries int, sizeBytes int64, maxBytes int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries), atomic.LoadInt64(&c.currSize), c.maxSize
}

// Clear removes all cached tiles
func (c *PersistentTileCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.entries {
		c.removeLocked(key)
	}
	atomic.StoreInt64(&c.currSize, 0)
	return c.saveIndexLocked()
}

// Close stops maintenance and flushes the index.
func (c *PersistentTileCache) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		err = c.saveIndexLocked()
		c.mu.Unlock()
	})
	return err
}

// GetCachePath returns the base directory of the cache
func (c *PersistentTileCache) GetCachePath() string {
	return c.baseDir
}
