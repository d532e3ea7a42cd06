package relay

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Static cache errors.
var (
	ErrCacheKeyNotFound = errors.New("key not found")
	ErrCacheEntryStale  = errors.New("entry expired")
)

// CacheEntry is a cached response body. A zero ExpiresAt marks the entry
// immutable: it is never evicted by time, only by explicit invalidation.
type CacheEntry struct {
	Data      []byte
	StoredAt  time.Time
	ExpiresAt time.Time
	ETag      string
}

// Expired reports whether the entry has passed its expiry time.
func (e *CacheEntry) Expired() bool {
	return !e.ExpiresAt.IsZero() && time.Now().After(e.ExpiresAt)
}

// Cache is a key-addressed store of cached responses.
type Cache interface {
	Get(ctx context.Context, key string) (*CacheEntry, error)
	Set(ctx context.Context, key string, entry *CacheEntry) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	Clear(ctx context.Context) error
	Has(ctx context.Context, key string) bool
	Cleanup()
}

// MemoryCache is a bounded in-memory Cache. When full, the entry stored
// longest ago is evicted.
type MemoryCache struct {
	mu          sync.RWMutex
	entries     map[string]*CacheEntry
	maxSize     int
	stopCleanup func()
}

// NewMemoryCache creates a memory cache holding at most maxSize entries.
func NewMemoryCache(maxSize int) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 1000
	}

	return &MemoryCache{
		entries: make(map[string]*CacheEntry),
		maxSize: maxSize,
	}
}

// Get returns the entry for key, or an error for missing/expired entries.
func (c *MemoryCache) Get(ctx context.Context, key string) (*CacheEntry, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, ErrCacheKeyNotFound
	}

	if entry.Expired() {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()

		return nil, ErrCacheEntryStale
	}

	return entry, nil
}

// Set stores an entry, evicting the oldest entry when at capacity.
func (c *MemoryCache) Set(ctx context.Context, key string, entry *CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now()
	}

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}

	c.entries[key] = entry

	return nil
}

func (c *MemoryCache) evictOldestLocked() {
	var (
		oldestKey string
		oldest    time.Time
	)

	for key, entry := range c.entries {
		if oldestKey == "" || entry.StoredAt.Before(oldest) {
			oldestKey = key
			oldest = entry.StoredAt
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Delete removes an entry.
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)

	return nil
}

// DeletePrefix removes every entry whose key starts with prefix.
func (c *MemoryCache) DeletePrefix(ctx context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}

	return nil
}

// Clear removes all entries.
func (c *MemoryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*CacheEntry)

	return nil
}

// Has reports whether a live entry exists for key.
func (c *MemoryCache) Has(ctx context.Context, key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]

	return ok && !entry.Expired()
}

// Cleanup removes expired entries. Immutable entries are untouched.
func (c *MemoryCache) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, entry := range c.entries {
		if entry.Expired() {
			delete(c.entries, key)
		}
	}
}

// StartCleanup sweeps expired entries every interval until the returned stop
// function (or Close) is called.
func (c *MemoryCache) StartCleanup(interval time.Duration) (stop func()) {
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.Cleanup()
			case <-done:
				return
			}
		}
	}()

	var once sync.Once

	stop = func() { once.Do(func() { close(done) }) }

	c.mu.Lock()
	c.stopCleanup = stop
	c.mu.Unlock()

	return stop
}

// Close stops the background cleanup goroutine, if one was started. Safe to
// call multiple times; entries stay readable afterwards.
func (c *MemoryCache) Close() {
	c.mu.RLock()
	stop := c.stopCleanup
	c.mu.RUnlock()

	if stop != nil {
		stop()
	}
}

// CacheStats counts manager-level cache activity.
type CacheStats struct {
	Hits   int64
	Misses int64
	Sets   int64
}

// GetHitRate returns hits / (hits + misses), or 0 with no traffic.
func (s *CacheStats) GetHitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}

	return float64(s.Hits) / float64(total)
}

// CacheManager derives keys, tracks stats and coalesces concurrent refreshes
// so at most one network fetch per key is in flight at a time.
type CacheManager struct {
	cache      Cache
	logger     Logger
	defaultTTL time.Duration

	mu    sync.Mutex
	stats CacheStats

	group singleflight.Group
}

// NewCacheManager creates a manager over cache. Both arguments may be nil:
// a nil cache disables storage, a nil logger disables logging.
func NewCacheManager(cache Cache, logger Logger) *CacheManager {
	return &CacheManager{cache: cache, logger: logger}
}

// SetDefaultTTL sets the expiry applied to entries stored without an explicit
// TTL. Zero or negative means entries are stored immutable.
func (m *CacheManager) SetDefaultTTL(ttl time.Duration) {
	m.defaultTTL = ttl
}

// GetCacheKey builds a stable key from method, path and sorted params.
func (m *CacheManager) GetCacheKey(method, path string, params map[string]string) string {
	key := method + ":" + path

	if len(params) > 0 {
		names := make([]string, 0, len(params))
		for name := range params {
			names = append(names, name)
		}

		sort.Strings(names)

		pairs := make([]string, 0, len(names))
		for _, name := range names {
			pairs = append(pairs, name+"="+params[name])
		}

		key += ":" + strings.Join(pairs, "&")
	}

	return key
}

// Get returns cached data for key, counting a hit or miss.
func (m *CacheManager) Get(ctx context.Context, key string) ([]byte, error) {
	if m.cache == nil {
		m.count(func(s *CacheStats) { s.Misses++ })

		return nil, ErrCacheKeyNotFound
	}

	entry, err := m.cache.Get(ctx, key)
	if err != nil {
		m.count(func(s *CacheStats) { s.Misses++ })

		return nil, err
	}

	m.count(func(s *CacheStats) { s.Hits++ })

	return entry.Data, nil
}

// Set stores data under key with the given TTL (zero or negative = immutable).
func (m *CacheManager) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return m.SetWithETag(ctx, key, data, "", ttl)
}

// SetWithETag stores data with an entity tag for future revalidation.
func (m *CacheManager) SetWithETag(ctx context.Context, key string, data []byte, etag string, ttl time.Duration) error {
	if m.cache == nil {
		return nil
	}

	now := time.Now()
	entry := &CacheEntry{Data: data, StoredAt: now, ETag: etag}

	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}

	err := m.cache.Set(ctx, key, entry)
	if err != nil {
		return err
	}

	m.count(func(s *CacheStats) { s.Sets++ })

	return nil
}

// Invalidate removes the entry for key.
func (m *CacheManager) Invalidate(ctx context.Context, key string) error {
	if m.cache == nil {
		return nil
	}

	return m.cache.Delete(ctx, key)
}

// InvalidatePrefix removes every entry under prefix, e.g. all cached pages of
// a collection listing.
func (m *CacheManager) InvalidatePrefix(ctx context.Context, prefix string) error {
	if m.cache == nil {
		return nil
	}

	return m.cache.DeletePrefix(ctx, prefix)
}

// FetchFunc loads fresh data for a cache key. It returns the body and an
// optional entity tag.
type FetchFunc func(ctx context.Context) (data []byte, etag string, err error)

// GetOrFetch applies the revalidation policy for key.
//
// RevalidateNone skips the cache read, always fetches, and writes through on
// success. RevalidateForce always fetches and overwrites the entry. MaxAge(n)
// serves an entry stored less than n ago and refreshes otherwise.
//
// Refreshes are coalesced: while one fetch for a key is in flight, concurrent
// callers wait for its outcome instead of issuing duplicate requests. The
// in-flight marker is dropped on success and failure alike.
func (m *CacheManager) GetOrFetch(ctx context.Context, key string, policy Revalidate, fetch FetchFunc) ([]byte, error) {
	if maxAge, ok := policy.MaxAge(); ok && m.cache != nil {
		entry, err := m.cache.Get(ctx, key)
		if err == nil && time.Since(entry.StoredAt) < maxAge {
			m.count(func(s *CacheStats) { s.Hits++ })

			return entry.Data, nil
		}

		m.count(func(s *CacheStats) { s.Misses++ })
	}

	if policy.IsNone() {
		data, etag, err := fetch(ctx)
		if err != nil {
			return nil, err
		}

		m.storeFetched(ctx, key, data, etag)

		return data, nil
	}

	result, err, _ := m.group.Do(key, func() (interface{}, error) {
		data, etag, err := fetch(ctx)
		if err != nil {
			return nil, err
		}

		m.storeFetched(ctx, key, data, etag)

		return data, nil
	})
	if err != nil {
		return nil, err
	}

	data, ok := result.([]byte)
	if !ok {
		return nil, ErrCacheKeyNotFound
	}

	return data, nil
}

func (m *CacheManager) storeFetched(ctx context.Context, key string, data []byte, etag string) {
	err := m.SetWithETag(ctx, key, data, etag, m.defaultTTL)
	if err != nil && m.logger != nil {
		m.logger.Warn("cache write failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}
}

// GetStats returns a snapshot of the manager's counters.
func (m *CacheManager) GetStats() *CacheStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.stats

	return &snapshot
}

func (m *CacheManager) count(update func(*CacheStats)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	update(&m.stats)
}

// CachingPolicy decides which responses are cacheable at all.
type CachingPolicy struct {
	CacheGET     bool
	CachePOST    bool
	CacheErrors  bool
	IncludePaths []string
	ExcludePaths []string
}

// DefaultCachingPolicy caches successful GET responses everywhere except
// volatile job-style endpoints callers typically poll.
func DefaultCachingPolicy() *CachingPolicy {
	return &CachingPolicy{
		CacheGET:     true,
		ExcludePaths: []string{"/jobs"},
	}
}

// ShouldCache reports whether a response for method/path/status is cacheable.
func (p *CachingPolicy) ShouldCache(method, path string, status int) bool {
	switch method {
	case "GET":
		if !p.CacheGET {
			return false
		}
	case "POST":
		if !p.CachePOST {
			return false
		}
	default:
		return false
	}

	if !p.CacheErrors && (status < 200 || status >= 300) {
		return false
	}

	if len(p.IncludePaths) > 0 {
		for _, include := range p.IncludePaths {
			if strings.HasPrefix(path, include) {
				return true
			}
		}

		return false
	}

	for _, exclude := range p.ExcludePaths {
		if strings.Contains(path, exclude) {
			return false
		}
	}

	return true
}
