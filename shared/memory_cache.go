package shared

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultMemoryCacheTTL      = 10 * time.Minute // Cache items for 10 minutes
	memoryCacheCleanupInterval = 2 * time.Minute  // Cleanup every 2 minutes
	maxMemoryCacheSize         = 1000             // Maximum cache entries
)

// ErrNoLoader is returned by GetOrLoad when the cache has no loader configured.
var ErrNoLoader = errors.New("no loader configured for cache")

// CacheLoader produces the value for a key on a cache miss
type CacheLoader[V any] interface {
	Load(ctx context.Context, key string) (V, error)
}

// LoaderFunc adapts a function to CacheLoader
type LoaderFunc[V any] func(ctx context.Context, key string) (V, error)

// Load implements CacheLoader
func (f LoaderFunc[V]) Load(ctx context.Context, key string) (V, error) {
	return f(ctx, key)
}

// MemoryCacheConfig holds configuration for the memory cache
type MemoryCacheConfig[V any] struct {
	TTL             time.Duration
	CleanupInterval time.Duration
	MaxSize         int
	Loader          CacheLoader[V]
	Logger          *Logger

	// LoadTimeout bounds a single load. Zero leaves it to the loader.
	LoadTimeout time.Duration
}

// memoryCacheEntry represents a cached item with metadata
type memoryCacheEntry[V any] struct {
	data       V
	createdAt  time.Time
	expiresAt  time.Time
	lastUsedAt time.Time
	hitCount   int64
}

// inflightLoad collapses concurrent misses for the same key into one load
type inflightLoad[V any] struct {
	done chan struct{}
	data V
	err  error
}

// MemoryCache is a keyed TTL cache with LRU eviction. It is safe for
// concurrent use; each instance owns its own state.
type MemoryCache[V any] struct {
	mu       sync.RWMutex
	cache    map[string]*memoryCacheEntry[V]
	inflight map[string]*inflightLoad[V]
	loader   CacheLoader[V]
	logger   *Logger
	ttl      time.Duration
	cleanup  time.Duration
	maxSize  int
	now      func() time.Time

	loadTimeout time.Duration

	stopChan  chan struct{}
	isRunning bool
}

// NewMemoryCache creates a new memory cache
func NewMemoryCache[V any](config MemoryCacheConfig[V]) *MemoryCache[V] {
	if config.TTL == 0 {
		config.TTL = defaultMemoryCacheTTL
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = memoryCacheCleanupInterval
	}
	if config.MaxSize == 0 {
		config.MaxSize = maxMemoryCacheSize
	}
	if config.Logger == nil {
		config.Logger = NewNopLogger()
	}

	return &MemoryCache[V]{
		cache:    make(map[string]*memoryCacheEntry[V]),
		inflight: make(map[string]*inflightLoad[V]),
		loader:   config.Loader,
		logger:   config.Logger,
		ttl:      config.TTL,
		cleanup:  config.CleanupInterval,
		maxSize:  config.MaxSize,
		now:      time.Now,
		stopChan: make(chan struct{}),

		loadTimeout: config.LoadTimeout,
	}
}

// Start begins the expiry cleanup routine
func (mc *MemoryCache[V]) Start(ctx context.Context) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if mc.isRunning {
		return fmt.Errorf("memory cache is already running")
	}

	mc.logger.Info("Starting memory cache", zap.Duration("ttl", mc.ttl), zap.Int("max_size", mc.maxSize))
	mc.isRunning = true
	go mc.cleanupRoutine(ctx, time.NewTicker(mc.cleanup))
	return nil
}

// Get returns a cached, unexpired value
func (mc *MemoryCache[V]) Get(key string) (V, bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	entry, exists := mc.cache[key]
	if !exists || mc.isExpired(entry) {
		var zero V
		return zero, false
	}
	entry.hitCount++
	entry.lastUsedAt = mc.now()
	return entry.data, true
}

// GetOrLoad returns the cached value for key, loading and storing it on a miss.
// Concurrent callers missing on the same key share a single load. The load
// runs detached from every caller's context, bounded only by LoadTimeout;
// a caller whose ctx ends stops waiting without cancelling the load.
func (mc *MemoryCache[V]) GetOrLoad(ctx context.Context, key string) (V, error) {
	if data, ok := mc.Get(key); ok {
		mc.logger.Debug("Cache hit", zap.String("key", key))
		return data, nil
	}

	var zero V
	if mc.loader == nil {
		return zero, ErrNoLoader
	}

	mc.mu.Lock()
	load, ok := mc.inflight[key]
	if !ok {
		load = &inflightLoad[V]{done: make(chan struct{})}
		mc.inflight[key] = load
		mc.logger.Debug("Cache miss, loading", zap.String("key", key))
		go mc.runLoad(context.WithoutCancel(ctx), key, load)
	}
	mc.mu.Unlock()

	select {
	case <-load.done:
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	if load.err != nil {
		return zero, fmt.Errorf("failed to load data for key %s: %w", key, load.err)
	}
	return load.data, nil
}

func (mc *MemoryCache[V]) runLoad(ctx context.Context, key string, load *inflightLoad[V]) {
	if mc.loadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, mc.loadTimeout)
		defer cancel()
	}
	load.data, load.err = mc.loader.Load(ctx, key)

	mc.mu.Lock()
	delete(mc.inflight, key)
	if load.err == nil {
		mc.storeLocked(key, load.data)
	}
	mc.mu.Unlock()
	close(load.done)

	if load.err != nil {
		mc.logger.Warn("Failed to load cache entry", zap.String("key", key), zap.Error(load.err))
	}
}

// Put stores an item in the cache
func (mc *MemoryCache[V]) Put(key string, data V) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.storeLocked(key, data)
}

// Delete removes an item from the cache
func (mc *MemoryCache[V]) Delete(key string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	delete(mc.cache, key)
}

// Clear removes all items from the cache
func (mc *MemoryCache[V]) Clear() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.cache = make(map[string]*memoryCacheEntry[V])
}

// Size returns the current cache size, expired entries included
func (mc *MemoryCache[V]) Size() int {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return len(mc.cache)
}

// Shutdown stops the cleanup routine and drops all entries
func (mc *MemoryCache[V]) Shutdown() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if mc.isRunning {
		close(mc.stopChan)
		mc.isRunning = false
	}
	mc.cache = make(map[string]*memoryCacheEntry[V])
}

func (mc *MemoryCache[V]) storeLocked(key string, data V) {
	if _, exists := mc.cache[key]; !exists && len(mc.cache) >= mc.maxSize {
		mc.evictLRUEntry()
	}
	now := mc.now()
	mc.cache[key] = &memoryCacheEntry[V]{
		data:       data,
		createdAt:  now,
		expiresAt:  now.Add(mc.ttl),
		lastUsedAt: now,
	}
}

func (mc *MemoryCache[V]) isExpired(entry *memoryCacheEntry[V]) bool {
	return mc.now().After(entry.expiresAt)
}

func (mc *MemoryCache[V]) evictLRUEntry() {
	var lruKey string
	var lruTime time.Time
	isFirst := true

	for key, entry := range mc.cache {
		if isFirst || entry.lastUsedAt.Before(lruTime) {
			lruKey = key
			lruTime = entry.lastUsedAt
			isFirst = false
		}
	}

	if !isFirst {
		delete(mc.cache, lruKey)
		mc.logger.Debug("Evicted LRU entry", zap.String("key", lruKey))
	}
}

func (mc *MemoryCache[V]) cleanupRoutine(ctx context.Context, ticker *time.Ticker) {
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			mc.performCleanup()
		case <-mc.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (mc *MemoryCache[V]) performCleanup() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	removed := 0
	for key, entry := range mc.cache {
		if mc.isExpired(entry) {
			delete(mc.cache, key)
			removed++
		}
	}
	if removed > 0 {
		mc.logger.Debug("Cleaned up expired cache entries", zap.Int("count", removed))
	}
}
