package templates

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a loaded catalog is served before reloading.
const DefaultTTL = 5 * time.Minute

// LoadFunc produces a fresh catalog.
type LoadFunc func(ctx context.Context) (*Catalog, error)

// Cache holds the last loaded catalog and the time it was loaded.
// Concurrent reloads collapse into one call to the LoadFunc.
type Cache struct {
	load   LoadFunc
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu         sync.RWMutex
	value      *Catalog
	loadedAt   time.Time
	generation uint64

	group singleflight.Group
	loads atomic.Int64
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithTTL overrides DefaultTTL. Non-positive values disable caching.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) {
		c.ttl = ttl
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		c.now = now
	}
}

// WithCacheLogger sets the logger.
func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(c *Cache) {
		c.logger = logger
	}
}

// NewCache creates an empty cache around load.
func NewCache(load LoadFunc, opts ...CacheOption) *Cache {
	c := &Cache{
		load:   load,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached catalog, reloading it once it is older than the TTL
// or after Invalidate. When a reload fails and a previous catalog exists,
// the stale catalog is served. Cancelling ctx abandons the wait but not the
// load, so concurrent callers still receive its result.
func (c *Cache) Get(ctx context.Context) (*Catalog, error) {
	c.mu.RLock()
	value, fresh := c.value, c.fresh()
	c.mu.RUnlock()
	if value != nil && fresh {
		return value, nil
	}

	// The load outlives any single caller; each caller still stops waiting on
	// its own cancellation.
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan("catalog", func() (any, error) {
		c.mu.RLock()
		gen := c.generation
		c.mu.RUnlock()

		c.loads.Add(1)
		catalog, err := c.load(loadCtx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.value = catalog
		if c.generation == gen {
			c.loadedAt = c.now()
		} else {
			// Invalidated mid-load: serve it but reload on the next Get.
			c.loadedAt = time.Time{}
		}
		c.mu.Unlock()
		return catalog, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		if value != nil {
			return value, nil
		}
		return nil, ctx.Err()
	}
	if res.Err != nil {
		if value != nil {
			c.logger.Warn("Template reload failed, serving cached templates", "error", res.Err)
			return value, nil
		}
		return nil, res.Err
	}
	return res.Val.(*Catalog), nil
}

// fresh reports whether the cached value is within the TTL. Callers hold c.mu.
func (c *Cache) fresh() bool {
	if c.loadedAt.IsZero() || c.ttl <= 0 {
		return false
	}
	return c.now().Sub(c.loadedAt) < c.ttl
}

// Invalidate forces the next Get to reload.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadedAt = time.Time{}
	c.generation++
}

// LoadedAt returns when the current catalog was loaded; zero when expired
// by Invalidate or never loaded.
func (c *Cache) LoadedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loadedAt
}

// Loads returns how many times the LoadFunc has been called.
func (c *Cache) Loads() int64 {
	return c.loads.Load()
}
