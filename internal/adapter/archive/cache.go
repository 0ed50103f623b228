package archive

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/finn-preprocessor/internal/observability"
)

// SharedCache is a manifest cache shared between processes, such as Redis.
type SharedCache interface {
	Get(ctx context.Context, key string) (Manifest, bool)
	Set(ctx context.Context, key string, m Manifest)
}

// CachedManifests wraps a ManifestSource with an in-memory LRU cache and an
// optional shared tier.
type CachedManifests struct {
	inner   ManifestSource
	cache   *lruCache
	shared  SharedCache
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewCachedManifests creates a cache decorator around a manifest source.
// shared may be nil.
func NewCachedManifests(inner ManifestSource, maxEntries int, shared SharedCache, logger *slog.Logger, metrics *observability.Metrics) *CachedManifests {
	return &CachedManifests{
		inner:   inner,
		cache:   newLRUCache(maxEntries),
		shared:  shared,
		logger:  logger,
		metrics: metrics,
	}
}

func manifestKey(product string, date time.Time) string {
	return product + "/" + date.Format("2006.01.02")
}

func (c *CachedManifests) Manifest(ctx context.Context, product string, date time.Time) (Manifest, error) {
	key := manifestKey(product, date)
	if m, ok := c.cache.get(key); ok {
		c.metrics.ManifestCache.WithLabelValues("hit").Inc()
		return m, nil
	}
	if c.shared != nil {
		if m, ok := c.shared.Get(ctx, key); ok {
			c.metrics.ManifestCache.WithLabelValues("shared_hit").Inc()
			c.cache.put(key, m)
			return m, nil
		}
	}
	c.metrics.ManifestCache.WithLabelValues("miss").Inc()

	m, err := c.inner.Manifest(ctx, product, date)
	if err != nil {
		return m, err
	}
	// Empty listings are not cached so a directory still being published is
	// read again next time.
	if len(m.Entries) > 0 {
		c.cache.put(key, m)
		if c.shared != nil {
			c.shared.Set(ctx, key, m)
		}
	}
	return m, nil
}

// lruCache is a simple thread-safe LRU cache for manifests.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   string
	value Manifest
	prev  *entry
	next  *entry
}

func newLRUCache(maxEntries int) *lruCache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) get(key string) (Manifest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Manifest{}, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key string, value Manifest) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
