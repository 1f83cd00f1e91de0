// Package l1 implements the hot, low-latency cache tier (C3): a
// key-value store with per-entry TTL, targeting p99 < 5ms. Writes are
// last-writer-wins; there is no set-if-absent operation. Entries are never mutated in place and may
// vanish at any time without a correctness impact — L1 is a volatile
// accelerator, not a source of truth.
package l1

import (
	"container/list"
	"sync"
	"time"

	fs "github.com/aristath/featurestore/internal/fstypes"
)

type entry struct {
	key       string
	value     fs.FeatureValue
	expiresAt time.Time
	elem      *list.Element
}

// Cache is an in-memory, thread-safe, TTL + LRU bounded store. It
// plays the role of the network-accessible L1 tier described in
// spec.md §4.3; in this repo it lives in the same process, but the
// Facade only ever talks to it through the Store interface so a
// networked implementation (e.g. a Redis client) can be substituted
// without touching orchestration code.
type Cache struct {
	mu         sync.RWMutex
	items      map[string]*entry
	lru        *list.List
	maxEntries int
	clock      fs.Clock

	stopCh chan struct{}
	once   sync.Once
}

// Store is the L1 contract the Facade depends on (spec.md §4.3).
type Store interface {
	Get(keys []fs.FeatureKey) map[fs.FeatureKey]fs.FeatureValue
	Set(key fs.FeatureKey, value fs.FeatureValue, ttl time.Duration)
	Delete(key fs.FeatureKey)
	DeletePrefix(ticker, featureName string)
}

// New creates an L1 Cache bounded to maxEntries (LRU-evicted beyond
// that), using clock for expiry checks. A background janitor sweeps
// expired entries every cleanupInterval, mirroring the janitor
// goroutine pattern used for TTL caches across the retrieval pack.
func New(maxEntries int, clock fs.Clock, cleanupInterval time.Duration) *Cache {
	if maxEntries <= 0 {
		maxEntries = 100_000
	}
	c := &Cache{
		items:      make(map[string]*entry, maxEntries),
		lru:        list.New(),
		maxEntries: maxEntries,
		clock:      clock,
		stopCh:     make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go c.runJanitor(cleanupInterval)
	}
	return c
}

// Get is a batched best-effort read: a miss never implies the value
// does not exist in L2, only that L1 doesn't currently have it.
func (c *Cache) Get(keys []fs.FeatureKey) map[fs.FeatureKey]fs.FeatureValue {
	now := c.clock.Now()
	out := make(map[fs.FeatureKey]fs.FeatureValue, len(keys))

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		e, ok := c.items[k.String()]
		if !ok {
			continue
		}
		if now.After(e.expiresAt) {
			c.removeUnlocked(k.String())
			continue
		}
		c.lru.MoveToFront(e.elem)
		out[k] = e.value
	}
	return out
}

// Set writes a value with the given TTL, last-writer-wins. Writes are
// idempotent and eventual: a subsequent Get may briefly return a miss
// if it races a concurrent Set of the same key (spec.md §4.3).
func (c *Cache) Set(key fs.FeatureKey, value fs.FeatureValue, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	k := key.String()
	expiresAt := c.clock.Now().Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[k]; ok {
		e.value = value
		e.expiresAt = expiresAt
		c.lru.MoveToFront(e.elem)
		return
	}

	if c.lru.Len() >= c.maxEntries {
		c.evictOldestUnlocked()
	}

	elem := c.lru.PushFront(k)
	c.items[k] = &entry{key: k, value: value, expiresAt: expiresAt, elem: elem}
}

// Delete removes a single key.
func (c *Cache) Delete(key fs.FeatureKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeUnlocked(key.String())
}

// DeletePrefix removes every entry for a (ticker, featureName) pair
// across all as-of/version suffixes, used by invalidate() (spec.md
// §4.7).
func (c *Cache) DeletePrefix(ticker, featureName string) {
	prefix := "feature:" + ticker + ":" + featureName + ":"

	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.items {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			c.removeUnlocked(k)
		}
	}
}

// Len returns the current number of live (not necessarily unexpired)
// entries; used by tests and diagnostics.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Close stops the background janitor.
func (c *Cache) Close() {
	c.once.Do(func() { close(c.stopCh) })
}

func (c *Cache) removeUnlocked(key string) {
	e, ok := c.items[key]
	if !ok {
		return
	}
	c.lru.Remove(e.elem)
	delete(c.items, key)
}

func (c *Cache) evictOldestUnlocked() {
	back := c.lru.Back()
	if back == nil {
		return
	}
	key := back.Value.(string)
	c.removeUnlocked(key)
}

func (c *Cache) runJanitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweepExpired()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Cache) sweepExpired() {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.items {
		if now.After(e.expiresAt) {
			c.removeUnlocked(k)
		}
	}
}
