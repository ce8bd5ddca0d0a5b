package scan

import (
	"sync"
	"time"

	"github.com/urlsentry/urlsentry/internal/logger"
)

// DefaultCacheTTL is how long a decision stays valid.
const DefaultCacheTTL = 24 * time.Hour

// PersistFunc stores a decision durably. It runs on its own goroutine;
// errors are logged, never surfaced to the scan path.
type PersistFunc func(Decision) error

// Cache keeps completed decisions keyed by fingerprint with lazy TTL
// eviction. Last write wins on concurrent puts for the same fingerprint.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry
	persist PersistFunc
	now     func() time.Time // swapped in tests
	log     *logger.Logger
}

type cacheEntry struct {
	decision  Decision
	expiresAt time.Time
}

// NewCache creates a cache. A non-positive ttl falls back to
// DefaultCacheTTL; persist may be nil.
func NewCache(ttl time.Duration, persist PersistFunc) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		persist: persist,
		now:     time.Now,
		log:     logger.New("cache"),
	}
}

// Get returns the live decision for a fingerprint. An entry at or past its
// TTL is evicted on the spot and reported as a miss.
func (c *Cache) Get(fingerprint string) (Decision, bool) {
	c.mu.RLock()
	entry, ok := c.entries[fingerprint]
	c.mu.RUnlock()
	if !ok {
		return Decision{}, false
	}
	if !c.now().Before(entry.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; a fresh Put may have raced in.
		if cur, ok := c.entries[fingerprint]; ok && !c.now().Before(cur.expiresAt) {
			delete(c.entries, fingerprint)
		}
		c.mu.Unlock()
		return Decision{}, false
	}
	return entry.decision, true
}

// Put stores a decision and schedules the best-effort persist.
func (c *Cache) Put(decision Decision) {
	c.mu.Lock()
	c.entries[decision.Fingerprint] = cacheEntry{
		decision:  decision,
		expiresAt: c.now().Add(c.ttl),
	}
	c.mu.Unlock()

	if c.persist != nil {
		go func() {
			if err := c.persist(decision); err != nil {
				c.log.Warn("persisting decision %s: %v", decision.Fingerprint, err)
			}
		}()
	}
}

// Invalidate drops a fingerprint, reporting whether it was present.
func (c *Cache) Invalidate(fingerprint string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[fingerprint]
	delete(c.entries, fingerprint)
	return ok
}

// Clear drops everything.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

// Len counts entries, expired ones included until their next lookup.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
