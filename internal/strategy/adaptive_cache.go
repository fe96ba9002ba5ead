package strategy

import (
	"sync"
	"time"
)

// scoreCacheEntry records everything needed to decide whether a cached
// score is still valid: the score itself, when it was computed, and
// the metrics/connection versions that were current at that time
// (spec.md §4.3 "Caching contract").
type scoreCacheEntry struct {
	score          float64
	computedAt     time.Time
	metricsVersion uint64
	connVersion    uint64
}

// scoreCache is the adaptive strategy's internally synchronized,
// bounded-by-backend-count map. Its validity is defined by versioned
// invalidation, not by locking out readers (design notes §9).
type scoreCache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[uint8]scoreCacheEntry
}

func newScoreCache(ttl time.Duration) *scoreCache {
	return &scoreCache{ttl: ttl, entries: make(map[uint8]scoreCacheEntry)}
}

// get returns the cached score for id if it is still valid: age <= ttl
// and both versions match the current ones.
func (c *scoreCache) get(id uint8, now time.Time, metricsVersion, connVersion uint64) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return 0, false
	}
	if now.Sub(e.computedAt) > c.ttl {
		return 0, false
	}
	if e.metricsVersion != metricsVersion || e.connVersion != connVersion {
		return 0, false
	}
	return e.score, true
}

func (c *scoreCache) put(id uint8, score float64, now time.Time, metricsVersion, connVersion uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = scoreCacheEntry{
		score:          score,
		computedAt:     now,
		metricsVersion: metricsVersion,
		connVersion:    connVersion,
	}
}
