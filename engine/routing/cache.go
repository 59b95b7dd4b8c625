package routing

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/openassist/actionflow/engine/cache"
	"github.com/openassist/actionflow/engine/catalog"
)

// cachedRoute is the persisted part of a routing decision. Extracted
// parameters are recomputed on each hit; only the expensive match outcome is
// cached.
type cachedRoute struct {
	ActionID   string
	Confidence float64
	MatchType  catalog.MatchType
	Keyword    string
	Band       Band
	Source     string
}

// DecisionCache provides LRU caching for routing decisions, keyed by a hash
// of the input text. It avoids repeating the semantic-match call for common
// queries.
type DecisionCache struct {
	lru        *cache.LRU[string, cachedRoute]
	hits       int64
	misses     int64
	countersMu sync.Mutex
}

// CacheConfig configures the decision cache.
type CacheConfig struct {
	Capacity int           // maximum entries (default 500)
	TTL      time.Duration // entry lifetime (default 5 minutes)
}

// NewDecisionCache creates a decision cache.
func NewDecisionCache(cfg CacheConfig) *DecisionCache {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 500
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	return &DecisionCache{
		lru: cache.NewLRU[string, cachedRoute](cfg.Capacity, cfg.TTL),
	}
}

func (c *DecisionCache) get(input string) (cachedRoute, bool) {
	r, ok := c.lru.Get(hashKey(input))
	c.countersMu.Lock()
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	c.countersMu.Unlock()
	return r, ok
}

func (c *DecisionCache) put(input string, r cachedRoute) {
	c.lru.Set(hashKey(input), r, 0)
}

// Invalidate removes the cached decision for an input.
func (c *DecisionCache) Invalidate(input string) {
	c.lru.Remove(hashKey(input))
}

// Clear drops all cached decisions.
func (c *DecisionCache) Clear() {
	c.lru.Clear()
}

// HitRate returns hits, misses and the hit ratio since creation.
func (c *DecisionCache) HitRate() (hits, misses int64, rate float64) {
	c.countersMu.Lock()
	defer c.countersMu.Unlock()
	total := c.hits + c.misses
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return c.hits, c.misses, rate
}

// hashKey builds a stable short key from the input text.
func hashKey(input string) string {
	sum := sha256.Sum256([]byte(input))
	return "route:" + hex.EncodeToString(sum[:8])
}
