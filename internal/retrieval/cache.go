package retrieval

import (
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/stoa-labs/stoa/internal/knowledge"
)

// DefaultCacheTTL bounds how long a ranked result is reused before the store
// and embedder are consulted again.
const DefaultCacheTTL = 60 * time.Second

// cacheSize caps the number of (persona, query) entries held at once.
const cacheSize = 256

// resultCache memoizes full ranked chunk lists per (persona, normalized
// query). The full list is cached, not the limited slice, so a later call
// with a larger limit is still served without recomputation.
type resultCache struct {
	lru *expirable.LRU[string, []knowledge.Chunk]
}

func newResultCache(ttl time.Duration) *resultCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &resultCache{
		lru: expirable.NewLRU[string, []knowledge.Chunk](cacheSize, nil, ttl),
	}
}

// cacheKey joins the persona id with the trimmed, lowercased message text.
func cacheKey(personaID, message string) string {
	return personaID + "\x00" + strings.ToLower(strings.TrimSpace(message))
}

func (c *resultCache) get(key string) ([]knowledge.Chunk, bool) {
	return c.lru.Get(key)
}

func (c *resultCache) set(key string, ranked []knowledge.Chunk) {
	c.lru.Add(key, ranked)
}
