package retrieval

import (
	"testing"
	"time"

	"github.com/stoa-labs/stoa/internal/knowledge"
)

func TestCacheKeyNormalization(t *testing.T) {
	t.Parallel()

	base := cacheKey("marcus", "how to handle anger")
	if cacheKey("marcus", "  How To Handle ANGER  ") != base {
		t.Error("trimmed/lowercased message should map to the same key")
	}
	if cacheKey("epictetus", "how to handle anger") == base {
		t.Error("different personas must not share a key")
	}
	// The separator keeps (persona, message) pairs unambiguous.
	if cacheKey("a", "bc") == cacheKey("ab", "c") {
		t.Error("key boundary ambiguous between persona id and message")
	}
}

func TestResultCacheExpiry(t *testing.T) {
	t.Parallel()

	c := newResultCache(50 * time.Millisecond)
	key := cacheKey("marcus", "anger")
	c.set(key, []knowledge.Chunk{{ID: "m1"}})

	if got, ok := c.get(key); !ok || len(got) != 1 {
		t.Fatalf("get before expiry = (%v, %v), want hit", got, ok)
	}

	time.Sleep(120 * time.Millisecond)

	if _, ok := c.get(key); ok {
		t.Error("get after expiry hit, want miss")
	}
}

func TestResultCacheZeroTTLUsesDefault(t *testing.T) {
	t.Parallel()

	c := newResultCache(0)
	key := cacheKey("marcus", "anger")
	c.set(key, []knowledge.Chunk{{ID: "m1"}})

	if _, ok := c.get(key); !ok {
		t.Error("entry missing immediately with default TTL")
	}
}
