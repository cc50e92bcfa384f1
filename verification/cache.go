package verification

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/paylinc/chainverify/types"
)

// Cache memoizes definitive verification verdicts per transaction hash.
// A cached valid verdict reflects an immutable on-chain fact; a cached
// invalid verdict is cheap to refresh once the TTL lapses. Unavailable
// outcomes are never stored. Purely a load-shedding layer: a miss just
// means re-verify.
//
// Entries are keyed by hash alone, so the verifier checks a hit against
// the query's recipient and amount before serving it.
type Cache struct {
	store *gocache.Cache
}

// NewCache creates a cache with a fixed TTL and a background sweep that
// purges expired entries every sweepInterval.
func NewCache(ttl, sweepInterval time.Duration) *Cache {
	return &Cache{store: gocache.New(ttl, sweepInterval)}
}

func (c *Cache) Get(txHash string) (*types.VerificationResult, bool) {
	if v, found := c.store.Get(txHash); found {
		return v.(*types.VerificationResult), true
	}
	return nil, false
}

func (c *Cache) Put(txHash string, result *types.VerificationResult) {
	c.store.SetDefault(txHash, result)
}

// Flush drops every entry. Used at shutdown and in tests.
func (c *Cache) Flush() {
	c.store.Flush()
}
