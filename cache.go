package grantry

import (
	"context"
	"sync"
)

// A ResolutionCache is a read-through cache of [Resolution] values keyed
// by the canonical action key (see [Key]). Get computes missing entries
// from storage; Invalidate unconditionally drops an entry, absent keys
// included. Entries carry no TTL: coherence depends entirely on the
// [InvalidationTracker] observing every mutation.
//
// When an Invalidate races an in-flight populate for the same key, the
// invalidation wins: the end state is either absent or recomputed after
// the invalidation, never a value read strictly before it.
type ResolutionCache interface {
	Get(ctx context.Context, action, argument string) (Resolution, error)
	Invalidate(ctx context.Context, key string) error
}

// Cache is the in-process [ResolutionCache]. Construct one per process at
// startup and hand it to every component needing it.
//
// A per-key generation counter implements invalidation-wins: a populate
// snapshots the generation before querying storage and discards its write
// if the generation moved in the meantime. The populating caller still
// receives the value it computed.
type Cache struct {
	storage Storage

	mu      sync.Mutex
	entries map[string]Resolution
	gens    map[string]uint64
}

func NewCache(storage Storage) *Cache {
	return &Cache{
		storage: storage,
		entries: map[string]Resolution{},
		gens:    map[string]uint64{},
	}
}

// Get returns the resolution for (action, argument), computing and caching
// it from storage on a miss. Failed storage lookups leave the cache
// untouched and propagate unchanged.
func (c *Cache) Get(ctx context.Context, action, argument string) (Resolution, error) {
	key := Key(action, argument)

	c.mu.Lock()
	if resolution, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return resolution, nil
	}
	gen := c.gens[key]
	c.mu.Unlock()

	grants, err := c.storage.FindMatching(ctx, action, argument)
	if err != nil {
		return Resolution{}, err
	}
	resolution := ResolutionOf(grants)

	c.mu.Lock()
	if c.gens[key] == gen {
		c.entries[key] = resolution
	}
	c.mu.Unlock()
	return resolution, nil
}

// Invalidate drops the entry for key. Absent keys still have their
// generation bumped so that in-flight populates are discarded.
func (c *Cache) Invalidate(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.gens[key]++
	c.mu.Unlock()
	return nil
}
