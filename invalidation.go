package grantry

import "context"

// ChangedKeys compares the pre- and post-image of an updated grant and
// returns the cache keys to evict. Action, Argument and Principal are the
// tracked fields; when none of them changed the result is nil. Otherwise
// both images' keys are returned, deduplicated, regardless of which
// tracked field changed.
func ChangedKeys(before, after Grant) []string {
	if before.Action == after.Action &&
		before.Argument == after.Argument &&
		before.Principal == after.Principal {
		return nil
	}
	keys := []string{before.Key()}
	if k := after.Key(); k != keys[0] {
		keys = append(keys, k)
	}
	return keys
}

// An InvalidationTracker keeps a [ResolutionCache] coherent with grant
// mutations by evicting the keys whose matched set may have changed.
// [Store] calls it synchronously after every committed mutation, before
// the mutation is acknowledged to its caller.
type InvalidationTracker struct {
	cache ResolutionCache
}

func NewInvalidationTracker(cache ResolutionCache) *InvalidationTracker {
	return &InvalidationTracker{cache}
}

func (t *InvalidationTracker) GrantCreated(ctx context.Context, g Grant) error {
	return t.cache.Invalidate(ctx, g.Key())
}

func (t *InvalidationTracker) GrantDeleted(ctx context.Context, g Grant) error {
	return t.cache.Invalidate(ctx, g.Key())
}

// GrantUpdated evicts the keys of both images when a tracked field
// changed, and nothing otherwise.
func (t *InvalidationTracker) GrantUpdated(ctx context.Context, m Mutation) error {
	for _, key := range ChangedKeys(m.Before, m.After) {
		if err := t.cache.Invalidate(ctx, key); err != nil {
			return err
		}
	}
	return nil
}
