package grantry_test

import (
	"context"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"github.com/grantry/grantry"
)

func TestChangedKeys(t *testing.T) {
	base := grantry.Allow("edit", "doc1", grantry.UserPrincipal(7))
	base.ID = uuid.Must(uuid.NewV7())

	for name, tc := range map[string]struct {
		mutate func(grantry.Grant) grantry.Grant
		keys   []string
	}{
		"nothing_changed": {
			mutate: func(g grantry.Grant) grantry.Grant { return g },
			keys:   nil,
		},
		"id_is_not_tracked": {
			mutate: func(g grantry.Grant) grantry.Grant {
				g.ID = uuid.Must(uuid.NewV7())
				return g
			},
			keys: nil,
		},
		"polarity_is_not_tracked": {
			mutate: func(g grantry.Grant) grantry.Grant {
				g.Exclude = true
				return g
			},
			keys: nil,
		},
		"argument_changed": {
			mutate: func(g grantry.Grant) grantry.Grant {
				g.Argument = "doc2"
				return g
			},
			keys: []string{"edit::doc1", "edit::doc2"},
		},
		"argument_cleared_to_wildcard": {
			mutate: func(g grantry.Grant) grantry.Grant {
				g.Argument = ""
				return g
			},
			keys: []string{"edit::doc1", "edit"},
		},
		"action_changed": {
			mutate: func(g grantry.Grant) grantry.Grant {
				g.Action = "view"
				return g
			},
			keys: []string{"edit::doc1", "view::doc1"},
		},
		"principal_changed_same_key_once": {
			mutate: func(g grantry.Grant) grantry.Grant {
				g.Principal = grantry.RolePrincipal("editors")
				return g
			},
			keys: []string{"edit::doc1"},
		},
	} {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tc.keys, grantry.ChangedKeys(base, tc.mutate(base)))
		})
	}
}

// recordingCache records evictions in order and never hits a storage.
type recordingCache struct {
	evicted []string
}

func (c *recordingCache) Get(context.Context, string, string) (grantry.Resolution, error) {
	return grantry.Resolution{}, nil
}

func (c *recordingCache) Invalidate(_ context.Context, key string) error {
	c.evicted = append(c.evicted, key)
	return nil
}

func TestTrackerEvictions(t *testing.T) {
	grant := grantry.Allow("edit", "doc1", grantry.UserPrincipal(7))
	ctx := context.Background()

	t.Run("create_evicts_one_key", func(t *testing.T) {
		cache := &recordingCache{}
		tracker := grantry.NewInvalidationTracker(cache)
		require.NoError(t, tracker.GrantCreated(ctx, grant))
		require.Equal(t, []string{"edit::doc1"}, cache.evicted)
	})

	t.Run("delete_evicts_one_key", func(t *testing.T) {
		cache := &recordingCache{}
		tracker := grantry.NewInvalidationTracker(cache)
		require.NoError(t, tracker.GrantDeleted(ctx, grantry.Deny("edit", "", grantry.RolePrincipal("banned"))))
		require.Equal(t, []string{"edit"}, cache.evicted)
	})

	t.Run("update_evicts_both_images", func(t *testing.T) {
		cache := &recordingCache{}
		tracker := grantry.NewInvalidationTracker(cache)
		after := grant
		after.Argument = "doc2"
		require.NoError(t, tracker.GrantUpdated(ctx, grantry.Mutation{Before: grant, After: after}))
		require.Equal(t, []string{"edit::doc1", "edit::doc2"}, cache.evicted)
	})

	t.Run("untracked_update_evicts_nothing", func(t *testing.T) {
		cache := &recordingCache{}
		tracker := grantry.NewInvalidationTracker(cache)
		require.NoError(t, tracker.GrantUpdated(ctx, grantry.Mutation{Before: grant, After: grant}))
		require.Empty(t, cache.evicted)
	})
}
