// Package testsuite holds the conformance tests every grant storage
// backend has to pass. Backends run it from their own test files via
// [RunTestAll], so the semantics of inserts, updates, wildcard matching
// and cache invalidation stay identical across postgres, sqlite, pebble
// and memory.
package testsuite

import (
	"context"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"github.com/grantry/grantry"
)

// Config describes one storage backend under test.
type Config struct {
	Storage grantry.Storage
}

func RunTestAll(t *testing.T, configs map[string]Config) {
	for name, config := range configs {
		t.Run(name, func(t *testing.T) {
			RunTest(t, config.Storage)
		})
	}
}

// Action names are suffixed per call so suites can share a live backend
// without seeing each other's grants.
func uniqueAction(name string) string {
	return name + "-" + uuid.Must(uuid.NewV4()).String()
}

func RunTest(t *testing.T, storage grantry.Storage) {
	ctx := context.Background()

	t.Run("insert", func(t *testing.T) {
		action := uniqueAction("edit")
		g, err := storage.Insert(ctx, grantry.Allow(action, "doc1", grantry.UserPrincipal(7)))
		require.NoError(t, err)
		require.NotEqual(t, uuid.Nil, g.ID)
		require.Equal(t, action, g.Action)
		require.Equal(t, "doc1", g.Argument)
		require.False(t, g.Exclude)
		require.Equal(t, grantry.UserPrincipal(7), g.Principal)

		matched, err := storage.FindMatching(ctx, action, "doc1")
		require.NoError(t, err)
		require.Equal(t, []grantry.Grant{g}, matched)
	})

	t.Run("insert_duplicate", func(t *testing.T) {
		action := uniqueAction("edit")
		allow := grantry.Allow(action, "doc1", grantry.UserPrincipal(7))

		_, err := storage.Insert(ctx, allow)
		require.NoError(t, err)
		_, err = storage.Insert(ctx, allow)
		require.ErrorIs(t, err, grantry.ErrDuplicateGrant)

		// polarity, argument and principal are all part of the tuple
		_, err = storage.Insert(ctx, grantry.Deny(action, "doc1", grantry.UserPrincipal(7)))
		require.NoError(t, err)
		_, err = storage.Insert(ctx, grantry.Allow(action, "doc2", grantry.UserPrincipal(7)))
		require.NoError(t, err)
		_, err = storage.Insert(ctx, grantry.Allow(action, "doc1", grantry.UserPrincipal(8)))
		require.NoError(t, err)
		_, err = storage.Insert(ctx, grantry.Allow(action, "doc1", grantry.RolePrincipal("7")))
		require.NoError(t, err)
	})

	t.Run("find_matching", func(t *testing.T) {
		action := uniqueAction("edit")
		other := uniqueAction("view")

		wildcard, err := storage.Insert(ctx, grantry.Allow(action, "", grantry.RolePrincipal("staff")))
		require.NoError(t, err)
		forX, err := storage.Insert(ctx, grantry.Allow(action, "x", grantry.UserPrincipal(7)))
		require.NoError(t, err)
		forY, err := storage.Insert(ctx, grantry.Deny(action, "y", grantry.UserPrincipal(7)))
		require.NoError(t, err)
		_, err = storage.Insert(ctx, grantry.Allow(other, "x", grantry.UserPrincipal(7)))
		require.NoError(t, err)

		// exact-argument grants union with the wildcard grant
		matched, err := storage.FindMatching(ctx, action, "x")
		require.NoError(t, err)
		require.ElementsMatch(t, []grantry.Grant{wildcard, forX}, matched)

		matched, err = storage.FindMatching(ctx, action, "y")
		require.NoError(t, err)
		require.ElementsMatch(t, []grantry.Grant{wildcard, forY}, matched)

		// an empty argument matches wildcard grants only
		matched, err = storage.FindMatching(ctx, action, "")
		require.NoError(t, err)
		require.ElementsMatch(t, []grantry.Grant{wildcard}, matched)

		matched, err = storage.FindMatching(ctx, action, "z")
		require.NoError(t, err)
		require.ElementsMatch(t, []grantry.Grant{wildcard}, matched)

		matched, err = storage.FindMatching(ctx, uniqueAction("unknown"), "x")
		require.NoError(t, err)
		require.Empty(t, matched)
	})

	t.Run("delete", func(t *testing.T) {
		action := uniqueAction("edit")
		g, err := storage.Insert(ctx, grantry.Allow(action, "doc1", grantry.UserPrincipal(7)))
		require.NoError(t, err)

		deleted, err := storage.Delete(ctx, g.ID)
		require.NoError(t, err)
		require.Equal(t, g, deleted)

		matched, err := storage.FindMatching(ctx, action, "doc1")
		require.NoError(t, err)
		require.Empty(t, matched)

		_, err = storage.Delete(ctx, g.ID)
		require.ErrorIs(t, err, grantry.ErrNotFound)
		_, err = storage.Delete(ctx, uuid.Must(uuid.NewV7()))
		require.ErrorIs(t, err, grantry.ErrNotFound)
	})

	t.Run("update", func(t *testing.T) {
		action := uniqueAction("edit")
		moved := uniqueAction("view")
		g, err := storage.Insert(ctx, grantry.Allow(action, "x", grantry.UserPrincipal(7)))
		require.NoError(t, err)

		mutation, err := storage.Update(ctx, g.ID, grantry.GrantUpdate{
			Action:    lo.ToPtr(moved),
			Argument:  lo.ToPtr("y"),
			Principal: lo.ToPtr(grantry.RolePrincipal("editors")),
		})
		require.NoError(t, err)
		require.Equal(t, g, mutation.Before)
		require.Equal(t, g.ID, mutation.After.ID)
		require.Equal(t, moved, mutation.After.Action)
		require.Equal(t, "y", mutation.After.Argument)
		require.Equal(t, grantry.RolePrincipal("editors"), mutation.After.Principal)
		require.False(t, mutation.After.Exclude)

		matched, err := storage.FindMatching(ctx, action, "x")
		require.NoError(t, err)
		require.Empty(t, matched)
		matched, err = storage.FindMatching(ctx, moved, "y")
		require.NoError(t, err)
		require.Equal(t, []grantry.Grant{mutation.After}, matched)

		_, err = storage.Update(ctx, uuid.Must(uuid.NewV7()), grantry.GrantUpdate{Argument: lo.ToPtr("z")})
		require.ErrorIs(t, err, grantry.ErrNotFound)
	})

	t.Run("update_duplicate", func(t *testing.T) {
		action := uniqueAction("edit")
		g, err := storage.Insert(ctx, grantry.Allow(action, "x", grantry.UserPrincipal(7)))
		require.NoError(t, err)
		_, err = storage.Insert(ctx, grantry.Allow(action, "y", grantry.UserPrincipal(7)))
		require.NoError(t, err)

		_, err = storage.Update(ctx, g.ID, grantry.GrantUpdate{Argument: lo.ToPtr("y")})
		require.ErrorIs(t, err, grantry.ErrDuplicateGrant)

		// the row is untouched after the failed update
		matched, err := storage.FindMatching(ctx, action, "x")
		require.NoError(t, err)
		require.Equal(t, []grantry.Grant{g}, matched)
	})

	t.Run("resolution", func(t *testing.T) {
		cache := grantry.NewCache(storage)
		store := grantry.NewStore(storage, grantry.NewInvalidationTracker(cache))
		resolver := grantry.NewResolver(cache)

		action := uniqueAction("edit")
		_, err := store.Create(ctx, grantry.Allow(action, "doc1", grantry.UserPrincipal(7)))
		require.NoError(t, err)
		_, err = store.Create(ctx, grantry.Deny(action, "", grantry.RolePrincipal("banned")))
		require.NoError(t, err)

		permitted := func(argument string, held grantry.Needs) bool {
			ok, err := resolver.Check(ctx, action, argument, held)
			require.NoError(t, err)
			return ok
		}

		user := grantry.NewNeeds(grantry.UserNeed(7))
		banned := grantry.NewNeeds(grantry.UserNeed(7), grantry.RoleNeed("banned"))

		require.True(t, permitted("doc1", user))
		require.False(t, permitted("doc2", user))
		require.False(t, permitted("doc1", banned))
		require.False(t, permitted("", user))
		require.False(t, permitted("", grantry.NewNeeds(grantry.RoleNeed("banned"))))

		// actions without grants deny everyone
		ok, err := resolver.Check(ctx, uniqueAction("unknown"), "doc1", user)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("invalidation", func(t *testing.T) {
		cache := grantry.NewCache(storage)
		store := grantry.NewStore(storage, grantry.NewInvalidationTracker(cache))
		resolver := grantry.NewResolver(cache)

		action := uniqueAction("edit")
		held := grantry.NewNeeds(grantry.UserNeed(7))

		permitted := func(argument string) bool {
			ok, err := resolver.Check(ctx, action, argument, held)
			require.NoError(t, err)
			return ok
		}

		// cache both keys before any grant exists
		require.False(t, permitted("doc1"))
		require.False(t, permitted("doc2"))

		g, err := store.Create(ctx, grantry.Allow(action, "doc1", grantry.UserPrincipal(7)))
		require.NoError(t, err)
		require.True(t, permitted("doc1"))

		// moving the argument re-resolves both the old and the new key
		_, err = store.Update(ctx, g.ID, grantry.GrantUpdate{Argument: lo.ToPtr("doc2")})
		require.NoError(t, err)
		require.False(t, permitted("doc1"))
		require.True(t, permitted("doc2"))

		_, err = store.Delete(ctx, g.ID)
		require.NoError(t, err)
		require.False(t, permitted("doc2"))
	})
}

func RunBenchmarkAll(b *testing.B, storages map[string]grantry.Storage) {
	for name, storage := range storages {
		b.Run(name, func(b *testing.B) {
			RunBenchmark(b, storage)
		})
	}
}

func RunBenchmark(b *testing.B, storage grantry.Storage) {
	ctx := context.Background()
	cache := grantry.NewCache(storage)
	store := grantry.NewStore(storage, grantry.NewInvalidationTracker(cache))
	resolver := grantry.NewResolver(cache)

	action := uniqueAction("edit")
	_, err := store.Create(ctx, grantry.Allow(action, "doc1", grantry.UserPrincipal(7)))
	require.NoError(b, err)
	_, err = store.Create(ctx, grantry.Deny(action, "", grantry.RolePrincipal("banned")))
	require.NoError(b, err)
	held := grantry.NewNeeds(grantry.UserNeed(7))

	b.Run("check_cached", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_, err := resolver.Check(ctx, action, "doc1", held)
			require.NoError(b, err)
		}
	})
	b.Run("find_matching", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_, err := storage.FindMatching(ctx, action, "doc1")
			require.NoError(b, err)
		}
	})
}
