package grantry_test

import (
	"context"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"github.com/grantry/grantry"
	"github.com/grantry/grantry/storage/memory"
)

type registry struct {
	store    *grantry.Store
	resolver *grantry.Resolver
}

func newRegistry() registry {
	storage := memory.NewMemoryStorage()
	cache := grantry.NewCache(storage)
	return registry{
		store:    grantry.NewStore(storage, grantry.NewInvalidationTracker(cache)),
		resolver: grantry.NewResolver(cache),
	}
}

func (r registry) check(t *testing.T, action, argument string, held grantry.Needs) bool {
	t.Helper()
	permitted, err := r.resolver.Check(context.Background(), action, argument, held)
	require.NoError(t, err)
	return permitted
}

func TestStoreArgumentScopedAllow(t *testing.T) {
	ctx := context.Background()
	r := newRegistry()

	_, err := r.store.Create(ctx, grantry.Allow("edit", "doc1", grantry.UserPrincipal(7)))
	require.NoError(t, err)

	held := grantry.NewNeeds(grantry.UserNeed(7))
	require.True(t, r.check(t, "edit", "doc1", held))
	require.False(t, r.check(t, "edit", "doc2", held))
	require.False(t, r.check(t, "edit", "", held))
}

func TestStoreDenyWinsThroughWildcard(t *testing.T) {
	ctx := context.Background()
	r := newRegistry()

	_, err := r.store.Create(ctx, grantry.Allow("edit", "doc1", grantry.UserPrincipal(7)))
	require.NoError(t, err)
	_, err = r.store.Create(ctx, grantry.Deny("edit", "", grantry.RolePrincipal("banned")))
	require.NoError(t, err)

	held := grantry.NewNeeds(grantry.UserNeed(7), grantry.RoleNeed("banned"))
	require.False(t, r.check(t, "edit", "doc1", held))

	// without the banned role the allow-grant still applies
	require.True(t, r.check(t, "edit", "doc1", grantry.NewNeeds(grantry.UserNeed(7))))
}

func TestStoreCreateInvalidatesStaleKey(t *testing.T) {
	ctx := context.Background()
	r := newRegistry()
	held := grantry.NewNeeds(grantry.UserNeed(7))

	// populate the key with an empty resolution first
	require.False(t, r.check(t, "edit", "doc1", held))

	_, err := r.store.Create(ctx, grantry.Allow("edit", "doc1", grantry.UserPrincipal(7)))
	require.NoError(t, err)

	require.True(t, r.check(t, "edit", "doc1", held))
}

func TestStoreDeleteInvalidates(t *testing.T) {
	ctx := context.Background()
	r := newRegistry()
	held := grantry.NewNeeds(grantry.UserNeed(7))

	g, err := r.store.Create(ctx, grantry.Allow("edit", "doc1", grantry.UserPrincipal(7)))
	require.NoError(t, err)
	require.True(t, r.check(t, "edit", "doc1", held))

	deleted, err := r.store.Delete(ctx, g.ID)
	require.NoError(t, err)
	require.Equal(t, g, deleted)

	require.False(t, r.check(t, "edit", "doc1", held))
}

func TestStoreUpdateInvalidatesBothKeys(t *testing.T) {
	ctx := context.Background()
	r := newRegistry()
	held := grantry.NewNeeds(grantry.UserNeed(7))

	g, err := r.store.Create(ctx, grantry.Allow("edit", "doc1", grantry.UserPrincipal(7)))
	require.NoError(t, err)

	// populate both keys
	require.True(t, r.check(t, "edit", "doc1", held))
	require.False(t, r.check(t, "edit", "doc2", held))

	mutation, err := r.store.Update(ctx, g.ID, grantry.GrantUpdate{Argument: lo.ToPtr("doc2")})
	require.NoError(t, err)
	require.Equal(t, "doc1", mutation.Before.Argument)
	require.Equal(t, "doc2", mutation.After.Argument)

	require.False(t, r.check(t, "edit", "doc1", held))
	require.True(t, r.check(t, "edit", "doc2", held))
}

func TestStoreRejectsInvalidMutations(t *testing.T) {
	ctx := context.Background()
	r := newRegistry()

	_, err := r.store.Create(ctx, grantry.Allow("", "doc1", grantry.UserPrincipal(7)))
	require.ErrorIs(t, err, grantry.ErrInvalidGrant)

	g, err := r.store.Create(ctx, grantry.Allow("edit", "doc1", grantry.UserPrincipal(7)))
	require.NoError(t, err)

	_, err = r.store.Create(ctx, grantry.Allow("edit", "doc1", grantry.UserPrincipal(7)))
	require.ErrorIs(t, err, grantry.ErrDuplicateGrant)

	_, err = r.store.Update(ctx, g.ID, grantry.GrantUpdate{Action: lo.ToPtr("")})
	require.ErrorIs(t, err, grantry.ErrInvalidGrant)

	_, err = r.store.Delete(ctx, uuid.Must(uuid.NewV7()))
	require.ErrorIs(t, err, grantry.ErrNotFound)

	_, err = r.store.Update(ctx, uuid.Must(uuid.NewV7()), grantry.GrantUpdate{Argument: lo.ToPtr("doc2")})
	require.ErrorIs(t, err, grantry.ErrNotFound)
}

func TestStoreAllowAndDenySameTupleCoexist(t *testing.T) {
	ctx := context.Background()
	r := newRegistry()

	// polarity is part of the uniqueness tuple
	_, err := r.store.Create(ctx, grantry.Allow("edit", "doc1", grantry.UserPrincipal(7)))
	require.NoError(t, err)
	_, err = r.store.Create(ctx, grantry.Deny("edit", "doc1", grantry.UserPrincipal(7)))
	require.NoError(t, err)

	// and the deny side wins at decision time
	require.False(t, r.check(t, "edit", "doc1", grantry.NewNeeds(grantry.UserNeed(7))))
}
