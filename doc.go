// The grantry-package provides the building blocks of an action-based
// authorization registry: explicit allow/deny grants bind a named action,
// optionally scoped by an argument value, to a user or a role, and checks
// resolve whether a caller may perform an (action, argument) pair.
//
// Grants live in a [Storage]-implementation and are mutated through a
// [Store], which keeps the [ResolutionCache] coherent on every change:
//
//	storage := memory.NewMemoryStorage()
//	cache := grantry.NewCache(storage)
//	store := grantry.NewStore(storage, grantry.NewInvalidationTracker(cache))
//
//	// User 7 may edit doc1...
//	_, _ = store.Create(ctx, grantry.Allow("edit", "doc1", grantry.UserPrincipal(7)))
//	// ...but whoever holds the 'banned' role may edit nothing at all:
//	_, _ = store.Create(ctx, grantry.Deny("edit", "", grantry.RolePrincipal("banned")))
//
// A [Resolver] answers checks against the needs a caller holds. Matching
// deny-grants win unconditionally and actions without matching grants are
// denied by default:
//
//	resolver := grantry.NewResolver(cache)
//	// true:
//	ok, _ := resolver.Check(ctx, "edit", "doc1", grantry.NewNeeds(grantry.UserNeed(7)))
//	// false, the role's deny-grant wins:
//	ok, _ = resolver.Check(ctx, "edit", "doc1",
//		grantry.NewNeeds(grantry.UserNeed(7), grantry.RoleNeed("banned")))
//
// Besides the in-memory backend used above, storage implementations exist
// for PostgreSQL, SQLite and Pebble under storage/, and cache/redis holds
// a [ResolutionCache] shared across processes.
//
// For more examples, check the repository.
// You may find additional information in the README.
package grantry
