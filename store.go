package grantry

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"
)

// A Store is the mutation front of the registry. It validates grants,
// delegates persistence to a [Storage] backend and notifies the
// [InvalidationTracker] once the backend committed, so every eviction is
// visible before the mutation is acknowledged. Administrative surfaces
// must mutate through a Store, never through the backend directly,
// otherwise the tracker misses the change and the cache goes stale.
type Store struct {
	storage Storage
	tracker *InvalidationTracker
}

func NewStore(storage Storage, tracker *InvalidationTracker) *Store {
	return &Store{storage, tracker}
}

// Create persists a new grant and evicts its action key.
func (s *Store) Create(ctx context.Context, g Grant) (Grant, error) {
	if err := g.Validate(); err != nil {
		return Grant{}, err
	}
	created, err := s.storage.Insert(ctx, g)
	if err != nil {
		return Grant{}, err
	}
	if err := s.tracker.GrantCreated(ctx, created); err != nil {
		return created, fmt.Errorf("grant %s created, cache invalidation failed: %w", created.ID, err)
	}
	return created, nil
}

// Delete removes a grant and evicts its action key. The returned snapshot
// is the grant as last stored.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) (Grant, error) {
	deleted, err := s.storage.Delete(ctx, id)
	if err != nil {
		return Grant{}, err
	}
	if err := s.tracker.GrantDeleted(ctx, deleted); err != nil {
		return deleted, fmt.Errorf("grant %s deleted, cache invalidation failed: %w", deleted.ID, err)
	}
	return deleted, nil
}

// Update edits a grant in place and evicts the action keys of both
// images when a tracked field changed.
func (s *Store) Update(ctx context.Context, id uuid.UUID, u GrantUpdate) (Mutation, error) {
	if err := u.Validate(); err != nil {
		return Mutation{}, err
	}
	mutation, err := s.storage.Update(ctx, id, u)
	if err != nil {
		return Mutation{}, err
	}
	if err := s.tracker.GrantUpdated(ctx, mutation); err != nil {
		return mutation, fmt.Errorf("grant %s updated, cache invalidation failed: %w", id, err)
	}
	return mutation, nil
}

// FindMatching queries the backend directly, bypassing the cache.
func (s *Store) FindMatching(ctx context.Context, action, argument string) ([]Grant, error) {
	return s.storage.FindMatching(ctx, action, argument)
}
