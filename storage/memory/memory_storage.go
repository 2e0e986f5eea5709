// Package memory provides a map-backed grant storage for tests, examples
// and single-process deployments that can afford to lose grants on
// restart.
package memory

import (
	"context"
	"sync"

	"github.com/gofrs/uuid/v5"
	"github.com/samber/lo"

	"github.com/grantry/grantry"
)

type MemoryStorage struct {
	mu     sync.RWMutex
	grants map[uuid.UUID]grantry.Grant
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{grants: map[uuid.UUID]grantry.Grant{}}
}

func (s *MemoryStorage) Close() error {
	return nil
}

func (s *MemoryStorage) Insert(_ context.Context, g grantry.Grant) (grantry.Grant, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return grantry.Grant{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conflictsLocked(g, uuid.Nil) {
		return grantry.Grant{}, grantry.ErrDuplicateGrant
	}
	g.ID = id
	s.grants[id] = g
	return g, nil
}

func (s *MemoryStorage) Delete(_ context.Context, id uuid.UUID) (grantry.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[id]
	if !ok {
		return grantry.Grant{}, grantry.ErrNotFound
	}
	delete(s.grants, id)
	return g, nil
}

func (s *MemoryStorage) Update(_ context.Context, id uuid.UUID, u grantry.GrantUpdate) (grantry.Mutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before, ok := s.grants[id]
	if !ok {
		return grantry.Mutation{}, grantry.ErrNotFound
	}
	after := u.Apply(before)
	if s.conflictsLocked(after, id) {
		return grantry.Mutation{}, grantry.ErrDuplicateGrant
	}
	s.grants[id] = after
	return grantry.Mutation{Before: before, After: after}, nil
}

func (s *MemoryStorage) FindMatching(_ context.Context, action, argument string) ([]grantry.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Filter(lo.Values(s.grants), func(g grantry.Grant, _ int) bool {
		return g.Action == action && (g.Argument == argument || g.Argument == "")
	}), nil
}

// conflictsLocked reports whether another grant already occupies g's
// uniqueness tuple. self is skipped so updates can keep their own row.
func (s *MemoryStorage) conflictsLocked(g grantry.Grant, self uuid.UUID) bool {
	for id, other := range s.grants {
		if id == self {
			continue
		}
		if other.Action == g.Action && other.Exclude == g.Exclude &&
			other.Argument == g.Argument && other.Principal == g.Principal {
			return true
		}
	}
	return false
}
