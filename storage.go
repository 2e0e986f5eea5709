package grantry

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
)

var (
	// ErrNotFound is returned when no grant exists under the given id.
	ErrNotFound = errors.New("grant not found")
	// ErrDuplicateGrant is returned when a mutation would duplicate the
	// (action, exclude, argument, principal) tuple of an existing grant.
	ErrDuplicateGrant = errors.New("duplicate grant")
	// ErrUnavailable marks transient backend failures. Callers may retry;
	// the concrete cause is attached with errors.Join.
	ErrUnavailable = errors.New("grant storage unavailable")
	// ErrInvalidGrant is returned for grants or updates failing validation.
	ErrInvalidGrant = errors.New("invalid grant")
)

// A GrantUpdate carries the edits applied by [Storage.Update]. Nil fields
// are left unchanged. Polarity is fixed at creation; flipping it means
// deleting the grant and creating its counterpart.
type GrantUpdate struct {
	Action    *string
	Argument  *string
	Principal *Principal
}

// Apply returns a copy of g with the edits applied.
func (u GrantUpdate) Apply(g Grant) Grant {
	if u.Action != nil {
		g.Action = *u.Action
	}
	if u.Argument != nil {
		g.Argument = *u.Argument
	}
	if u.Principal != nil {
		g.Principal = *u.Principal
	}
	return g
}

func (u GrantUpdate) Validate() error {
	if u.Action != nil && *u.Action == "" {
		return fmt.Errorf("%w: empty action", ErrInvalidGrant)
	}
	if u.Principal != nil {
		return u.Principal.validate()
	}
	return nil
}

// A Mutation is the pre- and post-image of an updated grant, as read and
// written inside the update transaction.
type Mutation struct {
	Before Grant
	After  Grant
}

// Storage persists grants. Implementations enforce the uniqueness of
// (action, exclude, argument, principal) and report violations as
// [ErrDuplicateGrant]. Mutations are serializable per uniqueness tuple:
// of two concurrent writes for the same tuple at most one succeeds.
type Storage interface {
	// Insert persists g under a fresh id and returns the stored grant.
	Insert(ctx context.Context, g Grant) (Grant, error)

	// Delete removes the grant and returns its last stored snapshot.
	// Returns [ErrNotFound] for unknown ids.
	Delete(ctx context.Context, id uuid.UUID) (Grant, error)

	// Update applies u to the stored grant and returns both images.
	Update(ctx context.Context, id uuid.UUID, u GrantUpdate) (Mutation, error)

	// FindMatching returns every grant for action whose argument equals
	// the queried argument or is the wildcard "". When argument is ""
	// only wildcard grants match.
	FindMatching(ctx context.Context, action, argument string) ([]Grant, error)

	Close() error
}
