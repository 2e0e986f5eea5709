// Package pebble provides a grant storage backed by an embedded pebble
// key-value store. Every grant is written twice: a primary row keyed by
// uuid holding the JSON-encoded grant, and an index row keyed by the
// uniqueness tuple, which doubles as the scan target for FindMatching.
package pebble

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/gofrs/uuid/v5"

	"github.com/grantry/grantry"
)

const (
	keySep = "\x00"

	grantPrefix = "g"
	indexPrefix = "i"

	polarityAllow   = "a"
	polarityExclude = "x"
)

type PebbleStorage struct {
	// mu serializes writers so the uniqueness check and the batch commit
	// that follows act as one operation.
	mu sync.Mutex
	db *pebble.DB
}

func NewPebbleStorage(dirname string) (*PebbleStorage, error) {
	db, err := pebble.Open(dirname, &pebble.Options{})
	return &PebbleStorage{db: db}, err
}

func (s *PebbleStorage) Close() error {
	return s.db.Close()
}

func (s *PebbleStorage) Insert(_ context.Context, g grantry.Grant) (grantry.Grant, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return grantry.Grant{}, err
	}
	g.ID = id

	s.mu.Lock()
	defer s.mu.Unlock()

	taken, err := s.existsLocked(indexKey(g))
	if err != nil {
		return grantry.Grant{}, err
	}
	if taken {
		return grantry.Grant{}, grantry.ErrDuplicateGrant
	}
	if err := s.writeLocked(g, nil); err != nil {
		return grantry.Grant{}, err
	}
	return g, nil
}

func (s *PebbleStorage) Delete(_ context.Context, id uuid.UUID) (grantry.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := s.getLocked(id)
	if err != nil {
		return grantry.Grant{}, err
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Delete(grantKey(id), nil); err != nil {
		return grantry.Grant{}, storageError(err)
	}
	if err := batch.Delete(indexKey(g), nil); err != nil {
		return grantry.Grant{}, storageError(err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return grantry.Grant{}, storageError(err)
	}
	return g, nil
}

func (s *PebbleStorage) Update(_ context.Context, id uuid.UUID, u grantry.GrantUpdate) (grantry.Mutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before, err := s.getLocked(id)
	if err != nil {
		return grantry.Mutation{}, err
	}
	after := u.Apply(before)

	// The index entry moves only if the uniqueness tuple changed.
	var drop []byte
	if oldIdx, newIdx := indexKey(before), indexKey(after); !bytes.Equal(oldIdx, newIdx) {
		taken, err := s.existsLocked(newIdx)
		if err != nil {
			return grantry.Mutation{}, err
		}
		if taken {
			return grantry.Mutation{}, grantry.ErrDuplicateGrant
		}
		drop = oldIdx
	}
	if err := s.writeLocked(after, drop); err != nil {
		return grantry.Mutation{}, err
	}
	return grantry.Mutation{Before: before, After: after}, nil
}

func (s *PebbleStorage) FindMatching(_ context.Context, action, argument string) ([]grantry.Grant, error) {
	// Argument-scoped lookups additionally scan the wildcard entries of
	// the action, mirroring the OR in the SQL backends.
	prefixes := [][]byte{matchPrefix(action, argument)}
	if argument != "" {
		prefixes = append(prefixes, matchPrefix(action, ""))
	}

	grants := []grantry.Grant{}
	for _, prefix := range prefixes {
		iter, err := s.db.NewIter(prefixIterOptions(prefix))
		if err != nil {
			return nil, storageError(err)
		}
		for iter.First(); iter.Valid(); iter.Next() {
			g, err := parseIndexEntry(iter.Key(), iter.Value())
			if err != nil {
				iter.Close()
				return nil, err
			}
			grants = append(grants, g)
		}
		if err := iter.Close(); err != nil {
			return nil, storageError(err)
		}
	}
	return grants, nil
}

// writeLocked commits the grant row and its index entry in one batch,
// removing dropIndex (the superseded index entry) when given.
func (s *PebbleStorage) writeLocked(g grantry.Grant, dropIndex []byte) error {
	data, err := json.Marshal(g)
	if err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if dropIndex != nil {
		if err := batch.Delete(dropIndex, nil); err != nil {
			return storageError(err)
		}
	}
	if err := batch.Set(grantKey(g.ID), data, nil); err != nil {
		return storageError(err)
	}
	if err := batch.Set(indexKey(g), g.ID.Bytes(), nil); err != nil {
		return storageError(err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return storageError(err)
	}
	return nil
}

func (s *PebbleStorage) getLocked(id uuid.UUID) (grantry.Grant, error) {
	data, closer, err := s.db.Get(grantKey(id))
	if err == pebble.ErrNotFound {
		return grantry.Grant{}, grantry.ErrNotFound
	} else if err != nil {
		return grantry.Grant{}, storageError(err)
	}
	defer closer.Close()

	g := grantry.Grant{}
	if err := json.Unmarshal(data, &g); err != nil {
		return grantry.Grant{}, err
	}
	return g, nil
}

func (s *PebbleStorage) existsLocked(key []byte) (bool, error) {
	_, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return false, nil
	} else if err != nil {
		return false, storageError(err)
	}
	closer.Close()
	return true, nil
}

func grantKey(id uuid.UUID) []byte {
	return []byte(grantPrefix + keySep + id.String())
}

func indexKey(g grantry.Grant) []byte {
	polarity := polarityAllow
	if g.Exclude {
		polarity = polarityExclude
	}
	return []byte(strings.Join([]string{
		indexPrefix, g.Action, g.Argument, polarity, string(g.Principal.Kind), g.Principal.ID,
	}, keySep))
}

func matchPrefix(action, argument string) []byte {
	return []byte(indexPrefix + keySep + action + keySep + argument + keySep)
}

func parseIndexEntry(key, value []byte) (grantry.Grant, error) {
	parts := strings.Split(string(key), keySep)
	if len(parts) != 6 {
		return grantry.Grant{}, fmt.Errorf("malformed index key %q", key)
	}
	id, err := uuid.FromBytes(value)
	if err != nil {
		return grantry.Grant{}, err
	}
	return grantry.Grant{
		ID:       id,
		Action:   parts[1],
		Argument: parts[2],
		Exclude:  parts[3] == polarityExclude,
		Principal: grantry.Principal{
			Kind: grantry.PrincipalKind(parts[4]),
			ID:   parts[5],
		},
	}, nil
}

func keyUpperBound(b []byte) []byte {
	end := make([]byte, len(b))
	copy(end, b)
	for i := len(end) - 1; i >= 0; i-- {
		end[i] = end[i] + 1
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil // no upper-bound
}

func prefixIterOptions(prefix []byte) *pebble.IterOptions {
	return &pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	}
}

func storageError(err error) error {
	return errors.Join(grantry.ErrUnavailable, err)
}
