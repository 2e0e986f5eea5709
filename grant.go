package grantry

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"

	"github.com/gofrs/uuid/v5"
	"github.com/samber/lo"
)

// PrincipalKind enumerates the identities a grant can be bound to.
type PrincipalKind string

const (
	KindUser PrincipalKind = "user"
	KindRole PrincipalKind = "role"
)

// A Principal references exactly one identity, either a user or a role.
// Construct it with [UserPrincipal] or [RolePrincipal]; the zero value is
// invalid.
type Principal struct {
	Kind PrincipalKind `json:"kind"`
	ID   string        `json:"id"`
}

func UserPrincipal(userID int64) Principal {
	return Principal{Kind: KindUser, ID: strconv.FormatInt(userID, 10)}
}

func RolePrincipal(name string) Principal {
	return Principal{Kind: KindRole, ID: name}
}

// Need returns the capability token a caller holds when it is this principal.
func (p Principal) Need() Need {
	return Need{Kind: p.Kind, Value: p.ID}
}

// A Need is the context-free capability token a check compares against the
// grants of an action. Which needs a caller currently holds is decided by
// the identity layer, not by this package.
type Need struct {
	Kind  PrincipalKind `json:"kind"`
	Value string        `json:"value"`
}

func UserNeed(userID int64) Need {
	return Need{Kind: KindUser, Value: strconv.FormatInt(userID, 10)}
}

func RoleNeed(name string) Need {
	return Need{Kind: KindRole, Value: name}
}

// Needs is the set of capability tokens held by a caller.
type Needs map[Need]struct{}

func NewNeeds(needs ...Need) Needs {
	s := make(Needs, len(needs))
	for _, n := range needs {
		s[n] = struct{}{}
	}
	return s
}

func (s Needs) Add(n Need) {
	s[n] = struct{}{}
}

func (s Needs) Has(n Need) bool {
	_, ok := s[n]
	return ok
}

// ContainsAny reports whether the two sets intersect.
func (s Needs) ContainsAny(other Needs) bool {
	a, b := s, other
	if len(b) < len(a) {
		a, b = b, a
	}
	for n := range a {
		if _, ok := b[n]; ok {
			return true
		}
	}
	return false
}

// MarshalJSON encodes the set as an array sorted by kind, then value, so
// serialized resolutions are byte-stable.
func (s Needs) MarshalJSON() ([]byte, error) {
	needs := lo.Keys(s)
	slices.SortFunc(needs, func(a, b Need) int {
		if c := cmp.Compare(a.Kind, b.Kind); c != 0 {
			return c
		}
		return cmp.Compare(a.Value, b.Value)
	})
	return json.Marshal(needs)
}

func (s *Needs) UnmarshalJSON(data []byte) error {
	needs := []Need{}
	if err := json.Unmarshal(data, &needs); err != nil {
		return err
	}
	*s = NewNeeds(needs...)
	return nil
}

// A Grant is the persisted unit of the registry: an allow- or deny-rule
// binding an action, optionally scoped by an argument, to a principal.
// The tuple (Action, Exclude, Argument, Principal) is unique per store.
type Grant struct {
	ID uuid.UUID `json:"id"`
	// Action names the governed operation, e.g. "edit".
	Action string `json:"action"`
	// Argument narrows the action to a specific target. The empty string
	// is the wildcard: the grant applies to every argument of the action.
	Argument string `json:"argument,omitempty"`
	// Exclude flips the polarity: false allows the action, true denies it.
	Exclude   bool      `json:"exclude"`
	Principal Principal `json:"principal"`
}

// Allow builds an allow-grant for the principal. An empty argument makes
// it apply to every argument of the action.
func Allow(action, argument string, p Principal) Grant {
	return Grant{Action: action, Argument: argument, Exclude: false, Principal: p}
}

// Deny builds a deny-grant for the principal. Deny-grants win over any
// matching allow-grants during resolution.
func Deny(action, argument string, p Principal) Grant {
	return Grant{Action: action, Argument: argument, Exclude: true, Principal: p}
}

// Key returns the canonical cache key of the (action, argument) pair the
// grant applies to.
func (g Grant) Key() string {
	return Key(g.Action, g.Argument)
}

func (g Grant) Validate() error {
	if g.Action == "" {
		return fmt.Errorf("%w: empty action", ErrInvalidGrant)
	}
	return g.Principal.validate()
}

func (p Principal) validate() error {
	switch p.Kind {
	case KindUser, KindRole:
	default:
		return fmt.Errorf("%w: unknown principal kind %q", ErrInvalidGrant, p.Kind)
	}
	if p.ID == "" {
		return fmt.Errorf("%w: empty principal id", ErrInvalidGrant)
	}
	return nil
}

// Key returns the canonical cache key for an (action, argument) pair:
// the action name alone, or action and argument joined by "::".
// The format is load-bearing wherever keys are persisted or logged.
func Key(action, argument string) string {
	if argument == "" {
		return action
	}
	return action + "::" + argument
}
