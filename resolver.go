package grantry

import "context"

// A Resolution is the derived projection of every grant matching one
// (action, argument) pair, partitioned by polarity into the needs the
// grants bind. It is what the [ResolutionCache] stores; grants themselves
// stay owned by the [Storage].
type Resolution struct {
	Allow Needs `json:"allow"`
	Deny  Needs `json:"deny"`
}

// ResolutionOf partitions grants into allowed and denied needs.
func ResolutionOf(grants []Grant) Resolution {
	r := Resolution{Allow: Needs{}, Deny: Needs{}}
	for _, g := range grants {
		if g.Exclude {
			r.Deny.Add(g.Principal.Need())
		} else {
			r.Allow.Add(g.Principal.Need())
		}
	}
	return r
}

// Decide reports whether a caller holding the given needs is permitted.
// A held need matched by a deny-grant denies unconditionally, then a held
// need matched by an allow-grant permits, anything else is denied.
// The deny-before-allow order must not change.
func (r Resolution) Decide(held Needs) bool {
	if held.ContainsAny(r.Deny) {
		return false
	}
	return held.ContainsAny(r.Allow)
}

// A Resolver answers permission checks from cached resolutions.
type Resolver struct {
	cache ResolutionCache
}

func NewResolver(cache ResolutionCache) *Resolver {
	return &Resolver{cache}
}

// Check reports whether a caller holding the given needs may perform the
// action with the given argument. An action without matching grants is
// denied. Storage errors propagate unchanged so callers can tell
// "no grants" from "store failure".
func (r *Resolver) Check(ctx context.Context, action, argument string, held Needs) (bool, error) {
	resolution, err := r.cache.Get(ctx, action, argument)
	if err != nil {
		return false, err
	}
	return resolution.Decide(held), nil
}
