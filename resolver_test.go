package grantry_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grantry/grantry"
)

func TestResolutionDecide(t *testing.T) {
	for name, tc := range map[string]struct {
		grants    []grantry.Grant
		held      grantry.Needs
		permitted bool
	}{
		"no_grants_denies_by_default": {
			grants:    nil,
			held:      grantry.NewNeeds(grantry.UserNeed(7)),
			permitted: false,
		},
		"no_needs_denies": {
			grants:    []grantry.Grant{grantry.Allow("edit", "doc1", grantry.UserPrincipal(7))},
			held:      grantry.NewNeeds(),
			permitted: false,
		},
		"matching_allow_permits": {
			grants:    []grantry.Grant{grantry.Allow("edit", "doc1", grantry.UserPrincipal(7))},
			held:      grantry.NewNeeds(grantry.UserNeed(7)),
			permitted: true,
		},
		"unrelated_needs_deny": {
			grants:    []grantry.Grant{grantry.Allow("edit", "doc1", grantry.UserPrincipal(7))},
			held:      grantry.NewNeeds(grantry.UserNeed(8), grantry.RoleNeed("staff")),
			permitted: false,
		},
		"deny_wins_over_allow": {
			grants: []grantry.Grant{
				grantry.Allow("edit", "doc1", grantry.UserPrincipal(7)),
				grantry.Deny("edit", "doc1", grantry.RolePrincipal("banned")),
			},
			held:      grantry.NewNeeds(grantry.UserNeed(7), grantry.RoleNeed("banned")),
			permitted: false,
		},
		"deny_for_other_principal_is_inert": {
			grants: []grantry.Grant{
				grantry.Allow("edit", "doc1", grantry.UserPrincipal(7)),
				grantry.Deny("edit", "doc1", grantry.RolePrincipal("banned")),
			},
			held:      grantry.NewNeeds(grantry.UserNeed(7)),
			permitted: true,
		},
		"deny_alone_denies": {
			grants:    []grantry.Grant{grantry.Deny("edit", "doc1", grantry.UserPrincipal(7))},
			held:      grantry.NewNeeds(grantry.UserNeed(7)),
			permitted: false,
		},
	} {
		t.Run(name, func(t *testing.T) {
			resolution := grantry.ResolutionOf(tc.grants)
			require.Equal(t, tc.permitted, resolution.Decide(tc.held))
		})
	}
}

func TestResolutionOfPartitionsByPolarity(t *testing.T) {
	resolution := grantry.ResolutionOf([]grantry.Grant{
		grantry.Allow("edit", "doc1", grantry.UserPrincipal(7)),
		grantry.Allow("edit", "", grantry.RolePrincipal("staff")),
		grantry.Deny("edit", "doc1", grantry.RolePrincipal("banned")),
	})

	require.Len(t, resolution.Allow, 2)
	require.Len(t, resolution.Deny, 1)
	require.True(t, resolution.Allow.Has(grantry.UserNeed(7)))
	require.True(t, resolution.Allow.Has(grantry.RoleNeed("staff")))
	require.True(t, resolution.Deny.Has(grantry.RoleNeed("banned")))
}
