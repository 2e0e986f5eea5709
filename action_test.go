package grantry_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grantry/grantry"
)

func TestRegistryIsValid(t *testing.T) {
	registry := grantry.NewRegistry(
		grantry.Action{Name: "edit", Parameterized: true},
		grantry.Action{Name: "admin-access"},
	)

	require.True(t, registry.IsValid("edit", "doc1"))
	require.True(t, registry.IsValid("edit", ""))
	require.True(t, registry.IsValid("admin-access", ""))

	require.False(t, registry.IsValid("admin-access", "doc1"))
	require.False(t, registry.IsValid("delete", ""))
	require.False(t, registry.IsValid("delete", "doc1"))

	registry.Register(grantry.Action{Name: "delete", Parameterized: true})
	require.True(t, registry.IsValid("delete", "doc1"))
}
