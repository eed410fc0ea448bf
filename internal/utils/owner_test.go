package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSingleOwner(t *testing.T) {
	var owner SingleOwner

	owner.Enter("Registry::Alloc")
	require.PanicsWithError(t, "Registry::Free was called while Registry::Alloc was in progress: this object must only be used by a single owner", func() {
		owner.Enter("Registry::Free")
	})
	owner.Exit()

	require.NotPanics(t, func() {
		owner.Enter("Registry::Free")
		owner.Exit()
	})
}

func TestSingleOwnerUnchecked(t *testing.T) {
	owner := SingleOwner{Unchecked: true}

	require.NotPanics(t, func() {
		owner.Enter("Registry::Alloc")
		owner.Enter("Registry::Free")
		owner.Exit()
	})
}

type testFlags uint32

func TestFlagStringMapping(t *testing.T) {
	mapping := NewFlagStringMapping[testFlags]()
	mapping.Register(1, "Commit")
	mapping.Register(2, "Reserve")

	require.Equal(t, "None", mapping.FlagsToString(0))
	require.Equal(t, "Commit", mapping.FlagsToString(1))
	require.Equal(t, "Commit|Reserve", mapping.FlagsToString(3))
	require.Equal(t, "Reserve|Unknown", mapping.FlagsToString(10))
}
