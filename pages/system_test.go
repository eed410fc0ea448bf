package pages_test

import (
	"testing"

	"github.com/pengine/pstd/pages"
	"github.com/stretchr/testify/require"
)

func TestSystemMemory(t *testing.T) {
	provider, err := pages.NewProvider(nil, pages.System())
	require.NoError(t, err)

	limits := provider.Limits()
	allocation, err := provider.Reserve(limits.PageSize*3, 0)
	require.NoError(t, err)
	require.True(t, limits.IsPageAligned(allocation.Block))
	require.GreaterOrEqual(t, allocation.Size, limits.PageSize*3)

	committed, err := provider.Commit(limits.PageSize*2, allocation.Block+uintptr(limits.PageSize))
	require.NoError(t, err)

	committed.Set(0x5A)
	b := committed.Bytes()
	require.Equal(t, byte(0x5A), b[0])
	require.Equal(t, byte(0x5A), b[len(b)-1])

	require.NoError(t, provider.Decommit(committed))
	require.NoError(t, provider.Release(allocation))
	require.Equal(t, 0, provider.ReservationCount())
}
