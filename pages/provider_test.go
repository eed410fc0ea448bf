package pages_test

import (
	"io"
	"math"
	"testing"

	"github.com/pengine/pstd/memutils"
	"github.com/pengine/pstd/pages"
	"github.com/pengine/pstd/pages/mocks"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/exp/slog"
)

var testLimits = memutils.AllocationLimits{
	MinAllocSize: 65536,
	PageSize:     4096,
}

func readyProvider(t *testing.T, ctrl *gomock.Controller) (*mocks.MockVirtualMemory, *pages.Provider) {
	memory := mocks.NewMockVirtualMemory(ctrl)
	memory.EXPECT().Limits().Return(testLimits)

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	provider, err := pages.NewProvider(logger, memory)
	require.NoError(t, err)
	require.Equal(t, testLimits, provider.Limits())

	return memory, provider
}

func TestNewProviderRejectsBadLimits(t *testing.T) {
	ctrl := gomock.NewController(t)

	memory := mocks.NewMockVirtualMemory(ctrl)
	memory.EXPECT().Limits().Return(memutils.AllocationLimits{MinAllocSize: 65536, PageSize: 3000})

	_, err := pages.NewProvider(nil, memory)
	require.ErrorIs(t, err, memutils.PowerOfTwoError)
}

func TestReserveRoundsUpToMinAllocSize(t *testing.T) {
	ctrl := gomock.NewController(t)
	memory, provider := readyProvider(t, ctrl)

	memory.EXPECT().Reserve(uintptr(0), 65536).Return(uintptr(0x100000), nil)

	allocation, err := provider.Reserve(100, 0)
	require.NoError(t, err)
	require.Equal(t, memutils.Allocation{
		Block:      0x100000,
		Size:       65536,
		OwnsMemory: true,
	}, allocation)
	require.Equal(t, 65536, provider.ReservedBytes())
	require.Equal(t, 1, provider.ReservationCount())
}

func TestReserveLargeRoundsUpToPage(t *testing.T) {
	ctrl := gomock.NewController(t)
	memory, provider := readyProvider(t, ctrl)

	memory.EXPECT().Reserve(uintptr(0), 69632).Return(uintptr(0x100000), nil)

	allocation, err := provider.Reserve(65537, 0)
	require.NoError(t, err)
	require.Equal(t, 69632, allocation.Size)
}

func TestReserveAndCommit(t *testing.T) {
	ctrl := gomock.NewController(t)
	memory, provider := readyProvider(t, ctrl)

	gomock.InOrder(
		memory.EXPECT().Reserve(uintptr(0), 65536).Return(uintptr(0x100000), nil),
		memory.EXPECT().Commit(uintptr(0x100000), 65536).Return(nil),
	)

	allocation, err := provider.Allocate(5000, pages.AllocationReserve|pages.AllocationCommit, 0)
	require.NoError(t, err)
	require.True(t, allocation.IsCommitted)
	require.Equal(t, 65536, allocation.Size)
}

func TestReserveAndCommitReleasesOnCommitFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	memory, provider := readyProvider(t, ctrl)

	commitErr := errors.New("out of memory")
	gomock.InOrder(
		memory.EXPECT().Reserve(uintptr(0), 65536).Return(uintptr(0x100000), nil),
		memory.EXPECT().Commit(uintptr(0x100000), 65536).Return(commitErr),
		memory.EXPECT().Release(uintptr(0x100000), 65536).Return(nil),
	)

	allocation, err := provider.Allocate(5000, pages.AllocationReserve|pages.AllocationCommit, 0)
	require.ErrorIs(t, err, commitErr)
	require.True(t, allocation.IsNil())
	require.Equal(t, 0, provider.ReservedBytes())
	require.Equal(t, 0, provider.ReservationCount())
}

func TestReserveFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	memory, provider := readyProvider(t, ctrl)

	reserveErr := errors.New("no address space")
	memory.EXPECT().Reserve(uintptr(0), 65536).Return(uintptr(0), reserveErr)

	_, err := provider.Reserve(10, 0)
	require.ErrorIs(t, err, reserveErr)
}

func TestAllocateRejectsOverflowingSize(t *testing.T) {
	ctrl := gomock.NewController(t)
	_, provider := readyProvider(t, ctrl)

	_, err := provider.Reserve(math.MaxInt-100, 0)
	require.Error(t, err)
	_, err = provider.Commit(math.MaxInt, 0x100000)
	require.Error(t, err)
	require.Equal(t, 0, provider.ReservationCount())
}

func TestCommitRoundsBaseAddressDown(t *testing.T) {
	ctrl := gomock.NewController(t)
	memory, provider := readyProvider(t, ctrl)

	// 100 bytes starting 4000 bytes into a page touch two pages
	memory.EXPECT().Commit(uintptr(0x100000), 8192).Return(nil)

	allocation, err := provider.Commit(100, 0x100000+4000)
	require.NoError(t, err)
	require.Equal(t, memutils.Allocation{
		Block:       0x100000,
		Size:        8192,
		OwnsMemory:  true,
		IsCommitted: true,
	}, allocation)
	require.Equal(t, 0, provider.ReservationCount())
}

func TestCommitRequiresAddress(t *testing.T) {
	ctrl := gomock.NewController(t)
	_, provider := readyProvider(t, ctrl)

	require.Panics(t, func() {
		_, _ = provider.Commit(100, 0)
	})
}

func TestAllocateRejectsFreeFlags(t *testing.T) {
	ctrl := gomock.NewController(t)
	_, provider := readyProvider(t, ctrl)

	require.Panics(t, func() {
		_, _ = provider.Allocate(100, pages.AllocationReserve|pages.AllocationRelease, 0)
	})
	require.Panics(t, func() {
		_, _ = provider.Allocate(100, 0, 0)
	})
}

func TestReleaseAndDecommit(t *testing.T) {
	ctrl := gomock.NewController(t)
	memory, provider := readyProvider(t, ctrl)

	memory.EXPECT().Reserve(uintptr(0), 65536).Return(uintptr(0x100000), nil)
	allocation, err := provider.Reserve(100, 0)
	require.NoError(t, err)

	memory.EXPECT().Decommit(uintptr(0x101000), 4096).Return(nil)
	err = provider.Decommit(memutils.Allocation{Block: 0x101000, Size: 100, OwnsMemory: true})
	require.NoError(t, err)

	memory.EXPECT().Release(uintptr(0x100000), 65536).Return(nil)
	err = provider.Release(allocation)
	require.NoError(t, err)
	require.Equal(t, 0, provider.ReservedBytes())
	require.Equal(t, 0, provider.ReservationCount())
}

func TestFreePreconditions(t *testing.T) {
	ctrl := gomock.NewController(t)
	_, provider := readyProvider(t, ctrl)

	require.Panics(t, func() {
		_ = provider.Release(memutils.Allocation{Block: 0x100000, Size: 4096})
	})
	require.Panics(t, func() {
		_ = provider.Release(memutils.Allocation{Block: 0x100010, Size: 4096, OwnsMemory: true})
	})
	require.Panics(t, func() {
		_ = provider.Free(memutils.Allocation{Block: 0x100000, Size: 4096, OwnsMemory: true}, pages.AllocationCommit)
	})
}

func TestAllocationTypeString(t *testing.T) {
	require.Equal(t, "AllocationCommit|AllocationReserve", (pages.AllocationCommit | pages.AllocationReserve).String())
	require.Equal(t, "AllocationRelease", pages.AllocationRelease.String())
}
