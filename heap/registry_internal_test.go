package heap

import (
	"io"
	"testing"

	"github.com/pengine/pstd/memutils"
	"github.com/pengine/pstd/pages"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

type freeRange struct {
	Offset int
	Size   int
}

func freeRanges(pool *memoryPool) []freeRange {
	var ranges []freeRange
	pool.visitFreeRanges(func(address uintptr, size int) {
		ranges = append(ranges, freeRange{Offset: int(address - pool.allocation.Block), Size: size})
	})
	return ranges
}

func readyTestRegistry(t *testing.T, limits memutils.AllocationLimits, poolSize int) (*pages.SimulatedMemory, *Registry) {
	if memutils.DebugMargin != 0 {
		t.Skip("pool layouts assume no debug margin")
	}

	memory, err := pages.NewSimulatedMemory(limits, 64*1024)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, memory.Close())
	})

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	provider, err := pages.NewProvider(logger, memory)
	require.NoError(t, err)

	registry, err := NewRegistry(logger, provider, CreateOptions{InitialPoolSize: poolSize})
	require.NoError(t, err)

	return memory, registry
}

var smallPages = memutils.AllocationLimits{MinAllocSize: 256, PageSize: 256}

func TestPoolSplitAndOverflow(t *testing.T) {
	_, registry := readyTestRegistry(t, smallPages, 256)
	require.Equal(t, 0, registry.PoolCount())

	a := registry.Alloc(200, 8)
	require.Equal(t, 1, registry.PoolCount())
	first := registry.firstPool
	require.Equal(t, first.allocation.Block, a.Block)
	require.Equal(t, 200, a.Size)
	require.True(t, a.OwnsMemory)
	require.True(t, a.IsCommitted)
	require.Equal(t, []freeRange{{Offset: 200, Size: 56}}, freeRanges(first))

	b := registry.Alloc(40, 8)
	require.Equal(t, 1, registry.PoolCount())
	require.Equal(t, first.allocation.Block+200, b.Block)
	require.Equal(t, []freeRange{{Offset: 240, Size: 16}}, freeRanges(first))

	c := registry.Alloc(40, 8)
	require.Equal(t, 2, registry.PoolCount())
	require.Equal(t, registry.lastPool.allocation.Block, c.Block)
	require.NoError(t, registry.Validate())

	// The freed range merges with the 16 byte range after it
	registry.Free(&b)
	require.True(t, b.IsNil())
	require.Equal(t, []freeRange{{Offset: 200, Size: 56}}, freeRanges(first))
	require.NoError(t, registry.Validate())

	registry.Free(&a)
	registry.Free(&c)
	require.Equal(t, []freeRange{{Offset: 0, Size: 256}}, freeRanges(first))
	require.Equal(t, []freeRange{{Offset: 0, Size: 256}}, freeRanges(registry.lastPool))
	require.Equal(t, 2, registry.PoolCount())
	require.NoError(t, registry.Validate())
	require.NoError(t, registry.Destroy())
}

func TestFreeCoalescesBothNeighbours(t *testing.T) {
	_, registry := readyTestRegistry(t, smallPages, 256)

	a := registry.Alloc(64, 8)
	b := registry.Alloc(64, 8)
	c := registry.Alloc(64, 8)
	d := registry.Alloc(64, 8)
	pool := registry.firstPool
	require.Equal(t, 1, registry.PoolCount())
	require.Empty(t, freeRanges(pool))

	registry.Free(&a)
	registry.Free(&c)
	// Not adjacent, so not merged
	require.Equal(t, []freeRange{{Offset: 0, Size: 64}, {Offset: 128, Size: 64}}, freeRanges(pool))

	registry.Free(&b)
	require.Equal(t, []freeRange{{Offset: 0, Size: 192}}, freeRanges(pool))

	registry.Free(&d)
	require.Equal(t, []freeRange{{Offset: 0, Size: 256}}, freeRanges(pool))
	require.NoError(t, registry.Validate())
}

func TestFreeCoalescesWithPrecedingRange(t *testing.T) {
	_, registry := readyTestRegistry(t, smallPages, 256)

	a := registry.Alloc(64, 8)
	b := registry.Alloc(64, 8)
	c := registry.Alloc(128, 8)
	pool := registry.firstPool

	registry.Free(&a)
	registry.Free(&b)
	require.Equal(t, []freeRange{{Offset: 0, Size: 128}}, freeRanges(pool))

	registry.Free(&c)
	require.Equal(t, []freeRange{{Offset: 0, Size: 256}}, freeRanges(pool))
}

func TestSmallRemainderBecomesSlack(t *testing.T) {
	_, registry := readyTestRegistry(t, smallPages, 256)

	a := registry.Alloc(248, 8)
	pool := registry.firstPool
	require.Equal(t, 248, a.Size)
	require.Empty(t, freeRanges(pool))
	require.Equal(t, 256, pool.usedBytes)
	require.NoError(t, registry.Validate())

	registry.Free(&a)
	require.Equal(t, []freeRange{{Offset: 0, Size: 256}}, freeRanges(pool))
	require.NoError(t, registry.Validate())
}

func TestAlignmentPaddingStaysFree(t *testing.T) {
	_, registry := readyTestRegistry(t, smallPages, 256)

	a := registry.Alloc(24, 8)
	pool := registry.firstPool
	base := pool.allocation.Block

	// 8 bytes of padding cannot hold a header, so the next aligned address is used
	b := registry.Alloc(8, 32)
	require.Equal(t, base+64, b.Block)
	require.Equal(t, uintptr(0), b.Block%32)
	require.Equal(t, []freeRange{{Offset: 24, Size: 40}, {Offset: 80, Size: 176}}, freeRanges(pool))
	require.NoError(t, registry.Validate())

	// The padding range is reused by a later allocation
	c := registry.Alloc(16, 8)
	require.Equal(t, base+24, c.Block)
	require.Equal(t, []freeRange{{Offset: 40, Size: 24}, {Offset: 80, Size: 176}}, freeRanges(pool))

	registry.Free(&b)
	require.Equal(t, []freeRange{{Offset: 40, Size: 216}}, freeRanges(pool))
	registry.Free(&a)
	registry.Free(&c)
	require.Equal(t, []freeRange{{Offset: 0, Size: 256}}, freeRanges(pool))
	require.NoError(t, registry.Validate())
}

func TestPagesAreCommittedLazily(t *testing.T) {
	memory, registry := readyTestRegistry(t, memutils.AllocationLimits{MinAllocSize: 4096, PageSize: 256}, 4096)

	a := registry.Alloc(8, 8)
	require.Equal(t, 4096, memory.ReservedBytes())
	require.Equal(t, 256, memory.CommittedBytes())

	b := registry.Alloc(992, 8)
	require.Equal(t, a.Block+16, b.Block)
	require.Equal(t, 1024, memory.CommittedBytes())

	c := registry.AllocReserved(2000, 8)
	require.Equal(t, b.Block+992, c.Block)
	require.False(t, c.IsCommitted)
	// Only the page holding the header of the range after c
	require.Equal(t, 1280, memory.CommittedBytes())
	require.True(t, memory.IsCommitted(c.End()))
	require.False(t, memory.IsCommitted(c.Block+256))

	registry.Commit(&c)
	require.True(t, c.IsCommitted)
	require.Equal(t, 3072, memory.CommittedBytes())
	c.Set(0xFF)

	var stats memutils.Statistics
	registry.AddStatistics(&stats)
	require.Equal(t, memutils.Statistics{
		PoolCount:       1,
		AllocationCount: 3,
		PoolBytes:       4096,
		AllocationBytes: 3008,
		CommittedBytes:  3072,
	}, stats)

	registry.Free(&a)
	registry.Free(&b)
	registry.Free(&c)
	require.NoError(t, registry.Validate())
	require.NoError(t, registry.Destroy())
	require.Equal(t, 0, memory.ReservedBytes())
}

func TestFreeingReservedAllocationCommitsHeader(t *testing.T) {
	memory, registry := readyTestRegistry(t, memutils.AllocationLimits{MinAllocSize: 4096, PageSize: 256}, 4096)

	a := registry.Alloc(8, 8)
	b := registry.AllocReserved(1024, 1024)
	require.Equal(t, a.Block+1024, b.Block)
	// Fills the padding range in front of b, the 8 remaining bytes become slack
	c := registry.Alloc(1000, 8)
	require.Equal(t, a.Block+16, c.Block)
	address := b.Block
	require.False(t, memory.IsCommitted(address))

	registry.Free(&b)
	require.True(t, memory.IsCommitted(address))
	require.Equal(t, []freeRange{{Offset: 1024, Size: 3072}}, freeRanges(registry.firstPool))
	require.NoError(t, registry.Validate())

	registry.Free(&a)
	registry.Free(&c)
	require.Equal(t, []freeRange{{Offset: 0, Size: 4096}}, freeRanges(registry.firstPool))
	require.NoError(t, registry.Validate())
}

func TestBuildStatsString(t *testing.T) {
	_, registry := readyTestRegistry(t, smallPages, 256)

	a := registry.Alloc(200, 8)
	b := registry.Alloc(40, 8)
	c := registry.Alloc(40, 8)

	require.JSONEq(t, `{
		"Total": {
			"PoolCount": 2,
			"PoolBytes": 512,
			"CommittedBytes": 512,
			"AllocationCount": 3,
			"AllocationBytes": 280,
			"UnusedRangeCount": 2,
			"AllocationSizeMin": 40,
			"AllocationSizeMax": 200,
			"UnusedRangeSizeMin": 16,
			"UnusedRangeSizeMax": 216
		},
		"Pools": {
			"0": {
				"TotalBytes": 256,
				"UnusedBytes": 16,
				"CommittedBytes": 256,
				"Allocations": 2,
				"UnusedRanges": 1,
				"Ranges": [
					{"Offset": 0, "Type": "Allocation", "Size": 200},
					{"Offset": 200, "Type": "Allocation", "Size": 40},
					{"Offset": 240, "Type": "Free", "Size": 16}
				]
			},
			"1": {
				"TotalBytes": 256,
				"UnusedBytes": 216,
				"CommittedBytes": 256,
				"Allocations": 1,
				"UnusedRanges": 1,
				"Ranges": [
					{"Offset": 0, "Type": "Allocation", "Size": 40},
					{"Offset": 40, "Type": "Free", "Size": 216}
				]
			}
		}
	}`, registry.BuildStatsString(true))

	require.JSONEq(t, `{
		"Total": {
			"PoolCount": 2,
			"PoolBytes": 512,
			"CommittedBytes": 512,
			"AllocationCount": 3,
			"AllocationBytes": 280,
			"UnusedRangeCount": 2,
			"AllocationSizeMin": 40,
			"AllocationSizeMax": 200,
			"UnusedRangeSizeMin": 16,
			"UnusedRangeSizeMax": 216
		}
	}`, registry.BuildStatsString(false))

	registry.Free(&a)
	registry.Free(&b)
	registry.Free(&c)
}

func TestValidateDetectsBrokenFreeList(t *testing.T) {
	_, registry := readyTestRegistry(t, smallPages, 256)

	a := registry.Alloc(64, 8)
	b := registry.Alloc(64, 8)
	c := registry.Alloc(64, 8)
	registry.Free(&a)
	registry.Free(&c)
	require.NoError(t, registry.Validate())

	pool := registry.firstPool
	blockAt(pool.firstFree).next = pool.firstFree
	require.Error(t, registry.Validate())

	blockAt(pool.firstFree).next = pool.allocation.Block + 128
	blockAt(pool.firstFree).size = 100
	require.Error(t, registry.Validate())

	blockAt(pool.firstFree).size = 64
	require.NoError(t, registry.Validate())
	registry.Free(&b)
}
