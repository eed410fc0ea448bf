package memutils_test

import (
	"math"
	"testing"

	"github.com/pengine/pstd/memutils"
	"github.com/stretchr/testify/require"
)

func TestDetailedStatistics(t *testing.T) {
	var first memutils.DetailedStatistics
	first.Clear()
	require.Equal(t, math.MaxInt, first.AllocationSizeMin)

	first.PoolCount = 1
	first.PoolBytes = 256
	first.AddAllocation(200)
	first.AddAllocation(40)
	first.AddUnusedRange(16)

	var second memutils.DetailedStatistics
	second.Clear()
	second.PoolCount = 1
	second.PoolBytes = 256
	second.AddAllocation(40)
	second.AddUnusedRange(216)

	var total memutils.DetailedStatistics
	total.Clear()
	total.AddDetailedStatistics(&first)
	total.AddDetailedStatistics(&second)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			PoolCount:       2,
			AllocationCount: 3,
			PoolBytes:       512,
			AllocationBytes: 280,
		},
		UnusedRangeCount:   2,
		AllocationSizeMin:  40,
		AllocationSizeMax:  200,
		UnusedRangeSizeMin: 16,
		UnusedRangeSizeMax: 216,
	}, total)
	require.Equal(t, 232, total.UnusedBytes())
}
