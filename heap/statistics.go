package heap

import (
	"strconv"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pengine/pstd/memutils"
)

// AddStatistics adds the registry's pool and allocation totals to stats. Allocation bytes are
// counted as the bytes allocations take from their pools.
func (r *Registry) AddStatistics(stats *memutils.Statistics) {
	r.owner.Enter("Registry::AddStatistics")
	defer r.owner.Exit()

	for pool := r.firstPool; pool != nil; pool = pool.next {
		stats.PoolCount++
		stats.PoolBytes += pool.Size()
		stats.AllocationCount += pool.allocationCount
		stats.AllocationBytes += pool.usedBytes
		stats.CommittedBytes += pool.committedPages * pool.pageSize
	}
}

// AddDetailedStatistics adds the registry's totals to stats, along with the size of every
// allocation and free range
func (r *Registry) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	r.owner.Enter("Registry::AddDetailedStatistics")
	defer r.owner.Exit()

	r.addDetailedStatistics(stats)
}

func (r *Registry) addDetailedStatistics(stats *memutils.DetailedStatistics) {
	for pool := r.firstPool; pool != nil; pool = pool.next {
		stats.PoolCount++
		stats.PoolBytes += pool.Size()
		stats.CommittedBytes += pool.committedPages * pool.pageSize
		pool.visitFreeRanges(func(address uintptr, size int) {
			stats.AddUnusedRange(size)
		})
	}

	r.live.Iter(func(address uintptr, record liveBlock) bool {
		stats.AddAllocation(record.footprint)
		return false
	})
}

func printDetailedStatistics(json *jwriter.ObjectState, stats *memutils.DetailedStatistics) {
	json.Name("PoolCount").Int(stats.PoolCount)
	json.Name("PoolBytes").Int(stats.PoolBytes)
	json.Name("CommittedBytes").Int(stats.CommittedBytes)
	json.Name("AllocationCount").Int(stats.AllocationCount)
	json.Name("AllocationBytes").Int(stats.AllocationBytes)
	json.Name("UnusedRangeCount").Int(stats.UnusedRangeCount)

	if stats.AllocationCount > 0 {
		json.Name("AllocationSizeMin").Int(stats.AllocationSizeMin)
		json.Name("AllocationSizeMax").Int(stats.AllocationSizeMax)
	}
	if stats.UnusedRangeCount > 0 {
		json.Name("UnusedRangeSizeMin").Int(stats.UnusedRangeSizeMin)
		json.Name("UnusedRangeSizeMax").Int(stats.UnusedRangeSizeMax)
	}
}

// BuildStatsString returns a json document describing the registry. When detailedMap is true, every
// free range and allocation of every pool is listed along with its offset into the pool.
func (r *Registry) BuildStatsString(detailedMap bool) string {
	r.owner.Enter("Registry::BuildStatsString")
	defer r.owner.Exit()

	var stats memutils.DetailedStatistics
	stats.Clear()
	r.addDetailedStatistics(&stats)

	writer := jwriter.NewWriter()
	objState := writer.Object()

	totalObj := objState.Name("Total").Object()
	printDetailedStatistics(&totalObj, &stats)
	totalObj.End()

	if detailedMap {
		ranges := r.collectRanges()

		poolsObj := objState.Name("Pools").Object()
		for pool := r.firstPool; pool != nil; pool = pool.next {
			poolObj := poolsObj.Name(strconv.Itoa(pool.id)).Object()
			r.printDetailedPool(&poolObj, pool, ranges[pool])
			poolObj.End()
		}
		poolsObj.End()
	}

	objState.End()
	return string(writer.Bytes())
}

func (r *Registry) printDetailedPool(json *jwriter.ObjectState, pool *memoryPool, ranges []poolRange) {
	unusedRanges := 0
	for _, current := range ranges {
		if current.free {
			unusedRanges++
		}
	}

	json.Name("TotalBytes").Int(pool.Size())
	json.Name("UnusedBytes").Int(pool.Size() - pool.usedBytes)
	json.Name("CommittedBytes").Int(pool.committedPages * pool.pageSize)
	json.Name("Allocations").Int(pool.allocationCount)
	json.Name("UnusedRanges").Int(unusedRanges)

	arrayState := json.Name("Ranges").Array()
	defer arrayState.End()

	for _, current := range ranges {
		obj := arrayState.Object()
		obj.Name("Offset").Int(int(current.address - pool.allocation.Block))
		if current.free {
			obj.Name("Type").String("Free")
		} else {
			obj.Name("Type").String("Allocation")
		}
		obj.Name("Size").Int(current.size)
		obj.End()
	}
}
