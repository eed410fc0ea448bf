package memutils

import "math"

// Statistics summarizes the memory held by an allocator: how many pools (or arenas) it owns, how
// many bytes they span, and how much of that is handed out to callers.
type Statistics struct {
	PoolCount       int
	AllocationCount int
	PoolBytes       int
	AllocationBytes int
	CommittedBytes  int
}

func (s *Statistics) Clear() {
	s.PoolCount = 0
	s.AllocationCount = 0
	s.PoolBytes = 0
	s.AllocationBytes = 0
	s.CommittedBytes = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.PoolCount += other.PoolCount
	s.AllocationCount += other.AllocationCount
	s.PoolBytes += other.PoolBytes
	s.AllocationBytes += other.AllocationBytes
	s.CommittedBytes += other.CommittedBytes
}

// UnusedBytes is the number of bytes in pools that are not handed out
func (s *Statistics) UnusedBytes() int {
	return s.PoolBytes - s.AllocationBytes
}

type DetailedStatistics struct {
	Statistics
	UnusedRangeCount   int
	AllocationSizeMin  int
	AllocationSizeMax  int
	UnusedRangeSizeMin int
	UnusedRangeSizeMax int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.UnusedRangeCount = 0
	s.AllocationSizeMin = math.MaxInt
	s.AllocationSizeMax = 0
	s.UnusedRangeSizeMin = math.MaxInt
	s.UnusedRangeSizeMax = 0
}

func (s *DetailedStatistics) AddUnusedRange(size int) {
	s.UnusedRangeCount++
	s.UnusedRangeSizeMin = min(s.UnusedRangeSizeMin, size)
	s.UnusedRangeSizeMax = max(s.UnusedRangeSizeMax, size)
}

func (s *DetailedStatistics) AddAllocation(size int) {
	s.AllocationCount++
	s.AllocationBytes += size
	s.AllocationSizeMin = min(s.AllocationSizeMin, size)
	s.AllocationSizeMax = max(s.AllocationSizeMax, size)
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.UnusedRangeCount += other.UnusedRangeCount
	s.UnusedRangeSizeMin = min(s.UnusedRangeSizeMin, other.UnusedRangeSizeMin)
	s.UnusedRangeSizeMax = max(s.UnusedRangeSizeMax, other.UnusedRangeSizeMax)
	s.AllocationSizeMin = min(s.AllocationSizeMin, other.AllocationSizeMin)
	s.AllocationSizeMax = max(s.AllocationSizeMax, other.AllocationSizeMax)
}
