package heap

import (
	"context"
	"math"

	cerrors "github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/pengine/pstd/internal/utils"
	"github.com/pengine/pstd/memutils"
	"github.com/pengine/pstd/pages"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"
)

// ErrCorruptionDetectionDisabled is returned from CheckCorruption when the module was built without
// the debug_pstd build tag
var ErrCorruptionDetectionDisabled = errors.New("corruption detection requires the debug_pstd build tag")

// liveBlock is the registry's record of an allocation it has handed out
type liveBlock struct {
	pool *memoryPool
	// size is the size requested by the caller
	size int
	// footprint is the number of bytes taken from the pool, starting at the allocation's address
	footprint int
}

// Registry is a general-purpose allocator for memory outside the Go heap. It reserves large pools
// from a pages.Provider and carves allocations out of them first-fit, committing pages only once
// an allocation touches them. Freed ranges go back into their pool's free list and are merged with
// the free ranges around them. Pools are never given back until Destroy.
//
// Registry is not thread-safe. Using it from two goroutines at once panics unless it was created
// with RegistryCreateUncheckedOwnership.
type Registry struct {
	noCopy utils.NoCopy

	logger      *slog.Logger
	provider    *pages.Provider
	owner       utils.SingleOwner
	createFlags CreateFlags

	initialPoolSize int
	minPoolSize     int

	firstPool  *memoryPool
	lastPool   *memoryPool
	poolCount  int
	nextPoolID int

	live *swiss.Map[uintptr, liveBlock]
}

var _ memutils.Validatable = &Registry{}

// Provider returns the page provider this registry reserves pools from
func (r *Registry) Provider() *pages.Provider {
	return r.provider
}

// PoolCount is the number of pools currently reserved
func (r *Registry) PoolCount() int {
	return r.poolCount
}

// Alloc returns size committed bytes aligned to alignment. alignment must be a power of two; values
// smaller than 8 are raised to 8.
//
// Running out of memory is fatal.
func (r *Registry) Alloc(size int, alignment uint) memutils.Allocation {
	r.owner.Enter("Registry::Alloc")
	defer r.owner.Exit()

	r.logger.Debug("Registry::Alloc")

	return r.alloc(size, alignment, true)
}

// AllocReserved places an allocation exactly like Alloc, but does not commit its pages. Commit
// must be called before the memory is touched.
func (r *Registry) AllocReserved(size int, alignment uint) memutils.Allocation {
	r.owner.Enter("Registry::AllocReserved")
	defer r.owner.Exit()

	r.logger.Debug("Registry::AllocReserved")

	return r.alloc(size, alignment, false)
}

func (r *Registry) alloc(size int, alignment uint, commit bool) memutils.Allocation {
	memutils.Assert(size > 0, "cannot allocate %d bytes", size)
	if alignment < minimumAlignment {
		alignment = minimumAlignment
	}
	memutils.Assert(memutils.CheckPow2(alignment, "alignment") == nil, "alignment %d is not a power of two", alignment)
	memutils.Assert(size <= math.MaxInt-int(alignment)-freelistHeaderSize-memutils.DebugMargin-int(minimumAlignment),
		"cannot allocate %d bytes aligned to %d: the request overflows", size, alignment)

	alignedSize := memutils.AlignUp(size, minimumAlignment)
	footprint := max(alignedSize+memutils.DebugMargin, freelistHeaderSize)

	if r.firstPool == nil {
		r.appendPool(r.initialPoolSize)
	}

	pool, place, found := r.findFit(footprint, alignment)
	if !found {
		pool = r.appendPool(max(footprint+int(alignment)+freelistHeaderSize, r.minPoolSize))
		place, found = pool.findFit(footprint, alignment)
		memutils.Assert(found, "a new pool of %d bytes cannot fit %d bytes aligned to %d", pool.Size(), footprint, alignment)
	}

	commitSize := 0
	if commit {
		commitSize = alignedSize + memutils.DebugMargin
	}
	footprint = pool.carve(place, commitSize)

	if memutils.DebugMargin > 0 {
		pool.commit(place.address+uintptr(alignedSize), memutils.DebugMargin)
		memutils.WriteMagicValue(place.address + uintptr(alignedSize))
	}

	r.live.Put(place.address, liveBlock{
		pool:      pool,
		size:      size,
		footprint: footprint,
	})

	memutils.DebugValidate(pool)

	return memutils.Allocation{
		Block:       place.address,
		Size:        size,
		OwnsMemory:  true,
		IsCommitted: pool.isRangeCommitted(place.address, size),
	}
}

func (r *Registry) findFit(footprint int, alignment uint) (*memoryPool, placement, bool) {
	for pool := r.firstPool; pool != nil; pool = pool.next {
		place, found := pool.findFit(footprint, alignment)
		if found {
			return pool, place, true
		}
	}

	return nil, placement{}, false
}

func (r *Registry) appendPool(size int) *memoryPool {
	pool, err := newMemoryPool(r.nextPoolID, r.provider, size)
	if err != nil {
		memutils.Fatal(err, "failed to reserve a pool of %d bytes", size)
	}
	r.nextPoolID++

	if r.lastPool == nil {
		r.firstPool = pool
	} else {
		r.lastPool.next = pool
	}
	r.lastPool = pool
	r.poolCount++

	r.logger.LogAttrs(context.Background(), slog.LevelDebug, "Registry created pool",
		slog.Int("PoolID", pool.id),
		slog.Int("Size", pool.Size()),
		slog.Int("PoolCount", r.poolCount),
	)

	return pool
}

func (r *Registry) lookup(allocation *memutils.Allocation) liveBlock {
	memutils.Assert(allocation != nil && !allocation.IsNil(), "received a nil allocation")
	memutils.Assert(allocation.OwnsMemory, "allocation at %#x does not own its memory", allocation.Block)

	record, ok := r.live.Get(allocation.Block)
	memutils.Assert(ok, "allocation at %#x was not allocated by this registry or was already freed", allocation.Block)
	memutils.Assert(allocation.Size <= record.size, "allocation at %#x claims %d bytes, but only %d were allocated", allocation.Block, allocation.Size, record.size)

	return record
}

// Commit commits every page of an allocation made by AllocReserved. Committing an allocation that is
// already committed does nothing.
func (r *Registry) Commit(allocation *memutils.Allocation) {
	r.owner.Enter("Registry::Commit")
	defer r.owner.Exit()

	r.logger.Debug("Registry::Commit")

	record := r.lookup(allocation)
	record.pool.commit(allocation.Block, memutils.AlignUp(record.size, minimumAlignment))
	allocation.IsCommitted = true
}

// Free returns an allocation to its pool and clears it. The memory is merged with any free ranges
// directly before or after it. Freeing an allocation that this registry did not hand out, or freeing
// one twice, is fatal.
func (r *Registry) Free(allocation *memutils.Allocation) {
	r.owner.Enter("Registry::Free")
	defer r.owner.Exit()

	r.logger.Debug("Registry::Free")

	record := r.lookup(allocation)
	marginAddress := allocation.Block + uintptr(memutils.AlignUp(record.size, minimumAlignment))
	memutils.Assert(memutils.ValidateMagicValue(marginAddress), "memory corruption detected after the allocation at %#x", allocation.Block)

	r.live.Delete(allocation.Block)
	record.pool.release(allocation.Block, record.footprint)

	memutils.DebugValidate(record.pool)

	*allocation = memutils.Allocation{}
}

// Destroy releases every pool. If any allocation is still live, each one is logged, nothing is
// released and an error is returned.
func (r *Registry) Destroy() error {
	r.owner.Enter("Registry::Destroy")
	defer r.owner.Exit()

	r.logger.Debug("Registry::Destroy")

	if r.live.Count() > 0 {
		r.live.Iter(func(address uintptr, record liveBlock) bool {
			r.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed allocation",
				slog.Uint64("address", uint64(address)),
				slog.Int("size", record.size),
				slog.Int("pool", record.pool.id),
			)
			return false
		})

		return errors.Errorf("%d allocations were not freed before the destruction of this registry", r.live.Count())
	}

	var err error
	for pool := r.firstPool; pool != nil; pool = pool.next {
		releaseErr := r.provider.Release(pool.allocation)
		if releaseErr != nil {
			err = cerrors.CombineErrors(err, cerrors.Wrapf(releaseErr, "failed to release pool %d", pool.id))
		}
	}

	r.firstPool = nil
	r.lastPool = nil
	r.poolCount = 0
	return err
}

// poolRange is a free range or an allocation's footprint inside a pool
type poolRange struct {
	address uintptr
	size    int
	free    bool
}

// collectRanges returns, for every pool, its free ranges and allocations in address order
func (r *Registry) collectRanges() map[*memoryPool][]poolRange {
	ranges := make(map[*memoryPool][]poolRange, r.poolCount)
	for pool := r.firstPool; pool != nil; pool = pool.next {
		poolRanges := make([]poolRange, 0, pool.allocationCount)
		pool.visitFreeRanges(func(address uintptr, size int) {
			poolRanges = append(poolRanges, poolRange{address: address, size: size, free: true})
		})
		ranges[pool] = poolRanges
	}

	r.live.Iter(func(address uintptr, record liveBlock) bool {
		ranges[record.pool] = append(ranges[record.pool], poolRange{address: address, size: record.footprint})
		return false
	})

	for _, poolRanges := range ranges {
		slices.SortFunc(poolRanges, func(a, b poolRange) int {
			switch {
			case a.address < b.address:
				return -1
			case a.address > b.address:
				return 1
			}
			return 0
		})
	}

	return ranges
}

// Validate verifies the pool chain and every pool's free list, then checks that each pool is
// covered exactly by its free ranges and live allocations
func (r *Registry) Validate() error {
	r.owner.Enter("Registry::Validate")
	defer r.owner.Exit()

	visited := 0
	liveCount := 0
	for pool := r.firstPool; pool != nil; pool = pool.next {
		visited++
		if visited > r.poolCount {
			return errors.Errorf("the pool chain has more than the %d pools the registry counts, or contains a cycle", r.poolCount)
		}
		if pool.next == nil && pool != r.lastPool {
			return errors.New("the last pool in the chain is not the registry's last pool")
		}

		err := pool.Validate()
		if err != nil {
			return err
		}
		liveCount += pool.allocationCount
	}

	if visited != r.poolCount {
		return errors.Errorf("the registry counts %d pools, but the chain contains %d", r.poolCount, visited)
	}
	if liveCount != r.live.Count() {
		return errors.Errorf("the pools count %d allocations, but the registry tracks %d", liveCount, r.live.Count())
	}

	var err error
	r.live.Iter(func(address uintptr, record liveBlock) bool {
		if !record.pool.contains(address) || address+uintptr(record.footprint) > record.pool.allocation.End() {
			err = errors.Errorf("allocation at %#x lies outside of pool %d", address, record.pool.id)
			return true
		}
		if record.footprint < record.size {
			err = errors.Errorf("allocation at %#x of %d bytes only takes %d bytes of its pool", address, record.size, record.footprint)
			return true
		}
		return false
	})
	if err != nil {
		return err
	}

	for pool, poolRanges := range r.collectRanges() {
		expected := pool.allocation.Block
		for _, current := range poolRanges {
			if current.address != expected {
				return errors.Errorf("pool %d has a gap or an overlap at %#x", pool.id, expected)
			}
			expected += uintptr(current.size)
		}
		if expected != pool.allocation.End() {
			return errors.Errorf("the ranges of pool %d end at %#x, but the pool ends at %#x", pool.id, expected, pool.allocation.End())
		}
	}

	return nil
}

// CheckCorruption verifies the debug margin after every live allocation. It returns
// ErrCorruptionDetectionDisabled unless the module is built with the debug_pstd build tag.
func (r *Registry) CheckCorruption() error {
	r.owner.Enter("Registry::CheckCorruption")
	defer r.owner.Exit()

	if memutils.DebugMargin == 0 {
		return ErrCorruptionDetectionDisabled
	}

	var err error
	r.live.Iter(func(address uintptr, record liveBlock) bool {
		marginAddress := address + uintptr(memutils.AlignUp(record.size, minimumAlignment))
		if !memutils.ValidateMagicValue(marginAddress) {
			err = errors.Errorf("memory corruption detected after the allocation at %#x", address)
			return true
		}
		return false
	})

	return err
}
