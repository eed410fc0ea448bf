package arena

import (
	"unsafe"

	"github.com/pengine/pstd/heap"
	"github.com/pengine/pstd/internal/utils"
	"github.com/pengine/pstd/memutils"
)

// backingAlignment is the alignment of arena memory obtained from a heap.Registry
const backingAlignment uint = 16

// Arena is a bump allocator over a single contiguous range of memory. Allocations are never freed
// individually: the whole arena is rewound with Restore or Reset instead. Nothing placed in an
// arena has its finalizers run, and types placed in an arena must not contain Go pointers.
//
// Arena is not thread-safe.
type Arena struct {
	noCopy utils.NoCopy

	allocation memutils.Allocation
	// buffer keeps caller-provided memory alive for as long as the arena is
	buffer []byte

	head cursor
}

// Marker is a position in an Arena returned from Save
type Marker struct {
	offset int
}

// New allocates an arena of size bytes from registry. The arena must be returned with Free.
func New(registry *heap.Registry, size int) *Arena {
	return FromAllocation(registry.Alloc(size, backingAlignment))
}

// FromAllocation creates an arena over an existing allocation. The arena does not take over
// releasing the allocation unless Free is called.
func FromAllocation(allocation memutils.Allocation) *Arena {
	memutils.Assert(!allocation.IsNil(), "cannot create an arena over a nil allocation")
	memutils.Assert(allocation.Size >= 0, "cannot create an arena of %d bytes", allocation.Size)

	return &Arena{allocation: allocation}
}

// FromBuffer creates an arena over caller-provided memory. The memory is never released by the
// arena. buffer must not contain Go pointers once allocations are written through the arena.
func FromBuffer(buffer []byte) *Arena {
	memutils.Assert(len(buffer) > 0, "cannot create an arena over an empty buffer")

	return &Arena{
		allocation: memutils.Allocation{
			Block:            uintptr(unsafe.Pointer(&buffer[0])),
			Size:             len(buffer),
			IsStackAllocated: true,
			IsCommitted:      true,
		},
		buffer: buffer,
	}
}

// Free hands the arena's memory back to registry and empties the arena. Arenas over caller-provided
// memory or non-owning allocations are only emptied.
func (a *Arena) Free(registry *heap.Registry) {
	if a.allocation.OwnsMemory && !a.allocation.IsStackAllocated {
		registry.Free(&a.allocation)
	}

	a.allocation = memutils.Allocation{}
	a.buffer = nil
	a.head.offset = 0
}

// Allocation returns the memory the arena allocates from
func (a *Arena) Allocation() memutils.Allocation {
	return a.allocation
}

// Alloc returns size bytes aligned to alignment, and advances the arena past them. Running out of
// space is fatal.
//
// Alloc is only bounded by the end of the arena. While a frame made with MakeFrame is in use,
// allocate through the frame instead so the allocation cannot run into the frame's scratch data.
func (a *Arena) Alloc(size int, alignment uint) memutils.Allocation {
	memutils.Assert(!a.allocation.IsNil(), "cannot allocate from a freed arena")
	checkRequest(size, alignment)

	padding := memutils.AlignmentPadding(a.allocation.Block+uintptr(a.head.offset), alignment)
	alignedOffset := a.head.offset + padding
	memutils.Assert(alignedOffset <= a.allocation.Size && size <= a.allocation.Size-alignedOffset,
		"arena of %d bytes cannot fit %d bytes at offset %d", a.allocation.Size, size, alignedOffset)

	a.head.offset = alignedOffset + size

	return memutils.Allocation{
		Block:       a.allocation.Block + uintptr(alignedOffset),
		Size:        size,
		IsCommitted: a.allocation.IsCommitted,
	}
}

func checkRequest(size int, alignment uint) {
	memutils.Assert(size > 0, "cannot allocate %d bytes", size)
	memutils.Assert(memutils.CheckPow2(alignment, "alignment") == nil, "alignment %d is not a power of two", alignment)
}

// Save returns a marker for the arena's current offset
func (a *Arena) Save() Marker {
	return Marker{offset: a.head.offset}
}

// Restore rewinds the arena to a marker returned by Save, discarding every allocation made since.
// Markers must be restored in the reverse order they were saved.
func (a *Arena) Restore(marker Marker) {
	memutils.Assert(marker.offset <= a.head.offset, "cannot restore to offset %d, the arena is only at offset %d", marker.offset, a.head.offset)
	a.head.offset = marker.offset
}

// Reset discards every allocation in the arena
func (a *Arena) Reset() {
	a.head.offset = 0
}

// Offset is the number of bytes from the start of the arena to its next free byte
func (a *Arena) Offset() int {
	return a.head.offset
}

func (a *Arena) Size() int {
	return a.allocation.Size
}

// Remaining is the number of bytes after Offset, ignoring alignment
func (a *Arena) Remaining() int {
	return a.allocation.Size - a.head.offset
}

// NextAllocAddress is the address the next allocation aligned to alignment would be placed at
func (a *Arena) NextAllocAddress(alignment uint) uintptr {
	return memutils.AlignAddressUp(a.allocation.Block+uintptr(a.head.offset), alignment)
}

// Count is the number of T-sized elements that fit in the used part of the arena
func Count[T any](a *Arena) int {
	return a.head.offset / elementSize[T]()
}

// AvailableCount is the number of T elements that could still be allocated from the arena in one
// allocation
func AvailableCount[T any](a *Arena) int {
	var zero T
	start := int(a.NextAllocAddress(uint(unsafe.Alignof(zero))) - a.allocation.Block)
	if start >= a.allocation.Size {
		return 0
	}

	return (a.allocation.Size - start) / elementSize[T]()
}

func elementSize[T any]() int {
	var zero T
	size := int(unsafe.Sizeof(zero))
	memutils.Assert(size > 0, "cannot count elements of a zero-size type")
	return size
}
