package memutils

import (
	"unsafe"
)

// Allocation is a contiguous range of bytes outside the Go heap, along with who is responsible for
// releasing it.
//
// Allocations are plain values: copying one does not copy the memory it describes. Any allocator in this
// module may produce them, and they become invalid once the matching free/release call runs or the
// arena that produced them is reset.
type Allocation struct {
	// Block is the address of the first byte of the range
	Block uintptr
	// Size is the size of the range in bytes
	Size int
	// OwnsMemory is true when the range was obtained from the system or the heap registry, and
	// must be handed back to the allocator that produced it. It is false for ranges carved out
	// of an arena.
	OwnsMemory bool
	// IsStackAllocated is true when the range lives in a buffer provided by the caller. Such
	// ranges are never released by this module.
	IsStackAllocated bool
	// IsCommitted is true when every page backing the range has been committed.
	IsCommitted bool
}

// End returns the address one past the last byte of the allocation
func (a Allocation) End() uintptr {
	return a.Block + uintptr(a.Size)
}

// IsNil returns true if the allocation does not refer to any memory
func (a Allocation) IsNil() bool {
	return a.Block == 0
}

// Pointer returns the allocation's address as an unsafe.Pointer
func (a Allocation) Pointer() unsafe.Pointer {
	return unsafe.Pointer(a.Block)
}

// Bytes returns a slice that aliases the allocation's memory. The slice is only valid for as long as
// the allocation is.
func (a Allocation) Bytes() []byte {
	if a.Block == 0 || a.Size == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(a.Block)), a.Size)
}

// Contains returns true if address lies inside the allocation
func (a Allocation) Contains(address uintptr) bool {
	return address >= a.Block && address < a.End()
}

// Truncated returns a copy of the allocation limited to its first newSize bytes
func (a Allocation) Truncated(newSize int) Allocation {
	Assert(newSize <= a.Size, "cannot truncate an allocation of %d bytes to %d bytes", a.Size, newSize)
	a.Size = newSize
	return a
}

// Zero sets every byte of the allocation to 0
func (a Allocation) Zero() {
	clear(a.Bytes())
}

// Set sets every byte of the allocation to value
func (a Allocation) Set(value byte) {
	b := a.Bytes()
	for i := range b {
		b[i] = value
	}
}

// IsAliasing returns true when the two allocations share at least one byte
func IsAliasing(a, b Allocation) bool {
	Assert(a.Block != 0 && b.Block != 0, "cannot test nil allocations for aliasing")

	if a.Block <= b.Block {
		return a.End() > b.Block
	}
	return b.End() > a.Block
}

// Coalesced merges two allocations whose byte ranges are exactly adjacent, in either order. It returns
// false, and a zero Allocation, if the two ranges do not touch.
func Coalesced(a, b Allocation) (Allocation, bool) {
	Assert(a.OwnsMemory == b.OwnsMemory, "cannot coalesce an owning allocation with a non-owning allocation")

	size := a.Size + b.Size
	switch {
	case a.End() == b.Block:
		return Allocation{
			Block:       a.Block,
			Size:        size,
			OwnsMemory:  a.OwnsMemory,
			IsCommitted: a.IsCommitted && b.IsCommitted,
		}, true
	case b.End() == a.Block:
		return Allocation{
			Block:       b.Block,
			Size:        size,
			OwnsMemory:  b.OwnsMemory,
			IsCommitted: a.IsCommitted && b.IsCommitted,
		}, true
	}

	return Allocation{}, false
}

// ShallowCopy copies min(dst.Size, src.Size) bytes from src into dst and returns the number of bytes
// copied. The ranges must not overlap; use ShallowMove for overlapping ranges.
func ShallowCopy(dst, src Allocation) int {
	Assert(dst.Block != 0 && src.Block != 0, "cannot copy to or from a nil allocation")
	Assert(!IsAliasing(dst, src), "ShallowCopy received overlapping allocations, use ShallowMove")

	return copy(dst.Bytes(), src.Bytes())
}

// ShallowMove copies min(dst.Size, src.Size) bytes from src into dst, handling overlapping ranges,
// and returns the number of bytes moved.
func ShallowMove(dst, src Allocation) int {
	Assert(dst.Block != 0 && src.Block != 0, "cannot move to or from a nil allocation")

	// copy has memmove semantics
	return copy(dst.Bytes(), src.Bytes())
}
