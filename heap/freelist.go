package heap

import "unsafe"

// freelistBlock is the header written in place at the start of every free range of a pool. Free
// ranges of a pool form a singly linked list in ascending address order, and no two free ranges
// are ever adjacent.
type freelistBlock struct {
	// size of the free range in bytes, header included
	size uintptr
	// address of the next free range, or 0
	next uintptr
}

const freelistHeaderSize = int(unsafe.Sizeof(freelistBlock{}))

func blockAt(address uintptr) *freelistBlock {
	return (*freelistBlock)(unsafe.Pointer(address))
}

// placement describes where an allocation will be carved out of a free range
type placement struct {
	// prev is the free range before block in the list, or 0 if block is the first
	prev uintptr
	// block is the free range the allocation is carved out of
	block uintptr
	// address is the aligned address handed to the caller
	address uintptr
	// footprint is the number of bytes taken from block, starting at address
	footprint int
}

// padding is the size of the free range left in front of the allocation
func (p placement) padding() int {
	return int(p.address - p.block)
}
