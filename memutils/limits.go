package memutils

import cerrors "github.com/cockroachdb/errors"

// AllocationLimits describes the granularity at which the operating system hands out memory.
type AllocationLimits struct {
	// MinAllocSize is the smallest reservation the system will make. Reservations are always
	// rounded up to at least this many bytes.
	MinAllocSize int
	// PageSize is the size in bytes of a single page. Commit and decommit operate on whole pages.
	PageSize int
}

// Validate returns an error if either limit is not a power of two, or if MinAllocSize is smaller
// than PageSize
func (l AllocationLimits) Validate() error {
	err := CheckPow2(l.PageSize, "page size")
	if err != nil {
		return err
	}
	err = CheckPow2(l.MinAllocSize, "minimum allocation size")
	if err != nil {
		return err
	}
	if l.MinAllocSize < l.PageSize {
		return cerrors.Newf("minimum allocation size %d is smaller than the page size %d", l.MinAllocSize, l.PageSize)
	}
	return nil
}

func (l AllocationLimits) RoundUpToPage(size int) int {
	return AlignUp(size, uint(l.PageSize))
}

func (l AllocationLimits) RoundDownToPage(size int) int {
	return AlignDown(size, uint(l.PageSize))
}

// RoundUpReservation rounds size up to the page boundary, and then up to MinAllocSize if the result
// is smaller than that.
func (l AllocationLimits) RoundUpReservation(size int) int {
	size = l.RoundUpToPage(size)
	if size < l.MinAllocSize {
		size = l.MinAllocSize
	}
	return size
}

// PageAddress returns the address of the page containing address
func (l AllocationLimits) PageAddress(address uintptr) uintptr {
	return AlignAddressDown(address, uint(l.PageSize))
}

// IsPageAligned returns true if address lies on a page boundary
func (l AllocationLimits) IsPageAligned(address uintptr) bool {
	return address%uintptr(l.PageSize) == 0
}
