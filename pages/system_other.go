//go:build !linux && !darwin && !windows

package pages

import (
	"os"
	"unsafe"

	cerrors "github.com/cockroachdb/errors"
	"github.com/pengine/pstd/memutils"
)

// heapMemory stands in for virtual memory on platforms without mmap or VirtualAlloc. Reservations
// are ordinary Go byte slices pinned in the reservations map, so reserved memory is always
// resident and commit only checks bounds.
type heapMemory struct {
	limits       memutils.AllocationLimits
	reservations map[uintptr][]byte
}

// System returns the operating system's virtual memory
func System() VirtualMemory {
	pageSize := os.Getpagesize()
	return &heapMemory{
		limits: memutils.AllocationLimits{
			MinAllocSize: pageSize,
			PageSize:     pageSize,
		},
		reservations: make(map[uintptr][]byte),
	}
}

func (m *heapMemory) Limits() memutils.AllocationLimits {
	return m.limits
}

func (m *heapMemory) Reserve(address uintptr, size int) (uintptr, error) {
	buffer := make([]byte, size+m.limits.PageSize)
	block := memutils.AlignAddressUp(uintptr(unsafe.Pointer(&buffer[0])), uint(m.limits.PageSize))
	m.reservations[block] = buffer
	return block, nil
}

func (m *heapMemory) owner(address uintptr, size int) []byte {
	for block, buffer := range m.reservations {
		start := uintptr(unsafe.Pointer(&buffer[0]))
		if address >= block && address+uintptr(size) <= start+uintptr(len(buffer)) {
			return buffer
		}
	}
	return nil
}

func (m *heapMemory) Commit(address uintptr, size int) error {
	if m.owner(address, size) == nil {
		return cerrors.Newf("%d bytes at %#x are not reserved", size, address)
	}
	return nil
}

func (m *heapMemory) Decommit(address uintptr, size int) error {
	if m.owner(address, size) == nil {
		return cerrors.Newf("%d bytes at %#x are not reserved", size, address)
	}
	clear(unsafe.Slice((*byte)(unsafe.Pointer(address)), size))
	return nil
}

func (m *heapMemory) Release(address uintptr, size int) error {
	if _, ok := m.reservations[address]; !ok {
		return cerrors.Newf("%#x is not a reservation", address)
	}
	delete(m.reservations, address)
	return nil
}
