//go:build linux || darwin

package pages

import (
	"unsafe"

	cerrors "github.com/cockroachdb/errors"
	"github.com/pengine/pstd/memutils"
	"golang.org/x/sys/unix"
)

type unixMemory struct {
	limits memutils.AllocationLimits
}

// System returns the operating system's virtual memory
func System() VirtualMemory {
	pageSize := unix.Getpagesize()
	return &unixMemory{
		limits: memutils.AllocationLimits{
			MinAllocSize: pageSize,
			PageSize:     pageSize,
		},
	}
}

func (m *unixMemory) Limits() memutils.AllocationLimits {
	return m.limits
}

func (m *unixMemory) Reserve(address uintptr, size int) (uintptr, error) {
	ptr, err := unix.MmapPtr(-1, 0, unsafe.Pointer(address), uintptr(size), unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return 0, cerrors.Wrap(err, "mmap")
	}

	return uintptr(ptr), nil
}

func (m *unixMemory) Commit(address uintptr, size int) error {
	err := unix.Mprotect(pageSlice(address, size), unix.PROT_READ|unix.PROT_WRITE)
	if err != nil {
		return cerrors.Wrap(err, "mprotect")
	}
	return nil
}

func (m *unixMemory) Decommit(address uintptr, size int) error {
	b := pageSlice(address, size)

	err := unix.Madvise(b, unix.MADV_DONTNEED)
	if err != nil {
		return cerrors.Wrap(err, "madvise")
	}

	err = unix.Mprotect(b, unix.PROT_NONE)
	if err != nil {
		return cerrors.Wrap(err, "mprotect")
	}
	return nil
}

func (m *unixMemory) Release(address uintptr, size int) error {
	err := unix.MunmapPtr(unsafe.Pointer(address), uintptr(size))
	if err != nil {
		return cerrors.Wrap(err, "munmap")
	}
	return nil
}

func pageSlice(address uintptr, size int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(address)), size)
}
