//go:build windows

package pages

import (
	"os"

	cerrors "github.com/cockroachdb/errors"
	"github.com/pengine/pstd/memutils"
	"golang.org/x/sys/windows"
)

const windowsAllocationGranularity = 64 * 1024

type windowsMemory struct {
	limits memutils.AllocationLimits
}

// System returns the operating system's virtual memory
func System() VirtualMemory {
	return &windowsMemory{
		limits: memutils.AllocationLimits{
			MinAllocSize: windowsAllocationGranularity,
			PageSize:     os.Getpagesize(),
		},
	}
}

func (m *windowsMemory) Limits() memutils.AllocationLimits {
	return m.limits
}

func (m *windowsMemory) Reserve(address uintptr, size int) (uintptr, error) {
	block, err := windows.VirtualAlloc(address, uintptr(size), windows.MEM_RESERVE, windows.PAGE_NOACCESS)
	if err != nil && address != 0 {
		// The requested range is in use, let the system pick one
		block, err = windows.VirtualAlloc(0, uintptr(size), windows.MEM_RESERVE, windows.PAGE_NOACCESS)
	}
	if err != nil {
		return 0, cerrors.Wrap(err, "VirtualAlloc")
	}

	return block, nil
}

func (m *windowsMemory) Commit(address uintptr, size int) error {
	_, err := windows.VirtualAlloc(address, uintptr(size), windows.MEM_COMMIT, windows.PAGE_READWRITE)
	if err != nil {
		return cerrors.Wrap(err, "VirtualAlloc")
	}
	return nil
}

func (m *windowsMemory) Decommit(address uintptr, size int) error {
	err := windows.VirtualFree(address, uintptr(size), windows.MEM_DECOMMIT)
	if err != nil {
		return cerrors.Wrap(err, "VirtualFree")
	}
	return nil
}

func (m *windowsMemory) Release(address uintptr, size int) error {
	err := windows.VirtualFree(address, 0, windows.MEM_RELEASE)
	if err != nil {
		return cerrors.Wrap(err, "VirtualFree")
	}
	return nil
}
