package pages

import "github.com/pengine/pstd/memutils"

//go:generate mockgen -source virtual_memory.go -destination mocks/virtual_memory.go -package mocks

// VirtualMemory is the set of operating system primitives the Provider is built on. Addresses and
// sizes passed to it have already been rounded to page boundaries.
type VirtualMemory interface {
	// Limits reports the page size and minimum reservation size of this memory
	Limits() memutils.AllocationLimits
	// Reserve claims size bytes of address space, at address if possible. address may be 0. The
	// returned range is not accessible until it is committed.
	Reserve(address uintptr, size int) (uintptr, error)
	// Commit makes a reserved range readable and writable. Freshly committed pages read as zero.
	Commit(address uintptr, size int) error
	// Decommit returns the physical memory behind a committed range. The range stays reserved.
	Decommit(address uintptr, size int) error
	// Release gives back a whole reservation previously returned by Reserve
	Release(address uintptr, size int) error
}
