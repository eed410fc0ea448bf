package pages

import "github.com/pengine/pstd/internal/utils"

// AllocationType selects which page operations Provider.Allocate and Provider.Free perform
type AllocationType uint32

const (
	// AllocationCommit backs pages with physical memory. Committing pages that have not been reserved
	// is an error.
	AllocationCommit AllocationType = 1 << iota
	// AllocationReserve claims a range of address space without backing it
	AllocationReserve
	// AllocationDecommit returns the physical memory behind pages while keeping the address range reserved
	AllocationDecommit
	// AllocationRelease gives a whole reservation back to the system
	AllocationRelease
)

var allocationTypeMapping = utils.NewFlagStringMapping[AllocationType]()

func init() {
	allocationTypeMapping.Register(AllocationCommit, "AllocationCommit")
	allocationTypeMapping.Register(AllocationReserve, "AllocationReserve")
	allocationTypeMapping.Register(AllocationDecommit, "AllocationDecommit")
	allocationTypeMapping.Register(AllocationRelease, "AllocationRelease")
}

func (t AllocationType) String() string {
	return allocationTypeMapping.FlagsToString(t)
}

func (t AllocationType) has(flag AllocationType) bool {
	return t&flag != 0
}
