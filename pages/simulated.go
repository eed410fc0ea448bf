package pages

import (
	cerrors "github.com/cockroachdb/errors"
	"github.com/pengine/pstd/memutils"
)

type pageState uint8

const (
	pageFree pageState = iota
	pageReserved
	pageCommitted
)

// SimulatedMemory is a VirtualMemory with caller-chosen limits. It carves reservations out of a single
// committed slab obtained from System and keeps track of the state of every simulated page, so it
// rejects commits outside of reservations and releases of ranges it never handed out. Pages read as
// zero when they are committed.
//
// It exists so that allocators can be exercised with small page sizes and a deterministic address
// space.
type SimulatedMemory struct {
	limits memutils.AllocationLimits

	system   VirtualMemory
	slab     uintptr
	slabSize int

	base         uintptr
	pages        []pageState
	reservations map[uintptr]int

	commitCalls int
}

var _ VirtualMemory = &SimulatedMemory{}

// NewSimulatedMemory creates a SimulatedMemory that can hold capacity bytes of reservations. capacity
// is rounded up to a multiple of limits.MinAllocSize.
func NewSimulatedMemory(limits memutils.AllocationLimits, capacity int) (*SimulatedMemory, error) {
	err := limits.Validate()
	if err != nil {
		return nil, err
	}
	if capacity <= 0 {
		return nil, cerrors.Newf("simulated memory capacity must be positive, got %d", capacity)
	}

	capacity = memutils.AlignUp(capacity, uint(limits.MinAllocSize))

	system := System()
	systemLimits := system.Limits()
	slabSize := systemLimits.RoundUpReservation(capacity + limits.MinAllocSize)

	slab, err := system.Reserve(0, slabSize)
	if err != nil {
		return nil, cerrors.Wrap(err, "failed to reserve the simulated memory slab")
	}
	err = system.Commit(slab, slabSize)
	if err != nil {
		return nil, cerrors.CombineErrors(
			cerrors.Wrap(err, "failed to commit the simulated memory slab"),
			system.Release(slab, slabSize),
		)
	}

	return &SimulatedMemory{
		limits:       limits,
		system:       system,
		slab:         slab,
		slabSize:     slabSize,
		base:         memutils.AlignAddressUp(slab, uint(limits.MinAllocSize)),
		pages:        make([]pageState, capacity/limits.PageSize),
		reservations: make(map[uintptr]int),
	}, nil
}

// Close gives the slab back to the system. Every allocation made from this memory becomes invalid.
func (m *SimulatedMemory) Close() error {
	if m.slab == 0 {
		return nil
	}

	err := m.system.Release(m.slab, m.slabSize)
	m.slab = 0
	m.pages = nil
	m.reservations = nil
	return err
}

func (m *SimulatedMemory) Limits() memutils.AllocationLimits {
	return m.limits
}

func (m *SimulatedMemory) pageRange(address uintptr, size int) (first, last int, err error) {
	if address < m.base || address%uintptr(m.limits.PageSize) != 0 || size <= 0 || size%m.limits.PageSize != 0 {
		return 0, 0, cerrors.Newf("%d bytes at %#x is not a page range of this memory", size, address)
	}

	first = int(address-m.base) / m.limits.PageSize
	last = first + size/m.limits.PageSize
	if last > len(m.pages) {
		return 0, 0, cerrors.Newf("%d bytes at %#x extend past the end of this memory", size, address)
	}
	return first, last, nil
}

func (m *SimulatedMemory) rangeIsFree(first, last int) bool {
	for i := first; i < last; i++ {
		if m.pages[i] != pageFree {
			return false
		}
	}
	return true
}

func (m *SimulatedMemory) Reserve(address uintptr, size int) (uintptr, error) {
	if m.slab == 0 {
		return 0, cerrors.New("simulated memory is closed")
	}
	if size <= 0 || size%m.limits.PageSize != 0 {
		return 0, cerrors.Newf("reservation size %d is not a multiple of %d", size, m.limits.PageSize)
	}

	pagesPerGranule := m.limits.MinAllocSize / m.limits.PageSize
	pageCount := size / m.limits.PageSize

	if address != 0 && address%uintptr(m.limits.MinAllocSize) == 0 {
		first, last, err := m.pageRange(address, size)
		if err == nil && m.rangeIsFree(first, last) {
			return m.reserve(first, last), nil
		}
	}

	for first := 0; first+pageCount <= len(m.pages); first += pagesPerGranule {
		if m.rangeIsFree(first, first+pageCount) {
			return m.reserve(first, first+pageCount), nil
		}
	}

	return 0, cerrors.Newf("simulated memory cannot fit a reservation of %d bytes", size)
}

func (m *SimulatedMemory) reserve(first, last int) uintptr {
	for i := first; i < last; i++ {
		m.pages[i] = pageReserved
	}

	address := m.base + uintptr(first*m.limits.PageSize)
	m.reservations[address] = (last - first) * m.limits.PageSize
	return address
}

func (m *SimulatedMemory) Commit(address uintptr, size int) error {
	first, last, err := m.pageRange(address, size)
	if err != nil {
		return err
	}
	for i := first; i < last; i++ {
		if m.pages[i] == pageFree {
			return cerrors.Newf("page at %#x is not reserved", m.pageAddress(i))
		}
	}

	m.commitCalls++
	for i := first; i < last; i++ {
		if m.pages[i] == pageReserved {
			memutils.Allocation{Block: m.pageAddress(i), Size: m.limits.PageSize}.Zero()
			m.pages[i] = pageCommitted
		}
	}
	return nil
}

func (m *SimulatedMemory) Decommit(address uintptr, size int) error {
	first, last, err := m.pageRange(address, size)
	if err != nil {
		return err
	}
	for i := first; i < last; i++ {
		if m.pages[i] == pageFree {
			return cerrors.Newf("page at %#x is not reserved", m.pageAddress(i))
		}
	}

	for i := first; i < last; i++ {
		m.pages[i] = pageReserved
	}
	return nil
}

func (m *SimulatedMemory) Release(address uintptr, size int) error {
	reserved, ok := m.reservations[address]
	if !ok {
		return cerrors.Newf("%#x is not the start of a reservation", address)
	}
	if size != reserved {
		return cerrors.Newf("releasing %d bytes at %#x, but the reservation is %d bytes", size, address, reserved)
	}

	first := int(address-m.base) / m.limits.PageSize
	last := first + reserved/m.limits.PageSize
	for i := first; i < last; i++ {
		m.pages[i] = pageFree
	}
	delete(m.reservations, address)
	return nil
}

func (m *SimulatedMemory) pageAddress(page int) uintptr {
	return m.base + uintptr(page*m.limits.PageSize)
}

func (m *SimulatedMemory) pageIndex(address uintptr) (int, bool) {
	if address < m.base {
		return 0, false
	}
	page := int(address-m.base) / m.limits.PageSize
	return page, page < len(m.pages)
}

// IsReserved returns true if the page containing address belongs to a reservation
func (m *SimulatedMemory) IsReserved(address uintptr) bool {
	page, ok := m.pageIndex(address)
	return ok && m.pages[page] != pageFree
}

// IsCommitted returns true if the page containing address is committed
func (m *SimulatedMemory) IsCommitted(address uintptr) bool {
	page, ok := m.pageIndex(address)
	return ok && m.pages[page] == pageCommitted
}

// CommittedBytes is the number of bytes in committed pages
func (m *SimulatedMemory) CommittedBytes() int {
	count := 0
	for _, state := range m.pages {
		if state == pageCommitted {
			count++
		}
	}
	return count * m.limits.PageSize
}

// ReservedBytes is the number of bytes in live reservations, committed or not
func (m *SimulatedMemory) ReservedBytes() int {
	total := 0
	for _, size := range m.reservations {
		total += size
	}
	return total
}

// CommitCalls is the number of successful Commit calls made on this memory
func (m *SimulatedMemory) CommitCalls() int {
	return m.commitCalls
}
