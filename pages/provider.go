package pages

import (
	"math"

	cerrors "github.com/cockroachdb/errors"
	"github.com/pengine/pstd/internal/utils"
	"github.com/pengine/pstd/memutils"
	"golang.org/x/exp/slog"
)

// Provider hands out page-granular ranges of memory from a VirtualMemory backend. It caches the
// backend's AllocationLimits at construction and keeps track of how much address space it has
// reserved.
//
// Provider is not thread-safe.
type Provider struct {
	logger *slog.Logger
	memory VirtualMemory
	limits memutils.AllocationLimits

	reservedBytes    int
	reservationCount int
}

// NewProvider creates a Provider on top of memory. An error is returned if the backend reports
// limits that are not powers of two.
func NewProvider(logger *slog.Logger, memory VirtualMemory) (*Provider, error) {
	if memory == nil {
		return nil, cerrors.New("attempted to create a page provider without a memory backend")
	}

	limits := memory.Limits()
	err := limits.Validate()
	if err != nil {
		return nil, cerrors.Wrap(err, "memory backend reported invalid allocation limits")
	}

	return &Provider{
		logger: utils.LoggerOrDiscard(logger),
		memory: memory,
		limits: limits,
	}, nil
}

// Limits returns the limits reported by the backend when the Provider was created
func (p *Provider) Limits() memutils.AllocationLimits {
	return p.limits
}

// ReservedBytes is the total size of every live reservation made through this Provider
func (p *Provider) ReservedBytes() int {
	return p.reservedBytes
}

// ReservationCount is the number of live reservations made through this Provider
func (p *Provider) ReservationCount() int {
	return p.reservationCount
}

// Allocate reserves and/or commits pages. flags must contain AllocationReserve, AllocationCommit
// or both. baseAddress is rounded down to a page boundary and size is grown by the same amount, then
// rounded up to whole pages. Reservations smaller than the backend's minimum allocation size are
// grown to that size.
//
// Committing without reserving requires a baseAddress inside an existing reservation.
func (p *Provider) Allocate(size int, flags AllocationType, baseAddress uintptr) (memutils.Allocation, error) {
	memutils.Assert(flags != 0, "no allocation type was requested")
	memutils.Assert(flags&^(AllocationCommit|AllocationReserve) == 0, "Allocate received free flags: %s", flags)
	memutils.Assert(flags.has(AllocationReserve) || baseAddress != 0, "committing pages requires an address")
	memutils.Assert(size >= 0, "cannot allocate %d bytes", size)
	if size > math.MaxInt-2*p.limits.PageSize {
		return memutils.Allocation{}, cerrors.Newf("cannot allocate %d bytes: the size overflows when rounded to pages", size)
	}

	pageBase := p.limits.PageAddress(baseAddress)
	alignedSize := p.limits.RoundUpToPage(size + int(baseAddress-pageBase))

	if !flags.has(AllocationReserve) {
		if alignedSize == 0 {
			return memutils.Allocation{}, nil
		}

		err := p.memory.Commit(pageBase, alignedSize)
		if err != nil {
			return memutils.Allocation{}, cerrors.Wrapf(err, "failed to commit %d bytes at %#x", alignedSize, pageBase)
		}

		return memutils.Allocation{
			Block:       pageBase,
			Size:        alignedSize,
			OwnsMemory:  true,
			IsCommitted: true,
		}, nil
	}

	alignedSize = p.limits.RoundUpReservation(alignedSize)
	block, err := p.memory.Reserve(pageBase, alignedSize)
	if err != nil {
		return memutils.Allocation{}, cerrors.Wrapf(err, "failed to reserve %d bytes", alignedSize)
	}

	if flags.has(AllocationCommit) {
		err = p.memory.Commit(block, alignedSize)
		if err != nil {
			releaseErr := p.memory.Release(block, alignedSize)
			if releaseErr != nil {
				err = cerrors.CombineErrors(err, releaseErr)
			}
			return memutils.Allocation{}, cerrors.Wrapf(err, "failed to commit %d reserved bytes at %#x", alignedSize, block)
		}
	}

	p.reservedBytes += alignedSize
	p.reservationCount++

	p.logger.Debug("Provider::Allocate",
		slog.String("Flags", flags.String()),
		slog.Int("Size", alignedSize),
		slog.Uint64("Block", uint64(block)),
	)

	return memutils.Allocation{
		Block:       block,
		Size:        alignedSize,
		OwnsMemory:  true,
		IsCommitted: flags.has(AllocationCommit),
	}, nil
}

// Free decommits or releases pages previously returned by Allocate. Releasing must be given the
// whole reservation. Decommitting may be given any page-aligned range inside a reservation; its size
// is rounded up to whole pages.
func (p *Provider) Free(allocation memutils.Allocation, flags AllocationType) error {
	memutils.Assert(flags != 0, "no free type was requested")
	memutils.Assert(flags&^(AllocationDecommit|AllocationRelease) == 0, "Free received allocation flags: %s", flags)
	memutils.Assert(allocation.OwnsMemory, "attempted to free pages of an allocation that does not own its memory")
	memutils.Assert(p.limits.IsPageAligned(allocation.Block), "attempted to free pages at %#x, which is not page aligned", allocation.Block)

	if flags.has(AllocationRelease) {
		err := p.memory.Release(allocation.Block, allocation.Size)
		if err != nil {
			return cerrors.Wrapf(err, "failed to release %d bytes at %#x", allocation.Size, allocation.Block)
		}

		p.reservedBytes -= allocation.Size
		p.reservationCount--

		p.logger.Debug("Provider::Release",
			slog.Int("Size", allocation.Size),
			slog.Uint64("Block", uint64(allocation.Block)),
		)
		return nil
	}

	size := p.limits.RoundUpToPage(allocation.Size)
	if size == 0 {
		return nil
	}

	err := p.memory.Decommit(allocation.Block, size)
	if err != nil {
		return cerrors.Wrapf(err, "failed to decommit %d bytes at %#x", size, allocation.Block)
	}
	return nil
}

// Reserve claims at least size bytes of address space without committing it
func (p *Provider) Reserve(size int, baseAddress uintptr) (memutils.Allocation, error) {
	return p.Allocate(size, AllocationReserve, baseAddress)
}

// Commit commits the pages covering size bytes from address, which must be inside a reservation
func (p *Provider) Commit(size int, address uintptr) (memutils.Allocation, error) {
	return p.Allocate(size, AllocationCommit, address)
}

// Decommit returns the physical memory behind the allocation's pages
func (p *Provider) Decommit(allocation memutils.Allocation) error {
	return p.Free(allocation, AllocationDecommit)
}

// Release gives a reservation back to the system
func (p *Provider) Release(allocation memutils.Allocation) error {
	return p.Free(allocation, AllocationRelease)
}
