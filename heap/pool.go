package heap

import (
	"math/bits"

	"github.com/pengine/pstd/memutils"
	"github.com/pengine/pstd/pages"
	"github.com/pkg/errors"
)

// memoryPool is a single reservation that allocations are carved out of. Pages are committed on
// demand: the pool remembers which of its pages have already been committed so each page is only
// committed once.
type memoryPool struct {
	id         int
	allocation memutils.Allocation
	provider   *pages.Provider
	pageSize   int

	firstFree uintptr
	next      *memoryPool

	committed      []uint64
	committedPages int

	allocationCount int
	usedBytes       int
}

var _ memutils.Validatable = &memoryPool{}

func newMemoryPool(id int, provider *pages.Provider, size int) (*memoryPool, error) {
	allocation, err := provider.Reserve(size, 0)
	if err != nil {
		return nil, err
	}

	pageSize := provider.Limits().PageSize
	pageCount := allocation.Size / pageSize

	pool := &memoryPool{
		id:         id,
		allocation: allocation,
		provider:   provider,
		pageSize:   pageSize,
		committed:  make([]uint64, (pageCount+63)/64),
	}

	pool.commit(allocation.Block, freelistHeaderSize)
	header := blockAt(allocation.Block)
	header.size = uintptr(allocation.Size)
	header.next = 0
	pool.firstFree = allocation.Block

	return pool, nil
}

func (p *memoryPool) Size() int {
	return p.allocation.Size
}

func (p *memoryPool) contains(address uintptr) bool {
	return p.allocation.Contains(address)
}

func (p *memoryPool) isPageCommitted(page int) bool {
	return p.committed[page/64]&(1<<(page%64)) != 0
}

func (p *memoryPool) pageRange(address uintptr, size int) (first, last int) {
	offset := int(address - p.allocation.Block)
	first = offset / p.pageSize
	last = (offset + size + p.pageSize - 1) / p.pageSize
	return first, last
}

// commit commits every page touched by size bytes from address that has not been committed yet. Runs
// of uncommitted pages are committed with a single call. The system refusing to commit is fatal.
func (p *memoryPool) commit(address uintptr, size int) {
	if size <= 0 {
		return
	}

	first, last := p.pageRange(address, size)
	for page := first; page < last; {
		if p.isPageCommitted(page) {
			page++
			continue
		}

		runEnd := page
		for runEnd < last && !p.isPageCommitted(runEnd) {
			runEnd++
		}

		runAddress := p.allocation.Block + uintptr(page*p.pageSize)
		_, err := p.provider.Commit((runEnd-page)*p.pageSize, runAddress)
		if err != nil {
			memutils.Fatal(err, "pool %d could not commit %d pages at %#x", p.id, runEnd-page, runAddress)
		}

		for ; page < runEnd; page++ {
			p.committed[page/64] |= 1 << (page % 64)
			p.committedPages++
		}
	}
}

func (p *memoryPool) isRangeCommitted(address uintptr, size int) bool {
	if size <= 0 {
		return true
	}

	first, last := p.pageRange(address, size)
	for page := first; page < last; page++ {
		if !p.isPageCommitted(page) {
			return false
		}
	}
	return true
}

func (p *memoryPool) countCommittedPages() int {
	count := 0
	for _, word := range p.committed {
		count += bits.OnesCount64(word)
	}
	return count
}

// findFit walks the free list and returns the first free range that can hold footprint bytes at
// the requested alignment. A gap between the start of the range and the aligned address is kept as
// a free range of its own, so it must be either empty or large enough to hold a header.
func (p *memoryPool) findFit(footprint int, alignment uint) (placement, bool) {
	var prev uintptr
	for current := p.firstFree; current != 0; current = blockAt(current).next {
		padding := memutils.AlignmentPadding(current, alignment)
		for padding > 0 && padding < freelistHeaderSize {
			padding += int(alignment)
		}

		if padding+footprint <= int(blockAt(current).size) {
			return placement{
				prev:      prev,
				block:     current,
				address:   current + uintptr(padding),
				footprint: footprint,
			}, true
		}

		prev = current
	}

	return placement{}, false
}

// carve removes a placement from the free list. The part of the free range after the allocation
// becomes a new free range if it can hold a header, otherwise it is added to the allocation's
// footprint. carve returns the final footprint.
//
// The pages under the allocation's first commitSize bytes are committed.
func (p *memoryPool) carve(place placement, commitSize int) int {
	header := blockAt(place.block)
	blockEnd := place.block + header.size
	next := header.next

	footprint := place.footprint
	allocationEnd := place.address + uintptr(footprint)
	remaining := int(blockEnd - allocationEnd)

	successor := next
	if remaining >= freelistHeaderSize {
		p.commit(allocationEnd, freelistHeaderSize)
		remainder := blockAt(allocationEnd)
		remainder.size = uintptr(remaining)
		remainder.next = next
		successor = allocationEnd
	} else {
		footprint += remaining
	}

	if place.padding() > 0 {
		header.size = uintptr(place.padding())
		header.next = successor
	} else {
		p.link(place.prev, successor)
	}

	p.commit(place.address, commitSize)

	p.allocationCount++
	p.usedBytes += footprint
	return footprint
}

func (p *memoryPool) link(prev uintptr, next uintptr) {
	if prev == 0 {
		p.firstFree = next
	} else {
		blockAt(prev).next = next
	}
}

// release returns footprint bytes at address to the free list, merging them with the free ranges
// directly before and after
func (p *memoryPool) release(address uintptr, footprint int) {
	var prev uintptr
	next := p.firstFree
	for next != 0 && next < address {
		prev = next
		next = blockAt(next).next
	}

	end := address + uintptr(footprint)
	memutils.Assert(prev == 0 || prev+blockAt(prev).size <= address, "freed range at %#x overlaps the free range at %#x", address, prev)
	memutils.Assert(next == 0 || end <= next, "freed range at %#x overlaps the free range at %#x", address, next)

	merged := address
	if prev != 0 && prev+blockAt(prev).size == address {
		merged = prev
		blockAt(prev).size += uintptr(footprint)
	} else {
		p.commit(address, freelistHeaderSize)
		header := blockAt(address)
		header.size = uintptr(footprint)
		header.next = next
		p.link(prev, address)
	}

	if next != 0 && merged+blockAt(merged).size == next {
		mergedHeader := blockAt(merged)
		nextHeader := blockAt(next)
		mergedHeader.size += nextHeader.size
		mergedHeader.next = nextHeader.next
	}

	p.allocationCount--
	p.usedBytes -= footprint
}

func (p *memoryPool) visitFreeRanges(visit func(address uintptr, size int)) {
	for current := p.firstFree; current != 0; current = blockAt(current).next {
		visit(current, int(blockAt(current).size))
	}
}

func (p *memoryPool) freeBytes() int {
	total := 0
	p.visitFreeRanges(func(address uintptr, size int) {
		total += size
	})
	return total
}

// Validate walks the free list and verifies that it is ordered, inside the pool, fully coalesced
// and that its headers live in committed pages
func (p *memoryPool) Validate() error {
	start := p.allocation.Block
	end := p.allocation.End()
	maxRanges := p.allocation.Size / freelistHeaderSize

	if p.committedPages != p.countCommittedPages() {
		return errors.Errorf("pool %d counts %d committed pages, but %d pages are marked as committed", p.id, p.committedPages, p.countCommittedPages())
	}

	var prevEnd uintptr
	freeBytes := 0
	rangeCount := 0
	for current := p.firstFree; current != 0; current = blockAt(current).next {
		rangeCount++
		if rangeCount > maxRanges {
			return errors.Errorf("the free list of pool %d contains a cycle", p.id)
		}

		if current < start || current+uintptr(freelistHeaderSize) > end {
			return errors.Errorf("free range at %#x lies outside of pool %d", current, p.id)
		}
		if current%uintptr(minimumAlignment) != 0 {
			return errors.Errorf("free range at %#x in pool %d is not aligned", current, p.id)
		}
		if !p.isRangeCommitted(current, freelistHeaderSize) {
			return errors.Errorf("the header of the free range at %#x in pool %d is not committed", current, p.id)
		}

		size := blockAt(current).size
		if int(size) < freelistHeaderSize {
			return errors.Errorf("free range at %#x in pool %d is only %d bytes", current, p.id, size)
		}
		if current+size > end {
			return errors.Errorf("free range at %#x in pool %d extends past the end of the pool", current, p.id)
		}
		if prevEnd != 0 && current < prevEnd {
			return errors.Errorf("free range at %#x in pool %d is out of order", current, p.id)
		}
		if prevEnd != 0 && current == prevEnd {
			return errors.Errorf("free range at %#x in pool %d should have been merged with the range before it", current, p.id)
		}

		prevEnd = current + size
		freeBytes += int(size)
	}

	if freeBytes+p.usedBytes != p.allocation.Size {
		return errors.Errorf("pool %d has %d free bytes and %d used bytes, but is %d bytes", p.id, freeBytes, p.usedBytes, p.allocation.Size)
	}

	return nil
}
