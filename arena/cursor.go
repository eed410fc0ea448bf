package arena

import "github.com/pengine/pstd/memutils"

// cursor is an offset into an arena's memory that allocations advance. Cursors that grow down sit
// just above the lowest byte they have handed out.
type cursor struct {
	offset int
	down   bool
}

// bump places size bytes aligned to alignment next to the cursor and advances it, without passing
// the offset limit. base is the address of the arena's first byte.
func (c *cursor) bump(base uintptr, limit int, size int, alignment uint) memutils.Allocation {
	if c.down {
		memutils.Assert(size <= c.offset-limit,
			"scratch and persist cursors crossed: %d bytes below offset %d would pass offset %d", size, c.offset, limit)

		address := memutils.AlignAddressDown(base+uintptr(c.offset-size), alignment)
		start := int(address - base)
		memutils.Assert(start >= limit,
			"scratch and persist cursors crossed: %d bytes below offset %d would pass offset %d", size, c.offset, limit)

		c.offset = start
		return memutils.Allocation{Block: address, Size: size}
	}

	padding := memutils.AlignmentPadding(base+uintptr(c.offset), alignment)
	start := c.offset + padding
	memutils.Assert(start <= limit && size <= limit-start,
		"scratch and persist cursors crossed: %d bytes above offset %d would pass offset %d", size, start, limit)

	c.offset = start + size
	return memutils.Allocation{Block: base + uintptr(start), Size: size}
}

// rewind moves the cursor back to offset, which must not be ahead of its current position
func (c *cursor) rewind(offset int) {
	if c.down {
		memutils.Assert(offset >= c.offset, "cannot restore a downward cursor at %d to %d", c.offset, offset)
	} else {
		memutils.Assert(offset <= c.offset, "cannot restore an upward cursor at %d to %d", c.offset, offset)
	}
	c.offset = offset
}
