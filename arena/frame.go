package arena

import (
	"unsafe"

	"github.com/pengine/pstd/memutils"
)

// Frame views an arena as two bump allocators growing toward each other. Persist allocations
// outlive the frame. Scratch allocations belong to the frame and are abandoned, without any
// release call, when the frame is discarded.
//
// The persist cursor of a frame made with MakeFrame is the arena's own offset, growing up. The
// scratch cursor starts at the end of the arena and grows down. Neither cursor may pass the other.
//
// Frames are not thread-safe, and a parent frame must not be used while a child frame derived from
// it is alive. Likewise the arena itself must not be allocated from directly while a frame made
// with MakeFrame is in use: Arena.Alloc does not know about the frame's scratch cursor.
type Frame struct {
	arena *Arena

	persist *cursor
	scratch cursor
	// scratchStart is where the scratch cursor started
	scratchStart int

	// detached backs persist for frames made with Detach
	detached cursor
}

// ScratchFrame is a snapshot of both cursors of a Frame
type ScratchFrame struct {
	Persist int
	Scratch int
}

// MakeFrame creates a frame whose persist allocations advance the arena's offset
func (a *Arena) MakeFrame() *Frame {
	memutils.Assert(!a.allocation.IsNil(), "cannot make a frame over a freed arena")

	return &Frame{
		arena:        a,
		persist:      &a.head,
		scratch:      cursor{offset: a.allocation.Size, down: true},
		scratchStart: a.allocation.Size,
	}
}

func (f *Frame) Arena() *Arena {
	return f.arena
}

// IsFlipped returns true when the frame's persist cursor grows down
func (f *Frame) IsFlipped() bool {
	return f.persist.down
}

func (f *Frame) PersistOffset() int {
	return f.persist.offset
}

func (f *Frame) ScratchOffset() int {
	return f.scratch.offset
}

// Offsets returns the positions of the upward and downward cursors. Free memory lies between them.
func (f *Frame) Offsets() (low, high int) {
	if f.persist.down {
		return f.scratch.offset, f.persist.offset
	}
	return f.persist.offset, f.scratch.offset
}

// PersistAlloc allocates memory that outlives the frame. Crossing the scratch cursor is fatal.
func (f *Frame) PersistAlloc(size int, alignment uint) memutils.Allocation {
	checkRequest(size, alignment)

	allocation := f.persist.bump(f.arena.allocation.Block, f.scratch.offset, size, alignment)
	allocation.IsCommitted = f.arena.allocation.IsCommitted
	return allocation
}

// Alloc is PersistAlloc, so a Frame can be passed as an Allocator
func (f *Frame) Alloc(size int, alignment uint) memutils.Allocation {
	return f.PersistAlloc(size, alignment)
}

// ScratchAlloc allocates memory that is abandoned with the frame. Crossing the persist cursor is
// fatal.
func (f *Frame) ScratchAlloc(size int, alignment uint) memutils.Allocation {
	checkRequest(size, alignment)

	allocation := f.scratch.bump(f.arena.allocation.Block, f.persist.offset, size, alignment)
	allocation.IsCommitted = f.arena.allocation.IsCommitted
	return allocation
}

// Flipped derives a child frame that swaps the roles of the two ends. The child's persist cursor is
// this frame's scratch cursor, so whatever the child persists survives as this frame's scratch data.
// The child's scratch cursor starts at this frame's persist position and grows the other way,
// leaving this frame's persist cursor untouched.
func (f *Frame) Flipped() *Frame {
	return &Frame{
		arena:        f.arena,
		persist:      &f.scratch,
		scratch:      cursor{offset: f.persist.offset, down: f.persist.down},
		scratchStart: f.persist.offset,
	}
}

// Nested derives a child frame that persists into this frame's persist cursor, and whose scratch
// allocations start below this frame's scratch data without disturbing it
func (f *Frame) Nested() *Frame {
	return &Frame{
		arena:        f.arena,
		persist:      f.persist,
		scratch:      f.scratch,
		scratchStart: f.scratch.offset,
	}
}

// Detach derives a child frame with private copies of both cursors. Nothing allocated through it,
// persist or scratch, outlives it.
func (f *Frame) Detach() *Frame {
	child := &Frame{
		arena:        f.arena,
		scratch:      f.scratch,
		scratchStart: f.scratch.offset,
		detached:     *f.persist,
	}
	child.persist = &child.detached
	return child
}

// Snapshot captures both cursor positions
func (f *Frame) Snapshot() ScratchFrame {
	return ScratchFrame{
		Persist: f.persist.offset,
		Scratch: f.scratch.offset,
	}
}

// Restore rewinds both cursors to a snapshot taken from this frame, discarding everything allocated
// since
func (f *Frame) Restore(snapshot ScratchFrame) {
	f.persist.rewind(snapshot.Persist)
	f.scratch.rewind(snapshot.Scratch)
}

// ResetScratch discards every scratch allocation made through this frame, returning the scratch
// cursor to where it started. Persist allocations are kept.
func (f *Frame) ResetScratch() {
	f.scratch.rewind(f.scratchStart)
}

// PersistAddress is the address the next persist allocation aligned to alignment would start at
func (f *Frame) PersistAddress(alignment uint) uintptr {
	return f.nextAddress(f.persist, alignment)
}

// ScratchAddress is the address the next scratch allocation aligned to alignment would end at
func (f *Frame) ScratchAddress(alignment uint) uintptr {
	return f.nextAddress(&f.scratch, alignment)
}

func (f *Frame) nextAddress(c *cursor, alignment uint) uintptr {
	address := f.arena.allocation.Block + uintptr(c.offset)
	if c.down {
		return memutils.AlignAddressDown(address, alignment)
	}
	return memutils.AlignAddressUp(address, alignment)
}

// PersistSide returns an Allocator that makes persist allocations from the frame
func (f *Frame) PersistSide() Allocator {
	return frameSide{frame: f, persist: true}
}

// ScratchSide returns an Allocator that makes scratch allocations from the frame
func (f *Frame) ScratchSide() Allocator {
	return frameSide{frame: f}
}

type frameSide struct {
	frame   *Frame
	persist bool
}

func (s frameSide) Alloc(size int, alignment uint) memutils.Allocation {
	if s.persist {
		return s.frame.PersistAlloc(size, alignment)
	}
	return s.frame.ScratchAlloc(size, alignment)
}

// FrameAvailableCount is the number of T elements that fit between the frame's cursors once both
// are aligned for T
func FrameAvailableCount[T any](f *Frame) int {
	var zero T
	alignment := uint(unsafe.Alignof(zero))
	base := f.arena.allocation.Block

	low, high := f.Offsets()
	alignedLow := memutils.AlignAddressUp(base+uintptr(low), alignment)
	alignedHigh := memutils.AlignAddressDown(base+uintptr(high), alignment)
	if alignedHigh <= alignedLow {
		return 0
	}

	return int(alignedHigh-alignedLow) / elementSize[T]()
}

// FrameCount is the number of T-sized elements that fit in the persist side of the frame, from the
// end of the arena it grows from
func FrameCount[T any](f *Frame) int {
	used := f.persist.offset
	if f.persist.down {
		used = f.arena.allocation.Size - f.persist.offset
	}
	return used / elementSize[T]()
}
