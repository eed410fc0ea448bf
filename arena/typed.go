package arena

import (
	"unsafe"

	"github.com/pengine/pstd/memutils"
)

// Allocator is implemented by everything in this package that hands out memory: *Arena, *Frame and
// the sides of a Frame
type Allocator interface {
	Alloc(size int, alignment uint) memutils.Allocation
}

var (
	_ Allocator = &Arena{}
	_ Allocator = &Frame{}
	_ Allocator = frameSide{}
)

// Make allocates a zeroed T from allocator. T must not contain Go pointers.
func Make[T any](allocator Allocator) *T {
	var zero T
	allocation := allocator.Alloc(elementSize[T](), uint(unsafe.Alignof(zero)))
	allocation.Zero()
	return (*T)(allocation.Pointer())
}

// MakeSlice allocates a zeroed slice of T with the given length and capacity from allocator. T must
// not contain Go pointers.
func MakeSlice[T any](allocator Allocator, length, capacity int) []T {
	memutils.Assert(length >= 0 && length <= capacity, "invalid slice length %d for capacity %d", length, capacity)
	if capacity == 0 {
		return nil
	}

	var zero T
	allocation := allocator.Alloc(elementSize[T]()*capacity, uint(unsafe.Alignof(zero)))
	allocation.Zero()
	return unsafe.Slice((*T)(allocation.Pointer()), capacity)[:length]
}

// Clone copies src into a new allocation from allocator
func Clone(allocator Allocator, src memutils.Allocation, alignment uint) memutils.Allocation {
	dst := allocator.Alloc(src.Size, alignment)
	memutils.ShallowCopy(dst, src)
	return dst
}

// Concat copies a followed by b into a new allocation from allocator
func Concat(allocator Allocator, a, b memutils.Allocation, alignment uint) memutils.Allocation {
	dst := allocator.Alloc(a.Size+b.Size, alignment)
	memutils.ShallowCopy(dst.Truncated(a.Size), a)
	memutils.ShallowCopy(memutils.Allocation{Block: dst.Block + uintptr(a.Size), Size: b.Size}, b)
	return dst
}
