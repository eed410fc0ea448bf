package memutils

import (
	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

type Number interface {
	constraints.Integer
}

func CheckPow2[T Number](number T, name string) error {
	if number <= 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

func AlignUp(value int, alignment uint) int {
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

func AlignDown(value int, alignment uint) int {
	return value & int(^(alignment - 1))
}

// AlignAddressUp rounds address up to the next multiple of alignment, which must be a power of two.
func AlignAddressUp(address uintptr, alignment uint) uintptr {
	return (address + uintptr(alignment) - 1) &^ (uintptr(alignment) - 1)
}

// AlignAddressDown rounds address down to a multiple of alignment, which must be a power of two.
func AlignAddressDown(address uintptr, alignment uint) uintptr {
	return address &^ (uintptr(alignment) - 1)
}

// AlignmentPadding returns the number of bytes that must be skipped from address to reach
// the next address that is a multiple of alignment. It is 0 when address is already aligned.
// Unlike the other helpers, alignment does not need to be a power of two.
func AlignmentPadding(address uintptr, alignment uint) int {
	bytesUnaligned := address % uintptr(alignment)
	return int((uintptr(alignment) - bytesUnaligned) % uintptr(alignment))
}
