//go:build debug_pstd

package memutils

import "unsafe"

const (
	// DebugMargin is the number of bytes of debug data placed after every heap allocation
	DebugMargin int = 16
	// corruptionDetectionMagicValue is a 4-byte pattern copied into the debug margin after each allocation
	corruptionDetectionMagicValue uint32 = 0x7F84E666
)

// WriteMagicValue writes an easy-to-identify marker across DebugMargin bytes starting at address.
// This method no-ops unless the debug_pstd build tag is present.
func WriteMagicValue(address uintptr) {
	marginSize := DebugMargin / int(unsafe.Sizeof(uint32(0)))
	for i := 0; i < marginSize; i++ {
		*(*uint32)(unsafe.Pointer(address)) = corruptionDetectionMagicValue
		address += unsafe.Sizeof(uint32(0))
	}
}

// ValidateMagicValue verifies that the marker written by WriteMagicValue is still present at address.
// This method always returns true unless the debug_pstd build tag is present.
func ValidateMagicValue(address uintptr) bool {
	marginSize := DebugMargin / int(unsafe.Sizeof(uint32(0)))
	for i := 0; i < marginSize; i++ {
		if *(*uint32)(unsafe.Pointer(address)) != corruptionDetectionMagicValue {
			return false
		}
		address += unsafe.Sizeof(uint32(0))
	}

	return true
}

// DebugValidate will call Validate on the provided object and panics if any errors are returned. This
// method no-ops unless the debug_pstd build tag is present
func DebugValidate(validatable Validatable) {
	err := validatable.Validate()
	if err != nil {
		panic(err)
	}
}
