//go:build !debug_pstd

package memutils

const (
	// DebugMargin is the number of bytes of debug data placed after every heap allocation
	DebugMargin int = 0
)

// WriteMagicValue writes an easy-to-identify marker across DebugMargin bytes starting at address.
// This method no-ops unless the debug_pstd build tag is present.
func WriteMagicValue(address uintptr) {
}

// ValidateMagicValue verifies that the marker written by WriteMagicValue is still present at address.
// This method always returns true unless the debug_pstd build tag is present.
func ValidateMagicValue(address uintptr) bool {
	return true
}

// DebugValidate will call Validate on the provided object and panics if any errors are returned. This
// method no-ops unless the debug_pstd build tag is present
func DebugValidate(validatable Validatable) {
}
