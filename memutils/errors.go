package memutils

import (
	"fmt"

	cerrors "github.com/cockroachdb/errors"
	"github.com/pkg/errors"
)

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// Assert panics with an assertion failure carrying the formatted message when cond is false.
// It is used for precondition violations that leave a memory invariant broken: those are never
// reported as recoverable errors.
func Assert(cond bool, format string, args ...any) {
	if !cond {
		panic(cerrors.AssertionFailedf(format, args...))
	}
}

// Fatal panics with an assertion failure wrapping err. It is used when the operating system refuses
// memory that the caller cannot proceed without.
func Fatal(err error, format string, args ...any) {
	panic(cerrors.NewAssertionErrorWithWrappedErrf(err, "%s", fmt.Sprintf(format, args...)))
}
