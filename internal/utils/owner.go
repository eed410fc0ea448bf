package utils

import (
	"sync/atomic"

	cerrors "github.com/cockroachdb/errors"
)

// SingleOwner enforces that an object is only ever mutated by one caller at a time. The allocators in
// this module are not thread-safe: instead of locking, every public entry point calls Enter and a
// concurrent or re-entrant call panics.
//
// When Unchecked is true, Enter and Exit do nothing.
type SingleOwner struct {
	Unchecked bool
	busy      atomic.Bool
	operation atomic.Pointer[string]
}

// Enter marks the owner as busy with the named operation. It panics if another operation is
// already in progress.
func (o *SingleOwner) Enter(operation string) {
	if o.Unchecked {
		return
	}

	if !o.busy.CompareAndSwap(false, true) {
		current := "unknown"
		if op := o.operation.Load(); op != nil {
			current = *op
		}
		panic(cerrors.AssertionFailedf("%s was called while %s was in progress: this object must only be used by a single owner", operation, current))
	}
	o.operation.Store(&operation)
}

// Exit marks the owner as idle
func (o *SingleOwner) Exit() {
	if o.Unchecked {
		return
	}

	o.operation.Store(nil)
	o.busy.Store(false)
}

// NoCopy may be embedded into structs which must not be copied after first use. go vet's copylocks
// check reports copies of structs containing it.
type NoCopy struct{}

func (*NoCopy) Lock()   {}
func (*NoCopy) Unlock() {}
