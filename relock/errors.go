package relock

import (
	"errors"

	"github.com/kdalton/relock/waitstrategy"
)

// ErrNotOwner is returned when a caller invokes an owner-only operation
// (Unlock, or any Condition method) without holding the lock. It is fatal
// to the caller: lock state is left unchanged.
var ErrNotOwner = errors.New("relock: caller does not hold the lock")

// ErrInterrupted is returned when cooperative cancellation was observed
// during a blocking operation. It is a re-export of waitstrategy's sentinel
// so callers of this package never need to import waitstrategy just to
// compare errors.
var ErrInterrupted = waitstrategy.ErrInterrupted

// ErrInvalidArgument is returned by the wait-strategy constructors
// (waitstrategy.NewBusySpin, waitstrategy.NewSpinThenPark) on a bad
// parameter. It is a re-export of waitstrategy's sentinel, so errors.Is
// matches it under either name. It is never returned from a blocking call.
var ErrInvalidArgument = waitstrategy.ErrInvalidArgument
