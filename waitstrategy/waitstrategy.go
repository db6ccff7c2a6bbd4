// Package waitstrategy provides the pacing policies that queue-based spin
// locks use between rechecks of a spin predicate. A WaitStrategy never
// decides *what* to wait for — that's the caller's predicate — it only
// decides how much real time to burn, and whether to observe cooperative
// cancellation, between checks.
//
// Two strategies are provided: BusySpin, which never yields control to the
// runtime's parker, and SpinThenPark, which spins briefly and then parks the
// goroutine for a short, interruptible interval.
package waitstrategy

import "errors"

// ErrInterrupted is returned by Await when the caller's cancellation flag
// was observed set. Observing it clears the flag, matching the
// test-and-clear semantics of Java's Thread.interrupted().
var ErrInterrupted = errors.New("waitstrategy: interrupted")

// ErrInvalidArgument is returned by the strategy constructors when a
// parameter is out of range. It is a construction-time error only; it is
// never returned from Await.
var ErrInvalidArgument = errors.New("waitstrategy: invalid argument")

// CancelFlag is a per-goroutine cooperative cancellation flag. TestAndClear
// reports whether cancellation was requested, clearing the flag as a side
// effect. Implementations must be safe to call from the owning goroutine
// only; a WaitStrategy never calls TestAndClear from any goroutine other
// than the one that is waiting.
type CancelFlag interface {
	TestAndClear() bool
}

// WaitStrategy paces the recheck loop of a spin-queue waiter.
//
// Await consumes some real time and returns nil to tell the caller to go
// recheck its predicate. It returns ErrInterrupted if cancel reports a
// pending cancellation. wake, if non-nil, is a per-waiter channel that a
// successor-wake step (see package clh and package mcs) can use to cut a
// parked wait short; strategies that never park may ignore it.
type WaitStrategy interface {
	Await(cancel CancelFlag, wake <-chan struct{}) error
}

// pauseHint stands in for the CPU PAUSE instruction referenced in spec
// glossary entries: Go exposes no portable intrinsic for it, so, following
// the busy-loop idiom already used by this module's ticket lock, a short
// empty iteration count is used to burn a little time on the core without
// touching the scheduler.
func pauseHint() {
	for i := 0; i < 32; i++ {
	}
}
