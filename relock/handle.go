package relock

import (
	"sync/atomic"

	"github.com/kdalton/relock/clh"
	"github.com/kdalton/relock/mcs"
)

// Handle stands in for the "thread identity" and "thread-local storage"
// external collaborators spec.md §1 names as provided by the hosting
// runtime. Go has neither, so every goroutine that uses a Lock owns
// exactly one Handle, obtained once via NewHandle and reused across every
// acquisition that goroutine makes — on every Lock it touches, whatever
// queue discipline that Lock happens to use.
//
// A Handle's pointer identity is the "owner" referenced throughout this
// package: Lock.owner is an atomic pointer to a Handle, and reentry is
// just pointer equality against the calling goroutine's Handle.
//
// As with this module's underlying MCS node ("a single QNode should not
// be used concurrently by multiple goroutines"), a Handle must not be
// enqueued against two locks at the same instant from two goroutines; it
// is intended for use by one goroutine at a time, reentrantly.
type Handle struct {
	interrupted atomic.Bool
	clhNode     *clh.Node
	mcsNode     *mcs.Node
}

// NewHandle allocates a Handle. Call it once per goroutine and keep the
// result for the lifetime of that goroutine's interaction with this
// package's locks.
func NewHandle() *Handle {
	return &Handle{
		clhNode: clh.NewNode(),
		mcsNode: mcs.NewNode(),
	}
}

// Interrupt sets h's cooperative cancellation flag and nudges any queue
// node h might currently be parked in, so a pending SpinThenPark wait
// notices the request promptly instead of waiting out its park interval.
// It is safe to call from any goroutine, including one other than the
// Handle's owner — this is the only Handle method with that property.
func (h *Handle) Interrupt() {
	h.interrupted.Store(true)
	h.clhNode.Nudge()
	h.mcsNode.Nudge()
}

// TestAndClear reports whether Interrupt was called since the last
// TestAndClear, clearing the flag as a side effect. It implements
// waitstrategy.CancelFlag.
func (h *Handle) TestAndClear() bool {
	return h.interrupted.CompareAndSwap(true, false)
}
