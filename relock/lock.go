// Package relock provides a pluggable, reentrant mutual-exclusion lock.
// Its queueing discipline (CLH or MCS) and waiting discipline (busy spin,
// or spin-then-park) are chosen independently at construction time; on
// top of them it offers the full reentrant-lock surface: blocking
// acquire, interruptible acquire, try-acquire, time-bounded try-acquire,
// reentrant release, and a condition variable bound to the lock.
//
// A goroutine that wants to use a Lock first obtains a Handle (see
// NewHandle) and passes it to every call it makes against that Lock —
// Go's lack of thread-local storage means there is no implicit way to
// recognize "the calling goroutine" the way a JVM or pthreads
// implementation would, so the Handle makes that identity explicit.
package relock

import (
	"sync/atomic"
	"time"

	"github.com/kdalton/relock/waitstrategy"
)

// Lock is a pluggable reentrant mutual-exclusion lock. The zero value is
// not usable; construct one with New or one of the Preset functions.
type Lock struct {
	owner     atomic.Pointer[Handle]
	holdCount atomic.Uint64
	fair      bool
	policy    queuePolicy
	ws        waitstrategy.WaitStrategy
}

// tryAcquireFn returns the TryAcquireFn the queue policy drives once h
// reaches the front of the queue: it claims the owner word for h, or
// recognizes that h already holds it (the rare condition-reacquire
// collision spec.md §4.4 describes; unreachable through this package's
// own entry points, which all check reentry before ever touching the
// queue, but implemented defensively since the queue contract requires
// it to be idempotent under spurious retries).
func (l *Lock) tryAcquireFn(h *Handle) func() bool {
	return func() bool {
		if l.owner.Load() == h {
			return true
		}
		if l.owner.CompareAndSwap(nil, h) {
			l.holdCount.Store(1)
			return true
		}
		return false
	}
}

// deferredCancel wraps a Handle's real cancellation flag for the
// non-interruptible Lock: TestAndClear always reports "not cancelled" to
// the queue policy, so the policy never unlinks the caller's node on an
// observed interruption, but deferredCancel remembers that the flag was
// set so Lock can re-raise it on h once the lock is actually acquired.
// This is what keeps h in its original queue position across an observed
// interruption — unlinking and re-enqueueing as a new tail node would let
// later arrivals complete ahead of it under fair mode, violating spec.md
// §5's strict-FIFO-under-fair-mode guarantee.
type deferredCancel struct {
	h        *Handle
	observed bool
}

func (d *deferredCancel) TestAndClear() bool {
	if d.h.TestAndClear() {
		d.observed = true
	}
	return false
}

// Lock acquires the lock, blocking until it does. It is reentrant: if h
// already holds the lock, the hold count is simply incremented. It never
// fails — any cancellation observed while queued is absorbed and
// re-raised on h after the lock is acquired, per spec.md §4.4's deferred
// interruption policy for the non-interruptible acquire.
func (l *Lock) Lock(h *Handle) {
	if l.owner.Load() == h {
		l.holdCount.Add(1)
		return
	}
	if !l.fair && l.owner.CompareAndSwap(nil, h) {
		l.holdCount.Store(1)
		return
	}

	try := l.tryAcquireFn(h)
	cancel := &deferredCancel{h: h}
	// enqueueAndAcquire never observes a cancellation here (cancel always
	// reports false), so it runs exactly once and never unlinks h's node.
	_ = l.policy.enqueueAndAcquire(h, try, l.ws, cancel)
	if cancel.observed {
		h.Interrupt()
	}
}

// LockInterruptibly acquires the lock, blocking until it does or until h
// is interrupted, in which case it returns ErrInterrupted without having
// acquired the lock.
func (l *Lock) LockInterruptibly(h *Handle) error {
	if l.owner.Load() == h {
		l.holdCount.Add(1)
		return nil
	}
	if !l.fair && l.owner.CompareAndSwap(nil, h) {
		l.holdCount.Store(1)
		return nil
	}

	try := l.tryAcquireFn(h)
	return l.policy.enqueueAndAcquire(h, try, l.ws, h)
}

// TryLock attempts to acquire the lock without blocking, consulting only
// the fast path (reentry check, then a single CAS). It never touches the
// queue.
func (l *Lock) TryLock(h *Handle) bool {
	if l.owner.Load() == h {
		l.holdCount.Add(1)
		return true
	}
	if l.owner.CompareAndSwap(nil, h) {
		l.holdCount.Store(1)
		return true
	}
	return false
}

// TryLockTimeout attempts to acquire the lock, trying the fast path first
// and then, if that fails, queueing with a deadline. It returns true iff
// the lock was acquired before the deadline elapsed, and ErrInterrupted if
// h was interrupted while queued.
func (l *Lock) TryLockTimeout(h *Handle, d time.Duration) (bool, error) {
	if l.owner.Load() == h {
		l.holdCount.Add(1)
		return true, nil
	}
	if !l.fair && l.owner.CompareAndSwap(nil, h) {
		l.holdCount.Store(1)
		return true, nil
	}

	deadline := time.Now().Add(d)
	try := l.tryAcquireFn(h)
	return l.policy.enqueueAndAcquireTimeout(h, try, l.ws, h, deadline)
}

// Unlock releases one hold. If the hold count drops to zero, ownership is
// cleared and a successor, if any, is woken. It returns ErrNotOwner if h
// does not currently hold the lock.
func (l *Lock) Unlock(h *Handle) error {
	if l.owner.Load() != h {
		return ErrNotOwner
	}
	if l.holdCount.Load() > 1 {
		l.holdCount.Add(^uint64(0)) // -1
		return nil
	}
	l.holdCount.Store(0)
	l.owner.Store(nil)
	l.policy.unparkSuccessor(h)
	return nil
}

// NewCondition returns a fresh Condition bound to l.
func (l *Lock) NewCondition() *Condition {
	return newCondition(l)
}

// IsLocked reports whether any goroutine currently holds l. This is a
// snapshot: the answer may be stale by the time the caller observes it.
func (l *Lock) IsLocked() bool {
	return l.owner.Load() != nil
}

// IsHeldByCurrent reports whether h currently holds l.
func (l *Lock) IsHeldByCurrent(h *Handle) bool {
	return l.owner.Load() == h
}

// HoldCount returns l's current reentrant hold count. It is zero when the
// lock is unheld.
func (l *Lock) HoldCount() uint64 {
	return l.holdCount.Load()
}
