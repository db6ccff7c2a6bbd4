package relock

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/kdalton/relock/waitstrategy"
)

// reacquirePollInterval bounds how long Condition.reacquire sleeps between
// try-lock attempts, per spec.md §9's note on condition reacquire back-off:
// "prevents live-lock while the main lock is held by another reacquiring
// waiter... implementations should not replace this with unbounded spin."
const reacquirePollInterval = time.Millisecond

// conditionWaiter is one outstanding Await call. signalled is flipped by
// Signal/SignalAll; wake lets the waiter's park loop notice that promptly
// instead of waiting out its next poll tick. This mirrors, in miniature,
// the waiter/semaphore pairing nsync's CV uses, simplified because our
// waiter FIFO is already serialized by an internal mutex rather than a
// lock-free spinlock.
type conditionWaiter struct {
	h         *Handle
	signalled atomic.Bool
	wake      chan struct{}
}

// Condition is a condition variable bound to exactly one Lock. Waiters
// form a private FIFO guarded by an internal mutex that is independent of
// the Lock itself and is never held across a park.
type Condition struct {
	lock *Lock

	mu      sync.Mutex
	waiters []*conditionWaiter
}

func newCondition(l *Lock) *Condition {
	return &Condition{lock: l}
}

func (c *Condition) enqueue(h *Handle) *conditionWaiter {
	w := &conditionWaiter{h: h, wake: make(chan struct{}, 1)}
	c.mu.Lock()
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()
	return w
}

func (c *Condition) remove(w *conditionWaiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, cand := range c.waiters {
		if cand == w {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}

// releaseAll performs saved unlocks, fully releasing c.lock, as spec.md
// §4.5 step 3 requires before a waiter is ever enqueued.
func (c *Condition) releaseAll(h *Handle, saved uint64) {
	for i := uint64(0); i < saved; i++ {
		c.lock.Unlock(h)
	}
}

// reacquire restores h's hold count on c.lock to saved, bounding its wake
// latency with reacquirePollInterval even under heavy contention.
func (c *Condition) reacquire(h *Handle, saved uint64) {
	for !c.lock.TryLock(h) {
		time.Sleep(reacquirePollInterval)
	}
	for i := uint64(1); i < saved; i++ {
		c.lock.Lock(h)
	}
}

// requireOwnership validates that h holds c.lock and returns its current
// hold count, the "saved" value every Await variant restores on exit.
func (c *Condition) requireOwnership(h *Handle) (uint64, error) {
	if !c.lock.IsHeldByCurrent(h) {
		return 0, ErrNotOwner
	}
	return c.lock.HoldCount(), nil
}

// Await atomically releases c.lock (all saved holds), blocks until
// Signal, SignalAll, or interruption, then reacquires c.lock to the same
// hold count before returning. It fails ErrNotOwner if h does not hold
// c.lock, and ErrInterrupted if h is interrupted while waiting — in the
// latter case the lock is still reacquired to saved holds before the
// error is returned, per spec.md §4.5's invariant that every exit path
// restores exactly saved holds.
func (c *Condition) Await(h *Handle) error {
	saved, err := c.requireOwnership(h)
	if err != nil {
		return err
	}
	c.releaseAll(h, saved)

	w := c.enqueue(h)
	for {
		if w.signalled.Load() {
			c.reacquire(h, saved)
			return nil
		}
		select {
		case <-w.wake:
		case <-time.After(reacquirePollInterval):
		}
		if w.signalled.Load() {
			c.reacquire(h, saved)
			return nil
		}
		if h.TestAndClear() {
			c.remove(w)
			c.reacquire(h, saved)
			return waitstrategy.ErrInterrupted
		}
	}
}

// AwaitUninterruptibly is identical to Await but ignores cancellation
// while parked; a cancellation observed during the wait is deferred and
// re-raised on h's flag after the lock is reacquired.
func (c *Condition) AwaitUninterruptibly(h *Handle) error {
	saved, err := c.requireOwnership(h)
	if err != nil {
		return err
	}
	c.releaseAll(h, saved)

	w := c.enqueue(h)
	deferred := false
	for !w.signalled.Load() {
		select {
		case <-w.wake:
		case <-time.After(reacquirePollInterval):
		}
		if h.TestAndClear() {
			deferred = true
		}
	}
	c.reacquire(h, saved)
	if deferred {
		h.Interrupt()
	}
	return nil
}

// AwaitNanos is identical to Await but bounds the wait to n nanoseconds.
// It returns the residual time budget (<= 0 means the wait timed out
// without being signalled) and ErrInterrupted if h was interrupted first.
func (c *Condition) AwaitNanos(h *Handle, n int64) (int64, error) {
	saved, err := c.requireOwnership(h)
	if err != nil {
		return 0, err
	}
	c.releaseAll(h, saved)

	w := c.enqueue(h)
	deadline := time.Now().Add(time.Duration(n))
	for {
		if w.signalled.Load() {
			c.reacquire(h, saved)
			return int64(time.Until(deadline)), nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.remove(w)
			c.reacquire(h, saved)
			return int64(remaining), nil
		}

		step := remaining
		if step > reacquirePollInterval {
			step = reacquirePollInterval
		}
		timer := time.NewTimer(step)
		select {
		case <-w.wake:
			if !timer.Stop() {
				<-timer.C
			}
		case <-timer.C:
		}

		if w.signalled.Load() {
			c.reacquire(h, saved)
			return int64(time.Until(deadline)), nil
		}
		if h.TestAndClear() {
			c.remove(w)
			c.reacquire(h, saved)
			return int64(time.Until(deadline)), waitstrategy.ErrInterrupted
		}
	}
}

// AwaitTimeout delegates to AwaitNanos and reports whether the wait ended
// because of a signal (true) rather than a timeout (false).
func (c *Condition) AwaitTimeout(h *Handle, d time.Duration) (bool, error) {
	residual, err := c.AwaitNanos(h, int64(d))
	return residual > 0, err
}

// AwaitDeadline delegates to AwaitTimeout with the remaining time until
// deadline, returning false immediately if deadline has already passed.
func (c *Condition) AwaitDeadline(h *Handle, deadline time.Time) (bool, error) {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return false, nil
	}
	return c.AwaitTimeout(h, remaining)
}

// Signal wakes at least one waiter currently parked on c, in FIFO arrival
// order. It is a no-op if no goroutine is waiting. It fails ErrNotOwner if
// h does not hold c.lock.
func (c *Condition) Signal(h *Handle) error {
	if !c.lock.IsHeldByCurrent(h) {
		return ErrNotOwner
	}
	c.mu.Lock()
	var w *conditionWaiter
	if len(c.waiters) > 0 {
		w = c.waiters[0]
		c.waiters = c.waiters[1:]
	}
	c.mu.Unlock()

	if w != nil {
		wake(w)
	}
	return nil
}

// SignalAll wakes every waiter currently parked on c. It fails
// ErrNotOwner if h does not hold c.lock.
func (c *Condition) SignalAll(h *Handle) error {
	if !c.lock.IsHeldByCurrent(h) {
		return ErrNotOwner
	}
	c.mu.Lock()
	toWake := c.waiters
	c.waiters = nil
	c.mu.Unlock()

	for _, w := range toWake {
		wake(w)
	}
	return nil
}

// wake marks w signalled and nudges its park loop. It is idempotent: a
// waiter signalled twice (which cannot currently happen since Signal pops
// a waiter out of the FIFO, but SignalAll's caller could in principle call
// Signal/SignalAll again concurrently) simply observes signalled already
// true.
func wake(w *conditionWaiter) {
	w.signalled.Store(true)
	select {
	case w.wake <- struct{}{}:
	default:
	}
}
