// Package ticket provides a fair mutual exclusion lock implementation using a ticket-based
// queuing system. The Lock type ensures FIFO ordering of lock acquisition by
// maintaining a queue of waiting goroutines using ticket numbers. This provides fairness
// by serving lock requests in the exact order they arrive, while implementing adaptive
// spinning strategies to balance CPU utilization with latency.
//
// It is kept in this module as a comparison baseline for package relock's CLH/MCS-backed
// reentrant lock rather than as one of relock's pluggable queue disciplines — see the
// benchmarks in package relock.
package ticket

import (
	"sync/atomic"
	"time"
	"unsafe"
)

// Lock implements a fair mutual exclusion lock using a ticket-based queuing system.
// The lock maintains a queue of waiting goroutines using ticket numbers, ensuring FIFO
// ordering of lock acquisition. This provides fairness by serving lock requests in the
// exact order they arrive.
//
// The internal implementation uses two counters:
// - head: represents the currently served ticket number
// - tail: represents the next available ticket number
//
// The lock is free when head == tail+1, and locked otherwise.
// The struct is carefully laid out to ensure proper alignment on 32-bit platforms.
type Lock struct {
	head uint32 // Current ticket being served
	tail uint32 // Next ticket to be issued
}

// NewLock creates a new Lock.
func NewLock() *Lock { return &Lock{head: 1, tail: 0} }

// TryLock attempts to acquire the lock without blocking. It returns true if the lock
// was acquired successfully, and false if the lock is currently held by another goroutine.
// This method provides a way to avoid blocking when the lock is unavailable.
func (t *Lock) TryLock() bool {
	me := t.tail
	meNew := me + 1
	// Expected: head should be tail+1 for lock to be free.
	free := Lock{head: me + 1, tail: me}
	// New: keep head same, increment tail.
	held := Lock{head: me + 1, tail: meNew}
	return atomic.CompareAndSwapUint64(
		(*uint64)(unsafe.Pointer(t)),
		*(*uint64)(unsafe.Pointer(&free)),
		*(*uint64)(unsafe.Pointer(&held)),
	)
}

const (
	ticketBaseWait uint32 = 10
	ticketWaitNext        = 5
)

// Lock acquires the lock using a ticket-based queuing system. It implements an adaptive
// spinning strategy where goroutines wait proportionally to their distance from the head
// of the queue. When a goroutine is far back in the queue (>20 positions), it will sleep
// rather than spin to reduce CPU usage. This provides fair ordering of lock acquisition
// while attempting to balance CPU utilization with latency.
func (t *Lock) Lock() {
	myTicket := atomic.AddUint32(&t.tail, 1) // Get our ticket
	t.awaitTicket(myTicket)
}

// awaitTicket blocks the calling goroutine, using the same adaptive distance-based
// backoff as Lock, until myTicket's turn arrives. It is split out of Lock so that
// TryLockTimeout can run it in a background goroutine on behalf of a caller that has
// already given up waiting.
func (t *Lock) awaitTicket(myTicket uint32) {
	// Fast path for uncontended case.
	if cur := atomic.LoadUint32(&t.head); cur == myTicket {
		return
	}

	wait := ticketBaseWait
	distancePrev := uint32(1)

	// Spin until it's our turn.
	for {
		// Determine whose turn it is.
		cur := atomic.LoadUint32(&t.head)
		if cur == myTicket {
			break // Yay! It's our turn.
		}
		distance := subAbs(cur, myTicket) // How many people are in front of us?

		if distance > 1 { // If there are people in front of us, wait.
			if distance != distancePrev { // If the distance has changed, reset the wait time.
				distancePrev = distance
				wait = ticketBaseWait
			}

			// Spin proportionally to the distance from the head.
			// Further back = more iterations before re-checking.
			for range distance * wait {
				// Empty spin loop.
			}
		} else { // If we're next in line, wait a little bit.
			for range ticketWaitNext {
				// Empty spin loop.
			}
		}

		if distance > 20 { // Sleep if we're far back in the queue.
			time.Sleep(time.Millisecond)
		}
	}
}

// TryLockTimeout attempts to acquire the lock within d, using the same ticket-based
// queuing and adaptive backoff as Lock.
//
// A ticket lock serves strictly in arrival order: head only ever advances because
// whoever currently holds the served ticket calls Unlock. A goroutine can't simply drop
// its ticket on timeout without stalling every ticket issued after it, so on timeout
// TryLockTimeout leaves a goroutine behind that keeps waiting for the ticket and calls
// Unlock the instant it is served, on the original caller's behalf. A caller that gets
// false back from TryLockTimeout must not call Unlock itself.
func (t *Lock) TryLockTimeout(d time.Duration) bool {
	myTicket := atomic.AddUint32(&t.tail, 1)
	if atomic.LoadUint32(&t.head) == myTicket {
		return true
	}

	acquired := make(chan struct{})
	go func() {
		t.awaitTicket(myTicket)
		close(acquired)
	}()

	select {
	case <-acquired:
		return true
	case <-time.After(d):
		go func() {
			<-acquired
			t.Unlock()
		}()
		return false
	}
}

// Unlock releases the lock.
func (t *Lock) Unlock() { atomic.AddUint32(&t.head, 1) }

// isFree checks if the lock is free.
func (t *Lock) isFree() bool { return (t.head - t.tail) == 1 }

func subAbs(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}
