// Package alock implements an array-based lock, providing fair mutual exclusion for a fixed number
// of goroutines. The ArrayLock type uses an array of flags to coordinate lock acquisition between
// goroutines, ensuring FIFO ordering by maintaining a circular queue.
//
// The array-based lock provides several benefits:
//   - Fair scheduling with FIFO ordering of lock acquisition
//   - Bounded memory usage based on the number of goroutines
//   - Each goroutine spins on its own dedicated flag, reducing contention
//
// Example usage:
//
//	share := alock.NewShare(4) // Support up to 4 goroutines
//	lock := alock.New(share)
//
//	// Blocking acquisition
//	lock.Lock()
//	// ... critical section ...
//	lock.Unlock()
//
//	// Non-blocking try-lock
//	if lock.TryLock() {
//	    // ... critical section ...
//	    lock.Unlock()
//	}
//
// Each goroutine that contends for the lock needs its own *ArrayLock wrapping the shared
// *Share — myIndex is per-goroutine state, the same convention package mcs uses for its
// per-goroutine queue node. The number of slots must be known in advance and should match
// the maximum number of goroutines that will contend for the lock; using more goroutines
// than slots will cause them to share slots, potentially leading to unfair scheduling.
//
// Kept in this module as a comparison baseline for package relock's CLH/MCS-backed
// reentrant lock — see the benchmarks in package relock.
package alock

import (
	"runtime"
	"sync/atomic"
	"time"
)

// Share manages a shared lock among multiple goroutines.
type Share struct {
	flags []uint32 // Array of flags to indicate whether a goroutine can acquire the lock
	tail  uint32   // Atomic index to assign slots to incoming goroutines
	size  uint32   // Size of the flags array (number of goroutines)
}

// NewShare initializes a new Share with the given number of slots.
func NewShare(numGoroutines uint32) *Share {
	share := &Share{
		size:  numGoroutines,
		tail:  0,
		flags: make([]uint32, numGoroutines),
	}
	share.flags[0] = 1 // Set the first flag to 1 to allow the first goroutine to acquire the lock
	return share
}

// ArrayLock is one goroutine's handle onto a shared array-based lock.
type ArrayLock struct {
	share   *Share
	myIndex uint32
}

// New returns an ArrayLock bound to share. Every goroutine contending on share needs its
// own ArrayLock.
func New(share *Share) *ArrayLock {
	return &ArrayLock{share: share}
}

// NewArrayLock initializes a new Share together with the first goroutine's ArrayLock onto
// it, for callers that don't need to share one Share across a known set of ArrayLocks
// built ahead of time.
func NewArrayLock(numGoroutines uint32) *ArrayLock {
	return New(NewShare(numGoroutines))
}

// Lock attempts to acquire the lock for the current goroutine.
func (al *ArrayLock) Lock() {
	lock := al.share
	// Atomically increment the tail and determine the slot for the current goroutine.
	slot := (atomic.AddUint32(&lock.tail, 1) - 1) % lock.size
	al.myIndex = slot

	// Spin until the flag for this slot is set to 1.
	for atomic.LoadUint32(&lock.flags[slot]) == 0 {
		runtime.Gosched()
	}
}

// Unlock releases the lock, allowing the next goroutine in the queue to acquire it.
func (al *ArrayLock) Unlock() {
	lock := al.share
	slot := al.myIndex

	// Set the current slot's flag to 0 to indicate release.
	atomic.StoreUint32(&lock.flags[slot], 0)

	// Set the next slot's flag to 1 to allow the next goroutine to acquire the lock.
	nextSlot := (slot + 1) % lock.size
	atomic.StoreUint32(&lock.flags[nextSlot], 1)
}

// TryLock attempts to acquire the lock without blocking. Returns true if successful.
func (al *ArrayLock) TryLock() bool {
	lock := al.share
	tail := atomic.LoadUint32(&lock.tail)
	if atomic.LoadUint32(&lock.flags[tail%lock.size]) == 1 {
		if atomic.CompareAndSwapUint32(&lock.tail, tail, tail+1) {
			al.myIndex = tail % lock.size
			return true
		}
	}
	return false
}

// TryLockTimeout attempts to acquire the lock within d.
//
// Like TryLock's ticket-lock cousin, a slot claimed by atomically advancing tail can't be
// handed back: flags[slot] only ever gets set to 1 by the goroutine that held slot-1
// calling Unlock, and claiming a slot is unconditional once the atomic add succeeds. If
// the caller stops waiting, the circular queue would otherwise stall every slot behind it
// forever. So on timeout, TryLockTimeout leaves a goroutine behind that keeps waiting for
// the slot and releases it on arrival, on the original caller's behalf. A caller that gets
// false back from TryLockTimeout must not call Unlock itself.
func (al *ArrayLock) TryLockTimeout(d time.Duration) bool {
	lock := al.share
	slot := (atomic.AddUint32(&lock.tail, 1) - 1) % lock.size

	if atomic.LoadUint32(&lock.flags[slot]) == 1 {
		al.myIndex = slot
		return true
	}

	acquired := make(chan struct{})
	go func() {
		for atomic.LoadUint32(&lock.flags[slot]) == 0 {
			runtime.Gosched()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		al.myIndex = slot
		return true
	case <-time.After(d):
		go func() {
			<-acquired
			atomic.StoreUint32(&lock.flags[slot], 0)
			nextSlot := (slot + 1) % lock.size
			atomic.StoreUint32(&lock.flags[nextSlot], 1)
		}()
		return false
	}
}
