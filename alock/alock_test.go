package alock

import (
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestArrayLockConcurrentAccess(t *testing.T) {
	const numGoroutines = 32
	const iterations = 500
	share := NewShare(numGoroutines)
	counter := 0
	var wg sync.WaitGroup

	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			lock := New(share)
			for range iterations {
				lock.Lock()
				counter++
				lock.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, numGoroutines*iterations, counter)
}

func TestArrayLockTryLock(t *testing.T) {
	share := NewShare(4)
	first := New(share)
	second := New(share)

	assert.True(t, first.TryLock())
	assert.False(t, second.TryLock(), "second goroutine must not see the slot free while the first holds it")

	first.Unlock()
	assert.True(t, second.TryLock())
	second.Unlock()
}

func TestArrayLockTryLockTimeoutSucceedsWhenFreed(t *testing.T) {
	share := NewShare(4)
	holder := New(share)
	waiter := New(share)

	holder.Lock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(20 * time.Millisecond)
		holder.Unlock()
	}()

	assert.True(t, waiter.TryLockTimeout(time.Second))
	<-done
	waiter.Unlock()
}

func TestArrayLockTryLockTimeoutExpiresAndQueueKeepsMoving(t *testing.T) {
	share := NewShare(4)
	holder := New(share)
	holder.Lock()

	waiter := New(share)
	timedOut := make(chan bool, 1)
	go func() {
		timedOut <- waiter.TryLockTimeout(10 * time.Millisecond)
	}()
	assert.False(t, <-timedOut)

	time.Sleep(30 * time.Millisecond) // let the abandoned slot's background releaser settle
	holder.Unlock()

	next := New(share)
	done := make(chan struct{})
	go func() {
		defer close(done)
		next.Lock()
		next.Unlock()
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock did not become available after a timed-out waiter abandoned its slot")
	}
}

// BenchmarkArrayLockUncontended tests array lock performance with no contention.
func BenchmarkArrayLockUncontended(b *testing.B) {
	lock := NewArrayLock(1)
	for i := 0; i < b.N; i++ {
		lock.Lock()
		lock.Unlock()
	}
}

// BenchmarkArrayLockContended tests array lock performance under contention, with
// one ArrayLock per goroutine sharing a single Share as the package doc requires.
func BenchmarkArrayLockContended(b *testing.B) {
	share := NewShare(uint32(max(runtime.GOMAXPROCS(0), 1)))
	shared := 0
	b.RunParallel(func(pb *testing.PB) {
		lock := New(share)
		for pb.Next() {
			lock.Lock()
			shared++
			lock.Unlock()
		}
	})
}
