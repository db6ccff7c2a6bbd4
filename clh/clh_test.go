package clh

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdalton/relock/waitstrategy"
)

// exclusiveWord is a minimal owner word used to exercise the queue without
// pulling in the full reentrant lock surface.
type exclusiveWord struct{ held atomic.Bool }

func (w *exclusiveWord) tryAcquire() bool { return w.held.CompareAndSwap(false, true) }
func (w *exclusiveWord) release()         { w.held.Store(false) }

func TestQueueSingleGoroutine(t *testing.T) {
	q := NewQueue()
	var word exclusiveWord
	node := NewNode()
	ws, err := waitstrategy.NewBusySpin(4)
	require.NoError(t, err)

	require.NoError(t, q.EnqueueAndAcquire(node, word.tryAcquire, ws, nil))
	assert.True(t, word.held.Load())
	word.release()
	q.UnparkSuccessor()
}

func TestQueueFIFOUnderContention(t *testing.T) {
	q := NewQueue()
	var word exclusiveWord
	ws, err := waitstrategy.NewSpinThenPark(4)
	require.NoError(t, err)

	const n = 8
	const iterations = 200
	var counter int64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			node := NewNode()
			for j := 0; j < iterations; j++ {
				require.NoError(t, q.EnqueueAndAcquire(node, word.tryAcquire, ws, nil))
				atomic.AddInt64(&counter, 1)
				word.release()
				q.UnparkSuccessor()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(n*iterations), counter)
	assert.False(t, word.held.Load())
}

type testCancel struct{ flag atomic.Bool }

func (c *testCancel) TestAndClear() bool { return c.flag.CompareAndSwap(true, false) }

func TestEnqueueAndAcquireTimeoutExpires(t *testing.T) {
	q := NewQueue()
	var word exclusiveWord
	word.held.Store(true) // never releases, forcing a timeout

	ws, err := waitstrategy.NewBusySpin(2)
	require.NoError(t, err)

	node := NewNode()
	start := time.Now()
	ok, err := q.EnqueueAndAcquireTimeout(node, word.tryAcquire, ws, nil, time.Now().Add(20*time.Millisecond))
	elapsed := time.Since(start)

	assert.False(t, ok)
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, elapsed, 15*time.Millisecond)
	assert.Nil(t, q.tail.Load(), "cancelled node must be unlinked from the tail")
}

func TestEnqueueAndAcquireTimeoutSucceeds(t *testing.T) {
	q := NewQueue()
	var word exclusiveWord

	ws, err := waitstrategy.NewBusySpin(2)
	require.NoError(t, err)

	node := NewNode()
	ok, err := q.EnqueueAndAcquireTimeout(node, word.tryAcquire, ws, nil, time.Now().Add(time.Second))
	assert.True(t, ok)
	assert.NoError(t, err)
	assert.True(t, word.held.Load())
}

func TestEnqueueAndAcquireInterrupted(t *testing.T) {
	q := NewQueue()
	var word exclusiveWord
	word.held.Store(true)

	ws, err := waitstrategy.NewBusySpin(1)
	require.NoError(t, err)

	cancel := &testCancel{}
	cancel.flag.Store(true)

	// Put a predecessor in place so the node actually spins on the
	// predecessor gate (and therefore observes the cancellation).
	pred := NewNode()
	pred.reset()
	q.tail.Store(pred)

	node := NewNode()
	err = q.EnqueueAndAcquire(node, word.tryAcquire, ws, cancel)
	assert.ErrorIs(t, err, waitstrategy.ErrInterrupted)
}

func TestCancelSplicesSuccessorOntoPredecessor(t *testing.T) {
	q := NewQueue()
	head := NewNode()
	head.reset()
	q.tail.Store(head)

	middle := NewNode()
	middle.reset()
	middle.prev.Store(head)
	head.next.Store(middle)
	q.tail.Store(middle)

	tail := NewNode()
	tail.reset()
	tail.prev.Store(middle)
	middle.next.Store(tail)
	q.tail.Store(tail)

	q.cancel(middle, head)

	assert.Equal(t, tail, head.next.Load())
	assert.Equal(t, head, tail.prev.Load())
	assert.False(t, middle.locked.Load(), "cancel must clear the cancelled node's own locked flag so a live successor spinning on it unblocks")
}

// TestCancelUnblocksQueuedSuccessor exercises the 3-waiter chain the plain
// pointer-splice assertion above cannot: A holds the word, B enqueues behind
// A and then has its wait cancelled (via timeout) while C is already
// enqueued behind B, doing a plain blocking EnqueueAndAcquire. Before cancel
// also cleared the cancelled node's own locked flag, C's
// "for pred.locked.Load()" loop spun on B's locked flag forever, since B
// never reaches the success path that would have cleared it and B's
// splice-away from the list does nothing for C's already-captured local
// pred variable.
func TestCancelUnblocksQueuedSuccessor(t *testing.T) {
	q := NewQueue()
	var word exclusiveWord
	word.held.Store(true) // A "holds" the word for the whole test

	busy, err := waitstrategy.NewBusySpin(2)
	require.NoError(t, err)
	spinPark, err := waitstrategy.NewSpinThenPark(2)
	require.NoError(t, err)

	a := NewNode()
	require.NoError(t, q.EnqueueAndAcquire(a, func() bool { return true }, busy, nil))

	bEnqueued := make(chan struct{})
	bDone := make(chan struct{})
	go func() {
		defer close(bDone)
		b := NewNode()
		close(bEnqueued)
		ok, err := q.EnqueueAndAcquireTimeout(b, word.tryAcquire, busy, nil, time.Now().Add(30*time.Millisecond))
		assert.False(t, ok)
		assert.NoError(t, err)
	}()
	<-bEnqueued
	time.Sleep(5 * time.Millisecond) // let B install itself as tail before C links behind it

	cDone := make(chan struct{})
	go func() {
		defer close(cDone)
		c := NewNode()
		require.NoError(t, q.EnqueueAndAcquire(c, word.tryAcquire, spinPark, nil))
	}()

	time.Sleep(60 * time.Millisecond) // let B's deadline fire and cancel while C is still queued behind it
	word.release()                   // let C actually acquire once its predecessor gate clears

	select {
	case <-cDone:
	case <-time.After(2 * time.Second):
		t.Fatal("tail waiter never unblocked after the middle waiter's wait was cancelled")
	}
	<-bDone
}
