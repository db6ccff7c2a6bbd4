package mcs

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdalton/relock/waitstrategy"
)

type exclusiveWord struct{ held atomic.Bool }

func (w *exclusiveWord) tryAcquire() bool { return w.held.CompareAndSwap(false, true) }

func TestQueueSingleGoroutine(t *testing.T) {
	q := NewQueue()
	var word exclusiveWord
	node := NewNode()
	ws, err := waitstrategy.NewBusySpin(4)
	require.NoError(t, err)

	require.NoError(t, q.EnqueueAndAcquire(node, word.tryAcquire, ws, nil))
	assert.True(t, word.held.Load())
	word.held.Store(false)
	q.Unlock(node)
	assert.True(t, q.IsFree())
}

func TestQueueContention(t *testing.T) {
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
				word.held.Store(false)
				q.Unlock(node)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(n*iterations), counter)
	assert.True(t, q.IsFree())
}

type testCancel struct{ flag atomic.Bool }

func (c *testCancel) TestAndClear() bool { return c.flag.CompareAndSwap(true, false) }

func TestEnqueueAndAcquireTimeoutExpires(t *testing.T) {
	q := NewQueue()
	var word exclusiveWord
	word.held.Store(true)

	ws, err := waitstrategy.NewBusySpin(2)
	require.NoError(t, err)

	node := NewNode()
	start := time.Now()
	ok, err := q.EnqueueAndAcquireTimeout(node, word.tryAcquire, ws, nil, time.Now().Add(20*time.Millisecond))
	elapsed := time.Since(start)

	assert.False(t, ok)
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, elapsed, 15*time.Millisecond)
	assert.True(t, q.IsFree())
}

func TestEnqueueAndAcquireInterrupted(t *testing.T) {
	q := NewQueue()
	var word exclusiveWord

	ws, err := waitstrategy.NewBusySpin(1)
	require.NoError(t, err)

	pred := NewNode()
	pred.reset()
	q.tail.Store(pred)

	cancel := &testCancel{}
	cancel.flag.Store(true)

	node := NewNode()
	err = q.EnqueueAndAcquire(node, word.tryAcquire, ws, cancel)
	assert.ErrorIs(t, err, waitstrategy.ErrInterrupted)

	// The predecessor eventually unlocks, and since node spliced itself out
	// during cancellation, that unlock must resolve with no successor
	// panicking or hanging.
	q.Unlock(pred)
	assert.True(t, q.IsFree())
}
