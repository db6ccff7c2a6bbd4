// Package clh implements the CLH (Craig/Landin/Hagersten) queue-lock
// discipline: an implicit linked list where each waiter spins on its
// predecessor's locked flag. Nodes are allocated once per goroutine per
// lock and reused across every acquisition that goroutine makes on that
// lock, matching the per-goroutine node convention already used by this
// module's MCS queue.
package clh

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/kdalton/relock/waitstrategy"
)

// TryAcquireFn is invoked by the queue, once a node has reached the head of
// the list, to test and claim the protected resource. It must be
// idempotent under spurious retries: the queue calls it repeatedly until
// it returns true.
type TryAcquireFn func() bool

// Node is a per-goroutine wait record. prev is the spin target; next
// supports the defensive backward-then-forward walk used by
// Queue.UnparkSuccessor.
type Node struct {
	prev   atomic.Pointer[Node]
	next   atomic.Pointer[Node]
	locked atomic.Bool
	wake   chan struct{}
}

// NewNode allocates a Node for exclusive use by one goroutine across all of
// its acquisitions of one Queue.
func NewNode() *Node {
	return &Node{wake: make(chan struct{}, 1)}
}

func (n *Node) reset() {
	n.prev.Store(nil)
	n.next.Store(nil)
	n.locked.Store(true)
}

// Nudge lets a caller outside this package (relock's cancellation path)
// cut a node's parked SpinThenPark wait short, without waiting for the
// predecessor-gate check to next run.
func (n *Node) Nudge() {
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// Queue is a CLH wait queue with an atomic tail. The zero value is an
// empty, ready-to-use queue.
type Queue struct {
	tail atomic.Pointer[Node]
}

// NewQueue returns an empty Queue.
func NewQueue() *Queue { return &Queue{} }

// EnqueueAndAcquire installs node as the new tail, spins on the
// predecessor's locked flag (paced by ws), and then spins on try until it
// claims the resource. It returns waitstrategy.ErrInterrupted if cancel
// reports a pending cancellation while the node is queued; on that path
// the node is unlinked before returning.
func (q *Queue) EnqueueAndAcquire(node *Node, try TryAcquireFn, ws waitstrategy.WaitStrategy, cancel waitstrategy.CancelFlag) error {
	node.reset()
	pred := q.tail.Swap(node)
	if pred == node {
		// node was left as the tail by this goroutine's own earlier,
		// already completed acquisition: nothing is queued ahead of it.
		pred = nil
	}

	if pred != nil {
		node.prev.Store(pred)
		pred.next.Store(node)
		for pred.locked.Load() {
			if err := ws.Await(cancel, node.wake); err != nil {
				q.cancel(node, pred)
				return err
			}
		}
	}

	for !try() {
		if cancel != nil && cancel.TestAndClear() {
			q.cancel(node, pred)
			return waitstrategy.ErrInterrupted
		}
		runtime.Gosched()
	}
	// node is now the head of the list: clearing prev ends
	// UnparkSuccessor's backward walk here.
	node.prev.Store(nil)
	node.locked.Store(false)
	return nil
}

// EnqueueAndAcquireTimeout behaves like EnqueueAndAcquire but additionally
// tests the deadline on every iteration of both spin phases. It returns
// (false, nil) on timeout and (false, err) on cancellation; in both cases
// the node has been unlinked from the queue before returning.
func (q *Queue) EnqueueAndAcquireTimeout(node *Node, try TryAcquireFn, ws waitstrategy.WaitStrategy, cancel waitstrategy.CancelFlag, deadline time.Time) (bool, error) {
	node.reset()
	pred := q.tail.Swap(node)
	if pred == node {
		// node was left as the tail by this goroutine's own earlier,
		// already completed acquisition: nothing is queued ahead of it.
		pred = nil
	}

	if pred != nil {
		node.prev.Store(pred)
		pred.next.Store(node)
		for pred.locked.Load() {
			if time.Now().After(deadline) {
				q.cancel(node, pred)
				return false, nil
			}
			if err := ws.Await(cancel, node.wake); err != nil {
				q.cancel(node, pred)
				return false, err
			}
		}
	}

	for !try() {
		if time.Now().After(deadline) {
			q.cancel(node, pred)
			return false, nil
		}
		if cancel != nil && cancel.TestAndClear() {
			q.cancel(node, pred)
			return false, waitstrategy.ErrInterrupted
		}
		runtime.Gosched()
	}
	node.prev.Store(nil)
	node.locked.Store(false)
	return true, nil
}

// cancel removes node from the list, CASing tail back to pred when node is
// still the tail, or splicing node's successor onto pred otherwise. The
// splice alone does not unblock a successor already running: that
// goroutine captured pred (= this node) as a local variable when it
// enqueued and spins on pred.locked.Load() directly, never re-deriving
// its predecessor from the node's own prev field. So cancel also clears
// node's own locked flag and nudges the successor's wake channel,
// exactly as if node had reached the front of the queue and released it
// normally — the successor's try loop then takes over and keeps waiting
// on the real owner word until it is actually free.
func (q *Queue) cancel(node, pred *Node) {
	if q.tail.CompareAndSwap(node, pred) {
		node.prev.Store(nil)
		node.next.Store(nil)
		return
	}
	succ := node.next.Load()
	if succ != nil {
		succ.prev.Store(pred)
		if pred != nil {
			pred.next.Store(succ)
		}
	}
	node.prev.Store(nil)
	node.next.Store(nil)
	node.locked.Store(false)
	if succ != nil {
		succ.Nudge()
	}
}

// UnparkSuccessor walks backward from the current tail to the head-most
// node still in the list, then wakes that node's successor, if any. This
// is the defensive traversal spec.md §4.2 describes: in the quiescent
// steady state the owner already knows its own successor via next, but the
// walk stays correct even when enqueue is racing with it.
func (q *Queue) UnparkSuccessor() {
	n := q.tail.Load()
	if n == nil {
		return
	}
	for {
		p := n.prev.Load()
		if p == nil {
			break
		}
		n = p
	}
	succ := n.next.Load()
	if succ == nil {
		return
	}
	select {
	case succ.wake <- struct{}{}:
	default:
	}
}
