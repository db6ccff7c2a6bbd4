// Package mcs implements the Mellor-Crummey/Scott (MCS) queue-lock
// discipline: an explicit linked list where each waiter spins on a flag
// inside its own node rather than a predecessor's, which is friendlier to
// NUMA and cache-coherence traffic than CLH.
//
// This is a generalization of an earlier, simpler version of this package
// that exposed only a CAS-based TryLock/Lock/Unlock pair hard-wired to a
// single exclusive bit. The queue discipline here instead drives an
// arbitrary TryAcquireFn supplied by a caller (relock's ReentrantCore),
// and gained cancellation and a timed variant in the process.
package mcs

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/kdalton/relock/waitstrategy"
)

// TryAcquireFn is invoked by the queue, once a node's local locked flag has
// cleared, to test and claim the protected resource. The queue calls it
// repeatedly until it returns true, so it must be idempotent under
// spurious retries.
type TryAcquireFn func() bool

// Node is a per-goroutine wait record, reused across every acquisition a
// goroutine makes on one Queue.
type Node struct {
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
	n.next.Store(nil)
	n.locked.Store(true)
}

// Nudge lets a caller outside this package (relock's cancellation path)
// cut a node's parked SpinThenPark wait short, without waiting for its own
// locked flag check to next run.
func (n *Node) Nudge() {
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// Queue is an MCS wait queue with an atomic tail. The zero value is an
// empty, ready-to-use queue.
type Queue struct {
	tail atomic.Pointer[Node]
}

// NewQueue returns an empty Queue.
func NewQueue() *Queue { return &Queue{} }

// EnqueueAndAcquire installs node as the new tail and, if a predecessor
// exists, publishes pred.next = node and spins on node's own locked flag
// (paced by ws) until the predecessor's Unlock clears it. It then spins on
// try until it claims the resource.
func (q *Queue) EnqueueAndAcquire(node *Node, try TryAcquireFn, ws waitstrategy.WaitStrategy, cancel waitstrategy.CancelFlag) error {
	node.reset()
	pred := q.tail.Swap(node)

	if pred != nil {
		pred.next.Store(node)
		for node.locked.Load() {
			if err := ws.Await(cancel, node.wake); err != nil {
				q.cancel(node, pred)
				return err
			}
		}
	}

	for !try() {
		runtime.Gosched()
	}
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

	if pred != nil {
		pred.next.Store(node)
		for node.locked.Load() {
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
		runtime.Gosched()
	}
	node.locked.Store(false)
	return true, nil
}

// cancel removes node from the queue. If node is still the tail, it is
// simply CASed away — and pred.next, which EnqueueAndAcquire set to node,
// is CASed back to nil so a later Unlock(pred) doesn't mistake the departed
// node for a real successor. That CAS is conditional (not an unconditional
// store) because a new node can race in and relink pred.next to itself
// between the two steps; CompareAndSwap leaves that legitimate link alone
// and only clears the stale one.
//
// Otherwise a successor has already linked itself (or is in the process of
// doing so) via node.next; since node is leaving the list without ever
// having acquired the resource, cancel performs the successor handoff
// itself rather than leaving the successor spinning on a locked flag node
// will never clear on its own.
func (q *Queue) cancel(node, pred *Node) {
	if q.tail.CompareAndSwap(node, pred) {
		node.next.Store(nil)
		if pred != nil {
			pred.next.CompareAndSwap(node, nil)
		}
		return
	}
	for {
		succ := node.next.Load()
		if succ != nil {
			succ.locked.Store(false)
			select {
			case succ.wake <- struct{}{}:
			default:
			}
			break
		}
		runtime.Gosched()
	}
	node.next.Store(nil)
}

// Unlock performs the successor handoff for the head of the queue: it
// reads tail and, if a successor has linked itself onto node, clears that
// successor's locked flag and wakes it. This implements interpretation (b)
// from spec.md §9: the predecessor (here, the thread calling Unlock after
// ReentrantCore has cleared ownership) explicitly clears the head
// successor's locked flag, rather than relying solely on the successor's
// TryAcquireFn loop to eventually observe the vacated owner word.
//
// If node has no successor yet, Unlock tries to CAS tail back to nil; if
// that fails, a successor is in the process of enqueuing, and Unlock waits
// for node.next to appear before waking it.
func (q *Queue) Unlock(node *Node) {
	if node.next.Load() == nil {
		if q.tail.CompareAndSwap(node, nil) {
			return
		}
		for {
			succ := node.next.Load()
			if succ != nil {
				succ.locked.Store(false)
				select {
				case succ.wake <- struct{}{}:
				default:
				}
				return
			}
			runtime.Gosched()
		}
	}

	succ := node.next.Load()
	succ.locked.Store(false)
	select {
	case succ.wake <- struct{}{}:
	default:
	}
}

// IsFree reports whether the queue currently has no tail, i.e. no
// goroutine is enqueued or holding the resource this queue is gating.
func (q *Queue) IsFree() bool { return q.tail.Load() == nil }
