package relock

import (
	"time"

	"github.com/kdalton/relock/clh"
	"github.com/kdalton/relock/mcs"
	"github.com/kdalton/relock/waitstrategy"
)

// queuePolicy adapts the two concrete queue-discipline packages (clh, mcs)
// to a single shape ReentrantCore can drive uniformly. Unlike the
// clh.Queue/mcs.Queue methods, which take a bare node, it operates on a
// *Handle, since the successor-wake step for MCS needs the releasing
// goroutine's own node, while CLH's needs none (it walks from tail).
type queuePolicy interface {
	enqueueAndAcquire(h *Handle, try func() bool, ws waitstrategy.WaitStrategy, cancel waitstrategy.CancelFlag) error
	enqueueAndAcquireTimeout(h *Handle, try func() bool, ws waitstrategy.WaitStrategy, cancel waitstrategy.CancelFlag, deadline time.Time) (bool, error)
	unparkSuccessor(h *Handle)
}

// QueueKind selects one of the two queueing disciplines spec.md §2
// describes as pluggable.
type QueueKind int

const (
	// QueueCLH selects the CLH queue policy (package clh): each waiter
	// spins on its predecessor's node.
	QueueCLH QueueKind = iota
	// QueueMCS selects the MCS queue policy (package mcs): each waiter
	// spins on its own node.
	QueueMCS
)

type clhPolicy struct{ q *clh.Queue }

func (p clhPolicy) enqueueAndAcquire(h *Handle, try func() bool, ws waitstrategy.WaitStrategy, cancel waitstrategy.CancelFlag) error {
	return p.q.EnqueueAndAcquire(h.clhNode, try, ws, cancel)
}

func (p clhPolicy) enqueueAndAcquireTimeout(h *Handle, try func() bool, ws waitstrategy.WaitStrategy, cancel waitstrategy.CancelFlag, deadline time.Time) (bool, error) {
	return p.q.EnqueueAndAcquireTimeout(h.clhNode, try, ws, cancel, deadline)
}

func (p clhPolicy) unparkSuccessor(h *Handle) {
	p.q.UnparkSuccessor()
}

type mcsPolicy struct{ q *mcs.Queue }

func (p mcsPolicy) enqueueAndAcquire(h *Handle, try func() bool, ws waitstrategy.WaitStrategy, cancel waitstrategy.CancelFlag) error {
	return p.q.EnqueueAndAcquire(h.mcsNode, try, ws, cancel)
}

func (p mcsPolicy) enqueueAndAcquireTimeout(h *Handle, try func() bool, ws waitstrategy.WaitStrategy, cancel waitstrategy.CancelFlag, deadline time.Time) (bool, error) {
	return p.q.EnqueueAndAcquireTimeout(h.mcsNode, try, ws, cancel, deadline)
}

func (p mcsPolicy) unparkSuccessor(h *Handle) {
	p.q.Unlock(h.mcsNode)
}
