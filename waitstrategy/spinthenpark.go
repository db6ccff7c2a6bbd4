package waitstrategy

import "time"

// parkInterval is the fixed park duration spec.md §4.1 prescribes for
// SpinThenPark: a precise sleep, not a scheduler yield.
const parkInterval = time.Microsecond

// SpinThenPark spins briefly and then parks for a short, bounded interval.
// Unlike BusySpin it gives the Go scheduler a real chance to run other
// goroutines on the same OS thread, at the cost of park/unpark latency.
type SpinThenPark struct {
	spins int
}

// NewSpinThenPark constructs a SpinThenPark strategy that emits spins pause
// hints before parking. spins must be >= 0.
func NewSpinThenPark(spins int) (*SpinThenPark, error) {
	if spins < 0 {
		return nil, ErrInvalidArgument
	}
	return &SpinThenPark{spins: spins}, nil
}

// Await emits s.spins pause hints, then parks for parkInterval (or until
// wake is signalled, whichever comes first), then checks cancellation.
//
// The park step is a select over a timer and the caller-supplied wake
// channel rather than a bare time.Sleep, so that a queue's successor-wake
// step (package clh, package mcs) can cut the wait short instead of making
// the woken waiter sit out the rest of the microsecond. This mirrors the
// semaphore-plus-deadline-timer select in nsync's CV.WaitWithDeadline.
func (s *SpinThenPark) Await(cancel CancelFlag, wake <-chan struct{}) error {
	for i := 0; i < s.spins; i++ {
		pauseHint()
	}

	timer := time.NewTimer(parkInterval)
	select {
	case <-wake:
		if !timer.Stop() {
			<-timer.C
		}
	case <-timer.C:
	}

	if cancel != nil && cancel.TestAndClear() {
		return ErrInterrupted
	}
	return nil
}
