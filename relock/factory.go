package relock

import (
	"github.com/kdalton/relock/clh"
	"github.com/kdalton/relock/mcs"
	"github.com/kdalton/relock/waitstrategy"
)

// defaultSpins is a middle-of-the-road spin count for the default wait
// strategy: enough to absorb a very short critical section without
// parking, not so much that a long-held lock burns a core pointlessly.
const defaultSpins = 64

// config collects the construction-time choices New assembles into a
// Lock. It is deliberately unexported: callers build one with Option
// values, the way the teacher's array lock takes its goroutine count as a
// constructor argument rather than a mutable field.
type config struct {
	queue QueueKind
	ws    waitstrategy.WaitStrategy
	fair  bool
}

// Option configures a Lock at construction time.
type Option func(*config)

// WithQueue selects the queueing discipline. The default is QueueCLH.
func WithQueue(k QueueKind) Option {
	return func(c *config) { c.queue = k }
}

// WithWaitStrategy selects the waiting discipline. The default is
// SpinThenPark(defaultSpins).
func WithWaitStrategy(ws waitstrategy.WaitStrategy) Option {
	return func(c *config) { c.ws = ws }
}

// WithFair selects fair (strict FIFO, no barging) or non-fair (barging
// permitted) mode. The default is fair.
func WithFair(fair bool) Option {
	return func(c *config) { c.fair = fair }
}

// New constructs a Lock from the given options.
func New(opts ...Option) *Lock {
	cfg := config{queue: QueueCLH, fair: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	ws := cfg.ws
	if ws == nil {
		ws, _ = waitstrategy.NewSpinThenPark(defaultSpins)
	}

	var policy queuePolicy
	switch cfg.queue {
	case QueueMCS:
		policy = mcsPolicy{q: mcs.NewQueue()}
	default:
		policy = clhPolicy{q: clh.NewQueue()}
	}

	return &Lock{fair: cfg.fair, policy: policy, ws: ws}
}

// PresetCLHFairSpinThenPark returns the "CLH fair with spin-then-park"
// preset from spec.md §6.
func PresetCLHFairSpinThenPark() *Lock {
	ws, _ := waitstrategy.NewSpinThenPark(defaultSpins)
	return New(WithQueue(QueueCLH), WithFair(true), WithWaitStrategy(ws))
}

// PresetMCSFairSpinThenPark returns the "MCS fair with spin-then-park"
// preset from spec.md §6.
func PresetMCSFairSpinThenPark() *Lock {
	ws, _ := waitstrategy.NewSpinThenPark(defaultSpins)
	return New(WithQueue(QueueMCS), WithFair(true), WithWaitStrategy(ws))
}

// PresetCLHNonFairBusySpin returns the "CLH non-fair with busy-spin"
// preset from spec.md §6.
func PresetCLHNonFairBusySpin() *Lock {
	ws, _ := waitstrategy.NewBusySpin(defaultSpins)
	return New(WithQueue(QueueCLH), WithFair(false), WithWaitStrategy(ws))
}
