package mempool

import (
	"math"
	"sync/atomic"
)

// Gate states. A non-negative value counts operations in flight.
const (
	gateExclusive int64 = -1
	gateReleased  int64 = math.MinInt64
)

// gate guards an allocator whose maintenance operations (Reset, Release)
// must not overlap ordinary operations. It never blocks: a conflicting caller
// gets ErrBusy and may retry.
type gate struct {
	state atomic.Int64
}

// enter registers an in-flight operation.
func (g *gate) enter() error {
	for {
		s := g.state.Load()
		switch {
		case s == gateReleased:
			return ErrReleased
		case s < 0:
			return ErrBusy
		}
		if g.state.CompareAndSwap(s, s+1) {
			return nil
		}
	}
}

func (g *gate) exit() {
	g.state.Add(-1)
}

// lock takes the gate exclusively. It succeeds only when nothing is in
// flight; unlock must follow.
func (g *gate) lock() error {
	if g.state.CompareAndSwap(0, gateExclusive) {
		return nil
	}
	if g.state.Load() == gateReleased {
		return ErrReleased
	}
	return ErrBusy
}

func (g *gate) unlock() {
	g.state.Store(0)
}

// close moves the gate to its terminal state. Every later call fails with
// ErrReleased.
func (g *gate) close() error {
	if g.state.CompareAndSwap(0, gateReleased) {
		return nil
	}
	if g.state.Load() == gateReleased {
		return ErrReleased
	}
	return ErrBusy
}

func (g *gate) closed() bool {
	return g.state.Load() == gateReleased
}

// inflight returns the number of operations currently inside the gate.
func (g *gate) inflight() int64 {
	if s := g.state.Load(); s > 0 {
		return s
	}
	return 0
}
