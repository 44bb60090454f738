package orchestrator

import (
	"errors"
	"sync/atomic"
)

// ErrAlreadyRunning is returned by JobGate.Acquire when a run or discovery
// crawl is already in flight.
var ErrAlreadyRunning = errors.New("orchestrator: a run is already in flight")

// JobGate is the process-level single-in-flight-job flag: at most one
// capture run or discovery crawl may be active at a time. Every start path
// must check-and-set it atomically; every terminal path must release it.
type JobGate struct {
	inFlight atomic.Bool
}

// Acquire claims the gate, or returns ErrAlreadyRunning if it is already
// held.
func (g *JobGate) Acquire() error {
	if !g.inFlight.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	return nil
}

// Release frees the gate. Safe to call even if Acquire was never called.
func (g *JobGate) Release() {
	g.inFlight.Store(false)
}

// Running reports whether the gate is currently held.
func (g *JobGate) Running() bool {
	return g.inFlight.Load()
}
