package connkit

import (
	"sync/atomic"
)

// closedDemand is the demand value of a stopped subscription.
const closedDemand int64 = -1

//*****************************************************************
// Demand
//*****************************************************************

// Demand implements a safe atomic credit counter held by a producer.
// Additions saturate at Unbounded, once closed no value change is
// accepted.
type Demand struct {
	count int64
}

// Get returns the current credit, -1 when closed.
func (d *Demand) Get() int64 {
	return atomic.LoadInt64(&d.count)
}

// Add increases credit by n returning the credit before the change.
// n must be positive.
func (d *Demand) Add(n int64) int64 {
	for {
		current := atomic.LoadInt64(&d.count)
		if current == closedDemand || current == Unbounded {
			return current
		}

		next := current + n
		if next < current {
			next = Unbounded
		}

		if atomic.CompareAndSwapInt64(&d.count, current, next) {
			return current
		}
	}
}

// Take consumes one unit of credit, returning false if none is available.
// An unbounded demand is never consumed.
func (d *Demand) Take() bool {
	for {
		current := atomic.LoadInt64(&d.count)
		if current <= 0 {
			return false
		}
		if current == Unbounded {
			return true
		}
		if atomic.CompareAndSwapInt64(&d.count, current, current-1) {
			return true
		}
	}
}

// Close moves the demand into its closed state, returning true only for
// the call that closed it.
func (d *Demand) Close() bool {
	return atomic.SwapInt64(&d.count, closedDemand) != closedDemand
}

// IsClosed returns true/false if demand was closed.
func (d *Demand) IsClosed() bool {
	return atomic.LoadInt64(&d.count) == closedDemand
}

//*****************************************************************
// signal
//*****************************************************************

const (
	signalActive int32 = iota
	signalStopped
	signalTerminated
)

// signal tracks the terminal state of a single subscription so that a
// subscriber sees at most one terminal signal and nothing after Stop.
type signal struct {
	state int32
}

// stop marks subscription as stopped, returning true for the first call.
func (s *signal) stop() bool {
	return atomic.CompareAndSwapInt32(&s.state, signalActive, signalStopped)
}

// terminate claims the right to deliver a terminal signal.
func (s *signal) terminate() bool {
	return atomic.CompareAndSwapInt32(&s.state, signalActive, signalTerminated)
}

// active returns true/false if signals may still be delivered.
func (s *signal) active() bool {
	return atomic.LoadInt32(&s.state) == signalActive
}

//*****************************************************************
// AtomicBool
//*****************************************************************

// AtomicBool implements a safe atomic boolean.
type AtomicBool struct {
	flag int32
}

// IsTrue returns true/false if giving atomic bool is in true state.
func (a *AtomicBool) IsTrue() bool {
	return atomic.LoadInt32(&a.flag) == 1
}

// On sets the atomic bool as true, returning true if it was false before.
func (a *AtomicBool) On() bool {
	return atomic.CompareAndSwapInt32(&a.flag, 0, 1)
}

// Off sets the atomic bool as false.
func (a *AtomicBool) Off() {
	atomic.StoreInt32(&a.flag, 0)
}
