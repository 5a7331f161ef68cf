package interceptors

import (
	"sync"
	"time"

	"github.com/gokit/errors"

	"github.com/gokit/connkit"
)

// ErrOpenedCircuit is wrapped into the rejection of connections arriving
// while a circuit is open.
var ErrOpenedCircuit = errors.New("circuit is opened")

// Circuit defines configuration values which will be used
// by CircuitBreaker for it's operations.
type Circuit struct {
	// MaxFailures sets giving maximum failure threshold allowed
	// before circuit enters open state.
	//
	// Defaults to 5.
	MaxFailures int

	// HalfOpenSuccess sets giving minimum successfully handled
	// connections before a half open circuit closes.
	//
	// Defaults to 1.
	HalfOpenSuccess int

	// MinCoolDown sets minimum time for circuit to be in open state
	// before we allow another attempt into half open state.
	//
	// Defaults to 15 seconds.
	MinCoolDown time.Duration

	// MaxCoolDown caps the cool down which grows with every failure
	// seen while half open.
	//
	// Defaults to 60 seconds.
	MaxCoolDown time.Duration

	// Now provides the current time.
	//
	// Defaults to time.Now.
	Now func() time.Time

	// CanTrigger reports whether an error counts against the circuit.
	//
	// Defaults to a function that always returns true.
	CanTrigger func(error) bool

	// OnTrip is called every time the circuit opens.
	OnTrip func(name string, lastError error)

	// OnClose is called when the circuit closes again.
	OnClose func(name string)
}

func (cb *Circuit) init() {
	if cb.MaxFailures <= 0 {
		cb.MaxFailures = 5
	}
	if cb.HalfOpenSuccess <= 0 {
		cb.HalfOpenSuccess = 1
	}
	if cb.MinCoolDown <= 0 {
		cb.MinCoolDown = 15 * time.Second
	}
	if cb.MaxCoolDown <= 0 {
		cb.MaxCoolDown = 60 * time.Second
	}
	if cb.Now == nil {
		cb.Now = time.Now
	}
	if cb.CanTrigger == nil {
		cb.CanTrigger = func(error) bool {
			return true
		}
	}
}

//***********************************************************
// CircuitBreaker
//***********************************************************

// CircuitBreaker tracks the outcome of handled connections, opening once
// too many failed in a row. While open connections are rejected till the
// cool down passes, after which the circuit is half open and lets
// connections through to probe whether handling recovered.
type CircuitBreaker struct {
	name    string
	circuit Circuit

	cl           sync.Mutex
	opened       bool
	lastOpened   time.Time
	nextCoolDown time.Duration
	failures     int
	passes       int
	halfFailures int
}

// NewCircuitBreaker returns a new instance of CircuitBreaker.
func NewCircuitBreaker(name string, circuit Circuit) *CircuitBreaker {
	circuit.init()
	return &CircuitBreaker{name: name, circuit: circuit}
}

// IsOpened returns true/false if circuit is in opened state.
func (cb *CircuitBreaker) IsOpened() bool {
	cb.cl.Lock()
	defer cb.cl.Unlock()
	return cb.opened
}

// Allow reports whether a connection may be handled now.
func (cb *CircuitBreaker) Allow() bool {
	cb.cl.Lock()
	defer cb.cl.Unlock()

	if !cb.opened {
		return true
	}

	now := cb.circuit.Now()
	if now.Sub(cb.lastOpened) < cb.nextCoolDown {
		return false
	}

	cb.lastOpened = now
	return true
}

// Record registers the outcome of a handled connection.
func (cb *CircuitBreaker) Record(err error) {
	if err != nil && !cb.circuit.CanTrigger(err) {
		err = nil
	}

	cb.cl.Lock()
	var tripped, closed bool
	switch {
	case err == nil && cb.opened:
		closed = cb.halfOpenSuccess()
	case err == nil:
		cb.failures = 0
	case cb.opened:
		tripped = cb.halfOpenFailure()
	default:
		tripped = cb.failure()
	}
	cb.cl.Unlock()

	if tripped && cb.circuit.OnTrip != nil {
		cb.circuit.OnTrip(cb.name, err)
	}
	if closed && cb.circuit.OnClose != nil {
		cb.circuit.OnClose(cb.name)
	}
}

func (cb *CircuitBreaker) failure() bool {
	cb.failures++
	if cb.failures < cb.circuit.MaxFailures {
		return false
	}

	cb.opened = true
	cb.passes = 0
	cb.halfFailures = 0
	cb.lastOpened = cb.circuit.Now()
	cb.nextCoolDown = cb.circuit.MinCoolDown
	return true
}

func (cb *CircuitBreaker) halfOpenSuccess() bool {
	cb.passes++
	if cb.passes < cb.circuit.HalfOpenSuccess {
		return false
	}

	cb.opened = false
	cb.failures = 0
	cb.passes = 0
	cb.halfFailures = 0
	cb.nextCoolDown = cb.circuit.MinCoolDown
	return true
}

func (cb *CircuitBreaker) halfOpenFailure() bool {
	cb.halfFailures++
	cb.passes = 0
	cb.lastOpened = cb.circuit.Now()

	cb.nextCoolDown = cb.circuit.MinCoolDown * time.Duration(cb.halfFailures+1)
	if cb.nextCoolDown > cb.circuit.MaxCoolDown {
		cb.nextCoolDown = cb.circuit.MaxCoolDown
	}
	return true
}

// Break rejects connections with connkit.ErrRejected while cb is open and
// records the outcome of every connection it lets through.
func Break[I, O any](cb *CircuitBreaker, logs connkit.Logs) connkit.Interceptor[I, O, I, O] {
	return func(next connkit.Handler[I, O]) connkit.Handler[I, O] {
		return connkit.HandlerFunc[I, O](func(c connkit.Connection[I, O]) *connkit.Future {
			if !cb.Allow() {
				connkit.LogMsg("Circuit opened, rejecting connection").
					String("circuit", cb.name).
					String("connection", c.ID()).
					WriteWarn(logs)
				return connkit.Rejected(errors.Wrap(connkit.ErrRejected, "%s: %s", cb.name, ErrOpenedCircuit.Error()))
			}

			future := next.Handle(c)
			future.Watch(cb.Record)
			return future
		})
	}
}
