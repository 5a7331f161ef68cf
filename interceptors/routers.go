package interceptors

import (
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/gokit/errors"
	"github.com/serialx/hashring"

	"github.com/gokit/connkit"
)

// ErrNoRoute is returned when a router has no handler to pick.
var ErrNoRoute = errors.New("no handler available for connection")

//***********************************************************
// HashedRouter
//***********************************************************

// HashedRouter implements a handler which routes a connection to one of
// a set of named handlers based on a hash ring over the connection id, so
// the same id always lands on the same handler.
type HashedRouter[I, O any] struct {
	rl       sync.RWMutex
	hashing  *hashring.HashRing
	handlers map[string]connkit.Handler[I, O]
}

// NewHashedRouter returns a new instance of HashedRouter.
func NewHashedRouter[I, O any](routes map[string]connkit.Handler[I, O]) *HashedRouter[I, O] {
	names := make([]string, 0, len(routes))
	handlers := make(map[string]connkit.Handler[I, O], len(routes))
	for name, handler := range routes {
		names = append(names, name)
		handlers[name] = handler
	}
	sort.Strings(names)

	return &HashedRouter[I, O]{
		hashing:  hashring.New(names),
		handlers: handlers,
	}
}

// Add adds a named handler to the ring.
func (hr *HashedRouter[I, O]) Add(name string, handler connkit.Handler[I, O]) {
	hr.rl.Lock()
	defer hr.rl.Unlock()

	if _, ok := hr.handlers[name]; !ok {
		hr.hashing = hr.hashing.AddNode(name)
	}
	hr.handlers[name] = handler
}

// Remove removes the named handler from the ring.
func (hr *HashedRouter[I, O]) Remove(name string) {
	hr.rl.Lock()
	defer hr.rl.Unlock()

	if _, ok := hr.handlers[name]; !ok {
		return
	}
	hr.hashing = hr.hashing.RemoveNode(name)
	delete(hr.handlers, name)
}

// Route returns the name of the handler the given id maps to.
func (hr *HashedRouter[I, O]) Route(id string) (string, bool) {
	hr.rl.RLock()
	defer hr.rl.RUnlock()
	return hr.hashing.GetNode(id)
}

// Handle implements connkit.Handler.
func (hr *HashedRouter[I, O]) Handle(c connkit.Connection[I, O]) *connkit.Future {
	hr.rl.RLock()
	name, ok := hr.hashing.GetNode(c.ID())
	handler := hr.handlers[name]
	hr.rl.RUnlock()

	if !ok || handler == nil {
		return connkit.Rejected(errors.Wrap(ErrNoRoute, "connection %q", c.ID()))
	}
	return handler.Handle(c)
}

//***********************************************************
// RoundRobinRouter
//***********************************************************

// RoundRobinRouter implements a handler which hands connections to its
// handlers in turn.
type RoundRobinRouter[I, O any] struct {
	lastIndex int32
	rl        sync.RWMutex
	handlers  []connkit.Handler[I, O]
}

// NewRoundRobinRouter returns a new instance of RoundRobinRouter.
func NewRoundRobinRouter[I, O any](handlers ...connkit.Handler[I, O]) *RoundRobinRouter[I, O] {
	return &RoundRobinRouter[I, O]{lastIndex: -1, handlers: handlers}
}

// Add appends a handler to the rotation.
func (rr *RoundRobinRouter[I, O]) Add(handler connkit.Handler[I, O]) {
	rr.rl.Lock()
	defer rr.rl.Unlock()
	rr.handlers = append(rr.handlers, handler)
}

// Total returns current total of handlers in rotation.
func (rr *RoundRobinRouter[I, O]) Total() int {
	rr.rl.RLock()
	defer rr.rl.RUnlock()
	return len(rr.handlers)
}

// Handle implements connkit.Handler.
func (rr *RoundRobinRouter[I, O]) Handle(c connkit.Connection[I, O]) *connkit.Future {
	rr.rl.RLock()
	total := int32(len(rr.handlers))
	if total == 0 {
		rr.rl.RUnlock()
		return connkit.Rejected(errors.Wrap(ErrNoRoute, "connection %q", c.ID()))
	}

	next := atomic.AddInt32(&rr.lastIndex, 1)
	if next < 0 {
		atomic.StoreInt32(&rr.lastIndex, 0)
		next = 0
	}
	handler := rr.handlers[next%total]
	rr.rl.RUnlock()

	return handler.Handle(c)
}

//***********************************************************
// RandomRouter
//***********************************************************

// RandomRouter implements a handler which picks a random handler for each
// connection. It uses the math/rand package, which is not truly random.
type RandomRouter[I, O any] struct {
	handlers []connkit.Handler[I, O]
}

// NewRandomRouter returns a new instance of RandomRouter.
func NewRandomRouter[I, O any](handlers ...connkit.Handler[I, O]) *RandomRouter[I, O] {
	return &RandomRouter[I, O]{handlers: handlers}
}

// Handle implements connkit.Handler.
func (rr *RandomRouter[I, O]) Handle(c connkit.Connection[I, O]) *connkit.Future {
	if len(rr.handlers) == 0 {
		return connkit.Rejected(errors.Wrap(ErrNoRoute, "connection %q", c.ID()))
	}
	return rr.handlers[rand.Intn(len(rr.handlers))].Handle(c)
}
