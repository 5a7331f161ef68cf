package connkit

import (
	"context"
	"sync"

	"github.com/gokit/errors"
	"github.com/gokit/es"
	"github.com/gokit/xid"
)

// FutureResolved is published to watchers of a Future once it settles.
type FutureResolved struct {
	ID  string
	Err error
}

// Future implements a single-assignment completion signal. It is resolved
// at most once, either successfully or with an error, and can be observed
// by any number of watchers and subscribers.
//
// Future is a multicast Publisher[Void]: every subscriber receives
// OnCompletion or OnError once it settles.
type Future struct {
	id     xid.ID
	events es.EventStream
	done   chan struct{}

	cw       sync.Mutex
	resolved bool
	err      error
}

// NewFuture returns a new unresolved Future.
func NewFuture() *Future {
	return &Future{
		id:     xid.New(),
		events: es.New(),
		done:   make(chan struct{}),
	}
}

// Resolved returns a Future already resolved successfully.
func Resolved() *Future {
	f := NewFuture()
	f.Resolve()
	return f
}

// Rejected returns a Future already failed with err.
func Rejected(err error) *Future {
	f := NewFuture()
	f.Reject(err)
	return f
}

// ID returns the unique id of giving Future.
func (f *Future) ID() string {
	return f.id.String()
}

// Resolve settles the future successfully. It returns false if the future
// was already settled.
func (f *Future) Resolve() bool {
	return f.Complete(nil)
}

// Reject settles the future with err. A nil err is replaced with
// ErrConnectionClosed as a rejection must carry a cause.
func (f *Future) Reject(err error) bool {
	if err == nil {
		err = errors.WrapOnly(ErrConnectionClosed)
	}
	return f.Complete(err)
}

// Complete settles the future with the provided error, nil meaning
// success. Only the first call wins, later ones return false.
func (f *Future) Complete(err error) bool {
	f.cw.Lock()
	if f.resolved {
		f.cw.Unlock()
		return false
	}
	f.resolved = true
	f.err = err
	close(f.done)
	f.cw.Unlock()

	f.events.Publish(FutureResolved{ID: f.id.String(), Err: err})
	return true
}

// IsResolved returns true/false if future has settled.
func (f *Future) IsResolved() bool {
	f.cw.Lock()
	defer f.cw.Unlock()
	return f.resolved
}

// Err returns the error the future failed with, nil if it succeeded or
// is yet to settle.
func (f *Future) Err() error {
	f.cw.Lock()
	defer f.cw.Unlock()
	return f.err
}

// Done returns a channel closed once the future settles.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks till the giving future is resolved and returns error if
// occurred.
func (f *Future) Wait() error {
	<-f.done
	return f.Err()
}

// WaitContext blocks till the future settles or the context ends.
func (f *Future) WaitContext(ctx context.Context) error {
	select {
	case <-f.done:
		return f.Err()
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "Future %q still pending", f.ID())
	}
}

// Watch registers fn to be called once with the future's outcome. If the
// future has already settled fn runs immediately in the calling goroutine,
// else it runs in the goroutine that settles it.
func (f *Future) Watch(fn func(error)) {
	var once sync.Once
	call := func(err error) {
		once.Do(func() { fn(err) })
	}

	f.cw.Lock()
	if f.resolved {
		err := f.err
		f.cw.Unlock()
		call(err)
		return
	}

	f.events.Subscribe(func(m interface{}) {
		if res, ok := m.(FutureResolved); ok {
			call(res.Err)
		}
	})
	f.cw.Unlock()
}

// Pipe settles all provided futures with the outcome of this one.
func (f *Future) Pipe(others ...*Future) {
	f.Watch(func(err error) {
		for _, other := range others {
			other.Complete(err)
		}
	})
}

// Subscribe implements Publisher[Void]. Any number of subscribers may
// subscribe, each gets its own subscription which may be stopped to
// ignore the outcome. Demand is not needed to receive the terminal signal
// but Next must still be called with a positive value.
func (f *Future) Subscribe(s Subscriber[Void]) error {
	sub := &futureSubscription{subscriber: s}
	s.OnSubscription(sub)
	f.Watch(func(err error) {
		if !sub.sig.terminate() {
			return
		}
		if err != nil {
			s.OnError(err)
			return
		}
		s.OnCompletion()
	})
	return nil
}

type futureSubscription struct {
	sig        signal
	subscriber Subscriber[Void]
}

func (fs *futureSubscription) Next(n int64) {
	if n > 0 {
		return
	}
	if fs.sig.terminate() {
		fs.subscriber.OnError(errors.WrapOnly(ErrInvalidDemand))
	}
}

func (fs *futureSubscription) Stop() {
	fs.sig.stop()
}
