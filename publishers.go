package connkit

import (
	"sync/atomic"

	"github.com/gokit/errors"
)

//*****************************************************************
// SingletonPublisher
//*****************************************************************

// Just returns a single-use Publisher which emits v on the first valid
// request and then completes.
func Just[T any](v T) Publisher[T] {
	return &singletonPublisher[T]{value: v, present: true}
}

// Empty returns a single-use Publisher which completes on the first valid
// request without emitting anything.
func Empty[T any]() Publisher[T] {
	return &singletonPublisher[T]{}
}

// Failed returns a single-use Publisher which fails with err on the first
// valid request.
func Failed[T any](err error) Publisher[T] {
	return &singletonPublisher[T]{err: err}
}

type singletonPublisher[T any] struct {
	value      T
	present    bool
	err        error
	subscribed AtomicBool
}

func (sp *singletonPublisher[T]) Subscribe(s Subscriber[T]) error {
	if !sp.subscribed.On() {
		return errors.WrapOnly(ErrMultipleSubscription)
	}
	s.OnSubscription(&singletonSubscription[T]{src: sp, subscriber: s})
	return nil
}

type singletonSubscription[T any] struct {
	sig        signal
	requested  AtomicBool
	src        *singletonPublisher[T]
	subscriber Subscriber[T]
}

func (ss *singletonSubscription[T]) Next(n int64) {
	if n <= 0 {
		if ss.sig.terminate() {
			ss.subscriber.OnError(errors.WrapOnly(ErrInvalidDemand))
		}
		return
	}

	// only the first valid request does anything.
	if !ss.requested.On() || !ss.sig.active() {
		return
	}

	if ss.src.err != nil {
		if ss.sig.terminate() {
			ss.subscriber.OnError(ss.src.err)
		}
		return
	}

	if ss.src.present {
		ss.subscriber.OnNext(ss.src.value)
	}

	if ss.sig.terminate() {
		ss.subscriber.OnCompletion()
	}
}

func (ss *singletonSubscription[T]) Stop() {
	ss.requested.On()
	ss.sig.stop()
}

//*****************************************************************
// SlicePublisher
//*****************************************************************

// FromSlice returns a single-use Publisher which emits items in order,
// never more than requested, and completes after the last one.
func FromSlice[T any](items ...T) Publisher[T] {
	return &slicePublisher[T]{items: items}
}

type slicePublisher[T any] struct {
	items      []T
	subscribed AtomicBool
}

func (sp *slicePublisher[T]) Subscribe(s Subscriber[T]) error {
	if !sp.subscribed.On() {
		return errors.WrapOnly(ErrMultipleSubscription)
	}
	s.OnSubscription(&sliceSubscription[T]{items: sp.items, subscriber: s})
	return nil
}

type sliceSubscription[T any] struct {
	wip        int32
	sig        signal
	demand     Demand
	invalid    AtomicBool
	index      int
	items      []T
	subscriber Subscriber[T]
}

func (ss *sliceSubscription[T]) Next(n int64) {
	if n <= 0 {
		ss.invalid.On()
	} else {
		ss.demand.Add(n)
	}
	ss.drain()
}

func (ss *sliceSubscription[T]) Stop() {
	ss.sig.stop()
	ss.demand.Close()
}

// drain emits as many items as demand allows. Only one goroutine drains at
// a time, requests made from within OnNext are picked up by the loop
// instead of recursing.
func (ss *sliceSubscription[T]) drain() {
	if atomic.AddInt32(&ss.wip, 1) != 1 {
		return
	}

	missed := int32(1)
	for {
		for ss.sig.active() {
			if ss.invalid.IsTrue() {
				if ss.sig.terminate() {
					ss.subscriber.OnError(errors.WrapOnly(ErrInvalidDemand))
				}
				break
			}

			if ss.index >= len(ss.items) {
				if ss.sig.terminate() {
					ss.subscriber.OnCompletion()
				}
				break
			}

			if !ss.demand.Take() {
				break
			}

			item := ss.items[ss.index]
			ss.index++
			ss.subscriber.OnNext(item)
		}

		missed = atomic.AddInt32(&ss.wip, -missed)
		if missed == 0 {
			return
		}
	}
}

//*****************************************************************
// Map
//*****************************************************************

// Map returns a Publisher which converts every element of p with fn.
// Errors and completion pass through unchanged, subscription rules are
// those of p.
func Map[T, R any](p Publisher[T], fn func(T) R) Publisher[R] {
	return &mapPublisher[T, R]{src: p, fn: fn}
}

// MapSource is Map for write sources, the flusher given by the writing
// subscriber is handed to src untouched.
func MapSource[T, R any](src WriteSource[T], fn func(T) R) WriteSource[R] {
	return &mapSource[T, R]{src: src, fn: fn}
}

// Source lifts a Publisher into a WriteSource which has no use for the
// flush capability.
func Source[T any](p Publisher[T]) WriteSource[T] {
	return plainSource[T]{p: p}
}

type plainSource[T any] struct {
	p Publisher[T]
}

func (ps plainSource[T]) SubscribeWrite(s Subscriber[T], _ Flusher) error {
	return ps.p.Subscribe(s)
}

type mapPublisher[T, R any] struct {
	src Publisher[T]
	fn  func(T) R
}

func (mp *mapPublisher[T, R]) Subscribe(s Subscriber[R]) error {
	return mp.src.Subscribe(&mapSubscriber[T, R]{dest: s, fn: mp.fn})
}

type mapSource[T, R any] struct {
	src WriteSource[T]
	fn  func(T) R
}

func (ms *mapSource[T, R]) SubscribeWrite(s Subscriber[R], flush Flusher) error {
	return ms.src.SubscribeWrite(&mapSubscriber[T, R]{dest: s, fn: ms.fn}, flush)
}

type mapSubscriber[T, R any] struct {
	dest Subscriber[R]
	fn   func(T) R
}

func (ms *mapSubscriber[T, R]) OnSubscription(s Subscription) { ms.dest.OnSubscription(s) }
func (ms *mapSubscriber[T, R]) OnNext(v T)                    { ms.dest.OnNext(ms.fn(v)) }
func (ms *mapSubscriber[T, R]) OnError(err error)             { ms.dest.OnError(err) }
func (ms *mapSubscriber[T, R]) OnCompletion()                 { ms.dest.OnCompletion() }
