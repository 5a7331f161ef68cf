package connkit

import (
	"sync"
	"sync/atomic"

	"github.com/gokit/errors"
)

// ReadPublisher presents the inbound elements a Transport pushes as a
// demand-gated stream for exactly one subscriber.
//
// The transport's auto-read is switched off on construction, afterwards a
// single transport read is outstanding at a time while the subscriber has
// unmet demand. Once demand reaches Unbounded auto-read is switched back
// on. Elements which arrive without demand are held back till requested.
//
// Unlike the general protocol rule some transports tolerate, a request of
// zero is rejected with ErrInvalidDemand like any other non-positive value.
type ReadPublisher[T any] struct {
	transport Transport[T]
	wip       int32

	rl         sync.Mutex
	subscriber Subscriber[T]
	demand     int64
	reading    bool
	invalid    bool
	completed  bool
	terminated bool
	err        error
	backlog    []T
}

// NewReadPublisher returns a ReadPublisher reading from t.
func NewReadPublisher[T any](t Transport[T]) *ReadPublisher[T] {
	t.SetAutoRead(false)
	return &ReadPublisher[T]{transport: t}
}

// Subscribe implements Publisher. Only one subscriber is ever allowed.
func (r *ReadPublisher[T]) Subscribe(s Subscriber[T]) error {
	r.rl.Lock()
	if r.subscriber != nil {
		r.rl.Unlock()
		return errors.Wrap(ErrMultipleSubscription, "read stream of %q already subscribed", r.transport.ID())
	}
	r.subscriber = s
	r.rl.Unlock()

	s.OnSubscription(&readSubscription[T]{r: r})

	// a close or error which arrived before subscription is delivered now.
	r.drain()
	return nil
}

// HandleData takes one element delivered by the transport. It returns false
// if the stream is stopped or terminated and the element was not taken.
func (r *ReadPublisher[T]) HandleData(v T) bool {
	r.rl.Lock()
	if r.terminated || r.demand == closedDemand {
		r.rl.Unlock()
		return false
	}
	r.reading = false
	r.backlog = append(r.backlog, v)
	r.rl.Unlock()

	r.drain()
	return true
}

// HandleError fails the stream with err.
func (r *ReadPublisher[T]) HandleError(err error) {
	r.rl.Lock()
	if r.terminated || r.err != nil {
		r.rl.Unlock()
		return
	}
	r.err = err
	r.rl.Unlock()

	r.drain()
}

// HandleComplete completes the stream once already received elements are
// consumed.
func (r *ReadPublisher[T]) HandleComplete() {
	r.rl.Lock()
	r.completed = true
	r.rl.Unlock()

	r.drain()
}

// Demand returns the currently outstanding demand, -1 once stopped.
func (r *ReadPublisher[T]) Demand() int64 {
	r.rl.Lock()
	defer r.rl.Unlock()
	return r.demand
}

func (r *ReadPublisher[T]) request(n int64) {
	r.rl.Lock()
	if r.terminated || r.demand == closedDemand {
		r.rl.Unlock()
		return
	}

	if n <= 0 {
		r.invalid = true
		r.rl.Unlock()
		r.drain()
		return
	}

	// demand reaching Unbounded, requested outright or by saturating,
	// switches the transport to auto-read.
	wasUnbounded := r.demand == Unbounded
	if n >= Unbounded-r.demand {
		r.demand = Unbounded
	} else {
		r.demand += n
	}
	autoRead := !wasUnbounded && r.demand == Unbounded
	r.rl.Unlock()

	if autoRead {
		r.transport.SetAutoRead(true)
	}
	r.drain()
}

func (r *ReadPublisher[T]) stop() {
	r.rl.Lock()
	if r.demand == closedDemand {
		r.rl.Unlock()
		return
	}
	r.demand = closedDemand
	r.backlog = nil
	r.rl.Unlock()

	r.transport.Close()
}

// drain serializes every signal to the subscriber. Calls made while another
// goroutine or an outer frame is draining are folded into that drain.
func (r *ReadPublisher[T]) drain() {
	if atomic.AddInt32(&r.wip, 1) != 1 {
		return
	}

	missed := int32(1)
	for {
		r.emit()

		missed = atomic.AddInt32(&r.wip, -missed)
		if missed == 0 {
			return
		}
	}
}

func (r *ReadPublisher[T]) emit() {
	for {
		r.rl.Lock()
		sub := r.subscriber
		if sub == nil || r.terminated || r.demand == closedDemand {
			r.rl.Unlock()
			return
		}

		if r.invalid {
			r.terminated = true
			r.backlog = nil
			r.rl.Unlock()
			sub.OnError(errors.Wrap(ErrInvalidDemand, "invalid read request on %q", r.transport.ID()))
			return
		}

		if r.err != nil {
			err := r.err
			r.terminated = true
			r.backlog = nil
			r.rl.Unlock()
			sub.OnError(err)
			return
		}

		if len(r.backlog) > 0 && r.demand > 0 {
			var zero T
			item := r.backlog[0]
			r.backlog[0] = zero
			r.backlog = r.backlog[1:]
			if r.demand != Unbounded {
				r.demand--
			}
			r.rl.Unlock()

			sub.OnNext(item)
			continue
		}

		if len(r.backlog) == 0 && r.completed {
			r.terminated = true
			r.rl.Unlock()
			sub.OnCompletion()
			return
		}

		read := r.demand > 0 && r.demand != Unbounded && !r.reading && !r.completed && len(r.backlog) == 0
		if read {
			r.reading = true
		}
		r.rl.Unlock()

		if read {
			r.transport.Read()
		}
		return
	}
}

type readSubscription[T any] struct {
	r *ReadPublisher[T]
}

// Next requests n more inbound elements.
func (rs *readSubscription[T]) Next(n int64) {
	rs.r.request(n)
}

// Stop ends the read stream and closes the whole connection.
func (rs *readSubscription[T]) Stop() {
	rs.r.stop()
}
