package connkit

import "sync/atomic"

// BatchPublisher adapts a Publisher for write I/O by requesting a flush
// from the writing subscriber after every k-th emitted element.
//
// By default the flush fires once, after the k-th element, and the adapter
// then disarms itself. Rearm makes it fire after every k elements.
type BatchPublisher[T any] struct {
	src   Publisher[T]
	count int64
	rearm bool
}

// Batch wraps p so that a flush is requested after k elements. A k of
// zero or less never requests a flush.
func Batch[T any](p Publisher[T], k int) *BatchPublisher[T] {
	return &BatchPublisher[T]{src: p, count: int64(k)}
}

// Rearm configures the publisher to keep flushing every k elements instead
// of only once.
func (bp *BatchPublisher[T]) Rearm() *BatchPublisher[T] {
	bp.rearm = true
	return bp
}

// Subscribe implements Publisher. Without a flusher there is nothing to
// batch for, so s subscribes to the underline publisher directly.
func (bp *BatchPublisher[T]) Subscribe(s Subscriber[T]) error {
	return bp.src.Subscribe(s)
}

// SubscribeWrite implements WriteSource, invoking flush on the batch
// boundaries.
func (bp *BatchPublisher[T]) SubscribeWrite(s Subscriber[T], flush Flusher) error {
	if bp.count <= 0 || flush == nil {
		return bp.src.Subscribe(s)
	}
	return bp.src.Subscribe(&batchSubscriber[T]{
		dest:  s,
		flush: flush,
		size:  bp.count,
		rearm: bp.rearm,
	})
}

type batchSubscriber[T any] struct {
	dest     Subscriber[T]
	flush    Flusher
	size     int64
	rearm    bool
	seen     int64
	disarmed AtomicBool
}

func (bs *batchSubscriber[T]) OnSubscription(s Subscription) {
	bs.dest.OnSubscription(s)
}

func (bs *batchSubscriber[T]) OnNext(v T) {
	bs.dest.OnNext(v)
	if bs.disarmed.IsTrue() {
		return
	}

	if atomic.AddInt64(&bs.seen, 1)%bs.size != 0 {
		return
	}

	if !bs.rearm {
		bs.disarmed.On()
	}
	bs.flush()
}

func (bs *batchSubscriber[T]) OnError(err error) {
	bs.dest.OnError(err)
}

func (bs *batchSubscriber[T]) OnCompletion() {
	bs.dest.OnCompletion()
}
