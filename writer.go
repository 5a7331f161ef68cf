package connkit

import (
	"sync"
	"sync/atomic"

	"github.com/gokit/errors"
)

// writeCredit is the number of elements granted to an outbound stream per
// arbitration round. Transports able to absorb larger bursts could raise
// it, the arbitration loop does not depend on its value.
const writeCredit int64 = 1

// WriteCoordinator performs the transport writes of every outbound stream
// submitted to one connection under a single backpressure policy.
//
// Each stream holds at most writeCredit unconsumed credit. After a write,
// and on every writability change of the transport, one fresh credit is
// granted to the next ready stream in rotation, so concurrently active
// streams take turns on the socket. When no stream is ready the grant is
// simply skipped, the next write or writability change tries again. A
// stream finishing with credit it never used passes it on.
type WriteCoordinator[T any] struct {
	transport Transport[T]
	logs      Logs
	unflushed int64

	wl       sync.Mutex
	handlers []*writeHandler[T]
	cursor   int
	closed   bool
}

// NewWriteCoordinator returns a WriteCoordinator writing to t.
func NewWriteCoordinator[T any](t Transport[T], logs Logs) *WriteCoordinator[T] {
	if logs == nil {
		logs = DrainLog{}
	}
	return &WriteCoordinator[T]{transport: t, logs: logs}
}

// Submit subscribes to src and writes its elements, returning a Future
// settled once the last element was written, or failed if src fails, a
// write fails or the connection closes first.
func (w *WriteCoordinator[T]) Submit(src WriteSource[T]) *Future {
	h := &writeHandler[T]{coord: w, future: NewFuture(), credit: writeCredit}

	w.wl.Lock()
	if w.closed {
		w.wl.Unlock()
		h.future.Reject(errors.Wrap(ErrConnectionClosed, "write on closed connection %q", w.transport.ID()))
		return h.future
	}
	w.handlers = append(w.handlers, h)
	w.wl.Unlock()

	h.future.Watch(func(_ error) {
		w.remove(h)
	})

	if err := src.SubscribeWrite(h, w.Flush); err != nil {
		h.fail(err)
	}
	return h.future
}

// Active returns the number of outbound streams not yet settled.
func (w *WriteCoordinator[T]) Active() int {
	w.wl.Lock()
	defer w.wl.Unlock()
	return len(w.handlers)
}

// Flush asks the transport to flush if anything was written since the
// last flush.
func (w *WriteCoordinator[T]) Flush() {
	if atomic.SwapInt64(&w.unflushed, 0) > 0 {
		w.transport.Flush()
	}
}

// Writable must be called when the transport's writability changed, it
// grants one credit to the next ready stream.
func (w *WriteCoordinator[T]) Writable() {
	w.grant()
}

// Close fails all outbound streams still pending with ErrConnectionClosed
// and refuses new ones.
func (w *WriteCoordinator[T]) Close() {
	w.wl.Lock()
	if w.closed {
		w.wl.Unlock()
		return
	}
	w.closed = true
	pending := make([]*writeHandler[T], len(w.handlers))
	copy(pending, w.handlers)
	w.wl.Unlock()

	if len(pending) > 0 {
		LogMsg("Failing pending writes of closed connection").
			String("connection", w.transport.ID()).
			Int("pending", len(pending)).
			WriteDebug(w.logs)
	}

	for _, h := range pending {
		h.fail(errors.Wrap(ErrConnectionClosed, "connection %q closed before write completed", w.transport.ID()))
	}
}

// grant scans the active streams once, starting at the rotation cursor,
// and hands one credit to the first ready stream.
func (w *WriteCoordinator[T]) grant() {
	w.wl.Lock()
	total := len(w.handlers)
	for i := 0; i < total; i++ {
		index := (w.cursor + i) % total
		h := w.handlers[index]
		if !h.offer() {
			continue
		}

		w.cursor = (index + 1) % total
		sub := h.subscription
		w.wl.Unlock()

		sub.Next(writeCredit)
		return
	}
	w.wl.Unlock()
}

func (w *WriteCoordinator[T]) write(h *writeHandler[T], v T) {
	result := w.transport.Write(v)
	atomic.AddInt64(&w.unflushed, 1)
	h.last.Store(result)

	result.Watch(func(err error) {
		if err != nil {
			LogMsg("Transport write failed").
				String("connection", w.transport.ID()).
				Error(err).
				WriteWarn(w.logs)
			h.fail(errors.Wrap(ErrTransportWrite, "write on %q failed: %s", w.transport.ID(), err.Error()))
		}
	})

	if w.transport.IsWritable() {
		w.grant()
	}
}

func (w *WriteCoordinator[T]) remove(h *writeHandler[T]) {
	w.wl.Lock()
	defer w.wl.Unlock()

	for index, other := range w.handlers {
		if other != h {
			continue
		}

		w.handlers = append(w.handlers[:index], w.handlers[index+1:]...)
		if index < w.cursor {
			w.cursor--
		}
		if w.cursor >= len(w.handlers) {
			w.cursor = 0
		}
		return
	}
}

// finish marks h as done under the coordinator lock, so no credit is
// granted to it afterwards. Returns true for the first call, along with
// whether h still held credit it never used.
func (w *WriteCoordinator[T]) finish(h *writeHandler[T]) (first bool, held bool, sub Subscription) {
	w.wl.Lock()
	defer w.wl.Unlock()
	if h.done {
		return false, false, nil
	}
	h.done = true
	return true, atomic.SwapInt64(&h.credit, 0) > 0, h.subscription
}

// release passes credit left unused by a finished stream on to the next
// ready one.
func (w *WriteCoordinator[T]) release(held bool) {
	if held && w.transport.IsWritable() {
		w.grant()
	}
}

//*****************************************************************
// writeHandler
//*****************************************************************

// writeHandler subscribes to one outbound stream and turns its elements
// into transport writes.
type writeHandler[T any] struct {
	coord  *WriteCoordinator[T]
	future *Future
	credit int64
	last   atomic.Pointer[Future]

	// guarded by coord.wl.
	done         bool
	subscription Subscription
}

// offer grants a fresh credit if h is ready: subscribed, not finished and
// with no unconsumed credit. Must be called with coord.wl held.
func (h *writeHandler[T]) offer() bool {
	if h.done || h.subscription == nil {
		return false
	}
	if atomic.LoadInt64(&h.credit) > 0 {
		return false
	}
	atomic.StoreInt64(&h.credit, writeCredit)
	return true
}

func (h *writeHandler[T]) OnSubscription(s Subscription) {
	h.coord.wl.Lock()
	if h.subscription != nil || h.done {
		h.coord.wl.Unlock()
		s.Stop()
		return
	}
	h.subscription = s
	h.coord.wl.Unlock()

	if initial := atomic.LoadInt64(&h.credit); initial > 0 {
		s.Next(initial)
	}
}

func (h *writeHandler[T]) OnNext(v T) {
	h.coord.wl.Lock()
	done := h.done
	h.coord.wl.Unlock()
	if done {
		return
	}

	if atomic.AddInt64(&h.credit, -1) < 0 {
		atomic.StoreInt64(&h.credit, 0)
	}
	h.coord.write(h, v)
}

func (h *writeHandler[T]) OnError(err error) {
	first, held, _ := h.coord.finish(h)
	if !first {
		return
	}
	h.future.Reject(err)
	h.coord.release(held)
}

func (h *writeHandler[T]) OnCompletion() {
	first, held, _ := h.coord.finish(h)
	if !first {
		return
	}

	h.coord.Flush()
	h.coord.release(held)

	last := h.last.Load()
	if last == nil {
		h.future.Resolve()
		return
	}

	last.Watch(func(err error) {
		if err != nil {
			h.future.Reject(errors.Wrap(ErrTransportWrite, "write on %q failed: %s", h.coord.transport.ID(), err.Error()))
			return
		}
		h.future.Resolve()
	})
}

// fail stops the stream and rejects its future. A stream which already
// completed but still awaits its last write result is rejected too.
func (h *writeHandler[T]) fail(err error) {
	first, held, sub := h.coord.finish(h)
	if first && sub != nil {
		sub.Stop()
	}
	h.future.Reject(err)
	h.coord.release(held)
}
