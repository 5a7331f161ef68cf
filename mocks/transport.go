package mocks

import (
	"sync"

	"github.com/gokit/connkit"
)

// recorded operations.
const (
	OpRead        = "read"
	OpWrite       = "write"
	OpFlush       = "flush"
	OpClose       = "close"
	OpAutoReadOn  = "autoread:on"
	OpAutoReadOff = "autoread:off"
)

//****************************************
// Test Transport Implementation
//****************************************

// Transport implements connkit.Transport recording every call made on it.
// Writes settle immediately unless held or failed.
type Transport[T any] struct {
	id     string
	events connkit.Events[T]

	ml       sync.Mutex
	ops      []string
	writes   []T
	held     []*connkit.Future
	hold     bool
	writeErr error
	writable bool
	autoRead bool
	closed   bool
}

// NewTransport returns a writable Transport with id.
func NewTransport[T any](id string) *Transport[T] {
	return &Transport[T]{id: id, writable: true, autoRead: true}
}

// Bind sets the events notified when the transport closes, returning t.
func (t *Transport[T]) Bind(events connkit.Events[T]) *Transport[T] {
	t.ml.Lock()
	t.events = events
	t.ml.Unlock()
	return t
}

// Activate notifies the bound events of a new connection.
func (t *Transport[T]) Activate() {
	t.ml.Lock()
	events := t.events
	t.ml.Unlock()
	if events != nil {
		events.OnActive(t)
	}
}

// Receive delivers v to the bound events as inbound data.
func (t *Transport[T]) Receive(v T) bool {
	t.ml.Lock()
	events := t.events
	t.ml.Unlock()
	if events == nil {
		return false
	}
	return events.OnData(t, v)
}

func (t *Transport[T]) ID() string {
	return t.id
}

func (t *Transport[T]) SetAutoRead(on bool) {
	t.ml.Lock()
	defer t.ml.Unlock()
	t.autoRead = on
	if on {
		t.ops = append(t.ops, OpAutoReadOn)
		return
	}
	t.ops = append(t.ops, OpAutoReadOff)
}

func (t *Transport[T]) Read() {
	t.ml.Lock()
	defer t.ml.Unlock()
	t.ops = append(t.ops, OpRead)
}

func (t *Transport[T]) Write(v T) *connkit.Future {
	t.ml.Lock()
	defer t.ml.Unlock()

	t.ops = append(t.ops, OpWrite)
	t.writes = append(t.writes, v)

	if t.writeErr != nil {
		return connkit.Rejected(t.writeErr)
	}
	if t.hold {
		future := connkit.NewFuture()
		t.held = append(t.held, future)
		return future
	}
	return connkit.Resolved()
}

func (t *Transport[T]) Flush() {
	t.ml.Lock()
	defer t.ml.Unlock()
	t.ops = append(t.ops, OpFlush)
}

func (t *Transport[T]) IsWritable() bool {
	t.ml.Lock()
	defer t.ml.Unlock()
	return t.writable
}

// Close records the first call and notifies the bound events once.
func (t *Transport[T]) Close() error {
	t.ml.Lock()
	if t.closed {
		t.ml.Unlock()
		return nil
	}
	t.closed = true
	t.ops = append(t.ops, OpClose)
	events := t.events
	t.ml.Unlock()

	if events != nil {
		events.OnInactive(t)
	}
	return nil
}

// SetWritable changes the value IsWritable reports.
func (t *Transport[T]) SetWritable(writable bool) {
	t.ml.Lock()
	defer t.ml.Unlock()
	t.writable = writable
}

// FailWrites makes all following writes fail with err.
func (t *Transport[T]) FailWrites(err error) {
	t.ml.Lock()
	defer t.ml.Unlock()
	t.writeErr = err
}

// HoldWrites keeps following writes pending till Release.
func (t *Transport[T]) HoldWrites() {
	t.ml.Lock()
	defer t.ml.Unlock()
	t.hold = true
}

// Release settles all held writes with err and stops holding.
func (t *Transport[T]) Release(err error) {
	t.ml.Lock()
	held := t.held
	t.held = nil
	t.hold = false
	t.ml.Unlock()

	for _, future := range held {
		future.Complete(err)
	}
}

// Ops returns a copy of the recorded operations.
func (t *Transport[T]) Ops() []string {
	t.ml.Lock()
	defer t.ml.Unlock()
	ops := make([]string, len(t.ops))
	copy(ops, t.ops)
	return ops
}

// Count returns how many times op was recorded.
func (t *Transport[T]) Count(op string) int {
	t.ml.Lock()
	defer t.ml.Unlock()
	var total int
	for _, recorded := range t.ops {
		if recorded == op {
			total++
		}
	}
	return total
}

// Writes returns a copy of the written elements.
func (t *Transport[T]) Writes() []T {
	t.ml.Lock()
	defer t.ml.Unlock()
	writes := make([]T, len(t.writes))
	copy(writes, t.writes)
	return writes
}

// AutoRead returns the last auto-read setting.
func (t *Transport[T]) AutoRead() bool {
	t.ml.Lock()
	defer t.ml.Unlock()
	return t.autoRead
}

// IsClosed returns true/false if Close was called.
func (t *Transport[T]) IsClosed() bool {
	t.ml.Lock()
	defer t.ml.Unlock()
	return t.closed
}
