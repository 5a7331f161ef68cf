package connkit

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gokit/errors"
)

// Option configures a Binder.
type Option func(*options)

type options struct {
	logs Logs
}

// WithLogs sets the Logs used to report connection events.
func WithLogs(logs Logs) Option {
	return func(o *options) {
		o.logs = logs
	}
}

// Binder wires Transport events to an entry Handler. It implements Events:
// each new transport gets a Conn handed to the handler, and once the
// handler's Future settles the transport is closed.
type Binder[T any] struct {
	handler Handler[T, T]
	logs    Logs
	total   int64
	conns   sync.Map
}

// NewBinder returns a Binder invoking handler for every connection.
func NewBinder[T any](handler Handler[T, T], ops ...Option) *Binder[T] {
	var o options
	for _, op := range ops {
		op(&o)
	}
	if o.logs == nil {
		o.logs = DrainLog{}
	}
	return &Binder[T]{handler: handler, logs: o.logs}
}

// Conns returns the number of live connections.
func (b *Binder[T]) Conns() int {
	return int(atomic.LoadInt64(&b.total))
}

// OnActive implements Events.
func (b *Binder[T]) OnActive(t Transport[T]) {
	conn := NewConn(t, b.logs)
	b.conns.Store(t.ID(), conn)
	atomic.AddInt64(&b.total, 1)

	LogMsg("New connection").
		String("connection", t.ID()).
		WriteDebug(b.logs)

	b.invoke(conn).Watch(func(err error) {
		if err != nil {
			LogMsg("Connection handling failed").
				String("connection", t.ID()).
				Error(err).
				WriteError(b.logs)
		} else {
			LogMsg("Connection handling completed").
				String("connection", t.ID()).
				WriteDebug(b.logs)
		}

		if cerr := t.Close(); cerr != nil {
			LogMsg("Failed to close connection").
				String("connection", t.ID()).
				Error(cerr).
				WriteWarn(b.logs)
		}
	})
}

// OnData implements Events.
func (b *Binder[T]) OnData(t Transport[T], v T) bool {
	conn, ok := b.conn(t)
	if !ok {
		return false
	}
	return conn.reader.HandleData(v)
}

// OnWritable implements Events.
func (b *Binder[T]) OnWritable(t Transport[T]) {
	if conn, ok := b.conn(t); ok {
		conn.writer.Writable()
	}
}

// OnInactive implements Events.
func (b *Binder[T]) OnInactive(t Transport[T]) {
	item, ok := b.conns.LoadAndDelete(t.ID())
	if !ok {
		return
	}
	atomic.AddInt64(&b.total, -1)

	LogMsg("Connection closed").
		String("connection", t.ID()).
		WriteDebug(b.logs)

	conn := item.(*Conn[T])
	conn.reader.HandleComplete()
	conn.writer.Close()
}

// OnError implements Events. The error fails the read stream and the
// transport gets closed.
func (b *Binder[T]) OnError(t Transport[T], cause error) {
	conn, ok := b.conn(t)
	if !ok {
		return
	}

	LogMsg("Connection error").
		String("connection", t.ID()).
		Error(cause).
		WriteWarn(b.logs)

	conn.reader.HandleError(errors.Wrap(ErrTransportConnection, "connection %q: %s", t.ID(), cause.Error()))
	t.Close()
}

func (b *Binder[T]) conn(t Transport[T]) (*Conn[T], bool) {
	item, ok := b.conns.Load(t.ID())
	if !ok {
		return nil, false
	}
	return item.(*Conn[T]), true
}

// invoke runs the handler, turning a panic or a nil Future into a failed
// one.
func (b *Binder[T]) invoke(conn *Conn[T]) (future *Future) {
	defer func() {
		if r := recover(); r != nil {
			future = Rejected(errors.New("handler panicked: %s", fmt.Sprint(r)))
		}
	}()

	if future = b.handler.Handle(conn); future == nil {
		future = Rejected(errors.New("handler returned no future"))
	}
	return future
}
