package connkit

// Transport is the push-based network collaborator a connection is bound
// to. Implementations deliver inbound elements and lifecycle changes to an
// Events sink and perform the actual I/O.
type Transport[T any] interface {
	// ID returns a unique identifier of the underline connection.
	ID() string

	// SetAutoRead switches continuous reading on or off. While off the
	// transport reads only when Read is called.
	SetAutoRead(bool)

	// Read requests one transport level read, whose result is delivered
	// through Events.OnData.
	Read()

	// Write queues v for writing, returning a Future settled with the
	// write's outcome. Queued writes may stay buffered till Flush.
	Write(v T) *Future

	// Flush pushes buffered writes to the network.
	Flush()

	// IsWritable reports whether the transport can take more writes
	// without exceeding its output buffer.
	IsWritable() bool

	// Close closes the connection. Events.OnInactive follows.
	Close() error
}

// Events receives notifications from a Transport. All notifications for
// one transport are expected in the order they occurred.
type Events[T any] interface {
	// OnActive is called once a new connection is established.
	OnActive(Transport[T])

	// OnData delivers one inbound element, returning false if nothing
	// consumed it.
	OnData(Transport[T], T) bool

	// OnWritable is called when the transport became writable again after
	// IsWritable reported false.
	OnWritable(Transport[T])

	// OnInactive is called once the connection is closed.
	OnInactive(Transport[T])

	// OnError reports a transport level fault.
	OnError(Transport[T], error)
}
