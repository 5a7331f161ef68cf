package connkit

// Connection provides a reader for inbound data and accepts any number of
// outbound streams over its lifetime.
type Connection[I, O any] interface {
	// ID returns the unique id of the connection.
	ID() string

	// Reader returns the single-use inbound stream.
	Reader() Publisher[I]

	// Write submits an outbound stream, returning a Future settled once all
	// its elements were written or failed.
	Write(Publisher[O]) *Future

	// WriteWith submits an outbound stream which receives the connection's
	// flush capability, see Batch.
	WriteWith(WriteSource[O]) *Future
}

//*****************************************************************
// Conn
//*****************************************************************

// Conn is the Connection bound to a Transport, pairing a ReadPublisher
// with a WriteCoordinator.
type Conn[T any] struct {
	transport Transport[T]
	reader    *ReadPublisher[T]
	writer    *WriteCoordinator[T]
}

// NewConn returns a new Conn for t.
func NewConn[T any](t Transport[T], logs Logs) *Conn[T] {
	return &Conn[T]{
		transport: t,
		reader:    NewReadPublisher(t),
		writer:    NewWriteCoordinator(t, logs),
	}
}

// ID returns the transport id.
func (c *Conn[T]) ID() string {
	return c.transport.ID()
}

// Reader implements Connection.
func (c *Conn[T]) Reader() Publisher[T] {
	return c.reader
}

// Write implements Connection.
func (c *Conn[T]) Write(p Publisher[T]) *Future {
	return c.writer.Submit(Source(p))
}

// WriteWith implements Connection.
func (c *Conn[T]) WriteWith(src WriteSource[T]) *Future {
	return c.writer.Submit(src)
}

// Transport returns the underline transport.
func (c *Conn[T]) Transport() Transport[T] {
	return c.transport
}

// ReadStream returns the read adapter of the connection.
func (c *Conn[T]) ReadStream() *ReadPublisher[T] {
	return c.reader
}

// Writer returns the write coordinator of the connection.
func (c *Conn[T]) Writer() *WriteCoordinator[T] {
	return c.writer
}

//*****************************************************************
// MapConnection
//*****************************************************************

// MapConnection adapts c to different element types, converting inbound
// elements with in and outbound elements with out. Errors and completion
// signals pass through unchanged.
func MapConnection[I, O, II, OO any](c Connection[I, O], in func(I) II, out func(OO) O) Connection[II, OO] {
	return &mappedConnection[I, O, II, OO]{src: c, in: in, out: out}
}

type mappedConnection[I, O, II, OO any] struct {
	src Connection[I, O]
	in  func(I) II
	out func(OO) O
}

func (mc *mappedConnection[I, O, II, OO]) ID() string {
	return mc.src.ID()
}

func (mc *mappedConnection[I, O, II, OO]) Reader() Publisher[II] {
	return Map(mc.src.Reader(), mc.in)
}

func (mc *mappedConnection[I, O, II, OO]) Write(p Publisher[OO]) *Future {
	return mc.src.Write(Map(p, mc.out))
}

func (mc *mappedConnection[I, O, II, OO]) WriteWith(src WriteSource[OO]) *Future {
	return mc.src.WriteWith(MapSource(src, mc.out))
}
