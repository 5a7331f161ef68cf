package connkit

import "github.com/gokit/errors"

// errors ...
var (
	// ErrInvalidDemand is delivered to a subscriber which requested zero or
	// a negative amount of elements. It only terminates the offending stream.
	ErrInvalidDemand = errors.New("request signals must be a positive number")

	// ErrMultipleSubscription is returned from Subscribe when a single-use
	// publisher already has a subscriber.
	ErrMultipleSubscription = errors.New("publisher allows only one subscriber")

	// ErrTransportWrite is the parent of failures reported by the transport
	// for a write. It fails only the stream which issued the write.
	ErrTransportWrite = errors.New("transport write failed")

	// ErrTransportConnection is the parent of transport level faults, it is
	// delivered to the read stream and closes the connection.
	ErrTransportConnection = errors.New("transport connection failed")

	// ErrConnectionClosed resolves outbound streams still pending when
	// their connection goes away.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrRejected is returned by interceptors which short-circuit a
	// connection without handing it further down the chain.
	ErrRejected = errors.New("connection rejected")
)

// IsInvalidDemand returns true if err derives from ErrInvalidDemand.
func IsInvalidDemand(err error) bool {
	return err != nil && errors.IsAny(err, ErrInvalidDemand)
}

// IsClosed returns true if err derives from ErrConnectionClosed.
func IsClosed(err error) bool {
	return err != nil && errors.IsAny(err, ErrConnectionClosed)
}
