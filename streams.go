package connkit

// Void is the item type of streams which carry no elements, only a
// completion or failure signal.
type Void = struct{}

// Unbounded is the demand value which signals a Publisher it may emit
// without waiting for further requests.
const Unbounded int64 = 1<<63 - 1

// Publisher represents a giving stream producer, which has giving
// elements it can produce to a subscriber. A Publisher accepts a
// single subscriber unless documented as multicast, a second call to
// Subscribe returns ErrMultipleSubscription and signals nothing.
type Publisher[T any] interface {
	// Subscribe takes a giving Subscriber which has the intention of
	// listening to elements produced by said Publisher. Subscribers will
	// be provided a Subscription object which can be used to request
	// elements from the producer, this allows back pressure mitigation
	// and Subscriber based pulling of data.
	Subscribe(Subscriber[T]) error
}

// Subscriber defines a process interested within a giving stream,
// it receives a subscription once and then continuously calls
// for elements until completion based on it's pace.
//
// Signals arrive serially: at most one OnSubscription, then zero or more
// OnNext calls each consuming one unit of requested demand, terminated by
// at most one of OnError or OnCompletion.
type Subscriber[T any] interface {
	// OnSubscription is only ever called once with provided subscription.
	OnSubscription(Subscription)

	// OnNext is called with the next element requested by the
	// subscriber through Subscription.Next.
	OnNext(T)

	// OnError is called when an unrecoverable error occurs during
	// the delivery of the stream. No other signal follows.
	OnError(error)

	// OnCompletion is called when the Publisher has completed sending
	// all elements. No other signal follows.
	OnCompletion()
}

// Subscription represents an agreed subscription between a producer
// and a Subscriber.
type Subscription interface {
	// Next requests n more elements from the underline Publisher. A value
	// of n <= 0 fails the stream with ErrInvalidDemand and does nothing else.
	Next(n int64)

	// Stop ends the Subscription. It is safe to call more than once.
	//
	// Note: elements already in flight may still arrive after Stop as the
	// call never blocks waiting for the producer to notice.
	Stop()
}

// Flusher requests that any output buffered so far be sent to the
// transport now. It must be safe to call concurrently with writes.
type Flusher func()

// WriteSource is an outbound stream which is handed the flush capability
// of the subscriber writing its elements, letting it decide when buffered
// output must be pushed out.
type WriteSource[T any] interface {
	SubscribeWrite(Subscriber[T], Flusher) error
}

//*****************************************************************
// FuncSubscriber
//*****************************************************************

// FuncSubscriber implements the Subscriber interface using functions
// for each signal. Nil functions are skipped.
type FuncSubscriber[T any] struct {
	Subscribed func(Subscription)
	Next       func(T)
	Err        func(error)
	Completed  func()
}

// OnSubscription implements Subscriber.
func (f FuncSubscriber[T]) OnSubscription(s Subscription) {
	if f.Subscribed != nil {
		f.Subscribed(s)
	}
}

// OnNext implements Subscriber.
func (f FuncSubscriber[T]) OnNext(v T) {
	if f.Next != nil {
		f.Next(v)
	}
}

// OnError implements Subscriber.
func (f FuncSubscriber[T]) OnError(err error) {
	if f.Err != nil {
		f.Err(err)
	}
}

// OnCompletion implements Subscriber.
func (f FuncSubscriber[T]) OnCompletion() {
	if f.Completed != nil {
		f.Completed()
	}
}
