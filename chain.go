package connkit

// Handler handles a connection, returning a Future settled once handling
// is over.
type Handler[I, O any] interface {
	Handle(Connection[I, O]) *Future
}

// HandlerFunc implements Handler for a function.
type HandlerFunc[I, O any] func(Connection[I, O]) *Future

// Handle calls fn.
func (fn HandlerFunc[I, O]) Handle(c Connection[I, O]) *Future {
	return fn(c)
}

// Interceptor wraps the next handler of a chain. The returned handler
// either delegates to next, possibly after wrapping or converting the
// connection, or short-circuits by returning its own Future.
//
// I and O are the element types the interceptor receives, II and OO the
// ones it hands to next.
type Interceptor[I, O, II, OO any] func(next Handler[II, OO]) Handler[I, O]

// Chain is an immutable, ordered list of interceptors. Appending returns a
// new Chain, so a chain handed to a server can never change underneath it.
type Chain[I, O, II, OO any] struct {
	size  int
	build func(Handler[II, OO]) Handler[I, O]
}

// Intercept starts a chain with ic.
func Intercept[I, O, II, OO any](ic Interceptor[I, O, II, OO]) Chain[I, O, II, OO] {
	return Chain[I, O, II, OO]{size: 1, build: ic}
}

// Next appends an interceptor which may change the element types flowing
// further down the chain. Calling Next twice on the same chain yields two
// independent chains, the one built is the one that counts.
func Next[I, O, II, OO, III, OOO any](c Chain[I, O, II, OO], ic Interceptor[II, OO, III, OOO]) Chain[I, O, III, OOO] {
	build := c.build
	return Chain[I, O, III, OOO]{
		size: c.size + 1,
		build: func(last Handler[III, OOO]) Handler[I, O] {
			return build(ic(last))
		},
	}
}

// Then appends an interceptor keeping the element types unchanged.
func (c Chain[I, O, II, OO]) Then(ic Interceptor[II, OO, II, OO]) Chain[I, O, II, OO] {
	return Next(c, ic)
}

// Len returns the number of interceptors in the chain.
func (c Chain[I, O, II, OO]) Len() int {
	return c.size
}

// Last ends the chain with h, returning the handler which runs the whole
// chain.
func (c Chain[I, O, II, OO]) Last(h Handler[II, OO]) Handler[I, O] {
	if c.build == nil {
		panic("connkit: Last called on an empty Chain")
	}
	return c.build(h)
}
