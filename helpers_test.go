package connkit_test

import (
	"sync"

	"github.com/gokit/connkit"
)

// recorder records every signal it receives and optionally requests on
// subscription.
type recorder[T any] struct {
	initial int64

	rl           sync.Mutex
	subscription connkit.Subscription
	items        []T
	errs         []error
	completions  int
}

func (r *recorder[T]) OnSubscription(s connkit.Subscription) {
	r.rl.Lock()
	r.subscription = s
	r.rl.Unlock()

	if r.initial != 0 {
		s.Next(r.initial)
	}
}

func (r *recorder[T]) OnNext(v T) {
	r.rl.Lock()
	defer r.rl.Unlock()
	r.items = append(r.items, v)
}

func (r *recorder[T]) OnError(err error) {
	r.rl.Lock()
	defer r.rl.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder[T]) OnCompletion() {
	r.rl.Lock()
	defer r.rl.Unlock()
	r.completions++
}

func (r *recorder[T]) Request(n int64) {
	r.rl.Lock()
	s := r.subscription
	r.rl.Unlock()
	s.Next(n)
}

func (r *recorder[T]) Stop() {
	r.rl.Lock()
	s := r.subscription
	r.rl.Unlock()
	s.Stop()
}

func (r *recorder[T]) Items() []T {
	r.rl.Lock()
	defer r.rl.Unlock()
	items := make([]T, len(r.items))
	copy(items, r.items)
	return items
}

func (r *recorder[T]) Errors() []error {
	r.rl.Lock()
	defer r.rl.Unlock()
	errs := make([]error, len(r.errs))
	copy(errs, r.errs)
	return errs
}

func (r *recorder[T]) Completions() int {
	r.rl.Lock()
	defer r.rl.Unlock()
	return r.completions
}

// terminals returns the number of terminal signals received.
func (r *recorder[T]) terminals() int {
	r.rl.Lock()
	defer r.rl.Unlock()
	return r.completions + len(r.errs)
}
