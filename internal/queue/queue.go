package queue

import "sync"

type node[T any] struct {
	value T
	next  *node[T]
}

// Queue defines a FIFO queue safe for concurrent-use across go-routines,
// which provides ability to requeue, pop and push new items. Queue uses a
// lock to guarantee safe concurrent use.
type Queue[T any] struct {
	bm     sync.Mutex
	head   *node[T]
	tail   *node[T]
	size   int
	capped int
}

// Bounded returns a new queue holding at most capp items. Once full the
// oldest items are dropped to make room for new ones.
func Bounded[T any](capp int) *Queue[T] {
	return &Queue[T]{capped: capp}
}

// Unbounded returns a new queue where items are queued endlessly.
func Unbounded[T any]() *Queue[T] {
	return &Queue[T]{capped: -1}
}

// Push adds the item to the back of the queue. It returns false if an
// older item had to be dropped.
func (bq *Queue[T]) Push(v T) bool {
	n := &node[T]{value: v}

	bq.bm.Lock()
	defer bq.bm.Unlock()

	kept := true
	if bq.capped > 0 && bq.size >= bq.capped {
		bq.pop()
		kept = false
	}

	bq.size++
	if bq.tail == nil {
		bq.head, bq.tail = n, n
		return kept
	}

	bq.tail.next = n
	bq.tail = n
	return kept
}

// UnPop returns the item to the front of the queue.
func (bq *Queue[T]) UnPop(v T) {
	n := &node[T]{value: v}

	bq.bm.Lock()
	defer bq.bm.Unlock()

	bq.size++
	n.next = bq.head
	bq.head = n
	if bq.tail == nil {
		bq.tail = n
	}
}

// Pop removes the item from the front of the queue, ok is false if the
// queue was empty.
func (bq *Queue[T]) Pop() (v T, ok bool) {
	bq.bm.Lock()
	defer bq.bm.Unlock()
	return bq.pop()
}

// Len returns the number of queued items.
func (bq *Queue[T]) Len() int {
	bq.bm.Lock()
	defer bq.bm.Unlock()
	return bq.size
}

// Empty returns true/false if the queue is empty.
func (bq *Queue[T]) Empty() bool {
	return bq.Len() == 0
}

// Clear drops all queued items.
func (bq *Queue[T]) Clear() {
	bq.bm.Lock()
	defer bq.bm.Unlock()
	bq.head, bq.tail, bq.size = nil, nil, 0
}

func (bq *Queue[T]) pop() (v T, ok bool) {
	head := bq.head
	if head == nil {
		return v, false
	}

	bq.head = head.next
	if bq.head == nil {
		bq.tail = nil
	}
	bq.size--

	v = head.value
	head.next = nil
	return v, true
}
