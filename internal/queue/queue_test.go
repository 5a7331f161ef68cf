package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func BenchmarkQueue_PushPop(b *testing.B) {
	b.ReportAllocs()

	q := Unbounded[int]()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		q.Push(i)
		q.Pop()
	}
	b.StopTimer()
}

func TestQueue(t *testing.T) {
	q := Unbounded[int]()
	assert.True(t, q.Empty())

	q.Push(1)
	q.Push(2)
	q.UnPop(0)
	assert.Equal(t, 3, q.Len())

	for _, expected := range []int{0, 1, 2} {
		v, ok := q.Pop()
		assert.True(t, ok)
		assert.Equal(t, expected, v)
	}

	_, ok := q.Pop()
	assert.False(t, ok)
	assert.True(t, q.Empty())

	q.UnPop(5)
	q.Push(6)
	v, _ := q.Pop()
	assert.Equal(t, 5, v)
	v, _ = q.Pop()
	assert.Equal(t, 6, v)
}

func TestBoundedQueue(t *testing.T) {
	q := Bounded[string](2)
	assert.True(t, q.Push("a"))
	assert.True(t, q.Push("b"))
	assert.False(t, q.Push("c"))
	assert.Equal(t, 2, q.Len())

	v, _ := q.Pop()
	assert.Equal(t, "b", v)

	q.Clear()
	assert.True(t, q.Empty())
}

func TestQueueConcurrentPush(t *testing.T) {
	q := Unbounded[int]()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.Push(i*100 + j)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1000, q.Len())
}
