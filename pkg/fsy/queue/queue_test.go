package queue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQueue_PushPopFIFO(t *testing.T) {
	q := New[int](4)
	for i := 0; i < 4; i++ {
		q.Push(i)
	}
	for i := 0; i < 4; i++ {
		v, ok := q.Pop()
		require.True(t, ok, "expected item at index %d", i)
		require.Equal(t, i, v)
	}
	_, ok := q.Pop()
	require.False(t, ok, "expected empty queue after draining")
}

func TestQueue_OverflowDropsOldest(t *testing.T) {
	q := New[int](3)
	q.Push(1)
	q.Push(2)
	q.Push(3)
	q.Push(4) // evicts 1

	var got []int
	for {
		v, ok := q.Pop()
		if !ok {
			break
		}
		got = append(got, v)
	}

	require.Equal(t, []int{2, 3, 4}, got)
}

func TestQueue_CapacityClamped(t *testing.T) {
	q := New[int](0)
	require.Equal(t, 1, q.capacity)

	q2 := New[int](MaxCapacity + 500)
	require.Equal(t, MaxCapacity, q2.capacity)
}

func TestQueue_IsEmpty(t *testing.T) {
	q := New[string](2)
	require.True(t, q.IsEmpty())
	q.Push("a")
	require.False(t, q.IsEmpty())
	q.Pop()
	require.True(t, q.IsEmpty())
}

func TestQueue_PushMultiple(t *testing.T) {
	q := New[int](5)
	q.PushMultiple([]int{1, 2, 3})
	for i := 1; i <= 3; i++ {
		v, ok := q.Pop()
		require.True(t, ok)
		require.Equal(t, i, v)
	}
}

func TestQueue_Clear(t *testing.T) {
	q := New[int](3)
	q.PushMultiple([]int{1, 2, 3})
	q.Clear()
	require.True(t, q.IsEmpty())

	q.Push(9)
	v, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, 9, v)
}
