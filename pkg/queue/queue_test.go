package queue

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestAddTailRemHead(t *testing.T) {
	q := New[int](4)
	assert.Equal(t, q.Count(), 0)

	assert.NilError(t, q.AddTail(10))
	assert.NilError(t, q.AddTail(20))
	assert.Equal(t, q.Count(), 2)

	v, err := q.RemHead()
	assert.NilError(t, err)
	assert.Equal(t, v, 10)

	v, err = q.RemHead()
	assert.NilError(t, err)
	assert.Equal(t, v, 20)
	assert.Equal(t, q.Count(), 0)
}

func TestFullAndEmptyFail(t *testing.T) {
	q := New[int](2)
	assert.NilError(t, q.AddTail(1))
	assert.NilError(t, q.AddTail(2))
	assert.ErrorContains(t, q.AddTail(3), "BAD_PARAM")

	_, err := q.RemHead()
	assert.NilError(t, err)
	_, err = q.RemHead()
	assert.NilError(t, err)
	_, err = q.RemHead()
	assert.ErrorContains(t, err, "BAD_PARAM")
}

func TestRoundTripOnEmpty(t *testing.T) {
	// RemHead after AddTail(x) on an empty queue returns x.
	q := New[string](3)
	assert.NilError(t, q.AddTail("x"))
	v, err := q.RemHead()
	assert.NilError(t, err)
	assert.Equal(t, v, "x")
}

func TestGetAndSwap(t *testing.T) {
	q := New[int](4)
	for _, v := range []int{1, 2, 3} {
		assert.NilError(t, q.AddTail(v))
	}
	v, err := q.Get(1)
	assert.NilError(t, err)
	assert.Equal(t, v, 2)

	assert.NilError(t, q.Swap(0, 2))
	v, err = q.Get(0)
	assert.NilError(t, err)
	assert.Equal(t, v, 3)

	_, err = q.Get(5)
	assert.ErrorContains(t, err, "BAD_PARAM")
}

func TestWrapsAroundRing(t *testing.T) {
	q := New[int](3)
	assert.NilError(t, q.AddTail(1))
	assert.NilError(t, q.AddTail(2))
	_, err := q.RemHead()
	assert.NilError(t, err)
	assert.NilError(t, q.AddTail(3))
	assert.NilError(t, q.AddTail(4))
	assert.Equal(t, q.Count(), 3)

	var got []int
	for q.Count() > 0 {
		v, err := q.RemHead()
		assert.NilError(t, err)
		got = append(got, v)
	}
	assert.DeepEqual(t, got, []int{2, 3, 4})
}

func TestRemoveMidQueue(t *testing.T) {
	q := New[int](4)
	for _, v := range []int{1, 2, 3, 4} {
		assert.NilError(t, q.AddTail(v))
	}
	assert.NilError(t, q.Remove(1)) // drop the "2"

	var got []int
	for q.Count() > 0 {
		v, err := q.RemHead()
		assert.NilError(t, err)
		got = append(got, v)
	}
	assert.DeepEqual(t, got, []int{1, 3, 4})
}

func TestCountNeverExceedsCapacity(t *testing.T) {
	q := New[int](5)
	for i := 0; i < 5; i++ {
		assert.NilError(t, q.AddTail(i))
	}
	assert.Assert(t, q.Count() <= q.Capacity())
	assert.ErrorContains(t, q.AddTail(99), "BAD_PARAM")
}
