package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func job(doc int) *Job {
	return &Job{DocumentID: doc, Pixels: []byte{byte(doc)}, TotalPixels: 1}
}

func TestFIFO(t *testing.T) {
	q := New()
	assert.True(t, q.IsEmpty())
	assert.Nil(t, q.Peek())
	assert.Nil(t, q.Dequeue())

	for i := 1; i <= 5; i++ {
		q.Enqueue(job(i))
	}
	assert.Equal(t, 5, q.Len())
	assert.Equal(t, 1, q.Peek().DocumentID)

	for i := 1; i <= 5; i++ {
		j := q.Dequeue()
		require.NotNil(t, j)
		assert.Equal(t, i, j.DocumentID)
	}
	assert.True(t, q.IsEmpty())
}

func TestEnqueueReturnsJob(t *testing.T) {
	q := New()
	j := job(1)
	assert.Same(t, j, q.Enqueue(j))
}

func TestEnqueueCoalescesPerDocument(t *testing.T) {
	q := New()
	first := q.Enqueue(&Job{DocumentID: 1, Pixels: []byte{1}, TotalPixels: 10, ForceFullUpdate: true})
	q.Enqueue(job(2))
	first.PixelsPushed = 4

	got := q.Enqueue(&Job{DocumentID: 1, Pixels: []byte{9, 9}, TotalPixels: 20})

	assert.Same(t, first, got, "coalesced job keeps its slot")
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, 0, got.PixelsPushed, "coalesced job restarts")
	assert.Equal(t, 20, got.TotalPixels)
	assert.Equal(t, []byte{9, 9}, got.Pixels)
	assert.True(t, got.ForceFullUpdate, "force flag survives coalescing")

	assert.Equal(t, 1, q.Dequeue().DocumentID)
	assert.Equal(t, 2, q.Dequeue().DocumentID)
}

func TestRemove(t *testing.T) {
	q := New()
	for i := 1; i <= 4; i++ {
		q.Enqueue(job(i))
	}
	q.Dequeue()

	removed := q.Remove(3)
	require.NotNil(t, removed)
	assert.Equal(t, 3, removed.DocumentID)
	assert.False(t, q.Contains(3))
	assert.Nil(t, q.Remove(3))
	assert.Nil(t, q.Remove(1), "already dequeued")

	assert.Equal(t, 2, q.Dequeue().DocumentID)
	assert.Equal(t, 4, q.Dequeue().DocumentID)
	assert.True(t, q.IsEmpty())
}

func TestReenqueueAfterDequeue(t *testing.T) {
	q := New()
	q.Enqueue(job(1))
	q.Dequeue()
	assert.False(t, q.Contains(1))

	j := job(1)
	assert.Same(t, j, q.Enqueue(j))
	assert.Equal(t, 1, q.Len())
}

func TestLongRunKeepsOrder(t *testing.T) {
	q := New()
	next := 0
	for i := 0; i < 1000; i++ {
		q.Enqueue(job(i))
		if i%3 == 2 {
			for k := 0; k < 2; k++ {
				j := q.Dequeue()
				require.NotNil(t, j)
				assert.Equal(t, next, j.DocumentID)
				next++
			}
		}
	}
	for !q.IsEmpty() {
		assert.Equal(t, next, q.Dequeue().DocumentID)
		next++
	}
	assert.Equal(t, 1000, next)
}

func TestJobProgress(t *testing.T) {
	j := &Job{TotalPixels: 100, PixelsPushed: 40, Pixels: []byte{1}}
	assert.False(t, j.Done())
	assert.Equal(t, 60, j.Remaining())

	j.PixelsPushed = 120
	assert.True(t, j.Done())
	assert.Equal(t, 0, j.Remaining())

	j.Release()
	assert.Nil(t, j.Pixels)
}
