package xfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func queueItems(n int) []*Transfer {
	xs := make([]*Transfer, n)
	for i := range xs {
		xs[i] = &Transfer{index: i}
	}
	return xs
}

// ============================================================================
// WorkQueue Tests
// ============================================================================

func TestWorkQueueFIFO(t *testing.T) {
	var order []int
	q := NewWorkQueue(func(q *WorkQueue) {
		order = append(order, q.Current().index)
	})
	xs := queueItems(3)

	q.EnqueueOrRun(xs[0])
	assert.Equal(t, []int{0}, order)
	assert.Same(t, xs[0], q.Current())

	q.EnqueueOrRun(xs[1])
	q.EnqueueOrRun(xs[2])
	assert.Equal(t, []int{0}, order, "waiting transfers must not run while one is current")
	assert.Equal(t, 2, q.Len())

	q.Next()
	q.Next()
	assert.Equal(t, []int{0, 1, 2}, order)

	q.Next()
	assert.True(t, q.Empty())
	assert.False(t, q.Running())
}

func TestWorkQueueNoDuplicate(t *testing.T) {
	q := NewWorkQueue(func(*WorkQueue) {})
	xs := queueItems(2)

	q.EnqueueOrRun(xs[0])
	q.EnqueueOrRun(xs[1])
	q.EnqueueOrRun(xs[1])
	assert.Equal(t, 1, q.Len())
}

func TestWorkQueueNestedCallsDoNotRecurse(t *testing.T) {
	xs := queueItems(6)
	depth, maxDepth := 0, 0
	var order []int
	var ranOnce []bool

	q := NewWorkQueue(func(q *WorkQueue) {
		depth++
		if depth > maxDepth {
			maxDepth = depth
		}
		i := q.Current().index
		order = append(order, i)
		ranOnce = append(ranOnce, q.RanOnce())
		if i+1 < len(xs) {
			q.EnqueueOrRun(xs[i+1])
			q.Next()
		}
		depth--
	})

	q.EnqueueOrRun(xs[0])
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, order)
	assert.Equal(t, 1, maxDepth)
	assert.Equal(t, []bool{false, true, true, true, true, true}, ranOnce)
	assert.Same(t, xs[5], q.Current())
}

func TestWorkQueueRestart(t *testing.T) {
	runs := 0
	q := NewWorkQueue(func(q *WorkQueue) {
		runs++
		if runs < 3 {
			q.Restart()
		}
	})
	xs := queueItems(1)

	q.EnqueueOrRun(xs[0])
	assert.Equal(t, 3, runs)
	assert.Same(t, xs[0], q.Current())

	q.Restart()
	assert.Equal(t, 4, runs)

	q.EnqueueOrRun(xs[0])
	assert.Equal(t, 5, runs, "passing the current transfer reruns the command")
}

func TestWorkQueueRestartEmpty(t *testing.T) {
	runs := 0
	q := NewWorkQueue(func(*WorkQueue) { runs++ })
	q.Restart()
	assert.Zero(t, runs)
	assert.True(t, q.Empty())
}

func TestWorkQueueDequeueMiddle(t *testing.T) {
	var order []int
	q := NewWorkQueue(func(q *WorkQueue) {
		order = append(order, q.Current().index)
	})
	xs := queueItems(4)
	for _, x := range xs {
		q.EnqueueOrRun(x)
	}
	require.Equal(t, 3, q.Len())

	dequeue(xs[2])
	assert.Nil(t, xs[2].waitQ)
	assert.Equal(t, 2, q.Len())

	q.Next()
	q.Next()
	assert.Equal(t, []int{0, 1, 3}, order)

	dequeue(xs[2])
	assert.Equal(t, []int{0, 1, 3}, order)
}

func TestWorkQueueCommandReleasesWhileRunning(t *testing.T) {
	// A command that both releases the current transfer and queues a new
	// one is served by the same loop in FIFO order.
	var order []int
	xs := queueItems(3)
	q := NewWorkQueue(nil)
	q.init(func(q *WorkQueue) {
		i := q.Current().index
		order = append(order, i)
		if i == 0 {
			q.EnqueueOrRun(xs[2])
			q.EnqueueOrRun(xs[1])
		}
		q.Next()
	})

	q.EnqueueOrRun(xs[0])
	assert.Equal(t, []int{0, 2, 1}, order)
	assert.True(t, q.Empty())
}
