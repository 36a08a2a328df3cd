package lifetime

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeferredDestructionLatency(t *testing.T) {
	// S5: max_in_flight=3. add(X, frame=5). process_frame(6,7) don't
	// destroy; process_frame(8) does (8-5>=3).
	q := NewDestroyQueue(4)
	destroyed := false
	q.Add(5, func() { destroyed = true })

	require.Equal(t, 0, q.ProcessFrame(6, 3))
	require.False(t, destroyed)
	require.Equal(t, 0, q.ProcessFrame(7, 3))
	require.False(t, destroyed)
	require.Equal(t, 1, q.ProcessFrame(8, 3))
	require.True(t, destroyed)
}

func TestDeferredDestructionOrdering(t *testing.T) {
	q := NewDestroyQueue(4)
	var order []string
	q.Add(1, func() { order = append(order, "A") })
	q.Add(2, func() { order = append(order, "B") })

	q.ProcessFrame(100, 0)
	require.Equal(t, []string{"A", "B"}, order)
}

func TestDestroyQueueNoUnderflow(t *testing.T) {
	q := NewDestroyQueue(4)
	destroyed := false
	q.Add(10, func() { destroyed = true })
	require.Equal(t, 0, q.ProcessFrame(5, 3))
	require.False(t, destroyed)
}

func TestDestroyQueueGrowsPastCapacity(t *testing.T) {
	q := NewDestroyQueue(2)
	for i := 0; i < 10; i++ {
		q.Add(uint64(i), func() {})
	}
	stats := q.Stats()
	require.Equal(t, 10, stats.CurrentSize)
	require.Greater(t, stats.GrowthCount, 0)
}

func TestFlushInvokesAllRegardlessOfAge(t *testing.T) {
	q := NewDestroyQueue(4)
	count := 0
	q.Add(1000, func() { count++ })
	q.Add(1001, func() { count++ })
	n := q.Flush()
	require.Equal(t, 2, n)
	require.Equal(t, 2, count)
	require.Equal(t, 0, q.Stats().CurrentSize)
}
