package hostmem

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocateFrameBumpsOffset(t *testing.T) {
	b := New(1024, 1024, 1024, nil, nil)
	a1, err := b.AllocateFrame(100)
	require.NoError(t, err)
	require.Equal(t, SourceFrameStack, a1.Source)
	require.Equal(t, int64(0), a1.Offset)

	a2, err := b.AllocateFrame(50)
	require.NoError(t, err)
	require.Equal(t, int64(112), a2.Offset) // alignUp(100,16) == 112
}

func TestAllocateFrameFallsThroughToHeapOnOverflow(t *testing.T) {
	b := New(64, 1024, 1024, nil, nil)
	a, err := b.AllocateFrame(100)
	require.NoError(t, err)
	require.Equal(t, SourceHeap, a.Source)
	require.Equal(t, int64(100), b.HeapUsage())
}

func TestResetFrameInvalidatesPriorAllocations(t *testing.T) {
	b := New(1024, 1024, 1024, nil, nil)
	a, err := b.AllocateFrame(16)
	require.NoError(t, err)
	require.True(t, b.ValidAt(a))

	b.ResetFrame()
	require.False(t, b.ValidAt(a))

	a2, err := b.AllocateFrame(16)
	require.NoError(t, err)
	require.Equal(t, int64(0), a2.Offset)
	require.True(t, b.ValidAt(a2))
}

func TestResetPersistentDoesNotAffectFrameStack(t *testing.T) {
	b := New(1024, 1024, 1024, nil, nil)
	fa, err := b.AllocateFrame(16)
	require.NoError(t, err)
	b.ResetPersistent()
	require.True(t, b.ValidAt(fa))
}

func TestFreeIsNoopForStackAllocations(t *testing.T) {
	b := New(1024, 1024, 1024, nil, nil)
	a, err := b.AllocateFrame(16)
	require.NoError(t, err)
	b.Free(a)
	require.Equal(t, int64(0), b.HeapUsage())
}

func TestFreeReleasesHeapAllocations(t *testing.T) {
	b := New(16, 1024, 1024, nil, nil)
	a, err := b.AllocateFrame(100)
	require.NoError(t, err)
	require.Equal(t, SourceHeap, a.Source)
	b.Free(a)
	require.Equal(t, int64(0), b.HeapUsage())
}

func TestConcurrentBumpAllocationsNeverOverlap(t *testing.T) {
	b := New(16000, 1024, 1024, nil, nil)
	var wg sync.WaitGroup
	offsets := make([]int64, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := b.AllocateFrame(16)
			require.NoError(t, err)
			offsets[i] = a.Offset
		}(i)
	}
	wg.Wait()

	seen := map[int64]bool{}
	for _, off := range offsets {
		require.False(t, seen[off], "offset %d allocated twice", off)
		seen[off] = true
	}
}
