package lifetime

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReleaseDestroysExactlyOnceAtZero(t *testing.T) {
	destroyCount := 0
	res := NewSharedResource(42, ScopeTransient, func(int) { destroyCount++ })
	h1 := NewHandle(res, nil)
	h2 := h1.Clone()
	h3 := h1.Clone()

	h1.Release(0)
	require.Equal(t, 0, destroyCount)
	h2.Release(0)
	require.Equal(t, 0, destroyCount)
	h3.Release(0)
	require.Equal(t, 1, destroyCount)
}

func TestReleaseConcurrentDestroysExactlyOnce(t *testing.T) {
	destroyCount := 0
	var mu sync.Mutex
	res := NewSharedResource("x", ScopeShared, func(string) {
		mu.Lock()
		destroyCount++
		mu.Unlock()
	})
	h := NewHandle(res, nil)
	handles := make([]Handle[string], 20)
	handles[0] = h
	for i := 1; i < 20; i++ {
		handles[i] = h.Clone()
	}

	var wg sync.WaitGroup
	for _, hh := range handles {
		wg.Add(1)
		go func(hh Handle[string]) {
			defer wg.Done()
			hh.Release(0)
		}(hh)
	}
	wg.Wait()
	require.Equal(t, 1, destroyCount)
}

func TestReleaseEnqueuesIntoDestroyQueueAtCurrentFrame(t *testing.T) {
	q := NewDestroyQueue(4)
	destroyed := false
	res := NewSharedResource(1, ScopeTransient, func(int) { destroyed = true })
	h := NewHandle(res, q)
	h.Release(7)

	require.False(t, destroyed)
	q.ProcessFrame(7, 0)
	require.True(t, destroyed)
}
