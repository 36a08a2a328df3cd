package cache

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/andewx/vkcacher/cachekey"
	"github.com/andewx/vkcacher/lifetime"
	"github.com/stretchr/testify/require"
)

func keyFor(n int) (cachekey.Fingerprint, []byte) {
	h := cachekey.New()
	h.AddInt32(int32(n))
	return h.Finalize(), h.RawBytes()
}

func TestGetOrCreateCoalescesConcurrentMisses(t *testing.T) {
	var calls atomic.Int64
	c := New[string, int]("test", keyFor, func(n int) (string, func(string), error) {
		calls.Add(1)
		return "value", func(string) {}, nil
	}, lifetime.ScopeShared, nil, false, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := c.GetOrCreate(7)
			require.NoError(t, err)
			require.Equal(t, "value", h.Value())
		}()
	}
	wg.Wait()

	require.Equal(t, int64(1), calls.Load())
	require.Equal(t, 1, c.Len())
}

func TestGetOrCreatePropagatesCreateFailureToRetry(t *testing.T) {
	attempt := 0
	c := New[string, int]("test", keyFor, func(n int) (string, func(string), error) {
		attempt++
		if attempt == 1 {
			return "", nil, errBoom
		}
		return "ok", func(string) {}, nil
	}, lifetime.ScopeShared, nil, false, nil, nil)

	_, err := c.GetOrCreate(1)
	require.Error(t, err)
	require.Equal(t, 0, c.Len())

	h, err := c.GetOrCreate(1)
	require.NoError(t, err)
	require.Equal(t, "ok", h.Value())
}

func TestEraseReleasesBaseReference(t *testing.T) {
	destroyed := false
	c := New[string, int]("test", keyFor, func(n int) (string, func(string), error) {
		return "v", func(string) { destroyed = true }, nil
	}, lifetime.ScopeShared, nil, false, nil, nil)

	h, err := c.GetOrCreate(1)
	require.NoError(t, err)
	key, _ := keyFor(1)
	c.Erase(key, 0)
	require.False(t, c.Has(key))
	require.False(t, destroyed) // h still holds a reference
	h.Release(0)
	require.True(t, destroyed)
}

var errBoom = &boomError{}

type boomError struct{}

func (*boomError) Error() string { return "boom" }
