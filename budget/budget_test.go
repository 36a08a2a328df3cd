package budget

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTryReserveStrictRejectsOverBudget(t *testing.T) {
	r := New("DeviceMemory", 1<<20, (1<<20)*3/4, true, nil, nil)
	require.NoError(t, r.TryReserve(512<<10))
	err := r.TryReserve(600 << 10)
	require.ErrorIs(t, err, ErrOverBudget)
	require.Equal(t, int64(512<<10), r.Usage())

	r.Release(512 << 10)
	require.Equal(t, int64(0), r.Usage())
	require.NoError(t, r.TryReserve(1<<20))
}

func TestTryReserveNonStrictAllowsOverage(t *testing.T) {
	r := New("HostMemory", 100, 50, false, nil, nil)
	require.NoError(t, r.TryReserve(150))
	require.Equal(t, int64(150), r.Usage())
}

func TestTryReserveConcurrentNeverExceedsLimitUnderStrict(t *testing.T) {
	r := New("DeviceMemory", 1000, 800, true, nil, nil)
	var wg sync.WaitGroup
	var successes int64
	var mu sync.Mutex
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.TryReserve(30); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, r.Usage(), int64(1000))
	require.Equal(t, successes*30, r.Usage())
}
