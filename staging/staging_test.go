package staging

import (
	"testing"

	"github.com/andewx/vkcacher/alloc"
	"github.com/andewx/vkcacher/device"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T) (*Pool, *alloc.Fake) {
	dev := device.NewFake(1 << 30)
	fake := alloc.NewFake()
	db := alloc.NewDeviceBudget(dev, fake, 1<<28, 0, nil, nil)
	return New(fake, db, 1<<26, 4, nil), fake
}

func TestAcquireRoundsUpToBucketSize(t *testing.T) {
	p, _ := newTestPool(t)
	acq, ok := p.Acquire(1000)
	require.True(t, ok)
	require.Equal(t, int64(1<<16), acq.Size)
	require.Equal(t, int64(1000), acq.Requested)
}

func TestReleaseThenAcquireIsAPoolHit(t *testing.T) {
	p, _ := newTestPool(t)
	acq1, ok := p.Acquire(1000)
	require.True(t, ok)
	p.Release(acq1.Handle)

	acq2, ok := p.Acquire(1000)
	require.True(t, ok)
	require.Equal(t, acq1.Buffer.Buffer, acq2.Buffer.Buffer)
	require.Equal(t, int64(1), p.buckets[0].hits.Load())
}

func TestOversizedRequestBypassesBuckets(t *testing.T) {
	p, _ := newTestPool(t)
	huge := int64(1) << 27 // bigger than 64 MiB top bucket
	acq, ok := p.Acquire(huge)
	require.True(t, ok)
	require.Equal(t, huge, acq.Size)
	p.Release(acq.Handle) // dedicated buffer, destroyed not pooled
}

func TestAcquireFailsWhenStagingQuotaExhausted(t *testing.T) {
	dev := device.NewFake(1 << 30)
	fake := alloc.NewFake()
	db := alloc.NewDeviceBudget(dev, fake, 1<<16, 0, nil, nil) // exactly one bucket's worth
	p := New(fake, db, 1<<26, 4, nil)

	_, ok := p.Acquire(1000)
	require.True(t, ok)
	_, ok = p.Acquire(1000)
	require.False(t, ok)
}

func TestTrimDestroysOldestBuffersFirst(t *testing.T) {
	p, fake := newTestPool(t)
	acq1, _ := p.Acquire(1000)
	acq2, _ := p.Acquire(1000)
	p.Release(acq1.Handle)
	p.Release(acq2.Handle)

	require.Equal(t, int64(2), fake.Stats().LiveBuffers)
	p.Trim(1 << 16)
	require.Equal(t, int64(1), fake.Stats().LiveBuffers)
	require.Equal(t, acq2.Buffer.Buffer, p.buckets[0].free[0].buf.Buffer)
	p.Trim(0)
	require.Equal(t, int64(0), fake.Stats().LiveBuffers)
}

func TestPreWarmPoolsBuffersBeforeFirstAcquire(t *testing.T) {
	p, _ := newTestPool(t)
	p.PreWarm([]int64{1000, 5000}, 2)

	acq, ok := p.Acquire(1000)
	require.True(t, ok)
	require.Equal(t, int64(1), p.buckets[0].hits.Load())
	p.Release(acq.Handle)
}
