package alloc

import (
	"testing"

	"github.com/andewx/vkcacher/device"
	"github.com/andewx/vkcacher/eventbus"
	"github.com/stretchr/testify/require"
)

func TestDeviceBudgetDefaultsToEightyPercentOfVRAM(t *testing.T) {
	dev := device.NewFake(1000)
	fake := NewFake()
	db := NewDeviceBudget(dev, fake, 100, 0, nil, nil)

	require.Equal(t, int64(800), db.deviceMemory.Limit())
	require.Equal(t, int64(750), db.deviceMemory.Warning())
}

func TestDeviceBudgetRejectsOverLimitAllocation(t *testing.T) {
	dev := device.NewFake(1000)
	fake := NewFake()
	db := NewDeviceBudget(dev, fake, 100, 0, nil, nil)

	_, err := fake.AllocateBuffer(BufferRequest{Size: 700})
	require.NoError(t, err)

	_, err = fake.AllocateBuffer(BufferRequest{Size: 200})
	require.ErrorIs(t, err, ErrOverBudget)
	_ = db
}

func TestDeviceBudgetFrameDeltaTracksAllocationsAndFrees(t *testing.T) {
	dev := device.NewFake(1000)
	fake := NewFake()
	db := NewDeviceBudget(dev, fake, 100, 0, nil, nil)

	db.OnFrameStart()
	buf, err := fake.AllocateBuffer(BufferRequest{Size: 300})
	require.NoError(t, err)
	fake.FreeBuffer(&buf)

	delta := db.OnFrameEnd()
	require.Equal(t, int64(300), delta.AllocatedThisFrame)
	require.Equal(t, int64(300), delta.FreedThisFrame)
	require.Equal(t, int64(0), delta.NetDelta)
}

func TestDeviceBudgetStagingQuotaReserveRelease(t *testing.T) {
	dev := device.NewFake(1000)
	fake := NewFake()
	db := NewDeviceBudget(dev, fake, 100, 0, nil, nil)

	require.NoError(t, db.TryReserveStagingQuota(100))
	require.Error(t, db.TryReserveStagingQuota(1))
	db.ReleaseStagingQuota(100)
	require.NoError(t, db.TryReserveStagingQuota(100))
}

func TestDeviceBudgetEventBusDrivesFrameHooks(t *testing.T) {
	dev := device.NewFake(1000)
	fake := NewFake()
	db := NewDeviceBudget(dev, fake, 100, 0, nil, nil)
	bus := eventbus.New()
	db.BindEventBus(bus)

	pre, _ := fake.AllocateBuffer(BufferRequest{Size: 20})
	fake.FreeBuffer(&pre)

	eventbus.Publish(bus, eventbus.FrameStart{Frame: 1})
	buf, _ := fake.AllocateBuffer(BufferRequest{Size: 50})
	_ = buf
	eventbus.Publish(bus, eventbus.FrameEnd{Frame: 1})

	require.Equal(t, int64(50), db.DeviceMemoryUsage())
	// The FrameStart event reset the per-frame sums, dropping the 20 bytes
	// allocated and freed before it.
	require.Equal(t, int64(50), db.allocatedSum.Load())
	require.Equal(t, int64(0), db.freedSum.Load())
	db.UnbindEventBus()
}
