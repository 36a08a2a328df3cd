package alloc

import (
	"sync"
	"sync/atomic"

	"github.com/andewx/vkcacher/budget"
	"github.com/andewx/vkcacher/device"
	"github.com/andewx/vkcacher/eventbus"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// FrameDelta is the snapshot comparison DeviceBudget computes on OnFrameEnd,
// per spec.md Invariant B2.
type FrameDelta struct {
	AllocatedThisFrame int64
	FreedThisFrame     int64
	NetDelta           int64
}

// deviceBudgetSnapshot is the (totalAllocated, stagingInUse) pair captured on
// OnFrameStart; no allocation count is captured.
type deviceBudgetSnapshot struct {
	totalAllocated int64
	stagingInUse   int64
}

// DeviceBudget holds an Allocator plus the device-memory and staging-quota
// budgets, per spec.md §4.6. It is the concrete BudgetManager an Allocator is
// bound to via SetBudgetManager: allocate/free calls go to the Allocator
// itself (see Allocator()), which reserves and releases bytes through this
// type.
type DeviceBudget struct {
	dev       device.Device
	allocator Allocator
	log       *zap.Logger

	deviceMemory *budget.Resource
	staging      *budget.Resource

	frameDeltaWarn int64

	mu           sync.Mutex
	snapshot     deviceBudgetSnapshot
	allocatedSum atomic.Int64
	freedSum     atomic.Int64

	bus      *eventbus.Bus
	startSub eventbus.SubscriptionID
	endSub   eventbus.SubscriptionID
}

// NewDeviceBudget detects VRAM size from dev and defaults the device-memory
// budget to 80% of VRAM with a warning at 75%, strict, per spec.md §4.6;
// these fractions are fixed here and internal/config's DeviceMemory* fields
// are not read. stagingQuotaBytes and frameDeltaWarnBytes are passed in by
// the caller; the staging quota is strict too, with its warning at 75%.
func NewDeviceBudget(dev device.Device, allocator Allocator, stagingQuotaBytes int64, frameDeltaWarnBytes int64, reg prometheus.Registerer, log *zap.Logger) *DeviceBudget {
	vram := int64(dev.VRAMSize())
	limit := vram * 80 / 100
	warn := vram * 75 / 100

	db := &DeviceBudget{
		dev:            dev,
		allocator:      allocator,
		log:            log,
		deviceMemory:   budget.New("DeviceMemory", limit, warn, true, reg, log),
		staging:        budget.New("StagingQuota", stagingQuotaBytes, stagingQuotaBytes*3/4, true, reg, log),
		frameDeltaWarn: frameDeltaWarnBytes,
	}
	allocator.SetBudgetManager(db)
	return db
}

// TryReserveDeviceMemory implements alloc.BudgetManager, called by whichever
// Allocator backend this DeviceBudget was bound to.
func (d *DeviceBudget) TryReserveDeviceMemory(n int64) error {
	if err := d.deviceMemory.TryReserve(n); err != nil {
		return err
	}
	d.allocatedSum.Add(n)
	return nil
}

// ReleaseDeviceMemory implements alloc.BudgetManager.
func (d *DeviceBudget) ReleaseDeviceMemory(n int64) {
	d.deviceMemory.Release(n)
	d.freedSum.Add(n)
}

// TryReserveStagingQuota reserves bytes against the staging quota class.
func (d *DeviceBudget) TryReserveStagingQuota(n int64) error {
	return d.staging.TryReserve(n)
}

// ReleaseStagingQuota releases bytes previously reserved via
// TryReserveStagingQuota. Per spec.md §4.7 this is the BatchedUploader's
// responsibility once the GPU is known to be done with the transfer, not
// the StagingPool's.
func (d *DeviceBudget) ReleaseStagingQuota(n int64) {
	d.staging.Release(n)
}

// Allocator returns the wrapped allocator backend, for callers that need
// direct allocate/free access (e.g. resource caches).
func (d *DeviceBudget) Allocator() Allocator { return d.allocator }

// OnFrameStart captures the snapshot Invariant B2 compares against at
// OnFrameEnd.
func (d *DeviceBudget) OnFrameStart() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snapshot = deviceBudgetSnapshot{
		totalAllocated: d.deviceMemory.Usage(),
		stagingInUse:   d.staging.Usage(),
	}
	d.allocatedSum.Store(0)
	d.freedSum.Store(0)
}

// OnFrameEnd computes allocatedThisFrame/freedThisFrame/netDelta against the
// OnFrameStart snapshot and warns when allocatedThisFrame exceeds the
// configured frame-delta warning threshold (Invariant B2).
func (d *DeviceBudget) OnFrameEnd() FrameDelta {
	allocated := d.allocatedSum.Load()
	freed := d.freedSum.Load()
	delta := FrameDelta{
		AllocatedThisFrame: allocated,
		FreedThisFrame:     freed,
		NetDelta:           allocated - freed,
	}
	if d.frameDeltaWarn > 0 && allocated > d.frameDeltaWarn && d.log != nil {
		d.log.Warn("device budget allocated more than frame-delta threshold this frame",
			zap.Int64("allocated_this_frame", allocated),
			zap.Int64("threshold", d.frameDeltaWarn),
		)
	}
	return delta
}

// BindEventBus subscribes OnFrameStart/OnFrameEnd to an external
// FrameStart/FrameEnd bus, per spec.md §4.6's "optional subscription".
func (d *DeviceBudget) BindEventBus(bus *eventbus.Bus) {
	d.UnbindEventBus()
	d.bus = bus
	d.startSub = eventbus.Subscribe(bus, func(eventbus.FrameStart) { d.OnFrameStart() })
	d.endSub = eventbus.Subscribe(bus, func(eventbus.FrameEnd) { d.OnFrameEnd() })
}

// UnbindEventBus removes any active subscriptions from a prior BindEventBus.
func (d *DeviceBudget) UnbindEventBus() {
	if d.bus == nil {
		return
	}
	d.bus.Unsubscribe(d.startSub)
	d.bus.Unsubscribe(d.endSub)
	d.bus = nil
}

// DeviceMemoryUsage returns current reserved device memory bytes.
func (d *DeviceBudget) DeviceMemoryUsage() int64 { return d.deviceMemory.Usage() }

// StagingUsage returns current reserved staging-quota bytes.
func (d *DeviceBudget) StagingUsage() int64 { return d.staging.Usage() }
