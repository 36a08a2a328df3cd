package upload

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/andewx/vkcacher/alloc"
)

// ErrStagingQuotaExceeded is returned by BudgetBridge.ReserveStagingQuota
// when the local counter or the device budget rejects the reservation.
var ErrStagingQuotaExceeded = errors.New("upload: staging quota exceeded")

type pendingUploadRecord struct {
	stagingBytes   int64
	frameSubmitted uint64
	fenceValue     uint64
}

// BudgetBridge coordinates host-side staging bookkeeping with the device's
// staging quota, per spec.md §4.10.
type BudgetBridge struct {
	device *alloc.DeviceBudget

	localCounter    atomic.Int64
	maxStagingQuota int64

	mu               sync.Mutex
	pending          []pendingUploadRecord
	maxPendingUploads int
}

// NewBudgetBridge constructs a BudgetBridge bound to a DeviceBudget.
func NewBudgetBridge(device *alloc.DeviceBudget, maxStagingQuota int64, maxPendingUploads int) *BudgetBridge {
	return &BudgetBridge{device: device, maxStagingQuota: maxStagingQuota, maxPendingUploads: maxPendingUploads}
}

// ReserveStagingQuota CAS-increments the local counter under
// maxStagingQuota AND asks the DeviceBudget for the same quota, rolling
// back the local counter on device-side failure.
func (b *BudgetBridge) ReserveStagingQuota(bytes int64) error {
	for {
		cur := b.localCounter.Load()
		next := cur + bytes
		if next > b.maxStagingQuota {
			return ErrStagingQuotaExceeded
		}
		if b.localCounter.CompareAndSwap(cur, next) {
			break
		}
	}
	if err := b.device.TryReserveStagingQuota(bytes); err != nil {
		b.localCounter.Add(-bytes)
		return err
	}
	return nil
}

// RecordUpload pushes a PendingUpload record, evicting the oldest
// (assumed-complete) entry if the pending list is full, per spec.md §4.10.
func (b *BudgetBridge) RecordUpload(stagingBytes int64, frameSubmitted, fenceValue uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) >= b.maxPendingUploads && len(b.pending) > 0 {
		oldest := b.pending[0]
		b.pending = b.pending[1:]
		b.releaseLocked(oldest.stagingBytes)
	}
	b.pending = append(b.pending, pendingUploadRecord{stagingBytes: stagingBytes, frameSubmitted: frameSubmitted, fenceValue: fenceValue})
}

// ProcessCompletedUploads FIFO-drains entries whose fence has passed
// completedFenceValue, or whose submission is older than
// framesToKeepPending relative to currentFrame, releasing staging for each.
func (b *BudgetBridge) ProcessCompletedUploads(completedFenceValue, currentFrame, framesToKeepPending uint64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for len(b.pending) > 0 {
		head := b.pending[0]
		age := uint64(0)
		if currentFrame > head.frameSubmitted {
			age = currentFrame - head.frameSubmitted
		}
		if head.fenceValue > completedFenceValue && age < framesToKeepPending {
			break
		}
		b.pending = b.pending[1:]
		b.releaseLocked(head.stagingBytes)
		n++
	}
	return n
}

func (b *BudgetBridge) releaseLocked(stagingBytes int64) {
	b.localCounter.Add(-stagingBytes)
	b.device.ReleaseStagingQuota(stagingBytes)
}

// LocalUsage returns the current locally-tracked staging byte count.
func (b *BudgetBridge) LocalUsage() int64 { return b.localCounter.Load() }
