// Package upload implements BatchedUploader, BatchedUpdater, and
// BudgetBridge from spec.md §4.8-§4.10.
package upload

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/andewx/vkcacher/staging"
	"github.com/google/uuid"
	vk "github.com/vulkan-go/vulkan"
)

// UploadHandle identifies one queued or in-flight upload.
type UploadHandle uuid.UUID

// InvalidUploadHandle is returned when an upload could not be queued (e.g.
// the staging pool has no room).
var InvalidUploadHandle UploadHandle

// Status is the Upload state machine from spec.md §4.12: Pending ->
// Submitted -> {Completed|Failed}, terminal states absorbing.
type Status int

const (
	StatusPending Status = iota
	StatusSubmitted
	StatusCompleted
	StatusFailed
)

type pendingUpload struct {
	handle    UploadHandle
	staging   staging.Handle
	size      int64
	dstBuffer vk.Buffer
	dstOffset vk.DeviceSize
	callback  func(Status)
}

type submittedBatch struct {
	timelineValue uint64
	cmdBuffer     vk.CommandBuffer
	uploads       []pendingUpload
}

// CommandRecorder abstracts the one-time-submit command buffer lifecycle the
// teacher drives through vk.BeginCommandBuffer/vk.EndCommandBuffer/
// vk.QueueSubmit directly; BatchedUploader depends on this narrow interface
// so it can be unit tested without a live device.
type CommandRecorder interface {
	Acquire() (vk.CommandBuffer, error)
	Release(cmd vk.CommandBuffer)
	Begin(cmd vk.CommandBuffer) error
	CopyBuffer(cmd vk.CommandBuffer, src, dst vk.Buffer, srcOffset, dstOffset, size vk.DeviceSize)
	End(cmd vk.CommandBuffer) error
	SubmitSignaled(cmd vk.CommandBuffer, timelineValue uint64) error
	TimelineCompleted() uint64
}

// Uploader is the BatchedUploader from spec.md §4.8.
type Uploader struct {
	pool     *staging.Pool
	recorder CommandRecorder

	mu             sync.Mutex
	pending        []pendingUpload
	pendingBytes   atomic.Int64
	nextTimeline   atomic.Uint64
	submittedMu    sync.Mutex
	submitted      []submittedBatch
	statusMu       sync.Mutex
	status         map[UploadHandle]Status

	maxPendingUploads int
	maxPendingBytes   int64
}

// New constructs an Uploader bound to a staging pool and a command recorder.
func New(pool *staging.Pool, recorder CommandRecorder, maxPendingUploads int, maxPendingBytes int64) *Uploader {
	return &Uploader{
		pool:              pool,
		recorder:          recorder,
		status:            make(map[UploadHandle]Status),
		maxPendingUploads: maxPendingUploads,
		maxPendingBytes:   maxPendingBytes,
	}
}

// Upload acquires a staging buffer, copies src into it, and queues a
// PendingUpload, flushing if any of the batching thresholds are crossed
// (spec.md §4.8).
func (u *Uploader) Upload(src []byte, dstBuffer vk.Buffer, dstOffset vk.DeviceSize) UploadHandle {
	acq, ok := u.pool.Acquire(int64(len(src)))
	if !ok {
		return InvalidUploadHandle
	}
	dst := unsafe.Slice((*byte)(acq.MappedPtr), len(src))
	copy(dst, src)

	h := UploadHandle(uuid.New())
	pu := pendingUpload{handle: h, staging: acq.Handle, size: int64(len(src)), dstBuffer: dstBuffer, dstOffset: dstOffset}

	u.setStatus(h, StatusPending)

	u.mu.Lock()
	u.pending = append(u.pending, pu)
	shouldFlush := len(u.pending) >= u.maxPendingUploads || u.pendingBytes.Load()+pu.size >= u.maxPendingBytes
	u.mu.Unlock()
	u.pendingBytes.Add(pu.size)

	if shouldFlush {
		u.Flush()
	}
	return h
}

// Flush swaps out the pending queue, records one command buffer covering
// every queued copy, and submits it with a monotonically increasing
// timeline value (spec.md §4.8).
func (u *Uploader) Flush() {
	u.mu.Lock()
	batch := u.pending
	u.pending = nil
	u.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	cmd, err := u.recorder.Acquire()
	if err != nil {
		u.failBatch(batch)
		return
	}
	if err := u.recorder.Begin(cmd); err != nil {
		u.recorder.Release(cmd)
		u.failBatch(batch)
		return
	}
	for _, p := range batch {
		acq, ok := u.pool.Lookup(p.staging)
		if !ok {
			continue
		}
		u.recorder.CopyBuffer(cmd, acq.Buffer.Buffer, p.dstBuffer, 0, p.dstOffset, vk.DeviceSize(p.size))
		u.setStatus(p.handle, StatusSubmitted)
	}
	if err := u.recorder.End(cmd); err != nil {
		u.recorder.Release(cmd)
		u.failBatch(batch)
		return
	}

	t := u.nextTimeline.Add(1)
	if err := u.recorder.SubmitSignaled(cmd, t); err != nil {
		u.recorder.Release(cmd)
		u.failBatch(batch)
		return
	}

	u.submittedMu.Lock()
	u.submitted = append(u.submitted, submittedBatch{timelineValue: t, cmdBuffer: cmd, uploads: batch})
	u.submittedMu.Unlock()
}

func (u *Uploader) failBatch(batch []pendingUpload) {
	for _, p := range batch {
		u.setStatus(p.handle, StatusFailed)
		u.pool.Release(p.staging)
		u.pendingBytes.Add(-p.size)
	}
}

// ProcessCompletions polls the timeline value and retires every batch whose
// signal has completed, releasing staging buffers and invoking completion
// callbacks (spec.md §4.8). Returns the number of uploads retired.
func (u *Uploader) ProcessCompletions() int {
	completed := u.recorder.TimelineCompleted()

	u.submittedMu.Lock()
	var done []submittedBatch
	remaining := u.submitted[:0:0]
	for _, b := range u.submitted {
		if b.timelineValue <= completed {
			done = append(done, b)
		} else {
			remaining = append(remaining, b)
		}
	}
	u.submitted = remaining
	u.submittedMu.Unlock()

	count := 0
	for _, b := range done {
		u.recorder.Release(b.cmdBuffer)
		for _, p := range b.uploads {
			u.setStatus(p.handle, StatusCompleted)
			u.pool.Release(p.staging)
			u.pendingBytes.Add(-p.size)
			if p.callback != nil {
				p.callback(StatusCompleted)
			}
			count++
		}
	}
	return count
}

// WaitIdle flushes and blocks until the latest timeline value has signalled.
func (u *Uploader) WaitIdle() {
	u.Flush()
	for {
		u.submittedMu.Lock()
		n := len(u.submitted)
		u.submittedMu.Unlock()
		if n == 0 {
			return
		}
		u.ProcessCompletions()
	}
}

// Status returns the current state of an upload.
func (u *Uploader) Status(h UploadHandle) (Status, bool) {
	u.statusMu.Lock()
	defer u.statusMu.Unlock()
	s, ok := u.status[h]
	return s, ok
}

func (u *Uploader) setStatus(h UploadHandle, s Status) {
	u.statusMu.Lock()
	u.status[h] = s
	u.statusMu.Unlock()
}
