package upload

import (
	"sync/atomic"
	"testing"

	"github.com/andewx/vkcacher/alloc"
	"github.com/andewx/vkcacher/device"
	"github.com/andewx/vkcacher/staging"
	"github.com/stretchr/testify/require"
	vk "github.com/vulkan-go/vulkan"
)

type fakeRecorder struct {
	completed atomic.Uint64
}

func (f *fakeRecorder) Acquire() (vk.CommandBuffer, error) {
	var cmd vk.CommandBuffer
	return cmd, nil
}
func (f *fakeRecorder) Release(cmd vk.CommandBuffer)          {}
func (f *fakeRecorder) Begin(cmd vk.CommandBuffer) error      { return nil }
func (f *fakeRecorder) CopyBuffer(cmd vk.CommandBuffer, src, dst vk.Buffer, srcOffset, dstOffset, size vk.DeviceSize) {
}
func (f *fakeRecorder) End(cmd vk.CommandBuffer) error { return nil }
func (f *fakeRecorder) SubmitSignaled(cmd vk.CommandBuffer, timelineValue uint64) error {
	f.completed.Store(timelineValue)
	return nil
}
func (f *fakeRecorder) TimelineCompleted() uint64 { return f.completed.Load() }

func newTestUploader(t *testing.T) (*Uploader, *fakeRecorder) {
	dev := device.NewFake(1 << 30)
	fake := alloc.NewFake()
	db := alloc.NewDeviceBudget(dev, fake, 1<<28, 0, nil, nil)
	pool := staging.New(fake, db, 1<<26, 8, nil)
	rec := &fakeRecorder{}
	return New(pool, rec, 4, 1<<20), rec
}

func TestUploadThenFlushTransitionsToSubmitted(t *testing.T) {
	u, _ := newTestUploader(t)
	h := u.Upload([]byte("hello"), vk.Buffer(1), 0)
	require.NotEqual(t, InvalidUploadHandle, h)

	s, ok := u.Status(h)
	require.True(t, ok)
	require.Equal(t, StatusPending, s)

	u.Flush()
	s, ok = u.Status(h)
	require.True(t, ok)
	require.Equal(t, StatusSubmitted, s)
}

func TestProcessCompletionsMarksCompletedAndReleasesStaging(t *testing.T) {
	u, _ := newTestUploader(t)
	h := u.Upload([]byte("hello"), vk.Buffer(1), 0)
	u.Flush()

	n := u.ProcessCompletions()
	require.Equal(t, 1, n)
	s, _ := u.Status(h)
	require.Equal(t, StatusCompleted, s)
}

func TestUploadAutoFlushesAtMaxPendingUploads(t *testing.T) {
	u, _ := newTestUploader(t)
	var last UploadHandle
	for i := 0; i < 4; i++ {
		last = u.Upload([]byte("x"), vk.Buffer(1), 0)
	}
	s, _ := u.Status(last)
	require.Equal(t, StatusSubmitted, s)
}

func TestWaitIdleDrainsAllSubmittedBatches(t *testing.T) {
	u, _ := newTestUploader(t)
	h := u.Upload([]byte("hello"), vk.Buffer(1), 0)
	u.WaitIdle()
	s, _ := u.Status(h)
	require.Equal(t, StatusCompleted, s)
}
