package alloc

import (
	"sync"
	"unsafe"

	vk "github.com/vulkan-go/vulkan"
)

// Fake is an in-memory Allocator double for tests that don't need a live
// Vulkan device, mirroring the device.Fake pattern: it tracks live/total
// byte counts without touching the driver.
type Fake struct {
	mu      sync.Mutex
	budget  BudgetManager
	buffers int64
	images  int64
	total   int64
	nextTag uint64
}

func NewFake() *Fake { return &Fake{} }

func (f *Fake) SetBudgetManager(b BudgetManager) { f.budget = b }

func (f *Fake) AllocateBuffer(req BufferRequest) (BufferAllocation, error) {
	if req.Size == 0 {
		return BufferAllocation{}, ErrInvalidParameters
	}
	if f.budget != nil {
		if err := f.budget.TryReserveDeviceMemory(int64(req.Size)); err != nil {
			return BufferAllocation{}, ErrOverBudget
		}
	}
	f.mu.Lock()
	f.nextTag++
	tag := f.nextTag
	f.buffers++
	f.mu.Unlock()
	f.total += int64(req.Size)
	return BufferAllocation{Buffer: vk.Buffer(tag), AllocationHandle: tag, Size: req.Size, CanAlias: req.CanAlias}, nil
}

func (f *Fake) FreeBuffer(a *BufferAllocation) {
	if a == nil || a.Buffer == vk.NullBuffer {
		return
	}
	if !a.IsAliased {
		f.mu.Lock()
		f.buffers--
		f.mu.Unlock()
		f.total -= int64(a.Size)
		if f.budget != nil {
			f.budget.ReleaseDeviceMemory(int64(a.Size))
		}
	}
	*a = BufferAllocation{}
}

func (f *Fake) AllocateImage(req ImageRequest) (ImageAllocation, error) {
	f.mu.Lock()
	f.nextTag++
	tag := f.nextTag
	f.images++
	f.mu.Unlock()
	return ImageAllocation{Image: vk.Image(tag), AllocationHandle: tag, CanAlias: req.CanAlias}, nil
}

func (f *Fake) FreeImage(a *ImageAllocation) {
	if a == nil || a.Image == vk.NullImage {
		return
	}
	if !a.IsAliased {
		f.mu.Lock()
		f.images--
		f.mu.Unlock()
	}
	*a = ImageAllocation{}
}

func (f *Fake) CreateAliasedBuffer(source BufferAllocation, req BufferRequest) (BufferAllocation, error) {
	if !source.CanAlias {
		return BufferAllocation{}, ErrInvalidParameters
	}
	f.mu.Lock()
	f.nextTag++
	tag := f.nextTag
	f.mu.Unlock()
	return BufferAllocation{Buffer: vk.Buffer(tag), AllocationHandle: source.AllocationHandle, Size: req.Size, IsAliased: true}, nil
}

func (f *Fake) CreateAliasedImage(source ImageAllocation, req ImageRequest) (ImageAllocation, error) {
	if !source.CanAlias {
		return ImageAllocation{}, ErrInvalidParameters
	}
	f.mu.Lock()
	f.nextTag++
	tag := f.nextTag
	f.mu.Unlock()
	return ImageAllocation{Image: vk.Image(tag), AllocationHandle: source.AllocationHandle, IsAliased: true}, nil
}

func (f *Fake) SupportsAliasing(handle vk.Buffer) bool { return handle != vk.NullBuffer }

func (f *Fake) MapBuffer(a *BufferAllocation) (unsafe.Pointer, error) {
	buf := make([]byte, a.Size)
	ptr := unsafe.Pointer(&buf[0])
	a.MappedPtr = ptr
	return ptr, nil
}

func (f *Fake) UnmapBuffer(a *BufferAllocation) { a.MappedPtr = nil }

func (f *Fake) FlushRange(a *BufferAllocation, offset, size vk.DeviceSize) error { return nil }

func (f *Fake) InvalidateRange(a *BufferAllocation, offset, size vk.DeviceSize) error { return nil }

func (f *Fake) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stats{LiveBuffers: f.buffers, LiveImages: f.images, TotalAllocatedBytes: f.total}
}
