package alloc

import (
	"unsafe"

	vk "github.com/vulkan-go/vulkan"
)

// Stats is the Allocator.Stats() surface from spec.md §4.6.
type Stats struct {
	LiveBuffers         int64
	LiveImages          int64
	TotalAllocatedBytes int64
}

// BudgetManager is the minimal surface Allocator needs from DeviceBudget, so
// the two types can depend on each other without an import cycle: Allocator
// calls into the budget to reserve/release bytes, and DeviceBudget holds the
// Allocator it is bound to. See SetBudgetManager.
type BudgetManager interface {
	TryReserveDeviceMemory(n int64) error
	ReleaseDeviceMemory(n int64)
}

// Allocator is the trait from spec.md §4.6. DirectAllocator (direct Vulkan
// memory calls) and the Fake test double implement it; there is no VMA
// backend. DeviceBudget holds whichever backend is configured.
type Allocator interface {
	AllocateBuffer(req BufferRequest) (BufferAllocation, error)
	FreeBuffer(a *BufferAllocation)
	AllocateImage(req ImageRequest) (ImageAllocation, error)
	FreeImage(a *ImageAllocation)
	CreateAliasedBuffer(source BufferAllocation, req BufferRequest) (BufferAllocation, error)
	CreateAliasedImage(source ImageAllocation, req ImageRequest) (ImageAllocation, error)
	SupportsAliasing(handle vk.Buffer) bool
	MapBuffer(a *BufferAllocation) (unsafe.Pointer, error)
	UnmapBuffer(a *BufferAllocation)
	FlushRange(a *BufferAllocation, offset, size vk.DeviceSize) error
	InvalidateRange(a *BufferAllocation, offset, size vk.DeviceSize) error
	Stats() Stats
	SetBudgetManager(b BudgetManager)
}
