package alloc

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/andewx/vkcacher/device"
	vk "github.com/vulkan-go/vulkan"
)

// DirectAllocator is a direct-Vulkan Allocator backend (no VMA dependency):
// it allocates one vk.DeviceMemory per buffer/image exactly the way the
// teacher's extensions.go CreateBuffer does (CreateBuffer ->
// GetBufferMemoryRequirements -> FindRequiredMemoryType -> AllocateMemory ->
// BindBufferMemory), generalized to honor BufferRequest's host-visibility
// and persistent-mapping flags instead of the teacher's hard-coded
// host-visible-and-coherent requirement.
type DirectAllocator struct {
	dev    device.Device
	budget BudgetManager

	mu          sync.Mutex
	liveBuffers int64
	liveImages  int64
	allocated   atomic.Int64
}

// NewDirectAllocator binds a DirectAllocator to a single device, per the
// §9 Open Question resolution: one allocator instance, one device.
func NewDirectAllocator(dev device.Device) *DirectAllocator {
	return &DirectAllocator{dev: dev}
}

func (a *DirectAllocator) SetBudgetManager(b BudgetManager) { a.budget = b }

func (a *DirectAllocator) AllocateBuffer(req BufferRequest) (BufferAllocation, error) {
	if req.Size == 0 {
		return BufferAllocation{}, ErrInvalidParameters
	}
	if a.budget != nil {
		if err := a.budget.TryReserveDeviceMemory(int64(req.Size)); err != nil {
			return BufferAllocation{}, ErrOverBudget
		}
	}

	usage := vk.BufferUsageFlags(req.Usage)
	if req.WantAddress {
		usage |= vk.BufferUsageFlags(vk.BufferUsageShaderDeviceAddressBit)
	}

	var buffer vk.Buffer
	ret := vk.CreateBuffer(a.dev.Handle(), &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        req.Size,
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}, nil, &buffer)
	if ret != vk.Success {
		a.releaseBudget(req.Size)
		return BufferAllocation{}, mapVkError(ret)
	}

	var memReqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(a.dev.Handle(), buffer, &memReqs)
	memReqs.Deref()

	wantFlags := vk.MemoryPropertyDeviceLocalBit
	if req.HostVisible {
		wantFlags = vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit
	}
	memType, ok := a.dev.MemoryTypeFromProperties(memReqs.MemoryTypeBits, wantFlags)
	if !ok {
		vk.DestroyBuffer(a.dev.Handle(), buffer, nil)
		a.releaseBudget(req.Size)
		return BufferAllocation{}, ErrInvalidParameters
	}

	allocFlags := &vk.MemoryAllocateFlagsInfo{}
	var pNext unsafe.Pointer
	if req.WantAddress {
		allocFlags.SType = vk.StructureTypeMemoryAllocateFlagsInfo
		allocFlags.Flags = vk.MemoryAllocateFlags(vk.MemoryAllocateDeviceAddressBit)
		pNext = unsafe.Pointer(allocFlags)
	}

	var memory vk.DeviceMemory
	ret = vk.AllocateMemory(a.dev.Handle(), &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		PNext:           pNext,
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: memType,
	}, nil, &memory)
	if ret != vk.Success {
		vk.DestroyBuffer(a.dev.Handle(), buffer, nil)
		a.releaseBudget(req.Size)
		return BufferAllocation{}, mapVkError(ret)
	}

	if ret := vk.BindBufferMemory(a.dev.Handle(), buffer, memory, 0); ret != vk.Success {
		vk.FreeMemory(a.dev.Handle(), memory, nil)
		vk.DestroyBuffer(a.dev.Handle(), buffer, nil)
		a.releaseBudget(req.Size)
		return BufferAllocation{}, mapVkError(ret)
	}

	out := BufferAllocation{
		Buffer:           buffer,
		AllocationHandle: memory,
		Size:             req.Size,
		CanAlias:         req.CanAlias,
	}

	if req.WantAddress {
		out.DeviceAddress = vk.GetBufferDeviceAddress(a.dev.Handle(), &vk.BufferDeviceAddressInfo{
			SType:  vk.StructureTypeBufferDeviceAddressInfo,
			Buffer: buffer,
		})
	}

	if req.Persistent && req.HostVisible {
		var mapped unsafe.Pointer
		if ret := vk.MapMemory(a.dev.Handle(), memory, 0, req.Size, 0, &mapped); ret != vk.Success {
			a.FreeBuffer(&out)
			return BufferAllocation{}, ErrMappingFailed
		}
		out.MappedPtr = mapped
	}

	a.mu.Lock()
	a.liveBuffers++
	a.mu.Unlock()
	a.allocated.Add(int64(req.Size))
	return out, nil
}

func (a *DirectAllocator) FreeBuffer(buf *BufferAllocation) {
	if buf == nil || buf.Buffer == vk.NullBuffer {
		return
	}
	if buf.IsAliased {
		// Invariant A1: an aliased allocation never frees backing memory,
		// only its own view/handle.
		vk.DestroyBuffer(a.dev.Handle(), buf.Buffer, nil)
		*buf = BufferAllocation{}
		return
	}
	if buf.MappedPtr != nil {
		vk.UnmapMemory(a.dev.Handle(), buf.AllocationHandle.(vk.DeviceMemory))
	}
	vk.DestroyBuffer(a.dev.Handle(), buf.Buffer, nil)
	if mem, ok := buf.AllocationHandle.(vk.DeviceMemory); ok {
		vk.FreeMemory(a.dev.Handle(), mem, nil)
	}
	a.mu.Lock()
	a.liveBuffers--
	a.mu.Unlock()
	a.releaseBudget(buf.Size)
	*buf = BufferAllocation{}
}

func (a *DirectAllocator) AllocateImage(req ImageRequest) (ImageAllocation, error) {
	if req.Extent.Width == 0 || req.Extent.Height == 0 {
		return ImageAllocation{}, ErrInvalidParameters
	}
	mips := req.Mips
	if mips == 0 {
		mips = 1
	}

	var image vk.Image
	ret := vk.CreateImage(a.dev.Handle(), &vk.ImageCreateInfo{
		SType:       vk.StructureTypeImageCreateInfo,
		ImageType:   vk.ImageType2d,
		Format:      req.Format,
		Extent:      req.Extent,
		MipLevels:   mips,
		ArrayLayers: 1,
		Samples:     vk.SampleCount1Bit,
		Tiling:      vk.ImageTilingOptimal,
		Usage:       vk.ImageUsageFlags(req.Usage),
		SharingMode: vk.SharingModeExclusive,
	}, nil, &image)
	if ret != vk.Success {
		return ImageAllocation{}, mapVkError(ret)
	}

	var memReqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(a.dev.Handle(), image, &memReqs)
	memReqs.Deref()

	if a.budget != nil {
		if err := a.budget.TryReserveDeviceMemory(int64(memReqs.Size)); err != nil {
			vk.DestroyImage(a.dev.Handle(), image, nil)
			return ImageAllocation{}, ErrOverBudget
		}
	}

	memType, ok := a.dev.MemoryTypeFromProperties(memReqs.MemoryTypeBits, vk.MemoryPropertyDeviceLocalBit)
	if !ok {
		vk.DestroyImage(a.dev.Handle(), image, nil)
		a.releaseBudget(memReqs.Size)
		return ImageAllocation{}, ErrInvalidParameters
	}

	var memory vk.DeviceMemory
	ret = vk.AllocateMemory(a.dev.Handle(), &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: memType,
	}, nil, &memory)
	if ret != vk.Success {
		vk.DestroyImage(a.dev.Handle(), image, nil)
		a.releaseBudget(memReqs.Size)
		return ImageAllocation{}, mapVkError(ret)
	}
	if ret := vk.BindImageMemory(a.dev.Handle(), image, memory, 0); ret != vk.Success {
		vk.FreeMemory(a.dev.Handle(), memory, nil)
		vk.DestroyImage(a.dev.Handle(), image, nil)
		a.releaseBudget(memReqs.Size)
		return ImageAllocation{}, mapVkError(ret)
	}

	a.mu.Lock()
	a.liveImages++
	a.mu.Unlock()
	a.allocated.Add(int64(memReqs.Size))
	return ImageAllocation{Image: image, AllocationHandle: memory, Size: memReqs.Size, CanAlias: req.CanAlias}, nil
}

func (a *DirectAllocator) FreeImage(img *ImageAllocation) {
	if img == nil || img.Image == vk.NullImage {
		return
	}
	if img.View != vk.NullImageView {
		vk.DestroyImageView(a.dev.Handle(), img.View, nil)
	}
	vk.DestroyImage(a.dev.Handle(), img.Image, nil)
	if !img.IsAliased {
		if mem, ok := img.AllocationHandle.(vk.DeviceMemory); ok {
			vk.FreeMemory(a.dev.Handle(), mem, nil)
		}
		a.mu.Lock()
		a.liveImages--
		a.mu.Unlock()
		a.releaseBudget(img.Size)
	}
	*img = ImageAllocation{}
}

// CreateAliasedBuffer creates a new vk.Buffer bound to the source
// allocation's existing memory (Invariant A1: it must never free backing
// memory, and the source must outlive it).
func (a *DirectAllocator) CreateAliasedBuffer(source BufferAllocation, req BufferRequest) (BufferAllocation, error) {
	if !source.CanAlias {
		return BufferAllocation{}, ErrInvalidParameters
	}
	var buffer vk.Buffer
	ret := vk.CreateBuffer(a.dev.Handle(), &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        req.Size,
		Usage:       vk.BufferUsageFlags(req.Usage),
		SharingMode: vk.SharingModeExclusive,
	}, nil, &buffer)
	if ret != vk.Success {
		return BufferAllocation{}, mapVkError(ret)
	}
	mem, ok := source.AllocationHandle.(vk.DeviceMemory)
	if !ok {
		vk.DestroyBuffer(a.dev.Handle(), buffer, nil)
		return BufferAllocation{}, ErrInvalidParameters
	}
	if ret := vk.BindBufferMemory(a.dev.Handle(), buffer, mem, 0); ret != vk.Success {
		vk.DestroyBuffer(a.dev.Handle(), buffer, nil)
		return BufferAllocation{}, mapVkError(ret)
	}
	return BufferAllocation{Buffer: buffer, AllocationHandle: mem, Size: req.Size, IsAliased: true}, nil
}

// CreateAliasedImage is the image analogue of CreateAliasedBuffer.
func (a *DirectAllocator) CreateAliasedImage(source ImageAllocation, req ImageRequest) (ImageAllocation, error) {
	if !source.CanAlias {
		return ImageAllocation{}, ErrInvalidParameters
	}
	mips := req.Mips
	if mips == 0 {
		mips = 1
	}
	var image vk.Image
	ret := vk.CreateImage(a.dev.Handle(), &vk.ImageCreateInfo{
		SType:       vk.StructureTypeImageCreateInfo,
		ImageType:   vk.ImageType2d,
		Format:      req.Format,
		Extent:      req.Extent,
		MipLevels:   mips,
		ArrayLayers: 1,
		Samples:     vk.SampleCount1Bit,
		Tiling:      vk.ImageTilingOptimal,
		Usage:       vk.ImageUsageFlags(req.Usage),
		SharingMode: vk.SharingModeExclusive,
	}, nil, &image)
	if ret != vk.Success {
		return ImageAllocation{}, mapVkError(ret)
	}
	mem, ok := source.AllocationHandle.(vk.DeviceMemory)
	if !ok {
		vk.DestroyImage(a.dev.Handle(), image, nil)
		return ImageAllocation{}, ErrInvalidParameters
	}
	if ret := vk.BindImageMemory(a.dev.Handle(), image, mem, 0); ret != vk.Success {
		vk.DestroyImage(a.dev.Handle(), image, nil)
		return ImageAllocation{}, mapVkError(ret)
	}
	return ImageAllocation{Image: image, AllocationHandle: mem, IsAliased: true}, nil
}

func (a *DirectAllocator) SupportsAliasing(handle vk.Buffer) bool { return handle != vk.NullBuffer }

func (a *DirectAllocator) MapBuffer(buf *BufferAllocation) (unsafe.Pointer, error) {
	mem, ok := buf.AllocationHandle.(vk.DeviceMemory)
	if !ok {
		return nil, ErrInvalidParameters
	}
	if buf.MappedPtr != nil {
		return buf.MappedPtr, nil
	}
	var mapped unsafe.Pointer
	if ret := vk.MapMemory(a.dev.Handle(), mem, 0, buf.Size, 0, &mapped); ret != vk.Success {
		return nil, ErrMappingFailed
	}
	buf.MappedPtr = mapped
	return mapped, nil
}

func (a *DirectAllocator) UnmapBuffer(buf *BufferAllocation) {
	mem, ok := buf.AllocationHandle.(vk.DeviceMemory)
	if !ok || buf.MappedPtr == nil {
		return
	}
	vk.UnmapMemory(a.dev.Handle(), mem)
	buf.MappedPtr = nil
}

func (a *DirectAllocator) FlushRange(buf *BufferAllocation, offset, size vk.DeviceSize) error {
	mem, ok := buf.AllocationHandle.(vk.DeviceMemory)
	if !ok {
		return ErrInvalidParameters
	}
	ret := vk.FlushMappedMemoryRanges(a.dev.Handle(), 1, []vk.MappedMemoryRange{{
		SType:  vk.StructureTypeMappedMemoryRange,
		Memory: mem,
		Offset: offset,
		Size:   size,
	}})
	return mapVkError(ret)
}

func (a *DirectAllocator) InvalidateRange(buf *BufferAllocation, offset, size vk.DeviceSize) error {
	mem, ok := buf.AllocationHandle.(vk.DeviceMemory)
	if !ok {
		return ErrInvalidParameters
	}
	ret := vk.InvalidateMappedMemoryRanges(a.dev.Handle(), 1, []vk.MappedMemoryRange{{
		SType:  vk.StructureTypeMappedMemoryRange,
		Memory: mem,
		Offset: offset,
		Size:   size,
	}})
	return mapVkError(ret)
}

func (a *DirectAllocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{LiveBuffers: a.liveBuffers, LiveImages: a.liveImages, TotalAllocatedBytes: a.allocated.Load()}
}

func (a *DirectAllocator) releaseBudget(n vk.DeviceSize) {
	if a.budget != nil {
		a.budget.ReleaseDeviceMemory(int64(n))
	}
}

func mapVkError(ret vk.Result) error {
	switch ret {
	case vk.Success:
		return nil
	case vk.ErrorOutOfDeviceMemory:
		return ErrOutOfDeviceMemory
	case vk.ErrorOutOfHostMemory:
		return ErrOutOfHostMemory
	default:
		return ErrUnknown
	}
}
