// Package alloc implements the GPU allocation substrate from spec.md §3.3,
// §4.6: BufferAllocation/ImageAllocation, the Allocator trait, and
// DeviceBudget. Struct field population follows the teacher's
// vk.*CreateInfo-by-field style (buffers.go, extensions.go's CreateBuffer).
package alloc

import (
	"errors"
	"unsafe"

	vk "github.com/vulkan-go/vulkan"
)

// Error kinds from spec.md §7.
var (
	ErrOutOfDeviceMemory = errors.New("vkcacher/alloc: out of device memory")
	ErrOutOfHostMemory   = errors.New("vkcacher/alloc: out of host memory")
	ErrOverBudget        = errors.New("vkcacher/alloc: over budget")
	ErrInvalidParameters = errors.New("vkcacher/alloc: invalid parameters")
	ErrMappingFailed     = errors.New("vkcacher/alloc: mapping failed")
	ErrUnknown           = errors.New("vkcacher/alloc: unknown allocator error")
)

// BufferAllocation is the spec.md §3.3 record returned by Allocator.
// AllocationHandle is opaque to callers — it may be a VmaAllocation or a
// custom allocator-internal record, per spec.md's "may be VmaAllocation or a
// custom record".
type BufferAllocation struct {
	Buffer           vk.Buffer
	AllocationHandle any
	Size             vk.DeviceSize
	Offset           vk.DeviceSize
	MappedPtr        unsafe.Pointer
	DeviceAddress    vk.DeviceAddress
	CanAlias         bool
	IsAliased        bool
}

// ImageAllocation is the image analogue of BufferAllocation, per spec.md
// §3.3 ("analogous, without offset/address/mapping").
type ImageAllocation struct {
	Image            vk.Image
	View             vk.ImageView
	AllocationHandle any
	Size             vk.DeviceSize
	CanAlias         bool
	IsAliased        bool
}

// BufferRequest describes a buffer allocation request.
type BufferRequest struct {
	Size          vk.DeviceSize
	Usage         vk.BufferUsageFlagBits
	HostVisible   bool
	Persistent    bool // request a persistently-mapped allocation
	WantAddress   bool // request VK_BUFFER_USAGE_SHADER_DEVICE_ADDRESS_BIT semantics
	CanAlias      bool
}

// ImageRequest describes an image allocation request.
type ImageRequest struct {
	Extent vk.Extent3D
	Format vk.Format
	Usage  vk.ImageUsageFlagBits
	Mips   uint32
	CanAlias bool
}

// AliasGroup models the "aliasing group" the Open Question in spec.md §9
// suggests: an explicit owner for a source allocation plus whichever alias
// currently occupies it, so non-overlap is at least structurally visible
// even though barrier insertion remains a caller responsibility (Invariant
// A1: the source allocation must outlive every alias).
type AliasGroup struct {
	Source       BufferAllocation
	currentTenant string
}

// NewAliasGroup wraps a non-aliased source allocation.
func NewAliasGroup(source BufferAllocation) *AliasGroup {
	return &AliasGroup{Source: source}
}

// Acquire records tenant as the current occupant of the aliased memory. It
// does not itself prevent overlapping GPU access — that still needs a
// barrier, per spec.md §9 — but it makes "who is using this memory right
// now" queryable instead of implicit.
func (g *AliasGroup) Acquire(tenant string) {
	g.currentTenant = tenant
}

// CurrentTenant returns the name of whichever alias last called Acquire.
func (g *AliasGroup) CurrentTenant() string {
	return g.currentTenant
}
