// Package device defines the Device consumed-interface from spec.md §6.1.
// The teacher's CoreDevice (device.go in the teacher repo) held the
// equivalent fields directly on a concrete struct; we keep the same field
// set but expose it behind an interface so the cache/alloc layers can be
// exercised against a fake in tests without a real Vulkan instance.
package device

import vk "github.com/vulkan-go/vulkan"

// ID is the 64-bit device identity from spec.md §3.1:
// (vendorID<<32 | deviceID) XOR driverVersion.
type ID uint64

// Compute derives an ID from physical device properties, stable across runs
// for a given (GPU, driver) pair.
func Compute(vendorID, deviceID, driverVersion uint32) ID {
	return ID((uint64(vendorID)<<32 | uint64(deviceID)) ^ uint64(driverVersion))
}

// Device is the logical-device handle external collaborator described in
// spec.md §6.1. The render graph / driver own the concrete implementation;
// the substrate only ever calls through this interface.
type Device interface {
	// Handle returns the underlying Vulkan logical device.
	Handle() vk.Device
	// PhysicalDevice returns the underlying Vulkan physical device.
	PhysicalDevice() vk.PhysicalDevice
	// ID returns this device's stable identity used to namespace caches.
	ID() ID
	// Queue returns the device's primary queue.
	Queue() vk.Queue
	// MemoryProperties returns the cached physical device memory properties.
	MemoryProperties() vk.PhysicalDeviceMemoryProperties
	// MemoryTypeFromProperties finds a memory type index matching typeBits
	// and the requested property flags, per §6.1.
	MemoryTypeFromProperties(typeBits uint32, flags vk.MemoryPropertyFlagBits) (uint32, bool)
	// VRAMSize returns the total device-local heap size in bytes, used by
	// DeviceBudget to size its default budget (spec.md §4.6).
	VRAMSize() uint64
}

// Static is a minimal Device implementation usable in tests and by simple
// single-GPU applications: it wraps already-resolved handles and properties
// rather than doing any Vulkan enumeration itself (that remains the driver's
// job per spec.md §1's "deliberately out of scope").
type Static struct {
	handle      vk.Device
	physical    vk.PhysicalDevice
	queue       vk.Queue
	id          ID
	memProps    vk.PhysicalDeviceMemoryProperties
	vramSize    uint64
}

// NewStatic builds a Static device from already-queried Vulkan state. The
// memory-type/heap walk mirrors the teacher's FindRequiredMemoryType
// (extensions.go): index the fixed-size vk.MaxMemoryTypes/vk.MaxMemoryHeaps
// arrays directly and Deref() each element before reading it.
func NewStatic(handle vk.Device, physical vk.PhysicalDevice, queue vk.Queue, vendorID, deviceID, driverVersion uint32, memProps vk.PhysicalDeviceMemoryProperties) *Static {
	s := &Static{
		handle:   handle,
		physical: physical,
		queue:    queue,
		id:       Compute(vendorID, deviceID, driverVersion),
		memProps: memProps,
	}
	for i := uint32(0); i < memProps.MemoryHeapCount; i++ {
		memProps.MemoryHeaps[i].Deref()
		heap := memProps.MemoryHeaps[i]
		if vk.MemoryHeapFlagBits(heap.Flags)&vk.MemoryHeapDeviceLocalBit != 0 {
			s.vramSize += uint64(heap.Size)
		}
	}
	return s
}

func (s *Static) Handle() vk.Device                                   { return s.handle }
func (s *Static) PhysicalDevice() vk.PhysicalDevice                   { return s.physical }
func (s *Static) ID() ID                                              { return s.id }
func (s *Static) Queue() vk.Queue                                     { return s.queue }
func (s *Static) MemoryProperties() vk.PhysicalDeviceMemoryProperties { return s.memProps }
func (s *Static) VRAMSize() uint64                                    { return s.vramSize }

// MemoryTypeFromProperties mirrors the teacher's FindRequiredMemoryType
// (extensions.go) exactly, generalized from a hard-coded host-visible
// requirement to an arbitrary flag set.
func (s *Static) MemoryTypeFromProperties(typeBits uint32, flags vk.MemoryPropertyFlagBits) (uint32, bool) {
	props := s.memProps
	for i := uint32(0); i < vk.MaxMemoryTypes; i++ {
		if typeBits&(1<<i) != 0 {
			props.MemoryTypes[i].Deref()
			if vk.MemoryPropertyFlagBits(props.MemoryTypes[i].PropertyFlags)&flags == flags {
				return i, true
			}
		}
	}
	return 0, false
}
