package device

import vk "github.com/vulkan-go/vulkan"

// Fake is a Device double for unit tests that never touch a real GPU. It
// reports a single host-visible+coherent, device-local memory type so
// allocator/budget tests can exercise memory-type lookups deterministically.
type Fake struct {
	FakeID       ID
	FakeVRAM     uint64
	FakeHandle   vk.Device
	FakeQueue    vk.Queue
	FakePhysical vk.PhysicalDevice
}

// NewFake returns a Fake device with a deterministic ID and the given VRAM
// size, suitable for DeviceBudget tests (spec.md §4.6, S6).
func NewFake(vramBytes uint64) *Fake {
	return &Fake{FakeID: ID(0xF00D), FakeVRAM: vramBytes}
}

func (f *Fake) Handle() vk.Device                                   { return f.FakeHandle }
func (f *Fake) PhysicalDevice() vk.PhysicalDevice                   { return f.FakePhysical }
func (f *Fake) ID() ID                                              { return f.FakeID }
func (f *Fake) Queue() vk.Queue                                     { return f.FakeQueue }
func (f *Fake) VRAMSize() uint64                                    { return f.FakeVRAM }
func (f *Fake) MemoryProperties() vk.PhysicalDeviceMemoryProperties { return vk.PhysicalDeviceMemoryProperties{} }

// MemoryTypeFromProperties returns index 0 for any non-zero typeBits and
// fails only when typeBits is 0: tests that need other failure paths should
// wrap Fake rather than extend it.
func (f *Fake) MemoryTypeFromProperties(typeBits uint32, flags vk.MemoryPropertyFlagBits) (uint32, bool) {
	if typeBits == 0 {
		return 0, false
	}
	return 0, true
}
