// Package shaderrefl defines ShaderDataBundle from spec.md §6.1: the shader
// reflection collaborator that tells the descriptor-set-layout and pipeline
// caches what bindings/push-constants/SPIR-V a compiled shader exposes. The
// real reflector (SPIRV-Cross or similar) is out of scope per spec.md §1;
// this package only specifies the contract plus a StaticBundle double.
package shaderrefl

import vk "github.com/vulkan-go/vulkan"

// DescriptorBinding describes one binding within a descriptor set, as
// surfaced by shader reflection.
type DescriptorBinding struct {
	Binding         uint32
	DescriptorType  vk.DescriptorType
	DescriptorCount uint32
	StageFlags      vk.ShaderStageFlagBits
}

// PushConstantRange mirrors vk.PushConstantRange but without the cgo
// marshaling concerns of the real struct, so reflection data can be built
// and hashed without touching Vulkan.
type PushConstantRange struct {
	StageFlags vk.ShaderStageFlagBits
	Offset     uint32
	Size       uint32
}

// ShaderDataBundle is the reflection contract from spec.md §6.1.
type ShaderDataBundle interface {
	// DescriptorSet returns the bindings declared in the given set index.
	DescriptorSet(setIndex uint32) []DescriptorBinding
	// PushConstants returns every push-constant range across all stages.
	PushConstants() []PushConstantRange
	// SPIRV returns the compiled SPIR-V words for the given stage.
	SPIRV(stage vk.ShaderStageFlagBits) []uint32
	// EntryPoint returns the entry point name used for the given stage.
	EntryPoint(stage vk.ShaderStageFlagBits) string
	// UUID returns a stable identifier for this compiled bundle.
	UUID() string
	// DescriptorInterfaceHash returns the key field the descriptor-set
	// layout cache folds into its Fingerprint (spec.md §4.2).
	DescriptorInterfaceHash() uint64
}

// StaticBundle is a ShaderDataBundle built from already-known reflection
// data, used by tests and by callers that reflect shaders themselves and
// just need to hand the result to a cache.
type StaticBundle struct {
	Sets          map[uint32][]DescriptorBinding
	Pushes        []PushConstantRange
	Words         map[vk.ShaderStageFlagBits][]uint32
	Entries       map[vk.ShaderStageFlagBits]string
	BundleUUID    string
	InterfaceHash uint64
}

func (b *StaticBundle) DescriptorSet(setIndex uint32) []DescriptorBinding { return b.Sets[setIndex] }
func (b *StaticBundle) PushConstants() []PushConstantRange                { return b.Pushes }
func (b *StaticBundle) SPIRV(stage vk.ShaderStageFlagBits) []uint32        { return b.Words[stage] }
func (b *StaticBundle) EntryPoint(stage vk.ShaderStageFlagBits) string     { return b.Entries[stage] }
func (b *StaticBundle) UUID() string                                      { return b.BundleUUID }
func (b *StaticBundle) DescriptorInterfaceHash() uint64                    { return b.InterfaceHash }
