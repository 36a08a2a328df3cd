package resources

import (
	"testing"

	"github.com/stretchr/testify/require"
	vk "github.com/vulkan-go/vulkan"
)

func TestSamplerKeyQuantizesFloats(t *testing.T) {
	base := SamplerParams{MagFilter: vk.FilterLinear, MaxAnisotropy: 4.00001, MinLod: 0, MaxLod: 10}
	noisy := base
	noisy.MaxAnisotropy = 4.00004
	k1, _ := samplerKey(base)
	k2, _ := samplerKey(noisy)
	require.Equal(t, k1, k2, "sub-quantization-step noise must collapse to the same key")
}

func TestSamplerKeyDiffersOnAddressMode(t *testing.T) {
	base := SamplerParams{AddressModeU: vk.SamplerAddressModeRepeat}
	other := base
	other.AddressModeU = vk.SamplerAddressModeClampToEdge
	k1, _ := samplerKey(base)
	k2, _ := samplerKey(other)
	require.NotEqual(t, k1, k2)
}

func TestRenderPassKeyIgnoresDepthFieldsWhenNoDepth(t *testing.T) {
	base := RenderPassParams{ColorFormat: vk.FormatR8g8b8a8Unorm, HasDepth: false, DepthFormat: vk.FormatD32Sfloat}
	other := base
	other.DepthFormat = vk.FormatD24UnormS8Uint // differs, but HasDepth is false so it must not affect the key
	k1, _ := renderPassKey(base)
	k2, _ := renderPassKey(other)
	require.Equal(t, k1, k2)
}

func TestRenderPassKeyDiffersOnHasDepth(t *testing.T) {
	base := RenderPassParams{ColorFormat: vk.FormatR8g8b8a8Unorm, HasDepth: false}
	withDepth := base
	withDepth.HasDepth = true
	k1, _ := renderPassKey(base)
	k2, _ := renderPassKey(withDepth)
	require.NotEqual(t, k1, k2)
}

func TestVoxelAABBKeyDependsOnCountAndHash(t *testing.T) {
	p1 := VoxelAABBParams{SceneDescriptorHash: 1, AABBs: make([]AABB, 4)}
	p2 := VoxelAABBParams{SceneDescriptorHash: 1, AABBs: make([]AABB, 5)}
	k1, _ := voxelAABBKey(p1)
	k2, _ := voxelAABBKey(p2)
	require.NotEqual(t, k1, k2)
}

func TestMeshKeyPrefersFilePathOverProceduralHash(t *testing.T) {
	withPath := MeshParams{FilePath: "model.obj", ProceduralHash: 99}
	withoutPath := MeshParams{ProceduralHash: 99}
	k1, _ := meshKey(withPath)
	k2, _ := meshKey(withoutPath)
	require.NotEqual(t, k1, k2)
}
