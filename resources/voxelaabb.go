package resources

import (
	"io"

	"github.com/andewx/vkcacher/alloc"
	"github.com/andewx/vkcacher/cache"
	"github.com/andewx/vkcacher/cachekey"
	"github.com/andewx/vkcacher/device"
	"github.com/andewx/vkcacher/internal/metrics"
	"github.com/andewx/vkcacher/lifetime"
	"go.uber.org/zap"
	vk "github.com/vulkan-go/vulkan"
)

// AABB is a single axis-aligned bounding box as VK_KHR_acceleration_structure
// expects it for AABB geometry.
type AABB struct {
	MinX, MinY, MinZ float32
	MaxX, MaxY, MaxZ float32
}

// VoxelAABBParams keys spec.md §4.2 row 12: a scene descriptor identifying
// the voxel layout this AABB/TLAS-instance buffer was built from.
type VoxelAABBParams struct {
	SceneDescriptorHash uint64
	AABBs               []AABB
}

// VoxelAABBResource is the CPU AABB array plus the uploaded device-local
// buffer, per spec.md §4.2 row 12.
type VoxelAABBResource struct {
	AABBs  []AABB
	Buffer alloc.BufferAllocation
}

func voxelAABBKey(p VoxelAABBParams) (cachekey.Fingerprint, []byte) {
	h := cachekey.New()
	h.AddUint64(p.SceneDescriptorHash)
	h.AddUint32(uint32(len(p.AABBs)))
	return h.Finalize(), h.RawBytes()
}

// VoxelAABBCache is the concrete Cache for voxel AABB/TLAS instance data.
type VoxelAABBCache struct {
	allocator alloc.Allocator
	inner     *cache.TypedCache[VoxelAABBResource, VoxelAABBParams]
}

// NewVoxelAABBCache constructs a device-bound voxel AABB cache.
func NewVoxelAABBCache(allocator alloc.Allocator, queue *lifetime.DestroyQueue, debugCollision bool, m *metrics.CacheMetrics, log *zap.Logger) *VoxelAABBCache {
	c := &VoxelAABBCache{allocator: allocator}
	c.inner = cache.New[VoxelAABBResource, VoxelAABBParams]("VoxelAABBCache", voxelAABBKey, c.create, lifetime.ScopeShared, queue, debugCollision, m, log)
	return c
}

func (c *VoxelAABBCache) create(p VoxelAABBParams) (VoxelAABBResource, func(VoxelAABBResource), error) {
	size := vk.DeviceSize(len(p.AABBs) * 24) // 6 float32s per AABB
	buf, err := c.allocator.AllocateBuffer(alloc.BufferRequest{
		Size:        size,
		Usage:       vk.BufferUsageStorageBufferBit,
		HostVisible: true,
	})
	if err != nil {
		return VoxelAABBResource{}, nil, err
	}
	if err := uploadToMappedBuffer(c.allocator, &buf, aabbsToBytes(p.AABBs)); err != nil {
		c.allocator.FreeBuffer(&buf)
		return VoxelAABBResource{}, nil, err
	}
	allocator := c.allocator
	return VoxelAABBResource{AABBs: p.AABBs, Buffer: buf}, func(r VoxelAABBResource) {
		buf := r.Buffer
		allocator.FreeBuffer(&buf)
	}, nil
}

func aabbsToBytes(boxes []AABB) []byte {
	out := make([]byte, 0, len(boxes)*24)
	for _, b := range boxes {
		out = append(out, float32ToBytes(b.MinX)...)
		out = append(out, float32ToBytes(b.MinY)...)
		out = append(out, float32ToBytes(b.MinZ)...)
		out = append(out, float32ToBytes(b.MaxX)...)
		out = append(out, float32ToBytes(b.MaxY)...)
		out = append(out, float32ToBytes(b.MaxZ)...)
	}
	return out
}

// GetOrCreate returns a shared handle to the AABB buffer for params.
func (c *VoxelAABBCache) GetOrCreate(p VoxelAABBParams) (lifetime.Handle[VoxelAABBResource], error) {
	return c.inner.GetOrCreate(p)
}

func (c *VoxelAABBCache) Name() string { return c.inner.Name() }
func (c *VoxelAABBCache) Has(key cachekey.Fingerprint) bool { return c.inner.Has(key) }
func (c *VoxelAABBCache) Erase(key cachekey.Fingerprint)    { c.inner.Erase(key, 0) }
func (c *VoxelAABBCache) Clear()                            { c.inner.Clear(0) }
func (c *VoxelAABBCache) Cleanup()                          { c.inner.Clear(0) }

// SerializeTo persists every entry's scene hash and full AABB array, per
// spec.md §6.3, so a reload rebuilds the real device-local buffer via
// create instead of leaving the cache empty.
func (c *VoxelAABBCache) SerializeTo(w io.Writer) error {
	entries := c.inner.Entries()
	if err := writeU32U32(w, 1, uint32(len(entries))); err != nil {
		return err
	}
	for _, e := range entries {
		p := e.Params
		e.Value.Release(0)
		if err := writeUint64(w, uint64(e.Key)); err != nil {
			return err
		}
		if err := writeUint64(w, p.SceneDescriptorHash); err != nil {
			return err
		}
		if err := writeUint32(w, uint32(len(p.AABBs))); err != nil {
			return err
		}
		for _, b := range p.AABBs {
			floats := []float32{b.MinX, b.MinY, b.MinZ, b.MaxX, b.MaxY, b.MaxZ}
			for _, f := range floats {
				if err := writeFloat32(w, f); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// DeserializeFrom rebuilds each entry's real device-local AABB buffer by
// replaying create with the persisted params, then inserts the result
// under the original key.
func (c *VoxelAABBCache) DeserializeFrom(r io.Reader, dev device.Device) error {
	var version, count uint32
	if err := readU32U32(r, &version, &count); err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		key, err := readUint64(r)
		if err != nil {
			return err
		}
		sceneHash, err := readUint64(r)
		if err != nil {
			return err
		}
		n, err := readUint32(r)
		if err != nil {
			return err
		}
		aabbs := make([]AABB, n)
		for j := range aabbs {
			var f [6]float32
			for k := range f {
				v, err := readFloat32(r)
				if err != nil {
					return err
				}
				f[k] = v
			}
			aabbs[j] = AABB{MinX: f[0], MinY: f[1], MinZ: f[2], MaxX: f[3], MaxY: f[4], MaxZ: f[5]}
		}
		params := VoxelAABBParams{SceneDescriptorHash: sceneHash, AABBs: aabbs}
		value, destroy, err := c.create(params)
		if err != nil {
			return err
		}
		c.inner.Insert(cachekey.Fingerprint(key), params, value, destroy)
	}
	return nil
}
