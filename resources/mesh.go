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

// MeshParams keys spec.md §4.2 row 9: either a file path or a procedural
// data hash, plus the layout fields that determine buffer sizing.
type MeshParams struct {
	FilePath        string
	ProceduralHash  uint64
	VertexStride    uint32
	VertexCount     uint32
	IndexCount      uint32
	MemoryFlags     uint32
	VertexData      []byte
	IndexData       []uint32
}

// MeshResource wraps the vertex/index buffer allocations plus the cached
// CPU-side arrays (spec.md §4.2 row 9).
type MeshResource struct {
	VertexBuffer alloc.BufferAllocation
	IndexBuffer  alloc.BufferAllocation
	VertexCount  uint32
	IndexCount   uint32
	CPUVertices  []byte
	CPUIndices   []uint32
}

func meshKey(p MeshParams) (cachekey.Fingerprint, []byte) {
	h := cachekey.New()
	if p.FilePath != "" {
		h.AddString(p.FilePath)
	} else {
		h.AddUint64(p.ProceduralHash)
	}
	h.AddUint32(p.VertexStride)
	h.AddUint32(p.VertexCount)
	h.AddUint32(p.IndexCount)
	h.AddUint32(p.MemoryFlags)
	return h.Finalize(), h.RawBytes()
}

// MeshCache is the concrete Cache for meshes, grounded in the teacher's
// extensions.go CreateBuffer-then-upload pattern, generalized to build two
// buffers through the alloc.Allocator abstraction instead of talking to
// Vulkan memory APIs directly.
type MeshCache struct {
	dev       device.Device
	allocator alloc.Allocator
	inner     *cache.TypedCache[MeshResource, MeshParams]
}

// NewMeshCache constructs a device-bound mesh cache.
func NewMeshCache(dev device.Device, allocator alloc.Allocator, queue *lifetime.DestroyQueue, debugCollision bool, m *metrics.CacheMetrics, log *zap.Logger) *MeshCache {
	c := &MeshCache{dev: dev, allocator: allocator}
	c.inner = cache.New[MeshResource, MeshParams]("MeshCache", meshKey, c.create, lifetime.ScopeShared, queue, debugCollision, m, log)
	return c
}

func (c *MeshCache) create(p MeshParams) (MeshResource, func(MeshResource), error) {
	vertexSize := vk.DeviceSize(uint64(p.VertexStride) * uint64(p.VertexCount))
	vb, err := c.allocator.AllocateBuffer(alloc.BufferRequest{
		Size:        vertexSize,
		Usage:       vk.BufferUsageVertexBufferBit,
		HostVisible: true,
	})
	if err != nil {
		return MeshResource{}, nil, err
	}

	indexSize := vk.DeviceSize(uint64(p.IndexCount) * 4)
	ib, err := c.allocator.AllocateBuffer(alloc.BufferRequest{
		Size:        indexSize,
		Usage:       vk.BufferUsageIndexBufferBit,
		HostVisible: true,
	})
	if err != nil {
		c.allocator.FreeBuffer(&vb)
		return MeshResource{}, nil, err
	}

	if err := uploadToMappedBuffer(c.allocator, &vb, p.VertexData); err != nil {
		c.allocator.FreeBuffer(&vb)
		c.allocator.FreeBuffer(&ib)
		return MeshResource{}, nil, err
	}
	if err := uploadToMappedBuffer(c.allocator, &ib, uint32sToBytes(p.IndexData)); err != nil {
		c.allocator.FreeBuffer(&vb)
		c.allocator.FreeBuffer(&ib)
		return MeshResource{}, nil, err
	}

	allocator := c.allocator
	return MeshResource{
		VertexBuffer: vb,
		IndexBuffer:  ib,
		VertexCount:  p.VertexCount,
		IndexCount:   p.IndexCount,
		CPUVertices:  p.VertexData,
		CPUIndices:   p.IndexData,
	}, func(r MeshResource) {
		vbuf, ibuf := r.VertexBuffer, r.IndexBuffer
		allocator.FreeBuffer(&vbuf)
		allocator.FreeBuffer(&ibuf)
	}, nil
}

func uploadToMappedBuffer(a alloc.Allocator, buf *alloc.BufferAllocation, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	ptr, err := a.MapBuffer(buf)
	if err != nil {
		return err
	}
	defer a.UnmapBuffer(buf)
	dst := unsafeBytesView(ptr, len(data))
	copy(dst, data)
	return nil
}

func uint32sToBytes(words []uint32) []byte {
	out := make([]byte, len(words)*4)
	for i, w := range words {
		out[i*4+0] = byte(w)
		out[i*4+1] = byte(w >> 8)
		out[i*4+2] = byte(w >> 16)
		out[i*4+3] = byte(w >> 24)
	}
	return out
}

// GetOrCreate returns a shared handle to the mesh for params.
func (c *MeshCache) GetOrCreate(p MeshParams) (lifetime.Handle[MeshResource], error) {
	return c.inner.GetOrCreate(p)
}

func (c *MeshCache) Name() string { return c.inner.Name() }
func (c *MeshCache) Has(key cachekey.Fingerprint) bool { return c.inner.Has(key) }
func (c *MeshCache) Erase(key cachekey.Fingerprint)    { c.inner.Erase(key, 0) }
func (c *MeshCache) Clear()                            { c.inner.Clear(0) }
func (c *MeshCache) Cleanup()                          { c.inner.Clear(0) }

// SerializeTo persists every entry's full params — including the CPU-side
// vertex/index arrays, per spec.md §6.3 — so a reload rebuilds the real
// vertex/index buffers via create instead of leaving the cache empty.
func (c *MeshCache) SerializeTo(w io.Writer) error {
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
		if err := writeString(w, p.FilePath); err != nil {
			return err
		}
		if err := writeUint64(w, p.ProceduralHash); err != nil {
			return err
		}
		fields := []uint32{p.VertexStride, p.VertexCount, p.IndexCount, p.MemoryFlags}
		for _, v := range fields {
			if err := writeUint32(w, v); err != nil {
				return err
			}
		}
		if err := writeBytes(w, p.VertexData); err != nil {
			return err
		}
		if err := writeWords(w, p.IndexData); err != nil {
			return err
		}
	}
	return nil
}

// DeserializeFrom rebuilds each entry's real vertex/index buffers by
// replaying create with the persisted params, then inserts the result under
// the original key.
func (c *MeshCache) DeserializeFrom(r io.Reader, dev device.Device) error {
	var version, count uint32
	if err := readU32U32(r, &version, &count); err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		key, err := readUint64(r)
		if err != nil {
			return err
		}
		filePath, err := readString(r)
		if err != nil {
			return err
		}
		proceduralHash, err := readUint64(r)
		if err != nil {
			return err
		}
		var u [4]uint32
		for j := range u {
			v, err := readUint32(r)
			if err != nil {
				return err
			}
			u[j] = v
		}
		vertexData, err := readBytes(r)
		if err != nil {
			return err
		}
		indexData, err := readWords(r)
		if err != nil {
			return err
		}
		params := MeshParams{
			FilePath:       filePath,
			ProceduralHash: proceduralHash,
			VertexStride:   u[0],
			VertexCount:    u[1],
			IndexCount:     u[2],
			MemoryFlags:    u[3],
			VertexData:     vertexData,
			IndexData:      indexData,
		}
		value, destroy, err := c.create(params)
		if err != nil {
			return err
		}
		c.inner.Insert(cachekey.Fingerprint(key), params, value, destroy)
	}
	return nil
}
