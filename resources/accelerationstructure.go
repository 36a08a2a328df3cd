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

// BuildMode mirrors VK_BUILD_ACCELERATION_STRUCTURE_*_KHR without depending
// on ray-tracing extension bindings the base vulkan-go module doesn't carry.
type BuildMode int

const (
	BuildModeFastTrace BuildMode = iota
	BuildModeFastBuild
)

// GeometryDescriptor is the caller-supplied geometry description; its exact
// shape (triangles vs. AABBs, vertex/index buffer references) is owned by
// the render graph's ray-tracing layer, which is why it is passed through
// opaquely as an any value rather than modeled here.
type GeometryDescriptor struct {
	Kind any
}

// ASBuilder is the acceleration-structure build collaborator. Building and
// destroying a real VK_KHR_acceleration_structure object requires extension
// function pointers loaded at runtime (vkCreateAccelerationStructureKHR,
// vkGetAccelerationStructureBuildSizesKHR, vkCmdBuildAccelerationStructuresKHR)
// that are outside the base vulkan-go bindings the rest of this module
// builds on; ASBuilder is the seam where a caller wires in its own
// extension-loader, matching spec.md §1's "deliberately out of scope:
// ...BVH/acceleration-structure construction" boundary while still letting
// this cache own identity, dedup, and lifetime for the result.
type ASBuilder interface {
	Build(geometry GeometryDescriptor, mode BuildMode, primitiveCount uint32) (vk.AccelerationStructureKHR, alloc.BufferAllocation, error)
	Destroy(as vk.AccelerationStructureKHR, backing alloc.BufferAllocation)
}

// AccelerationStructureParams keys spec.md §4.2 row 11.
type AccelerationStructureParams struct {
	GeometryHash   uint64
	Mode           BuildMode
	PrimitiveCount uint32
	Geometry       GeometryDescriptor
}

// AccelerationStructureResource wraps the AS handle plus its backing
// buffer.
type AccelerationStructureResource struct {
	AS      vk.AccelerationStructureKHR
	Backing alloc.BufferAllocation
}

func accelerationStructureKey(p AccelerationStructureParams) (cachekey.Fingerprint, []byte) {
	h := cachekey.New()
	h.AddUint64(p.GeometryHash)
	h.AddUint32(uint32(p.Mode))
	h.AddUint32(p.PrimitiveCount)
	return h.Finalize(), h.RawBytes()
}

// AccelerationStructureCache is the concrete Cache for BLAS-like
// acceleration structures.
type AccelerationStructureCache struct {
	builder ASBuilder
	inner   *cache.TypedCache[AccelerationStructureResource, AccelerationStructureParams]
}

// NewAccelerationStructureCache constructs a device-bound AS cache backed
// by builder.
func NewAccelerationStructureCache(builder ASBuilder, queue *lifetime.DestroyQueue, debugCollision bool, m *metrics.CacheMetrics, log *zap.Logger) *AccelerationStructureCache {
	c := &AccelerationStructureCache{builder: builder}
	c.inner = cache.New[AccelerationStructureResource, AccelerationStructureParams]("AccelerationStructureCache", accelerationStructureKey, c.create, lifetime.ScopeShared, queue, debugCollision, m, log)
	return c
}

func (c *AccelerationStructureCache) create(p AccelerationStructureParams) (AccelerationStructureResource, func(AccelerationStructureResource), error) {
	as, backing, err := c.builder.Build(p.Geometry, p.Mode, p.PrimitiveCount)
	if err != nil {
		return AccelerationStructureResource{}, nil, err
	}
	builder := c.builder
	return AccelerationStructureResource{AS: as, Backing: backing}, func(r AccelerationStructureResource) {
		builder.Destroy(r.AS, r.Backing)
	}, nil
}

// GetOrCreate returns a shared handle to the acceleration structure for
// params.
func (c *AccelerationStructureCache) GetOrCreate(p AccelerationStructureParams) (lifetime.Handle[AccelerationStructureResource], error) {
	return c.inner.GetOrCreate(p)
}

func (c *AccelerationStructureCache) Name() string { return c.inner.Name() }
func (c *AccelerationStructureCache) Has(key cachekey.Fingerprint) bool { return c.inner.Has(key) }
func (c *AccelerationStructureCache) Erase(key cachekey.Fingerprint)    { c.inner.Erase(key, 0) }
func (c *AccelerationStructureCache) Clear()                            { c.inner.Clear(0) }
func (c *AccelerationStructureCache) Cleanup()                          { c.inner.Clear(0) }

func (c *AccelerationStructureCache) SerializeTo(w io.Writer) error { return writeU32U32(w, 1, 0) }

func (c *AccelerationStructureCache) DeserializeFrom(r io.Reader, dev device.Device) error {
	var version, count uint32
	return readU32U32(r, &version, &count)
}
