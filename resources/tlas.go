package resources

import (
	"errors"
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

// TLASDirtyLevel mirrors TLASInstanceManager::DirtyLevel from the original
// CashSystem: how much of the instance set changed since the last rebuild,
// so a TLASUpdateRequest can pick VK_BUILD_ACCELERATION_STRUCTURE_MODE_UPDATE_KHR
// over the full ...BUILD_KHR path when only transforms moved.
type TLASDirtyLevel uint8

const (
	TLASClean TLASDirtyLevel = iota
	TLASTransformsOnly
	TLASStructuralChange
)

// ASBuildOp mirrors VK_BUILD_ACCELERATION_STRUCTURE_MODE_*_KHR.
type ASBuildOp int

const (
	ASBuildOpBuild ASBuildOp = iota
	ASBuildOpUpdate
)

// TLASInstanceFlags mirrors VkGeometryInstanceFlagsKHR without depending on
// the ray-tracing extension header the base vulkan-go bindings don't carry.
type TLASInstanceFlags uint32

// TLASInstance mirrors TLASInstanceManager::Instance: one BLAS reference
// plus its placement for the next TLAS build.
type TLASInstance struct {
	BLASKey     uint64
	BLASAddress vk.DeviceAddress
	Transform   [12]float32 // row-major 3x4, identity-default per the original
	CustomIndex uint32
	Mask        uint8
	Flags       TLASInstanceFlags
	Active      bool
}

// TLASInstanceBufferParams keys the per-device TLAS instance-buffer ring,
// grounded on TLASInstanceBuffer::Config and TLASInstanceBuffer::Initialize.
type TLASInstanceBufferParams struct {
	SceneDescriptorHash uint64
	FrameCount          uint32
	MaxInstances        uint32
}

func tlasInstanceBufferKey(p TLASInstanceBufferParams) (cachekey.Fingerprint, []byte) {
	h := cachekey.New()
	h.AddUint64(p.SceneDescriptorHash)
	h.AddUint32(p.FrameCount)
	h.AddUint32(p.MaxInstances)
	return h.Finalize(), h.RawBytes()
}

// tlasInstanceRecordSize is sizeof(VkAccelerationStructureInstanceKHR): a
// 3x4 transform (48 bytes) plus two packed dwords and an 8-byte device
// address (16 bytes).
const tlasInstanceRecordSize = 64

// TLASInstanceBufferResource is the per-swapchain-image ring of
// persistently mapped instance buffers, one per TLASInstanceBuffer::FrameBuffer.
type TLASInstanceBufferResource struct {
	Frames       []alloc.BufferAllocation
	MaxInstances uint32
}

// TLASInstanceBufferCache is the concrete Cache for TLAS instance-data
// ring buffers, spec.md §1/§2's "TLAS instance buffers" row.
type TLASInstanceBufferCache struct {
	allocator alloc.Allocator
	inner     *cache.TypedCache[TLASInstanceBufferResource, TLASInstanceBufferParams]
}

// NewTLASInstanceBufferCache constructs a device-bound TLAS instance-buffer
// cache.
func NewTLASInstanceBufferCache(allocator alloc.Allocator, queue *lifetime.DestroyQueue, debugCollision bool, m *metrics.CacheMetrics, log *zap.Logger) *TLASInstanceBufferCache {
	c := &TLASInstanceBufferCache{allocator: allocator}
	c.inner = cache.New[TLASInstanceBufferResource, TLASInstanceBufferParams]("TLASInstanceBufferCache", tlasInstanceBufferKey, c.create, lifetime.ScopeShared, queue, debugCollision, m, log)
	return c
}

func (c *TLASInstanceBufferCache) create(p TLASInstanceBufferParams) (TLASInstanceBufferResource, func(TLASInstanceBufferResource), error) {
	size := vk.DeviceSize(p.MaxInstances) * tlasInstanceRecordSize
	frames := make([]alloc.BufferAllocation, 0, p.FrameCount)
	for i := uint32(0); i < p.FrameCount; i++ {
		buf, err := c.allocator.AllocateBuffer(alloc.BufferRequest{
			Size:        size,
			Usage:       vk.BufferUsageShaderDeviceAddressBit | vk.BufferUsageStorageBufferBit,
			HostVisible: true,
			Persistent:  true,
		})
		if err != nil {
			for _, f := range frames {
				f := f
				c.allocator.FreeBuffer(&f)
			}
			return TLASInstanceBufferResource{}, nil, err
		}
		frames = append(frames, buf)
	}
	allocator := c.allocator
	return TLASInstanceBufferResource{Frames: frames, MaxInstances: p.MaxInstances}, func(r TLASInstanceBufferResource) {
		for _, f := range r.Frames {
			f := f
			allocator.FreeBuffer(&f)
		}
	}, nil
}

// WriteInstances writes instances into frame imageIndex's persistently
// mapped buffer, mirroring TLASInstanceBuffer::WriteInstances: HOST_COHERENT
// memory needs no explicit flush.
func (r TLASInstanceBufferResource) WriteInstances(imageIndex uint32, instances []TLASInstance) error {
	if int(imageIndex) >= len(r.Frames) {
		return errTLASBadImageIndex
	}
	frame := r.Frames[imageIndex]
	if frame.MappedPtr == nil {
		return errTLASNotMapped
	}
	view := unsafeBytesView(frame.MappedPtr, int(r.MaxInstances)*tlasInstanceRecordSize)
	for i, inst := range instances {
		if uint32(i) >= r.MaxInstances {
			break
		}
		copy(view[i*tlasInstanceRecordSize:(i+1)*tlasInstanceRecordSize], tlasInstanceToBytes(inst))
	}
	return nil
}

var (
	errTLASBadImageIndex = errors.New("resources: tlas instance buffer: image index out of range")
	errTLASNotMapped     = errors.New("resources: tlas instance buffer: frame is not host-mapped")
)

func tlasInstanceToBytes(in TLASInstance) []byte {
	out := make([]byte, 0, tlasInstanceRecordSize)
	for _, f := range in.Transform {
		out = append(out, float32ToBytes(f)...)
	}
	customIndexAndMask := (in.CustomIndex & 0x00ffffff) | (uint32(in.Mask) << 24)
	sbtOffsetAndFlags := uint32(in.Flags) << 24
	out = append(out, uint32ToBytes(customIndexAndMask)...)
	out = append(out, uint32ToBytes(sbtOffsetAndFlags)...)
	out = append(out, uint64ToBytes(uint64(in.BLASAddress))...)
	return out
}

// GetOrCreate returns a shared handle to the instance-buffer ring for
// params.
func (c *TLASInstanceBufferCache) GetOrCreate(p TLASInstanceBufferParams) (lifetime.Handle[TLASInstanceBufferResource], error) {
	return c.inner.GetOrCreate(p)
}

func (c *TLASInstanceBufferCache) Name() string { return c.inner.Name() }
func (c *TLASInstanceBufferCache) Has(key cachekey.Fingerprint) bool { return c.inner.Has(key) }
func (c *TLASInstanceBufferCache) Erase(key cachekey.Fingerprint)    { c.inner.Erase(key, 0) }
func (c *TLASInstanceBufferCache) Clear()                            { c.inner.Clear(0) }
func (c *TLASInstanceBufferCache) Cleanup()                          { c.inner.Clear(0) }

// SerializeTo persists each entry's params: the buffers themselves are
// device-local allocations that cannot survive a process restart, so
// DeserializeFrom rematerialises them via create rather than reading back
// raw bytes, the same pattern as MeshCache.
func (c *TLASInstanceBufferCache) SerializeTo(w io.Writer) error {
	entries := c.inner.Entries()
	if err := writeU32U32(w, 1, uint32(len(entries))); err != nil {
		return err
	}
	for _, e := range entries {
		e.Value.Release(0)
		if err := writeUint64(w, uint64(e.Key)); err != nil {
			return err
		}
		if err := writeUint64(w, e.Params.SceneDescriptorHash); err != nil {
			return err
		}
		if err := writeUint32(w, e.Params.FrameCount); err != nil {
			return err
		}
		if err := writeUint32(w, e.Params.MaxInstances); err != nil {
			return err
		}
	}
	return nil
}

func (c *TLASInstanceBufferCache) DeserializeFrom(r io.Reader, dev device.Device) error {
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
		frameCount, err := readUint32(r)
		if err != nil {
			return err
		}
		maxInstances, err := readUint32(r)
		if err != nil {
			return err
		}
		params := TLASInstanceBufferParams{SceneDescriptorHash: sceneHash, FrameCount: frameCount, MaxInstances: maxInstances}
		value, destroy, err := c.create(params)
		if err != nil {
			return err
		}
		c.inner.Insert(cachekey.Fingerprint(key), params, value, destroy)
	}
	return nil
}

// ASRebuilder is the TLAS-specific extension of ASBuilder: recording an
// acceleration-structure build/update command into an active command
// buffer requires the same runtime-loaded VK_KHR_acceleration_structure
// function pointers ASBuilder.Build needs, so it is injected the same way.
type ASRebuilder interface {
	RebuildTLAS(cmd vk.CommandBuffer, existing vk.AccelerationStructureKHR, instances alloc.BufferAllocation, instanceCount uint32, op ASBuildOp) (vk.AccelerationStructureKHR, alloc.BufferAllocation, error)
}

// TLASUpdateRequest is the generalized-update-API request from
// TLASUpdateRequest.h: it records a TLAS build or update command, delegating
// the actual VK_KHR_acceleration_structure call to an injected ASRebuilder
// the way the original delegates to DynamicTLAS::RecordBuild. It implements
// upload.UpdateRequest by structural typing (Record/EstimatedCost/
// RequiresBarriers/Priority) without resources importing upload.
type TLASUpdateRequest struct {
	ImageIndex     uint32
	Rebuilder      ASRebuilder
	Existing       vk.AccelerationStructureKHR
	InstanceBuffer alloc.BufferAllocation
	InstanceCount  uint32
	DirtyLevel     TLASDirtyLevel
	onRebuilt      func(vk.AccelerationStructureKHR, alloc.BufferAllocation)
}

// NewTLASUpdateRequest constructs a rebuild request. onRebuilt, if non-nil,
// receives the (possibly new) acceleration structure handle and backing
// buffer after Record runs, so the caller can update the cached
// AccelerationStructureResource it belongs to.
func NewTLASUpdateRequest(imageIndex uint32, rebuilder ASRebuilder, existing vk.AccelerationStructureKHR, instanceBuffer alloc.BufferAllocation, instanceCount uint32, dirty TLASDirtyLevel, onRebuilt func(vk.AccelerationStructureKHR, alloc.BufferAllocation)) *TLASUpdateRequest {
	return &TLASUpdateRequest{
		ImageIndex:     imageIndex,
		Rebuilder:      rebuilder,
		Existing:       existing,
		InstanceBuffer: instanceBuffer,
		InstanceCount:  instanceCount,
		DirtyLevel:     dirty,
		onRebuilt:      onRebuilt,
	}
}

// Record builds or updates the TLAS depending on DirtyLevel: a structural
// change (instances added/removed) forces a full build, a transforms-only
// change can reuse VK_BUILD_ACCELERATION_STRUCTURE_MODE_UPDATE_KHR, mirroring
// TLASInstanceManager::DirtyLevel's two non-clean levels.
func (r *TLASUpdateRequest) Record(cmd vk.CommandBuffer) {
	if r.DirtyLevel == TLASClean {
		return
	}
	op := ASBuildOpUpdate
	if r.DirtyLevel == TLASStructuralChange {
		op = ASBuildOpBuild
	}
	as, backing, err := r.Rebuilder.RebuildTLAS(cmd, r.Existing, r.InstanceBuffer, r.InstanceCount, op)
	if err != nil {
		return
	}
	if r.onRebuilt != nil {
		r.onRebuilt(as, backing)
	}
}

// EstimatedCost mirrors TLASUpdateRequest::GetEstimatedCost: TLAS builds are
// relatively expensive compared to a plain buffer write.
func (r *TLASUpdateRequest) EstimatedCost() int64 { return 100 }

// RequiresBarriers mirrors TLASUpdateRequest::RequiresBarriers: true, since
// the instance buffer write must be visible before the build command reads
// it.
func (r *TLASUpdateRequest) RequiresBarriers() bool { return true }

// Priority keeps TLAS rebuilds at the default ordering weight; callers that
// need TLAS builds earlier/later in a frame's update batch can wrap this
// request or sort frameQueues themselves.
func (r *TLASUpdateRequest) Priority() int { return 128 }
