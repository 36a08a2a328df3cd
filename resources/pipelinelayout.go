package resources

import (
	"io"

	"github.com/andewx/vkcacher/cache"
	"github.com/andewx/vkcacher/cachekey"
	"github.com/andewx/vkcacher/device"
	"github.com/andewx/vkcacher/internal/metrics"
	"github.com/andewx/vkcacher/lifetime"
	"go.uber.org/zap"
	vk "github.com/vulkan-go/vulkan"
)

// PushConstantRange mirrors vk.PushConstantRange's fields for hashing
// purposes, avoiding a dependency on vk struct equality/hash semantics.
type PushConstantRange struct {
	StageFlags vk.ShaderStageFlagBits
	Offset     uint32
	Size       uint32
}

// PipelineLayoutParams keys spec.md §4.2 row 3: descriptor-set-layout handle
// identity plus push-constant ranges. SetLayouts holds cloned handles to
// the owning descriptor-set-layout cache entries so their refcounts track
// this layout's lifetime (spec.md's "pipeline layouts ... are shared
// resources embedded in pipeline wrappers").
type PipelineLayoutParams struct {
	SetLayouts    []lifetime.Handle[DescriptorSetLayoutResource]
	PushConstants []PushConstantRange
}

// PipelineLayoutResource wraps the live layout handle plus the set-layout
// handles it was built from, so releasing this resource also releases its
// dependency references.
type PipelineLayoutResource struct {
	Layout     vk.PipelineLayout
	SetLayouts []lifetime.Handle[DescriptorSetLayoutResource]
}

func pipelineLayoutKey(p PipelineLayoutParams) (cachekey.Fingerprint, []byte) {
	h := cachekey.New()
	for _, sl := range p.SetLayouts {
		h.AddUint64(uint64(sl.Value().Layout))
	}
	for _, pc := range p.PushConstants {
		h.AddUint32(uint32(pc.StageFlags))
		h.AddUint32(pc.Offset)
		h.AddUint32(pc.Size)
	}
	return h.Finalize(), h.RawBytes()
}

// PipelineLayoutCache is the concrete Cache for pipeline layouts.
type PipelineLayoutCache struct {
	dev   device.Device
	inner *cache.TypedCache[PipelineLayoutResource, PipelineLayoutParams]
}

// NewPipelineLayoutCache constructs a device-bound pipeline-layout cache,
// grounded in the teacher's pipeline.go PipelineBuilder layout handling.
func NewPipelineLayoutCache(dev device.Device, queue *lifetime.DestroyQueue, debugCollision bool, m *metrics.CacheMetrics, log *zap.Logger) *PipelineLayoutCache {
	c := &PipelineLayoutCache{dev: dev}
	c.inner = cache.New[PipelineLayoutResource, PipelineLayoutParams]("PipelineLayoutCache", pipelineLayoutKey, c.create, lifetime.ScopeShared, queue, debugCollision, m, log)
	return c
}

func (c *PipelineLayoutCache) create(p PipelineLayoutParams) (PipelineLayoutResource, func(PipelineLayoutResource), error) {
	handles := make([]vk.DescriptorSetLayout, len(p.SetLayouts))
	for i, sl := range p.SetLayouts {
		handles[i] = sl.Value().Layout
	}
	ranges := make([]vk.PushConstantRange, len(p.PushConstants))
	for i, pc := range p.PushConstants {
		ranges[i] = vk.PushConstantRange{StageFlags: vk.ShaderStageFlags(pc.StageFlags), Offset: pc.Offset, Size: pc.Size}
	}
	info := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         uint32(len(handles)),
		PSetLayouts:            handles,
		PushConstantRangeCount: uint32(len(ranges)),
		PPushConstantRanges:    ranges,
	}
	var layout vk.PipelineLayout
	if ret := vk.CreatePipelineLayout(c.dev.Handle(), &info, nil, &layout); ret != vk.Success {
		return PipelineLayoutResource{}, nil, errFromResult(ret)
	}
	dev := c.dev
	setLayouts := p.SetLayouts
	return PipelineLayoutResource{Layout: layout, SetLayouts: setLayouts}, func(r PipelineLayoutResource) {
		vk.DestroyPipelineLayout(dev.Handle(), r.Layout, nil)
		for _, sl := range r.SetLayouts {
			sl.Release(0)
		}
	}, nil
}

// GetOrCreate returns a shared handle to the pipeline layout for params.
func (c *PipelineLayoutCache) GetOrCreate(p PipelineLayoutParams) (lifetime.Handle[PipelineLayoutResource], error) {
	return c.inner.GetOrCreate(p)
}

func (c *PipelineLayoutCache) Name() string { return c.inner.Name() }
func (c *PipelineLayoutCache) Has(key cachekey.Fingerprint) bool { return c.inner.Has(key) }
func (c *PipelineLayoutCache) Erase(key cachekey.Fingerprint)    { c.inner.Erase(key, 0) }
func (c *PipelineLayoutCache) Clear()                            { c.inner.Clear(0) }
func (c *PipelineLayoutCache) Cleanup()                          { c.inner.Clear(0) }

func (c *PipelineLayoutCache) SerializeTo(w io.Writer) error { return writeU32U32(w, 1, 0) }

func (c *PipelineLayoutCache) DeserializeFrom(r io.Reader, dev device.Device) error {
	var version, count uint32
	return readU32U32(r, &version, &count)
}
