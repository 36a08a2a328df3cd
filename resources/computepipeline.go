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

// SpecializationEntry mirrors vk.SpecializationMapEntry for hashing.
type SpecializationEntry struct {
	ConstantID uint32
	Offset     uint32
	Size       uint
}

// ComputePipelineParams keys spec.md §4.2 row 5.
type ComputePipelineParams struct {
	Shader             lifetime.Handle[ShaderModuleResource]
	EntryPoint         string
	Layout             lifetime.Handle[PipelineLayoutResource]
	WorkgroupX         uint32
	WorkgroupY         uint32
	WorkgroupZ         uint32
	SpecEntries        []SpecializationEntry
	SpecData           []byte
	PipelineCache      vk.PipelineCache
}

// ComputePipelineResource wraps the live pipeline plus shared layout handle,
// per spec.md §4.2 row 5's "pipeline + pipeline-cache handle + shared
// pipeline-layout handle".
type ComputePipelineResource struct {
	Pipeline vk.Pipeline
	Layout   lifetime.Handle[PipelineLayoutResource]
}

func computePipelineKey(p ComputePipelineParams) (cachekey.Fingerprint, []byte) {
	h := cachekey.New()
	h.AddUint64(uint64(p.Shader.Value().Module))
	h.AddUint64(uint64(p.Layout.Value().Layout))
	h.AddUint32(p.WorkgroupX)
	h.AddUint32(p.WorkgroupY)
	h.AddUint32(p.WorkgroupZ)
	for _, e := range p.SpecEntries {
		h.AddUint32(e.ConstantID)
		h.AddUint32(e.Offset)
		h.AddUint32(uint32(e.Size))
	}
	h.AddBytes(p.SpecData)
	return h.Finalize(), h.RawBytes()
}

// ComputePipelineCache is the concrete Cache for compute pipelines.
// PipelineCache is supplied externally (owned by GraphicsPipelineCache per
// the §9 Open Question resolution: one process-wide vk.PipelineCache per
// device).
type ComputePipelineCache struct {
	dev   device.Device
	inner *cache.TypedCache[ComputePipelineResource, ComputePipelineParams]
}

// NewComputePipelineCache constructs a device-bound compute-pipeline cache.
func NewComputePipelineCache(dev device.Device, queue *lifetime.DestroyQueue, debugCollision bool, m *metrics.CacheMetrics, log *zap.Logger) *ComputePipelineCache {
	c := &ComputePipelineCache{dev: dev}
	c.inner = cache.New[ComputePipelineResource, ComputePipelineParams]("ComputePipelineCache", computePipelineKey, c.create, lifetime.ScopeShared, queue, debugCollision, m, log)
	return c
}

func (c *ComputePipelineCache) create(p ComputePipelineParams) (ComputePipelineResource, func(ComputePipelineResource), error) {
	var specInfo *vk.SpecializationInfo
	if len(p.SpecEntries) > 0 {
		entries := make([]vk.SpecializationMapEntry, len(p.SpecEntries))
		for i, e := range p.SpecEntries {
			entries[i] = vk.SpecializationMapEntry{ConstantID: e.ConstantID, Offset: e.Offset, Size: e.Size}
		}
		specInfo = &vk.SpecializationInfo{
			MapEntryCount: uint32(len(entries)),
			PMapEntries:   entries,
			Datasize:      uint(len(p.SpecData)),
			PData:         sliceToPointer(p.SpecData),
		}
	}

	stage := vk.PipelineShaderStageCreateInfo{
		SType:               vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:               vk.ShaderStageComputeBit,
		Module:              p.Shader.Value().Module,
		PName:               safeCString(p.EntryPoint),
		PSpecializationInfo: specInfo,
	}

	info := vk.ComputePipelineCreateInfo{
		SType:  vk.StructureTypeComputePipelineCreateInfo,
		Stage:  stage,
		Layout: p.Layout.Value().Layout,
	}

	pipelines := make([]vk.Pipeline, 1)
	if ret := vk.CreateComputePipelines(c.dev.Handle(), p.PipelineCache, 1, []vk.ComputePipelineCreateInfo{info}, nil, pipelines); ret != vk.Success {
		return ComputePipelineResource{}, nil, errFromResult(ret)
	}

	dev := c.dev
	layout := p.Layout
	return ComputePipelineResource{Pipeline: pipelines[0], Layout: layout}, func(r ComputePipelineResource) {
		vk.DestroyPipeline(dev.Handle(), r.Pipeline, nil)
		r.Layout.Release(0)
	}, nil
}

// GetOrCreate returns a shared handle to the compute pipeline for params.
func (c *ComputePipelineCache) GetOrCreate(p ComputePipelineParams) (lifetime.Handle[ComputePipelineResource], error) {
	return c.inner.GetOrCreate(p)
}

func (c *ComputePipelineCache) Name() string { return c.inner.Name() }
func (c *ComputePipelineCache) Has(key cachekey.Fingerprint) bool { return c.inner.Has(key) }
func (c *ComputePipelineCache) Erase(key cachekey.Fingerprint)    { c.inner.Erase(key, 0) }
func (c *ComputePipelineCache) Clear()                            { c.inner.Clear(0) }
func (c *ComputePipelineCache) Cleanup()                          { c.inner.Clear(0) }

func (c *ComputePipelineCache) SerializeTo(w io.Writer) error { return writeU32U32(w, 1, 0) }

func (c *ComputePipelineCache) DeserializeFrom(r io.Reader, dev device.Device) error {
	var version, count uint32
	return readU32U32(r, &version, &count)
}
