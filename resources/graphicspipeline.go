package resources

import (
	"io"
	"sync"

	"github.com/andewx/vkcacher/cache"
	"github.com/andewx/vkcacher/cachekey"
	"github.com/andewx/vkcacher/device"
	"github.com/andewx/vkcacher/internal/metrics"
	"github.com/andewx/vkcacher/lifetime"
	"go.uber.org/zap"
	vk "github.com/vulkan-go/vulkan"
)

// VertexBinding/VertexAttribute mirror the corresponding vk structs for
// hashing without requiring their cgo-marshaled counterparts up front.
type VertexBinding struct {
	Binding   uint32
	Stride    uint32
	InputRate vk.VertexInputRate
}

type VertexAttribute struct {
	Location uint32
	Binding  uint32
	Format   vk.Format
	Offset   uint32
}

// GraphicsPipelineParams keys spec.md §4.2 row 6.
type GraphicsPipelineParams struct {
	VertexShader   lifetime.Handle[ShaderModuleResource]
	FragmentShader lifetime.Handle[ShaderModuleResource]
	Layout         lifetime.Handle[PipelineLayoutResource]
	RenderPass     lifetime.Handle[RenderPassResource]
	DepthTestEnable  bool
	DepthWriteEnable bool
	CullMode         vk.CullModeFlagBits
	PolygonMode      vk.PolygonMode
	Topology         vk.PrimitiveTopology
	Bindings         []VertexBinding
	Attributes       []VertexAttribute
	SpecEntries      []SpecializationEntry
	SpecData         []byte
	Viewport         vk.Viewport
	Scissor          vk.Rect2D
}

// GraphicsPipelineResource wraps the live pipeline plus shared layout and
// render-pass handles (spec.md §4.2 row 6).
type GraphicsPipelineResource struct {
	Pipeline   vk.Pipeline
	Layout     lifetime.Handle[PipelineLayoutResource]
	RenderPass lifetime.Handle[RenderPassResource]
}

func graphicsPipelineKey(p GraphicsPipelineParams) (cachekey.Fingerprint, []byte) {
	h := cachekey.New()
	h.AddUint64(uint64(p.VertexShader.Value().Module))
	h.AddUint64(uint64(p.FragmentShader.Value().Module))
	h.AddUint64(uint64(p.Layout.Value().Layout))
	h.AddUint64(uint64(p.RenderPass.Value().RenderPass))
	h.AddBool(p.DepthTestEnable)
	h.AddBool(p.DepthWriteEnable)
	h.AddUint32(uint32(p.CullMode))
	h.AddUint32(uint32(p.PolygonMode))
	h.AddUint32(uint32(p.Topology))
	for _, b := range p.Bindings {
		h.AddUint32(b.Binding)
		h.AddUint32(b.Stride)
		h.AddUint32(uint32(b.InputRate))
	}
	for _, a := range p.Attributes {
		h.AddUint32(a.Location)
		h.AddUint32(a.Binding)
		h.AddUint32(uint32(a.Format))
		h.AddUint32(a.Offset)
	}
	h.AddBytes(p.SpecData)
	return h.Finalize(), h.RawBytes()
}

// GraphicsPipelineCache is the concrete Cache for graphics pipelines. Per
// the §9 Open Question resolution, it owns the single process-wide
// vk.PipelineCache for its device: every pipeline built here and by
// ComputePipelineCache (handed the same vk.PipelineCache by the caller)
// feeds the same on-disk blob.
type GraphicsPipelineCache struct {
	dev   device.Device
	inner *cache.TypedCache[GraphicsPipelineResource, GraphicsPipelineParams]

	mu            sync.Mutex
	pipelineCache vk.PipelineCache
}

// NewGraphicsPipelineCache constructs a device-bound graphics-pipeline
// cache and its owned vk.PipelineCache, seeded with initialData (nil for a
// cold start, or bytes previously returned by ExportPipelineCacheBlob).
func NewGraphicsPipelineCache(dev device.Device, initialData []byte, queue *lifetime.DestroyQueue, debugCollision bool, m *metrics.CacheMetrics, log *zap.Logger) (*GraphicsPipelineCache, error) {
	info := vk.PipelineCacheCreateInfo{
		SType:           vk.StructureTypePipelineCacheCreateInfo,
		InitialDataSize: uint(len(initialData)),
	}
	if len(initialData) > 0 {
		info.PInitialData = sliceToPointer(initialData)
	}
	var pc vk.PipelineCache
	if ret := vk.CreatePipelineCache(dev.Handle(), &info, nil, &pc); ret != vk.Success {
		return nil, errFromResult(ret)
	}
	c := &GraphicsPipelineCache{dev: dev, pipelineCache: pc}
	c.inner = cache.New[GraphicsPipelineResource, GraphicsPipelineParams]("GraphicsPipelineCache", graphicsPipelineKey, c.create, lifetime.ScopeShared, queue, debugCollision, m, log)
	return c, nil
}

// PipelineCache returns the owned vk.PipelineCache for sharing with
// ComputePipelineCache.create calls.
func (c *GraphicsPipelineCache) PipelineCache() vk.PipelineCache {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pipelineCache
}

func (c *GraphicsPipelineCache) create(p GraphicsPipelineParams) (GraphicsPipelineResource, func(GraphicsPipelineResource), error) {
	stages := []vk.PipelineShaderStageCreateInfo{
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageVertexBit,
			Module: p.VertexShader.Value().Module,
			PName:  safeCString("main"),
		},
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageFragmentBit,
			Module: p.FragmentShader.Value().Module,
			PName:  safeCString("main"),
		},
	}

	bindings := make([]vk.VertexInputBindingDescription, len(p.Bindings))
	for i, b := range p.Bindings {
		bindings[i] = vk.VertexInputBindingDescription{Binding: b.Binding, Stride: b.Stride, InputRate: b.InputRate}
	}
	attrs := make([]vk.VertexInputAttributeDescription, len(p.Attributes))
	for i, a := range p.Attributes {
		attrs[i] = vk.VertexInputAttributeDescription{Location: a.Location, Binding: a.Binding, Format: a.Format, Offset: a.Offset}
	}
	vertexInput := vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   uint32(len(bindings)),
		PVertexBindingDescriptions:      bindings,
		VertexAttributeDescriptionCount: uint32(len(attrs)),
		PVertexAttributeDescriptions:    attrs,
	}

	assembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology: p.Topology,
	}

	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		PViewports:    []vk.Viewport{p.Viewport},
		ScissorCount:  1,
		PScissors:     []vk.Rect2D{p.Scissor},
	}

	rasterizer := vk.PipelineRasterizationStateCreateInfo{
		SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
		PolygonMode: p.PolygonMode,
		CullMode:    vk.CullModeFlags(p.CullMode),
		FrontFace:   vk.FrontFaceClockwise,
		LineWidth:   1.0,
	}

	multisample := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: vk.SampleCount1Bit,
		MinSampleShading:     1.0,
	}

	colorBlendAttachment := vk.PipelineColorBlendAttachmentState{
		ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit) | vk.ColorComponentFlags(vk.ColorComponentGBit) | vk.ColorComponentFlags(vk.ColorComponentBBit) | vk.ColorComponentFlags(vk.ColorComponentABit),
	}
	colorBlend := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: 1,
		PAttachments:    []vk.PipelineColorBlendAttachmentState{colorBlendAttachment},
	}

	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:            vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:  vk.Bool32(boolToUint32(p.DepthTestEnable)),
		DepthWriteEnable: vk.Bool32(boolToUint32(p.DepthWriteEnable)),
		DepthCompareOp:   vk.CompareOpLess,
	}

	info := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:           uint32(len(stages)),
		PStages:              stages,
		PVertexInputState:    &vertexInput,
		PInputAssemblyState:  &assembly,
		PViewportState:       &viewportState,
		PRasterizationState:  &rasterizer,
		PMultisampleState:    &multisample,
		PColorBlendState:     &colorBlend,
		PDepthStencilState:   &depthStencil,
		Layout:               p.Layout.Value().Layout,
		RenderPass:           p.RenderPass.Value().RenderPass,
		Subpass:              0,
	}

	pipelines := make([]vk.Pipeline, 1)
	c.mu.Lock()
	pc := c.pipelineCache
	c.mu.Unlock()
	if ret := vk.CreateGraphicsPipelines(c.dev.Handle(), pc, 1, []vk.GraphicsPipelineCreateInfo{info}, nil, pipelines); ret != vk.Success {
		return GraphicsPipelineResource{}, nil, errFromResult(ret)
	}

	dev := c.dev
	layout := p.Layout
	renderPass := p.RenderPass
	return GraphicsPipelineResource{Pipeline: pipelines[0], Layout: layout, RenderPass: renderPass}, func(r GraphicsPipelineResource) {
		vk.DestroyPipeline(dev.Handle(), r.Pipeline, nil)
		r.Layout.Release(0)
		r.RenderPass.Release(0)
	}, nil
}

// GetOrCreate returns a shared handle to the graphics pipeline for params.
func (c *GraphicsPipelineCache) GetOrCreate(p GraphicsPipelineParams) (lifetime.Handle[GraphicsPipelineResource], error) {
	return c.inner.GetOrCreate(p)
}

func (c *GraphicsPipelineCache) Name() string { return c.inner.Name() }
func (c *GraphicsPipelineCache) Has(key cachekey.Fingerprint) bool { return c.inner.Has(key) }
func (c *GraphicsPipelineCache) Erase(key cachekey.Fingerprint)    { c.inner.Erase(key, 0) }
func (c *GraphicsPipelineCache) Clear()                            { c.inner.Clear(0) }

// Cleanup clears every cached pipeline and destroys the owned
// vk.PipelineCache, per spec.md §4.2 row 6's "Destroys pipeline; merged
// pipeline-cache blob persists to disk" (the blob itself is exported by
// ExportPipelineCacheBlob before Cleanup runs).
func (c *GraphicsPipelineCache) Cleanup() {
	c.inner.Clear(0)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pipelineCache != nil {
		vk.DestroyPipelineCache(c.dev.Handle(), c.pipelineCache, nil)
		c.pipelineCache = nil
	}
}

// ExportPipelineCacheBlob returns the current merged vk.PipelineCache data
// via vkGetPipelineCacheData, for persistence to
// <cache_root>/devices/Device_0x<hex>/pipeline_cache.bin per spec.md §6.4.
func (c *GraphicsPipelineCache) ExportPipelineCacheBlob() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var size uint
	if ret := vk.GetPipelineCacheData(c.dev.Handle(), c.pipelineCache, &size, nil); ret != vk.Success {
		return nil, errFromResult(ret)
	}
	if size == 0 {
		return nil, nil
	}
	data := make([]byte, size)
	if ret := vk.GetPipelineCacheData(c.dev.Handle(), c.pipelineCache, &size, sliceToPointer(data)); ret != vk.Success {
		return nil, errFromResult(ret)
	}
	return data[:size], nil
}

// SerializeTo writes the merged pipeline-cache blob: u32 version, u32
// length, raw bytes, per spec.md §6.4.
func (c *GraphicsPipelineCache) SerializeTo(w io.Writer) error {
	blob, err := c.ExportPipelineCacheBlob()
	if err != nil {
		return err
	}
	if err := writeU32U32(w, 1, uint32(len(blob))); err != nil {
		return err
	}
	_, err = w.Write(blob)
	return err
}

// DeserializeFrom is a no-op for the in-memory entry map: the blob is
// consumed at construction time via NewGraphicsPipelineCache's initialData
// parameter, not after the cache already exists, since vk.PipelineCache
// merge-from-blob only happens at vkCreatePipelineCache time.
func (c *GraphicsPipelineCache) DeserializeFrom(r io.Reader, dev device.Device) error {
	var version, length uint32
	if err := readU32U32(r, &version, &length); err != nil {
		return err
	}
	if length == 0 {
		return nil
	}
	buf := make([]byte, length)
	_, err := io.ReadFull(r, buf)
	return err
}
