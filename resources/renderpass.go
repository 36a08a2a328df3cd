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

// RenderPassParams keys spec.md §4.2 row 7. DepthFormat is the zero value
// vk.Format(0) when the render pass carries no depth attachment, matching
// the "optional depth format & ops" wording.
type RenderPassParams struct {
	ColorFormat       vk.Format
	Samples           vk.SampleCountFlagBits
	ColorLoadOp       vk.AttachmentLoadOp
	ColorStoreOp      vk.AttachmentStoreOp
	InitialLayout     vk.ImageLayout
	FinalLayout       vk.ImageLayout
	HasDepth          bool
	DepthFormat       vk.Format
	DepthLoadOp       vk.AttachmentLoadOp
	DepthStoreOp      vk.AttachmentStoreOp
	SrcStageMask      vk.PipelineStageFlagBits
	DstStageMask      vk.PipelineStageFlagBits
	SrcAccessMask     vk.AccessFlagBits
	DstAccessMask     vk.AccessFlagBits
}

// RenderPassResource wraps the live render-pass handle.
type RenderPassResource struct {
	RenderPass vk.RenderPass
}

func renderPassKey(p RenderPassParams) (cachekey.Fingerprint, []byte) {
	h := cachekey.New()
	h.AddUint32(uint32(p.ColorFormat))
	h.AddUint32(uint32(p.Samples))
	h.AddUint32(uint32(p.ColorLoadOp))
	h.AddUint32(uint32(p.ColorStoreOp))
	h.AddUint32(uint32(p.InitialLayout))
	h.AddUint32(uint32(p.FinalLayout))
	h.AddBool(p.HasDepth)
	if p.HasDepth {
		h.AddUint32(uint32(p.DepthFormat))
		h.AddUint32(uint32(p.DepthLoadOp))
		h.AddUint32(uint32(p.DepthStoreOp))
	}
	h.AddUint32(uint32(p.SrcStageMask))
	h.AddUint32(uint32(p.DstStageMask))
	h.AddUint32(uint32(p.SrcAccessMask))
	h.AddUint32(uint32(p.DstAccessMask))
	return h.Finalize(), h.RawBytes()
}

// RenderPassCache is the concrete Cache for render passes, grounded in the
// teacher's renderpass.go CreateRenderPass (generalized from its
// hard-coded color+depth attachment pair and subpass-dependency literals to
// the spec's parameterized fields).
type RenderPassCache struct {
	dev   device.Device
	inner *cache.TypedCache[RenderPassResource, RenderPassParams]
}

// NewRenderPassCache constructs a device-bound render-pass cache.
func NewRenderPassCache(dev device.Device, queue *lifetime.DestroyQueue, debugCollision bool, m *metrics.CacheMetrics, log *zap.Logger) *RenderPassCache {
	c := &RenderPassCache{dev: dev}
	c.inner = cache.New[RenderPassResource, RenderPassParams]("RenderPassCache", renderPassKey, c.create, lifetime.ScopeShared, queue, debugCollision, m, log)
	return c
}

func (c *RenderPassCache) create(p RenderPassParams) (RenderPassResource, func(RenderPassResource), error) {
	attachments := []vk.AttachmentDescription{
		{
			Format:        p.ColorFormat,
			Samples:       p.Samples,
			LoadOp:        p.ColorLoadOp,
			StoreOp:       p.ColorStoreOp,
			StencilLoadOp: vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout: p.InitialLayout,
			FinalLayout:   p.FinalLayout,
		},
	}
	colorRef := vk.AttachmentReference{Attachment: 0, Layout: vk.ImageLayoutColorAttachmentOptimal}
	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: 1,
		PColorAttachments:    []vk.AttachmentReference{colorRef},
	}
	if p.HasDepth {
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         p.DepthFormat,
			Samples:        p.Samples,
			LoadOp:         p.DepthLoadOp,
			StoreOp:        p.DepthStoreOp,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		})
		depthRef := vk.AttachmentReference{Attachment: 1, Layout: vk.ImageLayoutDepthStencilAttachmentOptimal}
		subpass.PDepthStencilAttachment = &depthRef
	}

	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.MaxUint32,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(p.SrcStageMask),
		DstStageMask:  vk.PipelineStageFlags(p.DstStageMask),
		SrcAccessMask: vk.AccessFlags(p.SrcAccessMask),
		DstAccessMask: vk.AccessFlags(p.DstAccessMask),
	}

	info := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}

	var pass vk.RenderPass
	if ret := vk.CreateRenderPass(c.dev.Handle(), &info, nil, &pass); ret != vk.Success {
		return RenderPassResource{}, nil, errFromResult(ret)
	}
	dev := c.dev
	return RenderPassResource{RenderPass: pass}, func(r RenderPassResource) {
		vk.DestroyRenderPass(dev.Handle(), r.RenderPass, nil)
	}, nil
}

// GetOrCreate returns a shared handle to the render pass for params.
func (c *RenderPassCache) GetOrCreate(p RenderPassParams) (lifetime.Handle[RenderPassResource], error) {
	return c.inner.GetOrCreate(p)
}

func (c *RenderPassCache) Name() string { return c.inner.Name() }
func (c *RenderPassCache) Has(key cachekey.Fingerprint) bool { return c.inner.Has(key) }
func (c *RenderPassCache) Erase(key cachekey.Fingerprint)    { c.inner.Erase(key, 0) }
func (c *RenderPassCache) Clear()                            { c.inner.Clear(0) }
func (c *RenderPassCache) Cleanup()                          { c.inner.Clear(0) }

// SerializeTo persists every entry's full params, per spec.md §6.3's
// format: u32 version, u32 count, then per entry a u64 key and every
// RenderPassParams field as a u32 (HasDepth as 0/1).
func (c *RenderPassCache) SerializeTo(w io.Writer) error {
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
		fields := []uint32{
			uint32(p.ColorFormat), uint32(p.Samples),
			uint32(p.ColorLoadOp), uint32(p.ColorStoreOp),
			uint32(p.InitialLayout), uint32(p.FinalLayout),
			boolToUint32(p.HasDepth),
			uint32(p.DepthFormat), uint32(p.DepthLoadOp), uint32(p.DepthStoreOp),
			uint32(p.SrcStageMask), uint32(p.DstStageMask),
			uint32(p.SrcAccessMask), uint32(p.DstAccessMask),
		}
		for _, v := range fields {
			if err := writeUint32(w, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// DeserializeFrom rebuilds each entry's real vk.RenderPass by replaying
// create with the persisted params, then inserts the result under the
// original key.
func (c *RenderPassCache) DeserializeFrom(r io.Reader, dev device.Device) error {
	var version, count uint32
	if err := readU32U32(r, &version, &count); err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		key, err := readUint64(r)
		if err != nil {
			return err
		}
		var u [13]uint32
		for j := range u {
			v, err := readUint32(r)
			if err != nil {
				return err
			}
			u[j] = v
		}
		params := RenderPassParams{
			ColorFormat:   vk.Format(u[0]),
			Samples:       vk.SampleCountFlagBits(u[1]),
			ColorLoadOp:   vk.AttachmentLoadOp(u[2]),
			ColorStoreOp:  vk.AttachmentStoreOp(u[3]),
			InitialLayout: vk.ImageLayout(u[4]),
			FinalLayout:   vk.ImageLayout(u[5]),
			HasDepth:      u[6] != 0,
			DepthFormat:   vk.Format(u[7]),
			DepthLoadOp:   vk.AttachmentLoadOp(u[8]),
			DepthStoreOp:  vk.AttachmentStoreOp(u[9]),
			SrcStageMask:  vk.PipelineStageFlagBits(u[10]),
			DstStageMask:  vk.PipelineStageFlagBits(u[11]),
			SrcAccessMask: vk.AccessFlagBits(u[12]),
		}
		// DstAccessMask trails the fixed array above; read it separately to
		// keep the array a round baseline of 13 fields read in fixed order.
		dstAccess, err := readUint32(r)
		if err == nil {
			params.DstAccessMask = vk.AccessFlagBits(dstAccess)
		}
		value, destroy, err := c.create(params)
		if err != nil {
			return err
		}
		c.inner.Insert(cachekey.Fingerprint(key), params, value, destroy)
	}
	return nil
}
