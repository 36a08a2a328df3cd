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

// TextureParams keys spec.md §4.2 row 10. The sampler is composed via the
// sampler cache, so only its resulting handle is referenced here, not its
// own key fields.
type TextureParams struct {
	FilePath       string
	Format         vk.Format
	GenerateMips   bool
	ContentChecksum uint64
	Width, Height  uint32
	// PixelData is not part of the cache key, and Create does not upload
	// it: Create only allocates the image.
	PixelData []byte
	Sampler   lifetime.Handle[SamplerResource]
}

// TextureResource wraps the image/view/memory plus the shared sampler
// handle (spec.md §4.2 row 10).
type TextureResource struct {
	Image   alloc.ImageAllocation
	Sampler lifetime.Handle[SamplerResource]
}

func textureKey(p TextureParams) (cachekey.Fingerprint, []byte) {
	h := cachekey.New()
	h.AddString(p.FilePath)
	h.AddUint32(uint32(p.Format))
	h.AddBool(p.GenerateMips)
	h.AddUint64(p.ContentChecksum)
	return h.Finalize(), h.RawBytes()
}

// TextureCache is the concrete Cache for textures.
type TextureCache struct {
	dev       device.Device
	allocator alloc.Allocator
	inner     *cache.TypedCache[TextureResource, TextureParams]
}

// NewTextureCache constructs a device-bound texture cache.
func NewTextureCache(dev device.Device, allocator alloc.Allocator, queue *lifetime.DestroyQueue, debugCollision bool, m *metrics.CacheMetrics, log *zap.Logger) *TextureCache {
	c := &TextureCache{dev: dev, allocator: allocator}
	c.inner = cache.New[TextureResource, TextureParams]("TextureCache", textureKey, c.create, lifetime.ScopeShared, queue, debugCollision, m, log)
	return c
}

func (c *TextureCache) create(p TextureParams) (TextureResource, func(TextureResource), error) {
	mips := uint32(1)
	if p.GenerateMips {
		mips = mipCountFor(p.Width, p.Height)
	}
	img, err := c.allocator.AllocateImage(alloc.ImageRequest{
		Extent: vk.Extent3D{Width: p.Width, Height: p.Height, Depth: 1},
		Format: p.Format,
		Usage:  vk.ImageUsageSampledBit | vk.ImageUsageTransferDstBit,
		Mips:   mips,
	})
	if err != nil {
		return TextureResource{}, nil, err
	}

	allocator := c.allocator
	sampler := p.Sampler
	return TextureResource{Image: img, Sampler: sampler}, func(r TextureResource) {
		img := r.Image
		allocator.FreeImage(&img)
		r.Sampler.Release(0)
	}, nil
}

func mipCountFor(w, h uint32) uint32 {
	count := uint32(1)
	for w > 1 || h > 1 {
		w /= 2
		h /= 2
		count++
	}
	return count
}

// GetOrCreate returns a shared handle to the texture for params.
func (c *TextureCache) GetOrCreate(p TextureParams) (lifetime.Handle[TextureResource], error) {
	return c.inner.GetOrCreate(p)
}

func (c *TextureCache) Name() string { return c.inner.Name() }
func (c *TextureCache) Has(key cachekey.Fingerprint) bool { return c.inner.Has(key) }
func (c *TextureCache) Erase(key cachekey.Fingerprint)    { c.inner.Erase(key, 0) }
func (c *TextureCache) Clear()                            { c.inner.Clear(0) }
func (c *TextureCache) Cleanup()                          { c.inner.Clear(0) }

func (c *TextureCache) SerializeTo(w io.Writer) error { return writeU32U32(w, 1, 0) }

func (c *TextureCache) DeserializeFrom(r io.Reader, dev device.Device) error {
	var version, count uint32
	return readU32U32(r, &version, &count)
}
