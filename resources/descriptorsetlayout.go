package resources

import (
	"io"

	"github.com/andewx/vkcacher/cache"
	"github.com/andewx/vkcacher/cachekey"
	"github.com/andewx/vkcacher/device"
	"github.com/andewx/vkcacher/internal/metrics"
	"github.com/andewx/vkcacher/lifetime"
	"github.com/andewx/vkcacher/shaderrefl"
	"go.uber.org/zap"
	vk "github.com/vulkan-go/vulkan"
)

// DescriptorSetLayoutParams keys spec.md §4.2 row 4: descriptorInterfaceHash
// from shader reflection plus the set index. Bindings is carried alongside
// the hash so Create can actually build the vk.DescriptorSetLayout; it is
// not itself part of the key, matching the spec's stated key fields.
type DescriptorSetLayoutParams struct {
	DescriptorInterfaceHash uint64
	SetIndex                uint32
	Bindings                []shaderrefl.DescriptorBinding
}

// DescriptorSetLayoutResource wraps the live layout handle plus the source
// binding list it was built from, per spec.md §4.2.
type DescriptorSetLayoutResource struct {
	Layout   vk.DescriptorSetLayout
	Bindings []shaderrefl.DescriptorBinding
}

func descriptorSetLayoutKey(p DescriptorSetLayoutParams) (cachekey.Fingerprint, []byte) {
	h := cachekey.New()
	h.AddUint64(p.DescriptorInterfaceHash)
	h.AddUint32(p.SetIndex)
	return h.Finalize(), h.RawBytes()
}

// DescriptorSetLayoutCache is the concrete Cache for descriptor-set
// layouts.
type DescriptorSetLayoutCache struct {
	dev   device.Device
	inner *cache.TypedCache[DescriptorSetLayoutResource, DescriptorSetLayoutParams]
}

// NewDescriptorSetLayoutCache constructs a device-bound cache.
func NewDescriptorSetLayoutCache(dev device.Device, queue *lifetime.DestroyQueue, debugCollision bool, m *metrics.CacheMetrics, log *zap.Logger) *DescriptorSetLayoutCache {
	c := &DescriptorSetLayoutCache{dev: dev}
	c.inner = cache.New[DescriptorSetLayoutResource, DescriptorSetLayoutParams]("DescriptorSetLayoutCache", descriptorSetLayoutKey, c.create, lifetime.ScopeShared, queue, debugCollision, m, log)
	return c
}

func (c *DescriptorSetLayoutCache) create(p DescriptorSetLayoutParams) (DescriptorSetLayoutResource, func(DescriptorSetLayoutResource), error) {
	bindings := make([]vk.DescriptorSetLayoutBinding, len(p.Bindings))
	for i, b := range p.Bindings {
		bindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  b.DescriptorType,
			DescriptorCount: b.DescriptorCount,
			StageFlags:      vk.ShaderStageFlags(b.StageFlags),
		}
	}
	info := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	var layout vk.DescriptorSetLayout
	if ret := vk.CreateDescriptorSetLayout(c.dev.Handle(), &info, nil, &layout); ret != vk.Success {
		return DescriptorSetLayoutResource{}, nil, errFromResult(ret)
	}
	dev := c.dev
	return DescriptorSetLayoutResource{Layout: layout, Bindings: p.Bindings}, func(r DescriptorSetLayoutResource) {
		vk.DestroyDescriptorSetLayout(dev.Handle(), r.Layout, nil)
	}, nil
}

// GetOrCreate returns a shared handle to the descriptor-set layout for
// params.
func (c *DescriptorSetLayoutCache) GetOrCreate(p DescriptorSetLayoutParams) (lifetime.Handle[DescriptorSetLayoutResource], error) {
	return c.inner.GetOrCreate(p)
}

func (c *DescriptorSetLayoutCache) Name() string { return c.inner.Name() }
func (c *DescriptorSetLayoutCache) Has(key cachekey.Fingerprint) bool { return c.inner.Has(key) }
func (c *DescriptorSetLayoutCache) Erase(key cachekey.Fingerprint)    { c.inner.Erase(key, 0) }
func (c *DescriptorSetLayoutCache) Clear()                            { c.inner.Clear(0) }
func (c *DescriptorSetLayoutCache) Cleanup()                          { c.inner.Clear(0) }

func (c *DescriptorSetLayoutCache) SerializeTo(w io.Writer) error { return writeU32U32(w, 1, 0) }

func (c *DescriptorSetLayoutCache) DeserializeFrom(r io.Reader, dev device.Device) error {
	var version, count uint32
	return readU32U32(r, &version, &count)
}
