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

// SamplerParams keys spec.md §4.2 row 8. Quantized float fields go through
// cachekey.AddFloat so two samplers differing only in floating-point noise
// below the ×1000 quantization step collapse to the same Fingerprint.
type SamplerParams struct {
	MagFilter     vk.Filter
	MinFilter     vk.Filter
	AddressModeU  vk.SamplerAddressMode
	AddressModeV  vk.SamplerAddressMode
	AddressModeW  vk.SamplerAddressMode
	MaxAnisotropy float32
	CompareEnable bool
	CompareOp     vk.CompareOp
	MipLodBias    float32
	MinLod        float32
	MaxLod        float32
	BorderColor   vk.BorderColor
	Unnormalized  bool
}

// SamplerResource wraps the live sampler handle.
type SamplerResource struct {
	Sampler vk.Sampler
}

func samplerKey(p SamplerParams) (cachekey.Fingerprint, []byte) {
	h := cachekey.New()
	h.AddUint32(uint32(p.MagFilter))
	h.AddUint32(uint32(p.MinFilter))
	h.AddUint32(uint32(p.AddressModeU))
	h.AddUint32(uint32(p.AddressModeV))
	h.AddUint32(uint32(p.AddressModeW))
	h.AddFloat(p.MaxAnisotropy)
	h.AddBool(p.CompareEnable)
	h.AddUint32(uint32(p.CompareOp))
	h.AddFloat(p.MipLodBias)
	h.AddFloat(p.MinLod)
	h.AddFloat(p.MaxLod)
	h.AddUint32(uint32(p.BorderColor))
	h.AddBool(p.Unnormalized)
	return h.Finalize(), h.RawBytes()
}

// SamplerCache is the concrete Cache for samplers.
type SamplerCache struct {
	dev   device.Device
	inner *cache.TypedCache[SamplerResource, SamplerParams]
}

// NewSamplerCache constructs a device-bound sampler cache.
func NewSamplerCache(dev device.Device, queue *lifetime.DestroyQueue, debugCollision bool, m *metrics.CacheMetrics, log *zap.Logger) *SamplerCache {
	c := &SamplerCache{dev: dev}
	c.inner = cache.New[SamplerResource, SamplerParams]("SamplerCache", samplerKey, c.create, lifetime.ScopeShared, queue, debugCollision, m, log)
	return c
}

func (c *SamplerCache) create(p SamplerParams) (SamplerResource, func(SamplerResource), error) {
	anisotropyEnable := p.MaxAnisotropy > 1.0
	info := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               p.MagFilter,
		MinFilter:               p.MinFilter,
		AddressModeU:            p.AddressModeU,
		AddressModeV:            p.AddressModeV,
		AddressModeW:            p.AddressModeW,
		AnisotropyEnable:        vk.Bool32(boolToUint32(anisotropyEnable)),
		MaxAnisotropy:           p.MaxAnisotropy,
		CompareEnable:           vk.Bool32(boolToUint32(p.CompareEnable)),
		CompareOp:               p.CompareOp,
		MipLodBias:              p.MipLodBias,
		MinLod:                  p.MinLod,
		MaxLod:                  p.MaxLod,
		BorderColor:             p.BorderColor,
		UnnormalizedCoordinates: vk.Bool32(boolToUint32(p.Unnormalized)),
	}
	var sampler vk.Sampler
	if ret := vk.CreateSampler(c.dev.Handle(), &info, nil, &sampler); ret != vk.Success {
		return SamplerResource{}, nil, errFromResult(ret)
	}
	dev := c.dev
	return SamplerResource{Sampler: sampler}, func(r SamplerResource) {
		vk.DestroySampler(dev.Handle(), r.Sampler, nil)
	}, nil
}

func boolToUint32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// GetOrCreate returns a shared handle to the sampler for params.
func (c *SamplerCache) GetOrCreate(p SamplerParams) (lifetime.Handle[SamplerResource], error) {
	return c.inner.GetOrCreate(p)
}

func (c *SamplerCache) Name() string { return c.inner.Name() }
func (c *SamplerCache) Has(key cachekey.Fingerprint) bool { return c.inner.Has(key) }
func (c *SamplerCache) Erase(key cachekey.Fingerprint)    { c.inner.Erase(key, 0) }
func (c *SamplerCache) Clear()                            { c.inner.Clear(0) }
func (c *SamplerCache) Cleanup()                          { c.inner.Clear(0) }

// SerializeTo persists every entry's full params, per spec.md §6.3's
// format: u32 version, u32 count, then per entry a u64 key and every field
// samplerKey hashes plus Unnormalized. Rebuilding the live vk.Sampler is
// cheap, so the whole struct round-trips instead of a opaque blob.
func (c *SamplerCache) SerializeTo(w io.Writer) error {
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
			uint32(p.MagFilter), uint32(p.MinFilter),
			uint32(p.AddressModeU), uint32(p.AddressModeV), uint32(p.AddressModeW),
			boolToUint32(p.CompareEnable), uint32(p.CompareOp),
			uint32(p.BorderColor), boolToUint32(p.Unnormalized),
		}
		for _, v := range fields {
			if err := writeUint32(w, v); err != nil {
				return err
			}
		}
		floats := []float32{p.MaxAnisotropy, p.MipLodBias, p.MinLod, p.MaxLod}
		for _, f := range floats {
			if err := writeFloat32(w, f); err != nil {
				return err
			}
		}
	}
	return nil
}

// DeserializeFrom rebuilds each entry's real vk.Sampler by replaying create
// with the persisted params, then inserts the result under the original
// key.
func (c *SamplerCache) DeserializeFrom(r io.Reader, dev device.Device) error {
	var version, count uint32
	if err := readU32U32(r, &version, &count); err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		key, err := readUint64(r)
		if err != nil {
			return err
		}
		var u [9]uint32
		for j := range u {
			v, err := readUint32(r)
			if err != nil {
				return err
			}
			u[j] = v
		}
		var f [4]float32
		for j := range f {
			v, err := readFloat32(r)
			if err != nil {
				return err
			}
			f[j] = v
		}
		params := SamplerParams{
			MagFilter:     vk.Filter(u[0]),
			MinFilter:     vk.Filter(u[1]),
			AddressModeU:  vk.SamplerAddressMode(u[2]),
			AddressModeV:  vk.SamplerAddressMode(u[3]),
			AddressModeW:  vk.SamplerAddressMode(u[4]),
			CompareEnable: u[5] != 0,
			CompareOp:     vk.CompareOp(u[6]),
			BorderColor:   vk.BorderColor(u[7]),
			Unnormalized:  u[8] != 0,
			MaxAnisotropy: f[0],
			MipLodBias:    f[1],
			MinLod:        f[2],
			MaxLod:        f[3],
		}
		value, destroy, err := c.create(params)
		if err != nil {
			return err
		}
		c.inner.Insert(cachekey.Fingerprint(key), params, value, destroy)
	}
	return nil
}
