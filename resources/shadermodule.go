// Package resources implements the concrete per-resource-type caches from
// spec.md §4.2: each wraps a cache.TypedCache with the resource's identity
// fields folded into a cachekey.Hasher (per §4.3) and a Create/Cleanup pair
// grounded in the teacher's direct vk.*CreateInfo population style
// (shader.go's LoadShaderModule, pipeline.go's BuildPipeline,
// renderpass.go, extensions.go).
package resources

import (
	"encoding/binary"
	"io"

	"github.com/andewx/vkcacher/cache"
	"github.com/andewx/vkcacher/cachekey"
	"github.com/andewx/vkcacher/device"
	"github.com/andewx/vkcacher/internal/metrics"
	"github.com/andewx/vkcacher/lifetime"
	"go.uber.org/zap"
	vk "github.com/vulkan-go/vulkan"
)

// ShaderModuleParams is the key+payload for the shader-module cache (spec.md
// §4.2 row 1). SPIRV is consumed as opaque bytes, per spec.md §1's
// "Deliberately out of scope: shader source compilation".
type ShaderModuleParams struct {
	SourcePath     string
	EntryPoint     string
	Stage          vk.ShaderStageFlagBits
	SourceChecksum uint64
	Macros         []string
	SPIRV          []uint32
}

// ShaderModuleResource is what Create produces: SPIR-V bytecode plus the
// live GPU shader-module handle.
type ShaderModuleResource struct {
	SPIRV  []uint32
	Module vk.ShaderModule
}

func shaderModuleKey(p ShaderModuleParams) (cachekey.Fingerprint, []byte) {
	h := cachekey.New()
	h.AddString(p.SourcePath)
	h.AddString(p.EntryPoint)
	h.AddUint32(uint32(p.Stage))
	h.AddUint64(p.SourceChecksum)
	h.AddStrings(p.Macros)
	return h.Finalize(), h.RawBytes()
}

// ShaderModuleCache is the concrete Cache for shader modules.
type ShaderModuleCache struct {
	dev  device.Device
	inner *cache.TypedCache[ShaderModuleResource, ShaderModuleParams]
}

// NewShaderModuleCache constructs a device-bound shader-module cache, per
// spec.md §4.2's "Shader module" row.
func NewShaderModuleCache(dev device.Device, queue *lifetime.DestroyQueue, debugCollision bool, m *metrics.CacheMetrics, log *zap.Logger) *ShaderModuleCache {
	c := &ShaderModuleCache{dev: dev}
	c.inner = cache.New[ShaderModuleResource, ShaderModuleParams]("ShaderModuleCache", shaderModuleKey, c.create, lifetime.ScopeShared, queue, debugCollision, m, log)
	return c
}

func (c *ShaderModuleCache) create(p ShaderModuleParams) (ShaderModuleResource, func(ShaderModuleResource), error) {
	info := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(p.SPIRV) * 4),
		PCode:    p.SPIRV,
	}
	var module vk.ShaderModule
	if ret := vk.CreateShaderModule(c.dev.Handle(), &info, nil, &module); ret != vk.Success {
		return ShaderModuleResource{}, nil, errFromResult(ret)
	}
	dev := c.dev
	return ShaderModuleResource{SPIRV: p.SPIRV, Module: module}, func(r ShaderModuleResource) {
		vk.DestroyShaderModule(dev.Handle(), r.Module, nil)
	}, nil
}

// GetOrCreate returns a shared handle to the shader module for params.
func (c *ShaderModuleCache) GetOrCreate(p ShaderModuleParams) (lifetime.Handle[ShaderModuleResource], error) {
	return c.inner.GetOrCreate(p)
}

func (c *ShaderModuleCache) Name() string { return c.inner.Name() }
func (c *ShaderModuleCache) Has(key cachekey.Fingerprint) bool { return c.inner.Has(key) }
func (c *ShaderModuleCache) Erase(key cachekey.Fingerprint)    { c.inner.Erase(key, 0) }
func (c *ShaderModuleCache) Clear()                            { c.inner.Clear(0) }
func (c *ShaderModuleCache) Cleanup()                          { c.inner.Clear(0) }

// SerializeTo persists every entry's full key params plus its SPIR-V bytes,
// per spec.md §6.3's format: u32 version, u32 count, then per entry a u64
// key, the identity fields, and a SPIR-V word array. The GPU handle itself
// cannot survive a process restart, but everything needed to rebuild it via
// create can, so S3's "fresh registry, load_all, get_or_create is a hit"
// scenario holds for this cache too.
func (c *ShaderModuleCache) SerializeTo(w io.Writer) error {
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
		if err := writeString(w, p.SourcePath); err != nil {
			return err
		}
		if err := writeString(w, p.EntryPoint); err != nil {
			return err
		}
		if err := writeUint32(w, uint32(p.Stage)); err != nil {
			return err
		}
		if err := writeUint64(w, p.SourceChecksum); err != nil {
			return err
		}
		if err := writeStrings(w, p.Macros); err != nil {
			return err
		}
		if err := writeWords(w, p.SPIRV); err != nil {
			return err
		}
	}
	return nil
}

// DeserializeFrom rebuilds each entry's real vk.ShaderModule by replaying
// create with the persisted params, then inserts the result under the
// original key so a subsequent get_or_create with matching params is a hit.
func (c *ShaderModuleCache) DeserializeFrom(r io.Reader, dev device.Device) error {
	var version, count uint32
	if err := readU32U32(r, &version, &count); err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		key, err := readUint64(r)
		if err != nil {
			return err
		}
		sourcePath, err := readString(r)
		if err != nil {
			return err
		}
		entryPoint, err := readString(r)
		if err != nil {
			return err
		}
		stage, err := readUint32(r)
		if err != nil {
			return err
		}
		checksum, err := readUint64(r)
		if err != nil {
			return err
		}
		macros, err := readStrings(r)
		if err != nil {
			return err
		}
		spirv, err := readWords(r)
		if err != nil {
			return err
		}
		params := ShaderModuleParams{
			SourcePath:     sourcePath,
			EntryPoint:     entryPoint,
			Stage:          vk.ShaderStageFlagBits(stage),
			SourceChecksum: checksum,
			Macros:         macros,
			SPIRV:          spirv,
		}
		value, destroy, err := c.create(params)
		if err != nil {
			return err
		}
		c.inner.Insert(cachekey.Fingerprint(key), params, value, destroy)
	}
	return nil
}

func writeU32U32(w io.Writer, a, b uint32) error {
	if err := binary.Write(w, binary.LittleEndian, a); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, b)
}

func readU32U32(r io.Reader, a, b *uint32) error {
	if err := binary.Read(r, binary.LittleEndian, a); err != nil {
		return err
	}
	return binary.Read(r, binary.LittleEndian, b)
}

func errFromResult(ret vk.Result) error {
	return vkError{ret}
}

type vkError struct{ ret vk.Result }

func (e vkError) Error() string { return "resources: vulkan call failed" }
