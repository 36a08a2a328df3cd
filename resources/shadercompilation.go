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
)

// ShaderCompilationParams keys spec.md §4.2 row 2: the device-independent,
// globally-shared compiled-SPIR-V cache. No GPU handle is ever produced
// here, so this cache is registered with deviceDependent=false.
type ShaderCompilationParams struct {
	SourcePath     string
	EntryPoint     string
	Macros         []string
	Stage          uint32
	CompilerVersion string
	CompileFlags   string
	SourceChecksum uint64
}

// ShaderCompilationResult is the wrapped value: raw SPIR-V words, no GPU
// handle (spec.md §4.2: "None GPU; drop bytes" on eviction).
type ShaderCompilationResult struct {
	SPIRV []uint32
}

func shaderCompilationKey(p ShaderCompilationParams) (cachekey.Fingerprint, []byte) {
	h := cachekey.New()
	h.AddString(p.SourcePath)
	h.AddString(p.EntryPoint)
	h.AddStrings(p.Macros)
	h.AddUint32(p.Stage)
	h.AddString(p.CompilerVersion)
	h.AddString(p.CompileFlags)
	h.AddUint64(p.SourceChecksum)
	return h.Finalize(), h.RawBytes()
}

// CompileFunc is supplied by the caller (the render graph's shader
// compiler), since actual source compilation is out of scope per spec.md
// §1's non-goals.
type CompileFunc func(p ShaderCompilationParams) ([]uint32, error)

// ShaderCompilationCache is the process-wide (device-independent) compiled
// SPIR-V cache.
type ShaderCompilationCache struct {
	mu      sync.Mutex
	compile CompileFunc
	inner   *cache.TypedCache[ShaderCompilationResult, ShaderCompilationParams]
}

// NewShaderCompilationCache constructs the global cache; queue is nil since
// there is no GPU handle to defer-destroy (spec.md §3.6: queue may be nil
// for CPU-only resources).
func NewShaderCompilationCache(compile CompileFunc, debugCollision bool, m *metrics.CacheMetrics, log *zap.Logger) *ShaderCompilationCache {
	c := &ShaderCompilationCache{compile: compile}
	c.inner = cache.New[ShaderCompilationResult, ShaderCompilationParams]("ShaderCompilationCache", shaderCompilationKey, c.create, lifetime.ScopeShared, nil, debugCollision, m, log)
	return c
}

func (c *ShaderCompilationCache) create(p ShaderCompilationParams) (ShaderCompilationResult, func(ShaderCompilationResult), error) {
	words, err := c.compile(p)
	if err != nil {
		return ShaderCompilationResult{}, nil, err
	}
	return ShaderCompilationResult{SPIRV: words}, func(ShaderCompilationResult) {}, nil
}

// GetOrCreate returns a handle to the compiled SPIR-V for params.
func (c *ShaderCompilationCache) GetOrCreate(p ShaderCompilationParams) (lifetime.Handle[ShaderCompilationResult], error) {
	return c.inner.GetOrCreate(p)
}

func (c *ShaderCompilationCache) Name() string { return c.inner.Name() }
func (c *ShaderCompilationCache) Has(key cachekey.Fingerprint) bool { return c.inner.Has(key) }
func (c *ShaderCompilationCache) Erase(key cachekey.Fingerprint)    { c.inner.Erase(key, 0) }
func (c *ShaderCompilationCache) Clear()                            { c.inner.Clear(0) }
func (c *ShaderCompilationCache) Cleanup()                          { c.inner.Clear(0) }

// SerializeTo persists every compiled SPIR-V blob keyed by its Fingerprint,
// per spec.md §6.3's body format: u32 version, u32 entry count, then per
// entry a u64 key and a u32-word-count-prefixed SPIR-V array. This is the
// one cache in the package that owns the bytecode with no GPU handle
// attached (spec.md §4.2 row 2: "None GPU; drop bytes" on eviction).
// ShaderModuleCache persists its own copy of each module's SPIR-V and
// rebuilds its vk.ShaderModule handles from that copy, not from this cache.
func (c *ShaderCompilationCache) SerializeTo(w io.Writer) error {
	entries := c.inner.Entries()
	if err := writeU32U32(w, 1, uint32(len(entries))); err != nil {
		return err
	}
	for _, e := range entries {
		spirv := e.Value.Value().SPIRV
		e.Value.Release(0)
		if err := writeUint64(w, uint64(e.Key)); err != nil {
			return err
		}
		if err := writeWords(w, spirv); err != nil {
			return err
		}
	}
	return nil
}

// DeserializeFrom rematerialises every entry directly into the map: the
// compiled words are inserted under their original key with a no-op
// destroy closure, matching "None GPU; drop bytes" — there is nothing to
// free beyond letting the slice be garbage collected.
func (c *ShaderCompilationCache) DeserializeFrom(r io.Reader, dev device.Device) error {
	var version, count uint32
	if err := readU32U32(r, &version, &count); err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		key, err := readUint64(r)
		if err != nil {
			return err
		}
		words, err := readWords(r)
		if err != nil {
			return err
		}
		c.inner.Insert(cachekey.Fingerprint(key), ShaderCompilationParams{}, ShaderCompilationResult{SPIRV: words}, func(ShaderCompilationResult) {})
	}
	return nil
}
