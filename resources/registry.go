// Package resources implements the concrete per-resource-type caches from
// spec.md §4.2 (continued from shadermodule.go's package doc). RegisterAll
// wires every concrete cache's factory into a cache.Registry under the tag
// names spec.md §4.2 implies, so a driver only has to call RegisterAll once
// per process and then drive everything through Registry.GetCache.
package resources

import (
	"sync"

	"github.com/andewx/vkcacher/alloc"
	"github.com/andewx/vkcacher/cache"
	"github.com/andewx/vkcacher/device"
	"github.com/andewx/vkcacher/internal/metrics"
	"github.com/andewx/vkcacher/lifetime"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Dependencies bundles the per-device collaborators the device-dependent
// caches need beyond params. Compile and ASBuild are optional: a nil
// CompileFunc/ASBuilder disables the shader-compilation/acceleration-
// structure caches' Create path, which is fine for applications that don't
// use ray tracing or dynamic shader compilation.
type Dependencies struct {
	Allocator         alloc.Allocator
	DestroyQueue      *lifetime.DestroyQueue
	Registerer        prometheus.Registerer
	Log               *zap.Logger
	DebugCollision    bool
	Compile           CompileFunc
	ASBuild           ASBuilder
	PipelineCacheBlob []byte
}

// DependenciesFunc resolves the shared per-device collaborators the first
// time any cache for dev is constructed. Per the §9 Open Question
// resolution ("one allocator instance, one device"), callers are expected
// to memoize the Allocator/DestroyQueue/DeviceBudget trio per device.ID
// rather than building fresh ones on every call.
type DependenciesFunc func(dev device.Device) Dependencies

const (
	TagShaderModule          = "shader_module"
	TagShaderCompilation     = "shader_compilation"
	TagPipelineLayout        = "pipeline_layout"
	TagDescriptorSetLayout   = "descriptor_set_layout"
	TagComputePipeline       = "compute_pipeline"
	TagGraphicsPipeline      = "graphics_pipeline"
	TagRenderPass            = "render_pass"
	TagSampler               = "sampler"
	TagMesh                  = "mesh"
	TagTexture               = "texture"
	TagAccelerationStructure = "acceleration_structure"
	TagVoxelAABB             = "voxel_aabb"
	TagTLASInstanceBuffer    = "tlas_instance_buffer"
)

// RegisterAll registers every concrete cache from spec.md §4.2's table into
// registry. deps resolves the per-device Allocator/DestroyQueue/logging
// collaborators lazily: each device-dependent factory calls it when it
// constructs its cache, so it runs once per tag per device, and the
// shader-compilation factory calls it once per process.
func RegisterAll(registry *cache.Registry, deps DependenciesFunc) {
	var shaderCompilationOnce sync.Once
	var shaderCompilationCache *ShaderCompilationCache

	registry.Register(TagShaderModule, "ShaderModuleCache", true, func(dev device.Device) cache.Cache {
		d := deps(dev)
		return NewShaderModuleCache(dev, d.DestroyQueue, d.DebugCollision, metrics.NewCacheMetrics(d.Registerer, "ShaderModuleCache"), d.Log)
	})

	registry.Register(TagShaderCompilation, "ShaderCompilationCache", false, func(dev device.Device) cache.Cache {
		shaderCompilationOnce.Do(func() {
			d := deps(dev)
			shaderCompilationCache = NewShaderCompilationCache(d.Compile, d.DebugCollision, metrics.NewCacheMetrics(d.Registerer, "ShaderCompilationCache"), d.Log)
		})
		return shaderCompilationCache
	})

	registry.Register(TagPipelineLayout, "PipelineLayoutCache", true, func(dev device.Device) cache.Cache {
		d := deps(dev)
		return NewPipelineLayoutCache(dev, d.DestroyQueue, d.DebugCollision, metrics.NewCacheMetrics(d.Registerer, "PipelineLayoutCache"), d.Log)
	})

	registry.Register(TagDescriptorSetLayout, "DescriptorSetLayoutCache", true, func(dev device.Device) cache.Cache {
		d := deps(dev)
		return NewDescriptorSetLayoutCache(dev, d.DestroyQueue, d.DebugCollision, metrics.NewCacheMetrics(d.Registerer, "DescriptorSetLayoutCache"), d.Log)
	})

	registry.Register(TagComputePipeline, "ComputePipelineCache", true, func(dev device.Device) cache.Cache {
		d := deps(dev)
		return NewComputePipelineCache(dev, d.DestroyQueue, d.DebugCollision, metrics.NewCacheMetrics(d.Registerer, "ComputePipelineCache"), d.Log)
	})

	registry.Register(TagGraphicsPipeline, "GraphicsPipelineCache", true, func(dev device.Device) cache.Cache {
		d := deps(dev)
		c, err := NewGraphicsPipelineCache(dev, d.PipelineCacheBlob, d.DestroyQueue, d.DebugCollision, metrics.NewCacheMetrics(d.Registerer, "GraphicsPipelineCache"), d.Log)
		if err != nil {
			if d.Log != nil {
				d.Log.Error("graphics pipeline cache construction failed", zap.Error(err))
			}
			return nil
		}
		return c
	})

	registry.Register(TagRenderPass, "RenderPassCache", true, func(dev device.Device) cache.Cache {
		d := deps(dev)
		return NewRenderPassCache(dev, d.DestroyQueue, d.DebugCollision, metrics.NewCacheMetrics(d.Registerer, "RenderPassCache"), d.Log)
	})

	registry.Register(TagSampler, "SamplerCache", true, func(dev device.Device) cache.Cache {
		d := deps(dev)
		return NewSamplerCache(dev, d.DestroyQueue, d.DebugCollision, metrics.NewCacheMetrics(d.Registerer, "SamplerCache"), d.Log)
	})

	registry.Register(TagMesh, "MeshCache", true, func(dev device.Device) cache.Cache {
		d := deps(dev)
		return NewMeshCache(dev, d.Allocator, d.DestroyQueue, d.DebugCollision, metrics.NewCacheMetrics(d.Registerer, "MeshCache"), d.Log)
	})

	registry.Register(TagTexture, "TextureCache", true, func(dev device.Device) cache.Cache {
		d := deps(dev)
		return NewTextureCache(dev, d.Allocator, d.DestroyQueue, d.DebugCollision, metrics.NewCacheMetrics(d.Registerer, "TextureCache"), d.Log)
	})

	registry.Register(TagAccelerationStructure, "AccelerationStructureCache", true, func(dev device.Device) cache.Cache {
		d := deps(dev)
		return NewAccelerationStructureCache(d.ASBuild, d.DestroyQueue, d.DebugCollision, metrics.NewCacheMetrics(d.Registerer, "AccelerationStructureCache"), d.Log)
	})

	registry.Register(TagVoxelAABB, "VoxelAABBCache", true, func(dev device.Device) cache.Cache {
		d := deps(dev)
		return NewVoxelAABBCache(d.Allocator, d.DestroyQueue, d.DebugCollision, metrics.NewCacheMetrics(d.Registerer, "VoxelAABBCache"), d.Log)
	})

	registry.Register(TagTLASInstanceBuffer, "TLASInstanceBufferCache", true, func(dev device.Device) cache.Cache {
		d := deps(dev)
		return NewTLASInstanceBufferCache(d.Allocator, d.DestroyQueue, d.DebugCollision, metrics.NewCacheMetrics(d.Registerer, "TLASInstanceBufferCache"), d.Log)
	})
}
