// Package config loads substrate tuning knobs (budget limits, staging pool
// quota and pooling limits, frames-in-flight) via viper so they can come from a file,
// environment variables, or defaults, the way DimaJoyti-go-coffee's service
// configs do. Nothing here drives Vulkan instance/device creation: that
// remains application-bootstrap territory, out of scope per spec.md §1.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Substrate holds every tunable named in spec.md §3-§4.
type Substrate struct {
	// HostBudget
	FrameStackBytes       int64 `mapstructure:"frame_stack_bytes"`
	PersistentStackBytes  int64 `mapstructure:"persistent_stack_bytes"`
	HeapBudgetBytes       int64 `mapstructure:"heap_budget_bytes"`

	// DeviceBudget
	DeviceMemoryWarningFraction float64 `mapstructure:"device_memory_warning_fraction"`
	DeviceMemoryLimitFraction   float64 `mapstructure:"device_memory_limit_fraction"`
	DeviceMemoryStrict          bool    `mapstructure:"device_memory_strict"`
	FrameDeltaWarningBytes      int64   `mapstructure:"frame_delta_warning_bytes"`

	// StagingPool
	StagingQuotaBytes        int64 `mapstructure:"staging_quota_bytes"`
	MaxTotalPooledBytes      int64 `mapstructure:"max_total_pooled_bytes"`
	MaxPooledBuffersPerClass int   `mapstructure:"max_pooled_buffers_per_class"`

	// BatchedUploader / BudgetBridge
	MaxBatchCommandBuffers int           `mapstructure:"max_batch_command_buffers"`
	MaxPendingUploads      int           `mapstructure:"max_pending_uploads"`
	MaxPendingBytes        int64         `mapstructure:"max_pending_bytes"`
	FlushDeadline          time.Duration `mapstructure:"flush_deadline"`
	FramesToKeepPending    uint64        `mapstructure:"frames_to_keep_pending"`

	// DeferredDestroyQueue
	MaxFramesInFlight uint64 `mapstructure:"max_frames_in_flight"`
	PreReserve        int    `mapstructure:"pre_reserve"`

	// Cache persistence
	CacheRoot string `mapstructure:"cache_root"`
	Debug     bool   `mapstructure:"debug"`
}

// Defaults mirror the numbers named explicitly in spec.md (§4.5's 16 MiB /
// 64 MiB arenas, §4.6's 80%/75% VRAM split, §4.11's max_in_flight=3
// default). The staging pool's size classes are fixed in package staging
// and are not configurable here.
func Defaults() Substrate {
	return Substrate{
		FrameStackBytes:             16 << 20,
		PersistentStackBytes:        64 << 20,
		HeapBudgetBytes:             256 << 20,
		DeviceMemoryWarningFraction: 0.75,
		DeviceMemoryLimitFraction:   0.80,
		DeviceMemoryStrict:          true,
		FrameDeltaWarningBytes:      128 << 20,
		StagingQuotaBytes:           256 << 20,
		MaxTotalPooledBytes:         512 << 20,
		MaxPooledBuffersPerClass:    8,
		MaxBatchCommandBuffers:      4,
		MaxPendingUploads:           256,
		MaxPendingBytes:             64 << 20,
		FlushDeadline:               4 * time.Millisecond,
		FramesToKeepPending:         4,
		MaxFramesInFlight:           3,
		PreReserve:                  128,
		CacheRoot:                   "cache",
		Debug:                       false,
	}
}

// Load reads configuration from path (if non-empty) and the VKCACHER_*
// environment namespace, falling back to Defaults for anything unset.
func Load(path string) (Substrate, error) {
	v := viper.New()
	def := Defaults()
	v.SetDefault("frame_stack_bytes", def.FrameStackBytes)
	v.SetDefault("persistent_stack_bytes", def.PersistentStackBytes)
	v.SetDefault("heap_budget_bytes", def.HeapBudgetBytes)
	v.SetDefault("device_memory_warning_fraction", def.DeviceMemoryWarningFraction)
	v.SetDefault("device_memory_limit_fraction", def.DeviceMemoryLimitFraction)
	v.SetDefault("device_memory_strict", def.DeviceMemoryStrict)
	v.SetDefault("frame_delta_warning_bytes", def.FrameDeltaWarningBytes)
	v.SetDefault("staging_quota_bytes", def.StagingQuotaBytes)
	v.SetDefault("max_total_pooled_bytes", def.MaxTotalPooledBytes)
	v.SetDefault("max_pooled_buffers_per_class", def.MaxPooledBuffersPerClass)
	v.SetDefault("max_batch_command_buffers", def.MaxBatchCommandBuffers)
	v.SetDefault("max_pending_uploads", def.MaxPendingUploads)
	v.SetDefault("max_pending_bytes", def.MaxPendingBytes)
	v.SetDefault("flush_deadline", def.FlushDeadline)
	v.SetDefault("frames_to_keep_pending", def.FramesToKeepPending)
	v.SetDefault("max_frames_in_flight", def.MaxFramesInFlight)
	v.SetDefault("pre_reserve", def.PreReserve)
	v.SetDefault("cache_root", def.CacheRoot)
	v.SetDefault("debug", def.Debug)

	v.SetEnvPrefix("vkcacher")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Substrate{}, err
		}
	}

	var s Substrate
	if err := v.Unmarshal(&s); err != nil {
		return Substrate{}, err
	}
	return s, nil
}
