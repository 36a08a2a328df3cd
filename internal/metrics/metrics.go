// Package metrics exposes the substrate's counters/gauges as Prometheus
// collectors, grounded in Voskan-arena-cache's and DimaJoyti-go-coffee's use
// of prometheus/client_golang for exactly this kind of cache/budget
// instrumentation. Registration is explicit (Register) rather than via
// promauto's global registry, so tests can construct isolated instances.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// CacheMetrics instruments a single TypedCache instance.
type CacheMetrics struct {
	Hits        prometheus.Counter
	Misses      prometheus.Counter
	SingleFlown prometheus.Counter
	Entries     prometheus.Gauge
}

// NewCacheMetrics builds and registers metrics labeled with the cache name.
func NewCacheMetrics(reg prometheus.Registerer, cacheName string) *CacheMetrics {
	labels := prometheus.Labels{"cache": cacheName}
	m := &CacheMetrics{
		Hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "vkcacher_cache_hits_total",
			Help:        "Number of get_or_create calls resolved from entries without invoking Create.",
			ConstLabels: labels,
		}),
		Misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "vkcacher_cache_misses_total",
			Help:        "Number of get_or_create calls that invoked Create.",
			ConstLabels: labels,
		}),
		SingleFlown: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "vkcacher_cache_singleflight_awaits_total",
			Help:        "Number of get_or_create calls that awaited a concurrent in-flight construction.",
			ConstLabels: labels,
		}),
		Entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "vkcacher_cache_entries",
			Help:        "Current number of resident cache entries.",
			ConstLabels: labels,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Hits, m.Misses, m.SingleFlown, m.Entries)
	}
	return m
}

// BudgetMetrics instruments a ResourceBudget class.
type BudgetMetrics struct {
	UsageBytes prometheus.Gauge
	Rejections prometheus.Counter
	Warnings   prometheus.Counter
}

// NewBudgetMetrics builds and registers metrics labeled by resource class.
func NewBudgetMetrics(reg prometheus.Registerer, class string) *BudgetMetrics {
	labels := prometheus.Labels{"class": class}
	m := &BudgetMetrics{
		UsageBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "vkcacher_budget_usage_bytes",
			Help:        "Current reserved bytes for a resource budget class.",
			ConstLabels: labels,
		}),
		Rejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "vkcacher_budget_rejections_total",
			Help:        "Number of TryReserve calls that failed under strict budgeting.",
			ConstLabels: labels,
		}),
		Warnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "vkcacher_budget_warnings_total",
			Help:        "Number of allocations that crossed the warning threshold.",
			ConstLabels: labels,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.UsageBytes, m.Rejections, m.Warnings)
	}
	return m
}

// StagingMetrics instruments the staging pool.
type StagingMetrics struct {
	PoolHits   prometheus.Counter
	PoolMisses prometheus.Counter
	PooledSize prometheus.Gauge
}

// NewStagingMetrics builds and registers the staging pool's metrics.
func NewStagingMetrics(reg prometheus.Registerer) *StagingMetrics {
	m := &StagingMetrics{
		PoolHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vkcacher_staging_pool_hits_total",
			Help: "Number of Acquire calls served from a free bucket entry.",
		}),
		PoolMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vkcacher_staging_pool_misses_total",
			Help: "Number of Acquire calls that allocated a fresh buffer.",
		}),
		PooledSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vkcacher_staging_pool_pooled_bytes",
			Help: "Total bytes currently sitting idle in the staging pool.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.PoolHits, m.PoolMisses, m.PooledSize)
	}
	return m
}
