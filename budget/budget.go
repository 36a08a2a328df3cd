// Package budget implements ResourceBudget from spec.md §3.4/§7: a named,
// atomically-tracked usage counter enforcing Invariant B1 (TryReserve
// CAS-increments usage only if usage+n<=limit under strict mode, otherwise
// allows the overage and raises a warning once usage crosses
// warning_bytes). The CAS-loop style is grounded in the teacher's queue/
// fence bookkeeping (managers.go) generalized from a plain counter to a
// compare-and-swap loop, since ResourceBudget must be safe under concurrent
// callers (spec.md §5) where the teacher's managers were explicitly
// single-threaded.
package budget

import (
	"errors"
	"sync/atomic"

	"github.com/andewx/vkcacher/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// ErrOverBudget is returned by TryReserve under strict mode when the
// reservation would exceed Limit.
var ErrOverBudget = errors.New("vkcacher/budget: over budget")

// Resource tracks usage against a limit for one named resource class
// (DeviceMemory, HostMemory, StagingQuota, ...).
type Resource struct {
	name    string
	limit   int64
	warning int64
	strict  bool

	usage   atomic.Int64
	warned  atomic.Bool
	log     *zap.Logger
	metrics *metrics.BudgetMetrics
}

// New constructs a Resource budget. limit/warning are in bytes; strict
// controls whether TryReserve fails hard over limit (spec.md Invariant B1).
// reg may be nil to skip metrics registration (e.g. in unit tests).
func New(name string, limitBytes, warningBytes int64, strict bool, reg prometheus.Registerer, log *zap.Logger) *Resource {
	r := &Resource{name: name, limit: limitBytes, warning: warningBytes, strict: strict, log: log}
	if reg != nil {
		r.metrics = metrics.NewBudgetMetrics(reg, name)
	}
	return r
}

// Name returns the resource class name.
func (r *Resource) Name() string { return r.name }

// Limit returns the configured byte limit.
func (r *Resource) Limit() int64 { return r.limit }

// Warning returns the configured warning threshold.
func (r *Resource) Warning() int64 { return r.warning }

// Usage returns the current reserved bytes.
func (r *Resource) Usage() int64 { return r.usage.Load() }

// Strict reports whether this budget rejects over-limit reservations.
func (r *Resource) Strict() bool { return r.strict }

// TryReserve attempts to add n bytes to usage. Under strict mode it fails
// (returning ErrOverBudget, usage unchanged) once usage+n>limit. Under
// non-strict mode it always succeeds, crossing into the warning zone merely
// logs once per crossing (spec.md Invariant B1 / §7). The body is a CAS
// retry loop so concurrent reservations never race each other's bookkeeping.
func (r *Resource) TryReserve(n int64) error {
	for {
		cur := r.usage.Load()
		next := cur + n
		if r.strict && next > r.limit {
			if r.metrics != nil {
				r.metrics.Rejections.Inc()
			}
			return ErrOverBudget
		}
		if r.usage.CompareAndSwap(cur, next) {
			if r.metrics != nil {
				r.metrics.UsageBytes.Set(float64(next))
			}
			r.maybeWarn(next)
			return nil
		}
	}
}

// Release subtracts n bytes from usage, never going below zero.
func (r *Resource) Release(n int64) {
	for {
		cur := r.usage.Load()
		next := cur - n
		if next < 0 {
			next = 0
		}
		if r.usage.CompareAndSwap(cur, next) {
			if r.metrics != nil {
				r.metrics.UsageBytes.Set(float64(next))
			}
			if next < r.warning {
				r.warned.Store(false)
			}
			return
		}
	}
}

func (r *Resource) maybeWarn(usage int64) {
	if r.warning <= 0 || usage < r.warning {
		return
	}
	if r.warned.CompareAndSwap(false, true) {
		if r.metrics != nil {
			r.metrics.Warnings.Inc()
		}
		if r.log != nil {
			r.log.Warn("budget crossed warning threshold",
				zap.String("resource", r.name),
				zap.Int64("usage", usage),
				zap.Int64("warning", r.warning),
				zap.Int64("limit", r.limit),
			)
		}
	}
}
