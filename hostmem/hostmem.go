// Package hostmem implements the host budget (CPU arenas) from spec.md
// §4.5: a frame stack and a persistent stack, both bump-allocated with a
// compare-and-swap offset exactly like budget.Resource's CAS retry loop,
// plus a heap fallback tracked through a budget.Resource.
package hostmem

import (
	"errors"
	"sync/atomic"

	"github.com/andewx/vkcacher/budget"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// errArenaExhausted names the case of a bump allocation that does not fit.
// bump reports that case as false rather than returning this error, and
// AllocateFrame/AllocatePersistent then fall through to the heap.
var errArenaExhausted = errors.New("hostmem: arena exhausted")

// Source tags where an allocation's bytes came from.
type Source int

const (
	SourceFrameStack Source = iota
	SourcePersistentStack
	SourceHeap
)

func (s Source) String() string {
	switch s {
	case SourceFrameStack:
		return "FrameStack"
	case SourcePersistentStack:
		return "PersistentStack"
	case SourceHeap:
		return "Heap"
	default:
		return "Unknown"
	}
}

// Allocation describes where a host_alloc call's bytes live. Epoch is the
// arena's epoch at allocation time; in debug builds callers can compare it
// against the arena's current epoch to assert against use-after-reset.
type Allocation struct {
	Source Source
	Offset int64
	Size   int64
	Epoch  uint64
}

// arena is a single bump-allocated byte region with CAS-based allocation and
// epoch-tracked resets, shared by the frame stack and persistent stack.
type arena struct {
	capacity int64
	offset   atomic.Int64
	epoch    atomic.Uint64
	peak     atomic.Int64
	overflow atomic.Int64
}

func newArena(capacity int64) *arena {
	return &arena{capacity: capacity}
}

const defaultAlign = 16

func alignUp(n, align int64) int64 {
	return (n + align - 1) &^ (align - 1)
}

// bump attempts a CAS bump allocation of size bytes, aligned to defaultAlign.
func (a *arena) bump(size int64) (int64, bool) {
	for {
		cur := a.offset.Load()
		aligned := alignUp(cur, defaultAlign)
		next := aligned + size
		if next > a.capacity {
			a.overflow.Add(1)
			return 0, false
		}
		if a.offset.CompareAndSwap(cur, next) {
			a.bumpPeak(next)
			return aligned, true
		}
	}
}

func (a *arena) bumpPeak(candidate int64) {
	for {
		cur := a.peak.Load()
		if candidate <= cur {
			return
		}
		if a.peak.CompareAndSwap(cur, candidate) {
			return
		}
	}
}

// reset zeroes the offset and bumps the epoch, invalidating every
// outstanding Allocation from before the reset (spec.md §4.5 contract).
func (a *arena) reset() {
	a.offset.Store(0)
	a.epoch.Add(1)
}

func (a *arena) currentEpoch() uint64 { return a.epoch.Load() }

// ArenaStats reports arena-level diagnostics.
type ArenaStats struct {
	Capacity     int64
	CurrentUsage int64
	PeakUsage    int64
	OverflowHits int64
	Epoch        uint64
}

func (a *arena) stats() ArenaStats {
	return ArenaStats{
		Capacity:     a.capacity,
		CurrentUsage: a.offset.Load(),
		PeakUsage:    a.peak.Load(),
		OverflowHits: a.overflow.Load(),
		Epoch:        a.epoch.Load(),
	}
}

// Budget is the host budget from spec.md §4.5: a frame stack, a persistent
// stack, and a heap fallback tracked through a budget.Resource.
type Budget struct {
	frame      *arena
	persistent *arena
	heap       *budget.Resource
}

// New constructs a Budget with the given arena capacities and heap limit.
// reg/log may be nil (e.g. in unit tests); they are forwarded to the heap's
// budget.Resource for metrics and warning logs.
func New(frameStackBytes, persistentStackBytes, heapBudgetBytes int64, reg prometheus.Registerer, log *zap.Logger) *Budget {
	return &Budget{
		frame:      newArena(frameStackBytes),
		persistent: newArena(persistentStackBytes),
		heap:       budget.New("HostHeap", heapBudgetBytes, heapBudgetBytes*3/4, false, reg, log),
	}
}

// AllocateFrame bump-allocates from the frame stack, falling through to the
// heap on overflow.
func (b *Budget) AllocateFrame(size int64) (Allocation, error) {
	if off, ok := b.frame.bump(size); ok {
		return Allocation{Source: SourceFrameStack, Offset: off, Size: size, Epoch: b.frame.currentEpoch()}, nil
	}
	return b.allocateHeap(size)
}

// AllocatePersistent bump-allocates from the persistent stack, falling
// through to the heap on overflow.
func (b *Budget) AllocatePersistent(size int64) (Allocation, error) {
	if off, ok := b.persistent.bump(size); ok {
		return Allocation{Source: SourcePersistentStack, Offset: off, Size: size, Epoch: b.persistent.currentEpoch()}, nil
	}
	return b.allocateHeap(size)
}

func (b *Budget) allocateHeap(size int64) (Allocation, error) {
	if err := b.heap.TryReserve(size); err != nil {
		return Allocation{}, err
	}
	return Allocation{Source: SourceHeap, Size: size}, nil
}

// Free releases a heap allocation; it is a no-op for stack allocations per
// spec.md §4.5's "free is a no-op for stack allocations".
func (b *Budget) Free(a Allocation) {
	if a.Source == SourceHeap {
		b.heap.Release(a.Size)
	}
}

// ValidAt reports whether a frame/persistent-stack allocation is still live,
// i.e. no reset has happened since it was made. Heap allocations are always
// valid until Free. Debug code paths should call this before dereferencing
// an Allocation's bytes.
func (b *Budget) ValidAt(a Allocation) bool {
	switch a.Source {
	case SourceFrameStack:
		return a.Epoch == b.frame.currentEpoch()
	case SourcePersistentStack:
		return a.Epoch == b.persistent.currentEpoch()
	default:
		return true
	}
}

// ResetFrame zeroes the frame stack's offset and bumps its epoch.
func (b *Budget) ResetFrame() { b.frame.reset() }

// ResetPersistent zeroes the persistent stack's offset and bumps its epoch.
func (b *Budget) ResetPersistent() { b.persistent.reset() }

// FrameStats reports the frame stack's diagnostics.
func (b *Budget) FrameStats() ArenaStats { return b.frame.stats() }

// PersistentStats reports the persistent stack's diagnostics.
func (b *Budget) PersistentStats() ArenaStats { return b.persistent.stats() }

// HeapUsage reports current heap-fallback bytes in use.
func (b *Budget) HeapUsage() int64 { return b.heap.Usage() }
