// Package staging implements the StagingPool from spec.md §4.7: a
// per-device pool of host-visible, persistently mapped buffers bucketed by
// size class, gated by the device budget's staging quota.
package staging

import (
	"sort"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/andewx/vkcacher/alloc"
	"github.com/andewx/vkcacher/internal/metrics"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	vk "github.com/vulkan-go/vulkan"
)

const (
	minBucketShift = 16 // 64 KiB
	maxBucketShift = 26 // 64 MiB
	numBuckets     = maxBucketShift - minBucketShift + 1
)

// Handle identifies one outstanding staging acquisition.
type Handle uuid.UUID

// Acquisition is the StagingAcquisition record from spec.md §4.7.
type Acquisition struct {
	Handle    Handle
	Buffer    alloc.BufferAllocation
	MappedPtr unsafe.Pointer
	Size      int64
	Requested int64
}

type pooledBuffer struct {
	buf alloc.BufferAllocation
}

type bucket struct {
	mu       sync.Mutex
	size     int64
	free     []pooledBuffer
	hits     atomic.Int64
	misses   atomic.Int64
}

func bucketSizeFor(requested int64) (int64, int) {
	size := int64(1) << minBucketShift
	idx := 0
	for size < requested && idx < numBuckets-1 {
		size <<= 1
		idx++
	}
	if size < requested {
		return 0, -1 // oversized, no bucket fits
	}
	return size, idx
}

// Pool is the StagingPool from spec.md §4.7.
type Pool struct {
	allocator alloc.Allocator
	deviceBudget *alloc.DeviceBudget

	buckets [numBuckets]*bucket

	recordsMu sync.Mutex
	records   map[Handle]record

	totalPooledBytes atomic.Int64
	maxTotalPooledBytes int64
	maxPooledBuffersPerBucket int

	metrics *metrics.StagingMetrics
}

type record struct {
	buf       alloc.BufferAllocation
	size      int64
	requested int64
	bucketIdx int // -1 for oversized, dedicated buffers
}

// New constructs a Pool. maxTotalPooledBytes/maxPooledBuffersPerBucket come
// from config (max_total_pooled_bytes/max_pooled_buffers_per_class).
func New(allocator alloc.Allocator, db *alloc.DeviceBudget, maxTotalPooledBytes int64, maxPooledBuffersPerBucket int, reg prometheus.Registerer) *Pool {
	p := &Pool{
		allocator:                 allocator,
		deviceBudget:              db,
		records:                   make(map[Handle]record),
		maxTotalPooledBytes:       maxTotalPooledBytes,
		maxPooledBuffersPerBucket: maxPooledBuffersPerBucket,
	}
	for i := range p.buckets {
		p.buckets[i] = &bucket{size: int64(1) << (minBucketShift + i)}
	}
	if reg != nil {
		p.metrics = metrics.NewStagingMetrics(reg)
	}
	return p
}

// Acquire rounds size up to a bucket class, reserves the device-budget's
// staging quota, and pops a free buffer (or allocates a fresh one), per
// spec.md §4.7.
func (p *Pool) Acquire(size int64) (Acquisition, bool) {
	bucketSize, idx := bucketSizeFor(size)
	if idx < 0 {
		return p.acquireOversized(size)
	}

	if p.deviceBudget != nil {
		if err := p.deviceBudget.TryReserveStagingQuota(bucketSize); err != nil {
			return Acquisition{}, false
		}
	}

	b := p.buckets[idx]
	b.mu.Lock()
	var pb pooledBuffer
	if n := len(b.free); n > 0 {
		pb = b.free[n-1]
		b.free = b.free[:n-1]
		b.hits.Add(1)
		b.mu.Unlock()
		if p.metrics != nil {
			p.metrics.PoolHits.Inc()
		}
		p.totalPooledBytes.Add(-bucketSize)
	} else {
		b.misses.Add(1)
		b.mu.Unlock()
		if p.metrics != nil {
			p.metrics.PoolMisses.Inc()
		}
		buf, err := p.allocator.AllocateBuffer(alloc.BufferRequest{
			Size:        vk.DeviceSize(bucketSize),
			HostVisible: true,
			Persistent:  true,
		})
		if err != nil {
			if p.deviceBudget != nil {
				p.deviceBudget.ReleaseStagingQuota(bucketSize)
			}
			return Acquisition{}, false
		}
		if buf.MappedPtr == nil {
			mapped, err := p.allocator.MapBuffer(&buf)
			if err != nil {
				p.allocator.FreeBuffer(&buf)
				if p.deviceBudget != nil {
					p.deviceBudget.ReleaseStagingQuota(bucketSize)
				}
				return Acquisition{}, false
			}
			buf.MappedPtr = mapped
		}
		pb = pooledBuffer{buf: buf}
	}

	h := Handle(uuid.New())
	p.recordsMu.Lock()
	p.records[h] = record{buf: pb.buf, size: bucketSize, requested: size, bucketIdx: idx}
	p.recordsMu.Unlock()

	return Acquisition{Handle: h, Buffer: pb.buf, MappedPtr: pb.buf.MappedPtr, Size: bucketSize, Requested: size}, true
}

func (p *Pool) acquireOversized(size int64) (Acquisition, bool) {
	if p.deviceBudget != nil {
		if err := p.deviceBudget.TryReserveStagingQuota(size); err != nil {
			return Acquisition{}, false
		}
	}
	buf, err := p.allocator.AllocateBuffer(alloc.BufferRequest{Size: vk.DeviceSize(size), HostVisible: true, Persistent: true})
	if err != nil {
		if p.deviceBudget != nil {
			p.deviceBudget.ReleaseStagingQuota(size)
		}
		return Acquisition{}, false
	}
	h := Handle(uuid.New())
	p.recordsMu.Lock()
	p.records[h] = record{buf: buf, size: size, requested: size, bucketIdx: -1}
	p.recordsMu.Unlock()
	return Acquisition{Handle: h, Buffer: buf, MappedPtr: buf.MappedPtr, Size: size, Requested: size}, true
}

// Lookup returns the acquisition record for an outstanding handle without
// releasing it, for callers (e.g. the uploader) that need the backing
// buffer again after the initial Acquire call.
func (p *Pool) Lookup(h Handle) (Acquisition, bool) {
	p.recordsMu.Lock()
	rec, ok := p.records[h]
	p.recordsMu.Unlock()
	if !ok {
		return Acquisition{}, false
	}
	return Acquisition{Handle: h, Buffer: rec.buf, MappedPtr: rec.buf.MappedPtr, Size: rec.size, Requested: rec.requested}, true
}

// Release returns a buffer to its bucket's FIFO if there's room, otherwise
// destroys it. It does NOT release the staging quota; that is the
// BatchedUploader/BudgetBridge's responsibility once the GPU is done
// (spec.md §4.7).
func (p *Pool) Release(h Handle) {
	p.recordsMu.Lock()
	rec, ok := p.records[h]
	if ok {
		delete(p.records, h)
	}
	p.recordsMu.Unlock()
	if !ok {
		return
	}

	if rec.bucketIdx < 0 {
		p.allocator.FreeBuffer(&rec.buf)
		return
	}

	b := p.buckets[rec.bucketIdx]
	b.mu.Lock()
	fits := p.totalPooledBytes.Load()+rec.size <= p.maxTotalPooledBytes && len(b.free) < p.maxPooledBuffersPerBucket
	if fits {
		b.free = append(b.free, pooledBuffer{buf: rec.buf})
	}
	b.mu.Unlock()

	if fits {
		p.totalPooledBytes.Add(rec.size)
		if p.metrics != nil {
			p.metrics.PooledSize.Set(float64(p.totalPooledBytes.Load()))
		}
	} else {
		p.allocator.FreeBuffer(&rec.buf)
	}
}

// Trim destroys unused buffers oldest-first (FIFO within each bucket) until
// totalPooledBytes <= target.
func (p *Pool) Trim(target int64) {
	for _, b := range p.buckets {
		for {
			if p.totalPooledBytes.Load() <= target {
				return
			}
			b.mu.Lock()
			if len(b.free) == 0 {
				b.mu.Unlock()
				break
			}
			pb := b.free[0]
			b.free = b.free[1:]
			b.mu.Unlock()
			p.allocator.FreeBuffer(&pb.buf)
			p.totalPooledBytes.Add(-b.size)
		}
	}
}

// PreWarm allocates and pools perBucket buffers for each size class named by
// sizes before frame 1, per spec.md §4.7. Sizes above the largest class are
// skipped.
func (p *Pool) PreWarm(sizes []int64, perBucket int) {
	uniq := map[int]bool{}
	var sorted []int64
	for _, s := range sizes {
		bucketSize, idx := bucketSizeFor(s)
		if idx >= 0 && !uniq[idx] {
			uniq[idx] = true
			sorted = append(sorted, bucketSize)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	for _, s := range sorted {
		var held []Handle
		for i := 0; i < perBucket; i++ {
			acq, ok := p.Acquire(s)
			if !ok {
				break
			}
			held = append(held, acq.Handle)
		}
		for _, h := range held {
			p.Release(h)
		}
	}
}
