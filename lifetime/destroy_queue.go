// Package lifetime implements spec.md §3.5/§4.11/§4.12: the deferred
// destruction ring buffer, refcounted shared resources, and hierarchical
// lifetime scopes. The drain loop is modeled on the teacher's
// FenceManager.Reset (managers.go): wait-then-reset becomes
// age-check-then-invoke, since both are "don't touch this resource until the
// GPU has caught up N frames" patterns.
package lifetime

import "sync"

// PendingDestruction is one entry in the DeferredDestroyQueue, per spec.md
// §3.5.
type PendingDestruction struct {
	Destroy         func()
	SubmittedFrame  uint64
}

// DestroyQueueStats mirrors spec.md §4.11's statistics surface.
type DestroyQueueStats struct {
	Capacity        int
	CurrentSize     int
	MaxSizeReached  int
	GrowthCount     int
	TotalQueued     uint64
	TotalDestroyed  uint64
	TotalFlushed    uint64
}

// DestroyQueue is a pre-reservable FIFO ring buffer of PendingDestruction
// entries (spec.md §4.11). It is implemented with a slice used as a ring
// (head/len) rather than a fixed array; when the ring is full, grow copies
// the entries into a slice of twice the capacity and bumps GrowthCount, the
// "tune pre_reserve" signal the spec calls for.
type DestroyQueue struct {
	mu sync.Mutex

	buf   []PendingDestruction
	head  int
	size  int

	capacityHint int
	growthCount  int
	maxSizeSeen  int
	totalQueued  uint64
	totalDestroyed uint64
	totalFlushed   uint64
}

// NewDestroyQueue pre-allocates capacity preReserve entries, per spec.md
// §4.11's "copy-less push; grow-by-doubling ... (a signal to tune
// pre_reserve)".
func NewDestroyQueue(preReserve int) *DestroyQueue {
	if preReserve < 1 {
		preReserve = 1
	}
	return &DestroyQueue{
		buf:          make([]PendingDestruction, preReserve),
		capacityHint: preReserve,
	}
}

// Add enqueues a destruction closure stamped with the frame it was submitted
// on. Enqueues must be monotone in submittedFrame for Invariant D1 (FIFO
// drainage) to hold; callers are expected to call Add with a
// non-decreasing current-frame counter, as every caller in this module does.
func (q *DestroyQueue) Add(submittedFrame uint64, destroy func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == len(q.buf) {
		q.grow()
	}
	idx := (q.head + q.size) % len(q.buf)
	q.buf[idx] = PendingDestruction{Destroy: destroy, SubmittedFrame: submittedFrame}
	q.size++
	q.totalQueued++
	if q.size > q.maxSizeSeen {
		q.maxSizeSeen = q.size
	}
}

func (q *DestroyQueue) grow() {
	newCap := len(q.buf) * 2
	newBuf := make([]PendingDestruction, newCap)
	for i := 0; i < q.size; i++ {
		newBuf[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.buf = newBuf
	q.head = 0
	q.growthCount++
}

// ProcessFrame drains the FIFO while the head entry satisfies spec.md
// §3.5/§4.11's predicate: current >= head.SubmittedFrame &&
// current-head.SubmittedFrame >= maxInFlight. Because enqueues are monotone
// in SubmittedFrame, stopping at the first undrainable head entry is
// correct: no later entry can be older. Returns the number of destructions
// invoked.
func (q *DestroyQueue) ProcessFrame(current uint64, maxInFlight uint64) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	drained := 0
	for q.size > 0 {
		head := q.buf[q.head]
		if current < head.SubmittedFrame {
			break
		}
		if current-head.SubmittedFrame < maxInFlight {
			break
		}
		if head.Destroy != nil {
			head.Destroy()
		}
		q.buf[q.head] = PendingDestruction{}
		q.head = (q.head + 1) % len(q.buf)
		q.size--
		q.totalDestroyed++
		drained++
	}
	return drained
}

// Flush invokes and pops every remaining entry regardless of age, used at
// shutdown (spec.md §4.11).
func (q *DestroyQueue) Flush() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	flushed := 0
	for q.size > 0 {
		head := q.buf[q.head]
		if head.Destroy != nil {
			head.Destroy()
		}
		q.buf[q.head] = PendingDestruction{}
		q.head = (q.head + 1) % len(q.buf)
		q.size--
		flushed++
	}
	q.totalFlushed += uint64(flushed)
	return flushed
}

// Stats returns a snapshot of the queue's bookkeeping counters.
func (q *DestroyQueue) Stats() DestroyQueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return DestroyQueueStats{
		Capacity:       len(q.buf),
		CurrentSize:    q.size,
		MaxSizeReached: q.maxSizeSeen,
		GrowthCount:    q.growthCount,
		TotalQueued:    q.totalQueued,
		TotalDestroyed: q.totalDestroyed,
		TotalFlushed:   q.totalFlushed,
	}
}
