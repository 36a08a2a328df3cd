package upload

import (
	"sort"
	"sync"
	"sync/atomic"

	vk "github.com/vulkan-go/vulkan"
)

// UpdateRequest is the polymorphic per-frame command-recording request from
// spec.md §4.9 (TLAS rebuild, buffer write, etc.).
type UpdateRequest interface {
	Record(cmd vk.CommandBuffer)
	EstimatedCost() int64
	RequiresBarriers() bool
	Priority() int
}

// Updater is the BatchedUpdater from spec.md §4.9.
type Updater struct {
	mu              sync.Mutex
	frameQueues     map[uint32][]UpdateRequest
	sortByPriority  bool
	insertBarriers  bool
	barrierInserter func(cmd vk.CommandBuffer, req UpdateRequest)

	totalQueued   atomic.Uint64
	totalRecorded atomic.Uint64
}

// NewUpdater constructs an Updater. barrierInserter may be nil if
// insertBarriers is false.
func NewUpdater(sortByPriority, insertBarriers bool, barrierInserter func(vk.CommandBuffer, UpdateRequest)) *Updater {
	return &Updater{
		frameQueues:     make(map[uint32][]UpdateRequest),
		sortByPriority:  sortByPriority,
		insertBarriers:  insertBarriers,
		barrierInserter: barrierInserter,
	}
}

// Queue pushes a request into the queue for imageIndex.
func (u *Updater) Queue(imageIndex uint32, req UpdateRequest) {
	u.mu.Lock()
	u.frameQueues[imageIndex] = append(u.frameQueues[imageIndex], req)
	u.mu.Unlock()
	u.totalQueued.Add(1)
}

// RecordAll swaps out the queue for imageIndex, optionally stable-sorts by
// priority, optionally inserts barriers, and records every request into
// cmd, per spec.md §4.9.
func (u *Updater) RecordAll(cmd vk.CommandBuffer, imageIndex uint32) int {
	u.mu.Lock()
	reqs := u.frameQueues[imageIndex]
	delete(u.frameQueues, imageIndex)
	u.mu.Unlock()

	if len(reqs) == 0 {
		return 0
	}
	if u.sortByPriority {
		sort.SliceStable(reqs, func(i, j int) bool { return reqs[i].Priority() < reqs[j].Priority() })
	}
	for _, req := range reqs {
		if req.RequiresBarriers() && u.insertBarriers && u.barrierInserter != nil {
			u.barrierInserter(cmd, req)
		}
		req.Record(cmd)
	}
	u.totalRecorded.Add(uint64(len(reqs)))
	return len(reqs)
}

// TotalQueued returns the monotonically increasing count of queued requests.
func (u *Updater) TotalQueued() uint64 { return u.totalQueued.Load() }

// TotalRecorded returns the monotonically increasing count of recorded
// requests.
func (u *Updater) TotalRecorded() uint64 { return u.totalRecorded.Load() }
