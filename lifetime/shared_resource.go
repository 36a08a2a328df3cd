package lifetime

import "sync/atomic"

// ResourceScope classifies a SharedResource's expected lifetime, per spec.md
// §4.12.
type ResourceScope int

const (
	ScopeTransient ResourceScope = iota
	ScopePersistent
	ScopeShared
)

// SharedResource is the intrusive atomic refcounted wrapper from spec.md
// §3.6/§4.12. AddRef/Release use acquire-release atomics; the release that
// observes the counter transition to zero is the unique linearization point
// that enqueues destruction (Invariant R1).
type SharedResource[T any] struct {
	refs    atomic.Uint32
	value   T
	scope   ResourceScope
	destroy func(T)
	queue   *DestroyQueue
	queued  atomic.Bool
}

// NewSharedResource wraps value with an initial refcount of 1. destroy is
// the caller-supplied teardown (e.g. `func(a BufferAllocation) { allocator.
// FreeBuffer(&a) }`), invoked at most once, from whichever Release call
// drives refs to zero.
func NewSharedResource[T any](value T, scope ResourceScope, destroy func(T)) *SharedResource[T] {
	r := &SharedResource[T]{value: value, scope: scope, destroy: destroy}
	r.refs.Store(1)
	return r
}

// Value returns the wrapped resource. Safe to call as long as the caller
// holds a Handle (Invariant R1: a live handle guarantees the resource has
// not yet been enqueued for destruction).
func (r *SharedResource[T]) Value() T { return r.value }

// RefCount returns the current reference count, for diagnostics/tests only.
func (r *SharedResource[T]) RefCount() uint32 { return r.refs.Load() }

// addRef increments the refcount. Called only through Handle.Clone so every
// live reference is represented by exactly one Handle.
func (r *SharedResource[T]) addRef() {
	r.refs.Add(1)
}

// release decrements the refcount; on transition to zero it enqueues
// destruction into queue at currentFrame (or destroys immediately if queue
// is nil, e.g. CPU-only resources with no GPU-in-flight concern).
func (r *SharedResource[T]) release(queue *DestroyQueue, currentFrame uint64) {
	if r.refs.Add(^uint32(0)) != 0 {
		return
	}
	if !r.queued.CompareAndSwap(false, true) {
		return
	}
	if r.destroy == nil {
		return
	}
	if queue == nil {
		r.destroy(r.value)
		return
	}
	v := r.value
	queue.Add(currentFrame, func() { r.destroy(v) })
}

// Handle is a smart pointer to a SharedResource, per spec.md §3.6/§4.12.
// Cloning is always safe; Dropping (via Release) the last handle is the
// linearization point after which the resource must be assumed freed.
type Handle[T any] struct {
	res   *SharedResource[T]
	queue *DestroyQueue
}

// NewHandle wraps a fresh SharedResource in its first Handle. queue is the
// DestroyQueue subsequent Release calls will enqueue teardown into; it may
// be nil for resources with no GPU-in-flight concern.
func NewHandle[T any](res *SharedResource[T], queue *DestroyQueue) Handle[T] {
	return Handle[T]{res: res, queue: queue}
}

// Value returns the wrapped resource.
func (h Handle[T]) Value() T { return h.res.Value() }

// Scope returns the resource's lifetime classification.
func (h Handle[T]) Scope() ResourceScope { return h.res.scope }

// Clone returns a new Handle sharing the same SharedResource, incrementing
// its refcount (AddRef).
func (h Handle[T]) Clone() Handle[T] {
	h.res.addRef()
	return Handle[T]{res: h.res, queue: h.queue}
}

// Release decrements the refcount, enqueueing destruction at currentFrame if
// this was the last reference. Calling Release more than once per Clone is a
// caller bug; SharedResource.release already guards against a double-enqueue
// via CompareAndSwap so it cannot double-destroy even if misused.
func (h Handle[T]) Release(currentFrame uint64) {
	h.res.release(h.queue, currentFrame)
}
