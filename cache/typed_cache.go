package cache

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/andewx/vkcacher/cachekey"
	"github.com/andewx/vkcacher/internal/metrics"
	"github.com/andewx/vkcacher/lifetime"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// CreateFunc constructs the GPU/CPU resource for params, returning the
// value and a destroy closure invoked at most once when the last handle is
// released.
type CreateFunc[V any, P any] func(params P) (V, func(V), error)

// KeyFunc computes the content-addressed Fingerprint for params by building
// a cachekey.Hasher, per spec.md §4.3. Returning the hasher's raw bytes
// alongside the Fingerprint lets GetOrCreate drive Invariant I2's
// hash-collision check off the same bytes that produced the key, rather
// than a separate ad-hoc serialization.
type KeyFunc[P any] func(params P) (cachekey.Fingerprint, []byte)

// TypedCache is the content-keyed map from spec.md §3.2/§4.1. Invariant I1
// (single-flight) is enforced by golang.org/x/sync/singleflight: concurrent
// callers for the same key share one in-flight Create call, exactly the
// spec's "await its future" behavior.
type TypedCache[V any, P any] struct {
	name       string
	keyFunc    KeyFunc[P]
	createFunc CreateFunc[V, P]
	scope      lifetime.ResourceScope
	queue      *lifetime.DestroyQueue

	mu      sync.RWMutex
	entries map[cachekey.Fingerprint]entry[V, P]
	group   singleflight.Group

	debugCollisionCheck bool
	rawHashes           map[cachekey.Fingerprint][]byte

	metrics *metrics.CacheMetrics
	log     *zap.Logger
}

// New constructs a TypedCache. queue may be nil for CPU-only resources with
// no GPU-in-flight concern (spec.md §3.6). debugCollisionCheck enables
// Invariant I2's raw-byte-hash comparison.
func New[V any, P any](name string, keyFunc KeyFunc[P], createFunc CreateFunc[V, P], scope lifetime.ResourceScope, queue *lifetime.DestroyQueue, debugCollisionCheck bool, m *metrics.CacheMetrics, log *zap.Logger) *TypedCache[V, P] {
	return &TypedCache[V, P]{
		name:                name,
		keyFunc:             keyFunc,
		createFunc:          createFunc,
		scope:               scope,
		queue:               queue,
		entries:             make(map[cachekey.Fingerprint]entry[V, P]),
		debugCollisionCheck: debugCollisionCheck,
		rawHashes:           make(map[cachekey.Fingerprint][]byte),
		metrics:             m,
		log:                 log,
	}
}

// Name returns the cache's manifest identity.
func (c *TypedCache[V, P]) Name() string { return c.name }

// GetOrCreate is spec.md §4.1's get_or_create. On hit it clones and returns
// the stored handle; on miss, singleflight ensures exactly one Create call
// runs per key while concurrent callers await its result.
func (c *TypedCache[V, P]) GetOrCreate(params P) (lifetime.Handle[V], error) {
	key, raw := c.keyFunc(params)

	if c.debugCollisionCheck {
		c.checkCollision(key, raw)
	}

	c.mu.RLock()
	if e, ok := c.entries[key]; ok {
		c.mu.RUnlock()
		c.recordHit()
		return e.value.Clone(), nil
	}
	c.mu.RUnlock()

	ran := false
	v, err, _ := c.group.Do(keyToString(key), func() (any, error) {
		ran = true
		c.mu.RLock()
		if e, ok := c.entries[key]; ok {
			c.mu.RUnlock()
			return e.value, nil
		}
		c.mu.RUnlock()

		c.recordMiss()
		value, destroy, err := c.createFunc(params)
		if err != nil {
			return nil, err
		}

		res := lifetime.NewSharedResource(value, c.scope, destroy)
		handle := lifetime.NewHandle(res, c.queue)

		c.mu.Lock()
		c.entries[key] = entry[V, P]{key: key, params: params, value: handle}
		if c.debugCollisionCheck {
			c.rawHashes[key] = raw
		}
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.Entries.Set(float64(len(c.entries)))
		}
		return handle, nil
	})
	if !ran && c.metrics != nil {
		c.metrics.SingleFlown.Inc()
	}
	if err != nil {
		return lifetime.Handle[V]{}, err
	}
	return v.(lifetime.Handle[V]).Clone(), nil
}

func (c *TypedCache[V, P]) recordHit() {
	if c.metrics != nil {
		c.metrics.Hits.Inc()
	}
}

func (c *TypedCache[V, P]) recordMiss() {
	if c.metrics != nil {
		c.metrics.Misses.Inc()
	}
}

// Has reports whether key is present in entries.
func (c *TypedCache[V, P]) Has(key cachekey.Fingerprint) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[key]
	return ok
}

// Get returns the stored handle for key, cloning it, if present.
func (c *TypedCache[V, P]) Get(key cachekey.Fingerprint) (lifetime.Handle[V], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return lifetime.Handle[V]{}, false
	}
	return e.value.Clone(), true
}

// Insert is the low-level deserialization path from spec.md §4.1: params is
// typed here (Go generics make the runtime downcast the spec describes
// unnecessary), so Insert has no failure path: it stores the entry under key,
// replacing any entry already there.
func (c *TypedCache[V, P]) Insert(key cachekey.Fingerprint, params P, value V, destroy func(V)) {
	res := lifetime.NewSharedResource(value, c.scope, destroy)
	handle := lifetime.NewHandle(res, c.queue)
	c.mu.Lock()
	c.entries[key] = entry[V, P]{key: key, params: params, value: handle}
	c.mu.Unlock()
}

// Erase releases the entry's base reference and removes it from the map.
func (c *TypedCache[V, P]) Erase(key cachekey.Fingerprint, currentFrame uint64) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
		delete(c.rawHashes, key)
	}
	c.mu.Unlock()
	if ok {
		e.value.Release(currentFrame)
	}
}

// Clear releases every entry's base reference and empties the map.
func (c *TypedCache[V, P]) Clear(currentFrame uint64) {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[cachekey.Fingerprint]entry[V, P])
	c.rawHashes = make(map[cachekey.Fingerprint][]byte)
	c.mu.Unlock()
	for _, e := range entries {
		e.value.Release(currentFrame)
	}
}

// Len reports the number of live entries.
func (c *TypedCache[V, P]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// CacheEntry is a serialization-time snapshot of one TypedCache entry.
// Value is a cloned handle; callers that don't hand it to another owner
// must Release it (frame 0 is fine, a snapshot read is never frame-fenced)
// once they're done reading it.
type CacheEntry[V any, P any] struct {
	Key    cachekey.Fingerprint
	Params P
	Value  lifetime.Handle[V]
}

// Entries returns a snapshot of every live entry, for SerializeTo
// implementations to walk without reaching into the cache's internals.
func (c *TypedCache[V, P]) Entries() []CacheEntry[V, P] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]CacheEntry[V, P], 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, CacheEntry[V, P]{Key: e.key, Params: e.params, Value: e.value.Clone()})
	}
	return out
}

func (c *TypedCache[V, P]) checkCollision(key cachekey.Fingerprint, raw []byte) {
	c.mu.RLock()
	prior, ok := c.rawHashes[key]
	c.mu.RUnlock()
	if !ok {
		return
	}
	if !bytes.Equal(prior, raw) {
		if c.log != nil {
			c.log.Error("cache key hash collision detected",
				zap.String("cache", c.name),
				zap.Uint64("key", uint64(key)),
			)
		}
	}
}

func keyToString(k cachekey.Fingerprint) string {
	return fmt.Sprintf("%x", uint64(k))
}
