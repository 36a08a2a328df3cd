// Package cache implements the TypedCache, CacheRegistry, and
// DeviceRegistry machinery from spec.md §3.2, §4.1, §4.4: content-keyed
// caches of GPU resources with single-flight coalesced construction
// (golang.org/x/sync/singleflight, the idiomatic Go analogue of the
// pending-future map the spec describes) and manifest-driven persistence.
package cache

import (
	"errors"
	"io"

	"github.com/andewx/vkcacher/cachekey"
	"github.com/andewx/vkcacher/device"
	"github.com/andewx/vkcacher/lifetime"
)

// ErrTypeMismatch is the sentinel for params that do not match a cache's
// parameter type. TypedCache.Insert takes params already typed as P, so no
// code path in this module returns it.
var ErrTypeMismatch = errors.New("cache: type mismatch")

// ErrHashCollision is logged (debug builds only), never returned, per
// spec.md §7 ("logged as an error but does not throw"); it is exported so
// callers that wire their own debug logging can match on it.
var ErrHashCollision = errors.New("cache: hash collision detected")

// Cache is the type-erased interface every concrete cache satisfies, per
// spec.md §4.1/§6.2/Design Note (name/has/erase/clear/cleanup/serialize/
// deserialize). Typed get-or-create and insert are not part of it; they live
// on each concrete cache and on TypedCache.
type Cache interface {
	Name() string
	Has(key cachekey.Fingerprint) bool
	Erase(key cachekey.Fingerprint)
	Clear()
	Cleanup()
	SerializeTo(w io.Writer) error
	DeserializeFrom(r io.Reader, dev device.Device) error
}

// entry holds a cache's stored value alongside its params, per spec.md §3.2.
type entry[V any, P any] struct {
	key    cachekey.Fingerprint
	params P
	value  lifetime.Handle[V]
}
