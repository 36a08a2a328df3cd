// Package eventbus implements the minimal pub/sub contract spec.md §6.1
// consumes ("events include DeviceInvalidation{device_handle}, FrameStart,
// FrameEnd"). The full engine-wide event taxonomy is out of scope (spec.md
// §1); this package only owns the dispatch mechanism. In this module only
// DeviceBudget subscribes, to FrameStart/FrameEnd via its BindEventBus.
package eventbus

import "sync"

// SubscriptionID identifies a registered handler for later Unsubscribe.
type SubscriptionID uint64

// FrameStart is published at the beginning of a frame.
type FrameStart struct {
	Frame uint64
}

// FrameEnd is published at the end of a frame.
type FrameEnd struct {
	Frame uint64
}

// DeviceInvalidation is published when a device handle becomes invalid
// (device lost, application shutdown) and caches bound to it must release
// their Vulkan resources.
type DeviceInvalidation struct {
	DeviceID uint64
}

type subscription struct {
	id      SubscriptionID
	typeKey string
	handler func(any)
}

// Bus is a typed pub/sub dispatcher guarded by a single RWMutex, matching
// spec.md §5's reader/writer-lock convention for shared registries.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]subscription
	next SubscriptionID
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]subscription)}
}

func keyFor[T any]() string {
	var zero T
	return typeName(zero)
}

// typeName is a tiny helper avoiding a dependency on the stdlib reflect
// package for something this small: a type switch maps each of the three
// event types above to its own string tag. Every other type maps to
// "unknown", so all such types share one subscriber list.
func typeName(v any) string {
	switch v.(type) {
	case FrameStart:
		return "FrameStart"
	case FrameEnd:
		return "FrameEnd"
	case DeviceInvalidation:
		return "DeviceInvalidation"
	default:
		return "unknown"
	}
}

// Subscribe registers handler for events of type T, returning an ID usable
// with Unsubscribe.
func Subscribe[T any](b *Bus, handler func(T)) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	id := b.next
	key := keyFor[T]()
	b.subs[key] = append(b.subs[key], subscription{
		id:      id,
		typeKey: key,
		handler: func(v any) { handler(v.(T)) },
	})
	return id
}

// Unsubscribe removes a previously registered handler by ID.
func (b *Bus) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, subs := range b.subs {
		for i, s := range subs {
			if s.id == id {
				b.subs[key] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers event to every subscriber registered for its type. Events
// are delivered synchronously and in subscription order; handlers that need
// to do blocking work should hand off to their own goroutine.
func Publish[T any](b *Bus, event T) {
	key := keyFor[T]()
	b.mu.RLock()
	subs := make([]subscription, len(b.subs[key]))
	copy(subs, b.subs[key])
	b.mu.RUnlock()
	for _, s := range subs {
		s.handler(event)
	}
}
