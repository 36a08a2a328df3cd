package lifetime

import (
	"sync"

	"github.com/google/uuid"
)

// AnyHandle is the minimal surface LifetimeScope needs from a Handle: the
// ability to release one reference at a given frame. Scopes are generic
// over resource kind (buffer, image, ...), so they hold this narrower
// interface rather than Handle[T] directly.
type AnyHandle interface {
	ReleaseAt(frame uint64)
}

// releasable adapts a Handle[T] to AnyHandle.
type releasable[T any] struct {
	h Handle[T]
}

func (r releasable[T]) ReleaseAt(frame uint64) { r.h.Release(frame) }

// AsAnyHandle wraps a typed Handle for storage in a LifetimeScope.
func AsAnyHandle[T any](h Handle[T]) AnyHandle {
	return releasable[T]{h: h}
}

// Scope (named LifetimeScope in spec.md §3.7/§4.12) is a named group of
// resources released in bulk. Ending a scope drops its handle vector,
// releasing one reference to each contained resource; survivors continue to
// live by virtue of other references (spec.md §3.7).
type Scope struct {
	mu     sync.Mutex
	ID     uuid.UUID
	Name   string
	Parent *Scope

	handles []AnyHandle
	ended   bool
}

// newScope constructs a scope with a fresh identity.
func newScope(name string, parent *Scope) *Scope {
	return &Scope{ID: uuid.New(), Name: name, Parent: parent}
}

// Track adds a handle to this scope; it will be released when the scope
// ends.
func (s *Scope) Track(h AnyHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		// Ending is idempotent per spec.md's state machine, but tracking
		// into an ended scope is a caller bug; release immediately rather
		// than leaking the reference.
		h.ReleaseAt(0)
		return
	}
	s.handles = append(s.handles, h)
}

// End releases one reference to every tracked resource. Idempotent: ending
// an already-ended scope is a no-op, matching the Active->Ended state
// machine in spec.md §4.12.
func (s *Scope) End(currentFrame uint64) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	handles := s.handles
	s.handles = nil
	s.mu.Unlock()

	for _, h := range handles {
		h.ReleaseAt(currentFrame)
	}
}

// Ended reports whether End has already run.
func (s *Scope) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Manager (ScopeManager in spec.md §3.7/§4.12) owns a perpetual frame scope
// plus a LIFO stack of nested scopes.
type Manager struct {
	mu         sync.Mutex
	frameScope *Scope
	stack      []*Scope
}

// NewManager creates a manager with its perpetual frame scope already
// active.
func NewManager() *Manager {
	return &Manager{frameScope: newScope("frame", nil)}
}

// FrameScope returns the perpetual per-frame scope. Callers typically Track
// per-frame resources here and call EndFrame at frame boundaries.
func (m *Manager) FrameScope() *Scope {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frameScope
}

// EndFrame ends the current frame scope at currentFrame and immediately
// starts a fresh one, so per-frame resources are released in bulk exactly
// once per frame boundary (spec.md §2's "per-frame resources are released
// in bulk at frame boundaries").
func (m *Manager) EndFrame(currentFrame uint64) {
	m.mu.Lock()
	old := m.frameScope
	m.frameScope = newScope("frame", nil)
	m.mu.Unlock()
	old.End(currentFrame)
}

// PushScope creates and pushes a new nested scope, parented to the current
// top of stack (or the frame scope if the stack is empty), e.g. a per-pass
// scope (spec.md §2).
func (m *Manager) PushScope(name string) *Scope {
	m.mu.Lock()
	defer m.mu.Unlock()
	parent := m.frameScope
	if n := len(m.stack); n > 0 {
		parent = m.stack[n-1]
	}
	s := newScope(name, parent)
	m.stack = append(m.stack, s)
	return s
}

// PopScope ends and removes the top-of-stack scope, in LIFO order, per
// spec.md §4.12 ("ended in LIFO order").
func (m *Manager) PopScope(currentFrame uint64) *Scope {
	m.mu.Lock()
	if len(m.stack) == 0 {
		m.mu.Unlock()
		return nil
	}
	top := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	m.mu.Unlock()

	top.End(currentFrame)
	return top
}

// Depth returns the number of currently-nested scopes.
func (m *Manager) Depth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stack)
}
