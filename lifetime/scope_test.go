package lifetime

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScopeEndReleasesAllTrackedHandles(t *testing.T) {
	destroyed := map[string]bool{}
	mk := func(name string) Handle[string] {
		res := NewSharedResource(name, ScopeTransient, func(n string) { destroyed[n] = true })
		return NewHandle(res, nil)
	}

	s := newScope("pass", nil)
	s.Track(AsAnyHandle(mk("a")))
	s.Track(AsAnyHandle(mk("b")))
	s.End(0)

	require.True(t, destroyed["a"])
	require.True(t, destroyed["b"])
}

func TestScopeEndIsIdempotent(t *testing.T) {
	count := 0
	res := NewSharedResource(1, ScopeTransient, func(int) { count++ })
	s := newScope("pass", nil)
	s.Track(AsAnyHandle(NewHandle(res, nil)))

	s.End(0)
	s.End(0)
	require.Equal(t, 1, count)
}

func TestScopeSurvivorKeptAliveByOtherReference(t *testing.T) {
	destroyed := false
	res := NewSharedResource("shared", ScopeShared, func(string) { destroyed = true })
	h1 := NewHandle(res, nil)
	h2 := h1.Clone()

	s := newScope("pass", nil)
	s.Track(AsAnyHandle(h1))
	s.End(0)

	require.False(t, destroyed)
	h2.Release(0)
	require.True(t, destroyed)
}

func TestManagerPopScopeLIFOOrder(t *testing.T) {
	m := NewManager()
	var order []string
	a := m.PushScope("a")
	b := m.PushScope("b")
	a.Track(AsAnyHandle(NewHandle(NewSharedResource(1, ScopeTransient, func(int) { order = append(order, "a") }), nil)))
	b.Track(AsAnyHandle(NewHandle(NewSharedResource(1, ScopeTransient, func(int) { order = append(order, "b") }), nil)))

	popped := m.PopScope(0)
	require.Equal(t, b, popped)
	require.Equal(t, []string{"b"}, order)

	m.PopScope(0)
	require.Equal(t, []string{"b", "a"}, order)
	require.Equal(t, 0, m.Depth())
}

func TestManagerEndFrameStartsFreshScope(t *testing.T) {
	m := NewManager()
	first := m.FrameScope()
	m.EndFrame(1)
	second := m.FrameScope()
	require.NotEqual(t, first.ID, second.ID)
	require.True(t, first.Ended())
	require.False(t, second.Ended())
}
