package cachekey

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasherDeterministic(t *testing.T) {
	k1 := New().AddString("shaders/a.vert").AddString("main").AddUint32(0).AddString("abc").AddStrings(nil).Finalize()
	k2 := New().AddString("shaders/a.vert").AddString("main").AddUint32(0).AddString("abc").AddStrings(nil).Finalize()
	require.Equal(t, k1, k2)
}

func TestHasherDiscriminatesEntryPoint(t *testing.T) {
	base := func(entry string) Fingerprint {
		return New().AddString("shaders/a.vert").AddString(entry).AddUint32(0).Finalize()
	}
	require.NotEqual(t, base("main"), base("mainVS"))
}

func TestHasherLengthPrefixAvoidsConcatenationCollision(t *testing.T) {
	k1 := New().AddString("ab").AddString("c").Finalize()
	k2 := New().AddString("a").AddString("bc").Finalize()
	require.NotEqual(t, k1, k2)
}

func TestQuantizeFloatStable(t *testing.T) {
	require.Equal(t, QuantizeFloat(1.2345), QuantizeFloat(1.2345))
	require.NotEqual(t, QuantizeFloat(1.0), QuantizeFloat(1.001))
}

func TestResetReusesHasher(t *testing.T) {
	h := New()
	h.AddString("one")
	a := h.Finalize()
	h.Reset()
	h.AddString("two")
	b := h.Finalize()
	require.NotEqual(t, a, b)
}
