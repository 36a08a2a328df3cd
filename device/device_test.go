package device

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeIsStable(t *testing.T) {
	a := Compute(0x10de, 0x2684, 0x402020c)
	b := Compute(0x10de, 0x2684, 0x402020c)
	require.Equal(t, a, b)
}

func TestComputeDiscriminatesDriverVersion(t *testing.T) {
	a := Compute(0x10de, 0x2684, 1)
	b := Compute(0x10de, 0x2684, 2)
	require.NotEqual(t, a, b)
}
