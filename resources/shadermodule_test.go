package resources

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShaderModuleKeyStableAcrossEqualParams(t *testing.T) {
	p1 := ShaderModuleParams{SourcePath: "a.vert", EntryPoint: "main", SourceChecksum: 42, Macros: []string{"FOO"}}
	p2 := ShaderModuleParams{SourcePath: "a.vert", EntryPoint: "main", SourceChecksum: 42, Macros: []string{"FOO"}}
	k1, _ := shaderModuleKey(p1)
	k2, _ := shaderModuleKey(p2)
	require.Equal(t, k1, k2)
}

func TestShaderModuleKeyDiffersOnMacroOrder(t *testing.T) {
	p1 := ShaderModuleParams{SourcePath: "a.vert", Macros: []string{"A", "B"}}
	p2 := ShaderModuleParams{SourcePath: "a.vert", Macros: []string{"B", "A"}}
	k1, _ := shaderModuleKey(p1)
	k2, _ := shaderModuleKey(p2)
	require.NotEqual(t, k1, k2)
}

func TestShaderCompilationCacheIsDeviceIndependent(t *testing.T) {
	calls := 0
	compile := func(p ShaderCompilationParams) ([]uint32, error) {
		calls++
		return []uint32{1, 2, 3}, nil
	}
	c := NewShaderCompilationCache(compile, false, nil, nil)

	h1, err := c.GetOrCreate(ShaderCompilationParams{SourcePath: "x.comp", EntryPoint: "main", SourceChecksum: 1})
	require.NoError(t, err)
	require.Equal(t, []uint32{1, 2, 3}, h1.Value().SPIRV)

	h2, err := c.GetOrCreate(ShaderCompilationParams{SourcePath: "x.comp", EntryPoint: "main", SourceChecksum: 1})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
	require.Equal(t, h1.Value().SPIRV, h2.Value().SPIRV)
}

func TestShaderCompilationCachePropagatesCompileError(t *testing.T) {
	c := NewShaderCompilationCache(func(p ShaderCompilationParams) ([]uint32, error) {
		return nil, errBoomCompile
	}, false, nil, nil)
	_, err := c.GetOrCreate(ShaderCompilationParams{SourcePath: "bad.comp"})
	require.Error(t, err)
}

var errBoomCompile = boomCompileError{}

type boomCompileError struct{}

func (boomCompileError) Error() string { return "compile failed" }
