package generator

import (
	"testing"

	"github.com/annel0/voxel-terrain/internal/config"
	"github.com/annel0/voxel-terrain/internal/vec"
	"github.com/annel0/voxel-terrain/internal/voxel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromRegistry(t *testing.T) {
	for _, name := range []string{"flat", "heightmap", "noise"} {
		g, err := New(config.GeneratorConfig{Type: name, Channel: "sdf", HeightRange: 32})
		require.NoError(t, err, name)
		assert.Equal(t, voxel.MaskOf(voxel.ChannelSDF), g.UsedChannelsMask())
	}

	_, err := New(config.GeneratorConfig{Type: "graph"})
	assert.ErrorIs(t, err, ErrUnknownGenerator)

	_, err = New(config.GeneratorConfig{Type: "flat", Channel: "color"})
	assert.Error(t, err)

	Register("flat2", func(cfg config.GeneratorConfig) (voxel.Generator, error) { return NewFlatFromConfig(cfg) })
	assert.Contains(t, Names(), "flat2")
}

func TestFlat_SDF(t *testing.T) {
	g := &Flat{Channel: voxel.ChannelSDF, Height: 0}
	buf := voxel.NewBuffer(nil, vec.Splat3(16))
	g.GenerateBlock(buf, vec.New3(0, -8, 0), 0)

	f, err := buf.GetVoxelF(3, 8, 5, voxel.ChannelSDF)
	require.NoError(t, err)
	assert.InDelta(t, 0, f, 0.01)
	f, _ = buf.GetVoxelF(3, 0, 5, voxel.ChannelSDF)
	assert.InDelta(t, -8, f, 0.01)
}

func TestFlat_TypeShortcuts(t *testing.T) {
	g := &Flat{Channel: voxel.ChannelType, Height: 0, BlockType: 3}

	above := voxel.NewBuffer(nil, vec.Splat3(8))
	g.GenerateBlock(above, vec.New3(0, 0, 0), 0)
	v, ok := above.UniformValue(voxel.ChannelType)
	assert.True(t, ok)
	assert.Zero(t, v)

	below := voxel.NewBuffer(nil, vec.Splat3(8))
	g.GenerateBlock(below, vec.New3(0, -16, 0), 1)
	v, ok = below.UniformValue(voxel.ChannelType)
	assert.True(t, ok)
	assert.Equal(t, uint64(3), v)

	across := voxel.NewBuffer(nil, vec.Splat3(8))
	g.GenerateBlock(across, vec.New3(0, -4, 0), 0)
	v, _ = across.GetVoxel(0, 3, 0, voxel.ChannelType)
	assert.Equal(t, uint64(3), v)
	v, _ = across.GetVoxel(0, 4, 0, voxel.ChannelType)
	assert.Zero(t, v)
}

// Один и тот же мировой воксель должен давать одно значение на LOD 0 и LOD 1
func assertLODConsistent(t *testing.T, g voxel.Generator, origin vec.Vec3) {
	t.Helper()
	const size = 8
	lod0 := voxel.NewBuffer(nil, vec.Splat3(size))
	lod1 := voxel.NewBuffer(nil, vec.Splat3(size))
	g.GenerateBlock(lod0, origin, 0)
	g.GenerateBlock(lod1, origin, 1)

	ch := voxel.ChannelSDF
	vec.NewBox3(vec.Vec3{}, vec.Splat3(size/2)).ForEachCell(func(p vec.Vec3) {
		a, err := lod1.GetVoxelAt(p, ch)
		require.NoError(t, err)
		b, err := lod0.GetVoxelAt(p.Shl(1), ch)
		require.NoError(t, err)
		require.Equal(t, b, a, "voxel %v", p)
	})
}

func TestHeightmap_LODInvariance(t *testing.T) {
	g := NewHeightmap(42, 3, voxel.ChannelSDF, -10, 20, 32)
	assertLODConsistent(t, g, vec.New3(-8, -4, 16))
}

func TestNoise_LODInvariance(t *testing.T) {
	g := NewNoise(7, voxel.ChannelSDF, -8, 16)
	assertLODConsistent(t, g, vec.New3(3, -8, -5))
}

func TestHeightmap_Deterministic(t *testing.T) {
	a := NewHeightmap(99, 3, voxel.ChannelSDF, 0, 50, 64)
	b := NewHeightmap(99, 3, voxel.ChannelSDF, 0, 50, 64)
	for x := -20; x < 20; x += 7 {
		h := a.HeightAt(x, x*3)
		assert.Equal(t, h, b.HeightAt(x, x*3))
		assert.GreaterOrEqual(t, h, 0.0)
		assert.LessOrEqual(t, h, 50.0)
	}
}

func TestNoise_TypeChannelBounds(t *testing.T) {
	g := NewNoise(1, voxel.ChannelType, 0, 32)
	g.BlockType = 5

	sky := voxel.NewBuffer(nil, vec.Splat3(8))
	g.GenerateBlock(sky, vec.New3(0, 40, 0), 0)
	v, ok := sky.UniformValue(voxel.ChannelType)
	assert.True(t, ok)
	assert.Zero(t, v)

	ground := voxel.NewBuffer(nil, vec.Splat3(8))
	g.GenerateBlock(ground, vec.New3(0, -16, 0), 0)
	v, ok = ground.UniformValue(voxel.ChannelType)
	assert.True(t, ok)
	assert.Equal(t, uint64(5), v)
}
