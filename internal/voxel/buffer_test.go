package voxel

import (
	"testing"

	"github.com/annel0/voxel-terrain/internal/mempool"
	"github.com/annel0/voxel-terrain/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_UniformRoundTrip(t *testing.T) {
	pool := mempool.New()
	buf := NewBuffer(pool, vec.Splat3(8))
	defer buf.Release()

	buf.Fill(7, ChannelType)
	assert.True(t, buf.CompressUniform(ChannelType))
	assert.Zero(t, buf.DenseMemory())
	vec.NewBox3(vec.Vec3{}, buf.Size()).ForEachCell(func(p vec.Vec3) {
		v, err := buf.GetVoxelAt(p, ChannelType)
		require.NoError(t, err)
		require.Equal(t, uint64(7), v)
	})

	// Одна отличающаяся запись разворачивает канал, не трогая остальные значения
	require.NoError(t, buf.SetVoxel(9, 1, 2, 3, ChannelType))
	assert.False(t, buf.IsUniform(ChannelType))
	assert.Equal(t, 8*8*8*2, buf.DenseMemory())
	vec.NewBox3(vec.Vec3{}, buf.Size()).ForEachCell(func(p vec.Vec3) {
		v, _ := buf.GetVoxelAt(p, ChannelType)
		if p == vec.New3(1, 2, 3) {
			require.Equal(t, uint64(9), v)
		} else {
			require.Equal(t, uint64(7), v)
		}
	})

	assert.False(t, buf.CompressUniform(ChannelType))
	require.NoError(t, buf.SetVoxel(7, 1, 2, 3, ChannelType))
	assert.True(t, buf.CompressUniform(ChannelType))
	assert.Zero(t, pool.DebugUsedBlocks())
}

func TestBuffer_SetSameAsUniformStaysUniform(t *testing.T) {
	buf := NewBuffer(nil, vec.Splat3(4))
	require.NoError(t, buf.SetVoxel(0, 0, 0, 0, ChannelType))
	assert.True(t, buf.IsUniform(ChannelType))
}

func TestBuffer_OutOfBounds(t *testing.T) {
	buf := NewBuffer(nil, vec.Splat3(4))

	err := buf.SetVoxel(1, -1, 0, 0, ChannelType)
	assert.ErrorIs(t, err, ErrOutOfBounds)
	_, err = buf.GetVoxel(0, 4, 0, ChannelType)
	assert.ErrorIs(t, err, ErrOutOfBounds)
	assert.ErrorIs(t, buf.SetVoxel(1, 0, 0, 0, ChannelID(MaxChannels)), ErrInvalidChannel)
	assert.True(t, buf.IsUniform(ChannelType), "Ошибочная запись не должна менять буфер")
}

func TestBuffer_ValueMaskedToDepth(t *testing.T) {
	buf := NewBuffer(nil, vec.Splat3(2), WithChannelDepth(ChannelType, Depth8Bit))
	require.NoError(t, buf.SetVoxel(0x1ff, 1, 1, 1, ChannelType))
	v, err := buf.GetVoxel(1, 1, 1, ChannelType)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xff), v)
}

func TestBuffer_IndexOrderYFastest(t *testing.T) {
	buf := NewBuffer(nil, vec.New3(2, 3, 4), WithChannelDepth(ChannelType, Depth8Bit))
	require.NoError(t, buf.SetVoxel(5, 1, 2, 3, ChannelType))
	data := buf.ChannelData(ChannelType)
	require.Len(t, data, 24)
	// y + sy*(x + sx*z)
	assert.Equal(t, byte(5), data[2+3*(1+2*3)])
}

func TestBuffer_SDFQuantization(t *testing.T) {
	cases := []struct {
		depth Depth
		tol   float64
	}{
		{Depth8Bit, 0.08},
		{Depth16Bit, 0.016},
		{Depth32Bit, 1e-6},
	}
	for _, c := range cases {
		buf := NewBuffer(nil, vec.Splat3(2), WithChannelDepth(ChannelSDF, c.depth))
		require.NoError(t, buf.SetVoxelF(-1.5, 0, 0, 0, ChannelSDF))
		f, err := buf.GetVoxelF(0, 0, 0, ChannelSDF)
		require.NoError(t, err)
		assert.InDelta(t, -1.5, f, c.tol, "depth %d", c.depth)
	}

	// По умолчанию SDF — «снаружи»
	buf := NewBuffer(nil, vec.Splat3(2))
	f, _ := buf.GetVoxelF(0, 0, 0, ChannelSDF)
	assert.InDelta(t, MaxSDF, f, 0.01)
}

func TestBuffer_CopyRegionDepthMismatch(t *testing.T) {
	src := NewBuffer(nil, vec.Splat3(4), WithChannelDepth(ChannelType, Depth8Bit))
	dst := NewBuffer(nil, vec.Splat3(4), WithChannelDepth(ChannelType, Depth32Bit))
	src.Fill(3, ChannelType)

	err := dst.CopyRegionFrom(src, vec.Vec3{}, vec.Splat3(4), vec.Vec3{}, ChannelType)
	assert.ErrorIs(t, err, ErrDepthMismatch)
	v, _ := dst.GetVoxel(0, 0, 0, ChannelType)
	assert.Zero(t, v)
}

func TestBuffer_CopyRegionClipsAndOffsets(t *testing.T) {
	src := NewBuffer(nil, vec.Splat3(4))
	vec.NewBox3(vec.Vec3{}, src.Size()).ForEachCell(func(p vec.Vec3) {
		require.NoError(t, src.SetVoxelAt(uint64(1+p.X+4*p.Y+16*p.Z), p, ChannelType))
	})
	dst := NewBuffer(nil, vec.Splat3(4))

	// Копия смещена на 2 и частично выходит за dst
	require.NoError(t, dst.CopyRegionFrom(src, vec.Vec3{}, vec.Splat3(4), vec.Splat3(2), ChannelType))
	v, _ := dst.GetVoxel(3, 3, 3, ChannelType)
	assert.Equal(t, uint64(1+1+4+16), v)
	v, _ = dst.GetVoxel(1, 1, 1, ChannelType)
	assert.Zero(t, v)
}

func TestBuffer_CopyRegionMasked(t *testing.T) {
	src := NewBuffer(nil, vec.Splat3(2))
	require.NoError(t, src.SetVoxel(5, 0, 0, 0, ChannelType))
	dst := NewBuffer(nil, vec.Splat3(2))
	dst.Fill(9, ChannelType)

	require.NoError(t, dst.CopyRegionMaskedFrom(src, vec.Vec3{}, vec.Splat3(2), vec.Vec3{}, ChannelType, 0))
	v, _ := dst.GetVoxel(0, 0, 0, ChannelType)
	assert.Equal(t, uint64(5), v)
	v, _ = dst.GetVoxel(1, 1, 1, ChannelType)
	assert.Equal(t, uint64(9), v, "Значение маски не должно переписывать приёмник")
}

func TestBuffer_DownscaleTo(t *testing.T) {
	src := NewBuffer(nil, vec.Splat3(4))
	vec.NewBox3(vec.Vec3{}, src.Size()).ForEachCell(func(p vec.Vec3) {
		require.NoError(t, src.SetVoxelAt(uint64(p.X+4*p.Y+16*p.Z), p, ChannelType))
	})
	dst := NewBuffer(nil, vec.Splat3(4))

	src.DownscaleTo(dst, vec.Vec3{}, vec.Splat3(4), vec.Splat3(2))
	vec.NewBox3(vec.Splat3(2), vec.Splat3(2)).ForEachCell(func(d vec.Vec3) {
		s := d.Sub(vec.Splat3(2)).Shl(1)
		v, _ := dst.GetVoxelAt(d, ChannelType)
		assert.Equal(t, uint64(s.X+4*s.Y+16*s.Z), v)
	})
	v, _ := dst.GetVoxel(0, 0, 0, ChannelType)
	assert.Zero(t, v)
}

func TestBuffer_RefCountRecyclesOnLastRelease(t *testing.T) {
	pool := mempool.New()
	buf := NewBuffer(pool, vec.Splat3(4))
	buf.Decompress(ChannelType)
	require.Equal(t, 1, pool.DebugUsedBlocks())

	shared := buf.Retain()
	buf.Release()
	assert.Equal(t, 1, pool.DebugUsedBlocks(), "Память удерживается, пока есть ссылки")

	shared.Release()
	assert.Zero(t, pool.DebugUsedBlocks())
	assert.Panics(t, func() { shared.Release() })
}

func TestBuffer_CreateReallocates(t *testing.T) {
	pool := mempool.New()
	buf := NewBuffer(pool, vec.Splat3(4))
	require.NoError(t, buf.SetVoxel(3, 0, 0, 0, ChannelType))

	buf.Create(vec.Splat3(8))
	assert.Equal(t, vec.Splat3(8), buf.Size())
	assert.False(t, buf.IsUniform(ChannelType))
	assert.Len(t, buf.ChannelData(ChannelType), 8*8*8*2)
	v, _ := buf.GetVoxel(0, 0, 0, ChannelType)
	assert.Zero(t, v)
	buf.Release()
	assert.Zero(t, pool.DebugUsedBlocks())
}

func TestBuffer_CloneIsIndependent(t *testing.T) {
	buf := NewBuffer(nil, vec.Splat3(2))
	require.NoError(t, buf.SetVoxel(4, 1, 0, 0, ChannelType))
	c := buf.Clone()
	assert.True(t, c.Equals(buf))

	require.NoError(t, c.SetVoxel(6, 1, 0, 0, ChannelType))
	assert.False(t, c.Equals(buf))
	assert.Equal(t, 1, c.RefCount())
}

func TestSphereModifier(t *testing.T) {
	buf := NewBuffer(nil, vec.Splat3(16))
	stack := NewModifierStack()
	id := stack.Add(&SphereModifier{Center: vec.Vec3Float{X: 8, Y: 8, Z: 8}, Radius: 4})

	stack.Apply(buf, vec.Vec3{}, 0)
	center, _ := buf.GetVoxelF(8, 8, 8, ChannelSDF)
	assert.InDelta(t, -4, center, 0.02)
	corner, _ := buf.GetVoxelF(0, 0, 0, ChannelSDF)
	assert.Less(t, corner, 10.0)
	assert.Greater(t, corner, 0.0)

	// Блок вдали от сферы не трогается
	far := NewBuffer(nil, vec.Splat3(16))
	stack.Apply(far, vec.Splat3(1000), 0)
	assert.True(t, far.IsUniform(ChannelSDF))

	assert.True(t, stack.Remove(id))
	assert.False(t, stack.Remove(id))
	assert.Zero(t, stack.Count())
}
