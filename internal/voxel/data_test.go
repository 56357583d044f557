package voxel

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/annel0/voxel-terrain/internal/mempool"
	"github.com/annel0/voxel-terrain/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fieldValue — детерминированное поле, зависящее только от мировых координат
func fieldValue(p vec.Vec3) uint64 {
	return uint64((p.X*73856093 ^ p.Y*19349663 ^ p.Z*83492791) & 0xffff)
}

type fieldGenerator struct {
	calls atomic.Int32
}

func (g *fieldGenerator) GenerateBlock(buf *Buffer, origin vec.Vec3, lod int) {
	g.calls.Add(1)
	buf.WriteBox(vec.NewBox3(vec.Vec3{}, buf.Size()), ChannelType, vec.Vec3{}, func(p vec.Vec3, _ uint64) uint64 {
		return fieldValue(origin.Add(p.Shl(uint(lod))))
	})
}

func (g *fieldGenerator) UsedChannelsMask() ChannelMask {
	return MaskOf(ChannelType)
}

func newTestData(t *testing.T, streaming bool, lodCount int) (*VoxelData, *fieldGenerator, *mempool.Pool) {
	t.Helper()
	pool := mempool.New()
	cfg := DefaultConfig()
	cfg.LODCount = lodCount
	cfg.Streaming = streaming
	d := NewVoxelData(pool, cfg)
	gen := &fieldGenerator{}
	d.SetGenerator(gen)
	t.Cleanup(d.ResetMaps)
	return d, gen, pool
}

func TestVoxelData_GetVoxelGeneratesWithoutStreaming(t *testing.T) {
	d, _, _ := newTestData(t, false, 1)

	p := vec.New3(-5, 17, 40)
	assert.Equal(t, fieldValue(p), d.GetVoxel(p, ChannelType, 999))
	assert.Zero(t, d.BlockCount(), "Чтение не должно создавать блоки")
}

func TestVoxelData_GetVoxelDefaultWhenNotLoaded(t *testing.T) {
	d, _, _ := newTestData(t, true, 1)

	assert.Equal(t, uint64(999), d.GetVoxel(vec.New3(1, 2, 3), ChannelType, 999))

	// Известный пустой блок генерируется на лету
	d.SetEmptyBlockBuffer(vec.Vec3{}, 0)
	assert.Equal(t, fieldValue(vec.New3(1, 2, 3)), d.GetVoxel(vec.New3(1, 2, 3), ChannelType, 999))
}

func TestVoxelData_TrySetVoxel(t *testing.T) {
	d, _, _ := newTestData(t, false, 1)
	p := vec.New3(3, 4, 5)

	require.True(t, d.TrySetVoxel(42, p, ChannelType))
	assert.Equal(t, uint64(42), d.GetVoxel(p, ChannelType, 0))
	// Соседний воксель того же блока сохранил значение генератора
	assert.Equal(t, fieldValue(vec.New3(3, 4, 6)), d.GetVoxel(vec.New3(3, 4, 6), ChannelType, 0))

	edited := 0
	d.ForEachBlock(func(_ BlockLocation, b *DataBlock) {
		if b.IsEdited() {
			edited++
		}
	})
	assert.Equal(t, 1, edited)

	d.SetBounds(vec.NewBox3(vec.Vec3{}, vec.Splat3(8)))
	assert.False(t, d.TrySetVoxel(1, vec.New3(100, 0, 0), ChannelType))
}

func TestVoxelData_TrySetVoxelRejectedWhenNotLoaded(t *testing.T) {
	d, _, _ := newTestData(t, true, 1)
	assert.False(t, d.TrySetVoxel(1, vec.New3(1, 1, 1), ChannelType))
	assert.Zero(t, d.BlockCount())
}

func TestVoxelData_TrySetVoxelF(t *testing.T) {
	d, _, _ := newTestData(t, false, 1)
	require.True(t, d.TrySetVoxelF(-2.5, vec.New3(1, 1, 1), ChannelSDF))
	assert.InDelta(t, -2.5, d.GetVoxelF(vec.New3(1, 1, 1), ChannelSDF), 0.01)
}

func TestVoxelData_FirstWriterWins(t *testing.T) {
	d, _, _ := newTestData(t, true, 1)
	const writers = 8

	buffers := make([]*Buffer, writers)
	for i := range buffers {
		buffers[i] = d.NewBlockBuffer()
		buffers[i].Fill(uint64(i+1), ChannelType)
		buffers[i].Retain() // ссылка теста
	}

	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := range buffers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = d.TrySetBlockBuffer(vec.Vec3{}, 0, buffers[i], false)
		}(i)
	}
	wg.Wait()

	retained := 0
	for i, b := range buffers {
		assert.NoError(t, errs[i])
		if b.RefCount() == 2 {
			retained++
			assert.Equal(t, uint64(i+1), d.GetVoxel(vec.Vec3{}, ChannelType, 0))
		}
		b.Release()
	}
	assert.Equal(t, 1, retained)
	assert.Equal(t, 1, d.BlockCount())
}

func TestVoxelData_TrySetBlockBufferSizeMismatch(t *testing.T) {
	d, _, _ := newTestData(t, true, 1)
	err := d.TrySetBlockBuffer(vec.Vec3{}, 0, NewBuffer(nil, vec.Splat3(3)), false)
	assert.ErrorIs(t, err, ErrBlockSizeMismatch)
	assert.False(t, d.HasBlock(vec.Vec3{}, 0))
}

type blockState struct {
	buf    *Buffer
	edited bool
}

func snapshotBlocks(d *VoxelData) map[BlockLocation]blockState {
	out := make(map[BlockLocation]blockState)
	d.ForEachBlock(func(loc BlockLocation, b *DataBlock) {
		out[loc] = blockState{buf: b.Voxels(), edited: b.IsEdited()}
	})
	return out
}

func TestVoxelData_PreGenerateBoxIdempotent(t *testing.T) {
	d, gen, _ := newTestData(t, true, 3)
	box := vec.NewBox3(vec.Splat3(-10), vec.Splat3(40))

	d.PreGenerateBox(box)
	first := snapshotBlocks(d)
	calls := gen.calls.Load()
	require.NotEmpty(t, first)

	d.PreGenerateBox(box)
	assert.Equal(t, first, snapshotBlocks(d))
	assert.Equal(t, calls, gen.calls.Load(), "Повторная генерация не нужна")
	assert.True(t, d.IsAreaLoaded(box))
}

func TestVoxelData_WriteBoxRequiresLoadedArea(t *testing.T) {
	d, _, _ := newTestData(t, true, 1)
	d.SetBounds(vec.NewBox3(vec.Vec3{}, vec.Splat3(40)))

	// Загружены блоки x = 0..1, блок x = 2 отсутствует
	for x := 0; x < 2; x++ {
		d.SetEmptyBlockBuffer(vec.New3(x, 0, 0), 0)
	}
	before := d.BlockCount()
	set := func(vec.Vec3, uint64) uint64 { return 7 }

	res := d.WriteBox(vec.NewBox3(vec.Vec3{}, vec.New3(40, 4, 4)), ChannelType, set)
	assert.True(t, res.IsEmpty())
	assert.Equal(t, before, d.BlockCount())
	d.ForEachBlock(func(_ BlockLocation, b *DataBlock) {
		assert.False(t, b.HasVoxels(), "Ни одна запись не должна пройти")
	})

	// Полностью загруженная область обрезается по границам мира
	res = d.WriteBox(vec.NewBox3(vec.New3(-4, 0, 0), vec.New3(20, 4, 4)), ChannelType, set)
	assert.Equal(t, vec.NewBox3(vec.Vec3{}, vec.New3(16, 4, 4)), res)

	written := 0
	vec.NewBox3(vec.Vec3{}, vec.New3(32, 16, 16)).ForEachCell(func(p vec.Vec3) {
		v := d.GetVoxel(p, ChannelType, 0)
		if res.Contains(p) {
			assert.Equal(t, uint64(7), v)
			written++
		} else {
			assert.Equal(t, fieldValue(p), v)
		}
	})
	assert.Equal(t, res.Volume(), written)
}

func TestVoxelData_WriteBox2(t *testing.T) {
	d, _, _ := newTestData(t, false, 1)
	box := vec.NewBox3(vec.Vec3{}, vec.Splat3(3))

	res := d.WriteBox2(box, ChannelType, ChannelColor, func(p vec.Vec3, v1, v2 uint64) (uint64, uint64) {
		return v1 + 1, uint64(p.X)
	})
	require.Equal(t, box, res)
	p := vec.New3(2, 1, 0)
	assert.Equal(t, (fieldValue(p)+1)&0xffff, d.GetVoxel(p, ChannelType, 0))
	assert.Equal(t, uint64(2), d.GetVoxel(p, ChannelColor, 0))
}

func TestVoxelData_CopyPasteRoundTrip(t *testing.T) {
	d, _, _ := newTestData(t, false, 1)
	origin := vec.New3(10, -3, 5)
	size := vec.New3(20, 9, 13)

	for i := 0; i < 30; i++ {
		require.True(t, d.TrySetVoxel(uint64(100+i), origin.Add(vec.New3(i%20, i%9, i%13)), ChannelType))
	}

	saved := d.NewBlockBuffer()
	saved.Create(size)
	require.NoError(t, d.Copy(origin, saved, MaskOf(ChannelType)))

	d.WriteBox(vec.NewBox3(origin, size), ChannelType, func(vec.Vec3, uint64) uint64 { return 0 })

	require.NoError(t, d.Paste(origin, saved, MaskOf(ChannelType), false, 0, true))

	restored := d.NewBlockBuffer()
	restored.Create(size)
	require.NoError(t, d.Copy(origin, restored, MaskOf(ChannelType)))
	assert.True(t, restored.ChannelEquals(saved, ChannelType))
	assert.True(t, restored.IsUniform(ChannelSDF), "Канал вне маски не копируется")
}

func TestVoxelData_PasteWithMask(t *testing.T) {
	d, _, _ := newTestData(t, false, 1)
	src := NewBuffer(nil, vec.Splat3(2))
	require.NoError(t, src.SetVoxel(77, 0, 0, 0, ChannelType))

	require.NoError(t, d.Paste(vec.Vec3{}, src, MaskOf(ChannelType), true, 0, true))
	assert.Equal(t, uint64(77), d.GetVoxel(vec.Vec3{}, ChannelType, 0))
	p := vec.New3(1, 1, 1)
	assert.Equal(t, fieldValue(p), d.GetVoxel(p, ChannelType, 0))
}

func TestVoxelData_PasteWithoutCreatingBlocks(t *testing.T) {
	d, _, _ := newTestData(t, true, 1)
	src := NewBuffer(nil, vec.Splat3(2))
	src.Fill(5, ChannelType)
	require.NoError(t, d.Paste(vec.Vec3{}, src, MaskOf(ChannelType), false, 0, false))
	assert.Zero(t, d.BlockCount())
}

func TestVoxelData_LODInvariance(t *testing.T) {
	d, _, _ := newTestData(t, true, 3)
	box := vec.NewBox3(vec.Vec3{}, vec.Splat3(64))
	d.PreGenerateBox(box)

	for lodIndex := 0; lodIndex < 3; lodIndex++ {
		lodIndex := lodIndex
		blockBox := box.Downscaled(d.BlockSize() << uint(lodIndex))
		grid := d.GetBlocksGrid(blockBox, lodIndex)
		require.True(t, grid.IsComplete())
		grid.VoxelBox().ForEachCell(func(p vec.Vec3) {
			v, ok := grid.GetVoxel(p, ChannelType)
			require.True(t, ok)
			require.Equal(t, fieldValue(p.Shl(uint(lodIndex))), v, "lod %d voxel %v", lodIndex, p)
		})
		grid.Release()
	}
}

func TestVoxelData_MarkModifiedAndUpdateLODs(t *testing.T) {
	d, _, _ := newTestData(t, true, 3)
	box := vec.NewBox3(vec.Vec3{}, vec.Splat3(64))
	d.PreGenerateBox(box)

	edit := vec.NewBox3(vec.Splat3(32), vec.Splat3(2))
	res := d.WriteBox(edit, ChannelType, func(vec.Vec3, uint64) uint64 { return 4242 })
	require.False(t, res.IsEmpty())

	modified := d.MarkAreaModified(res)
	require.NotEmpty(t, modified)
	assert.Empty(t, d.MarkAreaModified(res), "Блоки уже помечены")

	updated := d.UpdateLODs(modified)
	lods := map[int]bool{}
	for _, loc := range updated {
		lods[loc.LOD] = true
	}
	assert.True(t, lods[1])
	assert.True(t, lods[2])

	// Воксель с чётными координатами попадает на оба мип-уровня
	grid := d.GetBlocksGrid(vec.NewBox3(vec.Splat3(1), vec.Splat3(1)), 1)
	v, ok := grid.GetVoxel(vec.Splat3(16), ChannelType)
	grid.Release()
	require.True(t, ok)
	assert.Equal(t, uint64(4242), v)

	grid = d.GetBlocksGrid(vec.NewBox3(vec.Vec3{}, vec.Splat3(1)), 2)
	v, ok = grid.GetVoxel(vec.Splat3(8), ChannelType)
	grid.Release()
	require.True(t, ok)
	assert.Equal(t, uint64(4242), v)

	d.ForEachBlockAtLOD(0, func(_ BlockLocation, b *DataBlock) {
		assert.False(t, b.NeedsLODUpdate())
	})
}

func TestVoxelData_UpdateLODsSkipsMissingParentWhenStreaming(t *testing.T) {
	d, _, _ := newTestData(t, true, 2)
	require.NoError(t, d.TrySetBlockBuffer(vec.Vec3{}, 0, d.NewBlockBuffer(), true))

	modified := d.MarkAreaModified(vec.NewBox3(vec.Splat3(2), vec.Splat3(1)))
	require.Equal(t, []vec.Vec3{{}}, modified)
	assert.Empty(t, d.UpdateLODs(modified))
	assert.False(t, d.HasBlock(vec.Vec3{}, 1))
}

func TestVoxelData_GetMissingBlocks(t *testing.T) {
	d, _, _ := newTestData(t, true, 1)
	d.SetBounds(vec.NewBox3(vec.Vec3{}, vec.Splat3(32)))
	d.SetEmptyBlockBuffer(vec.Vec3{}, 0)
	d.SetEmptyBlockBuffer(vec.New3(5, 0, 0), 0) // за границами

	missing := d.GetMissingBlocks([]vec.Vec3{{}, {X: 1}, {X: 5}}, 0)
	assert.ElementsMatch(t, []vec.Vec3{{X: 1}, {X: 5}}, missing)

	missing = d.GetMissingBlocksInBox(vec.NewBox3(vec.Vec3{}, vec.New3(2, 1, 1)), 0)
	assert.Equal(t, []vec.Vec3{{X: 1}}, missing)
}

func TestVoxelData_UnloadBlocks(t *testing.T) {
	d, _, pool := newTestData(t, true, 1)
	buf := d.NewBlockBuffer()
	buf.Decompress(ChannelType)
	require.NoError(t, d.TrySetBlockBuffer(vec.Vec3{}, 0, buf, true))
	require.Equal(t, 1, pool.DebugUsedBlocks())

	var kept *Buffer
	n := d.UnloadBlocks(vec.NewBox3(vec.Splat3(-1), vec.Splat3(3)), 0, func(loc BlockLocation, b *DataBlock) {
		assert.Equal(t, BlockLocation{}, loc)
		assert.True(t, b.IsEdited())
		kept = b.VoxelsShared()
	})
	assert.Equal(t, 1, n)
	assert.Zero(t, d.BlockCount())
	assert.Equal(t, 1, pool.DebugUsedBlocks(), "Захваченный буфер ещё жив")
	kept.Release()
	assert.Zero(t, pool.DebugUsedBlocks())
}

func TestVoxelData_ClearCachedKeepsEdited(t *testing.T) {
	d, _, _ := newTestData(t, false, 1)
	d.PreGenerateBox(vec.NewBox3(vec.Vec3{}, vec.New3(32, 16, 16)))
	require.True(t, d.TrySetVoxel(1, vec.Vec3{}, ChannelType))

	assert.Equal(t, 1, d.ClearCachedBlocksInVoxelArea(vec.NewBox3(vec.Vec3{}, vec.New3(32, 16, 16))))
	assert.Equal(t, 2, d.BlockCount())
	assert.Equal(t, uint64(1), d.GetVoxel(vec.Vec3{}, ChannelType, 0))
}

func TestVoxelData_SetLODCountResetsMaps(t *testing.T) {
	d, _, _ := newTestData(t, false, 1)
	d.PreGenerateBox(vec.NewBox3(vec.Vec3{}, vec.Splat3(16)))
	require.Equal(t, 1, d.BlockCount())

	d.SetLODCount(4)
	assert.Equal(t, 4, d.LODCount())
	assert.Zero(t, d.BlockCount())
	d.SetLODCount(100)
	assert.Equal(t, MaxLOD, d.LODCount())
}

func TestVoxelData_GetBlocksWithVoxelDataOrder(t *testing.T) {
	d, _, _ := newTestData(t, true, 1)
	d.SetEmptyBlockBuffer(vec.New3(0, 1, 0), 0)
	require.NoError(t, d.TrySetBlockBuffer(vec.New3(0, 0, 1), 0, d.NewBlockBuffer(), false))

	bufs := d.GetBlocksWithVoxelData(vec.NewBox3(vec.Vec3{}, vec.New3(1, 2, 2)), 0)
	require.Len(t, bufs, 4)
	// ZXY: (0,0,0) (0,1,0) (0,0,1) (0,1,1)
	assert.Nil(t, bufs[0])
	assert.Nil(t, bufs[1], "Пустой блок не даёт буфера")
	require.NotNil(t, bufs[2])
	assert.Nil(t, bufs[3])
	assert.Equal(t, 2, bufs[2].RefCount())
	bufs[2].Release()
}

func TestVoxelData_ConcurrentAccess(t *testing.T) {
	d, _, _ := newTestData(t, false, 2)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				d.TrySetVoxel(uint64(w), vec.New3(i%40, w, 0), ChannelType)
			}
		}(w)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				d.GetVoxel(vec.New3(i%40, w, 0), ChannelType, 0)
				d.IsAreaLoaded(vec.NewBox3(vec.Vec3{}, vec.Splat3(8)))
			}
		}(w)
	}
	wg.Wait()

	for w := 0; w < 4; w++ {
		assert.Equal(t, uint64(w), d.GetVoxel(vec.New3(39, w, 0), ChannelType, 99))
	}
}

func TestVoxelData_GetVoxelFInvalidChannel(t *testing.T) {
	d, _, _ := newTestData(t, false, 1)
	assert.NotPanics(t, func() {
		assert.Zero(t, d.GetVoxelF(vec.New3(1, 1, 1), ChannelID(MaxChannels)))
	})
}

func TestVoxelData_TrySetBlockBufferSizeMismatchOnOccupiedSlot(t *testing.T) {
	d, _, _ := newTestData(t, true, 1)
	require.NoError(t, d.TrySetBlockBuffer(vec.Vec3{}, 0, d.NewBlockBuffer(), false))
	before := snapshotBlocks(d)

	err := d.TrySetBlockBuffer(vec.Vec3{}, 0, NewBuffer(nil, vec.Splat3(3)), true)
	assert.ErrorIs(t, err, ErrBlockSizeMismatch)
	assert.Equal(t, before, snapshotBlocks(d))
}

func TestVoxelData_PasteDepthMismatchLeavesMapUnchanged(t *testing.T) {
	d, _, _ := newTestData(t, true, 1)
	d.SetEmptyBlockBuffer(vec.Vec3{}, 0)
	before := snapshotBlocks(d)

	src := NewBuffer(nil, vec.Splat3(4), WithChannelDepth(ChannelSDF, Depth8Bit))
	src.Fill(7, ChannelType)

	err := d.Paste(vec.Vec3{}, src, MaskOf(ChannelType, ChannelSDF), false, 0, true)
	require.ErrorIs(t, err, ErrDepthMismatch)

	assert.Equal(t, before, snapshotBlocks(d))
	assert.Equal(t, fieldValue(vec.Vec3{}), d.GetVoxel(vec.Vec3{}, ChannelType, 999))
}

func TestVoxelData_PasteDepthMismatchCreatesNoBlocks(t *testing.T) {
	d, _, _ := newTestData(t, false, 1)
	src := NewBuffer(nil, vec.Splat3(40), WithChannelDepth(ChannelColor, Depth8Bit))
	src.Fill(7, ChannelType)

	err := d.Paste(vec.New3(-5, -5, -5), src, MaskOf(ChannelType, ChannelColor), false, 0, true)
	require.ErrorIs(t, err, ErrDepthMismatch)
	assert.Zero(t, d.BlockCount())
}

func TestVoxelData_UpdateLODsConcurrentWithTraversal(t *testing.T) {
	d, _, _ := newTestData(t, false, 2)
	require.True(t, d.TrySetVoxel(1, vec.Vec3{}, ChannelType))
	edit := vec.NewBox3(vec.Vec3{}, vec.Splat3(1))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			d.MarkAreaModified(edit)
			d.UpdateLODs([]vec.Vec3{{}})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			d.ForEachBlockAtLOD(0, func(_ BlockLocation, b *DataBlock) {
				_ = b.NeedsLODUpdate()
				_ = b.IsEdited()
			})
		}
	}()
	wg.Wait()

	d.ForEachBlockAtLOD(0, func(_ BlockLocation, b *DataBlock) {
		assert.False(t, b.NeedsLODUpdate())
	})
	assert.True(t, d.HasBlock(vec.Vec3{}, 1))
}
