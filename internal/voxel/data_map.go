package voxel

import (
	"fmt"

	"github.com/annel0/voxel-terrain/internal/mempool"
	"github.com/annel0/voxel-terrain/internal/vec"
)

// BlockGenFunc заполняет новый буфер блока bpos данными генератора
type BlockGenFunc func(buf *Buffer, bpos vec.Vec3)

// DataMap представляет собой разреженное отображение позиции блока в DataBlock для одного LOD.
//
// Координаты вокселей здесь локальны для уровня: воксель LOD n занимает 2^n вокселей LOD 0.
// Карта не потокобезопасна: синхронизацию обеспечивает владелец (VoxelData).
type DataMap struct {
	blocks       map[vec.Vec3]*DataBlock
	blockSizePo2 uint
	lod          uint8
	pool         *mempool.Pool
	depths       [MaxChannels]Depth
}

// NewDataMap создаёт пустую карту с блоками размера 2^blockSizePo2
func NewDataMap(pool *mempool.Pool, blockSizePo2 uint, lod int, depths [MaxChannels]Depth) *DataMap {
	return &DataMap{
		blocks:       make(map[vec.Vec3]*DataBlock),
		blockSizePo2: blockSizePo2,
		lod:          uint8(lod),
		pool:         pool,
		depths:       depths,
	}
}

// BlockSize возвращает размер блока в вокселях
func (m *DataMap) BlockSize() int {
	return 1 << m.blockSizePo2
}

// BlockSizePo2 возвращает показатель степени размера блока
func (m *DataMap) BlockSizePo2() uint {
	return m.blockSizePo2
}

// LOD возвращает уровень карты
func (m *DataMap) LOD() int {
	return int(m.lod)
}

// VoxelToBlock переводит координаты вокселя в координаты блока
func (m *DataMap) VoxelToBlock(p vec.Vec3) vec.Vec3 {
	return p.Shr(m.blockSizePo2)
}

// BlockToVoxel возвращает координаты первого вокселя блока
func (m *DataMap) BlockToVoxel(bpos vec.Vec3) vec.Vec3 {
	return bpos.Shl(m.blockSizePo2)
}

// ToLocal возвращает координаты вокселя внутри его блока
func (m *DataMap) ToLocal(p vec.Vec3) vec.Vec3 {
	mask := m.BlockSize() - 1
	return vec.Vec3{X: p.X & mask, Y: p.Y & mask, Z: p.Z & mask}
}

// NewBlockBuffer создаёт пустой буфер размера блока с разрядностями карты
func (m *DataMap) NewBlockBuffer() *Buffer {
	return NewBuffer(m.pool, vec.Splat3(m.BlockSize()), WithDepths(m.depths))
}

// GetBlock возвращает блок или nil
func (m *DataMap) GetBlock(bpos vec.Vec3) *DataBlock {
	return m.blocks[bpos]
}

// HasBlock проверяет наличие блока
func (m *DataMap) HasBlock(bpos vec.Vec3) bool {
	_, ok := m.blocks[bpos]
	return ok
}

// BlockCount возвращает количество блоков
func (m *DataMap) BlockCount() int {
	return len(m.blocks)
}

// SetBlockBuffer вставляет буфер в слот bpos. Владение буфером переходит карте.
// Без overwrite существующий блок с данными сохраняется, а буфер отпускается.
func (m *DataMap) SetBlockBuffer(bpos vec.Vec3, buf *Buffer, overwrite bool) (*DataBlock, error) {
	if buf != nil && !buf.Size().Equals(vec.Splat3(m.BlockSize())) {
		size := buf.Size()
		buf.Release()
		return nil, fmt.Errorf("%w: %v, ожидается %d", ErrBlockSizeMismatch, size, m.BlockSize())
	}
	block := m.blocks[bpos]
	switch {
	case block == nil:
		block = newDataBlock(buf, m.lod)
		m.blocks[bpos] = block
	case overwrite || !block.HasVoxels():
		block.setVoxels(buf)
	case buf != nil:
		buf.Release()
	}
	return block, nil
}

// SetEmptyBlock создаёт блок без данных, если слот свободен
func (m *DataMap) SetEmptyBlock(bpos vec.Vec3) *DataBlock {
	block := m.blocks[bpos]
	if block == nil {
		block = newDataBlock(nil, m.lod)
		m.blocks[bpos] = block
	}
	return block
}

// fillBlock гарантирует, что у блока bpos есть данные, создавая их через genFunc.
// Возвращает nil, если блока нет и genFunc не задана.
func (m *DataMap) fillBlock(bpos vec.Vec3, genFunc BlockGenFunc) *DataBlock {
	block := m.blocks[bpos]
	if block != nil && block.HasVoxels() {
		return block
	}
	if genFunc == nil {
		return nil
	}
	buf := m.NewBlockBuffer()
	genFunc(buf, bpos)
	if block == nil {
		block = newDataBlock(buf, m.lod)
		m.blocks[bpos] = block
	} else {
		block.setVoxels(buf)
	}
	return block
}

// blocksInBox обходит блоки, пересекающие область вокселей box, и передаёт
// в fn часть области внутри блока в локальных координатах блока.
func (m *DataMap) blocksInBox(box vec.Box3, fn func(bpos vec.Vec3, local vec.Box3, origin vec.Vec3)) {
	bs := m.BlockSize()
	box.Downscaled(bs).ForEachCell(func(bpos vec.Vec3) {
		origin := m.BlockToVoxel(bpos)
		part := box.Clipped(vec.NewBox3(origin, vec.Splat3(bs)))
		if part.IsEmpty() {
			return
		}
		fn(bpos, vec.NewBox3(part.Pos.Sub(origin), part.Size), origin)
	})
}

// WriteBox применяет action к каждому вокселю области box канала ch.
// Отсутствующие блоки создаются через genFunc; без неё они пропускаются.
func (m *DataMap) WriteBox(box vec.Box3, ch ChannelID, action func(pos vec.Vec3, v uint64) uint64, genFunc BlockGenFunc) {
	m.blocksInBox(box, func(bpos vec.Vec3, local vec.Box3, origin vec.Vec3) {
		block := m.fillBlock(bpos, genFunc)
		if block == nil {
			return
		}
		block.voxels.WriteBox(local, ch, origin, action)
	})
}

// WriteBox2 работает как WriteBox для двух каналов одновременно
func (m *DataMap) WriteBox2(box vec.Box3, ch1, ch2 ChannelID, action func(pos vec.Vec3, v1, v2 uint64) (uint64, uint64), genFunc BlockGenFunc) {
	m.blocksInBox(box, func(bpos vec.Vec3, local vec.Box3, origin vec.Vec3) {
		block := m.fillBlock(bpos, genFunc)
		if block == nil {
			return
		}
		block.voxels.WriteBox2(local, ch1, ch2, origin, action)
	})
}

// Copy читает область, начинающуюся в minPos, размером dst.Size() в dst.
// Для блоков без данных используется genFunc, а без неё значения по умолчанию.
// Карта при этом не меняется.
func (m *DataMap) Copy(minPos vec.Vec3, dst *Buffer, channels ChannelMask, genFunc BlockGenFunc) error {
	box := vec.NewBox3(minPos, dst.Size())
	var firstErr error
	m.blocksInBox(box, func(bpos vec.Vec3, local vec.Box3, origin vec.Vec3) {
		if firstErr != nil {
			return
		}
		dstMin := local.Pos.Add(origin).Sub(minPos)
		block := m.blocks[bpos]
		var src *Buffer
		if block != nil && block.HasVoxels() {
			src = block.voxels
		} else if genFunc != nil {
			src = m.NewBlockBuffer()
			genFunc(src, bpos)
			defer src.Release()
		}
		for i := ChannelID(0); i < MaxChannels; i++ {
			if !channels.Has(i) {
				continue
			}
			if src == nil {
				dst.FillArea(defaultValue(i, dst.ChannelDepth(i)), dstMin, dstMin.Add(local.Size), i)
				continue
			}
			if err := dst.CopyRegionFrom(src, local.Pos, local.End(), dstMin, i); err != nil {
				firstErr = err
				return
			}
		}
	})
	return firstErr
}

// Paste записывает src в карту начиная с minPos и возвращает затронутые блоки.
// При useMask значения, равные maskValue, не переписываются.
// Без createNewBlocks блоки без данных пропускаются; иначе они создаются через
// genFunc либо заполняются значениями по умолчанию.
func (m *DataMap) Paste(minPos vec.Vec3, src *Buffer, channels ChannelMask, useMask bool, maskValue uint64,
	createNewBlocks bool, genFunc BlockGenFunc) ([]*DataBlock, error) {

	if createNewBlocks && genFunc == nil {
		genFunc = func(*Buffer, vec.Vec3) {}
	}
	if !createNewBlocks {
		genFunc = nil
	}

	// Несовпадение глубины обнаруживается до любых изменений карты
	for i := ChannelID(0); i < MaxChannels; i++ {
		if channels.Has(i) && src.ChannelDepth(i) != m.depths[i] {
			return nil, fmt.Errorf("%w: канал %v", ErrDepthMismatch, i)
		}
	}

	box := vec.NewBox3(minPos, src.Size())
	var touched []*DataBlock
	var firstErr error
	m.blocksInBox(box, func(bpos vec.Vec3, local vec.Box3, origin vec.Vec3) {
		if firstErr != nil {
			return
		}
		block := m.fillBlock(bpos, genFunc)
		if block == nil {
			return
		}
		srcMin := local.Pos.Add(origin).Sub(minPos)
		srcMax := srcMin.Add(local.Size)
		for i := ChannelID(0); i < MaxChannels; i++ {
			if !channels.Has(i) {
				continue
			}
			var err error
			if useMask {
				err = block.voxels.CopyRegionMaskedFrom(src, srcMin, srcMax, local.Pos, i, maskValue)
			} else {
				err = block.voxels.CopyRegionFrom(src, srcMin, srcMax, local.Pos, i)
			}
			if err != nil {
				firstErr = err
				break
			}
		}
		touched = append(touched, block)
	})
	return touched, firstErr
}

// IsAreaPresent проверяет, что все блоки, пересекающие область вокселей, присутствуют
func (m *DataMap) IsAreaPresent(box vec.Box3) bool {
	return box.Downscaled(m.BlockSize()).AllCellsMatch(m.HasBlock)
}

// RemoveBlock удаляет блок. onRemoved вызывается до освобождения буфера.
func (m *DataMap) RemoveBlock(bpos vec.Vec3, onRemoved func(bpos vec.Vec3, block *DataBlock)) bool {
	block, ok := m.blocks[bpos]
	if !ok {
		return false
	}
	delete(m.blocks, bpos)
	if onRemoved != nil {
		onRemoved(bpos, block)
	}
	block.release()
	return true
}

// ForEachBlock обходит все блоки. fn не должна менять карту.
func (m *DataMap) ForEachBlock(fn func(bpos vec.Vec3, block *DataBlock)) {
	for bpos, block := range m.blocks {
		fn(bpos, block)
	}
}

// Reset удаляет все блоки, возвращая память в пул
func (m *DataMap) Reset() {
	for bpos, block := range m.blocks {
		block.release()
		delete(m.blocks, bpos)
	}
}
