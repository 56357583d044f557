package voxel

import "github.com/annel0/voxel-terrain/internal/vec"

// DataGrid хранит снимок соседних блоков одного уровня.
// Держит ссылки на буферы, пока не вызван Release.
type DataGrid struct {
	box          vec.Box3 // в координатах блоков
	blockSizePo2 uint
	blocks       []*Buffer // порядок ZXY
}

// Box возвращает область сетки в координатах блоков
func (g *DataGrid) Box() vec.Box3 {
	return g.box
}

// VoxelBox возвращает область сетки в вокселях уровня
func (g *DataGrid) VoxelBox() vec.Box3 {
	return g.box.Scaled(1 << g.blockSizePo2)
}

// Block возвращает буфер блока по его позиции или nil
func (g *DataGrid) Block(bpos vec.Vec3) *Buffer {
	if !g.box.Contains(bpos) {
		return nil
	}
	rel := bpos.Sub(g.box.Pos)
	return g.blocks[rel.Y+g.box.Size.Y*(rel.X+g.box.Size.X*rel.Z)]
}

// GetVoxel читает воксель по координатам уровня.
// ok == false, если точка вне сетки или её блок отсутствует.
func (g *DataGrid) GetVoxel(pos vec.Vec3, ch ChannelID) (uint64, bool) {
	buf := g.Block(pos.Shr(g.blockSizePo2))
	if buf == nil {
		return 0, false
	}
	mask := 1<<g.blockSizePo2 - 1
	v, err := buf.GetVoxel(pos.X&mask, pos.Y&mask, pos.Z&mask, ch)
	return v, err == nil
}

// IsComplete true, если в сетке нет отсутствующих блоков
func (g *DataGrid) IsComplete() bool {
	for _, b := range g.blocks {
		if b == nil {
			return false
		}
	}
	return true
}

// Release отпускает все удерживаемые буферы
func (g *DataGrid) Release() {
	for i, b := range g.blocks {
		if b != nil {
			b.Release()
			g.blocks[i] = nil
		}
	}
}
