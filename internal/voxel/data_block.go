package voxel

import "errors"

// ErrBlockSizeMismatch возвращается, когда размер буфера не совпадает с размером блока карты
var ErrBlockSizeMismatch = errors.New("voxel: размер буфера не совпадает с размером блока")

// DataBlock представляет слот карты: буфер вокселей плюс метаданные.
// Флаги меняются только под блокировкой записи соответствующего LOD.
type DataBlock struct {
	voxels *Buffer
	lod    uint8

	edited         bool // Содержит правки пользователя, нельзя выбрасывать
	needsLODUpdate bool // Мип-уровни выше устарели
	loaded         bool // Данные получены из потока или генератора
}

func newDataBlock(voxels *Buffer, lod uint8) *DataBlock {
	return &DataBlock{voxels: voxels, lod: lod}
}

// LOD возвращает уровень детализации блока
func (b *DataBlock) LOD() int {
	return int(b.lod)
}

// HasVoxels отличает блок с реальным буфером от известного пустого
func (b *DataBlock) HasVoxels() bool {
	return b.voxels != nil
}

// Voxels возвращает буфер без захвата ссылки.
// Допустимо только под блокировкой карты.
func (b *DataBlock) Voxels() *Buffer {
	return b.voxels
}

// VoxelsShared возвращает буфер с захваченной ссылкой.
// Вызывающий обязан вызвать Release, когда закончит.
func (b *DataBlock) VoxelsShared() *Buffer {
	if b.voxels == nil {
		return nil
	}
	return b.voxels.Retain()
}

// setVoxels заменяет буфер, отпуская ссылку на предыдущий.
// Владение переданным буфером переходит блоку.
func (b *DataBlock) setVoxels(buf *Buffer) {
	if b.voxels != nil {
		b.voxels.Release()
	}
	b.voxels = buf
}

// IsEdited true, если блок содержит правки
func (b *DataBlock) IsEdited() bool {
	return b.edited
}

// SetEdited выставляет флаг правок
func (b *DataBlock) SetEdited(edited bool) {
	b.edited = edited
}

// NeedsLODUpdate true, если мип-уровни требуют пересчёта
func (b *DataBlock) NeedsLODUpdate() bool {
	return b.needsLODUpdate
}

// SetNeedsLODUpdate выставляет флаг пересчёта мип-уровней
func (b *DataBlock) SetNeedsLODUpdate(v bool) {
	b.needsLODUpdate = v
}

// IsLoaded true, если данные блока уже получены
func (b *DataBlock) IsLoaded() bool {
	return b.loaded
}

// SetLoaded выставляет флаг загрузки
func (b *DataBlock) SetLoaded(v bool) {
	b.loaded = v
}

func (b *DataBlock) release() {
	b.setVoxels(nil)
}
