package voxel

import (
	"context"

	"github.com/annel0/voxel-terrain/internal/vec"
)

// Generator заполняет буфер процедурными данными.
//
// Результат зависит только от координат и параметров генератора:
// воксель (x, y, z) буфера соответствует мировой точке origin + (x, y, z) << lod.
// Реализации должны быть безопасны для одновременного вызова.
type Generator interface {
	GenerateBlock(buf *Buffer, origin vec.Vec3, lod int)
	UsedChannelsMask() ChannelMask
}

// EmergeResult описывает итог чтения блока из потока
type EmergeResult int

const (
	EmergeBlockNotFound EmergeResult = iota
	EmergeBlockFound
)

func (r EmergeResult) String() string {
	if r == EmergeBlockFound {
		return "found"
	}
	return "not_found"
}

// BlockRequest описывает один блок в пакетных операциях потока.
// Origin задаётся в вокселях LOD 0.
type BlockRequest struct {
	Buffer *Buffer
	Origin vec.Vec3
	LOD    int
	Result EmergeResult
}

// Stream сохраняет и загружает блоки. Реализации потокобезопасны.
type Stream interface {
	// EmergeBlock заполняет out сохранёнными данными
	EmergeBlock(ctx context.Context, out *Buffer, origin vec.Vec3, lod int) (EmergeResult, error)
	// ImmergeBlock сохраняет буфер
	ImmergeBlock(ctx context.Context, buf *Buffer, origin vec.Vec3, lod int) error
	// EmergeBlocks заполняет Result и Buffer у каждого запроса
	EmergeBlocks(ctx context.Context, requests []BlockRequest) error
	ImmergeBlocks(ctx context.Context, requests []BlockRequest) error
	UsedChannelsMask() ChannelMask
	Close() error
}
