package stream

import (
	"context"
	"sync"

	"github.com/annel0/voxel-terrain/internal/vec"
	"github.com/annel0/voxel-terrain/internal/voxel"
)

// MemoryStream хранит сериализованные блоки в памяти процесса
type MemoryStream struct {
	mu     sync.RWMutex
	blocks map[string][]byte
	codec  *Codec
	prefix string
}

// NewMemoryStream создаёт пустое хранилище; кодек переходит во владение потока
func NewMemoryStream(codec *Codec, prefix string) *MemoryStream {
	if prefix == "" {
		prefix = "block"
	}
	return &MemoryStream{
		blocks: make(map[string][]byte),
		codec:  codec,
		prefix: prefix,
	}
}

// EmergeBlock загружает блок
func (m *MemoryStream) EmergeBlock(ctx context.Context, out *voxel.Buffer, origin vec.Vec3, lod int) (voxel.EmergeResult, error) {
	if err := ctx.Err(); err != nil {
		return voxel.EmergeBlockNotFound, err
	}
	m.mu.RLock()
	data, ok := m.blocks[blockKey(m.prefix, origin, lod)]
	m.mu.RUnlock()
	if !ok {
		return voxel.EmergeBlockNotFound, nil
	}
	if err := m.codec.Decode(data, out); err != nil {
		return voxel.EmergeBlockNotFound, err
	}
	return voxel.EmergeBlockFound, nil
}

// ImmergeBlock сохраняет блок
func (m *MemoryStream) ImmergeBlock(ctx context.Context, buf *voxel.Buffer, origin vec.Vec3, lod int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := m.codec.Encode(buf)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.blocks[blockKey(m.prefix, origin, lod)] = data
	m.mu.Unlock()
	return nil
}

// EmergeBlocks загружает блоки по одному
func (m *MemoryStream) EmergeBlocks(ctx context.Context, requests []voxel.BlockRequest) error {
	for i := range requests {
		r := &requests[i]
		res, err := m.EmergeBlock(ctx, r.Buffer, r.Origin, r.LOD)
		if err != nil {
			return err
		}
		r.Result = res
	}
	return nil
}

// ImmergeBlocks сохраняет блоки по одному
func (m *MemoryStream) ImmergeBlocks(ctx context.Context, requests []voxel.BlockRequest) error {
	for _, r := range requests {
		if err := m.ImmergeBlock(ctx, r.Buffer, r.Origin, r.LOD); err != nil {
			return err
		}
	}
	return nil
}

// UsedChannelsMask возвращает сохраняемые каналы
func (m *MemoryStream) UsedChannelsMask() voxel.ChannelMask {
	return voxel.AllChannels
}

// Count возвращает число сохранённых блоков
func (m *MemoryStream) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blocks)
}

// Close очищает хранилище и закрывает кодек
func (m *MemoryStream) Close() error {
	m.mu.Lock()
	m.blocks = make(map[string][]byte)
	m.mu.Unlock()
	m.codec.Close()
	return nil
}
