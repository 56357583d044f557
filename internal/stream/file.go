package stream

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/annel0/voxel-terrain/internal/logging"
	"github.com/annel0/voxel-terrain/internal/vec"
	"github.com/annel0/voxel-terrain/internal/voxel"
)

const blockFileExt = ".vxb"

// FileStream хранит каждый блок в отдельном файле
// basePath/lod<N>/<x>_<y>_<z>.vxb, где x, y, z — начало блока в вокселях LOD 0.
type FileStream struct {
	basePath string
	codec    *Codec
	mu       sync.RWMutex // Запись файла и чтение не пересекаются
}

// NewFileStream создаёт каталог хранилища при необходимости
func NewFileStream(basePath string, codec *Codec) (*FileStream, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию %s: %w", basePath, err)
	}
	logging.GetStreamLogger().Info("Файловое хранилище блоков: %s", basePath)
	return &FileStream{basePath: basePath, codec: codec}, nil
}

func (s *FileStream) blockFilename(origin vec.Vec3, lod int) string {
	return filepath.Join(s.basePath, fmt.Sprintf("lod%d", lod),
		fmt.Sprintf("%d_%d_%d%s", origin.X, origin.Y, origin.Z, blockFileExt))
}

// EmergeBlock загружает блок из файла
func (s *FileStream) EmergeBlock(ctx context.Context, out *voxel.Buffer, origin vec.Vec3, lod int) (voxel.EmergeResult, error) {
	if err := ctx.Err(); err != nil {
		return voxel.EmergeBlockNotFound, err
	}
	s.mu.RLock()
	data, err := os.ReadFile(s.blockFilename(origin, lod))
	s.mu.RUnlock()
	if errors.Is(err, fs.ErrNotExist) {
		return voxel.EmergeBlockNotFound, nil
	}
	if err != nil {
		return voxel.EmergeBlockNotFound, fmt.Errorf("ошибка чтения блока %v: %w", origin, err)
	}
	if err := s.codec.Decode(data, out); err != nil {
		return voxel.EmergeBlockNotFound, fmt.Errorf("блок %v lod %d: %w", origin, lod, err)
	}
	return voxel.EmergeBlockFound, nil
}

// ImmergeBlock записывает блок во временный файл и переименовывает его
func (s *FileStream) ImmergeBlock(ctx context.Context, buf *voxel.Buffer, origin vec.Vec3, lod int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := s.codec.Encode(buf)
	if err != nil {
		return err
	}

	filename := s.blockFilename(origin, lod)
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return fmt.Errorf("ошибка создания директории: %w", err)
	}
	tmp := filename + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("ошибка записи файла блока: %w", err)
	}
	if err := os.Rename(tmp, filename); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("ошибка записи файла блока: %w", err)
	}
	return nil
}

// EmergeBlocks загружает блоки по одному
func (s *FileStream) EmergeBlocks(ctx context.Context, requests []voxel.BlockRequest) error {
	for i := range requests {
		r := &requests[i]
		res, err := s.EmergeBlock(ctx, r.Buffer, r.Origin, r.LOD)
		if err != nil {
			return err
		}
		r.Result = res
	}
	return nil
}

// ImmergeBlocks сохраняет блоки по одному
func (s *FileStream) ImmergeBlocks(ctx context.Context, requests []voxel.BlockRequest) error {
	for _, r := range requests {
		if err := s.ImmergeBlock(ctx, r.Buffer, r.Origin, r.LOD); err != nil {
			return err
		}
	}
	return nil
}

// UsedChannelsMask возвращает сохраняемые каналы
func (s *FileStream) UsedChannelsMask() voxel.ChannelMask {
	return voxel.AllChannels
}

// Stats возвращает число файлов блоков и их общий размер.
// Недоступные файлы и каталоги пропускаются, первая такая ошибка возвращается.
func (s *FileStream) Stats() (files int, bytes int64, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var firstErr error
	walkErr := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == s.basePath {
				return err
			}
			if firstErr == nil {
				firstErr = err
			}
			return nil
		}
		if d.IsDir() || filepath.Ext(path) != blockFileExt {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return nil
		}
		files++
		bytes += info.Size()
		return nil
	})
	if walkErr != nil {
		return files, bytes, fmt.Errorf("ошибка обхода %s: %w", s.basePath, walkErr)
	}
	if firstErr != nil {
		logging.GetStreamLogger().Warn("Пропущены недоступные файлы блоков в %s: %v", s.basePath, firstErr)
		return files, bytes, fmt.Errorf("ошибка обхода %s: %w", s.basePath, firstErr)
	}
	return files, bytes, nil
}

// Close закрывает кодек; файлы уже записаны
func (s *FileStream) Close() error {
	s.codec.Close()
	return nil
}
