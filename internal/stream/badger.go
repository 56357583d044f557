package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/annel0/voxel-terrain/internal/logging"
	"github.com/annel0/voxel-terrain/internal/vec"
	"github.com/annel0/voxel-terrain/internal/voxel"
	"github.com/dgraph-io/badger/v3"
)

// ErrNotReady возвращается после закрытия хранилища
var ErrNotReady = errors.New("stream: хранилище не готово")

// BadgerStream хранит блоки в BadgerDB
type BadgerStream struct {
	db      *badger.DB
	dbPath  string
	codec   *Codec
	prefix  string
	mutex   sync.RWMutex
	isReady bool
}

// NewBadgerStream открывает базу в каталоге path
func NewBadgerStream(path string, codec *Codec, prefix string) (*BadgerStream, error) {
	if prefix == "" {
		prefix = "block"
	}
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}
	logging.GetStreamLogger().Info("Открыто хранилище блоков BadgerDB: %s", path)

	return &BadgerStream{
		db:      db,
		dbPath:  path,
		codec:   codec,
		prefix:  prefix,
		isReady: true,
	}, nil
}

// Close закрывает базу
func (s *BadgerStream) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isReady {
		return nil
	}
	s.isReady = false
	s.codec.Close()
	return s.db.Close()
}

// EmergeBlock загружает блок
func (s *BadgerStream) EmergeBlock(ctx context.Context, out *voxel.Buffer, origin vec.Vec3, lod int) (voxel.EmergeResult, error) {
	req := []voxel.BlockRequest{{Buffer: out, Origin: origin, LOD: lod}}
	if err := s.EmergeBlocks(ctx, req); err != nil {
		return voxel.EmergeBlockNotFound, err
	}
	return req[0].Result, nil
}

// EmergeBlocks читает все блоки в одной транзакции
func (s *BadgerStream) EmergeBlocks(ctx context.Context, requests []voxel.BlockRequest) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return ErrNotReady
	}

	return s.db.View(func(txn *badger.Txn) error {
		for i := range requests {
			if err := ctx.Err(); err != nil {
				return err
			}
			r := &requests[i]
			r.Result = voxel.EmergeBlockNotFound

			item, err := txn.Get([]byte(blockKey(s.prefix, r.Origin, r.LOD)))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
			}
			err = item.Value(func(val []byte) error {
				return s.codec.Decode(val, r.Buffer)
			})
			if err != nil {
				return fmt.Errorf("блок %v lod %d: %w", r.Origin, r.LOD, err)
			}
			r.Result = voxel.EmergeBlockFound
		}
		return nil
	})
}

// ImmergeBlock сохраняет блок
func (s *BadgerStream) ImmergeBlock(ctx context.Context, buf *voxel.Buffer, origin vec.Vec3, lod int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return ErrNotReady
	}

	data, err := s.codec.Encode(buf)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(blockKey(s.prefix, origin, lod)), data)
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}
	return nil
}

// ImmergeBlocks сохраняет блоки пакетной записью
func (s *BadgerStream) ImmergeBlocks(ctx context.Context, requests []voxel.BlockRequest) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return ErrNotReady
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, r := range requests {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := s.codec.Encode(r.Buffer)
		if err != nil {
			return err
		}
		if err := wb.Set([]byte(blockKey(s.prefix, r.Origin, r.LOD)), data); err != nil {
			return fmt.Errorf("ошибка пакетной записи в BadgerDB: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}
	return nil
}

// UsedChannelsMask возвращает сохраняемые каналы
func (s *BadgerStream) UsedChannelsMask() voxel.ChannelMask {
	return voxel.AllChannels
}

// Count возвращает число сохранённых блоков
func (s *BadgerStream) Count() (int, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return 0, ErrNotReady
	}

	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(s.prefix + ":")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}
