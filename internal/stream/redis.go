package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/annel0/voxel-terrain/internal/logging"
	"github.com/annel0/voxel-terrain/internal/vec"
	"github.com/annel0/voxel-terrain/internal/voxel"
	"github.com/go-redis/redis/v8"
)

// RedisOptions содержит параметры подключения RedisStream
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	// TTL блока; ноль означает хранение без срока
	TTL time.Duration
}

// RedisStream хранит блоки в Redis. Пакетные операции идут через pipeline.
type RedisStream struct {
	client *redis.Client
	codec  *Codec
	prefix string
	ttl    time.Duration
}

// NewRedisStream подключается к Redis и проверяет соединение
func NewRedisStream(opts RedisOptions, codec *Codec) (*RedisStream, error) {
	if opts.Prefix == "" {
		opts.Prefix = "block"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     10,
		PoolTimeout:  30 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.GetStreamLogger().Info("Хранилище блоков Redis подключено: %s", opts.Addr)
	return &RedisStream{
		client: rdb,
		codec:  codec,
		prefix: opts.Prefix,
		ttl:    opts.TTL,
	}, nil
}

// EmergeBlock загружает блок
func (s *RedisStream) EmergeBlock(ctx context.Context, out *voxel.Buffer, origin vec.Vec3, lod int) (voxel.EmergeResult, error) {
	data, err := s.client.Get(ctx, blockKey(s.prefix, origin, lod)).Bytes()
	if errors.Is(err, redis.Nil) {
		return voxel.EmergeBlockNotFound, nil
	}
	if err != nil {
		return voxel.EmergeBlockNotFound, fmt.Errorf("redis get: %w", err)
	}
	if err := s.codec.Decode(data, out); err != nil {
		return voxel.EmergeBlockNotFound, err
	}
	return voxel.EmergeBlockFound, nil
}

// ImmergeBlock сохраняет блок
func (s *RedisStream) ImmergeBlock(ctx context.Context, buf *voxel.Buffer, origin vec.Vec3, lod int) error {
	data, err := s.codec.Encode(buf)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, blockKey(s.prefix, origin, lod), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// EmergeBlocks читает блоки одним pipeline
func (s *RedisStream) EmergeBlocks(ctx context.Context, requests []voxel.BlockRequest) error {
	if len(requests) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(requests))
	for i, r := range requests {
		cmds[i] = pipe.Get(ctx, blockKey(s.prefix, r.Origin, r.LOD))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis pipeline: %w", err)
	}

	for i, cmd := range cmds {
		r := &requests[i]
		r.Result = voxel.EmergeBlockNotFound
		data, err := cmd.Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return fmt.Errorf("redis get: %w", err)
		}
		if err := s.codec.Decode(data, r.Buffer); err != nil {
			return fmt.Errorf("блок %v lod %d: %w", r.Origin, r.LOD, err)
		}
		r.Result = voxel.EmergeBlockFound
	}
	return nil
}

// ImmergeBlocks сохраняет блоки одним pipeline
func (s *RedisStream) ImmergeBlocks(ctx context.Context, requests []voxel.BlockRequest) error {
	if len(requests) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	for _, r := range requests {
		data, err := s.codec.Encode(r.Buffer)
		if err != nil {
			return err
		}
		pipe.Set(ctx, blockKey(s.prefix, r.Origin, r.LOD), data, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// UsedChannelsMask возвращает сохраняемые каналы
func (s *RedisStream) UsedChannelsMask() voxel.ChannelMask {
	return voxel.AllChannels
}

// Close закрывает соединение
func (s *RedisStream) Close() error {
	s.codec.Close()
	return s.client.Close()
}
