package stream

import (
	"fmt"
	"time"

	"github.com/annel0/voxel-terrain/internal/config"
	"github.com/annel0/voxel-terrain/internal/voxel"
)

// New создаёт поток по конфигурации. Для типа "none" возвращает nil без ошибки.
func New(cfg config.StreamConfig) (voxel.Stream, error) {
	if cfg.Type == "" || cfg.Type == "none" {
		return nil, nil
	}

	compression, err := ParseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}
	codec, err := NewCodec(compression)
	if err != nil {
		return nil, err
	}

	var s voxel.Stream
	switch cfg.Type {
	case "memory":
		s = NewMemoryStream(codec, cfg.KeyPrefix)
	case "file":
		s, err = NewFileStream(cfg.GetPath(), codec)
	case "badger":
		s, err = NewBadgerStream(cfg.GetPath(), codec, cfg.KeyPrefix)
	case "redis":
		s, err = NewRedisStream(RedisOptions{
			Addr:     cfg.GetRedisAddr(),
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.KeyPrefix,
			TTL:      time.Duration(cfg.TTLSeconds) * time.Second,
		}, codec)
	default:
		err = fmt.Errorf("stream: неизвестный тип %q", cfg.Type)
	}
	if err != nil {
		codec.Close()
		return nil, err
	}
	return s, nil
}
