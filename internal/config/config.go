package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации voxeld.
type Config struct {
	Terrain   TerrainConfig   `yaml:"terrain"`
	Generator GeneratorConfig `yaml:"generator"`
	Stream    StreamConfig    `yaml:"stream"`
	Paging    PagingConfig    `yaml:"paging"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type TerrainConfig struct {
	BlockSizePo2 int  `yaml:"block_size_po2"`
	LODCount     int  `yaml:"lod_count"`
	Streaming    bool `yaml:"streaming"`
	// Границы мира в вокселях LOD 0; нулевой размер означает «без ограничений»
	BoundsMin [3]int `yaml:"bounds_min"`
	BoundsMax [3]int `yaml:"bounds_max"`
	// Разрядность каналов: имя канала -> 8, 16 или 32
	ChannelDepths map[string]int `yaml:"channel_depths"`
}

type GeneratorConfig struct {
	Type        string  `yaml:"type"` // flat, heightmap, noise
	Seed        int64   `yaml:"seed"`
	Channel     string  `yaml:"channel"` // sdf или type
	Height      float64 `yaml:"height"`
	HeightStart float64 `yaml:"height_start"`
	HeightRange float64 `yaml:"height_range"`
	Scale       float64 `yaml:"scale"`
	Octaves     int     `yaml:"octaves"`
	BlockType   uint64  `yaml:"block_type"`
}

type StreamConfig struct {
	Type          string `yaml:"type"` // none, memory, file, badger, redis
	Path          string `yaml:"path"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	KeyPrefix     string `yaml:"key_prefix"`
	TTLSeconds    int    `yaml:"ttl_seconds"`
	Compression   string `yaml:"compression"` // zstd или none
}

type PagingConfig struct {
	Workers     int `yaml:"workers"`
	SpawnRadius int `yaml:"spawn_radius"` // в вокселях
}

type ServerConfig struct {
	MetricsPort     int `yaml:"metrics_port"`
	MetricsInterval int `yaml:"metrics_interval_seconds"`
}

type LoggingConfig struct {
	Dir          string `yaml:"dir"`
	ConsoleLevel string `yaml:"console_level"`
	FileLevel    string `yaml:"file_level"`
	File         bool   `yaml:"file"`
}

// Default возвращает рабочую конфигурацию с генератором по высоте и потоком в памяти.
func Default() *Config {
	return &Config{
		Terrain: TerrainConfig{
			BlockSizePo2: 4,
			LODCount:     4,
			Streaming:    true,
		},
		Generator: GeneratorConfig{
			Type:        "heightmap",
			Seed:        1,
			Channel:     "sdf",
			HeightStart: 0,
			HeightRange: 64,
			Scale:       128,
			Octaves:     3,
			BlockType:   1,
		},
		Stream: StreamConfig{
			Type:        "memory",
			KeyPrefix:   "voxel",
			Compression: "zstd",
		},
		Paging: PagingConfig{
			Workers:     4,
			SpawnRadius: 64,
		},
		Logging: LoggingConfig{
			Dir:          "logs",
			ConsoleLevel: "info",
			FileLevel:    "debug",
		},
	}
}

// Validate проверяет диапазоны значений
func (c *Config) Validate() error {
	if c.Terrain.BlockSizePo2 < 1 || c.Terrain.BlockSizePo2 > 8 {
		return fmt.Errorf("terrain.block_size_po2 вне диапазона 1..8: %d", c.Terrain.BlockSizePo2)
	}
	if c.Terrain.LODCount < 1 || c.Terrain.LODCount > 24 {
		return fmt.Errorf("terrain.lod_count вне диапазона 1..24: %d", c.Terrain.LODCount)
	}
	for name, bits := range c.Terrain.ChannelDepths {
		if bits != 8 && bits != 16 && bits != 32 {
			return fmt.Errorf("terrain.channel_depths.%s: недопустимая разрядность %d", name, bits)
		}
	}
	return nil
}

// GetMetricsPort возвращает порт Prometheus метрик с поддержкой fallback значений
func (s *ServerConfig) GetMetricsPort() int {
	return getIntWithEnvFallback(s.MetricsPort, "VOXEL_METRICS_PORT", 2112)
}

// GetMetricsInterval возвращает период опроса метрик в секундах
func (s *ServerConfig) GetMetricsInterval() int {
	return getIntWithEnvFallback(s.MetricsInterval, "VOXEL_METRICS_INTERVAL", 5)
}

// GetWorkers возвращает число параллельных загрузок блоков
func (p *PagingConfig) GetWorkers() int {
	return getIntWithEnvFallback(p.Workers, "VOXEL_WORKERS", 4)
}

// GetPath возвращает каталог базы блоков
func (s *StreamConfig) GetPath() string {
	return getStringWithEnvFallback(s.Path, "VOXEL_DATA_DIR", "data/blocks")
}

// GetRedisAddr возвращает адрес Redis
func (s *StreamConfig) GetRedisAddr() string {
	return getStringWithEnvFallback(s.RedisAddr, "VOXEL_REDIS_ADDR", "localhost:6379")
}

// getIntWithEnvFallback возвращает значение с приоритетом: config -> env -> default
func getIntWithEnvFallback(configValue int, envVar string, defaultValue int) int {
	if configValue > 0 {
		return configValue
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if v, err := strconv.Atoi(envVal); err == nil && v > 0 {
			return v
		}
	}

	return defaultValue
}

func getStringWithEnvFallback(configValue, envVar, defaultValue string) string {
	if configValue != "" {
		return configValue
	}
	if envVal := os.Getenv(envVar); envVal != "" {
		return envVal
	}
	return defaultValue
}

// Load читает YAML файл конфигурации поверх значений по умолчанию.
// Если path == "", пытается прочитать из ENV VOXEL_CONFIG или возвращает Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("VOXEL_CONFIG")
		if path == "" {
			return cfg, nil // конфиг не задан — использовать дефолты
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение конфигурации %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("разбор конфигурации %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
