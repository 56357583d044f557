package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/voxel-terrain/internal/config"
	"github.com/annel0/voxel-terrain/internal/generator"
	"github.com/annel0/voxel-terrain/internal/logging"
	"github.com/annel0/voxel-terrain/internal/mempool"
	"github.com/annel0/voxel-terrain/internal/metrics"
	"github.com/annel0/voxel-terrain/internal/paging"
	"github.com/annel0/voxel-terrain/internal/stream"
	"github.com/annel0/voxel-terrain/internal/vec"
	"github.com/annel0/voxel-terrain/internal/voxel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML-конфигурации (по умолчанию $VOXEL_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	// === ЛОГИРОВАНИЕ ===
	logging.SetLogDir(cfg.Logging.Dir)
	consoleLevel := logging.ParseLevel(cfg.Logging.ConsoleLevel)
	fileLevel := logging.ParseLevel(cfg.Logging.FileLevel)
	if cfg.Logging.File {
		logger, err := logging.NewLogger("voxeld")
		if err != nil {
			log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
		}
		logger.SetLevels(consoleLevel, fileLevel)
		logging.SetDefaultLogger(logger)
	} else {
		logging.SetDefaultLogger(logging.NewWriterLogger("voxeld", os.Stdout, consoleLevel))
	}
	// Логгеры stream и paging создаются компонентами с теми же настройками
	logging.GetLoggerManager().Configure(cfg.Logging.File, consoleLevel, fileLevel)
	defer logging.CloseDefaultLogger()
	defer logging.GetLoggerManager().CloseAll()

	logging.Info("🧊 Запуск хранилища воксельного ландшафта...")

	// === ИНИЦИАЛИЗАЦИЯ КОМПОНЕНТОВ ===
	pool := mempool.New()

	voxelCfg, err := buildVoxelConfig(cfg.Terrain)
	if err != nil {
		log.Fatalf("❌ Ошибка конфигурации ландшафта: %v", err)
	}
	data := voxel.NewVoxelData(pool, voxelCfg)
	logging.Info("📦 Блоки %d³, уровней детализации: %d, подгрузка: %v",
		data.BlockSize(), data.LODCount(), data.IsStreamingEnabled())

	gen, err := generator.New(cfg.Generator)
	if err != nil {
		log.Fatalf("❌ Ошибка создания генератора: %v", err)
	}
	data.SetGenerator(gen)
	logging.Info("🌄 Генератор: %s (seed %d)", cfg.Generator.Type, cfg.Generator.Seed)

	blockStream, err := stream.New(cfg.Stream)
	if err != nil {
		log.Fatalf("❌ Ошибка создания хранилища блоков: %v", err)
	}
	if blockStream != nil {
		data.SetStream(blockStream)
		logging.Info("💾 Хранилище блоков: %s", cfg.Stream.Type)
	}

	loader := paging.NewLoader(data, cfg.Paging.GetWorkers())

	// Стартовая область вокруг начала координат
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := cfg.Paging.SpawnRadius
	spawn := vec.NewBox3(vec.Splat3(-r), vec.Splat3(2*r))
	start := time.Now()
	loaded, err := loader.LoadAreaAllLODs(ctx, spawn)
	if err != nil {
		logging.Error("❌ Ошибка загрузки стартовой области: %v", err)
	}
	logging.Info("✅ Стартовая область загружена: %d блоков за %v", loaded, time.Since(start))
	logging.Debug("%s", pool.DebugString())

	// === МЕТРИКИ ===
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	exporter, err := metrics.NewExporter(registry, pool, data, loader,
		time.Duration(cfg.Server.GetMetricsInterval())*time.Second)
	if err != nil {
		log.Fatalf("❌ Ошибка регистрации метрик: %v", err)
	}
	exporter.StartHTTP(fmt.Sprintf(":%d", cfg.Server.GetMetricsPort()))

	// Канал для получения сигналов ОС
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logging.Info("📡 Получен сигнал %v, завершение работы...", sig)

	// === GRACEFUL SHUTDOWN ===
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := exporter.Stop(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка остановки метрик: %v", err)
	}

	if blockStream != nil {
		saved, err := loader.SaveAll(shutdownCtx)
		if err != nil {
			logging.Error("❌ Ошибка сохранения блоков: %v", err)
		} else {
			logging.Info("💾 Сохранено блоков: %d", saved)
		}
		if err := blockStream.Close(); err != nil {
			logging.Error("❌ Ошибка закрытия хранилища блоков: %v", err)
		}
	}

	data.ResetMaps()
	pool.ClearUnusedBlocks()
	logging.Info("👋 Хранилище остановлено")
}

// buildVoxelConfig переводит настройки ландшафта в параметры VoxelData
func buildVoxelConfig(t config.TerrainConfig) (voxel.Config, error) {
	cfg := voxel.Config{
		BlockSizePo2: uint(t.BlockSizePo2),
		LODCount:     t.LODCount,
		Streaming:    t.Streaming,
		Depths:       voxel.DefaultDepths,
	}

	minPos := vec.New3(t.BoundsMin[0], t.BoundsMin[1], t.BoundsMin[2])
	maxPos := vec.New3(t.BoundsMax[0], t.BoundsMax[1], t.BoundsMax[2])
	// Пустые границы означают весь допустимый мир
	cfg.Bounds = vec.BoxFromMinMax(minPos, maxPos)

	for name, bits := range t.ChannelDepths {
		ch, ok := voxel.ParseChannel(name)
		if !ok {
			return cfg, fmt.Errorf("неизвестный канал %q", name)
		}
		switch bits {
		case 8:
			cfg.Depths[ch] = voxel.Depth8Bit
		case 16:
			cfg.Depths[ch] = voxel.Depth16Bit
		case 32:
			cfg.Depths[ch] = voxel.Depth32Bit
		default:
			return cfg, fmt.Errorf("канал %s: недопустимая разрядность %d", name, bits)
		}
	}
	return cfg, nil
}
