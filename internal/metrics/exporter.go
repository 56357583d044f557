// Package metrics публикует состояние пула памяти, карт LOD и загрузчика в Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/annel0/voxel-terrain/internal/logging"
	"github.com/annel0/voxel-terrain/internal/mempool"
	"github.com/annel0/voxel-terrain/internal/paging"
	"github.com/annel0/voxel-terrain/internal/voxel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voxel"

// Exporter периодически переносит снимки состояния в метрики.
type Exporter struct {
	registry *prometheus.Registry
	pool     *mempool.Pool
	data     *voxel.VoxelData
	loader   *paging.Loader
	interval time.Duration

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	server   *http.Server

	mu   sync.Mutex
	prev paging.Stats

	poolUsedBlocks prometheus.Gauge
	poolUsedBytes  prometheus.Gauge
	poolFreeBlocks prometheus.Gauge
	poolFreeBytes  prometheus.Gauge
	blocks         *prometheus.GaugeVec
	pagingEvents   *prometheus.CounterVec
}

// NewExporter создаёт экспортер и регистрирует метрики в registry.
// loader может быть nil. HTTP-сервер не запускается.
func NewExporter(registry *prometheus.Registry, pool *mempool.Pool, data *voxel.VoxelData, loader *paging.Loader, interval time.Duration) (*Exporter, error) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	e := &Exporter{
		registry: registry,
		pool:     pool,
		data:     data,
		loader:   loader,
		interval: interval,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		poolUsedBlocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mempool",
			Name:      "used_blocks",
			Help:      "Блоки памяти, выданные пулом.",
		}),
		poolUsedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mempool",
			Name:      "used_bytes",
			Help:      "Объём выданной пулом памяти.",
		}),
		poolFreeBlocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mempool",
			Name:      "free_blocks",
			Help:      "Блоки в списках свободных.",
		}),
		poolFreeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mempool",
			Name:      "free_bytes",
			Help:      "Объём памяти в списках свободных.",
		}),
		blocks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "blocks",
			Help:      "Количество блоков в карте уровня детализации.",
		}, []string{"lod"}),
		pagingEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "paging",
			Name:      "blocks_total",
			Help:      "Блоки, обработанные загрузчиком, по виду операции.",
		}, []string{"event"}),
	}

	for _, c := range []prometheus.Collector{
		e.poolUsedBlocks, e.poolUsedBytes, e.poolFreeBlocks, e.poolFreeBytes, e.blocks, e.pagingEvents,
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Update снимает текущее состояние
func (e *Exporter) Update() {
	st := e.pool.Stats()
	e.poolUsedBlocks.Set(float64(st.UsedBlocks))
	e.poolUsedBytes.Set(float64(st.UsedBytes))
	e.poolFreeBlocks.Set(float64(st.FreeBlocks))
	e.poolFreeBytes.Set(float64(st.FreeBytes))

	// Количество LOD могло уменьшиться
	e.blocks.Reset()
	for lod := 0; lod < e.data.LODCount(); lod++ {
		e.blocks.WithLabelValues(strconv.Itoa(lod)).Set(float64(e.data.BlockCountAtLOD(lod)))
	}

	if e.loader == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cur := e.loader.Stats()
	// Counter принимает только приращения
	add := func(event string, now, before uint64) {
		if now > before {
			e.pagingEvents.WithLabelValues(event).Add(float64(now - before))
		}
	}
	add("emerged", cur.Emerged, e.prev.Emerged)
	add("generated", cur.Generated, e.prev.Generated)
	add("empty", cur.Empty, e.prev.Empty)
	add("immerged", cur.Immerged, e.prev.Immerged)
	add("unloaded", cur.Unloaded, e.prev.Unloaded)
	e.prev = cur
}

// Start запускает периодическое обновление метрик
func (e *Exporter) Start() {
	go e.loop()
}

// StartHTTP запускает эндпоинт /metrics на addr и периодическое обновление.
// Метод неблокирующий.
func (e *Exporter) StartHTTP(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
	e.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logging.Info("📈 Prometheus /metrics доступен по адресу %s", addr)
		if err := e.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Ошибка Prometheus HTTP сервера: %v", err)
		}
	}()
	e.Start()
}

// Stop останавливает обновление и HTTP-сервер
func (e *Exporter) Stop(ctx context.Context) error {
	var err error
	e.stopOnce.Do(func() {
		close(e.quit)
		if e.server != nil {
			err = e.server.Shutdown(ctx)
		}
	})
	return err
}

func (e *Exporter) loop() {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	defer close(e.done)

	e.Update()
	for {
		select {
		case <-ticker.C:
			e.Update()
		case <-e.quit:
			return
		}
	}
}

// Done закрывается после остановки цикла обновления
func (e *Exporter) Done() <-chan struct{} {
	return e.done
}
