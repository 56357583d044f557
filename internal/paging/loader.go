// Package paging подгружает и выгружает блоки VoxelData через поток и генератор.
package paging

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/annel0/voxel-terrain/internal/logging"
	"github.com/annel0/voxel-terrain/internal/vec"
	"github.com/annel0/voxel-terrain/internal/voxel"
	"golang.org/x/sync/errgroup"
)

// DefaultBatchSize задаёт число блоков в одном запросе к потоку
const DefaultBatchSize = 32

// Stats содержит накопленные счётчики загрузчика
type Stats struct {
	Emerged   uint64 // Прочитано из потока
	Generated uint64 // Создано генератором
	Empty     uint64 // Отмечено пустыми
	Immerged  uint64 // Записано в поток
	Unloaded  uint64 // Удалено из памяти
}

// Loader переносит блоки между VoxelData и потоком.
// Поток и генератор берутся из VoxelData на момент вызова.
type Loader struct {
	data      *voxel.VoxelData
	workers   int
	batchSize int
	log       *logging.Logger

	emerged   atomic.Uint64
	generated atomic.Uint64
	empty     atomic.Uint64
	immerged  atomic.Uint64
	unloaded  atomic.Uint64
}

// Option настраивает Loader
type Option func(*Loader)

// WithBatchSize задаёт размер пакета запросов к потоку
func WithBatchSize(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.batchSize = n
		}
	}
}

// WithLogger заменяет логгер компонента paging
func WithLogger(logger *logging.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.log = logger
		}
	}
}

// NewLoader создаёт загрузчик с workers параллельными пакетами
func NewLoader(data *voxel.VoxelData, workers int, opts ...Option) *Loader {
	if workers < 1 {
		workers = 1
	}
	l := &Loader{
		data:      data,
		workers:   workers,
		batchSize: DefaultBatchSize,
		log:       logging.GetPagingLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Stats возвращает снимок счётчиков
func (l *Loader) Stats() Stats {
	return Stats{
		Emerged:   l.emerged.Load(),
		Generated: l.generated.Load(),
		Empty:     l.empty.Load(),
		Immerged:  l.immerged.Load(),
		Unloaded:  l.unloaded.Load(),
	}
}

// blockBox возвращает блоки уровня lod, пересекающие область box в вокселях LOD 0
func (l *Loader) blockBox(box vec.Box3, lod int) vec.Box3 {
	box = box.Clipped(l.data.Bounds())
	if box.IsEmpty() {
		return vec.Box3{}
	}
	return box.Downscaled(l.data.BlockSize() << uint(lod))
}

// LoadArea загружает отсутствующие блоки уровня lod, пересекающие box.
// Блок ищется в потоке; если его там нет, он генерируется,
// а без генератора отмечается пустым. Возвращает число добавленных блоков.
func (l *Loader) LoadArea(ctx context.Context, box vec.Box3, lod int) (int, error) {
	if lod < 0 || lod >= l.data.LODCount() {
		return 0, fmt.Errorf("paging: неверный LOD %d", lod)
	}
	bb := l.blockBox(box, lod)
	if bb.IsEmpty() {
		return 0, nil
	}
	missing := l.data.GetMissingBlocksInBox(bb, lod)
	if len(missing) == 0 {
		return 0, nil
	}

	var loaded atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for start := 0; start < len(missing); start += l.batchSize {
		end := start + l.batchSize
		if end > len(missing) {
			end = len(missing)
		}
		batch := missing[start:end]
		g.Go(func() error {
			n, err := l.loadBatch(gctx, batch, lod)
			loaded.Add(int64(n))
			return err
		})
	}
	err := g.Wait()
	l.log.Debug("LOD %d, загружено %d из %d блоков", lod, loaded.Load(), len(missing))
	return int(loaded.Load()), err
}

// LoadAreaAllLODs загружает область на всех уровнях
func (l *Loader) LoadAreaAllLODs(ctx context.Context, box vec.Box3) (int, error) {
	total := 0
	for lod := 0; lod < l.data.LODCount(); lod++ {
		n, err := l.LoadArea(ctx, box, lod)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (l *Loader) loadBatch(ctx context.Context, positions []vec.Vec3, lod int) (int, error) {
	requests := make([]voxel.BlockRequest, len(positions))
	for i, bpos := range positions {
		requests[i] = voxel.BlockRequest{
			Buffer: l.data.NewBlockBuffer(),
			Origin: l.data.BlockOrigin(bpos, lod),
			LOD:    lod,
		}
	}

	if s := l.data.Stream(); s != nil {
		if err := s.EmergeBlocks(ctx, requests); err != nil {
			for _, r := range requests {
				r.Buffer.Release()
			}
			return 0, fmt.Errorf("paging: чтение блоков LOD %d: %w", lod, err)
		}
	}

	hasGenerator := l.data.Generator() != nil
	loaded := 0
	// Буферы необработанных запросов отпускаются при досрочном выходе
	fail := func(i int, err error) (int, error) {
		for _, r := range requests[i+1:] {
			r.Buffer.Release()
		}
		return loaded, err
	}
	for i, r := range requests {
		bpos := positions[i]
		switch {
		case r.Result == voxel.EmergeBlockFound:
			l.emerged.Add(1)
			if err := l.data.TrySetBlockBuffer(bpos, lod, r.Buffer, false); err != nil {
				return fail(i, err)
			}
		case hasGenerator:
			r.Buffer.Release()
			l.generated.Add(1)
			if err := l.data.TrySetBlockBuffer(bpos, lod, l.data.GenerateBlockBuffer(bpos, lod), false); err != nil {
				return fail(i, err)
			}
		default:
			r.Buffer.Release()
			l.empty.Add(1)
			l.data.SetEmptyBlockBuffer(bpos, lod)
		}
		loaded++
	}
	return loaded, nil
}

// UnloadArea удаляет блоки уровня lod, пересекающие box.
// Отредактированные блоки перед удалением записываются в поток.
// Возвращает число удалённых блоков.
func (l *Loader) UnloadArea(ctx context.Context, box vec.Box3, lod int) (int, error) {
	bb := l.blockBox(box, lod)
	if bb.IsEmpty() {
		return 0, nil
	}

	var toSave []voxel.BlockRequest
	removed := l.data.UnloadBlocks(bb, lod, func(loc voxel.BlockLocation, block *voxel.DataBlock) {
		if block.IsEdited() && block.HasVoxels() {
			toSave = append(toSave, voxel.BlockRequest{
				Buffer: block.VoxelsShared(),
				Origin: l.data.BlockOrigin(loc.Position, loc.LOD),
				LOD:    loc.LOD,
			})
		}
	})
	l.unloaded.Add(uint64(removed))

	err := l.immerge(ctx, toSave)
	if err != nil {
		l.log.Error("потеряны правки %d блоков LOD %d: %v", len(toSave), lod, err)
	}
	return removed, err
}

// SaveAll записывает в поток все отредактированные блоки, не выгружая их.
// Возвращает число записанных блоков.
func (l *Loader) SaveAll(ctx context.Context) (int, error) {
	var toSave []voxel.BlockRequest
	l.data.ForEachBlock(func(loc voxel.BlockLocation, block *voxel.DataBlock) {
		if block.IsEdited() && block.HasVoxels() {
			toSave = append(toSave, voxel.BlockRequest{
				Buffer: block.VoxelsShared(),
				Origin: l.data.BlockOrigin(loc.Position, loc.LOD),
				LOD:    loc.LOD,
			})
		}
	})
	if err := l.immerge(ctx, toSave); err != nil {
		return 0, err
	}
	if len(toSave) > 0 {
		l.log.Info("сохранено %d блоков", len(toSave))
	}
	return len(toSave), nil
}

// immerge пишет буферы в поток и отпускает их
func (l *Loader) immerge(ctx context.Context, requests []voxel.BlockRequest) error {
	defer func() {
		for _, r := range requests {
			r.Buffer.Release()
		}
	}()
	if len(requests) == 0 {
		return nil
	}
	s := l.data.Stream()
	if s == nil {
		return fmt.Errorf("paging: поток не задан, %d блоков не сохранено", len(requests))
	}
	for start := 0; start < len(requests); start += l.batchSize {
		end := start + l.batchSize
		if end > len(requests) {
			end = len(requests)
		}
		if err := s.ImmergeBlocks(ctx, requests[start:end]); err != nil {
			return fmt.Errorf("paging: запись блоков: %w", err)
		}
		l.immerged.Add(uint64(end - start))
	}
	return nil
}

// Edit загружает область на всех уровнях, применяет action к каналу ch на LOD 0
// и пересчитывает мип-уровни. Возвращает изменённую область.
func (l *Loader) Edit(ctx context.Context, box vec.Box3, ch voxel.ChannelID, action func(pos vec.Vec3, v uint64) uint64) (vec.Box3, error) {
	if _, err := l.LoadAreaAllLODs(ctx, box); err != nil {
		return vec.Box3{}, err
	}
	written := l.data.WriteBox(box, ch, action)
	if written.IsEmpty() {
		return written, voxel.ErrAreaNotLoaded
	}
	modified := l.data.MarkAreaModified(written)
	l.data.UpdateLODs(modified)
	return written, nil
}
