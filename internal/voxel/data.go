// Package voxel хранит воксельные данные мира на нескольких уровнях детализации.
//
// Порядок блокировок: сначала настройки VoxelData, затем карты LOD по возрастанию индекса.
// Буферы, полученные через VoxelsShared или GetBlocksWithVoxelData, можно читать без
// блокировок, но одновременная запись в тот же буфер (например, WriteBox поверх
// блока, который сейчас читает фоновая задача) не исключается: пространственной
// блокировки нет.
package voxel

import (
	"errors"
	"fmt"
	"sync"

	"github.com/annel0/voxel-terrain/internal/logging"
	"github.com/annel0/voxel-terrain/internal/mempool"
	"github.com/annel0/voxel-terrain/internal/vec"
)

const (
	// MaxLOD ограничивает допустимое количество уровней детализации
	MaxLOD = 24
	// DefaultBlockSizePo2 соответствует блокам 16x16x16
	DefaultBlockSizePo2 = 4
	// maxVolumeExtent ограничивает мир по каждой оси
	maxVolumeExtent = 1 << 29
)

// ErrAreaNotLoaded возвращается, если область редактирования загружена не полностью
var ErrAreaNotLoaded = errors.New("voxel: область не загружена")

// MaxBounds задаёт наибольшие допустимые границы мира
var MaxBounds = vec.NewBox3(vec.Splat3(-maxVolumeExtent), vec.Splat3(2*maxVolumeExtent))

// BlockLocation указывает позицию блока на заданном уровне
type BlockLocation struct {
	Position vec.Vec3
	LOD      int
}

// Config содержит параметры VoxelData при создании
type Config struct {
	BlockSizePo2 uint
	LODCount     int
	Bounds       vec.Box3
	Streaming    bool
	Depths       [MaxChannels]Depth
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		BlockSizePo2: DefaultBlockSizePo2,
		LODCount:     1,
		Bounds:       MaxBounds,
		Depths:       DefaultDepths,
	}
}

// lod — карта одного уровня со своей блокировкой
type lod struct {
	mu sync.RWMutex
	m  *DataMap
}

// settings — снимок настроек, сделанный под settingsMu
type settings struct {
	lods      []*lod
	bounds    vec.Box3
	generator Generator
	stream    Stream
	streaming bool
}

// VoxelData владеет картами всех LOD, границами мира, генератором, потоком и модификаторами.
type VoxelData struct {
	settingsMu sync.RWMutex
	lods       []*lod
	bounds     vec.Box3
	generator  Generator
	stream     Stream
	streaming  bool

	blockSizePo2 uint
	depths       [MaxChannels]Depth
	pool         *mempool.Pool
	modifiers    *ModifierStack
}

// NewVoxelData создаёт хранилище. Пул передаётся явно и живёт дольше хранилища.
func NewVoxelData(pool *mempool.Pool, cfg Config) *VoxelData {
	if cfg.BlockSizePo2 == 0 {
		cfg.BlockSizePo2 = DefaultBlockSizePo2
	}
	if cfg.Bounds.IsEmpty() {
		cfg.Bounds = MaxBounds
	}
	d := &VoxelData{
		bounds:       cfg.Bounds.Clipped(MaxBounds),
		streaming:    cfg.Streaming,
		blockSizePo2: cfg.BlockSizePo2,
		depths:       cfg.Depths,
		pool:         pool,
		modifiers:    NewModifierStack(),
	}
	d.lods = d.makeLods(clampLODCount(cfg.LODCount))
	return d
}

func clampLODCount(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxLOD {
		return MaxLOD
	}
	return n
}

func (d *VoxelData) makeLods(count int) []*lod {
	lods := make([]*lod, count)
	for i := range lods {
		lods[i] = &lod{m: NewDataMap(d.pool, d.blockSizePo2, i, d.depths)}
	}
	return lods
}

func (d *VoxelData) snapshot() settings {
	d.settingsMu.RLock()
	defer d.settingsMu.RUnlock()
	return settings{
		lods:      d.lods,
		bounds:    d.bounds,
		generator: d.generator,
		stream:    d.stream,
		streaming: d.streaming,
	}
}

// Pool возвращает пул памяти хранилища
func (d *VoxelData) Pool() *mempool.Pool {
	return d.pool
}

// BlockSize возвращает размер блока в вокселях
func (d *VoxelData) BlockSize() int {
	return 1 << d.blockSizePo2
}

// BlockSizePo2 возвращает показатель степени размера блока
func (d *VoxelData) BlockSizePo2() uint {
	return d.blockSizePo2
}

// Modifiers возвращает стек модификаторов
func (d *VoxelData) Modifiers() *ModifierStack {
	return d.modifiers
}

// LODCount возвращает количество уровней детализации
func (d *VoxelData) LODCount() int {
	d.settingsMu.RLock()
	defer d.settingsMu.RUnlock()
	return len(d.lods)
}

// SetLODCount меняет количество уровней. Все карты при этом очищаются.
func (d *VoxelData) SetLODCount(count int) {
	count = clampLODCount(count)
	d.settingsMu.Lock()
	defer d.settingsMu.Unlock()
	if count == len(d.lods) {
		return
	}
	for _, l := range d.lods {
		l.mu.Lock()
		l.m.Reset()
		l.mu.Unlock()
	}
	d.lods = d.makeLods(count)
}

// ResetMaps удаляет все блоки на всех уровнях
func (d *VoxelData) ResetMaps() {
	d.settingsMu.RLock()
	defer d.settingsMu.RUnlock()
	for _, l := range d.lods {
		l.mu.Lock()
		l.m.Reset()
		l.mu.Unlock()
	}
}

// Bounds возвращает границы мира в вокселях LOD 0
func (d *VoxelData) Bounds() vec.Box3 {
	d.settingsMu.RLock()
	defer d.settingsMu.RUnlock()
	return d.bounds
}

// SetBounds меняет границы мира; они обрезаются по MaxBounds
func (d *VoxelData) SetBounds(bounds vec.Box3) {
	d.settingsMu.Lock()
	defer d.settingsMu.Unlock()
	d.bounds = bounds.Clipped(MaxBounds)
}

// Generator возвращает текущий генератор
func (d *VoxelData) Generator() Generator {
	d.settingsMu.RLock()
	defer d.settingsMu.RUnlock()
	return d.generator
}

// SetGenerator меняет генератор
func (d *VoxelData) SetGenerator(g Generator) {
	d.settingsMu.Lock()
	defer d.settingsMu.Unlock()
	d.generator = g
}

// Stream возвращает текущий поток
func (d *VoxelData) Stream() Stream {
	d.settingsMu.RLock()
	defer d.settingsMu.RUnlock()
	return d.stream
}

// SetStream меняет поток
func (d *VoxelData) SetStream(s Stream) {
	d.settingsMu.Lock()
	defer d.settingsMu.Unlock()
	d.stream = s
}

// IsStreamingEnabled сообщает, подгружаются ли блоки по требованию
func (d *VoxelData) IsStreamingEnabled() bool {
	d.settingsMu.RLock()
	defer d.settingsMu.RUnlock()
	return d.streaming
}

// SetStreamingEnabled включает подгрузку блоков. Без неё отсутствующие блоки
// генерируются на лету, а любая область считается загруженной.
func (d *VoxelData) SetStreamingEnabled(enabled bool) {
	d.settingsMu.Lock()
	defer d.settingsMu.Unlock()
	d.streaming = enabled
}

// BlockOrigin возвращает начало блока в вокселях LOD 0
func (d *VoxelData) BlockOrigin(bpos vec.Vec3, lodIndex int) vec.Vec3 {
	return bpos.Shl(d.blockSizePo2 + uint(lodIndex))
}

// NewBlockBuffer создаёт пустой буфер размера блока
func (d *VoxelData) NewBlockBuffer() *Buffer {
	return NewBuffer(d.pool, vec.Splat3(d.BlockSize()), WithDepths(d.depths))
}

// GenerateBlockBuffer создаёт буфер блока и заполняет его генератором и модификаторами.
// Блокировки карт не нужны.
func (d *VoxelData) GenerateBlockBuffer(bpos vec.Vec3, lodIndex int) *Buffer {
	buf := d.NewBlockBuffer()
	d.generateInto(d.Generator(), buf, d.BlockOrigin(bpos, lodIndex), lodIndex)
	return buf
}

func (d *VoxelData) generateInto(g Generator, buf *Buffer, origin vec.Vec3, lodIndex int) {
	if g != nil {
		g.GenerateBlock(buf, origin, lodIndex)
	}
	d.modifiers.Apply(buf, origin, lodIndex)
}

func (d *VoxelData) genFunc(s settings, lodIndex int) BlockGenFunc {
	return func(buf *Buffer, bpos vec.Vec3) {
		d.generateInto(s.generator, buf, d.BlockOrigin(bpos, lodIndex), lodIndex)
	}
}

// GetVoxel читает значение канала в точке LOD 0.
// Если при включённой подгрузке блок отсутствует, возвращается defval.
// Если подгрузка выключена или блок известен как пустой, значение генерируется.
func (d *VoxelData) GetVoxel(pos vec.Vec3, ch ChannelID, defval uint64) uint64 {
	s := d.snapshot()
	if !s.bounds.Contains(pos) {
		return defval
	}
	l := s.lods[0]

	l.mu.RLock()
	bpos := l.m.VoxelToBlock(pos)
	block := l.m.GetBlock(bpos)
	if block != nil && block.HasVoxels() {
		v, err := block.voxels.GetVoxelAt(l.m.ToLocal(pos), ch)
		l.mu.RUnlock()
		if err != nil {
			return defval
		}
		return v
	}
	l.mu.RUnlock()

	if block == nil && s.streaming {
		return defval
	}
	if s.generator == nil {
		return defval
	}
	buf := NewBuffer(nil, vec.Splat3(1), WithDepths(d.depths))
	d.generateInto(s.generator, buf, pos, 0)
	v, err := buf.GetVoxel(0, 0, 0, ch)
	if err != nil {
		return defval
	}
	return v
}

// GetVoxelF читает значение канала как расстояние со знаком
func (d *VoxelData) GetVoxelF(pos vec.Vec3, ch ChannelID) float64 {
	if !ch.Valid() {
		return 0
	}
	depth := d.depths[ch]
	raw := d.GetVoxel(pos, ch, defaultValue(ch, depth))
	return DecodeSDF(raw, depth)
}

// TrySetVoxel записывает значение в точке LOD 0 и помечает блок отредактированным.
// Возвращает false, если точка вне мира или её блок не загружен.
func (d *VoxelData) TrySetVoxel(v uint64, pos vec.Vec3, ch ChannelID) bool {
	s := d.snapshot()
	if !s.bounds.Contains(pos) || !ch.Valid() {
		return false
	}
	l := s.lods[0]
	bpos := l.m.VoxelToBlock(pos)

	l.mu.Lock()
	block := l.m.GetBlock(bpos)
	if block == nil && s.streaming {
		l.mu.Unlock()
		return false
	}
	if block == nil || !block.HasVoxels() {
		// Генерация идёт без блокировки; если блок успели заполнить, наш результат отбрасывается
		l.mu.Unlock()
		buf := d.NewBlockBuffer()
		d.generateInto(s.generator, buf, d.BlockOrigin(bpos, 0), 0)
		l.mu.Lock()
		block = l.m.GetBlock(bpos)
		if block == nil && s.streaming {
			l.mu.Unlock()
			buf.Release()
			return false
		}
		block, _ = l.m.SetBlockBuffer(bpos, buf, false)
	}
	defer l.mu.Unlock()

	if err := block.voxels.SetVoxelAt(v, l.m.ToLocal(pos), ch); err != nil {
		return false
	}
	block.SetEdited(true)
	return true
}

// TrySetVoxelF записывает расстояние со знаком
func (d *VoxelData) TrySetVoxelF(f float64, pos vec.Vec3, ch ChannelID) bool {
	if !ch.Valid() {
		return false
	}
	return d.TrySetVoxel(EncodeSDF(f, d.depths[ch]), pos, ch)
}

// Copy читает область LOD 0, начинающуюся в minPos, в dst по каналам из маски.
// При выключенной подгрузке отсутствующие блоки генерируются во временный буфер.
func (d *VoxelData) Copy(minPos vec.Vec3, dst *Buffer, channels ChannelMask) error {
	s := d.snapshot()
	l := s.lods[0]
	var gen BlockGenFunc
	if !s.streaming {
		gen = d.genFunc(s, 0)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.m.Copy(minPos, dst, channels, gen)
}

// Paste записывает src в LOD 0 начиная с minPos.
// useMask пропускает значения, равные maskValue. При createNewBlocks
// отсутствующие блоки создаются; иначе они пропускаются.
// Затронутые блоки помечаются отредактированными.
func (d *VoxelData) Paste(minPos vec.Vec3, src *Buffer, channels ChannelMask, useMask bool, maskValue uint64, createNewBlocks bool) error {
	s := d.snapshot()
	l := s.lods[0]
	var gen BlockGenFunc
	if !s.streaming {
		gen = d.genFunc(s, 0)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	touched, err := l.m.Paste(minPos, src, channels, useMask, maskValue, createNewBlocks, gen)
	for _, block := range touched {
		block.SetEdited(true)
	}
	return err
}

// IsAreaLoaded проверяет, что все блоки LOD 0, пересекающие box, присутствуют.
// При выключенной подгрузке всегда true. Результат может устареть сразу после вызова.
func (d *VoxelData) IsAreaLoaded(box vec.Box3) bool {
	return d.isAreaLoaded(d.snapshot(), box)
}

func (d *VoxelData) isAreaLoaded(s settings, box vec.Box3) bool {
	if !s.streaming {
		return true
	}
	box = box.Clipped(s.bounds)
	l := s.lods[0]
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.m.IsAreaPresent(box)
}

// WriteBox применяет action к каждому вокселю канала ch в области box.
// Область обрезается по границам мира. Если она загружена не полностью,
// ничего не меняется и возвращается пустой ящик; иначе возвращается обработанная область.
func (d *VoxelData) WriteBox(box vec.Box3, ch ChannelID, action func(pos vec.Vec3, v uint64) uint64) vec.Box3 {
	s, box, ok := d.prepareWrite(box)
	if !ok {
		return vec.Box3{}
	}
	l := s.lods[0]
	l.mu.Lock()
	defer l.mu.Unlock()
	l.m.WriteBox(box, ch, action, d.genFunc(s, 0))
	return box
}

// WriteBox2 работает как WriteBox для двух каналов одновременно
func (d *VoxelData) WriteBox2(box vec.Box3, ch1, ch2 ChannelID, action func(pos vec.Vec3, v1, v2 uint64) (uint64, uint64)) vec.Box3 {
	s, box, ok := d.prepareWrite(box)
	if !ok {
		return vec.Box3{}
	}
	l := s.lods[0]
	l.mu.Lock()
	defer l.mu.Unlock()
	l.m.WriteBox2(box, ch1, ch2, action, d.genFunc(s, 0))
	return box
}

func (d *VoxelData) prepareWrite(box vec.Box3) (settings, vec.Box3, bool) {
	s := d.snapshot()
	box = box.Clipped(s.bounds)
	if box.IsEmpty() {
		return s, box, false
	}
	if !d.isAreaLoaded(s, box) {
		logging.Debug("voxel: область %v не загружена, редактирование отклонено", box)
		return s, box, false
	}
	return s, box, true
}

// PreGenerateBox создаёт и генерирует все блоки, пересекающие box, на всех уровнях.
// Возможность редактирования области не проверяется.
func (d *VoxelData) PreGenerateBox(box vec.Box3) {
	s := d.snapshot()
	box = box.Clipped(s.bounds)
	if box.IsEmpty() {
		return
	}
	for lodIndex, l := range s.lods {
		blockBox := box.Downscaled(d.BlockSize() << uint(lodIndex))

		var todo []vec.Vec3
		l.mu.RLock()
		blockBox.ForEachCell(func(bpos vec.Vec3) {
			if block := l.m.GetBlock(bpos); block == nil || !block.HasVoxels() {
				todo = append(todo, bpos)
			}
		})
		l.mu.RUnlock()
		if len(todo) == 0 {
			continue
		}

		buffers := make([]*Buffer, len(todo))
		for i, bpos := range todo {
			buffers[i] = d.NewBlockBuffer()
			d.generateInto(s.generator, buffers[i], d.BlockOrigin(bpos, lodIndex), lodIndex)
		}

		l.mu.Lock()
		for i, bpos := range todo {
			if block, err := l.m.SetBlockBuffer(bpos, buffers[i], false); err == nil {
				block.SetLoaded(true)
			}
		}
		l.mu.Unlock()
	}
}

// ClearCachedBlocksInVoxelArea сбрасывает данные неотредактированных блоков в области,
// чтобы они были сгенерированы заново. Слоты остаются на месте. Возвращает число сброшенных блоков.
func (d *VoxelData) ClearCachedBlocksInVoxelArea(box vec.Box3) int {
	s := d.snapshot()
	box = box.Clipped(s.bounds)
	cleared := 0
	for lodIndex, l := range s.lods {
		blockBox := box.Downscaled(d.BlockSize() << uint(lodIndex))
		l.mu.Lock()
		blockBox.ForEachCell(func(bpos vec.Vec3) {
			block := l.m.GetBlock(bpos)
			if block == nil || block.IsEdited() || !block.HasVoxels() {
				return
			}
			block.setVoxels(nil)
			cleared++
		})
		l.mu.Unlock()
	}
	return cleared
}

// MarkAreaModified помечает блоки LOD 0 в области (с запасом в один воксель)
// отредактированными и возвращает те, что впервые стали требовать пересчёта мип-уровней.
func (d *VoxelData) MarkAreaModified(box vec.Box3) []vec.Vec3 {
	s := d.snapshot()
	l := s.lods[0]
	blockBox := box.Padded(1).Downscaled(d.BlockSize())
	lodCount := len(s.lods)

	var newLODBlocks []vec.Vec3
	l.mu.Lock()
	defer l.mu.Unlock()
	blockBox.ForEachCell(func(bpos vec.Vec3) {
		block := l.m.GetBlock(bpos)
		if block == nil {
			return
		}
		block.SetEdited(true)
		if lodCount > 1 && !block.NeedsLODUpdate() {
			block.SetNeedsLODUpdate(true)
			newLODBlocks = append(newLODBlocks, bpos)
		}
	})
	return newLODBlocks
}

// UpdateLODs пересчитывает мип-уровни над изменёнными блоками LOD 0.
// Уровни обходятся снизу вверх, блокировки записи берутся по возрастанию LOD:
// у источника снимается флаг пересчёта, приёмник перезаписывается.
// Возвращает обновлённые блоки старших уровней.
func (d *VoxelData) UpdateLODs(modifiedLOD0 []vec.Vec3) []BlockLocation {
	s := d.snapshot()
	lodCount := len(s.lods)
	half := d.BlockSize() / 2
	pending := append([]vec.Vec3(nil), modifiedLOD0...)
	var updated []BlockLocation

	for dstIndex := 1; dstIndex < lodCount && len(pending) > 0; dstIndex++ {
		src, dst := s.lods[dstIndex-1], s.lods[dstIndex]
		var next []vec.Vec3

		src.mu.Lock()
		dst.mu.Lock()
		for _, srcPos := range pending {
			srcBlock := src.m.GetBlock(srcPos)
			if srcBlock == nil {
				continue
			}
			srcBlock.SetNeedsLODUpdate(false)

			dstPos := srcPos.Shr(1)
			dstBlock := dst.m.GetBlock(dstPos)
			if dstBlock == nil {
				if s.streaming {
					logging.Warn("voxel: блок %v не найден при распространении правок на LOD %d", dstPos, dstIndex)
					continue
				}
				dstBlock = dst.m.SetEmptyBlock(dstPos)
			}

			if srcBlock.HasVoxels() {
				if !dstBlock.HasVoxels() {
					buf := d.NewBlockBuffer()
					d.generateInto(s.generator, buf, d.BlockOrigin(dstPos, dstIndex), dstIndex)
					dstBlock.setVoxels(buf)
				}
				rel := srcPos.Sub(dstPos.Shl(1))
				srcBlock.voxels.DownscaleTo(dstBlock.voxels, vec.Vec3{}, srcBlock.voxels.Size(), rel.Mul(half))
			}
			dstBlock.SetEdited(true)
			dstBlock.SetLoaded(true)

			if dstIndex != lodCount-1 && !dstBlock.NeedsLODUpdate() {
				dstBlock.SetNeedsLODUpdate(true)
				next = append(next, dstPos)
			}
			updated = append(updated, BlockLocation{Position: dstPos, LOD: dstIndex})
		}
		dst.mu.Unlock()
		src.mu.Unlock()

		pending = next
	}
	return updated
}

// TrySetBlockBuffer вставляет загруженный или сгенерированный буфер.
// Владение буфером переходит хранилищу. Если блок уже есть, он сохраняется,
// а буфер отпускается; это не ошибка.
func (d *VoxelData) TrySetBlockBuffer(bpos vec.Vec3, lodIndex int, buf *Buffer, edited bool) error {
	s := d.snapshot()
	if lodIndex < 0 || lodIndex >= len(s.lods) {
		buf.Release()
		return nil
	}
	if bs := d.BlockSize(); buf != nil && !buf.Size().Equals(vec.Splat3(bs)) {
		size := buf.Size()
		buf.Release()
		return fmt.Errorf("%w: %v, ожидается %d", ErrBlockSizeMismatch, size, bs)
	}
	l := s.lods[lodIndex]
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.m.HasBlock(bpos) {
		buf.Release()
		return nil
	}
	block, err := l.m.SetBlockBuffer(bpos, buf, false)
	if err != nil {
		return err
	}
	block.SetEdited(edited)
	block.SetLoaded(true)
	return nil
}

// SetEmptyBlockBuffer отмечает блок как загруженный, но без данных.
// Существующий блок не меняется.
func (d *VoxelData) SetEmptyBlockBuffer(bpos vec.Vec3, lodIndex int) {
	s := d.snapshot()
	if lodIndex < 0 || lodIndex >= len(s.lods) {
		return
	}
	l := s.lods[lodIndex]
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.m.HasBlock(bpos) {
		return
	}
	l.m.SetEmptyBlock(bpos).SetLoaded(true)
}

// HasBlock проверяет наличие блока на уровне
func (d *VoxelData) HasBlock(bpos vec.Vec3, lodIndex int) bool {
	s := d.snapshot()
	if lodIndex < 0 || lodIndex >= len(s.lods) {
		return false
	}
	l := s.lods[lodIndex]
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.m.HasBlock(bpos)
}

// BlockCount возвращает количество блоков на всех уровнях
func (d *VoxelData) BlockCount() int {
	s := d.snapshot()
	total := 0
	for _, l := range s.lods {
		l.mu.RLock()
		total += l.m.BlockCount()
		l.mu.RUnlock()
	}
	return total
}

// BlockCountAtLOD возвращает количество блоков на уровне
func (d *VoxelData) BlockCountAtLOD(lodIndex int) int {
	s := d.snapshot()
	if lodIndex < 0 || lodIndex >= len(s.lods) {
		return 0
	}
	l := s.lods[lodIndex]
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.m.BlockCount()
}

// UnloadBlocks удаляет блоки уровня lodIndex в области блоков blockBox.
// onRemoved вызывается под блокировкой карты до освобождения буфера;
// чтобы сохранить данные, захватите их через VoxelsShared.
func (d *VoxelData) UnloadBlocks(blockBox vec.Box3, lodIndex int, onRemoved func(loc BlockLocation, block *DataBlock)) int {
	s := d.snapshot()
	if lodIndex < 0 || lodIndex >= len(s.lods) {
		return 0
	}
	l := s.lods[lodIndex]
	removed := 0
	l.mu.Lock()
	defer l.mu.Unlock()
	blockBox.ForEachCell(func(bpos vec.Vec3) {
		ok := l.m.RemoveBlock(bpos, func(bpos vec.Vec3, block *DataBlock) {
			if onRemoved != nil {
				onRemoved(BlockLocation{Position: bpos, LOD: lodIndex}, block)
			}
		})
		if ok {
			removed++
		}
	})
	return removed
}

// GetMissingBlocks возвращает позиции из списка, которых нет на уровне.
// Позиции за границами мира всегда считаются отсутствующими.
func (d *VoxelData) GetMissingBlocks(positions []vec.Vec3, lodIndex int) []vec.Vec3 {
	s := d.snapshot()
	if lodIndex < 0 || lodIndex >= len(s.lods) {
		return append([]vec.Vec3(nil), positions...)
	}
	boundsInBlocks := s.bounds.Downscaled(d.BlockSize() << uint(lodIndex))
	l := s.lods[lodIndex]

	var missing []vec.Vec3
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, bpos := range positions {
		if !boundsInBlocks.Contains(bpos) || !l.m.HasBlock(bpos) {
			missing = append(missing, bpos)
		}
	}
	return missing
}

// GetMissingBlocksInBox возвращает отсутствующие блоки в области блоков
func (d *VoxelData) GetMissingBlocksInBox(blockBox vec.Box3, lodIndex int) []vec.Vec3 {
	positions := make([]vec.Vec3, 0, blockBox.Volume())
	blockBox.ForEachCell(func(bpos vec.Vec3) {
		positions = append(positions, bpos)
	})
	return d.GetMissingBlocks(positions, lodIndex)
}

// ForEachBlock обходит блоки всех уровней по возрастанию LOD.
// fn не должна обращаться к VoxelData.
func (d *VoxelData) ForEachBlock(fn func(loc BlockLocation, block *DataBlock)) {
	s := d.snapshot()
	for lodIndex := range s.lods {
		d.forEachBlockAt(s, lodIndex, fn)
	}
}

// ForEachBlockAtLOD обходит блоки одного уровня
func (d *VoxelData) ForEachBlockAtLOD(lodIndex int, fn func(loc BlockLocation, block *DataBlock)) {
	s := d.snapshot()
	if lodIndex < 0 || lodIndex >= len(s.lods) {
		return
	}
	d.forEachBlockAt(s, lodIndex, fn)
}

func (d *VoxelData) forEachBlockAt(s settings, lodIndex int, fn func(loc BlockLocation, block *DataBlock)) {
	l := s.lods[lodIndex]
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.m.ForEachBlock(func(bpos vec.Vec3, block *DataBlock) {
		fn(BlockLocation{Position: bpos, LOD: lodIndex}, block)
	})
}

// GetBlocksWithVoxelData возвращает буферы блоков области в порядке ZXY.
// Для отсутствующих или пустых блоков в срезе nil. Каждый буфер нужно отпустить через Release.
func (d *VoxelData) GetBlocksWithVoxelData(blockBox vec.Box3, lodIndex int) []*Buffer {
	s := d.snapshot()
	if lodIndex < 0 || lodIndex >= len(s.lods) {
		return nil
	}
	l := s.lods[lodIndex]
	out := make([]*Buffer, 0, blockBox.Volume())
	l.mu.RLock()
	defer l.mu.RUnlock()
	blockBox.ForEachCell(func(bpos vec.Vec3) {
		var buf *Buffer
		if block := l.m.GetBlock(bpos); block != nil {
			buf = block.VoxelsShared()
		}
		out = append(out, buf)
	})
	return out
}

// GetBlocksGrid возвращает сетку соседних блоков для алгоритмов вроде построения меша
func (d *VoxelData) GetBlocksGrid(blockBox vec.Box3, lodIndex int) *DataGrid {
	return &DataGrid{
		box:          blockBox,
		blockSizePo2: d.blockSizePo2,
		blocks:       d.GetBlocksWithVoxelData(blockBox, lodIndex),
	}
}
