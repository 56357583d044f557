package voxel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/annel0/voxel-terrain/internal/mempool"
	"github.com/annel0/voxel-terrain/internal/vec"
)

var (
	ErrOutOfBounds    = errors.New("voxel: координаты вне буфера")
	ErrDepthMismatch  = errors.New("voxel: глубина каналов не совпадает")
	ErrSizeMismatch   = errors.New("voxel: размеры буферов не совпадают")
	ErrInvalidChannel = errors.New("voxel: недопустимый канал")
)

// channel хранит либо одно значение на весь буфер (data == nil),
// либо плотный массив значений, выделенный из пула.
type channel struct {
	data   []byte
	defval uint64
	depth  Depth
}

func (c *channel) get(i int) uint64 {
	switch c.depth {
	case Depth8Bit:
		return uint64(c.data[i])
	case Depth16Bit:
		return uint64(binary.LittleEndian.Uint16(c.data[i*2:]))
	default:
		return uint64(binary.LittleEndian.Uint32(c.data[i*4:]))
	}
}

func (c *channel) set(i int, v uint64) {
	switch c.depth {
	case Depth8Bit:
		c.data[i] = byte(v)
	case Depth16Bit:
		binary.LittleEndian.PutUint16(c.data[i*2:], uint16(v))
	default:
		binary.LittleEndian.PutUint32(c.data[i*4:], uint32(v))
	}
}

// Buffer представляет собой трёхмерную сетку вокселей из нескольких каналов.
//
// Порядок хранения ZXY: Y меняется быстрее всего.
// Буфер не потокобезопасен; счётчик ссылок позволяет фоновым задачам
// удерживать буфер после того, как его слот в карте был заменён.
type Buffer struct {
	channels [MaxChannels]channel
	size     vec.Vec3
	pool     *mempool.Pool
	refs     atomic.Int32
}

// BufferOption настраивает буфер при создании
type BufferOption func(*Buffer)

// WithChannelDepth задаёт разрядность канала
func WithChannelDepth(ch ChannelID, d Depth) BufferOption {
	return func(b *Buffer) {
		if ch.Valid() && d.Valid() {
			b.channels[ch].depth = d
			b.channels[ch].defval = defaultValue(ch, d)
		}
	}
}

// WithDepths задаёт разрядности всех каналов
func WithDepths(depths [MaxChannels]Depth) BufferOption {
	return func(b *Buffer) {
		for i, d := range depths {
			WithChannelDepth(ChannelID(i), d)(b)
		}
	}
}

// NewBuffer создаёт буфер заданного размера. Все каналы изначально однородны.
// Если pool равен nil, плотные каналы выделяются напрямую.
func NewBuffer(pool *mempool.Pool, size vec.Vec3, opts ...BufferOption) *Buffer {
	b := &Buffer{pool: pool}
	for i := range b.channels {
		ch := ChannelID(i)
		b.channels[i].depth = DefaultDepths[i]
		b.channels[i].defval = defaultValue(ch, DefaultDepths[i])
	}
	for _, opt := range opts {
		opt(b)
	}
	b.size = size.Max(vec.Vec3{})
	b.refs.Store(1)
	return b
}

// Size возвращает размер буфера
func (b *Buffer) Size() vec.Vec3 {
	return b.size
}

// Volume возвращает количество вокселей
func (b *Buffer) Volume() int {
	return b.size.Volume()
}

// Pool возвращает пул, из которого выделяется память
func (b *Buffer) Pool() *mempool.Pool {
	return b.pool
}

// Depths возвращает разрядности каналов
func (b *Buffer) Depths() [MaxChannels]Depth {
	var d [MaxChannels]Depth
	for i := range b.channels {
		d[i] = b.channels[i].depth
	}
	return d
}

// ChannelDepth возвращает разрядность канала
func (b *Buffer) ChannelDepth(ch ChannelID) Depth {
	return b.channels[ch].depth
}

// IsUniform true, если канал хранится одним значением
func (b *Buffer) IsUniform(ch ChannelID) bool {
	return b.channels[ch].data == nil
}

// UniformValue возвращает значение однородного канала
func (b *Buffer) UniformValue(ch ChannelID) (uint64, bool) {
	c := &b.channels[ch]
	if c.data != nil {
		return 0, false
	}
	return c.defval, true
}

// DenseMemory возвращает объём памяти, занятой плотными каналами
func (b *Buffer) DenseMemory() int {
	total := 0
	for i := range b.channels {
		total += len(b.channels[i].data)
	}
	return total
}

func (b *Buffer) contains(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < b.size.X && y < b.size.Y && z < b.size.Z
}

func (b *Buffer) index(x, y, z int) int {
	return y + b.size.Y*(x+b.size.X*z)
}

// GetVoxel читает значение канала в точке (x, y, z)
func (b *Buffer) GetVoxel(x, y, z int, ch ChannelID) (uint64, error) {
	if !ch.Valid() {
		return 0, ErrInvalidChannel
	}
	if !b.contains(x, y, z) {
		return 0, fmt.Errorf("%w: (%d, %d, %d) при размере %v", ErrOutOfBounds, x, y, z, b.size)
	}
	c := &b.channels[ch]
	if c.data == nil {
		return c.defval, nil
	}
	return c.get(b.index(x, y, z)), nil
}

// GetVoxelAt работает как GetVoxel, но принимает вектор
func (b *Buffer) GetVoxelAt(p vec.Vec3, ch ChannelID) (uint64, error) {
	return b.GetVoxel(p.X, p.Y, p.Z, ch)
}

// SetVoxel записывает значение канала в точке (x, y, z).
// Значение обрезается до разрядности канала.
func (b *Buffer) SetVoxel(v uint64, x, y, z int, ch ChannelID) error {
	if !ch.Valid() {
		return ErrInvalidChannel
	}
	if !b.contains(x, y, z) {
		return fmt.Errorf("%w: (%d, %d, %d) при размере %v", ErrOutOfBounds, x, y, z, b.size)
	}
	c := &b.channels[ch]
	v &= c.depth.Mask()
	if c.data == nil {
		if c.defval == v {
			return nil
		}
		b.Decompress(ch)
	}
	c.set(b.index(x, y, z), v)
	return nil
}

// SetVoxelAt работает как SetVoxel, но принимает вектор
func (b *Buffer) SetVoxelAt(v uint64, p vec.Vec3, ch ChannelID) error {
	return b.SetVoxel(v, p.X, p.Y, p.Z, ch)
}

// GetVoxelF читает значение канала как расстояние со знаком
func (b *Buffer) GetVoxelF(x, y, z int, ch ChannelID) (float64, error) {
	raw, err := b.GetVoxel(x, y, z, ch)
	if err != nil {
		return 0, err
	}
	return DecodeSDF(raw, b.channels[ch].depth), nil
}

// SetVoxelF записывает расстояние со знаком с квантованием под разрядность
func (b *Buffer) SetVoxelF(f float64, x, y, z int, ch ChannelID) error {
	if !ch.Valid() {
		return ErrInvalidChannel
	}
	return b.SetVoxel(EncodeSDF(f, b.channels[ch].depth), x, y, z, ch)
}

// Fill делает канал однородным, возвращая плотную память в пул
func (b *Buffer) Fill(v uint64, ch ChannelID) {
	c := &b.channels[ch]
	b.releaseChannel(c)
	c.defval = v & c.depth.Mask()
}

// FillAll делает однородными все каналы с одним значением
func (b *Buffer) FillAll(v uint64) {
	for i := range b.channels {
		b.Fill(v, ChannelID(i))
	}
}

// FillF заполняет канал расстоянием со знаком
func (b *Buffer) FillF(f float64, ch ChannelID) {
	b.Fill(EncodeSDF(f, b.channels[ch].depth), ch)
}

// FillArea заполняет значением область [minPos, maxPos), обрезанную по буферу
func (b *Buffer) FillArea(v uint64, minPos, maxPos vec.Vec3, ch ChannelID) {
	area := vec.BoxFromMinMax(minPos, maxPos).Clipped(vec.NewBox3(vec.Vec3{}, b.size))
	if area.IsEmpty() {
		return
	}
	c := &b.channels[ch]
	v &= c.depth.Mask()
	if area.Size.Equals(b.size) {
		b.Fill(v, ch)
		return
	}
	if c.data == nil {
		if c.defval == v {
			return
		}
		b.Decompress(ch)
	}
	end := area.End()
	for z := area.Pos.Z; z < end.Z; z++ {
		for x := area.Pos.X; x < end.X; x++ {
			i := b.index(x, area.Pos.Y, z)
			for y := area.Pos.Y; y < end.Y; y++ {
				c.set(i, v)
				i++
			}
		}
	}
}

// Decompress переводит канал в плотное представление, заполненное текущим значением
func (b *Buffer) Decompress(ch ChannelID) {
	c := &b.channels[ch]
	if c.data != nil || b.Volume() == 0 {
		return
	}
	c.data = b.alloc(b.Volume() * c.depth.Bytes())
	n := b.Volume()
	for i := 0; i < n; i++ {
		c.set(i, c.defval)
	}
}

// CompressUniform сворачивает канал в одно значение, если все значения равны.
// Возвращает true, если канал однороден после вызова.
func (b *Buffer) CompressUniform(ch ChannelID) bool {
	c := &b.channels[ch]
	if c.data == nil {
		return true
	}
	first := c.get(0)
	n := b.Volume()
	for i := 1; i < n; i++ {
		if c.get(i) != first {
			return false
		}
	}
	b.releaseChannel(c)
	c.defval = first
	return true
}

// CompressUniformChannels сжимает все каналы, где это возможно
func (b *Buffer) CompressUniformChannels() {
	for i := range b.channels {
		b.CompressUniform(ChannelID(i))
	}
}

// CopyChannelFrom копирует канал целиком из буфера того же размера
func (b *Buffer) CopyChannelFrom(src *Buffer, ch ChannelID) error {
	if !src.size.Equals(b.size) {
		return ErrSizeMismatch
	}
	sc := &src.channels[ch]
	dc := &b.channels[ch]
	if sc.depth != dc.depth {
		return fmt.Errorf("%w: канал %v", ErrDepthMismatch, ch)
	}
	if sc.data == nil {
		b.Fill(sc.defval, ch)
		return nil
	}
	if dc.data == nil {
		dc.data = b.alloc(len(sc.data))
	}
	copy(dc.data, sc.data)
	return nil
}

// CopyFrom копирует все каналы из буфера того же размера
func (b *Buffer) CopyFrom(src *Buffer) error {
	for i := range b.channels {
		if err := b.CopyChannelFrom(src, ChannelID(i)); err != nil {
			return err
		}
	}
	return nil
}

// CopyRegionFrom копирует область [srcMin, srcMax) канала src в этот буфер
// начиная с dstMin. Области обрезаются по обоим буферам.
func (b *Buffer) CopyRegionFrom(src *Buffer, srcMin, srcMax, dstMin vec.Vec3, ch ChannelID) error {
	sc := &src.channels[ch]
	dc := &b.channels[ch]
	if sc.depth != dc.depth {
		return fmt.Errorf("%w: канал %v", ErrDepthMismatch, ch)
	}
	srcBox, dstBox, ok := b.clipRegion(src, srcMin, srcMax, dstMin)
	if !ok {
		return nil
	}
	if sc.data == nil {
		b.FillArea(sc.defval, dstBox.Pos, dstBox.End(), ch)
		return nil
	}
	b.Decompress(ch)
	bpv := dc.depth.Bytes()
	rowBytes := srcBox.Size.Y * bpv
	for z := 0; z < srcBox.Size.Z; z++ {
		for x := 0; x < srcBox.Size.X; x++ {
			si := src.index(srcBox.Pos.X+x, srcBox.Pos.Y, srcBox.Pos.Z+z) * bpv
			di := b.index(dstBox.Pos.X+x, dstBox.Pos.Y, dstBox.Pos.Z+z) * bpv
			copy(dc.data[di:di+rowBytes], sc.data[si:si+rowBytes])
		}
	}
	return nil
}

// CopyRegionMaskedFrom работает как CopyRegionFrom, но пропускает значения,
// равные maskValue: там сохраняется прежнее содержимое.
func (b *Buffer) CopyRegionMaskedFrom(src *Buffer, srcMin, srcMax, dstMin vec.Vec3, ch ChannelID, maskValue uint64) error {
	sc := &src.channels[ch]
	dc := &b.channels[ch]
	if sc.depth != dc.depth {
		return fmt.Errorf("%w: канал %v", ErrDepthMismatch, ch)
	}
	srcBox, dstBox, ok := b.clipRegion(src, srcMin, srcMax, dstMin)
	if !ok {
		return nil
	}
	maskValue &= sc.depth.Mask()
	if sc.data == nil {
		if sc.defval != maskValue {
			b.FillArea(sc.defval, dstBox.Pos, dstBox.End(), ch)
		}
		return nil
	}
	b.Decompress(ch)
	for z := 0; z < srcBox.Size.Z; z++ {
		for x := 0; x < srcBox.Size.X; x++ {
			si := src.index(srcBox.Pos.X+x, srcBox.Pos.Y, srcBox.Pos.Z+z)
			di := b.index(dstBox.Pos.X+x, dstBox.Pos.Y, dstBox.Pos.Z+z)
			for y := 0; y < srcBox.Size.Y; y++ {
				if v := sc.get(si + y); v != maskValue {
					dc.set(di+y, v)
				}
			}
		}
	}
	return nil
}

// clipRegion обрезает исходную область по src, а смещённую — по этому буферу
func (b *Buffer) clipRegion(src *Buffer, srcMin, srcMax, dstMin vec.Vec3) (vec.Box3, vec.Box3, bool) {
	srcBox := vec.BoxFromMinMax(srcMin, srcMax).Clipped(vec.NewBox3(vec.Vec3{}, src.size))
	if srcBox.IsEmpty() {
		return vec.Box3{}, vec.Box3{}, false
	}
	offset := dstMin.Sub(srcMin)
	dstBox := vec.NewBox3(srcBox.Pos.Add(offset), srcBox.Size).Clipped(vec.NewBox3(vec.Vec3{}, b.size))
	if dstBox.IsEmpty() {
		return vec.Box3{}, vec.Box3{}, false
	}
	srcBox = vec.NewBox3(dstBox.Pos.Sub(offset), dstBox.Size)
	return srcBox, dstBox, true
}

// DownscaleTo прореживает область [srcMin, srcMax) вдвое и пишет её в dst
// начиная с dstMin. Берётся воксель с чётными координатами (ближайший сосед).
func (b *Buffer) DownscaleTo(dst *Buffer, srcMin, srcMax, dstMin vec.Vec3) {
	dstBox := vec.NewBox3(dstMin, srcMax.Sub(srcMin).Shr(1)).Clipped(vec.NewBox3(vec.Vec3{}, dst.size))
	if dstBox.IsEmpty() {
		return
	}
	for i := range b.channels {
		sc := &b.channels[i]
		dc := &dst.channels[i]
		ch := ChannelID(i)
		if sc.depth != dc.depth {
			continue
		}
		if sc.data == nil {
			dst.FillArea(sc.defval, dstBox.Pos, dstBox.End(), ch)
			continue
		}
		dst.Decompress(ch)
		dstBox.ForEachCell(func(d vec.Vec3) {
			s := d.Sub(dstMin).Shl(1).Add(srcMin)
			if b.contains(s.X, s.Y, s.Z) {
				dc.set(dst.index(d.X, d.Y, d.Z), sc.get(b.index(s.X, s.Y, s.Z)))
			}
		})
	}
}

// Create меняет размер буфера. Плотные каналы выделяются заново и
// заполняются значением по умолчанию; данные не сохраняются.
func (b *Buffer) Create(size vec.Vec3) {
	var dense [MaxChannels]bool
	for i := range b.channels {
		dense[i] = b.channels[i].data != nil
		b.releaseChannel(&b.channels[i])
	}
	b.size = size.Max(vec.Vec3{})
	for i, d := range dense {
		if d {
			b.Decompress(ChannelID(i))
		}
	}
}

// Clear делает все каналы однородными, сохраняя значения по умолчанию
func (b *Buffer) Clear() {
	for i := range b.channels {
		b.releaseChannel(&b.channels[i])
	}
}

// Clone создаёт независимую копию буфера со своим счётчиком ссылок
func (b *Buffer) Clone() *Buffer {
	c := &Buffer{size: b.size, pool: b.pool}
	c.refs.Store(1)
	for i := range b.channels {
		c.channels[i].depth = b.channels[i].depth
		c.channels[i].defval = b.channels[i].defval
		if src := b.channels[i].data; src != nil {
			c.channels[i].data = c.alloc(len(src))
			copy(c.channels[i].data, src)
		}
	}
	return c
}

// Equals сравнивает размеры и значения всех каналов
func (b *Buffer) Equals(other *Buffer) bool {
	if !b.size.Equals(other.size) {
		return false
	}
	for i := range b.channels {
		if !b.ChannelEquals(other, ChannelID(i)) {
			return false
		}
	}
	return true
}

// ChannelEquals сравнивает значения одного канала
func (b *Buffer) ChannelEquals(other *Buffer, ch ChannelID) bool {
	if !b.size.Equals(other.size) {
		return false
	}
	a, o := &b.channels[ch], &other.channels[ch]
	if a.data == nil && o.data == nil {
		return a.defval == o.defval
	}
	n := b.Volume()
	for i := 0; i < n; i++ {
		if a.valueAt(i) != o.valueAt(i) {
			return false
		}
	}
	return true
}

func (c *channel) valueAt(i int) uint64 {
	if c.data == nil {
		return c.defval
	}
	return c.get(i)
}

// ChannelData возвращает плотные данные канала только для чтения или nil
func (b *Buffer) ChannelData(ch ChannelID) []byte {
	return b.channels[ch].data
}

// SetChannelData заполняет канал копией сырых данных в формате ZXY, little-endian
func (b *Buffer) SetChannelData(ch ChannelID, raw []byte) error {
	c := &b.channels[ch]
	want := b.Volume() * c.depth.Bytes()
	if len(raw) != want {
		return fmt.Errorf("%w: канал %v ожидает %d байт, получено %d", ErrSizeMismatch, ch, want, len(raw))
	}
	if c.data == nil {
		c.data = b.alloc(want)
	}
	copy(c.data, raw)
	return nil
}

// Retain увеличивает счётчик ссылок и возвращает тот же буфер
func (b *Buffer) Retain() *Buffer {
	if b.refs.Add(1) <= 1 {
		panic("voxel: Retain освобождённого буфера")
	}
	return b
}

// Release уменьшает счётчик ссылок. Последняя ссылка возвращает память в пул.
func (b *Buffer) Release() {
	n := b.refs.Add(-1)
	switch {
	case n == 0:
		b.Clear()
	case n < 0:
		panic("voxel: лишний Release буфера")
	}
}

// RefCount возвращает текущее число ссылок
func (b *Buffer) RefCount() int {
	return int(b.refs.Load())
}

func (b *Buffer) alloc(size int) []byte {
	if b.pool == nil {
		return make([]byte, size)
	}
	return b.pool.Allocate(size)
}

func (b *Buffer) releaseChannel(c *channel) {
	if c.data == nil {
		return
	}
	if b.pool != nil {
		b.pool.Recycle(c.data)
	}
	c.data = nil
}

// WriteBox применяет action к каждому вокселю области box (в координатах буфера)
// канала ch. В action передаются координаты, смещённые на offset.
func (b *Buffer) WriteBox(box vec.Box3, ch ChannelID, offset vec.Vec3, action func(pos vec.Vec3, v uint64) uint64) {
	box = box.Clipped(vec.NewBox3(vec.Vec3{}, b.size))
	if box.IsEmpty() {
		return
	}
	b.Decompress(ch)
	c := &b.channels[ch]
	mask := c.depth.Mask()
	box.ForEachCell(func(p vec.Vec3) {
		i := b.index(p.X, p.Y, p.Z)
		c.set(i, action(p.Add(offset), c.get(i))&mask)
	})
}

// WriteBox2 работает как WriteBox, но читает и пишет два канала одновременно
func (b *Buffer) WriteBox2(box vec.Box3, ch1, ch2 ChannelID, offset vec.Vec3, action func(pos vec.Vec3, v1, v2 uint64) (uint64, uint64)) {
	box = box.Clipped(vec.NewBox3(vec.Vec3{}, b.size))
	if box.IsEmpty() {
		return
	}
	b.Decompress(ch1)
	b.Decompress(ch2)
	c1, c2 := &b.channels[ch1], &b.channels[ch2]
	m1, m2 := c1.depth.Mask(), c2.depth.Mask()
	box.ForEachCell(func(p vec.Vec3) {
		i := b.index(p.X, p.Y, p.Z)
		v1, v2 := action(p.Add(offset), c1.get(i), c2.get(i))
		c1.set(i, v1&m1)
		c2.set(i, v2&m2)
	})
}
