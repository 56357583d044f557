package voxel

import "math"

// ChannelID задаёт индекс канала внутри буфера
type ChannelID int

const (
	ChannelType ChannelID = iota // Тип блока (блочные миры)
	ChannelSDF                   // Поле расстояний со знаком (гладкие миры)
	ChannelColor
	ChannelIndices // Индексы материалов
	ChannelWeights // Веса материалов
	ChannelData5
	ChannelData6
	ChannelData7

	MaxChannels = 8
)

var channelNames = [MaxChannels]string{"type", "sdf", "color", "indices", "weights", "data5", "data6", "data7"}

// String возвращает имя канала
func (c ChannelID) String() string {
	if c < 0 || c >= MaxChannels {
		return "invalid"
	}
	return channelNames[c]
}

// Valid проверяет, что индекс канала допустим
func (c ChannelID) Valid() bool {
	return c >= 0 && c < MaxChannels
}

// ParseChannel возвращает канал по имени
func ParseChannel(name string) (ChannelID, bool) {
	for i, n := range channelNames {
		if n == name {
			return ChannelID(i), true
		}
	}
	return 0, false
}

// ChannelMask описывает набор каналов битовой маской
type ChannelMask uint32

// AllChannels включает все каналы
const AllChannels ChannelMask = 1<<MaxChannels - 1

// MaskOf строит маску из списка каналов
func MaskOf(channels ...ChannelID) ChannelMask {
	var m ChannelMask
	for _, c := range channels {
		m |= 1 << uint(c)
	}
	return m
}

// Has проверяет наличие канала в маске
func (m ChannelMask) Has(c ChannelID) bool {
	return m&(1<<uint(c)) != 0
}

// Depth задаёт разрядность значений канала
type Depth uint8

const (
	Depth8Bit Depth = iota
	Depth16Bit
	Depth32Bit
)

// Bytes возвращает размер одного значения в байтах
func (d Depth) Bytes() int {
	switch d {
	case Depth8Bit:
		return 1
	case Depth16Bit:
		return 2
	default:
		return 4
	}
}

// Mask возвращает маску допустимых значений
func (d Depth) Mask() uint64 {
	switch d {
	case Depth8Bit:
		return 0xff
	case Depth16Bit:
		return 0xffff
	default:
		return 0xffffffff
	}
}

// Valid проверяет, что глубина известна
func (d Depth) Valid() bool {
	return d <= Depth32Bit
}

// Глубины каналов по умолчанию
var DefaultDepths = [MaxChannels]Depth{
	ChannelType:    Depth16Bit,
	ChannelSDF:     Depth16Bit,
	ChannelColor:   Depth32Bit,
	ChannelIndices: Depth16Bit,
	ChannelWeights: Depth16Bit,
	ChannelData5:   Depth32Bit,
	ChannelData6:   Depth32Bit,
	ChannelData7:   Depth32Bit,
}

// Масштабы квантования SDF: значение умножается на масштаб и
// хранится как нормализованное целое со знаком.
const (
	sdfScale8  = 0.1
	sdfScale16 = 0.002
)

// MaxSDF задаёт значение SDF «далеко снаружи», используемое по умолчанию
const MaxSDF = 1 / sdfScale16

// EncodeSDF квантует значение расстояния под разрядность канала.
// 32-битные каналы хранят float32 без потерь.
func EncodeSDF(f float64, d Depth) uint64 {
	switch d {
	case Depth8Bit:
		n := clampF(f*sdfScale8, -1, 1)
		return uint64(uint8(int8(math.Round(n * 127))))
	case Depth16Bit:
		n := clampF(f*sdfScale16, -1, 1)
		return uint64(uint16(int16(math.Round(n * 32767))))
	default:
		return uint64(math.Float32bits(float32(f)))
	}
}

// DecodeSDF восстанавливает значение расстояния из сырого значения
func DecodeSDF(raw uint64, d Depth) float64 {
	switch d {
	case Depth8Bit:
		return float64(int8(uint8(raw))) / 127 / sdfScale8
	case Depth16Bit:
		return float64(int16(uint16(raw))) / 32767 / sdfScale16
	default:
		return float64(math.Float32frombits(uint32(raw)))
	}
}

func defaultValue(c ChannelID, d Depth) uint64 {
	if c == ChannelSDF {
		return EncodeSDF(MaxSDF, d)
	}
	return 0
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
