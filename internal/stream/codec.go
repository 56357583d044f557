// Package stream содержит хранилища блоков: в памяти, BadgerDB и Redis.
package stream

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/annel0/voxel-terrain/internal/vec"
	"github.com/annel0/voxel-terrain/internal/voxel"
	"github.com/klauspost/compress/zstd"
)

var (
	ErrCorruptBlock       = errors.New("stream: повреждённые данные блока")
	ErrUnsupportedVersion = errors.New("stream: неподдерживаемая версия формата блока")
)

const formatVersion = 1

// Compression задаёт способ сжатия тела блока
type Compression byte

const (
	CompressionNone Compression = iota
	CompressionZstd
)

// ParseCompression разбирает имя способа сжатия
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "zstd":
		return CompressionZstd, nil
	case "none":
		return CompressionNone, nil
	default:
		return 0, fmt.Errorf("stream: неизвестное сжатие %q", name)
	}
}

// Codec сериализует буферы блоков.
//
// Формат: версия (1 байт), сжатие (1 байт), затем тело:
// размер X, Y, Z (uint16) и для каждого канала разрядность (1 байт),
// режим (1 байт: 0 однородный, 1 плотный) и значение uint32 либо сырые данные ZXY.
// Все числа little-endian. Кодек безопасен для одновременного использования.
type Codec struct {
	compression Compression
	encoder     *zstd.Encoder
	decoder     *zstd.Decoder
}

// NewCodec создаёт кодек с заданным сжатием
func NewCodec(compression Compression) (*Codec, error) {
	c := &Codec{compression: compression}
	var err error
	c.encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	c.decoder, err = zstd.NewReader(nil)
	if err != nil {
		c.encoder.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return c, nil
}

// Encode сериализует буфер
func (c *Codec) Encode(buf *voxel.Buffer) ([]byte, error) {
	size := buf.Size()
	if size.X > 0xffff || size.Y > 0xffff || size.Z > 0xffff {
		return nil, fmt.Errorf("stream: размер буфера %v не помещается в формат", size)
	}
	body := make([]byte, 0, 6+voxel.MaxChannels*6)
	body = binary.LittleEndian.AppendUint16(body, uint16(size.X))
	body = binary.LittleEndian.AppendUint16(body, uint16(size.Y))
	body = binary.LittleEndian.AppendUint16(body, uint16(size.Z))

	for i := voxel.ChannelID(0); i < voxel.MaxChannels; i++ {
		body = append(body, byte(buf.ChannelDepth(i)))
		if v, ok := buf.UniformValue(i); ok {
			body = append(body, 0)
			body = binary.LittleEndian.AppendUint32(body, uint32(v))
			continue
		}
		body = append(body, 1)
		body = append(body, buf.ChannelData(i)...)
	}

	out := []byte{formatVersion, byte(c.compression)}
	if c.compression == CompressionZstd {
		return c.encoder.EncodeAll(body, out), nil
	}
	return append(out, body...), nil
}

// Decode восстанавливает буфер в out. Если размер отличается, out пересоздаётся.
// Разрядности каналов out должны совпадать с сохранёнными.
func (c *Codec) Decode(data []byte, out *voxel.Buffer) error {
	if len(data) < 2 {
		return ErrCorruptBlock
	}
	if data[0] != formatVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, data[0])
	}
	body := data[2:]
	switch Compression(data[1]) {
	case CompressionNone:
	case CompressionZstd:
		var err error
		body, err = c.decoder.DecodeAll(body, nil)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptBlock, err)
		}
	default:
		return fmt.Errorf("%w: сжатие %d", ErrCorruptBlock, data[1])
	}

	if len(body) < 6 {
		return ErrCorruptBlock
	}
	size := vec.New3(
		int(binary.LittleEndian.Uint16(body[0:])),
		int(binary.LittleEndian.Uint16(body[2:])),
		int(binary.LittleEndian.Uint16(body[4:])),
	)
	body = body[6:]
	if !out.Size().Equals(size) {
		out.Create(size)
	}

	for i := voxel.ChannelID(0); i < voxel.MaxChannels; i++ {
		if len(body) < 2 {
			return ErrCorruptBlock
		}
		depth, mode := voxel.Depth(body[0]), body[1]
		body = body[2:]
		if depth != out.ChannelDepth(i) {
			return fmt.Errorf("%w: канал %v", voxel.ErrDepthMismatch, i)
		}
		switch mode {
		case 0:
			if len(body) < 4 {
				return ErrCorruptBlock
			}
			out.Fill(uint64(binary.LittleEndian.Uint32(body)), i)
			body = body[4:]
		case 1:
			n := size.Volume() * depth.Bytes()
			if len(body) < n {
				return ErrCorruptBlock
			}
			if err := out.SetChannelData(i, body[:n]); err != nil {
				return err
			}
			body = body[n:]
		default:
			return fmt.Errorf("%w: режим канала %d", ErrCorruptBlock, mode)
		}
	}
	return nil
}

// Close освобождает ресурсы zstd
func (c *Codec) Close() {
	c.encoder.Close()
	c.decoder.Close()
}

// blockKey строит ключ блока по уровню и началу в вокселях LOD 0
func blockKey(prefix string, origin vec.Vec3, lod int) string {
	return fmt.Sprintf("%s:%d:%d:%d:%d", prefix, lod, origin.X, origin.Y, origin.Z)
}
