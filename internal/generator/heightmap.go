package generator

import (
	"math"

	"github.com/annel0/voxel-terrain/internal/config"
	"github.com/annel0/voxel-terrain/internal/vec"
	"github.com/annel0/voxel-terrain/internal/voxel"
	"github.com/aquilax/go-perlin"
)

// Heightmap строит рельеф по двумерному шуму Перлина.
// Высота в точке (x, z) лежит в [HeightStart, HeightStart+HeightRange].
type Heightmap struct {
	Channel     voxel.ChannelID
	HeightStart float64
	HeightRange float64
	Scale       float64
	BlockType   uint64

	noise *perlin.Perlin
}

// NewHeightmap создаёт генератор с заданным сидом
func NewHeightmap(seed int64, octaves int, channel voxel.ChannelID, heightStart, heightRange, scale float64) *Heightmap {
	if octaves <= 0 {
		octaves = 3
	}
	if scale <= 0 {
		scale = 128
	}
	alpha := 2.0 // Сглаживание шума
	beta := 2.0  // Частота шума
	return &Heightmap{
		Channel:     channel,
		HeightStart: heightStart,
		HeightRange: heightRange,
		Scale:       scale,
		BlockType:   1,
		noise:       perlin.NewPerlin(alpha, beta, int32(octaves), seed),
	}
}

// NewHeightmapFromConfig создаёт генератор по конфигурации
func NewHeightmapFromConfig(cfg config.GeneratorConfig) (*Heightmap, error) {
	ch, err := parseChannel(cfg.Channel)
	if err != nil {
		return nil, err
	}
	g := NewHeightmap(cfg.Seed, cfg.Octaves, ch, cfg.HeightStart, cfg.HeightRange, cfg.Scale)
	if cfg.BlockType != 0 {
		g.BlockType = cfg.BlockType
	}
	return g, nil
}

// HeightAt возвращает высоту поверхности в колонке (x, z)
func (g *Heightmap) HeightAt(x, z int) float64 {
	// Шум в [-1, 1] переводится в [0, 1]
	n := (g.noise.Noise2D(float64(x)/g.Scale, float64(z)/g.Scale) + 1) / 2
	n = math.Max(0, math.Min(1, n))
	return g.HeightStart + n*g.HeightRange
}

// GenerateBlock заполняет блок
func (g *Heightmap) GenerateBlock(buf *voxel.Buffer, origin vec.Vec3, lod int) {
	top := origin.Y + buf.Size().Y<<uint(lod)
	if g.Channel == voxel.ChannelType {
		// Блок целиком выше или ниже диапазона высот
		if float64(origin.Y) >= g.HeightStart+g.HeightRange {
			buf.Fill(0, g.Channel)
			return
		}
		if float64(top) <= g.HeightStart {
			buf.Fill(g.BlockType, g.Channel)
			return
		}
	}

	step := 1 << uint(lod)
	size := buf.Size()
	heights := make([]float64, size.X*size.Z)
	for z := 0; z < size.Z; z++ {
		for x := 0; x < size.X; x++ {
			heights[x+z*size.X] = g.HeightAt(origin.X+x*step, origin.Z+z*step)
		}
	}
	fillField(buf, origin, lod, g.Channel, g.BlockType, func(w vec.Vec3) float64 {
		lx := (w.X - origin.X) / step
		lz := (w.Z - origin.Z) / step
		return float64(w.Y) - heights[lx+lz*size.X]
	})
}

// UsedChannelsMask возвращает заполняемые каналы
func (g *Heightmap) UsedChannelsMask() voxel.ChannelMask {
	return voxel.MaskOf(g.Channel)
}
