package generator

import (
	"github.com/annel0/voxel-terrain/internal/config"
	"github.com/annel0/voxel-terrain/internal/vec"
	"github.com/annel0/voxel-terrain/internal/voxel"
	"github.com/ojrac/opensimplex-go"
)

// Noise строит объёмный шум OpenSimplex, смещённый по высоте.
// Ниже HeightStart всегда твёрдое тело, выше HeightStart+HeightRange всегда воздух,
// между ними поверхность определяет шум.
type Noise struct {
	Channel     voxel.ChannelID
	HeightStart float64
	HeightRange float64
	Scale       float64
	Octaves     int
	BlockType   uint64

	noise opensimplex.Noise
}

// NewNoise создаёт генератор с заданным сидом
func NewNoise(seed int64, channel voxel.ChannelID, heightStart, heightRange float64) *Noise {
	if heightRange <= 0 {
		heightRange = 300
	}
	return &Noise{
		Channel:     channel,
		HeightStart: heightStart,
		HeightRange: heightRange,
		Scale:       64,
		Octaves:     3,
		BlockType:   1,
		noise:       opensimplex.New(seed),
	}
}

// NewNoiseFromConfig создаёт генератор по конфигурации
func NewNoiseFromConfig(cfg config.GeneratorConfig) (*Noise, error) {
	ch, err := parseChannel(cfg.Channel)
	if err != nil {
		return nil, err
	}
	g := NewNoise(cfg.Seed, ch, cfg.HeightStart, cfg.HeightRange)
	if cfg.Scale > 0 {
		g.Scale = cfg.Scale
	}
	if cfg.Octaves > 0 {
		g.Octaves = cfg.Octaves
	}
	if cfg.BlockType != 0 {
		g.BlockType = cfg.BlockType
	}
	return g, nil
}

// fractal суммирует октавы шума; результат в [-1, 1]
func (g *Noise) fractal(x, y, z float64) float64 {
	sum := 0.0
	amplitude := 1.0
	norm := 0.0
	for i := 0; i < g.Octaves; i++ {
		sum += g.noise.Eval3(x/g.Scale, y/g.Scale, z/g.Scale) * amplitude
		norm += amplitude
		x *= 2
		y *= 2
		z *= 2
		amplitude *= 0.5
	}
	if norm == 0 {
		return 0
	}
	return sum / norm
}

// DistanceAt возвращает значение поля в мировой точке
func (g *Noise) DistanceAt(p vec.Vec3) float64 {
	t := (float64(p.Y) - g.HeightStart) / g.HeightRange
	n := g.fractal(float64(p.X), float64(p.Y), float64(p.Z))
	return (n + 2*t - 1) * g.HeightRange / 2
}

// GenerateBlock заполняет блок
func (g *Noise) GenerateBlock(buf *voxel.Buffer, origin vec.Vec3, lod int) {
	top := origin.Y + buf.Size().Y<<uint(lod)
	if g.Channel == voxel.ChannelType {
		if float64(origin.Y) > g.HeightStart+g.HeightRange {
			buf.Fill(0, g.Channel)
			return
		}
		if float64(top) < g.HeightStart {
			buf.Fill(g.BlockType, g.Channel)
			return
		}
	}
	fillField(buf, origin, lod, g.Channel, g.BlockType, g.DistanceAt)
}

// UsedChannelsMask возвращает заполняемые каналы
func (g *Noise) UsedChannelsMask() voxel.ChannelMask {
	return voxel.MaskOf(g.Channel)
}
