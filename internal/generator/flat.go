package generator

import (
	"github.com/annel0/voxel-terrain/internal/config"
	"github.com/annel0/voxel-terrain/internal/vec"
	"github.com/annel0/voxel-terrain/internal/voxel"
)

// Flat строит горизонтальную плоскость на высоте Height
type Flat struct {
	Channel   voxel.ChannelID
	Height    float64
	BlockType uint64
}

// NewFlatFromConfig создаёт плоский генератор
func NewFlatFromConfig(cfg config.GeneratorConfig) (*Flat, error) {
	ch, err := parseChannel(cfg.Channel)
	if err != nil {
		return nil, err
	}
	return &Flat{Channel: ch, Height: cfg.Height, BlockType: cfg.BlockType}, nil
}

// GenerateBlock заполняет блок
func (g *Flat) GenerateBlock(buf *voxel.Buffer, origin vec.Vec3, lod int) {
	top := origin.Y + buf.Size().Y<<uint(lod)
	switch {
	case g.Channel == voxel.ChannelType && float64(origin.Y) >= g.Height:
		buf.Fill(0, g.Channel)
	case g.Channel == voxel.ChannelType && float64(top) <= g.Height:
		buf.Fill(g.BlockType, g.Channel)
	default:
		fillField(buf, origin, lod, g.Channel, g.BlockType, func(w vec.Vec3) float64 {
			return float64(w.Y) - g.Height
		})
	}
}

// UsedChannelsMask возвращает заполняемые каналы
func (g *Flat) UsedChannelsMask() voxel.ChannelMask {
	return voxel.MaskOf(g.Channel)
}
