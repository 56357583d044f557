// Package generator содержит процедурные генераторы блоков.
//
// Все генераторы чистые: значение вокселя зависит только от его мировых координат
// и параметров, поэтому один и тот же воксель совпадает на любом LOD.
package generator

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/annel0/voxel-terrain/internal/config"
	"github.com/annel0/voxel-terrain/internal/vec"
	"github.com/annel0/voxel-terrain/internal/voxel"
)

// ErrUnknownGenerator возвращается для незарегистрированного типа
var ErrUnknownGenerator = errors.New("generator: неизвестный тип генератора")

// Factory создаёт генератор по конфигурации
type Factory func(cfg config.GeneratorConfig) (voxel.Generator, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{
		"flat":      func(cfg config.GeneratorConfig) (voxel.Generator, error) { return NewFlatFromConfig(cfg) },
		"heightmap": func(cfg config.GeneratorConfig) (voxel.Generator, error) { return NewHeightmapFromConfig(cfg) },
		"noise":     func(cfg config.GeneratorConfig) (voxel.Generator, error) { return NewNoiseFromConfig(cfg) },
	}
)

// Register добавляет фабрику генератора; существующая регистрация заменяется
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// Names возвращает зарегистрированные типы
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New создаёт генератор указанного в конфигурации типа
func New(cfg config.GeneratorConfig) (voxel.Generator, error) {
	registryMu.RLock()
	f, ok := registry[cfg.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGenerator, cfg.Type)
	}
	return f(cfg)
}

func parseChannel(name string) (voxel.ChannelID, error) {
	if name == "" {
		return voxel.ChannelSDF, nil
	}
	ch, ok := voxel.ParseChannel(name)
	if !ok || (ch != voxel.ChannelSDF && ch != voxel.ChannelType) {
		return 0, fmt.Errorf("generator: канал %q не поддерживается", name)
	}
	return ch, nil
}

// fillField записывает в канал ch значения поля расстояний sdf(world).
// Для канала типа ниже поверхности ставится blockType, выше ноль.
func fillField(buf *voxel.Buffer, origin vec.Vec3, lod int, ch voxel.ChannelID, blockType uint64, sdf func(world vec.Vec3) float64) {
	depth := buf.ChannelDepth(ch)
	box := vec.NewBox3(vec.Vec3{}, buf.Size())
	buf.WriteBox(box, ch, vec.Vec3{}, func(p vec.Vec3, _ uint64) uint64 {
		d := sdf(origin.Add(p.Shl(uint(lod))))
		if ch == voxel.ChannelSDF {
			return voxel.EncodeSDF(d, depth)
		}
		if d < 0 {
			return blockType
		}
		return 0
	})
	buf.CompressUniform(ch)
}
