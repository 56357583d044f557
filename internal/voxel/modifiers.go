package voxel

import (
	"math"
	"sort"
	"sync"

	"github.com/annel0/voxel-terrain/internal/vec"
)

// Modifier описывает процедурную надстройку поверх данных генератора
type Modifier interface {
	// Apply изменяет буфер блока с началом origin на уровне lod
	Apply(buf *Buffer, origin vec.Vec3, lod int)
	// Bounds возвращает затрагиваемую область в вокселях LOD 0
	Bounds() vec.Box3
}

// SDFOperation задаёт способ совмещения модификатора с полем
type SDFOperation int

const (
	SDFUnion SDFOperation = iota
	SDFSubtract
)

// SphereModifier добавляет или вырезает сферу в канале SDF
type SphereModifier struct {
	Center    vec.Vec3Float
	Radius    float64
	Operation SDFOperation
}

// Bounds возвращает ящик, покрывающий сферу
func (m *SphereModifier) Bounds() vec.Box3 {
	r := vec.Vec3Float{X: m.Radius, Y: m.Radius, Z: m.Radius}
	minPos := m.Center.Sub(r).Floor()
	maxPos := vec.Vec3Float{X: m.Center.X + m.Radius, Y: m.Center.Y + m.Radius, Z: m.Center.Z + m.Radius}.Ceil()
	return vec.BoxFromMinMax(minPos, maxPos.Add(vec.Splat3(1)))
}

// Apply пересчитывает SDF в вокселях блока, попадающих в сферу
func (m *SphereModifier) Apply(buf *Buffer, origin vec.Vec3, lod int) {
	bounds := m.Bounds()
	blockBox := vec.NewBox3(origin, buf.Size().Shl(uint(lod)))
	if !bounds.Intersects(blockBox) {
		return
	}
	depth := buf.ChannelDepth(ChannelSDF)
	local := vec.NewBox3(vec.Vec3{}, buf.Size())
	buf.WriteBox(local, ChannelSDF, vec.Vec3{}, func(p vec.Vec3, v uint64) uint64 {
		world := origin.Add(p.Shl(uint(lod)))
		d := world.ToFloat().Sub(m.Center).Length() - m.Radius
		cur := DecodeSDF(v, depth)
		switch m.Operation {
		case SDFSubtract:
			cur = math.Max(cur, -d)
		default:
			cur = math.Min(cur, d)
		}
		return EncodeSDF(cur, depth)
	})
}

// ModifierStack хранит упорядоченный набор модификаторов.
// Методы безопасны для одновременного вызова.
type ModifierStack struct {
	mu        sync.RWMutex
	modifiers map[uint32]Modifier
	nextID    uint32
}

// NewModifierStack создаёт пустой стек
func NewModifierStack() *ModifierStack {
	return &ModifierStack{modifiers: make(map[uint32]Modifier), nextID: 1}
}

// Add добавляет модификатор и возвращает его идентификатор
func (s *ModifierStack) Add(m Modifier) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.modifiers[id] = m
	return id
}

// Remove удаляет модификатор; возвращает false, если его не было
func (s *ModifierStack) Remove(id uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.modifiers[id]; !ok {
		return false
	}
	delete(s.modifiers, id)
	return true
}

// Get возвращает модификатор по идентификатору
func (s *ModifierStack) Get(id uint32) (Modifier, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.modifiers[id]
	return m, ok
}

// Clear удаляет все модификаторы
func (s *ModifierStack) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modifiers = make(map[uint32]Modifier)
}

// Count возвращает количество модификаторов
func (s *ModifierStack) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.modifiers)
}

// Apply применяет модификаторы в порядке добавления к блоку с началом origin
func (s *ModifierStack) Apply(buf *Buffer, origin vec.Vec3, lod int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.modifiers) == 0 {
		return
	}
	blockBox := vec.NewBox3(origin, buf.Size().Shl(uint(lod)))
	ids := make([]uint32, 0, len(s.modifiers))
	for id := range s.modifiers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		m := s.modifiers[id]
		if m.Bounds().Intersects(blockBox) {
			m.Apply(buf, origin, lod)
		}
	}
}
