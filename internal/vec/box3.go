package vec

// Box3 описывает выровненный по осям ящик целочисленных ячеек.
// Pos — минимальный угол (включительно), Size — размер.
// Ящик с неположительным размером по любой оси считается пустым.
type Box3 struct {
	Pos  Vec3
	Size Vec3
}

// NewBox3 создаёт ящик по позиции и размеру
func NewBox3(pos, size Vec3) Box3 {
	return Box3{Pos: pos, Size: size}
}

// BoxFromMinMax создаёт ящик по минимальному (включительно) и максимальному (исключительно) углам
func BoxFromMinMax(minPos, maxPos Vec3) Box3 {
	return Box3{Pos: minPos, Size: maxPos.Sub(minPos)}
}

// End возвращает максимальный угол (исключительно)
func (b Box3) End() Vec3 {
	return b.Pos.Add(b.Size)
}

// IsEmpty true, если ящик не содержит ни одной ячейки
func (b Box3) IsEmpty() bool {
	return b.Size.AnyNonPositive()
}

// Volume возвращает количество ячеек
func (b Box3) Volume() int {
	if b.IsEmpty() {
		return 0
	}
	return b.Size.Volume()
}

// Contains проверяет, лежит ли ячейка внутри ящика
func (b Box3) Contains(p Vec3) bool {
	end := b.End()
	return p.X >= b.Pos.X && p.Y >= b.Pos.Y && p.Z >= b.Pos.Z &&
		p.X < end.X && p.Y < end.Y && p.Z < end.Z
}

// ContainsBox проверяет, что другой ящик целиком внутри
func (b Box3) ContainsBox(other Box3) bool {
	if other.IsEmpty() {
		return true
	}
	oe := other.End()
	e := b.End()
	return other.Pos.X >= b.Pos.X && other.Pos.Y >= b.Pos.Y && other.Pos.Z >= b.Pos.Z &&
		oe.X <= e.X && oe.Y <= e.Y && oe.Z <= e.Z
}

// Intersects проверяет пересечение двух ящиков
func (b Box3) Intersects(other Box3) bool {
	return !b.Clipped(other).IsEmpty()
}

// Clipped возвращает пересечение с другим ящиком.
// Если пересечения нет, размер результата будет нулевым.
func (b Box3) Clipped(limits Box3) Box3 {
	minPos := b.Pos.Max(limits.Pos)
	maxPos := b.End().Min(limits.End())
	size := maxPos.Sub(minPos).Max(Vec3{})
	return Box3{Pos: minPos, Size: size}
}

// Padded расширяет ящик на m ячеек во все стороны
func (b Box3) Padded(m int) Box3 {
	return Box3{Pos: b.Pos.Sub(Splat3(m)), Size: b.Size.Add(Splat3(2 * m))}
}

// Downscaled возвращает ящик в единицах step, покрывающий все ячейки исходного.
// step не обязан быть степенью двойки, используется деление с округлением вниз/вверх.
func (b Box3) Downscaled(step int) Box3 {
	minPos := Vec3{X: floorDiv(b.Pos.X, step), Y: floorDiv(b.Pos.Y, step), Z: floorDiv(b.Pos.Z, step)}
	end := b.End()
	maxPos := Vec3{X: ceilDiv(end.X, step), Y: ceilDiv(end.Y, step), Z: ceilDiv(end.Z, step)}
	return BoxFromMinMax(minPos, maxPos)
}

// Scaled умножает позицию и размер на коэффициент
func (b Box3) Scaled(k int) Box3 {
	return Box3{Pos: b.Pos.Mul(k), Size: b.Size.Mul(k)}
}

// ForEachCell обходит все ячейки в порядке Z, X, Y (Y меняется быстрее всего).
func (b Box3) ForEachCell(fn func(p Vec3)) {
	if b.IsEmpty() {
		return
	}
	end := b.End()
	var p Vec3
	for p.Z = b.Pos.Z; p.Z < end.Z; p.Z++ {
		for p.X = b.Pos.X; p.X < end.X; p.X++ {
			for p.Y = b.Pos.Y; p.Y < end.Y; p.Y++ {
				fn(p)
			}
		}
	}
}

// AllCellsMatch возвращает true, если предикат истинен для всех ячеек.
// Обход прерывается на первой неудаче.
func (b Box3) AllCellsMatch(pred func(p Vec3) bool) bool {
	if b.IsEmpty() {
		return true
	}
	end := b.End()
	var p Vec3
	for p.Z = b.Pos.Z; p.Z < end.Z; p.Z++ {
		for p.X = b.Pos.X; p.X < end.X; p.X++ {
			for p.Y = b.Pos.Y; p.Y < end.Y; p.Y++ {
				if !pred(p) {
					return false
				}
			}
		}
	}
	return true
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func ceilDiv(a, b int) int {
	return -floorDiv(-a, b)
}
