package vec

import "math"

// Vec3 представляет трехмерный вектор с целочисленными координатами.
// Используется и для координат вокселей, и для координат блоков.
type Vec3 struct {
	X int
	Y int
	Z int
}

// Vec3Float представляет трехмерный вектор с плавающими координатами
type Vec3Float struct {
	X float64
	Y float64
	Z float64
}

// New3 создаёт Vec3 из трёх компонент
func New3(x, y, z int) Vec3 {
	return Vec3{X: x, Y: y, Z: z}
}

// Splat3 создаёт Vec3 с одинаковыми компонентами
func Splat3(v int) Vec3 {
	return Vec3{X: v, Y: v, Z: v}
}

// Add складывает два вектора
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{
		X: v.X + other.X,
		Y: v.Y + other.Y,
		Z: v.Z + other.Z,
	}
}

// Sub вычитает другой вектор
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{
		X: v.X - other.X,
		Y: v.Y - other.Y,
		Z: v.Z - other.Z,
	}
}

// Mul умножает все компоненты на скаляр
func (v Vec3) Mul(k int) Vec3 {
	return Vec3{X: v.X * k, Y: v.Y * k, Z: v.Z * k}
}

// Shl сдвигает компоненты влево (умножение на 2^n)
func (v Vec3) Shl(n uint) Vec3 {
	return Vec3{X: v.X << n, Y: v.Y << n, Z: v.Z << n}
}

// Shr выполняет арифметический сдвиг вправо.
// Для отрицательных координат это деление с округлением вниз.
func (v Vec3) Shr(n uint) Vec3 {
	return Vec3{X: v.X >> n, Y: v.Y >> n, Z: v.Z >> n}
}

// Min возвращает покомпонентный минимум
func (v Vec3) Min(other Vec3) Vec3 {
	return Vec3{X: min(v.X, other.X), Y: min(v.Y, other.Y), Z: min(v.Z, other.Z)}
}

// Max возвращает покомпонентный максимум
func (v Vec3) Max(other Vec3) Vec3 {
	return Vec3{X: max(v.X, other.X), Y: max(v.Y, other.Y), Z: max(v.Z, other.Z)}
}

// Volume возвращает произведение компонент (объём при размере)
func (v Vec3) Volume() int {
	return v.X * v.Y * v.Z
}

// AnyNonPositive true, если хотя бы одна компонента <= 0
func (v Vec3) AnyNonPositive() bool {
	return v.X <= 0 || v.Y <= 0 || v.Z <= 0
}

// Equals проверяет равенство векторов
func (v Vec3) Equals(other Vec3) bool {
	return v.X == other.X && v.Y == other.Y && v.Z == other.Z
}

// DistanceTo возвращает квадрат расстояния до другого вектора
func (v Vec3) DistanceTo(other Vec3) float64 {
	dx := v.X - other.X
	dy := v.Y - other.Y
	dz := v.Z - other.Z
	return float64(dx*dx + dy*dy + dz*dz)
}

// ToFloat преобразует в Vec3Float
func (v Vec3) ToFloat() Vec3Float {
	return Vec3Float{X: float64(v.X), Y: float64(v.Y), Z: float64(v.Z)}
}

// Sub вычитает другой вектор
func (v Vec3Float) Sub(other Vec3Float) Vec3Float {
	return Vec3Float{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Length возвращает длину вектора
func (v Vec3Float) Length() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Floor округляет компоненты вниз
func (v Vec3Float) Floor() Vec3 {
	return Vec3{X: int(math.Floor(v.X)), Y: int(math.Floor(v.Y)), Z: int(math.Floor(v.Z))}
}

// Ceil округляет компоненты вверх
func (v Vec3Float) Ceil() Vec3 {
	return Vec3{X: int(math.Ceil(v.X)), Y: int(math.Ceil(v.Y)), Z: int(math.Ceil(v.Z))}
}
