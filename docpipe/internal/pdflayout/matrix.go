package pdflayout

import "math"

// Matrix is a PDF transformation matrix [a b c d e f].
type Matrix [6]float64

// Identity is the identity transformation.
var Identity = Matrix{1, 0, 0, 1, 0, 0}

// Mul returns m × n (apply m first, then n).
func (m Matrix) Mul(n Matrix) Matrix {
	return Matrix{
		m[0]*n[0] + m[1]*n[2],
		m[0]*n[1] + m[1]*n[3],
		m[2]*n[0] + m[3]*n[2],
		m[2]*n[1] + m[3]*n[3],
		m[4]*n[0] + m[5]*n[2] + n[4],
		m[4]*n[1] + m[5]*n[3] + n[5],
	}
}

// Apply transforms the point (x, y).
func (m Matrix) Apply(x, y float64) (float64, float64) {
	return x*m[0] + y*m[2] + m[4], x*m[1] + y*m[3] + m[5]
}

// scaleY is the length of the transformed unit y vector, i.e. the factor by
// which m scales glyph heights.
func (m Matrix) scaleY() float64 {
	return math.Hypot(m[2], m[3])
}

func translate(tx, ty float64) Matrix { return Matrix{1, 0, 0, 1, tx, ty} }

// Rect is an axis-aligned rectangle in page space.
type Rect struct {
	X0, Y0, X1, Y1 float64
}

func (r Rect) contains(x, y float64) bool {
	return x >= r.X0 && x <= r.X1 && y >= r.Y0 && y <= r.Y1
}

// unitBounds is the page-space bounding box of the unit square under m, which
// is where images are painted.
func unitBounds(m Matrix) Rect {
	xs := [4]float64{}
	ys := [4]float64{}
	xs[0], ys[0] = m.Apply(0, 0)
	xs[1], ys[1] = m.Apply(1, 0)
	xs[2], ys[2] = m.Apply(0, 1)
	xs[3], ys[3] = m.Apply(1, 1)
	r := Rect{X0: xs[0], Y0: ys[0], X1: xs[0], Y1: ys[0]}
	for i := 1; i < 4; i++ {
		r.X0 = math.Min(r.X0, xs[i])
		r.X1 = math.Max(r.X1, xs[i])
		r.Y0 = math.Min(r.Y0, ys[i])
		r.Y1 = math.Max(r.Y1, ys[i])
	}
	return r
}
