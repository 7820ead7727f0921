package geometry

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// DefaultMaxCondition is the largest condition number of the normalized
// 8x8 system accepted before the corners are treated as degenerate.
const DefaultMaxCondition = 1e10

// MinTriangleArea is the smallest area, in square pixels, of any triangle
// formed by three of the four corners. The condition number alone accepts
// slivers a fraction of a pixel thick because normalization rescales them.
const MinTriangleArea = 0.5

// Homography is a 3x3 projective transform, row-major.
//
//	[a b c]   [x]
//	[d e f] * [y]
//	[g h 1]   [1]
type Homography [3][3]float64

// Identity returns the identity transform.
func Identity() Homography {
	return Homography{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// SquareCorners returns the corners of a size x size raster in order TL,
// TR, BR, BL, using the last pixel as the far edge.
func SquareCorners(size int) [4]Point {
	n := float64(size - 1)
	return [4]Point{Pt(0, 0), Pt(n, 0), Pt(n, n), Pt(0, n)}
}

// Apply maps p through the transform. ok is false when p maps to infinity.
func (h Homography) Apply(p Point) (Point, bool) {
	w := h[2][0]*p.X + h[2][1]*p.Y + h[2][2]
	if math.Abs(w) < 1e-12 {
		return Point{}, false
	}
	x := (h[0][0]*p.X + h[0][1]*p.Y + h[0][2]) / w
	y := (h[1][0]*p.X + h[1][1]*p.Y + h[1][2]) / w
	return Point{X: x, Y: y}, true
}

// Dense returns the transform as a gonum matrix.
func (h Homography) Dense() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		h[0][0], h[0][1], h[0][2],
		h[1][0], h[1][1], h[1][2],
		h[2][0], h[2][1], h[2][2],
	})
}

func fromDense(m mat.Matrix) Homography {
	var h Homography
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			h[r][c] = m.At(r, c)
		}
	}
	return h
}

func (h Homography) finite() bool {
	for r := range h {
		for _, v := range h[r] {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// Inverse returns the inverse transform, normalized so the bottom-right
// entry is 1 when possible.
func (h Homography) Inverse() (Homography, error) {
	var inv mat.Dense
	if err := inv.Inverse(h.Dense()); err != nil {
		var c mat.Condition
		if errors.As(err, &c) {
			return Homography{}, &TransformError{Reason: "transform matrix is singular", Condition: float64(c)}
		}
		return Homography{}, &TransformError{Reason: fmt.Sprintf("transform matrix is not invertible: %v", err)}
	}

	out := fromDense(&inv)
	if s := out[2][2]; math.Abs(s) > 1e-12 {
		for r := range out {
			for c := range out[r] {
				out[r][c] /= s
			}
		}
	}
	if !out.finite() {
		return Homography{}, &TransformError{Reason: "inverse transform is not finite"}
	}
	return out, nil
}

// normalizer returns the similarity transform that moves the centroid of
// pts to the origin and scales the mean distance to sqrt(2).
func normalizer(pts [4]Point) (Homography, error) {
	var cx, cy float64
	for _, p := range pts {
		cx += p.X
		cy += p.Y
	}
	cx /= 4
	cy /= 4

	var dist float64
	for _, p := range pts {
		dist += p.Distance(Pt(cx, cy))
	}
	dist /= 4
	if dist < 1e-9 || math.IsNaN(dist) || math.IsInf(dist, 0) {
		return Homography{}, &TransformError{Reason: "corners coincide"}
	}

	s := math.Sqrt2 / dist
	return Homography{
		{s, 0, -s * cx},
		{0, s, -s * cy},
		{0, 0, 1},
	}, nil
}

// checkSpread rejects corner sets in which some three points are closer to
// collinear than MinTriangleArea allows.
func checkSpread(pts [4]Point) error {
	for i := 0; i < 4; i++ {
		a, b, c := pts[i], pts[(i+1)%4], pts[(i+2)%4]
		area := math.Abs(cross(b.Sub(a), c.Sub(a))) / 2
		if area < MinTriangleArea || math.IsNaN(area) {
			return &TransformError{Reason: fmt.Sprintf("corners %d-%d-%d span %.3g square pixels, need %g", i+1, (i+1)%4+1, (i+2)%4+1, area, MinTriangleArea)}
		}
	}
	return nil
}

func mul(a, b Homography) Homography {
	var out Homography
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			for k := 0; k < 3; k++ {
				out[r][c] += a[r][k] * b[k][c]
			}
		}
	}
	return out
}

// SolveHomography computes the projective transform that maps src[i] onto
// dst[i] for all four point pairs.
//
// Both point sets are normalized before the 8x8 system is solved, so the
// condition number of that system measures the geometry rather than the
// pixel scale. Coincident or collinear corners make the system singular and
// are reported as *TransformError, as is any condition number above
// maxCond and any three points of a set spanning less than MinTriangleArea.
// maxCond <= 0 selects DefaultMaxCondition.
func SolveHomography(src, dst [4]Point, maxCond float64) (Homography, error) {
	if maxCond <= 0 {
		maxCond = DefaultMaxCondition
	}

	ts, err := normalizer(src)
	if err != nil {
		return Homography{}, err
	}
	td, err := normalizer(dst)
	if err != nil {
		return Homography{}, err
	}
	if err := checkSpread(src); err != nil {
		return Homography{}, err
	}
	if err := checkSpread(dst); err != nil {
		return Homography{}, err
	}

	a := mat.NewDense(8, 8, nil)
	b := mat.NewVecDense(8, nil)
	for i := 0; i < 4; i++ {
		p, _ := ts.Apply(src[i])
		q, _ := td.Apply(dst[i])
		x, y, u, v := p.X, p.Y, q.X, q.Y

		a.SetRow(2*i, []float64{x, y, 1, 0, 0, 0, -u * x, -u * y})
		b.SetVec(2*i, u)
		a.SetRow(2*i+1, []float64{0, 0, 0, x, y, 1, -v * x, -v * y})
		b.SetVec(2*i+1, v)
	}

	cond := mat.Cond(a, 2)
	if math.IsNaN(cond) || cond > maxCond {
		return Homography{}, &TransformError{Reason: "corner geometry is degenerate", Condition: cond}
	}

	var sol mat.VecDense
	if err := sol.SolveVec(a, b); err != nil {
		return Homography{}, &TransformError{Reason: fmt.Sprintf("cannot solve transform: %v", err), Condition: cond}
	}

	hn := Homography{
		{sol.AtVec(0), sol.AtVec(1), sol.AtVec(2)},
		{sol.AtVec(3), sol.AtVec(4), sol.AtVec(5)},
		{sol.AtVec(6), sol.AtVec(7), 1},
	}
	// Three collinear corners still solve, but only to a singular map.
	if det := mat.Det(hn.Dense()); math.Abs(det) < 1e-9 || math.IsNaN(det) {
		return Homography{}, &TransformError{Reason: "corner geometry collapses the board", Condition: cond}
	}

	tdInv, err := td.Inverse()
	if err != nil {
		return Homography{}, err
	}

	h := mul(mul(tdInv, hn), ts)
	if s := h[2][2]; math.Abs(s) > 1e-12 {
		for r := range h {
			for c := range h[r] {
				h[r][c] /= s
			}
		}
	}
	if !h.finite() {
		return Homography{}, &TransformError{Reason: "transform is not finite", Condition: cond}
	}

	return h, nil
}
