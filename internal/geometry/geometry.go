// Package geometry provides the point types and the projective transform
// used to map a photographed board quadrilateral onto a square.
package geometry

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Point is a location in source-image pixel space.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Pt is shorthand for Point{X: x, Y: y}.
func Pt(x, y float64) Point {
	return Point{X: x, Y: y}
}

// Sub returns the difference of two points.
func (p Point) Sub(other Point) Point {
	return Point{X: p.X - other.X, Y: p.Y - other.Y}
}

// Distance returns the Euclidean distance to another point.
func (p Point) Distance(other Point) float64 {
	dx := p.X - other.X
	dy := p.Y - other.Y
	return math.Sqrt(dx*dx + dy*dy)
}

func (p Point) String() string {
	return fmt.Sprintf("%g,%g", p.X, p.Y)
}

func cross(a, b Point) float64 {
	return a.X*b.Y - a.Y*b.X
}

// CornerSet holds the four board corners in clockwise order as seen in the
// image (y grows downward).
type CornerSet struct {
	TopLeft     Point `json:"top_left" yaml:"top_left"`
	TopRight    Point `json:"top_right" yaml:"top_right"`
	BottomRight Point `json:"bottom_right" yaml:"bottom_right"`
	BottomLeft  Point `json:"bottom_left" yaml:"bottom_left"`
}

// RectCorners returns the corners of an axis-aligned w x h rectangle at
// (x, y), using the last pixel row and column as the far edge.
func RectCorners(x, y, w, h float64) CornerSet {
	return CornerSet{
		TopLeft:     Pt(x, y),
		TopRight:    Pt(x+w-1, y),
		BottomRight: Pt(x+w-1, y+h-1),
		BottomLeft:  Pt(x, y+h-1),
	}
}

// Points returns the corners in order TL, TR, BR, BL.
func (c CornerSet) Points() [4]Point {
	return [4]Point{c.TopLeft, c.TopRight, c.BottomRight, c.BottomLeft}
}

func (c CornerSet) String() string {
	p := c.Points()
	return fmt.Sprintf("%v %v %v %v", p[0], p[1], p[2], p[3])
}

// ParseCorners parses four "x,y" pairs separated by spaces or semicolons,
// in order TL, TR, BR, BL.
func ParseCorners(s string) (CornerSet, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ';' || r == '\t'
	})
	if len(fields) != 4 {
		return CornerSet{}, fmt.Errorf("expected 4 corners, got %d", len(fields))
	}

	var pts [4]Point
	for i, f := range fields {
		p, err := ParsePoint(f)
		if err != nil {
			return CornerSet{}, fmt.Errorf("corner %d: %w", i+1, err)
		}
		pts[i] = p
	}

	return CornerSet{TopLeft: pts[0], TopRight: pts[1], BottomRight: pts[2], BottomLeft: pts[3]}, nil
}

// ParsePoint parses "x,y".
func ParsePoint(s string) (Point, error) {
	xs, ys, ok := strings.Cut(strings.TrimSpace(s), ",")
	if !ok {
		return Point{}, fmt.Errorf("invalid point %q: want x,y", s)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	if err != nil {
		return Point{}, fmt.Errorf("invalid x in %q: %w", s, err)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if err != nil {
		return Point{}, fmt.Errorf("invalid y in %q: %w", s, err)
	}
	return Point{X: x, Y: y}, nil
}

// Validate checks that the corners form a convex quadrilateral wound
// clockwise in image coordinates. A quadrilateral given in the wrong
// rotational order, or one that crosses itself, fails here.
func (c CornerSet) Validate() error {
	pts := c.Points()
	for _, p := range pts {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			return &TransformError{Reason: "corner coordinates must be finite"}
		}
	}

	// With y pointing down, a clockwise turn has a positive cross product.
	for i := 0; i < 4; i++ {
		a, b, d := pts[i], pts[(i+1)%4], pts[(i+2)%4]
		turn := cross(b.Sub(a), d.Sub(b))
		if turn == 0 {
			return &TransformError{Reason: fmt.Sprintf("corners %d-%d-%d are collinear", i+1, (i+1)%4+1, (i+2)%4+1)}
		}
		if turn < 0 {
			return &TransformError{Reason: "corners must be a convex quadrilateral in clockwise order (TL, TR, BR, BL)"}
		}
	}

	return nil
}

// TransformError reports corner geometry that cannot define a projective
// transform, or corners rejected by winding validation.
type TransformError struct {
	Reason    string
	Condition float64 // condition number when the failure was numerical
}

func (e *TransformError) Error() string {
	if e.Condition > 0 {
		return fmt.Sprintf("degenerate transform: %s (condition number %.3g)", e.Reason, e.Condition)
	}
	return "degenerate transform: " + e.Reason
}
