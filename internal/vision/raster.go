// Package vision turns a photographed board into a canonical top-down raster
// and splits that raster into the 64 squares.
package vision

import (
	"image"
	"image/color"
)

// SideHint is an advisory guess of which colour sits at the bottom of the
// canonical raster.
type SideHint int

const (
	UnknownSide SideHint = iota
	WhiteBottom
	BlackBottom
)

func (h SideHint) String() string {
	switch h {
	case WhiteBottom:
		return "white_bottom"
	case BlackBottom:
		return "black_bottom"
	default:
		return "unknown"
	}
}

// CanonicalRaster is the square, top-down view of the board. Rank 8 is at
// the top and file a on the left. Callers must not modify Image.
type CanonicalRaster struct {
	Image *image.RGBA
	Size  int
	Hint  SideHint
}

// luma returns ITU-R BT.601 brightness in 0-255.
func luma(c color.RGBA) float64 {
	return (299*float64(c.R) + 587*float64(c.G) + 114*float64(c.B)) / 1000
}

// meanLuma averages brightness over r clipped to img bounds.
func meanLuma(img *image.RGBA, r image.Rectangle) float64 {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return 0
	}

	var sum float64
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			sum += luma(img.RGBAAt(x, y))
		}
	}
	return sum / float64(r.Dx()*r.Dy())
}

// OrientationOf compares the bottom-left cell (a1 when white is at the
// bottom) with the top-left cell. A brighter bottom suggests white pieces
// are at the bottom.
func OrientationOf(img *image.RGBA) SideHint {
	b := img.Bounds()
	cell := b.Dy() / 8
	if cell == 0 || b.Dx() < 8 {
		return UnknownSide
	}

	top := image.Rect(b.Min.X, b.Min.Y, b.Min.X+b.Dx()/8, b.Min.Y+cell)
	bottom := image.Rect(b.Min.X, b.Max.Y-cell, b.Min.X+b.Dx()/8, b.Max.Y)

	if meanLuma(img, bottom) > meanLuma(img, top) {
		return WhiteBottom
	}
	return BlackBottom
}
