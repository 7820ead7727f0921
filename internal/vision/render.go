package vision

import (
	"image"
	"image/color"

	"github.com/thyrook/fenvision/internal/board"
	"github.com/thyrook/fenvision/internal/geometry"
)

// Board and piece colours of rendered boards.
var (
	LightSquare = color.RGBA{240, 217, 181, 255}
	DarkSquare  = color.RGBA{181, 136, 99, 255}
	WhitePiece  = color.RGBA{255, 255, 255, 255}
	BlackPiece  = color.RGBA{40, 40, 40, 255}
)

// RenderBoard draws m as a size x size top-down board, white pieces as light
// discs and black pieces as dark discs.
func RenderBoard(m board.Matrix, size int) (*image.RGBA, error) {
	if err := validateSize(size); err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	cell := size / board.Size
	radius := float64(cell) * 0.35

	for _, sq := range board.Squares() {
		x0, y0 := sq.Col()*cell, sq.Row()*cell

		bg := LightSquare
		if (sq.Row()+sq.Col())%2 == 1 {
			bg = DarkSquare
		}

		s := m.At(sq)
		fg := bg
		switch {
		case s.IsWhite():
			fg = WhitePiece
		case s.IsBlack():
			fg = BlackPiece
		}

		c := float64(cell-1) / 2
		for dy := 0; dy < cell; dy++ {
			for dx := 0; dx < cell; dx++ {
				px := bg
				fx, fy := float64(dx)-c, float64(dy)-c
				if s != board.Empty && fx*fx+fy*fy <= radius*radius {
					px = fg
				}
				img.SetRGBA(x0+dx, y0+dy, px)
			}
		}
	}

	return img, nil
}

// PlaceOnCanvas warps a top-down board image into a w x h canvas so that its
// corners land on corners. It is the inverse of normalization and produces
// synthetic photos.
func PlaceOnCanvas(boardImg image.Image, w, h int, corners geometry.CornerSet) (*image.RGBA, error) {
	b := boardImg.Bounds()
	src := [4]geometry.Point{
		geometry.Pt(0, 0),
		geometry.Pt(float64(b.Dx()-1), 0),
		geometry.Pt(float64(b.Dx()-1), float64(b.Dy()-1)),
		geometry.Pt(0, float64(b.Dy()-1)),
	}

	toBoard, err := geometry.SolveHomography(corners.Points(), src, 0)
	if err != nil {
		return nil, err
	}

	return Warp(boardImg, toBoard, w, h), nil
}
