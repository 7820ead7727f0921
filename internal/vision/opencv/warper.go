// Package opencv is the OpenCV-backed board normalizer.
package opencv

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/thyrook/fenvision/internal/geometry"
	"github.com/thyrook/fenvision/internal/vision"
)

// Warper normalizes boards with cv::warpPerspective.
type Warper struct {
	config vision.Config
}

// NewWarper creates an OpenCV normalizer. A nil config selects the defaults.
func NewWarper(config *vision.Config) (*Warper, error) {
	if config == nil {
		config = vision.DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Warper{config: *config}, nil
}

// New matches the constructor hook of vision.NewNormalizer.
func New(config *vision.Config) (vision.Normalizer, error) {
	w, err := NewWarper(config)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Normalize implements vision.Normalizer.
func (w *Warper) Normalize(data []byte, corners geometry.CornerSet) (*vision.CanonicalRaster, error) {
	src, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, &vision.DecodeError{Err: err}
	}
	defer src.Close()
	if src.Empty() {
		return nil, &vision.DecodeError{Err: fmt.Errorf("opencv could not decode %d bytes", len(data))}
	}

	if w.config.StrictCorners {
		if err := corners.Validate(); err != nil {
			return nil, err
		}
	}

	size := w.config.OutputSize
	h, err := geometry.SolveHomography(corners.Points(), geometry.SquareCorners(size), w.config.MaxCondition)
	if err != nil {
		return nil, err
	}

	m := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	defer m.Close()
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			m.SetDoubleAt(r, c, h[r][c])
		}
	}

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.WarpPerspectiveWithParams(src, &dst, m, image.Point{X: size, Y: size},
		gocv.InterpolationLinear, gocv.BorderConstant, color.RGBA{A: 255})

	img := matToImage(dst)
	return &vision.CanonicalRaster{
		Image: img,
		Size:  size,
		Hint:  vision.OrientationOf(img),
	}, nil
}

// matToImage converts an 8-bit BGR Mat.
func matToImage(mat gocv.Mat) *image.RGBA {
	h, w := mat.Rows(), mat.Cols()
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	for y := 0; y < h; y++ {
		row := y * img.Stride
		for x := 0; x < w; x++ {
			off := row + x*4
			img.Pix[off+0] = mat.GetUCharAt(y, x*3+2)
			img.Pix[off+1] = mat.GetUCharAt(y, x*3+1)
			img.Pix[off+2] = mat.GetUCharAt(y, x*3+0)
			img.Pix[off+3] = 255
		}
	}

	return img
}
