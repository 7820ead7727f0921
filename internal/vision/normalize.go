package vision

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"

	"github.com/thyrook/fenvision/internal/geometry"
)

// Normalizer maps the board quadrilateral of an encoded image onto a
// canonical square raster.
type Normalizer interface {
	Normalize(data []byte, corners geometry.CornerSet) (*CanonicalRaster, error)
}

// NativeNormalizer warps in pure Go.
type NativeNormalizer struct {
	config Config
}

// NewNativeNormalizer creates a normalizer. A nil config selects the
// defaults.
func NewNativeNormalizer(config *Config) (*NativeNormalizer, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &NativeNormalizer{config: *config}, nil
}

// Normalize decodes data and warps the area bounded by corners to a
// Size x Size raster. Corners are TL, TR, BR, BL in source pixels.
func (n *NativeNormalizer) Normalize(data []byte, corners geometry.CornerSet) (*CanonicalRaster, error) {
	src, _, err := DecodeImage(data)
	if err != nil {
		return nil, err
	}

	toSource, err := SourceTransform(corners, n.config)
	if err != nil {
		return nil, err
	}

	size := n.config.OutputSize
	out := Warp(src, toSource, size, size)

	return &CanonicalRaster{
		Image: out,
		Size:  size,
		Hint:  OrientationOf(out),
	}, nil
}

// SourceTransform returns the homography from canonical pixels back to
// source pixels for the given corners.
func SourceTransform(corners geometry.CornerSet, config Config) (geometry.Homography, error) {
	if config.StrictCorners {
		if err := corners.Validate(); err != nil {
			return geometry.Homography{}, err
		}
	}

	dst := geometry.SquareCorners(config.OutputSize)
	toCanonical, err := geometry.SolveHomography(corners.Points(), dst, config.MaxCondition)
	if err != nil {
		return geometry.Homography{}, err
	}

	return toCanonical.Inverse()
}

// Warp fills a w x h raster by sampling src at toSource(x, y) with bilinear
// interpolation. Samples falling outside src are black.
func Warp(src image.Image, toSource geometry.Homography, w, h int) *image.RGBA {
	in := toRGBA(src)
	out := image.NewRGBA(image.Rect(0, 0, w, h))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p, ok := toSource.Apply(geometry.Pt(float64(x), float64(y)))
			if !ok {
				out.SetRGBA(x, y, black)
				continue
			}
			out.SetRGBA(x, y, bilinear(in, p.X, p.Y))
		}
	}

	return out
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}

var black = color.RGBA{A: 255}

func pixel(img *image.RGBA, x, y int) color.RGBA {
	if !(image.Point{X: x, Y: y}.In(img.Rect)) {
		return black
	}
	return img.RGBAAt(x, y)
}

func bilinear(img *image.RGBA, sx, sy float64) color.RGBA {
	if math.IsNaN(sx) || math.IsNaN(sy) {
		return black
	}
	x0f, y0f := math.Floor(sx), math.Floor(sy)
	// Far outside: skip the int conversion of huge values.
	if x0f < -2 || y0f < -2 || x0f > float64(img.Rect.Max.X)+1 || y0f > float64(img.Rect.Max.Y)+1 {
		return black
	}

	x0, y0 := int(x0f), int(y0f)
	fx, fy := sx-x0f, sy-y0f

	c00 := pixel(img, x0, y0)
	c10 := pixel(img, x0+1, y0)
	c01 := pixel(img, x0, y0+1)
	c11 := pixel(img, x0+1, y0+1)

	mix := func(a, b, c, d uint8) uint8 {
		top := float64(a)*(1-fx) + float64(b)*fx
		bot := float64(c)*(1-fx) + float64(d)*fx
		v := top*(1-fy) + bot*fy + 0.5
		if v > 255 {
			v = 255
		}
		return uint8(v)
	}

	return color.RGBA{
		R: mix(c00.R, c10.R, c01.R, c11.R),
		G: mix(c00.G, c10.G, c01.G, c11.G),
		B: mix(c00.B, c10.B, c01.B, c11.B),
		A: 255,
	}
}

// NewNormalizer returns the normalizer selected by config.Backend. The
// opencv backend lives in its own package so this one builds without cgo;
// callers pass a constructor for it.
func NewNormalizer(config *Config, opencv func(*Config) (Normalizer, error)) (Normalizer, error) {
	if config == nil {
		config = DefaultConfig()
	}
	switch config.Backend {
	case BackendOpenCV:
		if opencv == nil {
			return nil, &ConfigError{Field: "backend", Value: config.Backend, Reason: "opencv backend not available in this build"}
		}
		return opencv(config)
	case BackendNative:
		n, err := NewNativeNormalizer(config)
		if err != nil {
			return nil, err
		}
		return n, nil
	default:
		return nil, &ConfigError{Field: "backend", Value: config.Backend, Reason: "unknown backend"}
	}
}
