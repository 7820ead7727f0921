package classify

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/thyrook/fenvision/internal/board"
)

// DefaultContrast is the luma difference between a square's centre and its
// border below which the square is considered empty.
const DefaultContrast = 20.0

// Intensity is a rule-based classifier. It compares the mean brightness of
// the centre of the patch with a ring just inside its border: a piece sits
// in the middle of its square, the ring only shows the square itself.
//
// It cannot tell piece kinds apart; every piece is reported as Kind in the
// detected colour.
type Intensity struct {
	Contrast float64
	Kind     byte // lower-case FEN letter, 'p' by default
}

// NewIntensity returns an Intensity classifier guessing pawns.
func NewIntensity(contrast float64) *Intensity {
	if contrast <= 0 {
		contrast = DefaultContrast
	}
	return &Intensity{Contrast: contrast, Kind: 'p'}
}

// Classify implements Classifier.
func (c *Intensity) Classify(ctx context.Context, patch image.Image) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}

	b := patch.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 8 || h < 8 {
		return Prediction{}, fmt.Errorf("patch too small to classify: %dx%d", w, h)
	}

	var centre, ring stats
	for y := b.Min.Y; y < b.Max.Y; y++ {
		fy := (float64(y-b.Min.Y) + 0.5) / float64(h)
		for x := b.Min.X; x < b.Max.X; x++ {
			fx := (float64(x-b.Min.X) + 0.5) / float64(w)

			switch edge := math.Min(math.Min(fx, 1-fx), math.Min(fy, 1-fy)); {
			case fx >= 0.35 && fx < 0.65 && fy >= 0.35 && fy < 0.65:
				centre.add(luma(patch.At(x, y)))
			case edge >= 0.05 && edge < 0.12:
				ring.add(luma(patch.At(x, y)))
			}
		}
	}

	contrast := c.Contrast
	if contrast <= 0 {
		contrast = DefaultContrast
	}

	diff := centre.mean() - ring.mean()
	if math.Abs(diff) < contrast {
		return Prediction{Symbol: board.Empty, Confidence: 1 - math.Abs(diff)/contrast}, nil
	}

	conf := math.Min(1, math.Abs(diff)/(2*contrast))
	kind := c.Kind
	if kind == 0 {
		kind = 'p'
	}
	s, ok := board.SymbolFromFEN(kind | 0x20)
	if !ok {
		return Prediction{}, fmt.Errorf("invalid piece kind %q", kind)
	}
	if diff > 0 {
		s = board.Symbol(byte(s) &^ 0x20)
	}
	return Prediction{Symbol: s, Confidence: conf}, nil
}

type stats struct {
	sum float64
	n   int
}

func (s *stats) add(v float64) {
	s.sum += v
	s.n++
}

func (s *stats) mean() float64 {
	if s.n == 0 {
		return 0
	}
	return s.sum / float64(s.n)
}

func luma(c color.Color) float64 {
	r, g, b, _ := c.RGBA()
	return (299*float64(r>>8) + 587*float64(g>>8) + 114*float64(b>>8)) / 1000
}
