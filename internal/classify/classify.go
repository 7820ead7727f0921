// Package classify decides which piece, if any, occupies a square patch.
package classify

import (
	"context"
	"image"

	"github.com/thyrook/fenvision/internal/board"
)

// Prediction is the classifier's answer for one square.
type Prediction struct {
	Symbol     board.Symbol
	Confidence float64 // 0-1
}

// Classifier maps a square patch to a piece symbol.
type Classifier interface {
	Classify(ctx context.Context, patch image.Image) (Prediction, error)
}

// Func adapts a function to Classifier.
type Func func(ctx context.Context, patch image.Image) (Prediction, error)

// Classify calls f.
func (f Func) Classify(ctx context.Context, patch image.Image) (Prediction, error) {
	return f(ctx, patch)
}

type threshold struct {
	inner Classifier
	min   float64
}

// Threshold wraps c so that any piece predicted with confidence below min
// is reported as an empty square.
func Threshold(c Classifier, min float64) Classifier {
	if min <= 0 {
		return c
	}
	return &threshold{inner: c, min: min}
}

func (t *threshold) Classify(ctx context.Context, patch image.Image) (Prediction, error) {
	p, err := t.inner.Classify(ctx, patch)
	if err != nil {
		return Prediction{}, err
	}
	if p.Symbol != board.Empty && p.Confidence < t.min {
		return Prediction{Symbol: board.Empty, Confidence: 1 - p.Confidence}, nil
	}
	return p, nil
}
