package model

import (
	"context"
	"image"
	"sync"

	"golang.org/x/image/draw"

	"github.com/thyrook/fenvision/internal/board"
	"github.com/thyrook/fenvision/internal/classify"
)

// Classifier adapts a batch-1 PatchNet to classify.Classifier. The tape
// machine is not reentrant, so calls are serialized.
type Classifier struct {
	mu  sync.Mutex
	net *PatchNet
}

// NewClassifier wraps net, which must have batch size 1.
func NewClassifier(net *PatchNet) (*Classifier, error) {
	if net.batchSize != 1 {
		return nil, errBatchSize(net.batchSize)
	}
	return &Classifier{net: net}, nil
}

// LoadClassifier builds a batch-1 network and loads weights from path.
func LoadClassifier(path string) (*Classifier, error) {
	net, err := NewPatchNet(1)
	if err != nil {
		return nil, err
	}
	if err := net.Load(path); err != nil {
		net.Close()
		return nil, err
	}
	return &Classifier{net: net}, nil
}

// Classify implements classify.Classifier.
func (c *Classifier) Classify(ctx context.Context, patch image.Image) (classify.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return classify.Prediction{}, err
	}

	input := PatchInput(patch)

	c.mu.Lock()
	probs, err := c.net.Predict(input)
	c.mu.Unlock()
	if err != nil {
		return classify.Prediction{}, err
	}

	best := 0
	for i := 1; i < NumClasses; i++ {
		if probs[i] > probs[best] {
			best = i
		}
	}
	return classify.Prediction{Symbol: board.AllSymbols[best], Confidence: probs[best]}, nil
}

// Close releases the network.
func (c *Classifier) Close() error {
	return c.net.Close()
}

// PatchInput downscales patch to PatchSize x PatchSize grayscale and scales
// values to 0-1.
func PatchInput(patch image.Image) []float64 {
	gray := image.NewGray(image.Rect(0, 0, PatchSize, PatchSize))
	draw.ApproxBiLinear.Scale(gray, gray.Bounds(), patch, patch.Bounds(), draw.Src, nil)

	out := make([]float64, PatchSize*PatchSize)
	for y := 0; y < PatchSize; y++ {
		for x := 0; x < PatchSize; x++ {
			out[y*PatchSize+x] = float64(gray.GrayAt(x, y).Y) / 255.0
		}
	}
	return out
}
