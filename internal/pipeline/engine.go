// Package pipeline turns a board photo into FEN: normalize, partition,
// classify each square, encode.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/thyrook/fenvision/internal/board"
	"github.com/thyrook/fenvision/internal/classify"
	"github.com/thyrook/fenvision/internal/fen"
	"github.com/thyrook/fenvision/internal/geometry"
	"github.com/thyrook/fenvision/internal/logger"
	"github.com/thyrook/fenvision/internal/vision"
)

// SquarePrediction is the classifier output for one square.
type SquarePrediction struct {
	Square board.Square
	classify.Prediction
}

// Result is a complete recognition.
type Result struct {
	Record      fen.Record
	FEN         string
	Hint        vision.SideHint
	Predictions [board.Size * board.Size]SquarePrediction // rank 8 to 1, file a to h
	Warnings    []string
	Duration    time.Duration
}

// Stats counts recognitions made by an Engine.
type Stats struct {
	Total     int
	Succeeded int
	Failed    int
	TotalTime time.Duration
}

// Engine runs the recognition pipeline. It holds no per-call state and may
// be shared between goroutines when its classifier may.
type Engine struct {
	normalizer   vision.Normalizer
	partitioner  vision.Partitioner
	classifier   classify.Classifier
	workers      int
	expectedSize int
	logger       *zap.Logger

	mu    sync.Mutex
	stats Stats
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithWorkers sets how many squares are classified concurrently. The
// default of 1 classifies sequentially.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithExpectedSize sets the raster side the quality check expects.
func WithExpectedSize(size int) Option {
	return func(e *Engine) {
		e.expectedSize = size
	}
}

// NewEngine creates an engine from its three stages.
func NewEngine(n vision.Normalizer, p vision.Partitioner, c classify.Classifier, opts ...Option) *Engine {
	e := &Engine{
		normalizer:   n,
		partitioner:  p,
		classifier:   c,
		workers:      1,
		expectedSize: vision.DefaultOutputSize,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Recognize converts an encoded image to a FEN record. The board field
// comes from the image, the other fields from meta. Any failing stage fails
// the whole call.
func (e *Engine) Recognize(ctx context.Context, data []byte, corners geometry.CornerSet, meta fen.Metadata) (res *Result, err error) {
	start := time.Now()
	done := logger.StartOperation(e.logger, "recognize",
		zap.Int("bytes", len(data)),
		zap.Stringer("corners", corners),
	)
	defer func() {
		e.record(err, time.Since(start))
		done(err)
	}()

	if e.normalizer == nil || e.partitioner == nil || e.classifier == nil {
		return nil, fmt.Errorf("engine is missing a stage")
	}

	raster, err := e.normalizer.Normalize(data, corners)
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}

	patches, err := e.partitioner.Partition(raster)
	if err != nil {
		return nil, fmt.Errorf("partition: %w", err)
	}
	if err := checkCoverage(patches); err != nil {
		return nil, fmt.Errorf("partition: %w", err)
	}

	preds, err := e.classifyAll(ctx, patches)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}

	res = &Result{Hint: raster.Hint, Predictions: preds}
	for _, p := range preds {
		res.Record.Board.Set(p.Square, p.Symbol)
	}
	res.Record.Metadata = meta
	res.FEN = fen.Encode(res.Record)
	res.Warnings = vision.AssessQuality(raster, e.expectedSize)
	res.Duration = time.Since(start)

	white, black := res.Record.Board.Count()
	e.logger.Info("Board recognized",
		zap.String("fen", res.FEN),
		zap.Stringer("hint", res.Hint),
		zap.Int("white_pieces", white),
		zap.Int("black_pieces", black),
		zap.Strings("warnings", res.Warnings),
	)

	return res, nil
}

// ImageToFEN recognizes the board and returns FEN text with the default
// metadata "w - - 0 1".
func (e *Engine) ImageToFEN(ctx context.Context, data []byte, corners geometry.CornerSet) (string, error) {
	res, err := e.Recognize(ctx, data, corners, fen.DefaultMetadata())
	if err != nil {
		return "", err
	}
	return res.FEN, nil
}

// ConvertImageToFEN is the one-call form of Engine.ImageToFEN.
func ConvertImageToFEN(ctx context.Context, data []byte, corners geometry.CornerSet, n vision.Normalizer, p vision.Partitioner, c classify.Classifier) (string, error) {
	return NewEngine(n, p, c).ImageToFEN(ctx, data, corners)
}

// checkCoverage verifies that patches name each of the 64 squares once.
func checkCoverage(patches []vision.Patch) error {
	if len(patches) != board.Size*board.Size {
		return fmt.Errorf("expected %d patches, got %d", board.Size*board.Size, len(patches))
	}
	var seen [board.Size][board.Size]bool
	for _, p := range patches {
		if !p.Square.Valid() {
			return fmt.Errorf("patch for invalid square %v", p.Square)
		}
		if seen[p.Square.Row()][p.Square.Col()] {
			return fmt.Errorf("duplicate patch for %v", p.Square)
		}
		seen[p.Square.Row()][p.Square.Col()] = true
	}
	return nil
}

func (e *Engine) classifyAll(ctx context.Context, patches []vision.Patch) ([board.Size * board.Size]SquarePrediction, error) {
	var preds [board.Size * board.Size]SquarePrediction

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for i, p := range patches {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			pred, err := e.classifier.Classify(gctx, p.Image)
			if err != nil {
				return fmt.Errorf("square %v: %w", p.Square, err)
			}
			if pred.Symbol.ClassIndex() < 0 {
				return fmt.Errorf("square %v: classifier returned unknown symbol %q", p.Square, byte(pred.Symbol))
			}
			preds[i] = SquarePrediction{Square: p.Square, Prediction: pred}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return preds, err
	}
	return preds, nil
}

func (e *Engine) record(err error, d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats.Total++
	e.stats.TotalTime += d
	if err != nil {
		e.stats.Failed++
		return
	}
	e.stats.Succeeded++
}

// Stats returns a snapshot of the engine's counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}
