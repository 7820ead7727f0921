package model

import (
	"fmt"
	"image"
	"math"
	"time"

	"go.uber.org/zap"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/thyrook/fenvision/internal/board"
)

func errBatchSize(n int) error {
	return fmt.Errorf("classifier needs batch size 1, got %d", n)
}

// Sample is one labelled square.
type Sample struct {
	Input []float64 // PatchInput output
	Label board.Symbol
}

// NewSample converts a patch and its true symbol.
func NewSample(patch image.Image, label board.Symbol) Sample {
	return Sample{Input: PatchInput(patch), Label: label}
}

// TrainingConfig holds training hyperparameters
type TrainingConfig struct {
	Epochs          int
	BatchSize       int
	LearningRate    float64
	LRDecayRate     float64 // Learning rate decay per epoch, exponential schedule only
	Schedule        string  // "exponential" (default) or "cosine"
	WarmupEpochs    int     // cosine schedule only
	GradientClipMax float64
}

// DefaultTrainingConfig returns default training configuration
func DefaultTrainingConfig() *TrainingConfig {
	return &TrainingConfig{
		Epochs:          20,
		BatchSize:       16,
		LearningRate:    0.005,
		LRDecayRate:     0.95,
		Schedule:        ScheduleExponential,
		GradientClipMax: 5.0,
	}
}

// TrainingMetrics tracks training progress
type TrainingMetrics struct {
	Epoch        int
	Loss         float64 // mean cross-entropy per sample
	Accuracy     float64
	LearningRate float64
	Duration     time.Duration
}

// Trainer fits a PatchNet to labelled squares.
type Trainer struct {
	model      *PatchNet
	config     *TrainingConfig
	solver     gorgonia.Solver
	schedule   LRSchedule
	metrics    []TrainingMetrics
	targetNode *gorgonia.Node
	lossNode   *gorgonia.Node
	logger     *zap.Logger
}

// NewTrainer creates a trainer with a fresh network
func NewTrainer(config *TrainingConfig, logger *zap.Logger) (*Trainer, error) {
	if config == nil {
		config = DefaultTrainingConfig()
	}
	if config.Epochs < 1 || config.BatchSize < 1 || config.LearningRate <= 0 {
		return nil, fmt.Errorf("invalid training config: %+v", *config)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	schedule, err := newSchedule(config)
	if err != nil {
		return nil, err
	}

	model, err := buildPatchNet(config.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create model: %w", err)
	}

	targetNode := gorgonia.NewMatrix(
		model.g,
		tensor.Float64,
		gorgonia.WithShape(config.BatchSize, NumClasses),
		gorgonia.WithName("target"),
	)

	lossNode, err := model.ComputeLoss(targetNode)
	if err != nil {
		return nil, fmt.Errorf("failed to create loss node: %w", err)
	}

	if _, err := gorgonia.Grad(lossNode, model.Learnables()...); err != nil {
		return nil, fmt.Errorf("failed to compute gradients: %w", err)
	}

	model.vm = gorgonia.NewTapeMachine(model.g)

	return &Trainer{
		model:      model,
		config:     config,
		solver:     newSolver(config, schedule.Rate(0)),
		schedule:   schedule,
		targetNode: targetNode,
		lossNode:   lossNode,
		logger:     logger,
	}, nil
}

func newSolver(config *TrainingConfig, lr float64) gorgonia.Solver {
	return gorgonia.NewAdamSolver(
		gorgonia.WithLearnRate(lr),
		gorgonia.WithBatchSize(float64(config.BatchSize)),
		gorgonia.WithClip(config.GradientClipMax),
	)
}

// Train runs all epochs over samples and returns per-epoch metrics.
func (t *Trainer) Train(samples []Sample) ([]TrainingMetrics, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("no training samples")
	}
	for i, s := range samples {
		if len(s.Input) != PatchSize*PatchSize {
			return nil, fmt.Errorf("sample %d: invalid input size %d", i, len(s.Input))
		}
		if s.Label.ClassIndex() < 0 {
			return nil, fmt.Errorf("sample %d: invalid label %q", i, byte(s.Label))
		}
	}

	lr := t.schedule.Rate(0)
	for epoch := 1; epoch <= t.config.Epochs; epoch++ {
		start := time.Now()
		if next := t.schedule.Rate(epoch - 1); next != lr {
			lr = next
			t.solver = newSolver(t.config, lr)
		}

		var lossSum float64
		correct, seen := 0, 0
		for off := 0; off < len(samples); off += t.config.BatchSize {
			loss, ok, n, err := t.trainBatch(samples, off)
			if err != nil {
				return t.metrics, fmt.Errorf("epoch %d: %w", epoch, err)
			}
			lossSum += loss
			correct += ok
			seen += n
		}

		m := TrainingMetrics{
			Epoch:        epoch,
			Loss:         lossSum / float64(seen),
			Accuracy:     float64(correct) / float64(seen),
			LearningRate: lr,
			Duration:     time.Since(start),
		}
		t.metrics = append(t.metrics, m)
		t.logger.Info("Epoch complete",
			zap.Int("epoch", epoch),
			zap.Float64("loss", m.Loss),
			zap.Float64("accuracy", m.Accuracy),
			zap.Float64("learning_rate", lr),
			zap.Duration("duration", m.Duration),
		)

		if math.IsNaN(m.Loss) {
			return t.metrics, fmt.Errorf("epoch %d: loss diverged", epoch)
		}
	}

	return t.metrics, nil
}

// trainBatch fills one batch starting at off, wrapping around to the start
// of samples when fewer than BatchSize remain.
func (t *Trainer) trainBatch(samples []Sample, off int) (float64, int, int, error) {
	bs := t.config.BatchSize
	n := len(samples) - off
	if n > bs {
		n = bs
	}

	inputData := make([]float64, bs*PatchSize*PatchSize)
	targetData := make([]float64, bs*NumClasses)
	labels := make([]int, bs)
	for i := 0; i < bs; i++ {
		s := samples[(off+i)%len(samples)]
		copy(inputData[i*PatchSize*PatchSize:], s.Input)
		labels[i] = s.Label.ClassIndex()
		targetData[i*NumClasses+labels[i]] = 1
	}

	if err := gorgonia.Let(t.model.input, tensor.New(
		tensor.WithShape(bs, 1, PatchSize, PatchSize),
		tensor.WithBacking(inputData),
	)); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to set input: %w", err)
	}
	if err := gorgonia.Let(t.targetNode, tensor.New(
		tensor.WithShape(bs, NumClasses),
		tensor.WithBacking(targetData),
	)); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to set target: %w", err)
	}

	if err := t.model.vm.RunAll(); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to run forward/backward: %w", err)
	}
	defer t.model.vm.Reset()

	var loss float64
	switch v := t.lossNode.Value().Data().(type) {
	case float64:
		loss = v
	case []float64:
		if len(v) == 0 {
			return 0, 0, 0, fmt.Errorf("loss value array is empty")
		}
		loss = v[0]
	default:
		return 0, 0, 0, fmt.Errorf("unexpected loss value type: %T", v)
	}

	correct := 0
	probs := t.model.output.Value().Data().([]float64)
	for i := 0; i < n; i++ {
		best := 0
		for j := 1; j < NumClasses; j++ {
			if probs[i*NumClasses+j] > probs[i*NumClasses+best] {
				best = j
			}
		}
		if best == labels[i] {
			correct++
		}
	}

	learnables := t.model.Learnables()
	valueGrads := make([]gorgonia.ValueGrad, len(learnables))
	for i, node := range learnables {
		valueGrads[i] = node
	}
	if err := t.solver.Step(valueGrads); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to update weights: %w", err)
	}

	// Loss covers the whole padded batch; scale it to the real samples.
	return loss * float64(n) / float64(bs), correct, n, nil
}

// Metrics returns the metrics of all completed epochs
func (t *Trainer) Metrics() []TrainingMetrics {
	return t.metrics
}

// Save writes the trained weights.
func (t *Trainer) Save(path string) error {
	return t.model.Save(path)
}

// Close releases the training graph
func (t *Trainer) Close() error {
	return t.model.Close()
}
