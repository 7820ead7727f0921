package model

import (
	"fmt"
	"math"
)

// Schedule names accepted by TrainingConfig.Schedule.
const (
	ScheduleExponential = "exponential"
	ScheduleCosine      = "cosine"
)

// LRSchedule gives the learning rate for a zero-based epoch.
type LRSchedule interface {
	Rate(epoch int) float64
}

// ExponentialSchedule multiplies the rate by Decay after every epoch.
type ExponentialSchedule struct {
	Base  float64
	Decay float64
}

// Rate implements LRSchedule.
func (s ExponentialSchedule) Rate(epoch int) float64 {
	if s.Decay <= 0 || s.Decay >= 1 {
		return s.Base
	}
	return s.Base * math.Pow(s.Decay, float64(epoch))
}

// CosineSchedule warms up linearly over Warmup epochs, then anneals from
// Base to Min along a half cosine ending at epoch Total.
type CosineSchedule struct {
	Base   float64
	Min    float64
	Warmup int
	Total  int
}

// Rate implements LRSchedule.
func (s CosineSchedule) Rate(epoch int) float64 {
	if epoch < s.Warmup {
		return s.Base * float64(epoch+1) / float64(s.Warmup)
	}

	span := s.Total - s.Warmup
	progress := 1.0
	if span > 0 {
		progress = math.Min(1, float64(epoch-s.Warmup)/float64(span))
	}
	cosine := 0.5 * (1 + math.Cos(math.Pi*progress))
	return s.Min + (s.Base-s.Min)*cosine
}

// newSchedule builds the schedule named by config.Schedule. The empty name
// selects exponential decay.
func newSchedule(config *TrainingConfig) (LRSchedule, error) {
	switch config.Schedule {
	case "", ScheduleExponential:
		return ExponentialSchedule{Base: config.LearningRate, Decay: config.LRDecayRate}, nil
	case ScheduleCosine:
		return CosineSchedule{
			Base:   config.LearningRate,
			Min:    config.LearningRate / 100,
			Warmup: config.WarmupEpochs,
			Total:  config.Epochs - 1,
		}, nil
	default:
		return nil, fmt.Errorf("unknown learning rate schedule %q", config.Schedule)
	}
}
