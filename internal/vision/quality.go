package vision

import (
	"fmt"
	"math"
)

// Quality thresholds on 0-255 luma.
const (
	MinBrightness = 30
	MaxBrightness = 225
	MinContrast   = 20
)

// AssessQuality returns human-readable warnings about a canonical raster.
// Warnings never make a conversion fail.
func AssessQuality(r *CanonicalRaster, expectedSize int) []string {
	if r == nil || r.Image == nil {
		return []string{"no image"}
	}

	var warnings []string
	b := r.Image.Bounds()
	if expectedSize > 0 && (b.Dx() != expectedSize || b.Dy() != expectedSize) {
		warnings = append(warnings, fmt.Sprintf("unexpected image size %dx%d, want %dx%d", b.Dx(), b.Dy(), expectedSize, expectedSize))
	}

	n := float64(b.Dx() * b.Dy())
	if n == 0 {
		return append(warnings, "image has no pixels")
	}

	var sum, sq float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := luma(r.Image.RGBAAt(x, y))
			sum += v
			sq += v * v
		}
	}
	mean := sum / n
	stddev := math.Sqrt(math.Max(0, sq/n-mean*mean))

	switch {
	case mean < MinBrightness:
		warnings = append(warnings, fmt.Sprintf("image too dark (mean brightness %.1f)", mean))
	case mean > MaxBrightness:
		warnings = append(warnings, fmt.Sprintf("image too bright (mean brightness %.1f)", mean))
	}
	if stddev < MinContrast {
		warnings = append(warnings, fmt.Sprintf("low contrast (brightness stddev %.1f)", stddev))
	}

	return warnings
}
