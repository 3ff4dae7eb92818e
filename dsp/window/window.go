// Package window provides the analysis window functions used by the
// spectral verification helpers.
package window

import (
	"math"

	"github.com/cwbudde/algo-vecmath"
)

// Type identifies a window function.
type Type int

const (
	TypeRectangular Type = iota
	TypeHann
	TypeHamming
	TypeBlackman
	TypeBlackmanHarris4Term
)

// Option configures window generation.
type Option func(*config)

type config struct {
	periodic bool
}

// WithPeriodic generates a periodic (DFT-even) window instead of a
// symmetric one. Use this for spectral analysis.
func WithPeriodic() Option {
	return func(cfg *config) {
		cfg.periodic = true
	}
}

// Generate returns window coefficients of the given type and length.
// Invalid lengths return an empty slice.
func Generate(winType Type, length int, opts ...Option) []float64 {
	if length <= 0 {
		return nil
	}

	var cfg config
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	out := make([]float64, length)
	if length == 1 {
		out[0] = 1
		return out
	}

	denom := float64(length - 1)
	if cfg.periodic {
		denom = float64(length)
	}

	for i := range out {
		x := 2 * math.Pi * float64(i) / denom
		switch winType {
		case TypeHann:
			out[i] = 0.5 - 0.5*math.Cos(x)
		case TypeHamming:
			out[i] = 0.54 - 0.46*math.Cos(x)
		case TypeBlackman:
			out[i] = 0.42 - 0.5*math.Cos(x) + 0.08*math.Cos(2*x)
		case TypeBlackmanHarris4Term:
			out[i] = 0.35875 - 0.48829*math.Cos(x) + 0.14128*math.Cos(2*x) - 0.01168*math.Cos(3*x)
		default:
			out[i] = 1
		}
	}

	return out
}

// CoherentGain returns the mean of the window coefficients. Dividing a
// spectrum by length*CoherentGain recovers sine amplitudes.
func CoherentGain(coeffs []float64) float64 {
	if len(coeffs) == 0 {
		return 0
	}

	sum := 0.0
	for _, w := range coeffs {
		sum += w
	}

	return sum / float64(len(coeffs))
}

// ApplyInPlace multiplies buf by the window coefficients element-wise.
// Both slices must have the same length.
func ApplyInPlace(buf, coeffs []float64) {
	vecmath.MulBlockInPlace(buf, coeffs)
}

// ApplyTo writes samples*coeffs into out. All slices must have the same length.
func ApplyTo(out, samples, coeffs []float64) {
	vecmath.MulBlock(out, samples, coeffs)
}
