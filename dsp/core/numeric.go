package core

import "math"

const defaultEpsilon = 1e-12

// SilenceThresholdDB is the level below which audio is treated as zero.
const SilenceThresholdDB = -80.0

// SilenceFloor is SilenceThresholdDB expressed as linear amplitude.
var SilenceFloor = math.Pow(10, SilenceThresholdDB/20)

// Clamp limits value to the inclusive range [min, max].
func Clamp(value, min, max float64) float64 {
	if min > max {
		min, max = max, min
	}

	if value < min {
		return min
	}

	if value > max {
		return max
	}

	return value
}

// NearlyEqual reports whether a and b are equal within eps.
func NearlyEqual(a, b, eps float64) bool {
	if eps <= 0 {
		eps = defaultEpsilon
	}

	diff := math.Abs(a - b)
	if diff <= eps {
		return true
	}

	largest := math.Max(math.Abs(a), math.Abs(b))
	if largest == 0 {
		return diff <= eps
	}

	return diff/largest <= eps
}

// FlushDenormals converts tiny denormal-like values to exact zero.
// This can reduce denormal-related CPU slowdowns in hot DSP loops.
func FlushDenormals(x float64) float64 {
	const epsilon = 1e-30
	if x > -epsilon && x < epsilon {
		return 0
	}

	return x
}

// DBToLinear converts dB to linear amplitude (20*log10 convention).
func DBToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}

// LinearToDB converts linear amplitude to dB (20*log10 convention).
// Returns -Inf for zero and NaN for negative values.
func LinearToDB(linear float64) float64 {
	if linear < 0 {
		return math.NaN()
	}

	if linear == 0 {
		return math.Inf(-1)
	}

	return 20 * math.Log10(linear)
}

// NoteToFreq converts a MIDI note number to frequency in Hz
// using equal temperament with A4 = 440 Hz at note 69.
func NoteToFreq(note float64) float64 {
	return 440 * math.Pow(2, (note-69)/12)
}

// FreqToNote converts a frequency in Hz to a fractional MIDI note number.
// Frequencies <= 0 map to note 0.
func FreqToNote(freq float64) float64 {
	if freq <= 0 {
		return 0
	}

	return 69 + 12*math.Log2(freq/440)
}

// EqualPowerPan returns left and right gains for pan in [-1, +1]
// using the equal-power law (-3 dB at center). The square-root form
// keeps left²+right² exactly 1 and makes the center gains
// bit-identical.
func EqualPowerPan(pan float64) (left, right float64) {
	pan = Clamp(pan, -1, 1)

	return math.Sqrt((1 - pan) / 2), math.Sqrt((1 + pan) / 2)
}
