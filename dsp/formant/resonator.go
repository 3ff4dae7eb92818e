// Package formant implements the resonant pole-pair filter used to
// imprint vowel-like resonances on the voice output.
package formant

import (
	"fmt"
	"math"
)

const (
	minFrequencyHz   = 20.0
	minBandwidthHz   = 10.0
	maxPoleRadius    = 0.999
	defaultFreqHz    = 800.0
	defaultBandwidth = 100.0
)

// Resonator is a single biquad in Direct Form I tuned as a resonant
// pole pair at ω = 2π·f/fs with radius r = exp(−π·BW/fs):
//
//	y[n] = b0·x[n] − a1·y[n−1] − a2·y[n−2]
//
// with b0 = 1−r, a1 = −2r·cos(ω), a2 = r². Both poles lie at r·e^{±jω},
// strictly inside the unit circle for r < 1, so the filter is
// unconditionally stable. The peak gain at the resonance is ≈ 1/(1−r).
type Resonator struct {
	sampleRate  float64
	frequencyHz float64
	bandwidthHz float64

	b0, a1, a2 float64
	y1, y2     float64
}

// NewResonator creates a resonator with the default formant (800 Hz,
// 100 Hz bandwidth). Sample rate must be positive and finite.
func NewResonator(sampleRate float64) (*Resonator, error) {
	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return nil, fmt.Errorf("resonator sample rate must be positive and finite: %f", sampleRate)
	}

	r := &Resonator{sampleRate: sampleRate}
	r.SetParameters(defaultFreqHz, defaultBandwidth)

	return r, nil
}

// SetParameters recomputes the coefficients for the given center
// frequency and bandwidth (both Hz) without touching the delay state,
// so parameter sweeps stay click-free. Inputs are clamped to
// f ∈ [20, fs/2−1] and BW ∈ [10, fs/4]; the pole radius is additionally
// clamped to 0.999 as a safety margin.
func (r *Resonator) SetParameters(freqHz, bandwidthHz float64) {
	fs := r.sampleRate

	maxFreq := fs/2 - 1
	if freqHz < minFrequencyHz {
		freqHz = minFrequencyHz
	} else if freqHz > maxFreq {
		freqHz = maxFreq
	}

	maxBW := fs / 4
	if bandwidthHz < minBandwidthHz {
		bandwidthHz = minBandwidthHz
	} else if bandwidthHz > maxBW {
		bandwidthHz = maxBW
	}

	r.frequencyHz = freqHz
	r.bandwidthHz = bandwidthHz

	radius := math.Exp(-math.Pi * bandwidthHz / fs)
	if radius > maxPoleRadius {
		radius = maxPoleRadius
	}

	omega := 2 * math.Pi * freqHz / fs

	r.b0 = 1 - radius
	r.a1 = -2 * radius * math.Cos(omega)
	r.a2 = radius * radius
}

// Frequency returns the clamped center frequency in Hz.
func (r *Resonator) Frequency() float64 { return r.frequencyHz }

// Bandwidth returns the clamped bandwidth in Hz.
func (r *Resonator) Bandwidth() float64 { return r.bandwidthHz }

// PoleRadius returns the current pole radius.
func (r *Resonator) PoleRadius() float64 {
	return math.Sqrt(r.a2)
}

// PeakGain returns the gain magnitude at the resonance frequency,
// b0 / ((1−r)·|1−r·e^{−j2ω}|). For the unscaled pole pair this is the
// familiar 1/(1−r) resonator gain whenever 2·sin(ω) ≈ 1.
func (r *Resonator) PeakGain() float64 {
	radius := r.PoleRadius()
	omega := 2 * math.Pi * r.frequencyHz / r.sampleRate

	re := 1 - radius*math.Cos(2*omega)
	im := radius * math.Sin(2*omega)

	return r.b0 / ((1 - radius) * math.Hypot(re, im))
}

// ProcessSample filters one sample and returns the output.
func (r *Resonator) ProcessSample(x float64) float64 {
	y := r.b0*x - r.a1*r.y1 - r.a2*r.y2
	r.y2 = r.y1
	r.y1 = y

	return y
}

// ProcessInPlace filters buf in place. Zero-alloc.
func (r *Resonator) ProcessInPlace(buf []float64) {
	b0, a1, a2 := r.b0, r.a1, r.a2
	y1, y2 := r.y1, r.y2

	for i, x := range buf {
		y := b0*x - a1*y1 - a2*y2
		y2 = y1
		y1 = y
		buf[i] = y
	}

	r.y1, r.y2 = y1, y2
}

// Reset zeros the two delay registers.
func (r *Resonator) Reset() {
	r.y1 = 0
	r.y2 = 0
}
