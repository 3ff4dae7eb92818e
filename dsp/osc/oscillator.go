// Package osc implements the bandlimited voice oscillator. A phase
// accumulator in [0, 2π) drives four waveforms; sawtooth and square use
// PolyBLEP corrections at their discontinuities and the triangle is the
// leaky integral of the corrected square, so aliasing above Nyquist
// stays attenuated across the supported pitch range.
package osc

import (
	"fmt"
	"math"
)

// Waveform selects the oscillator shape.
type Waveform int

const (
	Sine Waveform = iota
	Sawtooth
	Square
	Triangle
)

func (w Waveform) String() string {
	switch w {
	case Sine:
		return "sine"
	case Sawtooth:
		return "sawtooth"
	case Square:
		return "square"
	case Triangle:
		return "triangle"
	default:
		return fmt.Sprintf("Waveform(%d)", int(w))
	}
}

const (
	twoPi = 2 * math.Pi

	defaultFrequency = 440.0
	minFrequency     = 0.0

	// Leak applied to the triangle integrator so DC offsets from
	// frequency sweeps die out.
	triangleLeak = 0.9995
)

// Oscillator generates one waveform sample at a time. Phase is
// continuous across calls and across frequency changes; only Reset and
// SetPhase move it discontinuously.
type Oscillator struct {
	sampleRate float64
	frequency  float64
	waveform   Waveform

	phase    float64
	phaseInc float64

	// triangle integrator state
	triState float64
}

// NewOscillator creates a sine oscillator at 440 Hz.
func NewOscillator(sampleRate float64) (*Oscillator, error) {
	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return nil, fmt.Errorf("oscillator sample rate must be positive and finite: %f", sampleRate)
	}

	o := &Oscillator{
		sampleRate: sampleRate,
		waveform:   Sine,
	}
	if err := o.SetFrequency(defaultFrequency); err != nil {
		return nil, err
	}

	return o, nil
}

// SetFrequency sets the fundamental in Hz. The new increment applies
// from the next sample; the running phase is untouched so sweeps are
// click-free. Frequencies at or above Nyquist are rejected.
func (o *Oscillator) SetFrequency(freq float64) error {
	if freq < minFrequency || math.IsNaN(freq) || math.IsInf(freq, 0) {
		return fmt.Errorf("oscillator frequency must be non-negative and finite: %f", freq)
	}
	if freq >= o.sampleRate/2 {
		return fmt.Errorf("oscillator frequency %f at or above Nyquist (%f)", freq, o.sampleRate/2)
	}

	o.frequency = freq
	o.phaseInc = twoPi * freq / o.sampleRate

	return nil
}

// SetWaveform switches the shape. Takes effect at the next sample; the
// resulting discontinuity is accepted because voices reset phase on
// retrigger. Switching into triangle seeds the integrator at the ideal
// triangle value for the current phase so the output settles without a
// start-up transient.
func (o *Oscillator) SetWaveform(w Waveform) error {
	if w < Sine || w > Triangle {
		return fmt.Errorf("unknown waveform: %d", int(w))
	}

	if w == Triangle && o.waveform != Triangle {
		o.triState = naiveTriangle(o.phase / twoPi)
	}
	o.waveform = w

	return nil
}

// Frequency returns the current fundamental in Hz.
func (o *Oscillator) Frequency() float64 { return o.frequency }

// Waveform returns the current shape.
func (o *Oscillator) Waveform() Waveform { return o.waveform }

// Phase returns the accumulator value in [0, 2π).
func (o *Oscillator) Phase() float64 { return o.phase }

// SetPhase positions the accumulator, wrapped into [0, 2π).
func (o *Oscillator) SetPhase(phase float64) {
	phase = math.Mod(phase, twoPi)
	if phase < 0 {
		phase += twoPi
	}
	o.phase = phase
}

// Reset zeros the phase accumulator and seeds the triangle integrator
// at the triangle's value for phase zero.
func (o *Oscillator) Reset() {
	o.phase = 0
	o.triState = -1
}

// ProcessSample advances the oscillator by one sample and returns the
// output, nominally in [-1, 1]. The leaky triangle integrator can
// momentarily exceed unity by a few percent after frequency sweeps
// while its DC component decays.
func (o *Oscillator) ProcessSample() float64 {
	return o.ProcessSampleFM(0)
}

// ProcessSampleFM is ProcessSample with a phase-modulation term (in
// radians per sample) summed into the increment for this sample only.
func (o *Oscillator) ProcessSampleFM(fm float64) float64 {
	inc := o.phaseInc + fm
	if inc < 0 {
		inc = 0
	}

	// Normalized phase and increment for the BLEP corrections.
	t := o.phase / twoPi
	dt := inc / twoPi

	var out float64
	switch o.waveform {
	case Sine:
		out = math.Sin(o.phase)
	case Sawtooth:
		out = 2*t - 1
		out -= polyBLEP(t, dt)
	case Square:
		out = squareBLEP(t, dt)
	case Triangle:
		sq := squareBLEP(t, dt)
		// Leaky integration of the corrected square; the 4*dt factor
		// scales the ramp so a full half-cycle spans [-1, 1].
		o.triState = triangleLeak*o.triState + 4*dt*sq
		out = o.triState
	}

	o.phase += inc
	for o.phase >= twoPi {
		o.phase -= twoPi
	}

	return out
}

// ProcessBlock fills buf with consecutive samples. Zero-alloc.
func (o *Oscillator) ProcessBlock(buf []float64) {
	for i := range buf {
		buf[i] = o.ProcessSampleFM(0)
	}
}

// ProcessBlockFM fills buf with consecutive samples, summing fm[i]
// radians into the phase increment of sample i. len(fm) must be at
// least len(buf).
func (o *Oscillator) ProcessBlockFM(buf, fm []float64) {
	for i := range buf {
		buf[i] = o.ProcessSampleFM(fm[i])
	}
}

// naiveTriangle returns the ideal triangle value at normalized phase
// t in [0, 1): -1 at t = 0, +1 at t = 0.5.
func naiveTriangle(t float64) float64 {
	if t < 0.5 {
		return 4*t - 1
	}

	return 3 - 4*t
}

func squareBLEP(t, dt float64) float64 {
	var out float64
	if t < 0.5 {
		out = 1
	} else {
		out = -1
	}
	out += polyBLEP(t, dt)
	out -= polyBLEP(math.Mod(t+0.5, 1), dt)

	return out
}

// polyBLEP returns the two-sample polynomial band-limited step residual
// for a unit downward discontinuity at t = 0.
func polyBLEP(t, dt float64) float64 {
	if dt <= 0 {
		return 0
	}
	switch {
	case t < dt:
		t /= dt
		return t + t - t*t - 1
	case t > 1-dt:
		t = (t - 1) / dt
		return t*t + t + t + 1
	default:
		return 0
	}
}
