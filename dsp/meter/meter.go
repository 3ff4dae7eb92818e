// Package meter publishes per-channel level measurements from the
// audio thread to UI readers. Values are float64 bit patterns held in
// atomics: one writer, any number of readers, last-writer-wins, no
// locks on either side.
package meter

import (
	"math"
	"sync/atomic"

	"github.com/cwbudde/algo-synth/dsp/core"
)

// Kind selects which measurement to read.
type Kind int

const (
	KindPeak Kind = iota
	KindRMS
	KindGainReduction
)

// atomicFloat is a float64 published through its bit pattern.
type atomicFloat struct {
	bits atomic.Uint64
}

func (a *atomicFloat) Store(v float64) {
	a.bits.Store(math.Float64bits(v))
}

func (a *atomicFloat) Load() float64 {
	return math.Float64frombits(a.bits.Load())
}

// Meter holds the published levels of one channel. Peak and RMS are
// linear amplitudes; gain reduction is a positive dB figure.
type Meter struct {
	peak atomicFloat
	rms  atomicFloat
	gr   atomicFloat
}

// Update measures buf and publishes peak and RMS. Called from the
// audio thread once per block; zero-alloc.
func (m *Meter) Update(buf []float64) {
	if len(buf) == 0 {
		m.peak.Store(0)
		m.rms.Store(0)

		return
	}

	peak := 0.0
	sumSq := 0.0
	for _, v := range buf {
		if a := math.Abs(v); a > peak {
			peak = a
		}
		sumSq += v * v
	}

	m.peak.Store(peak)
	m.rms.Store(math.Sqrt(sumSq / float64(len(buf))))
}

// UpdateStereo measures two buffers and publishes the louder side.
func (m *Meter) UpdateStereo(left, right []float64) {
	peak := core.PeakAbs(left)
	if p := core.PeakAbs(right); p > peak {
		peak = p
	}

	sumSq := 0.0
	for _, v := range left {
		sumSq += v * v
	}
	for _, v := range right {
		sumSq += v * v
	}

	n := len(left) + len(right)
	m.peak.Store(peak)
	if n > 0 {
		m.rms.Store(math.Sqrt(sumSq / float64(n)))
	} else {
		m.rms.Store(0)
	}
}

// SetGainReduction publishes the compressor's current reduction in dB.
func (m *Meter) SetGainReduction(dB float64) {
	m.gr.Store(dB)
}

// Peak returns the last published peak amplitude.
func (m *Meter) Peak() float64 { return m.peak.Load() }

// RMS returns the last published RMS amplitude.
func (m *Meter) RMS() float64 { return m.rms.Load() }

// GainReduction returns the last published gain reduction in dB.
func (m *Meter) GainReduction() float64 { return m.gr.Load() }

// Value returns the measurement selected by kind; unknown kinds read 0.
func (m *Meter) Value(kind Kind) float64 {
	switch kind {
	case KindPeak:
		return m.Peak()
	case KindRMS:
		return m.RMS()
	case KindGainReduction:
		return m.GainReduction()
	default:
		return 0
	}
}

// Reset publishes zeros.
func (m *Meter) Reset() {
	m.peak.Store(0)
	m.rms.Store(0)
	m.gr.Store(0)
}
