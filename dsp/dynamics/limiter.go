package dynamics

import (
	"fmt"
	"math"
)

const (
	defaultLimiterCeilingDB = -0.1
	defaultLimiterReleaseMs = 50.0

	minLimiterCeilingDB = -24.0
	maxLimiterCeilingDB = 0.0
	minLimiterReleaseMs = 1.0
	maxLimiterReleaseMs = 5000.0
)

// Limiter is a peak limiter with a fixed lookahead of one audio block.
// The program path is delayed by the lookahead while the detector runs
// ahead of it, so the gain is already down when a peak arrives. The
// output is additionally hard-clamped at the ceiling, which makes the
// ceiling a guarantee rather than a target.
type Limiter struct {
	sampleRate float64
	ceilingDB  float64
	ceilingLin float64
	releaseMs  float64

	releaseCoeff float64
	gain         float64

	delayBuf []float64
	writePos int
}

// NewLimiter creates a limiter whose lookahead is lookaheadSamples
// (typically the engine block size). lookaheadSamples must be positive.
func NewLimiter(sampleRate float64, lookaheadSamples int) (*Limiter, error) {
	if err := validateSampleRate(sampleRate); err != nil {
		return nil, fmt.Errorf("limiter %w", err)
	}
	if lookaheadSamples <= 0 {
		return nil, fmt.Errorf("limiter lookahead must be positive: %d", lookaheadSamples)
	}

	l := &Limiter{
		sampleRate: sampleRate,
		ceilingDB:  defaultLimiterCeilingDB,
		releaseMs:  defaultLimiterReleaseMs,
		gain:       1,
		delayBuf:   make([]float64, lookaheadSamples),
	}
	l.updateCoefficients()

	return l, nil
}

// SetCeiling sets the hard output ceiling in dB, [-24, 0].
func (l *Limiter) SetCeiling(dB float64) error {
	if dB < minLimiterCeilingDB || dB > maxLimiterCeilingDB || !isFinite(dB) {
		return fmt.Errorf("limiter ceiling must be in [%f, %f]: %f",
			minLimiterCeilingDB, maxLimiterCeilingDB, dB)
	}

	l.ceilingDB = dB
	l.updateCoefficients()

	return nil
}

// SetRelease sets the gain recovery time in milliseconds, [1, 5000].
func (l *Limiter) SetRelease(ms float64) error {
	if ms < minLimiterReleaseMs || ms > maxLimiterReleaseMs || !isFinite(ms) {
		return fmt.Errorf("limiter release must be in [%f, %f]: %f",
			minLimiterReleaseMs, maxLimiterReleaseMs, ms)
	}

	l.releaseMs = ms
	l.updateCoefficients()

	return nil
}

// Ceiling returns the ceiling in dB.
func (l *Limiter) Ceiling() float64 { return l.ceilingDB }

// Release returns the release time in milliseconds.
func (l *Limiter) Release() float64 { return l.releaseMs }

// Latency returns the program-path delay in samples.
func (l *Limiter) Latency() int { return len(l.delayBuf) }

// GainReduction returns the current detector gain (1 = none).
func (l *Limiter) GainReduction() float64 { return l.gain }

// Reset clears the delay line and gain state.
func (l *Limiter) Reset() {
	l.gain = 1
	l.writePos = 0
	for i := range l.delayBuf {
		l.delayBuf[i] = 0
	}
}

// ProcessInPlace limits buf in place. Zero-alloc. The first Latency()
// samples after a Reset are the (silent) delay-line preroll.
func (l *Limiter) ProcessInPlace(buf []float64) {
	for i, x := range buf {
		buf[i] = l.processSample(x)
	}
}

func (l *Limiter) processSample(input float64) float64 {
	// Detector runs on the incoming sample, one lookahead ahead of the
	// program path. The gain drops instantly to whatever the loudest
	// pending sample needs and recovers exponentially.
	if a := math.Abs(input); a > l.ceilingLin {
		if needed := l.ceilingLin / a; needed < l.gain {
			l.gain = needed
		}
	}

	delayed := l.delayBuf[l.writePos]
	l.delayBuf[l.writePos] = input
	l.writePos++
	if l.writePos >= len(l.delayBuf) {
		l.writePos = 0
	}

	out := delayed * l.gain

	l.gain = 1 + (l.gain-1)*l.releaseCoeff

	// Hard ceiling.
	if out > l.ceilingLin {
		out = l.ceilingLin
	} else if out < -l.ceilingLin {
		out = -l.ceilingLin
	}

	return out
}

func (l *Limiter) updateCoefficients() {
	l.ceilingLin = math.Pow(10, l.ceilingDB/20.0)
	l.releaseCoeff = math.Exp(-math.Ln2 / (l.releaseMs * 0.001 * l.sampleRate))
}
