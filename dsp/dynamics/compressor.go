// Package dynamics implements the channel-strip gain processors: a
// feed-forward RMS compressor whose gain reduction is computed at
// control rate and linearly interpolated between updates, and a
// lookahead brickwall limiter. Both are mono; the console instantiates
// one per channel.
package dynamics

import (
	"fmt"
	"math"
)

const (
	// ControlInterval is the number of samples between gain-reduction
	// updates. The linear gain ramp between updates is what keeps many
	// strips affordable on one audio thread.
	ControlInterval = 32

	defaultThresholdDB = -20.0
	defaultRatio       = 4.0
	defaultKneeDB      = 0.0
	defaultAttackMs    = 10.0
	defaultReleaseMs   = 100.0

	minRatio     = 1.0
	maxRatio     = 100.0
	minAttackMs  = 0.1
	maxAttackMs  = 1000.0
	minReleaseMs = 1.0
	maxReleaseMs = 5000.0
	minKneeDB    = 0.0
	maxKneeDB    = 24.0

	// log2Of10Div20 converts decibels to the log2 domain: log2(10)/20.
	log2Of10Div20 = 0.166096404744
)

// Compressor is a feed-forward soft-knee compressor with RMS detection.
//
// The detector runs per control tick: each ControlInterval samples it
// takes the chunk RMS, smooths it through an attack/release envelope
// and computes a new gain in the log2 domain. The applied gain ramps
// linearly from the previous tick's value, so the per-sample cost is
// one multiply and one add.
//
// Not thread-safe; parameter changes belong on the control thread
// between blocks.
type Compressor struct {
	sampleRate float64

	thresholdDB  float64
	ratio        float64
	kneeDB       float64
	attackMs     float64
	releaseMs    float64
	makeupGainDB float64
	autoMakeup   bool

	// Cached coefficients.
	attackCoeff      float64
	releaseCoeff     float64
	thresholdLog2    float64
	kneeWidthLog2    float64
	invKneeWidthLog2 float64
	makeupGainLin    float64

	envelope float64
	gain     float64
}

// NewCompressor creates a compressor with console-strip defaults:
// threshold -20 dB, ratio 4:1, hard knee, 10 ms attack, 100 ms release,
// auto makeup disabled.
func NewCompressor(sampleRate float64) (*Compressor, error) {
	if err := validateSampleRate(sampleRate); err != nil {
		return nil, fmt.Errorf("compressor %w", err)
	}

	c := &Compressor{
		sampleRate:  sampleRate,
		thresholdDB: defaultThresholdDB,
		ratio:       defaultRatio,
		kneeDB:      defaultKneeDB,
		attackMs:    defaultAttackMs,
		releaseMs:   defaultReleaseMs,
		gain:        1,
	}
	c.updateCoefficients()

	return c, nil
}

// SetThreshold sets the compression threshold in dB.
func (c *Compressor) SetThreshold(dB float64) error {
	if !isFinite(dB) {
		return fmt.Errorf("compressor threshold must be finite: %f", dB)
	}

	c.thresholdDB = dB
	c.updateCoefficients()

	return nil
}

// SetRatio sets the compression ratio in [1, 100]. 1 disables
// compression; 100 approaches limiting.
func (c *Compressor) SetRatio(ratio float64) error {
	if ratio < minRatio || ratio > maxRatio || !isFinite(ratio) {
		return fmt.Errorf("compressor ratio must be in [%f, %f]: %f", minRatio, maxRatio, ratio)
	}

	c.ratio = ratio
	c.updateCoefficients()

	return nil
}

// SetKnee sets the soft-knee width in dB, [0, 24]. 0 is a hard knee.
func (c *Compressor) SetKnee(kneeDB float64) error {
	if kneeDB < minKneeDB || kneeDB > maxKneeDB || !isFinite(kneeDB) {
		return fmt.Errorf("compressor knee must be in [%f, %f]: %f", minKneeDB, maxKneeDB, kneeDB)
	}

	c.kneeDB = kneeDB
	c.updateCoefficients()

	return nil
}

// SetAttack sets the detector attack time in milliseconds, [0.1, 1000].
func (c *Compressor) SetAttack(ms float64) error {
	if ms < minAttackMs || ms > maxAttackMs || !isFinite(ms) {
		return fmt.Errorf("compressor attack must be in [%f, %f]: %f", minAttackMs, maxAttackMs, ms)
	}

	c.attackMs = ms
	c.updateTimeConstants()

	return nil
}

// SetRelease sets the detector release time in milliseconds, [1, 5000].
func (c *Compressor) SetRelease(ms float64) error {
	if ms < minReleaseMs || ms > maxReleaseMs || !isFinite(ms) {
		return fmt.Errorf("compressor release must be in [%f, %f]: %f", minReleaseMs, maxReleaseMs, ms)
	}

	c.releaseMs = ms
	c.updateTimeConstants()

	return nil
}

// SetMakeupGain sets manual makeup gain in dB and disables auto makeup.
func (c *Compressor) SetMakeupGain(dB float64) error {
	if !isFinite(dB) {
		return fmt.Errorf("compressor makeup gain must be finite: %f", dB)
	}

	c.makeupGainDB = dB
	c.autoMakeup = false
	c.updateCoefficients()

	return nil
}

// SetAutoMakeup enables automatic makeup gain that compensates the
// reduction a full-scale signal would see.
func (c *Compressor) SetAutoMakeup(enable bool) {
	c.autoMakeup = enable
	c.updateCoefficients()
}

// Threshold returns the threshold in dB.
func (c *Compressor) Threshold() float64 { return c.thresholdDB }

// Ratio returns the compression ratio.
func (c *Compressor) Ratio() float64 { return c.ratio }

// Knee returns the knee width in dB.
func (c *Compressor) Knee() float64 { return c.kneeDB }

// Attack returns the attack time in milliseconds.
func (c *Compressor) Attack() float64 { return c.attackMs }

// Release returns the release time in milliseconds.
func (c *Compressor) Release() float64 { return c.releaseMs }

// GainReduction returns the most recent applied gain (1 = none).
func (c *Compressor) GainReduction() float64 { return c.gain }

// GainReductionDB returns the most recent gain reduction as a positive
// dB figure (0 = none).
func (c *Compressor) GainReductionDB() float64 {
	if c.gain >= 1 {
		return 0
	}

	return -20 * math.Log10(c.gain)
}

// Reset clears the detector envelope and gain ramp.
func (c *Compressor) Reset() {
	c.envelope = 0
	c.gain = 1
}

// ProcessInPlace compresses buf in place. The buffer is walked in
// ControlInterval chunks; a partial trailing chunk gets its own tick so
// arbitrary block sizes stay exact. Zero-alloc.
func (c *Compressor) ProcessInPlace(buf []float64) {
	for start := 0; start < len(buf); start += ControlInterval {
		end := start + ControlInterval
		if end > len(buf) {
			end = len(buf)
		}
		c.processChunk(buf[start:end])
	}
}

func (c *Compressor) processChunk(chunk []float64) {
	n := len(chunk)
	if n == 0 {
		return
	}

	sumSq := 0.0
	for _, x := range chunk {
		sumSq += x * x
	}
	rms := mathSqrt(sumSq / float64(n))

	if rms > c.envelope {
		c.envelope += (rms - c.envelope) * c.attackCoeff
	} else {
		c.envelope = rms + (c.envelope-rms)*c.releaseCoeff
	}

	target := c.gainForLevel(c.envelope)

	step := (target - c.gain) / float64(n)
	g := c.gain
	mk := c.makeupGainLin
	for i := range chunk {
		g += step
		chunk[i] *= g * mk
	}
	c.gain = target
}

// gainForLevel computes the gain multiplier for a detector level using
// the log2-domain soft-knee formula.
func (c *Compressor) gainForLevel(level float64) float64 {
	if level <= 0 {
		return 1.0
	}

	overshoot := mathLog2(level) - c.thresholdLog2
	compressionFactor := 1.0 - 1.0/c.ratio

	if c.kneeDB <= 0 {
		if overshoot <= 0 {
			return 1.0
		}

		return mathPower2(-overshoot * compressionFactor)
	}

	halfWidth := c.kneeWidthLog2 * 0.5

	var effectiveOvershoot float64
	switch {
	case overshoot < -halfWidth:
		return 1.0
	case overshoot > halfWidth:
		effectiveOvershoot = overshoot
	default:
		scratch := overshoot + halfWidth
		effectiveOvershoot = scratch * scratch * 0.5 * c.invKneeWidthLog2
	}

	return mathPower2(-effectiveOvershoot * compressionFactor)
}

func (c *Compressor) updateCoefficients() {
	c.thresholdLog2 = c.thresholdDB * log2Of10Div20

	c.kneeWidthLog2 = c.kneeDB * log2Of10Div20
	if c.kneeDB > 0 {
		c.invKneeWidthLog2 = 1.0 / c.kneeWidthLog2
	} else {
		c.invKneeWidthLog2 = 0
	}

	if c.autoMakeup {
		c.makeupGainDB = -c.thresholdDB * (1.0 - 1.0/c.ratio)
	}
	c.makeupGainLin = math.Pow(10, c.makeupGainDB/20.0)

	c.updateTimeConstants()
}

// updateTimeConstants derives per-tick detector coefficients. The
// detector steps once per ControlInterval samples, so the time
// constants are scaled by the tick length.
func (c *Compressor) updateTimeConstants() {
	tick := float64(ControlInterval)
	c.attackCoeff = 1.0 - math.Exp(-math.Ln2*tick/(c.attackMs*0.001*c.sampleRate))
	c.releaseCoeff = math.Exp(-math.Ln2 * tick / (c.releaseMs * 0.001 * c.sampleRate))
}

func validateSampleRate(sampleRate float64) error {
	if sampleRate <= 0 || !isFinite(sampleRate) {
		return fmt.Errorf("sample rate must be positive and finite: %f", sampleRate)
	}

	return nil
}

func isFinite(v float64) bool {
	return !(math.IsNaN(v) || math.IsInf(v, 0))
}
