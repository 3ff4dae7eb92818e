// Package envelope implements the ADSR amplitude/filter envelope used
// by the synthesis voices.
package envelope

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-synth/dsp/core"
)

// Stage identifies the envelope state machine phase.
type Stage int

const (
	StageOff Stage = iota
	StageAttack
	StageDecay
	StageSustain
	StageRelease
)

func (s Stage) String() string {
	switch s {
	case StageOff:
		return "off"
	case StageAttack:
		return "attack"
	case StageDecay:
		return "decay"
	case StageSustain:
		return "sustain"
	case StageRelease:
		return "release"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// Curve selects the transition shape within a stage. The stage duration
// is the same for every curve; only the trajectory between the stage's
// start and end level differs.
type Curve int

const (
	CurveLinear Curve = iota
	CurveExponential
	CurveSCurve
)

func (c Curve) String() string {
	switch c {
	case CurveLinear:
		return "linear"
	case CurveExponential:
		return "exponential"
	case CurveSCurve:
		return "s-curve"
	default:
		return fmt.Sprintf("Curve(%d)", int(c))
	}
}

const (
	minStageTime = 0.001
	maxStageTime = 30.0

	defaultAttack  = 0.01
	defaultDecay   = 0.1
	defaultSustain = 0.8
	defaultRelease = 0.2
)

// ADSR is a five-stage envelope generator. Stages progress on a
// normalized ramp so their durations are exact regardless of curve;
// the exponential curve covers 1−e^{−1} of its asymptotic span within
// the configured stage time.
//
// The generator is gate-driven: NoteOn starts ATTACK from the current
// level (so retriggers are click-free), NoteOff starts RELEASE from the
// current level, and the stage returns to OFF once the level falls
// below the −80 dBFS silence floor.
type ADSR struct {
	sampleRate float64

	attackTime  float64
	decayTime   float64
	sustain     float64
	releaseTime float64
	curve       Curve
	velocitySen float64

	stage      Stage
	progress   float64
	increment  float64
	startLevel float64
	endLevel   float64
	level      float64
	peak       float64
}

// NewADSR creates an envelope with 10 ms attack, 100 ms decay, 0.8
// sustain and 200 ms release.
func NewADSR(sampleRate float64) (*ADSR, error) {
	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return nil, fmt.Errorf("envelope sample rate must be positive and finite: %f", sampleRate)
	}

	return &ADSR{
		sampleRate:  sampleRate,
		attackTime:  defaultAttack,
		decayTime:   defaultDecay,
		sustain:     defaultSustain,
		releaseTime: defaultRelease,
		peak:        1,
	}, nil
}

// SetAttack sets the attack time in seconds, clamped to [1 ms, 30 s].
func (e *ADSR) SetAttack(seconds float64) error {
	return e.setStageTime(&e.attackTime, seconds, "attack")
}

// SetDecay sets the decay time in seconds, clamped to [1 ms, 30 s].
func (e *ADSR) SetDecay(seconds float64) error {
	return e.setStageTime(&e.decayTime, seconds, "decay")
}

// SetRelease sets the release time in seconds, clamped to [1 ms, 30 s].
func (e *ADSR) SetRelease(seconds float64) error {
	return e.setStageTime(&e.releaseTime, seconds, "release")
}

func (e *ADSR) setStageTime(dst *float64, seconds float64, name string) error {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return fmt.Errorf("envelope %s time must be finite: %f", name, seconds)
	}

	*dst = core.Clamp(seconds, minStageTime, maxStageTime)

	return nil
}

// SetSustain sets the sustain level, clamped to [0, 1].
func (e *ADSR) SetSustain(level float64) error {
	if math.IsNaN(level) || math.IsInf(level, 0) {
		return fmt.Errorf("envelope sustain must be finite: %f", level)
	}

	e.sustain = core.Clamp(level, 0, 1)

	return nil
}

// SetCurve selects the transition shape.
func (e *ADSR) SetCurve(c Curve) error {
	if c < CurveLinear || c > CurveSCurve {
		return fmt.Errorf("unknown envelope curve: %d", int(c))
	}

	e.curve = c

	return nil
}

// SetVelocitySensitivity sets how strongly note velocity scales the
// attack peak, clamped to [0, 1]. At 0 every note peaks at 1; at 1 the
// peak equals the velocity.
func (e *ADSR) SetVelocitySensitivity(s float64) error {
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return fmt.Errorf("envelope velocity sensitivity must be finite: %f", s)
	}

	e.velocitySen = core.Clamp(s, 0, 1)

	return nil
}

// Stage returns the current state machine phase.
func (e *ADSR) Stage() Stage { return e.stage }

// Level returns the most recent output level. Published as a modulation
// source.
func (e *ADSR) Level() float64 { return e.level }

// IsActive reports whether the envelope produces non-zero output.
func (e *ADSR) IsActive() bool { return e.stage != StageOff }

// NoteOn gates the envelope into ATTACK, starting from the current
// level so an already-sounding voice retriggers without a click.
// Velocity in [0, 1] scales the attack peak by the configured
// sensitivity.
func (e *ADSR) NoteOn(velocity float64) {
	velocity = core.Clamp(velocity, 0, 1)
	e.peak = 1 - e.velocitySen*(1-velocity)

	e.enterStage(StageAttack, e.level, e.peak, e.attackTime)
}

// NoteOff gates the envelope into RELEASE from the current level. A
// NoteOff in OFF is a no-op.
func (e *ADSR) NoteOff() {
	if e.stage == StageOff {
		return
	}

	e.enterStage(StageRelease, e.level, 0, e.releaseTime)
}

// Reset forces the envelope to OFF with zero level.
func (e *ADSR) Reset() {
	e.stage = StageOff
	e.progress = 0
	e.level = 0
	e.startLevel = 0
	e.endLevel = 0
}

func (e *ADSR) enterStage(s Stage, from, to, seconds float64) {
	e.stage = s
	e.progress = 0
	e.startLevel = from
	e.endLevel = to
	e.increment = 1 / (seconds * e.sampleRate)
}

// ProcessSample advances the envelope one sample and returns the level.
func (e *ADSR) ProcessSample() float64 {
	switch e.stage {
	case StageOff:
		e.level = 0
		return 0

	case StageSustain:
		// Track sustain parameter changes while the gate is held.
		e.level = e.sustain
		return e.level

	case StageAttack:
		e.level = e.interpolate()
		if e.progress >= 1 {
			e.enterStage(StageDecay, e.peak, e.sustain, e.decayTime)
		}

	case StageDecay:
		e.level = e.interpolate()
		if e.progress >= 1 {
			e.stage = StageSustain
			e.level = e.sustain
		}

	case StageRelease:
		e.level = e.interpolate()
		if e.progress >= 1 || e.level < core.SilenceFloor {
			e.Reset()
		}
	}

	return e.level
}

// ProcessBlock fills buf with consecutive envelope levels. Zero-alloc.
func (e *ADSR) ProcessBlock(buf []float64) {
	for i := range buf {
		buf[i] = e.ProcessSample()
	}
}

func (e *ADSR) interpolate() float64 {
	u := e.progress
	e.progress += e.increment
	if u > 1 {
		u = 1
	}

	return e.startLevel + (e.endLevel-e.startLevel)*shape(e.curve, u)
}

// shape maps linear stage progress u in [0,1] to the curve trajectory.
// All three shapes are exact at the endpoints.
func shape(c Curve, u float64) float64 {
	switch c {
	case CurveExponential:
		return (1 - math.Exp(-u)) / (1 - math.Exp(-1))
	case CurveSCurve:
		return u * u * (3 - 2*u)
	default:
		return u
	}
}
