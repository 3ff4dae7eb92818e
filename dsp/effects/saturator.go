// Package effects implements the channel-strip coloration stages: the
// optional drive soft-clipper and the always-on console saturation.
package effects

import (
	"fmt"
	"math"
)

// SaturatorMode selects the console saturation transfer function.
type SaturatorMode int

const (
	// SaturatorModePure is a bit-exact pass-through.
	SaturatorModePure SaturatorMode = iota
	// SaturatorModeClassic applies a mild odd-harmonic tanh curve.
	SaturatorModeClassic
	// SaturatorModeColor applies a stronger, slightly asymmetric curve
	// with a DC blocker behind it.
	SaturatorModeColor
)

func (m SaturatorMode) String() string {
	switch m {
	case SaturatorModePure:
		return "pure"
	case SaturatorModeClassic:
		return "classic"
	case SaturatorModeColor:
		return "color"
	default:
		return fmt.Sprintf("SaturatorMode(%d)", int(m))
	}
}

const (
	classicDrive = 0.6
	colorDrive   = 2.0
	colorBias    = 0.15

	dcBlockerPole = 0.995
)

var (
	classicNorm = math.Tanh(classicDrive)
	colorNorm   = math.Tanh(colorDrive + colorBias) - math.Tanh(colorBias)
)

// Saturator is the per-strip console saturation stage. Pure mode is an
// identity so an uncolored console costs nothing but a branch; Classic
// and Color wrap the signal in normalized tanh curves, Color with an
// asymmetric bias for even harmonics and a one-pole DC blocker.
type Saturator struct {
	mode SaturatorMode

	// DC blocker state, used by Color mode only.
	dcIn  float64
	dcOut float64
}

// NewSaturator creates a saturator in the given mode.
func NewSaturator(mode SaturatorMode) (*Saturator, error) {
	s := &Saturator{}
	if err := s.SetMode(mode); err != nil {
		return nil, err
	}

	return s, nil
}

// SetMode switches the transfer function.
func (s *Saturator) SetMode(mode SaturatorMode) error {
	if mode < SaturatorModePure || mode > SaturatorModeColor {
		return fmt.Errorf("unknown saturator mode: %d", int(mode))
	}

	s.mode = mode

	return nil
}

// Mode returns the active transfer function.
func (s *Saturator) Mode() SaturatorMode { return s.mode }

// Reset clears the DC blocker state.
func (s *Saturator) Reset() {
	s.dcIn = 0
	s.dcOut = 0
}

// ProcessSample shapes one sample.
func (s *Saturator) ProcessSample(x float64) float64 {
	switch s.mode {
	case SaturatorModeClassic:
		return math.Tanh(classicDrive*x) / classicNorm

	case SaturatorModeColor:
		y := (math.Tanh(colorDrive*x+colorBias) - math.Tanh(colorBias)) / colorNorm
		// One-pole DC blocker keeps the asymmetric curve from leaking
		// offset into the strip.
		out := y - s.dcIn + dcBlockerPole*s.dcOut
		s.dcIn = y
		s.dcOut = out

		return out

	default:
		return x
	}
}

// ProcessInPlace shapes buf in place. Pure mode leaves the buffer
// bit-exact. Zero-alloc.
func (s *Saturator) ProcessInPlace(buf []float64) {
	if s.mode == SaturatorModePure {
		return
	}

	for i, x := range buf {
		buf[i] = s.ProcessSample(x)
	}
}
