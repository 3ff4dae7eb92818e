package effects

import (
	"fmt"
	"math"
)

const (
	minDriveAmount = 0.0
	maxDriveAmount = 1.0

	// Drive amount 1 maps to this tanh pre-gain.
	maxDriveGain = 10.0
)

// Drive is the optional strip soft-clipper ahead of the console
// saturation. Amount 0 is a bit-exact bypass; amount 1 pushes the
// signal into a tanh curve with 10x pre-gain, normalized so a
// full-scale input still peaks at 1.
type Drive struct {
	amount float64
	gain   float64
	norm   float64
}

// NewDrive creates a bypassed drive stage.
func NewDrive() *Drive {
	d := &Drive{}
	_ = d.SetAmount(0)

	return d
}

// SetAmount sets the drive amount in [0, 1].
func (d *Drive) SetAmount(amount float64) error {
	if amount < minDriveAmount || amount > maxDriveAmount ||
		math.IsNaN(amount) || math.IsInf(amount, 0) {
		return fmt.Errorf("drive amount must be in [%g, %g]: %f", minDriveAmount, maxDriveAmount, amount)
	}

	d.amount = amount
	d.gain = 1 + (maxDriveGain-1)*amount
	d.norm = math.Tanh(d.gain)

	return nil
}

// Amount returns the drive amount.
func (d *Drive) Amount() float64 { return d.amount }

// Bypassed reports whether the stage passes audio through untouched.
func (d *Drive) Bypassed() bool { return d.amount == 0 }

// ProcessSample shapes one sample.
func (d *Drive) ProcessSample(x float64) float64 {
	if d.amount == 0 {
		return x
	}

	return math.Tanh(d.gain*x) / d.norm
}

// ProcessInPlace shapes buf in place. Zero-alloc.
func (d *Drive) ProcessInPlace(buf []float64) {
	if d.amount == 0 {
		return
	}

	for i, x := range buf {
		buf[i] = math.Tanh(d.gain*x) / d.norm
	}
}
