package effects

import (
	"math"
	"testing"

	"github.com/cwbudde/algo-synth/dsp/core"
	"github.com/cwbudde/algo-synth/dsp/signal"
	"github.com/cwbudde/algo-synth/internal/testutil"
)

func TestSaturatorModeValidation(t *testing.T) {
	if _, err := NewSaturator(SaturatorMode(99)); err == nil {
		t.Error("unknown mode should be rejected")
	}

	s, err := NewSaturator(SaturatorModePure)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetMode(SaturatorMode(-1)); err == nil {
		t.Error("negative mode should be rejected")
	}
}

func TestPureModeIsBitExact(t *testing.T) {
	s, err := NewSaturator(SaturatorModePure)
	if err != nil {
		t.Fatal(err)
	}

	in := testutil.DeterministicNoise(3, 1.5, 512)
	out := make([]float64, len(in))
	copy(out, in)
	s.ProcessInPlace(out)

	for i := range out {
		if out[i] != in[i] {
			t.Fatalf("sample %d changed: %v != %v", i, out[i], in[i])
		}
	}
}

func TestClassicModeIsMildAndBounded(t *testing.T) {
	s, err := NewSaturator(SaturatorModeClassic)
	if err != nil {
		t.Fatal(err)
	}

	// Unity input maps to unity output.
	if y := s.ProcessSample(1); math.Abs(y-1) > 1e-12 {
		t.Errorf("classic(1) = %v, want 1", y)
	}

	// Small signals pass nearly linearly.
	smallGain := s.ProcessSample(0.01) / 0.01
	if smallGain < 0.9 {
		t.Errorf("classic small-signal gain %v, want near linear", smallGain)
	}

	// Monotone and odd-symmetric.
	for _, x := range []float64{0.1, 0.5, 0.9, 2} {
		if s.ProcessSample(x) != -s.ProcessSample(-x) {
			t.Errorf("classic not odd-symmetric at %v", x)
		}
	}
}

func TestColorModeIsStrongerThanClassic(t *testing.T) {
	classic, err := NewSaturator(SaturatorModeClassic)
	if err != nil {
		t.Fatal(err)
	}
	color, err := NewSaturator(SaturatorModeColor)
	if err != nil {
		t.Fatal(err)
	}

	// At high drive the stronger curve compresses more: compare the
	// harmonic content via how far each output deviates from linear.
	const x = 0.8
	classicDev := math.Abs(classic.ProcessSample(x) - x)
	colorDev := math.Abs(color.ProcessSample(x) - x)
	if colorDev <= classicDev {
		t.Errorf("color deviation %v not stronger than classic %v", colorDev, classicDev)
	}
}

func TestColorModeBlocksDC(t *testing.T) {
	s, err := NewSaturator(SaturatorModeColor)
	if err != nil {
		t.Fatal(err)
	}

	// A loud asymmetrically-shaped sine would carry DC without the
	// blocker; the long-run mean must stay near zero.
	gen := signal.NewGenerator(core.WithSampleRate(48000))
	buf, err := gen.Sine(440, 0.9, 48000)
	if err != nil {
		t.Fatal(err)
	}
	s.ProcessInPlace(buf)

	mean := 0.0
	for _, v := range buf[4800:] {
		mean += v
	}
	mean /= float64(len(buf) - 4800)
	if math.Abs(mean) > 0.01 {
		t.Errorf("color output mean %v, want ~0", mean)
	}
}

func TestSaturatorReset(t *testing.T) {
	s, err := NewSaturator(SaturatorModeColor)
	if err != nil {
		t.Fatal(err)
	}

	buf := testutil.DeterministicSine(440, 48000, 1, 1024)
	s.ProcessInPlace(buf)

	s.Reset()
	if s.dcIn != 0 || s.dcOut != 0 {
		t.Fatal("reset did not clear DC blocker state")
	}
}

func TestDriveBypass(t *testing.T) {
	d := NewDrive()
	if !d.Bypassed() {
		t.Fatal("new drive should be bypassed")
	}

	in := testutil.DeterministicNoise(5, 1, 256)
	out := make([]float64, len(in))
	copy(out, in)
	d.ProcessInPlace(out)

	for i := range out {
		if out[i] != in[i] {
			t.Fatalf("bypassed drive changed sample %d", i)
		}
	}
}

func TestDriveAmountValidation(t *testing.T) {
	d := NewDrive()
	for _, a := range []float64{-0.1, 1.1, math.NaN(), math.Inf(1)} {
		if err := d.SetAmount(a); err == nil {
			t.Errorf("amount %v should be rejected", a)
		}
	}
}

func TestDriveShapesAndNormalizes(t *testing.T) {
	d := NewDrive()
	if err := d.SetAmount(1); err != nil {
		t.Fatal(err)
	}

	// Full-scale input still peaks at 1.
	if y := d.ProcessSample(1); math.Abs(y-1) > 1e-12 {
		t.Errorf("drive(1) = %v, want 1", y)
	}

	// Heavy drive lifts mid-level samples toward full scale.
	if y := d.ProcessSample(0.3); y < 0.9 {
		t.Errorf("drive(0.3) = %v, want close to 1 at full drive", y)
	}

	// Output stays bounded for hot inputs.
	for _, x := range []float64{2, 5, -3} {
		if math.Abs(d.ProcessSample(x)) > 1+1e-12 {
			t.Errorf("drive(%v) exceeds unity", x)
		}
	}
}
