package engine

import (
	"reflect"
	"testing"

	"github.com/cwbudde/algo-synth/dsp/modmatrix"
)

func testMatrix(t *testing.T, e *Engine) *modmatrix.Matrix {
	t.Helper()

	cutoff, ok := e.params.lookup(ParamFilterCutoff)
	if !ok {
		t.Fatal("filter cutoff not found")
	}
	pan, ok := e.params.lookup(ChannelParam(3, StripPan))
	if !ok {
		t.Fatal("ch3 pan not found")
	}

	m, err := modmatrix.New(
		modmatrix.Connection{
			Source:      modmatrix.SourceLFO1,
			Destination: cutoff,
			Amount:      0.3,
			Curve:       modmatrix.CurveExp,
			Bipolar:     true,
			Enabled:     true,
		},
		modmatrix.Connection{
			Source:      modmatrix.SourceMacro2,
			Destination: pan,
			Amount:      -0.25,
			Enabled:     true,
		},
	)
	if err != nil {
		t.Fatal(err)
	}

	return m
}

func TestPresetRoundTrip(t *testing.T) {
	a := newTestEngine(t, 128)
	a.SetParameter(ParamFilterCutoff, 0.3330000000000001)
	a.SetParameter(ParamAmpRelease, 0.456)
	a.SetParameter(ChannelParam(3, StripPan), 0.5)
	a.SetParameter(MasterParam(StripLimiterCeiling), -1.5)
	a.SetModMatrix(testMatrix(t, a))

	dumped := a.DumpPreset("roundtrip")
	data, err := dumped.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	parsed, err := ParsePreset(data)
	if err != nil {
		t.Fatal(err)
	}

	b := newTestEngine(t, 128)
	if err := b.ApplyPreset(parsed); err != nil {
		t.Fatal(err)
	}

	redumped := b.DumpPreset("roundtrip")
	if !reflect.DeepEqual(dumped.Parameters, redumped.Parameters) {
		t.Fatal("parameter values did not survive the round trip")
	}
	if !reflect.DeepEqual(dumped.Modulation, redumped.Modulation) {
		t.Fatalf("modulation did not survive the round trip:\n%+v\n%+v",
			dumped.Modulation, redumped.Modulation)
	}
}

func TestApplyPresetUnknownParameter(t *testing.T) {
	e := newTestEngine(t, 128)

	err := e.ApplyPreset(&Preset{
		Name: "bad",
		Parameters: map[string]float64{
			ParamFilterCutoff: 0.2,
			"no_such_param":   1,
		},
	})
	if err == nil {
		t.Fatal("expected error for unknown parameter")
	}

	// Nothing was applied.
	if got, _ := e.Parameter(ParamFilterCutoff); got != 1 {
		t.Fatalf("cutoff = %g, want untouched default 1", got)
	}
}

func TestApplyPresetInvalidModulation(t *testing.T) {
	e := newTestEngine(t, 128)

	cases := []PresetConnection{
		{Source: "no_such_source", Destination: ParamFilterCutoff, Curve: "linear"},
		{Source: "lfo1", Destination: ParamFilterCutoff, Curve: "no_such_curve"},
		{Source: "lfo1", Destination: "no_such_param", Curve: "linear"},
	}
	for i, pc := range cases {
		err := e.ApplyPreset(&Preset{Name: "bad", Modulation: []PresetConnection{pc}})
		if err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}

func TestApplyPresetInstallsMatrix(t *testing.T) {
	e := newTestEngine(t, 128)

	err := e.ApplyPreset(&Preset{
		Name:       "mod",
		Parameters: map[string]float64{ParamFilterCutoff: 0.5},
		Modulation: []PresetConnection{
			{Source: "lfo1", Destination: ParamFilterCutoff, Amount: 0.1, Curve: "linear", Enabled: true},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if got := e.ModMatrix().Len(); got != 1 {
		t.Fatalf("matrix len = %d, want 1", got)
	}
	if got, _ := e.Parameter(ParamFilterCutoff); got != 0.5 {
		t.Fatalf("cutoff = %g, want 0.5", got)
	}
}

func TestParsePresetRejectsGarbage(t *testing.T) {
	if _, err := ParsePreset([]byte("{not json")); err == nil {
		t.Fatal("expected parse error")
	}
}
