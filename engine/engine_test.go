package engine

import (
	"math"
	"testing"

	"github.com/cwbudde/algo-synth/dsp/core"
	"github.com/cwbudde/algo-synth/dsp/meter"
	"github.com/cwbudde/algo-synth/dsp/modmatrix"
	"github.com/cwbudde/algo-synth/dsp/spectrum"
	"github.com/cwbudde/algo-synth/internal/testutil"
)

const testSampleRate = 48000.0

func newTestEngine(t *testing.T, blockSize int, opts ...Option) *Engine {
	t.Helper()

	e, err := New(opts...)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Prepare(testSampleRate, blockSize); err != nil {
		t.Fatal(err)
	}

	return e
}

// run processes total samples through the engine in blockSize pieces
// and returns the full stereo capture.
func run(e *Engine, total int) (left, right []float64) {
	left = make([]float64, total)
	right = make([]float64, total)
	bs := e.BlockSize()
	for start := 0; start < total; start += bs {
		end := start + bs
		if end > total {
			end = total
		}
		e.Process(left[start:end], right[start:end])
	}

	return left, right
}

func TestNewValidation(t *testing.T) {
	if _, err := New(WithPolyphony(0)); err == nil {
		t.Fatal("expected error for zero polyphony")
	}
	if _, err := New(WithEventCapacity(5)); err == nil {
		t.Fatal("expected error for non-power-of-two event capacity")
	}
}

func TestPrepareValidation(t *testing.T) {
	e, err := New()
	if err != nil {
		t.Fatal(err)
	}

	if err := e.Prepare(0, 128); err == nil {
		t.Fatal("expected error for zero sample rate")
	}
	if err := e.Prepare(testSampleRate, 100); err == nil {
		t.Fatal("expected error for non-power-of-two block size")
	}
	if err := e.Prepare(testSampleRate, 4096); err == nil {
		t.Fatal("expected error for oversized block")
	}
}

func TestUnpreparedEngineEmitsSilence(t *testing.T) {
	e, err := New()
	if err != nil {
		t.Fatal(err)
	}

	left := testutil.DC(1, 128)
	right := testutil.DC(1, 128)
	e.Process(left, right)

	testutil.RequireAllZero(t, left)
	testutil.RequireAllZero(t, right)
}

func TestSilentBlockIsExactlyZero(t *testing.T) {
	e := newTestEngine(t, 128)

	const blocks = 10
	left, right := run(e, blocks*128)

	testutil.RequireAllZero(t, left)
	testutil.RequireAllZero(t, right)

	for ch := 0; ch < NumChannels; ch++ {
		if got := e.IdleSamples(ch); got != blocks*128 {
			t.Fatalf("channel %d idle samples = %d, want %d", ch, got, blocks*128)
		}
	}
	if got := e.Telemetry().BlocksProcessed; got != blocks {
		t.Fatalf("blocks processed = %d, want %d", got, blocks)
	}
}

func TestSineNotePitchAndLevel(t *testing.T) {
	e := newTestEngine(t, 128)
	e.SetParameter(ParamAmpAttack, 0.001)
	e.SetParameter(ParamAmpSustain, 1)

	if !e.NoteOn(0, 60, 1) {
		t.Fatal("note-on rejected")
	}

	left, right := run(e, 32768)
	steady := left[16384 : 16384+8192]

	an, err := spectrum.NewAnalyzer(8192, testSampleRate)
	if err != nil {
		t.Fatal(err)
	}
	freq, _, err := an.PeakFrequency(steady)
	if err != nil {
		t.Fatal(err)
	}

	want := 261.6256 // MIDI note 60
	if math.Abs(freq-want) > 3 {
		t.Fatalf("peak frequency = %g Hz, want %g", freq, want)
	}

	// Level 0.8, full sustain, center pan: each side carries
	// 0.8/sqrt(2) of full scale through an otherwise transparent
	// console.
	peak := 0.0
	for _, v := range steady {
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	if peak < 0.5 || peak > 0.62 {
		t.Fatalf("steady peak = %g, want ~0.566", peak)
	}
	for i, v := range left {
		if math.Abs(v) > 1 {
			t.Fatalf("sample %d = %g exceeds full scale", i, v)
		}
	}

	// Center pan renders both sides identically.
	diff, err := testutil.MaxAbsDiff(left, right)
	if err != nil {
		t.Fatal(err)
	}
	if diff != 0 {
		t.Fatalf("left/right differ by %g at center pan", diff)
	}
}

func TestVoiceStealingDropsOldest(t *testing.T) {
	e := newTestEngine(t, 128, WithPolyphony(4))
	e.SetParameter(ParamAmpAttack, 0.001)
	e.SetParameter(ParamAmpDecay, 0.001)
	e.SetParameter(ParamAmpSustain, 1)

	left := make([]float64, 128)
	right := make([]float64, 128)
	for _, note := range []uint8{60, 62, 64, 65, 67} {
		e.NoteOn(0, note, 1)
		e.Process(left, right)
	}

	if got := e.ActiveVoices(); got != 4 {
		t.Fatalf("active voices = %d, want 4", got)
	}
	if e.vm.holdsNote(0, 60) {
		t.Fatal("oldest note 60 should have been stolen")
	}
	for _, note := range []uint8{62, 64, 65, 67} {
		if !e.vm.holdsNote(0, note) {
			t.Fatalf("note %d missing after steal", note)
		}
	}
	if got := e.Telemetry().VoicesStolen; got != 1 {
		t.Fatalf("voices stolen = %d, want 1", got)
	}
}

func TestSoloMutesOtherChannels(t *testing.T) {
	e := newTestEngine(t, 128)
	e.SetParameter(ParamAmpAttack, 0.001)
	e.SetParameter(ChannelParam(0, StripSolo), 1)

	e.NoteOn(0, 60, 1)
	e.NoteOn(1, 64, 1)
	run(e, 4096)

	if got := e.Meter(1, meter.KindPeak); got != 0 {
		t.Fatalf("non-soloed channel peak = %g, want 0", got)
	}
	if got := e.Meter(0, meter.KindPeak); got <= 0 {
		t.Fatalf("soloed channel peak = %g, want > 0", got)
	}
}

func TestMuteSilencesChannel(t *testing.T) {
	e := newTestEngine(t, 128)
	e.SetParameter(ParamAmpAttack, 0.001)
	e.SetParameter(ChannelParam(0, StripMute), 1)

	e.NoteOn(0, 60, 1)
	left, right := run(e, 4096)

	testutil.RequireAllZero(t, left)
	testutil.RequireAllZero(t, right)
	if got := e.Meter(0, meter.KindPeak); got != 0 {
		t.Fatalf("muted channel peak = %g, want 0", got)
	}
}

func TestMasterVolumeSmoothing(t *testing.T) {
	e := newTestEngine(t, 128)
	e.SetParameter(ParamAmpAttack, 0.001)
	e.SetParameter(ParamAmpSustain, 1)

	e.NoteOn(0, 60, 1)
	run(e, 24000)

	ref, _ := run(e, 128)
	refRMS := testutil.RMS(ref)
	if refRMS < 0.1 {
		t.Fatalf("reference RMS = %g, signal too quiet for the test", refRMS)
	}

	e.SetParameter(ParamMasterVolume, 0)

	prev := refRMS
	var last float64
	for i := 0; i < 20; i++ {
		block, _ := run(e, 128)
		last = testutil.RMS(block)
		if last > prev*1.02 {
			t.Fatalf("block %d: RMS %g rose above %g during fade", i, last, prev)
		}
		prev = last
	}
	if last > refRMS*0.02 {
		t.Fatalf("RMS after 53 ms fade = %g, want < %g", last, refRMS*0.02)
	}
}

func TestMasterStripCompresses(t *testing.T) {
	render := func(compress bool) ([]float64, *Engine) {
		e := newTestEngine(t, 128)
		e.SetParameter(ParamAmpAttack, 0.001)
		e.SetParameter(ParamAmpSustain, 1)
		if compress {
			e.SetParameter(MasterParam(StripCompThreshold), -30)
			e.SetParameter(MasterParam(StripCompRatio), 10)
		}
		e.NoteOn(0, 60, 1)
		left, _ := run(e, 24000)

		return left, e
	}

	ref, _ := render(false)
	got, e := render(true)

	refPeak := core.PeakAbs(ref[16000:])
	gotPeak := core.PeakAbs(got[16000:])
	if gotPeak > refPeak*0.25 {
		t.Fatalf("compressed master peak = %g, want well below uncompressed %g", gotPeak, refPeak)
	}
	if gr := e.Meter(MasterChannel, meter.KindGainReduction); gr < 6 {
		t.Fatalf("master gain reduction = %g dB, want > 6", gr)
	}
}

func TestMasterDriveAddsHarmonics(t *testing.T) {
	render := func(drive float64) []float64 {
		e := newTestEngine(t, 128)
		e.SetParameter(ParamAmpAttack, 0.001)
		e.SetParameter(ParamAmpSustain, 1)
		e.SetParameter(MasterParam(StripDrive), drive)
		e.NoteOn(0, 60, 1)
		left, _ := run(e, 32768)

		return left[16384 : 16384+8192]
	}

	an, err := spectrum.NewAnalyzer(8192, testSampleRate)
	if err != nil {
		t.Fatal(err)
	}

	// Energy around the third harmonic of MIDI note 60 (~785 Hz).
	refE, err := an.BandEnergy(render(0), 700, 900)
	if err != nil {
		t.Fatal(err)
	}
	gotE, err := an.BandEnergy(render(0.8), 700, 900)
	if err != nil {
		t.Fatal(err)
	}

	if gotE < 1e-4 || gotE < 10*refE {
		t.Fatalf("driven third-harmonic energy = %g (clean %g), want clear distortion", gotE, refE)
	}
}

func TestChannelMeterTracksOutputTrim(t *testing.T) {
	e := newTestEngine(t, 128)
	e.SetParameter(ParamAmpAttack, 0.001)
	e.SetParameter(ParamAmpSustain, 1)
	e.SetParameter(ChannelParam(0, StripOutputDB), -20)

	e.NoteOn(0, 60, 1)
	run(e, 24000)

	// The published level is the post-trim signal: 0.8 oscillator level
	// cut by 20 dB.
	peak := e.Meter(0, meter.KindPeak)
	if peak < 0.05 || peak > 0.12 {
		t.Fatalf("channel peak meter = %g, want ~0.08", peak)
	}
}

func TestAutomatedStripStaysActive(t *testing.T) {
	e := newTestEngine(t, 128)
	e.SetParameter(ChannelParam(3, StripTrimDB), -6)

	// While the trim glides toward its new base the strip must process
	// even though no voice feeds it; an untouched strip keeps idling.
	run(e, 256)
	if got := e.IdleSamples(3); got != 0 {
		t.Fatalf("gliding strip idle samples = %d, want 0", got)
	}
	if got := e.IdleSamples(4); got != 256 {
		t.Fatalf("untouched strip idle samples = %d, want 256", got)
	}

	// Once the trim settles the short-circuit resumes.
	run(e, 9600)
	before := e.IdleSamples(3)
	run(e, 128)
	if got := e.IdleSamples(3); got != before+128 {
		t.Fatalf("settled strip idle delta = %d, want 128", got-before)
	}
}

func TestModulationRampsBetweenTicks(t *testing.T) {
	render := func(mod bool) []float64 {
		e := newTestEngine(t, 128)
		e.SetParameter(ParamAmpAttack, 0.001)
		e.SetParameter(ParamAmpSustain, 1)
		e.SetParameter(ParamMasterVolume, 0.25)

		dest, ok := e.params.lookup(ParamMasterVolume)
		if !ok {
			t.Fatal("master volume not found")
		}
		m, err := modmatrix.New(modmatrix.Connection{
			Source:      modmatrix.SourceMacro1,
			Destination: dest,
			Amount:      0.1875,
			Enabled:     true,
		})
		if err != nil {
			t.Fatal(err)
		}
		e.SetModMatrix(m)

		e.NoteOn(0, 60, 1)
		run(e, 8192)
		if mod {
			e.SetMacro(0, 1)
		}
		left, _ := run(e, 4096)

		return left
	}

	ref := render(false)
	got := render(true)

	// The macro sweep multiplies the output by a gain moving from 1 to
	// 2.5. The gain must ramp sample by sample instead of stepping at
	// control ticks.
	prev := math.NaN()
	last := 0.0
	for i := range ref {
		if math.Abs(ref[i]) < 0.05 {
			prev = math.NaN()
			continue
		}
		ratio := got[i] / ref[i]
		if !math.IsNaN(prev) && math.Abs(ratio-prev) > 0.03 {
			t.Fatalf("sample %d: gain ratio jumped from %g to %g", i, prev, ratio)
		}
		prev = ratio
		last = ratio
	}
	if last < 2.4 {
		t.Fatalf("final gain ratio = %g, want ~2.5", last)
	}
}

func TestBlockSizeInvariance(t *testing.T) {
	const total = 2048

	render := func(blockSize int) []float64 {
		e := newTestEngine(t, blockSize)
		e.SetParameter(ParamAmpAttack, 0.001)
		e.SetParameter(ParamAmpSustain, 1)
		e.NoteOn(0, 60, 1)
		left, _ := run(e, total)

		return left
	}

	want := render(64)
	for _, bs := range []int{32, 256, 512} {
		got := render(bs)
		diff, err := testutil.MaxAbsDiff(got, want)
		if err != nil {
			t.Fatal(err)
		}
		if diff != 0 {
			t.Fatalf("block size %d: output differs from 64-sample blocks by %g", bs, diff)
		}
	}
}

func TestAllNotesOffFreesAllVoices(t *testing.T) {
	e := newTestEngine(t, 128)
	e.SetParameter(ParamAmpAttack, 0.001)
	e.SetParameter(ParamAmpRelease, 0.05)

	e.NoteOn(0, 60, 1)
	e.NoteOn(1, 64, 1)
	run(e, 4096)

	if got := e.ActiveVoices(); got != 2 {
		t.Fatalf("active voices = %d, want 2", got)
	}

	e.AllNotesOff()
	// Twice the release time plus slack.
	run(e, 2*2400+512)

	if got := e.ActiveVoices(); got != 0 {
		t.Fatalf("active voices = %d after all-notes-off window, want 0", got)
	}
}

func TestPitchBendShiftsFrequency(t *testing.T) {
	e := newTestEngine(t, 128)
	e.SetParameter(ParamAmpAttack, 0.001)
	e.SetParameter(ParamAmpSustain, 1)

	e.NoteOn(0, 69, 1)
	e.PitchBend(1)
	left, _ := run(e, 32768)

	an, err := spectrum.NewAnalyzer(8192, testSampleRate)
	if err != nil {
		t.Fatal(err)
	}
	freq, _, err := an.PeakFrequency(left[16384 : 16384+8192])
	if err != nil {
		t.Fatal(err)
	}

	// 440 Hz bent up by the default two-semitone range.
	want := 440 * math.Pow(2, 2.0/12)
	if math.Abs(freq-want) > 4 {
		t.Fatalf("bent frequency = %g Hz, want %g", freq, want)
	}
}

func TestModMatrixDrivesParameter(t *testing.T) {
	e := newTestEngine(t, 128)
	e.SetParameter(ParamAmpAttack, 0.001)
	e.SetParameter(ParamAmpSustain, 1)
	e.SetParameter(ParamMasterVolume, 0)
	if !e.SetMacro(0, 1) {
		t.Fatal("macro event rejected")
	}
	if e.SetMacro(numMacros, 1) {
		t.Fatal("out-of-range macro accepted")
	}

	dest, ok := e.params.lookup(ParamMasterVolume)
	if !ok {
		t.Fatal("master volume not found")
	}
	m, err := modmatrix.New(modmatrix.Connection{
		Source:      modmatrix.SourceMacro1,
		Destination: dest,
		Amount:      0.5,
		Enabled:     true,
	})
	if err != nil {
		t.Fatal(err)
	}
	e.SetModMatrix(m)

	e.NoteOn(0, 60, 1)
	left, _ := run(e, 8192)
	if testutil.RMS(left[4096:]) < 0.1 {
		t.Fatal("modulated master volume produced no output")
	}

	// Clearing the matrix removes the offset and the output collapses
	// to the (still smoothing, near-zero) base volume.
	e.SetModMatrix(nil)
	run(e, 4096)
	left, right := run(e, 1024)
	if rms := testutil.RMS(left); rms > 1e-6 {
		t.Fatalf("left RMS after clearing matrix = %g, want < 1e-6", rms)
	}
	if rms := testutil.RMS(right); rms > 1e-6 {
		t.Fatalf("right RMS after clearing matrix = %g, want < 1e-6", rms)
	}
}

func TestSetParameterUnknownCounted(t *testing.T) {
	e := newTestEngine(t, 128)

	e.SetParameter("no_such_param", 1)
	if got := e.Telemetry().UnknownParams; got != 1 {
		t.Fatalf("unknown params = %d, want 1", got)
	}
	if _, ok := e.Parameter("no_such_param"); ok {
		t.Fatal("unexpected value for unknown parameter")
	}
}

func TestAutomateParameterAppliesAtOffset(t *testing.T) {
	e := newTestEngine(t, 128)

	if !e.AutomateParameter(ParamFilterCutoff, 0.25, 64) {
		t.Fatal("automation event rejected")
	}
	run(e, 128)

	if got, _ := e.Parameter(ParamFilterCutoff); got != 0.25 {
		t.Fatalf("cutoff base = %g, want 0.25", got)
	}
}

func TestEventOverflowCountsDrops(t *testing.T) {
	e := newTestEngine(t, 128, WithEventCapacity(4))

	for i := 0; i < 5; i++ {
		e.NoteOn(0, uint8(60+i), 1)
	}
	if got := e.Telemetry().EventsDropped; got != 1 {
		t.Fatalf("events dropped = %d, want 1", got)
	}

	// A note-off still gets through the full ring.
	if !e.NoteOff(0, 60) {
		t.Fatal("note-off rejected on full ring")
	}
}

func TestMeterChannelRange(t *testing.T) {
	e := newTestEngine(t, 128)

	if got := e.Meter(NumChannels, meter.KindPeak); got != 0 {
		t.Fatalf("out-of-range channel meter = %g, want 0", got)
	}
	if got := e.Meter(MasterChannel, meter.KindPeak); got != 0 {
		t.Fatalf("master meter before audio = %g, want 0", got)
	}
}

func TestCloseSilencesEngine(t *testing.T) {
	e := newTestEngine(t, 128)
	e.NoteOn(0, 60, 1)
	run(e, 1024)

	e.Close()
	left := testutil.DC(1, 128)
	right := testutil.DC(1, 128)
	e.Process(left, right)

	testutil.RequireAllZero(t, left)
	testutil.RequireAllZero(t, right)
}
