package engine

import (
	"math"

	"github.com/cwbudde/algo-synth/dsp/core"
	"github.com/cwbudde/algo-synth/dsp/envelope"
	"github.com/cwbudde/algo-synth/dsp/filter/biquad"
	"github.com/cwbudde/algo-synth/dsp/filter/design"
	"github.com/cwbudde/algo-synth/dsp/formant"
	"github.com/cwbudde/algo-synth/dsp/osc"
)

type voiceState int

const (
	voiceFree voiceState = iota
	voiceActive
	voiceReleasing
)

// Voice is one polyphonic unit: oscillator, lowpass filter, formant
// resonator and two envelopes. Voices are pooled by the voice manager
// and render additively into their console channel's buffer.
type Voice struct {
	osc       *osc.Oscillator
	filter    biquad.Section
	formant   *formant.Resonator
	ampEnv    *envelope.ADSR
	filterEnv *envelope.ADSR

	state    voiceState
	note     uint8
	channel  uint8
	velocity float64
	age      uint64

	freq       float64
	targetFreq float64
	detune     float64

	useFormant bool
	sampleRate float64
}

func newVoice(sampleRate float64) (*Voice, error) {
	o, err := osc.NewOscillator(sampleRate)
	if err != nil {
		return nil, err
	}

	f, err := formant.NewResonator(sampleRate)
	if err != nil {
		return nil, err
	}

	ampEnv, err := envelope.NewADSR(sampleRate)
	if err != nil {
		return nil, err
	}

	filterEnv, err := envelope.NewADSR(sampleRate)
	if err != nil {
		return nil, err
	}

	return &Voice{
		osc:        o,
		filter:     *biquad.NewSection(biquad.Identity()),
		formant:    f,
		ampEnv:     ampEnv,
		filterEnv:  filterEnv,
		sampleRate: sampleRate,
	}, nil
}

// trigger starts the voice on a note. Phase resets so retriggered
// notes begin identically; the amp envelope picks up from its current
// level to stay click-free.
func (v *Voice) trigger(channel, note uint8, velocity float64, age uint64, detune float64) {
	v.state = voiceActive
	v.channel = channel
	v.note = note
	v.velocity = velocity
	v.age = age
	v.detune = detune

	v.targetFreq = core.NoteToFreq(float64(note))
	if v.freq == 0 {
		v.freq = v.targetFreq
	}

	v.osc.Reset()
	v.filter.Reset()
	v.formant.Reset()

	v.ampEnv.NoteOn(velocity)
	v.filterEnv.NoteOn(velocity)
}

// retune glides the voice to a new note without retriggering. Legato.
func (v *Voice) retune(note uint8, velocity float64) {
	v.note = note
	v.velocity = velocity
	v.targetFreq = core.NoteToFreq(float64(note))
}

// release gates both envelopes off.
func (v *Voice) release() {
	if v.state == voiceFree {
		return
	}

	v.state = voiceReleasing
	v.ampEnv.NoteOff()
	v.filterEnv.NoteOff()
}

// forceFree silences the voice immediately.
func (v *Voice) forceFree() {
	v.state = voiceFree
	v.freq = 0
	v.ampEnv.Reset()
	v.filterEnv.Reset()
}

// amplitude returns the current amp envelope level, used by the steal
// scoring.
func (v *Voice) amplitude() float64 { return v.ampEnv.Level() }

// attacking reports whether the amp envelope is still in its attack
// stage, where the level says nothing about the settled loudness.
func (v *Voice) attacking() bool { return v.ampEnv.Stage() == envelope.StageAttack }

// voiceTickParams carries the per-control-tick settings the engine
// resolves from the parameter store before voices update.
type voiceTickParams struct {
	waveform     osc.Waveform
	cutoffNorm   float64
	resonance    float64
	envAmount    float64
	glideCoeff   float64
	glideSnap    bool
	bendRatio    float64
	useFormant   bool
	formantFreq  float64
	formantBW    float64
	ampAttack    float64
	ampDecay     float64
	ampSustain   float64
	ampRelease   float64
	fltAttack    float64
	fltDecay     float64
	fltSustain   float64
	fltRelease   float64
	velocitySens float64
}

// tick applies control-rate updates: glide, filter coefficients,
// envelope times and formant settings.
func (v *Voice) tick(p *voiceTickParams) {
	if v.state == voiceFree {
		return
	}

	if p.glideSnap {
		v.freq = v.targetFreq
	} else {
		v.freq += (v.targetFreq - v.freq) * p.glideCoeff
	}

	_ = v.osc.SetWaveform(p.waveform)
	f := v.freq * (1 + v.detune) * p.bendRatio
	if f >= v.sampleRate/2 {
		f = v.sampleRate/2 - 1
	}
	_ = v.osc.SetFrequency(f)

	_ = v.ampEnv.SetAttack(p.ampAttack)
	_ = v.ampEnv.SetDecay(p.ampDecay)
	_ = v.ampEnv.SetSustain(p.ampSustain)
	_ = v.ampEnv.SetRelease(p.ampRelease)
	_ = v.ampEnv.SetVelocitySensitivity(p.velocitySens)
	_ = v.filterEnv.SetAttack(p.fltAttack)
	_ = v.filterEnv.SetDecay(p.fltDecay)
	_ = v.filterEnv.SetSustain(p.fltSustain)
	_ = v.filterEnv.SetRelease(p.fltRelease)

	cutoff := core.Clamp(p.cutoffNorm+p.envAmount*v.filterEnv.Level(), 0, 1)
	v.filter.SetCoefficients(design.Lowpass(cutoffFreq(cutoff, v.sampleRate), p.resonance, v.sampleRate))

	v.useFormant = p.useFormant
	if p.useFormant {
		v.formant.SetParameters(p.formantFreq, p.formantBW)
	}
}

// renderChunk adds the voice's next len(out) samples into out. The amp
// envelope runs per sample and the oscillator level ramps from lv0 to
// lv1 across the chunk; when the envelope reaches OFF the voice frees
// itself.
func (v *Voice) renderChunk(out []float64, lv0, lv1 float64) {
	if v.state == voiceFree {
		return
	}

	step := (lv1 - lv0) / float64(len(out))
	level := lv0
	for i := range out {
		level += step
		env := v.ampEnv.ProcessSample()
		v.filterEnv.ProcessSample()

		if env == 0 && !v.ampEnv.IsActive() {
			v.state = voiceFree
			v.freq = 0

			return
		}

		s := v.osc.ProcessSample() * level * env
		s = v.filter.ProcessSample(s)
		if v.useFormant {
			s = v.formant.ProcessSample(s)
		}

		out[i] += s
	}
}

// cutoffFreq maps normalized cutoff in [0,1] onto 20 Hz..20 kHz on a
// log scale, capped below Nyquist.
func cutoffFreq(norm, sampleRate float64) float64 {
	f := 20 * math.Pow(10, 3*norm)
	if limit := sampleRate * 0.45; f > limit {
		f = limit
	}

	return f
}
