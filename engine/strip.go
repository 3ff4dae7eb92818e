package engine

import (
	"math"
	"sync/atomic"

	"github.com/cwbudde/algo-vecmath"

	"github.com/cwbudde/algo-synth/dsp/core"
	"github.com/cwbudde/algo-synth/dsp/dynamics"
	"github.com/cwbudde/algo-synth/dsp/effects"
	"github.com/cwbudde/algo-synth/dsp/filter/biquad"
	"github.com/cwbudde/algo-synth/dsp/filter/design"
	"github.com/cwbudde/algo-synth/dsp/meter"
)

const (
	eqLowShelfFreq  = 120.0
	eqHighShelfFreq = 8000.0
	eqShelfQ        = 0.707
	eqMidQ          = 1.0
)

// stripParams caches the resolved parameter indices of one strip. all
// holds every index for the settled/automated scan.
type stripParams struct {
	trim, drive, satMode            int
	eqLowGain, eqMidGain, eqMidFreq int
	eqHighGain                      int
	compThreshold, compRatio        int
	compAttack, compRelease         int
	limiterCeiling, pan, outputDB   int
	mute, solo                      int

	all []int
}

func resolveStripParams(ps *paramStore, prefix string) stripParams {
	var all []int
	get := func(suffix string) int {
		idx, ok := ps.lookup(prefix + suffix)
		if !ok {
			panic("strip parameter missing: " + prefix + suffix)
		}
		all = append(all, idx)

		return idx
	}

	sp := stripParams{
		trim:           get(StripTrimDB),
		drive:          get(StripDrive),
		satMode:        get(StripSatMode),
		eqLowGain:      get(StripEQLowGainDB),
		eqMidGain:      get(StripEQMidGainDB),
		eqMidFreq:      get(StripEQMidFreq),
		eqHighGain:     get(StripEQHighGainDB),
		compThreshold:  get(StripCompThreshold),
		compRatio:      get(StripCompRatio),
		compAttack:     get(StripCompAttackMs),
		compRelease:    get(StripCompReleaseMs),
		limiterCeiling: get(StripLimiterCeiling),
		pan:            get(StripPan),
		outputDB:       get(StripOutputDB),
		mute:           get(StripMute),
		solo:           get(StripSolo),
	}
	sp.all = all

	return sp
}

// stripChain is the mono processing core shared by the channel strips
// and, per side, the master strip: drive, console saturation, 3-band
// EQ, compressor, lookahead limiter. Coefficients refresh at control
// rate only.
type stripChain struct {
	drive *effects.Drive
	sat   *effects.Saturator
	eqLow biquad.Section
	eqMid biquad.Section
	eqHi  biquad.Section
	comp  *dynamics.Compressor
	lim   *dynamics.Limiter

	sampleRate float64

	// Cached tick values so coefficient recomputation only happens on
	// actual changes.
	lastEQLow, lastEQMid, lastEQMidFreq, lastEQHigh float64
	lastCompThr, lastCompRatio                      float64
	lastCompAtk, lastCompRel                        float64
	lastCeiling                                     float64
	eqValid                                         bool
}

func newStripChain(sampleRate float64, lookahead int) (*stripChain, error) {
	comp, err := dynamics.NewCompressor(sampleRate)
	if err != nil {
		return nil, err
	}

	lim, err := dynamics.NewLimiter(sampleRate, lookahead)
	if err != nil {
		return nil, err
	}

	sat, err := effects.NewSaturator(effects.SaturatorModePure)
	if err != nil {
		return nil, err
	}

	return &stripChain{
		drive:      effects.NewDrive(),
		sat:        sat,
		eqLow:      *biquad.NewSection(biquad.Identity()),
		eqMid:      *biquad.NewSection(biquad.Identity()),
		eqHi:       *biquad.NewSection(biquad.Identity()),
		comp:       comp,
		lim:        lim,
		sampleRate: sampleRate,
	}, nil
}

// tick refreshes control-rate settings from the parameter store.
// Biquad coefficients are only redesigned when their parameters moved.
func (c *stripChain) tick(ps *paramStore, p *stripParams) {
	_ = c.drive.SetAmount(ps.tickValue(p.drive))
	_ = c.sat.SetMode(effects.SaturatorMode(int(ps.tickValue(p.satMode))))

	low := ps.tickValue(p.eqLowGain)
	mid := ps.tickValue(p.eqMidGain)
	midFreq := ps.tickValue(p.eqMidFreq)
	high := ps.tickValue(p.eqHighGain)
	if !c.eqValid || low != c.lastEQLow || mid != c.lastEQMid ||
		midFreq != c.lastEQMidFreq || high != c.lastEQHigh {
		c.eqLow.SetCoefficients(design.LowShelf(eqLowShelfFreq, low, eqShelfQ, c.sampleRate))
		c.eqMid.SetCoefficients(design.Peak(midFreq, mid, eqMidQ, c.sampleRate))
		c.eqHi.SetCoefficients(design.HighShelf(eqHighShelfFreq, high, eqShelfQ, c.sampleRate))
		c.lastEQLow, c.lastEQMid, c.lastEQMidFreq, c.lastEQHigh = low, mid, midFreq, high
		c.eqValid = true
	}

	if thr := ps.tickValue(p.compThreshold); thr != c.lastCompThr {
		_ = c.comp.SetThreshold(thr)
		c.lastCompThr = thr
	}
	if ratio := ps.tickValue(p.compRatio); ratio != c.lastCompRatio {
		_ = c.comp.SetRatio(ratio)
		c.lastCompRatio = ratio
	}
	if atk := ps.tickValue(p.compAttack); atk != c.lastCompAtk {
		_ = c.comp.SetAttack(atk)
		c.lastCompAtk = atk
	}
	if rel := ps.tickValue(p.compRelease); rel != c.lastCompRel {
		_ = c.comp.SetRelease(rel)
		c.lastCompRel = rel
	}
	if ceil := ps.tickValue(p.limiterCeiling); ceil != c.lastCeiling {
		_ = c.lim.SetCeiling(ceil)
		c.lastCeiling = ceil
	}
}

// eqActive reports whether any EQ band deviates from flat.
func (c *stripChain) eqActive() bool {
	return c.lastEQLow != 0 || c.lastEQMid != 0 || c.lastEQHigh != 0
}

// process runs the chain in place over one chunk.
func (c *stripChain) process(buf []float64) {
	c.drive.ProcessInPlace(buf)
	c.sat.ProcessInPlace(buf)

	if c.eqActive() {
		c.eqLow.ProcessBlock(buf)
		c.eqMid.ProcessBlock(buf)
		c.eqHi.ProcessBlock(buf)
	}

	c.comp.ProcessInPlace(buf)
	c.lim.ProcessInPlace(buf)
}

func (c *stripChain) reset() {
	c.sat.Reset()
	c.eqLow.Reset()
	c.eqMid.Reset()
	c.eqHi.Reset()
	c.comp.Reset()
	c.lim.Reset()
}

// scaleRamp multiplies buf by a gain ramping linearly from g0 to g1
// across the buffer.
func scaleRamp(buf []float64, g0, g1 float64) {
	if g0 == g1 {
		vecmath.ScaleBlock(buf, buf, g1)
		return
	}

	step := (g1 - g0) / float64(len(buf))
	g := g0
	for i := range buf {
		g += step
		buf[i] *= g
	}
}

// channelStrip is the fixed-order per-channel DSP stage:
// trim, drive, console saturation, 3-band EQ, compressor, limiter,
// pan, output trim, meter. The order is never user-configurable.
type channelStrip struct {
	params stripParams
	chain  *stripChain
	met    meter.Meter

	idleSamples atomic.Uint64

	// automated is latched at control rate while any strip parameter
	// still glides or carries a modulation offset; it defeats the
	// silence short-circuit so audible parameter moves reach the chain.
	automated bool
}

func newChannelStrip(sampleRate float64, lookahead int, params stripParams) (*channelStrip, error) {
	chain, err := newStripChain(sampleRate, lookahead)
	if err != nil {
		return nil, err
	}

	return &channelStrip{params: params, chain: chain}, nil
}

func (s *channelStrip) tick(ps *paramStore) {
	s.chain.tick(ps, &s.params)

	s.automated = false
	for _, idx := range s.params.all {
		if ps.moving(idx) {
			s.automated = true
			break
		}
	}
}

// process runs the strip over its mono input and adds the panned
// result into the stereo sum buffers. frac0 and frac1 are the chunk's
// start and end positions within the current control tick; modulated
// gains ramp linearly between them. Muted output is cleared before
// metering.
func (s *channelStrip) process(mono, sumL, sumR []float64, ps *paramStore, frac0, frac1 float64, muted, busy bool) {
	n := len(mono)

	// Silence short-circuit: a quiet strip with no voice, solo force or
	// parameter in motion bypasses the whole chain and only counts idle
	// samples.
	if !busy && !s.automated && core.PeakAbs(mono) < core.SilenceFloor {
		s.idleSamples.Add(uint64(n))
		s.met.Update(mono[:0])
		s.met.SetGainReduction(0)

		return
	}

	scaleRamp(mono,
		core.DBToLinear(ps.value(s.params.trim, frac0)),
		core.DBToLinear(ps.value(s.params.trim, frac1)))

	s.chain.process(mono)

	if muted {
		core.Zero(mono)
	}

	// Output trim applies ahead of the meter so the published level is
	// what reaches the bus.
	scaleRamp(mono,
		core.DBToLinear(ps.value(s.params.outputDB, frac0)),
		core.DBToLinear(ps.value(s.params.outputDB, frac1)))

	s.met.Update(mono)
	s.met.SetGainReduction(s.chain.comp.GainReductionDB())

	l0, r0 := core.EqualPowerPan(ps.value(s.params.pan, frac0))
	l1, r1 := core.EqualPowerPan(ps.value(s.params.pan, frac1))
	inv := 1 / float64(n)
	for i, v := range mono {
		u := float64(i+1) * inv
		sumL[i] += v * (l0 + (l1-l0)*u)
		sumR[i] += v * (r0 + (r1-r0)*u)
	}
}

// reset clears all stateful stages.
func (s *channelStrip) reset() {
	s.chain.reset()
	s.met.Reset()
}

// masterStrip runs the same chain as a channel strip over the stereo
// bus: one chain per side with shared control-rate settings, a stereo
// balance in place of pan, and linked metering.
type masterStrip struct {
	params stripParams

	left  *stripChain
	right *stripChain
	met   meter.Meter
}

func newMasterStrip(sampleRate float64, lookahead int, params stripParams) (*masterStrip, error) {
	l, err := newStripChain(sampleRate, lookahead)
	if err != nil {
		return nil, err
	}
	r, err := newStripChain(sampleRate, lookahead)
	if err != nil {
		return nil, err
	}

	return &masterStrip{params: params, left: l, right: r}, nil
}

func (m *masterStrip) tick(ps *paramStore) {
	m.left.tick(ps, &m.params)
	m.right.tick(ps, &m.params)
}

// process shapes the summed stereo bus in place and publishes the
// master meters. vol0 and vol1 are the master volume at the chunk's
// edges, folded into the output stage.
func (m *masterStrip) process(left, right []float64, ps *paramStore, frac0, frac1, vol0, vol1 float64) {
	in0 := core.DBToLinear(ps.value(m.params.trim, frac0))
	in1 := core.DBToLinear(ps.value(m.params.trim, frac1))
	scaleRamp(left, in0, in1)
	scaleRamp(right, in0, in1)

	m.left.process(left)
	m.right.process(right)

	// The master pan acts as a stereo balance: equal-power gains scaled
	// to unity at center.
	l0, r0 := core.EqualPowerPan(ps.value(m.params.pan, frac0))
	l1, r1 := core.EqualPowerPan(ps.value(m.params.pan, frac1))
	out0 := core.DBToLinear(ps.value(m.params.outputDB, frac0)) * vol0 * math.Sqrt2
	out1 := core.DBToLinear(ps.value(m.params.outputDB, frac1)) * vol1 * math.Sqrt2
	scaleRamp(left, l0*out0, l1*out1)
	scaleRamp(right, r0*out0, r1*out1)

	m.met.UpdateStereo(left, right)
	gr := m.left.comp.GainReductionDB()
	if g := m.right.comp.GainReductionDB(); g > gr {
		gr = g
	}
	m.met.SetGainReduction(gr)
}

func (m *masterStrip) reset() {
	m.left.reset()
	m.right.reset()
	m.met.Reset()
}
