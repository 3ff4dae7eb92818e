// Package engine implements the real-time synthesis and mixing core:
// a pool of synth voices feeding a 16-channel console with per-channel
// processing strips and a stereo master bus. The audio callback path
// is lock-free and allocation-free; control messages cross over
// through an SPSC event ring and atomic parameter slots.
package engine

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/cwbudde/algo-synth/dsp/core"
	"github.com/cwbudde/algo-synth/dsp/meter"
	"github.com/cwbudde/algo-synth/dsp/modmatrix"
	"github.com/cwbudde/algo-synth/dsp/osc"
)

const (
	// controlInterval is the control tick length in samples. Parameter
	// smoothing, modulation evaluation and coefficient updates all run
	// on this grid, anchored to the absolute sample clock so results do
	// not depend on the processing block size.
	controlInterval = 32

	// MasterChannel addresses the master strip in Meter queries.
	MasterChannel = -1

	defaultEventCapacity = 1024

	minSampleRate = 8000
	maxSampleRate = 384000
)

// Option configures an Engine at construction.
type Option func(*engineConfig)

type engineConfig struct {
	polyphony     int
	eventCapacity int
}

// WithPolyphony sets the voice pool size in [1, 64].
func WithPolyphony(n int) Option {
	return func(cfg *engineConfig) { cfg.polyphony = n }
}

// WithEventCapacity sets the event ring capacity (power of two >= 2).
func WithEventCapacity(n int) Option {
	return func(cfg *engineConfig) { cfg.eventCapacity = n }
}

// globalIndices caches the resolved indices of the global synth
// parameters so the audio thread never performs map lookups.
type globalIndices struct {
	osc1Waveform    int
	osc1Level       int
	filterCutoff    int
	filterResonance int
	filterEnvAmount int
	ampAttack       int
	ampDecay        int
	ampSustain      int
	ampRelease      int
	fltAttack       int
	fltDecay        int
	fltSustain      int
	fltRelease      int
	lfo1Rate        int
	lfo2Rate        int
	glideTime       int
	legato          int
	unisonDetune    int
	formantEnable   int
	formantFreq     int
	formantBW       int
	bendRange       int
	velocitySens    int
	masterVolume    int

	macros [numMacros]int
}

// Engine is the synthesis and mixing core. One control thread and one
// audio thread may use it concurrently: Process belongs to the audio
// thread, everything else to the control thread. Prepare and Close
// must not overlap Process.
type Engine struct {
	params *paramStore
	ring   *eventRing
	matrix modmatrix.Store
	tel    telemetry

	gp         globalIndices
	rangeScale []float64

	polyphony  int
	sampleRate float64
	blockSize  int
	prepared   atomic.Bool

	vm     *voiceManager
	strips [NumChannels]*channelStrip
	master *masterStrip

	chanBufs [NumChannels][]float64

	lfo1 *osc.Oscillator
	lfo2 *osc.Oscillator

	// Audio-thread private state.
	clock       uint64
	sinceTick   int
	bendNorm    float64
	forceFreeAt uint64
	vtp         voiceTickParams
	sources     [modmatrix.NumSources]float64
}

// New creates an unprepared engine. Call Prepare before Process.
func New(opts ...Option) (*Engine, error) {
	cfg := engineConfig{
		polyphony:     DefaultPolyphony,
		eventCapacity: defaultEventCapacity,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	if cfg.polyphony < 1 || cfg.polyphony > maxPolyphony {
		return nil, fmt.Errorf("polyphony must be in [1, %d]: %d", maxPolyphony, cfg.polyphony)
	}
	if cfg.eventCapacity < 2 || cfg.eventCapacity&(cfg.eventCapacity-1) != 0 {
		return nil, fmt.Errorf("event capacity must be a power of two >= 2: %d", cfg.eventCapacity)
	}

	params := newParamStore(buildParamDefs())

	e := &Engine{
		params:    params,
		ring:      newEventRing(cfg.eventCapacity),
		polyphony: cfg.polyphony,
	}
	e.gp = resolveGlobalIndices(params)
	e.rangeScale = make([]float64, len(params.defs))
	for i, d := range params.defs {
		e.rangeScale[i] = d.max - d.min
	}

	return e, nil
}

func resolveGlobalIndices(ps *paramStore) globalIndices {
	get := func(name string) int {
		idx, ok := ps.lookup(name)
		if !ok {
			panic("global parameter missing: " + name)
		}

		return idx
	}

	gi := globalIndices{
		osc1Waveform:    get(ParamOsc1Waveform),
		osc1Level:       get(ParamOsc1Level),
		filterCutoff:    get(ParamFilterCutoff),
		filterResonance: get(ParamFilterResonance),
		filterEnvAmount: get(ParamFilterEnvAmount),
		ampAttack:       get(ParamAmpAttack),
		ampDecay:        get(ParamAmpDecay),
		ampSustain:      get(ParamAmpSustain),
		ampRelease:      get(ParamAmpRelease),
		fltAttack:       get(ParamFilterAttack),
		fltDecay:        get(ParamFilterDecay),
		fltSustain:      get(ParamFilterSustain),
		fltRelease:      get(ParamFilterRelease),
		lfo1Rate:        get(ParamLFO1Rate),
		lfo2Rate:        get(ParamLFO2Rate),
		glideTime:       get(ParamGlideTime),
		legato:          get(ParamLegato),
		unisonDetune:    get(ParamUnisonDetune),
		formantEnable:   get(ParamFormantEnable),
		formantFreq:     get(ParamFormantFreq),
		formantBW:       get(ParamFormantBW),
		bendRange:       get(ParamPitchBendRange),
		velocitySens:    get(ParamVelocitySens),
		masterVolume:    get(ParamMasterVolume),
	}
	for i := 0; i < numMacros; i++ {
		gi.macros[i] = get(macroParamName(i))
	}

	return gi
}

// Prepare allocates all processing state for the given sample rate and
// block size. It must not run concurrently with Process; calling it
// again reconfigures the engine from scratch.
func (e *Engine) Prepare(sampleRate float64, blockSize int) error {
	if math.IsNaN(sampleRate) || sampleRate < minSampleRate || sampleRate > maxSampleRate {
		return fmt.Errorf("sample rate must be in [%d, %d] Hz: %f", minSampleRate, maxSampleRate, sampleRate)
	}
	if !core.ValidBlockSize(blockSize) {
		return fmt.Errorf("block size must be a power of two in [32, 2048]: %d", blockSize)
	}

	e.prepared.Store(false)

	vm, err := newVoiceManager(sampleRate, e.polyphony)
	if err != nil {
		return err
	}

	// Limiter lookahead is tied to the control interval, not the block
	// size, so engine latency does not change with the buffer size.
	for ch := 0; ch < NumChannels; ch++ {
		sp := resolveStripParams(e.params, fmt.Sprintf("ch%d.", ch))
		strip, err := newChannelStrip(sampleRate, controlInterval, sp)
		if err != nil {
			return err
		}
		e.strips[ch] = strip
		e.chanBufs[ch] = make([]float64, blockSize)
	}

	master, err := newMasterStrip(sampleRate, controlInterval, resolveStripParams(e.params, "master."))
	if err != nil {
		return err
	}

	// LFOs run at the control tick rate, one sample per tick.
	tickRate := sampleRate / controlInterval
	lfo1, err := osc.NewOscillator(tickRate)
	if err != nil {
		return err
	}
	lfo2, err := osc.NewOscillator(tickRate)
	if err != nil {
		return err
	}

	e.vm = vm
	e.master = master
	e.lfo1 = lfo1
	e.lfo2 = lfo2
	e.sampleRate = sampleRate
	e.blockSize = blockSize

	e.params.prepare(sampleRate)
	e.params.snapAll()

	e.clock = 0
	e.sinceTick = 0
	e.bendNorm = 0
	e.forceFreeAt = 0
	e.sources = [modmatrix.NumSources]float64{}

	e.prepared.Store(true)

	return nil
}

// Close stops the engine. Subsequent Process calls emit silence.
func (e *Engine) Close() {
	e.prepared.Store(false)
}

// SampleRate returns the prepared sample rate (0 before Prepare).
func (e *Engine) SampleRate() float64 { return e.sampleRate }

// BlockSize returns the prepared block size (0 before Prepare).
func (e *Engine) BlockSize() int { return e.blockSize }

// SubmitEvent queues an event for the audio thread. It reports whether
// the event was accepted; note-off events are never dropped while any
// droppable event remains in the ring. Single producer.
func (e *Engine) SubmitEvent(ev Event) bool {
	return e.ring.push(ev)
}

// NoteOn queues a note-on. Velocity is in (0, 1]; zero velocity is
// treated as a note-off.
func (e *Engine) NoteOn(channel, note uint8, velocity float64) bool {
	return e.ring.push(Event{Type: EventNoteOn, Channel: channel, Note: note, Value: velocity})
}

// NoteOff queues a note-off.
func (e *Engine) NoteOff(channel, note uint8) bool {
	return e.ring.push(Event{Type: EventNoteOff, Channel: channel, Note: note})
}

// AllNotesOff queues a release of every sounding voice. Voices that
// have not reached silence within twice the release time are then
// freed unconditionally.
func (e *Engine) AllNotesOff() bool {
	return e.ring.push(Event{Type: EventAllNotesOff})
}

// PitchBend queues a normalized bend in [-1, 1]. The semitone span
// comes from the pitch_bend_range parameter.
func (e *Engine) PitchBend(value float64) bool {
	return e.ring.push(Event{Type: EventPitchBend, Value: value})
}

// SetMacro queues a macro slot update in [0, 1]. Macros fan out to
// parameters through the modulation matrix.
func (e *Engine) SetMacro(index int, value float64) bool {
	if index < 0 || index >= numMacros {
		return false
	}

	return e.ring.push(Event{Type: EventMacro, Note: uint8(index), Value: value})
}

// SetParameter writes a parameter base value by name. Unknown names
// are ignored and counted in telemetry; the audio thread smooths the
// value in over the next few milliseconds.
func (e *Engine) SetParameter(name string, value float64) {
	idx, ok := e.params.lookup(name)
	if !ok {
		e.tel.unknownParams.Add(1)
		return
	}

	_ = e.params.setBase(idx, value)
}

// AutomateParameter queues a sample-accurate parameter change at the
// given offset within the next block. Unknown names are ignored.
func (e *Engine) AutomateParameter(name string, value float64, offset int) bool {
	idx, ok := e.params.lookup(name)
	if !ok {
		e.tel.unknownParams.Add(1)
		return false
	}

	return e.ring.push(Event{Type: EventParam, Param: int32(idx), Value: value, Offset: int32(offset)})
}

// Parameter returns a parameter's base value by name.
func (e *Engine) Parameter(name string) (float64, bool) {
	idx, ok := e.params.lookup(name)
	if !ok {
		return 0, false
	}

	return e.params.baseValue(idx), true
}

// SetModMatrix atomically installs a new modulation matrix. A nil
// matrix clears all routings.
func (e *Engine) SetModMatrix(m *modmatrix.Matrix) {
	e.matrix.Swap(m)
}

// ModMatrix returns the active modulation matrix (never nil).
func (e *Engine) ModMatrix() *modmatrix.Matrix {
	return e.matrix.Load()
}

// Meter reads a meter value for a channel (0..15) or MasterChannel.
// Safe from any thread.
func (e *Engine) Meter(channel int, kind meter.Kind) float64 {
	if !e.prepared.Load() {
		return 0
	}

	switch {
	case channel == MasterChannel:
		return e.master.met.Value(kind)
	case channel >= 0 && channel < NumChannels:
		return e.strips[channel].met.Value(kind)
	default:
		return 0
	}
}

// IdleSamples returns how many samples the channel's strip has skipped
// through the silence short-circuit.
func (e *Engine) IdleSamples(channel int) uint64 {
	if !e.prepared.Load() || channel < 0 || channel >= NumChannels {
		return 0
	}

	return e.strips[channel].idleSamples.Load()
}

// ActiveVoices returns the number of sounding voices. Control-thread
// diagnostic; the count may lag the audio thread by one block.
func (e *Engine) ActiveVoices() int {
	if !e.prepared.Load() {
		return 0
	}

	return e.vm.activeCount()
}

// Telemetry returns a snapshot of the diagnostic counters.
func (e *Engine) Telemetry() Telemetry {
	return e.tel.snapshot(e.ring)
}

// RecordXrun counts a driver-reported buffer underrun.
func (e *Engine) RecordXrun() {
	e.tel.xruns.Add(1)
}

// Process renders the next len(outL) stereo samples. Audio thread
// only; the call never blocks, locks or allocates. An unprepared
// engine emits silence. Longer slices are processed in block-size
// pieces.
func (e *Engine) Process(outL, outR []float64) {
	n := len(outL)
	if len(outR) < n {
		n = len(outR)
	}

	core.Zero(outL[:n])
	core.Zero(outR[:n])

	if n == 0 || !e.prepared.Load() {
		return
	}

	for start := 0; start < n; start += e.blockSize {
		end := start + e.blockSize
		if end > n {
			end = n
		}
		e.processBlock(outL[start:end], outR[start:end])
	}
}

// processBlock renders one block of at most blockSize samples. The
// block is cut into chunks at event offsets and control tick
// boundaries, so no chunk crosses either.
func (e *Engine) processBlock(outL, outR []float64) {
	n := len(outL)
	soloActive := e.anySolo()

	var ev Event
	for c := 0; c < n; {
		for e.ring.peek(&ev) && eventOffset(&ev, n) <= c {
			e.ring.pop(&ev)
			e.applyEvent(&ev)
		}

		if e.sinceTick == 0 {
			e.controlTick()
			soloActive = e.anySolo()
		}

		next := c + controlInterval - e.sinceTick
		if next > n {
			next = n
		}
		if e.ring.peek(&ev) {
			if off := eventOffset(&ev, n); off > c && off < next {
				next = off
			}
		}

		e.renderChunk(outL[c:next], outR[c:next], soloActive)
		c = next
	}

	e.tel.blocksProcessed.Add(1)
}

// eventOffset clamps an event's sample offset into the current block.
func eventOffset(ev *Event, blockLen int) int {
	off := int(ev.Offset)
	if off < 0 {
		return 0
	}
	if off >= blockLen {
		return blockLen - 1
	}

	return off
}

// renderChunk renders all voices into their channel buffers and runs
// the console over one chunk. Chunks never span a control tick;
// modulation offsets ramp linearly across the tick via frac0..frac1.
func (e *Engine) renderChunk(outL, outR []float64, soloActive bool) {
	m := len(outL)
	frac0 := float64(e.sinceTick) / controlInterval
	frac1 := float64(e.sinceTick+m) / controlInterval

	for ch := 0; ch < NumChannels; ch++ {
		core.Zero(e.chanBufs[ch][:m])
	}

	lv0 := e.params.value(e.gp.osc1Level, frac0)
	lv1 := e.params.value(e.gp.osc1Level, frac1)

	var busy [NumChannels]bool
	for _, v := range e.vm.voices {
		if v.state == voiceFree {
			continue
		}
		ch := v.channel & (NumChannels - 1)
		busy[ch] = true
		v.renderChunk(e.chanBufs[ch][:m], lv0, lv1)
	}

	for ch := 0; ch < NumChannels; ch++ {
		s := e.strips[ch]
		muted := e.params.tickValue(s.params.mute) != 0 ||
			(soloActive && e.params.tickValue(s.params.solo) == 0)
		s.process(e.chanBufs[ch][:m], outL, outR, e.params, frac0, frac1, muted, busy[ch] || soloActive)
	}

	vol0 := e.params.value(e.gp.masterVolume, frac0)
	vol1 := e.params.value(e.gp.masterVolume, frac1)
	e.master.process(outL, outR, e.params, frac0, frac1, vol0, vol1)

	e.clock += uint64(m)
	e.sinceTick += m
	if e.sinceTick >= controlInterval {
		e.sinceTick = 0
	}
}

// anySolo reports whether any channel strip is soloed. Soloing forces
// every non-soloed strip silent.
func (e *Engine) anySolo() bool {
	for _, s := range e.strips {
		if e.params.tickValue(s.params.solo) != 0 {
			return true
		}
	}

	return false
}

// applyEvent dispatches one queued event on the audio thread.
func (e *Engine) applyEvent(ev *Event) {
	switch ev.Type {
	case EventNoteOn:
		ch := ev.Channel & (NumChannels - 1)
		if ev.Value <= 0 {
			e.vm.noteOff(ch, ev.Note)
			return
		}

		legato := e.params.tickValue(e.gp.legato) != 0
		spread := e.params.tickValue(e.gp.unisonDetune)
		if e.vm.noteOn(ch, ev.Note, core.Clamp(ev.Value, 0, 1), legato, spread, e.clock) {
			e.tel.voicesStolen.Add(1)
		}

	case EventNoteOff:
		e.vm.noteOff(ev.Channel&(NumChannels-1), ev.Note)

	case EventAllNotesOff:
		e.vm.allNotesOff()
		rel := e.params.tickValue(e.gp.ampRelease)
		e.forceFreeAt = e.clock + uint64(2*rel*e.sampleRate) + controlInterval

	case EventParam:
		_ = e.params.setBase(int(ev.Param), ev.Value)

	case EventPitchBend:
		e.bendNorm = core.Clamp(ev.Value, -1, 1)

	case EventMacro:
		if int(ev.Note) < numMacros {
			_ = e.params.setBase(e.gp.macros[ev.Note], ev.Value)
		}
	}
}

// controlTick runs once every controlInterval samples: parameter
// smoothing, modulation evaluation and coefficient updates.
func (e *Engine) controlTick() {
	ps := e.params
	ps.tick()

	if e.forceFreeAt != 0 && e.clock >= e.forceFreeAt {
		e.vm.forceFreeAll()
		e.forceFreeAt = 0
	}

	// Modulation sources, all normalized to [0, 1].
	_ = e.lfo1.SetFrequency(ps.tickValue(e.gp.lfo1Rate))
	_ = e.lfo2.SetFrequency(ps.tickValue(e.gp.lfo2Rate))
	e.sources[modmatrix.SourceLFO1] = 0.5 + 0.5*e.lfo1.ProcessSample()
	e.sources[modmatrix.SourceLFO2] = 0.5 + 0.5*e.lfo2.ProcessSample()

	if v := e.vm.newestVoice(); v != nil {
		e.sources[modmatrix.SourceEnvAmp] = v.ampEnv.Level()
		e.sources[modmatrix.SourceEnvFilter] = v.filterEnv.Level()
		e.sources[modmatrix.SourceVelocity] = v.velocity
		e.sources[modmatrix.SourceKeyTrack] = float64(v.note) / 127
	} else {
		e.sources[modmatrix.SourceEnvAmp] = 0
		e.sources[modmatrix.SourceEnvFilter] = 0
		e.sources[modmatrix.SourceVelocity] = 0
		e.sources[modmatrix.SourceKeyTrack] = 0
	}

	for i := 0; i < numMacros; i++ {
		e.sources[int(modmatrix.SourceMacro1)+i] = ps.tickValue(e.gp.macros[i])
	}

	ps.beginModTick()
	m := e.matrix.Load()
	if m.Len() > 0 {
		m.Accumulate(&e.sources, ps.modOffset)
		// Connection amounts are fractions of the destination's range.
		for i, off := range ps.modOffset {
			if off != 0 {
				ps.modOffset[i] = off * e.rangeScale[i]
			}
		}
	}

	glide := ps.tickValue(e.gp.glideTime)
	e.vtp = voiceTickParams{
		waveform:     osc.Waveform(int(ps.tickValue(e.gp.osc1Waveform))),
		cutoffNorm:   ps.tickValue(e.gp.filterCutoff),
		resonance:    ps.tickValue(e.gp.filterResonance),
		envAmount:    ps.tickValue(e.gp.filterEnvAmount),
		bendRatio:    math.Pow(2, e.bendNorm*ps.tickValue(e.gp.bendRange)/12),
		useFormant:   ps.tickValue(e.gp.formantEnable) != 0,
		formantFreq:  ps.tickValue(e.gp.formantFreq),
		formantBW:    ps.tickValue(e.gp.formantBW),
		ampAttack:    ps.tickValue(e.gp.ampAttack),
		ampDecay:     ps.tickValue(e.gp.ampDecay),
		ampSustain:   ps.tickValue(e.gp.ampSustain),
		ampRelease:   ps.tickValue(e.gp.ampRelease),
		fltAttack:    ps.tickValue(e.gp.fltAttack),
		fltDecay:     ps.tickValue(e.gp.fltDecay),
		fltSustain:   ps.tickValue(e.gp.fltSustain),
		fltRelease:   ps.tickValue(e.gp.fltRelease),
		velocitySens: ps.tickValue(e.gp.velocitySens),
	}
	if glide < 0.001 {
		e.vtp.glideSnap = true
	} else {
		e.vtp.glideCoeff = 1 - math.Exp(-controlInterval/(glide*e.sampleRate))
	}

	for _, v := range e.vm.voices {
		v.tick(&e.vtp)
	}

	for _, s := range e.strips {
		s.tick(ps)
	}
	e.master.tick(ps)
}
