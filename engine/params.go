package engine

import (
	"fmt"
	"math"
	"sync/atomic"
)

// paramDef describes one automatable parameter. Stepped parameters
// snap at block boundaries instead of smoothing; everything else
// glides to its base value over the smoothing time constant.
type paramDef struct {
	name    string
	min     float64
	max     float64
	def     float64
	stepped bool
}

// smoothingTimeSec is the default parameter smoothing time constant.
const smoothingTimeSec = 0.005

// paramStore is the control/audio bridge for parameter values. The
// control thread writes base values through atomics; the audio thread
// keeps its own current values and pulls them toward the base once per
// control tick. One writer, one reader per slot, no locks.
type paramStore struct {
	defs  []paramDef
	index map[string]int

	base []atomic.Uint64

	// Audio-thread private.
	current []float64
	// Modulation offsets accumulated by the matrix, interpolated
	// between control ticks.
	modOffset     []float64
	modPrevOffset []float64

	smoothCoeff float64
}

func newParamStore(defs []paramDef) *paramStore {
	s := &paramStore{
		defs:          defs,
		index:         make(map[string]int, len(defs)),
		base:          make([]atomic.Uint64, len(defs)),
		current:       make([]float64, len(defs)),
		modOffset:     make([]float64, len(defs)),
		modPrevOffset: make([]float64, len(defs)),
	}

	for i, d := range defs {
		s.index[d.name] = i
		s.base[i].Store(math.Float64bits(d.def))
		s.current[i] = d.def
	}

	return s
}

// prepare derives the smoothing coefficient for the control tick rate.
func (s *paramStore) prepare(sampleRate float64) {
	s.smoothCoeff = 1 - math.Exp(-float64(controlInterval)/(smoothingTimeSec*sampleRate))
}

// lookup resolves a parameter name to its index.
func (s *paramStore) lookup(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// setBase clamps and stores a new base value. Control thread.
func (s *paramStore) setBase(idx int, v float64) error {
	if idx < 0 || idx >= len(s.defs) {
		return fmt.Errorf("parameter index out of range: %d", idx)
	}
	if math.IsNaN(v) {
		return fmt.Errorf("parameter %s must not be NaN", s.defs[idx].name)
	}

	d := &s.defs[idx]
	if v < d.min {
		v = d.min
	} else if v > d.max {
		v = d.max
	}

	s.base[idx].Store(math.Float64bits(v))

	return nil
}

// baseValue reads the last written base value. Any thread.
func (s *paramStore) baseValue(idx int) float64 {
	return math.Float64frombits(s.base[idx].Load())
}

// tick advances all current values one control tick toward their base
// values. Stepped parameters snap. Audio thread, zero-alloc.
func (s *paramStore) tick() {
	for i := range s.current {
		target := s.baseValue(i)
		if s.defs[i].stepped {
			s.current[i] = target
			continue
		}

		s.current[i] += s.smoothCoeff * (target - s.current[i])
	}
}

// snapAll jumps every current value to its base value. Used at prepare
// and preset application outside the audio callback.
func (s *paramStore) snapAll() {
	for i := range s.current {
		s.current[i] = s.baseValue(i)
	}
}

// value returns the effective audio-thread value: smoothed current
// value plus the interpolated modulation offset, clamped to the
// parameter range. frac in [0,1] is the position between the previous
// and the current control tick.
func (s *paramStore) value(idx int, frac float64) float64 {
	d := &s.defs[idx]
	off := s.modPrevOffset[idx] + (s.modOffset[idx]-s.modPrevOffset[idx])*frac

	v := s.current[idx] + off
	if v < d.min {
		v = d.min
	} else if v > d.max {
		v = d.max
	}

	return v
}

// tickValue is value at the current control tick (frac = 1).
func (s *paramStore) tickValue(idx int) float64 {
	return s.value(idx, 1)
}

// paramSettleEpsilon bounds how far a current value may drift from its
// base while still counting as settled.
const paramSettleEpsilon = 1e-9

// moving reports whether the parameter still glides toward its base or
// carries a modulation offset. Audio thread.
func (s *paramStore) moving(idx int) bool {
	if s.modOffset[idx] != 0 || s.modPrevOffset[idx] != 0 {
		return true
	}

	d := s.current[idx] - s.baseValue(idx)

	return d > paramSettleEpsilon || d < -paramSettleEpsilon
}

// beginModTick rotates the modulation offsets: the previous tick's
// offsets become the ramp start and the accumulation buffer is zeroed
// for the matrix to refill.
func (s *paramStore) beginModTick() {
	s.modPrevOffset, s.modOffset = s.modOffset, s.modPrevOffset
	for i := range s.modOffset {
		s.modOffset[i] = 0
	}
}
