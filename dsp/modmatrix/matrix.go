// Package modmatrix routes modulation sources onto parameter
// destinations. The matrix is immutable once built; the engine swaps
// complete matrices through an atomic snapshot store and evaluates the
// active one at control rate.
package modmatrix

import (
	"fmt"
	"math"
	"sync/atomic"
)

// Source identifies a modulation source slot. Source values are
// produced by the engine each control tick, normalized to [0, 1].
type Source int

const (
	SourceLFO1 Source = iota
	SourceLFO2
	SourceEnvAmp
	SourceEnvFilter
	SourceVelocity
	SourceKeyTrack
	SourceMacro1
	SourceMacro2
	SourceMacro3
	SourceMacro4
	SourceMacro5
	SourceMacro6
	SourceMacro7
	SourceMacro8

	NumSources int = iota
)

var sourceNames = map[Source]string{
	SourceLFO1:      "lfo1",
	SourceLFO2:      "lfo2",
	SourceEnvAmp:    "env_amp",
	SourceEnvFilter: "env_filter",
	SourceVelocity:  "velocity",
	SourceKeyTrack:  "keytrack",
	SourceMacro1:    "macro1",
	SourceMacro2:    "macro2",
	SourceMacro3:    "macro3",
	SourceMacro4:    "macro4",
	SourceMacro5:    "macro5",
	SourceMacro6:    "macro6",
	SourceMacro7:    "macro7",
	SourceMacro8:    "macro8",
}

func (s Source) String() string {
	if name, ok := sourceNames[s]; ok {
		return name
	}

	return fmt.Sprintf("Source(%d)", int(s))
}

// ParseSource resolves a preset source name.
func ParseSource(name string) (Source, error) {
	for s, n := range sourceNames {
		if n == name {
			return s, nil
		}
	}

	return 0, fmt.Errorf("unknown modulation source: %q", name)
}

// Curve shapes a source value before scaling.
type Curve int

const (
	CurveLinear Curve = iota
	CurveExp
	CurveLog
	CurveS
)

var curveNames = map[Curve]string{
	CurveLinear: "linear",
	CurveExp:    "exp",
	CurveLog:    "log",
	CurveS:      "s",
}

func (c Curve) String() string {
	if name, ok := curveNames[c]; ok {
		return name
	}

	return fmt.Sprintf("Curve(%d)", int(c))
}

// ParseCurve resolves a preset curve name.
func ParseCurve(name string) (Curve, error) {
	for c, n := range curveNames {
		if n == name {
			return c, nil
		}
	}

	return 0, fmt.Errorf("unknown modulation curve: %q", name)
}

// MaxConnections bounds the matrix so evaluation cost is fixed.
const MaxConnections = 64

// Connection routes one source onto one parameter destination. A
// bipolar connection treats source value 0.5 as its center, swinging
// the destination in both directions.
type Connection struct {
	Source      Source
	Destination int
	Amount      float64
	Curve       Curve
	Bipolar     bool
	Enabled     bool
}

func (c Connection) validate() error {
	if c.Source < 0 || int(c.Source) >= NumSources {
		return fmt.Errorf("connection source out of range: %d", int(c.Source))
	}
	if c.Destination < 0 {
		return fmt.Errorf("connection destination must be non-negative: %d", c.Destination)
	}
	if _, ok := curveNames[c.Curve]; !ok {
		return fmt.Errorf("connection curve out of range: %d", int(c.Curve))
	}
	if math.IsNaN(c.Amount) || math.IsInf(c.Amount, 0) {
		return fmt.Errorf("connection amount must be finite: %f", c.Amount)
	}

	return nil
}

// Matrix is a validated, immutable set of connections.
type Matrix struct {
	conns []Connection
}

// New builds a matrix from at most MaxConnections connections.
func New(conns ...Connection) (*Matrix, error) {
	if len(conns) > MaxConnections {
		return nil, fmt.Errorf("too many modulation connections: %d > %d", len(conns), MaxConnections)
	}

	for i, c := range conns {
		if err := c.validate(); err != nil {
			return nil, fmt.Errorf("connection %d: %w", i, err)
		}
	}

	m := &Matrix{conns: make([]Connection, len(conns))}
	copy(m.conns, conns)

	return m, nil
}

// Connections returns a copy of the connection list.
func (m *Matrix) Connections() []Connection {
	out := make([]Connection, len(m.conns))
	copy(out, m.conns)

	return out
}

// Len returns the number of connections, enabled or not.
func (m *Matrix) Len() int { return len(m.conns) }

// Accumulate adds each enabled connection's contribution onto the
// destination offsets. sources holds the normalized source values for
// this control tick; destinations outside offsets are skipped.
// Zero-alloc, called from the audio thread.
func (m *Matrix) Accumulate(sources *[NumSources]float64, offsets []float64) {
	for i := range m.conns {
		c := &m.conns[i]
		if !c.Enabled || c.Destination >= len(offsets) {
			continue
		}

		v := curveValue(c.Curve, sources[c.Source])
		if c.Bipolar {
			v = 2 * (v - 0.5)
		}

		offsets[c.Destination] += c.Amount * v
	}
}

// curveValue maps a source value in [0,1] through the curve shape.
// Inputs are clamped so out-of-range sources cannot produce NaN.
func curveValue(c Curve, v float64) float64 {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}

	switch c {
	case CurveExp:
		return v * v
	case CurveLog:
		return math.Sqrt(v)
	case CurveS:
		return v * v * (3 - 2*v)
	default:
		return v
	}
}

// Store is the atomic snapshot holder the engine reads each control
// tick. Swapping installs a new matrix between audio blocks without
// blocking the audio thread.
type Store struct {
	ptr atomic.Pointer[Matrix]
}

var emptyMatrix = &Matrix{}

// Load returns the active matrix, never nil.
func (s *Store) Load() *Matrix {
	if m := s.ptr.Load(); m != nil {
		return m
	}

	return emptyMatrix
}

// Swap installs m as the active matrix and returns the previous one.
// A nil m installs the empty matrix.
func (s *Store) Swap(m *Matrix) *Matrix {
	if m == nil {
		m = emptyMatrix
	}

	prev := s.ptr.Swap(m)
	if prev == nil {
		prev = emptyMatrix
	}

	return prev
}
