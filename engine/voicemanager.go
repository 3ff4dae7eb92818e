package engine

import "fmt"

const (
	// DefaultPolyphony is the voice pool size unless configured.
	DefaultPolyphony = 16
	maxPolyphony     = 64

	// amplitudeTie treats steal candidates within this envelope level
	// of each other as equal, so age decides.
	amplitudeTie = 1e-9
)

// voiceManager owns the preallocated voice pool and implements note
// assignment and stealing. Lookups are linear scans over the pool; the
// pool is small and events are far rarer than samples.
type voiceManager struct {
	voices []*Voice
	rng    uint64
}

func newVoiceManager(sampleRate float64, polyphony int) (*voiceManager, error) {
	if polyphony < 1 || polyphony > maxPolyphony {
		return nil, fmt.Errorf("polyphony must be in [1, %d]: %d", maxPolyphony, polyphony)
	}

	m := &voiceManager{
		voices: make([]*Voice, polyphony),
		rng:    0x9e3779b97f4a7c15,
	}
	for i := range m.voices {
		v, err := newVoice(sampleRate)
		if err != nil {
			return nil, err
		}
		m.voices[i] = v
	}

	return m, nil
}

// noteOn assigns a voice to the note and reports whether a sounding
// voice was stolen. In legato mode an already sounding (non-releasing)
// voice on the same channel retunes instead of retriggering.
// detuneSpread is the unison detune fraction; clock is the engine
// sample counter used as voice age.
func (m *voiceManager) noteOn(channel, note uint8, velocity float64, legato bool, detuneSpread float64, clock uint64) (stolen bool) {
	if legato {
		if v := m.newestActive(channel); v != nil {
			m.clearDuplicates(channel, note, v)
			v.retune(note, velocity)

			return false
		}
	}

	v := m.freeVoice()
	if v == nil {
		v = m.stealVoice()
		stolen = v.state != voiceFree
	}

	m.clearDuplicates(channel, note, v)

	detune := 0.0
	if detuneSpread > 0 {
		detune = detuneSpread * m.randUnit()
	}

	v.trigger(channel, note, velocity, clock, detune)

	return stolen
}

// noteOff releases every voice holding the note.
func (m *voiceManager) noteOff(channel, note uint8) {
	for _, v := range m.voices {
		if v.state == voiceActive && v.channel == channel && v.note == note {
			v.release()
		}
	}
}

// allNotesOff moves every sounding voice to release.
func (m *voiceManager) allNotesOff() {
	for _, v := range m.voices {
		v.release()
	}
}

// forceFreeAll silences the pool unconditionally.
func (m *voiceManager) forceFreeAll() {
	for _, v := range m.voices {
		v.forceFree()
	}
}

// activeCount returns the number of voices that are not FREE.
func (m *voiceManager) activeCount() int {
	n := 0
	for _, v := range m.voices {
		if v.state != voiceFree {
			n++
		}
	}

	return n
}

// holdsNote reports whether any voice currently sounds the note.
func (m *voiceManager) holdsNote(channel, note uint8) bool {
	for _, v := range m.voices {
		if v.state != voiceFree && v.channel == channel && v.note == note {
			return true
		}
	}

	return false
}

func (m *voiceManager) freeVoice() *Voice {
	for _, v := range m.voices {
		if v.state == voiceFree {
			return v
		}
	}

	return nil
}

// stealVoice picks the victim: oldest releasing voice first, then the
// lowest-amplitude sounding voice with age as tiebreak. Voices still
// climbing their attack are excluded from the amplitude scan (their
// momentary level only reflects how recently they started); when every
// candidate is attacking, the oldest one loses.
func (m *voiceManager) stealVoice() *Voice {
	var best *Voice
	for _, v := range m.voices {
		if v.state != voiceReleasing {
			continue
		}
		if best == nil || v.age < best.age {
			best = v
		}
	}
	if best != nil {
		return best
	}

	for _, v := range m.voices {
		if v.state != voiceActive || v.attacking() {
			continue
		}
		if best == nil {
			best = v
			continue
		}

		diff := v.amplitude() - best.amplitude()
		if diff < -amplitudeTie || (diff < amplitudeTie && v.age < best.age) {
			best = v
		}
	}
	if best != nil {
		return best
	}

	for _, v := range m.voices {
		if v.state != voiceActive {
			continue
		}
		if best == nil || v.age < best.age {
			best = v
		}
	}
	if best == nil {
		// Pool of size >= 1 always yields a candidate; this is the
		// degenerate all-free case where freeVoice would have hit.
		best = m.voices[0]
	}

	return best
}

// clearDuplicates releases other voices already holding the note so a
// retrigger does not stack.
func (m *voiceManager) clearDuplicates(channel, note uint8, keep *Voice) {
	for _, v := range m.voices {
		if v != keep && v.state == voiceActive && v.channel == channel && v.note == note {
			v.release()
		}
	}
}

// newestActive returns the most recently triggered non-releasing voice
// on the channel.
func (m *voiceManager) newestActive(channel uint8) *Voice {
	var best *Voice
	for _, v := range m.voices {
		if v.state != voiceActive || v.channel != channel {
			continue
		}
		if best == nil || v.age > best.age {
			best = v
		}
	}

	return best
}

// newestVoice returns the most recently triggered sounding voice on
// any channel, releasing included. Modulation sources follow it.
func (m *voiceManager) newestVoice() *Voice {
	var best *Voice
	for _, v := range m.voices {
		if v.state == voiceFree {
			continue
		}
		if best == nil || v.age > best.age {
			best = v
		}
	}

	return best
}

// randUnit returns a deterministic pseudo-random value in [-1, 1]
// (xorshift64), used for unison detune spread.
func (m *voiceManager) randUnit() float64 {
	m.rng ^= m.rng << 13
	m.rng ^= m.rng >> 7
	m.rng ^= m.rng << 17

	return float64(int64(m.rng)) / float64(1<<63)
}
