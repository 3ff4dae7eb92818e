package engine

import "testing"

func newTestManager(t *testing.T, polyphony int) *voiceManager {
	t.Helper()

	m, err := newVoiceManager(48000, polyphony)
	if err != nil {
		t.Fatal(err)
	}

	return m
}

// advance renders n samples of every sounding voice into a scratch
// buffer so envelopes move.
func advance(m *voiceManager, n int) {
	buf := make([]float64, n)
	for _, v := range m.voices {
		for i := range buf {
			buf[i] = 0
		}
		v.renderChunk(buf, 1, 1)
	}
}

func TestVoiceManagerValidation(t *testing.T) {
	if _, err := newVoiceManager(48000, 0); err == nil {
		t.Fatal("expected error for zero polyphony")
	}
	if _, err := newVoiceManager(48000, maxPolyphony+1); err == nil {
		t.Fatal("expected error for oversized pool")
	}
}

func TestNoteOnAssignsFreeVoice(t *testing.T) {
	m := newTestManager(t, 4)

	if stolen := m.noteOn(0, 60, 0.8, false, 0, 0); stolen {
		t.Fatal("unexpected steal with free voices available")
	}

	if got := m.activeCount(); got != 1 {
		t.Fatalf("activeCount = %d, want 1", got)
	}
	if !m.holdsNote(0, 60) {
		t.Fatal("note 60 not held")
	}
}

func TestNoteOffReleasesOnlyMatching(t *testing.T) {
	m := newTestManager(t, 4)

	m.noteOn(0, 60, 0.8, false, 0, 0)
	m.noteOn(0, 64, 0.8, false, 0, 1)
	m.noteOn(1, 60, 0.8, false, 0, 2)

	m.noteOff(0, 60)

	states := map[uint8]voiceState{}
	for _, v := range m.voices {
		if v.state != voiceFree {
			states[v.channel<<7|v.note] = v.state
		}
	}
	if states[0<<7|60] != voiceReleasing {
		t.Fatal("ch0 note 60 not releasing")
	}
	if states[0<<7|64] != voiceActive || states[1<<7|60] != voiceActive {
		t.Fatal("unrelated voices were released")
	}
}

func TestStealPrefersOldestReleasing(t *testing.T) {
	m := newTestManager(t, 3)

	m.noteOn(0, 60, 0.8, false, 0, 10)
	m.noteOn(0, 62, 0.8, false, 0, 20)
	m.noteOn(0, 64, 0.8, false, 0, 30)
	m.noteOff(0, 62)
	m.noteOff(0, 64)

	if stolen := m.noteOn(0, 70, 0.8, false, 0, 40); !stolen {
		t.Fatal("expected a steal with a full pool")
	}

	// The oldest releasing voice (62) was the victim; 64 still rings out.
	if m.holdsNote(0, 62) {
		t.Fatal("note 62 should have been stolen")
	}
	if !m.holdsNote(0, 64) || !m.holdsNote(0, 70) {
		t.Fatal("wrong victim chosen")
	}
}

func TestStealPrefersQuietestActive(t *testing.T) {
	m := newTestManager(t, 2)

	for _, v := range m.voices {
		if err := v.ampEnv.SetVelocitySensitivity(1); err != nil {
			t.Fatal(err)
		}
	}

	// Both voices settle past their attack; the newer one is quieter
	// because its low velocity scales the envelope peak down, so it is
	// the steal victim despite being more recent.
	m.noteOn(0, 60, 1, false, 0, 10)
	advance(m, 500)
	m.noteOn(0, 62, 0.5, false, 0, 20)
	advance(m, 500)

	if stolen := m.noteOn(0, 70, 1, false, 0, 30); !stolen {
		t.Fatal("expected a steal with a full pool")
	}

	if m.holdsNote(0, 62) {
		t.Fatal("quieter note 62 should have been stolen")
	}
	if !m.holdsNote(0, 60) {
		t.Fatal("louder note 60 should have survived")
	}
}

func TestStealAttackingVoicesByAge(t *testing.T) {
	m := newTestManager(t, 2)

	// Both voices are still climbing their attack, where momentary
	// level only reflects start time. The older one is louder but must
	// still be the victim.
	m.noteOn(0, 60, 1, false, 0, 10)
	advance(m, 100)
	m.noteOn(0, 62, 1, false, 0, 20)
	advance(m, 10)

	if stolen := m.noteOn(0, 70, 1, false, 0, 30); !stolen {
		t.Fatal("expected a steal with a full pool")
	}

	if m.holdsNote(0, 60) {
		t.Fatal("oldest attacking note 60 should have been stolen")
	}
	if !m.holdsNote(0, 62) || !m.holdsNote(0, 70) {
		t.Fatal("wrong victim chosen")
	}
}

func TestLegatoRetunesNewestVoice(t *testing.T) {
	m := newTestManager(t, 4)

	m.noteOn(0, 60, 0.8, false, 0, 10)
	m.noteOn(0, 64, 0.9, true, 0, 20)

	if got := m.activeCount(); got != 1 {
		t.Fatalf("activeCount = %d, want 1 after legato retune", got)
	}
	if !m.holdsNote(0, 64) || m.holdsNote(0, 60) {
		t.Fatal("legato voice not retuned to 64")
	}
}

func TestRetriggerClearsDuplicates(t *testing.T) {
	m := newTestManager(t, 4)

	m.noteOn(0, 60, 0.8, false, 0, 10)
	m.noteOn(0, 60, 0.8, false, 0, 20)

	active := 0
	for _, v := range m.voices {
		if v.state == voiceActive && v.note == 60 {
			active++
		}
	}
	if active != 1 {
		t.Fatalf("active duplicates = %d, want 1", active)
	}
}

func TestAllNotesOffAndForceFree(t *testing.T) {
	m := newTestManager(t, 4)

	m.noteOn(0, 60, 0.8, false, 0, 10)
	m.noteOn(0, 64, 0.8, false, 0, 20)

	m.allNotesOff()
	for _, v := range m.voices {
		if v.state == voiceActive {
			t.Fatal("voice still active after allNotesOff")
		}
	}

	m.forceFreeAll()
	if got := m.activeCount(); got != 0 {
		t.Fatalf("activeCount = %d, want 0 after forceFreeAll", got)
	}
}

func TestNewestVoice(t *testing.T) {
	m := newTestManager(t, 4)

	if m.newestVoice() != nil {
		t.Fatal("expected nil with an empty pool")
	}

	m.noteOn(0, 60, 0.8, false, 0, 10)
	m.noteOn(0, 64, 0.8, false, 0, 20)

	if v := m.newestVoice(); v == nil || v.note != 64 {
		t.Fatal("newest voice should hold note 64")
	}
}

func TestDetuneSpreadDeterministic(t *testing.T) {
	a := newTestManager(t, 2)
	b := newTestManager(t, 2)

	a.noteOn(0, 60, 0.8, false, 0.01, 0)
	b.noteOn(0, 60, 0.8, false, 0.01, 0)

	if a.voices[0].detune != b.voices[0].detune {
		t.Fatal("detune sequence not deterministic")
	}
	if d := a.voices[0].detune; d < -0.01 || d > 0.01 {
		t.Fatalf("detune %g outside spread", d)
	}
}
