// Package mididriver feeds hardware MIDI input into the engine's
// event queue.
package mididriver

import (
	"bytes"
	"context"
	"fmt"
	"log"

	"gitlab.com/gomidi/midi/midimessage/channel"
	"gitlab.com/gomidi/midi/midireader"
	"gitlab.com/gomidi/rtmididrv"

	"github.com/cwbudde/algo-synth/engine"
)

// allNotesOffController is MIDI CC 123.
const allNotesOffController = 123

// Translate decodes one raw MIDI message into an engine event. It
// reports false for messages the engine has no use for.
func Translate(data []byte) (engine.Event, bool) {
	rd := midireader.New(bytes.NewReader(data), nil)
	msg, err := rd.Read()
	if err != nil {
		return engine.Event{}, false
	}

	switch m := msg.(type) {
	case channel.NoteOn:
		// Running-status note-on with velocity 0 doubles as note-off.
		if m.Velocity() == 0 {
			return engine.Event{Type: engine.EventNoteOff, Channel: m.Channel(), Note: m.Key()}, true
		}

		return engine.Event{
			Type:    engine.EventNoteOn,
			Channel: m.Channel(),
			Note:    m.Key(),
			Value:   float64(m.Velocity()) / 127,
		}, true

	case channel.NoteOff:
		return engine.Event{Type: engine.EventNoteOff, Channel: m.Channel(), Note: m.Key()}, true

	case channel.NoteOffVelocity:
		return engine.Event{Type: engine.EventNoteOff, Channel: m.Channel(), Note: m.Key()}, true

	case channel.Pitchbend:
		return engine.Event{
			Type:    engine.EventPitchBend,
			Channel: m.Channel(),
			Value:   float64(m.Value()) / 8192,
		}, true

	case channel.ControlChange:
		if m.Controller() == allNotesOffController {
			return engine.Event{Type: engine.EventAllNotesOff, Channel: m.Channel()}, true
		}
	}

	return engine.Event{}, false
}

// Listen opens the first available MIDI input and pushes translated
// events into the engine until ctx is cancelled. It returns an error
// if no input port can be opened.
func Listen(ctx context.Context, eng *engine.Engine) error {
	drv, err := rtmididrv.New()
	if err != nil {
		return fmt.Errorf("initialize MIDI driver: %w", err)
	}
	defer drv.Close()

	ins, err := drv.Ins()
	if err != nil {
		return fmt.Errorf("list MIDI inputs: %w", err)
	}
	if len(ins) == 0 {
		return fmt.Errorf("no MIDI input found")
	}

	in := ins[0]
	if err := in.Open(); err != nil {
		return fmt.Errorf("open MIDI input %s: %w", in.String(), err)
	}
	defer in.Close()

	log.Printf("listening on MIDI input: %s", in.String())

	err = in.SetListener(func(data []byte, deltaMicroseconds int64) {
		ev, ok := Translate(data)
		if !ok {
			return
		}
		// Dropped events are counted by the engine's telemetry.
		eng.SubmitEvent(ev)
	})
	if err != nil {
		return fmt.Errorf("set MIDI listener: %w", err)
	}
	defer in.StopListening()

	<-ctx.Done()

	return nil
}
