// Command synthdemo runs the synth engine against the system audio
// device, driven by the first available MIDI input.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cwbudde/algo-synth/driver/mididriver"
	"github.com/cwbudde/algo-synth/driver/otodriver"
	"github.com/cwbudde/algo-synth/engine"
)

func main() {
	sampleRate := flag.Float64("rate", 48000, "sample rate in Hz")
	blockSize := flag.Int("block", 128, "processing block size (power of two, 32..2048)")
	polyphony := flag.Int("voices", engine.DefaultPolyphony, "voice pool size")
	presetPath := flag.String("preset", "", "preset JSON file to load at startup")
	flag.Parse()

	if err := run(*sampleRate, *blockSize, *polyphony, *presetPath); err != nil {
		log.Fatal(err)
	}
}

func run(sampleRate float64, blockSize, polyphony int, presetPath string) error {
	eng, err := engine.New(engine.WithPolyphony(polyphony))
	if err != nil {
		return err
	}
	if err := eng.Prepare(sampleRate, blockSize); err != nil {
		return err
	}

	if presetPath != "" {
		data, err := os.ReadFile(presetPath)
		if err != nil {
			return err
		}
		preset, err := engine.ParsePreset(data)
		if err != nil {
			return err
		}
		if err := eng.ApplyPreset(preset); err != nil {
			return err
		}
		log.Printf("loaded preset %q", preset.Name)
	}

	player, err := otodriver.NewPlayer(eng)
	if err != nil {
		return err
	}
	defer player.Close()
	player.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("running at %.0f Hz, block %d, %d voices", sampleRate, blockSize, polyphony)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// A MIDI listener is optional; the demo keeps playing without one.
		if err := mididriver.Listen(ctx, eng); err != nil {
			log.Printf("midi: %v", err)
		}

		return nil
	})
	g.Go(func() error {
		playPhrase(ctx, eng)

		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				tel := eng.Telemetry()
				if tel.EventsDropped > 0 || tel.Xruns > 0 {
					log.Printf("telemetry: %+v", tel)
				}
			}
		}
	})

	err = g.Wait()

	// Drain releases before closing the device.
	eng.AllNotesOff()
	time.Sleep(200 * time.Millisecond)
	eng.Close()

	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

// playPhrase plays a short arpeggiated phrase so the synth makes sound
// before any MIDI input arrives.
func playPhrase(ctx context.Context, eng *engine.Engine) {
	notes := []uint8{48, 60, 64, 67, 72, 67, 64, 60}
	step := 220 * time.Millisecond

	for _, note := range notes {
		eng.NoteOn(0, note, 0.9)

		select {
		case <-ctx.Done():
			eng.NoteOff(0, note)
			return
		case <-time.After(step):
		}
		eng.NoteOff(0, note)
	}
}
