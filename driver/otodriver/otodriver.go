// Package otodriver plays an engine through the system audio device
// using the oto library. The engine is pulled from oto's reader
// callback, so the synthesis happens on the audio thread.
package otodriver

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/cwbudde/algo-synth/engine"
)

// frameBytes is one stereo float32 frame on the wire.
const frameBytes = 8

// Player renders an engine into an oto stereo float32 stream.
type Player struct {
	eng *engine.Engine

	ctx    *oto.Context
	player *oto.Player

	left  []float64
	right []float64

	mu      sync.Mutex
	started bool
}

// NewPlayer opens the audio device for a prepared engine. The device
// buffer holds four engine blocks.
func NewPlayer(eng *engine.Engine) (*Player, error) {
	if eng.SampleRate() == 0 || eng.BlockSize() == 0 {
		return nil, fmt.Errorf("engine must be prepared before opening the audio device")
	}

	bufDur := time.Duration(4 * float64(eng.BlockSize()) / eng.SampleRate() * float64(time.Second))
	op := &oto.NewContextOptions{
		SampleRate:   int(eng.SampleRate()),
		ChannelCount: 2,
		Format:       oto.FormatFloat32LE,
		BufferSize:   bufDur,
	}

	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("open audio device: %w", err)
	}
	<-ready

	p := &Player{
		eng:   eng,
		ctx:   ctx,
		left:  make([]float64, eng.BlockSize()),
		right: make([]float64, eng.BlockSize()),
	}
	p.player = ctx.NewPlayer(p)

	return p, nil
}

// Read implements io.Reader for oto: it renders the next chunk of
// engine output as interleaved little-endian float32 stereo frames.
func (p *Player) Read(buf []byte) (int, error) {
	frames := len(buf) / frameBytes
	if frames == 0 {
		return 0, nil
	}

	for done := 0; done < frames; {
		n := len(p.left)
		if rem := frames - done; rem < n {
			n = rem
		}

		p.eng.Process(p.left[:n], p.right[:n])

		for i := 0; i < n; i++ {
			off := (done + i) * frameBytes
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(float32(p.left[i])))
			binary.LittleEndian.PutUint32(buf[off+4:], math.Float32bits(float32(p.right[i])))
		}
		done += n
	}

	return frames * frameBytes, nil
}

// Start begins playback. Idempotent.
func (p *Player) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		p.player.Play()
		p.started = true
	}
}

// Close stops playback and releases the device player.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.started = false

	return p.player.Close()
}

// Err returns the player's sticky error, if any.
func (p *Player) Err() error {
	return p.player.Err()
}
