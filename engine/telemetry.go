package engine

import "sync/atomic"

// Telemetry is a point-in-time copy of the engine's diagnostic
// counters. All counters are monotonic since engine creation.
type Telemetry struct {
	BlocksProcessed uint64
	EventsDropped   uint64
	NoteOffsDropped uint64
	UnknownParams   uint64
	VoicesStolen    uint64
	Xruns           uint64
}

// telemetry holds the live atomic counters behind Telemetry snapshots.
type telemetry struct {
	blocksProcessed atomic.Uint64
	unknownParams   atomic.Uint64
	voicesStolen    atomic.Uint64
	xruns           atomic.Uint64
}

func (t *telemetry) snapshot(ring *eventRing) Telemetry {
	return Telemetry{
		BlocksProcessed: t.blocksProcessed.Load(),
		EventsDropped:   ring.dropped.Load(),
		NoteOffsDropped: ring.noteOffDropped.Load(),
		UnknownParams:   t.unknownParams.Load(),
		VoicesStolen:    t.voicesStolen.Load(),
		Xruns:           t.xruns.Load(),
	}
}
