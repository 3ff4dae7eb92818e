package engine

import (
	"sync/atomic"
)

// EventType discriminates queue events.
type EventType uint8

const (
	EventNoteOn EventType = iota
	EventNoteOff
	EventAllNotesOff
	EventParam
	EventPitchBend
	EventMacro
)

// Event is the fixed-size message pushed from the control thread to
// the audio thread. Param events carry a resolved parameter index so
// the audio thread never touches strings.
type Event struct {
	Type    EventType
	Channel uint8
	Note    uint8
	// Offset is the sample position within the next block at which the
	// event applies. Offsets beyond the block clamp to its last sample.
	Offset int32
	// Value holds velocity for notes, the new value for params and
	// macros, and the normalized bend in [-1, 1] for pitch bend.
	Value float64
	// Param is the parameter index for EventParam. Macro events carry
	// their slot index in Note.
	Param int32
}

// eventRing is a single-producer single-consumer lock-free ring.
//
// The producer owns head; tail is advanced by the consumer and, only
// when a full ring must admit a protected event, by the producer
// evicting the oldest queued event. Both sides move tail with a
// compare-and-swap, so an eviction and a concurrent pop can never both
// take the same slot. Droppable events pushed into a full ring are
// rejected with a telemetry count.
type eventRing struct {
	buf  []Event
	mask uint64
	head atomic.Uint64 // next write position
	tail atomic.Uint64 // next read position

	dropped        atomic.Uint64
	noteOffDropped atomic.Uint64
}

func newEventRing(capacity int) *eventRing {
	if capacity < 2 || capacity&(capacity-1) != 0 {
		panic("event ring capacity must be a power of two >= 2")
	}

	return &eventRing{
		buf:  make([]Event, capacity),
		mask: uint64(capacity - 1),
	}
}

// push enqueues ev. Returns false if the event was dropped. Producer
// side only.
//
// A full ring rejects droppable events. A protected event instead
// evicts the oldest queued event by claiming the tail slot with a CAS
// against the consumer; a failed CAS means the consumer drained a slot
// and the push retries against the new occupancy. If the oldest event
// is itself protected the new one is dropped and counted: skipping
// past it would reorder or lose a note-off already in flight.
func (r *eventRing) push(ev Event) bool {
	head := r.head.Load()

	for {
		tail := r.tail.Load()
		if head-tail < uint64(len(r.buf)) {
			break
		}

		if !protectedEvent(ev.Type) {
			r.dropped.Add(1)
			return false
		}
		if protectedEvent(r.buf[tail&r.mask].Type) {
			r.noteOffDropped.Add(1)
			return false
		}
		if r.tail.CompareAndSwap(tail, tail+1) {
			r.dropped.Add(1)
		}
	}

	r.buf[head&r.mask] = ev
	r.head.Store(head + 1)

	return true
}

// protectedEvent reports whether t must never be evicted from a full
// ring. Losing one of these means a stuck note.
func protectedEvent(t EventType) bool {
	return t == EventNoteOff || t == EventAllNotesOff
}

// pop dequeues the next event. Consumer side; retries when the
// producer concurrently evicted the slot it was reading, so a torn
// copy is never returned.
func (r *eventRing) pop(ev *Event) bool {
	for {
		tail := r.tail.Load()
		if tail == r.head.Load() {
			return false
		}

		*ev = r.buf[tail&r.mask]
		if r.tail.CompareAndSwap(tail, tail+1) {
			return true
		}
	}
}

// peek returns the next event without consuming it. The copy is only
// valid if tail did not move underneath it.
func (r *eventRing) peek(ev *Event) bool {
	for {
		tail := r.tail.Load()
		if tail == r.head.Load() {
			return false
		}

		*ev = r.buf[tail&r.mask]
		if r.tail.Load() == tail {
			return true
		}
	}
}

// pending returns the number of queued events.
func (r *eventRing) pending() int {
	return int(r.head.Load() - r.tail.Load())
}
