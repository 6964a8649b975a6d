// Package buffer implements the in-memory event buffer: a bounded, ordered
// sequence of events with append/drain/prepend/splice operations used by
// the flush engine.
//
// Buffer is deliberately not safe for concurrent use. The whole client is
// single-threaded-cooperative: one actor goroutine owns all client state
// (and therefore this Buffer) exclusively, mutating it only between
// suspension points. Grounded on internal/worker/manager.go's
// discipline of never reusing a batch slice once it has been handed to a
// downstream stage — every Drain/Splice here returns a slice the caller
// fully owns, and the buffer never retains a reference to it afterward.
package buffer

import "github.com/estat-sh/telemetry-go/internal/model"

// Buffer is a capacity-bounded, FIFO-ordered sequence of events.
type Buffer struct {
	events []*model.RequestEvent
	max    int
}

// New creates a Buffer that never holds more than max events.
func New(max int) *Buffer {
	return &Buffer{
		events: make([]*model.RequestEvent, 0, min(max, 1024)),
		max:    max,
	}
}

// Len reports the number of events currently buffered.
func (b *Buffer) Len() int {
	return len(b.events)
}

// Append adds ev to the back of the buffer. It reports whether the event
// was accepted. When the buffer is already at capacity the new event is
// dropped rather than displacing what is already queued — a plain Track
// call never blocks, and never evicts older events to make room for itself.
func (b *Buffer) Append(ev *model.RequestEvent) bool {
	if len(b.events) >= b.max {
		return false
	}
	b.events = append(b.events, ev)
	return true
}

// DrainFront removes and returns up to n events from the front of the
// buffer. The returned slice is a fresh allocation the caller owns; the
// buffer never aliases it afterward.
func (b *Buffer) DrainFront(n int) []*model.RequestEvent {
	if n > len(b.events) {
		n = len(b.events)
	}
	if n == 0 {
		return nil
	}
	out := make([]*model.RequestEvent, n)
	copy(out, b.events[:n])

	remaining := len(b.events) - n
	copy(b.events, b.events[n:])
	b.events = b.events[:remaining]

	return out
}

// PrependFront re-inserts events at the front of the buffer, respecting
// remaining capacity (max - len). If events does not fully fit, the excess
// is dropped from the tail of events (the most-recently-failed end of that
// batch) — back-pressure favors the freshness of whatever is already
// buffered over what a failed retry is trying to re-insert.
//
// This is a single bulk operation, never a per-element loop: re-inserting a
// large failed batch one element at a time risks pathological behavior on
// very large batches.
func (b *Buffer) PrependFront(events []*model.RequestEvent) {
	remaining := b.max - len(b.events)
	if remaining <= 0 || len(events) == 0 {
		return
	}
	if len(events) > remaining {
		events = events[:remaining]
	}

	merged := make([]*model.RequestEvent, 0, len(events)+len(b.events))
	merged = append(merged, events...)
	merged = append(merged, b.events...)
	b.events = merged
}

// SpliceAll removes and returns every buffered event, leaving the buffer
// empty. Used by the disk spool on final shutdown spill.
func (b *Buffer) SpliceAll() []*model.RequestEvent {
	out := b.events
	b.events = make([]*model.RequestEvent, 0, min(b.max, 1024))
	return out
}
