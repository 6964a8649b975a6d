// Package sizeguard implements the size enforcer: it bounds the fixed
// string fields on every event and sheds or drops events whose metadata
// pushes them over the per-event byte budget.
//
// Grounded on internal/worker/encoder.go's reuse-a-buffer-then-copy-out
// discipline for measuring serialized size without letting a scratch buffer
// escape to the caller.
package sizeguard

import (
	"bytes"

	json "github.com/goccy/go-json"

	"github.com/estat-sh/telemetry-go/internal/model"
	"github.com/estat-sh/telemetry-go/internal/pool"
)

const (
	MaxMethodBytes     = 16
	MaxPathBytes       = 2048
	MaxConsumerIDBytes = 256
)

// Outcome describes what admission did to an event, for debug logging and
// metrics — it is never surfaced to the host.
type Outcome int

const (
	Admitted Outcome = iota
	AdmittedWithoutMetadata
	Dropped
)

// Enforce truncates the fixed-width fields in place and, if the event
// carries metadata, sheds or drops it to respect maxEventBytes. Events
// without metadata are never size-checked: the fixed fields above are
// already bounded, so there is nothing left that could push them over
// budget. The whole operation is wrapped in a recover() so a pathological
// metadata value (e.g. a cyclic structure reachable only through an
// interface{}) can never escape as a panic into the host's request path.
func Enforce(ev *model.RequestEvent, maxEventBytes int) (outcome Outcome) {
	defer func() {
		if recover() != nil {
			outcome = Dropped
		}
	}()

	ev.Method = truncate(ev.Method, MaxMethodBytes)
	ev.Path = truncate(ev.Path, MaxPathBytes)
	ev.ConsumerID = truncate(ev.ConsumerID, MaxConsumerIDBytes)

	if ev.Metadata == nil {
		return Admitted
	}

	// The caller's map is still reachable from their own goroutine after
	// Track returns; the actor may not serialize it until the next flush,
	// long after the caller could have mutated or reused it. Admission
	// takes its own copy so nothing downstream ever reads a map the caller
	// is concurrently writing to.
	ev.Metadata = cloneMetadata(ev.Metadata)

	if serializedSize(ev) <= maxEventBytes {
		return Admitted
	}

	ev.Metadata = nil
	if serializedSize(ev) <= maxEventBytes {
		return AdmittedWithoutMetadata
	}

	return Dropped
}

// cloneMetadata returns a shallow copy of md: a new top-level map holding
// the same value references. Good enough for the values this client cares
// about (JSON-serializable scalars, slices, and nested maps supplied by the
// framework adapter) since Enforce never mutates anything past the
// top-level map itself.
func cloneMetadata(md map[string]interface{}) map[string]interface{} {
	cp := make(map[string]interface{}, len(md))
	for k, v := range md {
		cp[k] = v
	}
	return cp
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func serializedSize(ev *model.RequestEvent) int {
	buf := pool.BufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer pool.PutBuffer(buf)

	enc := json.NewEncoder(buf)
	if err := enc.Encode(ev); err != nil {
		// Treat an encode failure as "too big to ever fit" rather than
		// propagating it — the caller only needs a size decision.
		return int(^uint(0) >> 1)
	}
	return buf.Len()
}
