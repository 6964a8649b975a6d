// Package pool holds the sync.Pool instances that keep the admission hot
// path allocation-free: Track() is called on every served request, so a
// new(model.RequestEvent) or a fresh bytes.Buffer per call would add GC
// pressure proportional to the host's own request rate. EventPool is
// returned to on every exit from the pipeline (sent, spooled, or dropped);
// BufferPool backs every JSON-encode scratch buffer, in the size enforcer
// and the submitter alike.
//
// Grounded directly on internal/pool/pool.go's EventPool/BufferPool split,
// trimmed of the gzip writer pool (the wire body and spool lines are plain
// JSON — see DESIGN.md for why compression was dropped).
package pool

import (
	"bytes"
	"sync"

	"github.com/estat-sh/telemetry-go/internal/model"
)

var (
	// EventPool hands Track a *model.RequestEvent to populate, and takes it
	// back once the actor is done with it: after a successful send, after
	// it's been copied into a spool line, or after it's dropped for being
	// over budget or arriving while the command channel is full.
	EventPool = sync.Pool{
		New: func() any { return new(model.RequestEvent) },
	}

	// BufferPool holds scratch buffers used to probe an event's serialized
	// size (size enforcer) and to encode the JSON request body (submitter).
	// Initial capacity of 4KB comfortably fits one event or a small batch.
	BufferPool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, 4*1024))
		},
	}
)

// MaxBufferCap bounds how large a buffer PutBuffer will return to the pool.
// A buffer grown far past this by one oversized batch is let go to the GC
// instead of pinning that memory for the lifetime of the process.
const MaxBufferCap = 1 * 1024 * 1024 // 1MB

// ResetEvent zeroes an event so it can be returned to EventPool without
// leaking the previous caller's metadata map.
func ResetEvent(e *model.RequestEvent) {
	e.Reset()
}

// PutBuffer returns buf to BufferPool, unless it has grown past
// MaxBufferCap, in which case it is dropped for the GC to reclaim.
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() <= MaxBufferCap {
		buf.Reset()
		BufferPool.Put(buf)
	}
}
