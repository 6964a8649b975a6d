// Package metrics holds the counters a host can read to self-observe a
// telemetry client instance — delivery and ordering guarantees are out of
// scope for this client, but observability into what it's doing isn't.
//
// Grounded on internal/metrics/metrics.go's atomic-counter-struct-plus-String
// shape, renamed from S3/DLQ-ingest-server concepts to this client's own:
// tracking, size-drop, send, spool, recover, flush, and backoff.
package metrics

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Metrics is a set of atomic counters a client instance updates as it runs.
type Metrics struct {
	// EventsTrackedTotal counts every Track call that reached admission,
	// regardless of what admission decided to do with it.
	EventsTrackedTotal int64

	// EventsDroppedSizeTotal counts events the size enforcer dropped
	// entirely because they stayed over budget even without metadata.
	EventsDroppedSizeTotal int64

	// EventsDroppedBufferFullTotal counts events dropped because Track
	// found the actor's command channel full, or because the buffer was
	// already at MaxBufferSize when the actor tried to append the event.
	EventsDroppedBufferFullTotal int64

	// EventsSentTotal counts events included in a successfully submitted
	// batch.
	EventsSentTotal int64

	// EventsSpooledTotal counts events written to the disk spool after a
	// non-retryable failure, after exhausting the consecutive-failure
	// threshold, or by the final spill on shutdown.
	EventsSpooledTotal int64

	// EventsRecoveredTotal counts events loaded back into the buffer from
	// the disk spool at startup.
	EventsRecoveredTotal int64

	// FlushSuccessTotal / FlushFailureTotal count completed doFlush calls
	// by outcome.
	FlushSuccessTotal int64
	FlushFailureTotal int64

	// FlushSkippedBackoffTotal counts flush() calls that returned
	// immediately because of an active backoff window.
	FlushSkippedBackoffTotal int64

	// BackoffActivatedTotal counts how many times a retryable failure set
	// a new backoffUntil deadline.
	BackoffActivatedTotal int64

	// SpoolWriteErrorsTotal counts disk-spool write failures. These are
	// swallowed rather than surfaced to the host; losing an event this way
	// is accepted as a last resort once memory and disk are both exhausted.
	SpoolWriteErrorsTotal int64
}

// New returns a zeroed Metrics.
func New() *Metrics {
	return &Metrics{}
}

// Snapshot is a point-in-time copy of the counters, safe to hand to a host
// application without exposing the atomic fields themselves.
type Snapshot struct {
	EventsTrackedTotal           int64
	EventsDroppedSizeTotal       int64
	EventsDroppedBufferFullTotal int64
	EventsSentTotal              int64
	EventsSpooledTotal           int64
	EventsRecoveredTotal         int64
	FlushSuccessTotal            int64
	FlushFailureTotal            int64
	FlushSkippedBackoffTotal     int64
	BackoffActivatedTotal        int64
	SpoolWriteErrorsTotal        int64
}

// Snapshot reads every counter under atomic load and returns a plain copy.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		EventsTrackedTotal:           atomic.LoadInt64(&m.EventsTrackedTotal),
		EventsDroppedSizeTotal:       atomic.LoadInt64(&m.EventsDroppedSizeTotal),
		EventsDroppedBufferFullTotal: atomic.LoadInt64(&m.EventsDroppedBufferFullTotal),
		EventsSentTotal:              atomic.LoadInt64(&m.EventsSentTotal),
		EventsSpooledTotal:           atomic.LoadInt64(&m.EventsSpooledTotal),
		EventsRecoveredTotal:         atomic.LoadInt64(&m.EventsRecoveredTotal),
		FlushSuccessTotal:            atomic.LoadInt64(&m.FlushSuccessTotal),
		FlushFailureTotal:            atomic.LoadInt64(&m.FlushFailureTotal),
		FlushSkippedBackoffTotal:     atomic.LoadInt64(&m.FlushSkippedBackoffTotal),
		BackoffActivatedTotal:        atomic.LoadInt64(&m.BackoffActivatedTotal),
		SpoolWriteErrorsTotal:        atomic.LoadInt64(&m.SpoolWriteErrorsTotal),
	}
}

// String renders the counters as a flat, human/greppable key=value block,
// Prometheus-adjacent but not an actual exposition-format encoder.
func (m *Metrics) String() string {
	var sb strings.Builder
	sb.Grow(256)

	fmt.Fprintf(&sb, "events_tracked_total=%d\n", atomic.LoadInt64(&m.EventsTrackedTotal))
	fmt.Fprintf(&sb, "events_dropped_size_total=%d\n", atomic.LoadInt64(&m.EventsDroppedSizeTotal))
	fmt.Fprintf(&sb, "events_dropped_buffer_full_total=%d\n", atomic.LoadInt64(&m.EventsDroppedBufferFullTotal))
	fmt.Fprintf(&sb, "events_sent_total=%d\n", atomic.LoadInt64(&m.EventsSentTotal))
	fmt.Fprintf(&sb, "events_spooled_total=%d\n", atomic.LoadInt64(&m.EventsSpooledTotal))
	fmt.Fprintf(&sb, "events_recovered_total=%d\n", atomic.LoadInt64(&m.EventsRecoveredTotal))
	fmt.Fprintf(&sb, "flush_success_total=%d\n", atomic.LoadInt64(&m.FlushSuccessTotal))
	fmt.Fprintf(&sb, "flush_failure_total=%d\n", atomic.LoadInt64(&m.FlushFailureTotal))
	fmt.Fprintf(&sb, "flush_skipped_backoff_total=%d\n", atomic.LoadInt64(&m.FlushSkippedBackoffTotal))
	fmt.Fprintf(&sb, "backoff_activated_total=%d\n", atomic.LoadInt64(&m.BackoffActivatedTotal))
	fmt.Fprintf(&sb, "spool_write_errors_total=%d\n", atomic.LoadInt64(&m.SpoolWriteErrorsTotal))

	return sb.String()
}
