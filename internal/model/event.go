// Package model holds the wire and in-memory shapes shared by every stage of
// the pipeline: admission, the buffer, the spool, and the submitter.
package model

// RequestEvent is the unit of observation handed to Track by the host's
// framework adapter. It is mutated only by the size enforcer (field
// truncation, metadata shedding) and is otherwise immutable once admitted.
type RequestEvent struct {
	Method         string                 `json:"method"`
	Path           string                 `json:"path"`
	StatusCode     int                    `json:"status_code"`
	ResponseTimeMs float64                `json:"response_time_ms"`
	RequestSize    int64                  `json:"request_size"`
	ResponseSize   int64                  `json:"response_size"`
	ConsumerID     string                 `json:"consumer_id,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	Timestamp      string                 `json:"timestamp"`
}

// Reset zeroes an event in place so it can be returned to a sync.Pool.
func (e *RequestEvent) Reset() {
	*e = RequestEvent{}
}
