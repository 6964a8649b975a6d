package telemetry

import (
	"crypto/tls"
	"time"

	"github.com/estat-sh/telemetry-go/internal/config"
)

// Option configures a Client at construction. Options are applied in order
// before the Endpoint Validator runs, so later options win over earlier ones
// for the same field.
type Option func(*config.Raw)

// WithFlushInterval overrides how often the periodic ticker invokes flush.
// Default 10s.
func WithFlushInterval(d time.Duration) Option {
	return func(r *config.Raw) { r.FlushInterval = d }
}

// WithBatchSize overrides how many buffered events one flush drains at most.
// Default 100.
func WithBatchSize(n int) Option {
	return func(r *config.Raw) { r.BatchSize = n }
}

// WithMaxBufferSize overrides the hard cap on the in-memory event buffer.
// Default 10000.
func WithMaxBufferSize(n int) Option {
	return func(r *config.Raw) { r.MaxBufferSize = n }
}

// WithMaxEventBytes overrides the per-event serialized size budget enforced
// before admission. Default 65536.
func WithMaxEventBytes(n int) Option {
	return func(r *config.Raw) { r.MaxEventBytes = n }
}

// WithMaxStorageBytes overrides the disk spool file's size cap. Default
// 5242880.
func WithMaxStorageBytes(n int64) Option {
	return func(r *config.Raw) { r.MaxStorageBytes = n }
}

// WithStoragePath overrides the spool file path. Defaults to a temp-dir
// entry keyed by a hash of the endpoint.
func WithStoragePath(path string) Option {
	return func(r *config.Raw) { r.StoragePath = path }
}

// WithDebug enables verbose logging: pretty console output and debug-level
// lines for admission drops, credential stripping, and backoff scheduling.
func WithDebug(debug bool) Option {
	return func(r *config.Raw) { r.Debug = debug }
}

// WithTLSConfig supplies custom TLS settings (custom CA, client cert, or
// InsecureSkipVerify) for the HTTPS transport.
func WithTLSConfig(tlsCfg *tls.Config) Option {
	return func(r *config.Raw) { r.TLSConfig = tlsCfg }
}

// WithOnError registers a callback invoked with every failed flush attempt:
// transport errors and non-2xx responses. Spool write failures do not reach
// it; they are only counted and, with Debug set, logged. The callback must
// not panic; if it does, the panic is recovered and discarded so a
// misbehaving handler can never destabilize the flush engine.
func WithOnError(f func(error)) Option {
	return func(r *config.Raw) { r.OnError = f }
}
