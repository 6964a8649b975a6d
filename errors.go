package telemetry

import "errors"

// ErrClientClosed is returned by Flush once a client has shut down (by
// Shutdown or by its signal handler), and by every Shutdown call after the
// first.
var ErrClientClosed = errors.New("telemetry: client is closed")
