// Package logger wires the client's internal diagnostics into zerolog.
// Per-instance tagging and log sampling, useful for a fleet of ingest
// servers, don't carry over to a library embedded in someone else's
// process; what does carry over is a static service tag and an
// endpoint_hash so a host running several clients against different
// endpoints can tell their log lines apart.
package logger

import (
	"io"
	"os"
	stdlog "log"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/estat-sh/telemetry-go/internal/config"
	"github.com/estat-sh/telemetry-go/internal/spool"
)

// Init configures the package-global zerolog logger for one client instance.
//
// A library embedded in a host process should not assume it owns stdout's
// format the way a standalone service can, so Init is deliberately narrow:
// it toggles between a pretty console writer (Debug) and plain JSON (the
// default), sets zerolog's global level (debug with Debug, info otherwise),
// and routes the standard library log package's output, with its flags
// cleared, through that logger.
func Init(cfg config.Config) {
	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	var w io.Writer = os.Stdout
	if cfg.Debug {
		w = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
	}

	logger := zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", "telemetry-client").
		Str("endpoint_hash", spool.EndpointHash(cfg.Endpoint)).
		Logger()

	zlog.Logger = logger

	stdlog.SetFlags(0)
	stdlog.SetOutput(zlog.Logger)
}
