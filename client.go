// Package telemetry is an in-process telemetry client: it buffers small
// structured request-observation events in memory, batches them, and ships
// them over HTTPS to a remote ingestion endpoint. It never blocks or panics
// the host, and spills to a local disk spool (recovered on the next process
// start) when the remote is unreachable for too long.
//
// A single actor goroutine owns all client state — the event buffer,
// failure counters, and backoff deadline — so none of it needs a mutex;
// Track, Flush, and Shutdown all communicate with the actor over one
// ordered command channel. This mirrors internal/worker/manager.go's
// collectLoop/uploadLoop pair, collapsed into one loop and one channel
// because this client needs single-flight flush semantics an awaitable
// caller can block on, and because a Flush or Shutdown call must always be
// applied after every Track the same caller issued before it — a property
// only a single shared channel gives for free.
package telemetry

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/estat-sh/telemetry-go/internal/buffer"
	"github.com/estat-sh/telemetry-go/internal/config"
	"github.com/estat-sh/telemetry-go/internal/logger"
	"github.com/estat-sh/telemetry-go/internal/metrics"
	"github.com/estat-sh/telemetry-go/internal/model"
	"github.com/estat-sh/telemetry-go/internal/pool"
	"github.com/estat-sh/telemetry-go/internal/resolver"
	"github.com/estat-sh/telemetry-go/internal/sizeguard"
	"github.com/estat-sh/telemetry-go/internal/spool"
	"github.com/estat-sh/telemetry-go/internal/submit"
)

// Event is the unit of observation a host hands to Track.
type Event = model.RequestEvent

// MetricsSnapshot is a point-in-time copy of a client's internal counters.
type MetricsSnapshot = metrics.Snapshot

// trackCmd, flushCmd, and shutdownCmd are the three messages the actor
// accepts on its single command channel, in the order callers sent them.
type trackCmd struct {
	ev *model.RequestEvent
}

type flushCmd struct {
	reply chan error
}

type shutdownCmd struct {
	ctx   context.Context
	reply chan error
}

// Client is one configured telemetry client instance, safe for concurrent
// use by many goroutines the way a host's request handlers would use it.
type Client struct {
	cfg     config.Config
	metrics *metrics.Metrics

	cmdCh chan any

	shutdownOnce sync.Once
	terminal     chan struct{}
}

// New validates cfg, builds the HTTPS transport, recovers any previously
// spooled events, and starts the actor goroutine, the periodic flush
// ticker, and the SIGTERM/SIGINT handlers. It returns an error instead of
// calling log.Fatal: a misconfigured client library must never take its
// host process down with it.
func New(apiKey, endpoint string, opts ...Option) (*Client, error) {
	raw := config.Raw{APIKey: apiKey, Endpoint: endpoint}
	for _, opt := range opts {
		opt(&raw)
	}

	cfg, warnings, err := config.Validate(raw)
	if err != nil {
		return nil, err
	}

	logger.Init(cfg)
	if cfg.Debug {
		for _, w := range warnings {
			log.Debug().Msg(w)
		}
	}

	m := metrics.New()

	storagePath := cfg.StoragePath
	if storagePath == "" {
		storagePath = spool.DefaultPath(cfg.Endpoint)
	}
	sp := spool.New(storagePath, cfg.MaxStorageBytes)

	buf := buffer.New(cfg.MaxBufferSize)
	if err := sp.StartupRecover(buf); err != nil && cfg.Debug {
		log.Debug().Err(err).Msg("telemetry: startup recovery failed")
	}
	atomic.AddInt64(&m.EventsRecoveredTotal, int64(buf.Len()))

	transport := newTransport(cfg)
	submitter := submit.New(transport, cfg.Endpoint, cfg.APIKey)

	c := &Client{
		cfg:      cfg,
		metrics:  m,
		cmdCh:    make(chan any, cfg.MaxBufferSize),
		terminal: make(chan struct{}),
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	a := &actor{
		cfg:       cfg,
		metrics:   m,
		submitter: submitter,
		spool:     sp,
		transport: transport,
		buf:       buf,
		now:       time.Now,
		jitter:    defaultJitter,

		cmdCh:    c.cmdCh,
		sigCh:    sigCh,
		terminal: c.terminal,
	}

	go a.run()

	return c, nil
}

func newTransport(cfg config.Config) *http.Transport {
	t := &http.Transport{
		MaxIdleConns:        2,
		MaxIdleConnsPerHost: 2,
		MaxConnsPerHost:     2,
		IdleConnTimeout:     90 * time.Second,
		TLSClientConfig:     cfg.TLSConfig,
	}
	if cfg.IsLocalhostException {
		t.DialContext = (&net.Dialer{Timeout: 5 * time.Second}).DialContext
	} else {
		t.DialContext = resolver.New().DialContext
	}
	return t
}

// Track admits ev: it truncates the fixed-width fields, enforces the
// per-event serialized size budget, and hands the event to the actor. It
// never blocks and never panics, regardless of what the host passes in or
// how busy the actor is.
func (c *Client) Track(ev Event) {
	e := pool.EventPool.Get().(*model.RequestEvent)
	*e = ev

	outcome := sizeguard.Enforce(e, c.cfg.MaxEventBytes)
	atomic.AddInt64(&c.metrics.EventsTrackedTotal, 1)
	if outcome == sizeguard.Dropped {
		atomic.AddInt64(&c.metrics.EventsDroppedSizeTotal, 1)
		if c.cfg.Debug {
			log.Debug().Str("path", e.Path).Msg("telemetry: admission dropped event over size budget")
		}
		pool.ResetEvent(e)
		pool.EventPool.Put(e)
		return
	}

	select {
	case c.cmdCh <- trackCmd{ev: e}:
	case <-c.terminal:
		pool.ResetEvent(e)
		pool.EventPool.Put(e)
	default:
		atomic.AddInt64(&c.metrics.EventsDroppedBufferFullTotal, 1)
		if c.cfg.Debug {
			log.Debug().Str("path", e.Path).Msg("telemetry: admission dropped event, command buffer full")
		}
		pool.ResetEvent(e)
		pool.EventPool.Put(e)
	}
}

// Flush requests an immediate flush attempt and awaits its outcome. It is
// idempotent: if a flush is already in flight, or the buffer is empty, or
// an active backoff window is in effect, it returns immediately. A non-nil
// error here means ctx was done before the actor could respond, or the
// client has already finished shutting down — it never carries a remote
// submission failure, which is only ever surfaced through OnError.
func (c *Client) Flush(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case c.cmdCh <- flushCmd{reply: reply}:
	case <-c.terminal:
		return ErrClientClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-c.terminal:
		// The actor may have answered just before tearing down.
		select {
		case err := <-reply:
			return err
		default:
			return ErrClientClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown runs the orderly shutdown sequence: it stops the ticker and
// signal handlers, awaits any in-flight flush, attempts one final flush,
// synchronously spills whatever remains, and tears down the transport. It
// must be called at most once; subsequent calls return ErrClientClosed.
func (c *Client) Shutdown(ctx context.Context) error {
	var err error
	called := false
	c.shutdownOnce.Do(func() {
		called = true
		reply := make(chan error, 1)
		select {
		case c.cmdCh <- shutdownCmd{ctx: ctx, reply: reply}:
			select {
			case err = <-reply:
			case <-ctx.Done():
				err = ctx.Err()
			case <-c.terminal:
			}
		case <-ctx.Done():
			err = ctx.Err()
		case <-c.terminal:
			// The actor already tore itself down via its own signal
			// handler before this explicit Shutdown reached it.
		}
	})
	if !called {
		return ErrClientClosed
	}
	return err
}

// Metrics returns a point-in-time snapshot of this client's internal
// counters, for a host that wants to self-observe. Delivery and ordering
// guarantees are out of scope for this client; observability into it isn't.
func (c *Client) Metrics() MetricsSnapshot {
	return c.metrics.Snapshot()
}
