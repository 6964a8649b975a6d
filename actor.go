package telemetry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/estat-sh/telemetry-go/internal/buffer"
	"github.com/estat-sh/telemetry-go/internal/config"
	"github.com/estat-sh/telemetry-go/internal/metrics"
	"github.com/estat-sh/telemetry-go/internal/model"
	"github.com/estat-sh/telemetry-go/internal/pool"
	"github.com/estat-sh/telemetry-go/internal/spool"
	"github.com/estat-sh/telemetry-go/internal/submit"
)

// maxConsecutiveFailures is the threshold at which the Flush Engine gives
// up retrying in memory and spills to disk instead, resetting the counter.
const maxConsecutiveFailures = 5

// baseBackoff is the unjittered base of the exponential backoff formula:
// baseBackoff * 2^(n-1) * uniform(0.5, 1.0).
const baseBackoff = 1000 * time.Millisecond

// flushOutcome is what a doFlush attempt, run in its own goroutine, reports
// back to the actor loop. attemptID threads through to every onError/debug
// line this outcome triggers, so a host's log aggregator can correlate
// "attempt N failed" with "attempt N spooled".
type flushOutcome struct {
	events    []*model.RequestEvent
	attemptID string
	err       error
}

// actor owns every piece of mutable client state exclusively: it is never
// touched from any goroutine but the one running run(). Track, Flush, and
// Shutdown reach it only through the channel below, so nothing here needs
// a lock — the same discipline collectLoop/uploadLoop relies on for its own
// channel-owned state.
type actor struct {
	cfg       config.Config
	metrics   *metrics.Metrics
	submitter *submit.Submitter
	spool     *spool.Spool
	transport interface{ CloseIdleConnections() }
	buf       *buffer.Buffer

	now    func() time.Time
	jitter func() float64

	cmdCh    <-chan any
	sigCh    chan os.Signal
	terminal chan struct{}

	consecutiveFailures int
	backoffUntil        time.Time
	flushInFlight       bool
	flushResultCh       chan flushOutcome
	waiter              chan error
}

func defaultJitter() float64 { return rand.Float64() }

// run is the actor's only goroutine. It exits once the client has received
// either a shutdown signal or an explicit Shutdown call — whichever comes
// first — closing terminal so every blocked or future Track/Flush/Shutdown
// call observes the client is done.
func (a *actor) run() {
	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case cmd := <-a.cmdCh:
			if done := a.handleCmd(cmd, ticker); done {
				return
			}

		case outcome := <-a.flushResultCh:
			a.handleFlushOutcome(outcome)

		case <-ticker.C:
			// Errors from the periodic flush are never surfaced here; they
			// reach the host via OnError in handleFlushOutcome.
			a.maybeStartFlush(nil)

		case sig := <-a.sigCh:
			a.handleSignal(sig)
			return
		}
	}
}

// handleCmd dispatches one command (track, flush, or shutdown) from the
// actor's single ordered channel, preserving whatever order the caller issued Track,
// Flush, and Shutdown calls in. It reports whether run should return.
func (a *actor) handleCmd(cmd any, ticker *time.Ticker) bool {
	switch c := cmd.(type) {
	case trackCmd:
		a.handleTrack(c.ev)
	case flushCmd:
		a.handleFlushRequest(c)
	case shutdownCmd:
		a.handleShutdown(c, ticker)
		return true
	}
	return false
}

func (a *actor) handleTrack(ev *model.RequestEvent) {
	if !a.buf.Append(ev) {
		atomic.AddInt64(&a.metrics.EventsDroppedBufferFullTotal, 1)
		recycleEvent(ev)
		return
	}
	if a.buf.Len() >= a.cfg.BatchSize {
		a.maybeStartFlush(nil)
	}
}

func (a *actor) handleFlushRequest(req flushCmd) {
	if !a.maybeStartFlush(req.reply) {
		req.reply <- nil
	}
}

// maybeStartFlush implements the single-flight flush contract. reply, if
// non-nil, is notified once this specific attempt completes; callers that
// find a flush already in flight (or nothing to do) are answered
// immediately by their own caller instead, without waiting for anything.
func (a *actor) maybeStartFlush(reply chan error) bool {
	if a.buf.Len() == 0 {
		return false
	}
	if a.flushInFlight {
		return false
	}
	if a.consecutiveFailures > 0 && a.now().Before(a.backoffUntil) {
		atomic.AddInt64(&a.metrics.FlushSkippedBackoffTotal, 1)
		return false
	}

	events := a.buf.DrainFront(a.cfg.BatchSize)
	if len(events) == 0 {
		return false
	}

	resultCh := make(chan flushOutcome, 1)
	a.flushInFlight = true
	a.flushResultCh = resultCh
	a.waiter = reply

	attemptID := uuid.NewString()
	go a.doFlush(events, attemptID, resultCh)
	return true
}

// doFlush runs off the actor goroutine so a slow remote never blocks Track
// or the next tick. Its result is delivered back through resultCh, which
// the actor picks up on its next loop iteration.
func (a *actor) doFlush(events []*model.RequestEvent, attemptID string, resultCh chan<- flushOutcome) {
	err := a.submitter.Submit(context.Background(), events)
	if err != nil && a.cfg.Debug {
		log.Debug().Str("attempt_id", attemptID).Err(err).Msg("telemetry: flush attempt failed")
	}
	resultCh <- flushOutcome{events: events, attemptID: attemptID, err: err}
}

func (a *actor) handleFlushOutcome(outcome flushOutcome) {
	a.flushInFlight = false
	a.flushResultCh = nil

	if outcome.err == nil {
		a.consecutiveFailures = 0
		a.backoffUntil = time.Time{}
		if err := a.spool.CleanupRecovery(); err != nil && a.cfg.Debug {
			log.Debug().Err(err).Msg("telemetry: cleanup recovery failed")
		}
		atomic.AddInt64(&a.metrics.FlushSuccessTotal, 1)
		atomic.AddInt64(&a.metrics.EventsSentTotal, int64(len(outcome.events)))
		recycleEvents(outcome.events)
	} else {
		a.invokeOnError(outcome.attemptID, outcome.err)
		atomic.AddInt64(&a.metrics.FlushFailureTotal, 1)
		a.handleFailure(outcome.events, outcome.attemptID, outcome.err)
	}

	if a.waiter != nil {
		a.waiter <- nil
		a.waiter = nil
	}
}

// handleFailure applies the non-retryable/retryable split: a non-retryable
// error spills the batch immediately, a retryable one requeues it (or, at
// the consecutive-failure threshold, spills it) and schedules backoff.
func (a *actor) handleFailure(events []*model.RequestEvent, attemptID string, err error) {
	classified, ok := err.(*submit.Error)
	retryable := !ok || classified.Retryable()

	if !retryable {
		a.spoolAsync(events, attemptID)
		return
	}

	a.consecutiveFailures++
	n := a.consecutiveFailures
	if n >= maxConsecutiveFailures {
		a.spoolAsync(events, attemptID)
		a.consecutiveFailures = 0
	} else {
		a.buf.PrependFront(events)
	}

	delay := backoffDelay(n, a.jitter)
	a.backoffUntil = a.now().Add(delay)
	atomic.AddInt64(&a.metrics.BackoffActivatedTotal, 1)
	if a.cfg.Debug {
		log.Debug().Str("attempt_id", attemptID).Int("consecutive_failures", n).Dur("delay", delay).Msg("telemetry: backoff scheduled")
	}
}

func backoffDelay(n int, jitter func() float64) time.Duration {
	factor := math.Pow(2, float64(n-1))
	j := 0.5 + 0.5*jitter()
	return time.Duration(float64(baseBackoff) * factor * j)
}

func (a *actor) spoolAsync(events []*model.RequestEvent, attemptID string) {
	if len(events) == 0 {
		return
	}
	a.spool.WriteAsync(events, func(err error) {
		if err != nil {
			atomic.AddInt64(&a.metrics.SpoolWriteErrorsTotal, 1)
			if a.cfg.Debug {
				log.Debug().Str("attempt_id", attemptID).Err(err).Msg("telemetry: spool write failed")
			}
		} else {
			atomic.AddInt64(&a.metrics.EventsSpooledTotal, int64(len(events)))
			if a.cfg.Debug {
				log.Debug().Str("attempt_id", attemptID).Int("count", len(events)).Msg("telemetry: attempt spooled")
			}
		}
		recycleEvents(events)
	})
}

// invokeOnError calls the host's callback, if any, recovering from any
// panic inside it — a misbehaving handler must never take down the actor.
// attemptID is folded into the error message so a host logging it alongside
// its own debug lines can correlate a failed attempt with the spool write
// (or requeue) it led to.
func (a *actor) invokeOnError(attemptID string, err error) {
	if a.cfg.OnError == nil {
		return
	}
	defer func() { _ = recover() }()
	a.cfg.OnError(fmt.Errorf("attempt %s: %w", attemptID, err))
}

// spillAll synchronously persists every buffered event to disk. Used by
// both shutdown paths.
func (a *actor) spillAll() {
	remaining := a.buf.SpliceAll()
	if len(remaining) == 0 {
		return
	}
	if err := a.spool.Write(remaining); err != nil {
		atomic.AddInt64(&a.metrics.SpoolWriteErrorsTotal, 1)
		if a.cfg.Debug {
			log.Debug().Err(err).Msg("telemetry: final spill failed")
		}
		recycleEvents(remaining)
		return
	}
	atomic.AddInt64(&a.metrics.EventsSpooledTotal, int64(len(remaining)))
	recycleEvents(remaining)
}

// recycleEvent and recycleEvents return one or more events to pool.EventPool
// once the actor is done with them — after a successful send, after they've
// been copied into a spool line, or after a drop nothing downstream will
// ever read. Resetting first keeps the previous caller's metadata map (and
// string fields) from leaking to whichever Track call gets the pooled
// pointer next.
func recycleEvent(ev *model.RequestEvent) {
	pool.ResetEvent(ev)
	pool.EventPool.Put(ev)
}

func recycleEvents(events []*model.RequestEvent) {
	for _, ev := range events {
		recycleEvent(ev)
	}
}

// handleSignal is the signal-driven, synchronous shutdown path: it never
// attempts an HTTP flush (there is no time budget to wait for one during
// signal teardown) and never exits the process — the host decides that.
func (a *actor) handleSignal(sig os.Signal) {
	signal.Stop(a.sigCh)
	if a.cfg.Debug {
		log.Debug().Str("signal", sig.String()).Msg("telemetry: shutdown signal received")
	}
	a.spillAll()
	a.transport.CloseIdleConnections()
	close(a.terminal)
}

// handleShutdown is the orderly shutdown path: await any in-flight flush,
// attempt one last flush, spill whatever remains, and tear down.
func (a *actor) handleShutdown(req shutdownCmd, ticker *time.Ticker) {
	signal.Stop(a.sigCh)
	ticker.Stop()

	if a.flushInFlight {
		outcome := <-a.flushResultCh
		a.handleFlushOutcome(outcome)
	}

	if a.maybeStartFlush(nil) {
		outcome := <-a.flushResultCh
		a.handleFlushOutcome(outcome)
	}

	a.spillAll()
	a.transport.CloseIdleConnections()
	close(a.terminal)

	req.reply <- nil
}
