// Package submit implements the HTTPS submitter: a single POST attempt per
// call, with a classified error the flush engine uses to decide whether to
// retry.
//
// Grounded on internal/worker/s3_uploader.go's putObject — a single-attempt,
// context-timeout-bound call — with the retry loop removed: here the flush
// engine owns retry and backoff, where S3Uploader owned its own retry loop
// as well. The total-deadline enforcement borrows the CancelWatchFunc idiom
// (a context.AfterFunc-registered closer) as a defense-in-depth complement
// to the request's own context deadline, so a body that trickles in one
// byte at a time cannot outlive the deadline by resetting an idle timer
// that was never set in the first place.
package submit

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	json "github.com/goccy/go-json"

	"github.com/estat-sh/telemetry-go/internal/model"
	"github.com/estat-sh/telemetry-go/internal/pool"
)

// TotalDeadline bounds DNS + TCP + TLS + response for one submission
// attempt. It is enforced by external cancellation, not a socket idle
// timeout, so a connection that stays open but drips data cannot outrun it.
const TotalDeadline = 5 * time.Second

const maxErrorBodyBytes = 1024

// Error is the classified error the Flush Engine inspects to decide whether
// a failed submission is retryable.
type Error struct {
	msg        string
	retryable  bool
	statusCode int
}

func (e *Error) Error() string { return e.msg }

// Retryable reports whether the Flush Engine should treat this as eligible
// for retry-with-backoff (true) or spool-immediately (false).
func (e *Error) Retryable() bool { return e.retryable }

// StatusCode is the HTTP status code, or 0 for a transport-level error.
func (e *Error) StatusCode() int { return e.statusCode }

var retryableStatusCodes = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Submitter posts batches to a single, already-validated endpoint.
type Submitter struct {
	client   *http.Client
	endpoint *url.URL
	apiKey   string
}

// New creates a Submitter that sends through transport to endpoint,
// authenticating with apiKey. transport typically has the resolving dialer
// from internal/resolver installed, unless the endpoint is the localhost
// exception.
func New(transport http.RoundTripper, endpoint *url.URL, apiKey string) *Submitter {
	return &Submitter{
		client:   &http.Client{Transport: transport},
		endpoint: endpoint,
		apiKey:   apiKey,
	}
}

// Submit POSTs events as a single JSON array and classifies the outcome.
// A nil error means the remote accepted the batch (any 2xx).
func (s *Submitter) Submit(ctx context.Context, events []*model.RequestEvent) error {
	buf := pool.BufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer pool.PutBuffer(buf)

	if err := json.NewEncoder(buf).Encode(events); err != nil {
		return fmt.Errorf("submit: encode batch: %w", err)
	}
	body := buf.Bytes()

	ctx, cancel := context.WithTimeout(ctx, TotalDeadline)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("submit: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Length", fmt.Sprintf("%d", len(body)))
	req.Header.Set("x-api-key", s.apiKey)
	req.ContentLength = int64(len(body))

	resp, err := s.client.Do(req)
	if err != nil {
		// Transport-level failure: DNS, connect, TLS, or the deadline
		// firing mid-flight. Always retryable.
		return &Error{msg: fmt.Sprintf("submit: transport error: %v", err), retryable: true, statusCode: 0}
	}

	// Belt-and-suspenders close on deadline: if the server keeps trickling
	// bytes right up to (and past) the context deadline, make sure the
	// body read below is not the only thing standing between us and an
	// abandoned goroutine.
	stop := context.AfterFunc(ctx, func() { resp.Body.Close() })
	defer stop()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil
	}

	bodyBytes, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	resp.Body.Close()
	if readErr != nil {
		bodyBytes = nil
	}

	retryAfter := resp.Header.Get("Retry-After")
	msg := fmt.Sprintf("submit: remote returned status %d: %s", resp.StatusCode, string(bodyBytes))
	if retryAfter != "" {
		msg = fmt.Sprintf("%s (Retry-After: %s)", msg, retryAfter)
	}

	return &Error{
		msg:        msg,
		retryable:  retryableStatusCodes[resp.StatusCode],
		statusCode: resp.StatusCode,
	}
}
