// Package spool implements the disk spool: the append-only local fallback
// file events are written to when the network has been unhealthy for too
// long, and the crash-recovery protocol that loads them back into the
// in-memory buffer on the next process start.
//
// Grounded on internal/worker/dlq.go's Save/ensureCapacity fd-based
// fstat-then-append pattern, collapsed from the original many-small-files
// DLQ directory (one file per failed batch, reaped by a background
// reuploader) into a single deterministic path per endpoint — this client
// has no background reupload loop; recovery happens once, at construction.
package spool

import (
	"bufio"
	"fmt"
	"hash/fnv"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/estat-sh/telemetry-go/internal/buffer"
	"github.com/estat-sh/telemetry-go/internal/model"
)

// DefaultPath returns the deterministic spool path for an endpoint:
// <temp-dir>/estat-telemetry-<hash8>.jsonl, where hash8 is an 8-hex-char
// FNV-1a hash of the endpoint URL, keeping distinct clients (different
// endpoints) in the same temp directory from colliding on one file.
func DefaultPath(endpoint *url.URL) string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("estat-telemetry-%s.jsonl", EndpointHash(endpoint)))
}

// EndpointHash returns the 8-hex-char FNV-1a hash this package uses to key
// both the default spool path and the logger's endpoint_hash field — an
// endpoint, not the raw URL, is what identifies a client instance in logs,
// and the hash keeps a secret-bearing endpoint (API key aside) out of plain
// text. The query string is canonicalized first so two endpoints that
// differ only in parameter order hash to the same value.
func EndpointHash(endpoint *url.URL) string {
	canonical := *endpoint
	canonical.RawQuery = sortQueryString(endpoint.RawQuery)

	h := fnv.New32a()
	_, _ = h.Write([]byte(canonical.String()))
	return fmt.Sprintf("%08x", h.Sum32())
}

// sortQueryString returns rawQuery with its "key=value" pairs sorted
// lexicographically, so two query strings that are equal as sets compare
// equal as strings too. Stable and idempotent: sortQueryString(x) always
// compares equal to sortQueryString(sortQueryString(x)).
func sortQueryString(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	pairs := strings.Split(rawQuery, "&")
	sort.Strings(pairs)
	return strings.Join(pairs, "&")
}

// Spool is the append-only on-disk fallback store for one client instance.
type Spool struct {
	path           string
	maxBytes       int64
	recoveringPath string
}

// New creates a Spool at path with the given capacity cap.
func New(path string, maxBytes int64) *Spool {
	return &Spool{path: path, maxBytes: maxBytes}
}

// RecoveringPath reports the path of the in-progress recovery file, or ""
// if no recovery is pending (nothing was loaded from disk this process, or
// the first successful flush already cleaned it up).
func (s *Spool) RecoveringPath() string {
	return s.recoveringPath
}

// Write appends one batch as a single JSONL line: a JSON array of events.
// It opens the file with append+create+write, fstats the same descriptor to
// check the size cap, and only then writes — using one descriptor for both
// steps eliminates the check-then-act race a separate Stat(path) call would
// have against a concurrent appender.
func (s *Spool) Write(events []*model.RequestEvent) error {
	if len(events) == 0 {
		return nil
	}

	line, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("spool: encode batch: %w", err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("spool: open: %w", err)
	}
	defer f.Close()

	if s.maxBytes > 0 {
		info, err := f.Stat()
		if err != nil {
			return fmt.Errorf("spool: stat: %w", err)
		}
		if info.Size() >= s.maxBytes {
			return nil
		}
	}

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("spool: write: %w", err)
	}
	return nil
}

// WriteAsync runs Write in its own goroutine and always invokes done (if
// non-nil) once it returns, with the error or nil. The Flush Engine uses
// this for the non-retryable and failure-threshold spill paths so a slow
// disk never blocks flush(); done is also where it is safe to recycle the
// event pointers, since by the time Write returns they have already been
// copied into the JSON line on disk (or the attempt has failed outright).
func (s *Spool) WriteAsync(events []*model.RequestEvent, done func(error)) {
	go func() {
		err := s.Write(events)
		if done != nil {
			done(err)
		}
	}()
}

// StartupRecover loads any previously-spooled events into buf. If a
// `.recovering` sibling file exists it is the source (a prior process
// crashed mid-recovery); otherwise the primary spool file is the source, if
// it exists. Each line is a JSON array of events; corrupt lines are skipped.
// A source that cannot be read at all is deleted. If the primary file was
// the source, it is renamed to `.recovering` so a crash between loading and
// the first successful flush does not lose the events a second time.
func (s *Spool) StartupRecover(buf *buffer.Buffer) error {
	recoveringPath := s.path + ".recovering"

	if info, err := os.Stat(recoveringPath); err == nil && !info.IsDir() {
		if err := s.loadInto(buf, recoveringPath); err != nil {
			_ = os.Remove(recoveringPath)
			return err
		}
		s.recoveringPath = recoveringPath
		return nil
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.IsDir() {
		return nil
	}

	if err := s.loadInto(buf, s.path); err != nil {
		_ = os.Remove(s.path)
		return err
	}

	if err := os.Rename(s.path, recoveringPath); err != nil {
		return fmt.Errorf("spool: rename to recovering: %w", err)
	}
	s.recoveringPath = recoveringPath
	return nil
}

func (s *Spool) loadInto(buf *buffer.Buffer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("spool: open recovery source: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var batch []*model.RequestEvent
		if err := json.Unmarshal(line, &batch); err != nil {
			// Corrupt line — skip it, the rest of the file may still be
			// good.
			continue
		}
		for _, ev := range batch {
			if !buf.Append(ev) {
				return nil
			}
		}
	}
	return scanner.Err()
}

// CleanupRecovery unlinks the `.recovering` file and clears the recorded
// path. Called by the Flush Engine on the first successful flush after
// startup — only once a batch has actually been acknowledged by the remote
// is it safe to stop protecting the recovered events with a second copy.
func (s *Spool) CleanupRecovery() error {
	if s.recoveringPath == "" {
		return nil
	}
	err := os.Remove(s.recoveringPath)
	s.recoveringPath = ""
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
