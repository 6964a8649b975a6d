package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/estat-sh/telemetry-go/internal/model"
)

func TestNew_RejectsInvalidConfig(t *testing.T) {
	if _, err := New("key", "http://example.com/ingest"); err == nil {
		t.Fatal("expected error for a non-HTTPS public endpoint")
	}
}

func TestClient_TrackFlushRoundTrip(t *testing.T) {
	var requests int32
	var gotBody []*model.RequestEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	storagePath := filepath.Join(t.TempDir(), "spool.jsonl")
	client, err := New("secret", srv.URL,
		WithBatchSize(100),
		WithFlushInterval(time.Hour),
		WithStoragePath(storagePath),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = client.Shutdown(ctx)
	}()

	client.Track(Event{Path: "/a", Method: "GET"})
	client.Track(Event{Path: "/b", Method: "POST"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if atomic.LoadInt32(&requests) != 1 {
		t.Fatalf("expected exactly one POST, got %d", requests)
	}
	if len(gotBody) != 2 {
		t.Fatalf("expected 2 events in the request body, got %d", len(gotBody))
	}
	if client.Metrics().EventsSentTotal != 2 {
		t.Fatalf("expected 2 events sent, got %d", client.Metrics().EventsSentTotal)
	}
}

func TestClient_RecoversSpooledEventsAtStartup(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	storagePath := filepath.Join(t.TempDir(), "spool.jsonl")
	batch, err := json.Marshal([]*model.RequestEvent{{Path: "/x"}})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(storagePath, append(batch, '\n'), 0o600); err != nil {
		t.Fatal(err)
	}

	client, err := New("secret", srv.URL,
		WithBatchSize(100),
		WithFlushInterval(time.Hour),
		WithStoragePath(storagePath),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = client.Shutdown(ctx)
	}()

	if client.Metrics().EventsRecoveredTotal != 1 {
		t.Fatalf("expected 1 recovered event, got %d", client.Metrics().EventsRecoveredTotal)
	}
	if _, err := os.Stat(storagePath); !os.IsNotExist(err) {
		t.Fatal("expected the primary spool file to be gone (renamed to .recovering)")
	}
	if _, err := os.Stat(storagePath + ".recovering"); err != nil {
		t.Fatal("expected a .recovering sibling to exist before the first successful flush")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if atomic.LoadInt32(&requests) != 1 {
		t.Fatalf("expected the recovered event to be flushed in one POST, got %d requests", requests)
	}
	if _, err := os.Stat(storagePath + ".recovering"); !os.IsNotExist(err) {
		t.Fatal("expected .recovering to be cleaned up after the first successful flush")
	}
}

func TestClient_SizeEnforcementAdmitsWithoutMetadata(t *testing.T) {
	var requests int32
	var gotBody []*model.RequestEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	bigMetadata := map[string]interface{}{"blob": strings.Repeat("x", 1024)}

	client, err := New("secret", srv.URL,
		WithBatchSize(100),
		WithFlushInterval(time.Hour),
		WithMaxEventBytes(256),
		WithStoragePath(filepath.Join(t.TempDir(), "spool.jsonl")),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = client.Shutdown(ctx)
	}()

	client.Track(Event{Path: "/metadata-too-big", Metadata: bigMetadata})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(gotBody) != 1 {
		t.Fatalf("expected the event admitted without its metadata, got %d events", len(gotBody))
	}
	if gotBody[0].Metadata != nil {
		t.Fatal("expected metadata to have been shed")
	}
}

func TestClient_SizeEnforcementDropsStillOversizedEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := New("secret", srv.URL,
		WithBatchSize(100),
		WithFlushInterval(time.Hour),
		WithMaxEventBytes(10),
		WithStoragePath(filepath.Join(t.TempDir(), "spool.jsonl")),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = client.Shutdown(ctx)
	}()

	client.Track(Event{Path: "/still-too-big", Metadata: map[string]interface{}{"a": 1}})

	if client.Metrics().EventsDroppedSizeTotal != 1 {
		t.Fatalf("expected the event to be dropped by size, got %d drops", client.Metrics().EventsDroppedSizeTotal)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func TestClient_ShutdownIsOnlyValidOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := New("secret", srv.URL, WithStoragePath(filepath.Join(t.TempDir(), "spool.jsonl")))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := client.Shutdown(ctx); err != ErrClientClosed {
		t.Fatalf("second Shutdown: got %v, want ErrClientClosed", err)
	}
}
