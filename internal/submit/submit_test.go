package submit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/estat-sh/telemetry-go/internal/model"
)

func mustURL(t *testing.T, s string) *url.URL {
	t.Helper()
	u, err := url.Parse(s)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func TestSubmit_SuccessOn2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "secret" {
			t.Errorf("missing api key header")
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("wrong content type: %s", r.Header.Get("Content-Type"))
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := New(http.DefaultTransport, mustURL(t, srv.URL), "secret")
	err := s.Submit(context.Background(), []*model.RequestEvent{{Path: "/x"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSubmit_RetryableStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"overloaded"}`))
	}))
	defer srv.Close()

	s := New(http.DefaultTransport, mustURL(t, srv.URL), "secret")
	err := s.Submit(context.Background(), []*model.RequestEvent{{Path: "/x"}})
	if err == nil {
		t.Fatal("expected error")
	}
	classified, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if !classified.Retryable() {
		t.Fatal("expected 503 to be retryable")
	}
	if classified.StatusCode() != 503 {
		t.Fatalf("StatusCode() = %d, want 503", classified.StatusCode())
	}
}

func TestSubmit_NonRetryableStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad"}`))
	}))
	defer srv.Close()

	s := New(http.DefaultTransport, mustURL(t, srv.URL), "secret")
	err := s.Submit(context.Background(), []*model.RequestEvent{{Path: "/x"}})
	classified, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if classified.Retryable() {
		t.Fatal("expected 400 to be non-retryable")
	}
	if classified.Error() == "" {
		t.Fatal("expected non-empty message")
	}
}

func TestSubmit_TransportErrorIsRetryable(t *testing.T) {
	s := New(http.DefaultTransport, mustURL(t, "https://127.0.0.1:0/ingest"), "secret")
	err := s.Submit(context.Background(), []*model.RequestEvent{{Path: "/x"}})
	if err == nil {
		t.Fatal("expected transport error")
	}
	classified, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if !classified.Retryable() {
		t.Fatal("expected transport error to default to retryable")
	}
	if classified.StatusCode() != 0 {
		t.Fatalf("StatusCode() = %d, want 0", classified.StatusCode())
	}
}
