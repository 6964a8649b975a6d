package sizeguard

import (
	"strings"
	"testing"

	"github.com/estat-sh/telemetry-go/internal/model"
)

func TestEnforce_TruncatesFixedFields(t *testing.T) {
	ev := &model.RequestEvent{
		Method:     strings.Repeat("X", 100),
		Path:       strings.Repeat("/a", 2000),
		ConsumerID: strings.Repeat("c", 500),
	}
	Enforce(ev, 65536)

	if len(ev.Method) > MaxMethodBytes {
		t.Errorf("method not truncated: %d bytes", len(ev.Method))
	}
	if len(ev.Path) > MaxPathBytes {
		t.Errorf("path not truncated: %d bytes", len(ev.Path))
	}
	if len(ev.ConsumerID) > MaxConsumerIDBytes {
		t.Errorf("consumer id not truncated: %d bytes", len(ev.ConsumerID))
	}
}

func TestEnforce_NoMetadataNeverChecked(t *testing.T) {
	ev := &model.RequestEvent{Method: "GET", Path: "/x"}
	if got := Enforce(ev, 1); got != Admitted {
		t.Fatalf("expected Admitted regardless of tiny budget, got %v", got)
	}
}

func TestEnforce_ShedsOversizedMetadata(t *testing.T) {
	ev := &model.RequestEvent{
		Method:   "GET",
		Path:     "/x",
		Metadata: map[string]interface{}{"blob": strings.Repeat("a", 1024)},
	}
	got := Enforce(ev, 256)
	if got != AdmittedWithoutMetadata {
		t.Fatalf("expected AdmittedWithoutMetadata, got %v", got)
	}
	if ev.Metadata != nil {
		t.Fatal("expected metadata to be cleared")
	}
}

func TestEnforce_DropsWhenStillOversized(t *testing.T) {
	ev := &model.RequestEvent{
		Method:   "GET",
		Path:     "/x",
		Metadata: map[string]interface{}{"blob": strings.Repeat("a", 1024)},
	}
	got := Enforce(ev, 10)
	if got != Dropped {
		t.Fatalf("expected Dropped, got %v", got)
	}
}
