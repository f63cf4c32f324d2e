package telemetry

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stoa-labs/stoa/internal/log"
)

func TestNewEvent(t *testing.T) {
	t.Parallel()

	e1 := NewEvent(EventProviderHealthChanged, "gemini", map[string]any{"current_status": "degraded"})
	e2 := NewEvent(EventProviderHealthChanged, "gemini", nil)

	if e1.ID == "" || e2.ID == "" {
		t.Fatal("event id not assigned")
	}
	if e1.ID == e2.ID {
		t.Error("event ids not unique")
	}
	if e1.Type != EventProviderHealthChanged {
		t.Errorf("type = %q, want %q", e1.Type, EventProviderHealthChanged)
	}
	if e1.ProviderID != "gemini" {
		t.Errorf("provider id = %q, want gemini", e1.ProviderID)
	}
	if e1.OccurredAt.IsZero() {
		t.Error("timestamp not assigned")
	}
	if e1.Payload["current_status"] != "degraded" {
		t.Errorf("payload = %v, want current_status=degraded", e1.Payload)
	}
}

func TestSlogSinkEmit(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sink := NewSlogSink(log.NewWithWriter(&buf, log.Config{JSON: true}))

	sink.Emit(NewEvent(EventProviderRequestFailed, "ollama-local", map[string]any{"error": "timeout"}))

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("sink output is not JSON: %v\n%s", err, buf.String())
	}
	if record["type"] != EventProviderRequestFailed {
		t.Errorf("logged type = %v, want %q", record["type"], EventProviderRequestFailed)
	}
	if record["provider_id"] != "ollama-local" {
		t.Errorf("logged provider_id = %v, want ollama-local", record["provider_id"])
	}
}

func TestNopSink(t *testing.T) {
	t.Parallel()

	// Must accept any event without side effects.
	NopSink{}.Emit(NewEvent(EventProviderHealthChanged, "x", nil))
}
