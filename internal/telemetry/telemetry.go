// Package telemetry defines the fire-and-forget event stream consumed by the
// host's analytics sink.
//
// Events describe provider lifecycle facts (health transitions, failed
// requests). Emission must never block or fail the operation that produced
// the event; sinks that talk to external systems are expected to buffer or
// drop internally.
package telemetry

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the provider registry and health evaluator.
const (
	// EventProviderHealthChanged fires once per observed status transition.
	EventProviderHealthChanged = "provider_health_changed"

	// EventProviderRequestFailed fires for every reported provider failure.
	EventProviderRequestFailed = "provider_request_failed"
)

// Event is a single telemetry record.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	ProviderID string         `json:"provider_id"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// NewEvent builds an Event with a fresh id and timestamp.
func NewEvent(eventType, providerID string, payload map[string]any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		ProviderID: providerID,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}
}

// Sink receives events. Implementations must not block the caller and must
// not panic; errors are the sink's own problem.
type Sink interface {
	Emit(ev Event)
}

// SlogSink writes events to a structured logger. This is the default sink;
// the host replaces it with its analytics pipeline.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a sink that logs each event at Info level.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

// Emit logs the event.
func (s *SlogSink) Emit(ev Event) {
	s.logger.Info("telemetry event",
		"event_id", ev.ID,
		"type", ev.Type,
		"provider_id", ev.ProviderID,
		"payload", ev.Payload,
	)
}

// NopSink discards all events.
type NopSink struct{}

// Emit does nothing.
func (NopSink) Emit(Event) {}
