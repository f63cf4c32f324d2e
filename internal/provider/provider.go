// Package provider manages the pool of interchangeable upstream AI backends.
//
// A provider is anything that can answer a health probe and serve chat
// completions and/or text embeddings. The Registry orders providers by
// priority and weight, probes them through the health Evaluator (which caches
// snapshots for a TTL), and fails over to a degraded backend when no healthy
// one exists. Callers that invoke a provider operation report the outcome
// back through RecordSuccess/RecordFailure; the registry never infers it.
package provider

import (
	"context"
	"time"
)

// Status is a provider's point-in-time availability verdict.
type Status string

const (
	// StatusHealthy means the provider answered its probe normally.
	StatusHealthy Status = "healthy"

	// StatusDegraded means the provider is reachable but impaired
	// (slow responses, partial errors). Preferred over unavailable
	// when no healthy candidate exists.
	StatusDegraded Status = "degraded"

	// StatusUnavailable means the probe failed outright.
	StatusUnavailable Status = "unavailable"
)

// Descriptor identifies a provider and its selection rank.
// Lower Priority is preferred; Weight breaks ties among equal priority
// (higher first). A Weight of zero or less is treated as 1.
type Descriptor struct {
	ID       string
	Name     string
	Priority int
	Weight   int
}

// HealthError carries structured error detail inside a health snapshot.
type HealthError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// HealthSnapshot is the normalized result of one health probe.
// ProviderID always matches the provider the probe ran against, even when the
// raw probe result omitted or mismatched it.
type HealthSnapshot struct {
	ProviderID string       `json:"provider_id"`
	Status     Status       `json:"status"`
	LatencyMs  int64        `json:"latency_ms"`
	Err        *HealthError `json:"error,omitempty"`
	CheckedAt  time.Time    `json:"checked_at"`
}

// HealthChecker is the capability shared by every provider kind.
//
// CheckHealth may return an error; the Evaluator converts errors into an
// unavailable snapshot, so registry callers never see them.
type HealthChecker interface {
	Descriptor() Descriptor
	CheckHealth(ctx context.Context) (HealthSnapshot, error)
}

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"` // "system", "user", or "assistant"
	Content string `json:"content"`
}

// ChatRequest is a provider-agnostic chat completion request.
type ChatRequest struct {
	Model    string
	System   string
	Messages []Message
}

// ChatResponse is the final result of a (possibly streamed) chat completion.
type ChatResponse struct {
	Text  string
	Model string
}

// StreamCallback receives incremental chat output. Returning an error aborts
// the stream; that error propagates to the CreateChatStream caller so the
// host can tell the user generation was interrupted.
type StreamCallback func(ctx context.Context, text string) error

// ChatProvider produces chat completions.
type ChatProvider interface {
	HealthChecker
	CreateChatStream(ctx context.Context, req ChatRequest, cb StreamCallback) (*ChatResponse, error)
}

// EmbeddingRequest asks for embedding vectors for one or more inputs.
// An empty Model selects the provider's default embedding model.
type EmbeddingRequest struct {
	Model string
	Input []string
}

// EmbeddingResponse carries one vector per input, in input order.
type EmbeddingResponse struct {
	Embeddings [][]float32
	Dimensions int
	Model      string
}

// EmbeddingProvider produces text embeddings.
type EmbeddingProvider interface {
	HealthChecker
	CreateEmbedding(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error)
}

// Stats are per-provider runtime counters. They are updated only by explicit
// RecordSuccess/RecordFailure calls, persist for the process lifetime, and
// are never reset by health checks.
type Stats struct {
	SuccessCount  int64     `json:"success_count"`
	FailureCount  int64     `json:"failure_count"`
	LastSuccessAt time.Time `json:"last_success_at,omitzero"`
	LastFailureAt time.Time `json:"last_failure_at,omitzero"`
}

// Attempt records one probed candidate during a selection pass.
type Attempt struct {
	ProviderID string `json:"provider_id"`
	Status     Status `json:"status"`
}

// Selection is the outcome of one selection pass. FallbackUsed is false only
// when the first-probed, highest-priority candidate won; any later winner,
// healthy or not, is a failover. Attempts lists every candidate actually
// probed, in probe order.
type Selection[T HealthChecker] struct {
	Provider     T
	Health       HealthSnapshot
	FallbackUsed bool
	Attempts     []Attempt
	SelectedAt   time.Time
}

// FailureDetail is optional context attached to RecordFailure.
type FailureDetail struct {
	Duration  time.Duration
	ErrorCode string
	Metadata  map[string]any
}

// normalizeWeight maps missing or non-positive weights to 1.
func normalizeWeight(w int) int {
	if w <= 0 {
		return 1
	}
	return w
}
