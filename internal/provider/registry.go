package provider

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/stoa-labs/stoa/internal/telemetry"
)

// Registry holds the registered chat and embedding provider pools.
//
// Construct one Registry at the application's DI root and share it for the
// process lifetime; counters and health state reset on restart and are not
// shared across instances. Registration happens once at startup and is
// idempotent by provider id. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	chat      []ChatProvider
	embedding []EmbeddingProvider
	stats     map[string]*Stats
	lastChat  *Selection[ChatProvider]

	health *Evaluator
	sink   telemetry.Sink
	logger *slog.Logger
	now    func() time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryClock overrides the time source. Tests only.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry creates a provider registry. A nil evaluator gets a default one
// sharing the same sink; a nil sink discards events.
func NewRegistry(health *Evaluator, sink telemetry.Sink, logger *slog.Logger, opts ...RegistryOption) *Registry {
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if health == nil {
		health = NewEvaluator(sink, logger)
	}

	r := &Registry{
		stats:  make(map[string]*Stats),
		health: health,
		sink:   sink,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterChat adds a chat provider to the pool. Registering the same id
// twice is a no-op.
func (r *Registry) RegisterChat(p ChatProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := p.Descriptor().ID
	for _, existing := range r.chat {
		if existing.Descriptor().ID == id {
			r.logger.Debug("chat provider already registered", "provider_id", id)
			return
		}
	}
	r.chat = append(r.chat, p)
	r.ensureStats(id)
	r.logger.Info("registered chat provider",
		"provider_id", id,
		"priority", p.Descriptor().Priority,
		"weight", normalizeWeight(p.Descriptor().Weight),
	)
}

// RegisterEmbedding adds an embedding provider to the pool. Registering the
// same id twice is a no-op.
func (r *Registry) RegisterEmbedding(p EmbeddingProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := p.Descriptor().ID
	for _, existing := range r.embedding {
		if existing.Descriptor().ID == id {
			r.logger.Debug("embedding provider already registered", "provider_id", id)
			return
		}
	}
	r.embedding = append(r.embedding, p)
	r.ensureStats(id)
	r.logger.Info("registered embedding provider",
		"provider_id", id,
		"priority", p.Descriptor().Priority,
		"weight", normalizeWeight(p.Descriptor().Weight),
	)
}

// ensureStats must be called with r.mu held.
func (r *Registry) ensureStats(id string) {
	if _, ok := r.stats[id]; !ok {
		r.stats[id] = &Stats{}
	}
}

// selectProvider runs one selection pass over candidates.
//
// Candidates are probed in priority-ascending, weight-descending order. The
// first healthy candidate wins immediately. Failing that, the first degraded
// candidate wins over any unavailable one: a slow-but-reachable backend beats
// a dead one. The absolute fallback is the first candidate probed. Returns
// nil for an empty candidate list.
func selectProvider[T HealthChecker](ctx context.Context, ev *Evaluator, now func() time.Time, candidates []T) *Selection[T] {
	if len(candidates) == 0 {
		return nil
	}

	ordered := make([]T, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		di, dj := ordered[i].Descriptor(), ordered[j].Descriptor()
		if di.Priority != dj.Priority {
			return di.Priority < dj.Priority
		}
		return normalizeWeight(di.Weight) > normalizeWeight(dj.Weight)
	})

	var (
		attempts  []Attempt
		degraded  *Selection[T]
		firstSeen *Selection[T]
	)

	for i, candidate := range ordered {
		snap := ev.Evaluate(ctx, candidate)
		attempts = append(attempts, Attempt{ProviderID: snap.ProviderID, Status: snap.Status})

		if snap.Status == StatusHealthy {
			return &Selection[T]{
				Provider:     candidate,
				Health:       snap,
				FallbackUsed: i > 0,
				Attempts:     attempts,
				SelectedAt:   now(),
			}
		}

		if snap.Status == StatusDegraded && degraded == nil {
			degraded = &Selection[T]{Provider: candidate, Health: snap, FallbackUsed: true}
		}
		if firstSeen == nil {
			firstSeen = &Selection[T]{Provider: candidate, Health: snap, FallbackUsed: true}
		}
	}

	chosen := degraded
	if chosen == nil {
		chosen = firstSeen
	}
	chosen.Attempts = attempts
	chosen.SelectedAt = now()
	return chosen
}

// ActiveChatProvider selects the best available chat provider and records the
// winning selection for diagnostics. Returns nil when the pool is empty.
func (r *Registry) ActiveChatProvider(ctx context.Context) *Selection[ChatProvider] {
	r.mu.RLock()
	pool := make([]ChatProvider, len(r.chat))
	copy(pool, r.chat)
	r.mu.RUnlock()

	sel := selectProvider(ctx, r.health, r.now, pool)
	if sel != nil {
		r.mu.Lock()
		r.lastChat = sel
		r.mu.Unlock()
	}
	return sel
}

// ActiveEmbeddingProvider selects the best available embedding provider.
// Returns nil when the pool is empty.
func (r *Registry) ActiveEmbeddingProvider(ctx context.Context) *Selection[EmbeddingProvider] {
	r.mu.RLock()
	pool := make([]EmbeddingProvider, len(r.embedding))
	copy(pool, r.embedding)
	r.mu.RUnlock()

	return selectProvider(ctx, r.health, r.now, pool)
}

// LastChatSelection returns the most recent chat selection, or nil if no
// selection has happened yet.
func (r *Registry) LastChatSelection() *Selection[ChatProvider] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastChat
}

// ProviderHealth evaluates the health of a single provider looked up by id
// across both pools. Returns nil when no provider with that id is registered:
// an unknown id is a lookup miss, not an error.
func (r *Registry) ProviderHealth(ctx context.Context, id string) *HealthSnapshot {
	hc := r.lookup(id)
	if hc == nil {
		return nil
	}
	snap := r.health.Evaluate(ctx, hc)
	return &snap
}

func (r *Registry) lookup(id string) HealthChecker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.chat {
		if p.Descriptor().ID == id {
			return p
		}
	}
	for _, p := range r.embedding {
		if p.Descriptor().ID == id {
			return p
		}
	}
	return nil
}

// RecordSuccess increments the provider's success counter. Called by whoever
// actually invoked the provider operation.
func (r *Registry) RecordSuccess(id string, latency time.Duration) {
	r.mu.Lock()
	r.ensureStats(id)
	s := r.stats[id]
	s.SuccessCount++
	s.LastSuccessAt = r.now()
	r.mu.Unlock()

	r.logger.Debug("provider request succeeded",
		"provider_id", id,
		"latency_ms", latency.Milliseconds(),
	)
}

// RecordFailure increments the provider's failure counter and emits a
// provider_request_failed event.
func (r *Registry) RecordFailure(id string, err error, detail FailureDetail) {
	r.mu.Lock()
	r.ensureStats(id)
	s := r.stats[id]
	s.FailureCount++
	s.LastFailureAt = r.now()
	r.mu.Unlock()

	payload := map[string]any{
		"duration_ms": detail.Duration.Milliseconds(),
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	if detail.ErrorCode != "" {
		payload["error_code"] = detail.ErrorCode
	}
	for k, v := range detail.Metadata {
		payload[k] = v
	}
	r.sink.Emit(telemetry.NewEvent(telemetry.EventProviderRequestFailed, id, payload))

	r.logger.Warn("provider request failed",
		"provider_id", id,
		"error", err,
		"duration_ms", detail.Duration.Milliseconds(),
	)
}

// Stats returns a copy of the provider's runtime counters. The second return
// is false for an unknown id.
func (r *Registry) Stats(id string) (Stats, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.stats[id]
	if !ok {
		return Stats{}, false
	}
	return *s, true
}
