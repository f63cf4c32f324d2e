package provider

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/stoa-labs/stoa/internal/telemetry"
)

// DefaultHealthTTL is how long a health snapshot stays valid before the next
// probe. Chosen so a flapping upstream is re-checked often enough to recover
// quickly without hammering it on every selection.
const DefaultHealthTTL = 30 * time.Second

// Evaluator runs health probes and caches the normalized snapshots.
//
// Evaluate is total: it always returns a complete snapshot, converting probe
// errors into StatusUnavailable. The cache is consulted strictly by expiry
// time; a stale snapshot is never returned without a fresh probe. Safe for
// concurrent use. The read-check-then-probe window is not atomic across
// callers, so concurrent misses can probe the same provider twice; the worst
// case is one redundant probe.
type Evaluator struct {
	mu         sync.Mutex
	ttl        time.Duration
	now        func() time.Time
	cache      map[string]cachedHealth
	lastStatus map[string]Status
	sink       telemetry.Sink
	logger     *slog.Logger
}

type cachedHealth struct {
	snapshot  HealthSnapshot
	expiresAt time.Time
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithHealthTTL overrides the snapshot TTL.
func WithHealthTTL(ttl time.Duration) EvaluatorOption {
	return func(e *Evaluator) {
		if ttl > 0 {
			e.ttl = ttl
		}
	}
}

// WithClock overrides the time source. Tests only.
func WithClock(now func() time.Time) EvaluatorOption {
	return func(e *Evaluator) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEvaluator creates a health evaluator emitting transition events to sink.
// A nil sink discards events; a nil logger uses slog.Default().
func NewEvaluator(sink telemetry.Sink, logger *slog.Logger, opts ...EvaluatorOption) *Evaluator {
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Evaluator{
		ttl:        DefaultHealthTTL,
		now:        time.Now,
		cache:      make(map[string]cachedHealth),
		lastStatus: make(map[string]Status),
		sink:       sink,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate returns the provider's current health snapshot, probing only when
// the cached snapshot has expired.
func (e *Evaluator) Evaluate(ctx context.Context, hc HealthChecker) HealthSnapshot {
	id := hc.Descriptor().ID

	e.mu.Lock()
	if entry, ok := e.cache[id]; ok && e.now().Before(entry.expiresAt) {
		snap := entry.snapshot
		e.mu.Unlock()
		return snap
	}
	e.mu.Unlock()

	// Probe outside the lock; the call may block on the network.
	start := e.now()
	snap, err := hc.CheckHealth(ctx)
	latency := e.now().Sub(start)

	snap = e.normalize(id, snap, err, latency)

	e.mu.Lock()
	e.cache[id] = cachedHealth{snapshot: snap, expiresAt: e.now().Add(e.ttl)}
	prev, seen := e.lastStatus[id]
	e.lastStatus[id] = snap.Status
	e.mu.Unlock()

	if seen && prev != snap.Status {
		payload := map[string]any{
			"previous_status": string(prev),
			"current_status":  string(snap.Status),
			"latency_ms":      snap.LatencyMs,
		}
		if snap.Err != nil {
			payload["error"] = snap.Err.Message
			if snap.Err.Code != "" {
				payload["error_code"] = snap.Err.Code
			}
		}
		e.sink.Emit(telemetry.NewEvent(telemetry.EventProviderHealthChanged, id, payload))
		e.logger.Info("provider health changed",
			"provider_id", id,
			"previous", string(prev),
			"current", string(snap.Status),
			"latency_ms", snap.LatencyMs,
		)
	}

	return snap
}

// Invalidate drops the cached snapshot for a provider, forcing the next
// Evaluate to probe. The last-known status is kept so a transition event
// still fires only on an actual change.
func (e *Evaluator) Invalidate(id string) {
	e.mu.Lock()
	delete(e.cache, id)
	e.mu.Unlock()
}

// normalize forces the snapshot into a complete, consistent shape: the
// provider id always matches the probed provider, latency and timestamp fall
// back to measured values, and a probe error becomes an unavailable status.
func (e *Evaluator) normalize(id string, snap HealthSnapshot, probeErr error, latency time.Duration) HealthSnapshot {
	if probeErr != nil {
		snap = HealthSnapshot{
			Status: StatusUnavailable,
			Err:    &HealthError{Message: probeErr.Error()},
		}
	}

	snap.ProviderID = id
	if snap.Status == "" {
		snap.Status = StatusUnavailable
	}
	if snap.LatencyMs == 0 {
		snap.LatencyMs = latency.Milliseconds()
	}
	if snap.CheckedAt.IsZero() {
		snap.CheckedAt = e.now()
	}
	return snap
}
