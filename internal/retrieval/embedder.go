package retrieval

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/stoa-labs/stoa/internal/provider"
)

// ProviderSource is the slice of the provider registry the query embedder
// needs: selection plus outcome reporting.
type ProviderSource interface {
	ActiveEmbeddingProvider(ctx context.Context) *provider.Selection[provider.EmbeddingProvider]
	RecordSuccess(id string, latency time.Duration)
	RecordFailure(id string, err error, detail provider.FailureDetail)
}

// QueryEmbedder turns a user message into a single embedding vector using the
// best-available embedding provider.
//
// Every failure mode degrades to a nil vector: blank input, no selectable
// provider, or an upstream error. Downstream ranking treats nil as "semantic
// score unavailable", so retrieval continues on the remaining signals.
type QueryEmbedder struct {
	providers ProviderSource
	model     string
	logger    *slog.Logger
}

// NewQueryEmbedder creates a QueryEmbedder. model may be empty, in which case
// each provider's default embedding model is used.
func NewQueryEmbedder(providers ProviderSource, model string, logger *slog.Logger) *QueryEmbedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryEmbedder{providers: providers, model: model, logger: logger}
}

// EmbedQuery embeds the text, or returns nil when it cannot.
func (q *QueryEmbedder) EmbedQuery(ctx context.Context, text string) []float32 {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	sel := q.providers.ActiveEmbeddingProvider(ctx)
	if sel == nil {
		q.logger.Warn("no embedding provider selectable, skipping semantic scoring")
		return nil
	}

	id := sel.Provider.Descriptor().ID
	start := time.Now()

	resp, err := sel.Provider.CreateEmbedding(ctx, provider.EmbeddingRequest{
		Model: q.model,
		Input: []string{text},
	})
	elapsed := time.Since(start)

	if err != nil {
		q.providers.RecordFailure(id, err, provider.FailureDetail{
			Duration: elapsed,
			Metadata: map[string]any{
				"attempts":      len(sel.Attempts),
				"fallback_used": sel.FallbackUsed,
			},
		})
		q.logger.Warn("query embedding failed",
			"provider_id", id,
			"error", err,
			"duration_ms", elapsed.Milliseconds(),
		)
		return nil
	}

	q.providers.RecordSuccess(id, elapsed)

	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
		q.logger.Warn("embedding provider returned no vectors", "provider_id", id)
		return nil
	}
	return resp.Embeddings[0]
}
