// Package retrieval selects and ranks the knowledge chunks that ground an AI
// coaching response.
//
// The public entry point is Engine.Retrieve: check the result cache, then
// fetch candidate chunks and embed the query concurrently, rerank on four
// signals (semantic, keyword, persona affinity, recency), cache the full
// ranked list, and return the top slice. Store outages and embedding failures
// degrade to fewer or worse candidates; they never surface as errors.
package retrieval

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/stoa-labs/stoa/internal/knowledge"
)

// DefaultMaxCandidates caps the merged candidate pool fed to the reranker.
const DefaultMaxCandidates = 24

// ChunkSource is the read surface of the knowledge store the engine uses.
type ChunkSource interface {
	RecentByTags(ctx context.Context, tags []string, limit int32) ([]knowledge.Chunk, error)
	RecentByTradition(ctx context.Context, tradition string, excludeIDs []string, limit int32) ([]knowledge.Chunk, error)
}

// Embedder produces a query vector, or nil when unavailable.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) []float32
}

// Engine is the retrieval entry point. Safe for concurrent use.
type Engine struct {
	source   ChunkSource
	embedder Embedder
	cache    *resultCache
	logger   *slog.Logger
	tracer   trace.Tracer

	maxCandidates int

	// fallbackKeywordFilter restricts the fallback fetch to chunks matching
	// at least one query token. Off by default: the broader pool lets
	// persona-affinity and recency surface useful passages the tokenizer
	// would have dropped.
	fallbackKeywordFilter bool
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithCacheTTL overrides the result cache TTL.
func WithCacheTTL(ttl time.Duration) EngineOption {
	return func(e *Engine) {
		e.cache = newResultCache(ttl)
	}
}

// WithMaxCandidates overrides the candidate pool ceiling.
func WithMaxCandidates(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxCandidates = n
		}
	}
}

// WithFallbackKeywordFilter enables keyword filtering on the fallback fetch.
func WithFallbackKeywordFilter(enabled bool) EngineOption {
	return func(e *Engine) {
		e.fallbackKeywordFilter = enabled
	}
}

// NewEngine creates a retrieval engine. A nil logger uses slog.Default().
func NewEngine(source ChunkSource, embedder Embedder, logger *slog.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		source:        source,
		embedder:      embedder,
		cache:         newResultCache(DefaultCacheTTL),
		logger:        logger,
		tracer:        otel.Tracer("stoa/retrieval"),
		maxCandidates: DefaultMaxCandidates,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Retrieve returns the top-limit ranked chunks for the persona and message.
// The only error it returns is context cancellation; every upstream failure
// degrades to a smaller or unranked result instead.
func (e *Engine) Retrieve(ctx context.Context, persona knowledge.Persona, message string, limit int) ([]knowledge.Chunk, error) {
	if limit <= 0 {
		return nil, nil
	}

	ctx, span := e.tracer.Start(ctx, "retrieval.Retrieve", trace.WithAttributes(
		attribute.String("persona.id", persona.ID),
		attribute.Int("limit", limit),
	))
	defer span.End()

	key := cacheKey(persona.ID, message)
	if ranked, ok := e.cache.get(key); ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return firstN(ranked, limit), nil
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	queryTokens := Tokenize(message)

	var (
		candidates  []knowledge.Chunk
		queryVector []float32
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		candidates = e.fetchCandidates(gctx, persona, limit, queryTokens)
		return nil
	})
	g.Go(func() error {
		queryVector = e.embedder.EmbedQuery(gctx, message)
		return nil
	})
	// Goroutines degrade internally instead of failing; the only wait error
	// possible is context cancellation via gctx.
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ranked := Rerank(candidates, queryVector, persona, queryTokens)
	e.cache.set(key, ranked)

	span.SetAttributes(attribute.Int("candidates", len(candidates)))
	return firstN(ranked, limit), nil
}

// fetchCandidates gathers the candidate pool: a primary fetch scoped to the
// persona's knowledge tags, then a fallback fetch scoped to its tradition
// excluding the primary ids. Store errors are logged and treated as empty
// results for that query.
func (e *Engine) fetchCandidates(ctx context.Context, persona knowledge.Persona, limit int, queryTokens []string) []knowledge.Chunk {
	fetchLimit := int32(2 * limit) //nolint:gosec // limit is a small positive request size

	primary, err := e.source.RecentByTags(ctx, persona.KnowledgeTags, fetchLimit)
	if err != nil {
		e.logger.Warn("primary chunk fetch failed", "persona_id", persona.ID, "error", err)
		primary = nil
	}

	fallbackLimit := min(int(fetchLimit), e.maxCandidates-len(primary))
	var fallback []knowledge.Chunk
	if fallbackLimit > 0 {
		primaryIDs := make([]string, 0, len(primary))
		for _, c := range primary {
			primaryIDs = append(primaryIDs, c.ID)
		}

		fallback, err = e.source.RecentByTradition(ctx, persona.Tradition, primaryIDs, int32(fallbackLimit)) //nolint:gosec // bounded by maxCandidates
		if err != nil {
			e.logger.Warn("fallback chunk fetch failed", "persona_id", persona.ID, "error", err)
			fallback = nil
		}
		if e.fallbackKeywordFilter {
			fallback = filterByTokens(fallback, queryTokens)
		}
	}

	return mergeChunks(primary, fallback)
}

// mergeChunks concatenates primary and fallback keeping the first occurrence
// per id. Primary wins on an id collision, though the fallback query excludes
// primary ids by construction.
func mergeChunks(primary, fallback []knowledge.Chunk) []knowledge.Chunk {
	merged := make([]knowledge.Chunk, 0, len(primary)+len(fallback))
	seen := make(map[string]struct{}, len(primary)+len(fallback))

	for _, c := range primary {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		merged = append(merged, c)
	}
	for _, c := range fallback {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		merged = append(merged, c)
	}
	return merged
}

func filterByTokens(chunks []knowledge.Chunk, tokens []string) []knowledge.Chunk {
	if len(tokens) == 0 {
		return chunks
	}

	filtered := chunks[:0:0]
	for _, c := range chunks {
		lower := strings.ToLower(c.Content)
		for _, t := range tokens {
			if strings.Contains(lower, t) {
				filtered = append(filtered, c)
				break
			}
		}
	}
	return filtered
}

func firstN(chunks []knowledge.Chunk, n int) []knowledge.Chunk {
	if len(chunks) <= n {
		out := make([]knowledge.Chunk, len(chunks))
		copy(out, chunks)
		return out
	}
	out := make([]knowledge.Chunk, n)
	copy(out, chunks[:n])
	return out
}
