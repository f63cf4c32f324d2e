package retrieval

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stoa-labs/stoa/internal/knowledge"
	"github.com/stoa-labs/stoa/internal/log"
)

// mockChunkSource implements ChunkSource with scripted results and call
// tracking.
type mockChunkSource struct {
	mu sync.Mutex

	byTags       []knowledge.Chunk
	byTradition  []knowledge.Chunk
	tagsErr      error
	traditionErr error

	tagsCalls      int
	traditionCalls int

	lastTags        []string
	lastTagsLimit   int32
	lastTradition   string
	lastExcludeIDs  []string
	lastFallbackLim int32
}

func (m *mockChunkSource) RecentByTags(_ context.Context, tags []string, limit int32) ([]knowledge.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tagsCalls++
	m.lastTags = tags
	m.lastTagsLimit = limit
	if m.tagsErr != nil {
		return nil, m.tagsErr
	}
	return m.byTags, nil
}

func (m *mockChunkSource) RecentByTradition(_ context.Context, tradition string, excludeIDs []string, limit int32) ([]knowledge.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.traditionCalls++
	m.lastTradition = tradition
	m.lastExcludeIDs = excludeIDs
	m.lastFallbackLim = limit
	if m.traditionErr != nil {
		return nil, m.traditionErr
	}
	return m.byTradition, nil
}

func (m *mockChunkSource) calls() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tagsCalls, m.traditionCalls
}

// mockEmbedder implements Embedder with a fixed vector.
type mockEmbedder struct {
	mu     sync.Mutex
	vector []float32
	calls  int
}

func (m *mockEmbedder) EmbedQuery(_ context.Context, _ string) []float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.vector
}

func (m *mockEmbedder) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func marcusPersona() knowledge.Persona {
	return knowledge.Persona{
		ID:            "marcus",
		Name:          "Marcus Aurelius",
		Tradition:     "stoicism",
		KnowledgeTags: []string{"marcus", "stoic"},
	}
}

func marcusChunks() []knowledge.Chunk {
	now := time.Now()
	return []knowledge.Chunk{
		{ID: "m1", PersonaTags: []string{"marcus", "stoic"}, Tradition: "stoicism",
			Content: "On anger and patience.", CreatedAt: now.Add(-time.Hour)},
		{ID: "m2", PersonaTags: []string{"marcus", "stoic"}, Tradition: "stoicism",
			Content: "On mortality.", CreatedAt: now.Add(-2 * time.Hour)},
	}
}

func TestRetrieveRanksAndLimits(t *testing.T) {
	t.Parallel()

	source := &mockChunkSource{
		byTags: marcusChunks(),
		byTradition: []knowledge.Chunk{
			{ID: "e1", PersonaTags: []string{"epictetus", "stoic"}, Tradition: "stoicism",
				Content: "On what is in our power.", CreatedAt: time.Now().Add(-3 * time.Hour)},
		},
	}
	embedder := &mockEmbedder{}
	engine := NewEngine(source, embedder, log.NewNop())

	got, err := engine.Retrieve(context.Background(), marcusPersona(), "how to handle anger", 2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("returned %d chunks, want 2 (limit)", len(got))
	}
	if got[0].ID != "m1" {
		t.Errorf("top chunk = %q, want m1 (persona affinity + keyword match)", got[0].ID)
	}
	if got[0].Relevance <= got[1].Relevance {
		t.Errorf("results not ordered by relevance: %v then %v", got[0].Relevance, got[1].Relevance)
	}
	if embedder.callCount() != 1 {
		t.Errorf("embedder calls = %d, want 1", embedder.callCount())
	}
}

func TestRetrieveZeroLimit(t *testing.T) {
	t.Parallel()

	source := &mockChunkSource{byTags: marcusChunks()}
	engine := NewEngine(source, &mockEmbedder{}, log.NewNop())

	got, err := engine.Retrieve(context.Background(), marcusPersona(), "anything", 0)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if got != nil {
		t.Errorf("chunks = %v, want nil for limit 0", got)
	}
	if tags, trad := source.calls(); tags != 0 || trad != 0 {
		t.Errorf("store queried (%d, %d) times, want none for limit 0", tags, trad)
	}
}

func TestRetrieveServedFromCache(t *testing.T) {
	t.Parallel()

	source := &mockChunkSource{byTags: marcusChunks()}
	embedder := &mockEmbedder{}
	engine := NewEngine(source, embedder, log.NewNop())

	ctx := context.Background()
	persona := marcusPersona()

	if _, err := engine.Retrieve(ctx, persona, "handling anger", 2); err != nil {
		t.Fatalf("first Retrieve: %v", err)
	}
	tagsBefore, tradBefore := source.calls()

	// Same persona and message, different surface form: trimmed and
	// lowercased to the same cache key.
	got, err := engine.Retrieve(ctx, persona, "  Handling ANGER  ", 2)
	if err != nil {
		t.Fatalf("second Retrieve: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("cached result = %d chunks, want 2", len(got))
	}

	tagsAfter, tradAfter := source.calls()
	if tagsAfter != tagsBefore || tradAfter != tradBefore {
		t.Errorf("store queried on cache hit: (%d,%d) -> (%d,%d)", tagsBefore, tradBefore, tagsAfter, tradAfter)
	}
	if embedder.callCount() != 1 {
		t.Errorf("embedder calls = %d, want 1: no embed on cache hit", embedder.callCount())
	}
}

func TestRetrieveLargerLimitFromCache(t *testing.T) {
	t.Parallel()

	source := &mockChunkSource{byTags: marcusChunks()}
	engine := NewEngine(source, &mockEmbedder{}, log.NewNop())

	ctx := context.Background()
	persona := marcusPersona()

	small, err := engine.Retrieve(ctx, persona, "patience", 1)
	if err != nil {
		t.Fatalf("first Retrieve: %v", err)
	}
	if len(small) != 1 {
		t.Fatalf("first result = %d chunks, want 1", len(small))
	}

	// The full ranked list is cached, so a larger limit is still a hit.
	large, err := engine.Retrieve(ctx, persona, "patience", 5)
	if err != nil {
		t.Fatalf("second Retrieve: %v", err)
	}
	if len(large) != 2 {
		t.Fatalf("second result = %d chunks, want all 2 from cache", len(large))
	}
	if tags, _ := source.calls(); tags != 1 {
		t.Errorf("tag fetches = %d, want 1", tags)
	}
}

func TestRetrieveCacheIsPerPersona(t *testing.T) {
	t.Parallel()

	source := &mockChunkSource{byTags: marcusChunks()}
	engine := NewEngine(source, &mockEmbedder{}, log.NewNop())

	ctx := context.Background()
	if _, err := engine.Retrieve(ctx, marcusPersona(), "anger", 2); err != nil {
		t.Fatalf("Retrieve marcus: %v", err)
	}

	other := marcusPersona()
	other.ID = "epictetus"
	if _, err := engine.Retrieve(ctx, other, "anger", 2); err != nil {
		t.Fatalf("Retrieve epictetus: %v", err)
	}

	if tags, _ := source.calls(); tags != 2 {
		t.Errorf("tag fetches = %d, want 2: cache keyed by persona id", tags)
	}
}

func TestRetrieveSurvivesEmbedderFailure(t *testing.T) {
	t.Parallel()

	source := &mockChunkSource{byTags: marcusChunks()}
	// nil vector is the embedder's degraded output.
	engine := NewEngine(source, &mockEmbedder{vector: nil}, log.NewNop())

	got, err := engine.Retrieve(context.Background(), marcusPersona(), "how to handle anger", 2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("returned %d chunks, want 2 without semantic signal", len(got))
	}
}

func TestRetrieveSurvivesStoreFailure(t *testing.T) {
	t.Parallel()

	source := &mockChunkSource{
		tagsErr: errors.New("connection reset"),
		byTradition: []knowledge.Chunk{
			{ID: "t1", Tradition: "stoicism", Content: "fallback passage", CreatedAt: time.Now()},
		},
	}
	engine := NewEngine(source, &mockEmbedder{}, log.NewNop())

	got, err := engine.Retrieve(context.Background(), marcusPersona(), "anger", 2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 || got[0].ID != "t1" {
		t.Fatalf("got %v, want the single fallback chunk", got)
	}
}

func TestRetrieveBothSourcesFailing(t *testing.T) {
	t.Parallel()

	source := &mockChunkSource{
		tagsErr:      errors.New("down"),
		traditionErr: errors.New("down"),
	}
	engine := NewEngine(source, &mockEmbedder{}, log.NewNop())

	got, err := engine.Retrieve(context.Background(), marcusPersona(), "anger", 2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d chunks, want 0 with both queries failing", len(got))
	}
}

func TestRetrieveCanceledContext(t *testing.T) {
	t.Parallel()

	source := &mockChunkSource{byTags: marcusChunks()}
	engine := NewEngine(source, &mockEmbedder{}, log.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := engine.Retrieve(ctx, marcusPersona(), "anger", 2); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestFetchCandidatesFallbackQueryShape(t *testing.T) {
	t.Parallel()

	source := &mockChunkSource{
		byTags: marcusChunks(),
		byTradition: []knowledge.Chunk{
			{ID: "e1", Tradition: "stoicism", Content: "extra", CreatedAt: time.Now()},
		},
	}
	engine := NewEngine(source, &mockEmbedder{}, log.NewNop())

	if _, err := engine.Retrieve(context.Background(), marcusPersona(), "anger", 3); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	if source.lastTagsLimit != 6 {
		t.Errorf("primary fetch limit = %d, want 2*limit = 6", source.lastTagsLimit)
	}
	if source.lastTradition != "stoicism" {
		t.Errorf("fallback tradition = %q, want stoicism", source.lastTradition)
	}
	if len(source.lastExcludeIDs) != 2 {
		t.Errorf("fallback excludes %d ids, want the 2 primary ids", len(source.lastExcludeIDs))
	}
}

func TestFetchCandidatesSkipsFallbackWhenPoolFull(t *testing.T) {
	t.Parallel()

	many := make([]knowledge.Chunk, 8)
	for i := range many {
		many[i] = knowledge.Chunk{ID: string(rune('a' + i)), Content: "passage", CreatedAt: time.Now()}
	}
	source := &mockChunkSource{byTags: many}
	engine := NewEngine(source, &mockEmbedder{}, log.NewNop(), WithMaxCandidates(8))

	if _, err := engine.Retrieve(context.Background(), marcusPersona(), "anger", 4); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	if _, trad := source.calls(); trad != 0 {
		t.Errorf("fallback queries = %d, want 0 when primary fills the candidate pool", trad)
	}
}

func TestFallbackKeywordFilterOption(t *testing.T) {
	t.Parallel()

	source := &mockChunkSource{
		byTradition: []knowledge.Chunk{
			{ID: "match", Tradition: "stoicism", Content: "a passage about anger", CreatedAt: time.Now()},
			{ID: "miss", Tradition: "stoicism", Content: "something unrelated", CreatedAt: time.Now()},
		},
	}
	engine := NewEngine(source, &mockEmbedder{}, log.NewNop(), WithFallbackKeywordFilter(true))

	got, err := engine.Retrieve(context.Background(), marcusPersona(), "anger", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 || got[0].ID != "match" {
		t.Fatalf("got %v, want only the keyword-matching fallback chunk", got)
	}
}

func TestMergeChunksDeduplicates(t *testing.T) {
	t.Parallel()

	primary := []knowledge.Chunk{{ID: "a", Content: "primary"}, {ID: "b"}}
	fallback := []knowledge.Chunk{{ID: "a", Content: "fallback"}, {ID: "c"}}

	merged := mergeChunks(primary, fallback)
	if len(merged) != 3 {
		t.Fatalf("merged = %d chunks, want 3", len(merged))
	}
	if merged[0].Content != "primary" {
		t.Errorf("id collision kept %q, want the primary copy", merged[0].Content)
	}
}

func TestRetrieveCoachingQueryEndToEnd(t *testing.T) {
	t.Parallel()

	now := time.Now()
	source := &mockChunkSource{
		byTags: []knowledge.Chunk{
			{ID: "meditations-2-1", PersonaTags: []string{"marcus", "stoic"}, Tradition: "stoicism",
				Content: "Practice courage in the face of interference.", CreatedAt: now.Add(-time.Hour)},
			{ID: "meditations-5-16", PersonaTags: []string{"marcus", "stoic"}, Tradition: "stoicism",
				Content: "The soul becomes dyed with the colour of its thoughts.", CreatedAt: now.Add(-24 * time.Hour)},
		},
		byTradition: []knowledge.Chunk{
			{ID: "enchiridion-1", PersonaTags: []string{"epictetus", "stoic"}, Tradition: "stoicism",
				Content: "Some things are within our power, while others are not.", CreatedAt: now.Add(-48 * time.Hour)},
			{ID: "enchiridion-5", PersonaTags: []string{"epictetus", "stoic"}, Tradition: "stoicism",
				Content: "Men are disturbed not by things, but by their opinions.", CreatedAt: now.Add(-72 * time.Hour)},
		},
	}
	embedder := &mockEmbedder{}
	engine := NewEngine(source, embedder, log.NewNop())

	ctx := context.Background()
	persona := marcusPersona()
	query := "How do I practice stoic courage today?"

	got, err := engine.Retrieve(ctx, persona, query, 3)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("returned %d chunks, want 3", len(got))
	}
	if tags := got[0].PersonaTags; len(tags) == 0 || tags[0] != "marcus" {
		t.Errorf("top chunk %q is not tag-matching, tags = %v", got[0].ID, tags)
	}
	tagsBefore, tradBefore := source.calls()

	again, err := engine.Retrieve(ctx, persona, query, 3)
	if err != nil {
		t.Fatalf("second Retrieve: %v", err)
	}
	if len(again) != 3 || again[0].ID != got[0].ID {
		t.Errorf("cached result differs: %v vs %v", again, got)
	}
	if tagsAfter, tradAfter := source.calls(); tagsAfter != tagsBefore || tradAfter != tradBefore {
		t.Errorf("second identical call hit the store (%d, %d) -> (%d, %d)",
			tagsBefore, tradBefore, tagsAfter, tradAfter)
	}
	if embedder.callCount() != 1 {
		t.Errorf("embedder calls = %d, want 1 (second call served from cache)", embedder.callCount())
	}
}
