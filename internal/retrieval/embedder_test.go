package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stoa-labs/stoa/internal/log"
	"github.com/stoa-labs/stoa/internal/provider"
)

// mockEmbeddingProvider is a provider.EmbeddingProvider with a scripted
// response.
type mockEmbeddingProvider struct {
	desc     provider.Descriptor
	response *provider.EmbeddingResponse
	err      error
	calls    int
	lastReq  provider.EmbeddingRequest
}

func (m *mockEmbeddingProvider) Descriptor() provider.Descriptor { return m.desc }

func (m *mockEmbeddingProvider) CheckHealth(_ context.Context) (provider.HealthSnapshot, error) {
	return provider.HealthSnapshot{ProviderID: m.desc.ID, Status: provider.StatusHealthy}, nil
}

func (m *mockEmbeddingProvider) CreateEmbedding(_ context.Context, req provider.EmbeddingRequest) (*provider.EmbeddingResponse, error) {
	m.calls++
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	return m.response, nil
}

// mockProviderSource implements ProviderSource around one scripted provider.
type mockProviderSource struct {
	selection *provider.Selection[provider.EmbeddingProvider]

	successCalls int
	failureCalls int
	lastFailID   string
	lastDetail   provider.FailureDetail
}

func (m *mockProviderSource) ActiveEmbeddingProvider(_ context.Context) *provider.Selection[provider.EmbeddingProvider] {
	return m.selection
}

func (m *mockProviderSource) RecordSuccess(_ string, _ time.Duration) {
	m.successCalls++
}

func (m *mockProviderSource) RecordFailure(id string, _ error, detail provider.FailureDetail) {
	m.failureCalls++
	m.lastFailID = id
	m.lastDetail = detail
}

func selectionOf(p provider.EmbeddingProvider, fallback bool, attempts int) *provider.Selection[provider.EmbeddingProvider] {
	sel := &provider.Selection[provider.EmbeddingProvider]{
		Provider:     p,
		FallbackUsed: fallback,
		SelectedAt:   time.Now(),
	}
	for i := 0; i < attempts; i++ {
		sel.Attempts = append(sel.Attempts, provider.Attempt{ProviderID: p.Descriptor().ID, Status: provider.StatusHealthy})
	}
	return sel
}

func TestEmbedQuerySuccess(t *testing.T) {
	t.Parallel()

	p := &mockEmbeddingProvider{
		desc:     provider.Descriptor{ID: "gemini"},
		response: &provider.EmbeddingResponse{Embeddings: [][]float32{{0.1, 0.2, 0.3}}, Dimensions: 3},
	}
	source := &mockProviderSource{selection: selectionOf(p, false, 1)}
	q := NewQueryEmbedder(source, "embed-model", log.NewNop())

	vec := q.EmbedQuery(context.Background(), "how to stay calm")

	if len(vec) != 3 {
		t.Fatalf("vector length = %d, want 3", len(vec))
	}
	if source.successCalls != 1 || source.failureCalls != 0 {
		t.Errorf("outcomes = %d success %d failure, want 1/0", source.successCalls, source.failureCalls)
	}
	if p.lastReq.Model != "embed-model" {
		t.Errorf("request model = %q, want embed-model", p.lastReq.Model)
	}
	if len(p.lastReq.Input) != 1 || p.lastReq.Input[0] != "how to stay calm" {
		t.Errorf("request input = %v, want the query text", p.lastReq.Input)
	}
}

func TestEmbedQueryBlankInput(t *testing.T) {
	t.Parallel()

	p := &mockEmbeddingProvider{desc: provider.Descriptor{ID: "gemini"}}
	source := &mockProviderSource{selection: selectionOf(p, false, 1)}
	q := NewQueryEmbedder(source, "", log.NewNop())

	if vec := q.EmbedQuery(context.Background(), "   "); vec != nil {
		t.Errorf("vector = %v, want nil for blank input", vec)
	}
	if p.calls != 0 {
		t.Errorf("provider called %d times, want 0 for blank input", p.calls)
	}
}

func TestEmbedQueryNoProviderSelectable(t *testing.T) {
	t.Parallel()

	source := &mockProviderSource{selection: nil}
	q := NewQueryEmbedder(source, "", log.NewNop())

	if vec := q.EmbedQuery(context.Background(), "calm"); vec != nil {
		t.Errorf("vector = %v, want nil with no provider", vec)
	}
	if source.failureCalls != 0 {
		t.Errorf("failure recorded %d times, want 0: no provider was invoked", source.failureCalls)
	}
}

func TestEmbedQueryProviderFailure(t *testing.T) {
	t.Parallel()

	p := &mockEmbeddingProvider{
		desc: provider.Descriptor{ID: "gemini"},
		err:  errors.New("quota exceeded"),
	}
	source := &mockProviderSource{selection: selectionOf(p, true, 2)}
	q := NewQueryEmbedder(source, "", log.NewNop())

	if vec := q.EmbedQuery(context.Background(), "calm"); vec != nil {
		t.Errorf("vector = %v, want nil on provider failure", vec)
	}
	if source.failureCalls != 1 {
		t.Fatalf("failure recorded %d times, want 1", source.failureCalls)
	}
	if source.lastFailID != "gemini" {
		t.Errorf("failure id = %q, want gemini", source.lastFailID)
	}
	if source.lastDetail.Metadata["attempts"] != 2 || source.lastDetail.Metadata["fallback_used"] != true {
		t.Errorf("failure metadata = %v, want attempts=2 fallback_used=true", source.lastDetail.Metadata)
	}
}

func TestEmbedQueryEmptyResponse(t *testing.T) {
	t.Parallel()

	p := &mockEmbeddingProvider{
		desc:     provider.Descriptor{ID: "gemini"},
		response: &provider.EmbeddingResponse{},
	}
	source := &mockProviderSource{selection: selectionOf(p, false, 1)}
	q := NewQueryEmbedder(source, "", log.NewNop())

	if vec := q.EmbedQuery(context.Background(), "calm"); vec != nil {
		t.Errorf("vector = %v, want nil for empty response", vec)
	}
	// The call itself succeeded; only the payload was empty.
	if source.successCalls != 1 {
		t.Errorf("success recorded %d times, want 1", source.successCalls)
	}
}
