// Package ollama adapts a local Ollama server (via the Genkit ollama plugin)
// to the provider interfaces. The plugin must be initialized, and the chat
// model and embedder defined on it, before New is called; app setup owns
// that ordering.
package ollama

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	ollamaplugin "github.com/firebase/genkit/go/plugins/ollama"
	"golang.org/x/time/rate"

	"github.com/stoa-labs/stoa/internal/provider"
)

const (
	defaultDegradedLatency = 5 * time.Second
	probeInput             = "ping"
)

// Config configures an Ollama provider instance.
type Config struct {
	Descriptor    provider.Descriptor
	ServerAddress string
	ChatModel     string
	EmbedderModel string

	// RequestsPerSecond caps outbound calls client-side. Zero disables
	// the cap. A local server rarely needs one.
	RequestsPerSecond float64

	// DegradedLatency overrides the probe latency threshold; local models
	// get a looser default than hosted APIs.
	DegradedLatency time.Duration
}

// Provider implements provider.ChatProvider and provider.EmbeddingProvider
// against a local Ollama server.
type Provider struct {
	desc            provider.Descriptor
	g               *genkit.Genkit
	embedder        ai.Embedder
	chatModel       string
	embedderModel   string
	limiter         *rate.Limiter
	degradedLatency time.Duration
	logger          *slog.Logger
}

// New creates an Ollama provider. The embedder lookup is keyed by server
// address, matching how the plugin registers it.
func New(g *genkit.Genkit, cfg Config, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Descriptor.ID == "" {
		return nil, fmt.Errorf("ollama provider requires a descriptor id")
	}
	if cfg.ChatModel == "" {
		return nil, fmt.Errorf("ollama provider requires a chat model name")
	}

	embedder := ollamaplugin.Embedder(g, cfg.ServerAddress)
	if embedder == nil {
		return nil, fmt.Errorf("ollama embedder for %q not registered; define it on the plugin first", cfg.ServerAddress)
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	degraded := cfg.DegradedLatency
	if degraded <= 0 {
		degraded = defaultDegradedLatency
	}

	return &Provider{
		desc:            cfg.Descriptor,
		g:               g,
		embedder:        embedder,
		chatModel:       cfg.ChatModel,
		embedderModel:   cfg.EmbedderModel,
		limiter:         limiter,
		degradedLatency: degraded,
		logger:          logger,
	}, nil
}

// Descriptor returns the provider's identity and selection rank.
func (p *Provider) Descriptor() provider.Descriptor {
	return p.desc
}

// CheckHealth probes the server with a minimal embedding call.
func (p *Provider) CheckHealth(ctx context.Context) (provider.HealthSnapshot, error) {
	start := time.Now()
	_, err := p.embed(ctx, []string{probeInput})
	latency := time.Since(start)

	snap := provider.HealthSnapshot{
		ProviderID: p.desc.ID,
		Status:     provider.StatusHealthy,
		LatencyMs:  latency.Milliseconds(),
		CheckedAt:  time.Now(),
	}
	switch {
	case err != nil:
		snap.Status = provider.StatusUnavailable
		snap.Err = &provider.HealthError{Message: err.Error()}
	case latency > p.degradedLatency:
		snap.Status = provider.StatusDegraded
	}
	return snap, nil
}

// CreateEmbedding embeds each input and returns one vector per input.
func (p *Provider) CreateEmbedding(ctx context.Context, req provider.EmbeddingRequest) (*provider.EmbeddingResponse, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	vectors, err := p.embed(ctx, req.Input)
	if err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = p.embedderModel
	}

	resp := &provider.EmbeddingResponse{Embeddings: vectors, Model: model}
	if len(vectors) > 0 {
		resp.Dimensions = len(vectors[0])
	}
	return resp, nil
}

// CreateChatStream generates a chat completion, forwarding incremental text
// to cb when one is supplied.
func (p *Provider) CreateChatStream(ctx context.Context, req provider.ChatRequest, cb provider.StreamCallback) (*provider.ChatResponse, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = p.chatModel
	}

	opts := []ai.GenerateOption{
		ai.WithModel(ai.NewModelRef("ollama/"+model, nil)),
	}
	if req.System != "" {
		opts = append(opts, ai.WithSystem(req.System))
	}
	if msgs := toGenkitMessages(req.Messages); len(msgs) > 0 {
		opts = append(opts, ai.WithMessages(msgs...))
	}
	if cb != nil {
		opts = append(opts, ai.WithStreaming(func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
			return cb(ctx, chunk.Text())
		}))
	}

	resp, err := genkit.Generate(ctx, p.g, opts...)
	if err != nil {
		return nil, fmt.Errorf("ollama chat generation: %w", err)
	}
	return &provider.ChatResponse{Text: resp.Text(), Model: model}, nil
}

func (p *Provider) embed(ctx context.Context, input []string) ([][]float32, error) {
	docs := make([]*ai.Document, len(input))
	for i, text := range input {
		docs[i] = ai.DocumentFromText(text, nil)
	}

	resp, err := p.embedder.Embed(ctx, &ai.EmbedRequest{Input: docs})
	if err != nil {
		return nil, fmt.Errorf("ollama embedding: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("ollama embedding: no vectors returned")
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		vectors[i] = e.Embedding
	}
	return vectors, nil
}

func (p *Provider) wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}

func toGenkitMessages(messages []provider.Message) []*ai.Message {
	out := make([]*ai.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "assistant", "model":
			out = append(out, ai.NewModelMessage(ai.NewTextPart(m.Content)))
		default:
			out = append(out, ai.NewUserMessage(ai.NewTextPart(m.Content)))
		}
	}
	return out
}
