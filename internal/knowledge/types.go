package knowledge

import "time"

// Chunk is a unit of retrievable reference text with provenance metadata,
// used to ground coaching responses. Chunks are read-only here; the ingestion
// pipeline owns writes.
type Chunk struct {
	ID          string
	Work        string
	Author      string
	Tradition   string
	Section     string
	Virtue      string
	PersonaTags []string
	Content     string
	Citation    string
	Embedding   []float32
	Metadata    map[string]any
	CreatedAt   time.Time

	// Relevance is the combined ranking score. Only meaningful after
	// reranking; zero otherwise.
	Relevance float64
}

// Persona scopes which chunks are preferentially retrieved: the primary fetch
// filters on KnowledgeTags, the fallback fetch on Tradition, and tag overlap
// feeds the persona-affinity ranking signal.
type Persona struct {
	ID            string
	Name          string
	Tradition     string
	KnowledgeTags []string
}
