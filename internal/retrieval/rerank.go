package retrieval

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/stoa-labs/stoa/internal/knowledge"
)

// Ranking signal weights. Persona-tag alignment deliberately outweighs raw
// semantic similarity: the coaching voice must stay in-character even when a
// semantically closer but off-persona passage exists.
const (
	semanticWeight = 0.35
	keywordWeight  = 0.20
	affinityWeight = 0.40
	recencyWeight  = 0.05
)

// recencyWindow is the age at which the recency signal decays to zero.
const recencyWindow = 30 * 24 * time.Hour

// tokenPattern matches runs of 3+ ASCII letters. A crude tokenizer: it need
// not handle punctuation correctly, only consistently, so cache keys and
// keyword scores agree across calls.
var tokenPattern = regexp.MustCompile(`[a-zA-Z]{3,}`)

// Tokenize extracts lowercased query tokens from free text.
func Tokenize(text string) []string {
	matches := tokenPattern.FindAllString(text, -1)
	tokens := make([]string, 0, len(matches))
	for _, m := range matches {
		tokens = append(tokens, strings.ToLower(m))
	}
	return tokens
}

// Rerank scores each chunk against the query signals and returns the chunks
// sorted by relevance descending. The input slice is not mutated.
func Rerank(chunks []knowledge.Chunk, queryVector []float32, persona knowledge.Persona, queryTokens []string) []knowledge.Chunk {
	now := time.Now()

	ranked := make([]knowledge.Chunk, len(chunks))
	copy(ranked, chunks)

	for i := range ranked {
		semantic := cosineSimilarity(queryVector, ranked[i].Embedding)
		keyword := keywordScore(ranked[i].Content, queryTokens)
		affinity := affinityScore(ranked[i].PersonaTags, persona.KnowledgeTags)
		recency := recencyScore(ranked[i].CreatedAt, now)

		relevance := semanticWeight*semantic +
			keywordWeight*keyword +
			affinityWeight*affinity +
			recencyWeight*recency

		// Rounded for presentation and debug stability.
		ranked[i].Relevance = math.Round(relevance*10000) / 10000
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Relevance > ranked[j].Relevance
	})
	return ranked
}

// cosineSimilarity returns the cosine of the angle between a and b, or 0 when
// either vector is absent, empty, mismatched in dimension, or zero-length.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// keywordScore is the fraction of query tokens appearing as case-insensitive
// substrings of the chunk content.
func keywordScore(content string, tokens []string) float64 {
	if len(tokens) == 0 {
		return 0
	}

	lower := strings.ToLower(content)
	matched := 0
	for _, token := range tokens {
		if strings.Contains(lower, token) {
			matched++
		}
	}
	return float64(matched) / float64(len(tokens))
}

// affinityScore is the fraction of the persona's knowledge tags present on
// the chunk.
func affinityScore(chunkTags, personaTags []string) float64 {
	if len(chunkTags) == 0 || len(personaTags) == 0 {
		return 0
	}

	tagSet := make(map[string]struct{}, len(chunkTags))
	for _, t := range chunkTags {
		tagSet[t] = struct{}{}
	}

	matched := 0
	for _, t := range personaTags {
		if _, ok := tagSet[t]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(personaTags))
}

// recencyScore decays linearly from 1.0 now to 0.0 at recencyWindow, clamped
// at both ends. Future timestamps score 1 (clock skew tolerance); a missing
// timestamp scores 0.
func recencyScore(createdAt, now time.Time) float64 {
	if createdAt.IsZero() {
		return 0
	}

	age := now.Sub(createdAt)
	if age <= 0 {
		return 1
	}
	if age >= recencyWindow {
		return 0
	}
	return 1 - float64(age)/float64(recencyWindow)
}
